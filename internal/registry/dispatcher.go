package registry

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/riskgateway/platform/internal/apierrors"
)

const gatewayVersion = "1"

// Response is the result of a dispatched call.
type Response struct {
	Status  int
	Body    []byte
	Headers http.Header
}

// Dispatcher routes calls to backend services through the connection pool,
// retrying transient failures with exponential backoff (spec.md §4.A).
type Dispatcher struct {
	registry *Registry
	pool     *ConnectionPool
	logger   zerolog.Logger
}

// NewDispatcher builds a Dispatcher over registry using pool for outbound
// connections.
func NewDispatcher(registry *Registry, pool *ConnectionPool, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, pool: pool, logger: logger.With().Str("component", "dispatcher").Logger()}
}

// Call issues method against service's path, retrying transient transport
// failures up to the service's configured MaxRetries with exponential
// backoff starting at 1s. It never retries once an HTTP response (even an
// error status) is received.
func (d *Dispatcher) Call(ctx context.Context, service, method, path string, body []byte, params url.Values, headers http.Header) (*Response, error) {
	svc, ok := d.registry.Lookup(service)
	if !ok {
		return nil, apierrors.New(apierrors.Configuration, "unknown service: "+service)
	}

	correlationID := correlationIDFrom(ctx)
	client := d.pool.ClientFor(svc.Name, svc.Timeout)

	maxRetries := svc.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	backoff := time.Second
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, apierrors.Wrap(apierrors.UpstreamTimeout, "request cancelled while retrying", ctx.Err())
			case <-timer.C:
			}
			backoff *= 2
		}

		start := time.Now()
		resp, err := d.attempt(ctx, svc, method, path, body, params, headers, correlationID)
		latency := time.Since(start)

		if err == nil {
			d.logger.Debug().Str("service", service).Str("path", path).
				Int("status", resp.Status).Dur("latency", latency).Str("correlation_id", correlationID).
				Msg("dispatched request")
			return resp, nil
		}

		lastErr = err
		if !isTransient(err) {
			return nil, translateTransportError(err)
		}
		d.logger.Warn().Str("service", service).Str("path", path).Int("attempt", attempt+1).
			Err(err).Msg("transient dispatch failure, retrying")
	}

	return nil, translateTransportError(lastErr)
}

func (d *Dispatcher) attempt(ctx context.Context, svc Service, method, path string, body []byte, params url.Values, headers http.Header, correlationID string) (*Response, error) {
	target := svc.BaseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("X-Correlation-Id", correlationID)
	req.Header.Set("X-Gateway-Version", gatewayVersion)
	if svc.AuthHeader != "" {
		req.Header.Set("Authorization", svc.AuthHeader)
	}

	client := d.pool.ClientFor(svc.Name, svc.Timeout)
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{Status: resp.StatusCode, Body: respBody, Headers: resp.Header}, nil
}

// isTransient reports whether err is a connection-level failure worth
// retrying: connection refused, timeout, or network unreachable. HTTP
// responses (including 4xx/5xx) are never transient at this layer.
func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// translateTransportError maps a terminal transport failure to the typed
// error taxonomy (spec.md §4.A).
func translateTransportError(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apierrors.Wrap(apierrors.UpstreamTimeout, "upstream request timed out", err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" {
			return apierrors.Wrap(apierrors.UpstreamUnavailable, "upstream connection refused", err)
		}
		return apierrors.Wrap(apierrors.UpstreamUnavailable, "upstream network unreachable", err)
	}
	return apierrors.Wrap(apierrors.UpstreamBadResponse, "upstream transport error", err)
}

func correlationIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(correlationIDKey{}).(string); ok && v != "" {
		return v
	}
	return uuid.NewString()
}

// correlationIDKey is the context key the ingress pipeline's correlation-id
// stage stores the id under.
type correlationIDKey struct{}

// WithCorrelationID attaches a correlation id to ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationIDFromContext reads back the correlation id, if any.
func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(correlationIDKey{}).(string)
	return v, ok
}
