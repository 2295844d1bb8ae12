// Package ingress implements the ordered middleware chain of spec.md §4.B:
// correlation-id injection, a body-size gate, security headers, CORS,
// per-key rate limiting, bearer-token verification, a panic boundary, and
// metrics capture — generalizing the teacher's router/router.go chain
// (services/gateway), whose middleware/*.go files cover the same stages for
// an LLM gateway instead of a trading control plane.
package ingress

import (
	"context"
	"net/http"
)

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	callerKey        contextKey = "caller_identity"
)

// CallerIdentity is the parsed bearer-token claims attached to a request's
// context once the auth stage accepts it (spec.md §3 "request envelope" /
// §4.B stage 6).
type CallerIdentity struct {
	UserID string
	Role   string
}

// WithCorrelationID attaches id to ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID reads the correlation id back from ctx, if present.
func CorrelationID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(correlationIDKey).(string)
	return v, ok
}

// WithCaller attaches an authenticated caller identity to ctx.
func WithCaller(ctx context.Context, c CallerIdentity) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// Caller reads the caller identity back from ctx, if the request was
// authenticated.
func Caller(ctx context.Context) (CallerIdentity, bool) {
	v, ok := ctx.Value(callerKey).(CallerIdentity)
	return v, ok
}

// responseStatusWriter wraps http.ResponseWriter to capture the status code
// ultimately written, for the metrics-capture stage.
type responseStatusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func wrapStatus(w http.ResponseWriter) *responseStatusWriter {
	return &responseStatusWriter{ResponseWriter: w, status: http.StatusOK}
}

func (w *responseStatusWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseStatusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *responseStatusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
