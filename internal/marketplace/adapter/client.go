package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rs/zerolog"
)

// VenueConfig describes one marketplace venue's endpoints and limits.
type VenueConfig struct {
	Name                 string
	HTTPBaseURL          string
	StreamURL            string
	HealthPath           string
	RequestsPerSecond    float64
	RequestTimeout       time.Duration
	MaxReconnectAttempts int
	QueueDepthThreshold  int
	HeartbeatInterval    time.Duration
}

// Handlers dispatches inbound stream frames by message type, the four
// kinds spec.md §4.F names: listing_update, sale, price_change,
// volume_update.
type Handlers struct {
	OnListingUpdate func(Listing)
	OnSale          func(SaleEvent)
	OnPriceChange   func(PriceChangeEvent)
	OnVolumeUpdate  func(VolumeUpdateEvent)
}

// SaleEvent is the normalized payload of a `sale` stream frame.
type SaleEvent struct {
	MomentID  string    `json:"momentId"`
	VenueID   string    `json:"venueId"`
	SalePrice float64   `json:"salePrice"`
	SoldAt    time.Time `json:"soldAt"`
}

// PriceChangeEvent is the normalized payload of a `price_change` frame.
type PriceChangeEvent struct {
	MomentID string  `json:"momentId"`
	VenueID  string  `json:"venueId"`
	OldPrice float64 `json:"oldPrice"`
	NewPrice float64 `json:"newPrice"`
}

// VolumeUpdateEvent is the normalized payload of a `volume_update` frame.
type VolumeUpdateEvent struct {
	MomentID string `json:"momentId"`
	VenueID  string `json:"venueId"`
	Volume24 int64  `json:"volume24h"`
}

// Adapter is a venue's rate-limited HTTP client plus persistent stream
// client (spec.md §4.F).
type Adapter struct {
	cfg      VenueConfig
	limiter  *rate.Limiter
	http     *http.Client
	handlers Handlers
	logger   zerolog.Logger

	mu        sync.RWMutex
	streaming *streamState
}

// New builds an Adapter for one venue. RequestsPerSecond sizes the token
// bucket every HTTP call flows through (spec.md §4.F: "enforces a token
// bucket sized from requestsPerSecond").
func New(cfg VenueConfig, handlers Handlers, logger zerolog.Logger) *Adapter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}
	if cfg.QueueDepthThreshold <= 0 {
		cfg.QueueDepthThreshold = 500
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	return &Adapter{
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1),
		http:     &http.Client{Timeout: cfg.RequestTimeout},
		handlers: handlers,
		logger:   logger.With().Str("component", "marketplace_adapter").Str("venue", cfg.Name).Logger(),
	}
}

// Name returns the venue name this adapter serves.
func (a *Adapter) Name() string { return a.cfg.Name }

// SetHandlers replaces the stream frame handlers. Callers must set these
// before Connect so the composition root can wire handlers that close
// over components built from the adapter list itself (price monitor,
// arbitrage detector) without a construction-order cycle.
func (a *Adapter) SetHandlers(h Handlers) {
	a.handlers = h
}

// maxRetries bounds transient-failure retries on the HTTP side.
const maxRetries = 3

// FetchActiveListings retrieves the venue's current active listings,
// optionally scoped to momentID, through the rate limiter with bounded
// retry on transient failures.
func (a *Adapter) FetchActiveListings(ctx context.Context, momentID string) ([]Listing, error) {
	path := "/listings?status=active"
	if momentID != "" {
		path = fmt.Sprintf("/listings?status=active&momentId=%s", momentID)
	}

	body, err := a.get(ctx, path)
	if err != nil {
		return nil, err
	}

	var rawListings []json.RawMessage
	if err := json.Unmarshal(body, &rawListings); err != nil {
		return nil, fmt.Errorf("marketplace adapter %s: malformed listings response: %w", a.cfg.Name, err)
	}

	listings := make([]Listing, 0, len(rawListings))
	for _, raw := range rawListings {
		listing, err := ParseListing(raw, a.cfg.Name)
		if err != nil {
			a.logger.Warn().Err(err).Msg("dropping unparseable listing")
			continue
		}
		listings = append(listings, listing)
	}
	return listings, nil
}

func (a *Adapter) get(ctx context.Context, path string) ([]byte, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("marketplace adapter %s: rate limit wait: %w", a.cfg.Name, err)
	}

	var lastErr error
	backoff := 500 * time.Millisecond
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.HTTPBaseURL+path, nil)
		if err != nil {
			return nil, err
		}
		resp, err := a.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("venue %s returned status %d", a.cfg.Name, resp.StatusCode)
			continue
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("venue %s returned status %d", a.cfg.Name, resp.StatusCode)
		}
		return body, nil
	}
	return nil, fmt.Errorf("marketplace adapter %s: exhausted retries: %w", a.cfg.Name, lastErr)
}

// Health reports healthy iff the stream is connected and the inbound
// processing queue depth stays under the configured threshold (spec.md
// §4.F).
func (a *Adapter) Health() (healthy bool, queueDepth int) {
	a.mu.RLock()
	s := a.streaming
	a.mu.RUnlock()
	if s == nil {
		return false, 0
	}
	depth := s.queueDepth()
	return s.isConnected() && depth < a.cfg.QueueDepthThreshold, depth
}
