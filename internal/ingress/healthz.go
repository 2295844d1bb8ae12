package ingress

import (
	"net/http"
	"strconv"
	"time"

	"github.com/riskgateway/platform/internal/apierrors"
	"github.com/riskgateway/platform/internal/metricsring"
)

// ServiceHealth is the subset of internal/registry.HealthPoller the
// aggregator needs, kept as an interface so cmd/gateway's composition root
// is the only caller that knows the concrete poller type.
type ServiceHealth interface {
	HealthyServices() []string
}

// HealthAggregatorDeps are the components GET /health, /api/health/*,
// /api/status, and /api/performance (spec.md §6 local mount points) report
// on.
type HealthAggregatorDeps struct {
	Ring      *metricsring.Ring
	Services  ServiceHealth
	Connected func() int // live realtime-hub connection count
}

// NewHealthAggregator builds the local handler for the health/status/
// performance mount points. /health and /api/health/* return a minimal
// liveness payload; /api/status adds the healthy-service list and
// connection count; /api/performance surfaces the metrics ring's
// derivations (spec.md §4.E) with optional limit/timeframe query params.
func NewHealthAggregator(deps HealthAggregatorDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/performance":
			servePerformance(w, r, deps)
		case r.URL.Path == "/api/status":
			apierrors.WriteJSON(w, http.StatusOK, map[string]any{
				"status":          "ok",
				"healthyServices": deps.Services.HealthyServices(),
				"connections":     deps.Connected(),
			})
		default:
			apierrors.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		}
	}
}

func servePerformance(w http.ResponseWriter, r *http.Request, deps HealthAggregatorDeps) {
	window := 5 * time.Minute
	if tf := r.URL.Query().Get("timeframe"); tf != "" {
		if d, err := time.ParseDuration(tf); err == nil {
			window = d
		}
	}
	limit := 10
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	apierrors.WriteJSON(w, http.StatusOK, map[string]any{
		"meanLatencyMs":  deps.Ring.MeanLatency(window).Milliseconds(),
		"errorRate":      deps.Ring.ErrorRate(window),
		"requestsPerMin": deps.Ring.RequestsPerMinute(window),
		"topEndpoints":   deps.Ring.TopEndpoints(limit, window),
		"ringSize":       deps.Ring.Len(),
	})
}
