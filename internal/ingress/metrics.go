package ingress

import (
	"net/http"
	"time"

	"github.com/riskgateway/platform/internal/metricsring"
	"github.com/riskgateway/platform/internal/observability"
)

// MetricsCapture implements spec.md §4.B stage 8: on completion, append a
// record to the metrics ring (and feed the Prometheus collectors) with the
// final status and latency.
func MetricsCapture(ring *metricsring.Ring, obs *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			received := time.Now()
			sw := wrapStatus(w)
			next.ServeHTTP(sw, r)
			latency := time.Since(received)

			caller, _ := Caller(r.Context())
			reqID, _ := CorrelationID(r.Context())
			rec := metricsring.Record{
				CorrelationID: reqID,
				Method:        r.Method,
				Path:          r.URL.Path,
				Status:        sw.status,
				Latency:       latency,
				CallerID:      caller.UserID,
				ClientAddr:    ClientKey(r),
				UserAgent:     r.UserAgent(),
				ReceivedAt:    received,
			}
			ring.Append(rec)
			if obs != nil {
				obs.ObserveRequest(rec)
			}
		})
	}
}
