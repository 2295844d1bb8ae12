package ingress

import (
	"net/http"

	"github.com/riskgateway/platform/internal/apierrors"
)

// MaxBodySize implements spec.md §4.B stage 2: reject bodies exceeding
// maxBytes with 413 before any handler reads them, and cap the reader for
// handlers that stream the body incrementally.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 10 * 1024 * 1024 // spec.md §4.B stage 2 default: 10MB
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				apierrors.WriteError(w, apierrors.New(apierrors.PayloadTooLarge, "request body exceeds the maximum allowed size"), false)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
