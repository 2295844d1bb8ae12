package ingress

import (
	"net/http"

	"github.com/google/uuid"
)

// RequestIDMiddleware implements spec.md §4.B stage 1: generate a
// correlation id when the inbound header is absent, attach it to the
// request context, and echo it on the response as X-Request-ID (spec.md
// §6: "every response carries X-Request-ID").
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := WithCorrelationID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
