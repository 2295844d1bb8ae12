package ingress

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/riskgateway/platform/internal/apierrors"
)

// Recover implements spec.md §4.B stage 7: catch any unexpected panic from
// the handlers below and, in production mode, return a generic 500 with
// only the correlation id — never the panic value or a stack trace.
func Recover(logger zerolog.Logger, production bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					reqID, _ := CorrelationID(r.Context())
					logger.Error().Interface("panic", rec).Str("request_id", reqID).
						Str("path", r.URL.Path).Msg("panic recovered in ingress pipeline")
					msg := "internal server error"
					if !production {
						if err, ok := rec.(error); ok {
							msg = err.Error()
						}
					}
					apierrors.WriteError(w, apierrors.New(apierrors.Internal, msg), production)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
