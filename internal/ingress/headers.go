// Header normalization, adapted from the teacher's middleware/headers.go:
// strip internally-managed headers a caller should never set directly from
// the inbound request. X-Request-ID on responses is set by
// RequestIDMiddleware, not here (SPEC_FULL.md §11
// supplemented feature — not named verbatim by spec.md but consistent with
// its "production mode must not leak internal messages" requirement in §7).
package ingress

import "net/http"

// headersToStrip are headers only the ingress pipeline itself should set;
// a caller attempting to forge them is silently overridden.
var headersToStrip = []string{
	"X-Gateway-Version",
	"X-Correlation-Id",
}

// NormalizeHeaders removes caller-forged internal headers from the inbound
// request before it reaches routing/dispatch.
func NormalizeHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, h := range headersToStrip {
			r.Header.Del(h)
		}
		next.ServeHTTP(w, r)
	})
}
