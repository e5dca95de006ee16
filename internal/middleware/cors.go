// Package middleware provides HTTP middleware for the study API.
package middleware

import (
	"net/http"
	"strings"

	"github.com/ashureev/recall-study/internal/identity"
)

const preflightMaxAge = "600"

var (
	allowMethods  = strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodOptions}, ", ")
	allowHeaders  = strings.Join([]string{"Content-Type", "Authorization", identity.TabHeaderName}, ", ")
	exposeHeaders = strings.Join([]string{"Content-Disposition", "Retry-After"}, ", ")
)

// CORS echoes allowed origins back to the browser. "*" allows any origin but
// never with credentials, since the participant cookie would then leak
// cross-site.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	explicit := make(map[string]bool, len(allowedOrigins))
	wildcard := false
	for _, o := range allowedOrigins {
		if o == "*" {
			wildcard = true
			continue
		}
		explicit[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				w.Header().Add("Vary", "Origin")
			}

			if origin != "" && (wildcard || explicit[origin]) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", allowMethods)
				h.Set("Access-Control-Allow-Headers", allowHeaders)
				h.Set("Access-Control-Expose-Headers", exposeHeaders)
				if explicit[origin] {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.Header().Set("Access-Control-Max-Age", preflightMaxAge)
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
