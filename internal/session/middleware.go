package session

import (
	"net/http"
	"strings"

	"github.com/pik-systems/identity-kernel/infrastructure/errors"
	"github.com/pik-systems/identity-kernel/infrastructure/httputil"
)

// Middleware authenticates `Authorization: Bearer <hex64>` session tokens
// and attaches the resolved root id to the request context via
// httputil.WithRootID.
func Middleware(issuer *Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				httputil.WriteServiceError(w, r, errors.Unauthorized("missing or invalid authorization header"))
				return
			}
			token := strings.TrimPrefix(header, "Bearer ")

			rootID, err := issuer.Validate(r.Context(), token)
			if err != nil {
				httputil.WriteServiceError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(httputil.WithRootID(r.Context(), rootID)))
		})
	}
}
