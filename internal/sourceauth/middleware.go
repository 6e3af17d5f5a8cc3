package sourceauth

import (
	"context"
	"net/http"

	"github.com/pik-systems/identity-kernel/infrastructure/errors"
	"github.com/pik-systems/identity-kernel/infrastructure/httputil"
	"github.com/pik-systems/identity-kernel/internal/model"
)

type contextKey string

const resolvedSourceKey contextKey = "pik.resolved_source"

// withResolvedSource attaches the resolved Source to a request context.
func withResolvedSource(ctx context.Context, s *model.Source) context.Context {
	return context.WithValue(ctx, resolvedSourceKey, s)
}

// FromContext returns the Source attached by ApiKeyAuth, if any.
func FromContext(ctx context.Context) (*model.Source, bool) {
	s, ok := ctx.Value(resolvedSourceKey).(*model.Source)
	return s, ok
}

// Middleware builds the ApiKeyAuth middleware: it rejects requests missing
// X-PIK-API-Key, hashes the presented value, and resolves an active source.
// This is never merged with session-token validation — ingest routes are
// source-authenticated only, user routes are session-authenticated only.
func Middleware(registry *Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-PIK-API-Key")
			if key == "" {
				httputil.WriteServiceError(w, r, errors.Forbidden("invalid API key"))
				return
			}

			source, err := registry.Authenticate(r.Context(), key)
			if err != nil {
				httputil.WriteServiceError(w, r, err)
				return
			}

			ctx := withResolvedSource(r.Context(), source)
			ctx = httputil.WithSource(ctx, source.SourceID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
