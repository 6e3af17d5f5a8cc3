package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pik-systems/identity-kernel/infrastructure/metrics"
	"github.com/pik-systems/identity-kernel/infrastructure/middleware"
	"github.com/pik-systems/identity-kernel/internal/session"
	"github.com/pik-systems/identity-kernel/internal/sourceauth"
)

// RouterConfig carries the cross-cutting collaborators NewRouter needs
// beyond Deps: things that belong to the process (logger, metrics, rate
// policy, CORS origins) rather than to any one feature engine.
type RouterConfig struct {
	Deps        *Deps
	Recovery    *middleware.RecoveryMiddleware
	RateLimiter *middleware.PolicyRateLimiter
	CORSOrigins []string
	Health      *middleware.HealthChecker
	Ready       *bool
	Metrics     *metrics.Metrics
}

// NewRouter builds the gorilla/mux tree for the full HTTP surface, including
// the cache-open route. Health, readiness and metrics sit outside all rate
// limiting.
func NewRouter(cfg RouterConfig) *mux.Router {
	d := cfg.Deps
	router := mux.NewRouter()

	router.Use(middleware.LoggingMiddleware(d.Log))
	router.Use(cfg.Recovery.Handler)
	if cfg.Metrics != nil {
		router.Use(middleware.MetricsMiddleware("pikserver", cfg.Metrics))
	}
	router.Use(middleware.NewCORSMiddleware(&middleware.CORSConfig{
		AllowedOrigins:         cfg.CORSOrigins,
		AllowCredentials:       true,
		RejectDisallowedOrigin: len(cfg.CORSOrigins) > 0,
	}).Handler)
	router.Use(middleware.NewSecurityHeadersMiddleware(nil).Handler)
	router.Use(middleware.NewBodyLimitMiddleware(0).Handler)

	if cfg.Health != nil {
		router.Handle("/healthz", cfg.Health.Handler()).Methods(http.MethodGet)
	} else {
		router.HandleFunc("/healthz", middleware.LivenessHandler()).Methods(http.MethodGet)
	}
	router.HandleFunc("/readyz", middleware.ReadinessHandler(cfg.Ready)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()

	// SSE stream: no rate limit (long-lived), no auth (read-only broadcast).
	api.HandleFunc("/events/stream", d.streamHandler).Methods(http.MethodGet)

	// Public/default-policy routes: enrollment, reads, config, source admin.
	def := api.PathPrefix("").Subrouter()
	def.Use(cfg.RateLimiter.ForPolicy(middleware.PolicyDefault))
	def.HandleFunc("/users/enroll", d.enrollHandler).Methods(http.MethodPost)
	def.HandleFunc("/users", d.listUsersHandler).Methods(http.MethodGet)
	def.HandleFunc("/users/{root_id}", d.getUserHandler).Methods(http.MethodGet)
	def.HandleFunc("/users/{root_id}/timeline", d.timelineHandler).Methods(http.MethodGet)
	def.HandleFunc("/users/{root_id}/equipped-title", d.setEquippedTitleHandler).Methods(http.MethodPut)
	def.HandleFunc("/users/{root_id}/links", d.grantLinkHandler).Methods(http.MethodPost)
	def.HandleFunc("/users/{root_id}/links", d.listLinksHandler).Methods(http.MethodGet)
	def.HandleFunc("/users/{root_id}/links/{link_id}", d.revokeLinkHandler).Methods(http.MethodDelete)
	def.HandleFunc("/users/{root_id}/caches/{cache_id}/open", d.openCacheHandler).Methods(http.MethodPost)
	def.HandleFunc("/config", d.getConfigHandler).Methods(http.MethodGet)
	def.HandleFunc("/config", d.updateConfigHandler).Methods(http.MethodPost)
	def.HandleFunc("/sources", d.registerSourceHandler).Methods(http.MethodPost)
	def.HandleFunc("/sources", d.listSourcesHandler).Methods(http.MethodGet)
	def.HandleFunc("/sources/{id}", d.getSourceHandler).Methods(http.MethodGet)
	def.HandleFunc("/sources/{id}/rotate-key", d.rotateSourceKeyHandler).Methods(http.MethodPost)
	def.HandleFunc("/sources/{id}/status", d.setSourceStatusHandler).Methods(http.MethodPost)

	// Session-protected routes: need a valid Bearer session token.
	protected := api.PathPrefix("").Subrouter()
	protected.Use(cfg.RateLimiter.ForPolicy(middleware.PolicyDefault))
	protected.Use(session.Middleware(d.Sessions))
	protected.HandleFunc("/users/{root_id}/profile", d.updateProfileHandler).Methods(http.MethodPut)
	protected.HandleFunc("/auth/keys", d.listKeysHandler).Methods(http.MethodGet)
	protected.HandleFunc("/auth/keys/rotate", d.rotateKeyHandler).Methods(http.MethodPost)
	protected.HandleFunc("/auth/keys/rotate/verify", d.rotateKeyVerifyHandler).Methods(http.MethodPost)
	protected.HandleFunc("/auth/keys/{key_id}/revoke", d.revokeKeyHandler).Methods(http.MethodPost)

	// WebAuthn ceremony routes: no session yet (they mint one), but a
	// tighter auth-class rate policy.
	auth := api.PathPrefix("").Subrouter()
	auth.Use(cfg.RateLimiter.ForPolicy(middleware.PolicyAuth))
	auth.HandleFunc("/auth/register/options", d.registerOptionsHandler).Methods(http.MethodPost)
	auth.HandleFunc("/auth/register/verify", d.registerVerifyHandler).Methods(http.MethodPost)
	auth.HandleFunc("/auth/authenticate/options", d.authenticateOptionsHandler).Methods(http.MethodPost)
	auth.HandleFunc("/auth/authenticate/verify", d.authenticateVerifyHandler).Methods(http.MethodPost)

	// Operator-only impersonation backdoor: demo-class policy, opt-in gated
	// inside the handler itself.
	demo := api.PathPrefix("").Subrouter()
	demo.Use(cfg.RateLimiter.ForPolicy(middleware.PolicyDemo))
	demo.HandleFunc("/auth/impersonate/{root_id}", d.impersonateHandler).Methods(http.MethodPost)

	// Ingest is API-key authenticated (X-PIK-API-Key), never session-based.
	ingest := api.PathPrefix("").Subrouter()
	ingest.Use(cfg.RateLimiter.ForPolicy(middleware.PolicyIngest))
	ingest.Use(sourceauth.Middleware(d.Sources))
	ingest.HandleFunc("/ingest", d.ingestHandler).Methods(http.MethodPost)

	return router
}
