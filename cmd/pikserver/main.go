// Package main is the PIK server entry point: it wires config, storage,
// every feature engine, and the HTTP surface, then serves until a shutdown
// signal arrives (mux.Router, ordered middleware stack, graceful
// net/http.Server shutdown), adapted from enclave-based wiring to a
// conventional Postgres-backed service.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pik-systems/identity-kernel/infrastructure/logging"
	"github.com/pik-systems/identity-kernel/infrastructure/metrics"
	"github.com/pik-systems/identity-kernel/infrastructure/middleware"
	"github.com/pik-systems/identity-kernel/internal/api"
	"github.com/pik-systems/identity-kernel/internal/config"
	"github.com/pik-systems/identity-kernel/internal/configstore"
	"github.com/pik-systems/identity-kernel/internal/consent"
	"github.com/pik-systems/identity-kernel/internal/eventbus"
	"github.com/pik-systems/identity-kernel/internal/identity"
	"github.com/pik-systems/identity-kernel/internal/ingest"
	"github.com/pik-systems/identity-kernel/internal/ledger"
	"github.com/pik-systems/identity-kernel/internal/loot"
	"github.com/pik-systems/identity-kernel/internal/migrate"
	"github.com/pik-systems/identity-kernel/internal/reaper"
	"github.com/pik-systems/identity-kernel/internal/session"
	"github.com/pik-systems/identity-kernel/internal/sourceauth"
	"github.com/pik-systems/identity-kernel/internal/store"
	"github.com/pik-systems/identity-kernel/internal/webauthnengine"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("pikserver: %v", err)
	}

	logger := logging.New("pikserver", cfg.LogLevel, cfg.LogFormat)

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("pikserver: connect database: %v", err)
	}
	defer closeStore(db)

	if runMigrationsOnBoot() {
		if err := migrate.Apply(db.DB()); err != nil {
			log.Fatalf("pikserver: apply migrations: %v", err)
		}
	}

	cfgStore := configstore.New(db)
	if err := cfgStore.Seed(ctx); err != nil {
		log.Fatalf("pikserver: seed config defaults: %v", err)
	}

	bus := eventbus.New()
	led := ledger.New(db, bus)
	sessions := session.New(db, cfgStore)
	sources := sourceauth.New(db)
	consentMgr := consent.New(db, cfgStore, led)
	ingestEngine := ingest.New(db, cfgStore, consentMgr, led, logger)
	lootEngine := loot.New(db, led)
	identityMgr := identity.New(db, cfgStore, led)

	waEngine, err := webauthnengine.New(webauthnengine.Config{
		RPDisplayName: cfg.WebAuthnRPName,
		RPID:          cfg.WebAuthnRPID,
		Origin:        cfg.WebAuthnOrigin,
	}, db, led, sessions)
	if err != nil {
		log.Fatalf("pikserver: configure webauthn: %v", err)
	}
	keys := webauthnengine.NewKeyManager(db, led, waEngine)

	reap := reaper.New(db, logger)
	reap.Start(ctx)
	defer reap.Stop()

	ready := true
	health := middleware.NewHealthChecker(versionString())
	health.RegisterCheck("database", func() error { return db.HealthCheck(ctx) })

	var metricsCollector *metrics.Metrics
	if metrics.Enabled() {
		metricsCollector = metrics.Init("pikserver")
	}

	policyLimiter := middleware.NewPolicyRateLimiter(logger)
	stopCleanup := policyLimiter.StartCleanup(5 * time.Minute)
	defer stopCleanup()

	deps := &api.Deps{
		DB:                   db,
		Config:               cfgStore,
		Bus:                  bus,
		Ledger:               led,
		Identity:             identityMgr,
		Consent:              consentMgr,
		Sources:              sources,
		Sessions:             sessions,
		WebAuthn:             waEngine,
		Keys:                 keys,
		Ingest:               ingestEngine,
		Loot:                 lootEngine,
		Log:                  logger,
		ImpersonationEnabled: impersonationEnabled(),
	}

	router := api.NewRouter(api.RouterConfig{
		Deps:        deps,
		Recovery:    middleware.NewRecoveryMiddleware(logger),
		RateLimiter: policyLimiter,
		CORSOrigins: cfg.CORSOrigins,
		Health:      health,
		Ready:       &ready,
		Metrics:     metricsCollector,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Info(ctx, "pikserver starting", map[string]interface{}{"port": cfg.Port, "env": string(cfg.Env)})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("pikserver: listen: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ready = false
	logger.Info(ctx, "pikserver shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "pikserver: shutdown error", err, nil)
	}
}

func closeStore(db *store.Store) {
	if err := db.DB().Close(); err != nil {
		log.Printf("pikserver: close database: %v", err)
	}
}

// impersonationEnabled gates the operator-only impersonation backdoor; it
// must be explicitly opted into, never on by default.
func impersonationEnabled() bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv("PIK_ENABLE_IMPERSONATION")))
	enabled, _ := strconv.ParseBool(raw)
	return enabled
}

// runMigrationsOnBoot controls whether the embedded schema is applied at
// startup; on by default, since the kernel owns its own schema and there is
// no separate migration-tooling deployment step in scope.
func runMigrationsOnBoot() bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv("PIK_RUN_MIGRATIONS")))
	if raw == "" {
		return true
	}
	enabled, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return enabled
}

func versionString() string {
	if v := strings.TrimSpace(os.Getenv("PIK_VERSION")); v != "" {
		return v
	}
	return "dev"
}
