// Package reaper implements a scheduled sweep that deletes expired
// webauthn_challenges and session_tokens rows every 15 minutes and once at
// startup, using robfig/cron/v3 so the schedule reads as a cron expression
// rather than a raw duration. Failures are logged and retried on the next
// tick, never fatal.
package reaper

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pik-systems/identity-kernel/infrastructure/logging"
	"github.com/pik-systems/identity-kernel/internal/store"
)

const schedule = "*/15 * * * *"

// Reaper owns a cron.Cron instance ticking the expiry sweep.
type Reaper struct {
	db     *store.Store
	log    *logging.Logger
	cron   *cron.Cron
	mu     sync.Mutex
	lastAt time.Time
}

// New wraps a Store and Logger; call Start to begin scheduling.
func New(db *store.Store, log *logging.Logger) *Reaper {
	return &Reaper{db: db, log: log, cron: cron.New()}
}

// Start runs one sweep immediately, then schedules the recurring job. It
// never returns an error — a malformed schedule constant would be a
// programming error, not a runtime condition, so it panics at startup.
func (r *Reaper) Start(ctx context.Context) {
	r.sweep(ctx)

	if _, err := r.cron.AddFunc(schedule, func() { r.sweep(ctx) }); err != nil {
		panic("reaper: invalid cron schedule: " + err.Error())
	}
	r.cron.Start()
}

// Stop halts the scheduler and waits for any in-flight sweep to finish.
func (r *Reaper) Stop() {
	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
}

func (r *Reaper) sweep(ctx context.Context) {
	now := time.Now().UTC()

	challenges, err := r.db.DeleteExpiredChallenges(ctx, now)
	if err != nil {
		r.log.Error(ctx, "reaper: failed to delete expired challenges", err, nil)
	}

	sessions, err := r.db.DeleteExpiredSessionTokens(ctx, now)
	if err != nil {
		r.log.Error(ctx, "reaper: failed to delete expired session tokens", err, nil)
	}

	r.mu.Lock()
	r.lastAt = now
	r.mu.Unlock()

	r.log.Info(ctx, "reaper: swept expired rows", map[string]interface{}{
		"challenges_deleted": challenges,
		"sessions_deleted":   sessions,
	})
}

// LastSweepAt reports when the most recent sweep ran, for readiness checks.
func (r *Reaper) LastSweepAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastAt
}
