package reaper

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/pik-systems/identity-kernel/infrastructure/logging"
	"github.com/pik-systems/identity-kernel/internal/store"
)

var errBoom = errors.New("boom")

// TestSweep_DeletesExpiredChallengesAndSessions verifies one sweep removes
// rows whose expires_at is already past.
func TestSweep_DeletesExpiredChallengesAndSessions(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`DELETE FROM webauthn_challenges WHERE expires_at < \$1`).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM session_tokens WHERE expires_at < \$1`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	r := New(store.New(db), logging.New("test", "error", "text"))
	r.sweep(context.Background())

	if r.LastSweepAt().IsZero() {
		t.Fatal("expected LastSweepAt to be set after a sweep")
	}
	if time.Since(r.LastSweepAt()) > time.Second {
		t.Fatal("expected LastSweepAt to be recent")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

// TestSweep_NonFatalOnDatabaseError verifies a failed sweep doesn't panic
// and still records an attempt timestamp: failures are logged and retried
// on the next tick, never fatal.
func TestSweep_NonFatalOnDatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`DELETE FROM webauthn_challenges WHERE expires_at < \$1`).
		WillReturnError(errBoom)
	mock.ExpectExec(`DELETE FROM session_tokens WHERE expires_at < \$1`).
		WillReturnError(errBoom)

	r := New(store.New(db), logging.New("test", "error", "text"))
	r.sweep(context.Background())

	if r.LastSweepAt().IsZero() {
		t.Fatal("expected LastSweepAt to be set even when deletes fail")
	}
}
