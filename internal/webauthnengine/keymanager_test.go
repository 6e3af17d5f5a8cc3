package webauthnengine

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/pik-systems/identity-kernel/infrastructure/errors"
	"github.com/pik-systems/identity-kernel/internal/eventbus"
	"github.com/pik-systems/identity-kernel/internal/ledger"
	"github.com/pik-systems/identity-kernel/internal/store"
)

func newTestKeyManager(t *testing.T) (*KeyManager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s := store.New(db)
	led := ledger.New(s, eventbus.New())
	return NewKeyManager(s, led, nil), mock
}

// TestRevoke_RefusesToRemoveLastActiveKey verifies revoking a root's only
// active key fails with 409, leaving it intact.
func TestRevoke_RefusesToRemoveLastActiveKey(t *testing.T) {
	km, mock := newTestKeyManager(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM auth_keys WHERE key_id = \$1`).
		WithArgs("key-a").
		WillReturnRows(sqlmock.NewRows([]string{
			"key_id", "root_id", "credential_id", "public_key", "sign_count", "device_type",
			"backed_up", "transports", "friendly_name", "status", "created_at", "last_used_at", "revoked_at",
		}).AddRow("key-a", "root-1", []byte("cred-a"), []byte("pub-a"), uint64(0), "platform", false,
			"{}", "My Key", "active", now, nil, nil))

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM auth_keys WHERE root_id = \$1 AND status = \$2`).
		WithArgs("root-1", "active").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	err := km.Revoke(context.Background(), "root-1", "key-a")
	if errors.GetHTTPStatus(err) != 409 {
		t.Fatalf("expected 409 conflict revoking the last active key, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

// TestRevoke_SucceedsWhenAnotherActiveKeyRemains verifies revoking one of
// two active keys succeeds.
func TestRevoke_SucceedsWhenAnotherActiveKeyRemains(t *testing.T) {
	km, mock := newTestKeyManager(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM auth_keys WHERE key_id = \$1`).
		WithArgs("key-a").
		WillReturnRows(sqlmock.NewRows([]string{
			"key_id", "root_id", "credential_id", "public_key", "sign_count", "device_type",
			"backed_up", "transports", "friendly_name", "status", "created_at", "last_used_at", "revoked_at",
		}).AddRow("key-a", "root-1", []byte("cred-a"), []byte("pub-a"), uint64(0), "platform", false,
			"{}", "My Key", "active", now, nil, nil))

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM auth_keys WHERE root_id = \$1 AND status = \$2`).
		WithArgs("root-1", "active").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE auth_keys SET status`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO identity_events`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := km.Revoke(context.Background(), "root-1", "key-a"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRevoke_RejectsAlreadyRevokedKey(t *testing.T) {
	km, mock := newTestKeyManager(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM auth_keys WHERE key_id = \$1`).
		WithArgs("key-a").
		WillReturnRows(sqlmock.NewRows([]string{
			"key_id", "root_id", "credential_id", "public_key", "sign_count", "device_type",
			"backed_up", "transports", "friendly_name", "status", "created_at", "last_used_at", "revoked_at",
		}).AddRow("key-a", "root-1", []byte("cred-a"), []byte("pub-a"), uint64(0), "platform", false,
			"{}", "My Key", "revoked", now, nil, now))

	err := km.Revoke(context.Background(), "root-1", "key-a")
	if errors.GetHTTPStatus(err) != 400 {
		t.Fatalf("expected bad-request revoking an already-revoked key, got %v", err)
	}
}

func TestRevoke_RejectsKeyBelongingToAnotherRoot(t *testing.T) {
	km, mock := newTestKeyManager(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM auth_keys WHERE key_id = \$1`).
		WithArgs("key-a").
		WillReturnRows(sqlmock.NewRows([]string{
			"key_id", "root_id", "credential_id", "public_key", "sign_count", "device_type",
			"backed_up", "transports", "friendly_name", "status", "created_at", "last_used_at", "revoked_at",
		}).AddRow("key-a", "someone-else", []byte("cred-a"), []byte("pub-a"), uint64(0), "platform", false,
			"{}", "My Key", "active", now, nil, nil))

	err := km.Revoke(context.Background(), "root-1", "key-a")
	if errors.GetHTTPStatus(err) != 404 {
		t.Fatalf("expected not-found for cross-root key, got %v", err)
	}
}
