package sourceauth

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/pik-systems/identity-kernel/infrastructure/errors"
	"github.com/pik-systems/identity-kernel/internal/model"
	"github.com/pik-systems/identity-kernel/internal/store"
)

func newTestRegistry(t *testing.T) (*Registry, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(store.New(db)), mock
}

func TestRegister_RejectsMalformedSourceID(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, _, err := reg.Register(context.Background(), "X!", "Bad Id")
	if errors.GetHTTPStatus(err) != 400 {
		t.Fatalf("expected bad-request for an invalid source id, got %v", err)
	}
}

func TestRegister_ReturnsPlaintextKeyExactlyOnce(t *testing.T) {
	reg, mock := newTestRegistry(t)

	mock.ExpectExec(`INSERT INTO sources`).WillReturnResult(sqlmock.NewResult(0, 1))

	source, plaintext, err := reg.Register(context.Background(), "arena-01", "Arena Service")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if plaintext[:4] != "pik_" || len(plaintext) != 52 {
		t.Fatalf("expected a pik_<48hex> key, got %q", plaintext)
	}
	if source.APIKeyHash == plaintext || source.APIKeyHash == "" {
		t.Fatalf("expected the stored hash to differ from the plaintext key")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRegister_ConflictsOnDuplicateSourceID(t *testing.T) {
	reg, mock := newTestRegistry(t)

	mock.ExpectExec(`INSERT INTO sources`).WillReturnError(store.ErrAlreadyExists)

	_, _, err := reg.Register(context.Background(), "arena-01", "Arena Service")
	if errors.GetHTTPStatus(err) != 409 {
		t.Fatalf("expected conflict for a duplicate source id, got %v", err)
	}
}

// TestAuthenticate_OpaqueErrorAcrossFailureModes verifies every failure path
// (missing key, unknown key, suspended source) returns the same forbidden
// message so a caller can't distinguish them from the response alone.
func TestAuthenticate_OpaqueErrorAcrossFailureModes(t *testing.T) {
	reg, mock := newTestRegistry(t)

	mock.ExpectQuery(`FROM sources WHERE api_key_hash = \$1 AND status = \$2`).
		WillReturnError(store.ErrNotFound)

	_, errMissing := reg.Authenticate(context.Background(), "")
	_, errUnknown := reg.Authenticate(context.Background(), "pik_deadbeef")

	if errMissing == nil || errUnknown == nil {
		t.Fatal("expected both calls to fail")
	}
	if errMissing.Error() != errUnknown.Error() {
		t.Fatalf("expected identical opaque messages, got %q vs %q", errMissing.Error(), errUnknown.Error())
	}
	if errors.GetHTTPStatus(errMissing) != 403 || errors.GetHTTPStatus(errUnknown) != 403 {
		t.Fatalf("expected 403 for both, got %v and %v", errMissing, errUnknown)
	}
}

func TestAuthenticate_ResolvesActiveSource(t *testing.T) {
	reg, mock := newTestRegistry(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM sources WHERE api_key_hash = \$1 AND status = \$2`).
		WithArgs(HashKey("pik_abc123"), model.SourceStatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"source_id", "display_name", "status", "api_key_hash", "created_at"}).
			AddRow("arena-01", "Arena Service", "active", HashKey("pik_abc123"), now))

	s, err := reg.Authenticate(context.Background(), "pik_abc123")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if s.SourceID != "arena-01" {
		t.Fatalf("expected arena-01, got %s", s.SourceID)
	}
}

func TestSetStatus_RejectsUnknownStatus(t *testing.T) {
	reg, _ := newTestRegistry(t)
	err := reg.SetStatus(context.Background(), "arena-01", "vanished")
	if errors.GetHTTPStatus(err) != 400 {
		t.Fatalf("expected bad-request for an unrecognized status, got %v", err)
	}
}
