package webauthnengine

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/pik-systems/identity-kernel/infrastructure/errors"
	"github.com/pik-systems/identity-kernel/internal/eventbus"
	"github.com/pik-systems/identity-kernel/internal/ledger"
	"github.com/pik-systems/identity-kernel/internal/model"
	"github.com/pik-systems/identity-kernel/internal/store"
)

// assertionBody builds the minimal JSON shape extractClientDataChallenge
// reads: a base64url-encoded clientDataJSON carrying the given challenge.
func assertionBody(t *testing.T, challenge string) []byte {
	t.Helper()
	clientData := `{"type":"webauthn.get","challenge":"` + challenge + `","origin":"https://example.com"}`
	encoded := base64.RawURLEncoding.EncodeToString([]byte(clientData))
	return []byte(`{"response":{"clientDataJSON":"` + encoded + `"}}`)
}

func TestExtractClientDataChallenge_RoundTripsTheChallengeValue(t *testing.T) {
	body := assertionBody(t, "abc123")
	challenge, err := extractClientDataChallenge(body)
	if err != nil {
		t.Fatalf("extractClientDataChallenge: %v", err)
	}
	if challenge != "abc123" {
		t.Fatalf("expected abc123, got %s", challenge)
	}
}

func TestExtractClientDataChallenge_RejectsMalformedBody(t *testing.T) {
	if _, err := extractClientDataChallenge([]byte("not json")); err == nil {
		t.Fatal("expected an error for a malformed body")
	}
}

func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s := store.New(db)
	led := ledger.New(s, eventbus.New())
	return &Engine{db: s, ledger: led}, mock
}

// TestFinishAuthentication_RejectsUnknownOrExpiredChallenge covers the
// one-shot challenge-consumption guard: an absent or already-used challenge
// never reaches credential validation.
func TestFinishAuthentication_RejectsUnknownOrExpiredChallenge(t *testing.T) {
	engine, mock := newTestEngine(t)
	body := assertionBody(t, "stale-challenge")

	mock.ExpectQuery(`DELETE FROM webauthn_challenges`).
		WithArgs("stale-challenge").
		WillReturnError(store.ErrNotFound)

	_, err := engine.FinishAuthentication(context.Background(), body)
	if errors.GetHTTPStatus(err) != 400 {
		t.Fatalf("expected bad-request for an unknown challenge, got %v", err)
	}
}

func TestFinishAuthentication_RejectsChallengeTypeMismatch(t *testing.T) {
	engine, mock := newTestEngine(t)
	body := assertionBody(t, "reg-challenge")
	now := time.Now().UTC()

	mock.ExpectQuery(`DELETE FROM webauthn_challenges`).
		WithArgs("reg-challenge").
		WillReturnRows(sqlmock.NewRows([]string{
			"challenge_id", "challenge", "type", "root_id", "metadata", "expires_at", "created_at",
		}).AddRow("chal-1", "reg-challenge", model.ChallengeTypeRegistration, nil, []byte(`{}`), now.Add(time.Minute), now))

	_, err := engine.FinishAuthentication(context.Background(), body)
	if errors.GetHTTPStatus(err) != 400 {
		t.Fatalf("expected bad-request for a challenge-type mismatch, got %v", err)
	}
}
