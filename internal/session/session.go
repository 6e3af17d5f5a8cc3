// Package session implements SessionIssuer: minting and validating opaque
// Bearer tokens, stored hash-at-rest: a random token is returned once and
// only its keyed hash is persisted.
package session

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/pik-systems/identity-kernel/infrastructure/errors"
	"github.com/pik-systems/identity-kernel/internal/configstore"
	"github.com/pik-systems/identity-kernel/internal/model"
	"github.com/pik-systems/identity-kernel/internal/store"
)

// tokenHashKey is an HKDF-derived key used to salt the hash session tokens
// are stored under, so that the persisted token_hash column is not a bare
// unsalted SHA-256 of a value an attacker could rainbow-table. Derived once
// from PIK_SESSION_TOKEN_PEPPER (an operator secret distinct from any
// database credential) with a fixed info string for domain separation.
var tokenHashKey = deriveTokenHashKey()

func deriveTokenHashKey() []byte {
	pepper := os.Getenv("PIK_SESSION_TOKEN_PEPPER")
	if pepper == "" {
		pepper = "pik-development-default-pepper-do-not-use-in-production"
	}
	kdf := hkdf.New(sha256.New, []byte(pepper), nil, []byte("pik-session-token-hash-v1"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		panic("session: derive token hash key: " + err.Error())
	}
	return key
}

// Issued is what the caller returns to the client on successful issuance.
type Issued struct {
	Token     string
	ExpiresAt time.Time
}

// Issuer mints and validates opaque Bearer session tokens.
type Issuer struct {
	db     *store.Store
	config *configstore.Store
}

// New wraps a Store and the configstore tunable for session_token_ttl_secs.
func New(db *store.Store, config *configstore.Store) *Issuer {
	return &Issuer{db: db, config: config}
}

func hashToken(token string) string {
	mac := hmac.New(sha256.New, tokenHashKey)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// issue mints a new session for rootID inside an existing unit of work when
// q is non-nil (so registration/authentication can mint the token in the
// same transaction as the rest of the ceremony), or directly against the
// Store otherwise.
func (i *Issuer) issue(ctx context.Context, q *store.Queries, rootID string) (*Issued, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, errors.Internal("failed to generate session token", err)
	}
	token := hex.EncodeToString(raw)

	ttlSecs, err := i.config.GetFloat(ctx, "session_token_ttl_secs")
	if err != nil {
		return nil, err
	}
	expiresAt := time.Now().UTC().Add(time.Duration(ttlSecs) * time.Second)

	t := &model.SessionToken{
		TokenHash: hashToken(token),
		RootID:    rootID,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}

	if q != nil {
		if err := q.CreateSessionToken(ctx, t); err != nil {
			return nil, err
		}
	} else {
		if err := i.db.CreateSessionToken(ctx, t); err != nil {
			return nil, err
		}
	}

	return &Issued{Token: token, ExpiresAt: expiresAt}, nil
}

// Issue mints a session directly against the Store.
func (i *Issuer) Issue(ctx context.Context, rootID string) (*Issued, error) {
	return i.issue(ctx, nil, rootID)
}

// IssueTx mints a session as part of an in-flight transaction's Queries.
func (i *Issuer) IssueTx(ctx context.Context, q *store.Queries, rootID string) (*Issued, error) {
	return i.issue(ctx, q, rootID)
}

// Validate hashes the presented token and resolves the owning root id,
// rejecting absent or expired tokens.
func (i *Issuer) Validate(ctx context.Context, token string) (string, error) {
	t, err := i.db.GetSessionTokenByHash(ctx, hashToken(token))
	if err == store.ErrNotFound {
		return "", errors.Unauthorized("invalid or expired session")
	}
	if err != nil {
		return "", err
	}
	if t.ExpiresAt.Before(time.Now().UTC()) {
		return "", errors.Unauthorized("invalid or expired session")
	}
	return t.RootID, nil
}
