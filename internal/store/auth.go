package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/pik-systems/identity-kernel/internal/model"
)

// isUniqueViolation reports whether err is a Postgres unique_violation (23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// CreateAuthKey inserts a new WebAuthn credential bound to a root identity.
// Returns ErrAlreadyExists if credential_id collides against the unique index.
func (q *Queries) CreateAuthKey(ctx context.Context, k *model.AuthKey) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO auth_keys
			(key_id, root_id, credential_id, public_key, sign_count, device_type, backed_up, transports, friendly_name, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, k.KeyID, k.RootID, k.CredentialID, k.PublicKey, k.SignCount, k.DeviceType, k.BackedUp,
		pq.Array(k.Transports), k.FriendlyName, k.Status, k.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

const authKeyColumns = `key_id, root_id, credential_id, public_key, sign_count, device_type, backed_up, transports, friendly_name, status, created_at, last_used_at, revoked_at`

func scanAuthKey(row interface{ Scan(...any) error }) (*model.AuthKey, error) {
	var k model.AuthKey
	var lastUsed, revoked sql.NullTime
	var transports pq.StringArray
	if err := row.Scan(&k.KeyID, &k.RootID, &k.CredentialID, &k.PublicKey, &k.SignCount, &k.DeviceType,
		&k.BackedUp, &transports, &k.FriendlyName, &k.Status, &k.CreatedAt, &lastUsed, &revoked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	k.Transports = []string(transports)
	k.LastUsedAt = timePtr(lastUsed)
	k.RevokedAt = timePtr(revoked)
	return &k, nil
}

// GetAuthKeyByCredentialID looks up a key by its WebAuthn credential id.
func (q *Queries) GetAuthKeyByCredentialID(ctx context.Context, credentialID []byte) (*model.AuthKey, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+authKeyColumns+` FROM auth_keys WHERE credential_id = $1`, credentialID)
	return scanAuthKey(row)
}

// GetAuthKey loads a key by its own id.
func (q *Queries) GetAuthKey(ctx context.Context, keyID string) (*model.AuthKey, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+authKeyColumns+` FROM auth_keys WHERE key_id = $1`, keyID)
	return scanAuthKey(row)
}

// ListAuthKeysByRoot returns every key for a root, newest-first.
func (q *Queries) ListAuthKeysByRoot(ctx context.Context, rootID string) ([]model.AuthKey, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT `+authKeyColumns+` FROM auth_keys WHERE root_id = $1 ORDER BY created_at DESC`, rootID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AuthKey
	for rows.Next() {
		k, err := scanAuthKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *k)
	}
	return out, rows.Err()
}

// ListActiveAuthKeysByRoot returns only the active keys for a root.
func (q *Queries) ListActiveAuthKeysByRoot(ctx context.Context, rootID string) ([]model.AuthKey, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT `+authKeyColumns+` FROM auth_keys WHERE root_id = $1 AND status = $2 ORDER BY created_at DESC`,
		rootID, model.KeyStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AuthKey
	for rows.Next() {
		k, err := scanAuthKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *k)
	}
	return out, rows.Err()
}

// CountActiveAuthKeys counts active keys for a root — used for last-key safety.
func (q *Queries) CountActiveAuthKeys(ctx context.Context, rootID string) (int, error) {
	var count int
	err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM auth_keys WHERE root_id = $1 AND status = $2`,
		rootID, model.KeyStatusActive).Scan(&count)
	return count, err
}

// UpdateAuthKeyCounter persists a new signature counter and last-used timestamp
// after a successful authentication assertion.
func (q *Queries) UpdateAuthKeyCounter(ctx context.Context, keyID string, counter uint64, lastUsed time.Time) error {
	_, err := q.q.ExecContext(ctx, `UPDATE auth_keys SET sign_count = $1, last_used_at = $2 WHERE key_id = $3`, counter, lastUsed, keyID)
	return err
}

// RevokeAuthKey transitions a key to revoked.
func (q *Queries) RevokeAuthKey(ctx context.Context, keyID string, revokedAt time.Time) error {
	_, err := q.q.ExecContext(ctx, `UPDATE auth_keys SET status = $1, revoked_at = $2 WHERE key_id = $3`,
		model.KeyStatusRevoked, revokedAt, keyID)
	return err
}

// CreateChallenge persists a one-shot WebAuthn ceremony nonce.
func (q *Queries) CreateChallenge(ctx context.Context, c *model.WebAuthnChallenge) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO webauthn_challenges (challenge_id, challenge, type, root_id, metadata, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, c.ChallengeID, c.Challenge, c.Type, nullString(c.RootID), rawMessage(c.Metadata), c.ExpiresAt, c.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

// ConsumeChallenge atomically looks up and deletes a challenge by its value,
// enforcing one-shot semantics: a record consumed by at most one phase-2
// attempt. Returns ErrNotFound if absent or already expired.
func (q *Queries) ConsumeChallenge(ctx context.Context, challenge string, now time.Time) (*model.WebAuthnChallenge, error) {
	row := q.q.QueryRowContext(ctx, `
		DELETE FROM webauthn_challenges
		WHERE challenge = $1
		RETURNING challenge_id, challenge, type, root_id, metadata, expires_at, created_at
	`, challenge)

	var c model.WebAuthnChallenge
	var rootID sql.NullString
	if err := row.Scan(&c.ChallengeID, &c.Challenge, &c.Type, &rootID, &c.Metadata, &c.ExpiresAt, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.RootID = stringPtr(rootID)
	if c.ExpiresAt.Before(now) {
		return nil, ErrNotFound
	}
	return &c, nil
}

// DeleteExpiredChallenges deletes every challenge past its expiry and
// returns the count removed. Used by the Reaper.
func (q *Queries) DeleteExpiredChallenges(ctx context.Context, now time.Time) (int64, error) {
	res, err := q.q.ExecContext(ctx, `DELETE FROM webauthn_challenges WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CreateSessionToken persists a hash-at-rest Bearer token.
func (q *Queries) CreateSessionToken(ctx context.Context, t *model.SessionToken) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO session_tokens (token_hash, root_id, expires_at, created_at)
		VALUES ($1,$2,$3,$4)
	`, t.TokenHash, t.RootID, t.ExpiresAt, t.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

// GetSessionTokenByHash loads a session by its hash, not checking expiry
// (the caller — SessionIssuer.Validate — does that against the current time).
func (q *Queries) GetSessionTokenByHash(ctx context.Context, hash string) (*model.SessionToken, error) {
	row := q.q.QueryRowContext(ctx, `SELECT token_hash, root_id, expires_at, created_at FROM session_tokens WHERE token_hash = $1`, hash)
	var t model.SessionToken
	if err := row.Scan(&t.TokenHash, &t.RootID, &t.ExpiresAt, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// DeleteExpiredSessionTokens deletes every token past its expiry and
// returns the count removed. Used by the Reaper.
func (q *Queries) DeleteExpiredSessionTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := q.q.ExecContext(ctx, `DELETE FROM session_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
