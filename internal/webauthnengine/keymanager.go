package webauthnengine

import (
	"context"
	"time"

	"github.com/pik-systems/identity-kernel/infrastructure/errors"
	"github.com/pik-systems/identity-kernel/internal/ledger"
	"github.com/pik-systems/identity-kernel/internal/model"
	"github.com/pik-systems/identity-kernel/internal/store"
)

// KeyManager lists a root's credentials, starts rotation (a fresh
// registration ceremony scoped to an existing root), and revokes a
// credential with last-key safety.
type KeyManager struct {
	db     *store.Store
	ledger *ledger.Ledger
	engine *Engine
}

// NewKeyManager wraps the collaborators KeyManager needs. It shares the
// registration ceremony with Engine — rotation is just BeginRegistration
// with RootID set, since KeyManager and WebAuthnEngine share ceremony state.
func NewKeyManager(db *store.Store, led *ledger.Ledger, engine *Engine) *KeyManager {
	return &KeyManager{db: db, ledger: led, engine: engine}
}

// List returns every key — active and revoked — a root has ever registered,
// newest-first.
func (m *KeyManager) List(ctx context.Context, rootID string) ([]model.AuthKey, error) {
	if _, err := m.db.GetRootIdentity(ctx, rootID); err != nil {
		if err == store.ErrNotFound {
			return nil, errors.NotFound("root identity", rootID)
		}
		return nil, err
	}
	return m.db.ListAuthKeysByRoot(ctx, rootID)
}

// Rotate begins a new registration ceremony against an existing root,
// returning the same phase-1 options a first-time enrollment would.
func (m *KeyManager) Rotate(ctx context.Context, rootID string) (*RegistrationOptionsResult, error) {
	return m.engine.BeginRegistration(ctx, RegistrationOptionsInput{RootID: &rootID})
}

// Revoke transitions one key to revoked, refusing to revoke a root's last
// active credential.
func (m *KeyManager) Revoke(ctx context.Context, rootID, keyID string) error {
	key, err := m.db.GetAuthKey(ctx, keyID)
	if err == store.ErrNotFound {
		return errors.NotFound("auth key", keyID)
	}
	if err != nil {
		return err
	}
	if key.RootID != rootID {
		return errors.NotFound("auth key", keyID)
	}
	if key.Status != model.KeyStatusActive {
		return errors.BadRequest("key is not active")
	}

	active, err := m.db.CountActiveAuthKeys(ctx, rootID)
	if err != nil {
		return err
	}
	if active <= 1 {
		return errors.Conflict("cannot revoke the last active key")
	}

	now := time.Now().UTC()
	_, err = m.ledger.AppendAndCommit(ctx, func(q *store.Queries, appendEvent func(ledger.AppendInput) (*model.IdentityEvent, error)) error {
		if err := q.RevokeAuthKey(ctx, keyID, now); err != nil {
			return err
		}
		_, err := appendEvent(ledger.AppendInput{
			RootID:    rootID,
			EventType: "key.revoked",
			Payload: map[string]any{
				"key_id": keyID,
			},
		})
		return err
	})
	return err
}
