// Package consent implements source-link grant/revoke and the active-link
// probe IngestEngine calls before every mutation. There's no direct gateway
// analogue for this concept, so it follows the same Store-transaction idiom
// used elsewhere: validate, mutate, ledger-append, commit.
package consent

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pik-systems/identity-kernel/infrastructure/errors"
	"github.com/pik-systems/identity-kernel/internal/configstore"
	"github.com/pik-systems/identity-kernel/internal/ledger"
	"github.com/pik-systems/identity-kernel/internal/model"
	"github.com/pik-systems/identity-kernel/internal/store"
)

// Manager grants, revokes and probes SourceLinks.
type Manager struct {
	db     *store.Store
	config *configstore.Store
	ledger *ledger.Ledger
}

// New wraps the collaborators Consent needs.
func New(db *store.Store, config *configstore.Store, led *ledger.Ledger) *Manager {
	return &Manager{db: db, config: config, ledger: led}
}

// GrantInput carries the fields a grant request supplies.
type GrantInput struct {
	RootID    string
	SourceID  string
	GrantedBy string
	Scope     string
}

// Grant validates the root and source are active and that no active link
// already exists, then transactionally creates the link and appends
// source.link_granted.
func (m *Manager) Grant(ctx context.Context, in GrantInput) (*model.SourceLink, error) {
	root, err := m.db.GetRootIdentity(ctx, in.RootID)
	if err == store.ErrNotFound {
		return nil, errors.NotFound("root identity", in.RootID)
	}
	if err != nil {
		return nil, err
	}
	if root.Status != model.IdentityStatusActive {
		return nil, errors.BadRequest("root identity is not active")
	}

	source, err := m.db.GetSource(ctx, in.SourceID)
	if err == store.ErrNotFound {
		return nil, errors.NotFound("source", in.SourceID)
	}
	if err != nil {
		return nil, err
	}
	if source.Status != model.SourceStatusActive {
		return nil, errors.BadRequest("source is not active")
	}

	if _, err := m.db.GetActiveSourceLink(ctx, in.RootID, in.SourceID); err == nil {
		return nil, errors.Conflict("an active consent link already exists for this root and source")
	} else if err != store.ErrNotFound {
		return nil, err
	}

	scope := in.Scope
	if scope == "" {
		scope, err = m.config.GetString(ctx, "default_consent_scope")
		if err != nil {
			return nil, err
		}
	}

	link := &model.SourceLink{
		LinkID:    uuid.NewString(),
		RootID:    in.RootID,
		SourceID:  in.SourceID,
		Scope:     scope,
		Status:    model.LinkStatusActive,
		GrantedBy: in.GrantedBy,
		GrantedAt: time.Now().UTC(),
	}

	_, err = m.ledger.AppendAndCommit(ctx, func(q *store.Queries, appendEvent func(ledger.AppendInput) (*model.IdentityEvent, error)) error {
		if err := q.CreateSourceLink(ctx, link); err != nil {
			return err
		}
		_, err := appendEvent(ledger.AppendInput{
			RootID:    in.RootID,
			EventType: "source.link_granted",
			SourceID:  &in.SourceID,
			Payload: map[string]any{
				"link_id":   link.LinkID,
				"source_id": in.SourceID,
				"scope":     scope,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	return link, nil
}

// RevokeInput carries the fields a revoke request supplies.
type RevokeInput struct {
	RootID    string
	LinkID    string
	RevokedBy *string
}

// Revoke validates the link belongs to the root and is active, transitions
// it to revoked, and appends source.link_revoked. Past progression is
// preserved — revocation only blocks future ingest.
func (m *Manager) Revoke(ctx context.Context, in RevokeInput) error {
	link, err := m.db.GetSourceLink(ctx, in.LinkID)
	if err == store.ErrNotFound {
		return errors.NotFound("source link", in.LinkID)
	}
	if err != nil {
		return err
	}
	if link.RootID != in.RootID {
		return errors.NotFound("source link", in.LinkID)
	}
	if link.Status != model.LinkStatusActive {
		return errors.BadRequest("source link is not active")
	}

	revokedAt := time.Now().UTC()

	_, err = m.ledger.AppendAndCommit(ctx, func(q *store.Queries, appendEvent func(ledger.AppendInput) (*model.IdentityEvent, error)) error {
		if err := q.RevokeSourceLink(ctx, in.LinkID, revokedAt, in.RevokedBy); err != nil {
			return err
		}
		_, err := appendEvent(ledger.AppendInput{
			RootID:    in.RootID,
			EventType: "source.link_revoked",
			SourceID:  &link.SourceID,
			Payload: map[string]any{
				"link_id": in.LinkID,
			},
		})
		return err
	})
	return err
}

// ActiveLink is the result of validating a (root, source) consent probe.
type ActiveLink struct {
	LinkID string
	Scope  string
}

// ValidateActiveLink is called by IngestEngine before every mutation.
func (m *Manager) ValidateActiveLink(ctx context.Context, rootID, sourceID string) (*ActiveLink, error) {
	link, err := m.db.GetActiveSourceLink(ctx, rootID, sourceID)
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ActiveLink{LinkID: link.LinkID, Scope: link.Scope}, nil
}

// List returns every link ever granted for a root, newest-first.
func (m *Manager) List(ctx context.Context, rootID string) ([]model.SourceLink, error) {
	return m.db.ListSourceLinksByRoot(ctx, rootID)
}
