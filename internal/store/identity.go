package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pik-systems/identity-kernel/internal/model"
)

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errors.New("store: record not found")

// ErrAlreadyExists is returned when a unique-index write collides.
var ErrAlreadyExists = errors.New("store: record already exists")

// CreateRootIdentity inserts a new RootIdentity row.
func (q *Queries) CreateRootIdentity(ctx context.Context, ri *model.RootIdentity) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO root_identities
			(root_id, hero_name, fate_alignment, origin, fate_xp, fate_level, status, enrolled_by, enrolled_at, equipped_title_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, ri.RootID, ri.HeroName, ri.FateAlignment, nullString(ri.Origin), ri.FateXP, ri.FateLevel, ri.Status,
		ri.EnrolledBy, ri.EnrolledAt, nullString(ri.EquippedTitle))
	return err
}

func scanRootIdentity(row interface{ Scan(...any) error }) (*model.RootIdentity, error) {
	var ri model.RootIdentity
	var origin, equipped sql.NullString
	if err := row.Scan(&ri.RootID, &ri.HeroName, &ri.FateAlignment, &origin, &ri.FateXP, &ri.FateLevel,
		&ri.Status, &ri.EnrolledBy, &ri.EnrolledAt, &equipped); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	ri.Origin = stringPtr(origin)
	ri.EquippedTitle = stringPtr(equipped)
	return &ri, nil
}

const rootIdentityColumns = `root_id, hero_name, fate_alignment, origin, fate_xp, fate_level, status, enrolled_by, enrolled_at, equipped_title_id`

// GetRootIdentity loads one RootIdentity by id.
func (q *Queries) GetRootIdentity(ctx context.Context, rootID string) (*model.RootIdentity, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+rootIdentityColumns+` FROM root_identities WHERE root_id = $1`, rootID)
	return scanRootIdentity(row)
}

// ListRootIdentities returns every RootIdentity, oldest-enrolled first.
func (q *Queries) ListRootIdentities(ctx context.Context) ([]model.RootIdentity, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT `+rootIdentityColumns+` FROM root_identities ORDER BY enrolled_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RootIdentity
	for rows.Next() {
		ri, err := scanRootIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ri)
	}
	return out, rows.Err()
}

// UpdateRootProgression persists a new (fate_xp, fate_level) pair.
// Concurrent writers last-writer-win on these two fields.
func (q *Queries) UpdateRootProgression(ctx context.Context, rootID string, xp int64, level int) error {
	_, err := q.q.ExecContext(ctx, `UPDATE root_identities SET fate_xp = $1, fate_level = $2 WHERE root_id = $3`, xp, level, rootID)
	return err
}

// UpdateRootProfile patches the subset of editable profile fields that are non-nil.
func (q *Queries) UpdateRootProfile(ctx context.Context, rootID string, heroName, alignment, origin *string) error {
	if heroName != nil {
		if _, err := q.q.ExecContext(ctx, `UPDATE root_identities SET hero_name = $1 WHERE root_id = $2`, *heroName, rootID); err != nil {
			return err
		}
	}
	if alignment != nil {
		if _, err := q.q.ExecContext(ctx, `UPDATE root_identities SET fate_alignment = $1 WHERE root_id = $2`, *alignment, rootID); err != nil {
			return err
		}
	}
	if origin != nil {
		if _, err := q.q.ExecContext(ctx, `UPDATE root_identities SET origin = $1 WHERE root_id = $2`, *origin, rootID); err != nil {
			return err
		}
	}
	return nil
}

// UpdateEquippedTitle sets or clears the identity's equipped-title reference.
func (q *Queries) UpdateEquippedTitle(ctx context.Context, rootID string, titleID *string) error {
	_, err := q.q.ExecContext(ctx, `UPDATE root_identities SET equipped_title_id = $1 WHERE root_id = $2`, nullString(titleID), rootID)
	return err
}

// SetRootStatus transitions the identity's lifecycle status.
func (q *Queries) SetRootStatus(ctx context.Context, rootID, status string) error {
	_, err := q.q.ExecContext(ctx, `UPDATE root_identities SET status = $1 WHERE root_id = $2`, status, rootID)
	return err
}

// CreatePersona inserts a display-layer alias.
func (q *Queries) CreatePersona(ctx context.Context, p *model.Persona) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO personas (persona_id, root_id, name, is_primary, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, p.PersonaID, p.RootID, p.Name, p.IsPrimary, p.CreatedAt)
	return err
}

// GetPrimaryPersona returns the root's primary persona.
func (q *Queries) GetPrimaryPersona(ctx context.Context, rootID string) (*model.Persona, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT persona_id, root_id, name, is_primary, created_at
		FROM personas WHERE root_id = $1 AND is_primary = true
		LIMIT 1
	`, rootID)
	var p model.Persona
	if err := row.Scan(&p.PersonaID, &p.RootID, &p.Name, &p.IsPrimary, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}
