package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/pik-systems/identity-kernel/internal/model"
)

// CreateSource inserts a new upstream source.
func (q *Queries) CreateSource(ctx context.Context, s *model.Source) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO sources (source_id, display_name, status, api_key_hash, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, s.SourceID, s.DisplayName, s.Status, s.APIKeyHash, s.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func scanSource(row interface{ Scan(...any) error }) (*model.Source, error) {
	var s model.Source
	if err := row.Scan(&s.SourceID, &s.DisplayName, &s.Status, &s.APIKeyHash, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

const sourceColumns = `source_id, display_name, status, api_key_hash, created_at`

// GetSource loads a source by id.
func (q *Queries) GetSource(ctx context.Context, sourceID string) (*model.Source, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE source_id = $1`, sourceID)
	return scanSource(row)
}

// GetActiveSourceByAPIKeyHash resolves a source whose stored key hash matches
// AND whose status is active, the full ApiKeyAuth contract.
func (q *Queries) GetActiveSourceByAPIKeyHash(ctx context.Context, hash string) (*model.Source, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE api_key_hash = $1 AND status = $2`,
		hash, model.SourceStatusActive)
	return scanSource(row)
}

// ListSources returns every source.
func (q *Queries) ListSources(ctx context.Context) ([]model.Source, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// UpdateSourceAPIKeyHash atomically swaps the source's key hash (rotation).
func (q *Queries) UpdateSourceAPIKeyHash(ctx context.Context, sourceID, hash string) error {
	_, err := q.q.ExecContext(ctx, `UPDATE sources SET api_key_hash = $1 WHERE source_id = $2`, hash, sourceID)
	return err
}

// UpdateSourceStatus transitions a source's lifecycle status.
func (q *Queries) UpdateSourceStatus(ctx context.Context, sourceID, status string) error {
	_, err := q.q.ExecContext(ctx, `UPDATE sources SET status = $1 WHERE source_id = $2`, status, sourceID)
	return err
}

// CreateSourceLink inserts a consent receipt.
func (q *Queries) CreateSourceLink(ctx context.Context, l *model.SourceLink) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO source_links (link_id, root_id, source_id, scope, status, granted_by, granted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, l.LinkID, l.RootID, l.SourceID, l.Scope, l.Status, l.GrantedBy, l.GrantedAt)
	return err
}

func scanSourceLink(row interface{ Scan(...any) error }) (*model.SourceLink, error) {
	var l model.SourceLink
	var revokedAt sql.NullTime
	var revokedBy sql.NullString
	if err := row.Scan(&l.LinkID, &l.RootID, &l.SourceID, &l.Scope, &l.Status, &l.GrantedBy, &l.GrantedAt,
		&revokedAt, &revokedBy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	l.RevokedAt = timePtr(revokedAt)
	l.RevokedBy = stringPtr(revokedBy)
	return &l, nil
}

const sourceLinkColumns = `link_id, root_id, source_id, scope, status, granted_by, granted_at, revoked_at, revoked_by`

// GetActiveSourceLink returns the active SourceLink for (root, source), if any.
func (q *Queries) GetActiveSourceLink(ctx context.Context, rootID, sourceID string) (*model.SourceLink, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT `+sourceLinkColumns+`
		FROM source_links WHERE root_id = $1 AND source_id = $2 AND status = $3
	`, rootID, sourceID, model.LinkStatusActive)
	return scanSourceLink(row)
}

// GetSourceLink loads a link by id.
func (q *Queries) GetSourceLink(ctx context.Context, linkID string) (*model.SourceLink, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+sourceLinkColumns+` FROM source_links WHERE link_id = $1`, linkID)
	return scanSourceLink(row)
}

// ListSourceLinksByRoot returns every link ever granted for a root.
func (q *Queries) ListSourceLinksByRoot(ctx context.Context, rootID string) ([]model.SourceLink, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT `+sourceLinkColumns+` FROM source_links WHERE root_id = $1 ORDER BY granted_at DESC`, rootID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SourceLink
	for rows.Next() {
		l, err := scanSourceLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// RevokeSourceLink transitions a link to revoked.
func (q *Queries) RevokeSourceLink(ctx context.Context, linkID string, revokedAt time.Time, revokedBy *string) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE source_links SET status = $1, revoked_at = $2, revoked_by = $3 WHERE link_id = $4
	`, model.LinkStatusRevoked, revokedAt, nullString(revokedBy), linkID)
	return err
}
