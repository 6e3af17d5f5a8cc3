package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pik-systems/identity-kernel/internal/model"
)

// GetTitle loads a title catalog entry by id.
func (q *Queries) GetTitle(ctx context.Context, titleID string) (*model.Title, error) {
	row := q.q.QueryRowContext(ctx, `SELECT title_id, display_name, description FROM titles WHERE title_id = $1`, titleID)
	var t model.Title
	if err := row.Scan(&t.TitleID, &t.DisplayName, &t.Description); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// ListTitles returns the full title catalog.
func (q *Queries) ListTitles(ctx context.Context) ([]model.Title, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT title_id, display_name, description FROM titles ORDER BY title_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Title
	for rows.Next() {
		var t model.Title
		if err := rows.Scan(&t.TitleID, &t.DisplayName, &t.Description); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GrantTitle records that a root holds a title. The unique index on
// (root_id, title_id) makes this idempotent: a second grant for a title
// already held reports ErrAlreadyExists, which callers treat as a no-op.
func (q *Queries) GrantTitle(ctx context.Context, ut *model.UserTitle) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO user_titles (root_id, title_id, granted_at)
		VALUES ($1,$2,$3)
	`, ut.RootID, ut.TitleID, ut.GrantedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

// ListTitlesByRoot returns every title a root has earned, earliest first.
func (q *Queries) ListTitlesByRoot(ctx context.Context, rootID string) ([]model.UserTitle, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT root_id, title_id, granted_at FROM user_titles WHERE root_id = $1 ORDER BY granted_at
	`, rootID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.UserTitle
	for rows.Next() {
		var ut model.UserTitle
		if err := rows.Scan(&ut.RootID, &ut.TitleID, &ut.GrantedAt); err != nil {
			return nil, err
		}
		out = append(out, ut)
	}
	return out, rows.Err()
}

// HasTitle reports whether a root already holds a title.
func (q *Queries) HasTitle(ctx context.Context, rootID, titleID string) (bool, error) {
	var exists bool
	err := q.q.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM user_titles WHERE root_id = $1 AND title_id = $2)
	`, rootID, titleID).Scan(&exists)
	return exists, err
}

// InsertMarker appends a FateMarker — a narrative breadcrumb keyed to a root.
func (q *Queries) InsertMarker(ctx context.Context, m *model.FateMarker) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO fate_markers (marker_id, root_id, source_id, marker, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, m.MarkerID, m.RootID, nullString(m.SourceID), m.Marker, m.CreatedAt)
	return err
}

// ListMarkersByRoot returns every marker a root has earned, newest-first.
func (q *Queries) ListMarkersByRoot(ctx context.Context, rootID string) ([]model.FateMarker, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT marker_id, root_id, source_id, marker, created_at FROM fate_markers WHERE root_id = $1 ORDER BY created_at DESC
	`, rootID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.FateMarker
	for rows.Next() {
		var m model.FateMarker
		var sourceID sql.NullString
		if err := rows.Scan(&m.MarkerID, &m.RootID, &sourceID, &m.Marker, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.SourceID = stringPtr(sourceID)
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetAllConfig returns the full tunable KV table.
func (q *Queries) GetAllConfig(ctx context.Context) ([]model.ConfigEntry, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT config_key, config_value, updated_at FROM config_entries ORDER BY config_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ConfigEntry
	for rows.Next() {
		var c model.ConfigEntry
		if err := rows.Scan(&c.Key, &c.Value, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetConfigValue loads one tunable by key.
func (q *Queries) GetConfigValue(ctx context.Context, key string) (*model.ConfigEntry, error) {
	row := q.q.QueryRowContext(ctx, `SELECT config_key, config_value, updated_at FROM config_entries WHERE config_key = $1`, key)
	var c model.ConfigEntry
	if err := row.Scan(&c.Key, &c.Value, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// UpsertConfigValue writes a tunable, creating or overwriting it.
func (q *Queries) UpsertConfigValue(ctx context.Context, c *model.ConfigEntry) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO config_entries (config_key, config_value, updated_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (config_key) DO UPDATE SET config_value = EXCLUDED.config_value, updated_at = EXCLUDED.updated_at
	`, c.Key, c.Value, c.UpdatedAt)
	return err
}
