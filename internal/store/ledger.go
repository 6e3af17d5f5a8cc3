package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pik-systems/identity-kernel/internal/model"
)

// InsertEvent appends one ledger row. It never updates or deletes — the
// identity_events table is append-only.
func (q *Queries) InsertEvent(ctx context.Context, e *model.IdentityEvent) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO identity_events (event_id, root_id, event_type, source_id, payload, changes_applied, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, e.EventID, e.RootID, e.EventType, nullString(e.SourceID), rawMessage(e.Payload), rawMessage(e.ChangesApplied), e.CreatedAt)
	return err
}

const eventColumns = `event_id, root_id, event_type, source_id, payload, changes_applied, created_at`

func scanEvent(row interface{ Scan(...any) error }) (*model.IdentityEvent, error) {
	var e model.IdentityEvent
	var sourceID sql.NullString
	if err := row.Scan(&e.EventID, &e.RootID, &e.EventType, &sourceID, &e.Payload, &e.ChangesApplied, &e.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	e.SourceID = stringPtr(sourceID)
	return &e, nil
}

// ListEventsByRoot returns a root's timeline newest-first. Ties on
// created_at break by event_id lexicographic order.
func (q *Queries) ListEventsByRoot(ctx context.Context, rootID string, limit int) ([]model.IdentityEvent, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM identity_events
		WHERE root_id = $1
		ORDER BY created_at DESC, event_id DESC
		LIMIT $2
	`, rootID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.IdentityEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// CountEventsByType counts a root's events of one type.
func (q *Queries) CountEventsByType(ctx context.Context, rootID, eventType string) (int64, error) {
	var count int64
	err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM identity_events WHERE root_id = $1 AND event_type = $2`,
		rootID, eventType).Scan(&count)
	return count, err
}

// TotalEventCount returns the ledger's total row count.
func (q *Queries) TotalEventCount(ctx context.Context) (int64, error) {
	var count int64
	err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM identity_events`).Scan(&count)
	return count, err
}

// CountsByType returns the ledger's total row count grouped by event_type.
func (q *Queries) CountsByType(ctx context.Context) (map[string]int64, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT event_type, COUNT(*) FROM identity_events GROUP BY event_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var eventType string
		var count int64
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, err
		}
		out[eventType] = count
	}
	return out, rows.Err()
}
