// Package ledger implements the append-only event ledger: it sits on top of
// internal/store for the transactional append and internal/eventbus for the
// post-commit publish, keeping the same separation used elsewhere between a
// Postgres-backed store and an in-process dispatcher that the store itself
// knows nothing about.
package ledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/pik-systems/identity-kernel/internal/eventbus"
	"github.com/pik-systems/identity-kernel/internal/model"
	"github.com/pik-systems/identity-kernel/internal/store"
)

// Ledger appends IdentityEvents and fans out their projection.
type Ledger struct {
	db  *store.Store
	bus *eventbus.Bus
}

// New wraps a Store and an EventBus.
func New(db *store.Store, bus *eventbus.Bus) *Ledger {
	return &Ledger{db: db, bus: bus}
}

// AppendInput carries the fields a caller supplies for one ledger row.
// Payload and Changes are marshaled to JSON; either may be nil.
type AppendInput struct {
	RootID    string
	EventType string
	SourceID  *string
	Payload   any
	Changes   any
}

func marshalOrNil(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// AppendTx inserts one ledger row using the caller's in-flight transaction.
// It does not publish — publish only happens after the caller's transaction
// commits; call Publish with the returned event once that commit succeeds.
func (l *Ledger) AppendTx(ctx context.Context, q *store.Queries, in AppendInput) (*model.IdentityEvent, error) {
	payload, err := marshalOrNil(in.Payload)
	if err != nil {
		return nil, err
	}
	changes, err := marshalOrNil(in.Changes)
	if err != nil {
		return nil, err
	}

	e := &model.IdentityEvent{
		EventID:        uuid.NewString(),
		RootID:         in.RootID,
		EventType:      in.EventType,
		SourceID:       in.SourceID,
		Payload:        payload,
		ChangesApplied: changes,
		CreatedAt:      time.Now().UTC(),
	}

	if err := q.InsertEvent(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Publish fans an already-committed event out to EventBus subscribers.
func (l *Ledger) Publish(e *model.IdentityEvent) {
	if e == nil {
		return
	}
	l.bus.Publish(eventbus.Event{
		RootID:    e.RootID,
		EventType: e.EventType,
		Payload:   e.Payload,
		CreatedAt: e.CreatedAt,
	})
}

// AppendAndCommit runs fn inside a new transaction, capturing every event
// AppendTx produces during it, and publishes them all after a successful
// commit. This is the common case (a single top-level event, optionally
// with a best-effort side-grant appended outside the transaction by the
// caller) and keeps callers from juggling capture variables themselves.
func (l *Ledger) AppendAndCommit(ctx context.Context, fn func(q *store.Queries, append func(AppendInput) (*model.IdentityEvent, error)) error) ([]*model.IdentityEvent, error) {
	var events []*model.IdentityEvent

	err := l.db.WithTx(ctx, func(q *store.Queries) error {
		appendFn := func(in AppendInput) (*model.IdentityEvent, error) {
			e, err := l.AppendTx(ctx, q, in)
			if err != nil {
				return nil, err
			}
			events = append(events, e)
			return e, nil
		}
		return fn(q, appendFn)
	})
	if err != nil {
		return nil, err
	}

	for _, e := range events {
		l.Publish(e)
	}
	return events, nil
}

// Timeline returns a root's events newest-first.
func (l *Ledger) Timeline(ctx context.Context, rootID string, limit int) ([]model.IdentityEvent, error) {
	return l.db.ListEventsByRoot(ctx, rootID, limit)
}

// CountByType counts a root's events of one type.
func (l *Ledger) CountByType(ctx context.Context, rootID, eventType string) (int64, error) {
	return l.db.CountEventsByType(ctx, rootID, eventType)
}

// TotalCount returns the ledger's total row count.
func (l *Ledger) TotalCount(ctx context.Context) (int64, error) {
	return l.db.TotalEventCount(ctx)
}

// CountsByType returns the ledger's total row count grouped by event type.
func (l *Ledger) CountsByType(ctx context.Context) (map[string]int64, error) {
	return l.db.CountsByType(ctx)
}
