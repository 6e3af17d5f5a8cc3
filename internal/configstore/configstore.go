// Package configstore implements the DB-backed, live-mutable key/value
// tunables component: typed on read, stringly-typed at rest, with writes
// rejected for any key outside a fixed allowlist.
package configstore

import (
	"context"
	"strconv"
	"time"

	"github.com/pik-systems/identity-kernel/infrastructure/errors"
	"github.com/pik-systems/identity-kernel/internal/model"
	"github.com/pik-systems/identity-kernel/internal/store"
)

// Known tunable keys and their seed defaults. Any key outside this set is
// rejected on write with a bad-request.
var defaults = map[string]string{
	"xp_base_threshold":      "100",
	"xp_level_multiplier":    "1.5",
	"xp_per_session_normal":  "100",
	"xp_per_session_hard":    "150",
	"xp_boss_tier_pct":       "0.5",
	"xp_node_completion":     "15",
	"event_xp_multiplier":    "1.0",
	"session_token_ttl_secs": "3600",
	"challenge_ttl_secs":     "300",
	"default_consent_scope":  "progression",
}

// Value is a typed configuration reading: numeric when the stored string
// parses cleanly as a finite number, otherwise the raw string.
type Value struct {
	Raw      string
	IsNumber bool
	Number   float64
}

// Store reads and writes tunables through the Store's config_entries table.
type Store struct {
	db *store.Store
}

// New wraps a Store for configuration access.
func New(db *store.Store) *Store {
	return &Store{db: db}
}

// IsKnownKey reports whether key is in the allowlist.
func IsKnownKey(key string) bool {
	_, ok := defaults[key]
	return ok
}

// Seed inserts every known key's default, skipping ones already present.
// Called once at boot so a fresh database has usable tunables immediately.
func (s *Store) Seed(ctx context.Context) error {
	existing, err := s.db.GetAllConfig(ctx)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, e := range existing {
		have[e.Key] = true
	}
	for key, val := range defaults {
		if have[key] {
			continue
		}
		if err := s.db.UpsertConfigValue(ctx, &model.ConfigEntry{Key: key, Value: val, UpdatedAt: time.Now().UTC()}); err != nil {
			return err
		}
	}
	return nil
}

func parseValue(raw string) Value {
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return Value{Raw: raw, IsNumber: true, Number: n}
	}
	return Value{Raw: raw}
}

// GetAll returns every tunable, parsed under the numeric-parse-on-read rule.
func (s *Store) GetAll(ctx context.Context) (map[string]Value, error) {
	rows, err := s.db.GetAllConfig(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Value, len(rows))
	for _, r := range rows {
		out[r.Key] = parseValue(r.Value)
	}
	return out, nil
}

// Get returns one tunable as a parsed Value, falling back to the seed
// default if the row is absent (covers a database that wasn't re-seeded).
func (s *Store) Get(ctx context.Context, key string) (Value, error) {
	row, err := s.db.GetConfigValue(ctx, key)
	if err == store.ErrNotFound {
		if def, ok := defaults[key]; ok {
			return parseValue(def), nil
		}
		return Value{}, errors.NotFound("config key", key)
	}
	if err != nil {
		return Value{}, err
	}
	return parseValue(row.Value), nil
}

// GetFloat is a convenience reader for formula tunables.
func (s *Store) GetFloat(ctx context.Context, key string) (float64, error) {
	v, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if !v.IsNumber {
		return 0, errors.Internal("config key "+key+" is not numeric", nil)
	}
	return v.Number, nil
}

// GetString is a convenience reader for string tunables (e.g. default scope).
func (s *Store) GetString(ctx context.Context, key string) (string, error) {
	v, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return v.Raw, nil
}

// Update writes a tunable. Unknown keys are rejected with a bad-request.
func (s *Store) Update(ctx context.Context, key, value string) error {
	if !IsKnownKey(key) {
		return errors.BadRequest("unknown config key: " + key)
	}
	return s.db.UpsertConfigValue(ctx, &model.ConfigEntry{Key: key, Value: value, UpdatedAt: time.Now().UTC()})
}
