package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// nullString converts an optional Go string pointer to a driver-ready NullString.
func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// stringPtr converts a scanned NullString back to a *string.
func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time
	return &v
}

// rawMessage normalizes a possibly-nil json.RawMessage for storage as a
// Postgres jsonb column via driver.Valuer-unaware []byte binding.
func rawMessage(m json.RawMessage) []byte {
	if len(m) == 0 {
		return []byte("null")
	}
	return []byte(m)
}
