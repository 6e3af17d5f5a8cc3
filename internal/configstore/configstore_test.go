package configstore

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pik-systems/identity-kernel/infrastructure/errors"
	"github.com/pik-systems/identity-kernel/internal/store"
)

func newTestStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store.New(db), mock
}

func TestGetAll_ParsesNumericAndStringValues(t *testing.T) {
	db, mock := newTestStore(t)
	s := New(db)

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT config_key, config_value, updated_at FROM config_entries`).
		WillReturnRows(sqlmock.NewRows([]string{"config_key", "config_value", "updated_at"}).
			AddRow("xp_base_threshold", "100", now).
			AddRow("default_consent_scope", "progression", now))

	got, err := s.GetAll(context.Background())
	require.NoError(t, err)

	numeric := got["xp_base_threshold"]
	assert.True(t, numeric.IsNumber)
	assert.Equal(t, float64(100), numeric.Number)

	str := got["default_consent_scope"]
	assert.False(t, str.IsNumber)
	assert.Equal(t, "progression", str.Raw)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_FallsBackToSeedDefaultWhenRowMissing(t *testing.T) {
	db, mock := newTestStore(t)
	s := New(db)

	mock.ExpectQuery(`SELECT config_key, config_value, updated_at FROM config_entries WHERE config_key = \$1`).
		WithArgs("xp_level_multiplier").
		WillReturnError(store.ErrNotFound)

	v, err := s.Get(context.Background(), "xp_level_multiplier")
	require.NoError(t, err)
	assert.True(t, v.IsNumber)
	assert.Equal(t, 1.5, v.Number)
}

func TestGet_UnknownKeyMissingRowIsNotFound(t *testing.T) {
	db, mock := newTestStore(t)
	s := New(db)

	mock.ExpectQuery(`SELECT config_key, config_value, updated_at FROM config_entries WHERE config_key = \$1`).
		WithArgs("not_a_real_key").
		WillReturnError(store.ErrNotFound)

	_, err := s.Get(context.Background(), "not_a_real_key")
	assert.Equal(t, 404, errors.GetHTTPStatus(err))
}

func TestUpdate_RejectsUnknownKeyWithoutTouchingTheStore(t *testing.T) {
	db, mock := newTestStore(t)
	s := New(db)

	err := s.Update(context.Background(), "totally_unknown_key", "42")
	assert.Equal(t, 400, errors.GetHTTPStatus(err))
	require.NoError(t, mock.ExpectationsWereMet(), "expected no queries for an unknown key")
}

func TestUpdate_KnownKeyUpserts(t *testing.T) {
	db, mock := newTestStore(t)
	s := New(db)

	mock.ExpectExec(`INSERT INTO config_entries`).
		WithArgs("event_xp_multiplier", "2.0", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Update(context.Background(), "event_xp_multiplier", "2.0"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetFloat_NonNumericValueIsInternalError(t *testing.T) {
	db, mock := newTestStore(t)
	s := New(db)

	mock.ExpectQuery(`SELECT config_key, config_value, updated_at FROM config_entries WHERE config_key = \$1`).
		WithArgs("default_consent_scope").
		WillReturnRows(sqlmock.NewRows([]string{"config_key", "config_value", "updated_at"}).
			AddRow("default_consent_scope", "progression", time.Now().UTC()))

	_, err := s.GetFloat(context.Background(), "default_consent_scope")
	assert.Equal(t, 500, errors.GetHTTPStatus(err))
}

func TestIsKnownKey(t *testing.T) {
	assert.True(t, IsKnownKey("xp_base_threshold"))
	assert.False(t, IsKnownKey("nonsense"))
}
