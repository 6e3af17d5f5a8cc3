package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/pik-systems/identity-kernel/internal/sourceauth"
	"github.com/pik-systems/identity-kernel/internal/store"
)

func newSourcesTestDeps(t *testing.T) (*Deps, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := store.New(db)
	return &Deps{Sources: sourceauth.New(s)}, mock
}

func TestRegisterSourceHandler_RejectsInvalidID(t *testing.T) {
	d, mock := newSourcesTestDeps(t)

	payload, _ := json.Marshal(map[string]string{"source_id": "x", "source_name": "Too Short"})
	req := httptest.NewRequest(http.MethodPost, "/api/sources", bytes.NewReader(payload))
	rec := httptest.NewRecorder()

	d.registerSourceHandler(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterSourceHandler_ReturnsPlaintextKeyOnce(t *testing.T) {
	d, mock := newSourcesTestDeps(t)

	mock.ExpectExec(`INSERT INTO sources`).
		WithArgs("arcade-one", "Arcade One", "active", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	payload, _ := json.Marshal(map[string]string{"source_id": "arcade-one", "source_name": "Arcade One"})
	req := httptest.NewRequest(http.MethodPost, "/api/sources", bytes.NewReader(payload))
	rec := httptest.NewRecorder()

	d.registerSourceHandler(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var body struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	apiKey, _ := body.Data["api_key"].(string)
	require.Regexp(t, `^pik_[0-9a-f]{48}$`, apiKey)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSourceHandler_NotFound(t *testing.T) {
	d, mock := newSourcesTestDeps(t)

	mock.ExpectQuery(`SELECT source_id, display_name, status, api_key_hash, created_at FROM sources WHERE source_id = \$1`).
		WithArgs("ghost-source").
		WillReturnError(store.ErrNotFound)

	req := httptest.NewRequest(http.MethodGet, "/api/sources/ghost-source", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "ghost-source"})
	rec := httptest.NewRecorder()

	d.getSourceHandler(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetSourceStatusHandler_TransitionsStatus(t *testing.T) {
	d, mock := newSourcesTestDeps(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT source_id, display_name, status, api_key_hash, created_at FROM sources WHERE source_id = \$1`).
		WithArgs("arcade-one").
		WillReturnRows(sqlmock.NewRows([]string{"source_id", "display_name", "status", "api_key_hash", "created_at"}).
			AddRow("arcade-one", "Arcade One", "active", "deadbeef", now))
	mock.ExpectExec(`UPDATE sources SET status = \$1 WHERE source_id = \$2`).
		WithArgs("suspended", "arcade-one").
		WillReturnResult(sqlmock.NewResult(0, 1))

	payload, _ := json.Marshal(map[string]string{"status": "suspended"})
	req := httptest.NewRequest(http.MethodPost, "/api/sources/arcade-one/status", bytes.NewReader(payload))
	req = mux.SetURLVars(req, map[string]string{"id": "arcade-one"})
	rec := httptest.NewRecorder()

	d.setSourceStatusHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}
