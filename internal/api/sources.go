package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pik-systems/identity-kernel/infrastructure/errors"
	"github.com/pik-systems/identity-kernel/infrastructure/httputil"
)

type registerSourceRequest struct {
	SourceID   string `json:"source_id"`
	SourceName string `json:"source_name"`
}

// registerSourceHandler handles `POST /api/sources`.
func (d *Deps) registerSourceHandler(w http.ResponseWriter, r *http.Request) {
	var req registerSourceRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.SourceID == "" || req.SourceName == "" {
		httputil.WriteServiceError(w, r, errors.BadRequest("source_id and source_name are required"))
		return
	}

	source, plaintext, err := d.Sources.Register(r.Context(), req.SourceID, req.SourceName)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteOK(w, http.StatusCreated, map[string]any{
		"source_id":    source.SourceID,
		"display_name": source.DisplayName,
		"status":       source.Status,
		"api_key":      plaintext,
		"created_at":   source.CreatedAt,
	})
}

// listSourcesHandler handles `GET /api/sources`.
func (d *Deps) listSourcesHandler(w http.ResponseWriter, r *http.Request) {
	sources, err := d.Sources.List(r.Context())
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, sources)
}

// getSourceHandler handles `GET /api/sources/:id`.
func (d *Deps) getSourceHandler(w http.ResponseWriter, r *http.Request) {
	sourceID := mux.Vars(r)["id"]
	source, err := d.Sources.Get(r.Context(), sourceID)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, source)
}

// rotateSourceKeyHandler handles `POST /api/sources/:id/rotate-key`.
func (d *Deps) rotateSourceKeyHandler(w http.ResponseWriter, r *http.Request) {
	sourceID := mux.Vars(r)["id"]
	plaintext, err := d.Sources.RotateKey(r.Context(), sourceID)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, map[string]any{"source_id": sourceID, "api_key": plaintext})
}

type sourceStatusRequest struct {
	Status string `json:"status"`
}

// setSourceStatusHandler handles `POST /api/sources/:id/status`.
func (d *Deps) setSourceStatusHandler(w http.ResponseWriter, r *http.Request) {
	sourceID := mux.Vars(r)["id"]

	var req sourceStatusRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	if err := d.Sources.SetStatus(r.Context(), sourceID, req.Status); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, map[string]any{"source_id": sourceID, "status": req.Status})
}
