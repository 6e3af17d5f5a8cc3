package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pik-systems/identity-kernel/infrastructure/errors"
	"github.com/pik-systems/identity-kernel/infrastructure/httputil"
	"github.com/pik-systems/identity-kernel/internal/identity"
)

type enrollRequest struct {
	HeroName      string  `json:"hero_name"`
	FateAlignment string  `json:"fate_alignment"`
	Origin        *string `json:"origin,omitempty"`
	EnrolledBy    string  `json:"enrolled_by"`
	SourceID      *string `json:"source_id,omitempty"`
}

// enrollHandler handles `POST /api/users/enroll`.
func (d *Deps) enrollHandler(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.HeroName == "" || req.FateAlignment == "" || req.EnrolledBy == "" {
		httputil.WriteServiceError(w, r, errors.BadRequest("hero_name, fate_alignment and enrolled_by are required"))
		return
	}

	result, err := d.Identity.Enroll(r.Context(), identity.EnrollInput{
		HeroName:      req.HeroName,
		FateAlignment: req.FateAlignment,
		Origin:        req.Origin,
		EnrolledBy:    req.EnrolledBy,
		SourceID:      req.SourceID,
	})
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	httputil.WriteOK(w, http.StatusCreated, map[string]any{
		"root_id":        result.RootID,
		"persona_id":     result.PersonaID,
		"hero_name":      result.HeroName,
		"fate_alignment": result.FateAlignment,
		"link_id":        result.LinkID,
		"enrolled_at":    result.EnrolledAt,
	})
}

// listUsersHandler handles `GET /api/users`.
func (d *Deps) listUsersHandler(w http.ResponseWriter, r *http.Request) {
	summaries, err := d.Identity.List(r.Context())
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, summaries)
}

// getUserHandler handles `GET /api/users/:root_id`.
func (d *Deps) getUserHandler(w http.ResponseWriter, r *http.Request) {
	rootID := mux.Vars(r)["root_id"]
	detail, err := d.Identity.Get(r.Context(), rootID)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, detail)
}

// timelineHandler handles `GET /api/users/:root_id/timeline`.
func (d *Deps) timelineHandler(w http.ResponseWriter, r *http.Request) {
	rootID := mux.Vars(r)["root_id"]
	limit := httputil.QueryInt(r, "limit", 200)

	events, err := d.Identity.Timeline(r.Context(), rootID, limit)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	out := make([]map[string]any, 0, len(events))
	for _, e := range events {
		sourceName := ""
		if e.SourceID != nil {
			if source, err := d.Sources.Get(r.Context(), *e.SourceID); err == nil {
				sourceName = source.DisplayName
			}
		}
		out = append(out, map[string]any{
			"event_id":        e.EventID,
			"event_type":      e.EventType,
			"source_id":       e.SourceID,
			"source_name":     sourceName,
			"payload":         json.RawMessage(e.Payload),
			"changes_applied": json.RawMessage(e.ChangesApplied),
			"created_at":      e.CreatedAt,
		})
	}
	httputil.WriteOK(w, http.StatusOK, out)
}

type profileUpdateRequest struct {
	HeroName      *string `json:"hero_name,omitempty"`
	FateAlignment *string `json:"fate_alignment,omitempty"`
	Origin        *string `json:"origin,omitempty"`
}

// updateProfileHandler handles `PUT /api/users/:root_id/profile`. Session
// auth guarantees a root id, which must match the path root.
func (d *Deps) updateProfileHandler(w http.ResponseWriter, r *http.Request) {
	pathRoot := mux.Vars(r)["root_id"]
	sessionRoot, ok := httputil.RequireRootID(w, r)
	if !ok {
		return
	}
	if sessionRoot != pathRoot {
		httputil.WriteServiceError(w, r, errors.Forbidden("session does not own this root identity"))
		return
	}

	var req profileUpdateRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	root, err := d.Identity.UpdateProfile(r.Context(), pathRoot, identity.ProfileInput{
		HeroName:      req.HeroName,
		FateAlignment: req.FateAlignment,
		Origin:        req.Origin,
	})
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, root)
}

type equippedTitleRequest struct {
	TitleID *string `json:"title_id"`
}

// setEquippedTitleHandler handles `PUT /api/users/:root_id/equipped-title`.
func (d *Deps) setEquippedTitleHandler(w http.ResponseWriter, r *http.Request) {
	rootID := mux.Vars(r)["root_id"]

	var req equippedTitleRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	if err := d.Identity.SetEquippedTitle(r.Context(), rootID, req.TitleID); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, map[string]any{"root_id": rootID, "equipped_title": req.TitleID})
}
