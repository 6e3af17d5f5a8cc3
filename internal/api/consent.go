package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pik-systems/identity-kernel/infrastructure/errors"
	"github.com/pik-systems/identity-kernel/infrastructure/httputil"
	"github.com/pik-systems/identity-kernel/internal/consent"
)

type grantLinkRequest struct {
	SourceID  string `json:"source_id"`
	GrantedBy string `json:"granted_by"`
	Scope     string `json:"scope,omitempty"`
}

// grantLinkHandler handles `POST /api/users/:root_id/links`.
func (d *Deps) grantLinkHandler(w http.ResponseWriter, r *http.Request) {
	rootID := mux.Vars(r)["root_id"]

	var req grantLinkRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.SourceID == "" || req.GrantedBy == "" {
		httputil.WriteServiceError(w, r, errors.BadRequest("source_id and granted_by are required"))
		return
	}

	link, err := d.Consent.Grant(r.Context(), consent.GrantInput{
		RootID:    rootID,
		SourceID:  req.SourceID,
		GrantedBy: req.GrantedBy,
		Scope:     req.Scope,
	})
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteOK(w, http.StatusCreated, link)
}

// listLinksHandler handles `GET /api/users/:root_id/links`.
func (d *Deps) listLinksHandler(w http.ResponseWriter, r *http.Request) {
	rootID := mux.Vars(r)["root_id"]
	links, err := d.Consent.List(r.Context(), rootID)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, links)
}

type revokeLinkRequest struct {
	RevokedBy *string `json:"revoked_by,omitempty"`
}

// revokeLinkHandler handles `DELETE /api/users/:root_id/links/:link_id`.
func (d *Deps) revokeLinkHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	rootID, linkID := vars["root_id"], vars["link_id"]

	var req revokeLinkRequest
	if !httputil.DecodeJSONOptional(w, r, &req) {
		return
	}

	if err := d.Consent.Revoke(r.Context(), consent.RevokeInput{
		RootID:    rootID,
		LinkID:    linkID,
		RevokedBy: req.RevokedBy,
	}); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, map[string]any{"link_id": linkID, "status": "revoked"})
}
