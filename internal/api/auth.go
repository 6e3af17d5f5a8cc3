package api

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pik-systems/identity-kernel/infrastructure/errors"
	"github.com/pik-systems/identity-kernel/infrastructure/httputil"
	"github.com/pik-systems/identity-kernel/internal/webauthnengine"
)

type registerOptionsRequest struct {
	HeroName      string  `json:"hero_name"`
	FateAlignment string  `json:"fate_alignment"`
	Origin        *string `json:"origin,omitempty"`
	EnrolledBy    string  `json:"enrolled_by"`
	SourceID      *string `json:"source_id,omitempty"`
}

// registerOptionsHandler handles `POST /api/auth/register/options`.
func (d *Deps) registerOptionsHandler(w http.ResponseWriter, r *http.Request) {
	var req registerOptionsRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.HeroName == "" || req.FateAlignment == "" || req.EnrolledBy == "" {
		httputil.WriteServiceError(w, r, errors.BadRequest("hero_name, fate_alignment and enrolled_by are required"))
		return
	}

	result, err := d.WebAuthn.BeginRegistration(r.Context(), webauthnengine.RegistrationOptionsInput{
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
	httputil.WriteOK(w, http.StatusOK, map[string]any{
		"options":      result.Options,
		"challenge_id": result.ChallengeID,
	})
}

// registerVerifyHandler handles `POST /api/auth/register/verify`.
func (d *Deps) registerVerifyHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteServiceError(w, r, errors.BadRequest("failed to read request body"))
		return
	}

	result, err := d.WebAuthn.FinishRegistration(r.Context(), r, body)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, map[string]any{
		"root_id":            result.RootID,
		"key_id":             result.KeyID,
		"hero_name":          result.HeroName,
		"session_token":      result.SessionToken,
		"session_expires_at": result.SessionExpiresAt,
		"link_id":            result.LinkID,
	})
}

type authenticateOptionsRequest struct {
	RootID *string `json:"root_id,omitempty"`
}

// authenticateOptionsHandler handles `POST /api/auth/authenticate/options`.
func (d *Deps) authenticateOptionsHandler(w http.ResponseWriter, r *http.Request) {
	var req authenticateOptionsRequest
	if !httputil.DecodeJSONOptional(w, r, &req) {
		return
	}

	result, err := d.WebAuthn.BeginAuthentication(r.Context(), webauthnengine.AuthenticationOptionsInput{RootID: req.RootID})
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, map[string]any{
		"options":      result.Options,
		"challenge_id": result.ChallengeID,
	})
}

// authenticateVerifyHandler handles `POST /api/auth/authenticate/verify`.
func (d *Deps) authenticateVerifyHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteServiceError(w, r, errors.BadRequest("failed to read request body"))
		return
	}

	result, err := d.WebAuthn.FinishAuthentication(r.Context(), body)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, map[string]any{
		"root_id":            result.RootID,
		"session_token":      result.SessionToken,
		"session_expires_at": result.SessionExpiresAt,
	})
}

// listKeysHandler handles `GET /api/auth/keys` for the authenticated session.
func (d *Deps) listKeysHandler(w http.ResponseWriter, r *http.Request) {
	rootID, ok := httputil.RequireRootID(w, r)
	if !ok {
		return
	}
	keys, err := d.Keys.List(r.Context(), rootID)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, keys)
}

// rotateKeyHandler handles `POST /api/auth/keys/rotate`: phase 1 of adding a
// new key to the authenticated session's root.
func (d *Deps) rotateKeyHandler(w http.ResponseWriter, r *http.Request) {
	rootID, ok := httputil.RequireRootID(w, r)
	if !ok {
		return
	}
	result, err := d.Keys.Rotate(r.Context(), rootID)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, map[string]any{
		"options":      result.Options,
		"challenge_id": result.ChallengeID,
	})
}

// rotateKeyVerifyHandler handles `POST /api/auth/keys/rotate/verify`: phase 2
// shares FinishRegistration with first-time enrollment (the challenge's
// metadata carries purpose=rotation).
func (d *Deps) rotateKeyVerifyHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := httputil.RequireRootID(w, r); !ok {
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteServiceError(w, r, errors.BadRequest("failed to read request body"))
		return
	}

	result, err := d.WebAuthn.FinishRegistration(r.Context(), r, body)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, map[string]any{
		"root_id": result.RootID,
		"key_id":  result.KeyID,
	})
}

// revokeKeyHandler handles `POST /api/auth/keys/:key_id/revoke`.
func (d *Deps) revokeKeyHandler(w http.ResponseWriter, r *http.Request) {
	rootID, ok := httputil.RequireRootID(w, r)
	if !ok {
		return
	}
	keyID := mux.Vars(r)["key_id"]

	if err := d.Keys.Revoke(r.Context(), rootID, keyID); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, map[string]any{"key_id": keyID, "status": "revoked"})
}

// impersonateHandler handles `POST /api/auth/impersonate/:root_id`, an
// operator-only backdoor for demos and support tooling. It is wired off a
// policy rate limiter (PolicyDemo) and an explicit opt-in flag, never
// enabled by default in production.
func (d *Deps) impersonateHandler(w http.ResponseWriter, r *http.Request) {
	if !d.ImpersonationEnabled {
		httputil.WriteServiceError(w, r, errors.Forbidden("impersonation is disabled"))
		return
	}
	rootID := mux.Vars(r)["root_id"]

	if _, err := d.DB.GetRootIdentity(r.Context(), rootID); err != nil {
		httputil.WriteServiceError(w, r, mapRootLookupErr(err, rootID))
		return
	}

	issued, err := d.Sessions.Issue(r.Context(), rootID)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, map[string]any{
		"root_id":            rootID,
		"session_token":      issued.Token,
		"session_expires_at": issued.ExpiresAt,
	})
}
