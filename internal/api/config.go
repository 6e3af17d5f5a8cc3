package api

import (
	"net/http"

	"github.com/pik-systems/identity-kernel/infrastructure/errors"
	"github.com/pik-systems/identity-kernel/infrastructure/httputil"
)

// getConfigHandler handles `GET /api/config`.
func (d *Deps) getConfigHandler(w http.ResponseWriter, r *http.Request) {
	values, err := d.Config.GetAll(r.Context())
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	out := make(map[string]any, len(values))
	for key, v := range values {
		if v.IsNumber {
			out[key] = v.Number
		} else {
			out[key] = v.Raw
		}
	}
	httputil.WriteOK(w, http.StatusOK, out)
}

type updateConfigRequest struct {
	ConfigKey   string `json:"config_key"`
	ConfigValue string `json:"config_value"`
}

// updateConfigHandler handles `POST /api/config`.
func (d *Deps) updateConfigHandler(w http.ResponseWriter, r *http.Request) {
	var req updateConfigRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.ConfigKey == "" {
		httputil.WriteServiceError(w, r, errors.BadRequest("config_key is required"))
		return
	}

	if err := d.Config.Update(r.Context(), req.ConfigKey, req.ConfigValue); err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	value, err := d.Config.Get(r.Context(), req.ConfigKey)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	resp := map[string]any{"config_key": req.ConfigKey}
	if value.IsNumber {
		resp["config_value"] = value.Number
	} else {
		resp["config_value"] = value.Raw
	}
	httputil.WriteOK(w, http.StatusOK, resp)
}
