package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pik-systems/identity-kernel/infrastructure/errors"
	"github.com/pik-systems/identity-kernel/infrastructure/httputil"
	"github.com/pik-systems/identity-kernel/internal/ingest"
)

type ingestRequest struct {
	RootID    string         `json:"root_id"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
}

// ingestHandler handles `POST /api/ingest`, authenticated by X-PIK-API-Key.
func (d *Deps) ingestHandler(w http.ResponseWriter, r *http.Request) {
	sourceID := httputil.GetSource(r)

	var req ingestRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.RootID == "" || req.EventType == "" {
		httputil.WriteServiceError(w, r, errors.BadRequest("root_id and event_type are required"))
		return
	}

	result, err := d.Ingest.Ingest(r.Context(), sourceID, ingest.Input{
		RootID:    req.RootID,
		EventType: req.EventType,
		Payload:   req.Payload,
	})
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}

	httputil.WriteOK(w, http.StatusOK, map[string]any{
		"event_id":        result.EventID,
		"event_type":      result.EventType,
		"changes_applied": result.ChangesApplied,
	})
}

// openCacheHandler handles `POST /api/users/:root_id/caches/:cache_id/open`,
// opening a sealed fate cache and rolling its loot table.
func (d *Deps) openCacheHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	rootID, cacheID := vars["root_id"], vars["cache_id"]

	result, err := d.Loot.OpenCache(r.Context(), rootID, cacheID)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteOK(w, http.StatusOK, map[string]any{
		"cache_id":     result.CacheID,
		"reward_type":  result.RewardType,
		"reward_value": result.RewardValue,
		"reward_name":  result.RewardName,
	})
}
