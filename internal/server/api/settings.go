package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/ayusman/pianovision/internal/store"
)

// HandRemoval is the live hand-removal switch of a running pipeline.
type HandRemoval interface {
	RemoveHands() bool
	SetRemoveHands(enabled bool)
}

// SettingsHandler exposes runtime settings. Changes apply to the running
// pipeline and, when a store is configured, persist across runs.
type SettingsHandler struct {
	store  *store.Store
	toggle HandRemoval
}

// NewSettingsHandler creates a new SettingsHandler. s may be nil.
func NewSettingsHandler(s *store.Store, toggle HandRemoval) *SettingsHandler {
	return &SettingsHandler{store: s, toggle: toggle}
}

type removeHandsRequest struct {
	Enabled *bool `json:"enabled"`
}

type removeHandsResponse struct {
	Enabled bool `json:"enabled"`
}

// ServeHTTP handles GET and PUT /api/settings/remove_hands.
func (h *SettingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/settings/"+store.SettingRemoveHands {
		writeError(w, http.StatusNotFound, "Unknown setting")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, removeHandsResponse{Enabled: h.toggle.RemoveHands()})
	case http.MethodPut:
		h.update(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SettingsHandler) update(w http.ResponseWriter, r *http.Request) {
	var req removeHandsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}

	h.toggle.SetRemoveHands(*req.Enabled)
	if h.store != nil {
		if err := h.store.Settings().SetBool(store.SettingRemoveHands, *req.Enabled); err != nil {
			log.Printf("Failed to persist %s: %v", store.SettingRemoveHands, err)
		}
	}

	writeJSON(w, http.StatusOK, removeHandsResponse{Enabled: *req.Enabled})
}
