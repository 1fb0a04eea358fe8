package rules

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fitcoachhq/fitcoach-ai-platform/pkg/logging"
)

// Handler serves the admin rules endpoints.
type Handler struct {
	store  Store
	logger *logging.Logger
}

// NewHandler creates a rules handler backed by the given store.
func NewHandler(store Store, logger *logging.Logger) *Handler {
	if store == nil {
		panic("rules: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, logger: logger}
}

// GetRules handles GET /admin/rules requests.
func (h *Handler) GetRules(w http.ResponseWriter, r *http.Request) {
	snap, err := h.store.Get(r.Context())
	if err != nil {
		h.logger.Error("failed to load rules", "error", err)
		http.Error(w, "failed to load rules", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

// UpdateRules handles PUT /admin/rules requests.
func (h *Handler) UpdateRules(w http.ResponseWriter, r *http.Request) {
	var req AdminRules
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode rules update", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	snap, err := h.store.Update(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidRules) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("failed to persist rules", "error", err)
		http.Error(w, "failed to persist rules", http.StatusInternalServerError)
		return
	}

	h.logger.Info("rules updated", "version", snap.Version, "bot_name", snap.Rules.BotName)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}
