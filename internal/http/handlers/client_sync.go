package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/fitcoachhq/fitcoach-ai-platform/internal/clients"
	"github.com/fitcoachhq/fitcoach-ai-platform/internal/observability/metrics"
	"github.com/fitcoachhq/fitcoach-ai-platform/pkg/logging"
)

// ClientSyncHandler serves the dashboard sync endpoints. The dashboard keeps a
// local copy of every lead and periodically pushes its full state back, so the
// upload path is a merge, not a replace.
type ClientSyncHandler struct {
	repo   clients.Repository
	logger *logging.Logger
}

func NewClientSyncHandler(repo clients.Repository, logger *logging.Logger) *ClientSyncHandler {
	if repo == nil {
		panic("handlers: client repository cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ClientSyncHandler{repo: repo, logger: logger}
}

// ListClients handles GET /api/clients.
func (h *ClientSyncHandler) ListClients(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list clients", "error", err)
		http.Error(w, "failed to list clients", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []clients.Client{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"clients": list})
}

// SyncClients handles POST /api/clients.
func (h *ClientSyncHandler) SyncClients(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Clients []clients.Client `json:"clients"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.repo.SaveBatch(r.Context(), req.Clients); err != nil {
		h.logger.Error("failed to sync clients", "error", err, "count", len(req.Clients))
		http.Error(w, "failed to sync clients", http.StatusInternalServerError)
		return
	}
	metrics.RecordSyncBatch(len(req.Clients))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}
