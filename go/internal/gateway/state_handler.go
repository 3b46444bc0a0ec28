package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/leadengine/syncgateway/go/internal/auction"
	"github.com/leadengine/syncgateway/go/internal/journal"
)

// ClosureLog reads recorded closure decisions
type ClosureLog interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// ClosuresResponse is the body of GET /api/closures
type ClosuresResponse struct {
	Closures []journal.Entry `json:"closures"`
}

// StateHandler serves the synchronized lead state over plain HTTP
type StateHandler struct {
	sync     *auction.Synchronizer
	closures ClosureLog
}

// NewStateHandler creates a state handler. closures may be nil when no
// journal is configured.
func NewStateHandler(synchronizer *auction.Synchronizer, closures ClosureLog) *StateHandler {
	return &StateHandler{
		sync:     synchronizer,
		closures: closures,
	}
}

// HandleListLeads handles GET /api/leads[?vertical=]
func (h *StateHandler) HandleListLeads(w http.ResponseWriter, r *http.Request) {
	vertical := r.URL.Query().Get("vertical")
	writeJSON(w, http.StatusOK, buildLeadsResponse(h.sync, vertical, h.sync.Now()))
}

// HandleGetLead handles GET /api/leads/{id}
func (h *StateHandler) HandleGetLead(w http.ResponseWriter, r *http.Request) {
	leadID := r.PathValue("id")
	if leadID == "" {
		http.Error(w, "lead id is required", http.StatusBadRequest)
		return
	}

	st, ok := h.sync.Lead(leadID)
	if !ok {
		http.Error(w, "lead not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, NewLeadView(st, h.sync.Now()))
}

// HandleListClosures handles GET /api/closures[?limit=]
func (h *StateHandler) HandleListClosures(w http.ResponseWriter, r *http.Request) {
	if h.closures == nil {
		http.Error(w, "closure journal is not configured", http.StatusServiceUnavailable)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := h.closures.Recent(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to read closure journal")
		http.Error(w, "failed to read closures", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, ClosuresResponse{Closures: entries})
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/leads", h.HandleListLeads)
	mux.HandleFunc("GET /api/leads/{id}", h.HandleGetLead)
	mux.HandleFunc("GET /api/closures", h.HandleListClosures)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
