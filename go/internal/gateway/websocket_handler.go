package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/leadengine/syncgateway/go/internal/auction"
)

// WebSocketHandler handles WebSocket upgrade requests for lead viewers
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	sync              *auction.Synchronizer
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, synchronizer *auction.Synchronizer) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		sync:              synchronizer,
	}
}

// HandleLeadsConnection upgrades a viewer connection. The optional vertical
// query parameter narrows both the initial snapshot and the change stream.
func (h *WebSocketHandler) HandleLeadsConnection(w http.ResponseWriter, r *http.Request) {
	vertical := r.URL.Query().Get("vertical")

	initial := buildLeadsResponse(h.sync, vertical, h.sync.Now())
	if err := h.connectionManager.UpgradeConnection(w, r, vertical, initial); err != nil {
		log.Error().
			Err(err).
			Str("vertical", vertical).
			Msg("failed to upgrade WebSocket connection")
		// Upgrade has already written an error response
		return
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	stats := h.connectionManager.GetConnectionStats()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux. Viewer
// upgrades are rate limited per remote host.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	var leads http.Handler = http.HandlerFunc(h.HandleLeadsConnection)
	limited, err := NewConnectionRateLimiter(leads, h.connectionManager.config.ConnPerMinute)
	if err != nil {
		log.Error().Err(err).Msg("failed to create connection rate limiter, serving viewers unlimited")
	} else {
		leads = limited
	}
	mux.Handle("/ws/leads", leads)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
