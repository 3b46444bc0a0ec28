package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

type HealthStatus struct {
	Healthy           bool      `json:"healthy"`
	TrackedLeads      int       `json:"tracked_leads"`
	Viewers           int       `json:"viewers"`
	EventsProcessed   uint64    `json:"events_processed"`
	LastEventTime     time.Time `json:"last_event_time"`
	DatabaseConnected *bool     `json:"database_connected,omitempty"`
	NATSConnected     *bool     `json:"nats_connected,omitempty"`
	SocketConnected   *bool     `json:"socket_connected,omitempty"`
	Errors            []string  `json:"errors"`
}

// Pinger is satisfied by *pgxpool.Pool
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker reports whether the gateway can serve fresh state. Only
// enabled components are checked.
type HealthChecker struct {
	service *Service
	db      Pinger
}

// NewHealthChecker creates a checker. db may be nil.
func NewHealthChecker(service *Service, db Pinger) *HealthChecker {
	return &HealthChecker{service: service, db: db}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy:      true,
		TrackedLeads: h.service.sync.Len(),
		Viewers:      h.service.connectionManager.Count(),
		Errors:       []string{},
	}
	status.EventsProcessed, status.LastEventTime = h.service.dispatcher.Stats()

	if h.db != nil {
		connected := true
		if err := h.db.Ping(ctx); err != nil {
			connected = false
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("database ping failed: %v", err))
		}
		status.DatabaseConnected = &connected
	}

	if h.service.eventConsumer != nil {
		connected := h.service.eventConsumer.Connected()
		if !connected {
			status.Healthy = false
			status.Errors = append(status.Errors, "NATS disconnected")
		}
		status.NATSConnected = &connected
	}

	if h.service.socketClient != nil {
		connected := h.service.socketClient.Connected()
		if !connected {
			status.Healthy = false
			status.Errors = append(status.Errors, "marketplace socket disconnected")
		}
		status.SocketConnected = &connected
	}

	return status
}

// ServeHTTP answers readiness probes; unhealthy is a 503.
func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Error().Err(err).Msg("failed to encode health status")
	}
}
