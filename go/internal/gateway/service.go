package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"

	"github.com/leadengine/syncgateway/go/internal/auction"
	"github.com/leadengine/syncgateway/go/internal/journal"
)

// ClosureJournal records closure decisions and reads them back
type ClosureJournal interface {
	ClosureLog
	Record(ctx context.Context, e journal.Entry) error
}

// Service is the lead sync gateway: it keeps the synchronizer fed from the
// marketplace and fans its changes out to viewers.
type Service struct {
	sync              *auction.Synchronizer
	dispatcher        *Dispatcher
	refresher         *SnapshotRefresher
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
	rpc               *LeadSyncService
	journal           ClosureJournal
	metrics           *PrometheusMetrics

	socketClient  *SocketClient
	eventConsumer *EventConsumer
	pgListener    *PgListener
}

// Config holds configuration for the gateway service. A nil transport
// config disables that transport.
type Config struct {
	Auction         auction.Config
	Connection      ConnectionConfig
	RefreshInterval time.Duration

	Socket    *SocketConfig
	JetStream *JetStreamConsumerConfig
	Listener  *ListenerConfig
}

// DefaultConfig returns default configuration with every transport disabled
func DefaultConfig() Config {
	return Config{
		Auction:         auction.DefaultConfig(),
		Connection:      DefaultConnectionConfig(),
		RefreshInterval: 30 * time.Second,
	}
}

// NewService creates a new gateway service. closures may be nil.
func NewService(config Config, source SnapshotSource, closures ClosureJournal, opts ...auction.Option) (*Service, error) {
	synchronizer := auction.NewSynchronizer(config.Auction, opts...)
	refresher := NewSnapshotRefresher(source, synchronizer, config.RefreshInterval)
	dispatcher := NewDispatcher(synchronizer, refresher)
	if fetcher, ok := source.(LeadFetcher); ok {
		dispatcher.SetLeadFetcher(fetcher)
	}
	connectionManager := NewConnectionManager(config.Connection)

	metrics := NewPrometheusMetrics()
	metrics.RegisterStateGauges(synchronizer, connectionManager)
	dispatcher.SetMetrics(metrics)

	s := &Service{
		sync:              synchronizer,
		dispatcher:        dispatcher,
		refresher:         refresher,
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager, synchronizer),
		stateHandler:      NewStateHandler(synchronizer, closures),
		rpc:               NewLeadSyncService(synchronizer),
		journal:           closures,
		metrics:           metrics,
	}

	if config.Socket != nil {
		s.socketClient = NewSocketClient(*config.Socket, dispatcher, refresher)
	}

	if config.JetStream != nil {
		eventConsumer, err := NewEventConsumer(dispatcher, *config.JetStream)
		if err != nil {
			return nil, fmt.Errorf("failed to create event consumer: %w", err)
		}
		s.eventConsumer = eventConsumer
	}

	if config.Listener != nil {
		pgListener, err := NewPgListener(dispatcher, refresher, *config.Listener)
		if err != nil {
			if s.eventConsumer != nil {
				_ = s.eventConsumer.Stop()
			}
			return nil, fmt.Errorf("failed to create pg listener: %w", err)
		}
		s.pgListener = pgListener
	}

	return s, nil
}

// Synchronizer exposes the underlying synchronizer
func (s *Service) Synchronizer() *auction.Synchronizer {
	return s.sync
}

// Start runs the gateway until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting lead sync gateway")

	// Subscribe before the first refresh so no registration is missed.
	changes, unsubscribe := s.sync.Subscribe(0)
	defer unsubscribe()

	go s.connectionManager.Start(ctx)

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		s.pumpChanges(ctx, changes)
	}()

	// The journal reads its own subscription so a slow database never holds
	// up viewer fan-out.
	journalDone := make(chan struct{})
	if s.journal != nil {
		closures, unsubscribeJournal := s.sync.Subscribe(0)
		defer unsubscribeJournal()
		go func() {
			defer close(journalDone)
			s.pumpJournal(ctx, closures)
		}()
	} else {
		close(journalDone)
	}

	if err := s.refresher.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("initial snapshot refresh failed, continuing on events")
	}
	go s.refresher.Run(ctx)

	if s.socketClient != nil {
		go func() {
			if err := s.socketClient.Start(ctx); err != nil {
				log.Error().Err(err).Msg("socket client failed")
			}
		}()
	}

	if s.eventConsumer != nil {
		go func() {
			if err := s.eventConsumer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("event consumer failed")
			}
		}()
	}

	if s.pgListener != nil {
		go func() {
			// The listener closes itself when ctx ends
			if err := s.pgListener.Start(ctx); err != nil {
				log.Error().Err(err).Msg("pg listener failed")
			}
		}()
	}

	<-ctx.Done()
	<-pumpDone
	<-journalDone

	log.Info().Msg("lead sync gateway shutting down")
	return s.Stop()
}

// Stop gracefully shuts down the gateway service. It is safe to call more
// than once.
func (s *Service) Stop() error {
	var result *multierror.Error
	if s.eventConsumer != nil {
		if err := s.eventConsumer.Stop(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if s.pgListener != nil {
		if err := s.pgListener.Stop(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close pg listener: %w", err))
		}
	}
	s.sync.Close()

	if err := result.ErrorOrNil(); err != nil {
		log.Error().Err(err).Msg("lead sync gateway stopped with errors")
		return err
	}
	log.Info().Msg("lead sync gateway stopped")
	return nil
}

// pumpChanges forwards synchronizer changes to viewers until ctx ends or the
// synchronizer is closed.
func (s *Service) pumpChanges(ctx context.Context, changes <-chan auction.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			s.handleChange(c)
		}
	}
}

func (s *Service) handleChange(c auction.Change) {
	s.connectionManager.Broadcast(c.Vertical, NewChangeMessage(c))
	s.metrics.RecordChange(c.Kind)
}

// pumpJournal records closure decisions and evictions.
func (s *Service) pumpJournal(ctx context.Context, changes <-chan auction.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			if journal.Journaled(c.Kind) {
				s.recordChange(ctx, c)
			}
		}
	}
}

func (s *Service) recordChange(ctx context.Context, c auction.Change) {
	entry := journal.Entry{
		LeadID:     c.LeadID,
		Vertical:   c.Vertical,
		Kind:       c.Kind,
		Outcome:    c.Outcome,
		OccurredAt: c.At,
	}
	if err := s.journal.Record(ctx, entry); err != nil {
		log.Error().
			Err(err).
			Str("lead_id", c.LeadID).
			Str("kind", string(c.Kind)).
			Msg("failed to journal closure")
	}
}

// NewChangeMessage builds the viewer frame for a change
func NewChangeMessage(c auction.Change) ChangeMessage {
	msg := ChangeMessage{
		Type:    c.Kind,
		LeadID:  c.LeadID,
		Outcome: c.Outcome,
		At:      c.At,
	}
	if c.State != nil {
		view := NewLeadView(*c.State, c.At)
		msg.Lead = &view
	}
	return msg
}

// RegisterRoutes registers the WebSocket, HTTP and RPC routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)

	rpcPath, rpcHandler := NewLeadSyncServiceHandler(s.rpc)
	mux.Handle(rpcPath, rpcHandler)
	mux.Handle("/metrics", s.metrics.Handler())

	log.Info().Msg("lead sync gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() map[string]interface{} {
	stats := s.connectionManager.GetConnectionStats()
	stats["service"] = "lead_sync_gateway"
	stats["tracked_leads"] = s.sync.Len()
	stats["banners"] = len(s.sync.Banners())
	stats["socket_enabled"] = s.socketClient != nil
	stats["jetstream_enabled"] = s.eventConsumer != nil
	stats["listener_enabled"] = s.pgListener != nil
	return stats
}
