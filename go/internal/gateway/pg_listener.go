package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type ListenerConfig struct {
	DatabaseURL      string        `yaml:"-"`                 // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel    string        `yaml:"notify_channel"`    // Channel name to LISTEN on
	FallbackInterval time.Duration `yaml:"fallback_interval"` // How often to refresh for missed notifications
	PingInterval     time.Duration `yaml:"ping_interval"`
	MinReconnect     time.Duration `yaml:"min_reconnect"`
	MaxReconnect     time.Duration `yaml:"max_reconnect"`
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel:    "lead_auction_events",
		FallbackInterval: 30 * time.Second,
		PingInterval:     90 * time.Second,
		MinReconnect:     10 * time.Second,
		MaxReconnect:     time.Minute,
	}
}

// PgListener receives auction event envelopes published by the marketplace
// database with pg_notify and dispatches them.
type PgListener struct {
	listener  *pq.Listener
	handler   EventHandler
	refresher Refresher
	cfg       ListenerConfig

	stopOnce sync.Once
	stopErr  error
}

func NewPgListener(handler EventHandler, refresher Refresher, cfg ListenerConfig) (*PgListener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		cfg.MinReconnect,
		cfg.MaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
			if ev == pq.ListenerEventReconnected {
				log.Info().Str("channel", cfg.NotifyChannel).Msg("listener reconnected")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for notifications")

	return &PgListener{
		listener:  l,
		handler:   handler,
		refresher: refresher,
		cfg:       cfg,
	}, nil
}

func (l *PgListener) Start(ctx context.Context) error {
	log.Info().
		Str("channel", l.cfg.NotifyChannel).
		Dur("ping_interval", l.cfg.PingInterval).
		Dur("fallback_interval", l.cfg.FallbackInterval).
		Msg("listener started")

	pingTicker := time.NewTicker(l.cfg.PingInterval)
	fallbackTicker := time.NewTicker(l.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("listener shutting down")
			return l.Stop()
		case note := <-l.listener.Notify:
			if note == nil {
				// nil notification means the connection was re-established and
				// notifications may have been lost
				l.refresh(ctx, "listener reconnect")
				continue
			}
			if err := l.handler.HandleRaw(ctx, []byte(note.Extra)); err != nil {
				log.Error().Err(err).Str("channel", note.Channel).Msg("failed to handle notification")
			}
		case <-fallbackTicker.C:
			l.refresh(ctx, "fallback interval")
		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (l *PgListener) refresh(ctx context.Context, reason string) {
	if l.refresher == nil {
		return
	}
	if err := l.refresher.Refresh(ctx); err != nil {
		log.Error().Err(err).Str("reason", reason).Msg("failed to refresh snapshot")
	}
}

// Stop closes the listener connection; later calls return the first result.
func (l *PgListener) Stop() error {
	l.stopOnce.Do(func() {
		l.stopErr = l.listener.Close()
	})
	return l.stopErr
}
