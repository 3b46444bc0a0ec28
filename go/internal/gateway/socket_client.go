package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// EventHandler consumes raw event envelopes
type EventHandler interface {
	HandleRaw(ctx context.Context, raw []byte) error
}

// SocketConfig holds configuration for the marketplace socket client
type SocketConfig struct {
	URL              string        `yaml:"url"`
	Token            string        `yaml:"token"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	ReconnectWait    time.Duration `yaml:"reconnect_wait"`
	MaxReconnectWait time.Duration `yaml:"max_reconnect_wait"`
	MaxMessageSize   int64         `yaml:"max_message_size"`
}

// DefaultSocketConfig returns default socket client configuration
func DefaultSocketConfig() SocketConfig {
	return SocketConfig{
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     25 * time.Second,
		ReconnectWait:    1 * time.Second,
		MaxReconnectWait: 30 * time.Second,
		MaxMessageSize:   64 * 1024,
	}
}

// SocketClient reads auction events from the marketplace websocket and
// reconnects until its context ends.
type SocketClient struct {
	config    SocketConfig
	handler   EventHandler
	refresher Refresher
	dialer    *websocket.Dialer
	connected atomic.Bool
}

// NewSocketClient creates a socket client. After every successful reconnect
// the refresher, if set, is asked for a fresh snapshot to cover events missed
// while disconnected.
func NewSocketClient(config SocketConfig, handler EventHandler, refresher Refresher) *SocketClient {
	return &SocketClient{
		config:    config,
		handler:   handler,
		refresher: refresher,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
		},
	}
}

// Start runs the connect/read loop until ctx is cancelled.
func (c *SocketClient) Start(ctx context.Context) error {
	endpoint, err := c.endpoint()
	if err != nil {
		return err
	}

	attempt := 0
	for {
		connected, err := c.runOnce(ctx, endpoint, attempt > 0)
		if ctx.Err() != nil {
			log.Info().Msg("socket client shutting down")
			return nil
		}
		if connected {
			attempt = 0
		}
		attempt++

		wait := c.backoff(attempt)
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("marketplace socket disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// Connected reports whether a marketplace socket is currently open
func (c *SocketClient) Connected() bool {
	return c.connected.Load()
}

// backoff grows linearly and caps at MaxReconnectWait.
func (c *SocketClient) backoff(attempt int) time.Duration {
	wait := c.config.ReconnectWait * time.Duration(attempt)
	if c.config.MaxReconnectWait > 0 && wait > c.config.MaxReconnectWait {
		return c.config.MaxReconnectWait
	}
	return wait
}

func (c *SocketClient) endpoint() (string, error) {
	u, err := url.Parse(c.config.URL)
	if err != nil {
		return "", fmt.Errorf("parse socket url: %w", err)
	}
	if c.config.Token != "" {
		q := u.Query()
		q.Set("token", c.config.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// runOnce dials, reads until the connection fails, and reports whether the
// dial itself succeeded.
func (c *SocketClient) runOnce(ctx context.Context, endpoint string, reconnect bool) (bool, error) {
	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("dial marketplace socket: %w", err)
	}
	defer conn.Close()
	c.connected.Store(true)
	defer c.connected.Store(false)

	log.Info().Str("url", c.config.URL).Bool("reconnect", reconnect).Msg("marketplace socket connected")

	if reconnect && c.refresher != nil {
		go func() {
			if err := c.refresher.Refresh(ctx); err != nil {
				log.Error().Err(err).Msg("refresh after reconnect failed")
			}
		}()
	}

	if c.config.MaxMessageSize > 0 {
		conn.SetReadLimit(c.config.MaxMessageSize)
	}
	c.extendDeadline(conn)
	conn.SetPongHandler(func(string) error {
		c.extendDeadline(conn)
		return nil
	})

	// Closing the connection unblocks ReadMessage on shutdown.
	stopPing := make(chan struct{})
	defer close(stopPing)
	go c.pingLoop(ctx, conn, stopPing)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Msg("unexpected marketplace socket close")
			}
			return true, err
		}
		c.extendDeadline(conn)

		if err := c.handler.HandleRaw(ctx, message); err != nil {
			log.Error().
				Err(err).
				Bytes("message", message).
				Msg("failed to handle socket event")
		}
	}
}

func (c *SocketClient) pingLoop(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	var tick <-chan time.Time
	if c.config.PingInterval > 0 {
		ticker := time.NewTicker(c.config.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
				time.Now().Add(time.Second))
			conn.Close()
			return
		case <-tick:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				log.Error().Err(err).Msg("failed to send ping")
				return
			}
		}
	}
}

func (c *SocketClient) extendDeadline(conn *websocket.Conn) {
	if c.config.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	}
}
