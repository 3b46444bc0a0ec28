package gateway

import (
	"net"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const rateLimitedHosts = 4096

// ConnectionRateLimiter caps how often one remote host may open viewer
// connections. Limiters live in an LRU so idle hosts are forgotten.
type ConnectionRateLimiter struct {
	handler       http.Handler
	connPerMinute int
	limiters      *lru.Cache[string, *rate.Limiter]
}

// NewConnectionRateLimiter wraps handler. A connPerMinute of zero disables
// limiting.
func NewConnectionRateLimiter(handler http.Handler, connPerMinute int) (*ConnectionRateLimiter, error) {
	limiters, err := lru.New[string, *rate.Limiter](rateLimitedHosts)
	if err != nil {
		return nil, err
	}
	return &ConnectionRateLimiter{
		handler:       handler,
		connPerMinute: connPerMinute,
		limiters:      limiters,
	}, nil
}

func (h *ConnectionRateLimiter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.connPerMinute <= 0 {
		h.handler.ServeHTTP(w, r)
		return
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if !h.limiterFor(host).Allow() {
		log.Warn().Str("host", host).Msg("viewer connection rate limited")
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}
	h.handler.ServeHTTP(w, r)
}

func (h *ConnectionRateLimiter) limiterFor(host string) *rate.Limiter {
	if limiter, ok := h.limiters.Get(host); ok {
		return limiter
	}
	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(h.connPerMinute)), h.connPerMinute)
	// Another request may have raced us here; keep whichever landed first.
	if prev, ok, _ := h.limiters.PeekOrAdd(host, limiter); ok {
		return prev
	}
	return limiter
}
