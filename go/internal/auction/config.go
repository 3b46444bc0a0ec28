package auction

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) clockwork.Timer
}

// Config holds the reconciliation thresholds and display timings
type Config struct {
	// ClosingSoonThreshold is the corrected remaining time at or below which a
	// bid update flips an open lead to closing-soon.
	ClosingSoonThreshold time.Duration `yaml:"closing_soon_threshold"`

	// PrematureCloseThreshold is the remaining time above which a closure
	// signal for an open lead is treated as stale and dropped.
	PrematureCloseThreshold time.Duration `yaml:"premature_close_threshold"`

	// BannerDuration is how long the "auction ended" banner stays up.
	BannerDuration time.Duration `yaml:"banner_duration"`

	// EvictionGrace is how long a closed lead stays tracked before removal.
	EvictionGrace time.Duration `yaml:"eviction_grace"`

	// RebaseEvictionOnUpgrade restarts the eviction grace period when a SOLD
	// outcome upgrades an earlier UNSOLD closure.
	RebaseEvictionOnUpgrade bool `yaml:"rebase_eviction_on_upgrade"`

	// ChangeBuffer is the default channel size for Subscribe.
	ChangeBuffer int `yaml:"change_buffer"`
}

// DefaultConfig returns the marketplace defaults
func DefaultConfig() Config {
	return Config{
		ClosingSoonThreshold:    10 * time.Second,
		PrematureCloseThreshold: 5 * time.Second,
		BannerDuration:          5 * time.Second,
		EvictionGrace:           15 * time.Second,
		RebaseEvictionOnUpgrade: false,
		ChangeBuffer:            256,
	}
}

// withDefaults fills zero-valued durations from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ClosingSoonThreshold <= 0 {
		c.ClosingSoonThreshold = def.ClosingSoonThreshold
	}
	if c.PrematureCloseThreshold <= 0 {
		c.PrematureCloseThreshold = def.PrematureCloseThreshold
	}
	if c.BannerDuration <= 0 {
		c.BannerDuration = def.BannerDuration
	}
	if c.EvictionGrace <= 0 {
		c.EvictionGrace = def.EvictionGrace
	}
	if c.ChangeBuffer <= 0 {
		c.ChangeBuffer = def.ChangeBuffer
	}
	return c
}
