package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/leadengine/syncgateway/go/internal/auction"
)

// SnapshotSource returns the marketplace's current live leads
type SnapshotSource interface {
	ListLiveLeads(ctx context.Context) ([]auction.Descriptor, error)
}

// SnapshotRefresher merges REST snapshots into the synchronizer
type SnapshotRefresher struct {
	source   SnapshotSource
	sync     *auction.Synchronizer
	interval time.Duration

	// serializes overlapping refresh-all storms into one fetch at a time
	mu sync.Mutex
}

// NewSnapshotRefresher creates a refresher. An interval of zero disables
// periodic refreshes in Run.
func NewSnapshotRefresher(source SnapshotSource, synchronizer *auction.Synchronizer, interval time.Duration) *SnapshotRefresher {
	return &SnapshotRefresher{source: source, sync: synchronizer, interval: interval}
}

// Refresh fetches one snapshot and merges it. A failed fetch leaves the
// synchronizer untouched.
func (r *SnapshotRefresher) Refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	started := time.Now()
	leads, err := r.source.ListLiveLeads(ctx)
	if err != nil {
		return fmt.Errorf("fetch live leads: %w", err)
	}
	applied := r.sync.BulkMerge(leads)

	log.Info().
		Int("leads", len(leads)).
		Int("applied", applied).
		Dur("took", time.Since(started)).
		Msg("snapshot refreshed")
	return nil
}

// Run refreshes on the configured interval until ctx is done.
func (r *SnapshotRefresher) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				log.Error().Err(err).Msg("periodic snapshot refresh failed")
			}
		}
	}
}
