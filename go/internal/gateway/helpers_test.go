package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/peterldowns/testy/assert"

	"github.com/leadengine/syncgateway/go/internal/auction"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestSynchronizer(t *testing.T) (*auction.Synchronizer, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	s := auction.NewSynchronizer(auction.DefaultConfig(), auction.WithClock(clock))
	t.Cleanup(s.Close)
	return s, clock
}

func liveLead(id, vertical string, bids int) auction.Descriptor {
	return auction.Descriptor{
		ID:       id,
		Vertical: vertical,
		Status:   auction.StatusInAuction,
		Count:    auction.BidCount{Bids: bids},
	}
}

func envelope(t *testing.T, typ EventType, data interface{}) []byte {
	t.Helper()
	payload, err := json.Marshal(data)
	assert.NoError(t, err)
	raw, err := json.Marshal(LeadEvent{ID: "evt-1", Type: typ, Timestamp: epoch, Data: payload})
	assert.NoError(t, err)
	return raw
}

type fakeRefresher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeRefresher) Refresh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeRefresher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSource struct {
	mu    sync.Mutex
	leads []auction.Descriptor
	byID  map[string]auction.Descriptor
	err   error
	calls int
}

func (f *fakeSource) ListLiveLeads(ctx context.Context) ([]auction.Descriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]auction.Descriptor(nil), f.leads...), nil
}

func (f *fakeSource) GetLead(ctx context.Context, id string) (auction.Descriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.byID[id]
	if !ok {
		return auction.Descriptor{}, errNotFound
	}
	return d, nil
}

var errNotFound = errors.New("not found")

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
