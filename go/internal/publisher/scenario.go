package publisher

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/leadengine/syncgateway/go/internal/auction"
	"github.com/leadengine/syncgateway/go/internal/gateway"
)

// Step is one event of a scripted auction, published At after the start.
type Step struct {
	At    time.Duration
	Event gateway.LeadEvent
}

// ScenarioConfig describes one scripted auction
type ScenarioConfig struct {
	LeadID       string
	Vertical     string
	Duration     time.Duration
	Bids         int
	ReservePrice decimal.Decimal
	BidIncrement decimal.Decimal
	ClosingSoon  time.Duration // how long before the end closing-soon is sent
}

// DefaultScenarioConfig returns a one minute auction with three bids
func DefaultScenarioConfig(leadID, vertical string) ScenarioConfig {
	return ScenarioConfig{
		LeadID:       leadID,
		Vertical:     vertical,
		Duration:     time.Minute,
		Bids:         3,
		ReservePrice: decimal.NewFromInt(25),
		BidIncrement: decimal.NewFromInt(5),
		ClosingSoon:  10 * time.Second,
	}
}

// Scenario scripts a full auction starting at start: lead:new, evenly spaced
// bids, closing-soon, a final zero-remaining update and the closure. Auctions
// with bids close SOLD.
func Scenario(cfg ScenarioConfig, start time.Time) ([]Step, error) {
	if cfg.LeadID == "" {
		return nil, fmt.Errorf("scenario needs a lead id")
	}
	if cfg.Duration <= 0 {
		return nil, fmt.Errorf("scenario duration must be positive")
	}

	var steps []Step
	add := func(at time.Duration, typ gateway.EventType, payload interface{}) error {
		event, err := NewEvent(typ, payload, start.Add(at))
		if err != nil {
			return err
		}
		steps = append(steps, Step{At: at, Event: event})
		return nil
	}

	endAt := start.Add(cfg.Duration)
	reserve := cfg.ReservePrice
	lead := auction.Descriptor{
		ID:           cfg.LeadID,
		Vertical:     cfg.Vertical,
		Source:       "PLATFORM",
		Status:       auction.StatusInAuction,
		ReservePrice: &reserve,
		AuctionEndAt: &endAt,
		CreatedAt:    start.UTC(),
	}
	if err := add(0, gateway.EventTypeNewLead, gateway.NewLeadPayload{Lead: lead}); err != nil {
		return nil, err
	}

	for i := 1; i <= cfg.Bids; i++ {
		at := cfg.Duration * time.Duration(i) / time.Duration(cfg.Bids+1)
		if err := add(at, gateway.EventTypeBidUpdate, bidPayload(cfg, start, at, i)); err != nil {
			return nil, err
		}
	}

	if soon := cfg.Duration - cfg.ClosingSoon; cfg.ClosingSoon > 0 && soon > 0 {
		if err := add(soon, gateway.EventTypeClosingSoon, gateway.ClosingSoonPayload{LeadID: cfg.LeadID}); err != nil {
			return nil, err
		}
	}

	if err := add(cfg.Duration, gateway.EventTypeBidUpdate, bidPayload(cfg, start, cfg.Duration, cfg.Bids)); err != nil {
		return nil, err
	}

	status := auction.OutcomeUnsold
	if cfg.Bids > 0 {
		status = auction.OutcomeSold
	}
	if err := add(cfg.Duration, gateway.EventTypeClosed, gateway.ClosedPayload{LeadID: cfg.LeadID, Status: string(status)}); err != nil {
		return nil, err
	}

	// Bid times and closing-soon can interleave
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].At < steps[j].At })
	return steps, nil
}

func bidPayload(cfg ScenarioConfig, start time.Time, at time.Duration, bids int) gateway.BidUpdatePayload {
	remaining := (cfg.Duration - at).Milliseconds()
	serverTs := start.Add(at).UnixMilli()
	count := bids
	p := gateway.BidUpdatePayload{
		LeadID:        cfg.LeadID,
		RemainingTime: &remaining,
		ServerTs:      &serverTs,
		BidCount:      &count,
	}
	if bids > 0 {
		highest := cfg.ReservePrice.Add(cfg.BidIncrement.Mul(decimal.NewFromInt(int64(bids - 1))))
		p.HighestBid = &highest
	}
	return p
}

// Replay publishes steps in order, waiting on clock between them. A speed of
// 2 plays twice as fast; zero or less publishes without waiting. It returns
// the number of events published.
func Replay(ctx context.Context, pub Publisher, clock clockwork.Clock, steps []Step, speed float64) (int, error) {
	var elapsed time.Duration
	for i, step := range steps {
		if wait := step.At - elapsed; speed > 0 && wait > 0 {
			select {
			case <-ctx.Done():
				return i, ctx.Err()
			case <-clock.After(time.Duration(float64(wait) / speed)):
			}
		}
		elapsed = step.At

		if err := pub.Publish(ctx, step.Event); err != nil {
			return i, fmt.Errorf("step %d (%s): %w", i, step.Event.Type, err)
		}
		log.Info().
			Str("event_type", string(step.Event.Type)).
			Dur("at", step.At).
			Msg("replayed event")
	}
	return len(steps), nil
}
