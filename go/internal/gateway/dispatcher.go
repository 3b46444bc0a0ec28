package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/leadengine/syncgateway/go/internal/auction"
)

// ErrMalformedEvent marks events that can never be applied, however often
// they are redelivered.
var ErrMalformedEvent = errors.New("malformed event")

// Refresher triggers a fresh snapshot merge
type Refresher interface {
	Refresh(ctx context.Context) error
}

// LeadFetcher loads one lead descriptor by id
type LeadFetcher interface {
	GetLead(ctx context.Context, id string) (auction.Descriptor, error)
}

// Dispatcher routes decoded events to the synchronizer
type Dispatcher struct {
	sync      *auction.Synchronizer
	refresher Refresher
	fetcher   LeadFetcher
	metrics   MetricsCollector

	processed atomic.Uint64
	lastEvent atomic.Int64 // unix nanoseconds
}

// NewDispatcher creates a dispatcher. refresher may be nil, in which case
// refresh-all events are logged and ignored.
func NewDispatcher(synchronizer *auction.Synchronizer, refresher Refresher) *Dispatcher {
	return &Dispatcher{sync: synchronizer, refresher: refresher, metrics: NoOpMetricsCollector{}}
}

// SetLeadFetcher enables lead:new events that carry only an id.
func (d *Dispatcher) SetLeadFetcher(f LeadFetcher) {
	d.fetcher = f
}

// SetMetrics replaces the no-op metrics collector.
func (d *Dispatcher) SetMetrics(m MetricsCollector) {
	d.metrics = m
}

// Stats returns how many decodable events were handled and when the last
// one arrived.
func (d *Dispatcher) Stats() (uint64, time.Time) {
	var last time.Time
	if ns := d.lastEvent.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return d.processed.Load(), last
}

// HandleRaw decodes and dispatches one raw envelope.
func (d *Dispatcher) HandleRaw(ctx context.Context, raw []byte) error {
	started := time.Now()
	event, err := DecodeEvent(raw)
	if err != nil {
		d.metrics.RecordEvent("undecodable", false, time.Since(started))
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	err = d.Handle(ctx, event)
	d.processed.Add(1)
	d.lastEvent.Store(time.Now().UnixNano())

	label := event.Type
	if !label.Known() {
		label = "unknown"
	}
	d.metrics.RecordEvent(label, err == nil, time.Since(started))
	return err
}

// Handle applies one event. Errors only come from malformed payloads or a
// failed refresh; synchronizer no-ops are not errors.
func (d *Dispatcher) Handle(ctx context.Context, event *LeadEvent) error {
	payload, err := ParseEventPayload(event)
	if err != nil {
		return fmt.Errorf("%w: parse %s payload: %v", ErrMalformedEvent, event.Type, err)
	}

	switch p := payload.(type) {
	case BidUpdatePayload:
		if !d.sync.ApplyBidUpdate(p.ToBidUpdate()) {
			log.Debug().Str("lead_id", p.LeadID).Msg("bid update ignored")
		}

	case ClosingSoonPayload:
		if !d.sync.MarkClosingSoon(p.LeadID) {
			log.Debug().Str("lead_id", p.LeadID).Msg("closing-soon ignored")
		}

	case ClosedPayload:
		outcome, _ := auction.ParseOutcome(p.Status)
		result := d.sync.CloseAuction(p.LeadID, outcome)
		d.metrics.RecordClose(result)
		log.Debug().
			Str("event_id", event.ID).
			Str("lead_id", p.LeadID).
			Str("outcome", p.Status).
			Str("result", string(result)).
			Msg("closure dispatched")

	case NewLeadPayload:
		lead := p.Lead
		if lead.ID == "" {
			if d.fetcher == nil {
				log.Warn().Str("lead_id", p.LeadID).Msg("lead:new without descriptor and no fetcher configured")
				return nil
			}
			fetched, err := d.fetcher.GetLead(ctx, p.LeadID)
			if err != nil {
				return fmt.Errorf("fetch lead %s: %w", p.LeadID, err)
			}
			lead = fetched
		}
		d.sync.RegisterLead(lead)

	case RefreshAllPayload:
		if d.refresher == nil {
			log.Warn().Msg("refresh-all received without a snapshot source")
			return nil
		}
		if err := d.refresher.Refresh(ctx); err != nil {
			return fmt.Errorf("refresh snapshot: %w", err)
		}
	}

	return nil
}
