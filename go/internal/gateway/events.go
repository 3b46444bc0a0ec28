package gateway

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/leadengine/syncgateway/go/internal/auction"
)

// LeadEvent is the envelope every transport delivers
type LeadEvent struct {
	ID        string          `json:"id"`        // Event UUID
	Type      EventType       `json:"type"`      // Event type
	Timestamp time.Time       `json:"timestamp"` // Event creation time on the server
	Data      json.RawMessage `json:"data"`      // Event-specific payload
}

// EventType represents the type of marketplace auction event
type EventType string

const (
	EventTypeBidUpdate   EventType = "bid:update"
	EventTypeClosingSoon EventType = "closing-soon"
	EventTypeClosed      EventType = "closed"
	EventTypeNewLead     EventType = "lead:new"
	EventTypeRefreshAll  EventType = "refresh-all"
)

// Known reports whether t is one of the handled event types
func (t EventType) Known() bool {
	switch t {
	case EventTypeBidUpdate, EventTypeClosingSoon, EventTypeClosed, EventTypeNewLead, EventTypeRefreshAll:
		return true
	}
	return false
}

// BidUpdatePayload is the payload for a bid:update event. Times are in
// milliseconds, serverTs is epoch milliseconds.
type BidUpdatePayload struct {
	LeadID        string           `json:"leadId"`
	RemainingTime *int64           `json:"remainingTime,omitempty"`
	ServerTs      *int64           `json:"serverTs,omitempty"`
	BidCount      *int             `json:"bidCount,omitempty"`
	HighestBid    *decimal.Decimal `json:"highestBid,omitempty"`
	Sealed        *bool            `json:"sealed,omitempty"`
}

// ClosingSoonPayload is the payload for a closing-soon event
type ClosingSoonPayload struct {
	LeadID string `json:"leadId"`
}

// ClosedPayload is the payload for a closed event
type ClosedPayload struct {
	LeadID string `json:"leadId"`
	Status string `json:"status"`
}

// NewLeadPayload is the payload for a lead:new event. Database notifications
// carry only the id and the lead is fetched from the marketplace.
type NewLeadPayload struct {
	Lead   auction.Descriptor `json:"lead"`
	LeadID string             `json:"leadId,omitempty"`
}

// RefreshAllPayload carries nothing; the event itself asks for a snapshot.
type RefreshAllPayload struct{}

// ToBidUpdate converts the wire payload into a synchronizer update.
func (p BidUpdatePayload) ToBidUpdate() auction.BidUpdate {
	u := auction.BidUpdate{
		LeadID:     p.LeadID,
		BidCount:   p.BidCount,
		HighestBid: p.HighestBid,
		Sealed:     p.Sealed,
	}
	if p.RemainingTime != nil {
		d := millisToDuration(*p.RemainingTime)
		u.RemainingTime = &d
	}
	if p.ServerTs != nil {
		ts := time.UnixMilli(*p.ServerTs)
		u.ServerTime = &ts
	}
	return u
}

// maxRemainingMillis is the largest millisecond count a time.Duration holds
const maxRemainingMillis = math.MaxInt64 / int64(time.Millisecond)

// millisToDuration converts a wire millisecond count, saturating instead of
// overflowing. Negative counts become zero.
func millisToDuration(ms int64) time.Duration {
	switch {
	case ms <= 0:
		return 0
	case ms > maxRemainingMillis:
		return time.Duration(maxRemainingMillis) * time.Millisecond
	}
	return time.Duration(ms) * time.Millisecond
}

// ParseEventPayload parses event data into the appropriate payload struct
func ParseEventPayload(event *LeadEvent) (interface{}, error) {
	switch event.Type {
	case EventTypeBidUpdate:
		var payload BidUpdatePayload
		if err := unmarshalData(event.Data, &payload); err != nil {
			return nil, err
		}
		if payload.LeadID == "" {
			return nil, fmt.Errorf("%s: missing leadId", event.Type)
		}
		return payload, nil

	case EventTypeClosingSoon:
		var payload ClosingSoonPayload
		if err := unmarshalData(event.Data, &payload); err != nil {
			return nil, err
		}
		if payload.LeadID == "" {
			return nil, fmt.Errorf("%s: missing leadId", event.Type)
		}
		return payload, nil

	case EventTypeClosed:
		var payload ClosedPayload
		if err := unmarshalData(event.Data, &payload); err != nil {
			return nil, err
		}
		if payload.LeadID == "" {
			return nil, fmt.Errorf("%s: missing leadId", event.Type)
		}
		if _, ok := auction.ParseOutcome(payload.Status); !ok {
			return nil, fmt.Errorf("%s: unknown status %q", event.Type, payload.Status)
		}
		return payload, nil

	case EventTypeNewLead:
		var payload NewLeadPayload
		if err := unmarshalData(event.Data, &payload); err != nil {
			return nil, err
		}
		if payload.Lead.ID == "" && payload.LeadID == "" {
			return nil, fmt.Errorf("%s: missing lead id", event.Type)
		}
		return payload, nil

	case EventTypeRefreshAll:
		return RefreshAllPayload{}, nil

	default:
		return nil, fmt.Errorf("unknown event type: %s", event.Type)
	}
}

// DecodeEvent parses a raw envelope.
func DecodeEvent(raw []byte) (*LeadEvent, error) {
	var event LeadEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("unmarshal event envelope: %w", err)
	}
	if event.Type == "" {
		return nil, fmt.Errorf("event envelope missing type")
	}
	return &event, nil
}

func unmarshalData(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("empty event data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal event data: %w", err)
	}
	return nil
}
