package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/leadengine/syncgateway/go/internal/auction"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "valid", raw: `{"id":"e1","type":"closed","timestamp":"2026-03-01T12:00:00Z","data":{"leadId":"L1","status":"SOLD"}}`},
		{name: "not json", raw: `closed L1`, wantErr: true},
		{name: "missing type", raw: `{"id":"e1","data":{}}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := DecodeEvent([]byte(tt.raw))
			if tt.wantErr {
				check.Error(t, err)
				return
			}
			assert.NoError(t, err)
			check.Equal(t, EventTypeClosed, event.Type)
			check.Equal(t, "e1", event.ID)
		})
	}
}

func TestParseEventPayload(t *testing.T) {
	tests := []struct {
		name    string
		typ     EventType
		data    string
		want    interface{}
		wantErr bool
	}{
		{name: "closing soon", typ: EventTypeClosingSoon, data: `{"leadId":"L1"}`, want: ClosingSoonPayload{LeadID: "L1"}},
		{name: "closed sold", typ: EventTypeClosed, data: `{"leadId":"L1","status":"SOLD"}`, want: ClosedPayload{LeadID: "L1", Status: "SOLD"}},
		{name: "closed unknown status", typ: EventTypeClosed, data: `{"leadId":"L1","status":"EXPIRED"}`, wantErr: true},
		{name: "closed missing lead", typ: EventTypeClosed, data: `{"status":"UNSOLD"}`, wantErr: true},
		{name: "bid update missing lead", typ: EventTypeBidUpdate, data: `{"bidCount":3}`, wantErr: true},
		{name: "new lead by id", typ: EventTypeNewLead, data: `{"leadId":"L9"}`, want: NewLeadPayload{LeadID: "L9"}},
		{name: "new lead without id", typ: EventTypeNewLead, data: `{"lead":{"vertical":"solar"}}`, wantErr: true},
		{name: "refresh all", typ: EventTypeRefreshAll, data: ``, want: RefreshAllPayload{}},
		{name: "empty data", typ: EventTypeClosingSoon, data: ``, wantErr: true},
		{name: "unknown type", typ: EventType("bid:placed"), data: `{}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := &LeadEvent{Type: tt.typ}
			if tt.data != "" {
				event.Data = json.RawMessage(tt.data)
			}
			got, err := ParseEventPayload(event)
			if tt.wantErr {
				check.Error(t, err)
				return
			}
			assert.NoError(t, err)
			check.Equal(t, tt.want, got)
		})
	}
}

func TestBidUpdatePayloadToBidUpdate(t *testing.T) {
	event := &LeadEvent{
		Type: EventTypeBidUpdate,
		Data: json.RawMessage(`{"leadId":"L1","remainingTime":8000,"serverTs":1772366400000,"bidCount":4,"highestBid":"125.50","sealed":true}`),
	}
	payload, err := ParseEventPayload(event)
	assert.NoError(t, err)

	u := payload.(BidUpdatePayload).ToBidUpdate()
	check.Equal(t, "L1", u.LeadID)
	assert.NotNil(t, u.RemainingTime)
	check.Equal(t, 8*time.Second, *u.RemainingTime)
	assert.NotNil(t, u.ServerTime)
	check.True(t, u.ServerTime.Equal(time.UnixMilli(1772366400000)))
	check.Equal(t, 4, *u.BidCount)
	check.True(t, u.HighestBid.Equal(decimal.RequireFromString("125.5")))
	check.True(t, *u.Sealed)
}

func TestBidUpdatePayloadWithoutTimes(t *testing.T) {
	u := BidUpdatePayload{LeadID: "L1"}.ToBidUpdate()
	check.Nil(t, u.RemainingTime)
	check.Nil(t, u.ServerTime)
}

func TestBidUpdateRemainingTimeSaturates(t *testing.T) {
	maxDuration := time.Duration(maxRemainingMillis) * time.Millisecond

	tests := []struct {
		name string
		ms   int64
		want time.Duration
	}{
		{name: "ordinary", ms: 30_000, want: 30 * time.Second},
		{name: "at limit", ms: maxRemainingMillis, want: maxDuration},
		{name: "above limit", ms: maxRemainingMillis + 1, want: maxDuration},
		{name: "huge", ms: 1e16, want: maxDuration},
		{name: "negative", ms: -5, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms := tt.ms
			u := BidUpdatePayload{LeadID: "L1", RemainingTime: &ms}.ToBidUpdate()
			assert.NotNil(t, u.RemainingTime)
			check.Equal(t, tt.want, *u.RemainingTime)
		})
	}
}

func TestHugeRemainingTimeKeepsPrematureGuard(t *testing.T) {
	s, _ := newTestSynchronizer(t)
	s.BulkMerge([]auction.Descriptor{liveLead("L1", "solar", 0)})

	ms := int64(1e16)
	s.ApplyBidUpdate(BidUpdatePayload{LeadID: "L1", RemainingTime: &ms}.ToBidUpdate())
	check.Equal(t, auction.CloseDropped, s.CloseAuction("L1", auction.OutcomeSold))
}
