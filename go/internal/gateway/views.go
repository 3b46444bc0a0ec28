package gateway

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/leadengine/syncgateway/go/internal/auction"
)

// LeadView is the JSON projection of one lead's synchronized state
type LeadView struct {
	ID              string           `json:"id"`
	Vertical        string           `json:"vertical"`
	Geo             *auction.Geo     `json:"geo,omitempty"`
	Source          string           `json:"source,omitempty"`
	Status          string           `json:"status"`
	ReservePrice    *decimal.Decimal `json:"reservePrice,omitempty"`
	AuctionEndAt    *time.Time       `json:"auctionEndAt,omitempty"`
	Seller          *auction.Seller  `json:"seller,omitempty"`
	QualityScore    *int             `json:"qualityScore,omitempty"`
	IsVerified      bool             `json:"isVerified"`
	CreatedAt       time.Time        `json:"createdAt"`
	AuctionPhase    auction.Phase    `json:"auctionPhase"`
	IsClosed        bool             `json:"isClosed"`
	LiveBidCount    int              `json:"liveBidCount"`
	LiveHighestBid  *decimal.Decimal `json:"liveHighestBid,omitempty"`
	LiveRemainingMs int64            `json:"liveRemainingMs"`
	Sealed          bool             `json:"sealed"`
	Outcome         auction.Outcome  `json:"outcome,omitempty"`
	ClosedAt        *time.Time       `json:"closedAt,omitempty"`
	FadeOutAt       *time.Time       `json:"fadeOutAt,omitempty"`
}

// LeadsResponse is the ordered projection served over HTTP and RPC
type LeadsResponse struct {
	Leads   []LeadView                 `json:"leads"`
	Banners map[string]auction.Outcome `json:"banners"`
	AsOf    time.Time                  `json:"asOf"`
}

// NewLeadView projects a state at now. The remaining time is the decayed
// estimate, so repeated reads count down without new events.
func NewLeadView(st auction.LeadAuctionState, now time.Time) LeadView {
	v := LeadView{
		ID:              st.Lead.ID,
		Vertical:        st.Lead.Vertical,
		Geo:             st.Lead.Geo,
		Source:          st.Lead.Source,
		Status:          st.Lead.Status,
		ReservePrice:    st.Lead.ReservePrice,
		AuctionEndAt:    st.Lead.AuctionEndAt,
		Seller:          st.Lead.Seller,
		QualityScore:    st.Lead.QualityScore,
		IsVerified:      st.Lead.IsVerified,
		CreatedAt:       st.Lead.CreatedAt,
		AuctionPhase:    st.Phase,
		IsClosed:        st.IsClosed(),
		LiveBidCount:    st.LiveBidCount,
		LiveHighestBid:  st.LiveHighestBid,
		LiveRemainingMs: st.RemainingAt(now).Milliseconds(),
		Sealed:          st.Sealed,
		Outcome:         st.Outcome,
	}
	if !st.ClosedAt.IsZero() {
		closedAt := st.ClosedAt
		v.ClosedAt = &closedAt
	}
	if !st.FadeOutAt.IsZero() {
		fadeOutAt := st.FadeOutAt
		v.FadeOutAt = &fadeOutAt
	}
	return v
}

// buildLeadsResponse snapshots the synchronizer, optionally filtered by vertical.
func buildLeadsResponse(synchronizer *auction.Synchronizer, vertical string, now time.Time) LeadsResponse {
	leads, banners := synchronizer.Snapshot()
	views := make([]LeadView, 0, len(leads))
	visible := make(map[string]auction.Outcome, len(banners))
	for _, st := range leads {
		if !matchesVertical(vertical, st.Lead.Vertical) {
			continue
		}
		views = append(views, NewLeadView(st, now))
		if outcome, ok := banners[st.ID()]; ok {
			visible[st.ID()] = outcome
		}
	}
	return LeadsResponse{Leads: views, Banners: visible, AsOf: now}
}

// matchesVertical treats verticals as dotted slugs: "solar" matches
// "solar" and "solar.residential". An empty filter matches everything.
func matchesVertical(filter, vertical string) bool {
	if filter == "" || filter == vertical {
		return true
	}
	return len(vertical) > len(filter) && vertical[:len(filter)] == filter && vertical[len(filter)] == '.'
}
