package auction

import "time"

// NewState builds the state for a first sighting of a lead.
//
// Phase is live iff the descriptor carries the live-auction status. The bid
// count is seeded from the descriptor so a lead never renders a misleading
// zero before its first bid event.
func NewState(d Descriptor, now time.Time) LeadAuctionState {
	st := LeadAuctionState{
		Lead:          d,
		Phase:         PhaseClosed,
		LiveBidCount:  d.Count.Bids,
		RemainingAsOf: now,
	}
	if d.IsLive() {
		st.Phase = PhaseLive
		if d.AuctionEndAt != nil {
			st.LiveRemaining = clampZero(d.AuctionEndAt.Sub(now))
		}
	}
	return st
}

// MergeSnapshot folds a snapshot descriptor into an existing state.
//
// Closed leads are never touched; the second return value is false in that
// case. For open leads the descriptive attributes come from the snapshot and
// every live-tracked field is kept, except that the bid count takes the larger
// of the two values.
func MergeSnapshot(existing LeadAuctionState, incoming Descriptor) (LeadAuctionState, bool) {
	if existing.IsClosed() {
		return existing, false
	}

	next := existing
	next.Lead = Descriptor{
		ID:           existing.Lead.ID,
		Vertical:     incoming.Vertical,
		Geo:          incoming.Geo,
		Source:       incoming.Source,
		Status:       incoming.Status,
		ReservePrice: incoming.ReservePrice,
		AuctionEndAt: incoming.AuctionEndAt,
		Seller:       incoming.Seller,
		QualityScore: incoming.QualityScore,
		IsVerified:   incoming.IsVerified,
		CreatedAt:    incoming.CreatedAt,
		Count:        BidCount{Bids: maxInt(existing.LiveBidCount, incoming.Count.Bids)},
	}

	next.Phase = existing.Phase
	next.LiveBidCount = maxInt(existing.LiveBidCount, incoming.Count.Bids)
	next.LiveHighestBid = existing.LiveHighestBid
	next.LiveRemaining = existing.LiveRemaining
	next.RemainingAsOf = existing.RemainingAsOf
	next.Sealed = existing.Sealed
	return next, true
}

// CorrectRemaining adjusts a server-reported remaining time by the one-way
// network delay implied by the server timestamp. A server timestamp in the
// future counts as zero delay.
func CorrectRemaining(remaining time.Duration, serverTime, now time.Time) time.Duration {
	delay := clampZero(now.Sub(serverTime))
	return clampZero(remaining - delay)
}

func clampZero(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
