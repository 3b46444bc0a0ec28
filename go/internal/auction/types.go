package auction

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatusInAuction is the only lead status that means the auction is open.
const StatusInAuction = "IN_AUCTION"

// Phase is the server-authoritative lifecycle stage of one lead's auction
type Phase string

const (
	PhaseLive        Phase = "live"
	PhaseClosingSoon Phase = "closing-soon"
	PhaseClosed      Phase = "closed"
)

// Outcome is the terminal result of a closed auction
type Outcome string

const (
	OutcomeNone   Outcome = ""
	OutcomeSold   Outcome = "SOLD"
	OutcomeUnsold Outcome = "UNSOLD"
)

// ParseOutcome maps a closure status string to an Outcome.
func ParseOutcome(s string) (Outcome, bool) {
	switch Outcome(s) {
	case OutcomeSold:
		return OutcomeSold, true
	case OutcomeUnsold:
		return OutcomeUnsold, true
	default:
		return OutcomeNone, false
	}
}

// Geo is the location attached to a lead
type Geo struct {
	Country string `json:"country,omitempty"`
	State   string `json:"state,omitempty"`
	City    string `json:"city,omitempty"`
	ZIP     string `json:"zip,omitempty"`
}

// Seller is the seller summary embedded in marketplace lead responses
type Seller struct {
	ID          string  `json:"id"`
	CompanyName string  `json:"companyName,omitempty"`
	Reputation  float64 `json:"reputationScore,omitempty"`
	IsVerified  bool    `json:"isVerified,omitempty"`
}

// BidCount mirrors the `_count` block of a lead response
type BidCount struct {
	Bids int `json:"bids"`
}

// Descriptor is a lead as returned by the marketplace snapshot API.
type Descriptor struct {
	ID           string           `json:"id"`
	Vertical     string           `json:"vertical"`
	Geo          *Geo             `json:"geo,omitempty"`
	Source       string           `json:"source,omitempty"`
	Status       string           `json:"status"`
	ReservePrice *decimal.Decimal `json:"reservePrice,omitempty"`
	AuctionEndAt *time.Time       `json:"auctionEndAt,omitempty"`
	Seller       *Seller          `json:"seller,omitempty"`
	QualityScore *int             `json:"qualityScore,omitempty"`
	IsVerified   bool             `json:"isVerified,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	Count        BidCount         `json:"_count"`
}

// IsLive reports whether the descriptor's status means the auction is open.
func (d Descriptor) IsLive() bool {
	return d.Status == StatusInAuction
}

// LeadAuctionState is the synchronized state of one lead's auction.
//
// Lead holds the descriptive attributes, refreshed from snapshots. Every other
// field is live-tracked and only moves through the Synchronizer's operations.
type LeadAuctionState struct {
	Lead Descriptor

	Phase          Phase
	LiveBidCount   int
	LiveHighestBid *decimal.Decimal
	// LiveRemaining is the last drift-corrected remaining time, observed at RemainingAsOf.
	LiveRemaining time.Duration
	RemainingAsOf time.Time
	Sealed        bool

	Outcome   Outcome
	ClosedAt  time.Time
	FadeOutAt time.Time
}

// ID returns the lead id.
func (s LeadAuctionState) ID() string {
	return s.Lead.ID
}

// IsClosed is true iff the phase is closed
func (s LeadAuctionState) IsClosed() bool {
	return s.Phase == PhaseClosed
}

// RemainingAt estimates the remaining time at now by decaying the last
// corrected reading by the local time elapsed since it was observed.
func (s LeadAuctionState) RemainingAt(now time.Time) time.Duration {
	if s.LiveRemaining <= 0 {
		return 0
	}
	elapsed := now.Sub(s.RemainingAsOf)
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := s.LiveRemaining - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// BidUpdate carries the optional fields of a bid:update event. Nil means the
// event did not supply the field.
type BidUpdate struct {
	LeadID        string
	RemainingTime *time.Duration
	ServerTime    *time.Time
	BidCount      *int
	HighestBid    *decimal.Decimal
	Sealed        *bool
}

// CloseResult reports what CloseAuction did with a closure signal
type CloseResult string

const (
	CloseIgnored  CloseResult = "ignored"
	CloseApplied  CloseResult = "applied"
	CloseUpgraded CloseResult = "upgraded"
	CloseDropped  CloseResult = "dropped"
)

// ChangeKind identifies the mutation a Change describes
type ChangeKind string

const (
	ChangeRegistered    ChangeKind = "registered"
	ChangeRelisted      ChangeKind = "relisted"
	ChangeMerged        ChangeKind = "merged"
	ChangeBidUpdated    ChangeKind = "bid-updated"
	ChangeClosingSoon   ChangeKind = "closing-soon"
	ChangeClosed        ChangeKind = "closed"
	ChangeUpgraded      ChangeKind = "upgraded"
	ChangeCloseDropped  ChangeKind = "close-dropped"
	ChangeBannerCleared ChangeKind = "banner-cleared"
	ChangeEvicted       ChangeKind = "evicted"
)

// Change is emitted to subscribers after every applied mutation.
type Change struct {
	Kind     ChangeKind
	LeadID   string
	Vertical string
	Outcome  Outcome
	At       time.Time
	// State is a copy taken when the change was applied; nil once evicted.
	State *LeadAuctionState
}
