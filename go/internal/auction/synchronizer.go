package auction

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Synchronizer owns the live auction state of every known lead and reconciles
// snapshots, socket events and timers into it. The server is the only source
// of truth for closure; the synchronizer never closes a lead on its own clock.
//
// All methods are safe for concurrent use and atomic with respect to each
// other. Unknown leads, stale snapshots and duplicate closures are absorbed as
// no-ops.
type Synchronizer struct {
	cfg   Config
	clock Clock

	mu        sync.Mutex
	leads     map[string]*LeadAuctionState
	order     []string
	banners   map[string]Outcome
	evictions *timerSet
	bannerTTL *timerSet

	subsMu      sync.Mutex
	subscribers map[int]chan Change
	nextSubID   int
}

// Option configures a Synchronizer
type Option func(*Synchronizer)

// WithClock injects the clock used for drift correction and timers.
func WithClock(clock Clock) Option {
	return func(s *Synchronizer) {
		s.clock = clock
	}
}

// NewSynchronizer creates an empty synchronizer.
func NewSynchronizer(cfg Config, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		cfg:         cfg.withDefaults(),
		clock:       clockwork.NewRealClock(),
		leads:       make(map[string]*LeadAuctionState),
		banners:     make(map[string]Outcome),
		evictions:   newTimerSet(timerEviction),
		bannerTTL:   newTimerSet(timerBanner),
		subscribers: make(map[int]chan Change),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the effective configuration.
func (s *Synchronizer) Config() Config {
	return s.cfg
}

// Now reads the synchronizer's clock.
func (s *Synchronizer) Now() time.Time {
	return s.clock.Now()
}

// RegisterLead records a lead sighting and moves it to the front of the order.
//
// Known open leads are left untouched. Known closed leads are only replaced
// when the descriptor re-lists them with the live status, and that replacement
// is indistinguishable from a fresh registration.
func (s *Synchronizer) RegisterLead(d Descriptor) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	kind := ChangeRegistered
	if existing, ok := s.leads[d.ID]; ok {
		if !existing.IsClosed() || !d.IsLive() {
			return false
		}
		kind = ChangeRelisted
		s.dropLocked(d.ID)
	}

	now := s.clock.Now()
	st := NewState(d, now)
	s.leads[d.ID] = &st
	s.prependLocked(d.ID)

	log.Debug().
		Str("lead_id", d.ID).
		Str("phase", string(st.Phase)).
		Int("bid_count", st.LiveBidCount).
		Str("change", string(kind)).
		Msg("lead registered")

	s.emit(s.changeLocked(kind, d.ID, "", now))
	return true
}

// BulkMerge folds a snapshot into the state and returns how many leads were
// inserted or merged.
//
// Unknown leads are appended in snapshot order. Closed leads are skipped so a
// stale snapshot cannot resurrect them before eviction. Open leads take the
// snapshot's descriptive fields and keep their live fields, with the bid
// count never decreasing.
func (s *Synchronizer) BulkMerge(ds []Descriptor) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	applied := 0
	for _, d := range ds {
		existing, ok := s.leads[d.ID]
		if !ok {
			st := NewState(d, now)
			s.leads[d.ID] = &st
			s.order = append(s.order, d.ID)
			s.emit(s.changeLocked(ChangeRegistered, d.ID, "", now))
			applied++
			continue
		}

		next, merged := MergeSnapshot(*existing, d)
		if !merged {
			log.Debug().Str("lead_id", d.ID).Msg("snapshot skipped for closed lead")
			continue
		}
		*existing = next
		s.emit(s.changeLocked(ChangeMerged, d.ID, "", now))
		applied++
	}

	log.Debug().Int("snapshot_size", len(ds)).Int("applied", applied).Msg("snapshot merged")
	return applied
}

// ApplyBidUpdate applies a bid:update event to an open lead.
//
// When both the remaining time and the server timestamp are present the
// remaining time is corrected for network delay. A corrected reading inside
// the closing-soon threshold sets closing-soon, a larger one sets live, and a
// zero reading leaves the phase alone: only CloseAuction closes.
func (s *Synchronizer) ApplyBidUpdate(u BidUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.leads[u.LeadID]
	if !ok || st.IsClosed() {
		return false
	}

	now := s.clock.Now()
	if u.RemainingTime != nil {
		remaining := clampZero(*u.RemainingTime)
		if u.ServerTime != nil {
			remaining = CorrectRemaining(remaining, *u.ServerTime, now)
		}
		st.LiveRemaining = remaining
		st.RemainingAsOf = now

		switch {
		case remaining > s.cfg.ClosingSoonThreshold:
			st.Phase = PhaseLive
		case remaining > 0:
			st.Phase = PhaseClosingSoon
		}
	}
	if u.BidCount != nil {
		st.LiveBidCount = maxInt(*u.BidCount, st.LiveBidCount)
	}
	if u.HighestBid != nil {
		bid := *u.HighestBid
		st.LiveHighestBid = &bid
	}
	if u.Sealed != nil {
		st.Sealed = *u.Sealed
	}

	s.emit(s.changeLocked(ChangeBidUpdated, u.LeadID, "", now))
	return true
}

// MarkClosingSoon applies the server's explicit closing-soon signal.
func (s *Synchronizer) MarkClosingSoon(leadID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.leads[leadID]
	if !ok || st.IsClosed() {
		return false
	}
	st.Phase = PhaseClosingSoon
	s.emit(s.changeLocked(ChangeClosingSoon, leadID, "", s.clock.Now()))
	return true
}

// CloseAuction applies an authoritative closure and is the only writer of the
// closed phase.
//
// A closure for an open lead whose remaining time is still above the
// premature-close threshold is dropped. A SOLD closure for a lead already
// closed UNSOLD upgrades the outcome; every other repeat is ignored.
func (s *Synchronizer) CloseAuction(leadID string, outcome Outcome) CloseResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.leads[leadID]
	if !ok {
		return CloseIgnored
	}
	now := s.clock.Now()

	if st.IsClosed() {
		if outcome != OutcomeSold || st.Outcome == OutcomeSold {
			return CloseIgnored
		}
		st.Outcome = OutcomeSold
		if s.cfg.RebaseEvictionOnUpgrade {
			st.FadeOutAt = now.Add(s.cfg.EvictionGrace)
			s.scheduleEvictionLocked(leadID, s.cfg.EvictionGrace)
		} else if _, pending := s.evictions.pending(leadID); !pending {
			st.FadeOutAt = now.Add(s.cfg.EvictionGrace)
			s.scheduleEvictionLocked(leadID, s.cfg.EvictionGrace)
		}
		s.showBannerLocked(leadID, OutcomeSold)

		log.Info().Str("lead_id", leadID).Msg("auction outcome upgraded to SOLD")
		s.emit(s.changeLocked(ChangeUpgraded, leadID, OutcomeSold, now))
		return CloseUpgraded
	}

	if remaining := st.RemainingAt(now); remaining > s.cfg.PrematureCloseThreshold {
		log.Warn().
			Str("lead_id", leadID).
			Str("outcome", string(outcome)).
			Dur("remaining", remaining).
			Dur("threshold", s.cfg.PrematureCloseThreshold).
			Msg("dropping premature closure")
		s.emit(s.changeLocked(ChangeCloseDropped, leadID, outcome, now))
		return CloseDropped
	}

	st.Phase = PhaseClosed
	st.LiveRemaining = 0
	st.RemainingAsOf = now
	st.Outcome = outcome
	st.ClosedAt = now
	st.FadeOutAt = now.Add(s.cfg.EvictionGrace)
	s.showBannerLocked(leadID, outcome)
	s.scheduleEvictionLocked(leadID, s.cfg.EvictionGrace)

	log.Info().
		Str("lead_id", leadID).
		Str("outcome", string(outcome)).
		Int("bid_count", st.LiveBidCount).
		Msg("auction closed")
	s.emit(s.changeLocked(ChangeClosed, leadID, outcome, now))
	return CloseApplied
}

// Evict removes a lead, its order entry, its banner and its timers. Evicting
// an unknown lead is a no-op.
func (s *Synchronizer) Evict(leadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.leads[leadID]
	if !ok {
		return
	}
	vertical := st.Lead.Vertical
	s.dropLocked(leadID)
	s.emit(Change{Kind: ChangeEvicted, LeadID: leadID, Vertical: vertical, At: s.clock.Now()})
}

// OrderedLeads returns copies of the tracked leads in render order.
func (s *Synchronizer) OrderedLeads() []LeadAuctionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]LeadAuctionState, 0, len(s.order))
	for _, id := range s.order {
		st, ok := s.leads[id]
		if !ok {
			continue
		}
		out = append(out, *st)
	}
	return out
}

// Snapshot returns the ordered leads and the visible banners read under one
// lock, so every banner refers to a lead in the returned slice.
func (s *Synchronizer) Snapshot() ([]LeadAuctionState, map[string]Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	leads := make([]LeadAuctionState, 0, len(s.order))
	for _, id := range s.order {
		if st, ok := s.leads[id]; ok {
			leads = append(leads, *st)
		}
	}
	banners := make(map[string]Outcome, len(s.banners))
	for id, o := range s.banners {
		banners[id] = o
	}
	return leads, banners
}

// Lead returns a copy of one lead's state.
func (s *Synchronizer) Lead(leadID string) (LeadAuctionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.leads[leadID]
	if !ok {
		return LeadAuctionState{}, false
	}
	return *st, true
}

// Banners returns the currently visible "auction ended" banners by lead id.
func (s *Synchronizer) Banners() map[string]Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Outcome, len(s.banners))
	for id, o := range s.banners {
		out[id] = o
	}
	return out
}

// Len returns the number of tracked leads.
func (s *Synchronizer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.leads)
}

// Close cancels all pending timers. Tracked state stays readable.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	s.evictions.cancelAll()
	s.bannerTTL.cancelAll()
	s.mu.Unlock()

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Subscribe returns a channel of changes and a function that unsubscribes.
// A buffer of zero or less uses the configured default.
func (s *Synchronizer) Subscribe(buffer int) (<-chan Change, func()) {
	if buffer <= 0 {
		buffer = s.cfg.ChangeBuffer
	}
	ch := make(chan Change, buffer)

	s.subsMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch
	s.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			defer s.subsMu.Unlock()
			if _, ok := s.subscribers[id]; ok {
				delete(s.subscribers, id)
				close(ch)
			}
		})
	}
}

// changeLocked builds a change carrying a copy of the lead's current state.
func (s *Synchronizer) changeLocked(kind ChangeKind, leadID string, outcome Outcome, at time.Time) Change {
	c := Change{Kind: kind, LeadID: leadID, Outcome: outcome, At: at}
	if st, ok := s.leads[leadID]; ok {
		cp := *st
		c.Vertical = st.Lead.Vertical
		c.State = &cp
	}
	return c
}

func (s *Synchronizer) emit(c Change) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- c:
		default:
			log.Warn().
				Str("lead_id", c.LeadID).
				Str("change", string(c.Kind)).
				Msg("subscriber buffer full, dropping change")
		}
	}
}

func (s *Synchronizer) prependLocked(leadID string) {
	s.removeFromOrderLocked(leadID)
	s.order = append([]string{leadID}, s.order...)
}

func (s *Synchronizer) removeFromOrderLocked(leadID string) {
	for i, id := range s.order {
		if id == leadID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// dropLocked forgets everything about a lead.
func (s *Synchronizer) dropLocked(leadID string) {
	s.evictions.cancel(leadID)
	s.bannerTTL.cancel(leadID)
	delete(s.banners, leadID)
	delete(s.leads, leadID)
	s.removeFromOrderLocked(leadID)
}

func (s *Synchronizer) showBannerLocked(leadID string, outcome Outcome) {
	s.banners[leadID] = outcome
	s.bannerTTL.schedule(s.clock, leadID, s.cfg.BannerDuration, s.clearBanner)
}

func (s *Synchronizer) scheduleEvictionLocked(leadID string, d time.Duration) {
	s.evictions.schedule(s.clock, leadID, d, s.fireEviction)
}

func (s *Synchronizer) clearBanner(t *scheduledTimer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.bannerTTL.current(t) {
		return
	}
	s.bannerTTL.release(t)
	delete(s.banners, t.leadID)
	s.emit(s.changeLocked(ChangeBannerCleared, t.leadID, "", s.clock.Now()))
}

func (s *Synchronizer) fireEviction(t *scheduledTimer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.evictions.current(t) {
		return
	}
	s.evictions.release(t)
	st, ok := s.leads[t.leadID]
	if !ok {
		return
	}
	vertical := st.Lead.Vertical
	s.dropLocked(t.leadID)

	log.Debug().Str("lead_id", t.leadID).Msg("closed lead evicted after grace period")
	s.emit(Change{Kind: ChangeEvicted, LeadID: t.leadID, Vertical: vertical, At: s.clock.Now()})
}
