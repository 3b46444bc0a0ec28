package auction

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

func newTestSynchronizer(t *testing.T) (*Synchronizer, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	s := NewSynchronizer(DefaultConfig(), WithClock(clock))
	t.Cleanup(s.Close)
	return s, clock
}

func liveLead(id string, bids int) Descriptor {
	return Descriptor{ID: id, Vertical: "solar", Status: StatusInAuction, Count: BidCount{Bids: bids}}
}

func liveLeadEndingIn(id string, d time.Duration) Descriptor {
	end := epoch.Add(d)
	lead := liveLead(id, 0)
	lead.AuctionEndAt = &end
	return lead
}

func ms(n int) *time.Duration {
	d := time.Duration(n) * time.Millisecond
	return &d
}

func intPtr(n int) *int { return &n }

func ids(leads []LeadAuctionState) []string {
	out := make([]string, 0, len(leads))
	for _, l := range leads {
		out = append(out, l.ID())
	}
	return out
}

func mustLead(t *testing.T, s *Synchronizer, id string) LeadAuctionState {
	t.Helper()
	st, ok := s.Lead(id)
	assert.True(t, ok)
	return st
}

// waitFor reads changes until one of the given kind arrives for the lead.
func waitFor(t *testing.T, ch <-chan Change, kind ChangeKind, leadID string) Change {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				t.Fatalf("change channel closed waiting for %s", kind)
			}
			if c.Kind == kind && c.LeadID == leadID {
				return c
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s on %s", kind, leadID)
		}
	}
}

func TestRegisterLead_NewLeadSeedsState(t *testing.T) {
	s, _ := newTestSynchronizer(t)

	check.True(t, s.RegisterLead(liveLead("L1", 2)))

	st := mustLead(t, s, "L1")
	check.Equal(t, PhaseLive, st.Phase)
	check.Equal(t, 2, st.LiveBidCount)
}

func TestRegisterLead_KnownOpenLeadIsNoop(t *testing.T) {
	s, _ := newTestSynchronizer(t)
	s.RegisterLead(liveLead("L1", 2))
	s.ApplyBidUpdate(BidUpdate{LeadID: "L1", BidCount: intPtr(6)})

	check.False(t, s.RegisterLead(liveLead("L1", 0)))
	check.Equal(t, 6, mustLead(t, s, "L1").LiveBidCount)
}

func TestRegisterLead_ClosedLeadNotReopenedByClosedStatus(t *testing.T) {
	s, _ := newTestSynchronizer(t)
	s.RegisterLead(liveLead("L1", 1))
	check.Equal(t, CloseApplied, s.CloseAuction("L1", OutcomeUnsold))

	check.False(t, s.RegisterLead(Descriptor{ID: "L1", Status: "UNSOLD", Count: BidCount{Bids: 0}}))

	st := mustLead(t, s, "L1")
	check.Equal(t, PhaseClosed, st.Phase)
	check.Equal(t, OutcomeUnsold, st.Outcome)
	check.Equal(t, 1, st.LiveBidCount)
}

func TestRegisterLead_RelistMatchesFreshRegistration(t *testing.T) {
	s, clock := newTestSynchronizer(t)
	changes, unsubscribe := s.Subscribe(64)
	defer unsubscribe()

	s.RegisterLead(liveLead("L1", 5))
	s.CloseAuction("L1", OutcomeUnsold)

	relist := liveLeadEndingIn("L1", time.Minute)
	check.True(t, s.RegisterLead(relist))
	waitFor(t, changes, ChangeRelisted, "L1")

	fresh, freshClock := newTestSynchronizer(t)
	fresh.RegisterLead(relist)
	check.Equal(t, freshClock.Now(), clock.Now())

	got := mustLead(t, s, "L1")
	want := mustLead(t, fresh, "L1")
	check.Equal(t, want.Phase, got.Phase)
	check.Equal(t, want.LiveBidCount, got.LiveBidCount)
	check.Equal(t, want.LiveRemaining, got.LiveRemaining)
	check.Equal(t, want.Outcome, got.Outcome)
	check.True(t, got.ClosedAt.IsZero())
	check.Equal(t, 0, len(s.Banners()))

	// The eviction scheduled by the first closure must not remove the re-listed lead.
	clock.Advance(time.Minute)
	_, ok := s.Lead("L1")
	check.True(t, ok)
}

func TestRegisterLead_PrependsToOrder(t *testing.T) {
	s, _ := newTestSynchronizer(t)

	s.RegisterLead(liveLead("A", 0))
	s.RegisterLead(liveLead("B", 0))
	check.Equal(t, []string{"B", "A"}, ids(s.OrderedLeads()))

	s.RegisterLead(liveLead("B", 0))
	check.Equal(t, []string{"B", "A"}, ids(s.OrderedLeads()))
}

func TestBulkMerge_AppendsUnknownInOrder(t *testing.T) {
	s, _ := newTestSynchronizer(t)

	check.Equal(t, 3, s.BulkMerge([]Descriptor{liveLead("A", 0), liveLead("B", 0), liveLead("C", 0)}))
	check.Equal(t, []string{"A", "B", "C"}, ids(s.OrderedLeads()))

	s.RegisterLead(liveLead("D", 0))
	check.Equal(t, []string{"D", "A", "B", "C"}, ids(s.OrderedLeads()))

	s.BulkMerge([]Descriptor{liveLead("C", 0), liveLead("E", 0)})
	check.Equal(t, []string{"D", "A", "B", "C", "E"}, ids(s.OrderedLeads()))
}

func TestBulkMerge_NeverResurrectsClosedLead(t *testing.T) {
	s, _ := newTestSynchronizer(t)
	s.BulkMerge([]Descriptor{liveLead("L1", 3)})
	s.CloseAuction("L1", OutcomeSold)
	before := mustLead(t, s, "L1")

	check.Equal(t, 0, s.BulkMerge([]Descriptor{liveLead("L1", 10)}))

	after := mustLead(t, s, "L1")
	check.Equal(t, PhaseClosed, after.Phase)
	check.Equal(t, OutcomeSold, after.Outcome)
	check.Equal(t, before.LiveBidCount, after.LiveBidCount)
	check.Equal(t, before.ClosedAt, after.ClosedAt)
}

func TestBulkMerge_OpenLeadKeepsLiveFields(t *testing.T) {
	s, _ := newTestSynchronizer(t)
	s.BulkMerge([]Descriptor{liveLead("L1", 1)})
	s.ApplyBidUpdate(BidUpdate{LeadID: "L1", RemainingTime: ms(8000), BidCount: intPtr(4)})

	stale := liveLead("L1", 2)
	stale.Vertical = "solar.commercial"
	s.BulkMerge([]Descriptor{stale})

	st := mustLead(t, s, "L1")
	check.Equal(t, "solar.commercial", st.Lead.Vertical)
	check.Equal(t, PhaseClosingSoon, st.Phase)
	check.Equal(t, 4, st.LiveBidCount)
	check.Equal(t, 8*time.Second, st.LiveRemaining)
}

func TestBidCount_MonotonicAcrossSources(t *testing.T) {
	s, _ := newTestSynchronizer(t)
	s.BulkMerge([]Descriptor{liveLead("L1", 0)})

	steps := []func(){
		func() { s.ApplyBidUpdate(BidUpdate{LeadID: "L1", BidCount: intPtr(3)}) },
		func() { s.BulkMerge([]Descriptor{liveLead("L1", 1)}) },
		func() { s.ApplyBidUpdate(BidUpdate{LeadID: "L1", BidCount: intPtr(2)}) },
		func() { s.BulkMerge([]Descriptor{liveLead("L1", 5)}) },
		func() { s.ApplyBidUpdate(BidUpdate{LeadID: "L1", BidCount: intPtr(0)}) },
		func() { s.ApplyBidUpdate(BidUpdate{LeadID: "L1", BidCount: intPtr(6)}) },
	}

	last := mustLead(t, s, "L1").LiveBidCount
	for _, step := range steps {
		step()
		cur := mustLead(t, s, "L1").LiveBidCount
		check.GreaterThanOrEqual(t, cur, last)
		last = cur
	}
	check.Equal(t, 6, last)
}

func TestApplyBidUpdate_DriftCorrection(t *testing.T) {
	s, clock := newTestSynchronizer(t)
	s.RegisterLead(liveLead("L1", 0))

	serverTs := clock.Now()
	clock.Advance(3 * time.Second)
	check.True(t, s.ApplyBidUpdate(BidUpdate{LeadID: "L1", RemainingTime: ms(10000), ServerTime: &serverTs}))

	st := mustLead(t, s, "L1")
	check.Equal(t, 7*time.Second, st.LiveRemaining)
	check.Equal(t, PhaseClosingSoon, st.Phase)
}

func TestApplyBidUpdate_PhaseHeuristic(t *testing.T) {
	s, _ := newTestSynchronizer(t)
	s.RegisterLead(liveLead("L1", 0))

	s.ApplyBidUpdate(BidUpdate{LeadID: "L1", RemainingTime: ms(10000)})
	check.Equal(t, PhaseClosingSoon, mustLead(t, s, "L1").Phase)

	s.ApplyBidUpdate(BidUpdate{LeadID: "L1", RemainingTime: ms(10001)})
	check.Equal(t, PhaseLive, mustLead(t, s, "L1").Phase)

	s.ApplyBidUpdate(BidUpdate{LeadID: "L1", RemainingTime: ms(1)})
	check.Equal(t, PhaseClosingSoon, mustLead(t, s, "L1").Phase)
}

func TestApplyBidUpdate_ZeroRemainingNeverCloses(t *testing.T) {
	s, clock := newTestSynchronizer(t)
	s.RegisterLead(liveLead("live", 0))
	s.RegisterLead(liveLead("urgent", 0))
	s.MarkClosingSoon("urgent")

	s.ApplyBidUpdate(BidUpdate{LeadID: "live", RemainingTime: ms(0)})
	serverTs := clock.Now().Add(-20 * time.Second)
	s.ApplyBidUpdate(BidUpdate{LeadID: "urgent", RemainingTime: ms(5000), ServerTime: &serverTs})

	check.Equal(t, PhaseLive, mustLead(t, s, "live").Phase)
	check.Equal(t, PhaseClosingSoon, mustLead(t, s, "urgent").Phase)
	check.Equal(t, time.Duration(0), mustLead(t, s, "urgent").LiveRemaining)
}

func TestApplyBidUpdate_LastValueWins(t *testing.T) {
	s, _ := newTestSynchronizer(t)
	s.RegisterLead(liveLead("L1", 0))
	first := decimal.RequireFromString("30")
	second := decimal.RequireFromString("25")
	sealed := true

	s.ApplyBidUpdate(BidUpdate{LeadID: "L1", HighestBid: &first, Sealed: &sealed})
	s.ApplyBidUpdate(BidUpdate{LeadID: "L1", HighestBid: &second})

	st := mustLead(t, s, "L1")
	check.True(t, st.LiveHighestBid.Equal(second))
	check.True(t, st.Sealed)
}

func TestApplyBidUpdate_UnknownOrClosedIsNoop(t *testing.T) {
	s, _ := newTestSynchronizer(t)
	check.False(t, s.ApplyBidUpdate(BidUpdate{LeadID: "ghost", BidCount: intPtr(1)}))
	_, ok := s.Lead("ghost")
	check.False(t, ok)

	s.RegisterLead(liveLead("L1", 1))
	s.CloseAuction("L1", OutcomeUnsold)
	check.False(t, s.ApplyBidUpdate(BidUpdate{LeadID: "L1", BidCount: intPtr(9), RemainingTime: ms(60000)}))

	st := mustLead(t, s, "L1")
	check.Equal(t, PhaseClosed, st.Phase)
	check.Equal(t, 1, st.LiveBidCount)
}

func TestMarkClosingSoon(t *testing.T) {
	s, _ := newTestSynchronizer(t)
	s.RegisterLead(liveLead("L1", 2))
	s.ApplyBidUpdate(BidUpdate{LeadID: "L1", RemainingTime: ms(60000)})

	check.True(t, s.MarkClosingSoon("L1"))
	st := mustLead(t, s, "L1")
	check.Equal(t, PhaseClosingSoon, st.Phase)
	check.Equal(t, 60*time.Second, st.LiveRemaining)
	check.Equal(t, 2, st.LiveBidCount)

	check.False(t, s.MarkClosingSoon("ghost"))
	s.ApplyBidUpdate(BidUpdate{LeadID: "L1", RemainingTime: ms(2000)})
	s.CloseAuction("L1", OutcomeSold)
	check.False(t, s.MarkClosingSoon("L1"))
	check.Equal(t, PhaseClosed, mustLead(t, s, "L1").Phase)
}

func TestCloseAuction_UnknownIsIgnored(t *testing.T) {
	s, _ := newTestSynchronizer(t)
	check.Equal(t, CloseIgnored, s.CloseAuction("ghost", OutcomeSold))
	check.Equal(t, 0, s.Len())
}

func TestCloseAuction_PrematureGuard(t *testing.T) {
	s, _ := newTestSynchronizer(t)
	s.RegisterLead(liveLead("far", 0))
	s.RegisterLead(liveLead("near", 0))
	s.ApplyBidUpdate(BidUpdate{LeadID: "far", RemainingTime: ms(30000)})
	s.ApplyBidUpdate(BidUpdate{LeadID: "near", RemainingTime: ms(2000)})

	check.Equal(t, CloseDropped, s.CloseAuction("far", OutcomeUnsold))
	check.Equal(t, PhaseLive, mustLead(t, s, "far").Phase)
	check.Equal(t, 0, len(s.Banners()))

	check.Equal(t, CloseApplied, s.CloseAuction("near", OutcomeUnsold))
	st := mustLead(t, s, "near")
	check.Equal(t, PhaseClosed, st.Phase)
	check.True(t, st.IsClosed())
	check.Equal(t, time.Duration(0), st.LiveRemaining)
}

func TestCloseAuction_GuardUsesDecayedRemaining(t *testing.T) {
	s, clock := newTestSynchronizer(t)
	s.RegisterLead(liveLead("L1", 0))
	s.ApplyBidUpdate(BidUpdate{LeadID: "L1", RemainingTime: ms(30000)})

	clock.Advance(26 * time.Second)
	check.Equal(t, CloseApplied, s.CloseAuction("L1", OutcomeSold))
}

func TestCloseAuction_GuardSeededFromEndTime(t *testing.T) {
	s, _ := newTestSynchronizer(t)
	s.RegisterLead(liveLeadEndingIn("L1", time.Hour))

	check.Equal(t, CloseDropped, s.CloseAuction("L1", OutcomeUnsold))
	check.False(t, mustLead(t, s, "L1").IsClosed())
}

func TestCloseAuction_Idempotent(t *testing.T) {
	s, _ := newTestSynchronizer(t)
	s.RegisterLead(liveLead("L1", 1))

	check.Equal(t, CloseApplied, s.CloseAuction("L1", OutcomeUnsold))
	once := mustLead(t, s, "L1")
	check.Equal(t, CloseIgnored, s.CloseAuction("L1", OutcomeUnsold))
	twice := mustLead(t, s, "L1")

	check.Equal(t, once.Phase, twice.Phase)
	check.Equal(t, once.Outcome, twice.Outcome)
	check.Equal(t, once.ClosedAt, twice.ClosedAt)
	check.Equal(t, once.FadeOutAt, twice.FadeOutAt)
	check.Equal(t, once.LiveBidCount, twice.LiveBidCount)
}

func TestCloseAuction_SoldUpgradesUnsold(t *testing.T) {
	s, _ := newTestSynchronizer(t)
	s.RegisterLead(liveLead("L1", 1))

	check.Equal(t, CloseApplied, s.CloseAuction("L1", OutcomeUnsold))
	check.Equal(t, CloseUpgraded, s.CloseAuction("L1", OutcomeSold))

	check.Equal(t, OutcomeSold, mustLead(t, s, "L1").Outcome)
	check.Equal(t, OutcomeSold, s.Banners()["L1"])
	check.Equal(t, CloseIgnored, s.CloseAuction("L1", OutcomeSold))
}

func TestCloseAuction_UnsoldNeverDowngradesSold(t *testing.T) {
	s, _ := newTestSynchronizer(t)
	s.RegisterLead(liveLead("L1", 1))

	s.CloseAuction("L1", OutcomeSold)
	check.Equal(t, CloseIgnored, s.CloseAuction("L1", OutcomeUnsold))
	check.Equal(t, OutcomeSold, mustLead(t, s, "L1").Outcome)
}

func TestCloseAuction_UpgradeKeepsOriginalEviction(t *testing.T) {
	s, clock := newTestSynchronizer(t)
	changes, unsubscribe := s.Subscribe(64)
	defer unsubscribe()
	s.RegisterLead(liveLead("L1", 1))

	s.CloseAuction("L1", OutcomeUnsold)
	closed := mustLead(t, s, "L1")
	clock.Advance(10 * time.Second)
	s.CloseAuction("L1", OutcomeSold)
	check.Equal(t, closed.FadeOutAt, mustLead(t, s, "L1").FadeOutAt)

	clock.Advance(5 * time.Second)
	waitFor(t, changes, ChangeEvicted, "L1")
	_, ok := s.Lead("L1")
	check.False(t, ok)
}

func TestCloseAuction_UpgradeRebasesEvictionWhenConfigured(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	cfg := DefaultConfig()
	cfg.RebaseEvictionOnUpgrade = true
	s := NewSynchronizer(cfg, WithClock(clock))
	t.Cleanup(s.Close)
	changes, unsubscribe := s.Subscribe(64)
	defer unsubscribe()
	s.RegisterLead(liveLead("L1", 1))

	s.CloseAuction("L1", OutcomeUnsold)
	clock.Advance(10 * time.Second)
	s.CloseAuction("L1", OutcomeSold)
	check.Equal(t, clock.Now().Add(cfg.EvictionGrace), mustLead(t, s, "L1").FadeOutAt)

	clock.Advance(5 * time.Second)
	_, ok := s.Lead("L1")
	check.True(t, ok)

	clock.Advance(10 * time.Second)
	waitFor(t, changes, ChangeEvicted, "L1")
}

func TestCloseAuction_BannerClearsBeforeEviction(t *testing.T) {
	s, clock := newTestSynchronizer(t)
	changes, unsubscribe := s.Subscribe(64)
	defer unsubscribe()
	s.RegisterLead(liveLead("L1", 1))

	s.CloseAuction("L1", OutcomeUnsold)
	check.Equal(t, OutcomeUnsold, s.Banners()["L1"])

	clock.Advance(s.Config().BannerDuration)
	waitFor(t, changes, ChangeBannerCleared, "L1")
	_, shown := s.Banners()["L1"]
	check.False(t, shown)
	_, ok := s.Lead("L1")
	check.True(t, ok)
}

func TestEvict_Idempotent(t *testing.T) {
	s, clock := newTestSynchronizer(t)
	s.RegisterLead(liveLead("A", 0))
	s.RegisterLead(liveLead("B", 0))
	s.CloseAuction("B", OutcomeSold)

	s.Evict("B")
	s.Evict("B")
	s.Evict("ghost")

	check.Equal(t, []string{"A"}, ids(s.OrderedLeads()))
	check.Equal(t, 0, len(s.Banners()))

	// A stale eviction timer must not fire into a re-registered lead.
	s.RegisterLead(liveLead("B", 0))
	clock.Advance(time.Minute)
	_, ok := s.Lead("B")
	check.True(t, ok)
}

func TestOrderedLeads_ReturnsCopies(t *testing.T) {
	s, _ := newTestSynchronizer(t)
	s.RegisterLead(liveLead("L1", 1))

	leads := s.OrderedLeads()
	leads[0].LiveBidCount = 99
	leads[0].Phase = PhaseClosed

	st := mustLead(t, s, "L1")
	check.Equal(t, 1, st.LiveBidCount)
	check.Equal(t, PhaseLive, st.Phase)
}

func TestSubscribe_EmitsChangesAndUnsubscribes(t *testing.T) {
	s, _ := newTestSynchronizer(t)
	changes, unsubscribe := s.Subscribe(8)

	s.RegisterLead(liveLead("L1", 0))
	s.MarkClosingSoon("L1")
	s.CloseAuction("L1", OutcomeSold)

	check.Equal(t, ChangeRegistered, (<-changes).Kind)
	check.Equal(t, ChangeClosingSoon, (<-changes).Kind)
	closed := <-changes
	check.Equal(t, ChangeClosed, closed.Kind)
	check.Equal(t, OutcomeSold, closed.Outcome)

	unsubscribe()
	unsubscribe()
	_, open := <-changes
	check.False(t, open)
}

func TestEndToEnd_SnapshotSocketClosureEviction(t *testing.T) {
	s, clock := newTestSynchronizer(t)
	changes, unsubscribe := s.Subscribe(64)
	defer unsubscribe()

	s.RegisterLead(Descriptor{ID: "L1", Vertical: "mortgage", Status: StatusInAuction, Count: BidCount{Bids: 2}})
	st := mustLead(t, s, "L1")
	check.Equal(t, 2, st.LiveBidCount)
	check.Equal(t, PhaseLive, st.Phase)

	s.ApplyBidUpdate(BidUpdate{LeadID: "L1", BidCount: intPtr(1)})
	check.Equal(t, 2, mustLead(t, s, "L1").LiveBidCount)

	s.MarkClosingSoon("L1")
	check.Equal(t, PhaseClosingSoon, mustLead(t, s, "L1").Phase)

	check.Equal(t, CloseApplied, s.CloseAuction("L1", OutcomeSold))
	check.Equal(t, PhaseClosed, mustLead(t, s, "L1").Phase)
	check.Equal(t, OutcomeSold, s.Banners()["L1"])

	clock.Advance(s.Config().EvictionGrace)
	waitFor(t, changes, ChangeEvicted, "L1")
	_, ok := s.Lead("L1")
	check.False(t, ok)
	check.Equal(t, 0, len(s.OrderedLeads()))
}

func TestChangesCarryStateAndVertical(t *testing.T) {
	s, _ := newTestSynchronizer(t)
	ch, unsubscribe := s.Subscribe(16)
	defer unsubscribe()

	s.RegisterLead(liveLead("L1", 3))
	registered := waitFor(t, ch, ChangeRegistered, "L1")
	check.Equal(t, "solar", registered.Vertical)
	assert.NotNil(t, registered.State)
	check.Equal(t, 3, registered.State.LiveBidCount)

	s.Evict("L1")
	evicted := waitFor(t, ch, ChangeEvicted, "L1")
	check.Equal(t, "solar", evicted.Vertical)
	check.Nil(t, evicted.State)
}

func TestSnapshot_BannersMatchLeads(t *testing.T) {
	s, _ := newTestSynchronizer(t)
	s.RegisterLead(liveLead("A", 0))
	s.RegisterLead(liveLead("B", 1))
	s.CloseAuction("A", OutcomeUnsold)
	s.CloseAuction("B", OutcomeSold)

	leads, banners := s.Snapshot()
	check.Equal(t, []string{"B", "A"}, ids(leads))
	check.Equal(t, map[string]Outcome{"A": OutcomeUnsold, "B": OutcomeSold}, banners)

	s.Evict("A")
	leads, banners = s.Snapshot()
	check.Equal(t, []string{"B"}, ids(leads))
	check.Equal(t, map[string]Outcome{"B": OutcomeSold}, banners)
}
