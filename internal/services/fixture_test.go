package services

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"tanda/internal/core"
	"tanda/internal/events"
	"tanda/internal/rails"
	"tanda/internal/storage"
)

// declineGateway always answers with the given code.
type declineGateway struct {
	code  string
	calls int
}

func (g *declineGateway) Debit(context.Context, string, core.Money) error {
	g.calls++
	return &rails.GatewayError{Code: g.code}
}

// flakyGateway fails with a transient code a fixed number of times and then
// succeeds.
type flakyGateway struct {
	failures int
	calls    int
}

func (g *flakyGateway) Debit(context.Context, string, core.Money) error {
	g.calls++
	if g.calls <= g.failures {
		return &rails.GatewayError{Code: rails.CodeNetworkError}
	}
	return nil
}

type fixture struct {
	store         *storage.MemoryStore
	clock         *clockwork.FakeClock
	rail          *rails.LoopbackRail
	backstop      *rails.MemoryBackstop
	gateway       rails.PaymentGateway
	recorder      *events.Recorder
	rules         Rules
	trust         *TrustService
	contributions *ContributionService
	advances      *AdvanceService
	circles       *CircleService
	defaults      *DefaultService
}

func newFixture(t *testing.T, opts ...func(*fixture)) *fixture {
	t.Helper()

	f := &fixture{
		store:    storage.NewMemoryStore(),
		clock:    clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)),
		rail:     rails.NewLoopbackRail(),
		backstop: rails.NewMemoryBackstop(core.Money{Cents: 100_000_00}),
		gateway:  rails.LoopbackGateway{},
		recorder: events.NewRecorder(),
		rules:    DefaultRules(),
	}
	// Tests drive time with the fake clock; zero backoff keeps retries
	// from blocking on a clock nobody advances.
	f.rules.RetryBackoffBase = 0
	for _, opt := range opts {
		opt(f)
	}

	circleLocks := NewKeyedLocks()
	f.trust = NewTrustService(f.store, f.clock)
	f.contributions = NewContributionService(f.store, f.clock, f.trust, f.recorder, f.rules, circleLocks)
	f.advances = NewAdvanceService(f.store, f.clock, f.trust, f.rail, f.gateway, f.recorder, f.rules)
	f.circles = NewCircleService(f.store, f.clock, f.trust, f.contributions, f.advances, f.rail, f.recorder, circleLocks)
	f.defaults = NewDefaultService(f.store, f.clock, f.trust, f.backstop, f.recorder, circleLocks)
	return f
}

func withGateway(g rails.PaymentGateway) func(*fixture) {
	return func(f *fixture) { f.gateway = g }
}

func withBackstop(balance core.Money) func(*fixture) {
	return func(f *fixture) { f.backstop = rails.NewMemoryBackstop(balance) }
}

// setScore seeds a user's trust score as prior history, leaving the
// adjustment log empty.
func (f *fixture) setScore(t *testing.T, userID string, score int) {
	t.Helper()
	f.store.SeedTrustScore(userID, score)
}

// activeCircle builds a circle with the given members already activated.
// Member user IDs are u1..uN with names m1..mN; scores are set before join
// so ScoreAtJoin picks them up.
func (f *fixture) activeCircle(t *testing.T, contribution core.Money, scores ...int) (*core.Circle, []*core.Member) {
	t.Helper()
	ctx := context.Background()

	circle, err := f.circles.CreateCircle(ctx, "test circle", contribution, core.Monthly, len(scores))
	require.NoError(t, err)

	members := make([]*core.Member, len(scores))
	for i, score := range scores {
		userID := userName(i)
		f.setScore(t, userID, score)
		member, err := f.circles.JoinCircle(ctx, circle.ID, userID, memberName(i))
		require.NoError(t, err)
		members[i] = member
		f.clock.Advance(time.Minute)
	}

	circle, err = f.circles.Activate(ctx, circle.ID)
	require.NoError(t, err)
	return circle, members
}

// openCycle opens the next cycle of an active circle.
func (f *fixture) openCycle(t *testing.T, circleID string) *core.Cycle {
	t.Helper()
	cycle, err := f.contributions.OpenCycle(context.Background(), circleID)
	require.NoError(t, err)
	return cycle
}

// payAll records an on-time payment for every member.
func (f *fixture) payAll(t *testing.T, cycleID string, members []*core.Member, amount core.Money) {
	t.Helper()
	for _, m := range members {
		f.payMember(t, cycleID, m, amount)
	}
}

func (f *fixture) payMember(t *testing.T, cycleID string, member *core.Member, amount core.Money) {
	t.Helper()
	if member.Status == core.MemberDefaulted || member.Status == core.MemberExited {
		return
	}
	_, err := f.contributions.RecordPayment(context.Background(), cycleID, member.ID, amount)
	require.NoError(t, err)
}

func userName(i int) string   { return "u" + string(rune('1'+i)) }
func memberName(i int) string { return "m" + string(rune('1'+i)) }
