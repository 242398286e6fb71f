package worker

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tanda/internal/core"
	"tanda/internal/events"
	"tanda/internal/rails"
	"tanda/internal/services"
	"tanda/internal/storage"
)

type harness struct {
	store    *storage.MemoryStore
	clock    *clockwork.FakeClock
	circles  *services.CircleService
	contribs *services.ContributionService
	worker   *Worker
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := storage.NewMemoryStore()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC))
	rules := services.DefaultRules()
	rules.RetryBackoffBase = 0
	publisher := events.NewRecorder()
	rail := rails.NewLoopbackRail()
	backstop := rails.NewMemoryBackstop(core.Money{Cents: 100_000_00})

	circleLocks := services.NewKeyedLocks()
	trust := services.NewTrustService(store, clock)
	contribs := services.NewContributionService(store, clock, trust, publisher, rules, circleLocks)
	advances := services.NewAdvanceService(store, clock, trust, rail, rails.LoopbackGateway{}, publisher, rules)
	circles := services.NewCircleService(store, clock, trust, contribs, advances, rail, publisher, circleLocks)
	defaults := services.NewDefaultService(store, clock, trust, backstop, publisher, circleLocks)

	return &harness{
		store:    store,
		clock:    clock,
		circles:  circles,
		contribs: contribs,
		worker:   New(store, clock, circles, defaults, advances, time.Minute),
	}
}

func (h *harness) activeCircle(t *testing.T, amount core.Money, members int) (*core.Circle, []string) {
	t.Helper()
	ctx := context.Background()

	circle, err := h.circles.CreateCircle(ctx, "sweep test", amount, core.Monthly, members)
	require.NoError(t, err)
	memberIDs := make([]string, members)
	for i := 0; i < members; i++ {
		userID := string(rune('a' + i))
		member, err := h.circles.JoinCircle(ctx, circle.ID, userID, userID)
		require.NoError(t, err)
		memberIDs[i] = member.ID
	}
	circle, err = h.circles.Activate(ctx, circle.ID)
	require.NoError(t, err)
	return circle, memberIDs
}

func TestSweepOpensCycleForActiveCircles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	circle, _ := h.activeCircle(t, core.Money{Cents: 10000}, 2)

	h.worker.Sweep(ctx)

	cycle, err := h.store.UnsettledCycle(ctx, circle.ID)
	require.NoError(t, err)
	assert.Equal(t, core.CycleOpen, cycle.Status)
}

func TestSweepSettlesFullyPaidCycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	amount := core.Money{Cents: 10000}
	circle, memberIDs := h.activeCircle(t, amount, 2)

	h.worker.Sweep(ctx)
	cycle, err := h.store.UnsettledCycle(ctx, circle.ID)
	require.NoError(t, err)

	for _, id := range memberIDs {
		_, err := h.contribs.RecordPayment(ctx, cycle.ID, id, amount)
		require.NoError(t, err)
	}

	h.worker.Sweep(ctx)

	settled, err := h.store.GetCycle(ctx, cycle.ID)
	require.NoError(t, err)
	assert.Equal(t, core.CycleSettled, settled.Status)

	// The following sweep opens the next cycle.
	h.worker.Sweep(ctx)
	next, err := h.store.UnsettledCycle(ctx, circle.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, next.Sequence)
}

func TestSweepDefaultsExpiredObligations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	amount := core.Money{Cents: 10000}
	circle, memberIDs := h.activeCircle(t, amount, 2)

	h.worker.Sweep(ctx)
	cycle, err := h.store.UnsettledCycle(ctx, circle.ID)
	require.NoError(t, err)

	_, err = h.contribs.RecordPayment(ctx, cycle.ID, memberIDs[0], amount)
	require.NoError(t, err)

	// Nobody else pays. Past the grace deadline one sweep defaults the
	// straggler, covers the shortfall, and settles the cycle.
	h.clock.Advance(cycle.GraceUntil.Sub(h.clock.Now()) + time.Hour)
	h.worker.Sweep(ctx)

	contribution, err := h.store.GetContribution(ctx, cycle.ID, memberIDs[1])
	require.NoError(t, err)
	assert.Equal(t, core.ContributionDefaulted, contribution.Status)
	assert.Equal(t, core.CoveredByBackstop, contribution.ShortfallCovered)

	settled, err := h.store.GetCycle(ctx, cycle.ID)
	require.NoError(t, err)
	assert.Equal(t, core.CycleSettled, settled.Status)
}
