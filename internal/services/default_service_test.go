package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tanda/internal/core"
)

// Contribution unpaid past the grace deadline: the member defaults, loses
// 20 points, the backstop covers the $200 shortfall, and the cycle still
// closes on schedule.
func TestSweepExpiredDefaultsAndBackstops(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	amount := core.Money{Cents: 20000}
	circle, members := f.activeCircle(t, amount, 80, 60, 50)
	cycle := f.openCycle(t, circle.ID)

	f.payMember(t, cycle.ID, members[0], amount)
	f.payMember(t, cycle.ID, members[1], amount)

	before := f.backstop.Balance()
	f.clock.Advance(40 * 24 * time.Hour)
	require.NoError(t, f.defaults.SweepExpired(ctx))

	contribution, err := f.store.GetContribution(ctx, cycle.ID, members[2].ID)
	require.NoError(t, err)
	assert.Equal(t, core.ContributionDefaulted, contribution.Status)
	assert.Equal(t, core.CoveredByBackstop, contribution.ShortfallCovered)

	member, err := f.store.GetMember(ctx, members[2].ID)
	require.NoError(t, err)
	assert.Equal(t, core.MemberDefaulted, member.Status)

	score, err := f.trust.Snapshot(ctx, "u3")
	require.NoError(t, err)
	assert.Equal(t, 30, score)

	assert.Equal(t, before.Sub(amount), f.backstop.Balance())
	assert.Contains(t, f.recorder.Kinds(), core.EventMemberDefaulted)

	require.NoError(t, f.circles.CloseCycle(ctx, cycle.ID))
	got, err := f.store.GetCycle(ctx, cycle.ID)
	require.NoError(t, err)
	assert.Equal(t, core.CycleSettled, got.Status)
}

func TestSweepExpiredIgnoresCyclesInGrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	circle, _ := f.activeCircle(t, core.Money{Cents: 20000}, 80, 60)
	cycle := f.openCycle(t, circle.ID)

	f.clock.Advance(cycle.DueAt.Sub(f.clock.Now()) + time.Hour)
	require.NoError(t, f.defaults.SweepExpired(ctx))

	contributions, err := f.store.ListContributions(ctx, cycle.ID)
	require.NoError(t, err)
	for _, c := range contributions {
		assert.Equal(t, core.ContributionPending, c.Status)
	}
}

func TestHandleDefaultWithoutBackstopLeavesCycleBlocked(t *testing.T) {
	f := newFixture(t, withBackstop(core.Money{Cents: 100}))
	ctx := context.Background()
	amount := core.Money{Cents: 20000}
	circle, members := f.activeCircle(t, amount, 80, 60)
	cycle := f.openCycle(t, circle.ID)

	f.payMember(t, cycle.ID, members[0], amount)
	f.clock.Advance(40 * 24 * time.Hour)
	require.NoError(t, f.defaults.HandleDefault(ctx, cycle.ID, members[1].ID))

	contribution, err := f.store.GetContribution(ctx, cycle.ID, members[1].ID)
	require.NoError(t, err)
	assert.Equal(t, core.ContributionDefaulted, contribution.Status)
	assert.Empty(t, contribution.ShortfallCovered)

	err = f.circles.CloseCycle(ctx, cycle.ID)
	assert.ErrorIs(t, err, core.ErrCycleNotCloseable)
}

func TestReplaceMemberInheritsSlot(t *testing.T) {
	f := newFixture(t, withBackstop(core.Money{Cents: 0}))
	ctx := context.Background()
	amount := core.Money{Cents: 20000}
	circle, members := f.activeCircle(t, amount, 80, 60, 50)
	defaulter := members[1]
	position := *mustMember(t, f, defaulter.ID).PayoutPosition

	cycle := f.openCycle(t, circle.ID)
	f.payMember(t, cycle.ID, members[0], amount)
	f.payMember(t, cycle.ID, members[2], amount)

	f.clock.Advance(40 * 24 * time.Hour)
	require.NoError(t, f.defaults.HandleDefault(ctx, cycle.ID, defaulter.ID))

	replacement, err := f.defaults.ReplaceMember(ctx, circle.ID, defaulter.ID, "u9", "newcomer")
	require.NoError(t, err)
	require.NotNil(t, replacement.PayoutPosition)
	assert.Equal(t, position, *replacement.PayoutPosition)

	// The order keeps its shape with the new member in the vacated slot.
	order, err := f.circles.PayoutOrder(ctx, circle.ID)
	require.NoError(t, err)
	assert.Equal(t, replacement.ID, order[position])
	assert.NotContains(t, order, defaulter.ID)

	// The old member stays defaulted and the covered contribution lets the
	// cycle close once the newcomer pays.
	old, err := f.store.GetMember(ctx, defaulter.ID)
	require.NoError(t, err)
	assert.Equal(t, core.MemberDefaulted, old.Status)

	defaulted, err := f.store.GetContribution(ctx, cycle.ID, defaulter.ID)
	require.NoError(t, err)
	assert.Equal(t, core.CoveredByReplacement, defaulted.ShortfallCovered)

	// The grace deadline has passed, so the newcomer's first obligation is
	// the next cycle and this one can close right away.
	_, err = f.store.GetContribution(ctx, cycle.ID, replacement.ID)
	assert.ErrorIs(t, err, core.ErrUnknownContribution)
	require.NoError(t, f.circles.CloseCycle(ctx, cycle.ID))

	// Nobody funded the vacated slot, so the pot is only what the two
	// paying members put in.
	disbursed := f.rail.Disbursed()
	require.NotEmpty(t, disbursed)
	last := disbursed[len(disbursed)-1]
	assert.Equal(t, members[0].ID, last.Destination)
	assert.Equal(t, amount.Mul(2), last.Amount)
}

func TestReplaceMemberWithinGraceOwesCurrentCycle(t *testing.T) {
	f := newFixture(t, withBackstop(core.Money{Cents: 0}))
	ctx := context.Background()
	amount := core.Money{Cents: 20000}
	circle, members := f.activeCircle(t, amount, 80, 60)
	cycle := f.openCycle(t, circle.ID)

	f.payMember(t, cycle.ID, members[0], amount)
	require.NoError(t, f.defaults.HandleDefault(ctx, cycle.ID, members[1].ID))

	replacement, err := f.defaults.ReplaceMember(ctx, circle.ID, members[1].ID, "u9", "newcomer")
	require.NoError(t, err)

	owed, err := f.store.GetContribution(ctx, cycle.ID, replacement.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ContributionPending, owed.Status)

	// Blocked until the newcomer pays.
	err = f.circles.CloseCycle(ctx, cycle.ID)
	assert.ErrorIs(t, err, core.ErrCycleNotCloseable)

	_, err = f.contributions.RecordPayment(ctx, cycle.ID, replacement.ID, amount)
	require.NoError(t, err)
	require.NoError(t, f.circles.CloseCycle(ctx, cycle.ID))
}

func TestReplaceMemberRequiresDefaulted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	circle, members := f.activeCircle(t, core.Money{Cents: 20000}, 80, 60)

	_, err := f.defaults.ReplaceMember(ctx, circle.ID, members[0].ID, "u9", "newcomer")
	assert.ErrorIs(t, err, core.ErrMemberNotDefaulted)
}

func mustMember(t *testing.T, f *fixture, memberID string) *core.Member {
	t.Helper()
	member, err := f.store.GetMember(context.Background(), memberID)
	require.NoError(t, err)
	return member
}
