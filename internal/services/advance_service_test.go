package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tanda/internal/core"
	"tanda/internal/rails"
)

// advanceFixture builds a five-member $100 circle, so the expected payout
// is $500 and the advance cap $400.
func advanceFixture(t *testing.T, opts ...func(*fixture)) (*fixture, *core.Circle, []*core.Member) {
	t.Helper()
	f := newFixture(t, opts...)
	circle, members := f.activeCircle(t, core.Money{Cents: 10000}, 70, 60, 55, 50, 45)
	return f, circle, members
}

func TestRequestAdvanceCapsPrincipal(t *testing.T) {
	f, circle, members := advanceFixture(t)
	ctx := context.Background()

	advance, err := f.advances.RequestAdvance(ctx, "u1", circle.ID, core.Money{Cents: 99999999})
	require.NoError(t, err)

	// Principal never exceeds 80% of the expected payout.
	assert.Equal(t, int64(40000), advance.Principal.Cents)
	assert.Equal(t, core.AdvanceOutstanding, advance.Status)
	assert.Equal(t, members[0].ID, advance.MemberID)

	// The principal reached the member's destination.
	disbursed := f.rail.Disbursed()
	require.NotEmpty(t, disbursed)
	last := disbursed[len(disbursed)-1]
	assert.Equal(t, members[0].ID, last.Destination)
	assert.Equal(t, int64(40000), last.Amount.Cents)
}

func TestRequestAdvanceFeeTiers(t *testing.T) {
	tests := []struct {
		name    string
		score   int
		wantFee int64
	}{
		{"high trust", 85, 1200},
		{"mid trust", 65, 2000},
		{"low trust", 45, 3200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			circle, _ := f.activeCircle(t, core.Money{Cents: 10000}, tt.score, 60, 55, 50, 45)
			ctx := context.Background()

			advance, err := f.advances.RequestAdvance(ctx, "u1", circle.ID, core.Money{Cents: 40000})
			require.NoError(t, err)
			assert.Equal(t, int64(40000), advance.Principal.Cents)
			assert.Equal(t, tt.wantFee, advance.Fee.Cents)
		})
	}
}

func TestRequestAdvanceRefusals(t *testing.T) {
	f, circle, _ := advanceFixture(t)
	ctx := context.Background()

	// Below the score floor.
	f.setScore(t, "u5", 39)
	_, err := f.advances.RequestAdvance(ctx, "u5", circle.ID, core.Money{Cents: 10000})
	assert.ErrorIs(t, err, core.ErrInsufficientScore)

	// One outstanding advance per user, across circles.
	_, err = f.advances.RequestAdvance(ctx, "u1", circle.ID, core.Money{Cents: 10000})
	require.NoError(t, err)
	_, err = f.advances.RequestAdvance(ctx, "u1", circle.ID, core.Money{Cents: 10000})
	assert.ErrorIs(t, err, core.ErrAdvanceOutstanding)

	// Not a member.
	_, err = f.advances.RequestAdvance(ctx, "stranger", circle.ID, core.Money{Cents: 10000})
	assert.ErrorIs(t, err, core.ErrUnknownMember)
}

// $400 advance at 5% against a $500 payout: settlement withholds $420 and
// nets the member $80.
func TestSettleAtPayoutFullRecovery(t *testing.T) {
	f, circle, _ := advanceFixture(t)
	ctx := context.Background()

	advance, err := f.advances.RequestAdvance(ctx, "u1", circle.ID, core.Money{Cents: 40000})
	require.NoError(t, err)
	require.Equal(t, int64(42000), advance.TotalDue().Cents)

	net, err := f.advances.SettleAtPayout(ctx, advance.ID, circle.ExpectedPayout())
	require.NoError(t, err)
	assert.Equal(t, int64(8000), net.Cents)

	settled, err := f.store.GetAdvance(ctx, advance.ID)
	require.NoError(t, err)
	assert.Equal(t, core.AdvanceRepaid, settled.Status)
	assert.True(t, settled.Residual.IsZero())

	// Full recovery carries no score penalty.
	score, err := f.trust.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 70, score)
}

// Same advance, but the gross payout is only $300: everything is
// withheld, the advance fails with a $120 receivable, and the score drops
// by 20.
func TestSettleAtPayoutShortfall(t *testing.T) {
	f, circle, _ := advanceFixture(t)
	ctx := context.Background()

	advance, err := f.advances.RequestAdvance(ctx, "u1", circle.ID, core.Money{Cents: 40000})
	require.NoError(t, err)

	net, err := f.advances.SettleAtPayout(ctx, advance.ID, core.Money{Cents: 30000})
	require.NoError(t, err)
	assert.True(t, net.IsZero())

	failed, err := f.store.GetAdvance(ctx, advance.ID)
	require.NoError(t, err)
	assert.Equal(t, core.AdvanceFailed, failed.Status)
	assert.Equal(t, int64(12000), failed.Residual.Cents)

	score, err := f.trust.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 50, score)

	// An unresolved receivable restricts new circles and advances.
	restricted, err := f.advances.Restricted(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, restricted)

	other, err := f.circles.CreateCircle(ctx, "other", core.Money{Cents: 5000}, core.Weekly, 3)
	require.NoError(t, err)
	_, err = f.circles.JoinCircle(ctx, other.ID, "u1", "again")
	assert.ErrorIs(t, err, core.ErrMemberRestricted)

	_, err = f.advances.RequestAdvance(ctx, "u1", circle.ID, core.Money{Cents: 10000})
	assert.ErrorIs(t, err, core.ErrMemberRestricted)
}

func TestCollectResidualRetriesTransientFailures(t *testing.T) {
	gateway := &flakyGateway{failures: 2}
	f, circle, _ := advanceFixture(t, withGateway(gateway))
	ctx := context.Background()

	advance, err := f.advances.RequestAdvance(ctx, "u1", circle.ID, core.Money{Cents: 40000})
	require.NoError(t, err)
	_, err = f.advances.SettleAtPayout(ctx, advance.ID, core.Money{Cents: 30000})
	require.NoError(t, err)

	require.NoError(t, f.advances.CollectResidual(ctx, advance.ID))
	assert.Equal(t, 3, gateway.calls)

	cleared, err := f.store.GetAdvance(ctx, advance.ID)
	require.NoError(t, err)
	assert.Equal(t, core.AdvanceRepaid, cleared.Status)
	assert.True(t, cleared.Residual.IsZero())

	restricted, err := f.advances.Restricted(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, restricted)
}

func TestCollectResidualDeclineStartsGrace(t *testing.T) {
	gateway := &declineGateway{code: rails.CodeInsufficientFunds}
	f, circle, _ := advanceFixture(t, withGateway(gateway))
	ctx := context.Background()

	advance, err := f.advances.RequestAdvance(ctx, "u1", circle.ID, core.Money{Cents: 40000})
	require.NoError(t, err)
	_, err = f.advances.SettleAtPayout(ctx, advance.ID, core.Money{Cents: 30000})
	require.NoError(t, err)

	err = f.advances.CollectResidual(ctx, advance.ID)
	require.Error(t, err)
	// A decline is a decision, not a failure: exactly one attempt.
	assert.Equal(t, 1, gateway.calls)

	declined, err := f.store.GetAdvance(ctx, advance.ID)
	require.NoError(t, err)
	require.NotNil(t, declined.RepayGraceUntil)
	assert.Equal(t, core.AdvanceFailed, declined.Status)

	// Before the grace deadline the sweep leaves it alone.
	require.NoError(t, f.advances.SweepRepayGrace(ctx))
	kept, err := f.store.GetAdvance(ctx, advance.ID)
	require.NoError(t, err)
	assert.Equal(t, core.AdvanceFailed, kept.Status)

	// Past it, the advance is written off and the user stays restricted.
	f.clock.Advance(time.Duration(f.rules.GracePeriodDays+1) * 24 * time.Hour)
	require.NoError(t, f.advances.SweepRepayGrace(ctx))

	written, err := f.store.GetAdvance(ctx, advance.ID)
	require.NoError(t, err)
	assert.Equal(t, core.AdvanceWrittenOff, written.Status)

	restricted, err := f.advances.Restricted(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, restricted)
}

func TestRequestAdvanceRefusedForPaidOutMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	amount := core.Money{Cents: 10000}
	circle, members := f.activeCircle(t, amount, 80, 60)

	cycle := f.openCycle(t, circle.ID)
	f.payAll(t, cycle.ID, members, amount)
	require.NoError(t, f.circles.CloseCycle(ctx, cycle.ID))

	// First in the payout order has been paid; nothing left to draw
	// against.
	_, err := f.advances.RequestAdvance(ctx, "u1", circle.ID, core.Money{Cents: 5000})
	assert.ErrorIs(t, err, core.ErrMemberPaidOut)
}
