package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tanda/internal/core"
)

func TestRegisterIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	score, err := f.trust.Register(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, core.InitialScore, score)

	_, err = f.trust.Adjust(ctx, "u1", core.ReasonOnTimePayment)
	require.NoError(t, err)

	// A second registration must not reset the score.
	score, err = f.trust.Register(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, core.InitialScore+1, score)
}

func TestAdjustAppliesReasonDeltas(t *testing.T) {
	tests := []struct {
		name   string
		reason core.AdjustReason
		want   int
	}{
		{"on time payment", core.ReasonOnTimePayment, 51},
		{"late payment", core.ReasonLatePayment, 45},
		{"default", core.ReasonDefault, 30},
		{"advance default", core.ReasonAdvanceDefault, 30},
		{"early exit", core.ReasonEarlyExit, 40},
		{"elder bonus", core.ReasonElderBonus, 52},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			_, err := f.trust.Register(ctx, "u1")
			require.NoError(t, err)

			score, err := f.trust.Adjust(ctx, "u1", tt.reason)
			require.NoError(t, err)
			assert.Equal(t, tt.want, score)
		})
	}
}

func TestAdjustRejectsUnknownReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.trust.Register(ctx, "u1")
	require.NoError(t, err)

	_, err = f.trust.Adjust(ctx, "u1", core.AdjustReason("bribe"))
	require.Error(t, err)
}

func TestAdjustClampsAtBounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setScore(t, "u1", 5)

	score, err := f.trust.Adjust(ctx, "u1", core.ReasonDefault)
	require.NoError(t, err)
	assert.Equal(t, core.MinScore, score)

	// The logged delta is post-clamp, so replay matches the stored score.
	history, err := f.trust.History(ctx, "u1")
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, -5, last.Delta)
}

func TestReplayReproducesStoredScore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.trust.Register(ctx, "u1")
	require.NoError(t, err)

	reasons := []core.AdjustReason{
		core.ReasonOnTimePayment,
		core.ReasonOnTimePayment,
		core.ReasonLatePayment,
		core.ReasonDefault,
		core.ReasonElderBonus,
		core.ReasonOnTimePayment,
	}
	var stored int
	for _, reason := range reasons {
		stored, err = f.trust.Adjust(ctx, "u1", reason)
		require.NoError(t, err)
	}

	replayed, err := f.trust.Replay(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, stored, replayed)

	snapshot, err := f.trust.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, replayed, snapshot)
}

// Seeded scores stand in for prior history: they leave the adjustment log
// empty, and adjustments on top of them record their real deltas.
func TestSeededScoreKeepsHistoryHonest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setScore(t, "u1", 70)

	history, err := f.trust.History(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, history)

	score, err := f.trust.Adjust(ctx, "u1", core.ReasonLatePayment)
	require.NoError(t, err)
	assert.Equal(t, 65, score)

	history, err = f.trust.History(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, core.ReasonLatePayment, history[0].Reason)
	assert.Equal(t, -5, history[0].Delta)
}

func TestHistoryUnknownUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.trust.History(context.Background(), "nobody")
	assert.ErrorIs(t, err, core.ErrUnknownMember)
}
