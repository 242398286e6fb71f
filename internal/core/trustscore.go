package core

import "time"

// Trust score bounds. Every user starts at InitialScore; the score only
// moves through adjustment-log entries and is clamped to [MinScore, MaxScore].
const (
	MinScore     = 0
	MaxScore     = 100
	InitialScore = 50
)

// Adjustment reasons form a closed enumeration; each carries a fixed delta.
const (
	ReasonOnTimePayment  AdjustReason = "on_time_payment"
	ReasonLatePayment    AdjustReason = "late_payment"
	ReasonDefault        AdjustReason = "default"
	ReasonAdvanceDefault AdjustReason = "advance_default"
	ReasonEarlyExit      AdjustReason = "early_exit"
	ReasonElderBonus     AdjustReason = "elder_bonus"
)

type AdjustReason string

var adjustDeltas = map[AdjustReason]int{
	ReasonOnTimePayment:  +1,
	ReasonLatePayment:    -5,
	ReasonDefault:        -20,
	ReasonAdvanceDefault: -20,
	ReasonEarlyExit:      -10,
	ReasonElderBonus:     +2,
}

func (r AdjustReason) Valid() bool {
	_, ok := adjustDeltas[r]
	return ok
}

// Delta returns the signed score change for the reason; zero for unknown
// reasons, which Valid guards against upstream.
func (r AdjustReason) Delta() int {
	return adjustDeltas[r]
}

// Adjustment is one immutable entry in a user's score history. Delta is the
// effective (post-clamp) change, so replaying the log reproduces the stored
// score exactly.
type Adjustment struct {
	UserID string
	Reason AdjustReason
	Delta  int
	At     time.Time
}

// TrustScoreRecord is the current score for one user. It is only ever
// mutated through an adjustment entry, never overwritten directly.
type TrustScoreRecord struct {
	UserID string
	Score  int
}

// ClampDelta returns the effective delta that keeps score+delta inside
// [MinScore, MaxScore].
func ClampDelta(score, delta int) int {
	next := score + delta
	if next > MaxScore {
		return MaxScore - score
	}
	if next < MinScore {
		return MinScore - score
	}
	return delta
}

// Replay folds an adjustment log over an initial score. It is the audit
// path: the stored score must always equal Replay(InitialScore, history).
func Replay(initial int, history []Adjustment) int {
	score := initial
	for _, adj := range history {
		score += adj.Delta
	}
	if score > MaxScore {
		score = MaxScore
	}
	if score < MinScore {
		score = MinScore
	}
	return score
}
