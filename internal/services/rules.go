package services

import "time"

// Rules are the engine's tunable policy knobs, loaded from configuration.
type Rules struct {
	// GracePeriodDays is the window after a due date in which a late
	// payment is still accepted, with a penalty.
	GracePeriodDays int
	// LatePenaltyPct is applied to the amount owed when paying late.
	LatePenaltyPct int
	// AdvanceCapPct caps an advance principal as a percentage of the
	// member's expected payout.
	AdvanceCapPct int
	// AdvanceScoreFloor is the minimum trust score for a new advance.
	AdvanceScoreFloor int
	// RetryAttempts and RetryBackoffBase bound the retry loop for
	// transient gateway failures.
	RetryAttempts    int
	RetryBackoffBase time.Duration
}

func DefaultRules() Rules {
	return Rules{
		GracePeriodDays:   3,
		LatePenaltyPct:    10,
		AdvanceCapPct:     80,
		AdvanceScoreFloor: 40,
		RetryAttempts:     3,
		RetryBackoffBase:  time.Second,
	}
}
