package core

import (
	"strings"
	"time"
)

const (
	CircleForming   CircleStatus = "forming"
	CircleActive    CircleStatus = "active"
	CircleCompleted CircleStatus = "completed"
	CircleCancelled CircleStatus = "cancelled"
)

const (
	MemberActive    MemberStatus = "active"
	MemberDefaulted MemberStatus = "defaulted"
	MemberExited    MemberStatus = "exited"
	MemberPaidOut   MemberStatus = "paid-out"
)

const (
	CycleOpen    CycleStatus = "open"
	CycleGrace   CycleStatus = "grace"
	CycleClosed  CycleStatus = "closed"
	CycleSettled CycleStatus = "settled"
)

const (
	PayoutPending PayoutStatus = "pending"
	PayoutSent    PayoutStatus = "sent"
)

const (
	ContributionPending   ContributionStatus = "pending"
	ContributionPaid      ContributionStatus = "paid"
	ContributionLate      ContributionStatus = "late"
	ContributionDefaulted ContributionStatus = "defaulted"
)

// Shortfall coverage markers on a defaulted contribution. An uncovered
// defaulted contribution keeps its cycle from closing.
const (
	CoveredByBackstop    = "backstop"
	CoveredByReplacement = "replacement"
)

type (
	CircleStatus       string
	MemberStatus       string
	CycleStatus        string
	PayoutStatus       string
	ContributionStatus string

	// Circle is a rotating savings group. Contribution amount and frequency
	// are frozen once the circle activates, as is the payout order.
	Circle struct {
		ID            string
		Name          string
		Contribution  Money
		Frequency     Frequency
		TargetMembers int
		// CurrentCycle is the number of settled cycles; it never exceeds
		// TargetMembers.
		CurrentCycle int
		Status       CircleStatus
		// PayoutOrder is the ordered member IDs, computed once at activation.
		// Only a defaulted, not-yet-paid slot may ever be rewritten.
		PayoutOrder []string
		CreatedAt   time.Time
	}

	// Member is one person's membership in one circle. The same user may be
	// a member of several circles; trust scores are keyed by UserID, not by
	// membership.
	Member struct {
		ID          string
		CircleID    string
		UserID      string
		Name        string
		JoinedAt    time.Time
		ScoreAtJoin int
		// PayoutPosition is nil until the payout order is frozen.
		PayoutPosition *int
		Contributed    Money
		Status         MemberStatus
	}

	// Cycle is one contribution/payout period of a circle.
	Cycle struct {
		ID         string
		CircleID   string
		Sequence   int
		DueAt      time.Time
		GraceUntil time.Time
		Status     CycleStatus
	}

	// Contribution is one member's obligation in one cycle. There is at most
	// one per (cycle, member) pair; Paid never exceeds Owed plus Penalty.
	Contribution struct {
		ID       string
		CycleID  string
		CircleID string
		MemberID string
		Owed     Money
		Penalty  Money
		Paid     Money
		Status   ContributionStatus
		// ShortfallCovered records how a defaulted obligation was made whole:
		// CoveredByBackstop, CoveredByReplacement, or empty while unresolved.
		ShortfallCovered string
		PaidAt           *time.Time
	}

	// Payout records the settlement disbursement of one cycle. At most one
	// exists per cycle; it is written before the rail call so an
	// interrupted close can be retried without paying twice.
	Payout struct {
		ID        string
		CycleID   string
		MemberID  string
		Amount    Money
		Status    PayoutStatus
		CreatedAt time.Time
	}
)

func (c Circle) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyName
	}
	if len(c.Name) > 100 {
		return ErrEmptyName
	}
	if err := c.Contribution.Validate(); err != nil {
		return err
	}
	if !c.Frequency.Valid() {
		return ErrInvalidFrequency
	}
	if c.TargetMembers < 2 || c.TargetMembers > 50 {
		return ErrInvalidMembers
	}
	return nil
}

// ExpectedPayout is the full pot when every seat is funded. The actual
// gross at settlement is computed from the cycle's collections; this is
// the reference amount for advance caps.
func (c Circle) ExpectedPayout() Money {
	return c.Contribution.Mul(c.TargetMembers)
}

// Resolved reports whether the contribution no longer blocks its cycle:
// it was paid, or it defaulted and the shortfall was covered.
func (c Contribution) Resolved() bool {
	if c.Status == ContributionPaid {
		return true
	}
	return c.Status == ContributionDefaulted && c.ShortfallCovered != ""
}

// TotalDue is the amount owed including any late penalty.
func (c Contribution) TotalDue() Money {
	return c.Owed.Add(c.Penalty)
}
