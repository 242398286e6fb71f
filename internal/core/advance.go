package core

import "time"

const (
	AdvanceOutstanding AdvanceStatus = "outstanding"
	AdvanceRepaid      AdvanceStatus = "repaid"
	AdvanceFailed      AdvanceStatus = "failed"
	AdvanceWrittenOff  AdvanceStatus = "written-off"
)

type AdvanceStatus string

// Advance is a draw against a member's upcoming payout in one circle,
// repaid by withholding principal plus fee at disbursement time. A user may
// hold at most one outstanding advance across all circles.
type Advance struct {
	ID       string
	MemberID string
	UserID   string
	CircleID string
	// Principal never exceeds the configured percentage of the member's
	// expected payout at issuance time.
	Principal Money
	Fee       Money
	// Residual is the receivable left after a shortfall settlement; a user
	// with a failed advance and Residual > 0 is restricted from new circles
	// and advances until it is cleared.
	Residual    Money
	DisbursedAt time.Time
	// RepayGraceUntil is set when a residual debit was declined for a
	// non-transient reason; once it passes unresolved the advance is
	// written off.
	RepayGraceUntil *time.Time
	Status          AdvanceStatus
}

// TotalDue is the amount withheld at settlement: principal plus fee.
func (a Advance) TotalDue() Money {
	return a.Principal.Add(a.Fee)
}
