package core

import "errors"

// Validation errors: malformed input, rejected synchronously, never retried.
var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidFrequency = errors.New("invalid frequency")
	ErrInvalidMembers   = errors.New("invalid member count")
	ErrEmptyName        = errors.New("empty name")
)

// Not-found errors.
var (
	ErrUnknownCircle       = errors.New("unknown circle")
	ErrUnknownMember       = errors.New("unknown member")
	ErrUnknownCycle        = errors.New("unknown cycle")
	ErrUnknownContribution = errors.New("unknown contribution")
	ErrUnknownAdvance      = errors.New("unknown advance")
	ErrUnknownPayout       = errors.New("unknown payout")
)

// State conflicts: surfaced to the caller, never retried automatically. The
// caller must re-fetch state before deciding what to do next.
var (
	ErrAlreadyPaid             = errors.New("contribution already paid")
	ErrAlreadyMember           = errors.New("already a member of this circle")
	ErrAdvanceOutstanding      = errors.New("an advance is already outstanding")
	ErrCannotCancelActiveCycle = errors.New("cannot cancel with an unresolved cycle")
	ErrCircleNotForming        = errors.New("circle is not accepting members")
	ErrCircleNotActive         = errors.New("circle is not active")
	ErrCircleFull              = errors.New("circle is full")
	ErrCircleNotReady          = errors.New("circle has not reached its member target")
	ErrCycleAlreadyOpen        = errors.New("an unsettled cycle is already open")
	ErrCycleNotCloseable       = errors.New("cycle has unresolved contributions")
	ErrMemberNotActive         = errors.New("member is not active")
	ErrMemberPaidOut           = errors.New("member has already been paid out")
	ErrMemberNotDefaulted      = errors.New("member has not defaulted")
	ErrOutstandingObligation   = errors.New("member has an unresolved obligation this cycle")
)

// GracePeriodExpired routes the caller to the default handler instead of
// failing silently: payments past the grace deadline go through default
// resolution, not through the contribution ledger.
var ErrGracePeriodExpired = errors.New("grace period expired")

// Business-rule failures: always surfaced, never retried.
var (
	ErrInsufficientScore = errors.New("trust score below advance floor")
	ErrMemberRestricted  = errors.New("member has an unresolved advance receivable")
)
