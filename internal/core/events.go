package core

import "time"

// Domain event kinds consumed by the notification layer. Delivery channel
// selection is the subscriber's concern, not the engine's.
const (
	EventContributionDue    = "ContributionDue"
	EventGracePeriodStarted = "GracePeriodStarted"
	EventPayoutDisbursed    = "PayoutDisbursed"
	EventAdvanceSettled     = "AdvanceSettled"
	EventMemberDefaulted    = "MemberDefaulted"
)

// Event is a domain event emitted by the engine. Fields that do not apply
// to a kind are left zero and omitted from the wire payload.
type Event struct {
	Kind        string    `json:"kind"`
	CircleID    string    `json:"circle_id,omitempty"`
	CycleID     string    `json:"cycle_id,omitempty"`
	MemberID    string    `json:"member_id,omitempty"`
	AdvanceID   string    `json:"advance_id,omitempty"`
	AmountCents int64     `json:"amount_cents,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}
