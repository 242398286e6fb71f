// Package storage persists the engine's state: circles, members,
// cycles with their contributions, advances, and the append-only trust
// score adjustment log.
package storage

import (
	"context"

	"tanda/internal/core"
)

// Store is the persistence boundary consumed by the services layer. The
// SQLite repository is the production implementation; MemoryStore backs the
// service tests. Serialization of mutations is the caller's responsibility
// (one logical lock per circle, one per user for scores); the store only
// guarantees that each call is atomic.
type Store interface {
	// Circles
	CreateCircle(ctx context.Context, circle *core.Circle) error
	GetCircle(ctx context.Context, circleID string) (*core.Circle, error)
	ListCirclesByStatus(ctx context.Context, status core.CircleStatus) ([]core.Circle, error)
	UpdateCircle(ctx context.Context, circle *core.Circle) error
	// SetPayoutOrder replaces the stored payout order for a circle.
	SetPayoutOrder(ctx context.Context, circleID string, order []string) error

	// Members
	CreateMember(ctx context.Context, member *core.Member) error
	GetMember(ctx context.Context, memberID string) (*core.Member, error)
	GetMemberByUser(ctx context.Context, circleID, userID string) (*core.Member, error)
	ListMembers(ctx context.Context, circleID string) ([]core.Member, error)
	UpdateMember(ctx context.Context, member *core.Member) error

	// Cycles
	CreateCycle(ctx context.Context, cycle *core.Cycle) error
	GetCycle(ctx context.Context, cycleID string) (*core.Cycle, error)
	// UnsettledCycle returns the circle's open/grace/closed cycle, or
	// core.ErrUnknownCycle when every cycle is settled.
	UnsettledCycle(ctx context.Context, circleID string) (*core.Cycle, error)
	ListUnsettledCycles(ctx context.Context) ([]core.Cycle, error)
	UpdateCycle(ctx context.Context, cycle *core.Cycle) error

	// Payouts, one per settled cycle.
	CreatePayout(ctx context.Context, payout *core.Payout) error
	// GetPayoutByCycle returns the cycle's payout record, or
	// core.ErrUnknownPayout when the cycle has not reached disbursement.
	GetPayoutByCycle(ctx context.Context, cycleID string) (*core.Payout, error)
	UpdatePayout(ctx context.Context, payout *core.Payout) error

	// Contributions
	CreateContribution(ctx context.Context, contribution *core.Contribution) error
	GetContribution(ctx context.Context, cycleID, memberID string) (*core.Contribution, error)
	ListContributions(ctx context.Context, cycleID string) ([]core.Contribution, error)
	UpdateContribution(ctx context.Context, contribution *core.Contribution) error

	// Advances
	CreateAdvance(ctx context.Context, advance *core.Advance) error
	GetAdvance(ctx context.Context, advanceID string) (*core.Advance, error)
	ListAdvancesByUser(ctx context.Context, userID string) ([]core.Advance, error)
	ListAdvancesByStatus(ctx context.Context, status core.AdvanceStatus) ([]core.Advance, error)
	UpdateAdvance(ctx context.Context, advance *core.Advance) error

	// Trust scores. AppendAdjustment inserts the log entry and stores the
	// new score atomically; the log itself is append-only.
	CreateTrustScore(ctx context.Context, userID string, score int) error
	GetTrustScore(ctx context.Context, userID string) (int, error)
	AppendAdjustment(ctx context.Context, adj core.Adjustment, newScore int) error
	ListAdjustments(ctx context.Context, userID string) ([]core.Adjustment, error)

	Close() error
}
