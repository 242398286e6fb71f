package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"tanda/internal/core"
	"tanda/internal/events"
	applog "tanda/internal/log"
	"tanda/internal/metrics"
	"tanda/internal/storage"
)

// ContributionService is the contribution ledger: it opens cycles, records
// payments with late-penalty handling, and decides when a cycle is
// closeable. All writes for one circle go through that circle's lock.
type ContributionService struct {
	store       storage.Store
	clock       clockwork.Clock
	trust       *TrustService
	publisher   events.Publisher
	rules       Rules
	circleLocks *KeyedLocks
}

func NewContributionService(store storage.Store, clock clockwork.Clock, trust *TrustService, publisher events.Publisher, rules Rules, circleLocks *KeyedLocks) *ContributionService {
	return &ContributionService{
		store:       store,
		clock:       clock,
		trust:       trust,
		publisher:   publisher,
		rules:       rules,
		circleLocks: circleLocks,
	}
}

// OpenCycle opens the circle's next cycle and creates one pending
// contribution per active member, due one period from now with a grace
// deadline beyond that.
func (s *ContributionService) OpenCycle(ctx context.Context, circleID string) (*core.Cycle, error) {
	unlock := s.circleLocks.Lock(circleID)
	defer unlock()
	return s.openCycleLocked(ctx, circleID)
}

// openCycleLocked assumes the circle lock is held.
func (s *ContributionService) openCycleLocked(ctx context.Context, circleID string) (*core.Cycle, error) {
	circle, err := s.store.GetCircle(ctx, circleID)
	if err != nil {
		return nil, err
	}
	if circle.Status != core.CircleActive {
		return nil, core.ErrCircleNotActive
	}

	if _, err := s.store.UnsettledCycle(ctx, circleID); err == nil {
		return nil, core.ErrCycleAlreadyOpen
	} else if !errors.Is(err, core.ErrUnknownCycle) {
		return nil, err
	}

	now := s.clock.Now().UTC()
	due := circle.Frequency.Next(now)
	cycle := &core.Cycle{
		ID:         uuid.New().String(),
		CircleID:   circleID,
		Sequence:   circle.CurrentCycle + 1,
		DueAt:      due,
		GraceUntil: due.AddDate(0, 0, s.rules.GracePeriodDays),
		Status:     core.CycleOpen,
	}
	if err := s.store.CreateCycle(ctx, cycle); err != nil {
		return nil, fmt.Errorf("create cycle: %w", err)
	}

	members, err := s.store.ListMembers(ctx, circleID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	for _, member := range members {
		if member.Status != core.MemberActive && member.Status != core.MemberPaidOut {
			continue
		}
		contribution := &core.Contribution{
			ID:       uuid.New().String(),
			CycleID:  cycle.ID,
			CircleID: circleID,
			MemberID: member.ID,
			Owed:     circle.Contribution,
			Status:   core.ContributionPending,
		}
		if err := s.store.CreateContribution(ctx, contribution); err != nil {
			return nil, fmt.Errorf("create contribution: %w", err)
		}
		s.publish(ctx, core.Event{
			Kind:        core.EventContributionDue,
			CircleID:    circleID,
			CycleID:     cycle.ID,
			MemberID:    member.ID,
			AmountCents: circle.Contribution.Cents,
			OccurredAt:  now,
		})
	}

	slog.InfoContext(ctx, "Cycle opened",
		applog.FieldComponent, applog.ComponentLedger,
		applog.FieldCircleID, circleID,
		applog.FieldCycleID, cycle.ID,
		applog.FieldSequence, cycle.Sequence,
		"due_at", cycle.DueAt,
		"grace_until", cycle.GraceUntil)

	return cycle, nil
}

// RecordPayment records a member's payment for a cycle. The amount must
// equal the amount due: the obligation alone on time, obligation plus the
// late penalty inside the grace window. Past the grace deadline the
// payment is rejected and the caller must go through the default handler.
func (s *ContributionService) RecordPayment(ctx context.Context, cycleID, memberID string, amount core.Money) (*core.Contribution, error) {
	if err := amount.Validate(); err != nil {
		return nil, err
	}

	cycle, err := s.store.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}

	unlock := s.circleLocks.Lock(cycle.CircleID)
	defer unlock()

	contribution, err := s.store.GetContribution(ctx, cycleID, memberID)
	if err != nil {
		return nil, err
	}

	switch contribution.Status {
	case core.ContributionPaid:
		return nil, core.ErrAlreadyPaid
	case core.ContributionDefaulted:
		return nil, core.ErrGracePeriodExpired
	}

	now := s.clock.Now().UTC()
	if now.After(cycle.GraceUntil) {
		return nil, core.ErrGracePeriodExpired
	}

	late := now.After(cycle.DueAt)
	if late {
		contribution.Penalty = contribution.Owed.PercentOf(s.rules.LatePenaltyPct)
	}
	// The ledger only ever books money that was actually tendered.
	if amount.Cents != contribution.TotalDue().Cents {
		return nil, fmt.Errorf("%w: payment must equal the amount due (%s)", core.ErrInvalidAmount, contribution.TotalDue())
	}
	contribution.Paid = amount
	contribution.Status = core.ContributionPaid
	contribution.PaidAt = &now

	if err := s.store.UpdateContribution(ctx, contribution); err != nil {
		return nil, fmt.Errorf("update contribution: %w", err)
	}

	member, err := s.store.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	member.Contributed = member.Contributed.Add(contribution.Paid)
	if err := s.store.UpdateMember(ctx, member); err != nil {
		return nil, fmt.Errorf("update member: %w", err)
	}

	reason := core.ReasonOnTimePayment
	timing := "on_time"
	if late {
		reason = core.ReasonLatePayment
		timing = "late"
	}
	// The ledger write stands even if the score adjustment fails; the
	// sweep can reconcile scores from the contribution record.
	if _, err := s.trust.Adjust(ctx, member.UserID, reason); err != nil {
		slog.ErrorContext(ctx, "Failed to adjust trust score after payment",
			applog.FieldComponent, applog.ComponentLedger,
			applog.FieldUserID, member.UserID,
			applog.FieldError, err)
	}
	metrics.PaymentsRecorded.WithLabelValues(timing).Inc()

	slog.InfoContext(ctx, "Payment recorded",
		applog.FieldComponent, applog.ComponentLedger,
		applog.FieldCycleID, cycleID,
		applog.FieldMemberID, memberID,
		applog.FieldAmountCents, contribution.Paid.Cents,
		"late", late)

	return contribution, nil
}

// IsCycleCloseable reports whether every contribution in the cycle is
// resolved: paid, or defaulted with its shortfall covered.
func (s *ContributionService) IsCycleCloseable(ctx context.Context, cycleID string) (bool, error) {
	cycle, err := s.store.GetCycle(ctx, cycleID)
	if err != nil {
		return false, err
	}

	unlock := s.circleLocks.Lock(cycle.CircleID)
	defer unlock()

	contributions, err := s.store.ListContributions(ctx, cycleID)
	if err != nil {
		return false, err
	}
	return closeable(contributions), nil
}

func closeable(contributions []core.Contribution) bool {
	if len(contributions) == 0 {
		return false
	}
	for _, c := range contributions {
		if !c.Resolved() {
			return false
		}
	}
	return true
}

func (s *ContributionService) publish(ctx context.Context, event core.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		slog.ErrorContext(ctx, "Failed to publish event",
			applog.FieldComponent, applog.ComponentEvents,
			"kind", event.Kind,
			applog.FieldError, err)
	}
}
