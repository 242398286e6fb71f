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
	"tanda/internal/rails"
	"tanda/internal/storage"
)

// DefaultService handles missed obligations: it marks contributions past
// grace as defaulted, applies score penalties, draws on the platform
// backstop so cycles still close on schedule, and swaps in replacement
// members. It never raises a score.
type DefaultService struct {
	store       storage.Store
	clock       clockwork.Clock
	trust       *TrustService
	backstop    rails.BackstopFund
	publisher   events.Publisher
	circleLocks *KeyedLocks
}

func NewDefaultService(store storage.Store, clock clockwork.Clock, trust *TrustService, backstop rails.BackstopFund, publisher events.Publisher, circleLocks *KeyedLocks) *DefaultService {
	return &DefaultService{
		store:       store,
		clock:       clock,
		trust:       trust,
		backstop:    backstop,
		publisher:   publisher,
		circleLocks: circleLocks,
	}
}

// SweepExpired finds every unsettled cycle whose grace deadline has passed
// and defaults each still-pending contribution in it. Errors on one circle
// do not stop the sweep.
func (s *DefaultService) SweepExpired(ctx context.Context) error {
	cycles, err := s.store.ListUnsettledCycles(ctx)
	if err != nil {
		return fmt.Errorf("list unsettled cycles: %w", err)
	}

	now := s.clock.Now().UTC()
	var firstErr error
	for i := range cycles {
		cycle := &cycles[i]
		if !now.After(cycle.GraceUntil) {
			continue
		}
		if err := s.sweepCycle(ctx, cycle); err != nil {
			slog.ErrorContext(ctx, "Failed to sweep cycle",
				applog.FieldComponent, applog.ComponentDefaults,
				applog.FieldCycleID, cycle.ID,
				applog.FieldError, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *DefaultService) sweepCycle(ctx context.Context, cycle *core.Cycle) error {
	unlock := s.circleLocks.Lock(cycle.CircleID)
	defer unlock()

	contributions, err := s.store.ListContributions(ctx, cycle.ID)
	if err != nil {
		return fmt.Errorf("list contributions: %w", err)
	}
	for i := range contributions {
		if contributions[i].Status != core.ContributionPending {
			continue
		}
		if err := s.handleDefaultLocked(ctx, cycle, &contributions[i]); err != nil {
			return err
		}
	}
	return nil
}

// HandleDefault defaults one contribution: the member is marked defaulted,
// the score penalty is applied, and the backstop is asked to cover the
// shortfall so the cycle can still close.
func (s *DefaultService) HandleDefault(ctx context.Context, cycleID, memberID string) error {
	cycle, err := s.store.GetCycle(ctx, cycleID)
	if err != nil {
		return err
	}

	unlock := s.circleLocks.Lock(cycle.CircleID)
	defer unlock()

	contribution, err := s.store.GetContribution(ctx, cycleID, memberID)
	if err != nil {
		return err
	}
	if contribution.Status != core.ContributionPending {
		return core.ErrAlreadyPaid
	}
	return s.handleDefaultLocked(ctx, cycle, contribution)
}

func (s *DefaultService) handleDefaultLocked(ctx context.Context, cycle *core.Cycle, contribution *core.Contribution) error {
	contribution.Status = core.ContributionDefaulted
	if err := s.store.UpdateContribution(ctx, contribution); err != nil {
		return fmt.Errorf("update contribution: %w", err)
	}

	member, err := s.store.GetMember(ctx, contribution.MemberID)
	if err != nil {
		return err
	}
	if member.Status == core.MemberActive || member.Status == core.MemberPaidOut {
		member.Status = core.MemberDefaulted
		if err := s.store.UpdateMember(ctx, member); err != nil {
			return fmt.Errorf("update member: %w", err)
		}
	}

	if _, err := s.trust.Adjust(ctx, member.UserID, core.ReasonDefault); err != nil {
		slog.ErrorContext(ctx, "Failed to adjust trust score after default",
			applog.FieldComponent, applog.ComponentDefaults,
			applog.FieldUserID, member.UserID,
			applog.FieldError, err)
	}
	metrics.Defaults.Inc()

	covered, err := s.backstop.CoverShortfall(ctx, cycle.CircleID, contribution.Owed)
	if err != nil {
		return fmt.Errorf("cover shortfall: %w", err)
	}
	if covered {
		contribution.ShortfallCovered = core.CoveredByBackstop
		if err := s.store.UpdateContribution(ctx, contribution); err != nil {
			return fmt.Errorf("update contribution: %w", err)
		}
		metrics.BackstopDraws.Inc()
	} else {
		slog.WarnContext(ctx, "Backstop declined shortfall",
			applog.FieldComponent, applog.ComponentDefaults,
			applog.FieldCircleID, cycle.CircleID,
			applog.FieldAmountCents, contribution.Owed.Cents)
	}

	s.publish(ctx, core.Event{
		Kind:        core.EventMemberDefaulted,
		CircleID:    cycle.CircleID,
		CycleID:     cycle.ID,
		MemberID:    member.ID,
		AmountCents: contribution.Owed.Cents,
		Detail:      contribution.ShortfallCovered,
		OccurredAt:  s.clock.Now().UTC(),
	})

	slog.InfoContext(ctx, "Contribution defaulted",
		applog.FieldComponent, applog.ComponentDefaults,
		applog.FieldCycleID, cycle.ID,
		applog.FieldMemberID, member.ID,
		"covered_by", contribution.ShortfallCovered)

	return nil
}

// ReplaceMember brings a new user into the defaulted member's unreached
// payout slot. The newcomer inherits the position, owes the current
// cycle's contribution, and the old member stays defaulted permanently.
func (s *DefaultService) ReplaceMember(ctx context.Context, circleID, defaultedMemberID, userID, name string) (*core.Member, error) {
	unlock := s.circleLocks.Lock(circleID)
	defer unlock()

	circle, err := s.store.GetCircle(ctx, circleID)
	if err != nil {
		return nil, err
	}
	if circle.Status != core.CircleActive {
		return nil, core.ErrCircleNotActive
	}

	old, err := s.store.GetMember(ctx, defaultedMemberID)
	if err != nil {
		return nil, err
	}
	if old.CircleID != circleID {
		return nil, core.ErrUnknownMember
	}
	if old.Status != core.MemberDefaulted {
		return nil, core.ErrMemberNotDefaulted
	}
	if old.PayoutPosition == nil {
		return nil, core.ErrMemberNotDefaulted
	}

	if _, err := s.store.GetMemberByUser(ctx, circleID, userID); err == nil {
		return nil, core.ErrAlreadyMember
	} else if !errors.Is(err, core.ErrUnknownMember) {
		return nil, err
	}

	restricted, err := advanceRestricted(ctx, s.store, userID)
	if err != nil {
		return nil, err
	}
	if restricted {
		return nil, core.ErrMemberRestricted
	}

	score, err := s.trust.Register(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("register trust score: %w", err)
	}

	position := *old.PayoutPosition
	replacement := &core.Member{
		ID:             uuid.New().String(),
		CircleID:       circleID,
		UserID:         userID,
		Name:           name,
		JoinedAt:       s.clock.Now().UTC(),
		ScoreAtJoin:    score,
		PayoutPosition: &position,
		Status:         core.MemberActive,
	}
	if err := s.store.CreateMember(ctx, replacement); err != nil {
		return nil, fmt.Errorf("create member: %w", err)
	}

	order := make([]string, len(circle.PayoutOrder))
	copy(order, circle.PayoutOrder)
	order[position] = replacement.ID
	if err := s.store.SetPayoutOrder(ctx, circleID, order); err != nil {
		return nil, fmt.Errorf("set payout order: %w", err)
	}
	circle.PayoutOrder = order
	if err := s.store.UpdateCircle(ctx, circle); err != nil {
		return nil, fmt.Errorf("update circle: %w", err)
	}

	old.PayoutPosition = nil
	if err := s.store.UpdateMember(ctx, old); err != nil {
		return nil, fmt.Errorf("update member: %w", err)
	}

	// The replacement takes over the current cycle's obligation, unless
	// the grace deadline has already passed; then their first obligation
	// is the next cycle. The old member's defaulted contribution is
	// marked covered either way so the cycle can close.
	cycle, err := s.store.UnsettledCycle(ctx, circleID)
	if err == nil {
		if !s.clock.Now().UTC().After(cycle.GraceUntil) {
			contribution := &core.Contribution{
				ID:       uuid.New().String(),
				CycleID:  cycle.ID,
				CircleID: circleID,
				MemberID: replacement.ID,
				Owed:     circle.Contribution,
				Status:   core.ContributionPending,
			}
			if err := s.store.CreateContribution(ctx, contribution); err != nil {
				return nil, fmt.Errorf("create contribution: %w", err)
			}
		}
		defaulted, err := s.store.GetContribution(ctx, cycle.ID, old.ID)
		if err == nil && defaulted.Status == core.ContributionDefaulted && defaulted.ShortfallCovered == "" {
			defaulted.ShortfallCovered = core.CoveredByReplacement
			if err := s.store.UpdateContribution(ctx, defaulted); err != nil {
				return nil, fmt.Errorf("update contribution: %w", err)
			}
		} else if err != nil && !errors.Is(err, core.ErrUnknownContribution) {
			return nil, err
		}
	} else if !errors.Is(err, core.ErrUnknownCycle) {
		return nil, err
	}

	slog.InfoContext(ctx, "Member replaced",
		applog.FieldComponent, applog.ComponentDefaults,
		applog.FieldCircleID, circleID,
		applog.FieldMemberID, replacement.ID,
		"replaced_member_id", old.ID,
		"payout_position", position)

	return replacement, nil
}

func (s *DefaultService) publish(ctx context.Context, event core.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		slog.ErrorContext(ctx, "Failed to publish event",
			applog.FieldComponent, applog.ComponentEvents,
			"kind", event.Kind,
			applog.FieldError, err)
	}
}
