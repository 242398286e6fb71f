package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"tanda/internal/core"
	"tanda/internal/events"
	applog "tanda/internal/log"
	"tanda/internal/metrics"
	"tanda/internal/rails"
	"tanda/internal/storage"
)

// CircleService drives the circle lifecycle: forming, activation with a
// frozen payout order, cycle progression, payout disbursement, and
// completion. All mutations for one circle are serialized on its lock.
type CircleService struct {
	store         storage.Store
	clock         clockwork.Clock
	trust         *TrustService
	contributions *ContributionService
	advances      *AdvanceService
	rail          rails.DisbursementRail
	publisher     events.Publisher
	circleLocks   *KeyedLocks
}

func NewCircleService(store storage.Store, clock clockwork.Clock, trust *TrustService, contributions *ContributionService, advances *AdvanceService, rail rails.DisbursementRail, publisher events.Publisher, circleLocks *KeyedLocks) *CircleService {
	return &CircleService{
		store:         store,
		clock:         clock,
		trust:         trust,
		contributions: contributions,
		advances:      advances,
		rail:          rail,
		publisher:     publisher,
		circleLocks:   circleLocks,
	}
}

// CreateCircle persists a new circle in the forming state.
func (s *CircleService) CreateCircle(ctx context.Context, name string, contribution core.Money, frequency core.Frequency, targetMembers int) (*core.Circle, error) {
	circle := &core.Circle{
		ID:            uuid.New().String(),
		Name:          name,
		Contribution:  contribution,
		Frequency:     frequency,
		TargetMembers: targetMembers,
		Status:        core.CircleForming,
		CreatedAt:     s.clock.Now().UTC(),
	}
	if err := circle.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.CreateCircle(ctx, circle); err != nil {
		return nil, fmt.Errorf("create circle: %w", err)
	}

	slog.InfoContext(ctx, "Circle created",
		applog.FieldComponent, applog.ComponentCircle,
		applog.FieldCircleID, circle.ID,
		"name", name,
		applog.FieldAmountCents, contribution.Cents,
		"frequency", string(frequency),
		"target_members", targetMembers)

	return circle, nil
}

// GetCircle returns one circle by ID.
func (s *CircleService) GetCircle(ctx context.Context, circleID string) (*core.Circle, error) {
	return s.store.GetCircle(ctx, circleID)
}

// ListCircles returns circles in the given status.
func (s *CircleService) ListCircles(ctx context.Context, status core.CircleStatus) ([]core.Circle, error) {
	return s.store.ListCirclesByStatus(ctx, status)
}

// JoinCircle adds the user to a forming circle. First-time users are
// registered with the starting trust score; users carrying an unresolved
// advance receivable are turned away.
func (s *CircleService) JoinCircle(ctx context.Context, circleID, userID, name string) (*core.Member, error) {
	unlock := s.circleLocks.Lock(circleID)
	defer unlock()

	circle, err := s.store.GetCircle(ctx, circleID)
	if err != nil {
		return nil, err
	}
	if circle.Status != core.CircleForming {
		return nil, core.ErrCircleNotForming
	}

	if _, err := s.store.GetMemberByUser(ctx, circleID, userID); err == nil {
		return nil, core.ErrAlreadyMember
	} else if !errors.Is(err, core.ErrUnknownMember) {
		return nil, err
	}

	members, err := s.store.ListMembers(ctx, circleID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	if len(members) >= circle.TargetMembers {
		return nil, core.ErrCircleFull
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

	member := &core.Member{
		ID:          uuid.New().String(),
		CircleID:    circleID,
		UserID:      userID,
		Name:        name,
		JoinedAt:    s.clock.Now().UTC(),
		ScoreAtJoin: score,
		Status:      core.MemberActive,
	}
	if err := s.store.CreateMember(ctx, member); err != nil {
		return nil, fmt.Errorf("create member: %w", err)
	}

	slog.InfoContext(ctx, "Member joined circle",
		applog.FieldComponent, applog.ComponentCircle,
		applog.FieldCircleID, circleID,
		applog.FieldMemberID, member.ID,
		applog.FieldUserID, userID,
		applog.FieldScore, score)

	return member, nil
}

// LeaveCircle exits a member before their payout. Leaving a forming circle
// is free of obligations; leaving an active circle is refused while the
// member has a pending contribution in the current cycle, and always costs
// the early-exit score penalty once the circle is active.
func (s *CircleService) LeaveCircle(ctx context.Context, circleID, memberID string) error {
	unlock := s.circleLocks.Lock(circleID)
	defer unlock()

	circle, err := s.store.GetCircle(ctx, circleID)
	if err != nil {
		return err
	}

	member, err := s.store.GetMember(ctx, memberID)
	if err != nil {
		return err
	}
	if member.CircleID != circleID {
		return core.ErrUnknownMember
	}
	if member.Status != core.MemberActive {
		return core.ErrMemberNotActive
	}

	active := circle.Status == core.CircleActive
	if active {
		cycle, err := s.store.UnsettledCycle(ctx, circleID)
		if err == nil {
			contribution, err := s.store.GetContribution(ctx, cycle.ID, memberID)
			if err != nil && !errors.Is(err, core.ErrUnknownContribution) {
				return err
			}
			if err == nil && contribution.Status == core.ContributionPending {
				return core.ErrOutstandingObligation
			}
		} else if !errors.Is(err, core.ErrUnknownCycle) {
			return err
		}
	} else if circle.Status != core.CircleForming {
		return core.ErrCircleNotActive
	}

	member.Status = core.MemberExited
	if err := s.store.UpdateMember(ctx, member); err != nil {
		return fmt.Errorf("update member: %w", err)
	}

	if active {
		if _, err := s.trust.Adjust(ctx, member.UserID, core.ReasonEarlyExit); err != nil {
			slog.ErrorContext(ctx, "Failed to adjust trust score after exit",
				applog.FieldComponent, applog.ComponentCircle,
				applog.FieldUserID, member.UserID,
				applog.FieldError, err)
		}
	}

	slog.InfoContext(ctx, "Member left circle",
		applog.FieldComponent, applog.ComponentCircle,
		applog.FieldCircleID, circleID,
		applog.FieldMemberID, memberID,
		"circle_status", string(circle.Status))

	return nil
}

// Activate moves a full forming circle to active and freezes the payout
// order: descending trust score as the ledger stands at this instant,
// earlier join wins ties. The order never changes afterwards except for
// slot inheritance on member replacement.
func (s *CircleService) Activate(ctx context.Context, circleID string) (*core.Circle, error) {
	unlock := s.circleLocks.Lock(circleID)
	defer unlock()

	circle, err := s.store.GetCircle(ctx, circleID)
	if err != nil {
		return nil, err
	}
	if circle.Status != core.CircleForming {
		return nil, core.ErrCircleNotForming
	}

	members, err := s.store.ListMembers(ctx, circleID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	eligible := members[:0:0]
	for _, m := range members {
		if m.Status == core.MemberActive {
			eligible = append(eligible, m)
		}
	}
	if len(eligible) < circle.TargetMembers {
		return nil, core.ErrCircleNotReady
	}

	// Scores may have moved since each member joined; the order is ranked
	// on the ledger as of activation, not on the join-time snapshot.
	scores := make(map[string]int, len(eligible))
	for _, m := range eligible {
		score, err := s.trust.Snapshot(ctx, m.UserID)
		if err != nil {
			return nil, fmt.Errorf("snapshot trust score: %w", err)
		}
		scores[m.ID] = score
	}

	order := payoutOrder(eligible, scores)
	for pos, memberID := range order {
		for i := range eligible {
			if eligible[i].ID != memberID {
				continue
			}
			p := pos
			eligible[i].PayoutPosition = &p
			if err := s.store.UpdateMember(ctx, &eligible[i]); err != nil {
				return nil, fmt.Errorf("update member position: %w", err)
			}
		}
	}
	if err := s.store.SetPayoutOrder(ctx, circleID, order); err != nil {
		return nil, fmt.Errorf("set payout order: %w", err)
	}

	circle.Status = core.CircleActive
	circle.PayoutOrder = order
	if err := s.store.UpdateCircle(ctx, circle); err != nil {
		return nil, fmt.Errorf("update circle: %w", err)
	}

	slog.InfoContext(ctx, "Circle activated",
		applog.FieldComponent, applog.ComponentCircle,
		applog.FieldCircleID, circleID,
		"members", len(eligible))

	return circle, nil
}

// payoutOrder ranks members by the given scores, highest first. Earlier
// joiners win score ties; the member ID breaks exact ties so the order is
// deterministic.
func payoutOrder(members []core.Member, scores map[string]int) []string {
	ranked := make([]core.Member, len(members))
	copy(ranked, members)
	sort.Slice(ranked, func(i, j int) bool {
		if scores[ranked[i].ID] != scores[ranked[j].ID] {
			return scores[ranked[i].ID] > scores[ranked[j].ID]
		}
		if !ranked[i].JoinedAt.Equal(ranked[j].JoinedAt) {
			return ranked[i].JoinedAt.Before(ranked[j].JoinedAt)
		}
		return ranked[i].ID < ranked[j].ID
	})
	order := make([]string, len(ranked))
	for i, m := range ranked {
		order[i] = m.ID
	}
	return order
}

// Cancel stops a circle. Forming circles cancel freely; an active circle
// can only be cancelled between cycles, when no contributions are open.
func (s *CircleService) Cancel(ctx context.Context, circleID string) error {
	unlock := s.circleLocks.Lock(circleID)
	defer unlock()

	circle, err := s.store.GetCircle(ctx, circleID)
	if err != nil {
		return err
	}

	switch circle.Status {
	case core.CircleForming:
	case core.CircleActive:
		if _, err := s.store.UnsettledCycle(ctx, circleID); err == nil {
			return core.ErrCannotCancelActiveCycle
		} else if !errors.Is(err, core.ErrUnknownCycle) {
			return err
		}
	default:
		return core.ErrCircleNotActive
	}

	circle.Status = core.CircleCancelled
	if err := s.store.UpdateCircle(ctx, circle); err != nil {
		return fmt.Errorf("update circle: %w", err)
	}

	slog.InfoContext(ctx, "Circle cancelled",
		applog.FieldComponent, applog.ComponentCircle,
		applog.FieldCircleID, circleID)

	return nil
}

// Tick advances one circle's clock: it opens the next cycle when none is
// in flight, and moves an open cycle into its grace window once the due
// date passes.
func (s *CircleService) Tick(ctx context.Context, circleID string) error {
	unlock := s.circleLocks.Lock(circleID)
	defer unlock()

	circle, err := s.store.GetCircle(ctx, circleID)
	if err != nil {
		return err
	}
	if circle.Status != core.CircleActive {
		return nil
	}

	cycle, err := s.store.UnsettledCycle(ctx, circleID)
	if errors.Is(err, core.ErrUnknownCycle) {
		if circle.CurrentCycle >= circle.TargetMembers {
			return nil
		}
		remaining, err := s.hasRemainingRecipient(ctx, circle)
		if err != nil {
			return err
		}
		if !remaining {
			// An exit or unreplaced default between cycles can empty the
			// order; billing another round would collect money nobody can
			// receive.
			circle.Status = core.CircleCompleted
			if err := s.store.UpdateCircle(ctx, circle); err != nil {
				return fmt.Errorf("update circle: %w", err)
			}
			slog.InfoContext(ctx, "Circle completed, no payout recipients remain",
				applog.FieldComponent, applog.ComponentCircle,
				applog.FieldCircleID, circleID)
			return nil
		}
		_, err = s.contributions.openCycleLocked(ctx, circleID)
		return err
	}
	if err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	if cycle.Status == core.CycleOpen && now.After(cycle.DueAt) {
		cycle.Status = core.CycleGrace
		if err := s.store.UpdateCycle(ctx, cycle); err != nil {
			return fmt.Errorf("update cycle: %w", err)
		}
		s.publishEvent(ctx, core.Event{
			Kind:       core.EventGracePeriodStarted,
			CircleID:   circleID,
			CycleID:    cycle.ID,
			OccurredAt: now,
		})
		slog.InfoContext(ctx, "Grace period started",
			applog.FieldComponent, applog.ComponentCircle,
			applog.FieldCircleID, circleID,
			applog.FieldCycleID, cycle.ID,
			"grace_until", cycle.GraceUntil)
	}
	return nil
}

// CloseCycle settles a cycle once every contribution is resolved: the next
// unpaid member in the payout order receives the pot, net of any advance
// withholding, and the circle moves on. The payout is recorded before the
// rail call and the advance settlement is written only after the
// disbursement succeeds, so a retried close never pays or withholds twice.
func (s *CircleService) CloseCycle(ctx context.Context, cycleID string) error {
	cycle, err := s.store.GetCycle(ctx, cycleID)
	if err != nil {
		return err
	}

	unlock := s.circleLocks.Lock(cycle.CircleID)
	defer unlock()

	cycle, err = s.store.GetCycle(ctx, cycleID)
	if err != nil {
		return err
	}
	switch cycle.Status {
	case core.CycleOpen, core.CycleGrace, core.CycleClosed:
	default:
		return core.ErrCycleNotCloseable
	}

	circle, err := s.store.GetCircle(ctx, cycle.CircleID)
	if err != nil {
		return err
	}

	contributions, err := s.store.ListContributions(ctx, cycleID)
	if err != nil {
		return fmt.Errorf("list contributions: %w", err)
	}
	if !closeable(contributions) {
		return core.ErrCycleNotCloseable
	}

	if cycle.Status != core.CycleClosed {
		cycle.Status = core.CycleClosed
		if err := s.store.UpdateCycle(ctx, cycle); err != nil {
			return fmt.Errorf("update cycle: %w", err)
		}
	}

	recipient, err := s.nextRecipient(ctx, circle)
	if err != nil {
		return err
	}

	start := s.clock.Now()
	gross := collectedPot(contributions)
	net := gross

	unlockUser := s.advances.userLocks.Lock(recipient.UserID)
	defer unlockUser()

	advance, err := outstandingAdvanceForUser(ctx, s.store, recipient.UserID)
	if err != nil {
		return err
	}
	if advance != nil && advance.CircleID != circle.ID {
		// An outstanding advance in another circle settles against that
		// circle's payout, not this one.
		advance = nil
	}

	var plan settlementPlan
	if advance != nil {
		plan = planSettlement(advance, gross)
		net = plan.Net
	}

	// The payout record is written before the rail call; a retried close
	// finds it sent and skips the disbursement.
	payout, err := s.store.GetPayoutByCycle(ctx, cycleID)
	if errors.Is(err, core.ErrUnknownPayout) {
		payout = &core.Payout{
			ID:        uuid.New().String(),
			CycleID:   cycleID,
			MemberID:  recipient.ID,
			Amount:    net,
			Status:    core.PayoutPending,
			CreatedAt: s.clock.Now().UTC(),
		}
		if err := s.store.CreatePayout(ctx, payout); err != nil {
			return fmt.Errorf("create payout: %w", err)
		}
	} else if err != nil {
		return err
	}
	net = payout.Amount

	if payout.Status != core.PayoutSent {
		if !payout.Amount.IsZero() {
			if _, err := s.rail.Disburse(ctx, recipient.ID, payout.Amount, rails.Standard); err != nil {
				return fmt.Errorf("disburse payout: %w", err)
			}
			metrics.Disbursements.Inc()
		}
		payout.Status = core.PayoutSent
		if err := s.store.UpdatePayout(ctx, payout); err != nil {
			return fmt.Errorf("update payout: %w", err)
		}
	}

	if advance != nil {
		if err := s.advances.commitSettlement(ctx, advance, plan); err != nil {
			return err
		}
	}

	recipient.Status = core.MemberPaidOut
	if err := s.store.UpdateMember(ctx, recipient); err != nil {
		return fmt.Errorf("update recipient: %w", err)
	}

	cycle.Status = core.CycleSettled
	if err := s.store.UpdateCycle(ctx, cycle); err != nil {
		return fmt.Errorf("update cycle: %w", err)
	}

	circle.CurrentCycle++
	remaining, err := s.hasRemainingRecipient(ctx, circle)
	if err != nil {
		return err
	}
	// A defaulted or exited slot that was never refilled forfeits its
	// payout; the circle completes once nobody is left to pay.
	if circle.CurrentCycle >= circle.TargetMembers || !remaining {
		circle.Status = core.CircleCompleted
	}
	if err := s.store.UpdateCircle(ctx, circle); err != nil {
		return fmt.Errorf("update circle: %w", err)
	}

	s.publishEvent(ctx, core.Event{
		Kind:        core.EventPayoutDisbursed,
		CircleID:    circle.ID,
		CycleID:     cycle.ID,
		MemberID:    recipient.ID,
		AmountCents: net.Cents,
		OccurredAt:  s.clock.Now().UTC(),
	})
	metrics.CyclesSettled.Inc()
	metrics.CycleCloseDuration.Observe(s.clock.Since(start).Seconds())

	slog.InfoContext(ctx, "Cycle settled",
		applog.FieldComponent, applog.ComponentCircle,
		applog.FieldCircleID, circle.ID,
		applog.FieldCycleID, cycle.ID,
		applog.FieldMemberID, recipient.ID,
		"gross_cents", gross.Cents,
		"net_cents", net.Cents,
		"circle_status", string(circle.Status))

	return nil
}

// nextRecipient walks the frozen payout order and returns the first member
// who has not yet been paid out and is still active.
func (s *CircleService) nextRecipient(ctx context.Context, circle *core.Circle) (*core.Member, error) {
	for _, memberID := range circle.PayoutOrder {
		member, err := s.store.GetMember(ctx, memberID)
		if err != nil {
			return nil, err
		}
		if member.Status == core.MemberActive {
			return member, nil
		}
	}
	return nil, fmt.Errorf("circle %s: no eligible payout recipient: %w", circle.ID, core.ErrMemberNotActive)
}

func (s *CircleService) hasRemainingRecipient(ctx context.Context, circle *core.Circle) (bool, error) {
	for _, memberID := range circle.PayoutOrder {
		member, err := s.store.GetMember(ctx, memberID)
		if err != nil {
			return false, err
		}
		if member.Status == core.MemberActive {
			return true, nil
		}
	}
	return false, nil
}

// collectedPot is the gross payout of a cycle: payments actually received
// plus backstop draws. A replacement-covered slot moved the obligation to
// the newcomer's own contribution, not money into this cycle.
func collectedPot(contributions []core.Contribution) core.Money {
	var pot core.Money
	for _, c := range contributions {
		pot = pot.Add(c.Paid)
		if c.Status == core.ContributionDefaulted && c.ShortfallCovered == core.CoveredByBackstop {
			pot = pot.Add(c.Owed)
		}
	}
	return pot
}

// PayoutOrder returns the frozen payout order of an active circle.
func (s *CircleService) PayoutOrder(ctx context.Context, circleID string) ([]string, error) {
	circle, err := s.store.GetCircle(ctx, circleID)
	if err != nil {
		return nil, err
	}
	return circle.PayoutOrder, nil
}

// MemberStatus returns one member's record within a circle.
func (s *CircleService) MemberStatus(ctx context.Context, circleID, memberID string) (*core.Member, error) {
	member, err := s.store.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if member.CircleID != circleID {
		return nil, core.ErrUnknownMember
	}
	return member, nil
}

func (s *CircleService) publishEvent(ctx context.Context, event core.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		slog.ErrorContext(ctx, "Failed to publish event",
			applog.FieldComponent, applog.ComponentEvents,
			"kind", event.Kind,
			applog.FieldError, err)
	}
}
