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

// AdvanceService issues liquidity against a member's future payout and
// settles it by withholding at disbursement time. One outstanding advance
// per user, across all circles.
type AdvanceService struct {
	store     storage.Store
	clock     clockwork.Clock
	trust     *TrustService
	rail      rails.DisbursementRail
	gateway   rails.PaymentGateway
	publisher events.Publisher
	rules     Rules
	userLocks *KeyedLocks
}

func NewAdvanceService(store storage.Store, clock clockwork.Clock, trust *TrustService, rail rails.DisbursementRail, gateway rails.PaymentGateway, publisher events.Publisher, rules Rules) *AdvanceService {
	return &AdvanceService{
		store:     store,
		clock:     clock,
		trust:     trust,
		rail:      rail,
		gateway:   gateway,
		publisher: publisher,
		rules:     rules,
		userLocks: NewKeyedLocks(),
	}
}

// feeRateForScore prices the advance fee by trust tier: the higher the
// score, the lower the rate.
func feeRateForScore(score int) int {
	switch {
	case score >= 80:
		return 3
	case score >= 60:
		return 5
	default:
		return 8
	}
}

// RequestAdvance issues an advance to the member's funding destination.
// Principal is capped at the configured percentage of the expected payout;
// the fee rate follows the trust score tier.
func (s *AdvanceService) RequestAdvance(ctx context.Context, userID, circleID string, requested core.Money) (*core.Advance, error) {
	if err := requested.Validate(); err != nil {
		return nil, err
	}

	unlock := s.userLocks.Lock(userID)
	defer unlock()

	circle, err := s.store.GetCircle(ctx, circleID)
	if err != nil {
		return nil, err
	}
	if circle.Status != core.CircleActive {
		return nil, core.ErrCircleNotActive
	}

	member, err := s.store.GetMemberByUser(ctx, circleID, userID)
	if err != nil {
		return nil, err
	}
	switch member.Status {
	case core.MemberActive:
	case core.MemberPaidOut:
		return nil, core.ErrMemberPaidOut
	default:
		return nil, core.ErrMemberNotActive
	}

	outstanding, err := outstandingAdvanceForUser(ctx, s.store, userID)
	if err != nil {
		return nil, err
	}
	if outstanding != nil {
		return nil, core.ErrAdvanceOutstanding
	}

	restricted, err := advanceRestricted(ctx, s.store, userID)
	if err != nil {
		return nil, err
	}
	if restricted {
		return nil, core.ErrMemberRestricted
	}

	score, err := s.trust.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	if score < s.rules.AdvanceScoreFloor {
		return nil, core.ErrInsufficientScore
	}

	maxPrincipal := circle.ExpectedPayout().PercentOf(s.rules.AdvanceCapPct)
	principal := requested
	if principal.Cents > maxPrincipal.Cents {
		principal = maxPrincipal
	}
	fee := principal.PercentOf(feeRateForScore(score))

	// Principal goes out before the advance is recorded; a failed
	// delivery must not leave a phantom receivable.
	if _, err := s.rail.Disburse(ctx, member.ID, principal, rails.Instant); err != nil {
		return nil, fmt.Errorf("disburse advance: %w", err)
	}

	advance := &core.Advance{
		ID:          uuid.New().String(),
		MemberID:    member.ID,
		UserID:      userID,
		CircleID:    circleID,
		Principal:   principal,
		Fee:         fee,
		DisbursedAt: s.clock.Now().UTC(),
		Status:      core.AdvanceOutstanding,
	}
	if err := s.store.CreateAdvance(ctx, advance); err != nil {
		return nil, fmt.Errorf("create advance: %w", err)
	}
	metrics.AdvancesIssued.Inc()

	slog.InfoContext(ctx, "Advance issued",
		applog.FieldComponent, applog.ComponentAdvance,
		applog.FieldAdvanceID, advance.ID,
		applog.FieldUserID, userID,
		applog.FieldCircleID, circleID,
		"principal_cents", principal.Cents,
		"fee_cents", fee.Cents,
		applog.FieldScore, score)

	return advance, nil
}

// settlementPlan is the pure withholding computation for one advance
// against a gross payout. It is split from the commit so the circle state
// machine can hand the net amount to the disbursement rail before any
// advance state is written.
type settlementPlan struct {
	Net      core.Money
	Withheld core.Money
	Residual core.Money
	Outcome  core.AdvanceStatus
}

func planSettlement(advance *core.Advance, gross core.Money) settlementPlan {
	due := advance.TotalDue()
	if gross.Cents >= due.Cents {
		return settlementPlan{
			Net:      gross.Sub(due),
			Withheld: due,
			Outcome:  core.AdvanceRepaid,
		}
	}
	// Shortfall: the entire payout is withheld and the rest becomes a
	// receivable the member must clear before joining another circle or
	// advance.
	return settlementPlan{
		Net:      core.Money{},
		Withheld: gross,
		Residual: due.Sub(gross),
		Outcome:  core.AdvanceFailed,
	}
}

func (s *AdvanceService) commitSettlement(ctx context.Context, advance *core.Advance, plan settlementPlan) error {
	advance.Status = plan.Outcome
	advance.Residual = plan.Residual
	if err := s.store.UpdateAdvance(ctx, advance); err != nil {
		return fmt.Errorf("update advance: %w", err)
	}

	if plan.Outcome == core.AdvanceFailed {
		if _, err := s.trust.Adjust(ctx, advance.UserID, core.ReasonAdvanceDefault); err != nil {
			slog.ErrorContext(ctx, "Failed to adjust trust score after advance failure",
				applog.FieldComponent, applog.ComponentAdvance,
				applog.FieldUserID, advance.UserID,
				applog.FieldError, err)
		}
	}
	metrics.AdvancesSettled.WithLabelValues(string(plan.Outcome)).Inc()

	if err := s.publisher.Publish(ctx, core.Event{
		Kind:        core.EventAdvanceSettled,
		CircleID:    advance.CircleID,
		MemberID:    advance.MemberID,
		AdvanceID:   advance.ID,
		AmountCents: plan.Withheld.Cents,
		Detail:      string(plan.Outcome),
		OccurredAt:  s.clock.Now().UTC(),
	}); err != nil {
		slog.ErrorContext(ctx, "Failed to publish advance settlement",
			applog.FieldComponent, applog.ComponentEvents,
			applog.FieldAdvanceID, advance.ID,
			applog.FieldError, err)
	}

	slog.InfoContext(ctx, "Advance settled",
		applog.FieldComponent, applog.ComponentAdvance,
		applog.FieldAdvanceID, advance.ID,
		"outcome", string(plan.Outcome),
		"withheld_cents", plan.Withheld.Cents,
		"residual_cents", plan.Residual.Cents)

	return nil
}

// SettleAtPayout withholds principal plus fee from the gross payout and
// returns the net amount. On a shortfall the whole payout is withheld, the
// advance fails, and the residual becomes a receivable.
func (s *AdvanceService) SettleAtPayout(ctx context.Context, advanceID string, gross core.Money) (core.Money, error) {
	advance, err := s.store.GetAdvance(ctx, advanceID)
	if err != nil {
		return core.Money{}, err
	}

	unlock := s.userLocks.Lock(advance.UserID)
	defer unlock()

	// Reload under the lock
	advance, err = s.store.GetAdvance(ctx, advanceID)
	if err != nil {
		return core.Money{}, err
	}
	if advance.Status != core.AdvanceOutstanding {
		return core.Money{}, fmt.Errorf("advance %s is %s, not outstanding", advanceID, advance.Status)
	}

	plan := planSettlement(advance, gross)
	if err := s.commitSettlement(ctx, advance, plan); err != nil {
		return core.Money{}, err
	}
	return plan.Net, nil
}

// CollectResidual attempts to debit the member's funding source for the
// receivable left by a failed advance. Transient gateway errors are
// retried with bounded exponential backoff; hard declines start the
// repayment grace clock instead.
func (s *AdvanceService) CollectResidual(ctx context.Context, advanceID string) error {
	advance, err := s.store.GetAdvance(ctx, advanceID)
	if err != nil {
		return err
	}

	unlock := s.userLocks.Lock(advance.UserID)
	defer unlock()

	advance, err = s.store.GetAdvance(ctx, advanceID)
	if err != nil {
		return err
	}
	if advance.Status != core.AdvanceFailed || advance.Residual.IsZero() {
		return fmt.Errorf("advance %s has no residual to collect", advanceID)
	}

	if err := s.debitWithRetry(ctx, advance.UserID, advance.Residual); err != nil {
		var ge *rails.GatewayError
		if errors.As(err, &ge) && !ge.Transient() {
			grace := s.clock.Now().UTC().AddDate(0, 0, s.rules.GracePeriodDays)
			advance.RepayGraceUntil = &grace
			if uerr := s.store.UpdateAdvance(ctx, advance); uerr != nil {
				return fmt.Errorf("update advance after decline: %w", uerr)
			}
			slog.WarnContext(ctx, "Residual debit declined, grace clock started",
				applog.FieldComponent, applog.ComponentAdvance,
				applog.FieldAdvanceID, advance.ID,
				"code", ge.Code,
				"grace_until", grace)
		}
		return err
	}

	advance.Residual = core.Money{}
	advance.RepayGraceUntil = nil
	advance.Status = core.AdvanceRepaid
	if err := s.store.UpdateAdvance(ctx, advance); err != nil {
		return fmt.Errorf("update advance after collection: %w", err)
	}

	slog.InfoContext(ctx, "Advance residual collected",
		applog.FieldComponent, applog.ComponentAdvance,
		applog.FieldAdvanceID, advance.ID)
	return nil
}

// debitWithRetry makes up to RetryAttempts debit attempts, backing off
// exponentially between transient failures. Hard declines return
// immediately.
func (s *AdvanceService) debitWithRetry(ctx context.Context, userID string, amount core.Money) error {
	var err error
	delay := s.rules.RetryBackoffBase
	for attempt := 1; attempt <= s.rules.RetryAttempts; attempt++ {
		err = s.gateway.Debit(ctx, userID, amount)
		if err == nil || !rails.IsTransient(err) {
			return err
		}
		if attempt == s.rules.RetryAttempts {
			break
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.clock.After(delay):
			}
		}
		delay *= 2
	}
	return err
}

// SweepRepayGrace writes off failed advances whose residual repayment
// grace window has passed without collection. The receivable stays on the
// record and the user stays restricted until it is cleared out of band.
func (s *AdvanceService) SweepRepayGrace(ctx context.Context) error {
	advances, err := s.store.ListAdvancesByStatus(ctx, core.AdvanceFailed)
	if err != nil {
		return fmt.Errorf("list failed advances: %w", err)
	}
	now := s.clock.Now().UTC()
	for i := range advances {
		advance := &advances[i]
		if advance.RepayGraceUntil == nil || now.Before(*advance.RepayGraceUntil) {
			continue
		}
		unlock := s.userLocks.Lock(advance.UserID)
		advance.Status = core.AdvanceWrittenOff
		if err := s.store.UpdateAdvance(ctx, advance); err != nil {
			unlock()
			return fmt.Errorf("write off advance %s: %w", advance.ID, err)
		}
		unlock()
		slog.WarnContext(ctx, "Advance written off",
			applog.FieldComponent, applog.ComponentAdvance,
			applog.FieldAdvanceID, advance.ID,
			applog.FieldUserID, advance.UserID,
			"residual_cents", advance.Residual.Cents)
	}
	return nil
}

// Restricted reports whether the user carries an unresolved advance
// receivable. It is derived, never stored.
func (s *AdvanceService) Restricted(ctx context.Context, userID string) (bool, error) {
	return advanceRestricted(ctx, s.store, userID)
}

// Outstanding returns the user's single outstanding advance, or nil.
func (s *AdvanceService) Outstanding(ctx context.Context, userID string) (*core.Advance, error) {
	return outstandingAdvanceForUser(ctx, s.store, userID)
}

func outstandingAdvanceForUser(ctx context.Context, store storage.Store, userID string) (*core.Advance, error) {
	advances, err := store.ListAdvancesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range advances {
		if advances[i].Status == core.AdvanceOutstanding {
			return &advances[i], nil
		}
	}
	return nil, nil
}

func advanceRestricted(ctx context.Context, store storage.Store, userID string) (bool, error) {
	advances, err := store.ListAdvancesByUser(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, advance := range advances {
		switch advance.Status {
		case core.AdvanceFailed, core.AdvanceWrittenOff:
		default:
			continue
		}
		if !advance.Residual.IsZero() {
			return true, nil
		}
	}
	return false, nil
}
