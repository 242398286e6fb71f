// Package services implements the engine's domain components: the trust
// score ledger, the contribution ledger, the circle state machine, the
// default and backstop handler, and the advance engine.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"tanda/internal/core"
	applog "tanda/internal/log"
	"tanda/internal/storage"
)

// TrustService maintains each user's reputation score and its append-only
// adjustment history. Adjustments are serialized per user, independently of
// any circle lock, so a snapshot never observes a half-applied adjustment.
type TrustService struct {
	store storage.Store
	clock clockwork.Clock
	locks *KeyedLocks
}

func NewTrustService(store storage.Store, clock clockwork.Clock) *TrustService {
	return &TrustService{
		store: store,
		clock: clock,
		locks: NewKeyedLocks(),
	}
}

// Register creates a trust record at the initial score if the user has
// none yet and returns the current score. It is safe to call on every
// join.
func (s *TrustService) Register(ctx context.Context, userID string) (int, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	if score, err := s.store.GetTrustScore(ctx, userID); err == nil {
		return score, nil
	} else if !errors.Is(err, core.ErrUnknownMember) {
		return 0, err
	}

	if err := s.store.CreateTrustScore(ctx, userID, core.InitialScore); err != nil {
		return 0, fmt.Errorf("create trust score: %w", err)
	}

	slog.InfoContext(ctx, "Trust record created",
		applog.FieldComponent, applog.ComponentTrust,
		applog.FieldUserID, userID,
		applog.FieldScore, core.InitialScore)
	return core.InitialScore, nil
}

// Adjust applies one reason-coded score change and appends it to the
// user's history. The stored delta is post-clamp, so replaying the log
// always reproduces the stored score.
func (s *TrustService) Adjust(ctx context.Context, userID string, reason core.AdjustReason) (int, error) {
	if !reason.Valid() {
		return 0, fmt.Errorf("unknown adjustment reason %q", reason)
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	score, err := s.store.GetTrustScore(ctx, userID)
	if err != nil {
		return 0, err
	}

	delta := core.ClampDelta(score, reason.Delta())
	newScore := score + delta

	adj := core.Adjustment{
		UserID: userID,
		Reason: reason,
		Delta:  delta,
		At:     s.clock.Now().UTC(),
	}
	if err := s.store.AppendAdjustment(ctx, adj, newScore); err != nil {
		return 0, fmt.Errorf("append adjustment: %w", err)
	}

	slog.InfoContext(ctx, "Trust score adjusted",
		applog.FieldComponent, applog.ComponentTrust,
		applog.FieldUserID, userID,
		applog.FieldReason, string(reason),
		"delta", delta,
		applog.FieldScore, newScore)

	return newScore, nil
}

// Snapshot returns the user's current score as a single atomic read
// relative to concurrent Adjust calls on the same user.
func (s *TrustService) Snapshot(ctx context.Context, userID string) (int, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()
	return s.store.GetTrustScore(ctx, userID)
}

// History returns the user's full adjustment log, oldest first.
func (s *TrustService) History(ctx context.Context, userID string) ([]core.Adjustment, error) {
	if _, err := s.store.GetTrustScore(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.ListAdjustments(ctx, userID)
}

// Replay recomputes the score from the initial value and the full log.
// It backs dispute resolution: the result must always match Snapshot.
func (s *TrustService) Replay(ctx context.Context, userID string) (int, error) {
	history, err := s.History(ctx, userID)
	if err != nil {
		return 0, err
	}
	return core.Replay(core.InitialScore, history), nil
}
