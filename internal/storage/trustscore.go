package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tanda/internal/core"
)

func (r *SQLiteRepository) CreateTrustScore(ctx context.Context, userID string, score int) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO trust_scores (user_id, score) VALUES (?, ?)`, userID, score)
	if err != nil {
		return fmt.Errorf("insert trust score: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetTrustScore(ctx context.Context, userID string) (int, error) {
	var score int
	err := r.db.QueryRowContext(ctx,
		`SELECT score FROM trust_scores WHERE user_id = ?`, userID).Scan(&score)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, core.ErrUnknownMember
	}
	if err != nil {
		return 0, fmt.Errorf("get trust score: %w", err)
	}
	return score, nil
}

// AppendAdjustment writes the log entry and the resulting score in one
// transaction. The log table is insert-only; history is never rewritten.
func (r *SQLiteRepository) AppendAdjustment(ctx context.Context, adj core.Adjustment, newScore int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO trust_adjustments (user_id, reason, delta, at) VALUES (?, ?, ?, ?)`,
		adj.UserID, string(adj.Reason), adj.Delta, toUnix(adj.At)); err != nil {
		return fmt.Errorf("insert adjustment: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE trust_scores SET score = ? WHERE user_id = ?`, newScore, adj.UserID)
	if err != nil {
		return fmt.Errorf("update score: %w", err)
	}
	if err := requireRow(res, core.ErrUnknownMember); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit adjustment: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListAdjustments(ctx context.Context, userID string) ([]core.Adjustment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, reason, delta, at FROM trust_adjustments WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list adjustments: %w", err)
	}
	defer rows.Close()

	var adjustments []core.Adjustment
	for rows.Next() {
		var (
			adj    core.Adjustment
			reason string
			at     int64
		)
		if err := rows.Scan(&adj.UserID, &reason, &adj.Delta, &at); err != nil {
			return nil, fmt.Errorf("scan adjustment: %w", err)
		}
		adj.Reason = core.AdjustReason(reason)
		adj.At = fromUnix(at)
		adjustments = append(adjustments, adj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate adjustments: %w", err)
	}
	return adjustments, nil
}
