package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tanda/internal/core"
)

func (r *SQLiteRepository) CreateAdvance(ctx context.Context, advance *core.Advance) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO advances (id, member_id, user_id, circle_id, principal_cents, fee_cents, residual_cents, disbursed_at, repay_grace_until, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		advance.ID, advance.MemberID, advance.UserID, advance.CircleID,
		advance.Principal.Cents, advance.Fee.Cents, advance.Residual.Cents,
		toUnix(advance.DisbursedAt), toNullUnix(advance.RepayGraceUntil), string(advance.Status),
	)
	if err != nil {
		return fmt.Errorf("insert advance: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetAdvance(ctx context.Context, advanceID string) (*core.Advance, error) {
	return r.scanAdvance(r.db.QueryRowContext(ctx,
		`SELECT id, member_id, user_id, circle_id, principal_cents, fee_cents, residual_cents, disbursed_at, repay_grace_until, status
		 FROM advances WHERE id = ?`, advanceID))
}

func (r *SQLiteRepository) ListAdvancesByUser(ctx context.Context, userID string) ([]core.Advance, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, member_id, user_id, circle_id, principal_cents, fee_cents, residual_cents, disbursed_at, repay_grace_until, status
		 FROM advances WHERE user_id = ? ORDER BY disbursed_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list advances: %w", err)
	}
	defer rows.Close()

	var advances []core.Advance
	for rows.Next() {
		advance, err := r.scanAdvance(rows)
		if err != nil {
			return nil, err
		}
		advances = append(advances, *advance)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate advances: %w", err)
	}
	return advances, nil
}

func (r *SQLiteRepository) ListAdvancesByStatus(ctx context.Context, status core.AdvanceStatus) ([]core.Advance, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, member_id, user_id, circle_id, principal_cents, fee_cents, residual_cents, disbursed_at, repay_grace_until, status
		 FROM advances WHERE status = ? ORDER BY disbursed_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list advances by status: %w", err)
	}
	defer rows.Close()

	var advances []core.Advance
	for rows.Next() {
		advance, err := r.scanAdvance(rows)
		if err != nil {
			return nil, err
		}
		advances = append(advances, *advance)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate advances: %w", err)
	}
	return advances, nil
}

func (r *SQLiteRepository) UpdateAdvance(ctx context.Context, advance *core.Advance) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE advances SET residual_cents = ?, repay_grace_until = ?, status = ? WHERE id = ?`,
		advance.Residual.Cents, toNullUnix(advance.RepayGraceUntil), string(advance.Status), advance.ID,
	)
	if err != nil {
		return fmt.Errorf("update advance: %w", err)
	}
	return requireRow(res, core.ErrUnknownAdvance)
}

func (r *SQLiteRepository) scanAdvance(row rowScanner) (*core.Advance, error) {
	var (
		advance     core.Advance
		disbursedAt int64
		graceUntil  sql.NullInt64
		status      string
	)
	err := row.Scan(&advance.ID, &advance.MemberID, &advance.UserID, &advance.CircleID,
		&advance.Principal.Cents, &advance.Fee.Cents, &advance.Residual.Cents,
		&disbursedAt, &graceUntil, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrUnknownAdvance
	}
	if err != nil {
		return nil, fmt.Errorf("scan advance: %w", err)
	}
	advance.DisbursedAt = fromUnix(disbursedAt)
	advance.RepayGraceUntil = fromNullUnix(graceUntil)
	advance.Status = core.AdvanceStatus(status)
	return &advance, nil
}
