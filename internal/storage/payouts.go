package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tanda/internal/core"
)

func (r *SQLiteRepository) CreatePayout(ctx context.Context, payout *core.Payout) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO payouts (id, cycle_id, member_id, amount_cents, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		payout.ID, payout.CycleID, payout.MemberID, payout.Amount.Cents,
		string(payout.Status), toUnix(payout.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert payout: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetPayoutByCycle(ctx context.Context, cycleID string) (*core.Payout, error) {
	var (
		payout    core.Payout
		status    string
		createdAt int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, cycle_id, member_id, amount_cents, status, created_at
		 FROM payouts WHERE cycle_id = ?`, cycleID).
		Scan(&payout.ID, &payout.CycleID, &payout.MemberID, &payout.Amount.Cents, &status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrUnknownPayout
	}
	if err != nil {
		return nil, fmt.Errorf("scan payout: %w", err)
	}
	payout.Status = core.PayoutStatus(status)
	payout.CreatedAt = fromUnix(createdAt)
	return &payout, nil
}

func (r *SQLiteRepository) UpdatePayout(ctx context.Context, payout *core.Payout) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payouts SET status = ? WHERE id = ?`, string(payout.Status), payout.ID)
	if err != nil {
		return fmt.Errorf("update payout: %w", err)
	}
	return requireRow(res, core.ErrUnknownPayout)
}
