package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tanda/internal/core"
)

func (r *SQLiteRepository) CreateContribution(ctx context.Context, contribution *core.Contribution) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO contributions (id, cycle_id, circle_id, member_id, owed_cents, penalty_cents, paid_cents, status, shortfall_covered, paid_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		contribution.ID, contribution.CycleID, contribution.CircleID, contribution.MemberID,
		contribution.Owed.Cents, contribution.Penalty.Cents, contribution.Paid.Cents,
		string(contribution.Status), contribution.ShortfallCovered, toNullUnix(contribution.PaidAt),
	)
	if err != nil {
		return fmt.Errorf("insert contribution: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetContribution(ctx context.Context, cycleID, memberID string) (*core.Contribution, error) {
	return r.scanContribution(r.db.QueryRowContext(ctx,
		`SELECT id, cycle_id, circle_id, member_id, owed_cents, penalty_cents, paid_cents, status, shortfall_covered, paid_at
		 FROM contributions WHERE cycle_id = ? AND member_id = ?`, cycleID, memberID))
}

func (r *SQLiteRepository) ListContributions(ctx context.Context, cycleID string) ([]core.Contribution, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, cycle_id, circle_id, member_id, owed_cents, penalty_cents, paid_cents, status, shortfall_covered, paid_at
		 FROM contributions WHERE cycle_id = ? ORDER BY member_id`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("list contributions: %w", err)
	}
	defer rows.Close()

	var contributions []core.Contribution
	for rows.Next() {
		contribution, err := r.scanContribution(rows)
		if err != nil {
			return nil, err
		}
		contributions = append(contributions, *contribution)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contributions: %w", err)
	}
	return contributions, nil
}

func (r *SQLiteRepository) UpdateContribution(ctx context.Context, contribution *core.Contribution) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE contributions SET penalty_cents = ?, paid_cents = ?, status = ?, shortfall_covered = ?, paid_at = ?
		 WHERE id = ?`,
		contribution.Penalty.Cents, contribution.Paid.Cents, string(contribution.Status),
		contribution.ShortfallCovered, toNullUnix(contribution.PaidAt), contribution.ID,
	)
	if err != nil {
		return fmt.Errorf("update contribution: %w", err)
	}
	return requireRow(res, core.ErrUnknownContribution)
}

func (r *SQLiteRepository) scanContribution(row rowScanner) (*core.Contribution, error) {
	var (
		contribution core.Contribution
		status       string
		paidAt       sql.NullInt64
	)
	err := row.Scan(&contribution.ID, &contribution.CycleID, &contribution.CircleID, &contribution.MemberID,
		&contribution.Owed.Cents, &contribution.Penalty.Cents, &contribution.Paid.Cents,
		&status, &contribution.ShortfallCovered, &paidAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrUnknownContribution
	}
	if err != nil {
		return nil, fmt.Errorf("scan contribution: %w", err)
	}
	contribution.Status = core.ContributionStatus(status)
	contribution.PaidAt = fromNullUnix(paidAt)
	return &contribution, nil
}
