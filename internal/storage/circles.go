package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tanda/internal/core"
)

func (r *SQLiteRepository) CreateCircle(ctx context.Context, circle *core.Circle) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO circles (id, name, contribution_cents, frequency, target_members, current_cycle, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		circle.ID, circle.Name, circle.Contribution.Cents, string(circle.Frequency),
		circle.TargetMembers, circle.CurrentCycle, string(circle.Status), toUnix(circle.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert circle: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetCircle(ctx context.Context, circleID string) (*core.Circle, error) {
	circle, err := r.scanCircle(r.db.QueryRowContext(ctx,
		`SELECT id, name, contribution_cents, frequency, target_members, current_cycle, status, created_at
		 FROM circles WHERE id = ?`, circleID))
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT member_id FROM payout_positions WHERE circle_id = ? ORDER BY position`, circleID)
	if err != nil {
		return nil, fmt.Errorf("get payout order: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var memberID string
		if err := rows.Scan(&memberID); err != nil {
			return nil, fmt.Errorf("scan payout position: %w", err)
		}
		circle.PayoutOrder = append(circle.PayoutOrder, memberID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payout positions: %w", err)
	}

	return circle, nil
}

func (r *SQLiteRepository) ListCirclesByStatus(ctx context.Context, status core.CircleStatus) ([]core.Circle, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, contribution_cents, frequency, target_members, current_cycle, status, created_at
		 FROM circles WHERE status = ? ORDER BY created_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list circles: %w", err)
	}
	defer rows.Close()

	var circles []core.Circle
	for rows.Next() {
		circle, err := r.scanCircle(rows)
		if err != nil {
			return nil, err
		}
		circles = append(circles, *circle)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate circles: %w", err)
	}
	return circles, nil
}

func (r *SQLiteRepository) UpdateCircle(ctx context.Context, circle *core.Circle) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE circles SET name = ?, current_cycle = ?, status = ? WHERE id = ?`,
		circle.Name, circle.CurrentCycle, string(circle.Status), circle.ID,
	)
	if err != nil {
		return fmt.Errorf("update circle: %w", err)
	}
	return requireRow(res, core.ErrUnknownCircle)
}

func (r *SQLiteRepository) SetPayoutOrder(ctx context.Context, circleID string, order []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM payout_positions WHERE circle_id = ?`, circleID); err != nil {
		return fmt.Errorf("clear payout order: %w", err)
	}
	for pos, memberID := range order {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO payout_positions (circle_id, position, member_id) VALUES (?, ?, ?)`,
			circleID, pos, memberID); err != nil {
			return fmt.Errorf("insert payout position: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit payout order: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteRepository) scanCircle(row rowScanner) (*core.Circle, error) {
	var (
		circle    core.Circle
		frequency string
		status    string
		createdAt int64
	)
	err := row.Scan(&circle.ID, &circle.Name, &circle.Contribution.Cents, &frequency,
		&circle.TargetMembers, &circle.CurrentCycle, &status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrUnknownCircle
	}
	if err != nil {
		return nil, fmt.Errorf("scan circle: %w", err)
	}
	circle.Frequency = core.Frequency(frequency)
	circle.Status = core.CircleStatus(status)
	circle.CreatedAt = fromUnix(createdAt)
	return &circle, nil
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
