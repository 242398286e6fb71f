package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tanda/internal/core"
)

func (r *SQLiteRepository) CreateCycle(ctx context.Context, cycle *core.Cycle) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO cycles (id, circle_id, sequence, due_at, grace_until, status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		cycle.ID, cycle.CircleID, cycle.Sequence, toUnix(cycle.DueAt), toUnix(cycle.GraceUntil), string(cycle.Status),
	)
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetCycle(ctx context.Context, cycleID string) (*core.Cycle, error) {
	return r.scanCycle(r.db.QueryRowContext(ctx,
		`SELECT id, circle_id, sequence, due_at, grace_until, status FROM cycles WHERE id = ?`, cycleID))
}

func (r *SQLiteRepository) UnsettledCycle(ctx context.Context, circleID string) (*core.Cycle, error) {
	return r.scanCycle(r.db.QueryRowContext(ctx,
		`SELECT id, circle_id, sequence, due_at, grace_until, status
		 FROM cycles WHERE circle_id = ? AND status != ? ORDER BY sequence DESC LIMIT 1`,
		circleID, string(core.CycleSettled)))
}

func (r *SQLiteRepository) ListUnsettledCycles(ctx context.Context) ([]core.Cycle, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, circle_id, sequence, due_at, grace_until, status
		 FROM cycles WHERE status != ? ORDER BY due_at`, string(core.CycleSettled))
	if err != nil {
		return nil, fmt.Errorf("list unsettled cycles: %w", err)
	}
	defer rows.Close()

	var cycles []core.Cycle
	for rows.Next() {
		cycle, err := r.scanCycle(rows)
		if err != nil {
			return nil, err
		}
		cycles = append(cycles, *cycle)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cycles: %w", err)
	}
	return cycles, nil
}

func (r *SQLiteRepository) UpdateCycle(ctx context.Context, cycle *core.Cycle) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE cycles SET due_at = ?, grace_until = ?, status = ? WHERE id = ?`,
		toUnix(cycle.DueAt), toUnix(cycle.GraceUntil), string(cycle.Status), cycle.ID,
	)
	if err != nil {
		return fmt.Errorf("update cycle: %w", err)
	}
	return requireRow(res, core.ErrUnknownCycle)
}

func (r *SQLiteRepository) scanCycle(row rowScanner) (*core.Cycle, error) {
	var (
		cycle      core.Cycle
		dueAt      int64
		graceUntil int64
		status     string
	)
	err := row.Scan(&cycle.ID, &cycle.CircleID, &cycle.Sequence, &dueAt, &graceUntil, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrUnknownCycle
	}
	if err != nil {
		return nil, fmt.Errorf("scan cycle: %w", err)
	}
	cycle.DueAt = fromUnix(dueAt)
	cycle.GraceUntil = fromUnix(graceUntil)
	cycle.Status = core.CycleStatus(status)
	return &cycle, nil
}
