package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tanda/internal/core"
)

func (r *SQLiteRepository) CreateMember(ctx context.Context, member *core.Member) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO members (id, circle_id, user_id, name, joined_at, score_at_join, payout_position, contributed_cents, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		member.ID, member.CircleID, member.UserID, member.Name, toUnix(member.JoinedAt),
		member.ScoreAtJoin, toNullInt(member.PayoutPosition), member.Contributed.Cents, string(member.Status),
	)
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetMember(ctx context.Context, memberID string) (*core.Member, error) {
	return r.scanMember(r.db.QueryRowContext(ctx,
		`SELECT id, circle_id, user_id, name, joined_at, score_at_join, payout_position, contributed_cents, status
		 FROM members WHERE id = ?`, memberID))
}

func (r *SQLiteRepository) GetMemberByUser(ctx context.Context, circleID, userID string) (*core.Member, error) {
	return r.scanMember(r.db.QueryRowContext(ctx,
		`SELECT id, circle_id, user_id, name, joined_at, score_at_join, payout_position, contributed_cents, status
		 FROM members WHERE circle_id = ? AND user_id = ?`, circleID, userID))
}

func (r *SQLiteRepository) ListMembers(ctx context.Context, circleID string) ([]core.Member, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, circle_id, user_id, name, joined_at, score_at_join, payout_position, contributed_cents, status
		 FROM members WHERE circle_id = ? ORDER BY joined_at, id`, circleID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []core.Member
	for rows.Next() {
		member, err := r.scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, *member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

func (r *SQLiteRepository) UpdateMember(ctx context.Context, member *core.Member) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE members SET payout_position = ?, contributed_cents = ?, status = ? WHERE id = ?`,
		toNullInt(member.PayoutPosition), member.Contributed.Cents, string(member.Status), member.ID,
	)
	if err != nil {
		return fmt.Errorf("update member: %w", err)
	}
	return requireRow(res, core.ErrUnknownMember)
}

func (r *SQLiteRepository) scanMember(row rowScanner) (*core.Member, error) {
	var (
		member   core.Member
		joinedAt int64
		position sql.NullInt64
		status   string
	)
	err := row.Scan(&member.ID, &member.CircleID, &member.UserID, &member.Name, &joinedAt,
		&member.ScoreAtJoin, &position, &member.Contributed.Cents, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrUnknownMember
	}
	if err != nil {
		return nil, fmt.Errorf("scan member: %w", err)
	}
	member.JoinedAt = fromUnix(joinedAt)
	member.PayoutPosition = fromNullInt(position)
	member.Status = core.MemberStatus(status)
	return &member, nil
}
