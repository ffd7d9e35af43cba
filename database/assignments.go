package database

import (
	"context"
	"fmt"
)

func (s *Store) IsAssigned(ctx context.Context, userID, targetID int64) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM assignments WHERE user_id = $1 AND target_id = $2)",
		userID, targetID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check assignment: %w", err)
	}
	return ok, nil
}

// Assign is idempotent.
func (s *Store) Assign(ctx context.Context, userID, targetID int64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO assignments (user_id, target_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		userID, targetID)
	if err != nil {
		return fmt.Errorf("failed to assign target: %w", err)
	}
	return nil
}

func (s *Store) Unassign(ctx context.Context, userID, targetID int64) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM assignments WHERE user_id = $1 AND target_id = $2", userID, targetID)
	if err != nil {
		return fmt.Errorf("failed to unassign target: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
