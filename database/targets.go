package database

import (
	"context"
	"fmt"
)

const targetColumns = "t.id, t.name, t.category, t.email, t.question, t.status, t.sent_count, t.updated_at"

func scanTarget(row rowScanner) (*Target, error) {
	var t Target
	if err := row.Scan(&t.ID, &t.Name, &t.Category, &t.Email, &t.Question, &t.Status, &t.SentCount, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) GetTarget(ctx context.Context, id int64) (*Target, error) {
	t, err := scanTarget(s.db.QueryRowContext(ctx, "SELECT "+targetColumns+" FROM targets t WHERE t.id = $1", id))
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

// MarkSent records one successful delivery. The increment is done in SQL so
// overlapping batches to the same target do not lose counts.
func (s *Store) MarkSent(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE targets SET sent_count = sent_count + 1, status = $2, updated_at = NOW() WHERE id = $1",
		id, TargetStatusSent)
	if err != nil {
		return fmt.Errorf("failed to update target: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTargets returns every target when userID is nil, otherwise only the
// targets assigned to that user.
func (s *Store) ListTargets(ctx context.Context, userID *int64) ([]Target, error) {
	query := "SELECT " + targetColumns + " FROM targets t ORDER BY t.name"
	var args []any
	if userID != nil {
		query = "SELECT " + targetColumns + " FROM targets t JOIN assignments a ON a.target_id = t.id WHERE a.user_id = $1 ORDER BY t.name"
		args = append(args, *userID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	defer rows.Close()

	targets := []Target{}
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan target row: %w", err)
		}
		targets = append(targets, *t)
	}
	return targets, rows.Err()
}
