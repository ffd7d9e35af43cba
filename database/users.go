package database

import (
	"context"
	"fmt"
	"time"
)

const userColumns = "id, name, email, role, daily_quota, used_today, last_reset_date, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.DailyQuota, &u.UsedToday, &u.LastResetDate, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id))
	if err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

// ResetQuotaIfStale zeroes used_today when last_reset_date is not today and
// returns the row as it is after the check. The comparison happens inside
// the UPDATE so two concurrent first touches of the day reset only once.
func (s *Store) ResetQuotaIfStale(ctx context.Context, id int64, today time.Time) (*User, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET used_today = 0, last_reset_date = $2::date
		 WHERE id = $1 AND last_reset_date IS DISTINCT FROM $2::date`,
		id, dateString(today))
	if err != nil {
		return nil, fmt.Errorf("failed to reset quota: %w", err)
	}
	return s.GetUser(ctx, id)
}

func (s *Store) SetDailyQuota(ctx context.Context, id int64, quota int) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		"UPDATE users SET daily_quota = $2 WHERE id = $1 RETURNING "+userColumns, id, quota))
	if err != nil {
		return nil, notFound(err)
	}
	return u, nil
}

// ConsumeQuota advances used_today by n, never past daily_quota.
func (s *Store) ConsumeQuota(ctx context.Context, id int64, n int) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		"UPDATE users SET used_today = LEAST(used_today + $2, daily_quota) WHERE id = $1 RETURNING "+userColumns, id, n))
	if err != nil {
		return nil, notFound(err)
	}
	return u, nil
}
