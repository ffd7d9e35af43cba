package utils

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

// Stats aggregates delivery logs per calendar day in the service time zone.
type Stats struct {
	db  *sql.DB
	loc *time.Location
	now func() time.Time
}

func NewStats(db *sql.DB, loc *time.Location) *Stats {
	if loc == nil {
		loc = time.UTC
	}
	return &Stats{db: db, loc: loc, now: time.Now}
}

func (s *Stats) today() time.Time {
	return s.now().In(s.loc)
}

// StatusDistribution counts today's delivery attempts by status. Both
// "success" and "failed" are always present. A nil userID covers every
// sender.
func (s *Stats) StatusDistribution(ctx context.Context, userID *int64) (map[string]int, error) {
	statusCounts := map[string]int{"success": 0, "failed": 0}
	query := `
		SELECT status, COUNT(*) FROM delivery_logs
		WHERE (sent_at AT TIME ZONE $1)::date = $2::date`
	args := []any{s.loc.String(), s.today().Format("2006-01-02")}
	if userID != nil {
		args = append(args, *userID)
		query += " AND user_id = $" + strconv.Itoa(len(args))
	}
	query += " GROUP BY status"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get email status distribution: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status distribution row: %w", err)
		}
		statusCounts[status] = count
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over status distribution rows: %w", err)
	}
	return statusCounts, nil
}

// DailySends counts successful sends per day for the last days days,
// today included. Days without sends are reported as zero.
func (s *Stats) DailySends(ctx context.Context, userID *int64, days int) (map[string]int, error) {
	if days <= 0 {
		days = 7
	}
	today := s.today()
	dailySends := make(map[string]int, days)
	for i := 0; i < days; i++ {
		dailySends[today.AddDate(0, 0, -i).Format("2006-01-02")] = 0
	}

	query := `
		SELECT (sent_at AT TIME ZONE $1)::date AS log_date, COUNT(*)
		FROM delivery_logs
		WHERE status = 'success' AND (sent_at AT TIME ZONE $1)::date >= $2::date`
	args := []any{s.loc.String(), today.AddDate(0, 0, -(days - 1)).Format("2006-01-02")}
	if userID != nil {
		args = append(args, *userID)
		query += " AND user_id = $" + strconv.Itoa(len(args))
	}
	query += " GROUP BY log_date ORDER BY log_date ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily sends over period: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var logDate time.Time
		var count int
		if err := rows.Scan(&logDate, &count); err != nil {
			return nil, fmt.Errorf("failed to scan daily sends row: %w", err)
		}
		dailySends[logDate.Format("2006-01-02")] = count
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over daily sends rows: %w", err)
	}
	return dailySends, nil
}
