package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const requestColumns = "id, user_id, requested_quota, reason, status, admin_note, created_at, responded_at, response_minutes"

// Resolution is the admin decision applied to a pending quota request.
type Resolution struct {
	Status          string
	AdminNote       *string
	RespondedAt     time.Time
	ResponseMinutes int
	// Today is the service-local calendar day used for the stale-quota reset
	// that precedes an approval.
	Today time.Time
}

func scanRequest(row rowScanner) (*QuotaRequest, error) {
	var r QuotaRequest
	err := row.Scan(&r.ID, &r.UserID, &r.RequestedQuota, &r.Reason, &r.Status, &r.AdminNote,
		&r.CreatedAt, &r.RespondedAt, &r.ResponseMinutes)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateQuotaRequest inserts a pending request. ErrDuplicate is returned when
// the user already has one pending (enforced by a partial unique index).
func (s *Store) CreateQuotaRequest(ctx context.Context, userID int64, requested int, reason string) (*QuotaRequest, error) {
	r, err := scanRequest(s.db.QueryRowContext(ctx,
		`INSERT INTO quota_requests (user_id, requested_quota, reason, status)
		 VALUES ($1, $2, $3, $4) RETURNING `+requestColumns,
		userID, requested, reason, RequestPending))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to create quota request: %w", err)
	}
	return r, nil
}

func (s *Store) GetQuotaRequest(ctx context.Context, id int64) (*QuotaRequest, error) {
	r, err := scanRequest(s.db.QueryRowContext(ctx, "SELECT "+requestColumns+" FROM quota_requests WHERE id = $1", id))
	if err != nil {
		return nil, notFound(err)
	}
	return r, nil
}

// ListQuotaRequests lists requests newest first, optionally for one user.
func (s *Store) ListQuotaRequests(ctx context.Context, userID *int64) ([]QuotaRequest, error) {
	query := "SELECT " + requestColumns + " FROM quota_requests WHERE status IS NOT NULL ORDER BY created_at DESC, id DESC"
	var args []any
	if userID != nil {
		query = "SELECT " + requestColumns + " FROM quota_requests WHERE user_id = $1 ORDER BY created_at DESC, id DESC"
		args = append(args, *userID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list quota requests: %w", err)
	}
	defer rows.Close()

	requests := []QuotaRequest{}
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan quota request row: %w", err)
		}
		requests = append(requests, *r)
	}
	return requests, rows.Err()
}

// ResolveQuotaRequest applies the decision in one transaction. The request
// row is locked so two admins cannot both resolve it, and an approval
// adjusts the owner's quota with in-place arithmetic.
func (s *Store) ResolveQuotaRequest(ctx context.Context, id int64, res Resolution) (*QuotaRequest, *User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	req, err := scanRequest(tx.QueryRowContext(ctx,
		"SELECT "+requestColumns+" FROM quota_requests WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		return nil, nil, notFound(err)
	}
	if req.Status != RequestPending {
		return nil, nil, ErrNotPending
	}

	req, err = scanRequest(tx.QueryRowContext(ctx,
		`UPDATE quota_requests
		 SET status = $2, admin_note = $3, responded_at = $4, response_minutes = $5
		 WHERE id = $1 RETURNING `+requestColumns,
		id, res.Status, res.AdminNote, res.RespondedAt, res.ResponseMinutes))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update quota request: %w", err)
	}

	var user *User
	if res.Status == RequestApproved {
		_, err = tx.ExecContext(ctx,
			`UPDATE users SET used_today = 0, last_reset_date = $2::date
			 WHERE id = $1 AND last_reset_date IS DISTINCT FROM $2::date`,
			req.UserID, dateString(res.Today))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to reset quota: %w", err)
		}
		user, err = scanUser(tx.QueryRowContext(ctx,
			`UPDATE users SET daily_quota = daily_quota + $2, used_today = GREATEST(0, used_today - $2)
			 WHERE id = $1 RETURNING `+userColumns,
			req.UserID, req.RequestedQuota))
	} else {
		user, err = scanUser(tx.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", req.UserID))
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to apply quota decision: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit quota decision: %w", err)
	}
	return req, user, nil
}
