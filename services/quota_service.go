package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"infomail/database"
	"infomail/metrics"
)

type QuotaRepository interface {
	GetUser(ctx context.Context, id int64) (*database.User, error)
	ResetQuotaIfStale(ctx context.Context, id int64, today time.Time) (*database.User, error)
	SetDailyQuota(ctx context.Context, id int64, quota int) (*database.User, error)
	ConsumeQuota(ctx context.Context, id int64, n int) (*database.User, error)
	CreateQuotaRequest(ctx context.Context, userID int64, requested int, reason string) (*database.QuotaRequest, error)
	GetQuotaRequest(ctx context.Context, id int64) (*database.QuotaRequest, error)
	ListQuotaRequests(ctx context.Context, userID *int64) ([]database.QuotaRequest, error)
	ResolveQuotaRequest(ctx context.Context, id int64, res database.Resolution) (*database.QuotaRequest, *database.User, error)
}

// QuotaStatus is the caller-facing view of a user's daily allowance.
type QuotaStatus struct {
	DailyQuota int `json:"daily_quota"`
	UsedToday  int `json:"used_today"`
	Remaining  int `json:"remaining"`
}

// QuotaService is the daily quota ledger. The daily reset is lazy: every
// method that reads or changes a user's quota goes through resetIfStale
// first, and nothing else resets it.
type QuotaService struct {
	repo   QuotaRepository
	loc    *time.Location
	now    func() time.Time
	logger *zap.SugaredLogger
}

func NewQuotaService(repo QuotaRepository, loc *time.Location, logger *zap.SugaredLogger) *QuotaService {
	if loc == nil {
		loc = time.UTC
	}
	return &QuotaService{repo: repo, loc: loc, now: time.Now, logger: logger.Named("quota")}
}

// Remaining is daily_quota - used_today, floored at zero.
func Remaining(u *database.User) int {
	if r := u.DailyQuota - u.UsedToday; r > 0 {
		return r
	}
	return 0
}

func statusOf(u *database.User) QuotaStatus {
	return QuotaStatus{DailyQuota: u.DailyQuota, UsedToday: u.UsedToday, Remaining: Remaining(u)}
}

// ResponseMinutes is the whole number of minutes between a request and its
// response, never negative.
func ResponseMinutes(created, responded time.Time) int {
	m := math.Round(responded.Sub(created).Minutes())
	if m < 0 {
		return 0
	}
	return int(m)
}

func (s *QuotaService) today() time.Time {
	return s.now().In(s.loc)
}

func (s *QuotaService) resetIfStale(ctx context.Context, userID int64) (*database.User, error) {
	u, err := s.repo.ResetQuotaIfStale(ctx, userID, s.today())
	if errors.Is(err, database.ErrNotFound) {
		return nil, notFoundError("user")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reset quota for user %d: %w", userID, err)
	}
	return u, nil
}

// Status returns the caller's quota after applying the daily reset.
func (s *QuotaService) Status(ctx context.Context, userID int64) (QuotaStatus, error) {
	u, err := s.resetIfStale(ctx, userID)
	if err != nil {
		return QuotaStatus{}, err
	}
	return statusOf(u), nil
}

// SetQuota overwrites a user's daily quota (admin).
func (s *QuotaService) SetQuota(ctx context.Context, userID int64, quota int) (QuotaStatus, error) {
	if quota <= 0 {
		return QuotaStatus{}, validationError("daily_quota must be greater than 0")
	}
	if _, err := s.resetIfStale(ctx, userID); err != nil {
		return QuotaStatus{}, err
	}
	u, err := s.repo.SetDailyQuota(ctx, userID, quota)
	if errors.Is(err, database.ErrNotFound) {
		return QuotaStatus{}, notFoundError("user")
	}
	if err != nil {
		return QuotaStatus{}, fmt.Errorf("failed to set quota for user %d: %w", userID, err)
	}
	s.logger.Infow("Daily quota updated", "userID", userID, "dailyQuota", quota)
	return statusOf(u), nil
}

// Consume records n successful sends against today's allowance.
func (s *QuotaService) Consume(ctx context.Context, userID int64, n int) (QuotaStatus, error) {
	if n <= 0 {
		return s.Status(ctx, userID)
	}
	if _, err := s.resetIfStale(ctx, userID); err != nil {
		return QuotaStatus{}, err
	}
	u, err := s.repo.ConsumeQuota(ctx, userID, n)
	if errors.Is(err, database.ErrNotFound) {
		return QuotaStatus{}, notFoundError("user")
	}
	if err != nil {
		return QuotaStatus{}, fmt.Errorf("failed to consume quota for user %d: %w", userID, err)
	}
	return statusOf(u), nil
}

// CreateRequest files a top-up request. A user may have only one pending.
func (s *QuotaService) CreateRequest(ctx context.Context, userID int64, requested int, reason string) (*database.QuotaRequest, error) {
	if requested <= 0 {
		return nil, validationError("requested_quota must be greater than 0")
	}
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, notFoundError("user")
		}
		return nil, fmt.Errorf("failed to load user %d: %w", userID, err)
	}
	req, err := s.repo.CreateQuotaRequest(ctx, userID, requested, strings.TrimSpace(reason))
	if errors.Is(err, database.ErrDuplicate) {
		return nil, conflictError("a pending quota request already exists")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create quota request: %w", err)
	}
	metrics.QuotaRequests.WithLabelValues("created").Inc()
	s.logger.Infow("Quota request created", "userID", userID, "requestID", req.ID, "requested", requested)
	return req, nil
}

// ListRequests returns every request (admin view).
func (s *QuotaService) ListRequests(ctx context.Context) ([]database.QuotaRequest, error) {
	return s.repo.ListQuotaRequests(ctx, nil)
}

// ListUserRequests returns the requests filed by one user.
func (s *QuotaService) ListUserRequests(ctx context.Context, userID int64) ([]database.QuotaRequest, error) {
	return s.repo.ListQuotaRequests(ctx, &userID)
}

// ResolveRequest approves or rejects a pending request. Approval is
// additive and takes effect immediately: daily_quota grows by the requested
// amount and used_today shrinks by it (floored at zero).
func (s *QuotaService) ResolveRequest(ctx context.Context, requestID int64, decision string, note string) (*database.QuotaRequest, QuotaStatus, error) {
	if decision != database.RequestApproved && decision != database.RequestRejected {
		return nil, QuotaStatus{}, validationError("status must be %q or %q", database.RequestApproved, database.RequestRejected)
	}

	existing, err := s.repo.GetQuotaRequest(ctx, requestID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, QuotaStatus{}, notFoundError("quota request")
	}
	if err != nil {
		return nil, QuotaStatus{}, fmt.Errorf("failed to load quota request %d: %w", requestID, err)
	}

	now := s.now()
	res := database.Resolution{
		Status:          decision,
		RespondedAt:     now,
		ResponseMinutes: ResponseMinutes(existing.CreatedAt, now),
		Today:           now.In(s.loc),
	}
	if note = strings.TrimSpace(note); note != "" {
		res.AdminNote = &note
	}

	req, user, err := s.repo.ResolveQuotaRequest(ctx, requestID, res)
	switch {
	case errors.Is(err, database.ErrNotFound):
		return nil, QuotaStatus{}, notFoundError("quota request")
	case errors.Is(err, database.ErrNotPending):
		return nil, QuotaStatus{}, conflictError("quota request has already been resolved")
	case err != nil:
		return nil, QuotaStatus{}, fmt.Errorf("failed to resolve quota request %d: %w", requestID, err)
	}

	metrics.QuotaRequests.WithLabelValues(decision).Inc()
	metrics.QuotaResponseMinutes.Observe(float64(res.ResponseMinutes))
	s.logger.Infow("Quota request resolved",
		"requestID", requestID,
		"userID", req.UserID,
		"status", decision,
		"responseMinutes", res.ResponseMinutes,
		"dailyQuota", user.DailyQuota,
		"usedToday", user.UsedToday)
	return req, statusOf(user), nil
}
