package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"infomail/database"
)

type AssignmentRepository interface {
	GetUser(ctx context.Context, id int64) (*database.User, error)
	GetTarget(ctx context.Context, id int64) (*database.Target, error)
	IsAssigned(ctx context.Context, userID, targetID int64) (bool, error)
	ListTargets(ctx context.Context, userID *int64) ([]database.Target, error)
	Assign(ctx context.Context, userID, targetID int64) error
	Unassign(ctx context.Context, userID, targetID int64) error
}

// AssignmentService decides which targets a user may see and send to.
// Admins are never restricted.
type AssignmentService struct {
	repo   AssignmentRepository
	logger *zap.SugaredLogger
}

func NewAssignmentService(repo AssignmentRepository, logger *zap.SugaredLogger) *AssignmentService {
	return &AssignmentService{repo: repo, logger: logger.Named("assignments")}
}

func (s *AssignmentService) CanAccess(ctx context.Context, who Identity, targetID int64) (bool, error) {
	if who.IsAdmin() {
		return true, nil
	}
	ok, err := s.repo.IsAssigned(ctx, who.UserID, targetID)
	if err != nil {
		return false, fmt.Errorf("failed to check assignment of target %d to user %d: %w", targetID, who.UserID, err)
	}
	return ok, nil
}

// ResolveTarget loads a target the user may act on. Targets outside the
// user's assignments are reported as not found.
func (s *AssignmentService) ResolveTarget(ctx context.Context, who Identity, targetID int64) (*database.Target, error) {
	ok, err := s.CanAccess(ctx, who, targetID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFoundError("target")
	}
	t, err := s.repo.GetTarget(ctx, targetID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, notFoundError("target")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load target %d: %w", targetID, err)
	}
	return t, nil
}

// VisibleTargets lists everything for admins, assigned targets otherwise.
func (s *AssignmentService) VisibleTargets(ctx context.Context, who Identity) ([]database.Target, error) {
	if who.IsAdmin() {
		return s.repo.ListTargets(ctx, nil)
	}
	return s.repo.ListTargets(ctx, &who.UserID)
}

func (s *AssignmentService) Assign(ctx context.Context, userID, targetID int64) error {
	if err := s.ensureExists(ctx, userID, targetID); err != nil {
		return err
	}
	if err := s.repo.Assign(ctx, userID, targetID); err != nil {
		return err
	}
	s.logger.Infow("Target assigned", "userID", userID, "targetID", targetID)
	return nil
}

func (s *AssignmentService) Unassign(ctx context.Context, userID, targetID int64) error {
	err := s.repo.Unassign(ctx, userID, targetID)
	if errors.Is(err, database.ErrNotFound) {
		return notFoundError("assignment")
	}
	if err != nil {
		return err
	}
	s.logger.Infow("Target unassigned", "userID", userID, "targetID", targetID)
	return nil
}

func (s *AssignmentService) ensureExists(ctx context.Context, userID, targetID int64) error {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return notFoundError("user")
		}
		return err
	}
	if _, err := s.repo.GetTarget(ctx, targetID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return notFoundError("target")
		}
		return err
	}
	return nil
}
