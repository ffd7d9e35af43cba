package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"infomail/database"
	"infomail/services"
)

type TargetDirectory interface {
	VisibleTargets(ctx context.Context, who services.Identity) ([]database.Target, error)
	Assign(ctx context.Context, userID, targetID int64) error
	Unassign(ctx context.Context, userID, targetID int64) error
}

type assignmentRequest struct {
	UserID   int64 `json:"user_id"`
	TargetID int64 `json:"target_id"`
}

func (a assignmentRequest) validate() error {
	if a.UserID <= 0 || a.TargetID <= 0 {
		return &services.Error{Kind: services.ErrValidation, Msg: "user_id and target_id are required"}
	}
	return nil
}

// ListTargetsHandler lists every target for admins and assigned targets
// for users.
func ListTargetsHandler(targets TargetDirectory, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := targets.VisibleTargets(r.Context(), caller(r))
		if err != nil {
			writeError(w, r, logger, err, nil)
			return
		}
		successResponse(w, http.StatusOK, "Targets retrieved", list)
	}
}

func AssignTargetHandler(targets TargetDirectory, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req assignmentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, logger, err, nil)
			return
		}
		if err := req.validate(); err != nil {
			writeError(w, r, logger, err, nil)
			return
		}
		if err := targets.Assign(r.Context(), req.UserID, req.TargetID); err != nil {
			writeError(w, r, logger, err, nil)
			return
		}
		successResponse(w, http.StatusOK, "Target assigned", req)
	}
}

func UnassignTargetHandler(targets TargetDirectory, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req assignmentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, logger, err, nil)
			return
		}
		if err := req.validate(); err != nil {
			writeError(w, r, logger, err, nil)
			return
		}
		if err := targets.Unassign(r.Context(), req.UserID, req.TargetID); err != nil {
			writeError(w, r, logger, err, nil)
			return
		}
		successResponse(w, http.StatusOK, "Target unassigned", req)
	}
}
