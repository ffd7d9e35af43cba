package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"infomail/database"
	"infomail/services"
)

// QuotaLedger is the quota service as seen by the HTTP layer.
type QuotaLedger interface {
	Status(ctx context.Context, userID int64) (services.QuotaStatus, error)
	SetQuota(ctx context.Context, userID int64, quota int) (services.QuotaStatus, error)
	CreateRequest(ctx context.Context, userID int64, requested int, reason string) (*database.QuotaRequest, error)
	ListRequests(ctx context.Context) ([]database.QuotaRequest, error)
	ListUserRequests(ctx context.Context, userID int64) ([]database.QuotaRequest, error)
	ResolveRequest(ctx context.Context, requestID int64, decision, note string) (*database.QuotaRequest, services.QuotaStatus, error)
}

type setQuotaRequest struct {
	DailyQuota int `json:"daily_quota"`
}

type createQuotaRequest struct {
	RequestedQuota int    `json:"requested_quota"`
	Reason         string `json:"reason"`
}

type resolveQuotaRequest struct {
	Status    string `json:"status"`
	AdminNote string `json:"admin_note"`
}

func GetMyQuotaHandler(quota QuotaLedger, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := quota.Status(r.Context(), caller(r).UserID)
		if err != nil {
			writeError(w, r, logger, err, nil)
			return
		}
		successResponse(w, http.StatusOK, "Quota retrieved", status)
	}
}

// SetUserQuotaHandler overwrites a user's daily quota (admin).
func SetUserQuotaHandler(quota QuotaLedger, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := pathID(r, "userId")
		if err != nil {
			writeError(w, r, logger, err, nil)
			return
		}
		var req setQuotaRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, logger, err, nil)
			return
		}
		status, err := quota.SetQuota(r.Context(), userID, req.DailyQuota)
		if err != nil {
			writeError(w, r, logger, err, nil)
			return
		}
		successResponse(w, http.StatusOK, "Daily quota updated", status)
	}
}

func CreateQuotaRequestHandler(quota QuotaLedger, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createQuotaRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, logger, err, nil)
			return
		}
		created, err := quota.CreateRequest(r.Context(), caller(r).UserID, req.RequestedQuota, req.Reason)
		if err != nil {
			writeError(w, r, logger, err, nil)
			return
		}
		successResponse(w, http.StatusCreated, "Quota request submitted", created)
	}
}

func ListQuotaRequestsHandler(quota QuotaLedger, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqs, err := quota.ListRequests(r.Context())
		if err != nil {
			writeError(w, r, logger, err, nil)
			return
		}
		successResponse(w, http.StatusOK, "Quota requests retrieved", reqs)
	}
}

func ListMyQuotaRequestsHandler(quota QuotaLedger, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqs, err := quota.ListUserRequests(r.Context(), caller(r).UserID)
		if err != nil {
			writeError(w, r, logger, err, nil)
			return
		}
		successResponse(w, http.StatusOK, "Quota requests retrieved", reqs)
	}
}

// ResolveQuotaRequestHandler approves or rejects a pending request (admin).
func ResolveQuotaRequestHandler(quota QuotaLedger, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			writeError(w, r, logger, err, nil)
			return
		}
		var req resolveQuotaRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, logger, err, nil)
			return
		}
		resolved, status, err := quota.ResolveRequest(r.Context(), id, req.Status, req.AdminNote)
		if err != nil {
			writeError(w, r, logger, err, nil)
			return
		}
		successResponse(w, http.StatusOK, "Quota request "+resolved.Status, map[string]interface{}{
			"request": resolved,
			"quota":   status,
		})
	}
}
