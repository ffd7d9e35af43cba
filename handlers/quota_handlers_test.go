package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infomail/database"
	"infomail/services"
)

func TestQuotaRoutes(t *testing.T) {
	h := newHarness(t, nil)
	h.quota.status = services.QuotaStatus{DailyQuota: 30, UsedToday: 8, Remaining: 22}
	h.quota.request = &database.QuotaRequest{ID: 3, UserID: 2, RequestedQuota: 10, Status: database.RequestApproved}

	rec, resp := h.do(t, http.MethodGet, "/api/quota/me", "", 2, database.RoleUser)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"daily_quota":30,"used_today":8,"remaining":22}`, mustJSON(t, resp.Data))

	rec, _ = h.do(t, http.MethodPost, "/api/quota/requests", `{"requested_quota":10,"reason":"kampanye"}`, 2, database.RoleUser)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec, _ = h.do(t, http.MethodGet, "/api/quota/requests/mine", "", 2, database.RoleUser)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = h.do(t, http.MethodGet, "/api/quota/requests", "", 1, database.RoleAdmin)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = h.do(t, http.MethodPatch, "/api/quota/user/2", `{"daily_quota":50}`, 1, database.RoleAdmin)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, resp = h.do(t, http.MethodPatch, "/api/quota/requests/3", `{"status":"approved","admin_note":"ok"}`, 1, database.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Quota request approved", resp.Message)
	assert.Contains(t, mustJSON(t, resp.Data), `"remaining":22`)

	assert.Equal(t, []string{
		"Status",
		"CreateRequest:10:kampanye",
		"ListUserRequests",
		"ListRequests",
		"SetQuota:2:50",
		"ResolveRequest:3:approved:ok",
	}, h.quota.calls)
}

func TestQuotaRequestConflict(t *testing.T) {
	h := newHarness(t, nil)
	h.quota.err = &services.Error{Kind: services.ErrConflict, Msg: "a pending quota request already exists"}

	rec, resp := h.do(t, http.MethodPost, "/api/quota/requests", `{"requested_quota":10}`, 2, database.RoleUser)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, CodeConflict, resp.Code)
	assert.Equal(t, "a pending quota request already exists", resp.Message)
}
