package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"infomail/database"
	"infomail/livelog"
	"infomail/services"
	"infomail/utils"
)

var testSecret = []byte("test-secret")

func bearer(t *testing.T, userID int64, role string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := tok.SignedString(testSecret)
	require.NoError(t, err)
	return "Bearer " + signed
}

type fakeDispatcher struct {
	batch    *services.BatchResult
	entry    *database.DeliveryLog
	logs     []database.DeliveryLog
	err      error
	gotReq   services.BatchRequest
	gotWho   services.Identity
	gotOwner *int64
	gotDate  string
	gotLimit int
	gotLogID int64
	ctxErr   error
}

func (f *fakeDispatcher) SendBatch(ctx context.Context, who services.Identity, req services.BatchRequest) (*services.BatchResult, error) {
	f.gotWho, f.gotReq = who, req
	f.ctxErr = ctx.Err()
	return f.batch, f.err
}

func (f *fakeDispatcher) Retry(_ context.Context, who services.Identity, logID int64) (*database.DeliveryLog, error) {
	f.gotWho, f.gotLogID = who, logID
	return f.entry, f.err
}

func (f *fakeDispatcher) ListLogs(_ context.Context, who services.Identity, ownerID *int64, date string, limit int) ([]database.DeliveryLog, error) {
	f.gotWho, f.gotOwner, f.gotDate, f.gotLimit = who, ownerID, date, limit
	return f.logs, f.err
}

type fakeQuota struct {
	status   services.QuotaStatus
	request  *database.QuotaRequest
	requests []database.QuotaRequest
	err      error
	calls    []string
}

func (f *fakeQuota) Status(context.Context, int64) (services.QuotaStatus, error) {
	f.calls = append(f.calls, "Status")
	return f.status, f.err
}

func (f *fakeQuota) SetQuota(_ context.Context, userID int64, quota int) (services.QuotaStatus, error) {
	f.calls = append(f.calls, "SetQuota:"+strconv.FormatInt(userID, 10)+":"+strconv.Itoa(quota))
	return f.status, f.err
}

func (f *fakeQuota) CreateRequest(_ context.Context, userID int64, requested int, reason string) (*database.QuotaRequest, error) {
	f.calls = append(f.calls, "CreateRequest:"+strconv.Itoa(requested)+":"+reason)
	return f.request, f.err
}

func (f *fakeQuota) ListRequests(context.Context) ([]database.QuotaRequest, error) {
	f.calls = append(f.calls, "ListRequests")
	return f.requests, f.err
}

func (f *fakeQuota) ListUserRequests(context.Context, int64) ([]database.QuotaRequest, error) {
	f.calls = append(f.calls, "ListUserRequests")
	return f.requests, f.err
}

func (f *fakeQuota) ResolveRequest(_ context.Context, id int64, decision, note string) (*database.QuotaRequest, services.QuotaStatus, error) {
	f.calls = append(f.calls, "ResolveRequest:"+strconv.FormatInt(id, 10)+":"+decision+":"+note)
	return f.request, f.status, f.err
}

type fakeCredentials struct {
	cred     *database.Credential
	result   services.VerifyResult
	err      error
	saved    []string
	verified []string
	stored   bool
}

func (f *fakeCredentials) Save(_ context.Context, _ int64, email, secret string) error {
	f.saved = append(f.saved, email, secret)
	return f.err
}

func (f *fakeCredentials) Get(context.Context, int64) (*database.Credential, error) {
	return f.cred, f.err
}

func (f *fakeCredentials) Verify(_ context.Context, email, secret string) (services.VerifyResult, error) {
	f.verified = append(f.verified, email, secret)
	return f.result, f.err
}

func (f *fakeCredentials) VerifyStored(context.Context, int64) (services.VerifyResult, error) {
	f.stored = true
	return f.result, f.err
}

type fakeTargets struct {
	targets  []database.Target
	err      error
	assigned [][2]int64
	removed  [][2]int64
}

func (f *fakeTargets) VisibleTargets(context.Context, services.Identity) ([]database.Target, error) {
	return f.targets, f.err
}

func (f *fakeTargets) Assign(_ context.Context, userID, targetID int64) error {
	f.assigned = append(f.assigned, [2]int64{userID, targetID})
	return f.err
}

func (f *fakeTargets) Unassign(_ context.Context, userID, targetID int64) error {
	f.removed = append(f.removed, [2]int64{userID, targetID})
	return f.err
}

type fakeStats struct {
	gotUser *int64
	gotDays int
}

func (f *fakeStats) StatusDistribution(_ context.Context, userID *int64) (map[string]int, error) {
	f.gotUser = userID
	return map[string]int{"success": 2, "failed": 1}, nil
}

func (f *fakeStats) DailySends(_ context.Context, _ *int64, days int) (map[string]int, error) {
	f.gotDays = days
	return map[string]int{"2026-10-17": 2}, nil
}

type harness struct {
	dispatch    *fakeDispatcher
	quota       *fakeQuota
	credentials *fakeCredentials
	targets     *fakeTargets
	stats       *fakeStats
	hub         *livelog.Hub
	router      http.Handler
}

func newHarness(t *testing.T, limiter *utils.RateLimiter) *harness {
	t.Helper()
	logger := zap.NewNop().Sugar()
	h := &harness{
		dispatch:    &fakeDispatcher{},
		quota:       &fakeQuota{},
		credentials: &fakeCredentials{},
		targets:     &fakeTargets{},
		stats:       &fakeStats{},
		hub:         livelog.NewHub(logger),
	}
	h.router = NewRouter(Dependencies{
		Dispatch:    h.dispatch,
		Quota:       h.quota,
		Credentials: h.credentials,
		Targets:     h.targets,
		Stats:       h.stats,
		Hub:         h.hub,
		SendLimiter: limiter,
		JWTSecret:   testSecret,
		KeepAlive:   20 * time.Millisecond,
		Logger:      logger,
	})
	return h
}

// do performs a request as the given user; userID 0 sends no token.
func (h *harness) do(t *testing.T, method, path, body string, userID int64, role string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != 0 {
		req.Header.Set("Authorization", bearer(t, userID, role))
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	var resp APIResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}
