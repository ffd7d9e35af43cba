package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"infomail/livelog"
	"infomail/metrics"
	"infomail/utils"
)

// Dependencies are the collaborators the routes are built from.
type Dependencies struct {
	Dispatch    Dispatcher
	Quota       QuotaLedger
	Credentials CredentialManager
	Targets     TargetDirectory
	Stats       StatsSource
	Hub         *livelog.Hub
	SendLimiter *utils.RateLimiter
	JWTSecret   []byte
	KeepAlive   time.Duration
	// Ping checks the database for /healthz.
	Ping   func(ctx context.Context) error
	Logger *zap.SugaredLogger
}

// NewRouter mounts every route. Everything under /api requires a bearer
// token; admin-only routes are wrapped with RequireAdmin.
func NewRouter(d Dependencies) *mux.Router {
	logger := d.Logger.Named("handlers")

	r := mux.NewRouter()
	r.Use(RequestLogger(d.Logger))

	r.HandleFunc("/healthz", HealthHandler(d.Ping)).Methods("GET")
	r.Handle("/metrics", metrics.MetricsHandler()).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(Authenticate(d.JWTSecret))

	admin := func(h http.HandlerFunc) http.Handler { return RequireAdmin(h) }
	limited := func(route string, h http.HandlerFunc) http.Handler {
		if d.SendLimiter == nil {
			return h
		}
		return RateLimit(d.SendLimiter, route)(h)
	}

	// Email
	api.Handle("/email/send", limited("send", SendBatchHandler(d.Dispatch, logger))).Methods("POST")
	api.HandleFunc("/email/logs", GetLogsHandler(d.Dispatch, logger)).Methods("GET")
	api.HandleFunc("/email/stream", StreamHandler(d.Hub, d.KeepAlive, logger)).Methods("GET")
	api.Handle("/email/retry/{id:[0-9]+}", limited("retry", RetryHandler(d.Dispatch, logger))).Methods("POST")
	api.HandleFunc("/email/stats", GetEmailStatsHandler(d.Stats, logger)).Methods("GET")

	// Quota
	api.HandleFunc("/quota/me", GetMyQuotaHandler(d.Quota, logger)).Methods("GET")
	api.Handle("/quota/user/{userId:[0-9]+}", admin(SetUserQuotaHandler(d.Quota, logger))).Methods("PATCH")
	api.HandleFunc("/quota/requests", CreateQuotaRequestHandler(d.Quota, logger)).Methods("POST")
	api.Handle("/quota/requests", admin(ListQuotaRequestsHandler(d.Quota, logger))).Methods("GET")
	api.HandleFunc("/quota/requests/mine", ListMyQuotaRequestsHandler(d.Quota, logger)).Methods("GET")
	api.Handle("/quota/requests/{id:[0-9]+}", admin(ResolveQuotaRequestHandler(d.Quota, logger))).Methods("PATCH")

	// Credentials
	api.HandleFunc("/credentials", SaveCredentialHandler(d.Credentials, logger)).Methods("PUT")
	api.HandleFunc("/credentials/me", GetMyCredentialHandler(d.Credentials, logger)).Methods("GET")
	api.Handle("/credentials/test", limited("credential_test", TestCredentialHandler(d.Credentials, logger))).Methods("POST")

	// Targets and assignments
	api.HandleFunc("/targets", ListTargetsHandler(d.Targets, logger)).Methods("GET")
	api.Handle("/assignments", admin(AssignTargetHandler(d.Targets, logger))).Methods("POST")
	api.Handle("/assignments", admin(UnassignTargetHandler(d.Targets, logger))).Methods("DELETE")

	return r
}

// HealthHandler reports whether the database is reachable.
func HealthHandler(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				errorResponse(w, http.StatusServiceUnavailable, CodeInternal, "Database unreachable", nil)
				return
			}
		}
		successResponse(w, http.StatusOK, "ok", nil)
	}
}
