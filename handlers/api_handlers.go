package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sse"
	"go.uber.org/zap"

	"infomail/database"
	"infomail/livelog"
	"infomail/services"
)

// Dispatcher is the dispatch engine as seen by the HTTP layer.
type Dispatcher interface {
	SendBatch(ctx context.Context, who services.Identity, req services.BatchRequest) (*services.BatchResult, error)
	Retry(ctx context.Context, who services.Identity, logID int64) (*database.DeliveryLog, error)
	ListLogs(ctx context.Context, who services.Identity, ownerID *int64, date string, limit int) ([]database.DeliveryLog, error)
}

// StatsSource aggregates delivery logs for the dashboard.
type StatsSource interface {
	StatusDistribution(ctx context.Context, userID *int64) (map[string]int, error)
	DailySends(ctx context.Context, userID *int64, days int) (map[string]int, error)
}

// SendBatchHandler sends one batch. The batch keeps running if the client
// goes away; every attempt is logged either way.
func SendBatchHandler(dispatcher Dispatcher, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req services.BatchRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, logger, err, nil)
			return
		}

		result, err := dispatcher.SendBatch(context.WithoutCancel(r.Context()), caller(r), req)
		if err != nil {
			writeError(w, r, logger, err, nil)
			return
		}
		successResponse(w, http.StatusOK, result.Message, result)
	}
}

// GetLogsHandler lists delivery logs. Admins may filter by user_id; users
// always get their own rows.
func GetLogsHandler(dispatcher Dispatcher, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, err := queryInt64(r, "user_id")
		if err != nil {
			writeError(w, r, logger, err, nil)
			return
		}
		logs, err := dispatcher.ListLogs(r.Context(), caller(r), ownerID, r.URL.Query().Get("date"), queryInt(r, "limit", 0))
		if err != nil {
			writeError(w, r, logger, err, nil)
			return
		}
		successResponse(w, http.StatusOK, "Email logs retrieved successfully", logs)
	}
}

// RetryHandler resends a logged email verbatim.
func RetryHandler(dispatcher Dispatcher, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			writeError(w, r, logger, err, nil)
			return
		}
		entry, err := dispatcher.Retry(context.WithoutCancel(r.Context()), caller(r), id)
		if err != nil {
			writeError(w, r, logger, err, nil)
			return
		}
		message := "Email resent successfully"
		if entry.Status != database.LogStatusSuccess {
			message = "Retry failed"
		}
		successResponse(w, http.StatusOK, message, entry)
	}
}

// GetEmailStatsHandler returns today's status distribution and the daily
// send counts of the last days days (default 7).
func GetEmailStatsHandler(stats StatsSource, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		who := caller(r)
		scope := &who.UserID
		if who.IsAdmin() {
			var err error
			if scope, err = queryInt64(r, "user_id"); err != nil {
				writeError(w, r, logger, err, nil)
				return
			}
		}

		statusCounts, err := stats.StatusDistribution(r.Context(), scope)
		if err != nil {
			writeError(w, r, logger, err, nil)
			return
		}
		dailySends, err := stats.DailySends(r.Context(), scope, queryInt(r, "days", 7))
		if err != nil {
			writeError(w, r, logger, err, nil)
			return
		}
		successResponse(w, http.StatusOK, "Email statistics retrieved", map[string]interface{}{
			"status_distribution": statusCounts,
			"daily_sends":         dailySends,
		})
	}
}

// StreamHandler pushes new delivery log rows as server-sent events. Each
// event is an "id:" line and one "data:<json>" line; a comment frame is written every
// keepAlive so idle proxies keep the connection open.
func StreamHandler(hub *livelog.Hub, keepAlive time.Duration, logger *zap.SugaredLogger) http.HandlerFunc {
	if keepAlive <= 0 {
		keepAlive = 25 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			errorResponse(w, http.StatusInternalServerError, CodeInternal, "Streaming unsupported", nil)
			return
		}
		who := caller(r)
		sub := hub.Subscribe(livelog.VisibleTo(who.UserID, who.IsAdmin()))
		defer sub.Close()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case entry, ok := <-sub.Events():
				if !ok {
					return
				}
				err := sse.Encode(w, sse.Event{Id: strconv.FormatInt(entry.ID, 10), Data: entry})
				if err != nil {
					logger.Warnw("Failed to write live log event", "logID", entry.ID, "error", err)
					return
				}
				flusher.Flush()
			case <-ticker.C:
				if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
