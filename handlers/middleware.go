package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"infomail/database"
	"infomail/metrics"
	"infomail/services"
	"infomail/utils"
)

type contextKey int

const identityKey contextKey = iota

// Claims are the bearer token claims issued by the portal's login service.
// The subject is the numeric user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// WithIdentity stores the caller on the request context.
func WithIdentity(ctx context.Context, who services.Identity) context.Context {
	return context.WithValue(ctx, identityKey, who)
}

// IdentityFrom returns the caller stored by Authenticate.
func IdentityFrom(ctx context.Context) (services.Identity, bool) {
	who, ok := ctx.Value(identityKey).(services.Identity)
	return who, ok
}

// bearerToken extracts the token of an "Authorization: Bearer <token>"
// header. The scheme is matched case-insensitively.
func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Authenticate verifies the HS256 bearer token and puts the caller's
// identity on the request context.
func Authenticate(secret []byte) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := bearerToken(r.Header.Get("Authorization"))
			if tokenString == "" {
				tokenString = r.URL.Query().Get("access_token")
			}
			if tokenString == "" {
				errorResponse(w, http.StatusUnauthorized, CodeUnauthorized, "Missing token", nil)
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
				return secret, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid {
				errorResponse(w, http.StatusUnauthorized, CodeUnauthorized, "Invalid token", nil)
				return
			}
			userID, err := strconv.ParseInt(claims.Subject, 10, 64)
			if err != nil || userID <= 0 {
				errorResponse(w, http.StatusUnauthorized, CodeUnauthorized, "Invalid token subject", nil)
				return
			}
			if claims.Role != database.RoleAdmin && claims.Role != database.RoleUser {
				errorResponse(w, http.StatusUnauthorized, CodeUnauthorized, "Invalid token role", nil)
				return
			}

			who := services.Identity{UserID: userID, Role: claims.Role}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), who)))
		})
	}
}

// RequireAdmin rejects non-admin callers. It must run after Authenticate.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		who, ok := IdentityFrom(r.Context())
		if !ok {
			errorResponse(w, http.StatusUnauthorized, CodeUnauthorized, "Missing token", nil)
			return
		}
		if !who.IsAdmin() {
			errorResponse(w, http.StatusForbidden, CodeForbidden, "Admin role required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit applies the per-user limiter to an authenticated route.
func RateLimit(limiter *utils.RateLimiter, route string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			who, _ := IdentityFrom(r.Context())
			if !limiter.Allow(strconv.FormatInt(who.UserID, 10)) {
				metrics.RateLimited.WithLabelValues(route).Inc()
				errorResponse(w, http.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded, please try again later", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder captures the status code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// RequestLogger logs one line per request.
func RequestLogger(logger *zap.SugaredLogger) mux.MiddlewareFunc {
	logger = logger.Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Infow("Request handled",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start))
		})
	}
}
