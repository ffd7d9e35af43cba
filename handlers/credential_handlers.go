package handlers

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"infomail/database"
	"infomail/services"
)

type CredentialManager interface {
	Save(ctx context.Context, userID int64, email, secret string) error
	Get(ctx context.Context, userID int64) (*database.Credential, error)
	Verify(ctx context.Context, email, secret string) (services.VerifyResult, error)
	VerifyStored(ctx context.Context, userID int64) (services.VerifyResult, error)
}

type credentialRequest struct {
	Email       string `json:"email"`
	AppPassword string `json:"app_password"`
}

// SaveCredentialHandler stores the caller's sender address and app password.
func SaveCredentialHandler(creds CredentialManager, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentialRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, logger, err, nil)
			return
		}
		if err := creds.Save(r.Context(), caller(r).UserID, req.Email, req.AppPassword); err != nil {
			writeError(w, r, logger, err, nil)
			return
		}
		successResponse(w, http.StatusOK, "Email credential saved", map[string]string{"email": strings.TrimSpace(req.Email)})
	}
}

// GetMyCredentialHandler returns the saved sender address; the secret never
// leaves the server.
func GetMyCredentialHandler(creds CredentialManager, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cred, err := creds.Get(r.Context(), caller(r).UserID)
		if err != nil {
			writeError(w, r, logger, err, nil)
			return
		}
		successResponse(w, http.StatusOK, "Email credential retrieved", cred)
	}
}

// TestCredentialHandler runs live SMTP and IMAP logins against the posted
// pair, or the stored one when the body is empty.
func TestCredentialHandler(creds CredentialManager, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentialRequest
		if r.ContentLength != 0 {
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, r, logger, err, nil)
				return
			}
		}

		var (
			result services.VerifyResult
			err    error
		)
		if req.Email == "" && req.AppPassword == "" {
			result, err = creds.VerifyStored(r.Context(), caller(r).UserID)
		} else {
			result, err = creds.Verify(r.Context(), req.Email, req.AppPassword)
		}
		if err != nil {
			var data interface{}
			if result.SMTP != "" {
				data = result
			}
			writeError(w, r, logger, err, data)
			return
		}
		successResponse(w, http.StatusOK, result.Message, result)
	}
}
