package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"infomail/database"
	"infomail/mailer"
	"infomail/metrics"
)

type CredentialRepository interface {
	UpsertCredential(ctx context.Context, cred database.Credential) error
	GetCredential(ctx context.Context, userID int64) (*database.Credential, error)
}

// CredentialService is the per-user credential store.
type CredentialService struct {
	repo      CredentialRepository
	transport mailer.Transport
	logger    *zap.SugaredLogger
}

func NewCredentialService(repo CredentialRepository, transport mailer.Transport, logger *zap.SugaredLogger) *CredentialService {
	return &CredentialService{repo: repo, transport: transport, logger: logger.Named("credentials")}
}

// Save upserts the caller's credential; the latest write wins.
func (s *CredentialService) Save(ctx context.Context, userID int64, email, secret string) error {
	email = strings.TrimSpace(email)
	if email == "" || strings.TrimSpace(secret) == "" {
		return validationError("email and app password are required")
	}
	if err := s.repo.UpsertCredential(ctx, database.Credential{UserID: userID, EmailAddress: email, AppPassword: secret}); err != nil {
		return fmt.Errorf("failed to save credential for user %d: %w", userID, err)
	}
	s.logger.Infow("Credential saved", "userID", userID, "email", email)
	return nil
}

// Get loads the caller's credential. A missing row is ErrConfigMissing.
func (s *CredentialService) Get(ctx context.Context, userID int64) (*database.Credential, error) {
	cred, err := s.repo.GetCredential(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, &Error{Kind: ErrConfigMissing, Msg: "no email credential saved; configure your sender email first"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential for user %d: %w", userID, err)
	}
	return cred, nil
}

// VerifyResult is the outcome of a live handshake.
type VerifyResult struct {
	OK      bool   `json:"ok"`
	SMTP    string `json:"smtp"`
	IMAP    string `json:"imap"`
	Message string `json:"message"`
}

// Verify performs the SMTP and IMAP handshakes without persisting
// anything. The returned error is nil when both succeed; otherwise it is
// classified as ErrConfigMissing, ErrInvalidCredential or ErrTransport and
// the result still carries the per-protocol diagnostics.
func (s *CredentialService) Verify(ctx context.Context, email, secret string) (VerifyResult, error) {
	if strings.TrimSpace(email) == "" || strings.TrimSpace(secret) == "" {
		return VerifyResult{}, validationError("email and app password are required")
	}
	report := s.transport.Verify(ctx, mailer.Account{Address: strings.TrimSpace(email), Password: secret})

	res := VerifyResult{OK: report.OK(), SMTP: diagnostic(report.SMTP), IMAP: diagnostic(report.IMAP)}
	if res.OK {
		metrics.CredentialChecks.WithLabelValues("ok").Inc()
		res.Message = "SMTP and IMAP login succeeded"
		return res, nil
	}

	err := classifyTransportErr(report.Err())
	metrics.CredentialChecks.WithLabelValues(kindLabel(err)).Inc()
	res.Message = report.Err().Error()
	s.logger.Infow("Credential check failed", "email", email, "error", res.Message)
	return res, err
}

// VerifyStored runs Verify against the caller's saved credential.
func (s *CredentialService) VerifyStored(ctx context.Context, userID int64) (VerifyResult, error) {
	cred, err := s.Get(ctx, userID)
	if err != nil {
		return VerifyResult{}, err
	}
	return s.Verify(ctx, cred.EmailAddress, cred.AppPassword)
}

func diagnostic(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}

// classifyTransportErr maps mailer failures onto the service error kinds.
// Configuration problems win over credential problems, which win over
// network problems.
func classifyTransportErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, mailer.ErrNotConfigured):
		return &Error{Kind: ErrConfigMissing, Msg: "mail transport is not configured", Err: err}
	case errors.Is(err, mailer.ErrInvalidCredential):
		return &Error{Kind: ErrInvalidCredential, Msg: err.Error(), Err: err}
	default:
		return &Error{Kind: ErrTransport, Msg: err.Error(), Err: err}
	}
}

func kindLabel(err error) string {
	switch {
	case errors.Is(err, ErrConfigMissing):
		return "config_missing"
	case errors.Is(err, ErrInvalidCredential):
		return "invalid_credential"
	default:
		return "transport_error"
	}
}
