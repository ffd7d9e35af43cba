package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"infomail/database"
	"infomail/mailer"
	"infomail/metrics"
)

// DefaultMaxAttachmentBytes is the decoded size ceiling for all attachments
// of one batch combined.
const DefaultMaxAttachmentBytes int64 = 7 * 1024 * 1024

const reasonNotFound = "not found"

type DispatchRepository interface {
	MarkSent(ctx context.Context, targetID int64) error
	InsertLog(ctx context.Context, l *database.DeliveryLog) error
	GetLog(ctx context.Context, id int64) (*database.DeliveryLog, error)
	ListLogs(ctx context.Context, f database.LogFilter, timezone string) ([]database.DeliveryLog, error)
}

// Publisher receives every delivery log row after it is written.
type Publisher interface {
	Publish(entry database.DeliveryLog)
}

type AttachmentInput struct {
	Filename    string `json:"filename"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
}

// BatchRequest is one dispatch invocation. Templates take precedence over
// literal subject/body and are rendered per target.
type BatchRequest struct {
	TargetIDs       []int64           `json:"target_ids"`
	Subject         string            `json:"subject"`
	SubjectTemplate string            `json:"subject_template"`
	Body            string            `json:"body"`
	BodyTemplate    string            `json:"body_template"`
	Meta            TemplateMeta      `json:"meta"`
	Attachments     []AttachmentInput `json:"attachments"`
}

type TargetResult struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	LogID  int64  `json:"log_id,omitempty"`
}

type BatchResult struct {
	Message string         `json:"message"`
	Results []TargetResult `json:"results"`
}

type DispatchOptions struct {
	MaxAttachmentBytes int64
	// EnforceQuota rejects a batch larger than the caller's remaining
	// allowance. Off by default: quota is advisory.
	EnforceQuota bool
	Location     *time.Location
}

// DispatchService sends batches and retries, writing one delivery log row
// per send attempt.
type DispatchService struct {
	repo        DispatchRepository
	credentials *CredentialService
	assignments *AssignmentService
	quota       *QuotaService
	transport   mailer.Transport
	publisher   Publisher
	opts        DispatchOptions
	now         func() time.Time
	logger      *zap.SugaredLogger
}

func NewDispatchService(
	repo DispatchRepository,
	credentials *CredentialService,
	assignments *AssignmentService,
	quota *QuotaService,
	transport mailer.Transport,
	publisher Publisher,
	opts DispatchOptions,
	logger *zap.SugaredLogger,
) *DispatchService {
	if opts.MaxAttachmentBytes <= 0 {
		opts.MaxAttachmentBytes = DefaultMaxAttachmentBytes
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &DispatchService{
		repo:        repo,
		credentials: credentials,
		assignments: assignments,
		quota:       quota,
		transport:   transport,
		publisher:   publisher,
		opts:        opts,
		now:         time.Now,
		logger:      logger.Named("dispatch"),
	}
}

// preparedAttachments holds the stored form (for the log row and retry)
// and the decoded form (for the wire) of the same attachments.
type preparedAttachments struct {
	stored  []database.Attachment
	meta    []database.AttachmentMeta
	decoded []mailer.Attachment
}

// DecodedSize is the payload size a base64 string stands for:
// floor(len*3/4) less one byte per trailing '=' pad. Line breaks and
// other whitespace are not counted.
func DecodedSize(encoded string) int64 {
	encoded = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, encoded)
	size := int64(len(encoded)) * 3 / 4
	for i := 0; i < 2 && strings.HasSuffix(encoded[:len(encoded)-i], "="); i++ {
		size--
	}
	if size < 0 {
		return 0
	}
	return size
}

// stripDataURL removes a "data:<type>;base64," prefix and returns the
// declared type, if any.
func stripDataURL(content string) (string, string) {
	if !strings.HasPrefix(content, "data:") {
		return content, ""
	}
	comma := strings.Index(content, ",")
	if comma < 0 {
		return content, ""
	}
	header := strings.TrimPrefix(content[:comma], "data:")
	return content[comma+1:], strings.TrimSuffix(header, ";base64")
}

func decodeBase64(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

func (s *DispatchService) prepareAttachments(inputs []AttachmentInput) (*preparedAttachments, error) {
	p := &preparedAttachments{
		stored: make([]database.Attachment, 0, len(inputs)),
		meta:   make([]database.AttachmentMeta, 0, len(inputs)),
	}
	var total int64
	for i, in := range inputs {
		name := strings.TrimSpace(in.Filename)
		if name == "" {
			return nil, validationError("attachment %d has no filename", i+1)
		}
		content, declared := stripDataURL(strings.TrimSpace(in.Content))
		if content == "" {
			return nil, validationError("attachment %q is empty", name)
		}
		contentType := in.ContentType
		if contentType == "" {
			contentType = declared
		}
		total += DecodedSize(content)
		p.stored = append(p.stored, database.Attachment{Filename: name, ContentType: contentType, Content: content})
	}
	if total > s.opts.MaxAttachmentBytes {
		return nil, validationError("attachments total %d bytes, limit is %d bytes", total, s.opts.MaxAttachmentBytes)
	}
	decoded, meta, err := decodeStored(p.stored)
	if err != nil {
		return nil, err
	}
	p.decoded, p.meta = decoded, meta
	return p, nil
}

// decodeStored turns stored attachments back into wire payloads.
func decodeStored(stored []database.Attachment) ([]mailer.Attachment, []database.AttachmentMeta, error) {
	decoded := make([]mailer.Attachment, 0, len(stored))
	meta := make([]database.AttachmentMeta, 0, len(stored))
	for _, a := range stored {
		data, err := decodeBase64(a.Content)
		if err != nil {
			return nil, nil, validationError("attachment %q is not valid base64", a.Filename)
		}
		decoded = append(decoded, mailer.Attachment{Filename: a.Filename, ContentType: a.ContentType, Data: data})
		meta = append(meta, database.AttachmentMeta{Filename: a.Filename, ContentType: a.ContentType, Size: int64(len(data))})
	}
	return decoded, meta, nil
}

func (s *DispatchService) validate(req *BatchRequest) error {
	if len(req.TargetIDs) == 0 {
		return validationError("target_ids must not be empty")
	}
	hasSubject := strings.TrimSpace(req.Subject) != "" || strings.TrimSpace(req.SubjectTemplate) != ""
	hasBody := strings.TrimSpace(req.Body) != "" || strings.TrimSpace(req.BodyTemplate) != ""
	if !hasSubject && !hasBody {
		return validationError("subject or body is required")
	}
	return nil
}

func reject(reason string, err error) error {
	metrics.BatchesRejected.WithLabelValues(reason).Inc()
	return err
}

// SendBatch sends to every target in order. Request-level problems
// (validation, attachment size, missing credential) fail the whole batch
// before anything is sent; per-target problems only mark that target
// failed. len(result.Results) always equals len(req.TargetIDs).
func (s *DispatchService) SendBatch(ctx context.Context, who Identity, req BatchRequest) (*BatchResult, error) {
	if err := s.validate(&req); err != nil {
		return nil, reject("validation", err)
	}
	atts, err := s.prepareAttachments(req.Attachments)
	if err != nil {
		return nil, reject("attachments", err)
	}
	cred, err := s.credentials.Get(ctx, who.UserID)
	if err != nil {
		return nil, reject("credential", err)
	}
	if s.opts.EnforceQuota {
		status, err := s.quota.Status(ctx, who.UserID)
		if err != nil {
			return nil, err
		}
		if status.Remaining < len(req.TargetIDs) {
			return nil, reject("quota", &Error{Kind: ErrQuotaExceeded,
				Msg: fmt.Sprintf("daily quota exceeded: %d remaining, %d requested", status.Remaining, len(req.TargetIDs))})
		}
	}

	metrics.BatchesDispatched.Inc()
	log := s.logger.With("userID", who.UserID, "targets", len(req.TargetIDs))
	log.Infow("Dispatching batch", "attachments", len(atts.stored))

	account := mailer.Account{Address: cred.EmailAddress, Password: cred.AppPassword}
	results := make([]TargetResult, 0, len(req.TargetIDs))
	succeeded := 0
	for _, targetID := range req.TargetIDs {
		target, err := s.assignments.ResolveTarget(ctx, who, targetID)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				log.Errorw("Failed to resolve target", "targetID", targetID, "error", err)
			}
			metrics.TargetsSkipped.Inc()
			results = append(results, TargetResult{ID: targetID, Status: database.LogStatusFailed, Reason: reasonNotFound})
			continue
		}

		subject, body := s.renderFor(req, target)
		entry := s.deliver(ctx, who, account, target, subject, body, atts, nil)
		res := TargetResult{ID: targetID, Status: entry.Status, LogID: entry.ID}
		if entry.ErrorMessage != nil {
			res.Reason = *entry.ErrorMessage
		}
		if entry.Status == database.LogStatusSuccess {
			succeeded++
		}
		results = append(results, res)
	}

	if succeeded > 0 {
		if _, err := s.quota.Consume(ctx, who.UserID, succeeded); err != nil {
			log.Warnw("Failed to record quota consumption", "sent", succeeded, "error", err)
		}
	}

	log.Infow("Batch finished", "succeeded", succeeded, "failed", len(results)-succeeded)
	return &BatchResult{
		Message: fmt.Sprintf("%d of %d emails sent", succeeded, len(results)),
		Results: results,
	}, nil
}

func (s *DispatchService) renderFor(req BatchRequest, target *database.Target) (string, string) {
	tf := targetFields{Name: target.Name, Category: target.Category, Question: target.Question}
	if target.Email != nil {
		tf.Email = *target.Email
	}
	fields := fieldsFor(tf, req.Meta, s.now().In(s.opts.Location))

	subject := req.Subject
	if req.SubjectTemplate != "" {
		subject = Render(req.SubjectTemplate, fields)
	}
	body := req.Body
	if req.BodyTemplate != "" {
		body = Render(req.BodyTemplate, fields)
	}
	return subject, body
}

// deliver performs one send attempt and records it. It never returns an
// error: every outcome becomes a delivery log row.
func (s *DispatchService) deliver(
	ctx context.Context,
	who Identity,
	account mailer.Account,
	target *database.Target,
	subject, body string,
	atts *preparedAttachments,
	retryOf *int64,
) database.DeliveryLog {
	entry := database.DeliveryLog{
		UserID:          who.UserID,
		TargetID:        target.ID,
		Subject:         subject,
		Body:            body,
		AttachmentsMeta: atts.meta,
		AttachmentsData: atts.stored,
		RetryOfID:       retryOf,
	}
	kind := "batch"
	if retryOf != nil {
		kind = "retry"
	}
	log := s.logger.With("userID", who.UserID, "targetID", target.ID)

	var sendErr error
	if target.Email == nil || strings.TrimSpace(*target.Email) == "" {
		sendErr = errors.New("target has no email address")
	} else {
		var messageID string
		messageID, sendErr = s.transport.Send(ctx, account, mailer.Message{
			To:          strings.TrimSpace(*target.Email),
			Subject:     subject,
			HTMLBody:    body,
			Attachments: atts.decoded,
		})
		if sendErr == nil {
			entry.Status = database.LogStatusSuccess
			entry.MessageID = &messageID
			if err := s.repo.MarkSent(ctx, target.ID); err != nil {
				log.Errorw("Failed to update target after send", "error", err)
			}
		}
	}
	if sendErr != nil {
		msg := sendErr.Error()
		entry.Status = database.LogStatusFailed
		entry.ErrorMessage = &msg
		log.Infow("Send failed", "error", msg)
	}

	metrics.DeliveryAttempts.WithLabelValues(entry.Status, kind).Inc()
	if err := s.repo.InsertLog(ctx, &entry); err != nil {
		log.Errorw("Failed to write delivery log", "status", entry.Status, "error", err)
		return entry
	}
	s.publisher.Publish(entry)
	return entry
}

// Retry resends a logged attempt with exactly the stored subject, body and
// attachments, from the requester's current credential. The original row is
// left untouched; the new row points at it through retry_of_id.
func (s *DispatchService) Retry(ctx context.Context, who Identity, logID int64) (*database.DeliveryLog, error) {
	original, err := s.repo.GetLog(ctx, logID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, notFoundError("delivery log")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load delivery log %d: %w", logID, err)
	}
	if !who.CanSee(original.UserID) {
		return nil, forbiddenError("only the sender or an admin can retry this email")
	}

	target, err := s.assignments.ResolveTarget(ctx, who, original.TargetID)
	if err != nil {
		return nil, err
	}
	cred, err := s.credentials.Get(ctx, who.UserID)
	if err != nil {
		return nil, err
	}
	decoded, meta, err := decodeStored(original.AttachmentsData)
	if err != nil {
		return nil, fmt.Errorf("stored attachments of log %d are corrupt: %v", logID, err)
	}

	atts := &preparedAttachments{stored: original.AttachmentsData, meta: meta, decoded: decoded}
	account := mailer.Account{Address: cred.EmailAddress, Password: cred.AppPassword}
	entry := s.deliver(ctx, who, account, target, original.Subject, original.Body, atts, &original.ID)

	if entry.Status == database.LogStatusSuccess {
		if _, err := s.quota.Consume(ctx, who.UserID, 1); err != nil {
			s.logger.Warnw("Failed to record quota consumption", "userID", who.UserID, "error", err)
		}
	}
	s.logger.Infow("Retry finished", "userID", who.UserID, "originalLogID", logID, "logID", entry.ID, "status", entry.Status)
	return &entry, nil
}

// ListLogs returns delivery logs visible to the caller. Admins may narrow
// to one sender with ownerID; users always get their own.
func (s *DispatchService) ListLogs(ctx context.Context, who Identity, ownerID *int64, date string, limit int) ([]database.DeliveryLog, error) {
	f := database.LogFilter{Date: date, Limit: limit}
	switch {
	case !who.IsAdmin():
		f.UserID = &who.UserID
	case ownerID != nil:
		f.UserID = ownerID
	}
	if date != "" {
		if _, err := time.Parse("2006-01-02", date); err != nil {
			return nil, validationError("invalid date format, use YYYY-MM-DD")
		}
	}
	return s.repo.ListLogs(ctx, f, s.opts.Location.String())
}
