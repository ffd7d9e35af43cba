package database

import "time"

const (
	RoleAdmin = "admin"
	RoleUser  = "user"

	LogStatusSuccess = "success"
	LogStatusFailed  = "failed"

	TargetStatusPending = "pending"
	TargetStatusSent    = "sent"

	RequestPending  = "pending"
	RequestApproved = "approved"
	RequestRejected = "rejected"
)

// User represents a row in the users table. Only the quota columns are
// written by this service; identity rows are created at registration.
type User struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Role          string    `json:"role"`
	DailyQuota    int       `json:"daily_quota"`
	UsedToday     int       `json:"used_today"`
	LastResetDate time.Time `json:"last_reset_date"`
	CreatedAt     time.Time `json:"created_at"`
}

func (u *User) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }

// Credential is the per-user mailbox secret. AppPassword is plaintext only
// in memory; the column holds ciphertext.
type Credential struct {
	UserID       int64     `json:"user_id"`
	EmailAddress string    `json:"email_address"`
	AppPassword  string    `json:"-"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Target is a public body ("badan publik") that receives request emails.
type Target struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	Email     *string   `json:"email"`
	Question  string    `json:"question"`
	Status    string    `json:"status"`
	SentCount int       `json:"sent_count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Attachment is a stored attachment payload; Content is base64 (no data URL prefix).
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     string `json:"content"`
}

// AttachmentMeta is the display-only view of an attachment.
type AttachmentMeta struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// DeliveryLog represents a row in the delivery_logs table. Rows are never
// updated; a retry is a new row pointing at the original through RetryOfID.
type DeliveryLog struct {
	ID              int64            `json:"id"`
	UserID          int64            `json:"user_id"`
	TargetID        int64            `json:"target_id"`
	Subject         string           `json:"subject"`
	Body            string           `json:"body"`
	Status          string           `json:"status"`
	MessageID       *string          `json:"message_id,omitempty"`
	AttachmentsMeta []AttachmentMeta `json:"attachments_meta"`
	AttachmentsData []Attachment     `json:"-"`
	RetryOfID       *int64           `json:"retry_of_id,omitempty"`
	ErrorMessage    *string          `json:"error_message,omitempty"`
	SentAt          time.Time        `json:"sent_at"`
}

// QuotaRequest represents a row in the quota_requests table.
type QuotaRequest struct {
	ID              int64      `json:"id"`
	UserID          int64      `json:"user_id"`
	RequestedQuota  int        `json:"requested_quota"`
	Reason          string     `json:"reason"`
	Status          string     `json:"status"`
	AdminNote       *string    `json:"admin_note,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	RespondedAt     *time.Time `json:"responded_at,omitempty"`
	ResponseMinutes *int       `json:"response_minutes,omitempty"`
}

// LogFilter narrows ListLogs. A nil UserID lists every sender's rows.
type LogFilter struct {
	UserID *int64
	Date   string // YYYY-MM-DD in the service timezone, optional
	Limit  int
}
