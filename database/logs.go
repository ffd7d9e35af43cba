package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

const (
	logColumns      = "id, user_id, target_id, subject, body, status, message_id, attachments_meta, attachments_data, retry_of_id, error_message, sent_at"
	defaultLogLimit = 100
	maxLogLimit     = 1000
)

// listLogColumns leaves out the attachment payloads; only a retry reads them.
const listLogColumns = "id, user_id, target_id, subject, body, status, message_id, attachments_meta, retry_of_id, error_message, sent_at"

// scanLog reads a row selected with logColumns, or with listLogColumns
// when withData is false.
func scanLog(row rowScanner, withData bool) (*DeliveryLog, error) {
	var (
		l        DeliveryLog
		metaJSON []byte
		dataJSON []byte
	)
	dest := []any{&l.ID, &l.UserID, &l.TargetID, &l.Subject, &l.Body, &l.Status, &l.MessageID, &metaJSON}
	if withData {
		dest = append(dest, &dataJSON)
	}
	dest = append(dest, &l.RetryOfID, &l.ErrorMessage, &l.SentAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(metaJSON, &l.AttachmentsMeta); err != nil {
		return nil, fmt.Errorf("failed to decode attachments_meta of log %d: %w", l.ID, err)
	}
	if !withData {
		return &l, nil
	}
	if err := json.Unmarshal(dataJSON, &l.AttachmentsData); err != nil {
		return nil, fmt.Errorf("failed to decode attachments_data of log %d: %w", l.ID, err)
	}
	return &l, nil
}

// InsertLog appends a delivery log row and fills in its ID and SentAt.
// There is intentionally no update counterpart.
func (s *Store) InsertLog(ctx context.Context, l *DeliveryLog) error {
	if l.AttachmentsMeta == nil {
		l.AttachmentsMeta = []AttachmentMeta{}
	}
	if l.AttachmentsData == nil {
		l.AttachmentsData = []Attachment{}
	}
	metaJSON, err := json.Marshal(l.AttachmentsMeta)
	if err != nil {
		return fmt.Errorf("failed to encode attachments_meta: %w", err)
	}
	dataJSON, err := json.Marshal(l.AttachmentsData)
	if err != nil {
		return fmt.Errorf("failed to encode attachments_data: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`INSERT INTO delivery_logs
		 (user_id, target_id, subject, body, status, message_id, attachments_meta, attachments_data, retry_of_id, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id, sent_at`,
		l.UserID, l.TargetID, l.Subject, l.Body, l.Status, l.MessageID, metaJSON, dataJSON, l.RetryOfID, l.ErrorMessage,
	).Scan(&l.ID, &l.SentAt)
	if err != nil {
		return fmt.Errorf("failed to insert delivery log: %w", err)
	}
	return nil
}

func (s *Store) GetLog(ctx context.Context, id int64) (*DeliveryLog, error) {
	l, err := scanLog(s.db.QueryRowContext(ctx, "SELECT "+logColumns+" FROM delivery_logs WHERE id = $1", id), true)
	if err != nil {
		return nil, notFound(err)
	}
	return l, nil
}

// ListLogs returns logs newest first. Date is matched against the calendar
// day of sent_at in the given time zone.
func (s *Store) ListLogs(ctx context.Context, f LogFilter, timezone string) ([]DeliveryLog, error) {
	query := "SELECT " + listLogColumns + " FROM delivery_logs WHERE TRUE"
	var args []any
	if f.UserID != nil {
		args = append(args, *f.UserID)
		query += " AND user_id = $" + strconv.Itoa(len(args))
	}
	if f.Date != "" {
		args = append(args, timezone, f.Date)
		query += " AND (sent_at AT TIME ZONE $" + strconv.Itoa(len(args)-1) + ")::date = $" + strconv.Itoa(len(args)) + "::date"
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}
	args = append(args, limit)
	query += " ORDER BY sent_at DESC, id DESC LIMIT $" + strconv.Itoa(len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query delivery logs: %w", err)
	}
	defer rows.Close()

	logs := []DeliveryLog{}
	for rows.Next() {
		l, err := scanLog(rows, false)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery log row: %w", err)
		}
		logs = append(logs, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over delivery log rows: %w", err)
	}
	return logs, nil
}
