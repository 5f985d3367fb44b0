package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// NotificationLogRepository records each attempt of the C7 webhook fan-out.
type NotificationLogRepository struct {
	client *Client
}

func NewNotificationLogRepository(client *Client) *NotificationLogRepository {
	return &NotificationLogRepository{client: client}
}

// Create writes a new attempt log row.
func (r *NotificationLogRepository) Create(ctx context.Context, l *NotificationLog) (*NotificationLog, error) {
	l.ID = uuid.New().String()
	query := `INSERT INTO notification_logs (id, order_id, channel, attempt, status, response_body, retry_of)
		VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING created_at`
	var retryOf sql.NullString
	if l.RetryOf.Valid {
		retryOf = l.RetryOf
	}
	err := r.client.QueryRowContext(ctx, query, l.ID, l.OrderID, l.Channel, l.Attempt, l.Status, l.ResponseBody, retryOf).
		Scan(&l.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: create notification log: %w", err)
	}
	return l, nil
}

// CreateRetryLog creates a new log row referencing originalID for a manual
// resend, rather than mutating the original row.
func (r *NotificationLogRepository) CreateRetryLog(ctx context.Context, originalID string, l *NotificationLog) (*NotificationLog, error) {
	l.RetryOf = sql.NullString{String: originalID, Valid: true}
	return r.Create(ctx, l)
}

// GetByID fetches a single notification log row.
func (r *NotificationLogRepository) GetByID(ctx context.Context, id string) (*NotificationLog, error) {
	query := `SELECT id, order_id, channel, attempt, status, response_body, retry_of, created_at
		FROM notification_logs WHERE id = $1`
	var l NotificationLog
	err := r.client.QueryRowContext(ctx, query, id).
		Scan(&l.ID, &l.OrderID, &l.Channel, &l.Attempt, &l.Status, &l.ResponseBody, &l.RetryOf, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get notification log: %w", err)
	}
	return &l, nil
}
