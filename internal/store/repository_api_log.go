package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// ApiLogRepository records protocol calls with bodies truncated to
// apiLogBodyLimit bytes. Its only caller is the inbound /api/* handler
// wrapper; outbound callback and inventory calls are not recorded.
type ApiLogRepository struct {
	client *Client
}

func NewApiLogRepository(client *Client) *ApiLogRepository {
	return &ApiLogRepository{client: client}
}

// Record inserts one truncated request/response pair. shopID is optional.
func (r *ApiLogRepository) Record(ctx context.Context, shopID *int64, endpoint, requestBody, responseBody string, status int) error {
	var sid sql.NullInt64
	if shopID != nil {
		sid = sql.NullInt64{Int64: *shopID, Valid: true}
	}
	query := `INSERT INTO api_logs (id, shop_id, endpoint, request_body, response_body, response_status)
		VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := r.client.ExecContext(ctx, query, uuid.New().String(), sid, endpoint,
		TruncateForLog(requestBody), TruncateForLog(responseBody), status)
	if err != nil {
		return fmt.Errorf("store: record api log: %w", err)
	}
	return nil
}
