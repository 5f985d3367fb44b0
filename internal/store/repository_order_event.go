package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// OrderEventRepository appends to the per-order audit log. Appends never
// block the caller's primary transaction on failure; callers should log a
// warning rather than abort a committed state change.
type OrderEventRepository struct {
	client *Client
}

func NewOrderEventRepository(client *Client) *OrderEventRepository {
	return &OrderEventRepository{client: client}
}

// Append writes one OrderEvent row. data may be nil.
func (r *OrderEventRepository) Append(ctx context.Context, orderID int64, eventType, desc string, data interface{}, operator string, result EventResult) error {
	var payload []byte
	if data != nil {
		var err error
		payload, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("store: encode event data: %w", err)
		}
	}
	var op sql.NullString
	if operator != "" {
		op = sql.NullString{String: operator, Valid: true}
	}

	query := `INSERT INTO order_events (order_id, event_type, event_desc, event_data, operator, result)
		VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := r.client.ExecContext(ctx, query, orderID, eventType, desc, nullableJSON(payload), op, result)
	if err != nil {
		return fmt.Errorf("store: append order event: %w", err)
	}
	return nil
}

// ListByOrder returns all events for an order, oldest first.
func (r *OrderEventRepository) ListByOrder(ctx context.Context, orderID int64) ([]*OrderEvent, error) {
	query := `SELECT id, order_id, event_type, event_desc, event_data, operator, result, created_at
		FROM order_events WHERE order_id = $1 ORDER BY id ASC`
	rows, err := r.client.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("store: list order events: %w", err)
	}
	defer rows.Close()

	var events []*OrderEvent
	for rows.Next() {
		var e OrderEvent
		var data []byte
		if err := rows.Scan(&e.ID, &e.OrderID, &e.EventType, &e.EventDesc, &data, &e.Operator, &e.Result, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan order event: %w", err)
		}
		if len(data) > 0 {
			e.EventData = json.RawMessage(data)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
