package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// OrderRepository implements idempotent order ingestion and state mutation.
type OrderRepository struct {
	client *Client
}

func NewOrderRepository(client *Client) *OrderRepository {
	return &OrderRepository{client: client}
}

const orderColumns = `
	id, order_no, jd_order_no, shop_id, shop_type, order_type, order_status,
	amount, quantity, produce_account, sku_id, product_info, card_info,
	notify_url, notify_status, notified, pay_time, deliver_time, created_at, updated_at`

func scanOrder(row interface{ Scan(...interface{}) error }) (*Order, error) {
	var o Order
	var cardInfo []byte
	if err := row.Scan(
		&o.ID, &o.OrderNo, &o.JDOrderNo, &o.ShopID, &o.ShopType, &o.OrderType, &o.OrderStatus,
		&o.Amount, &o.Quantity, &o.ProduceAccount, &o.SKUID, &o.ProductInfo, &cardInfo,
		&o.NotifyURL, &o.NotifyStatus, &o.Notified, &o.PayTime, &o.DeliverTime, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(cardInfo) > 0 {
		if err := json.Unmarshal(cardInfo, &o.CardInfo); err != nil {
			return nil, fmt.Errorf("store: decode card_info: %w", err)
		}
	}
	return &o, nil
}

// InsertIfAbsent atomically inserts draft, or returns the existing row for
// the same (jd_order_no, shop_id) with created=false. Concurrent callers
// racing on the same key see exactly one created=true.
func (r *OrderRepository) InsertIfAbsent(ctx context.Context, draft *Order) (order *Order, created bool, err error) {
	query := `
		INSERT INTO orders (
			order_no, jd_order_no, shop_id, shop_type, order_type, order_status,
			amount, quantity, produce_account, sku_id, product_info, notify_url
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (jd_order_no, shop_id) DO NOTHING
		RETURNING ` + orderColumns

	row := r.client.QueryRowContext(ctx, query,
		draft.OrderNo, draft.JDOrderNo, draft.ShopID, draft.ShopType, draft.OrderType, draft.OrderStatus,
		draft.Amount, draft.Quantity, draft.ProduceAccount, draft.SKUID, draft.ProductInfo, draft.NotifyURL,
	)
	inserted, scanErr := scanOrder(row)
	if scanErr == nil {
		return inserted, true, nil
	}
	if scanErr != sql.ErrNoRows {
		return nil, false, fmt.Errorf("store: insert order: %w", scanErr)
	}

	// ON CONFLICT DO NOTHING produced no row: someone else won the race.
	existing, findErr := r.FindByJDOrderNo(ctx, draft.JDOrderNo, draft.ShopID)
	if findErr != nil {
		return nil, false, fmt.Errorf("store: lookup existing order after conflict: %w", findErr)
	}
	return existing, false, nil
}

// FindByJDOrderNo is the unique (jd_order_no, shop_id) lookup.
func (r *OrderRepository) FindByJDOrderNo(ctx context.Context, jdOrderNo string, shopID int64) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE jd_order_no = $1 AND shop_id = $2`
	o, err := scanOrder(r.client.QueryRowContext(ctx, query, jdOrderNo, shopID))
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find order by jd order no: %w", err)
	}
	return o, nil
}

// GetByOrderNo looks up by the internal order_no.
func (r *OrderRepository) GetByOrderNo(ctx context.Context, orderNo string) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE order_no = $1`
	o, err := scanOrder(r.client.QueryRowContext(ctx, query, orderNo))
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get order: %w", err)
	}
	return o, nil
}

// GetByID looks up by the primary key.
func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	o, err := scanOrder(r.client.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get order by id: %w", err)
	}
	return o, nil
}

// Transition performs a conditional status update, guarded by expectIn: the
// update only applies if the order's current status is one of expectIn.
// Returns ErrInvalidTransition if the guard did not match any row.
func (r *OrderRepository) Transition(ctx context.Context, orderID int64, newStatus OrderStatus, expectIn []OrderStatus) error {
	query := `UPDATE orders SET order_status = $2, updated_at = now() WHERE id = $1 AND order_status = ANY($3::smallint[])`
	statuses := make([]int16, len(expectIn))
	for i, s := range expectIn {
		statuses[i] = int16(s)
	}
	res, err := r.client.ExecContext(ctx, query, orderID, newStatus, pq.Array(statuses))
	if err != nil {
		return fmt.Errorf("store: transition order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: transition order rows affected: %w", err)
	}
	if n == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// SetNotifyStatus records the outcome of a platform callback attempt.
func (r *OrderRepository) SetNotifyStatus(ctx context.Context, orderID int64, status NotifyStatus) error {
	query := `UPDATE orders SET notify_status = $2, updated_at = now() WHERE id = $1`
	_, err := r.client.ExecContext(ctx, query, orderID, status)
	if err != nil {
		return fmt.Errorf("store: set notify status: %w", err)
	}
	return nil
}

// SetCardInfo serializes cards to JSON and writes card_info + deliver_time.
func (r *OrderRepository) SetCardInfo(ctx context.Context, orderID int64, cards []Card) error {
	payload, err := json.Marshal(cards)
	if err != nil {
		return fmt.Errorf("store: encode card_info: %w", err)
	}
	query := `UPDATE orders SET card_info = $2, deliver_time = $3, updated_at = now() WHERE id = $1`
	_, err = r.client.ExecContext(ctx, query, orderID, payload, time.Now())
	if err != nil {
		return fmt.Errorf("store: set card info: %w", err)
	}
	return nil
}

// MarkNotified sets the notified flag after all notifier channels have
// attempted delivery for this order, regardless of outcome.
func (r *OrderRepository) MarkNotified(ctx context.Context, orderID int64) error {
	query := `UPDATE orders SET notified = true, updated_at = now() WHERE id = $1`
	_, err := r.client.ExecContext(ctx, query, orderID)
	if err != nil {
		return fmt.Errorf("store: mark notified: %w", err)
	}
	return nil
}
