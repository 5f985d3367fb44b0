package store

import (
	"context"
	"database/sql"
	"fmt"
)

// ProductRepository resolves SKU bindings that control auto-fulfillment.
type ProductRepository struct {
	client *Client
}

func NewProductRepository(client *Client) *ProductRepository {
	return &ProductRepository{client: client}
}

const productColumns = `id, shop_id, sku_id, deliver_type, card91_card_type_id, is_enabled, created_at, updated_at`

func scanProduct(row interface{ Scan(...interface{}) error }) (*Product, error) {
	var p Product
	if err := row.Scan(&p.ID, &p.ShopID, &p.SKUID, &p.DeliverType, &p.Card91CardTypeID, &p.IsEnabled, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// FindEnabled looks up an enabled product binding for (shopID, skuID).
func (r *ProductRepository) FindEnabled(ctx context.Context, shopID int64, skuID string) (*Product, error) {
	query := `SELECT ` + productColumns + ` FROM products
		WHERE shop_id = $1 AND sku_id = $2 AND is_enabled = true LIMIT 1`
	p, err := scanProduct(r.client.QueryRowContext(ctx, query, shopID, skuID))
	if err == sql.ErrNoRows {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find product: %w", err)
	}
	return p, nil
}

// Create inserts a new product binding.
func (r *ProductRepository) Create(ctx context.Context, p *Product) (*Product, error) {
	query := `
		INSERT INTO products (shop_id, sku_id, deliver_type, card91_card_type_id, is_enabled)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`
	err := r.client.QueryRowContext(ctx, query, p.ShopID, p.SKUID, p.DeliverType, p.Card91CardTypeID, p.IsEnabled).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: create product: %w", err)
	}
	return p, nil
}
