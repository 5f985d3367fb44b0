package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// ShopRepository handles tenant configuration lookup.
type ShopRepository struct {
	client *Client
}

func NewShopRepository(client *Client) *ShopRepository {
	return &ShopRepository{client: client}
}

const shopColumns = `
	id, shop_code, shop_type,
	game_customer_id, game_md5_secret, game_api_url, game_direct_callback_url, game_card_callback_url,
	general_vendor_id, general_md5_secret, general_aes_secret, general_callback_url,
	card91_api_url, card91_api_key, card91_api_secret, card91_dialect,
	notify_enabled, notify_webhooks,
	is_enabled, expire_time, created_at, updated_at`

func scanShop(row interface{ Scan(...interface{}) error }) (*Shop, error) {
	var s Shop
	var webhooks []byte
	var dialect string
	if err := row.Scan(
		&s.ID, &s.ShopCode, &s.ShopType,
		&s.GameCustomerID, &s.GameMD5Secret, &s.GameAPIURL, &s.GameDirectCallbackURL, &s.GameCardCallbackURL,
		&s.GeneralVendorID, &s.GeneralMD5Secret, &s.GeneralAESSecret, &s.GeneralCallbackURL,
		&s.Card91APIURL, &s.Card91APIKey, &s.Card91APISecret, &dialect,
		&s.NotifyEnabled, &webhooks,
		&s.IsEnabled, &s.ExpireTime, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.Card91Dialect = Card91Dialect(dialect)
	if len(webhooks) > 0 {
		if err := json.Unmarshal(webhooks, &s.NotifyWebhooks); err != nil {
			return nil, fmt.Errorf("store: decode notify_webhooks: %w", err)
		}
	}
	return &s, nil
}

// FindByGameCustomerID resolves an enabled GAME shop by its customerId.
func (r *ShopRepository) FindByGameCustomerID(ctx context.Context, customerID string) (*Shop, error) {
	query := `SELECT ` + shopColumns + ` FROM shops
		WHERE shop_type = $1 AND game_customer_id = $2 AND is_enabled = true LIMIT 1`
	shop, err := scanShop(r.client.QueryRowContext(ctx, query, ShopTypeGame, customerID))
	if err == sql.ErrNoRows {
		return nil, ErrShopNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find shop by game customer id: %w", err)
	}
	return shop, nil
}

// FindByGeneralVendorID resolves an enabled GENERAL shop by its vendorId.
func (r *ShopRepository) FindByGeneralVendorID(ctx context.Context, vendorID string) (*Shop, error) {
	query := `SELECT ` + shopColumns + ` FROM shops
		WHERE shop_type = $1 AND general_vendor_id = $2 AND is_enabled = true LIMIT 1`
	shop, err := scanShop(r.client.QueryRowContext(ctx, query, ShopTypeGeneral, vendorID))
	if err == sql.ErrNoRows {
		return nil, ErrShopNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find shop by general vendor id: %w", err)
	}
	return shop, nil
}

// FindByShopCode looks up an enabled shop by its shop_code. The inbound
// handlers do not call it: when customerId / vendorId matches no shop they
// fall back to FindAnyEnabled instead.
func (r *ShopRepository) FindByShopCode(ctx context.Context, shopCode string) (*Shop, error) {
	query := `SELECT ` + shopColumns + ` FROM shops WHERE shop_code = $1 AND is_enabled = true LIMIT 1`
	shop, err := scanShop(r.client.QueryRowContext(ctx, query, shopCode))
	if err == sql.ErrNoRows {
		return nil, ErrShopNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find shop by code: %w", err)
	}
	return shop, nil
}

// FindAnyEnabled returns the first enabled shop of the given channel type.
// This backs the legacy "no identity matched" fallback flagged in the
// design notes as a known risk rather than intended behavior; callers must
// log the fallback and increment the shop_fallback_used metric.
func (r *ShopRepository) FindAnyEnabled(ctx context.Context, shopType ShopType) (*Shop, error) {
	query := `SELECT ` + shopColumns + ` FROM shops
		WHERE shop_type = $1 AND is_enabled = true ORDER BY id ASC LIMIT 1`
	shop, err := scanShop(r.client.QueryRowContext(ctx, query, shopType))
	if err == sql.ErrNoRows {
		return nil, ErrShopNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find any enabled shop: %w", err)
	}
	return shop, nil
}

// GetByID fetches a shop by its primary key, enabled or not.
func (r *ShopRepository) GetByID(ctx context.Context, id int64) (*Shop, error) {
	query := `SELECT ` + shopColumns + ` FROM shops WHERE id = $1`
	shop, err := scanShop(r.client.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrShopNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get shop: %w", err)
	}
	return shop, nil
}

// Create inserts a new shop and returns it with its assigned id.
func (r *ShopRepository) Create(ctx context.Context, s *Shop) (*Shop, error) {
	webhooks, err := json.Marshal(s.NotifyWebhooks)
	if err != nil {
		return nil, fmt.Errorf("store: encode notify_webhooks: %w", err)
	}
	query := `
		INSERT INTO shops (
			shop_code, shop_type,
			game_customer_id, game_md5_secret, game_api_url, game_direct_callback_url, game_card_callback_url,
			general_vendor_id, general_md5_secret, general_aes_secret, general_callback_url,
			card91_api_url, card91_api_key, card91_api_secret, card91_dialect,
			notify_enabled, notify_webhooks, is_enabled, expire_time
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		RETURNING id, created_at, updated_at`
	err = r.client.QueryRowContext(ctx, query,
		s.ShopCode, s.ShopType,
		s.GameCustomerID, s.GameMD5Secret, s.GameAPIURL, s.GameDirectCallbackURL, s.GameCardCallbackURL,
		s.GeneralVendorID, s.GeneralMD5Secret, s.GeneralAESSecret, s.GeneralCallbackURL,
		s.Card91APIURL, s.Card91APIKey, s.Card91APISecret, string(s.Card91Dialect),
		s.NotifyEnabled, webhooks, s.IsEnabled, s.ExpireTime,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: create shop: %w", err)
	}
	return s, nil
}
