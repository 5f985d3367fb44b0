package store

import "errors"

var (
	ErrShopNotFound         = errors.New("store: shop not found")
	ErrProductNotFound      = errors.New("store: product not found")
	ErrOrderNotFound        = errors.New("store: order not found")
	ErrInvalidTransition    = errors.New("store: order status transition not permitted")
	ErrNotificationNotFound = errors.New("store: notification log not found")
)
