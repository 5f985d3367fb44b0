package store

// Repositories holds all repository instances over a shared Client.
type Repositories struct {
	Shops         *ShopRepository
	Products      *ProductRepository
	Orders        *OrderRepository
	OrderEvents   *OrderEventRepository
	Notifications *NotificationLogRepository
	APILogs       *ApiLogRepository
}

// NewRepositories constructs every repository against client.
func NewRepositories(client *Client) *Repositories {
	return &Repositories{
		Shops:         NewShopRepository(client),
		Products:      NewProductRepository(client),
		Orders:        NewOrderRepository(client),
		OrderEvents:   NewOrderEventRepository(client),
		Notifications: NewNotificationLogRepository(client),
		APILogs:       NewApiLogRepository(client),
	}
}
