package store

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"

	"github.com/certen/jd-fulfillment-bridge/internal/config"
)

// Integration tests against a real Postgres instance are gated on
// BRIDGE_TEST_DB, matching the optional-test-database pattern used
// throughout this codebase's repository tests.
var testDB *sql.DB

func TestMain(m *testing.M) {
	connStr := os.Getenv("BRIDGE_TEST_DB")
	if connStr == "" {
		os.Exit(0)
	}
	var err error
	testDB, err = sql.Open("postgres", connStr)
	if err != nil {
		panic("failed to connect to test database: " + err.Error())
	}
	os.Exit(m.Run())
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	cfg := &config.Config{DatabaseURL: os.Getenv("BRIDGE_TEST_DB")}
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.MigrateUp(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return client
}

func TestOrderInsertIfAbsentIdempotent(t *testing.T) {
	if testDB == nil {
		t.Skip("BRIDGE_TEST_DB not configured")
	}
	client := newTestClient(t)
	defer client.Close()
	repos := NewRepositories(client)
	ctx := context.Background()

	shop, err := repos.Shops.Create(ctx, &Shop{ShopCode: "TEST01", ShopType: ShopTypeGame, IsEnabled: true})
	if err != nil {
		t.Fatalf("create shop: %v", err)
	}

	draft := &Order{
		OrderNo: "ORD1", JDOrderNo: "JD01", ShopID: shop.ID,
		ShopType: ShopTypeGame, OrderType: OrderTypeDirect, OrderStatus: OrderStatusPending,
		Amount: 100, Quantity: 1,
	}

	first, created1, err := repos.Orders.InsertIfAbsent(ctx, draft)
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if !created1 {
		t.Fatal("expected first insert to report created=true")
	}

	second, created2, err := repos.Orders.InsertIfAbsent(ctx, draft)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if created2 {
		t.Fatal("expected second insert to report created=false")
	}
	if second.OrderNo != first.OrderNo {
		t.Fatalf("expected the same order_no on duplicate ingest, got %s vs %s", second.OrderNo, first.OrderNo)
	}
}

func TestOrderTransitionGuard(t *testing.T) {
	if testDB == nil {
		t.Skip("BRIDGE_TEST_DB not configured")
	}
	client := newTestClient(t)
	defer client.Close()
	repos := NewRepositories(client)
	ctx := context.Background()

	shop, _ := repos.Shops.Create(ctx, &Shop{ShopCode: "TEST02", ShopType: ShopTypeGame, IsEnabled: true})
	order, _, err := repos.Orders.InsertIfAbsent(ctx, &Order{
		OrderNo: "ORD2", JDOrderNo: "JD02", ShopID: shop.ID,
		ShopType: ShopTypeGame, OrderType: OrderTypeDirect, OrderStatus: OrderStatusPending,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := repos.Orders.Transition(ctx, order.ID, OrderStatusDone, []OrderStatus{OrderStatusCancelled}); err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition guarding against a status not in expectIn, got %v", err)
	}

	if err := repos.Orders.Transition(ctx, order.ID, OrderStatusDone, []OrderStatus{OrderStatusPending, OrderStatusProcessing}); err != nil {
		t.Fatalf("expected a matching guard to succeed: %v", err)
	}
}
