package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/certen/jd-fulfillment-bridge/internal/config"
	"github.com/certen/jd-fulfillment-bridge/internal/signer"
	"github.com/certen/jd-fulfillment-bridge/internal/store"
)

// fakeNotifier records every order it was asked to notify on, letting tests
// assert notification fired (or didn't) without a real webhook or database.
type fakeNotifier struct {
	mu    sync.Mutex
	calls []*store.Order
}

func (f *fakeNotifier) Notify(order *store.Order, shop *store.Shop) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, order)
}

func (f *fakeNotifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestMapGameOrderStatus(t *testing.T) {
	cases := []struct {
		status    store.OrderStatus
		orderType store.OrderType
		want      int
	}{
		{store.OrderStatusPending, store.OrderTypeDirect, 0},
		{store.OrderStatusProcessing, store.OrderTypeDirect, 0},
		{store.OrderStatusPending, store.OrderTypeCard, 1},
		{store.OrderStatusDone, store.OrderTypeDirect, 1},
		{store.OrderStatusDone, store.OrderTypeCard, 0},
		{store.OrderStatusCancelled, store.OrderTypeDirect, 2},
		{store.OrderStatusRefunded, store.OrderTypeCard, 2},
		{store.OrderStatusError, store.OrderTypeDirect, 2},
	}
	for _, c := range cases {
		got := mapGameOrderStatus(c.status, c.orderType)
		if got != c.want {
			t.Errorf("mapGameOrderStatus(%v, %v) = %d, want %d", c.status, c.orderType, got, c.want)
		}
	}
}

func TestMapGeneralOrderStatus(t *testing.T) {
	cases := []struct {
		status        store.OrderStatus
		produceStatus int
		code          string
	}{
		{store.OrderStatusPending, 3, "JDO_201"},
		{store.OrderStatusProcessing, 3, "JDO_201"},
		{store.OrderStatusDone, 1, "JDO_200"},
		{store.OrderStatusCancelled, 2, "JDO_302"},
		{store.OrderStatusRefunded, 2, "JDO_302"},
		{store.OrderStatusError, 2, "JDO_302"},
	}
	for _, c := range cases {
		gotStatus, gotCode := mapGeneralOrderStatus(c.status)
		if gotStatus != c.produceStatus || gotCode != c.code {
			t.Errorf("mapGeneralOrderStatus(%v) = (%d, %s), want (%d, %s)", c.status, gotStatus, gotCode, c.produceStatus, c.code)
		}
	}
}

func TestParseAmountFen(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1.00", 100, false},
		{"1.05", 105, false},
		{"0.1", 10, false},
		{"not-a-number", 0, true},
		{"", 0, true},
	}
	for _, c := range cases {
		got, err := parseAmountFen(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("parseAmountFen(%q): expected error, got nil", c.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseAmountFen(%q): unexpected error: %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("parseAmountFen(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestFormValueAliasing(t *testing.T) {
	form := map[string][]string{"venderId": {"V1"}}
	if got := formValue(form, "vendorId", "venderId"); got != "V1" {
		t.Errorf("expected alias fallback to venderId, got %q", got)
	}

	form2 := map[string][]string{"vendorId": {"V2"}, "venderId": {"IGNORED"}}
	if got := formValue(form2, "vendorId", "venderId"); got != "V2" {
		t.Errorf("expected primary name to win, got %q", got)
	}

	if got := formValue(map[string][]string{}, "vendorId", "venderId"); got != "" {
		t.Errorf("expected empty string when no alias present, got %q", got)
	}
}

func TestNewOrderNoFormat(t *testing.T) {
	re := regexp.MustCompile(`^ORD\d{14}[0-9A-F]{8}$`)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	orderNo := newOrderNo(now)
	if !re.MatchString(orderNo) {
		t.Errorf("order number %q does not match expected format", orderNo)
	}
	if orderNo[3:17] != "20260102030405" {
		t.Errorf("order number %q does not embed the expected UTC timestamp", orderNo)
	}
}

func TestRequireAdminDisabledWithoutToken(t *testing.T) {
	h := &Handler{cfg: &config.Config{AdminToken: ""}}
	called := false
	wrapped := h.requireAdmin(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodGet, "/admin/orders/ORD1", nil)
	rr := httptest.NewRecorder()
	wrapped(rr, req)

	if called {
		t.Error("admin handler must not run when AdminToken is unset")
	}
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when admin API disabled, got %d", rr.Code)
	}
}

func TestRequireAdminRejectsWrongToken(t *testing.T) {
	h := &Handler{cfg: &config.Config{AdminToken: "secret"}}
	called := false
	wrapped := h.requireAdmin(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodGet, "/admin/orders/ORD1", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr := httptest.NewRecorder()
	wrapped(rr, req)

	if called {
		t.Error("admin handler must not run with a mismatched token")
	}
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong token, got %d", rr.Code)
	}
}

func TestRequireAdminAcceptsCorrectToken(t *testing.T) {
	h := &Handler{cfg: &config.Config{AdminToken: "secret"}}
	called := false
	wrapped := h.requireAdmin(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodGet, "/admin/orders/ORD1", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr := httptest.NewRecorder()
	wrapped(rr, req)

	if !called {
		t.Error("admin handler should run with the correct token")
	}
}

// TestHandleGameDirectNotifiesUnconditionally pins the fix for a bug where
// the webhook notification only ever fired from inside the engine's
// fulfillment-success paths: a DIRECT order never reaches the engine at
// insertion time (tryAutoFulfill only runs for CARD orders), so it must be
// notified independently of auto-fulfillment. Gated on BRIDGE_TEST_DB like
// the store package's integration tests, since it exercises InsertIfAbsent
// against a real database.
func TestHandleGameDirectNotifiesUnconditionally(t *testing.T) {
	connStr := os.Getenv("BRIDGE_TEST_DB")
	if connStr == "" {
		t.Skip("BRIDGE_TEST_DB not configured")
	}

	client, err := store.NewClient(&config.Config{DatabaseURL: connStr})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()
	if err := client.MigrateUp(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	repos := store.NewRepositories(client)

	shop, err := repos.Shops.Create(context.Background(), &store.Shop{
		ShopCode: "NOTIFYTEST01", ShopType: store.ShopTypeGame, GameCustomerID: "CUSTNOTIFYTEST",
		NotifyEnabled: true, IsEnabled: true,
	})
	if err != nil {
		t.Fatalf("create shop: %v", err)
	}

	envelope, err := signer.EncodeEnvelope(map[string]string{
		"orderId": "JDNOTIFYTEST1", "skuId": "SKU1", "totalPrice": "1.00", "buyNum": "1", "gameAccount": "ACC1",
	})
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}

	fake := &fakeNotifier{}
	h := New(repos, nil, fake, &config.Config{}, nil)

	form := url.Values{"customerId": {shop.GameCustomerID}, "data": {envelope}}
	req := httptest.NewRequest(http.MethodPost, "/api/game/direct", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if fake.callCount() != 1 {
		t.Fatalf("expected the notifier to fire exactly once for a direct order with no auto-fulfillment, got %d", fake.callCount())
	}
	if fake.calls[0].JDOrderNo != "JDNOTIFYTEST1" {
		t.Errorf("unexpected order notified: %+v", fake.calls[0])
	}
}
