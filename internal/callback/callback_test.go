package callback

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/certen/jd-fulfillment-bridge/internal/store"
)

func testShop() *store.Shop {
	return &store.Shop{
		ShopCode:              "S1",
		GameCustomerID:        "CUST1",
		GameMD5Secret:         "secret",
		GameDirectCallbackURL: "",
		GameCardCallbackURL:   "",
		GeneralVendorID:       "V1",
		GeneralMD5Secret:      "gsecret",
		GeneralAESSecret:      "aessecret",
	}
}

func TestGameDirectSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.FormValue("customerId") != "CUST1" {
			t.Errorf("expected customerId CUST1, got %q", r.FormValue("customerId"))
		}
		if r.FormValue("sign") == "" {
			t.Error("expected a non-empty sign field")
		}
		w.Write([]byte(`{"retCode":"100","retMessage":"ok"}`))
	}))
	defer srv.Close()

	shop := testShop()
	shop.GameDirectCallbackURL = srv.URL

	c := NewClient(0, nil)
	order := &store.Order{JDOrderNo: "JD1"}
	result, err := c.GameDirectSuccess(context.Background(), shop, order)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Errorf("expected success, got %+v", result)
	}
}

func TestGameCallbackFailureReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":"500","retMessage":"bad"}`))
	}))
	defer srv.Close()

	shop := testShop()
	shop.GameDirectCallbackURL = srv.URL

	c := NewClient(0, nil)
	result, err := c.GameDirectSuccess(context.Background(), shop, &store.Order{JDOrderNo: "JD1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success {
		t.Error("expected failure for retCode != 100")
	}
}

func TestGameDirectSuccessNoURL(t *testing.T) {
	c := NewClient(0, nil)
	shop := testShop()
	_, err := c.GameDirectSuccess(context.Background(), shop, &store.Order{JDOrderNo: "JD1"})
	if err == nil {
		t.Error("expected an error when no game callback URL is configured")
	}
}

func TestGeneralSuccessWithCards(t *testing.T) {
	var gotFields map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		gotFields = map[string][]string(r.Form)
		if r.URL.Path != "/produce/result" {
			t.Errorf("expected path /produce/result, got %s", r.URL.Path)
		}
		w.Write([]byte(`{"code":"0","message":"ok"}`))
	}))
	defer srv.Close()

	shop := testShop()
	shop.GeneralCallbackURL = srv.URL

	c := NewClient(0, nil)
	order := &store.Order{JDOrderNo: "JD1", OrderNo: "ORD1", Quantity: 1}
	cards := []store.Card{{CardNo: "111", CardPass: "222"}}
	result, err := c.GeneralSuccess(context.Background(), shop, order, cards)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Errorf("expected success, got %+v", result)
	}
	if gotFields["product"] == nil {
		t.Error("expected encrypted product field to be sent")
	}

	var echoed map[string]interface{}
	_ = json.Unmarshal([]byte(result.ReplyRaw), &echoed)
}

func TestGeneralCallbackURLFallsBackToShop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"0","message":"ok"}`))
	}))
	defer srv.Close()

	shop := testShop()
	shop.GeneralCallbackURL = srv.URL

	c := NewClient(0, nil)
	order := &store.Order{JDOrderNo: "JD1", OrderNo: "ORD1", Quantity: 1, NotifyURL: ""}
	result, err := c.GeneralRefund(context.Background(), shop, order)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Errorf("expected success, got %+v", result)
	}
}
