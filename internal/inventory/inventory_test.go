package inventory

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/certen/jd-fulfillment-bridge/internal/store"
)

func TestFetchCardsAgiso(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer KEY1" {
			t.Errorf("expected Bearer KEY1, got %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("ApiVersion") != "1" {
			t.Errorf("expected ApiVersion 1, got %q", r.Header.Get("ApiVersion"))
		}
		w.Write([]byte(`{"IsSuccess":true,"Data":{"CardPwdArr":[{"c":"111","p":"222","d":"2027"},{"c":"333","p":"444","d":"2027"}]}}`))
	}))
	defer srv.Close()

	shop := &store.Shop{ShopCode: "S1", Card91Dialect: store.Card91DialectAgiso, Card91APIURL: srv.URL, Card91APIKey: "KEY1", Card91APISecret: "SECRET"}
	c := NewClient(0, nil)
	cards, err := c.FetchCards(context.Background(), shop, "CT1", 2, "ORD1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cards) != 2 {
		t.Fatalf("expected 2 cards, got %d", len(cards))
	}
	if cards[0].CardNo != "111" || cards[0].CardPass != "222" {
		t.Errorf("unexpected card: %+v", cards[0])
	}
}

func TestFetchCardsShortfall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"IsSuccess":true,"Data":{"CardPwdArr":[{"c":"111","p":"222"}]}}`))
	}))
	defer srv.Close()

	shop := &store.Shop{ShopCode: "S1", Card91Dialect: store.Card91DialectAgiso, Card91APIURL: srv.URL, Card91APIKey: "KEY1"}
	c := NewClient(0, nil)
	cards, err := c.FetchCards(context.Background(), shop, "CT1", 3, "ORD1")
	if !errors.Is(err, ErrShortfall) {
		t.Fatalf("expected ErrShortfall, got %v", err)
	}
	if len(cards) != 1 {
		t.Errorf("expected the partial cards to still be returned to the caller, got %d", len(cards))
	}
}

func TestFetchCardsAgisoNoAPIKey(t *testing.T) {
	shop := &store.Shop{ShopCode: "S1", Card91Dialect: store.Card91DialectAgiso}
	c := NewClient(0, nil)
	_, err := c.FetchCards(context.Background(), shop, "CT1", 1, "ORD1")
	if err == nil {
		t.Error("expected an error when no api key is configured")
	}
}

func TestFetchCardsRest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("api_key") != "KEY1" {
			t.Errorf("expected api_key KEY1, got %q", q.Get("api_key"))
		}
		if q.Get("sign") == "" {
			t.Error("expected a sign query parameter")
		}
		w.Write([]byte(`{"code":0,"data":[{"cardNo":"111","cardPwd":"222"}]}`))
	}))
	defer srv.Close()

	shop := &store.Shop{ShopCode: "S1", Card91Dialect: store.Card91DialectRest, Card91APIURL: srv.URL, Card91APIKey: "KEY1", Card91APISecret: "SECRET"}
	c := NewClient(0, nil)
	cards, err := c.FetchCards(context.Background(), shop, "CT1", 1, "ORD1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cards) != 1 || cards[0].CardNo != "111" {
		t.Errorf("unexpected cards: %+v", cards)
	}
}

func TestListCardTypesAgisoError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"IsSuccess":false,"Error_Code":403,"Error_Msg":"forbidden"}`))
	}))
	defer srv.Close()

	shop := &store.Shop{ShopCode: "S1", Card91Dialect: store.Card91DialectAgiso, Card91APIURL: srv.URL, Card91APIKey: "KEY1"}
	c := NewClient(0, nil)
	_, err := c.ListCardTypes(context.Background(), shop)
	if err == nil {
		t.Error("expected an error on IsSuccess=false")
	}
}
