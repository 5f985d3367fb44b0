package notifier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/certen/jd-fulfillment-bridge/internal/store"
)

func TestDingTalkSignIsStableForSameInputs(t *testing.T) {
	a := dingTalkSign("1690000000000", "mysecret")
	b := dingTalkSign("1690000000000", "mysecret")
	if a != b {
		t.Error("expected deterministic signature for identical inputs")
	}
	if dingTalkSign("1690000000001", "mysecret") == a {
		t.Error("expected signature to change with the timestamp")
	}
}

func TestContainsQuery(t *testing.T) {
	if containsQuery("https://example.com/webhook") {
		t.Error("expected no query to be detected")
	}
	if !containsQuery("https://example.com/webhook?access_token=abc") {
		t.Error("expected a query to be detected")
	}
}

func TestBuildOrderMessageFallsBackOnEmptyFields(t *testing.T) {
	order := &store.Order{JDOrderNo: "JD1", Amount: 1050, Quantity: 2, CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	shop := &store.Shop{ShopCode: "S1"}
	msg := buildOrderMessage(order, shop)
	if !strings.Contains(msg, "JD1") || !strings.Contains(msg, "10.50") {
		t.Errorf("expected message to include order number and amount, got: %s", msg)
	}
	if !strings.Contains(msg, "-") {
		t.Error("expected empty product/account fields to fall back to '-'")
	}
}

func TestSendUnknownChannel(t *testing.T) {
	n := New([]time.Duration{time.Millisecond}, time.Second, nil, nil, nil)
	_, _, err := n.send(context.Background(), store.NotifyWebhook{Channel: "slack", URL: "http://example.com"}, "hi")
	if err == nil {
		t.Error("expected an error for an unknown channel")
	}
}

func TestSendWeComSuccessAndFailure(t *testing.T) {
	srvOK := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errcode":0,"errmsg":"ok"}`))
	}))
	defer srvOK.Close()
	srvFail := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errcode":93000,"errmsg":"invalid webhook"}`))
	}))
	defer srvFail.Close()

	n := New([]time.Duration{time.Millisecond}, time.Second, nil, nil, nil)

	ok, _, err := n.sendWeCom(context.Background(), store.NotifyWebhook{Channel: "wecom", URL: srvOK.URL}, "hi")
	if err != nil || !ok {
		t.Errorf("expected success, got ok=%v err=%v", ok, err)
	}

	ok, _, err = n.sendWeCom(context.Background(), store.NotifyWebhook{Channel: "wecom", URL: srvFail.URL}, "hi")
	if ok || err == nil {
		t.Errorf("expected failure, got ok=%v err=%v", ok, err)
	}
}

func TestSendDingTalkAppendsSignatureWhenSecretSet(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"errcode":0,"errmsg":"ok"}`))
	}))
	defer srv.Close()

	n := New([]time.Duration{time.Millisecond}, time.Second, nil, nil, nil)
	ok, _, err := n.sendDingTalk(context.Background(), store.NotifyWebhook{Channel: "dingtalk", URL: srv.URL, Secret: "mysecret"}, "hi")
	if err != nil || !ok {
		t.Fatalf("expected success, got ok=%v err=%v", ok, err)
	}
	if !strings.Contains(gotQuery, "timestamp=") || !strings.Contains(gotQuery, "sign=") {
		t.Errorf("expected timestamp and sign query params, got %q", gotQuery)
	}
}
