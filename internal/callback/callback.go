// Package callback implements C5: building signed outbound callback
// requests per channel, POSTing them to the upstream platform, and
// classifying the reply as success or failure.
package callback

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/certen/jd-fulfillment-bridge/internal/signer"
	"github.com/certen/jd-fulfillment-bridge/internal/store"
)

// Client issues signed outbound callbacks and classifies the platform's reply.
type Client struct {
	http   *resty.Client
	logger *log.Logger
}

// NewClient builds a Client whose requests use the given per-attempt timeout.
// The client makes a single attempt per call and does not retry.
func NewClient(timeout time.Duration, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(log.Writer(), "[Callback] ", log.LstdFlags)
	}
	http := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/x-www-form-urlencoded")
	return &Client{http: http, logger: logger}
}

// Result is the outcome of one callback attempt.
type Result struct {
	Success      bool
	ReplyRaw     string
	RequestBody  string
	ResponseCode int
}

type gameBusinessPayload struct {
	OrderID     string            `json:"orderId"`
	OrderStatus int               `json:"orderStatus"`
	CardInfos   []gameCardPayload `json:"cardinfos,omitempty"`
	FailedCode  int               `json:"failedCode,omitempty"`
	FailedReason string           `json:"failedReason,omitempty"`
}

// gameCardPayload uses the lower-case field names spec.md mandates for the
// game card-deliver callback, even though the original source's Python
// implementation emits cardNo/cardPass.
type gameCardPayload struct {
	CardNo   string `json:"cardno"`
	CardPass string `json:"cardpass"`
}

// GameDirectSuccess posts the direct top-up success callback.
func (c *Client) GameDirectSuccess(ctx context.Context, shop *store.Shop, order *store.Order) (*Result, error) {
	payload := gameBusinessPayload{OrderID: order.JDOrderNo, OrderStatus: 0}
	url := firstNonEmpty(shop.GameDirectCallbackURL, shop.GameAPIURL, shop.GameCardCallbackURL)
	return c.doGameCallback(ctx, shop, url, payload)
}

// GameCardDeliver posts the card-deliver success callback including the
// fetched card codes.
func (c *Client) GameCardDeliver(ctx context.Context, shop *store.Shop, order *store.Order, cards []store.Card) (*Result, error) {
	payload := gameBusinessPayload{OrderID: order.JDOrderNo, OrderStatus: 0}
	for _, card := range cards {
		payload.CardInfos = append(payload.CardInfos, gameCardPayload{CardNo: card.CardNo, CardPass: card.CardPass})
	}
	url := firstNonEmpty(shop.GameCardCallbackURL, shop.GameAPIURL, shop.GameDirectCallbackURL)
	return c.doGameCallback(ctx, shop, url, payload)
}

// GameRefund posts the refund callback, including the fixed failedCode/
// failedReason fields the original source attaches to refund notices.
func (c *Client) GameRefund(ctx context.Context, shop *store.Shop, order *store.Order) (*Result, error) {
	payload := gameBusinessPayload{
		OrderID: order.JDOrderNo, OrderStatus: 2,
		FailedCode: 999, FailedReason: "商家退款",
	}
	var url string
	if order.OrderType == store.OrderTypeCard {
		url = firstNonEmpty(shop.GameCardCallbackURL, shop.GameAPIURL, shop.GameDirectCallbackURL)
	} else {
		url = firstNonEmpty(shop.GameDirectCallbackURL, shop.GameAPIURL, shop.GameCardCallbackURL)
	}
	return c.doGameCallback(ctx, shop, url, payload)
}

func (c *Client) doGameCallback(ctx context.Context, shop *store.Shop, url string, payload gameBusinessPayload) (*Result, error) {
	if url == "" {
		return nil, fmt.Errorf("callback: no game callback URL configured for shop %s", shop.ShopCode)
	}
	dataEnvelope, err := signer.EncodeEnvelope(payload)
	if err != nil {
		return nil, fmt.Errorf("callback: encode envelope: %w", err)
	}
	timestamp := time.Now().Format("20060102150405")
	fields := map[string]string{
		"customerId": shop.GameCustomerID,
		"timestamp":  timestamp,
		"data":       dataEnvelope,
	}
	fields["sign"] = signer.GameSign(fields, shop.GameMD5Secret)

	resp, err := c.http.R().SetContext(ctx).SetFormData(fields).Post(url)
	requestBody := formDataString(fields)
	if err != nil {
		return &Result{RequestBody: requestBody}, fmt.Errorf("callback: post game callback: %w", err)
	}

	var reply struct {
		RetCode string `json:"retCode"`
		RetMsg  string `json:"retMessage"`
	}
	if err := json.Unmarshal(resp.Body(), &reply); err != nil {
		return &Result{RequestBody: requestBody, ReplyRaw: string(resp.Body()), ResponseCode: resp.StatusCode()},
			fmt.Errorf("callback: parse game reply: %w", err)
	}

	return &Result{
		Success:      reply.RetCode == "100",
		ReplyRaw:     string(resp.Body()),
		RequestBody:  requestBody,
		ResponseCode: resp.StatusCode(),
	}, nil
}

// GeneralSuccess posts the generic success callback, optionally attaching an
// AES-ECB-encrypted card payload for card orders.
func (c *Client) GeneralSuccess(ctx context.Context, shop *store.Shop, order *store.Order, cards []store.Card) (*Result, error) {
	return c.doGeneralCallback(ctx, shop, order, "1", cards)
}

// GeneralRefund posts the generic refund callback.
func (c *Client) GeneralRefund(ctx context.Context, shop *store.Shop, order *store.Order) (*Result, error) {
	return c.doGeneralCallback(ctx, shop, order, "2", nil)
}

func (c *Client) doGeneralCallback(ctx context.Context, shop *store.Shop, order *store.Order, produceStatus string, cards []store.Card) (*Result, error) {
	url := firstNonEmpty(order.NotifyURL, shop.GeneralCallbackURL)
	if url == "" {
		return nil, fmt.Errorf("callback: no general callback URL configured for shop %s", shop.ShopCode)
	}
	if !strings.HasSuffix(url, "/produce/result") {
		url = strings.TrimRight(url, "/") + "/produce/result"
	}

	fields := map[string]string{
		"vendorId":      shop.GeneralVendorID,
		"jdOrderNo":     order.JDOrderNo,
		"agentOrderNo":  order.OrderNo,
		"produceStatus": produceStatus,
		"quantity":      strconv.Itoa(order.Quantity),
		"timestamp":     time.Now().Format("20060102150405"),
		"signType":      "MD5",
	}

	if len(cards) > 0 {
		cardJSON, err := json.Marshal(cards)
		if err != nil {
			return nil, fmt.Errorf("callback: encode card payload: %w", err)
		}
		encrypted, err := signer.EncryptCardData(string(cardJSON), shop.GeneralAESSecret)
		if err != nil {
			return nil, fmt.Errorf("callback: encrypt card payload: %w", err)
		}
		fields["product"] = encrypted
	}
	fields["sign"] = signer.GeneralSign(fields, shop.GeneralMD5Secret)

	resp, err := c.http.R().SetContext(ctx).SetFormData(fields).Post(url)
	requestBody := formDataString(fields)
	if err != nil {
		return &Result{RequestBody: requestBody}, fmt.Errorf("callback: post general callback: %w", err)
	}

	var reply struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp.Body(), &reply); err != nil {
		return &Result{RequestBody: requestBody, ReplyRaw: string(resp.Body()), ResponseCode: resp.StatusCode()},
			fmt.Errorf("callback: parse general reply: %w", err)
	}

	return &Result{
		Success:      reply.Code == "0",
		ReplyRaw:     string(resp.Body()),
		RequestBody:  requestBody,
		ResponseCode: resp.StatusCode(),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func formDataString(fields map[string]string) string {
	parts := make([]string, 0, len(fields))
	for k, v := range fields {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, "&")
}
