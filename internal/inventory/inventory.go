// Package inventory implements C6: signed RPC to the third-party card
// inventory service ("91"), supporting the two known dialects.
package inventory

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

// CardType describes one card SKU offered by the inventory service.
type CardType struct {
	ID    string
	Name  string
	Stock int
	Total int
	Used  int
}

// Client issues signed RPCs to the inventory service across both dialects.
type Client struct {
	http   *resty.Client
	logger *log.Logger
}

// NewClient builds an inventory Client with the bridge's standard timeout.
func NewClient(timeout time.Duration, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(log.Writer(), "[Inventory] ", log.LstdFlags)
	}
	return &Client{http: resty.New().SetTimeout(timeout), logger: logger}
}

// ListCardTypes returns the card catalog for the given shop's credentials.
func (c *Client) ListCardTypes(ctx context.Context, shop *store.Shop) ([]CardType, error) {
	switch shop.Card91Dialect {
	case store.Card91DialectRest:
		return c.listCardTypesRest(ctx, shop)
	default:
		return c.listCardTypesAgiso(ctx, shop)
	}
}

// GetStock returns the remaining stock for a single card type.
func (c *Client) GetStock(ctx context.Context, shop *store.Shop, cardTypeID string) (int, error) {
	types, err := c.ListCardTypes(ctx, shop)
	if err != nil {
		return 0, err
	}
	for _, t := range types {
		if t.ID == cardTypeID {
			return t.Stock, nil
		}
	}
	return 0, fmt.Errorf("inventory: card type %s not found", cardTypeID)
}

// FetchCards draws quantity cards of cardTypeID, using orderNo as the
// idempotency key the inventory service honors on retry. Returning fewer
// cards than requested is reported via ErrShortfall so the engine can reject
// partial fulfillment without discarding the cards it was handed.
var ErrShortfall = fmt.Errorf("inventory: fewer cards returned than requested")

func (c *Client) FetchCards(ctx context.Context, shop *store.Shop, cardTypeID string, quantity int, orderNo string) ([]store.Card, error) {
	var cards []store.Card
	var err error
	switch shop.Card91Dialect {
	case store.Card91DialectRest:
		cards, err = c.fetchCardsRest(ctx, shop, cardTypeID, quantity, orderNo)
	default:
		cards, err = c.fetchCardsAgiso(ctx, shop, cardTypeID, quantity, orderNo)
	}
	if err != nil {
		return nil, err
	}
	if len(cards) < quantity {
		return cards, fmt.Errorf("%w: requested %d, got %d", ErrShortfall, quantity, len(cards))
	}
	return cards[:quantity], nil
}

// ---------------------------------------------------------------------------
// Dialect A (Agiso-style): Bearer token + ApiVersion header, public params
// signed as MD5(secret + sorted k1v1k2v2... + secret).
// ---------------------------------------------------------------------------

type agisoResponse struct {
	IsSuccess bool            `json:"IsSuccess"`
	ErrorCode int             `json:"Error_Code"`
	ErrorMsg  string          `json:"Error_Msg"`
	Data      json.RawMessage `json:"Data"`
}

func (c *Client) agisoRequest(ctx context.Context, shop *store.Shop, endpoint string, params map[string]string) (*agisoResponse, error) {
	if shop.Card91APIKey == "" {
		return nil, fmt.Errorf("inventory: shop %s has no 91 inventory access token configured", shop.ShopCode)
	}

	req := map[string]string{"timestamp": strconv.FormatInt(time.Now().Unix(), 10)}
	for k, v := range params {
		req[k] = v
	}
	if shop.Card91APISecret != "" {
		req["sign"] = signer.AgisoSign(req, shop.Card91APISecret)
	}

	base := shop.Card91APIURL
	if base == "" {
		base = "https://gw-api.agiso.com"
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+shop.Card91APIKey).
		SetHeader("ApiVersion", "1").
		SetFormData(req).
		Post(strings.TrimRight(base, "/") + endpoint)
	if err != nil {
		return nil, fmt.Errorf("inventory: agiso request %s: %w", endpoint, err)
	}

	var out agisoResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("inventory: agiso parse reply %s: %w", endpoint, err)
	}
	return &out, nil
}

func (c *Client) listCardTypesAgiso(ctx context.Context, shop *store.Shop) ([]CardType, error) {
	resp, err := c.agisoRequest(ctx, shop, "/acpr/CardPwd/GetList", map[string]string{"pageIndex": "1", "pageSize": "100"})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess {
		return nil, fmt.Errorf("inventory: agiso list card types: %s (code %d)", resp.ErrorMsg, resp.ErrorCode)
	}
	var body struct {
		List []struct {
			IdNo           string `json:"IdNo"`
			Title          string `json:"Title"`
			RemainingCount int    `json:"RemainingCount"`
			TotalCount     int    `json:"TotalCount"`
			UsedCount      int    `json:"UsedCount"`
		} `json:"List"`
	}
	if len(resp.Data) > 0 {
		_ = json.Unmarshal(resp.Data, &body)
	}
	out := make([]CardType, 0, len(body.List))
	for _, item := range body.List {
		out = append(out, CardType{ID: item.IdNo, Name: item.Title, Stock: item.RemainingCount, Total: item.TotalCount, Used: item.UsedCount})
	}
	return out, nil
}

func (c *Client) fetchCardsAgiso(ctx context.Context, shop *store.Shop, cardTypeID string, quantity int, orderNo string) ([]store.Card, error) {
	resp, err := c.agisoRequest(ctx, shop, "/acpr/CardPwd/HandPick", map[string]string{
		"cpkId":           cardTypeID,
		"num":             strconv.Itoa(quantity),
		"handPickOrderId": orderNo,
	})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess {
		return nil, fmt.Errorf("inventory: agiso fetch cards: %s (code %d)", resp.ErrorMsg, resp.ErrorCode)
	}
	var body struct {
		CardPwdArr []struct {
			C string `json:"c"`
			P string `json:"p"`
			D string `json:"d"`
		} `json:"CardPwdArr"`
	}
	if len(resp.Data) > 0 {
		_ = json.Unmarshal(resp.Data, &body)
	}
	cards := make([]store.Card, 0, len(body.CardPwdArr))
	for _, item := range body.CardPwdArr {
		cards = append(cards, store.Card{CardNo: item.C, CardPass: item.P, Expiry: item.D})
	}
	return cards, nil
}

// ---------------------------------------------------------------------------
// Dialect B (REST-style): api_key + timestamp query params, signed as
// MD5(sorted k1=v1&... + &secret=<secret>).
// ---------------------------------------------------------------------------

type restResponse struct {
	Code    int             `json:"code"`
	Status  string          `json:"status"`
	Msg     string          `json:"msg"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Result  json.RawMessage `json:"result"`
}

func (r *restResponse) ok() bool {
	return r.Code == 0 || strings.EqualFold(r.Status, "ok") || strings.EqualFold(r.Status, "success")
}

func (r *restResponse) message() string {
	if r.Msg != "" {
		return r.Msg
	}
	return r.Message
}

func (r *restResponse) payload() json.RawMessage {
	if len(r.Data) > 0 {
		return r.Data
	}
	return r.Result
}

func (c *Client) restRequest(ctx context.Context, shop *store.Shop, endpoint string, params map[string]string) (*restResponse, error) {
	req := map[string]string{
		"api_key":   shop.Card91APIKey,
		"timestamp": strconv.FormatInt(time.Now().Unix(), 10),
	}
	for k, v := range params {
		req[k] = v
	}
	req["sign"] = genericRestSign(req, shop.Card91APISecret)

	resp, err := c.http.R().SetContext(ctx).SetQueryParams(req).Get(strings.TrimRight(shop.Card91APIURL, "/") + endpoint)
	if err != nil {
		return nil, fmt.Errorf("inventory: rest request %s: %w", endpoint, err)
	}
	var out restResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("inventory: rest parse reply %s: %w", endpoint, err)
	}
	return &out, nil
}

// genericRestSign computes the Dialect B signature
// MD5(sorted k1=v1&...&kn=vn + "&secret=" + secret), `sign` and empty-valued
// fields excluded. The game scheme builds exactly this string (sorted chain,
// then "&" and its secret argument), so it is reused with "secret=<secret>"
// as that argument.
func genericRestSign(params map[string]string, secret string) string {
	return signer.GameSign(params, "secret="+secret)
}

func (c *Client) listCardTypesRest(ctx context.Context, shop *store.Shop) ([]CardType, error) {
	resp, err := c.restRequest(ctx, shop, "/cards/types", nil)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, fmt.Errorf("inventory: rest list card types: %s", resp.message())
	}
	var items []struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Stock int    `json:"stock"`
		Total int    `json:"total"`
		Used  int    `json:"used"`
	}
	if payload := resp.payload(); len(payload) > 0 {
		_ = json.Unmarshal(payload, &items)
	}
	out := make([]CardType, 0, len(items))
	for _, item := range items {
		out = append(out, CardType{ID: item.ID, Name: item.Name, Stock: item.Stock, Total: item.Total, Used: item.Used})
	}
	return out, nil
}

func (c *Client) fetchCardsRest(ctx context.Context, shop *store.Shop, cardTypeID string, quantity int, orderNo string) ([]store.Card, error) {
	resp, err := c.restRequest(ctx, shop, "/cards/fetch", map[string]string{
		"card_type_id": cardTypeID,
		"quantity":     strconv.Itoa(quantity),
		"order_no":     orderNo,
	})
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, fmt.Errorf("inventory: rest fetch cards: %s", resp.message())
	}
	var items []struct {
		CardNo  string `json:"cardNo"`
		CardPwd string `json:"cardPwd"`
		Expiry  string `json:"expiry"`
	}
	if payload := resp.payload(); len(payload) > 0 {
		_ = json.Unmarshal(payload, &items)
	}
	cards := make([]store.Card, 0, len(items))
	for _, item := range items {
		cards = append(cards, store.Card{CardNo: item.CardNo, CardPass: item.CardPwd, Expiry: item.Expiry})
	}
	return cards, nil
}
