// Package notifier implements C7: asynchronous per-shop webhook fan-out
// with bounded per-channel retry, independent of the platform callback.
package notifier

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/certen/jd-fulfillment-bridge/internal/metrics"
	"github.com/certen/jd-fulfillment-bridge/internal/store"
)

// Notifier fans a new-order message out to every webhook channel configured
// on a shop, independently retrying each channel on the configured backoff
// schedule. Delivery is asynchronous: Notify spawns the fan-out in the
// background and returns immediately, so it never blocks the inbound HTTP
// reply.
type Notifier struct {
	http           *resty.Client
	retryIntervals []time.Duration
	logs           *store.NotificationLogRepository
	orders         *store.OrderRepository
	logger         *log.Logger
}

// New builds a Notifier. retryIntervals is the per-attempt backoff schedule
// (spec default: 1s, 3s, 5s — three attempts total).
func New(retryIntervals []time.Duration, httpTimeout time.Duration, logs *store.NotificationLogRepository, orders *store.OrderRepository, logger *log.Logger) *Notifier {
	if logger == nil {
		logger = log.New(log.Writer(), "[Notifier] ", log.LstdFlags)
	}
	return &Notifier{
		http:           resty.New().SetTimeout(httpTimeout),
		retryIntervals: retryIntervals,
		logs:           logs,
		orders:         orders,
		logger:         logger,
	}
}

// Notify fires the webhook fan-out for a new order in the background. It
// must not block the inbound HTTP response path.
func (n *Notifier) Notify(order *store.Order, shop *store.Shop) {
	if !shop.NotifyEnabled || len(shop.NotifyWebhooks) == 0 {
		return
	}
	message := buildOrderMessage(order, shop)
	go n.deliverAll(context.Background(), order, shop.NotifyWebhooks, message)
}

// deliverAll fans the message out to every configured channel concurrently
// and waits for all of them, using a wait group and a buffered channel,
// before marking the order notified.
func (n *Notifier) deliverAll(ctx context.Context, order *store.Order, webhooks []store.NotifyWebhook, message string) {
	var wg sync.WaitGroup
	results := make(chan struct{}, len(webhooks))

	for _, wh := range webhooks {
		wg.Add(1)
		go func(wh store.NotifyWebhook) {
			defer wg.Done()
			n.deliverChannel(ctx, order, wh, message)
			results <- struct{}{}
		}(wh)
	}

	go func() {
		wg.Wait()
		close(results)
	}()
	for range results {
	}

	if err := n.orders.MarkNotified(ctx, order.ID); err != nil {
		n.logger.Printf("order %s: mark notified failed: %v", order.OrderNo, err)
	}
}

// deliverChannel attempts delivery on one channel up to len(retryIntervals)
// times, logging every attempt and sleeping the configured backoff between
// failures.
func (n *Notifier) deliverChannel(ctx context.Context, order *store.Order, wh store.NotifyWebhook, message string) {
	attempts := len(n.retryIntervals)
	if attempts == 0 {
		attempts = 1
	}

	var lastStatus, lastBody string
	success := false

	for attempt := 1; attempt <= attempts; attempt++ {
		ok, respBody, err := n.send(ctx, wh, message)
		lastBody = respBody
		if err != nil {
			lastBody = err.Error()
		}
		if ok {
			success = true
			lastStatus = "OK"
		} else {
			lastStatus = "FAIL"
		}

		if _, logErr := n.logs.Create(ctx, &store.NotificationLog{
			OrderID: order.ID, Channel: wh.Channel, Attempt: attempt,
			Status: lastStatus, ResponseBody: store.TruncateForLog(lastBody),
		}); logErr != nil {
			n.logger.Printf("order %s channel %s: failed to write notification log: %v", order.OrderNo, wh.Channel, logErr)
		}

		metrics.NotifierDeliveries.WithLabelValues(wh.Channel, lastStatus).Inc()

		if success {
			return
		}
		if attempt < attempts && attempt-1 < len(n.retryIntervals) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(n.retryIntervals[attempt-1]):
			}
		}
	}
}

// Resend re-delivers from an existing log row without mutating it: it
// creates a new log row referencing the original.
func (n *Notifier) Resend(ctx context.Context, order *store.Order, shop *store.Shop, original *store.NotificationLog) (*store.NotificationLog, error) {
	var wh *store.NotifyWebhook
	for i := range shop.NotifyWebhooks {
		if shop.NotifyWebhooks[i].Channel == original.Channel {
			wh = &shop.NotifyWebhooks[i]
			break
		}
	}
	if wh == nil {
		return nil, fmt.Errorf("notifier: shop %s has no configured %s channel", shop.ShopCode, original.Channel)
	}

	message := buildOrderMessage(order, shop)
	ok, respBody, err := n.send(ctx, *wh, message)
	status := "FAIL"
	if err != nil {
		respBody = err.Error()
	}
	if ok {
		status = "OK"
	}

	return n.logs.CreateRetryLog(ctx, original.ID, &store.NotificationLog{
		OrderID: order.ID, Channel: wh.Channel, Attempt: original.Attempt + 1,
		Status: status, ResponseBody: store.TruncateForLog(respBody),
	})
}

func (n *Notifier) send(ctx context.Context, wh store.NotifyWebhook, message string) (bool, string, error) {
	switch wh.Channel {
	case "dingtalk":
		return n.sendDingTalk(ctx, wh, message)
	case "wecom":
		return n.sendWeCom(ctx, wh, message)
	default:
		return false, "", fmt.Errorf("notifier: unknown channel %q", wh.Channel)
	}
}

type markdownPayload struct {
	MsgType  string      `json:"msgtype"`
	Markdown interface{} `json:"markdown"`
}

func (n *Notifier) sendDingTalk(ctx context.Context, wh store.NotifyWebhook, message string) (bool, string, error) {
	target := wh.URL
	if wh.Secret != "" {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		sign := dingTalkSign(timestamp, wh.Secret)
		sep := "?"
		if containsQuery(target) {
			sep = "&"
		}
		target = fmt.Sprintf("%s%stimestamp=%s&sign=%s", target, sep, timestamp, url.QueryEscape(sign))
	}

	payload := markdownPayload{
		MsgType: "markdown",
		Markdown: map[string]string{
			"title": "新订单通知",
			"text":  message,
		},
	}
	return n.postWebhook(ctx, target, payload)
}

func (n *Notifier) sendWeCom(ctx context.Context, wh store.NotifyWebhook, message string) (bool, string, error) {
	payload := markdownPayload{
		MsgType:  "markdown",
		Markdown: map[string]string{"content": message},
	}
	return n.postWebhook(ctx, wh.URL, payload)
}

func (n *Notifier) postWebhook(ctx context.Context, target string, payload interface{}) (bool, string, error) {
	resp, err := n.http.R().SetContext(ctx).SetBody(payload).Post(target)
	if err != nil {
		return false, "", fmt.Errorf("notifier: post webhook: %w", err)
	}
	body := string(resp.Body())

	var reply struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if jsonErr := json.Unmarshal(resp.Body(), &reply); jsonErr != nil {
		return false, body, fmt.Errorf("notifier: parse webhook reply: %w", jsonErr)
	}
	if reply.ErrCode != 0 {
		return false, body, fmt.Errorf("notifier: webhook error %d: %s", reply.ErrCode, reply.ErrMsg)
	}
	return true, body, nil
}

// dingTalkSign implements DingTalk's HMAC-SHA256 webhook signature:
// base64(HMAC-SHA256(secret, "<timestamp>\n<secret>")).
func dingTalkSign(timestamp, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "\n" + secret))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func containsQuery(target string) bool {
	for _, c := range target {
		if c == '?' {
			return true
		}
	}
	return false
}

func buildOrderMessage(order *store.Order, shop *store.Shop) string {
	return fmt.Sprintf(
		"### 新订单通知\n\n**订单号：** %s\n\n**店铺：** %s\n\n**商品：** %s\n\n**金额：** %.2f\n\n**数量：** %d\n\n**充值账号：** %s\n\n**创建时间：** %s\n\n> 请及时处理订单",
		order.JDOrderNo, shop.ShopCode, fallback(order.ProductInfo, "-"),
		float64(order.Amount)/100, order.Quantity, fallback(order.ProduceAccount, "-"),
		order.CreatedAt.Format("2006-01-02 15:04:05"),
	)
}

func fallback(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
