// Package httpapi implements C3: the inbound HTTP surface that
// authenticates platform pushes, decodes envelopes, and dispatches to the
// fulfillment engine.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/certen/jd-fulfillment-bridge/internal/config"
	"github.com/certen/jd-fulfillment-bridge/internal/engine"
	"github.com/certen/jd-fulfillment-bridge/internal/metrics"
	"github.com/certen/jd-fulfillment-bridge/internal/store"
)

// Notifier is the subset of *notifier.Notifier the inbound surface depends
// on, declared locally (as the engine package does for the same dependency)
// so tests can substitute a fake without a database-backed repository.
type Notifier interface {
	Notify(order *store.Order, shop *store.Shop)
}

// Handler wires the repositories, engine and signer primitives into the
// inbound HTTP surface.
type Handler struct {
	repos    *store.Repositories
	engine   *engine.Engine
	notifier Notifier
	cfg      *config.Config
	logger   *log.Logger
}

// New builds a Handler.
func New(repos *store.Repositories, eng *engine.Engine, notifier Notifier, cfg *config.Config, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	return &Handler{repos: repos, engine: eng, notifier: notifier, cfg: cfg, logger: logger}
}

// Routes returns the full inbound mux: GAME, GENERAL and admin endpoints.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/game/direct", h.logged("game", "direct", h.handleGameDirect))
	mux.HandleFunc("/api/game/card", h.logged("game", "card", h.handleGameCard))
	mux.HandleFunc("/api/game/query", h.logged("game", "query", h.handleGameQuery(store.OrderTypeDirect)))
	mux.HandleFunc("/api/game/card-query", h.logged("game", "card-query", h.handleGameQuery(store.OrderTypeCard)))

	mux.HandleFunc("/api/general/distill", h.logged("general", "distill", h.handleGeneralDistill))
	mux.HandleFunc("/api/general/query", h.logged("general", "query", h.handleGeneralQuery))

	mux.HandleFunc("/admin/orders/", h.requireAdmin(h.handleAdminOrder))

	return mux
}

// logged wraps a handler with ApiLog recording: every inbound /api/* call is
// persisted with truncated bodies, independent of outcome.
func (h *Handler) logged(channel, endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		requestBody := ""
		if err := r.ParseForm(); err != nil {
			h.writeGenericError(rec, http.StatusBadRequest, "malformed request body")
		} else {
			requestBody = r.Form.Encode()
			next(rec, r)
		}

		outcome := "ok"
		if rec.status >= 400 {
			outcome = "error"
		}
		metrics.InboundRequests.WithLabelValues(channel, endpoint, outcome).Inc()

		ctx := r.Context()
		if err := h.repos.APILogs.Record(ctx, nil, channel+"/"+endpoint, requestBody, rec.body.String(), rec.status); err != nil {
			h.logger.Printf("failed to record api log for %s/%s: %v", channel, endpoint, err)
		}
	}
}

// requireAdmin gates admin endpoints behind a bearer token configured out of
// band; an empty AdminToken disables all admin endpoints rather than
// accepting everything, the inverse of the signer's empty-secret opt-out.
func (h *Handler) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.AdminToken == "" {
			h.writeGenericError(w, http.StatusServiceUnavailable, "admin API disabled")
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || token != h.cfg.AdminToken {
			h.writeGenericError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next(w, r)
	}
}

// responseRecorder captures the status code and body written by the wrapped
// handler for ApiLog persistence, without buffering the write to the client.
type responseRecorder struct {
	http.ResponseWriter
	status int
	body   strings.Builder
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeGenericError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// newOrderNo generates the internal order identifier:
// ORD<UTC yyyyMMddHHmmss><8 uppercase hex chars>.
func newOrderNo(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:8]
	return "ORD" + now.UTC().Format("20060102150405") + suffix
}

// formValue returns the first non-empty value among the given aliased field
// names, codifying the fixed alias table rather than per-site string
// matching (e.g. venderId/vendorId, cardNo/card_no, cardPass/cardPwd).
func formValue(form map[string][]string, names ...string) string {
	for _, name := range names {
		if v, ok := form[name]; ok && len(v) > 0 && v[0] != "" {
			return v[0]
		}
	}
	return ""
}

// parseAmountFen defensively parses a decimal currency string into integer
// fen. Using shopspring/decimal instead of float64 avoids binary-float
// rounding drift on values like "1.05" before the *100 conversion. An
// invalid input is a ValidationError, never a silent zero.
func parseAmountFen(totalPrice string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(totalPrice))
	if err != nil {
		return 0, fmt.Errorf("httpapi: invalid totalPrice %q: %w", totalPrice, err)
	}
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart(), nil
}

func parseIntDefault(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}

func cloneForm(r *http.Request) map[string][]string {
	out := make(map[string][]string, len(r.Form))
	for k, v := range r.Form {
		out[k] = v
	}
	return out
}

// formToSignMap reduces a parsed form into the flat string map the signer
// primitives operate on, taking the first value of any repeated field.
func formToSignMap(form map[string][]string) map[string]string {
	out := make(map[string]string, len(form))
	for k, v := range form {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// resolveShopOrFallback resolves a shop by its channel identity, falling
// back to "any enabled shop of this channel" for legacy clients that omit
// the id. The fallback is logged and metriced as a known compatibility risk.
func (h *Handler) resolveShopOrFallback(ctx context.Context, channel string, lookup func() (*store.Shop, error), shopType store.ShopType) (*store.Shop, error) {
	shop, err := lookup()
	if err == nil {
		return shop, nil
	}
	if err != store.ErrShopNotFound {
		return nil, err
	}
	fallback, fallbackErr := h.repos.Shops.FindAnyEnabled(ctx, shopType)
	if fallbackErr != nil {
		return nil, store.ErrShopNotFound
	}
	h.logger.Printf("%s: no shop matched identity, falling back to shop %s", channel, fallback.ShopCode)
	metrics.ShopFallbackUsed.WithLabelValues(channel).Inc()
	return fallback, nil
}

// notifyNewOrder fires the webhook notification unconditionally on a fresh
// order insertion. This is independent of tryAutoFulfill: the platform
// notification must go out whether or not the order is auto-fulfillable, and
// whether or not auto-fulfillment succeeds.
func (h *Handler) notifyNewOrder(order *store.Order, shop *store.Shop) {
	if h.notifier != nil {
		h.notifier.Notify(order, shop)
	}
}

// tryAutoFulfill fires the engine's auto_card_fulfill action when a matching
// enabled Product with deliver_type=AUTO_CARD exists. Errors are logged, not
// surfaced to the inbound reply — the order stays recoverable for a manual
// action or a later retry.
func (h *Handler) tryAutoFulfill(ctx context.Context, order *store.Order, shop *store.Shop) {
	product, err := h.repos.Products.FindEnabled(ctx, shop.ID, order.SKUID)
	if err != nil {
		return
	}
	if product.DeliverType != store.DeliverTypeAutoCard {
		return
	}
	if err := h.engine.AutoCardFulfill(ctx, order, shop, product); err != nil {
		h.logger.Printf("order %s: auto_card_fulfill failed: %v", order.OrderNo, err)
	}
}

