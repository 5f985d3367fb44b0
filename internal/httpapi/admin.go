package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/certen/jd-fulfillment-bridge/internal/store"
)

// handleAdminOrder dispatches the supplemented debug/admin manual-action
// surface: GET /admin/orders/{order_no} returns the order and its event
// log; POST /admin/orders/{order_no}/{action} drives one engine action.
//
// This is the operator action surface the §4.4 action table assumes exists
// but leaves outside the core (admin HTML pages, RBAC, login are explicit
// non-goals); only the minimal API needed to invoke each action is built
// here, with no UI.
func (h *Handler) handleAdminOrder(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/admin/orders/")
	path = strings.TrimSuffix(path, "/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		h.writeGenericError(w, http.StatusBadRequest, "order number required")
		return
	}
	orderNo := parts[0]

	ctx := r.Context()
	order, err := h.repos.Orders.GetByOrderNo(ctx, orderNo)
	if err != nil {
		h.writeGenericError(w, http.StatusNotFound, "order not found")
		return
	}
	shop, err := h.repos.Shops.GetByID(ctx, order.ShopID)
	if err != nil {
		h.writeGenericError(w, http.StatusInternalServerError, "shop lookup failed")
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			h.writeGenericError(w, http.StatusMethodNotAllowed, "GET only")
			return
		}
		events, _ := h.repos.OrderEvents.ListByOrder(ctx, order.ID)
		writeJSON(w, http.StatusOK, map[string]interface{}{"order": order, "events": events})
		return
	}
	if r.Method != http.MethodPost {
		h.writeGenericError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}

	operator := r.Header.Get("X-Operator")
	if operator == "" {
		operator = "admin"
	}

	switch parts[1] {
	case "direct-success":
		h.runAction(w, order, func() error {
			return h.engine.ManualDirectSuccess(ctx, order, shop, operator)
		})
	case "card-deliver":
		var body struct {
			Cards []store.Card `json:"cards"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.writeGenericError(w, http.StatusBadRequest, "invalid cards payload")
			return
		}
		h.runAction(w, order, func() error {
			return h.engine.ManualCardDeliver(ctx, order, shop, body.Cards, operator)
		})
	case "refund":
		h.runAction(w, order, func() error {
			return h.engine.ManualRefund(ctx, order, shop, operator)
		})
	case "debug-set":
		var body struct {
			Status int `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.writeGenericError(w, http.StatusBadRequest, "invalid status payload")
			return
		}
		h.runAction(w, order, func() error {
			return h.engine.DebugSet(ctx, order, store.OrderStatus(body.Status), operator)
		})
	default:
		h.writeGenericError(w, http.StatusNotFound, "unknown action")
	}
}

func (h *Handler) runAction(w http.ResponseWriter, order *store.Order, action func() error) {
	if err := action(); err != nil {
		h.writeGenericError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_no": order.OrderNo, "status": strconv.Itoa(int(order.OrderStatus))})
}
