package httpapi

import (
	"net/http"
	"time"

	"github.com/certen/jd-fulfillment-bridge/internal/signer"
	"github.com/certen/jd-fulfillment-bridge/internal/store"
)

type gamePushBusiness struct {
	OrderID       string `json:"orderId"`
	SKUID         string `json:"skuId"`
	BrandID       string `json:"brandId"`
	BuyNum        string `json:"buyNum"`
	TotalPrice    string `json:"totalPrice"`
	GameAccount   string `json:"gameAccount"`
	ChargeAccount string `json:"chargeAccount"`
	PhoneNum      string `json:"phoneNum"`
}

// account applies the gameAccount/chargeAccount/phoneNum alias table: the
// upstream push may carry the top-up target under any of the three names.
func (b gamePushBusiness) account() string {
	for _, v := range []string{b.GameAccount, b.ChargeAccount, b.PhoneNum} {
		if v != "" {
			return v
		}
	}
	return ""
}

type gameReply struct {
	RetCode    string  `json:"retCode"`
	RetMessage string  `json:"retMessage"`
	Data       *string `json:"data,omitempty"`
}

func writeGameReply(w http.ResponseWriter, status int, retCode, retMessage string, data *string) {
	writeJSON(w, status, gameReply{RetCode: retCode, RetMessage: retMessage, Data: data})
}

// handleGameDirect ingests a GAME direct top-up push.
func (h *Handler) handleGameDirect(w http.ResponseWriter, r *http.Request) {
	h.handleGamePush(w, r, store.OrderTypeDirect)
}

// handleGameCard ingests a GAME card-code push.
func (h *Handler) handleGameCard(w http.ResponseWriter, r *http.Request) {
	h.handleGamePush(w, r, store.OrderTypeCard)
}

func (h *Handler) handleGamePush(w http.ResponseWriter, r *http.Request, orderType store.OrderType) {
	ctx := r.Context()
	form := formToSignMap(cloneForm(r))

	shop, err := h.resolveShopOrFallback(ctx, "game", func() (*store.Shop, error) {
		return h.repos.Shops.FindByGameCustomerID(ctx, form["customerId"])
	}, store.ShopTypeGame)
	if err != nil {
		writeGameReply(w, http.StatusOK, "200", "店铺不存在", nil)
		return
	}

	if shop.GameMD5Secret != "" && !signer.VerifyGameSign(form, shop.GameMD5Secret) {
		writeGameReply(w, http.StatusOK, "200", "签名验证失败", nil)
		return
	}
	if shop.Expired(time.Now()) {
		writeGameReply(w, http.StatusOK, "200", "店铺已过期", nil)
		return
	}

	var business gamePushBusiness
	if err := signer.DecodeEnvelope(form["data"], &business); err != nil {
		writeGameReply(w, http.StatusOK, "200", "请求数据格式错误", nil)
		return
	}
	if business.OrderID == "" {
		writeGameReply(w, http.StatusOK, "200", "orderId缺失", nil)
		return
	}
	amount, err := parseAmountFen(business.TotalPrice)
	if err != nil {
		writeGameReply(w, http.StatusOK, "200", "totalPrice格式错误", nil)
		return
	}

	draft := &store.Order{
		OrderNo:        newOrderNo(time.Now()),
		JDOrderNo:      business.OrderID,
		ShopID:         shop.ID,
		ShopType:       store.ShopTypeGame,
		OrderType:      orderType,
		OrderStatus:    store.OrderStatusPending,
		Amount:         amount,
		Quantity:       parseIntDefault(business.BuyNum, 1),
		ProduceAccount: business.account(),
		SKUID:          business.SKUID,
		ProductInfo:    business.BrandID,
	}

	order, created, err := h.repos.Orders.InsertIfAbsent(ctx, draft)
	if err != nil {
		h.logger.Printf("game push: insert order failed: %v", err)
		writeGameReply(w, http.StatusInternalServerError, "200", "内部错误", nil)
		return
	}
	if !created {
		writeGameReply(w, http.StatusOK, "100", "订单已存在", nil)
		return
	}

	_ = h.repos.OrderEvents.Append(ctx, order.ID, "order_created", "game push ingested", nil, "", store.EventResultSuccess)

	h.notifyNewOrder(order, shop)
	if orderType == store.OrderTypeCard {
		h.tryAutoFulfill(ctx, order, shop)
	}
	writeGameReply(w, http.StatusOK, "100", "接收成功", nil)
}

// handleGameQuery returns a closure handling either the direct or card query
// path, since both share the lookup/decode/status-map/reply shape and only
// the status table and cardInfos inclusion differ.
func (h *Handler) handleGameQuery(orderType store.OrderType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		form := formToSignMap(cloneForm(r))

		var query struct {
			OrderID string `json:"orderId"`
		}
		if err := signer.DecodeEnvelope(form["data"], &query); err != nil || query.OrderID == "" {
			writeGameReply(w, http.StatusOK, "200", "请求数据格式错误", nil)
			return
		}

		shop, err := h.resolveShopOrFallback(ctx, "game", func() (*store.Shop, error) {
			return h.repos.Shops.FindByGameCustomerID(ctx, form["customerId"])
		}, store.ShopTypeGame)
		if err != nil {
			writeGameReply(w, http.StatusOK, "200", "店铺不存在", nil)
			return
		}

		order, err := h.repos.Orders.FindByJDOrderNo(ctx, query.OrderID, shop.ID)
		if err != nil {
			writeGameReply(w, http.StatusOK, "200", "订单不存在", nil)
			return
		}

		status := mapGameOrderStatus(order.OrderStatus, orderType)
		business := map[string]interface{}{"orderStatus": status}
		if orderType == store.OrderTypeCard && order.OrderStatus == store.OrderStatusDone {
			cardInfos := make([]map[string]string, 0, len(order.CardInfo))
			for _, c := range order.CardInfo {
				cardInfos = append(cardInfos, map[string]string{"cardNo": c.CardNo, "cardPass": c.CardPass})
			}
			business["cardInfos"] = cardInfos
		}

		encoded, err := signer.EncodeEnvelope(business)
		if err != nil {
			h.logger.Printf("game query: encode reply envelope: %v", err)
			writeGameReply(w, http.StatusInternalServerError, "200", "内部错误", nil)
			return
		}
		writeGameReply(w, http.StatusOK, "100", "查询成功", &encoded)
	}
}

// mapGameOrderStatus applies the §4.3 status-mapping table, which differs
// between the direct and card query paths for the same internal status.
func mapGameOrderStatus(status store.OrderStatus, orderType store.OrderType) int {
	switch status {
	case store.OrderStatusPending, store.OrderStatusProcessing:
		if orderType == store.OrderTypeCard {
			return 1
		}
		return 0
	case store.OrderStatusDone:
		if orderType == store.OrderTypeCard {
			return 0
		}
		return 1
	default: // CANCELLED, REFUNDED, ERROR
		return 2
	}
}
