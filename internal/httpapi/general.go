package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/certen/jd-fulfillment-bridge/internal/signer"
	"github.com/certen/jd-fulfillment-bridge/internal/store"
)

type generalReply struct {
	JDOrderNo     string `json:"jdOrderNo"`
	AgentOrderNo  string `json:"agentOrderNo"`
	ProduceStatus int    `json:"produceStatus"`
	Code          string `json:"code"`
	SignType      string `json:"signType"`
	Timestamp     string `json:"timestamp"`
	Product       string `json:"product,omitempty"`
	Sign          string `json:"sign"`
}

func (h *Handler) writeGeneralReply(w http.ResponseWriter, status int, shop *store.Shop, reply generalReply) {
	reply.SignType = "MD5"
	reply.Timestamp = time.Now().Format("20060102150405")
	fields := map[string]string{
		"jdOrderNo":     reply.JDOrderNo,
		"agentOrderNo":  reply.AgentOrderNo,
		"produceStatus": strconv.Itoa(reply.ProduceStatus),
		"code":          reply.Code,
		"signType":      reply.SignType,
		"timestamp":     reply.Timestamp,
	}
	if reply.Product != "" {
		fields["product"] = reply.Product
	}
	secret := ""
	if shop != nil {
		secret = shop.GeneralMD5Secret
	}
	reply.Sign = signer.GeneralSign(fields, secret)
	writeJSON(w, status, reply)
}

// handleGeneralDistill ingests a GENERAL-channel order push.
func (h *Handler) handleGeneralDistill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rawForm := cloneForm(r)
	form := formToSignMap(rawForm)

	vendorID := formValue(rawForm, "vendorId", "venderId")
	jdOrderNo := form["jdOrderNo"]

	shop, err := h.resolveShopOrFallback(ctx, "general", func() (*store.Shop, error) {
		return h.repos.Shops.FindByGeneralVendorID(ctx, vendorID)
	}, store.ShopTypeGeneral)
	if err != nil {
		h.writeGeneralReply(w, http.StatusOK, nil, generalReply{JDOrderNo: jdOrderNo, ProduceStatus: 2, Code: "JDO_304"})
		return
	}

	if shop.GeneralMD5Secret != "" && !signer.VerifyGeneralSign(form, shop.GeneralMD5Secret) {
		h.writeGeneralReply(w, http.StatusForbidden, shop, generalReply{
			JDOrderNo: jdOrderNo, AgentOrderNo: "", ProduceStatus: 2, Code: "JDO_304",
		})
		return
	}
	if shop.Expired(time.Now()) {
		h.writeGeneralReply(w, http.StatusForbidden, shop, generalReply{
			JDOrderNo: jdOrderNo, ProduceStatus: 2, Code: "JDO_304",
		})
		return
	}

	amount, err := strconv.ParseInt(form["totalPrice"], 10, 64)
	if err != nil {
		h.writeGeneralReply(w, http.StatusOK, shop, generalReply{JDOrderNo: jdOrderNo, ProduceStatus: 2, Code: "JDO_304"})
		return
	}
	bizType := parseIntDefault(form["bizType"], 1)
	orderType := store.OrderTypeDirect
	if bizType == 2 {
		orderType = store.OrderTypeCard
	}

	draft := &store.Order{
		OrderNo:        newOrderNo(time.Now()),
		JDOrderNo:      jdOrderNo,
		ShopID:         shop.ID,
		ShopType:       store.ShopTypeGeneral,
		OrderType:      orderType,
		OrderStatus:    store.OrderStatusPending,
		Amount:         amount,
		Quantity:       parseIntDefault(form["quantity"], 1),
		ProduceAccount: form["produceAccount"],
		SKUID:          form["wareNo"],
		NotifyURL:      form["notifyUrl"],
	}

	order, created, err := h.repos.Orders.InsertIfAbsent(ctx, draft)
	if err != nil {
		h.logger.Printf("general distill: insert order failed: %v", err)
		h.writeGeneralReply(w, http.StatusInternalServerError, shop, generalReply{JDOrderNo: jdOrderNo, ProduceStatus: 2, Code: "JDO_304"})
		return
	}
	if !created {
		h.writeGeneralReply(w, http.StatusOK, shop, generalReply{
			JDOrderNo: jdOrderNo, AgentOrderNo: order.OrderNo, ProduceStatus: 3, Code: "JDO_201",
		})
		return
	}

	_ = h.repos.OrderEvents.Append(ctx, order.ID, "order_created", "general distill ingested", nil, "", store.EventResultSuccess)

	h.notifyNewOrder(order, shop)
	if orderType == store.OrderTypeCard {
		h.tryAutoFulfill(ctx, order, shop)
	}
	h.writeGeneralReply(w, http.StatusOK, shop, generalReply{
		JDOrderNo: jdOrderNo, AgentOrderNo: order.OrderNo, ProduceStatus: 3, Code: "JDO_201",
	})
}

// handleGeneralQuery looks an order up by jdOrderNo and maps its status.
func (h *Handler) handleGeneralQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rawForm := cloneForm(r)
	form := formToSignMap(rawForm)
	vendorID := formValue(rawForm, "vendorId", "venderId")
	jdOrderNo := form["jdOrderNo"]

	shop, err := h.resolveShopOrFallback(ctx, "general", func() (*store.Shop, error) {
		return h.repos.Shops.FindByGeneralVendorID(ctx, vendorID)
	}, store.ShopTypeGeneral)
	if err != nil {
		h.writeGeneralReply(w, http.StatusOK, nil, generalReply{JDOrderNo: jdOrderNo, ProduceStatus: 2, Code: "JDO_304"})
		return
	}

	order, err := h.repos.Orders.FindByJDOrderNo(ctx, jdOrderNo, shop.ID)
	if err != nil {
		h.writeGeneralReply(w, http.StatusOK, shop, generalReply{JDOrderNo: jdOrderNo, ProduceStatus: 2, Code: "JDO_304"})
		return
	}

	produceStatus, code := mapGeneralOrderStatus(order.OrderStatus)
	reply := generalReply{
		JDOrderNo: jdOrderNo, AgentOrderNo: order.OrderNo, ProduceStatus: produceStatus, Code: code,
	}
	if order.OrderStatus == store.OrderStatusDone && order.OrderType == store.OrderTypeCard && len(order.CardInfo) > 0 {
		cardJSON, err := order.CardInfoJSON()
		if err == nil {
			encrypted, encErr := signer.EncryptCardData(string(cardJSON), shop.GeneralAESSecret)
			if encErr == nil {
				reply.Product = encrypted
			}
		}
	}
	h.writeGeneralReply(w, http.StatusOK, shop, reply)
}

// mapGeneralOrderStatus applies the §4.3 GENERAL status-mapping table.
func mapGeneralOrderStatus(status store.OrderStatus) (produceStatus int, code string) {
	switch status {
	case store.OrderStatusPending, store.OrderStatusProcessing:
		return 3, "JDO_201"
	case store.OrderStatusDone:
		return 1, "JDO_200"
	default: // CANCELLED, REFUNDED, ERROR
		return 2, "JDO_302"
	}
}
