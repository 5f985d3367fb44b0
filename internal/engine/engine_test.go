package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/certen/jd-fulfillment-bridge/internal/store"
)

// These cover the validation guards that return before touching any
// repository, callback or inventory client, so a zero-dependency Engine is
// enough to exercise them without a database.

func TestAutoCardFulfillNoOpWhenAlreadyDone(t *testing.T) {
	e := New(nil, nil, nil, nil, nil)
	order := &store.Order{OrderNo: "ORD1", OrderStatus: store.OrderStatusDone, OrderType: store.OrderTypeCard}
	err := e.AutoCardFulfill(context.Background(), order, &store.Shop{}, &store.Product{})
	if !errors.Is(err, ErrNoOp) {
		t.Errorf("expected ErrNoOp, got %v", err)
	}
}

func TestAutoCardFulfillRejectsDirectOrder(t *testing.T) {
	e := New(nil, nil, nil, nil, nil)
	order := &store.Order{OrderNo: "ORD1", OrderStatus: store.OrderStatusPending, OrderType: store.OrderTypeDirect}
	err := e.AutoCardFulfill(context.Background(), order, &store.Shop{}, &store.Product{})
	if err == nil {
		t.Error("expected an error for a direct order")
	}
}

func TestAutoCardFulfillRejectsWrongDeliverType(t *testing.T) {
	e := New(nil, nil, nil, nil, nil)
	order := &store.Order{OrderNo: "ORD1", OrderStatus: store.OrderStatusPending, OrderType: store.OrderTypeCard}
	product := &store.Product{SKUID: "SKU1", DeliverType: store.DeliverTypeManual}
	err := e.AutoCardFulfill(context.Background(), order, &store.Shop{}, product)
	if err == nil {
		t.Error("expected an error for a product not configured for auto card fulfillment")
	}
}

func TestManualDirectSuccessRejectsCardOrder(t *testing.T) {
	e := New(nil, nil, nil, nil, nil)
	order := &store.Order{OrderNo: "ORD1", OrderType: store.OrderTypeCard, OrderStatus: store.OrderStatusPending}
	err := e.ManualDirectSuccess(context.Background(), order, &store.Shop{}, "admin")
	if err == nil {
		t.Error("expected an error for a card order")
	}
}

func TestManualDirectSuccessRejectsTerminalStatus(t *testing.T) {
	e := New(nil, nil, nil, nil, nil)
	order := &store.Order{OrderNo: "ORD1", OrderType: store.OrderTypeDirect, OrderStatus: store.OrderStatusDone}
	err := e.ManualDirectSuccess(context.Background(), order, &store.Shop{}, "admin")
	if err == nil {
		t.Error("expected an error for an order that is not pending/processing")
	}
}

func TestManualCardDeliverRejectsDirectOrder(t *testing.T) {
	e := New(nil, nil, nil, nil, nil)
	order := &store.Order{OrderNo: "ORD1", OrderType: store.OrderTypeDirect}
	err := e.ManualCardDeliver(context.Background(), order, &store.Shop{}, []store.Card{{CardNo: "1"}}, "admin")
	if err == nil {
		t.Error("expected an error for a direct order")
	}
}

func TestManualCardDeliverRejectsQuantityMismatch(t *testing.T) {
	e := New(nil, nil, nil, nil, nil)
	order := &store.Order{OrderNo: "ORD1", OrderType: store.OrderTypeCard, Quantity: 2}
	err := e.ManualCardDeliver(context.Background(), order, &store.Shop{}, []store.Card{{CardNo: "1"}}, "admin")
	if err == nil {
		t.Error("expected an error when fewer cards than Quantity are supplied")
	}
}

func TestManualRefundRejectsAlreadyRefunded(t *testing.T) {
	e := New(nil, nil, nil, nil, nil)
	order := &store.Order{OrderNo: "ORD1", OrderStatus: store.OrderStatusRefunded}
	err := e.ManualRefund(context.Background(), order, &store.Shop{}, "admin")
	if err == nil {
		t.Error("expected an error refunding an already-refunded order")
	}
}

func TestManualRefundRejectsCancelled(t *testing.T) {
	e := New(nil, nil, nil, nil, nil)
	order := &store.Order{OrderNo: "ORD1", OrderStatus: store.OrderStatusCancelled}
	err := e.ManualRefund(context.Background(), order, &store.Shop{}, "admin")
	if err == nil {
		t.Error("expected an error refunding a cancelled order")
	}
}
