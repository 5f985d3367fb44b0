// Package engine implements C4: the pure state transformer that decides
// how an order is fulfilled and drives C5/C6 to carry it out.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/certen/jd-fulfillment-bridge/internal/callback"
	"github.com/certen/jd-fulfillment-bridge/internal/inventory"
	"github.com/certen/jd-fulfillment-bridge/internal/metrics"
	"github.com/certen/jd-fulfillment-bridge/internal/store"
)

// Notifier is the subset of *notifier.Notifier the engine depends on,
// declared locally so the engine needs only the Notify method and not the
// concrete notifier type.
type Notifier interface {
	Notify(order *store.Order, shop *store.Shop)
}

// Engine wires the repositories, callback client, inventory client and
// notifier together into the action table from the fulfillment spec.
type Engine struct {
	repos     *store.Repositories
	callbacks *callback.Client
	inventory *inventory.Client
	notifier  Notifier
	logger    *log.Logger
}

func New(repos *store.Repositories, callbacks *callback.Client, inv *inventory.Client, notifier Notifier, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[Engine] ", log.LstdFlags)
	}
	return &Engine{repos: repos, callbacks: callbacks, inventory: inv, notifier: notifier, logger: logger}
}

// ErrNoOp signals that the requested action had no effect (e.g. duplicate
// auto_card_fulfill on an already-DONE order); callers should treat this as
// success, not failure.
var ErrNoOp = errors.New("engine: action is a no-op in the order's current state")

// AutoCardFulfill runs the automatic card-delivery path: fetch cards from
// inventory, persist them, send the card-deliver callback, mark DONE.
func (e *Engine) AutoCardFulfill(ctx context.Context, order *store.Order, shop *store.Shop, product *store.Product) error {
	if order.OrderStatus == store.OrderStatusDone {
		return ErrNoOp
	}
	if order.OrderType != store.OrderTypeCard {
		return fmt.Errorf("engine: auto_card_fulfill requires a card order, got order %s", order.OrderNo)
	}
	if product.DeliverType != store.DeliverTypeAutoCard {
		return fmt.Errorf("engine: product %s is not configured for auto card fulfillment", product.SKUID)
	}

	cards, err := e.inventory.FetchCards(ctx, shop, product.Card91CardTypeID, order.Quantity, order.OrderNo)
	if err != nil {
		e.logEvent(ctx, order.ID, "card91_fetch", "inventory fetch failed: "+err.Error(), store.EventResultFailed)
		metrics.FulfillmentActions.WithLabelValues("auto_card_fulfill", "fetch_failed").Inc()
		if errors.Is(err, inventory.ErrShortfall) {
			// Quantity mismatch: do not store partial cards, do not callback,
			// leave the order status unchanged for a retry or manual intervention.
			return nil
		}
		return err
	}

	return e.deliverCards(ctx, order, shop, cards, "auto_card_fulfill")
}

// ManualDirectSuccess marks a direct top-up order fulfilled and sends the
// direct-success callback.
func (e *Engine) ManualDirectSuccess(ctx context.Context, order *store.Order, shop *store.Shop, operator string) error {
	if order.OrderType != store.OrderTypeDirect {
		return fmt.Errorf("engine: manual_direct_success requires a direct order, got order %s", order.OrderNo)
	}
	if order.OrderStatus != store.OrderStatusPending && order.OrderStatus != store.OrderStatusProcessing {
		return fmt.Errorf("engine: order %s is not pending/processing", order.OrderNo)
	}

	result, err := e.sendSuccessCallback(ctx, shop, order, nil)
	if err != nil || !result.Success {
		e.recordCallbackFailure(ctx, order, "manual_direct_success", err, result)
		metrics.FulfillmentActions.WithLabelValues("manual_direct_success", "callback_failed").Inc()
		return nil
	}

	if transErr := e.repos.Orders.Transition(ctx, order.ID, store.OrderStatusDone,
		[]store.OrderStatus{store.OrderStatusPending, store.OrderStatusProcessing}); transErr != nil {
		return fmt.Errorf("engine: commit manual_direct_success: %w", transErr)
	}
	_ = e.repos.Orders.SetNotifyStatus(ctx, order.ID, store.NotifyStatusOK)
	e.logEvent(ctx, order.ID, "manual_direct_success", "operator "+operator+" confirmed direct top-up", store.EventResultSuccess)
	metrics.FulfillmentActions.WithLabelValues("manual_direct_success", "success").Inc()

	order.OrderStatus = store.OrderStatusDone
	return nil
}

// ManualCardDeliver stores operator-supplied cards and sends the card-deliver
// callback. cards must exactly match order.Quantity.
func (e *Engine) ManualCardDeliver(ctx context.Context, order *store.Order, shop *store.Shop, cards []store.Card, operator string) error {
	if order.OrderType != store.OrderTypeCard {
		return fmt.Errorf("engine: manual_card_deliver requires a card order, got order %s", order.OrderNo)
	}
	if len(cards) != order.Quantity {
		return fmt.Errorf("engine: manual_card_deliver requires exactly %d cards, got %d", order.Quantity, len(cards))
	}
	return e.deliverCards(ctx, order, shop, cards, "manual_card_deliver")
}

// deliverCards is the shared tail of auto_card_fulfill/manual_card_deliver:
// persist cards before the callback, then commit DONE only on callback
// success.
func (e *Engine) deliverCards(ctx context.Context, order *store.Order, shop *store.Shop, cards []store.Card, action string) error {
	if err := e.repos.Orders.SetCardInfo(ctx, order.ID, cards); err != nil {
		return fmt.Errorf("engine: persist card info: %w", err)
	}
	order.CardInfo = cards

	result, err := e.sendSuccessCallback(ctx, shop, order, cards)
	if err != nil || !result.Success {
		e.recordCallbackFailure(ctx, order, action, err, result)
		metrics.FulfillmentActions.WithLabelValues(action, "callback_failed").Inc()
		return nil
	}

	if transErr := e.repos.Orders.Transition(ctx, order.ID, store.OrderStatusDone,
		[]store.OrderStatus{store.OrderStatusPending, store.OrderStatusProcessing}); transErr != nil {
		return fmt.Errorf("engine: commit %s: %w", action, transErr)
	}
	_ = e.repos.Orders.SetNotifyStatus(ctx, order.ID, store.NotifyStatusOK)
	e.logEvent(ctx, order.ID, action, fmt.Sprintf("delivered %d card(s)", len(cards)), store.EventResultSuccess)
	metrics.FulfillmentActions.WithLabelValues(action, "success").Inc()

	order.OrderStatus = store.OrderStatusDone
	return nil
}

// ManualRefund issues the refund callback and transitions the order to
// REFUNDED.
func (e *Engine) ManualRefund(ctx context.Context, order *store.Order, shop *store.Shop, operator string) error {
	if order.OrderStatus == store.OrderStatusRefunded || order.OrderStatus == store.OrderStatusCancelled {
		return fmt.Errorf("engine: order %s cannot be refunded from status %d", order.OrderNo, order.OrderStatus)
	}

	var result *callback.Result
	var err error
	if order.ShopType == store.ShopTypeGame {
		result, err = e.callbacks.GameRefund(ctx, shop, order)
	} else {
		result, err = e.callbacks.GeneralRefund(ctx, shop, order)
	}
	if err != nil || !result.Success {
		e.recordCallbackFailure(ctx, order, "manual_refund", err, result)
		metrics.FulfillmentActions.WithLabelValues("manual_refund", "callback_failed").Inc()
		return nil
	}

	allowed := []store.OrderStatus{
		store.OrderStatusPending, store.OrderStatusProcessing, store.OrderStatusDone, store.OrderStatusError,
	}
	if transErr := e.repos.Orders.Transition(ctx, order.ID, store.OrderStatusRefunded, allowed); transErr != nil {
		return fmt.Errorf("engine: commit manual_refund: %w", transErr)
	}
	_ = e.repos.Orders.SetNotifyStatus(ctx, order.ID, store.NotifyStatusOK)
	e.logEvent(ctx, order.ID, "manual_refund", "operator "+operator+" issued refund", store.EventResultSuccess)
	metrics.FulfillmentActions.WithLabelValues("manual_refund", "success").Inc()
	return nil
}

// DebugSet force-sets an order's status with no callback, for admin/debug
// use only.
func (e *Engine) DebugSet(ctx context.Context, order *store.Order, newStatus store.OrderStatus, operator string) error {
	allowed := []store.OrderStatus{
		store.OrderStatusPending, store.OrderStatusProcessing, store.OrderStatusDone,
		store.OrderStatusCancelled, store.OrderStatusRefunded, store.OrderStatusError,
	}
	if err := e.repos.Orders.Transition(ctx, order.ID, newStatus, allowed); err != nil {
		return fmt.Errorf("engine: debug_set: %w", err)
	}
	e.logEvent(ctx, order.ID, "debug_set", fmt.Sprintf("operator %s force-set status to %d", operator, newStatus), store.EventResultInfo)
	metrics.FulfillmentActions.WithLabelValues("debug_set", "success").Inc()
	return nil
}

func (e *Engine) sendSuccessCallback(ctx context.Context, shop *store.Shop, order *store.Order, cards []store.Card) (*callback.Result, error) {
	if order.ShopType == store.ShopTypeGame {
		if order.OrderType == store.OrderTypeCard {
			return e.callbacks.GameCardDeliver(ctx, shop, order, cards)
		}
		return e.callbacks.GameDirectSuccess(ctx, shop, order)
	}
	return e.callbacks.GeneralSuccess(ctx, shop, order, cards)
}

// recordCallbackFailure covers both transport/parse errors and a
// well-formed-but-unsuccessful reply, per the callback-reply-parse-error
// edge case: notify_status=FAIL, order status unchanged, event "error".
func (e *Engine) recordCallbackFailure(ctx context.Context, order *store.Order, action string, err error, result *callback.Result) {
	_ = e.repos.Orders.SetNotifyStatus(ctx, order.ID, store.NotifyStatusFail)
	desc := action + " callback failed"
	if err != nil {
		desc += ": " + err.Error()
	} else if result != nil {
		desc += ": " + result.ReplyRaw
	}
	e.logEvent(ctx, order.ID, "error", desc, store.EventResultFailed)
}

func (e *Engine) logEvent(ctx context.Context, orderID int64, eventType, desc string, result store.EventResult) {
	if err := e.repos.OrderEvents.Append(ctx, orderID, eventType, desc, nil, "", result); err != nil {
		e.logger.Printf("order %d: failed to append event %s: %v", orderID, eventType, err)
	}
}

func (e *Engine) maybeNotify(order *store.Order, shop *store.Shop) {
	if e.notifier != nil {
		e.notifier.Notify(order, shop)
	}
}
