// Package metrics exposes the Prometheus collectors recorded by the inbound
// handlers, fulfillment engine and notifier. CallbackAttempts,
// InventoryRequests and HTTPClientDuration are registered but nothing
// records to them; the callback and inventory clients record no metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	InboundRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_inbound_requests_total",
		Help: "Inbound protocol requests by channel, endpoint and outcome.",
	}, []string{"channel", "endpoint", "outcome"})

	ShopFallbackUsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_shop_fallback_used_total",
		Help: "Times the insecure any-enabled-shop fallback resolved an inbound push.",
	}, []string{"channel"})

	FulfillmentActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_fulfillment_actions_total",
		Help: "Fulfillment engine actions by action name and outcome.",
	}, []string{"action", "outcome"})

	CallbackAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_callback_attempts_total",
		Help: "Outbound platform callback attempts by channel and outcome.",
	}, []string{"channel", "outcome"})

	InventoryRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_inventory_requests_total",
		Help: "Inventory service RPCs by dialect, operation and outcome.",
	}, []string{"dialect", "operation", "outcome"})

	NotifierDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_notifier_deliveries_total",
		Help: "Notifier webhook delivery attempts by channel and outcome.",
	}, []string{"channel", "outcome"})

	HTTPClientDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bridge_outbound_http_duration_seconds",
		Help:    "Latency of outbound HTTP calls by target.",
		Buckets: prometheus.DefBuckets,
	}, []string{"target"})
)
