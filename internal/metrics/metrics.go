package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type CoreMetrics struct {
	CheckoutOutcomes *prometheus.CounterVec   // accepted | insufficient_stock | validation | gateway_unavailable
	WebhookOutcomes  *prometheus.CounterVec   // by event kind x applied | duplicate | unknown | rejected
	SweptOrders      prometheus.Counter
	GatewayLatencyMS *prometheus.HistogramVec // createPaymentIntent latency
}

func NewCoreMetrics(service string) *CoreMetrics {
	checkout := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "merch",
		Subsystem: service,
		Name:      "checkout_total",
		Help:      "Checkout attempts by outcome.",
	}, []string{"outcome"})
	webhook := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "merch",
		Subsystem: service,
		Name:      "payment_events_total",
		Help:      "Payment events by kind and outcome.",
	}, []string{"kind", "outcome"})
	swept := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "merch",
		Subsystem: service,
		Name:      "swept_orders_total",
		Help:      "Expired unpaid orders released by the sweeper.",
	})
	gateway := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "merch",
		Subsystem: service,
		Name:      "gateway_request_duration_ms",
		Help:      "Payment gateway request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"op"})

	prometheus.MustRegister(checkout, webhook, swept, gateway)
	return &CoreMetrics{
		CheckoutOutcomes: checkout,
		WebhookOutcomes:  webhook,
		SweptOrders:      swept,
		GatewayLatencyMS: gateway,
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
