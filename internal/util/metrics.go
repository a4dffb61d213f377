package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_attempts_total",
		Help: "Total number of checkout sagas started",
	})

	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	CheckoutFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_failed_total",
		Help: "Total number of failed checkouts",
	}, []string{"step", "reason"})

	CheckoutAdvisoryFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_advisory_failures_total",
		Help: "Post-commit checkout steps that failed without rolling back the order",
	}, []string{"step"})

	StockCompensationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_compensations_total",
		Help: "Total number of stock reservations rolled back",
	})

	StockReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stock_reserve_latency_seconds",
		Help:    "Latency of stock reservation operations",
		Buckets: prometheus.DefBuckets,
	})

	OrderStatusChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_changes_total",
		Help: "Total number of order status transitions",
	}, []string{"status"})

	BusPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_events_published_total",
		Help: "Total number of events published on the in-process bus",
	}, []string{"topic"})

	BusHandlerFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_handler_failures_total",
		Help: "Total number of bus handler errors and panics",
	}, []string{"topic"})

	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_watch_dropped_total",
		Help: "Notifications dropped because a watcher buffer was full",
	}, []string{"topic"})

	ChatMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total number of chat messages appended",
	}, []string{"sender"})

	ChatSessionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_sessions_opened_total",
		Help: "Total number of chat sessions created",
	})

	ChatSessionsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_sessions_closed_total",
		Help: "Total number of chat sessions closed",
	})

	TextGenFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "textgen_fallbacks_total",
		Help: "Text generation calls that degraded to the fallback text",
	})

	MarketingJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketing_jobs_total",
		Help: "Marketing automation jobs by outcome",
	}, []string{"kind", "outcome"})

	RelayPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_total",
		Help: "Bus events mirrored to Kafka by outcome",
	}, []string{"outcome"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
