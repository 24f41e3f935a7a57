package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seatbook_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "seatbook_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	SeatConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seatbook_seat_conflicts_total",
			Help: "Seat claims rejected because a seat was already taken",
		},
	)

	OrderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seatbook_order_transitions_total",
			Help: "Order state transitions by target status",
		},
		[]string{"status"},
	)

	ExpiredOrders = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seatbook_expired_orders_total",
			Help: "Orders expired by the sweeper",
		},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "seatbook_sweep_seconds",
			Help:    "Duration of expiry sweeps",
			Buckets: prometheus.DefBuckets,
		},
	)

	ConfigErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seatbook_rate_config_errors_total",
			Help: "Requests rejected because of a misconfigured rate table",
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "seatbook_outbox_lag_seconds",
			Help: "Lag of outbox publishing",
		},
	)

	OutboxDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seatbook_outbox_dropped_total",
			Help: "Unpublished outbox records dropped by the in-memory store",
		},
	)

	RabbitPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seatbook_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seatbook_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
