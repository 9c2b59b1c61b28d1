package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mali_ride"

var (
	BookingsTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "bookings_total", Help: "Total number of confirmed bookings"})
	BookingConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "booking_conflicts_total", Help: "Bookings rejected because the driver was taken concurrently"})

	CancellationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "cancellations_total", Help: "Trip cancellations by initiating party"},
		[]string{"actor"},
	)
	CompletionsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "completions_total", Help: "Trips marked completed"})

	FareXOF = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fare_xof",
		Help:      "Distribution of booked fares in XOF",
		Buckets:   prometheus.ExponentialBuckets(1000, 2, 10),
	})
	MatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "match_latency_seconds", Help: "Driver ranking latency seconds"})

	DriversByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: namespace, Name: "drivers", Help: "Registered drivers by status"},
		[]string{"status"},
	)

	RoutingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "routing_requests_total", Help: "Distance lookups by provider and outcome"},
		[]string{"provider", "outcome"},
	)
	RoutingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: namespace, Name: "routing_latency_seconds", Help: "Routing provider call latency", Buckets: prometheus.DefBuckets},
		[]string{"provider"},
	)

	LocationUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "location_updates_total", Help: "Driver location updates applied, by source"},
		[]string{"source"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Routing outcomes recorded on RoutingRequests.
const (
	OutcomeOK       = "ok"
	OutcomeCached   = "cached"
	OutcomeFallback = "fallback"
	OutcomeDisabled = "disabled"
)
