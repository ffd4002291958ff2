package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	adminRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "daqctl",
			Subsystem: "admin",
			Name:      "requests_total",
			Help:      "Admin API requests by route and status.",
		},
		[]string{"daemon", "route", "status"},
	)
	adminDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "daqctl",
			Subsystem: "admin",
			Name:      "request_duration_seconds",
			Help:      "Admin API request duration in seconds.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"daemon", "route"},
	)
	controlRoundTrips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "daqctl",
			Subsystem: "control",
			Name:      "roundtrips_total",
			Help:      "Data node request/response round-trips by result.",
		},
		[]string{"result"},
	)
	controlRoundTripDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "daqctl",
			Subsystem: "control",
			Name:      "roundtrip_duration_seconds",
			Help:      "Data node round-trip duration in seconds.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"result"},
	)
	controlCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "daqctl",
			Subsystem: "control",
			Name:      "commands_total",
			Help:      "Client commands by outcome.",
		},
		[]string{"outcome"},
	)
	controlWakes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "daqctl",
			Subsystem: "control",
			Name:      "wakes_total",
			Help:      "Worker wake reasons handled.",
		},
		[]string{"reason"},
	)
	samplePackets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "daqctl",
			Subsystem: "sample",
			Name:      "packets_total",
			Help:      "Sample packets received by kind.",
		},
		[]string{"kind"},
	)
	sampleDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "daqctl",
			Subsystem: "sample",
			Name:      "dropped_total",
			Help:      "Full-sample packets missing from the index sequence.",
		},
	)
	storageWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "daqctl",
			Subsystem: "storage",
			Name:      "writes_total",
			Help:      "Channel storage batch writes by result.",
		},
		[]string{"result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			adminRequests,
			adminDuration,
			controlRoundTrips,
			controlRoundTripDuration,
			controlCommands,
			controlWakes,
			samplePackets,
			sampleDropped,
			storageWrites,
		)
	})
}

// RecordAdminRequest counts one admin API request. route is the matched
// route template, never the raw path.
func RecordAdminRequest(daemon, route string, status int, duration time.Duration) {
	RegisterMetrics()
	adminRequests.WithLabelValues(daemon, route, strconv.Itoa(status)).Inc()
	adminDuration.WithLabelValues(daemon, route).Observe(duration.Seconds())
}

func RecordRoundTrip(result string, duration time.Duration) {
	RegisterMetrics()
	controlRoundTrips.WithLabelValues(result).Inc()
	controlRoundTripDuration.WithLabelValues(result).Observe(duration.Seconds())
}

func RecordClientCommand(outcome string) {
	RegisterMetrics()
	controlCommands.WithLabelValues(outcome).Inc()
}

func RecordWake(reason string) {
	RegisterMetrics()
	controlWakes.WithLabelValues(reason).Inc()
}

func RecordSamplePackets(kind string, n int) {
	RegisterMetrics()
	samplePackets.WithLabelValues(kind).Add(float64(n))
}

func RecordDroppedSamples(n uint64) {
	RegisterMetrics()
	sampleDropped.Add(float64(n))
}

func RecordStorageWrite(ok bool) {
	RegisterMetrics()
	result := "ok"
	if !ok {
		result = "error"
	}
	storageWrites.WithLabelValues(result).Inc()
}
