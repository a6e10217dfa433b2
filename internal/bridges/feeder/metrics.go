package feeder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the bridge's Prometheus instruments. Register them on
// the daemon's registry and serve them from the API's /metrics
// endpoint.
type Metrics struct {
	framesRx       *prometheus.CounterVec
	commandsTotal  *prometheus.CounterVec
	commandLatency prometheus.Histogram
	linkUp         prometheus.Gauge
	feedEvents     *prometheus.CounterVec
	feedsResolved  *prometheus.CounterVec
	dispensedGrams prometheus.Counter
	alerts         *prometheus.CounterVec
	hopperWeightKg prometheus.Gauge
	batteryPct     prometheus.Gauge
	feedTempC      prometheus.Gauge
	persistSkipped prometheus.Counter
	breakerOpen    prometheus.Gauge
}

// NewMetrics creates and registers the bridge metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		framesRx: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feeder",
			Subsystem: "bridge",
			Name:      "frames_received_total",
			Help:      "Frames received from the device, by kind.",
		}, []string{"kind"}),
		commandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feeder",
			Subsystem: "bridge",
			Name:      "commands_total",
			Help:      "Commands handled by the bridge, by outcome.",
		}, []string{"outcome"}),
		commandLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "feeder",
			Subsystem: "bridge",
			Name:      "command_latency_seconds",
			Help:      "Round trip from relaying a command to its ACK or NAK.",
			Buckets:   prometheus.DefBuckets,
		}),
		linkUp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "feeder",
			Subsystem: "bridge",
			Name:      "link_up",
			Help:      "Whether the device link is connected.",
		}),
		feedEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feeder",
			Subsystem: "bridge",
			Name:      "feed_events_total",
			Help:      "Feed lifecycle events seen by the bridge, by type.",
		}, []string{"type"}),
		feedsResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feeder",
			Subsystem: "bridge",
			Name:      "feeds_resolved_total",
			Help:      "Finished feed cycles, by final status.",
		}, []string{"status"}),
		dispensedGrams: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "feeder",
			Subsystem: "bridge",
			Name:      "feed_dispensed_grams_total",
			Help:      "Total grams dispensed across completed feed cycles.",
		}),
		alerts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feeder",
			Subsystem: "bridge",
			Name:      "device_alerts_total",
			Help:      "Alerts raised by the device, by type.",
		}, []string{"type"}),
		hopperWeightKg: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "feeder",
			Name:      "hopper_weight_kg",
			Help:      "Last reported feed hopper weight.",
		}),
		batteryPct: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "feeder",
			Name:      "battery_percent",
			Help:      "Last reported battery state of charge.",
		}),
		feedTempC: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "feeder",
			Name:      "feed_temperature_celsius",
			Help:      "Last reported feed compartment temperature.",
		}),
		persistSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "feeder",
			Subsystem: "bridge",
			Name:      "persist_skipped_total",
			Help:      "Readings-store writes skipped by the circuit breaker.",
		}),
		breakerOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "feeder",
			Subsystem: "bridge",
			Name:      "influx_breaker_open",
			Help:      "Readings-store breaker state: 0 closed, 0.5 half-open, 1 open.",
		}),
	}
}
