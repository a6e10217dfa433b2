package feeder

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	device "github.com/pondlogic/feeder-core/internal/feeder"
	"github.com/pondlogic/feeder-core/internal/infrastructure/mqtt"
)

// defaultHealthInterval is how often bridge health is published when no
// interval is configured.
const defaultHealthInterval = 30 * time.Second

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is running with an impaired
	// dependency (device link down, readings store unreachable).
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is the retained bridge health report. The daemon-level
// LWT on the system status topic covers crash detection; this message
// carries the operational detail.
type HealthMessage struct {
	DeviceID      string       `json:"device_id"`
	Version       string       `json:"version"`
	Status        HealthStatus `json:"status"`
	Reason        string       `json:"reason,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Link          LinkHealth   `json:"link"`
	MQTTConnected bool         `json:"mqtt_connected"`
	InfluxBreaker string       `json:"influx_breaker,omitempty"`
	FeedActive    bool         `json:"feed_active"`
	Timestamp     time.Time    `json:"timestamp"`
}

// LinkHealth summarises the device link inside a health report.
type LinkHealth struct {
	Connected     bool       `json:"connected"`
	Address       string     `json:"address"`
	FramesRx      uint64     `json:"frames_rx"`
	LinesTx       uint64     `json:"lines_tx"`
	FramesDropped uint64     `json:"frames_dropped"`
	ParseErrors   uint64     `json:"parse_errors"`
	Reconnects    uint64     `json:"reconnects"`
	LastFrameAt   *time.Time `json:"last_frame_at,omitempty"`
}

// HealthPublisher is the interface for publishing health messages.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// DeviceID identifies the feeder in health messages.
	DeviceID string

	// Version is the daemon version string.
	Version string

	// Interval is how often to publish health. Default: 30 seconds.
	Interval time.Duration

	// Publisher is the MQTT client for publishing.
	Publisher HealthPublisher

	// Link provides device link state and statistics.
	Link DeviceLink

	// Registry provides the feed-active flag. Optional.
	Registry *device.Registry

	// Persister provides the readings-store breaker state. Optional.
	Persister *Persister
}

// HealthReporter publishes retained bridge health at regular intervals.
type HealthReporter struct {
	deviceID  string
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	link      DeviceLink
	registry  *device.Registry
	persister *Persister
	topics    mqtt.Topics

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	loggerMu sync.RWMutex
	logger   Logger
}

// NewHealthReporter creates a health reporter. Call Start to begin
// reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultHealthInterval
	}

	return &HealthReporter{
		deviceID:  cfg.DeviceID,
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		link:      cfg.Link,
		registry:  cfg.Registry,
		persister: cfg.Persister,
		done:      make(chan struct{}),
		logger:    noopLinkLogger{},
	}
}

// Start begins periodic health reporting.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop stops reporting and publishes a final stopping status. Safe to
// call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // best-effort during shutdown
		h.publishStatus(HealthStopping, "")
	})
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status during bridge startup.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health immediately. Useful after a
// significant event such as a link state change.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// reportLoop runs the periodic health reporting.
func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("publishing initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("publishing health", err)
			}
		}
	}
}

// determineStatus evaluates the current bridge status.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.link == nil || !h.link.IsConnected() {
		return HealthDegraded, "device link down"
	}
	if h.persister.Enabled() && h.persister.BreakerState() == "open" {
		return HealthDegraded, "readings store unreachable"
	}
	return HealthHealthy, ""
}

// publishStatus publishes one retained health message.
func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}

	msg := HealthMessage{
		DeviceID:      h.deviceID,
		Version:       h.version,
		Status:        status,
		Reason:        reason,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		MQTTConnected: h.publisher.IsConnected(),
		Timestamp:     time.Now().UTC(),
	}

	if h.link != nil {
		stats := h.link.Stats()
		msg.Link = LinkHealth{
			Connected:     stats.Connected,
			Address:       h.link.Addr(),
			FramesRx:      stats.FramesRx,
			LinesTx:       stats.LinesTx,
			FramesDropped: stats.FramesDropped,
			ParseErrors:   stats.ParseErrors,
			Reconnects:    stats.Reconnects,
		}
		if !stats.LastFrameAt.IsZero() {
			at := stats.LastFrameAt.UTC()
			msg.Link.LastFrameAt = &at
		}
	}

	if h.persister.Enabled() {
		msg.InfluxBreaker = h.persister.BreakerState()
	}
	if h.registry != nil {
		msg.FeedActive = h.registry.Snapshot().FeedActive
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return h.publisher.Publish(h.topics.BridgeHealth(), payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()
	logger.Error(msg, "error", err)
}
