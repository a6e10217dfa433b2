package feeder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	device "github.com/pondlogic/feeder-core/internal/feeder"
	"github.com/pondlogic/feeder-core/internal/infrastructure/influxdb"
)

// Persister defaults.
const (
	defaultBreakerMaxFailures = 5
	defaultBreakerOpenTimeout = 30 * time.Second
)

// sensorFieldNames are the canonical field names written to the
// readings store, one per sensor. The history API validates requested
// fields against this list.
var sensorFieldNames = []string{
	"feed_temp_c",
	"feed_humidity_pct",
	"control_temp_c",
	"control_humidity_pct",
	"weight_kg",
	"soil_moisture_pct",
	"load_voltage_v",
	"load_current_a",
	"solar_voltage_v",
	"solar_current_a",
	"battery_pct",
	"charging",
}

// SensorFields returns the field names available for sensor history
// queries.
func SensorFields() []string {
	out := make([]string, len(sensorFieldNames))
	copy(out, sensorFieldNames)
	return out
}

// IsSensorField reports whether name is a queryable sensor field.
func IsSensorField(name string) bool {
	for _, f := range sensorFieldNames {
		if f == name {
			return true
		}
	}
	return false
}

// InfluxStore is the slice of the InfluxDB client the persister uses.
// Satisfied by *influxdb.Client; faked in tests.
type InfluxStore interface {
	WriteSensorSnapshot(deviceID string, fields map[string]interface{}, at time.Time)
	WriteActuatorState(deviceID, target string, on bool, pwm int, direction string)
	WriteFeedEvent(deviceID, sessionID, event string, grams float64)
	QuerySensorHistory(ctx context.Context, deviceID, field string, since, window time.Duration) ([]influxdb.SeriesPoint, error)
	QueryFeedTotals(ctx context.Context, deviceID string, since time.Duration) ([]influxdb.SeriesPoint, error)
	IsConnected() bool
}

var _ InfluxStore = (*influxdb.Client)(nil)

// PersisterConfig holds circuit breaker settings for the persister.
type PersisterConfig struct {
	// DeviceID tags every written point.
	DeviceID string

	// MaxFailures is how many consecutive failures open the breaker.
	// Default: 5.
	MaxFailures int

	// OpenTimeout is how long the breaker stays open before probing
	// again. Default: 30 seconds.
	OpenTimeout time.Duration
}

// Persister writes bridge traffic to InfluxDB behind a circuit breaker.
//
// InfluxDB writes are batched and asynchronous: failures surface on the
// client's error callback, not on the write call. The persister records
// the last asynchronous failure and charges it to the next write, so a
// dead store opens the breaker after MaxFailures cycles. While the
// breaker is open, writes are skipped and counted; readings still reach
// MQTT clients. History queries are synchronous and share the breaker.
//
// A nil *Persister is valid and discards everything, so callers do not
// need to care whether InfluxDB is configured.
type Persister struct {
	store    InfluxStore
	deviceID string
	breaker  *gobreaker.CircuitBreaker
	metrics  *Metrics

	errMu        sync.Mutex
	lastWriteErr error

	skipped atomic.Uint64

	loggerMu sync.RWMutex
	logger   Logger
}

// NewPersister creates a persister for the given store.
func NewPersister(store InfluxStore, cfg PersisterConfig) *Persister {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = defaultBreakerMaxFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaultBreakerOpenTimeout
	}

	p := &Persister{
		store:    store,
		deviceID: cfg.DeviceID,
		logger:   noopLinkLogger{},
	}

	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "influxdb",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.MaxFailures)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			p.logWarn("readings store circuit state changed",
				"from", from.String(), "to", to.String())
			p.updateBreakerMetric(to)
		},
	})

	return p
}

// SetLogger sets the logger for this persister.
func (p *Persister) SetLogger(logger Logger) {
	if p == nil {
		return
	}
	p.loggerMu.Lock()
	p.logger = logger
	p.loggerMu.Unlock()
}

// SetMetrics attaches bridge metrics for skip and breaker-state counts.
func (p *Persister) SetMetrics(m *Metrics) {
	if p == nil {
		return
	}
	p.metrics = m
}

// Enabled reports whether a readings store is configured.
func (p *Persister) Enabled() bool {
	return p != nil && p.store != nil
}

// NoteWriteError records an asynchronous write failure from the store.
// Wire this to the InfluxDB client's error callback.
func (p *Persister) NoteWriteError(err error) {
	if p == nil || err == nil {
		return
	}
	p.errMu.Lock()
	p.lastWriteErr = err
	p.errMu.Unlock()
	p.logDebug("readings store write error", "error", err)
}

// takeWriteError consumes the last recorded asynchronous failure.
func (p *Persister) takeWriteError() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	err := p.lastWriteErr
	p.lastWriteErr = nil
	return err
}

// execute runs one write through the breaker. The operation fails if a
// prior asynchronous write failed or the store reports disconnected.
func (p *Persister) execute(op func()) {
	if !p.Enabled() {
		return
	}

	_, err := p.breaker.Execute(func() (any, error) {
		if err := p.takeWriteError(); err != nil {
			return nil, err
		}
		if !p.store.IsConnected() {
			return nil, ErrPersistUnavailable
		}
		op()
		return nil, nil
	})
	if err == nil {
		return
	}

	p.skipped.Add(1)
	if m := p.metrics; m != nil {
		m.persistSkipped.Inc()
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		p.logDebug("readings store circuit open, write skipped")
		return
	}
	p.logWarn("readings store write skipped", "error", err)
}

// RecordSensors writes one sensor sweep. Nil fields are omitted.
func (p *Persister) RecordSensors(reading *device.SensorReading) {
	if p == nil || reading == nil {
		return
	}
	fields := sensorPointFields(reading)
	if len(fields) == 0 {
		return
	}
	at := reading.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	p.execute(func() {
		p.store.WriteSensorSnapshot(p.deviceID, fields, at)
	})
}

// RecordActuator writes one output state change.
func (p *Persister) RecordActuator(state device.ActuatorState) {
	if p == nil {
		return
	}
	p.execute(func() {
		p.store.WriteActuatorState(p.deviceID, string(state.Target),
			state.On, state.PWM, string(state.Direction))
	})
}

// RecordFeedEvent writes one feed lifecycle event.
func (p *Persister) RecordFeedEvent(sessionID, event string, grams float64) {
	if p == nil {
		return
	}
	p.execute(func() {
		p.store.WriteFeedEvent(p.deviceID, sessionID, event, grams)
	})
}

// SensorHistory returns downsampled history for one sensor field.
func (p *Persister) SensorHistory(ctx context.Context, field string, since, window time.Duration) ([]influxdb.SeriesPoint, error) {
	if !p.Enabled() {
		return nil, ErrHistoryUnavailable
	}

	result, err := p.breaker.Execute(func() (any, error) {
		return p.store.QuerySensorHistory(ctx, p.deviceID, field, since, window)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open", ErrHistoryUnavailable)
		}
		return nil, fmt.Errorf("querying sensor history: %w", err)
	}
	points, _ := result.([]influxdb.SeriesPoint)
	return points, nil
}

// FeedTotals returns daily dispensed totals.
func (p *Persister) FeedTotals(ctx context.Context, since time.Duration) ([]influxdb.SeriesPoint, error) {
	if !p.Enabled() {
		return nil, ErrHistoryUnavailable
	}

	result, err := p.breaker.Execute(func() (any, error) {
		return p.store.QueryFeedTotals(ctx, p.deviceID, since)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open", ErrHistoryUnavailable)
		}
		return nil, fmt.Errorf("querying feed totals: %w", err)
	}
	points, _ := result.([]influxdb.SeriesPoint)
	return points, nil
}

// BreakerState returns the breaker state name: closed, half-open or
// open. Returns "disabled" when no store is configured.
func (p *Persister) BreakerState() string {
	if !p.Enabled() {
		return "disabled"
	}
	return p.breaker.State().String()
}

// Skipped returns how many writes were dropped by the breaker.
func (p *Persister) Skipped() uint64 {
	if p == nil {
		return 0
	}
	return p.skipped.Load()
}

func (p *Persister) updateBreakerMetric(state gobreaker.State) {
	m := p.metrics
	if m == nil {
		return
	}
	switch state {
	case gobreaker.StateClosed:
		m.breakerOpen.Set(0)
	case gobreaker.StateHalfOpen:
		m.breakerOpen.Set(0.5)
	case gobreaker.StateOpen:
		m.breakerOpen.Set(1)
	}
}

// sensorPointFields flattens a reading into store fields, skipping
// sensors the device could not read.
func sensorPointFields(r *device.SensorReading) map[string]interface{} {
	fields := make(map[string]interface{}, 12)
	put := func(name string, v *float64) {
		if v != nil {
			fields[name] = *v
		}
	}
	put("feed_temp_c", r.FeedTempC)
	put("feed_humidity_pct", r.FeedHumidityPct)
	put("control_temp_c", r.ControlTempC)
	put("control_humidity_pct", r.ControlHumidityPct)
	put("weight_kg", r.WeightKg)
	put("soil_moisture_pct", r.SoilMoisturePct)
	put("load_voltage_v", r.LoadVoltageV)
	put("load_current_a", r.LoadCurrentA)
	put("solar_voltage_v", r.SolarVoltageV)
	put("solar_current_a", r.SolarCurrentA)
	put("battery_pct", r.BatteryPct)
	if r.Charging != nil {
		fields["charging"] = *r.Charging
	}
	return fields
}

func (p *Persister) getLogger() Logger {
	p.loggerMu.RLock()
	defer p.loggerMu.RUnlock()
	return p.logger
}

func (p *Persister) logDebug(msg string, keysAndValues ...any) {
	p.getLogger().Debug(msg, keysAndValues...)
}

func (p *Persister) logWarn(msg string, keysAndValues ...any) {
	p.getLogger().Warn(msg, keysAndValues...)
}
