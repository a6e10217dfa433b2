package feeder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	device "github.com/pondlogic/feeder-core/internal/feeder"
	"github.com/pondlogic/feeder-core/internal/infrastructure/influxdb"
)

// fakeStore implements InfluxStore in memory.
type fakeStore struct {
	mu        sync.Mutex
	connected bool

	sensorWrites   []sensorWrite
	actuatorWrites []string
	feedWrites     []string

	history    []influxdb.SeriesPoint
	historyErr error
}

type sensorWrite struct {
	deviceID string
	fields   map[string]interface{}
	at       time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{connected: true}
}

func (s *fakeStore) WriteSensorSnapshot(deviceID string, fields map[string]interface{}, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sensorWrites = append(s.sensorWrites, sensorWrite{deviceID, fields, at})
}

func (s *fakeStore) WriteActuatorState(_ string, target string, _ bool, _ int, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actuatorWrites = append(s.actuatorWrites, target)
}

func (s *fakeStore) WriteFeedEvent(_ string, _ string, event string, _ float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedWrites = append(s.feedWrites, event)
}

func (s *fakeStore) QuerySensorHistory(_ context.Context, _, _ string, _, _ time.Duration) ([]influxdb.SeriesPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history, s.historyErr
}

func (s *fakeStore) QueryFeedTotals(_ context.Context, _ string, _ time.Duration) ([]influxdb.SeriesPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history, s.historyErr
}

func (s *fakeStore) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeStore) sensorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sensorWrites)
}

func testReading() *device.SensorReading {
	return &device.SensorReading{
		FeedTempC: device.Float(22.5),
		WeightKg:  device.Float(1.25),
		Charging:  device.Bool(true),
		At:        time.Date(2026, 8, 22, 7, 0, 0, 0, time.UTC),
	}
}

func TestPersisterRecordsSensors(t *testing.T) {
	store := newFakeStore()
	p := NewPersister(store, PersisterConfig{DeviceID: "feeder-test"})

	p.RecordSensors(testReading())

	if got := store.sensorCount(); got != 1 {
		t.Fatalf("sensor writes = %d, want 1", got)
	}
	w := store.sensorWrites[0]
	if w.deviceID != "feeder-test" {
		t.Errorf("device ID = %q, want feeder-test", w.deviceID)
	}
	if got := w.fields["weight_kg"]; got != 1.25 {
		t.Errorf("weight_kg = %v, want 1.25", got)
	}
	if got := w.fields["charging"]; got != true {
		t.Errorf("charging = %v, want true", got)
	}
	if _, present := w.fields["battery_pct"]; present {
		t.Error("battery_pct written despite a nil reading")
	}
	if p.Skipped() != 0 {
		t.Errorf("Skipped() = %d, want 0", p.Skipped())
	}
	if got := p.BreakerState(); got != "closed" {
		t.Errorf("BreakerState() = %q, want closed", got)
	}
}

func TestPersisterSkipsEmptyReading(t *testing.T) {
	store := newFakeStore()
	p := NewPersister(store, PersisterConfig{DeviceID: "feeder-test"})

	p.RecordSensors(&device.SensorReading{})

	if got := store.sensorCount(); got != 0 {
		t.Errorf("sensor writes = %d, want 0 for an empty reading", got)
	}
}

func TestPersisterBreakerOpensOnAsyncFailures(t *testing.T) {
	store := newFakeStore()
	p := NewPersister(store, PersisterConfig{
		DeviceID:    "feeder-test",
		MaxFailures: 2,
		OpenTimeout: time.Minute,
	})

	// Each async failure is charged to the next write.
	p.NoteWriteError(errors.New("influx unreachable"))
	p.RecordSensors(testReading())
	if got := p.BreakerState(); got != "closed" {
		t.Fatalf("BreakerState() after 1 failure = %q, want closed", got)
	}

	p.NoteWriteError(errors.New("influx unreachable"))
	p.RecordSensors(testReading())
	if got := p.BreakerState(); got != "open" {
		t.Fatalf("BreakerState() after 2 failures = %q, want open", got)
	}

	// Open circuit: writes are dropped without touching the store.
	p.RecordSensors(testReading())
	if got := store.sensorCount(); got != 0 {
		t.Errorf("sensor writes = %d, want 0 while failing", got)
	}
	if got := p.Skipped(); got != 3 {
		t.Errorf("Skipped() = %d, want 3", got)
	}

	if _, err := p.SensorHistory(context.Background(), "weight_kg", time.Hour, time.Minute); !errors.Is(err, ErrHistoryUnavailable) {
		t.Errorf("SensorHistory with open circuit = %v, want ErrHistoryUnavailable", err)
	}
}

func TestPersisterSkipsWhenDisconnected(t *testing.T) {
	store := newFakeStore()
	store.connected = false
	p := NewPersister(store, PersisterConfig{DeviceID: "feeder-test"})

	p.RecordSensors(testReading())

	if got := store.sensorCount(); got != 0 {
		t.Errorf("sensor writes = %d, want 0 while disconnected", got)
	}
	if got := p.Skipped(); got != 1 {
		t.Errorf("Skipped() = %d, want 1", got)
	}
}

func TestPersisterSensorHistory(t *testing.T) {
	store := newFakeStore()
	store.history = []influxdb.SeriesPoint{
		{Time: time.Date(2026, 8, 22, 7, 0, 0, 0, time.UTC), Value: 1.3},
		{Time: time.Date(2026, 8, 22, 8, 0, 0, 0, time.UTC), Value: 1.2},
	}
	p := NewPersister(store, PersisterConfig{DeviceID: "feeder-test"})

	points, err := p.SensorHistory(context.Background(), "weight_kg", 24*time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("SensorHistory: %v", err)
	}
	if len(points) != 2 || points[0].Value != 1.3 {
		t.Fatalf("points = %+v, want the seeded series", points)
	}
}

func TestPersisterQueryFailureCountsTowardBreaker(t *testing.T) {
	store := newFakeStore()
	store.historyErr = errors.New("query timeout")
	p := NewPersister(store, PersisterConfig{
		DeviceID:    "feeder-test",
		MaxFailures: 2,
		OpenTimeout: time.Minute,
	})

	for i := 0; i < 2; i++ {
		if _, err := p.SensorHistory(context.Background(), "weight_kg", time.Hour, time.Minute); err == nil {
			t.Fatalf("query %d succeeded, want error", i+1)
		}
	}
	if got := p.BreakerState(); got != "open" {
		t.Fatalf("BreakerState() = %q, want open after repeated query failures", got)
	}

	// Writes share the circuit.
	p.RecordSensors(testReading())
	if got := store.sensorCount(); got != 0 {
		t.Errorf("sensor writes = %d, want 0 with the circuit open", got)
	}
}

func TestPersisterRecoversAfterOpenTimeout(t *testing.T) {
	store := newFakeStore()
	p := NewPersister(store, PersisterConfig{
		DeviceID:    "feeder-test",
		MaxFailures: 1,
		OpenTimeout: 50 * time.Millisecond,
	})

	p.NoteWriteError(errors.New("influx unreachable"))
	p.RecordSensors(testReading())
	if got := p.BreakerState(); got != "open" {
		t.Fatalf("BreakerState() = %q, want open", got)
	}

	time.Sleep(80 * time.Millisecond)

	// Half-open probe succeeds and the circuit closes again.
	p.RecordSensors(testReading())
	if got := store.sensorCount(); got != 1 {
		t.Fatalf("sensor writes = %d, want 1 after recovery", got)
	}
	if got := p.BreakerState(); got != "closed" {
		t.Errorf("BreakerState() = %q, want closed after a good probe", got)
	}
}

func TestPersisterNilIsSafe(t *testing.T) {
	var p *Persister

	p.RecordSensors(testReading())
	p.RecordActuator(device.ActuatorState{Target: device.TargetAuger})
	p.RecordFeedEvent("sess-1", "started", 50)
	p.NoteWriteError(errors.New("ignored"))
	p.SetLogger(noopLinkLogger{})
	p.SetMetrics(nil)

	if p.Enabled() {
		t.Error("nil persister reports enabled")
	}
	if got := p.BreakerState(); got != "disabled" {
		t.Errorf("BreakerState() = %q, want disabled", got)
	}
	if got := p.Skipped(); got != 0 {
		t.Errorf("Skipped() = %d, want 0", got)
	}
	if _, err := p.SensorHistory(context.Background(), "weight_kg", time.Hour, time.Minute); !errors.Is(err, ErrHistoryUnavailable) {
		t.Errorf("SensorHistory on nil persister = %v, want ErrHistoryUnavailable", err)
	}
}

func TestSensorFieldNames(t *testing.T) {
	if !IsSensorField("weight_kg") {
		t.Error("weight_kg not recognised as a sensor field")
	}
	if IsSensorField("uptime_ms") {
		t.Error("uptime_ms recognised as a sensor field")
	}

	fields := SensorFields()
	if len(fields) == 0 {
		t.Fatal("SensorFields() is empty")
	}
	fields[0] = "mutated"
	if SensorFields()[0] == "mutated" {
		t.Error("SensorFields() exposes internal state")
	}
}
