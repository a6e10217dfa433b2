package feeder

import (
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Snapshot is a point-in-time copy of the device's observed state.
// It is safe to retain and marshal; nothing in it aliases registry
// internals.
type Snapshot struct {
	DeviceID string    `json:"device_id"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen,omitempty"`

	Actuators map[Target]ActuatorState `json:"actuators"`

	Reading      *SensorReading `json:"reading,omitempty"`
	SensorsStale bool           `json:"sensors_stale"`

	FeedActive    bool   `json:"feed_active"`
	FeedSessionID string `json:"feed_session_id,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Registry holds the last known state of the feeder: actuator states,
// the latest sensor reading, link liveness, and the running feed
// session. The bridge writes to it from the serial read loop; the API
// and WebSocket layers read snapshots from it.
//
// All public methods are thread-safe.
type Registry struct {
	mu sync.RWMutex

	deviceID   string
	staleAfter time.Duration

	online   bool
	lastSeen time.Time

	actuators map[Target]ActuatorState

	reading   *SensorReading
	readingAt time.Time

	feedActive    bool
	feedSessionID string

	subscribers map[chan Snapshot]struct{}

	logger Logger
}

// NewRegistry creates a state registry for one device.
//
// Parameters:
//   - deviceID: Stable identifier used in snapshots and telemetry tags
//   - staleAfter: Age after which the last reading is flagged stale
func NewRegistry(deviceID string, staleAfter time.Duration) *Registry {
	return &Registry{
		deviceID:    deviceID,
		staleAfter:  staleAfter,
		actuators:   make(map[Target]ActuatorState),
		subscribers: make(map[chan Snapshot]struct{}),
		logger:      noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

// DeviceID returns the registry's device identifier.
func (r *Registry) DeviceID() string {
	return r.deviceID
}

// SetOnline records link liveness. Going offline keeps the last known
// actuator states and reading; they are served stale-flagged until the
// link returns.
func (r *Registry) SetOnline(online bool) {
	r.mu.Lock()
	changed := r.online != online
	r.online = online
	if online {
		r.lastSeen = time.Now().UTC()
	}
	r.mu.Unlock()

	if changed {
		r.logger.Info("device link state changed", "online", online)
		r.notify()
	}
}

// ApplyReading stores a new sensor reading and refreshes liveness.
//
// The registry takes ownership of the reading: callers must not modify
// it (or values behind its pointer fields) after the call. Snapshots
// hand the same pointees to consumers under the same rule.
func (r *Registry) ApplyReading(reading *SensorReading) {
	if reading == nil {
		return
	}

	now := time.Now().UTC()
	if reading.At.IsZero() {
		reading.At = now
	}

	r.mu.Lock()
	r.reading = reading
	r.readingAt = now
	r.lastSeen = now
	r.online = true
	r.mu.Unlock()

	r.logger.Debug("sensor reading applied")
	r.notify()
}

// ApplyActuator stores a new actuator state.
func (r *Registry) ApplyActuator(state ActuatorState) {
	if !state.Target.IsValid() || state.Target == TargetSystem {
		return
	}
	if state.ChangedAt.IsZero() {
		state.ChangedAt = time.Now().UTC()
	}

	r.mu.Lock()
	prev, had := r.actuators[state.Target]
	changed := !had || prev.On != state.On || prev.PWM != state.PWM || prev.Direction != state.Direction
	r.actuators[state.Target] = state
	r.lastSeen = time.Now().UTC()
	r.mu.Unlock()

	if changed {
		r.logger.Debug("actuator state applied",
			"target", state.Target,
			"on", state.On,
			"pwm", state.PWM,
			"direction", state.Direction,
		)
		r.notify()
	}
}

// SetFeed records the running feed session. Pass active=false with the
// finished session's ID when the cycle completes.
func (r *Registry) SetFeed(active bool, sessionID string) {
	r.mu.Lock()
	r.feedActive = active
	if active {
		r.feedSessionID = sessionID
	} else if r.feedSessionID == sessionID || sessionID == "" {
		r.feedSessionID = ""
	}
	r.mu.Unlock()

	r.logger.Debug("feed state changed", "active", active, "session_id", sessionID)
	r.notify()
}

// Snapshot returns a copy of the current state.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// snapshotLocked builds a Snapshot. Caller must hold at least a read lock.
func (r *Registry) snapshotLocked() Snapshot {
	actuators := make(map[Target]ActuatorState, len(r.actuators))
	for target, state := range r.actuators {
		actuators[target] = state
	}

	var reading *SensorReading
	if r.reading != nil {
		copied := *r.reading
		reading = &copied
	}

	stale := true
	if !r.readingAt.IsZero() && r.staleAfter > 0 {
		stale = time.Since(r.readingAt) > r.staleAfter
	}

	return Snapshot{
		DeviceID:      r.deviceID,
		Online:        r.online,
		LastSeen:      r.lastSeen,
		Actuators:     actuators,
		Reading:       reading,
		SensorsStale:  stale,
		FeedActive:    r.feedActive,
		FeedSessionID: r.feedSessionID,
		UpdatedAt:     time.Now().UTC(),
	}
}

// Subscribe registers for state change notifications.
//
// Each change delivers a full Snapshot on the returned channel. Slow
// consumers drop updates rather than blocking the bridge; the next
// snapshot supersedes anything missed.
//
// Parameters:
//   - buffer: Channel buffer size (1 is enough for most consumers)
//
// Returns:
//   - <-chan Snapshot: Update channel
//   - func(): Unsubscribe; closes the channel
func (r *Registry) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)

	r.mu.Lock()
	r.subscribers[ch] = struct{}{}
	r.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subscribers, ch)
			r.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsubscribe
}

// SubscriberCount returns the number of active subscribers.
func (r *Registry) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}

// notify fans the current snapshot out to all subscribers without
// blocking. A full subscriber channel just misses this update.
func (r *Registry) notify() {
	r.mu.RLock()
	snap := r.snapshotLocked()
	for ch := range r.subscribers {
		select {
		case ch <- snap:
		default:
		}
	}
	r.mu.RUnlock()
}
