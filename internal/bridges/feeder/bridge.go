package feeder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pondlogic/feeder-core/internal/audit"
	device "github.com/pondlogic/feeder-core/internal/feeder"
	"github.com/pondlogic/feeder-core/internal/feeding"
	"github.com/pondlogic/feeder-core/internal/infrastructure/mqtt"
	"github.com/pondlogic/feeder-core/internal/schedule"
	"github.com/pondlogic/feeder-core/internal/wire"
)

// Bridge operation constants.
const (
	// defaultStatusInterval is how often the retained status snapshot
	// is republished.
	defaultStatusInterval = 20 * time.Second

	// defaultSensorStaleAfter is how long without a data frame before
	// the bridge nudges the device.
	defaultSensorStaleAfter = 10 * time.Second

	// defaultCommandTTL is how long a command ID is remembered for
	// redelivery suppression.
	defaultCommandTTL = 5 * time.Minute

	// maintenanceInterval is the cadence of the housekeeping tick:
	// stale-sensor nudges and pending/dedup sweeps.
	maintenanceInterval = 5 * time.Second

	// pendingTimeout is how long a relayed command waits for its reply
	// before the entry is swept. The record stays "sent" in the log.
	pendingTimeout = 10 * time.Second

	// qosCommands is the QoS for command and event topics.
	qosCommands byte = 1
)

// MQTTClient is the slice of the MQTT client the bridge uses.
// Satisfied by *mqtt.Client; faked in tests.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Options holds everything needed to build a bridge.
type Options struct {
	// DeviceID identifies the feeder in published messages.
	DeviceID string

	// Version is the daemon version, reported in bridge health.
	Version string

	// StatusInterval is how often the retained status is republished.
	StatusInterval time.Duration

	// HealthInterval is how often bridge health is published.
	HealthInterval time.Duration

	// SensorStaleAfter is how long without readings before the device
	// is nudged with a sensor request.
	SensorStaleAfter time.Duration

	// CommandTTL is the direct-command dedup window.
	CommandTTL time.Duration

	// Link is the device connection.
	Link DeviceLink

	// MQTT is the broker connection.
	MQTT MQTTClient

	// Registry is the in-memory device state.
	Registry *device.Registry

	// Commands is the command audit log.
	Commands audit.Repository

	// Sessions is the feed session store.
	Sessions feeding.Repository

	// Persister writes readings to InfluxDB. Optional.
	Persister *Persister

	// Metrics are the bridge's Prometheus instruments. Optional.
	Metrics *Metrics

	// Logger is an optional structured logger.
	Logger Logger
}

// pendingCommand is a relayed line waiting for its ACK or NAK. Keyed by
// the canonical token; the device echoes the token in its reply.
type pendingCommand struct {
	auditID   string
	target    string
	sentAt    time.Time
	sessionID string  // set for feed commands
	targetG   float64 // requested grams for feed commands
}

// controlMessage is the JSON body of a control topic message. The value
// pointer keeps "pwm with duty 0" distinguishable from "no value".
type controlMessage struct {
	ID     string   `json:"id"`
	Target string   `json:"target"`
	Action string   `json:"action"`
	Value  *float64 `json:"value"`
	Source string   `json:"source"`
}

// commandEvent is published on the command events topic when a relayed
// command resolves.
type commandEvent struct {
	ID        string    `json:"id"`
	Target    string    `json:"target"`
	Token     string    `json:"token"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	At        time.Time `json:"at"`
}

// feedEvent is published on the feed events topic through a cycle's
// life: started, progress, complete.
type feedEvent struct {
	Type           string    `json:"type"`
	SessionID      string    `json:"session_id"`
	TargetGrams    float64   `json:"target_g,omitempty"`
	DispensedGrams float64   `json:"dispensed_g,omitempty"`
	ProgressPct    float64   `json:"progress_pct,omitempty"`
	WeightKg       float64   `json:"weight_kg,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	DurationMS     int64     `json:"duration_ms,omitempty"`
	At             time.Time `json:"at"`
}

// alertEvent is published on the alert events topic.
type alertEvent struct {
	Type    string    `json:"type"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Bridge relays between the device link and MQTT, recording commands
// and feed sessions as it goes.
//
// All methods are safe for concurrent use.
type Bridge struct {
	deviceID         string
	statusInterval   time.Duration
	sensorStaleAfter time.Duration
	commandTTL       time.Duration

	link      DeviceLink
	mqtt      MQTTClient
	registry  *device.Registry
	commands  audit.Repository
	sessions  feeding.Repository
	persister *Persister
	metrics   *Metrics
	health    *HealthReporter
	topics    mqtt.Topics

	settingsMu sync.RWMutex
	settings   device.Settings

	pendingMu sync.Mutex
	pending   map[string][]pendingCommand

	seenMu  sync.Mutex
	seenIDs map[string]time.Time

	feedMu        sync.Mutex
	sessionMu     sync.RWMutex
	activeSession string
	activeTargetG float64

	outputsMu   sync.Mutex
	lastOutputs map[device.Target]device.ActuatorState

	lastNudge atomic.Int64 // unix seconds

	ctx       context.Context
	ctxCancel context.CancelFunc
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once

	loggerMu sync.RWMutex
	logger   Logger
}

// New creates a bridge. Call Start to begin operation.
func New(opts Options) (*Bridge, error) {
	if opts.Link == nil {
		return nil, fmt.Errorf("device link is required")
	}
	if opts.MQTT == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if opts.Commands == nil {
		return nil, fmt.Errorf("command log is required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("feed session store is required")
	}

	if opts.StatusInterval == 0 {
		opts.StatusInterval = defaultStatusInterval
	}
	if opts.SensorStaleAfter == 0 {
		opts.SensorStaleAfter = defaultSensorStaleAfter
	}
	if opts.CommandTTL == 0 {
		opts.CommandTTL = defaultCommandTTL
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLinkLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &Bridge{
		deviceID:         opts.DeviceID,
		statusInterval:   opts.StatusInterval,
		sensorStaleAfter: opts.SensorStaleAfter,
		commandTTL:       opts.CommandTTL,
		link:             opts.Link,
		mqtt:             opts.MQTT,
		registry:         opts.Registry,
		commands:         opts.Commands,
		sessions:         opts.Sessions,
		persister:        opts.Persister,
		metrics:          opts.Metrics,
		settings:         device.DefaultSettings(),
		pending:          make(map[string][]pendingCommand),
		seenIDs:          make(map[string]time.Time),
		lastOutputs:      make(map[device.Target]device.ActuatorState),
		ctx:              ctx,
		ctxCancel:        cancel,
		done:             make(chan struct{}),
		logger:           logger,
	}

	b.persister.SetMetrics(opts.Metrics)

	b.health = NewHealthReporter(HealthReporterConfig{
		DeviceID:  opts.DeviceID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTT,
		Link:      opts.Link,
		Registry:  opts.Registry,
		Persister: opts.Persister,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start begins bridge operation: wires the device link callbacks,
// subscribes to command topics and starts the periodic loops.
func (b *Bridge) Start(ctx context.Context) error {
	// A session left running by a previous daemon run is over by now.
	if n, err := b.sessions.CloseStale(ctx, "daemon restart", time.Now().UTC()); err != nil {
		b.logError("closing stale feed sessions", err)
	} else if n > 0 {
		b.logInfo("closed stale feed sessions", "count", n)
	}

	b.link.SetOnFrame(b.handleFrame)
	b.link.SetOnStateChange(b.handleLinkState)

	if err := b.mqtt.Subscribe(b.topics.AllControl(), qosCommands, b.handleControlMessage); err != nil {
		return fmt.Errorf("subscribing to control topics: %w", err)
	}
	if err := b.mqtt.Subscribe(b.topics.Command(), qosCommands, b.handleRawCommand); err != nil {
		return fmt.Errorf("subscribing to command topic: %w", err)
	}

	if err := b.health.PublishStarting(); err != nil {
		b.logError("publishing starting health", err)
	}
	b.health.Start(ctx)

	b.wg.Add(1)
	go b.run(ctx)

	b.publishStatus()
	b.logInfo("bridge started", "device_id", b.deviceID, "link", b.link.Addr())
	return nil
}

// Stop gracefully shuts the bridge down. The device link is owned by
// the caller and closed separately.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()
		b.health.Stop()
		b.wg.Wait()
		b.logInfo("bridge stopped")
	})
}

// run owns the periodic status publish and housekeeping.
func (b *Bridge) run(ctx context.Context) {
	defer b.wg.Done()

	statusTicker := time.NewTicker(b.statusInterval)
	defer statusTicker.Stop()
	maintenance := time.NewTicker(maintenanceInterval)
	defer maintenance.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-statusTicker.C:
			b.publishStatus()
		case <-maintenance.C:
			b.nudgeStaleSensors()
			b.sweepPending()
			b.sweepSeen()
		}
	}
}

// =============================================================================
// Inbound commands
// =============================================================================

// handleControlMessage relays a JSON control message from an MQTT
// control topic. The topic names the target; the payload may repeat it.
func (b *Bridge) handleControlMessage(topic string, payload []byte) error {
	target, ok := b.topics.ControlTarget(topic)
	if !ok {
		return fmt.Errorf("not a control topic: %s", topic)
	}

	var msg controlMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.observeCommand("malformed")
		return fmt.Errorf("parsing control message: %w", err)
	}

	source := msg.Source
	if source == "" {
		source = "mqtt"
	}

	parsedTarget, err := device.ParseTarget(target)
	if err != nil {
		b.recordDropped(msg.ID, target, msg.Action, source, "unknown target")
		return err
	}
	if msg.Target != "" && msg.Target != target {
		b.recordDropped(msg.ID, target, msg.Action, source, "topic and payload target differ")
		return fmt.Errorf("control target mismatch: topic %s, payload %s", target, msg.Target)
	}

	cmd := device.NewCommand(parsedTarget, device.Action(msg.Action), source)
	if msg.ID != "" {
		cmd.ID = msg.ID
	}
	if msg.Value != nil {
		cmd = cmd.WithValue(*msg.Value)
	}

	if b.alreadySeen(cmd.ID) {
		b.logDebug("duplicate command delivery suppressed", "id", cmd.ID)
		return nil
	}

	_, err = b.Control(b.ctx, cmd)
	return err
}

// handleRawCommand relays a bare protocol token published on the
// command topic. Feed tokens get full session treatment.
func (b *Bridge) handleRawCommand(_ string, payload []byte) error {
	line := strings.TrimSpace(string(payload))
	if line == "" {
		return nil
	}

	token, err := wire.ParseToken(line)
	if err != nil {
		b.recordDropped("", string(device.TargetSystem), line, "mqtt", "invalid token")
		return fmt.Errorf("parsing raw command: %w", err)
	}

	if token.Kind == wire.TokenFeed {
		req := device.NewFeedRequest("mqtt")
		switch {
		case token.Sequence != nil:
			seq := *token.Sequence
			req.Sequence = &seq
		case token.HasValue:
			req.Grams = token.Value
		default:
			req.Preset = device.FeedPreset(token.Name)
		}
		_, err = b.Feed(b.ctx, req)
		return err
	}

	rec := &audit.CommandRecord{
		Target: tokenTarget(token),
		Action: token.Encode(),
		Source: "mqtt",
	}
	_, err = b.relay(b.ctx, rec, "", 0)
	return err
}

// Control validates a command, records it and relays it to the device.
// The returned record carries the audit ID and outcome.
func (b *Bridge) Control(ctx context.Context, cmd device.Command) (*audit.CommandRecord, error) {
	token, err := wire.CommandToken(cmd)
	if err != nil {
		b.recordDropped(cmd.ID, string(cmd.Target), string(cmd.Action), cmd.Source, "not representable on the wire")
		return nil, err
	}

	rec := &audit.CommandRecord{
		ID:     cmd.ID,
		Target: string(cmd.Target),
		Action: token.Encode(),
		Source: cmd.Source,
	}
	return b.relay(ctx, rec, "", 0)
}

// relay records a command and writes its line to the device. The
// pending entry is added before the write so a fast reply cannot beat
// the bookkeeping.
func (b *Bridge) relay(ctx context.Context, rec *audit.CommandRecord, sessionID string, targetG float64) (*audit.CommandRecord, error) {
	if !b.link.IsConnected() {
		rec.Outcome = audit.OutcomeDropped
		rec.Detail = "device link down"
		if err := b.commands.Record(ctx, rec); err != nil {
			b.logError("recording dropped command", err)
		}
		b.observeCommand(audit.OutcomeDropped)
		return rec, ErrLinkDown
	}

	rec.Outcome = audit.OutcomeSent
	if err := b.commands.Record(ctx, rec); err != nil {
		return nil, fmt.Errorf("recording command: %w", err)
	}

	b.addPending(rec, sessionID, targetG)

	if err := b.link.Send(ctx, rec.Action); err != nil {
		b.removePending(rec.Action, rec.ID)
		b.observeCommand("send_failed")
		return rec, err
	}

	b.observeCommand(audit.OutcomeSent)
	b.logInfo("command relayed",
		"id", rec.ID, "token", rec.Action, "source", rec.Source)
	return rec, nil
}

// recordDropped logs a command the bridge refused to relay.
func (b *Bridge) recordDropped(id, target, action, source, detail string) {
	rec := &audit.CommandRecord{
		ID:      id,
		Target:  target,
		Action:  action,
		Source:  source,
		Outcome: audit.OutcomeDropped,
		Detail:  detail,
	}
	if err := b.commands.Record(b.ctx, rec); err != nil {
		b.logError("recording dropped command", err)
	}
	b.observeCommand(audit.OutcomeDropped)
}

// tokenTarget maps a raw token to the audit log's target column.
func tokenTarget(token wire.Token) string {
	switch token.Kind {
	case wire.TokenRelay:
		switch token.Code {
		case wire.RelayFanOn, wire.RelayFanOff, wire.RelayFanToggle:
			return string(device.TargetFan)
		case wire.RelayLEDOn, wire.RelayLEDOff, wire.RelayLEDToggle:
			return string(device.TargetLED)
		default:
			return string(device.TargetSystem) // ALL_OFF and BOTH_ON span outputs
		}
	case wire.TokenAuger:
		return string(device.TargetAuger)
	case wire.TokenBlower:
		return string(device.TargetBlower)
	case wire.TokenActuator:
		return string(device.TargetActuator)
	default:
		return string(device.TargetSystem)
	}
}

// =============================================================================
// Feeding
// =============================================================================

// Feed starts a feed cycle: opens a session, relays the FEED token and
// hands progress tracking to the frame handlers.
func (b *Bridge) Feed(ctx context.Context, req device.FeedRequest) (*feeding.Session, error) {
	token, err := wire.FeedToken(req)
	if err != nil {
		return nil, err
	}
	return b.feed(ctx, req, token, feeding.TriggerManual, req.Source, req.Source)
}

// DispatchFeed triggers a feed for a due schedule. Implements the
// scheduler's dispatcher; a returned error makes the scheduler retry
// within the minute.
func (b *Bridge) DispatchFeed(ctx context.Context, s schedule.Schedule) error {
	req := device.NewFeedRequest("schedule")
	switch s.Mode {
	case schedule.ModeGrams:
		if s.Grams != nil {
			req.Grams = *s.Grams
		}
	default:
		req.Preset = device.FeedPreset(s.Preset)
	}

	token, err := wire.FeedToken(req)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", s.ID, err)
	}

	_, err = b.feed(ctx, req, token, feeding.TriggerSchedule, s.ID, "schedule")
	return err
}

// feed is the shared feed path. Serialised so two triggers cannot open
// two sessions for one device.
func (b *Bridge) feed(ctx context.Context, req device.FeedRequest, token wire.Token, triggerType, triggerSource, auditSource string) (*feeding.Session, error) {
	b.feedMu.Lock()
	defer b.feedMu.Unlock()

	if active, _ := b.activeSessionInfo(); active != "" {
		return nil, fmt.Errorf("%w: session %s", ErrFeedActive, active)
	}

	grams := req.Grams
	if req.Preset != "" {
		if g, ok := b.Settings().PresetGrams(req.Preset); ok {
			grams = g
		}
	}
	if req.Sequence != nil && req.Sequence.TargetG > 0 {
		grams = req.Sequence.TargetG
	}

	mode := feeding.ModeWeight
	if req.Sequence != nil {
		mode = feeding.ModeSequence
	}

	sess := &feeding.Session{
		TriggerType:   triggerType,
		TriggerSource: triggerSource,
		Mode:          mode,
		Preset:        string(req.Preset),
	}
	if grams > 0 {
		g := grams
		sess.RequestedGrams = &g
	}
	if err := b.sessions.Start(ctx, sess); err != nil {
		return nil, fmt.Errorf("starting feed session: %w", err)
	}

	rec := &audit.CommandRecord{
		Target: string(device.TargetSystem),
		Action: token.Encode(),
		Source: auditSource,
	}
	if _, err := b.relay(ctx, rec, sess.ID, grams); err != nil {
		done := feeding.Completion{
			Status: feeding.StatusInterrupted,
			Detail: "command not relayed: " + err.Error(),
			At:     time.Now().UTC(),
		}
		if cerr := b.sessions.Complete(ctx, sess.ID, done); cerr != nil {
			b.logError("resolving unrelayed feed session", cerr)
		}
		return nil, err
	}

	b.setActiveSession(sess.ID, grams)
	b.logInfo("feed cycle requested",
		"session_id", sess.ID,
		"trigger", triggerType,
		"grams", grams,
		"mode", mode)
	return sess, nil
}

func (b *Bridge) setActiveSession(id string, targetG float64) {
	b.sessionMu.Lock()
	b.activeSession = id
	b.activeTargetG = targetG
	b.sessionMu.Unlock()
}

func (b *Bridge) clearActiveSession(id string) {
	b.sessionMu.Lock()
	if b.activeSession == id || id == "" {
		b.activeSession = ""
		b.activeTargetG = 0
	}
	b.sessionMu.Unlock()
}

func (b *Bridge) activeSessionInfo() (string, float64) {
	b.sessionMu.RLock()
	defer b.sessionMu.RUnlock()
	return b.activeSession, b.activeTargetG
}

// =============================================================================
// Device frames
// =============================================================================

// handleFrame fans one device frame out to its consumers. Runs on the
// link's dispatch goroutine, in arrival order.
func (b *Bridge) handleFrame(frame wire.Frame) {
	if m := b.metrics; m != nil {
		m.framesRx.WithLabelValues(string(frame.Kind)).Inc()
	}

	switch frame.Kind {
	case wire.FrameData:
		b.handleData(frame)
	case wire.FrameStatus:
		b.handleStatusFrame(frame)
	case wire.FrameAck:
		b.resolveReply(frame, true)
	case wire.FrameNak:
		b.resolveReply(frame, false)
	case wire.FrameFeedProgress:
		b.handleFeedProgress(frame)
	case wire.FrameFeedComplete:
		b.handleFeedComplete(frame)
	case wire.FrameAlert:
		b.handleAlert(frame)
	case wire.FrameLog:
		b.logDebug("device log", "message", frame.Message, "uptime_ms", frame.UptimeMS)
	case wire.FrameError:
		b.logWarn("device error", "message", frame.Message, "uptime_ms", frame.UptimeMS)
	case wire.FrameInfo:
		b.logInfo("device info", "message", frame.Message, "uptime_ms", frame.UptimeMS)
	case wire.FrameCmd:
		b.logDebug("device command echo", "message", frame.Message)
	default:
		b.logDebug("unrecognised device line", "line", frame.Raw)
	}
}

// handleData applies one sensor sweep: registry, MQTT, InfluxDB.
func (b *Bridge) handleData(frame wire.Frame) {
	p := frame.Data
	if p == nil || p.Reading == nil {
		return
	}
	now := time.Now().UTC()
	reading := p.Reading
	reading.At = now

	payload, err := json.Marshal(reading)
	if err != nil {
		b.logError("marshalling sensor reading", err)
		return
	}

	b.persister.RecordSensors(reading)
	b.observeReading(reading)

	for _, state := range p.Actuators() {
		state.ChangedAt = now
		b.applyOutput(state)
	}

	// The registry owns the reading from here on.
	b.registry.ApplyReading(reading)

	// Sensor stream is fire-and-forget; the retained status snapshot
	// covers late joiners.
	if err := b.mqtt.Publish(b.topics.Sensors(), payload, 0, false); err != nil {
		b.logError("publishing sensor reading", err)
	}
}

// handleStatusFrame applies a JSON status snapshot, the reply to a
// status request. Same sweep as a data frame, without output states.
func (b *Bridge) handleStatusFrame(frame wire.Frame) {
	p := frame.Status
	if p == nil || p.Reading == nil {
		return
	}
	reading := p.Reading
	reading.At = time.Now().UTC()

	payload, err := json.Marshal(reading)
	if err != nil {
		b.logError("marshalling status reading", err)
		return
	}

	b.persister.RecordSensors(reading)
	b.observeReading(reading)
	b.registry.ApplyReading(reading)

	if err := b.mqtt.Publish(b.topics.Sensors(), payload, 0, false); err != nil {
		b.logError("publishing status reading", err)
	}
}

// applyOutput feeds one output state to the registry and, when it
// changed, to the readings store.
func (b *Bridge) applyOutput(state device.ActuatorState) {
	b.outputsMu.Lock()
	prev, had := b.lastOutputs[state.Target]
	changed := !had || prev.On != state.On || prev.PWM != state.PWM || prev.Direction != state.Direction
	if changed {
		b.lastOutputs[state.Target] = state
	}
	b.outputsMu.Unlock()

	b.registry.ApplyActuator(state)
	if changed {
		b.persister.RecordActuator(state)
	}
}

// resolveReply closes out the pending command a device reply answers.
func (b *Bridge) resolveReply(frame wire.Frame, acked bool) {
	pc, ok := b.popPending(frame.Token)
	if !ok {
		// Replies to bridge housekeeping requests land here too.
		b.logDebug("reply with no pending command",
			"token", frame.Token, "detail", frame.Detail)
		return
	}

	now := time.Now().UTC()
	latency := now.Sub(pc.sentAt).Milliseconds()

	outcome := audit.OutcomeAcked
	if !acked {
		outcome = audit.OutcomeNakked
	}

	res := audit.Resolution{
		Outcome:   outcome,
		Detail:    frame.Detail,
		LatencyMS: latency,
		At:        now,
	}
	if err := b.commands.Resolve(b.ctx, pc.auditID, res); err != nil && !errors.Is(err, audit.ErrNotFound) {
		b.logError("resolving command", err)
	}

	if m := b.metrics; m != nil {
		m.commandsTotal.WithLabelValues(outcome).Inc()
		m.commandLatency.Observe(float64(latency) / 1000)
	}

	b.publishEvent(b.topics.CommandEvents(), commandEvent{
		ID:        pc.auditID,
		Target:    pc.target,
		Token:     frame.Token,
		Outcome:   outcome,
		Detail:    frame.Detail,
		LatencyMS: latency,
		At:        now,
	})

	if pc.sessionID != "" {
		b.resolveFeedCommand(pc, acked, frame.Detail, now)
	}
}

// resolveFeedCommand handles the device's verdict on a FEED token.
func (b *Bridge) resolveFeedCommand(pc pendingCommand, acked bool, detail string, now time.Time) {
	if acked {
		b.registry.SetFeed(true, pc.sessionID)
		b.persister.RecordFeedEvent(pc.sessionID, "started", pc.targetG)
		if m := b.metrics; m != nil {
			m.feedEvents.WithLabelValues("started").Inc()
		}
		b.publishEvent(b.topics.FeedEvents(), feedEvent{
			Type:        "started",
			SessionID:   pc.sessionID,
			TargetGrams: pc.targetG,
			At:          now,
		})
		return
	}

	// Refused: the cycle never ran.
	b.clearActiveSession(pc.sessionID)
	b.registry.SetFeed(false, pc.sessionID)
	done := feeding.Completion{
		Status: feeding.StatusInterrupted,
		Detail: "device refused: " + detail,
		At:     now,
	}
	if err := b.sessions.Complete(b.ctx, pc.sessionID, done); err != nil {
		b.logError("resolving refused feed session", err)
	}
	if m := b.metrics; m != nil {
		m.feedsResolved.WithLabelValues(feeding.StatusInterrupted).Inc()
	}
	b.publishEvent(b.topics.FeedEvents(), feedEvent{
		Type:      "complete",
		SessionID: pc.sessionID,
		Reason:    "rejected",
		At:        now,
	})
}

// handleFeedProgress applies one feed progress report. A report with no
// session behind it means the cycle started without us, so adopt it.
func (b *Bridge) handleFeedProgress(frame wire.Frame) {
	p := frame.Progress
	if p == nil {
		return
	}
	now := time.Now().UTC()

	sessionID, _ := b.activeSessionInfo()
	if sessionID == "" {
		sessionID = b.adoptDeviceCycle(p.TargetG)
		if sessionID == "" {
			return
		}
	}
	b.registry.SetFeed(true, sessionID)

	dispensed := p.TargetG * p.ProgressPct / 100
	if err := b.sessions.Progress(b.ctx, sessionID, dispensed); err != nil {
		b.logError("recording feed progress", err)
	}

	if m := b.metrics; m != nil {
		m.feedEvents.WithLabelValues("progress").Inc()
		m.hopperWeightKg.Set(p.WeightKg)
	}
	b.persister.RecordFeedEvent(sessionID, "progress", dispensed)

	b.publishEvent(b.topics.FeedEvents(), feedEvent{
		Type:           "progress",
		SessionID:      sessionID,
		TargetGrams:    p.TargetG,
		DispensedGrams: dispensed,
		ProgressPct:    p.ProgressPct,
		WeightKg:       p.WeightKg,
		At:             now,
	})
}

// handleFeedComplete resolves the running session from the device's
// completion report.
func (b *Bridge) handleFeedComplete(frame wire.Frame) {
	c := frame.Complete
	if c == nil {
		return
	}
	now := time.Now().UTC()

	sessionID, _ := b.activeSessionInfo()
	if sessionID == "" {
		sessionID = b.adoptDeviceCycle(c.TargetG)
		if sessionID == "" {
			return
		}
	}

	status := feeding.StatusCompleted
	switch c.Reason {
	case wire.ReasonTimeout:
		status = feeding.StatusTimeout
	case wire.ReasonManual:
		status = feeding.StatusInterrupted
	}

	done := feeding.Completion{
		Status:         status,
		DispensedGrams: c.ActualG,
		DurationMS:     c.DurationMS,
		Detail:         c.Reason,
		At:             now,
	}
	if err := b.sessions.Complete(b.ctx, sessionID, done); err != nil {
		b.logError("completing feed session", err)
	}

	b.clearActiveSession(sessionID)
	b.registry.SetFeed(false, sessionID)

	if m := b.metrics; m != nil {
		m.feedEvents.WithLabelValues("complete").Inc()
		m.feedsResolved.WithLabelValues(status).Inc()
		m.dispensedGrams.Add(c.ActualG)
	}
	b.persister.RecordFeedEvent(sessionID, "complete", c.ActualG)

	b.publishEvent(b.topics.FeedEvents(), feedEvent{
		Type:           "complete",
		SessionID:      sessionID,
		TargetGrams:    c.TargetG,
		DispensedGrams: c.ActualG,
		Reason:         c.Reason,
		DurationMS:     c.DurationMS,
		At:             now,
	})

	b.logInfo("feed cycle finished",
		"session_id", sessionID,
		"status", status,
		"dispensed_g", c.ActualG,
		"duration_ms", c.DurationMS)
}

// adoptDeviceCycle opens a session for a cycle the bridge did not
// start: the daemon restarted mid-feed, or someone used the serial
// console. Returns the new session ID, or "" if the store refused.
func (b *Bridge) adoptDeviceCycle(targetG float64) string {
	sess := &feeding.Session{
		TriggerType: feeding.TriggerDevice,
		Mode:        feeding.ModeWeight,
	}
	if targetG > 0 {
		g := targetG
		sess.RequestedGrams = &g
	}
	if err := b.sessions.Start(b.ctx, sess); err != nil {
		b.logError("adopting device feed cycle", err)
		return ""
	}

	b.setActiveSession(sess.ID, targetG)
	if m := b.metrics; m != nil {
		m.feedEvents.WithLabelValues("adopted").Inc()
	}
	b.logInfo("adopted device-initiated feed cycle", "session_id", sess.ID)
	return sess.ID
}

// handleAlert publishes a device alert and logs it.
func (b *Bridge) handleAlert(frame wire.Frame) {
	a := frame.Alert
	if a == nil {
		return
	}

	b.logWarn("device alert", "type", a.Type, "message", a.Message)
	if m := b.metrics; m != nil {
		m.alerts.WithLabelValues(a.Type).Inc()
	}

	b.publishEvent(b.topics.AlertEvents(), alertEvent{
		Type:    a.Type,
		Message: a.Message,
		At:      time.Now().UTC(),
	})
}

// handleLinkState reacts to the device link going up or down.
func (b *Bridge) handleLinkState(connected bool) {
	b.registry.SetOnline(connected)
	if m := b.metrics; m != nil {
		if connected {
			m.linkUp.Set(1)
		} else {
			m.linkUp.Set(0)
		}
	}

	if connected {
		b.logInfo("device link up")
		// Ask for a snapshot rather than waiting for the stream.
		if err := b.link.Send(b.ctx, wire.GetStatusToken().Encode()); err != nil {
			b.logDebug("status refresh request failed", "error", err)
		}
	} else {
		b.logWarn("device link down")
	}

	b.publishStatus()
	if err := b.health.PublishNow(); err != nil {
		b.logError("publishing health", err)
	}
}

// =============================================================================
// Device configuration and calibration
// =============================================================================

// Tare zeroes the scale with the hopper empty.
func (b *Bridge) Tare(ctx context.Context, source string) (*audit.CommandRecord, error) {
	return b.relaySystem(ctx, wire.TareToken(), source)
}

// Calibrate derives the scale factor from a known reference weight.
func (b *Bridge) Calibrate(ctx context.Context, grams float64, source string) (*audit.CommandRecord, error) {
	if grams <= 0 {
		return nil, fmt.Errorf("calibration weight must be positive, got %v", grams)
	}
	return b.relaySystem(ctx, wire.CalibrateToken(grams), source)
}

// ResetCalibration restores the device's factory calibration.
func (b *Bridge) ResetCalibration(ctx context.Context, source string) (*audit.CommandRecord, error) {
	return b.relaySystem(ctx, wire.CalResetToken(), source)
}

// StopAll relays the emergency stop. A running feed cycle resolves
// through the completion frame the device sends afterwards.
func (b *Bridge) StopAll(ctx context.Context, source string) (*audit.CommandRecord, error) {
	return b.relaySystem(ctx, wire.StopAllToken(), source)
}

// SetLogStream switches the device's verbose log stream on or off.
func (b *Bridge) SetLogStream(ctx context.Context, enabled bool, source string) (*audit.CommandRecord, error) {
	return b.relaySystem(ctx, wire.LogStreamToken(enabled), source)
}

// RequestSensors asks the device for an immediate sensor sweep.
func (b *Bridge) RequestSensors(ctx context.Context, source string) (*audit.CommandRecord, error) {
	return b.relaySystem(ctx, wire.GetSensorsToken(), source)
}

// SetConfig relays one CFG setting to the device.
func (b *Bridge) SetConfig(ctx context.Context, key string, value float64, source string) (*audit.CommandRecord, error) {
	token := wire.ConfigToken(key, value)
	if _, err := wire.ParseToken(token.Encode()); err != nil {
		return nil, err
	}
	return b.relaySystem(ctx, token, source)
}

// ApplySettings pushes a full settings block to the device: one CFG
// line per value, then the TIMING line. Stops at the first relay
// failure; the device keeps whatever already arrived.
func (b *Bridge) ApplySettings(ctx context.Context, s device.Settings, source string) error {
	for _, token := range settingsTokens(s) {
		if _, err := b.relaySystem(ctx, token, source); err != nil {
			return fmt.Errorf("applying %s: %w", token.Encode(), err)
		}
	}

	b.settingsMu.Lock()
	b.settings = s
	b.settingsMu.Unlock()

	b.logInfo("device settings applied", "source", source)
	return nil
}

// Settings returns the bridge's mirror of the device settings.
func (b *Bridge) Settings() device.Settings {
	b.settingsMu.RLock()
	defer b.settingsMu.RUnlock()
	return b.settings
}

// relaySystem audits and relays one system-target token.
func (b *Bridge) relaySystem(ctx context.Context, token wire.Token, source string) (*audit.CommandRecord, error) {
	rec := &audit.CommandRecord{
		Target: string(device.TargetSystem),
		Action: token.Encode(),
		Source: source,
	}
	return b.relay(ctx, rec, "", 0)
}

// settingsTokens expands a settings block into the device lines that
// carry it.
func settingsTokens(s device.Settings) []wire.Token {
	autoFan := 0.0
	if s.AutoFanEnabled {
		autoFan = 1
	}
	return []wire.Token{
		wire.ConfigToken(wire.CfgSensorInterval, float64(s.SensorIntervalMS)),
		wire.ConfigToken(wire.CfgOutputInterval, float64(s.OutputIntervalMS)),
		wire.ConfigToken(wire.CfgTempThreshold, s.TempThresholdC),
		wire.ConfigToken(wire.CfgTempHysteresis, s.TempHysteresisC),
		wire.ConfigToken(wire.CfgAutoFan, autoFan),
		wire.ConfigToken(wire.CfgAugerSpeed, float64(s.AugerSpeedForward)),
		wire.ConfigToken(wire.CfgAugerSpeedRev, float64(s.AugerSpeedReverse)),
		wire.ConfigToken(wire.CfgBlowerSpeed, float64(s.BlowerSpeed)),
		wire.ConfigToken(wire.CfgActuatorSpeed, float64(s.ActuatorSpeed)),
		wire.ConfigToken(wire.CfgFeedSmall, s.FeedSmallG),
		wire.ConfigToken(wire.CfgFeedMedium, s.FeedMediumG),
		wire.ConfigToken(wire.CfgFeedLarge, s.FeedLargeG),
		wire.TimingToken(s),
	}
}

// =============================================================================
// Pending commands and dedup
// =============================================================================

// addPending registers a relayed line awaiting its reply. Entries for
// the same token queue up and resolve oldest first.
func (b *Bridge) addPending(rec *audit.CommandRecord, sessionID string, targetG float64) {
	b.pendingMu.Lock()
	b.pending[rec.Action] = append(b.pending[rec.Action], pendingCommand{
		auditID:   rec.ID,
		target:    rec.Target,
		sentAt:    time.Now().UTC(),
		sessionID: sessionID,
		targetG:   targetG,
	})
	b.pendingMu.Unlock()
}

// popPending takes the oldest pending entry for a token.
func (b *Bridge) popPending(token string) (pendingCommand, bool) {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()

	queue := b.pending[token]
	if len(queue) == 0 {
		return pendingCommand{}, false
	}
	pc := queue[0]
	if len(queue) == 1 {
		delete(b.pending, token)
	} else {
		b.pending[token] = queue[1:]
	}
	return pc, true
}

// removePending drops a specific pending entry after a failed send.
func (b *Bridge) removePending(token, auditID string) {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()

	queue := b.pending[token]
	for i, pc := range queue {
		if pc.auditID == auditID {
			queue = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	if len(queue) == 0 {
		delete(b.pending, token)
	} else {
		b.pending[token] = queue
	}
}

// sweepPending drops entries the device never answered. Their records
// stay "sent" in the command log.
func (b *Bridge) sweepPending() {
	cutoff := time.Now().UTC().Add(-pendingTimeout)

	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()

	for token, queue := range b.pending {
		kept := queue[:0]
		for _, pc := range queue {
			if pc.sentAt.After(cutoff) {
				kept = append(kept, pc)
			} else {
				b.logDebug("command reply never arrived",
					"id", pc.auditID, "token", token)
			}
		}
		if len(kept) == 0 {
			delete(b.pending, token)
		} else {
			b.pending[token] = kept
		}
	}
}

// alreadySeen marks a command ID and reports whether it was already
// relayed inside the dedup window. QoS 1 redeliveries land here.
func (b *Bridge) alreadySeen(id string) bool {
	if id == "" {
		return false
	}
	now := time.Now().UTC()

	b.seenMu.Lock()
	defer b.seenMu.Unlock()

	if at, ok := b.seenIDs[id]; ok && now.Sub(at) < b.commandTTL {
		return true
	}
	b.seenIDs[id] = now
	return false
}

// sweepSeen expires old dedup entries.
func (b *Bridge) sweepSeen() {
	cutoff := time.Now().UTC().Add(-b.commandTTL)

	b.seenMu.Lock()
	defer b.seenMu.Unlock()

	for id, at := range b.seenIDs {
		if at.Before(cutoff) {
			delete(b.seenIDs, id)
		}
	}
}

// =============================================================================
// Status and housekeeping
// =============================================================================

// publishStatus publishes the retained device status snapshot.
func (b *Bridge) publishStatus() {
	snap := b.registry.Snapshot()
	payload, err := json.Marshal(snap)
	if err != nil {
		b.logError("marshalling status snapshot", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.Status(), payload, qosCommands, true); err != nil {
		b.logError("publishing status", err)
	}
}

// nudgeStaleSensors asks the device for readings when the stream has
// gone quiet on a live link. One nudge per stale period.
func (b *Bridge) nudgeStaleSensors() {
	if !b.link.IsConnected() {
		return
	}
	if !b.registry.Snapshot().SensorsStale {
		return
	}

	now := time.Now().Unix()
	if last := b.lastNudge.Load(); last > 0 && now-last < int64(b.sensorStaleAfter/time.Second) {
		return
	}
	b.lastNudge.Store(now)

	b.logDebug("sensor stream stale, requesting readings")
	if err := b.link.Send(b.ctx, wire.GetSensorsToken().Encode()); err != nil {
		b.logDebug("sensor nudge failed", "error", err)
	}
}

// publishEvent marshals and publishes one event message.
func (b *Bridge) publishEvent(topic string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		b.logError("marshalling event", err)
		return
	}
	if err := b.mqtt.Publish(topic, payload, qosCommands, false); err != nil {
		b.logError("publishing event", err)
	}
}

// observeCommand bumps the command outcome counter.
func (b *Bridge) observeCommand(outcome string) {
	if m := b.metrics; m != nil {
		m.commandsTotal.WithLabelValues(outcome).Inc()
	}
}

// observeReading updates the sensor gauges.
func (b *Bridge) observeReading(r *device.SensorReading) {
	m := b.metrics
	if m == nil {
		return
	}
	if r.WeightKg != nil {
		m.hopperWeightKg.Set(*r.WeightKg)
	}
	if r.BatteryPct != nil {
		m.batteryPct.Set(*r.BatteryPct)
	}
	if r.FeedTempC != nil {
		m.feedTempC.Set(*r.FeedTempC)
	}
}

// LinkStats returns current device link statistics.
func (b *Bridge) LinkStats() LinkStats {
	return b.link.Stats()
}

// ActiveSession returns the running feed session ID, or "".
func (b *Bridge) ActiveSession() string {
	id, _ := b.activeSessionInfo()
	return id
}

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.getLogger().Debug(msg, keysAndValues...)
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.getLogger().Info(msg, keysAndValues...)
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	b.getLogger().Warn(msg, keysAndValues...)
}

func (b *Bridge) logError(msg string, err error) {
	b.getLogger().Error(msg, "error", err)
}
