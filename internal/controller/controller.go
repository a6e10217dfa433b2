package controller

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"time"

	"github.com/pondlogic/feeder-core/internal/feeder"
	"github.com/pondlogic/feeder-core/internal/hal"
)

const (
	// stepInterval is the housekeeping cadence: feed cycle progress,
	// auto-stop checks, the verbose stream.
	stepInterval = 100 * time.Millisecond

	// commandQueueSize bounds how many submitted lines can wait for
	// the loop. Submit drops beyond this rather than blocking.
	commandQueueSize = 16

	// halfDuty is the G:3 / G:5 preset.
	halfDuty = 128
)

// outputState tracks one output as last commanded. Relays use only
// on; motors carry duty, direction and the running clock for the
// auto-stop limits.
type outputState struct {
	on        bool
	pwm       int
	direction feeder.Direction
	startedAt time.Time
	deadline  time.Time // zero when no timed stop is scheduled
}

// Controller owns the device state and runs the single control loop.
// All fields are touched only from Run's goroutine; the outside world
// reaches in through Submit and the output writer.
type Controller struct {
	board  hal.Board
	out    io.Writer
	store  *Store
	logger feeder.Logger

	settings feeder.Settings
	cal      feeder.Calibration

	outputs map[feeder.Target]*outputState
	feed    *feedMachine
	reading *feeder.SensorReading

	verbose     bool
	start       time.Time
	lastVerbose time.Time

	fanZone     int
	fanOverride bool
	alerts      map[string]bool

	commands chan string
}

// New builds a controller around a board. Persisted settings and
// calibration are loaded from the store; a missing state file falls
// back to defaults. out receives the emitted frames, one per line;
// nil discards them.
func New(board hal.Board, out io.Writer, store *Store) (*Controller, error) {
	if out == nil {
		out = io.Discard
	}

	settings, cal, err := store.Load()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		settings = feeder.DefaultSettings()
		cal = feeder.DefaultCalibration()
	case err != nil:
		return nil, err
	}
	normalizeSettings(&settings)

	c := &Controller{
		board:    board,
		out:      out,
		store:    store,
		logger:   noopLogger{},
		settings: settings,
		cal:      cal,
		outputs:  make(map[feeder.Target]*outputState),
		start:    time.Now(),
		alerts:   make(map[string]bool),
		commands: make(chan string, commandQueueSize),
	}
	for _, t := range []feeder.Target{
		feeder.TargetLED, feeder.TargetFan,
		feeder.TargetAuger, feeder.TargetBlower, feeder.TargetActuator,
	} {
		c.outputs[t] = &outputState{}
	}
	return c, nil
}

// SetLogger sets the logger for the controller.
// Safe to call before Run only.
func (c *Controller) SetLogger(logger feeder.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Submit queues one command line for the loop. It never blocks: when
// the queue is full the line is dropped and logged.
func (c *Controller) Submit(line string) {
	select {
	case c.commands <- line:
	default:
		c.logger.Warn("command queue full, dropping line", "line", line)
	}
}

// Run drives the control loop until ctx is cancelled. Sensor sweeps,
// DATA emission and housekeeping each run on their own ticker; command
// lines interleave between ticks. On shutdown all motors are stopped.
func (c *Controller) Run(ctx context.Context) error {
	sensorTick := time.NewTicker(c.sensorEvery())
	defer sensorTick.Stop()
	outputTick := time.NewTicker(c.outputEvery())
	defer outputTick.Stop()
	stepTick := time.NewTicker(stepInterval)
	defer stepTick.Stop()

	c.logger.Info("controller running",
		"sensor_interval", c.sensorEvery(),
		"output_interval", c.outputEvery())
	c.poll(time.Now())

	for {
		select {
		case <-ctx.Done():
			c.stopAllMotors()
			c.logger.Info("controller stopped")
			return nil

		case line := <-c.commands:
			sensorBefore, outputBefore := c.sensorEvery(), c.outputEvery()
			c.dispatch(line, time.Now())
			if d := c.sensorEvery(); d != sensorBefore {
				sensorTick.Reset(d)
			}
			if d := c.outputEvery(); d != outputBefore {
				outputTick.Reset(d)
			}

		case now := <-sensorTick.C:
			c.poll(now)

		case now := <-outputTick.C:
			c.emitData(now)

		case now := <-stepTick.C:
			c.step(now)
		}
	}
}

// step is the 100ms housekeeping pass.
func (c *Controller) step(now time.Time) {
	c.stepFeed(now)
	c.checkAutoStops(now)
	if c.verbose && now.Sub(c.lastVerbose) >= time.Second {
		c.lastVerbose = now
		c.emitVerbose(now)
	}
}

func (c *Controller) sensorEvery() time.Duration {
	return time.Duration(c.settings.SensorIntervalMS) * time.Millisecond
}

func (c *Controller) outputEvery() time.Duration {
	return time.Duration(c.settings.OutputIntervalMS) * time.Millisecond
}

func (c *Controller) uptimeMS(now time.Time) int64 {
	return now.Sub(c.start).Milliseconds()
}

// emit writes one frame line to the output. Write failures are logged
// and otherwise ignored; the line stream has no delivery guarantee.
func (c *Controller) emit(line string) {
	if _, err := io.WriteString(c.out, line+"\n"); err != nil {
		c.logger.Debug("frame write failed", "error", err)
	}
}

// setRelay switches the LED or fan relay and records the new state.
func (c *Controller) setRelay(target feeder.Target, on bool) error {
	relay := hal.RelayFan
	if target == feeder.TargetLED {
		relay = hal.RelayLED
	}
	if err := c.board.SetRelay(relay, on); err != nil {
		return err
	}
	c.outputs[target].on = on
	return nil
}

// runMotor drives one motor and records duty, direction and the start
// time for auto-stop accounting. A positive runFor schedules a timed
// stop. MotorStop (or zero duty) clears the state back to idle.
func (c *Controller) runMotor(target feeder.Target, dir hal.MotorDirection, duty int, runFor time.Duration, now time.Time) error {
	if err := c.board.RunMotor(motorFor(target), dir, duty); err != nil {
		return err
	}
	st := c.outputs[target]
	if dir == hal.MotorStop || duty <= 0 {
		*st = outputState{}
		return nil
	}
	st.on = true
	st.pwm = duty
	st.direction = directionFor(target, dir)
	st.startedAt = now
	st.deadline = time.Time{}
	if runFor > 0 {
		st.deadline = now.Add(runFor)
	}
	return nil
}

func (c *Controller) stopAllMotors() {
	for _, t := range []feeder.Target{feeder.TargetAuger, feeder.TargetBlower, feeder.TargetActuator} {
		if err := c.runMotor(t, hal.MotorStop, 0, 0, time.Time{}); err != nil {
			c.logger.Error("motor stop failed", "target", t, "error", err)
		}
	}
}

// persist writes settings and calibration to the state file. Save
// failures are logged; the in-memory state stays authoritative.
func (c *Controller) persist() {
	if err := c.store.Save(c.settings, c.cal); err != nil {
		c.logger.Error("state save failed", "error", err)
	}
}

func motorFor(target feeder.Target) hal.Motor {
	switch target {
	case feeder.TargetBlower:
		return hal.MotorBlower
	case feeder.TargetActuator:
		return hal.MotorActuator
	default:
		return hal.MotorAuger
	}
}

// directionFor maps a motor direction onto the target's vocabulary:
// the actuator moves up and down, the auger forward and reverse, the
// blower only spins one way.
func directionFor(target feeder.Target, dir hal.MotorDirection) feeder.Direction {
	switch target {
	case feeder.TargetActuator:
		if dir == hal.MotorReverse {
			return feeder.DirectionDown
		}
		return feeder.DirectionUp
	case feeder.TargetBlower:
		return feeder.DirectionNone
	default:
		if dir == hal.MotorReverse {
			return feeder.DirectionReverse
		}
		return feeder.DirectionForward
	}
}

// normalizeSettings repairs interval values that would break the
// tickers, e.g. from a hand-edited state file.
func normalizeSettings(s *feeder.Settings) {
	def := feeder.DefaultSettings()
	if s.SensorIntervalMS <= 0 {
		s.SensorIntervalMS = def.SensorIntervalMS
	}
	if s.OutputIntervalMS <= 0 {
		s.OutputIntervalMS = def.OutputIntervalMS
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
