package controller

import (
	"time"

	"github.com/pondlogic/feeder-core/internal/feeder"
	"github.com/pondlogic/feeder-core/internal/hal"
	"github.com/pondlogic/feeder-core/internal/wire"
)

const (
	// feedTimeout aborts a weight-target cycle that is not reaching
	// its target, e.g. a jammed auger or an empty hopper.
	feedTimeout = 30 * time.Second

	// progressInterval paces FEED_PROGRESS frames.
	progressInterval = time.Second
)

type feedMode int

const (
	feedByWeight feedMode = iota
	feedBySequence
)

// Sequence phases in execution order: lid up, auger run, lid down,
// blower clear. Zero-duration phases are skipped.
type feedPhase int

const (
	phaseLidUp feedPhase = iota
	phaseAuger
	phaseLidDown
	phaseBlower
	phaseDone
)

// feedMachine tracks one running feed cycle. The loop steps it every
// stepInterval until it finishes or something interrupts it.
type feedMachine struct {
	mode         feedMode
	targetG      float64
	initialKg    float64
	hasInitial   bool
	startedAt    time.Time
	lastProgress time.Time

	// sequence mode only
	seq      feeder.FeedSequence
	phase    feedPhase
	phaseEnd time.Time
}

// startWeightFeed begins a weight-target cycle: run the auger forward
// until the hopper has lost grams, the timeout fires, or someone
// interferes.
func (c *Controller) startWeightFeed(grams, initialKg float64, now time.Time) error {
	if err := c.runMotor(feeder.TargetAuger, hal.MotorForward, c.settings.AugerSpeedForward, 0, now); err != nil {
		return err
	}
	c.feed = &feedMachine{
		mode:         feedByWeight,
		targetG:      grams,
		initialKg:    initialKg,
		hasInitial:   true,
		startedAt:    now,
		lastProgress: now,
	}
	c.logger.Info("feed started", "target_g", grams, "initial_kg", initialKg)
	return nil
}

// startSequenceFeed begins a four-phase timed cycle. The load cell is
// read best-effort so the completion report can still state how much
// actually left the hopper.
func (c *Controller) startSequenceFeed(seq feeder.FeedSequence, now time.Time) {
	m := &feedMachine{
		mode:         feedBySequence,
		targetG:      seq.TargetG,
		startedAt:    now,
		lastProgress: now,
		seq:          seq,
		phase:        phaseLidUp,
	}
	if kg, ok := c.readWeightKg(); ok {
		m.initialKg = kg
		m.hasInitial = true
	}
	c.feed = m
	c.logger.Info("feed sequence started",
		"target_g", seq.TargetG,
		"up_sec", seq.ActuatorUpSec, "down_sec", seq.ActuatorDownSec,
		"auger_sec", seq.AugerSec, "blower_sec", seq.BlowerSec)
	c.advanceSequence(now)
}

// stepFeed advances the running cycle by one housekeeping tick.
func (c *Controller) stepFeed(now time.Time) {
	m := c.feed
	if m == nil {
		return
	}

	switch m.mode {
	case feedByWeight:
		kg, ok := c.readWeightKg()
		if ok && (m.initialKg-kg)*1000 >= m.targetG {
			c.finishFeed(wire.ReasonTargetReached, now)
			return
		}
		if now.Sub(m.startedAt) >= feedTimeout {
			c.finishFeed(wire.ReasonTimeout, now)
			return
		}
		if now.Sub(m.lastProgress) >= progressInterval {
			m.lastProgress = now
			weight := m.initialKg
			dispensedG := 0.0
			if ok {
				weight = kg
				dispensedG = (m.initialKg - kg) * 1000
			}
			c.emit(wire.FeedProgress{
				WeightKg:    weight,
				TargetG:     m.targetG,
				ProgressPct: clamp(dispensedG/m.targetG*100, 0, 100),
				UptimeMS:    c.uptimeMS(now),
			}.Encode())
		}

	case feedBySequence:
		if now.Before(m.phaseEnd) {
			if now.Sub(m.lastProgress) >= progressInterval {
				m.lastProgress = now
				weight := m.initialKg
				if kg, ok := c.readWeightKg(); ok {
					weight = kg
				}
				c.emit(wire.FeedProgress{
					WeightKg:    weight,
					TargetG:     m.targetG,
					ProgressPct: float64(m.phase) * 25,
					UptimeMS:    c.uptimeMS(now),
				}.Encode())
			}
			return
		}
		m.phase++
		c.advanceSequence(now)
	}
}

// advanceSequence enters the current phase, skipping zero-duration
// phases, and finishes the cycle after the last one.
func (c *Controller) advanceSequence(now time.Time) {
	m := c.feed
	for {
		var dur float64
		switch m.phase {
		case phaseLidUp:
			dur = m.seq.ActuatorUpSec
		case phaseAuger:
			dur = m.seq.AugerSec
		case phaseLidDown:
			dur = m.seq.ActuatorDownSec
		case phaseBlower:
			dur = m.seq.BlowerSec
		default:
			c.finishFeed(wire.ReasonTargetReached, now)
			return
		}
		if dur <= 0 {
			m.phase++
			continue
		}
		if err := c.enterPhase(m.phase, now); err != nil {
			c.boardFault(err, now)
			c.finishFeed(wire.ReasonManual, now)
			return
		}
		m.phaseEnd = now.Add(time.Duration(dur * float64(time.Second)))
		return
	}
}

// enterPhase stops whatever the previous phase was running and starts
// the phase's motor.
func (c *Controller) enterPhase(p feedPhase, now time.Time) error {
	if err := c.stopFeedMotors(); err != nil {
		return err
	}
	switch p {
	case phaseLidUp:
		return c.runMotor(feeder.TargetActuator, hal.MotorForward, c.settings.ActuatorSpeed, 0, now)
	case phaseAuger:
		return c.runMotor(feeder.TargetAuger, hal.MotorForward, c.settings.AugerSpeedForward, 0, now)
	case phaseLidDown:
		return c.runMotor(feeder.TargetActuator, hal.MotorReverse, c.settings.ActuatorSpeed, 0, now)
	case phaseBlower:
		return c.runMotor(feeder.TargetBlower, hal.MotorForward, c.settings.BlowerSpeed, 0, now)
	}
	return nil
}

// finishFeed ends the running cycle: stop the motors, read the final
// weight and report the outcome.
func (c *Controller) finishFeed(reason string, now time.Time) {
	m := c.feed
	if m == nil {
		return
	}
	c.feed = nil

	if err := c.stopFeedMotors(); err != nil {
		c.logger.Error("feed motor stop failed", "error", err)
	}

	finalKg := m.initialKg
	if kg, ok := c.readWeightKg(); ok {
		finalKg = kg
	}
	actualG := 0.0
	if m.hasInitial {
		actualG = (m.initialKg - finalKg) * 1000
		if actualG < 0 {
			actualG = 0
		}
	}

	c.emit(wire.FeedComplete{
		TargetG:         m.targetG,
		ActualG:         actualG,
		InitialWeightKg: m.initialKg,
		FinalWeightKg:   finalKg,
		DurationMS:      now.Sub(m.startedAt).Milliseconds(),
		Reason:          reason,
		UptimeMS:        c.uptimeMS(now),
	}.Encode())
	c.logger.Info("feed finished",
		"reason", reason, "target_g", m.targetG, "actual_g", actualG,
		"duration", now.Sub(m.startedAt))
}

// interruptFeed ends the cycle as manually stopped when an explicit
// command takes over one of the motors a feed drives.
func (c *Controller) interruptFeed(target feeder.Target, now time.Time) {
	if c.feed == nil {
		return
	}
	switch target {
	case feeder.TargetAuger, feeder.TargetBlower, feeder.TargetActuator:
		c.finishFeed(wire.ReasonManual, now)
	}
}

func (c *Controller) stopFeedMotors() error {
	var first error
	for _, t := range []feeder.Target{feeder.TargetAuger, feeder.TargetActuator, feeder.TargetBlower} {
		if err := c.runMotor(t, hal.MotorStop, 0, 0, time.Time{}); err != nil && first == nil {
			first = err
		}
	}
	return first
}
