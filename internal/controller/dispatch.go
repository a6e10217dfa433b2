package controller

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/pondlogic/feeder-core/internal/feeder"
	"github.com/pondlogic/feeder-core/internal/hal"
	"github.com/pondlogic/feeder-core/internal/wire"
)

// Device-side FEED range. Larger requests are refused regardless of
// what the sender considers sane.
const (
	minFeedG = 1.0
	maxFeedG = 1000.0
)

// dispatch parses one command line and executes it, emitting the ACK
// or NAK reply. Every accepted command is acknowledged with the
// token's canonical echo, so senders can match replies byte for byte
// against what they wrote.
func (c *Controller) dispatch(line string, now time.Time) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if c.verbose {
		c.emit(wire.CmdEchoLine(c.uptimeMS(now), line))
	}

	tok, err := wire.ParseToken(line)
	if err != nil {
		echo, reason := nakFor(line)
		c.emit(wire.NakLine(echo, reason))
		c.logger.Debug("rejected command", "line", line, "error", err)
		return
	}

	echo := tok.Encode()
	switch tok.Kind {
	case wire.TokenRelay:
		c.execRelay(tok, echo, now)
	case wire.TokenAuger:
		c.execAuger(tok, echo, now)
	case wire.TokenBlower:
		c.execBlower(tok, echo, now)
	case wire.TokenActuator:
		c.execActuator(tok, echo, now)
	case wire.TokenFeed:
		c.execFeed(tok, echo, now)
	case wire.TokenCal:
		c.execCal(tok, echo, now)
	case wire.TokenConfig:
		c.execConfig(tok, echo)
	case wire.TokenTiming:
		c.execTiming(tok, echo)
	case wire.TokenGet:
		c.execGet(tok, now)
	case wire.TokenLog:
		c.execLog(tok, echo)
	case wire.TokenStop:
		c.execStop(echo, now)
	}
}

// nakFor maps an unparseable line to the reply vocabulary: the echo
// names the command family with ? standing in for the bad part, and
// the reason is the family's rejection text.
func nakFor(line string) (echo, reason string) {
	prefix, _, _ := strings.Cut(line, ":")
	switch prefix {
	case "R":
		return "R:?", "INVALID_RELAY_CMD"
	case "G":
		return "G:?", "INVALID_AUGER_CMD"
	case "B":
		return "B:?", "INVALID_BLOWER_CMD"
	case "A":
		return "A:?", "INVALID_ACTUATOR_CMD"
	case "FEED":
		if strings.HasPrefix(line, "FEED:SEQ") {
			return "FEED:SEQ", "Invalid_Format"
		}
		return "FEED", "Invalid amount. Use 1-1000 grams"
	case "CAL":
		if strings.HasPrefix(line, "CAL:weight") {
			return "CAL:weight", "INVALID_WEIGHT"
		}
		return "CAL:?", "INVALID_CAL_CMD"
	case "CFG":
		return "CFG:?", "INVALID_CONFIG"
	case "TIMING":
		return "TIMING", "Invalid format. Use TIMING:up:down:auger:blower"
	case "GET":
		return "GET:?", "INVALID_GET_CMD"
	case "LOG":
		return "LOG:?", "INVALID_LOG_CMD"
	case "STOP":
		return "STOP:?", "INVALID_STOP_CMD"
	default:
		return prefix, "UNKNOWN_COMMAND"
	}
}

func (c *Controller) execRelay(tok wire.Token, echo string, now time.Time) {
	var (
		detail string
		err    error
	)
	switch tok.Code {
	case wire.RelayAllOff:
		err = firstErr(c.setRelay(feeder.TargetFan, false), c.setRelay(feeder.TargetLED, false))
		c.fanOverride = true
		detail = "ALL_OFF"
	case wire.RelayFanOn:
		err = c.setRelay(feeder.TargetFan, true)
		c.fanOverride = true
		detail = "FAN_ON"
	case wire.RelayFanOff:
		err = c.setRelay(feeder.TargetFan, false)
		c.fanOverride = true
		detail = "FAN_OFF"
	case wire.RelayLEDOn:
		err = c.setRelay(feeder.TargetLED, true)
		detail = "LED_ON"
	case wire.RelayLEDOff:
		err = c.setRelay(feeder.TargetLED, false)
		detail = "LED_OFF"
	case wire.RelayBothOn:
		err = firstErr(c.setRelay(feeder.TargetFan, true), c.setRelay(feeder.TargetLED, true))
		c.fanOverride = true
		detail = "ALL_ON"
	case wire.RelayFanToggle:
		on := !c.outputs[feeder.TargetFan].on
		err = c.setRelay(feeder.TargetFan, on)
		c.fanOverride = true
		detail = "FAN_TOGGLE_OFF"
		if on {
			detail = "FAN_TOGGLE_ON"
		}
	case wire.RelayLEDToggle:
		on := !c.outputs[feeder.TargetLED].on
		err = c.setRelay(feeder.TargetLED, on)
		detail = "LED_TOGGLE_OFF"
		if on {
			detail = "LED_TOGGLE_ON"
		}
	}
	if err != nil {
		c.boardFault(err, now)
		return
	}
	c.emit(wire.AckLine(echo, detail))
}

func (c *Controller) execAuger(tok wire.Token, echo string, now time.Time) {
	if tok.Name == wire.NameSpeed {
		c.settings.AugerSpeedForward = int(tok.Value)
		c.persist()
		c.emit(wire.AckLine(echo, "AUGER_SPEED_SET"))
		return
	}

	var (
		dir    = hal.MotorStop
		duty   int
		detail string
	)
	switch tok.Code {
	case wire.AugerStop:
		detail = "AUGER_STOP"
	case wire.AugerForward:
		dir, duty, detail = hal.MotorForward, c.settings.AugerSpeedForward, "AUGER_FORWARD"
	case wire.AugerReverse:
		dir, duty, detail = hal.MotorReverse, c.settings.AugerSpeedReverse, "AUGER_BACKWARD"
	case wire.AugerForwardHalf:
		dir, duty, detail = hal.MotorForward, halfDuty, "AUGER_FORWARD_HALF"
	case wire.AugerForwardFull:
		dir, duty, detail = hal.MotorForward, feeder.PWMMax, "AUGER_FORWARD_FULL"
	case wire.AugerReverseHalf:
		dir, duty, detail = hal.MotorReverse, halfDuty, "AUGER_REVERSE_HALF"
	case wire.AugerReverseFull:
		dir, duty, detail = hal.MotorReverse, feeder.PWMMax, "AUGER_REVERSE_FULL"
	}

	c.interruptFeed(feeder.TargetAuger, now)
	if err := c.runMotor(feeder.TargetAuger, dir, duty, 0, now); err != nil {
		c.boardFault(err, now)
		return
	}
	c.emit(wire.AckLine(echo, detail))
}

func (c *Controller) execBlower(tok wire.Token, echo string, now time.Time) {
	c.interruptFeed(feeder.TargetBlower, now)

	if tok.HasValue {
		duty := int(tok.Value)
		dir := hal.MotorForward
		if duty <= 0 {
			dir = hal.MotorStop
		}
		if err := c.runMotor(feeder.TargetBlower, dir, duty, 0, now); err != nil {
			c.boardFault(err, now)
			return
		}
		c.emit(wire.AckLine(echo, fmt.Sprintf("BLOWER_SPEED_%d%%", duty*100/feeder.PWMMax)))
		return
	}

	var (
		dir    = hal.MotorStop
		duty   int
		detail string
	)
	switch tok.Code {
	case wire.BlowerOff:
		detail = "BLOWER_OFF"
	case wire.BlowerOn:
		dir, duty, detail = hal.MotorForward, c.settings.BlowerSpeed, "BLOWER_ON"
	case wire.BlowerToggle:
		if c.outputs[feeder.TargetBlower].on {
			detail = "BLOWER_TOGGLE_OFF"
		} else {
			dir, duty, detail = hal.MotorForward, c.settings.BlowerSpeed, "BLOWER_TOGGLE_ON"
		}
	}
	if err := c.runMotor(feeder.TargetBlower, dir, duty, 0, now); err != nil {
		c.boardFault(err, now)
		return
	}
	c.emit(wire.AckLine(echo, detail))
}

func (c *Controller) execActuator(tok wire.Token, echo string, now time.Time) {
	c.interruptFeed(feeder.TargetActuator, now)

	var (
		dir    = hal.MotorStop
		detail = "ACTUATOR_STOP"
	)
	switch tok.Code {
	case wire.ActuatorUp:
		dir, detail = hal.MotorForward, "ACTUATOR_OPEN"
	case wire.ActuatorDown:
		dir, detail = hal.MotorReverse, "ACTUATOR_CLOSE"
	}
	var duty int
	if dir != hal.MotorStop {
		duty = c.settings.ActuatorSpeed
	}
	var runFor time.Duration
	if tok.HasValue {
		runFor = time.Duration(tok.Value * float64(time.Second))
	}
	if err := c.runMotor(feeder.TargetActuator, dir, duty, runFor, now); err != nil {
		c.boardFault(err, now)
		return
	}
	c.emit(wire.AckLine(echo, detail))
}

func (c *Controller) execFeed(tok wire.Token, echo string, now time.Time) {
	if c.feed != nil {
		c.emit(wire.NakLine(echo, "FEED_IN_PROGRESS"))
		return
	}

	if tok.Sequence != nil {
		c.startSequenceFeed(*tok.Sequence, now)
		c.emit(wire.AckLine(echo, "FEED_SEQUENCE_STARTED"))
		return
	}

	grams := tok.Value
	if tok.Name != "" {
		grams, _ = c.settings.PresetGrams(feeder.FeedPreset(tok.Name))
	}
	if grams < minFeedG || grams > maxFeedG {
		c.emit(wire.NakLine("FEED", "Invalid amount. Use 1-1000 grams"))
		return
	}

	initial, ok := c.readWeightKg()
	if !ok {
		c.emit(wire.NakLine(echo, "WEIGHT_UNAVAILABLE"))
		return
	}
	if err := c.startWeightFeed(grams, initial, now); err != nil {
		c.boardFault(err, now)
		return
	}
	c.emit(wire.AckLine(echo, "FEED_STARTED"))
}

func (c *Controller) execCal(tok wire.Token, echo string, now time.Time) {
	switch tok.Name {
	case wire.NameTare:
		raw, ok := c.readWeightRawAvg()
		if !ok {
			c.emit(wire.NakLine(echo, "WEIGHT_UNAVAILABLE"))
			return
		}
		c.cal.Offset = raw
		c.persist()
		c.emit(wire.AckLine(echo, "WEIGHT_TARED"))

	case wire.NameWeight:
		raw, ok := c.readWeightRawAvg()
		if !ok {
			c.emit(wire.NakLine(echo, "WEIGHT_UNAVAILABLE"))
			return
		}
		scale := (raw - c.cal.Offset) / tok.Value
		if scale <= 0 || math.IsInf(scale, 0) || math.IsNaN(scale) {
			c.emit(wire.NakLine("CAL:weight", "INVALID_WEIGHT"))
			return
		}
		c.cal.Scale = scale
		c.persist()
		c.emit(wire.AckLine(echo, "CALIBRATION_SET"))

	case wire.NameReset:
		c.cal = feeder.DefaultCalibration()
		c.persist()
		c.emit(wire.AckLine(echo, "CALIBRATION_RESET"))
	}
}

func (c *Controller) execConfig(tok wire.Token, echo string) {
	if !c.applyConfig(tok.Name, tok.Value) {
		c.emit(wire.NakLine("CFG:?", "INVALID_CONFIG"))
		return
	}
	c.persist()
	c.emit(wire.AckLine(echo, ""))
}

// applyConfig validates and applies one CFG key. Reports whether the
// key was known and the value in range.
func (c *Controller) applyConfig(key string, v float64) bool {
	pwmOK := v >= feeder.PWMMin && v <= feeder.PWMMax
	gramsOK := v >= minFeedG && v <= maxFeedG

	switch key {
	case wire.CfgAugerSpeed:
		if !pwmOK {
			return false
		}
		c.settings.AugerSpeedForward = int(v)
	case wire.CfgAugerSpeedRev:
		if !pwmOK {
			return false
		}
		c.settings.AugerSpeedReverse = int(v)
	case wire.CfgBlowerSpeed:
		if !pwmOK {
			return false
		}
		c.settings.BlowerSpeed = int(v)
	case wire.CfgActuatorSpeed:
		if !pwmOK {
			return false
		}
		c.settings.ActuatorSpeed = int(v)
	case wire.CfgTempThreshold:
		if v <= 0 || v >= 100 {
			return false
		}
		c.settings.TempThresholdC = v
	case wire.CfgTempHysteresis:
		if v <= 0 || v >= 20 {
			return false
		}
		c.settings.TempHysteresisC = v
	case wire.CfgAutoFan:
		if v != 0 && v != 1 {
			return false
		}
		c.settings.AutoFanEnabled = v == 1
	case wire.CfgSensorInterval:
		if v < 250 || v > 60000 {
			return false
		}
		c.settings.SensorIntervalMS = int(v)
	case wire.CfgOutputInterval:
		if v < 500 || v > 60000 {
			return false
		}
		c.settings.OutputIntervalMS = int(v)
	case wire.CfgFeedSmall:
		if !gramsOK {
			return false
		}
		c.settings.FeedSmallG = v
	case wire.CfgFeedMedium:
		if !gramsOK {
			return false
		}
		c.settings.FeedMediumG = v
	case wire.CfgFeedLarge:
		if !gramsOK {
			return false
		}
		c.settings.FeedLargeG = v
	default:
		return false
	}
	return true
}

func (c *Controller) execTiming(tok wire.Token, echo string) {
	t := tok.Timing
	c.settings.ActuatorUpSec = t.UpSec
	c.settings.ActuatorDownSec = t.DownSec
	c.settings.AugerDurationSec = t.AugerSec
	c.settings.BlowerDurationSec = t.BlowerSec
	c.persist()
	c.emit(wire.AckLine(echo, "Timing_Updated"))
}

func (c *Controller) execGet(tok wire.Token, now time.Time) {
	switch tok.Name {
	case wire.NameSensors:
		c.emitData(now)
	case wire.NameStatus:
		c.emitStatus(now)
	}
}

func (c *Controller) execLog(tok wire.Token, echo string) {
	c.verbose = tok.Code == 1
	detail, msg := "LOG_OFF", "Verbose logging disabled"
	if c.verbose {
		detail, msg = "LOG_ON", "Verbose logging enabled"
	}
	c.emit(wire.AckLine(echo, detail))
	c.emit(wire.InfoLine(msg))
}

func (c *Controller) execStop(echo string, now time.Time) {
	if c.feed != nil {
		c.finishFeed(wire.ReasonManual, now)
	}
	c.stopAllMotors()
	if err := firstErr(c.setRelay(feeder.TargetFan, false), c.setRelay(feeder.TargetLED, false)); err != nil {
		c.boardFault(err, now)
		return
	}
	c.fanOverride = true
	c.emit(wire.AckLine(echo, "ALL_STOPPED"))
}

// boardFault reports a failed output write: the command made it
// through parsing but the board refused it, so the sender gets an
// ERROR frame rather than a NAK.
func (c *Controller) boardFault(err error, now time.Time) {
	c.logger.Error("board write failed", "error", err)
	c.emit(wire.ErrorLine(c.uptimeMS(now), "Output failure: "+err.Error()))
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
