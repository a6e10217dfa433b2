package controller

import (
	"strconv"
	"time"

	"github.com/pondlogic/feeder-core/internal/feeder"
	"github.com/pondlogic/feeder-core/internal/hal"
	"github.com/pondlogic/feeder-core/internal/wire"
)

const (
	// analogSamples per channel per sweep. Averaging flattens ADC
	// jitter on the long sensor leads.
	analogSamples = 50

	// weightSamples per load cell read. The HX711 is slow, so the
	// burst stays small.
	weightSamples = 5
)

// Plausibility bounds. Values outside the clamp ranges are pinned to
// the edge; temperatures outside the sensor's physical range and
// weights far below zero are discarded instead.
const (
	voltageMaxV = 30.0
	currentMinA = -10.0
	currentMaxA = 10.0
	tempMinC    = -40.0
	tempMaxC    = 80.0

	// A slightly negative weight is tare drift and reads as empty; a
	// very negative one means the calibration is nonsense.
	weightFloorKg = -0.1
)

// battery capacity used for the runtime estimate in status frames.
const batteryCapacityAh = 7.0

// poll runs one full sensor sweep and replaces the current reading.
// Each analog channel is sampled analogSamples times and averaged;
// failed or implausible values leave their field nil rather than
// carrying garbage. Auto-fan and alert checks run on the new reading.
func (c *Controller) poll(now time.Time) {
	r := &feeder.SensorReading{At: now.UTC()}

	if v, ok := c.averagedAnalog(hal.ChannelLoadVoltage, hal.VoltsFromRaw); ok {
		r.LoadVoltageV = feeder.Float(clamp(v, 0, voltageMaxV))
	}
	if v, ok := c.averagedAnalog(hal.ChannelLoadCurrent, hal.AmpsFromRaw); ok {
		r.LoadCurrentA = feeder.Float(clamp(v, currentMinA, currentMaxA))
	}
	if v, ok := c.averagedAnalog(hal.ChannelSolarVoltage, hal.VoltsFromRaw); ok {
		r.SolarVoltageV = feeder.Float(clamp(v, 0, voltageMaxV))
	}
	if v, ok := c.averagedAnalog(hal.ChannelSolarCurrent, hal.AmpsFromRaw); ok {
		r.SolarCurrentA = feeder.Float(clamp(v, currentMinA, currentMaxA))
	}
	if v, ok := c.averagedAnalog(hal.ChannelSoilMoisture, hal.SoilPctFromRaw); ok {
		r.SoilMoisturePct = feeder.Float(v)
	}

	if t, h, err := c.board.ReadClimate(hal.ClimateFeedHopper); err == nil {
		if t >= tempMinC && t <= tempMaxC {
			r.FeedTempC = feeder.Float(t)
		}
		r.FeedHumidityPct = feeder.Float(clamp(h, 0, 100))
	} else {
		c.logger.Debug("hopper climate read failed", "error", err)
	}
	if t, h, err := c.board.ReadClimate(hal.ClimateControlBox); err == nil {
		if t >= tempMinC && t <= tempMaxC {
			r.ControlTempC = feeder.Float(t)
		}
		r.ControlHumidityPct = feeder.Float(clamp(h, 0, 100))
	} else {
		c.logger.Debug("control climate read failed", "error", err)
	}

	if kg, ok := c.readWeightKg(); ok {
		r.WeightKg = feeder.Float(kg)
	}

	r.FillDerived()
	r.UptimeMS = feeder.Int64(c.uptimeMS(now))
	c.reading = r

	c.autoFan(now)
	c.checkAlerts(now)
}

// averagedAnalog samples one channel analogSamples times, converts
// each sample with decode and averages the results. Failed samples
// are skipped; ok is false when every sample failed.
func (c *Controller) averagedAnalog(ch hal.AnalogChannel, decode func(int) float64) (float64, bool) {
	var (
		sum float64
		n   int
	)
	for i := 0; i < analogSamples; i++ {
		raw, err := c.board.ReadAnalog(ch)
		if err != nil {
			continue
		}
		sum += decode(raw)
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// readWeightKg reads the hopper weight through the current
// calibration. ok is false when the cell is unreadable or the value
// is below the plausibility floor.
func (c *Controller) readWeightKg() (float64, bool) {
	raw, ok := c.readWeightRawAvg()
	if !ok {
		return 0, false
	}
	kg := c.cal.WeightFromRaw(raw) / 1000.0
	if kg < weightFloorKg {
		return 0, false
	}
	if kg < 0 {
		kg = 0
	}
	return kg, true
}

func (c *Controller) readWeightRawAvg() (float64, bool) {
	var (
		sum float64
		n   int
	)
	for i := 0; i < weightSamples; i++ {
		raw, err := c.board.ReadWeightRaw()
		if err != nil {
			continue
		}
		sum += float64(raw)
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// emitData writes one DATA frame with the current reading and output
// states. The first call before any sweep polls on demand.
func (c *Controller) emitData(now time.Time) {
	if c.reading == nil {
		c.poll(now)
	}
	p := wire.DataPayload{
		Reading:       c.reading,
		LEDOn:         c.outputs[feeder.TargetLED].on,
		FanOn:         c.outputs[feeder.TargetFan].on,
		BlowerOn:      c.outputs[feeder.TargetBlower].on,
		ActuatorState: c.actuatorStateWord(),
		AugerState:    c.augerStateWord(),
		UptimeSec:     c.uptimeMS(now) / 1000,
	}
	c.emit(p.Encode())
}

// emitStatus writes one status frame: the reading plus the device's
// own power summary.
func (c *Controller) emitStatus(now time.Time) {
	if c.reading == nil {
		c.poll(now)
	}
	r := c.reading
	p := wire.StatusPayload{
		Reading:  r,
		UptimeMS: c.uptimeMS(now),
	}
	if r.BatteryPct != nil {
		p.Health = healthWord(*r.BatteryPct)
	}
	if r.LoadVoltageV != nil && r.LoadCurrentA != nil {
		p.PowerW = feeder.Float(*r.LoadVoltageV * *r.LoadCurrentA)
		if *r.LoadCurrentA > 0 && r.BatteryPct != nil {
			p.RuntimeHours = feeder.Float(batteryCapacityAh * *r.BatteryPct / 100 / *r.LoadCurrentA)
		}
	}
	c.emit(p.Encode())
}

func (c *Controller) emitVerbose(now time.Time) {
	weight := 0.0
	if c.reading != nil && c.reading.WeightKg != nil {
		weight = *c.reading.WeightKg
	}
	status := "Idle"
	switch {
	case c.feed != nil:
		status = "Feeding"
	case c.outputs[feeder.TargetAuger].on:
		status = "Auger_Active"
	case c.outputs[feeder.TargetActuator].on:
		status = "Actuator_Active"
	case c.outputs[feeder.TargetBlower].on:
		status = "Blower_Active"
	}
	c.emit(wire.LogLine(c.uptimeMS(now), formatVerbose(weight, status)))
}

func formatVerbose(weightKg float64, status string) string {
	return "WEIGHT:" + strconv.FormatFloat(weightKg, 'f', 2, 64) + ",STATUS:" + status
}

func (c *Controller) augerStateWord() string {
	st := c.outputs[feeder.TargetAuger]
	switch {
	case !st.on:
		return wire.StateStopped
	case c.feed != nil && st.direction == feeder.DirectionForward:
		return wire.StateFeeding
	case st.direction == feeder.DirectionReverse:
		return wire.StateBackward
	default:
		return wire.StateForward
	}
}

func (c *Controller) actuatorStateWord() string {
	st := c.outputs[feeder.TargetActuator]
	switch {
	case !st.on:
		return wire.StateStopped
	case st.direction == feeder.DirectionUp:
		return wire.StateOpening
	default:
		return wire.StateClosing
	}
}

// healthWord buckets the battery charge the way the status consumers
// expect it.
func healthWord(socPct float64) string {
	switch {
	case socPct >= 80:
		return "excellent"
	case socPct >= 60:
		return "good"
	case socPct >= 30:
		return "fair"
	default:
		return "poor"
	}
}
