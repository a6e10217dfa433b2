package controller

import (
	"fmt"
	"time"

	"github.com/pondlogic/feeder-core/internal/feeder"
	"github.com/pondlogic/feeder-core/internal/hal"
	"github.com/pondlogic/feeder-core/internal/wire"
)

// Temperature zones for the auto-fan hysteresis.
const (
	zoneCold    = -1
	zoneNeutral = 0
	zoneHot     = 1
)

// Alert thresholds. Raise and clear levels differ so a value hovering
// at the line does not flap.
const (
	batteryLowV   = 11.0
	batteryClearV = 11.5

	weightLowKg   = 0.5
	weightClearKg = 0.7

	// high-temperature alert fires this far above the fan threshold
	tempAlertMarginC = 5.0
)

// checkAutoStops stops motors whose timed run has elapsed or whose
// runtime limit is exceeded. A stopped feed motor ends the running
// cycle too; a feed that needs the motor longer than its limit is a
// fault, not a use case.
func (c *Controller) checkAutoStops(now time.Time) {
	limits := []struct {
		target feeder.Target
		maxSec float64
		info   string
	}{
		{feeder.TargetActuator, c.settings.MaxActuatorRunSec, "Actuator_Auto_Stopped"},
		{feeder.TargetAuger, c.settings.MaxAugerRunSec, "Auger_Auto_Stopped"},
		{feeder.TargetBlower, c.settings.MaxBlowerRunSec, "Blower_Auto_Stopped"},
	}
	for _, l := range limits {
		st := c.outputs[l.target]
		if !st.on {
			continue
		}
		timedOut := !st.deadline.IsZero() && !now.Before(st.deadline)
		overrun := l.maxSec > 0 && now.Sub(st.startedAt).Seconds() >= l.maxSec
		if !timedOut && !overrun {
			continue
		}
		if err := c.runMotor(l.target, hal.MotorStop, 0, 0, now); err != nil {
			c.logger.Error("auto-stop failed", "target", l.target, "error", err)
			continue
		}
		c.emit(wire.InfoLine(l.info))
		c.logger.Warn("output auto-stopped", "target", l.target, "timed", timedOut)
		c.interruptFeed(l.target, now)
	}
}

// autoFan drives the enclosure fan from the temperature zone: on
// above the threshold, off once the temperature has fallen through
// the hysteresis band. A manual fan command holds the fan as set
// until the temperature crosses into the other zone.
func (c *Controller) autoFan(now time.Time) {
	r := c.reading
	if r == nil {
		return
	}
	temp, ok := enclosureTemp(r)
	if !ok {
		return
	}

	zone := c.fanZone
	switch {
	case temp > c.settings.TempThresholdC:
		zone = zoneHot
	case temp < c.settings.TempThresholdC-c.settings.TempHysteresisC:
		zone = zoneCold
	}
	if zone != c.fanZone {
		c.fanZone = zone
		c.fanOverride = false
	}

	if !c.settings.AutoFanEnabled || c.fanOverride {
		return
	}
	fanOn := c.outputs[feeder.TargetFan].on
	switch {
	case zone == zoneHot && !fanOn:
		if err := c.setRelay(feeder.TargetFan, true); err != nil {
			c.logger.Error("auto-fan on failed", "error", err)
			return
		}
		c.emit(wire.InfoLine("Auto_Fan_ON"))
	case zone == zoneCold && fanOn:
		if err := c.setRelay(feeder.TargetFan, false); err != nil {
			c.logger.Error("auto-fan off failed", "error", err)
			return
		}
		c.emit(wire.InfoLine("Auto_Fan_OFF"))
	}
}

// checkAlerts raises edge-triggered alerts from the current reading.
// Each alert fires once and re-arms only after its value recovers
// past the clear level.
func (c *Controller) checkAlerts(now time.Time) {
	r := c.reading
	if r == nil {
		return
	}
	if r.LoadVoltageV != nil {
		v := *r.LoadVoltageV
		c.updateAlert(wire.AlertLowBattery, v < batteryLowV, v >= batteryClearV,
			fmt.Sprintf("Battery at %.1fV", v), now)
	}
	if r.WeightKg != nil {
		kg := *r.WeightKg
		c.updateAlert(wire.AlertLowWeight, kg < weightLowKg, kg >= weightClearKg,
			fmt.Sprintf("Hopper at %.2fkg", kg), now)
	}
	if t, ok := enclosureTemp(r); ok {
		c.updateAlert(wire.AlertHighTemperature,
			t > c.settings.TempThresholdC+tempAlertMarginC, t <= c.settings.TempThresholdC,
			fmt.Sprintf("Enclosure at %.1fC", t), now)
	}
}

func (c *Controller) updateAlert(kind string, raise, clear bool, msg string, now time.Time) {
	switch {
	case raise && !c.alerts[kind]:
		c.alerts[kind] = true
		c.emit(wire.Alert{Type: kind, Message: msg, UptimeMS: c.uptimeMS(now)}.Encode())
		c.logger.Warn("alert raised", "type", kind, "msg", msg)
	case clear && c.alerts[kind]:
		c.alerts[kind] = false
		c.logger.Info("alert cleared", "type", kind)
	}
}

// enclosureTemp averages whichever DHT temperatures are valid.
func enclosureTemp(r *feeder.SensorReading) (float64, bool) {
	var (
		sum float64
		n   int
	)
	if r.FeedTempC != nil {
		sum += *r.FeedTempC
		n++
	}
	if r.ControlTempC != nil {
		sum += *r.ControlTempC
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
