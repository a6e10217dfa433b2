package feeder

import (
	"time"

	"github.com/google/uuid"
)

// Target identifies one controllable output on the feeder.
type Target string

// Controllable targets.
//
// led and fan are relay outputs (on/off). auger, blower, and actuator
// are PWM motor outputs. system addresses the device as a whole
// (emergency stop).
const (
	TargetLED      Target = "led"
	TargetFan      Target = "fan"
	TargetAuger    Target = "auger"
	TargetBlower   Target = "blower"
	TargetActuator Target = "actuator"
	TargetSystem   Target = "system"
)

// validTargets is the set of recognised targets.
var validTargets = map[Target]bool{
	TargetLED:      true,
	TargetFan:      true,
	TargetAuger:    true,
	TargetBlower:   true,
	TargetActuator: true,
	TargetSystem:   true,
}

// IsValid reports whether the target is recognised.
func (t Target) IsValid() bool {
	return validTargets[t]
}

// ParseTarget converts a string to a Target.
// Returns ErrUnknownTarget for unrecognised input.
func ParseTarget(s string) (Target, error) {
	t := Target(s)
	if !t.IsValid() {
		return "", ErrUnknownTarget
	}
	return t, nil
}

// Action is a control verb applied to a target.
type Action string

// Control actions.
const (
	ActionOn      Action = "on"
	ActionOff     Action = "off"
	ActionToggle  Action = "toggle"
	ActionStop    Action = "stop"
	ActionForward Action = "forward"
	ActionReverse Action = "reverse"
	ActionUp      Action = "up"
	ActionDown    Action = "down"
	ActionPWM     Action = "pwm"
	ActionStopAll Action = "stop_all"
)

// Direction describes motor motion.
type Direction string

// Motor directions. DirectionNone applies to stopped motors and to
// plain relay outputs.
const (
	DirectionNone    Direction = ""
	DirectionForward Direction = "forward"
	DirectionReverse Direction = "reverse"
	DirectionUp      Direction = "up"
	DirectionDown    Direction = "down"
)

// PWM duty bounds for motor outputs.
const (
	PWMMin = 0
	PWMMax = 255
)

// ActuatorState is the current state of one output.
type ActuatorState struct {
	Target    Target    `json:"target"`
	On        bool      `json:"on"`
	PWM       int       `json:"pwm"`
	Direction Direction `json:"direction,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

// SensorReading is one snapshot of every sensor on the device.
//
// Fields are pointers: nil means the sensor failed to read (or the
// protocol frame omitted it) and the value must not be trusted.
// Derived fields (BatteryPct, Charging) are computed from the raw
// electrical readings.
type SensorReading struct {
	// DHT22 in the feed hopper
	FeedTempC       *float64 `json:"feed_temp_c,omitempty"`
	FeedHumidityPct *float64 `json:"feed_humidity_pct,omitempty"`

	// DHT22 in the control box
	ControlTempC       *float64 `json:"control_temp_c,omitempty"`
	ControlHumidityPct *float64 `json:"control_humidity_pct,omitempty"`

	// HX711 load cell under the hopper
	WeightKg *float64 `json:"weight_kg,omitempty"`

	// Capacitive soil moisture probe
	SoilMoisturePct *float64 `json:"soil_moisture_pct,omitempty"`

	// Power monitoring
	LoadVoltageV  *float64 `json:"load_voltage_v,omitempty"`
	LoadCurrentA  *float64 `json:"load_current_a,omitempty"`
	SolarVoltageV *float64 `json:"solar_voltage_v,omitempty"`
	SolarCurrentA *float64 `json:"solar_current_a,omitempty"`

	// Derived
	BatteryPct *float64 `json:"battery_pct,omitempty"`
	Charging   *bool    `json:"charging,omitempty"`

	// Device uptime in milliseconds at the moment of the reading
	UptimeMS *int64 `json:"uptime_ms,omitempty"`

	// At is when the reading was taken (bridge clock on receipt).
	At time.Time `json:"at"`
}

// Float returns a pointer to v. Convenience for building readings.
func Float(v float64) *float64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }

// Command is a validated control instruction for one target.
//
// Value carries the action's numeric argument where one applies: PWM
// duty for ActionPWM, run duration in seconds for timed up/down.
// HasValue distinguishes an explicit zero from no value.
type Command struct {
	ID       string    `json:"id"`
	Target   Target    `json:"target"`
	Action   Action    `json:"action"`
	Value    float64   `json:"value,omitempty"`
	HasValue bool      `json:"-"`
	Source   string    `json:"source,omitempty"`
	IssuedAt time.Time `json:"issued_at"`
}

// NewCommand builds a command with a fresh ID and timestamp.
func NewCommand(target Target, action Action, source string) Command {
	return Command{
		ID:       uuid.NewString(),
		Target:   target,
		Action:   action,
		Source:   source,
		IssuedAt: time.Now().UTC(),
	}
}

// WithValue returns a copy of the command carrying a numeric argument.
func (c Command) WithValue(v float64) Command {
	c.Value = v
	c.HasValue = true
	return c
}

// FeedPreset names a configured feed amount.
type FeedPreset string

// Feed presets. Gram values come from device settings
// (DefaultSettings: small 50g, medium 100g, large 200g).
const (
	FeedPresetSmall  FeedPreset = "small"
	FeedPresetMedium FeedPreset = "medium"
	FeedPresetLarge  FeedPreset = "large"
)

// IsValid reports whether the preset is recognised.
func (p FeedPreset) IsValid() bool {
	switch p {
	case FeedPresetSmall, FeedPresetMedium, FeedPresetLarge:
		return true
	}
	return false
}

// FeedSequence is an explicit four-phase feed cycle: lid up, auger run,
// lid down, blower clear. Durations are seconds.
type FeedSequence struct {
	TargetG         float64 `json:"target_g"`
	ActuatorUpSec   float64 `json:"actuator_up_sec"`
	ActuatorDownSec float64 `json:"actuator_down_sec"`
	AugerSec        float64 `json:"auger_sec"`
	BlowerSec       float64 `json:"blower_sec"`
}

// FeedRequest describes a feed cycle to start. Exactly one of Preset,
// Grams, or Sequence must be set.
type FeedRequest struct {
	SessionID   string        `json:"session_id"`
	Preset      FeedPreset    `json:"preset,omitempty"`
	Grams       float64       `json:"grams,omitempty"`
	Sequence    *FeedSequence `json:"sequence,omitempty"`
	Source      string        `json:"source,omitempty"`
	RequestedAt time.Time     `json:"requested_at"`
}

// NewFeedRequest builds a feed request with a fresh session ID.
func NewFeedRequest(source string) FeedRequest {
	return FeedRequest{
		SessionID:   uuid.NewString(),
		Source:      source,
		RequestedAt: time.Now().UTC(),
	}
}

// Settings are the device's tunable parameters, mirrored from the
// controller's persistent store. They correspond to the CFG: and
// TIMING: protocol operations.
type Settings struct {
	// Sampling and reporting cadence
	SensorIntervalMS int `json:"sensor_interval_ms" yaml:"sensor_interval_ms"`
	OutputIntervalMS int `json:"output_interval_ms" yaml:"output_interval_ms"`

	// Control-box cooling
	TempThresholdC  float64 `json:"temp_threshold_c" yaml:"temp_threshold_c"`
	TempHysteresisC float64 `json:"temp_hysteresis_c" yaml:"temp_hysteresis_c"`
	AutoFanEnabled  bool    `json:"auto_fan_enabled" yaml:"auto_fan_enabled"`

	// Motor speeds (PWM duty 0-255)
	AugerSpeedForward int `json:"auger_speed_forward" yaml:"auger_speed_forward"`
	AugerSpeedReverse int `json:"auger_speed_reverse" yaml:"auger_speed_reverse"`
	BlowerSpeed       int `json:"blower_speed" yaml:"blower_speed"`
	ActuatorSpeed     int `json:"actuator_speed" yaml:"actuator_speed"`

	// Feed presets (grams)
	FeedSmallG  float64 `json:"feed_small_g" yaml:"feed_small_g"`
	FeedMediumG float64 `json:"feed_medium_g" yaml:"feed_medium_g"`
	FeedLargeG  float64 `json:"feed_large_g" yaml:"feed_large_g"`

	// Feed cycle phase durations (seconds)
	ActuatorUpSec     float64 `json:"actuator_up_sec" yaml:"actuator_up_sec"`
	ActuatorDownSec   float64 `json:"actuator_down_sec" yaml:"actuator_down_sec"`
	AugerDurationSec  float64 `json:"auger_duration_sec" yaml:"auger_duration_sec"`
	BlowerDurationSec float64 `json:"blower_duration_sec" yaml:"blower_duration_sec"`

	// Auto-stop safety limits (seconds, 0 disables)
	MaxAugerRunSec    float64 `json:"max_auger_run_sec" yaml:"max_auger_run_sec"`
	MaxBlowerRunSec   float64 `json:"max_blower_run_sec" yaml:"max_blower_run_sec"`
	MaxActuatorRunSec float64 `json:"max_actuator_run_sec" yaml:"max_actuator_run_sec"`
}

// DefaultSettings returns the device's factory settings.
func DefaultSettings() Settings {
	return Settings{
		SensorIntervalMS:  2000,
		OutputIntervalMS:  3000,
		TempThresholdC:    35.0,
		TempHysteresisC:   2.0,
		AutoFanEnabled:    true,
		AugerSpeedForward: 200,
		AugerSpeedReverse: 180,
		BlowerSpeed:       255,
		ActuatorSpeed:     200,
		FeedSmallG:        50.0,
		FeedMediumG:       100.0,
		FeedLargeG:        200.0,
		ActuatorUpSec:     2.0,
		ActuatorDownSec:   1.0,
		AugerDurationSec:  10.0,
		BlowerDurationSec: 5.0,
		MaxAugerRunSec:    60,
		MaxBlowerRunSec:   120,
		MaxActuatorRunSec: 10,
	}
}

// PresetGrams resolves a feed preset to its configured gram amount.
func (s Settings) PresetGrams(p FeedPreset) (float64, bool) {
	switch p {
	case FeedPresetSmall:
		return s.FeedSmallG, true
	case FeedPresetMedium:
		return s.FeedMediumG, true
	case FeedPresetLarge:
		return s.FeedLargeG, true
	}
	return 0, false
}

// Calibration holds the load cell conversion parameters.
// grams = (raw - Offset) / Scale.
type Calibration struct {
	// Offset is the raw ADC reading with an empty hopper (tare).
	Offset float64 `json:"offset" yaml:"offset"`

	// Scale is raw counts per gram. Never zero; calibration with a
	// known weight computes it.
	Scale float64 `json:"scale" yaml:"scale"`
}

// DefaultCalibration returns an uncalibrated 1:1 mapping.
func DefaultCalibration() Calibration {
	return Calibration{Offset: 0, Scale: 1.0}
}

// WeightFromRaw converts a raw load cell reading to grams.
func (c Calibration) WeightFromRaw(raw float64) float64 {
	scale := c.Scale
	if scale == 0 {
		scale = 1.0
	}
	return (raw - c.Offset) / scale
}
