package wire

import (
	"encoding/json"
	"fmt"

	"github.com/pondlogic/feeder-core/internal/feeder"
)

// StatusPayload is the decoded JSON status snapshot: the reply to
// GET:status, and the push format of older firmware. It carries the
// same sensor sweep as a DATA frame plus the device's own power
// summary.
type StatusPayload struct {
	Reading *feeder.SensorReading

	Health        string
	PowerW        *float64
	EfficiencyPct *float64
	RuntimeHours  *float64

	// Device uptime in milliseconds (the "t" field).
	UptimeMS int64
}

// statusJSON is the wire shape of the snapshot. Pointer fields keep
// absent and null sensors distinguishable from zero.
type statusJSON struct {
	Sensors struct {
		FeedTemp   *float64 `json:"feed_temp,omitempty"`
		FeedHum    *float64 `json:"feed_hum,omitempty"`
		CtrlTemp   *float64 `json:"ctrl_temp,omitempty"`
		CtrlHum    *float64 `json:"ctrl_hum,omitempty"`
		Weight     *float64 `json:"weight,omitempty"`
		Soil       *float64 `json:"soil,omitempty"`
		BatV       *float64 `json:"bat_v,omitempty"`
		BatI       *float64 `json:"bat_i,omitempty"`
		SolV       *float64 `json:"sol_v,omitempty"`
		SolI       *float64 `json:"sol_i,omitempty"`
		Charging   *int     `json:"charging,omitempty"`
		SOC        *float64 `json:"soc,omitempty"`
		Health     string   `json:"health,omitempty"`
		Power      *float64 `json:"power,omitempty"`
		Efficiency *float64 `json:"efficiency,omitempty"`
		Runtime    *float64 `json:"runtime,omitempty"`
	} `json:"sensors"`
	T int64 `json:"t"`
}

// ParseStatus decodes a JSON status snapshot body into a payload.
// Reading.At is left zero for the receiver to stamp.
func ParseStatus(body string) (*StatusPayload, error) {
	var raw statusJSON
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("%w: status JSON: %v", ErrInvalidFrame, err)
	}

	s := raw.Sensors
	reading := &feeder.SensorReading{
		FeedTempC:          s.FeedTemp,
		FeedHumidityPct:    s.FeedHum,
		ControlTempC:       s.CtrlTemp,
		ControlHumidityPct: s.CtrlHum,
		WeightKg:           s.Weight,
		SoilMoisturePct:    s.Soil,
		LoadVoltageV:       s.BatV,
		LoadCurrentA:       s.BatI,
		SolarVoltageV:      s.SolV,
		SolarCurrentA:      s.SolI,
		BatteryPct:         s.SOC,
		UptimeMS:           feeder.Int64(raw.T),
	}
	if s.Charging != nil {
		reading.Charging = feeder.Bool(*s.Charging == 1)
	}
	reading.FillDerived()

	return &StatusPayload{
		Reading:       reading,
		Health:        s.Health,
		PowerW:        s.Power,
		EfficiencyPct: s.Efficiency,
		RuntimeHours:  s.Runtime,
		UptimeMS:      raw.T,
	}, nil
}

// Encode renders the snapshot as its JSON line form.
func (p StatusPayload) Encode() string {
	var raw statusJSON
	if r := p.Reading; r != nil {
		raw.Sensors.FeedTemp = r.FeedTempC
		raw.Sensors.FeedHum = r.FeedHumidityPct
		raw.Sensors.CtrlTemp = r.ControlTempC
		raw.Sensors.CtrlHum = r.ControlHumidityPct
		raw.Sensors.Weight = r.WeightKg
		raw.Sensors.Soil = r.SoilMoisturePct
		raw.Sensors.BatV = r.LoadVoltageV
		raw.Sensors.BatI = r.LoadCurrentA
		raw.Sensors.SolV = r.SolarVoltageV
		raw.Sensors.SolI = r.SolarCurrentA
		raw.Sensors.SOC = r.BatteryPct
		if r.Charging != nil {
			charging := 0
			if *r.Charging {
				charging = 1
			}
			raw.Sensors.Charging = &charging
		}
	}
	raw.Sensors.Health = p.Health
	raw.Sensors.Power = p.PowerW
	raw.Sensors.Efficiency = p.EfficiencyPct
	raw.Sensors.Runtime = p.RuntimeHours
	raw.T = p.UptimeMS

	b, _ := json.Marshal(raw)
	return string(b)
}
