package wire

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pondlogic/feeder-core/internal/feeder"
)

// Output state strings carried in the ACTUATOR and AUGER fields of a
// DATA frame.
const (
	StateStopped  = "stopped"
	StateForward  = "forward"
	StateBackward = "backward"
	StateFeeding  = "feeding" // auger running under feed control
	StateOpening  = "opening"
	StateClosing  = "closing"
)

// DataPayload is the decoded body of a DATA frame: one sensor sweep
// plus the output states at that moment.
//
// Numeric fields that the device could not read arrive as "nan" on the
// wire and stay nil in Reading. Reading.At is left zero; the receiver
// stamps it.
type DataPayload struct {
	Reading *feeder.SensorReading

	LEDOn         bool
	FanOn         bool
	BlowerOn      bool
	ActuatorState string
	AugerState    string

	// Device uptime in whole seconds (the TIME field).
	UptimeSec int64
}

// ParseData decodes the comma-separated KEY:value body of a DATA
// frame. Unknown keys are skipped so newer devices stay readable;
// unreadable numeric values leave their field nil. A body with no
// recognisable key at all returns ErrInvalidFrame.
func ParseData(body string) (DataPayload, error) {
	var (
		p       DataPayload
		reading feeder.SensorReading
		matched int
	)

	for _, pair := range strings.Split(body, ",") {
		key, val, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)

		switch key {
		case "TEMP1":
			reading.FeedTempC = parseWireFloat(val)
		case "HUM1":
			reading.FeedHumidityPct = parseWireFloat(val)
		case "TEMP2":
			reading.ControlTempC = parseWireFloat(val)
		case "HUM2":
			reading.ControlHumidityPct = parseWireFloat(val)
		case "WEIGHT":
			reading.WeightKg = parseWireFloat(val)
		case "BATV":
			reading.LoadVoltageV = parseWireFloat(val)
		case "BATI":
			reading.LoadCurrentA = parseWireFloat(val)
		case "SOLV":
			reading.SolarVoltageV = parseWireFloat(val)
		case "SOLI":
			reading.SolarCurrentA = parseWireFloat(val)
		case "SOIL":
			reading.SoilMoisturePct = parseWireFloat(val)
		case "LED":
			p.LEDOn = val == "1"
		case "FAN":
			p.FanOn = val == "1"
		case "BLOWER":
			p.BlowerOn = val == "1"
		case "ACTUATOR":
			p.ActuatorState = val
		case "AUGER":
			p.AugerState = val
		case "TIME":
			if sec, err := strconv.ParseInt(val, 10, 64); err == nil {
				p.UptimeSec = sec
			}
		default:
			continue
		}
		matched++
	}

	if matched == 0 {
		return DataPayload{}, fmt.Errorf("%w: no DATA fields in %q", ErrInvalidFrame, body)
	}

	reading.UptimeMS = feeder.Int64(p.UptimeSec * 1000)
	reading.FillDerived()
	p.Reading = &reading
	return p, nil
}

// Encode renders the payload as a full DATA frame line. Nil numeric
// fields encode as "nan", matching what the device sends when a sensor
// read fails.
func (p DataPayload) Encode() string {
	r := p.Reading
	if r == nil {
		r = &feeder.SensorReading{}
	}

	var b strings.Builder
	b.WriteString(prefixData)
	b.WriteString("TEMP1:" + wireFloat(r.FeedTempC, 1))
	b.WriteString(",HUM1:" + wireFloat(r.FeedHumidityPct, 0))
	b.WriteString(",TEMP2:" + wireFloat(r.ControlTempC, 1))
	b.WriteString(",HUM2:" + wireFloat(r.ControlHumidityPct, 0))
	b.WriteString(",WEIGHT:" + wireFloat(r.WeightKg, 2))
	b.WriteString(",BATV:" + wireFloat(r.LoadVoltageV, 2))
	b.WriteString(",BATI:" + wireFloat(r.LoadCurrentA, 3))
	b.WriteString(",SOLV:" + wireFloat(r.SolarVoltageV, 2))
	b.WriteString(",SOLI:" + wireFloat(r.SolarCurrentA, 3))
	b.WriteString(",SOIL:" + wireFloat(r.SoilMoisturePct, 0))
	b.WriteString(",LED:" + wireBool(p.LEDOn))
	b.WriteString(",FAN:" + wireBool(p.FanOn))
	b.WriteString(",BLOWER:" + wireBool(p.BlowerOn))
	b.WriteString(",ACTUATOR:" + stateOrStopped(p.ActuatorState))
	b.WriteString(",AUGER:" + stateOrStopped(p.AugerState))
	b.WriteString(",TIME:" + strconv.FormatInt(p.UptimeSec, 10))
	return b.String()
}

// Actuators expands the payload's output fields into registry states.
// ChangedAt is left zero for the registry to stamp.
func (p DataPayload) Actuators() []feeder.ActuatorState {
	auger := feeder.ActuatorState{Target: feeder.TargetAuger}
	switch p.AugerState {
	case StateForward, StateFeeding:
		auger.On = true
		auger.Direction = feeder.DirectionForward
	case StateBackward:
		auger.On = true
		auger.Direction = feeder.DirectionReverse
	}

	hatch := feeder.ActuatorState{Target: feeder.TargetActuator}
	switch p.ActuatorState {
	case StateOpening:
		hatch.On = true
		hatch.Direction = feeder.DirectionUp
	case StateClosing:
		hatch.On = true
		hatch.Direction = feeder.DirectionDown
	}

	return []feeder.ActuatorState{
		{Target: feeder.TargetLED, On: p.LEDOn},
		{Target: feeder.TargetFan, On: p.FanOn},
		{Target: feeder.TargetBlower, On: p.BlowerOn},
		auger,
		hatch,
	}
}

// parseWireFloat decodes one numeric DATA value. "nan" and anything
// unparseable map to nil rather than failing the frame.
func parseWireFloat(val string) *float64 {
	f, err := strconv.ParseFloat(val, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return feeder.Float(f)
}

// wireFloat renders a numeric DATA value with the device's precision
// for that field.
func wireFloat(v *float64, decimals int) string {
	if v == nil {
		return "nan"
	}
	return strconv.FormatFloat(*v, 'f', decimals, 64)
}

func wireBool(on bool) string {
	if on {
		return "1"
	}
	return "0"
}

func stateOrStopped(state string) string {
	if state == "" {
		return StateStopped
	}
	return state
}
