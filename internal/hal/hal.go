// Package hal abstracts the feeder's board I/O so the controller can
// drive real hardware and the simulator through one interface.
package hal

// Relay identifies a switched output. The relay module is active-low;
// implementations hide the inversion and expose plain on/off.
type Relay string

// Switched outputs.
const (
	RelayFan Relay = "fan"
	RelayLED Relay = "led"
)

// Motor identifies a PWM-driven output.
type Motor string

// Motor outputs. MotorAuger and MotorActuator sit behind H-bridge
// drivers and honour a direction; MotorBlower is single-direction.
const (
	MotorAuger    Motor = "auger"
	MotorBlower   Motor = "blower"
	MotorActuator Motor = "actuator"
)

// MotorDirection selects the H-bridge state.
type MotorDirection int

// H-bridge states. For the linear actuator, forward extends (hatch up)
// and reverse retracts (hatch down).
const (
	MotorStop MotorDirection = iota
	MotorForward
	MotorReverse
)

// String returns the direction name.
func (d MotorDirection) String() string {
	switch d {
	case MotorForward:
		return "forward"
	case MotorReverse:
		return "reverse"
	default:
		return "stop"
	}
}

// AnalogChannel identifies a 10-bit ADC input.
type AnalogChannel string

// Analog inputs.
const (
	ChannelLoadVoltage  AnalogChannel = "load_voltage"
	ChannelLoadCurrent  AnalogChannel = "load_current"
	ChannelSolarVoltage AnalogChannel = "solar_voltage"
	ChannelSolarCurrent AnalogChannel = "solar_current"
	ChannelSoilMoisture AnalogChannel = "soil_moisture"
)

// ClimateSensor identifies a combined temperature/humidity sensor.
type ClimateSensor string

// Climate sensors.
const (
	ClimateFeedHopper ClimateSensor = "feed_hopper"
	ClimateControlBox ClimateSensor = "control_box"
)

// Board is the hardware surface the controller drives. Implementations
// must be safe for use from a single goroutine; the controller never
// calls concurrently.
type Board interface {
	// SetRelay switches a relay output.
	SetRelay(r Relay, on bool) error

	// RunMotor drives a motor at the given PWM duty (0-255). Duty is
	// clamped; MotorStop forces duty 0. The blower ignores direction.
	RunMotor(m Motor, dir MotorDirection, duty int) error

	// ReadAnalog samples an ADC channel once, returning the raw
	// 0-1023 count.
	ReadAnalog(ch AnalogChannel) (int, error)

	// ReadWeightRaw reads the load cell amplifier's raw count.
	ReadWeightRaw() (int64, error)

	// ReadClimate reads a temperature/humidity sensor. These sensors
	// fail routinely; callers treat an error as a skipped sample.
	ReadClimate(s ClimateSensor) (tempC, humidityPct float64, err error)
}
