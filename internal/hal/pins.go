package hal

// PinMap records the physical pin assignment of a board build. Real
// board implementations take one at construction; the simulator
// ignores it. Values are plain ints so analog pins use the board's
// A-offset numbering.
type PinMap struct {
	// Relays (active-low module)
	RelayLED int `yaml:"relay_led"`
	RelayFan int `yaml:"relay_fan"`

	// Auger H-bridge
	AugerEnable int `yaml:"auger_enable"`
	AugerIn1    int `yaml:"auger_in1"`
	AugerIn2    int `yaml:"auger_in2"`

	// Blower (single direction PWM)
	BlowerPWM int `yaml:"blower_pwm"`

	// Linear actuator H-bridge
	ActuatorEnable int `yaml:"actuator_enable"`
	ActuatorIn1    int `yaml:"actuator_in1"`
	ActuatorIn2    int `yaml:"actuator_in2"`

	// Climate sensors
	DHTFeed    int `yaml:"dht_feed"`
	DHTControl int `yaml:"dht_control"`

	// Load cell amplifier
	HX711Data  int `yaml:"hx711_data"`
	HX711Clock int `yaml:"hx711_clock"`

	// Analog inputs
	LoadVoltage  int `yaml:"load_voltage"`
	LoadCurrent  int `yaml:"load_current"`
	SolarVoltage int `yaml:"solar_voltage"`
	SolarCurrent int `yaml:"solar_current"`
	SoilMoisture int `yaml:"soil_moisture"`
}

// DefaultPinMap returns the wiring of the reference Mega 2560 build.
func DefaultPinMap() PinMap {
	return PinMap{
		RelayLED:       24,
		RelayFan:       25,
		AugerEnable:    2,
		AugerIn1:       3,
		AugerIn2:       4,
		BlowerPWM:      5,
		ActuatorEnable: 7,
		ActuatorIn1:    8,
		ActuatorIn2:    9,
		DHTFeed:        46,
		DHTControl:     48,
		HX711Data:      20,
		HX711Clock:     21,
		LoadVoltage:    55, // A1
		LoadCurrent:    54, // A0
		SolarVoltage:   57, // A3
		SolarCurrent:   58, // A4
		SoilMoisture:   56, // A2
	}
}
