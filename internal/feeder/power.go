package feeder

// Li-ion 12V state-of-charge curve breakpoints (volts).
const (
	batteryFullV  = 12.5
	batteryEmptyV = 8.4

	// solarChargingMinV is the panel voltage above which the charge
	// controller is considered to be charging.
	solarChargingMinV = 5.0
)

// BatteryPercent estimates state of charge from the load voltage using
// a piecewise Li-ion discharge curve (12V pack).
//
// Parameters:
//   - loadV: Battery voltage under load
//
// Returns:
//   - float64: Charge estimate in [0, 100]
func BatteryPercent(loadV float64) float64 {
	switch {
	case loadV >= batteryFullV:
		return 100.0
	case loadV >= 12.2:
		return 85.0 + (loadV-12.2)/0.3*15.0
	case loadV >= 11.8:
		return 60.0 + (loadV-11.8)/0.4*25.0
	case loadV >= 11.4:
		return 30.0 + (loadV-11.4)/0.4*30.0
	case loadV >= 10.8:
		return 10.0 + (loadV-10.8)/0.6*20.0
	case loadV >= batteryEmptyV:
		return (loadV - batteryEmptyV) / 2.4 * 10.0
	default:
		return 0.0
	}
}

// ChargingFromSolar reports whether the panel voltage indicates an
// active charge.
func ChargingFromSolar(solarV float64) bool {
	return solarV > solarChargingMinV
}

// FillDerived computes BatteryPct and Charging from the electrical
// readings. Fields already set are left alone; missing inputs leave
// the derived fields nil.
func (r *SensorReading) FillDerived() {
	if r == nil {
		return
	}
	if r.BatteryPct == nil && r.LoadVoltageV != nil {
		r.BatteryPct = Float(BatteryPercent(*r.LoadVoltageV))
	}
	if r.Charging == nil && r.SolarVoltageV != nil {
		r.Charging = Bool(ChargingFromSolar(*r.SolarVoltageV))
	}
}
