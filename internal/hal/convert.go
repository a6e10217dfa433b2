package hal

import "math"

// Fixed conversion constants for the analog front end. The voltage
// channels sit behind a resistor divider; the current channels are
// hall-effect sensors centred on half rail.
const (
	ADCMax = 1023
	VRef   = 5.0

	// VoltageDivider is the step-down ratio on both voltage channels.
	VoltageDivider = 4.50

	// ACS712 current sensor: output at 0 A and volts per amp.
	CurrentZeroV     = 2.500
	CurrentSensVPerA = 0.066

	// Soil probe raw counts fully wet and fully dry.
	SoilRawWet = 300
	SoilRawDry = 1023
)

// VoltsFromRaw converts a raw count from a voltage channel to the
// measured voltage before the divider.
func VoltsFromRaw(raw int) float64 {
	return float64(raw) / ADCMax * VRef * VoltageDivider
}

// RawFromVolts is the inverse of VoltsFromRaw, clamped to the ADC
// range. The simulator uses it to synthesise channel readings.
func RawFromVolts(v float64) int {
	return clampRaw(v / VoltageDivider / VRef * ADCMax)
}

// AmpsFromRaw converts a raw count from a current channel to amps.
// Current below the sensor's zero offset comes out negative.
func AmpsFromRaw(raw int) float64 {
	volts := float64(raw) / ADCMax * VRef
	return (volts - CurrentZeroV) / CurrentSensVPerA
}

// RawFromAmps is the inverse of AmpsFromRaw, clamped to the ADC range.
func RawFromAmps(a float64) int {
	volts := CurrentZeroV + a*CurrentSensVPerA
	return clampRaw(volts / VRef * ADCMax)
}

// SoilPctFromRaw converts a soil probe count to percent moisture.
// The probe reads low when wet, so the scale runs backwards.
func SoilPctFromRaw(raw int) float64 {
	pct := float64(SoilRawDry-raw) / float64(SoilRawDry-SoilRawWet) * 100
	return math.Max(0, math.Min(100, pct))
}

// RawFromSoilPct is the inverse of SoilPctFromRaw, clamped to the
// probe's usable range.
func RawFromSoilPct(pct float64) int {
	pct = math.Max(0, math.Min(100, pct))
	return clampRaw(float64(SoilRawDry) - pct/100*float64(SoilRawDry-SoilRawWet))
}

func clampRaw(v float64) int {
	raw := int(math.Round(v))
	if raw < 0 {
		return 0
	}
	if raw > ADCMax {
		return ADCMax
	}
	return raw
}
