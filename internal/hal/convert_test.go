package hal

import (
	"math"
	"testing"
)

func TestVoltageConversion(t *testing.T) {
	tests := []struct {
		name string
		raw  int
		want float64
	}{
		{"zero", 0, 0},
		{"battery nominal", 566, 12.448},
		{"full scale", 1023, 22.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := VoltsFromRaw(tt.raw)
			if math.Abs(got-tt.want) > 0.01 {
				t.Errorf("VoltsFromRaw(%d) = %.3f, want %.3f", tt.raw, got, tt.want)
			}
		})
	}
}

func TestCurrentConversion(t *testing.T) {
	// Half rail is the sensor's zero point.
	if got := AmpsFromRaw(RawFromAmps(0)); math.Abs(got) > 0.05 {
		t.Errorf("AmpsFromRaw(zero raw) = %.3f, want ~0", got)
	}
	if got := AmpsFromRaw(RawFromAmps(2.0)); math.Abs(got-2.0) > 0.05 {
		t.Errorf("2A round trip = %.3f", got)
	}
	if got := AmpsFromRaw(RawFromAmps(-1.5)); math.Abs(got+1.5) > 0.05 {
		t.Errorf("-1.5A round trip = %.3f", got)
	}
}

func TestSoilConversion(t *testing.T) {
	tests := []struct {
		name string
		raw  int
		want float64
	}{
		{"fully wet", 300, 100},
		{"fully dry", 1023, 0},
		{"below wet floor clamps", 150, 100},
		{"midpoint", 661, 50.07},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SoilPctFromRaw(tt.raw)
			if math.Abs(got-tt.want) > 0.1 {
				t.Errorf("SoilPctFromRaw(%d) = %.2f, want %.2f", tt.raw, got, tt.want)
			}
		})
	}
}

// Synthesised raw counts must decode back to the physical value the
// simulator intended, within one count of quantisation.
func TestConversionRoundTrips(t *testing.T) {
	for _, v := range []float64{0, 5.5, 11.1, 12.6, 13.8, 22.0} {
		got := VoltsFromRaw(RawFromVolts(v))
		if math.Abs(got-v) > 0.05 {
			t.Errorf("volts round trip %v -> %v", v, got)
		}
	}
	for _, pct := range []float64{0, 25, 42, 77, 100} {
		got := SoilPctFromRaw(RawFromSoilPct(pct))
		if math.Abs(got-pct) > 0.2 {
			t.Errorf("soil round trip %v -> %v", pct, got)
		}
	}
}

func TestRawClamping(t *testing.T) {
	if got := RawFromVolts(100); got != ADCMax {
		t.Errorf("RawFromVolts(100) = %d, want %d", got, ADCMax)
	}
	if got := RawFromVolts(-3); got != 0 {
		t.Errorf("RawFromVolts(-3) = %d, want 0", got)
	}
	if got := RawFromAmps(50); got != ADCMax {
		t.Errorf("RawFromAmps(50) = %d, want %d", got, ADCMax)
	}
}

func TestMotorDirectionString(t *testing.T) {
	if MotorForward.String() != "forward" || MotorStop.String() != "stop" || MotorReverse.String() != "reverse" {
		t.Errorf("direction strings = %v/%v/%v", MotorForward, MotorStop, MotorReverse)
	}
}
