package simboard

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/pondlogic/feeder-core/internal/feeder"
	"github.com/pondlogic/feeder-core/internal/hal"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// quiet returns a noise-free board for exact assertions.
func quiet() *Board {
	cfg := DefaultConfig()
	cfg.NoiseCounts = 0
	return New(cfg)
}

func TestBoardRelays(t *testing.T) {
	b := quiet()

	if b.Relay(hal.RelayFan) {
		t.Error("fan should start off")
	}
	if err := b.SetRelay(hal.RelayFan, true); err != nil {
		t.Fatalf("SetRelay() unexpected error: %v", err)
	}
	if !b.Relay(hal.RelayFan) {
		t.Error("fan should be on")
	}
	if b.Relay(hal.RelayLED) {
		t.Error("led should be untouched")
	}

	if err := b.SetRelay("pump", true); !errors.Is(err, hal.ErrUnknownChannel) {
		t.Errorf("SetRelay(pump) error = %v, want ErrUnknownChannel", err)
	}
}

func TestBoardMotors(t *testing.T) {
	b := quiet()

	if err := b.RunMotor(hal.MotorAuger, hal.MotorForward, 200); err != nil {
		t.Fatalf("RunMotor() unexpected error: %v", err)
	}
	dir, duty := b.MotorState(hal.MotorAuger)
	if dir != hal.MotorForward || duty != 200 {
		t.Errorf("auger = %v/%d, want forward/200", dir, duty)
	}

	// Stop forces duty to zero regardless of the argument.
	if err := b.RunMotor(hal.MotorAuger, hal.MotorStop, 200); err != nil {
		t.Fatalf("RunMotor(stop) unexpected error: %v", err)
	}
	dir, duty = b.MotorState(hal.MotorAuger)
	if dir != hal.MotorStop || duty != 0 {
		t.Errorf("auger = %v/%d, want stop/0", dir, duty)
	}

	if err := b.RunMotor(hal.MotorBlower, hal.MotorForward, 300); err != nil {
		t.Fatalf("RunMotor(blower) unexpected error: %v", err)
	}
	if _, duty = b.MotorState(hal.MotorBlower); duty != 255 {
		t.Errorf("blower duty = %d, want clamped 255", duty)
	}

	if err := b.RunMotor("winch", hal.MotorForward, 100); !errors.Is(err, hal.ErrUnknownChannel) {
		t.Errorf("RunMotor(winch) error = %v, want ErrUnknownChannel", err)
	}
}

func TestBoardAnalogChannels(t *testing.T) {
	b := quiet()
	b.SetPower(12.4, 0.45, 13.2, 1.1)
	b.SetSoil(42)

	tests := []struct {
		name    string
		channel hal.AnalogChannel
		decode  func(int) float64
		want    float64
		tol     float64
	}{
		{"load voltage", hal.ChannelLoadVoltage, hal.VoltsFromRaw, 12.4, 0.05},
		{"solar voltage", hal.ChannelSolarVoltage, hal.VoltsFromRaw, 13.2, 0.05},
		{"load current", hal.ChannelLoadCurrent, hal.AmpsFromRaw, 0.45, 0.05},
		{"solar current", hal.ChannelSolarCurrent, hal.AmpsFromRaw, 1.1, 0.05},
		{"soil moisture", hal.ChannelSoilMoisture, hal.SoilPctFromRaw, 42, 0.2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := b.ReadAnalog(tt.channel)
			if err != nil {
				t.Fatalf("ReadAnalog() unexpected error: %v", err)
			}
			if got := tt.decode(raw); math.Abs(got-tt.want) > tt.tol {
				t.Errorf("decoded %v = %.3f, want %.3f", tt.channel, got, tt.want)
			}
		})
	}

	if _, err := b.ReadAnalog("light"); !errors.Is(err, hal.ErrUnknownChannel) {
		t.Errorf("ReadAnalog(light) error = %v, want ErrUnknownChannel", err)
	}
}

func TestBoardWeight(t *testing.T) {
	b := quiet()

	raw, err := b.ReadWeightRaw()
	if err != nil {
		t.Fatalf("ReadWeightRaw() unexpected error: %v", err)
	}
	if want := int64(CellOffset + 2000*CellScale); raw != want {
		t.Errorf("raw = %d, want %d", raw, want)
	}

	// A controller calibrated to the cell's true parameters recovers
	// the load in grams.
	cal := feeder.Calibration{Offset: CellOffset, Scale: CellScale}
	if got := cal.WeightFromRaw(float64(raw)); math.Abs(got-2000) > 0.01 {
		t.Errorf("calibrated weight = %.2f g, want 2000", got)
	}

	b.SetWeightKg(0.5)
	raw, _ = b.ReadWeightRaw()
	if got := cal.WeightFromRaw(float64(raw)); math.Abs(got-500) > 0.01 {
		t.Errorf("calibrated weight after refill = %.2f g, want 500", got)
	}
}

func TestBoardFeedDynamics(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	cfg := DefaultConfig()
	cfg.NoiseCounts = 0
	cfg.Now = clock.Now
	b := New(cfg)

	if err := b.RunMotor(hal.MotorAuger, hal.MotorForward, 255); err != nil {
		t.Fatalf("RunMotor() unexpected error: %v", err)
	}

	clock.advance(10 * time.Second)
	if got := b.WeightKg(); math.Abs(got-1.92) > 1e-9 {
		t.Errorf("weight after 10s full duty = %v, want 1.92", got)
	}

	// Half duty empties half as fast.
	if err := b.RunMotor(hal.MotorAuger, hal.MotorForward, 128); err != nil {
		t.Fatal(err)
	}
	clock.advance(10 * time.Second)
	want := 1.92 - 8.0*128/255*10/1000
	if got := b.WeightKg(); math.Abs(got-want) > 1e-9 {
		t.Errorf("weight after 10s half duty = %v, want %v", got, want)
	}

	// Stopped and reverse augers move nothing.
	if err := b.RunMotor(hal.MotorAuger, hal.MotorReverse, 180); err != nil {
		t.Fatal(err)
	}
	clock.advance(time.Minute)
	if got := b.WeightKg(); math.Abs(got-want) > 1e-9 {
		t.Errorf("weight after reverse = %v, want unchanged %v", got, want)
	}

	// The hopper never goes negative.
	b.SetWeightKg(0.001)
	if err := b.RunMotor(hal.MotorAuger, hal.MotorForward, 255); err != nil {
		t.Fatal(err)
	}
	clock.advance(time.Minute)
	if got := b.WeightKg(); got != 0 {
		t.Errorf("weight = %v, want 0 after running dry", got)
	}
}

func TestBoardClimate(t *testing.T) {
	b := quiet()

	temp, hum, err := b.ReadClimate(hal.ClimateFeedHopper)
	if err != nil {
		t.Fatalf("ReadClimate() unexpected error: %v", err)
	}
	if temp != 27.0 || hum != 65 {
		t.Errorf("feed climate = %v/%v, want 27/65", temp, hum)
	}

	b.SetClimate(hal.ClimateControlBox, 38.5, 40)
	temp, hum, err = b.ReadClimate(hal.ClimateControlBox)
	if err != nil {
		t.Fatal(err)
	}
	if temp != 38.5 || hum != 40 {
		t.Errorf("control climate = %v/%v, want 38.5/40", temp, hum)
	}

	b.SetClimateFailing(hal.ClimateFeedHopper, true)
	if _, _, err := b.ReadClimate(hal.ClimateFeedHopper); !errors.Is(err, hal.ErrReadFailed) {
		t.Errorf("failing sensor error = %v, want ErrReadFailed", err)
	}
	b.SetClimateFailing(hal.ClimateFeedHopper, false)
	if _, _, err := b.ReadClimate(hal.ClimateFeedHopper); err != nil {
		t.Errorf("recovered sensor error = %v, want nil", err)
	}

	if _, _, err := b.ReadClimate("attic"); !errors.Is(err, hal.ErrUnknownChannel) {
		t.Errorf("ReadClimate(attic) error = %v, want ErrUnknownChannel", err)
	}
}

// Equal seeds must produce identical noise sequences.
func TestBoardNoiseDeterminism(t *testing.T) {
	mk := func() *Board {
		cfg := DefaultConfig()
		cfg.Seed = 42
		return New(cfg)
	}
	a, b := mk(), mk()

	for i := 0; i < 20; i++ {
		ra, err := a.ReadAnalog(hal.ChannelLoadVoltage)
		if err != nil {
			t.Fatal(err)
		}
		rb, err := b.ReadAnalog(hal.ChannelLoadVoltage)
		if err != nil {
			t.Fatal(err)
		}
		if ra != rb {
			t.Fatalf("sample %d diverged: %d vs %d", i, ra, rb)
		}
	}
}
