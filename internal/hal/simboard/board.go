// Package simboard provides an in-memory hal.Board for the simulator
// and for tests. Relays and motors latch their commanded state,
// analog channels synthesise raw counts from configured physical
// values, and the hopper loses weight while the auger runs forward.
package simboard

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/pondlogic/feeder-core/internal/hal"
)

// Virtual load cell parameters: raw counts at an empty hopper and
// counts per gram. A freshly calibrated controller converges on these.
const (
	CellOffset = 8388608 // amplifier midpoint
	CellScale  = 420.0
)

// Config sets the simulated environment. Use DefaultConfig as a
// starting point; New takes the config verbatim.
type Config struct {
	// Seed fixes the noise generator for reproducible runs.
	Seed int64

	// InitialWeightKg is the hopper load at start.
	InitialWeightKg float64

	// DispenseRateGPS is how fast the hopper empties at full auger
	// duty, in grams per second. Scaled linearly by duty.
	DispenseRateGPS float64

	// NoiseCounts is the gaussian sigma added to every raw analog
	// sample, in ADC counts. Zero disables noise.
	NoiseCounts float64

	// Climate baselines.
	FeedTempC          float64
	FeedHumidityPct    float64
	ControlTempC       float64
	ControlHumidityPct float64

	// Power and soil baselines.
	LoadVoltageV    float64
	LoadCurrentA    float64
	SolarVoltageV   float64
	SolarCurrentA   float64
	SoilMoisturePct float64

	// Now overrides the clock for feed dynamics. Defaults to
	// time.Now.
	Now func() time.Time
}

// DefaultConfig returns a sunny afternoon with a two-kilo hopper.
func DefaultConfig() Config {
	return Config{
		InitialWeightKg:    2.0,
		DispenseRateGPS:    8.0,
		NoiseCounts:        2.0,
		FeedTempC:          27.0,
		FeedHumidityPct:    65,
		ControlTempC:       29.5,
		ControlHumidityPct: 58,
		LoadVoltageV:       12.4,
		LoadCurrentA:       0.45,
		SolarVoltageV:      13.2,
		SolarCurrentA:      1.1,
		SoilMoisturePct:    42,
	}
}

type motorState struct {
	dir  hal.MotorDirection
	duty int
}

type climateState struct {
	tempC   float64
	humPct  float64
	failing bool
}

// Board is a simulated feeder board. All methods are safe for
// concurrent use; tests poke the environment while the controller
// drives the outputs.
type Board struct {
	mu   sync.Mutex
	rng  *rand.Rand
	now  func() time.Time
	last time.Time

	relays map[hal.Relay]bool
	motors map[hal.Motor]motorState

	climate map[hal.ClimateSensor]*climateState

	weightG     float64
	dispenseGPS float64
	noiseCounts float64

	loadV, loadI   float64
	solarV, solarI float64
	soilPct        float64
}

// New builds a board from cfg.
func New(cfg Config) *Board {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	b := &Board{
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		now:    now,
		relays: make(map[hal.Relay]bool),
		motors: make(map[hal.Motor]motorState),
		climate: map[hal.ClimateSensor]*climateState{
			hal.ClimateFeedHopper: {tempC: cfg.FeedTempC, humPct: cfg.FeedHumidityPct},
			hal.ClimateControlBox: {tempC: cfg.ControlTempC, humPct: cfg.ControlHumidityPct},
		},
		weightG:     cfg.InitialWeightKg * 1000,
		dispenseGPS: cfg.DispenseRateGPS,
		noiseCounts: cfg.NoiseCounts,
		loadV:       cfg.LoadVoltageV,
		loadI:       cfg.LoadCurrentA,
		solarV:      cfg.SolarVoltageV,
		solarI:      cfg.SolarCurrentA,
		soilPct:     cfg.SoilMoisturePct,
	}
	b.last = now()
	return b
}

// SetRelay implements hal.Board.
func (b *Board) SetRelay(r hal.Relay, on bool) error {
	switch r {
	case hal.RelayFan, hal.RelayLED:
	default:
		return fmt.Errorf("%w: relay %q", hal.ErrUnknownChannel, r)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	b.relays[r] = on
	return nil
}

// RunMotor implements hal.Board.
func (b *Board) RunMotor(m hal.Motor, dir hal.MotorDirection, duty int) error {
	switch m {
	case hal.MotorAuger, hal.MotorBlower, hal.MotorActuator:
	default:
		return fmt.Errorf("%w: motor %q", hal.ErrUnknownChannel, m)
	}

	if dir == hal.MotorStop {
		duty = 0
	}
	if duty < 0 {
		duty = 0
	}
	if duty > 255 {
		duty = 255
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	b.motors[m] = motorState{dir: dir, duty: duty}
	return nil
}

// ReadAnalog implements hal.Board.
func (b *Board) ReadAnalog(ch hal.AnalogChannel) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()

	var raw int
	switch ch {
	case hal.ChannelLoadVoltage:
		raw = hal.RawFromVolts(b.loadV)
	case hal.ChannelLoadCurrent:
		raw = hal.RawFromAmps(b.loadI)
	case hal.ChannelSolarVoltage:
		raw = hal.RawFromVolts(b.solarV)
	case hal.ChannelSolarCurrent:
		raw = hal.RawFromAmps(b.solarI)
	case hal.ChannelSoilMoisture:
		raw = hal.RawFromSoilPct(b.soilPct)
	default:
		return 0, fmt.Errorf("%w: analog %q", hal.ErrUnknownChannel, ch)
	}

	return clampCount(raw + b.noise(b.noiseCounts)), nil
}

// ReadWeightRaw implements hal.Board.
func (b *Board) ReadWeightRaw() (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()

	raw := CellOffset + b.weightG*CellScale
	if b.noiseCounts > 0 {
		// ~1 g of cell noise, scaled with the analog noise setting.
		raw += b.rng.NormFloat64() * b.noiseCounts / 2 * CellScale
	}
	return int64(math.Round(raw)), nil
}

// ReadClimate implements hal.Board.
func (b *Board) ReadClimate(s hal.ClimateSensor) (float64, float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.climate[s]
	if !ok {
		return 0, 0, fmt.Errorf("%w: climate %q", hal.ErrUnknownChannel, s)
	}
	if st.failing {
		return 0, 0, fmt.Errorf("%w: climate %q", hal.ErrReadFailed, s)
	}
	return st.tempC, st.humPct, nil
}

// Relay reports the latched state of a relay output.
func (b *Board) Relay(r hal.Relay) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.relays[r]
}

// MotorState reports the latched direction and duty of a motor.
func (b *Board) MotorState(m hal.Motor) (hal.MotorDirection, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.motors[m]
	return st.dir, st.duty
}

// WeightKg reports the hopper load after feed dynamics.
func (b *Board) WeightKg() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	return b.weightG / 1000
}

// SetWeightKg refills or empties the hopper.
func (b *Board) SetWeightKg(kg float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	b.weightG = math.Max(0, kg*1000)
}

// SetClimate adjusts a climate sensor's baseline.
func (b *Board) SetClimate(s hal.ClimateSensor, tempC, humidityPct float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.climate[s]; ok {
		st.tempC = tempC
		st.humPct = humidityPct
	}
}

// SetClimateFailing makes a climate sensor return read errors.
func (b *Board) SetClimateFailing(s hal.ClimateSensor, failing bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.climate[s]; ok {
		st.failing = failing
	}
}

// SetPower adjusts the battery and solar baselines.
func (b *Board) SetPower(loadV, loadI, solarV, solarI float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loadV, b.loadI, b.solarV, b.solarI = loadV, loadI, solarV, solarI
}

// SetSoil adjusts the soil moisture baseline.
func (b *Board) SetSoil(pct float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.soilPct = pct
}

// advance applies feed dynamics for the time elapsed since the last
// call. Caller holds the lock.
func (b *Board) advance() {
	now := b.now()
	dt := now.Sub(b.last).Seconds()
	if dt <= 0 {
		return
	}
	b.last = now

	auger := b.motors[hal.MotorAuger]
	if auger.dir == hal.MotorForward && auger.duty > 0 {
		b.weightG -= b.dispenseGPS * float64(auger.duty) / 255 * dt
		if b.weightG < 0 {
			b.weightG = 0
		}
	}
}

// noise returns a gaussian sample in whole counts.
func (b *Board) noise(sigma float64) int {
	if sigma <= 0 {
		return 0
	}
	return int(math.Round(b.rng.NormFloat64() * sigma))
}

func clampCount(raw int) int {
	if raw < 0 {
		return 0
	}
	if raw > hal.ADCMax {
		return hal.ADCMax
	}
	return raw
}
