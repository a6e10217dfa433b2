package wire

import (
	"fmt"
	"math"

	"github.com/pondlogic/feeder-core/internal/feeder"
)

// CommandToken translates a validated actuation command into its wire
// token. It covers exactly the target/action pairs that
// feeder.ValidateCommand accepts; anything else returns an error
// wrapping ErrNotRepresentable.
//
// Parameters:
//   - cmd: the domain command, already validated
//
// Returns:
//   - Token: the equivalent wire command
//   - error: wrapping ErrNotRepresentable for unknown pairs
func CommandToken(cmd feeder.Command) (Token, error) {
	switch cmd.Target {
	case feeder.TargetFan:
		switch cmd.Action {
		case feeder.ActionOn:
			return Token{Kind: TokenRelay, Code: RelayFanOn}, nil
		case feeder.ActionOff:
			return Token{Kind: TokenRelay, Code: RelayFanOff}, nil
		case feeder.ActionToggle:
			return Token{Kind: TokenRelay, Code: RelayFanToggle}, nil
		}

	case feeder.TargetLED:
		switch cmd.Action {
		case feeder.ActionOn:
			return Token{Kind: TokenRelay, Code: RelayLEDOn}, nil
		case feeder.ActionOff:
			return Token{Kind: TokenRelay, Code: RelayLEDOff}, nil
		case feeder.ActionToggle:
			return Token{Kind: TokenRelay, Code: RelayLEDToggle}, nil
		}

	case feeder.TargetAuger:
		switch cmd.Action {
		case feeder.ActionStop:
			return Token{Kind: TokenAuger, Code: AugerStop}, nil
		case feeder.ActionForward:
			return Token{Kind: TokenAuger, Code: AugerForward}, nil
		case feeder.ActionReverse:
			return Token{Kind: TokenAuger, Code: AugerReverse}, nil
		}

	case feeder.TargetBlower:
		switch cmd.Action {
		case feeder.ActionOn:
			return Token{Kind: TokenBlower, Code: BlowerOn}, nil
		case feeder.ActionOff:
			return Token{Kind: TokenBlower, Code: BlowerOff}, nil
		case feeder.ActionToggle:
			return Token{Kind: TokenBlower, Code: BlowerToggle}, nil
		case feeder.ActionPWM:
			return blowerDutyToken(cmd.Value), nil
		}

	case feeder.TargetActuator:
		switch cmd.Action {
		case feeder.ActionStop:
			return Token{Kind: TokenActuator, Code: ActuatorStop}, nil
		case feeder.ActionUp:
			return timedActuatorToken(ActuatorUp, cmd), nil
		case feeder.ActionDown:
			return timedActuatorToken(ActuatorDown, cmd), nil
		}

	case feeder.TargetSystem:
		if cmd.Action == feeder.ActionStopAll {
			return StopAllToken(), nil
		}
	}

	return Token{}, fmt.Errorf("%w: %s/%s", ErrNotRepresentable, cmd.Target, cmd.Action)
}

// blowerDutyToken maps a PWM duty onto the blower grammar. Duty 0 is
// the off code; duties 1 and 2 would collide with the on and toggle
// codes, so they round up to 3, the lowest duty the wire can carry.
func blowerDutyToken(duty float64) Token {
	n := int(math.Round(duty))
	switch {
	case n <= 0:
		return Token{Kind: TokenBlower, Code: BlowerOff}
	case n < 3:
		n = 3
	case n > feeder.PWMMax:
		n = feeder.PWMMax
	}
	return Token{Kind: TokenBlower, Value: float64(n), HasValue: true}
}

func timedActuatorToken(code int, cmd feeder.Command) Token {
	tok := Token{Kind: TokenActuator, Code: code}
	if cmd.HasValue {
		tok.Value = cmd.Value
		tok.HasValue = true
	}
	return tok
}

// FeedToken translates a validated feed request into its wire token.
// Presets travel by name; the device resolves the gram amount from its
// own settings.
func FeedToken(req feeder.FeedRequest) (Token, error) {
	switch {
	case req.Preset != "":
		return Token{Kind: TokenFeed, Name: string(req.Preset)}, nil
	case req.Grams > 0:
		return Token{Kind: TokenFeed, Value: req.Grams, HasValue: true}, nil
	case req.Sequence != nil:
		seq := *req.Sequence
		return Token{Kind: TokenFeed, Sequence: &seq}, nil
	}
	return Token{}, fmt.Errorf("%w: empty feed request", ErrNotRepresentable)
}

// TimingToken builds a TIMING token from the step durations in s.
func TimingToken(s feeder.Settings) Token {
	return Token{Kind: TokenTiming, Timing: &StepTiming{
		UpSec:     s.ActuatorUpSec,
		DownSec:   s.ActuatorDownSec,
		AugerSec:  s.AugerDurationSec,
		BlowerSec: s.BlowerDurationSec,
	}}
}

// ConfigToken builds a CFG token for a single setting.
func ConfigToken(key string, value float64) Token {
	return Token{Kind: TokenConfig, Name: key, Value: value, HasValue: true}
}

// TareToken builds the CAL token that zeroes the scale.
func TareToken() Token {
	return Token{Kind: TokenCal, Name: NameTare}
}

// CalibrateToken builds the CAL token that derives the scale factor
// from a known reference weight in grams.
func CalibrateToken(grams float64) Token {
	return Token{Kind: TokenCal, Name: NameWeight, Value: grams, HasValue: true}
}

// CalResetToken builds the CAL token that restores factory calibration.
func CalResetToken() Token {
	return Token{Kind: TokenCal, Name: NameReset}
}

// GetSensorsToken builds the GET token requesting an immediate DATA
// frame.
func GetSensorsToken() Token {
	return Token{Kind: TokenGet, Name: NameSensors}
}

// GetStatusToken builds the GET token requesting a JSON status
// snapshot.
func GetStatusToken() Token {
	return Token{Kind: TokenGet, Name: NameStatus}
}

// LogStreamToken builds the LOG token switching the verbose stream on
// or off.
func LogStreamToken(enabled bool) Token {
	code := 0
	if enabled {
		code = 1
	}
	return Token{Kind: TokenLog, Code: code}
}

// StopAllToken builds the emergency stop token.
func StopAllToken() Token {
	return Token{Kind: TokenStop, Name: NameAll}
}
