package wire

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pondlogic/feeder-core/internal/feeder"
)

// TokenKind identifies the command family a token belongs to.
type TokenKind string

// Token kinds, one per grammar prefix.
const (
	TokenRelay    TokenKind = "relay"    // R: fan and LED switching
	TokenAuger    TokenKind = "auger"    // G: auger motor
	TokenBlower   TokenKind = "blower"   // B: blower motor
	TokenActuator TokenKind = "actuator" // A: hatch actuator
	TokenFeed     TokenKind = "feed"     // FEED: dispense cycles
	TokenCal      TokenKind = "cal"      // CAL: load cell calibration
	TokenConfig   TokenKind = "config"   // CFG: runtime settings
	TokenTiming   TokenKind = "timing"   // TIMING: feed step durations
	TokenGet      TokenKind = "get"      // GET: on-demand reports
	TokenLog      TokenKind = "log"      // LOG: verbose stream switch
	TokenStop     TokenKind = "stop"     // STOP: emergency stop
)

// Relay codes (R:<code>). Codes 1-5 and 0 switch, 7 and 8 toggle.
// Code 6 is unassigned.
const (
	RelayAllOff    = 0
	RelayFanOn     = 1
	RelayFanOff    = 2
	RelayLEDOn     = 3
	RelayLEDOff    = 4
	RelayBothOn    = 5
	RelayFanToggle = 7
	RelayLEDToggle = 8
)

// Auger codes (G:<code>). Codes 3-6 select a direction with a speed
// preset in one step.
const (
	AugerStop        = 0
	AugerForward     = 1
	AugerReverse     = 2
	AugerForwardHalf = 3
	AugerForwardFull = 4
	AugerReverseHalf = 5
	AugerReverseFull = 6
)

// Blower codes (B:<code>). Values of 3 and above are direct PWM duty,
// carried in Token.Value instead of Token.Code.
const (
	BlowerOff    = 0
	BlowerOn     = 1
	BlowerToggle = 2
)

// Actuator codes (A:<code>[:<seconds>]). Up and down accept an
// optional run duration in seconds.
const (
	ActuatorStop = 0
	ActuatorUp   = 1
	ActuatorDown = 2
)

// Named subcommands carried in Token.Name.
const (
	NameSpeed   = "SPD"    // G:SPD:<n> sets the forward speed preset
	NameTare    = "tare"   // CAL:tare
	NameReset   = "reset"  // CAL:reset
	NameWeight  = "weight" // CAL:weight:<grams>
	NameSensors = "sensors"
	NameStatus  = "status"
	NameAll     = "all" // STOP:all
)

// Canonical CFG: keys. The grammar carries keys verbatim; the device
// rejects ones it does not know.
const (
	CfgSensorInterval = "SENSOR_INTERVAL"
	CfgOutputInterval = "OUTPUT_INTERVAL"
	CfgTempThreshold  = "TEMP_THRESHOLD"
	CfgTempHysteresis = "TEMP_HYSTERESIS"
	CfgAutoFan        = "AUTO_FAN"
	CfgAugerSpeed     = "AUGER_SPEED"
	CfgAugerSpeedRev  = "AUGER_SPEED_REV"
	CfgBlowerSpeed    = "BLOWER_SPEED"
	CfgActuatorSpeed  = "ACTUATOR_SPEED"
	CfgFeedSmall      = "FEED_SMALL"
	CfgFeedMedium     = "FEED_MEDIUM"
	CfgFeedLarge      = "FEED_LARGE"
)

// StepTiming holds the four feed step durations in seconds, as carried
// by a TIMING token.
type StepTiming struct {
	UpSec     float64
	DownSec   float64
	AugerSec  float64
	BlowerSec float64
}

// Token is a single command in the device grammar, decoded from or
// encoded to its line form ("R:1", "FEED:SEQ:50:3:2:20:15", ...).
//
// Which fields are meaningful depends on Kind:
//   - Code carries the numeric selector for relay, auger, blower,
//     actuator and log tokens.
//   - Value and HasValue carry the numeric argument: PWM duty for
//     blower tokens, run seconds for actuator tokens, grams for feed
//     and calibration tokens, the setting value for config tokens.
//   - Name carries named selectors: CAL subcommands, CFG keys, GET
//     reports, feed presets.
//   - Sequence and Timing carry the multi-field payloads of FEED:SEQ
//     and TIMING tokens.
type Token struct {
	Kind     TokenKind
	Code     int
	Value    float64
	HasValue bool
	Name     string
	Sequence *feeder.FeedSequence
	Timing   *StepTiming
}

// ParseToken decodes a single command line into a Token.
//
// Parsing is strict: unknown prefixes, unassigned codes and malformed
// arguments return an error wrapping ErrInvalidToken. Surrounding
// whitespace and a trailing CR are tolerated.
//
// Parameters:
//   - s: one command line, without the newline
//
// Returns:
//   - Token: the decoded command
//   - error: wrapping ErrInvalidToken if s is not a valid command
func ParseToken(s string) (Token, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Token{}, fmt.Errorf("%w: empty line", ErrInvalidToken)
	}

	prefix, rest, ok := strings.Cut(s, ":")
	if !ok {
		return Token{}, fmt.Errorf("%w: %q has no separator", ErrInvalidToken, s)
	}

	switch prefix {
	case "R":
		return parseRelay(rest)
	case "G":
		return parseAuger(rest)
	case "B":
		return parseBlower(rest)
	case "A":
		return parseActuator(rest)
	case "FEED":
		return parseFeed(rest)
	case "CAL":
		return parseCal(rest)
	case "CFG":
		return parseConfig(rest)
	case "TIMING":
		return parseTiming(rest)
	case "GET":
		return parseGet(rest)
	case "LOG":
		return parseLog(rest)
	case "STOP":
		if rest != NameAll {
			return Token{}, fmt.Errorf("%w: STOP:%s", ErrInvalidToken, rest)
		}
		return Token{Kind: TokenStop, Name: NameAll}, nil
	default:
		return Token{}, fmt.Errorf("%w: unknown prefix %q", ErrInvalidToken, prefix)
	}
}

func parseRelay(rest string) (Token, error) {
	code, err := strconv.Atoi(rest)
	if err != nil {
		return Token{}, fmt.Errorf("%w: R:%s", ErrInvalidToken, rest)
	}
	switch code {
	case RelayAllOff, RelayFanOn, RelayFanOff, RelayLEDOn, RelayLEDOff,
		RelayBothOn, RelayFanToggle, RelayLEDToggle:
		return Token{Kind: TokenRelay, Code: code}, nil
	default:
		return Token{}, fmt.Errorf("%w: relay code %d", ErrInvalidToken, code)
	}
}

func parseAuger(rest string) (Token, error) {
	if arg, found := strings.CutPrefix(rest, NameSpeed+":"); found {
		speed, err := strconv.Atoi(arg)
		if err != nil || speed < feeder.PWMMin || speed > feeder.PWMMax {
			return Token{}, fmt.Errorf("%w: G:SPD:%s", ErrInvalidToken, arg)
		}
		return Token{Kind: TokenAuger, Name: NameSpeed, Value: float64(speed), HasValue: true}, nil
	}
	code, err := strconv.Atoi(rest)
	if err != nil || code < AugerStop || code > AugerReverseFull {
		return Token{}, fmt.Errorf("%w: G:%s", ErrInvalidToken, rest)
	}
	return Token{Kind: TokenAuger, Code: code}, nil
}

// parseBlower treats the single digits 0-2 as switch codes and any
// other non-negative number as a direct PWM duty, capped at PWMMax.
func parseBlower(rest string) (Token, error) {
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return Token{}, fmt.Errorf("%w: B:%s", ErrInvalidToken, rest)
	}
	if len(rest) == 1 && n <= BlowerToggle {
		return Token{Kind: TokenBlower, Code: n}, nil
	}
	if n > feeder.PWMMax {
		n = feeder.PWMMax
	}
	return Token{Kind: TokenBlower, Value: float64(n), HasValue: true}, nil
}

func parseActuator(rest string) (Token, error) {
	codeStr, durStr, hasDur := strings.Cut(rest, ":")
	code, err := strconv.Atoi(codeStr)
	if err != nil || code < ActuatorStop || code > ActuatorDown {
		return Token{}, fmt.Errorf("%w: A:%s", ErrInvalidToken, rest)
	}
	tok := Token{Kind: TokenActuator, Code: code}
	if !hasDur {
		return tok, nil
	}
	if code == ActuatorStop {
		return Token{}, fmt.Errorf("%w: A:0 takes no duration", ErrInvalidToken)
	}
	dur, err := strconv.ParseFloat(durStr, 64)
	if err != nil || dur <= 0 {
		return Token{}, fmt.Errorf("%w: actuator duration %q", ErrInvalidToken, durStr)
	}
	tok.Value = dur
	tok.HasValue = true
	return tok, nil
}

func parseFeed(rest string) (Token, error) {
	if arg, found := strings.CutPrefix(rest, "SEQ:"); found {
		return parseFeedSequence(arg)
	}
	switch name := strings.ToLower(rest); name {
	case string(feeder.FeedPresetSmall), string(feeder.FeedPresetMedium), string(feeder.FeedPresetLarge):
		return Token{Kind: TokenFeed, Name: name}, nil
	}
	grams, err := strconv.ParseFloat(rest, 64)
	if err != nil || grams <= 0 {
		return Token{}, fmt.Errorf("%w: FEED:%s", ErrInvalidToken, rest)
	}
	return Token{Kind: TokenFeed, Value: grams, HasValue: true}, nil
}

// parseFeedSequence decodes the payload of FEED:SEQ:<g>:<up>:<down>:<auger>:<blower>.
func parseFeedSequence(rest string) (Token, error) {
	parts := strings.Split(rest, ":")
	if len(parts) != 5 {
		return Token{}, fmt.Errorf("%w: FEED:SEQ wants 5 fields, got %d", ErrInvalidToken, len(parts))
	}
	vals := make([]float64, 5)
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || v < 0 {
			return Token{}, fmt.Errorf("%w: FEED:SEQ field %q", ErrInvalidToken, p)
		}
		vals[i] = v
	}
	seq := &feeder.FeedSequence{
		TargetG:         vals[0],
		ActuatorUpSec:   vals[1],
		ActuatorDownSec: vals[2],
		AugerSec:        vals[3],
		BlowerSec:       vals[4],
	}
	return Token{Kind: TokenFeed, Sequence: seq}, nil
}

func parseCal(rest string) (Token, error) {
	switch rest {
	case NameTare, NameReset:
		return Token{Kind: TokenCal, Name: rest}, nil
	}
	if arg, found := strings.CutPrefix(rest, NameWeight+":"); found {
		grams, err := strconv.ParseFloat(arg, 64)
		if err != nil || grams <= 0 {
			return Token{}, fmt.Errorf("%w: CAL:weight:%s", ErrInvalidToken, arg)
		}
		return Token{Kind: TokenCal, Name: NameWeight, Value: grams, HasValue: true}, nil
	}
	return Token{}, fmt.Errorf("%w: CAL:%s", ErrInvalidToken, rest)
}

func parseConfig(rest string) (Token, error) {
	key, valStr, ok := strings.Cut(rest, ":")
	if !ok || key == "" {
		return Token{}, fmt.Errorf("%w: CFG:%s", ErrInvalidToken, rest)
	}
	val, err := strconv.ParseFloat(valStr, 64)
	if err != nil {
		return Token{}, fmt.Errorf("%w: CFG:%s value %q", ErrInvalidToken, key, valStr)
	}
	return Token{Kind: TokenConfig, Name: key, Value: val, HasValue: true}, nil
}

func parseTiming(rest string) (Token, error) {
	parts := strings.Split(rest, ":")
	if len(parts) != 4 {
		return Token{}, fmt.Errorf("%w: TIMING wants 4 fields, got %d", ErrInvalidToken, len(parts))
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || v < 0 {
			return Token{}, fmt.Errorf("%w: TIMING field %q", ErrInvalidToken, p)
		}
		vals[i] = v
	}
	timing := &StepTiming{UpSec: vals[0], DownSec: vals[1], AugerSec: vals[2], BlowerSec: vals[3]}
	return Token{Kind: TokenTiming, Timing: timing}, nil
}

func parseGet(rest string) (Token, error) {
	switch rest {
	case NameSensors, NameStatus:
		return Token{Kind: TokenGet, Name: rest}, nil
	}
	return Token{}, fmt.Errorf("%w: GET:%s", ErrInvalidToken, rest)
}

func parseLog(rest string) (Token, error) {
	switch rest {
	case "0":
		return Token{Kind: TokenLog, Code: 0}, nil
	case "1":
		return Token{Kind: TokenLog, Code: 1}, nil
	}
	return Token{}, fmt.Errorf("%w: LOG:%s", ErrInvalidToken, rest)
}

// Encode renders the token in its canonical line form, without a
// trailing newline. The output of Encode always parses back to an
// equal token.
func (t Token) Encode() string {
	switch t.Kind {
	case TokenRelay:
		return "R:" + strconv.Itoa(t.Code)
	case TokenAuger:
		if t.Name == NameSpeed {
			return "G:SPD:" + formatNum(t.Value)
		}
		return "G:" + strconv.Itoa(t.Code)
	case TokenBlower:
		if t.HasValue {
			return "B:" + formatNum(t.Value)
		}
		return "B:" + strconv.Itoa(t.Code)
	case TokenActuator:
		if t.HasValue {
			return "A:" + strconv.Itoa(t.Code) + ":" + formatNum(t.Value)
		}
		return "A:" + strconv.Itoa(t.Code)
	case TokenFeed:
		if t.Sequence != nil {
			s := t.Sequence
			return "FEED:SEQ:" + formatNum(s.TargetG) + ":" + formatNum(s.ActuatorUpSec) +
				":" + formatNum(s.ActuatorDownSec) + ":" + formatNum(s.AugerSec) +
				":" + formatNum(s.BlowerSec)
		}
		if t.Name != "" {
			return "FEED:" + t.Name
		}
		return "FEED:" + formatNum(t.Value)
	case TokenCal:
		if t.Name == NameWeight {
			return "CAL:weight:" + formatNum(t.Value)
		}
		return "CAL:" + t.Name
	case TokenConfig:
		return "CFG:" + t.Name + ":" + formatNum(t.Value)
	case TokenTiming:
		tm := t.Timing
		return "TIMING:" + formatNum(tm.UpSec) + ":" + formatNum(tm.DownSec) +
			":" + formatNum(tm.AugerSec) + ":" + formatNum(tm.BlowerSec)
	case TokenGet:
		return "GET:" + t.Name
	case TokenLog:
		return "LOG:" + strconv.Itoa(t.Code)
	case TokenStop:
		return "STOP:" + NameAll
	}
	return ""
}

// String implements fmt.Stringer using the canonical line form.
func (t Token) String() string {
	return t.Encode()
}

// formatNum renders a numeric argument with the fewest digits that
// survive a round trip.
func formatNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
