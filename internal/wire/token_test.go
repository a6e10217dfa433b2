package wire

import (
	"errors"
	"reflect"
	"testing"

	"github.com/pondlogic/feeder-core/internal/feeder"
)

func TestParseToken(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Token
		wantErr bool
	}{
		{
			name: "relay fan on",
			line: "R:1",
			want: Token{Kind: TokenRelay, Code: RelayFanOn},
		},
		{
			name: "relay all off",
			line: "R:0",
			want: Token{Kind: TokenRelay, Code: RelayAllOff},
		},
		{
			name: "relay led toggle",
			line: "R:8",
			want: Token{Kind: TokenRelay, Code: RelayLEDToggle},
		},
		{
			name: "whitespace and CR tolerated",
			line: "  R:5\r",
			want: Token{Kind: TokenRelay, Code: RelayBothOn},
		},
		{
			name:    "relay code 6 unassigned",
			line:    "R:6",
			wantErr: true,
		},
		{
			name: "auger forward",
			line: "G:1",
			want: Token{Kind: TokenAuger, Code: AugerForward},
		},
		{
			name: "auger reverse full preset",
			line: "G:6",
			want: Token{Kind: TokenAuger, Code: AugerReverseFull},
		},
		{
			name: "auger speed preset",
			line: "G:SPD:220",
			want: Token{Kind: TokenAuger, Name: NameSpeed, Value: 220, HasValue: true},
		},
		{
			name:    "auger speed above PWM range",
			line:    "G:SPD:300",
			wantErr: true,
		},
		{
			name:    "auger code out of range",
			line:    "G:7",
			wantErr: true,
		},
		{
			name: "blower on code",
			line: "B:1",
			want: Token{Kind: TokenBlower, Code: BlowerOn},
		},
		{
			name: "blower direct duty",
			line: "B:128",
			want: Token{Kind: TokenBlower, Value: 128, HasValue: true},
		},
		{
			name: "blower duty capped at 255",
			line: "B:999",
			want: Token{Kind: TokenBlower, Value: 255, HasValue: true},
		},
		{
			name:    "blower negative rejected",
			line:    "B:-5",
			wantErr: true,
		},
		{
			name: "actuator stop",
			line: "A:0",
			want: Token{Kind: TokenActuator, Code: ActuatorStop},
		},
		{
			name: "actuator up timed",
			line: "A:1:2.5",
			want: Token{Kind: TokenActuator, Code: ActuatorUp, Value: 2.5, HasValue: true},
		},
		{
			name:    "actuator stop takes no duration",
			line:    "A:0:3",
			wantErr: true,
		},
		{
			name:    "actuator zero duration rejected",
			line:    "A:1:0",
			wantErr: true,
		},
		{
			name: "feed preset",
			line: "FEED:small",
			want: Token{Kind: TokenFeed, Name: "small"},
		},
		{
			name: "feed preset case insensitive",
			line: "FEED:Medium",
			want: Token{Kind: TokenFeed, Name: "medium"},
		},
		{
			name: "feed explicit grams",
			line: "FEED:75",
			want: Token{Kind: TokenFeed, Value: 75, HasValue: true},
		},
		{
			name:    "feed zero grams rejected",
			line:    "FEED:0",
			wantErr: true,
		},
		{
			name: "feed sequence",
			line: "FEED:SEQ:50:3:2:20:15",
			want: Token{Kind: TokenFeed, Sequence: &feeder.FeedSequence{
				TargetG:         50,
				ActuatorUpSec:   3,
				ActuatorDownSec: 2,
				AugerSec:        20,
				BlowerSec:       15,
			}},
		},
		{
			name:    "feed sequence missing field",
			line:    "FEED:SEQ:50:3:2:20",
			wantErr: true,
		},
		{
			name: "cal tare",
			line: "CAL:tare",
			want: Token{Kind: TokenCal, Name: NameTare},
		},
		{
			name: "cal known weight",
			line: "CAL:weight:1000",
			want: Token{Kind: TokenCal, Name: NameWeight, Value: 1000, HasValue: true},
		},
		{
			name:    "cal weight not a number",
			line:    "CAL:weight:abc",
			wantErr: true,
		},
		{
			name:    "cal unknown subcommand",
			line:    "CAL:zero",
			wantErr: true,
		},
		{
			name: "config key and value",
			line: "CFG:TEMP_THRESHOLD:32.5",
			want: Token{Kind: TokenConfig, Name: CfgTempThreshold, Value: 32.5, HasValue: true},
		},
		{
			name:    "config missing value",
			line:    "CFG:AUTO_FAN",
			wantErr: true,
		},
		{
			name: "timing",
			line: "TIMING:3:2:20:15",
			want: Token{Kind: TokenTiming, Timing: &StepTiming{UpSec: 3, DownSec: 2, AugerSec: 20, BlowerSec: 15}},
		},
		{
			name:    "timing wrong field count",
			line:    "TIMING:3:2:20",
			wantErr: true,
		},
		{
			name: "get sensors",
			line: "GET:sensors",
			want: Token{Kind: TokenGet, Name: NameSensors},
		},
		{
			name:    "get unknown report",
			line:    "GET:uptime",
			wantErr: true,
		},
		{
			name: "log stream on",
			line: "LOG:1",
			want: Token{Kind: TokenLog, Code: 1},
		},
		{
			name:    "log bad switch",
			line:    "LOG:2",
			wantErr: true,
		},
		{
			name: "stop all",
			line: "STOP:all",
			want: Token{Kind: TokenStop, Name: NameAll},
		},
		{
			name:    "stop unknown scope",
			line:    "STOP:now",
			wantErr: true,
		},
		{
			name:    "no separator",
			line:    "HELLO",
			wantErr: true,
		},
		{
			name:    "unknown prefix",
			line:    "X:1",
			wantErr: true,
		},
		{
			name:    "empty line",
			line:    "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseToken(tt.line)

			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseToken(%q) expected error, got nil", tt.line)
				}
				if !errors.Is(err, ErrInvalidToken) {
					t.Errorf("ParseToken(%q) error = %v, want ErrInvalidToken", tt.line, err)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseToken(%q) unexpected error: %v", tt.line, err)
			}
			if got.Kind != tt.want.Kind {
				t.Errorf("Kind = %v, want %v", got.Kind, tt.want.Kind)
			}
			if got.Code != tt.want.Code {
				t.Errorf("Code = %d, want %d", got.Code, tt.want.Code)
			}
			if got.Value != tt.want.Value || got.HasValue != tt.want.HasValue {
				t.Errorf("Value = %v (has=%v), want %v (has=%v)",
					got.Value, got.HasValue, tt.want.Value, tt.want.HasValue)
			}
			if got.Name != tt.want.Name {
				t.Errorf("Name = %q, want %q", got.Name, tt.want.Name)
			}
			if !reflect.DeepEqual(got.Sequence, tt.want.Sequence) {
				t.Errorf("Sequence = %+v, want %+v", got.Sequence, tt.want.Sequence)
			}
			if !reflect.DeepEqual(got.Timing, tt.want.Timing) {
				t.Errorf("Timing = %+v, want %+v", got.Timing, tt.want.Timing)
			}
		})
	}
}

func TestTokenEncode(t *testing.T) {
	tests := []struct {
		name  string
		token Token
		want  string
	}{
		{
			name:  "relay",
			token: Token{Kind: TokenRelay, Code: RelayFanToggle},
			want:  "R:7",
		},
		{
			name:  "auger code",
			token: Token{Kind: TokenAuger, Code: AugerReverse},
			want:  "G:2",
		},
		{
			name:  "auger speed preset",
			token: Token{Kind: TokenAuger, Name: NameSpeed, Value: 180, HasValue: true},
			want:  "G:SPD:180",
		},
		{
			name:  "blower switch code",
			token: Token{Kind: TokenBlower, Code: BlowerToggle},
			want:  "B:2",
		},
		{
			name:  "blower direct duty",
			token: Token{Kind: TokenBlower, Value: 128, HasValue: true},
			want:  "B:128",
		},
		{
			name:  "actuator untimed",
			token: Token{Kind: TokenActuator, Code: ActuatorStop},
			want:  "A:0",
		},
		{
			name:  "actuator timed keeps fraction",
			token: Token{Kind: TokenActuator, Code: ActuatorDown, Value: 3.5, HasValue: true},
			want:  "A:2:3.5",
		},
		{
			name:  "feed preset",
			token: Token{Kind: TokenFeed, Name: "large"},
			want:  "FEED:large",
		},
		{
			name:  "feed grams drops trailing zeros",
			token: Token{Kind: TokenFeed, Value: 75, HasValue: true},
			want:  "FEED:75",
		},
		{
			name: "feed sequence",
			token: Token{Kind: TokenFeed, Sequence: &feeder.FeedSequence{
				TargetG:         50,
				ActuatorUpSec:   3,
				ActuatorDownSec: 2,
				AugerSec:        20,
				BlowerSec:       15,
			}},
			want: "FEED:SEQ:50:3:2:20:15",
		},
		{
			name:  "cal weight",
			token: Token{Kind: TokenCal, Name: NameWeight, Value: 1000, HasValue: true},
			want:  "CAL:weight:1000",
		},
		{
			name:  "config",
			token: Token{Kind: TokenConfig, Name: CfgAugerSpeed, Value: 200, HasValue: true},
			want:  "CFG:AUGER_SPEED:200",
		},
		{
			name:  "timing",
			token: Token{Kind: TokenTiming, Timing: &StepTiming{UpSec: 3, DownSec: 2, AugerSec: 20, BlowerSec: 15}},
			want:  "TIMING:3:2:20:15",
		},
		{
			name:  "get status",
			token: Token{Kind: TokenGet, Name: NameStatus},
			want:  "GET:status",
		},
		{
			name:  "log off",
			token: Token{Kind: TokenLog, Code: 0},
			want:  "LOG:0",
		},
		{
			name:  "stop all",
			token: Token{Kind: TokenStop, Name: NameAll},
			want:  "STOP:all",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.token.Encode(); got != tt.want {
				t.Errorf("Encode() = %q, want %q", got, tt.want)
			}
		})
	}
}

// Canonical lines must survive a parse/encode round trip unchanged.
func TestTokenRoundTrip(t *testing.T) {
	lines := []string{
		"R:7",
		"G:2",
		"G:SPD:180",
		"B:0",
		"B:200",
		"A:1:2.5",
		"FEED:medium",
		"FEED:75",
		"FEED:SEQ:50:3:2:20:15",
		"CAL:tare",
		"CAL:weight:1000",
		"CFG:TEMP_THRESHOLD:32.5",
		"TIMING:3:2:20:15",
		"GET:sensors",
		"LOG:1",
		"STOP:all",
	}

	for _, line := range lines {
		tok, err := ParseToken(line)
		if err != nil {
			t.Errorf("ParseToken(%q) unexpected error: %v", line, err)
			continue
		}
		if got := tok.Encode(); got != line {
			t.Errorf("round trip %q -> %q", line, got)
		}
	}
}

func TestCommandToken(t *testing.T) {
	pwm := func(duty float64) feeder.Command {
		cmd := feeder.NewCommand(feeder.TargetBlower, feeder.ActionPWM, "test")
		cmd.Value = duty
		cmd.HasValue = true
		return cmd
	}

	tests := []struct {
		name    string
		cmd     feeder.Command
		want    string
		wantErr bool
	}{
		{
			name: "fan on",
			cmd:  feeder.NewCommand(feeder.TargetFan, feeder.ActionOn, "test"),
			want: "R:1",
		},
		{
			name: "fan off",
			cmd:  feeder.NewCommand(feeder.TargetFan, feeder.ActionOff, "test"),
			want: "R:2",
		},
		{
			name: "fan toggle",
			cmd:  feeder.NewCommand(feeder.TargetFan, feeder.ActionToggle, "test"),
			want: "R:7",
		},
		{
			name: "led on",
			cmd:  feeder.NewCommand(feeder.TargetLED, feeder.ActionOn, "test"),
			want: "R:3",
		},
		{
			name: "led off",
			cmd:  feeder.NewCommand(feeder.TargetLED, feeder.ActionOff, "test"),
			want: "R:4",
		},
		{
			name: "led toggle",
			cmd:  feeder.NewCommand(feeder.TargetLED, feeder.ActionToggle, "test"),
			want: "R:8",
		},
		{
			name: "auger stop",
			cmd:  feeder.NewCommand(feeder.TargetAuger, feeder.ActionStop, "test"),
			want: "G:0",
		},
		{
			name: "auger forward",
			cmd:  feeder.NewCommand(feeder.TargetAuger, feeder.ActionForward, "test"),
			want: "G:1",
		},
		{
			name: "auger reverse",
			cmd:  feeder.NewCommand(feeder.TargetAuger, feeder.ActionReverse, "test"),
			want: "G:2",
		},
		{
			name: "blower on",
			cmd:  feeder.NewCommand(feeder.TargetBlower, feeder.ActionOn, "test"),
			want: "B:1",
		},
		{
			name: "blower off",
			cmd:  feeder.NewCommand(feeder.TargetBlower, feeder.ActionOff, "test"),
			want: "B:0",
		},
		{
			name: "blower pwm",
			cmd:  pwm(128),
			want: "B:128",
		},
		{
			name: "blower pwm zero is off",
			cmd:  pwm(0),
			want: "B:0",
		},
		{
			name: "blower pwm below wire minimum rounds up",
			cmd:  pwm(2),
			want: "B:3",
		},
		{
			name: "actuator stop",
			cmd:  feeder.NewCommand(feeder.TargetActuator, feeder.ActionStop, "test"),
			want: "A:0",
		},
		{
			name: "actuator up untimed",
			cmd:  feeder.NewCommand(feeder.TargetActuator, feeder.ActionUp, "test"),
			want: "A:1",
		},
		{
			name: "actuator down timed",
			cmd: func() feeder.Command {
				c := feeder.NewCommand(feeder.TargetActuator, feeder.ActionDown, "test")
				c.Value = 2.5
				c.HasValue = true
				return c
			}(),
			want: "A:2:2.5",
		},
		{
			name: "emergency stop",
			cmd:  feeder.NewCommand(feeder.TargetSystem, feeder.ActionStopAll, "test"),
			want: "STOP:all",
		},
		{
			name:    "pair with no wire form",
			cmd:     feeder.NewCommand(feeder.TargetLED, feeder.ActionForward, "test"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := CommandToken(tt.cmd)

			if tt.wantErr {
				if err == nil {
					t.Fatalf("CommandToken() expected error, got nil")
				}
				if !errors.Is(err, ErrNotRepresentable) {
					t.Errorf("CommandToken() error = %v, want ErrNotRepresentable", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("CommandToken() unexpected error: %v", err)
			}
			if got := tok.Encode(); got != tt.want {
				t.Errorf("CommandToken() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFeedToken(t *testing.T) {
	req := feeder.NewFeedRequest("test")
	req.Preset = feeder.FeedPresetSmall
	tok, err := FeedToken(req)
	if err != nil {
		t.Fatalf("FeedToken(preset) unexpected error: %v", err)
	}
	if got := tok.Encode(); got != "FEED:small" {
		t.Errorf("preset token = %q, want %q", got, "FEED:small")
	}

	req = feeder.NewFeedRequest("test")
	req.Grams = 75
	tok, err = FeedToken(req)
	if err != nil {
		t.Fatalf("FeedToken(grams) unexpected error: %v", err)
	}
	if got := tok.Encode(); got != "FEED:75" {
		t.Errorf("grams token = %q, want %q", got, "FEED:75")
	}

	req = feeder.NewFeedRequest("test")
	req.Sequence = &feeder.FeedSequence{TargetG: 50, ActuatorUpSec: 3, ActuatorDownSec: 2, AugerSec: 20, BlowerSec: 15}
	tok, err = FeedToken(req)
	if err != nil {
		t.Fatalf("FeedToken(sequence) unexpected error: %v", err)
	}
	if got := tok.Encode(); got != "FEED:SEQ:50:3:2:20:15" {
		t.Errorf("sequence token = %q, want %q", got, "FEED:SEQ:50:3:2:20:15")
	}
	if tok.Sequence == req.Sequence {
		t.Error("sequence token should copy the request's sequence, not alias it")
	}

	if _, err := FeedToken(feeder.NewFeedRequest("test")); err == nil {
		t.Error("FeedToken(empty) expected error, got nil")
	}
}

func TestTimingToken(t *testing.T) {
	tok := TimingToken(feeder.DefaultSettings())
	if got, want := tok.Encode(), "TIMING:2:1:10:5"; got != want {
		t.Errorf("TimingToken() = %q, want %q", got, want)
	}
}

func TestBuilderTokens(t *testing.T) {
	tests := []struct {
		name  string
		token Token
		want  string
	}{
		{"config", ConfigToken(CfgAutoFan, 1), "CFG:AUTO_FAN:1"},
		{"tare", TareToken(), "CAL:tare"},
		{"calibrate", CalibrateToken(1000), "CAL:weight:1000"},
		{"cal reset", CalResetToken(), "CAL:reset"},
		{"get sensors", GetSensorsToken(), "GET:sensors"},
		{"get status", GetStatusToken(), "GET:status"},
		{"log on", LogStreamToken(true), "LOG:1"},
		{"log off", LogStreamToken(false), "LOG:0"},
		{"stop all", StopAllToken(), "STOP:all"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.token.Encode(); got != tt.want {
				t.Errorf("Encode() = %q, want %q", got, tt.want)
			}
		})
	}
}
