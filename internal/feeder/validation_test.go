package feeder

import (
	"errors"
	"testing"
)

func TestValidateCommand(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Command
		wantErr error
	}{
		{
			name: "led on",
			cmd:  Command{Target: TargetLED, Action: ActionOn},
		},
		{
			name: "fan toggle",
			cmd:  Command{Target: TargetFan, Action: ActionToggle},
		},
		{
			name: "auger forward",
			cmd:  Command{Target: TargetAuger, Action: ActionForward},
		},
		{
			name: "blower pwm",
			cmd:  Command{Target: TargetBlower, Action: ActionPWM, Value: 128, HasValue: true},
		},
		{
			name: "actuator timed up",
			cmd:  Command{Target: TargetActuator, Action: ActionUp, Value: 2.5, HasValue: true},
		},
		{
			name: "system stop all",
			cmd:  Command{Target: TargetSystem, Action: ActionStopAll},
		},
		{
			name:    "unknown target",
			cmd:     Command{Target: "pump", Action: ActionOn},
			wantErr: ErrUnknownTarget,
		},
		{
			name:    "action not allowed for target",
			cmd:     Command{Target: TargetLED, Action: ActionForward},
			wantErr: ErrUnknownAction,
		},
		{
			name:    "relay cannot pwm",
			cmd:     Command{Target: TargetFan, Action: ActionPWM, Value: 100, HasValue: true},
			wantErr: ErrUnknownAction,
		},
		{
			name:    "system cannot toggle",
			cmd:     Command{Target: TargetSystem, Action: ActionToggle},
			wantErr: ErrUnknownAction,
		},
		{
			name:    "pwm without value",
			cmd:     Command{Target: TargetBlower, Action: ActionPWM},
			wantErr: ErrMissingValue,
		},
		{
			name:    "pwm above range",
			cmd:     Command{Target: TargetBlower, Action: ActionPWM, Value: 256, HasValue: true},
			wantErr: ErrInvalidValue,
		},
		{
			name:    "pwm below range",
			cmd:     Command{Target: TargetBlower, Action: ActionPWM, Value: -1, HasValue: true},
			wantErr: ErrInvalidValue,
		},
		{
			name:    "value on a plain action",
			cmd:     Command{Target: TargetAuger, Action: ActionReverse, Value: 180, HasValue: true},
			wantErr: ErrInvalidValue,
		},
		{
			name:    "timed run zero duration",
			cmd:     Command{Target: TargetActuator, Action: ActionDown, Value: 0, HasValue: true},
			wantErr: ErrInvalidValue,
		},
		{
			name:    "timed run too long",
			cmd:     Command{Target: TargetActuator, Action: ActionUp, Value: 301, HasValue: true},
			wantErr: ErrInvalidValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCommand(tt.cmd)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateCommand() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateCommand() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateFeedRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     FeedRequest
		wantErr error
	}{
		{
			name: "preset small",
			req:  FeedRequest{Preset: FeedPresetSmall},
		},
		{
			name: "grams",
			req:  FeedRequest{Grams: 75},
		},
		{
			name: "sequence",
			req: FeedRequest{Sequence: &FeedSequence{
				TargetG: 50, ActuatorUpSec: 2, ActuatorDownSec: 1, AugerSec: 10, BlowerSec: 5,
			}},
		},
		{
			name:    "no mode",
			req:     FeedRequest{},
			wantErr: ErrInvalidFeedRequest,
		},
		{
			name:    "two modes",
			req:     FeedRequest{Preset: FeedPresetSmall, Grams: 50},
			wantErr: ErrInvalidFeedRequest,
		},
		{
			name:    "unknown preset",
			req:     FeedRequest{Preset: "enormous"},
			wantErr: ErrInvalidFeedRequest,
		},
		{
			name:    "grams over cap",
			req:     FeedRequest{Grams: 5001},
			wantErr: ErrInvalidFeedRequest,
		},
		{
			name: "sequence without auger time",
			req: FeedRequest{Sequence: &FeedSequence{
				TargetG: 50, ActuatorUpSec: 2, ActuatorDownSec: 1, BlowerSec: 5,
			}},
			wantErr: ErrInvalidFeedRequest,
		},
		{
			name: "sequence phase too long",
			req: FeedRequest{Sequence: &FeedSequence{
				TargetG: 50, AugerSec: 10, BlowerSec: 121,
			}},
			wantErr: ErrInvalidFeedRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFeedRequest(tt.req)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateFeedRequest() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateFeedRequest() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		input   string
		want    Target
		wantErr bool
	}{
		{"led", TargetLED, false},
		{"auger", TargetAuger, false},
		{"system", TargetSystem, false},
		{"LED", "", true},
		{"pump", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseTarget(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseTarget(%q) expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseTarget(%q) error = %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseTarget(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestPresetGrams(t *testing.T) {
	s := DefaultSettings()

	tests := []struct {
		preset FeedPreset
		want   float64
		wantOK bool
	}{
		{FeedPresetSmall, 50, true},
		{FeedPresetMedium, 100, true},
		{FeedPresetLarge, 200, true},
		{"enormous", 0, false},
	}

	for _, tt := range tests {
		got, ok := s.PresetGrams(tt.preset)
		if ok != tt.wantOK {
			t.Errorf("PresetGrams(%q) ok = %v, want %v", tt.preset, ok, tt.wantOK)
		}
		if got != tt.want {
			t.Errorf("PresetGrams(%q) = %v, want %v", tt.preset, got, tt.want)
		}
	}
}

func TestCalibrationWeightFromRaw(t *testing.T) {
	tests := []struct {
		name string
		cal  Calibration
		raw  float64
		want float64
	}{
		{"identity", DefaultCalibration(), 123, 123},
		{"offset only", Calibration{Offset: 100, Scale: 1}, 150, 50},
		{"offset and scale", Calibration{Offset: 8400, Scale: 420}, 29400, 50},
		{"zero scale treated as identity", Calibration{Offset: 0, Scale: 0}, 77, 77},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cal.WeightFromRaw(tt.raw)
			if got != tt.want {
				t.Errorf("WeightFromRaw(%v) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}
