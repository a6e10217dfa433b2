package wire

import (
	"errors"
	"testing"
)

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Frame
		wantErr bool
	}{
		{
			name: "data frame",
			line: "[DATA] " + sampleDataBody,
			want: Frame{Kind: FrameData},
		},
		{
			name: "ack with result",
			line: "[ACK] G:1 AUGER_FORWARD",
			want: Frame{Kind: FrameAck, Token: "G:1", Detail: "AUGER_FORWARD"},
		},
		{
			name: "ack without result",
			line: "[ACK] CFG:AUGER_SPEED",
			want: Frame{Kind: FrameAck, Token: "CFG:AUGER_SPEED"},
		},
		{
			name: "ack echoes full timing token",
			line: "[ACK] TIMING:3:2:20:15 Timing_Updated",
			want: Frame{Kind: FrameAck, Token: "TIMING:3:2:20:15", Detail: "Timing_Updated"},
		},
		{
			name: "nak with reason code",
			line: "[NAK] G:? INVALID_AUGER_CMD",
			want: Frame{Kind: FrameNak, Token: "G:?", Detail: "INVALID_AUGER_CMD"},
		},
		{
			name: "nak with sentence reason",
			line: "[NAK] FEED Invalid amount. Use 1-1000 grams",
			want: Frame{Kind: FrameNak, Token: "FEED", Detail: "Invalid amount. Use 1-1000 grams"},
		},
		{
			name: "verbose log line",
			line: "[LOG:4500] WEIGHT:1.25,STATUS:Idle",
			want: Frame{Kind: FrameLog, UptimeMS: 4500, Message: "WEIGHT:1.25,STATUS:Idle"},
		},
		{
			name: "error report",
			line: "[ERROR:900] Feed timeout - target not reached",
			want: Frame{Kind: FrameError, UptimeMS: 900, Message: "Feed timeout - target not reached"},
		},
		{
			name: "bare info",
			line: "[INFO] Auger_Auto_Stopped",
			want: Frame{Kind: FrameInfo, Message: "Auger_Auto_Stopped"},
		},
		{
			name: "stamped info",
			line: "[INFO:1200] Verbose logging enabled",
			want: Frame{Kind: FrameInfo, UptimeMS: 1200, Message: "Verbose logging enabled"},
		},
		{
			name: "command echo",
			line: "[CMD:88] Received: R:1",
			want: Frame{Kind: FrameCmd, UptimeMS: 88, Message: "Received: R:1"},
		},
		{
			name: "feed progress",
			line: `[FEED_PROGRESS] {"weight":1.22,"target":50,"progress":42.5,"t":9000}`,
			want: Frame{Kind: FrameFeedProgress},
		},
		{
			name: "feed complete",
			line: `[FEED_COMPLETE] {"target":50,"actual":48.2,"initial_weight":1.25,"final_weight":1.2,"duration_ms":12500,"reason":"target_reached","timestamp":21000}`,
			want: Frame{Kind: FrameFeedComplete},
		},
		{
			name: "alert",
			line: `[ALERT] {"type":"low_battery","msg":"Battery at 10.8V","t":5000}`,
			want: Frame{Kind: FrameAlert},
		},
		{
			name: "bare status JSON",
			line: `{"sensors":{"feed_temp":25.5,"weight":1.25,"bat_v":12.4,"charging":1},"t":123456}`,
			want: Frame{Kind: FrameStatus},
		},
		{
			name: "pushed status JSON",
			line: `[SEND] {"sensors":{"feed_temp":25.5},"t":99}`,
			want: Frame{Kind: FrameStatus},
		},
		{
			name: "boot chatter",
			line: "Feeder controller v2.1 starting...",
			want: Frame{Kind: FrameText, Message: "Feeder controller v2.1 starting..."},
		},
		{
			name: "broken timestamp demotes to text",
			line: "[LOG:abc] broken",
			want: Frame{Kind: FrameText, Message: "[LOG:abc] broken"},
		},
		{
			name:    "empty line",
			line:    "",
			wantErr: true,
		},
		{
			name:    "data body without fields",
			line:    "[DATA] garbage",
			wantErr: true,
		},
		{
			name:    "feed progress bad JSON",
			line:    "[FEED_PROGRESS] {not json",
			wantErr: true,
		},
		{
			name:    "status bad JSON",
			line:    "{not json",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFrame(tt.line)

			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseFrame(%q) expected error, got nil", tt.line)
				}
				if !errors.Is(err, ErrInvalidFrame) {
					t.Errorf("ParseFrame(%q) error = %v, want ErrInvalidFrame", tt.line, err)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseFrame(%q) unexpected error: %v", tt.line, err)
			}
			if got.Kind != tt.want.Kind {
				t.Errorf("Kind = %v, want %v", got.Kind, tt.want.Kind)
			}
			if got.Token != tt.want.Token {
				t.Errorf("Token = %q, want %q", got.Token, tt.want.Token)
			}
			if got.Detail != tt.want.Detail {
				t.Errorf("Detail = %q, want %q", got.Detail, tt.want.Detail)
			}
			if got.Message != tt.want.Message {
				t.Errorf("Message = %q, want %q", got.Message, tt.want.Message)
			}
			if got.UptimeMS != tt.want.UptimeMS {
				t.Errorf("UptimeMS = %d, want %d", got.UptimeMS, tt.want.UptimeMS)
			}
			if got.Raw != tt.line {
				t.Errorf("Raw = %q, want %q", got.Raw, tt.line)
			}
		})
	}
}

func TestParseFramePayloads(t *testing.T) {
	f, err := ParseFrame(`[FEED_PROGRESS] {"weight":1.22,"target":50,"progress":42.5,"t":9000}`)
	if err != nil {
		t.Fatalf("ParseFrame(progress) unexpected error: %v", err)
	}
	if f.Progress == nil {
		t.Fatal("Progress payload missing")
	}
	if f.Progress.WeightKg != 1.22 || f.Progress.TargetG != 50 ||
		f.Progress.ProgressPct != 42.5 || f.Progress.UptimeMS != 9000 {
		t.Errorf("Progress = %+v", *f.Progress)
	}

	f, err = ParseFrame(`[FEED_COMPLETE] {"target":50,"actual":48.2,"initial_weight":1.25,"final_weight":1.2,"duration_ms":12500,"reason":"timeout","timestamp":21000}`)
	if err != nil {
		t.Fatalf("ParseFrame(complete) unexpected error: %v", err)
	}
	if f.Complete == nil {
		t.Fatal("Complete payload missing")
	}
	c := *f.Complete
	if c.TargetG != 50 || c.ActualG != 48.2 || c.InitialWeightKg != 1.25 ||
		c.FinalWeightKg != 1.2 || c.DurationMS != 12500 || c.Reason != ReasonTimeout {
		t.Errorf("Complete = %+v", c)
	}

	// Older firmware omits the reason.
	f, err = ParseFrame(`[FEED_COMPLETE] {"target":50,"actual":50.1,"initial_weight":1.25,"final_weight":1.2,"duration_ms":9000,"timestamp":30000}`)
	if err != nil {
		t.Fatalf("ParseFrame(complete, no reason) unexpected error: %v", err)
	}
	if f.Complete.Reason != "" {
		t.Errorf("Reason = %q, want empty", f.Complete.Reason)
	}

	f, err = ParseFrame(`[ALERT] {"type":"high_temperature","msg":"Control box at 41.0C","t":7000}`)
	if err != nil {
		t.Fatalf("ParseFrame(alert) unexpected error: %v", err)
	}
	if f.Alert == nil {
		t.Fatal("Alert payload missing")
	}
	if f.Alert.Type != AlertHighTemperature || f.Alert.UptimeMS != 7000 {
		t.Errorf("Alert = %+v", *f.Alert)
	}

	f, err = ParseFrame("[DATA] " + sampleDataBody)
	if err != nil {
		t.Fatalf("ParseFrame(data) unexpected error: %v", err)
	}
	if f.Data == nil || f.Data.Reading == nil {
		t.Fatal("Data payload missing")
	}
	if f.Data.Reading.FeedTempC == nil || *f.Data.Reading.FeedTempC != 25.5 {
		t.Errorf("FeedTempC = %v, want 25.5", f.Data.Reading.FeedTempC)
	}
}

func TestFrameLines(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"ack with result", AckLine("G:1", "AUGER_FORWARD"), "[ACK] G:1 AUGER_FORWARD"},
		{"ack bare", AckLine("CFG:AUGER_SPEED", ""), "[ACK] CFG:AUGER_SPEED"},
		{"nak", NakLine("G:?", "INVALID_AUGER_CMD"), "[NAK] G:? INVALID_AUGER_CMD"},
		{"log", LogLine(4500, "STATUS:Idle"), "[LOG:4500] STATUS:Idle"},
		{"error", ErrorLine(900, "Feed timeout"), "[ERROR:900] Feed timeout"},
		{"info", InfoLine("Weight tared"), "[INFO] Weight tared"},
		{"cmd echo", CmdEchoLine(88, "R:1"), "[CMD:88] Received: R:1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("line = %q, want %q", tt.got, tt.want)
			}
		})
	}
}

// Every emitted event frame must parse back to its own payload.
func TestFrameRoundTrip(t *testing.T) {
	progress := FeedProgress{WeightKg: 1.2, TargetG: 50, ProgressPct: 60, UptimeMS: 4000}
	f, err := ParseFrame(progress.Encode())
	if err != nil {
		t.Fatalf("progress round trip error: %v", err)
	}
	if f.Kind != FrameFeedProgress || f.Progress == nil || *f.Progress != progress {
		t.Errorf("progress round trip = %+v", f)
	}

	complete := FeedComplete{
		TargetG:         50,
		ActualG:         49.5,
		InitialWeightKg: 1.3,
		FinalWeightKg:   1.25,
		DurationMS:      8000,
		Reason:          ReasonTargetReached,
		UptimeMS:        60000,
	}
	f, err = ParseFrame(complete.Encode())
	if err != nil {
		t.Fatalf("complete round trip error: %v", err)
	}
	if f.Kind != FrameFeedComplete || f.Complete == nil || *f.Complete != complete {
		t.Errorf("complete round trip = %+v", f)
	}

	alert := Alert{Type: AlertLowWeight, Message: "Hopper at 0.4kg", UptimeMS: 70000}
	f, err = ParseFrame(alert.Encode())
	if err != nil {
		t.Fatalf("alert round trip error: %v", err)
	}
	if f.Kind != FrameAlert || f.Alert == nil || *f.Alert != alert {
		t.Errorf("alert round trip = %+v", f)
	}
}
