package feeder

import (
	"bufio"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/pondlogic/feeder-core/internal/wire"
)

// testDevice is a TCP listener standing in for the serial gateway.
// Accepted connections arrive on conns.
type testDevice struct {
	ln    net.Listener
	conns chan net.Conn
}

func startTestDevice(t *testing.T) *testDevice {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("starting test device: %v", err)
	}

	d := &testDevice{ln: ln, conns: make(chan net.Conn, 4)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			d.conns <- conn
		}
	}()

	t.Cleanup(func() { ln.Close() })
	return d
}

func (d *testDevice) url() string {
	return "tcp://" + d.ln.Addr().String()
}

// accept waits for the link to dial in.
func (d *testDevice) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case conn := <-d.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("link never connected")
		return nil
	}
}

// startTestLink builds and starts a link against the test device with
// quick reconnect timings, returning frame and state channels.
func startTestLink(t *testing.T, d *testDevice) (*Link, chan wire.Frame, chan bool) {
	t.Helper()

	link, err := NewLink(LinkConfig{
		URL:              d.url(),
		ConnectTimeout:   time.Second,
		ReadTimeout:      5 * time.Second,
		ReconnectInitial: 10 * time.Millisecond,
		ReconnectMax:     50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewLink: %v", err)
	}

	frames := make(chan wire.Frame, 32)
	link.SetOnFrame(func(f wire.Frame) { frames <- f })
	states := make(chan bool, 32)
	link.SetOnStateChange(func(up bool) { states <- up })

	if err := link.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { link.Close() })

	return link, frames, states
}

func waitState(t *testing.T, states <-chan bool, want bool) {
	t.Helper()
	for {
		select {
		case got := <-states:
			if got == want {
				return
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("link state never became %v", want)
		}
	}
}

func waitFrame(t *testing.T, frames <-chan wire.Frame) wire.Frame {
	t.Helper()
	select {
	case f := <-frames:
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("no frame arrived")
		return wire.Frame{}
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewLinkValidation(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid", "tcp://localhost:7060", false},
		{"empty", "", true},
		{"no scheme", "localhost:7060", true},
		{"wrong scheme", "serial:///dev/ttyUSB0", true},
		{"no port", "tcp://localhost", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link, err := NewLink(LinkConfig{URL: tt.url})
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NewLink(%q) succeeded, want error", tt.url)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewLink(%q): %v", tt.url, err)
			}
			if got := link.Addr(); got != "localhost:7060" {
				t.Errorf("Addr() = %q, want localhost:7060", got)
			}
		})
	}
}

func TestLinkReceivesFramesInOrder(t *testing.T) {
	d := startTestDevice(t)
	link, frames, states := startTestLink(t, d)

	conn := d.accept(t)
	waitState(t, states, true)

	lines := "[DATA] TEMP1:22.5,WEIGHT:1.25,TIME:100\n" +
		"[ACK] R:3 LED ON\n" +
		"[ALERT] {\"type\":\"low_weight\",\"msg\":\"hopper nearly empty\",\"t\":123}\n"
	if _, err := conn.Write([]byte(lines)); err != nil {
		t.Fatalf("writing device lines: %v", err)
	}

	f := waitFrame(t, frames)
	if f.Kind != wire.FrameData {
		t.Fatalf("frame 1 kind = %q, want %q", f.Kind, wire.FrameData)
	}
	if f.Data == nil || f.Data.Reading == nil || f.Data.Reading.WeightKg == nil {
		t.Fatal("data frame missing weight reading")
	}
	if got := *f.Data.Reading.WeightKg; got != 1.25 {
		t.Errorf("weight = %v, want 1.25", got)
	}

	f = waitFrame(t, frames)
	if f.Kind != wire.FrameAck {
		t.Fatalf("frame 2 kind = %q, want %q", f.Kind, wire.FrameAck)
	}
	if f.Token != "R:3" {
		t.Errorf("ack token = %q, want R:3", f.Token)
	}

	f = waitFrame(t, frames)
	if f.Kind != wire.FrameAlert {
		t.Fatalf("frame 3 kind = %q, want %q", f.Kind, wire.FrameAlert)
	}
	if f.Alert == nil || f.Alert.Type != wire.AlertLowWeight {
		t.Errorf("alert payload = %+v, want type low_weight", f.Alert)
	}

	stats := link.Stats()
	if !stats.Connected {
		t.Error("Stats().Connected = false after connect")
	}
	if stats.FramesRx != 3 {
		t.Errorf("Stats().FramesRx = %d, want 3", stats.FramesRx)
	}
}

func TestLinkSend(t *testing.T) {
	d := startTestDevice(t)
	link, _, states := startTestLink(t, d)

	conn := d.accept(t)
	waitState(t, states, true)

	if err := link.Send(context.Background(), "R:3"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		t.Fatalf("reading relayed line: %v", scanner.Err())
	}
	if got := scanner.Text(); got != "R:3" {
		t.Errorf("device received %q, want R:3", got)
	}

	if got := link.Stats().LinesTx; got != 1 {
		t.Errorf("Stats().LinesTx = %d, want 1", got)
	}
}

func TestLinkSendWhileDown(t *testing.T) {
	// Dial target that never answers: the link stays disconnected.
	link, err := NewLink(LinkConfig{URL: "tcp://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("NewLink: %v", err)
	}

	if err := link.Send(context.Background(), "R:3"); !errors.Is(err, ErrLinkDown) {
		t.Fatalf("Send on down link = %v, want ErrLinkDown", err)
	}
}

func TestLinkReconnects(t *testing.T) {
	d := startTestDevice(t)
	link, frames, states := startTestLink(t, d)

	first := d.accept(t)
	waitState(t, states, true)

	// Drop the connection; the link should dial again on its own.
	first.Close()
	waitState(t, states, false)

	second := d.accept(t)
	waitState(t, states, true)

	if _, err := second.Write([]byte("[INFO] Feeder ready\n")); err != nil {
		t.Fatalf("writing on second connection: %v", err)
	}
	f := waitFrame(t, frames)
	if f.Kind != wire.FrameInfo {
		t.Fatalf("frame kind after reconnect = %q, want %q", f.Kind, wire.FrameInfo)
	}

	waitUntil(t, "reconnect counter", func() bool {
		return link.Stats().Reconnects >= 1
	})
}

func TestLinkToleratesUnparseableLines(t *testing.T) {
	d := startTestDevice(t)
	link, frames, states := startTestLink(t, d)

	conn := d.accept(t)
	waitState(t, states, true)

	// A DATA body with no recognisable field is a parse error; the
	// line after it must still come through.
	lines := "[DATA] bogus\n[ACK] T\n"
	if _, err := conn.Write([]byte(lines)); err != nil {
		t.Fatalf("writing device lines: %v", err)
	}

	f := waitFrame(t, frames)
	if f.Kind != wire.FrameAck || f.Token != "T" {
		t.Fatalf("got frame %q token %q, want ack for T", f.Kind, f.Token)
	}

	if got := link.Stats().ParseErrors; got != 1 {
		t.Errorf("Stats().ParseErrors = %d, want 1", got)
	}
}

func TestLinkCloseIsIdempotent(t *testing.T) {
	d := startTestDevice(t)
	link, _, states := startTestLink(t, d)

	d.accept(t)
	waitState(t, states, true)

	if err := link.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := link.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if link.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
}
