package feeder

import (
	"testing"
	"time"
)

func testRegistry() *Registry {
	return NewRegistry("pond-feeder-01", 10*time.Second)
}

// drain consumes any buffered snapshots so a test can watch for the
// next notification only.
func drain(ch <-chan Snapshot) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// waitSnapshot receives one snapshot or fails the test.
func waitSnapshot(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case snap := <-ch:
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return Snapshot{}
	}
}

// === Construction ===

func TestNewRegistry(t *testing.T) {
	r := testRegistry()

	if got := r.DeviceID(); got != "pond-feeder-01" {
		t.Errorf("DeviceID() = %q, want %q", got, "pond-feeder-01")
	}

	snap := r.Snapshot()
	if snap.Online {
		t.Error("new registry should start offline")
	}
	if !snap.SensorsStale {
		t.Error("new registry should report stale sensors")
	}
	if snap.Reading != nil {
		t.Error("new registry should have no reading")
	}
	if len(snap.Actuators) != 0 {
		t.Errorf("new registry has %d actuators, want 0", len(snap.Actuators))
	}
}

// === Online state ===

func TestSetOnline(t *testing.T) {
	r := testRegistry()
	ch, cancel := r.Subscribe(4)
	defer cancel()

	r.SetOnline(true)
	snap := waitSnapshot(t, ch)
	if !snap.Online {
		t.Error("snapshot should be online after SetOnline(true)")
	}
	if snap.LastSeen.IsZero() {
		t.Error("LastSeen should be set when device comes online")
	}

	// Repeating the same state must not notify.
	r.SetOnline(true)
	select {
	case <-ch:
		t.Error("unchanged online state should not notify")
	case <-time.After(50 * time.Millisecond):
	}

	r.SetOnline(false)
	snap = waitSnapshot(t, ch)
	if snap.Online {
		t.Error("snapshot should be offline after SetOnline(false)")
	}
}

// === Sensor readings ===

func TestApplyReading(t *testing.T) {
	r := testRegistry()
	ch, cancel := r.Subscribe(4)
	defer cancel()

	reading := &SensorReading{
		FeedTempC: Float(24.5),
		WeightKg:  Float(1.45),
	}
	r.ApplyReading(reading)

	snap := waitSnapshot(t, ch)
	if snap.Reading == nil {
		t.Fatal("snapshot should carry the reading")
	}
	if got := *snap.Reading.FeedTempC; got != 24.5 {
		t.Errorf("FeedTempC = %v, want 24.5", got)
	}
	if snap.Reading.At.IsZero() {
		t.Error("At should be stamped when the reading omits it")
	}
	if snap.SensorsStale {
		t.Error("fresh reading should clear the stale flag")
	}
	if !snap.Online {
		t.Error("a reading implies the device is online")
	}
}

func TestApplyReadingNil(t *testing.T) {
	r := testRegistry()
	ch, cancel := r.Subscribe(4)
	defer cancel()

	r.ApplyReading(nil)
	select {
	case <-ch:
		t.Error("nil reading should be ignored")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSnapshotStaleReading(t *testing.T) {
	r := NewRegistry("pond-feeder-01", 20*time.Millisecond)

	r.ApplyReading(&SensorReading{FeedTempC: Float(24.5)})
	if r.Snapshot().SensorsStale {
		t.Error("reading should be fresh immediately after apply")
	}

	time.Sleep(40 * time.Millisecond)
	if !r.Snapshot().SensorsStale {
		t.Error("reading should be stale after the stale window")
	}
}

// === Actuator state ===

func TestApplyActuator(t *testing.T) {
	r := testRegistry()
	ch, cancel := r.Subscribe(4)
	defer cancel()

	r.ApplyActuator(ActuatorState{
		Target:    TargetAuger,
		On:        true,
		PWM:       200,
		Direction: DirectionForward,
	})

	snap := waitSnapshot(t, ch)
	state, ok := snap.Actuators[TargetAuger]
	if !ok {
		t.Fatal("snapshot should contain auger state")
	}
	if !state.On || state.PWM != 200 || state.Direction != DirectionForward {
		t.Errorf("auger state = %+v, want on at 200 forward", state)
	}
	if state.ChangedAt.IsZero() {
		t.Error("ChangedAt should be stamped")
	}
}

func TestApplyActuatorUnchanged(t *testing.T) {
	r := testRegistry()

	state := ActuatorState{Target: TargetLED, On: true}
	r.ApplyActuator(state)

	ch, cancel := r.Subscribe(4)
	defer cancel()
	drain(ch)

	// Same observable state again: no notification.
	r.ApplyActuator(state)
	select {
	case <-ch:
		t.Error("unchanged actuator state should not notify")
	case <-time.After(50 * time.Millisecond):
	}

	r.ApplyActuator(ActuatorState{Target: TargetLED, On: false})
	snap := waitSnapshot(t, ch)
	if snap.Actuators[TargetLED].On {
		t.Error("led should be off after change")
	}
}

func TestApplyActuatorRejectsSystem(t *testing.T) {
	r := testRegistry()

	r.ApplyActuator(ActuatorState{Target: TargetSystem, On: true})
	r.ApplyActuator(ActuatorState{Target: "pump", On: true})

	snap := r.Snapshot()
	if len(snap.Actuators) != 0 {
		t.Errorf("invalid targets stored: %v", snap.Actuators)
	}
}

// === Feed state ===

func TestSetFeed(t *testing.T) {
	r := testRegistry()
	ch, cancel := r.Subscribe(4)
	defer cancel()

	r.SetFeed(true, "sess-1")
	snap := waitSnapshot(t, ch)
	if !snap.FeedActive || snap.FeedSessionID != "sess-1" {
		t.Errorf("snapshot feed = (%v, %q), want (true, sess-1)", snap.FeedActive, snap.FeedSessionID)
	}

	r.SetFeed(false, "")
	snap = waitSnapshot(t, ch)
	if snap.FeedActive {
		t.Error("feed should be inactive")
	}
	if snap.FeedSessionID != "" {
		t.Errorf("session ID = %q, want empty", snap.FeedSessionID)
	}
}

// === Snapshot isolation ===

func TestSnapshotIsolation(t *testing.T) {
	r := testRegistry()
	r.ApplyReading(&SensorReading{FeedTempC: Float(24.5)})
	r.ApplyActuator(ActuatorState{Target: TargetFan, On: true})

	snap := r.Snapshot()

	// Replacing snapshot fields must not touch the registry.
	snap.Reading.FeedTempC = nil
	snap.Actuators[TargetFan] = ActuatorState{Target: TargetFan, On: false}

	fresh := r.Snapshot()
	if fresh.Reading.FeedTempC == nil || *fresh.Reading.FeedTempC != 24.5 {
		t.Errorf("registry reading mutated through snapshot: %+v", fresh.Reading)
	}
	if !fresh.Actuators[TargetFan].On {
		t.Error("registry actuator mutated through snapshot")
	}
}

// === Subscriptions ===

func TestSubscribeUnsubscribe(t *testing.T) {
	r := testRegistry()

	ch, cancel := r.Subscribe(1)
	if got := r.SubscriberCount(); got != 1 {
		t.Errorf("SubscriberCount() = %d, want 1", got)
	}

	cancel()
	if got := r.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() after cancel = %d, want 0", got)
	}

	// Channel is closed after unsubscribe.
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("channel should be closed after cancel")
		}
	case <-time.After(time.Second):
		t.Error("channel not closed after cancel")
	}

	// Double cancel is safe.
	cancel()
}

func TestSubscribeSlowConsumer(t *testing.T) {
	r := testRegistry()

	// Buffer of one; never consumed. Updates must not block.
	_, cancel := r.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			r.SetOnline(i%2 == 0)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("updates blocked on a slow subscriber")
	}
}

func TestSubscribeMultiple(t *testing.T) {
	r := testRegistry()

	ch1, cancel1 := r.Subscribe(4)
	ch2, cancel2 := r.Subscribe(4)
	defer cancel1()
	defer cancel2()

	r.SetOnline(true)

	snap1 := waitSnapshot(t, ch1)
	snap2 := waitSnapshot(t, ch2)
	if !snap1.Online || !snap2.Online {
		t.Error("both subscribers should observe the update")
	}
}
