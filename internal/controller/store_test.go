package controller

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/pondlogic/feeder-core/internal/feeder"
)

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "state.json"))

	set := feeder.DefaultSettings()
	set.AugerSpeedForward = 210
	set.TempThresholdC = 31.5
	cal := feeder.Calibration{Offset: 8388608, Scale: 420}

	if err := store.Save(set, cal); err != nil {
		t.Fatalf("Save: %v", err)
	}
	gotSet, gotCal, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if gotSet.AugerSpeedForward != 210 {
		t.Errorf("AugerSpeedForward = %d, want 210", gotSet.AugerSpeedForward)
	}
	if gotSet.TempThresholdC != 31.5 {
		t.Errorf("TempThresholdC = %v, want 31.5", gotSet.TempThresholdC)
	}
	if gotCal != cal {
		t.Errorf("calibration = %+v, want %+v", gotCal, cal)
	}
}

func TestStoreMissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "absent.json"))
	_, _, err := store.Load()
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Load error = %v, want fs.ErrNotExist", err)
	}
}

func TestStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, _, err := NewStore(path).Load()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if errors.Is(err, fs.ErrNotExist) {
		t.Error("corrupt file misreported as missing")
	}
}

func TestStoreOverwrite(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "state.json"))

	if err := store.Save(feeder.DefaultSettings(), feeder.DefaultCalibration()); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	set := feeder.DefaultSettings()
	set.FeedSmallG = 42
	if err := store.Save(set, feeder.DefaultCalibration()); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	got, _, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.FeedSmallG != 42 {
		t.Errorf("FeedSmallG = %v, want 42", got.FeedSmallG)
	}

	// the temp file from the atomic write must not linger
	entries, err := os.ReadDir(filepath.Dir(store.Path()))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("state dir entries = %v, want only state.json", names)
	}
}
