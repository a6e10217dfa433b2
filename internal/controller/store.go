package controller

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pondlogic/feeder-core/internal/feeder"
)

// deviceState is the on-disk shape of everything the device persists
// across restarts. It stands in for the EEPROM of a real board.
type deviceState struct {
	Settings    feeder.Settings    `json:"settings"`
	Calibration feeder.Calibration `json:"calibration"`
}

// Store reads and writes the device state file.
type Store struct {
	path string
}

// NewStore returns a store backed by the given file path. The file
// does not need to exist yet; Load reports fs.ErrNotExist and Save
// creates it.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the persisted settings and calibration.
//
// Returns:
//   - Settings and Calibration from the file on success
//   - an error wrapping fs.ErrNotExist when the file is absent, so
//     callers can fall back to defaults
func (s *Store) Load() (feeder.Settings, feeder.Calibration, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return feeder.Settings{}, feeder.Calibration{}, fmt.Errorf("load device state: %w", err)
	}

	var st deviceState
	if err := json.Unmarshal(data, &st); err != nil {
		return feeder.Settings{}, feeder.Calibration{}, fmt.Errorf("parse device state %s: %w", s.path, err)
	}
	return st.Settings, st.Calibration, nil
}

// Save writes the settings and calibration atomically: the state is
// written to a temp file in the same directory and renamed over the
// target, so a crash mid-write never leaves a truncated file.
func (s *Store) Save(settings feeder.Settings, cal feeder.Calibration) error {
	data, err := json.MarshalIndent(deviceState{Settings: settings, Calibration: cal}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode device state: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".device-state-*.json")
	if err != nil {
		return fmt.Errorf("save device state: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("save device state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("save device state: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("save device state: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("save device state: %w", err)
	}
	return nil
}
