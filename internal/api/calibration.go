package api

import (
	"encoding/json"
	"errors"
	"net/http"

	device "github.com/pondlogic/feeder-core/internal/feeder"
	"github.com/pondlogic/feeder-core/internal/wire"
)

// handleTare zeroes the load cell with the hopper empty.
func (s *Server) handleTare(w http.ResponseWriter, r *http.Request) {
	rec, err := s.bridge.Tare(r.Context(), sourceAPI)
	if err != nil {
		s.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}

// calibrateRequest is the body of POST /calibration/weight.
type calibrateRequest struct {
	Grams float64 `json:"grams"`
}

// handleCalibrate computes the load cell scale from a known reference
// weight placed in the hopper.
func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	var req calibrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Grams <= 0 {
		writeBadRequest(w, "grams must be positive")
		return
	}

	rec, err := s.bridge.Calibrate(r.Context(), req.Grams, sourceAPI)
	if err != nil {
		s.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}

// handleCalibrationReset restores the factory calibration.
func (s *Server) handleCalibrationReset(w http.ResponseWriter, r *http.Request) {
	rec, err := s.bridge.ResetCalibration(r.Context(), sourceAPI)
	if err != nil {
		s.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}

// handleGetSettings returns the device settings mirror.
func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.Settings())
}

// handlePutSettings pushes a full settings document to the device.
// Fields omitted from the body keep their current values.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	// Start from the current mirror so a partial document works.
	settings := s.bridge.Settings()
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.bridge.ApplySettings(r.Context(), settings, sourceAPI); err != nil {
		switch {
		case errors.Is(err, wire.ErrNotRepresentable), errors.Is(err, device.ErrInvalidValue):
			writeBadRequest(w, err.Error())
		default:
			s.writeCommandError(w, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// deviceConfigRequest is the body of POST /device/config: a single
// key/value pair for the device's persistent store.
type deviceConfigRequest struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
}

// handleDeviceConfig sets one device configuration parameter.
func (s *Server) handleDeviceConfig(w http.ResponseWriter, r *http.Request) {
	var req deviceConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Key == "" || len(req.Key) > maxQueryParamLen {
		writeBadRequest(w, "key is required")
		return
	}

	rec, err := s.bridge.SetConfig(r.Context(), req.Key, req.Value, sourceAPI)
	if err != nil {
		s.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}

// deviceLogRequest is the body of POST /device/log.
type deviceLogRequest struct {
	Enabled bool `json:"enabled"`
}

// handleDeviceLog toggles the device's verbose log stream.
func (s *Server) handleDeviceLog(w http.ResponseWriter, r *http.Request) {
	var req deviceLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	rec, err := s.bridge.SetLogStream(r.Context(), req.Enabled, sourceAPI)
	if err != nil {
		s.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}

// handleDeviceRefresh requests an immediate sensor reading outside the
// device's normal reporting cadence.
func (s *Server) handleDeviceRefresh(w http.ResponseWriter, r *http.Request) {
	rec, err := s.bridge.RequestSensors(r.Context(), sourceAPI)
	if err != nil {
		s.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}
