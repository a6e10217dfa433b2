package api

import (
	"net/http"
)

// handleStatus returns the full device status snapshot: link liveness,
// actuator states, the latest sensor reading and the feed flag.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Snapshot())
}

// handleSensors returns the latest sensor reading on its own.
func (s *Server) handleSensors(w http.ResponseWriter, _ *http.Request) {
	snap := s.registry.Snapshot()
	if snap.Reading == nil {
		writeNotFound(w, "no sensor reading received yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reading": snap.Reading,
		"stale":   snap.SensorsStale,
	})
}
