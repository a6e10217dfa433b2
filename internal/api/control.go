package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	bridge "github.com/pondlogic/feeder-core/internal/bridges/feeder"
	device "github.com/pondlogic/feeder-core/internal/feeder"
	"github.com/pondlogic/feeder-core/internal/wire"
)

// maxQueryParamLen limits path/query parameter length to keep oversized
// URL params out of the repositories.
const maxQueryParamLen = 100

// sourceAPI tags commands issued through the HTTP API in the command log.
const sourceAPI = "api"

// controlRequest is the body of POST /control/{target}.
type controlRequest struct {
	Action string   `json:"action"`
	Value  *float64 `json:"value,omitempty"`
}

// handleControl validates a command for one target and relays it
// through the bridge.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	targetName := chi.URLParam(r, "target")
	if targetName == "" || len(targetName) > maxQueryParamLen {
		writeBadRequest(w, "invalid target")
		return
	}

	target, err := device.ParseTarget(targetName)
	if err != nil {
		writeBadRequest(w, "unknown target: "+targetName)
		return
	}

	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	cmd := device.NewCommand(target, device.Action(req.Action), sourceAPI)
	if req.Value != nil {
		cmd = cmd.WithValue(*req.Value)
	}
	if err := device.ValidateCommand(cmd); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	rec, err := s.bridge.Control(r.Context(), cmd)
	if err != nil {
		s.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}

// handleStopAll relays the emergency stop.
func (s *Server) handleStopAll(w http.ResponseWriter, r *http.Request) {
	rec, err := s.bridge.StopAll(r.Context(), sourceAPI)
	if err != nil {
		s.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}

// feedRequest is the body of POST /feed. Exactly one of preset, grams,
// or sequence must be set.
type feedRequest struct {
	Preset   string               `json:"preset,omitempty"`
	Grams    float64              `json:"grams,omitempty"`
	Sequence *device.FeedSequence `json:"sequence,omitempty"`
}

// handleFeed starts a feed cycle.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	var req feedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	set := 0
	if req.Preset != "" {
		set++
	}
	if req.Grams > 0 {
		set++
	}
	if req.Sequence != nil {
		set++
	}
	if set != 1 {
		writeBadRequest(w, "exactly one of preset, grams or sequence is required")
		return
	}
	if req.Preset != "" && !device.FeedPreset(req.Preset).IsValid() {
		writeBadRequest(w, "unknown preset: "+req.Preset)
		return
	}

	fr := device.NewFeedRequest(sourceAPI)
	fr.Preset = device.FeedPreset(req.Preset)
	fr.Grams = req.Grams
	fr.Sequence = req.Sequence

	sess, err := s.bridge.Feed(r.Context(), fr)
	if err != nil {
		switch {
		case errors.Is(err, bridge.ErrFeedActive):
			writeConflict(w, "a feed cycle is already running")
		case errors.Is(err, bridge.ErrLinkDown):
			writeUnavailable(w, "device link down")
		case errors.Is(err, wire.ErrNotRepresentable), errors.Is(err, device.ErrInvalidFeedRequest):
			writeBadRequest(w, err.Error())
		default:
			writeInternalError(w, "failed to start feed cycle")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, sess)
}

// writeCommandError maps bridge relay failures to HTTP status codes.
func (s *Server) writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bridge.ErrLinkDown):
		writeUnavailable(w, "device link down")
	case errors.Is(err, wire.ErrNotRepresentable),
		errors.Is(err, wire.ErrInvalidToken),
		errors.Is(err, device.ErrUnknownAction),
		errors.Is(err, device.ErrInvalidValue),
		errors.Is(err, device.ErrMissingValue):
		writeBadRequest(w, err.Error())
	default:
		writeInternalError(w, "failed to relay command")
	}
}
