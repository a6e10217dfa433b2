package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pondlogic/feeder-core/internal/schedule"
)

// handleListSchedules returns every feeding schedule.
func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.schedules.List(r.Context())
	if err != nil {
		s.logger.Error("schedule list failed", "error", err)
		writeInternalError(w, "failed to list schedules")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"schedules": schedules,
		"count":     len(schedules),
	})
}

// handleGetSchedule returns one schedule by ID.
func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid schedule ID")
		return
	}

	sched, err := s.schedules.Get(r.Context(), id)
	if err != nil {
		s.writeScheduleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

// handleCreateSchedule stores a new feeding schedule.
func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var sched schedule.Schedule
	if err := json.NewDecoder(r.Body).Decode(&sched); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	// IDs are assigned by the repository.
	sched.ID = ""

	if err := s.schedules.Create(r.Context(), &sched); err != nil {
		s.writeScheduleError(w, err)
		return
	}

	s.logger.Info("schedule created", "id", sched.ID, "name", sched.Name, "time", sched.TimeOfDay)
	writeJSON(w, http.StatusCreated, sched)
}

// handleUpdateSchedule replaces an existing schedule. Fields omitted
// from the body keep their stored values.
func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid schedule ID")
		return
	}

	existing, err := s.schedules.Get(r.Context(), id)
	if err != nil {
		s.writeScheduleError(w, err)
		return
	}

	sched := *existing
	if err := json.NewDecoder(r.Body).Decode(&sched); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	sched.ID = id

	if err := s.schedules.Update(r.Context(), &sched); err != nil {
		s.writeScheduleError(w, err)
		return
	}

	s.logger.Info("schedule updated", "id", sched.ID, "name", sched.Name)
	writeJSON(w, http.StatusOK, sched)
}

// handleDeleteSchedule removes a schedule.
func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid schedule ID")
		return
	}

	if err := s.schedules.Delete(r.Context(), id); err != nil {
		s.writeScheduleError(w, err)
		return
	}

	s.logger.Info("schedule deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// writeScheduleError maps schedule repository failures to HTTP status codes.
func (s *Server) writeScheduleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, schedule.ErrScheduleNotFound):
		writeNotFound(w, "schedule not found")
	case errors.Is(err, schedule.ErrInvalidSchedule):
		writeBadRequest(w, err.Error())
	case errors.Is(err, schedule.ErrScheduleExists):
		writeConflict(w, "a schedule with this name already exists")
	default:
		s.logger.Error("schedule operation failed", "error", err)
		writeInternalError(w, "schedule operation failed")
	}
}
