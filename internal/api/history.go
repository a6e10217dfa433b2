package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	bridge "github.com/pondlogic/feeder-core/internal/bridges/feeder"
)

// History query defaults.
const (
	defaultHistorySince  = 24 * time.Hour
	defaultHistoryWindow = 5 * time.Minute
	maxHistorySince      = 90 * 24 * time.Hour
)

// handleSensorHistory returns downsampled sensor history for one field.
// Query: ?since=24h&window=5m (Go duration strings).
func (s *Server) handleSensorHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil || !s.history.Enabled() {
		writeUnavailable(w, "sensor history is not configured")
		return
	}

	field := chi.URLParam(r, "field")
	if !bridge.IsSensorField(field) {
		writeBadRequest(w, "unknown sensor field: "+field)
		return
	}

	since, ok := queryDuration(r.URL.Query().Get("since"), defaultHistorySince)
	if !ok {
		writeBadRequest(w, "invalid since duration")
		return
	}
	window, ok := queryDuration(r.URL.Query().Get("window"), defaultHistoryWindow)
	if !ok {
		writeBadRequest(w, "invalid window duration")
		return
	}
	if since > maxHistorySince {
		since = maxHistorySince
	}

	points, err := s.history.SensorHistory(r.Context(), field, since, window)
	if err != nil {
		if errors.Is(err, bridge.ErrHistoryUnavailable) {
			writeUnavailable(w, "sensor history is temporarily unavailable")
			return
		}
		s.logger.Error("sensor history query failed", "field", field, "error", err)
		writeInternalError(w, "failed to query sensor history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"field":  field,
		"since":  since.String(),
		"window": window.String(),
		"points": points,
	})
}

// handleFeedHistory returns dispensed-gram totals per day.
// Query: ?since=168h.
func (s *Server) handleFeedHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil || !s.history.Enabled() {
		writeUnavailable(w, "feed history is not configured")
		return
	}

	since, ok := queryDuration(r.URL.Query().Get("since"), 7*24*time.Hour)
	if !ok {
		writeBadRequest(w, "invalid since duration")
		return
	}
	if since > maxHistorySince {
		since = maxHistorySince
	}

	points, err := s.history.FeedTotals(r.Context(), since)
	if err != nil {
		if errors.Is(err, bridge.ErrHistoryUnavailable) {
			writeUnavailable(w, "feed history is temporarily unavailable")
			return
		}
		s.logger.Error("feed history query failed", "error", err)
		writeInternalError(w, "failed to query feed history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"since":  since.String(),
		"points": points,
	})
}

// queryDuration parses a duration query parameter, returning the default
// for absent input and false for malformed or non-positive input.
func queryDuration(v string, def time.Duration) (time.Duration, bool) {
	if v == "" {
		return def, true
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
