package api

import (
	"errors"
	"net/http"

	"github.com/pondlogic/feeder-core/internal/feeding"
)

// handleListSessions returns the paginated feed session history.
// Filters: ?status=, ?trigger=, ?limit=, ?offset=.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := feeding.Filter{
		Status:      q.Get("status"),
		TriggerType: q.Get("trigger"),
		Limit:       queryInt(q.Get("limit")),
		Offset:      queryInt(q.Get("offset")),
	}
	if len(filter.Status) > maxQueryParamLen || len(filter.TriggerType) > maxQueryParamLen {
		writeBadRequest(w, "filter value too long")
		return
	}

	result, err := s.sessions.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("feed session query failed", "error", err)
		writeInternalError(w, "failed to list feed sessions")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleActiveSession returns the currently running feed session, if any.
func (s *Server) handleActiveSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Active(r.Context())
	if err != nil {
		if errors.Is(err, feeding.ErrNoActiveSession) {
			writeNotFound(w, "no feed cycle is running")
			return
		}
		s.logger.Error("active session query failed", "error", err)
		writeInternalError(w, "failed to query active session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
