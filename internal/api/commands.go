package api

import (
	"net/http"
	"strconv"

	"github.com/pondlogic/feeder-core/internal/audit"
)

// handleListCommands returns the paginated command log. Filters:
// ?target=, ?outcome=, ?source=, ?limit=, ?offset=.
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		Target:  q.Get("target"),
		Outcome: q.Get("outcome"),
		Source:  q.Get("source"),
		Limit:   queryInt(q.Get("limit")),
		Offset:  queryInt(q.Get("offset")),
	}
	if len(filter.Target) > maxQueryParamLen || len(filter.Outcome) > maxQueryParamLen || len(filter.Source) > maxQueryParamLen {
		writeBadRequest(w, "filter value too long")
		return
	}

	result, err := s.commands.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("command log query failed", "error", err)
		writeInternalError(w, "failed to list commands")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// queryInt parses a query parameter as an int, returning 0 for absent
// or malformed input. The repositories clamp to their own defaults.
func queryInt(v string) int {
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
