package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)
	r.Use(s.rateLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health and monitoring (no auth required)
		r.Get("/health", s.handleHealth)
		r.Get("/system", s.handleSystem)
		if s.promReg != nil {
			r.Method(http.MethodGet, "/metrics",
				promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))
		}

		// Read-only state and history
		r.Get("/status", s.handleStatus)
		r.Get("/sensors", s.handleSensors)
		r.Get("/settings", s.handleGetSettings)
		r.Get("/commands", s.handleListCommands)
		r.Get("/feed/sessions", s.handleListSessions)
		r.Get("/feed/active", s.handleActiveSession)
		r.Get("/history/sensors/{field}", s.handleSensorHistory)
		r.Get("/history/feed", s.handleFeedHistory)
		r.Get("/schedules", s.handleListSchedules)
		r.Get("/schedules/{id}", s.handleGetSchedule)

		// WebSocket push (auth via key query parameter when enabled)
		r.Get("/ws", s.handleWebSocket)

		// Mutating routes require an API key when keys are configured
		r.Group(func(r chi.Router) {
			r.Use(s.apiKeyMiddleware)

			r.Post("/control/{target}", s.handleControl)
			r.Post("/stop", s.handleStopAll)
			r.Post("/feed", s.handleFeed)

			r.Route("/calibration", func(r chi.Router) {
				r.Post("/tare", s.handleTare)
				r.Post("/weight", s.handleCalibrate)
				r.Post("/reset", s.handleCalibrationReset)
			})

			r.Put("/settings", s.handlePutSettings)

			r.Route("/device", func(r chi.Router) {
				r.Post("/config", s.handleDeviceConfig)
				r.Post("/log", s.handleDeviceLog)
				r.Post("/refresh", s.handleDeviceRefresh)
			})

			r.Post("/schedules", s.handleCreateSchedule)
			r.Put("/schedules/{id}", s.handleUpdateSchedule)
			r.Delete("/schedules/{id}", s.handleDeleteSchedule)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
