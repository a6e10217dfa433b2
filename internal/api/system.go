package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemReport represents the complete system report response.
type SystemReport struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	MQTT          MQTTMetrics     `json:"mqtt"`
	Link          LinkMetrics     `json:"link"`
	Feed          FeedMetrics     `json:"feed"`
	Database      DatabaseMetrics `json:"database"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// LinkMetrics contains device link statistics.
type LinkMetrics struct {
	Connected     bool   `json:"connected"`
	FramesRx      uint64 `json:"frames_rx"`
	LinesTx       uint64 `json:"lines_tx"`
	FramesDropped uint64 `json:"frames_dropped"`
	ParseErrors   uint64 `json:"parse_errors"`
	DeviceErrors  uint64 `json:"device_errors"`
	Reconnects    uint64 `json:"reconnects"`
	LastFrameAt   string `json:"last_frame_at,omitempty"`
}

// FeedMetrics contains feed cycle statistics.
type FeedMetrics struct {
	Active    bool   `json:"active"`
	SessionID string `json:"session_id,omitempty"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleSystem returns a comprehensive system report.
func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request) {
	// Collect runtime stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	report := SystemReport{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
	}

	if s.hub != nil {
		report.WebSocket = WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		}
	}

	if s.mqtt != nil {
		report.MQTT = MQTTMetrics{
			Connected: s.mqtt.IsConnected(),
		}
	}

	// Device link stats
	link := s.bridge.LinkStats()
	report.Link = LinkMetrics{
		Connected:     link.Connected,
		FramesRx:      link.FramesRx,
		LinesTx:       link.LinesTx,
		FramesDropped: link.FramesDropped,
		ParseErrors:   link.ParseErrors,
		DeviceErrors:  link.ErrorsTotal,
		Reconnects:    link.Reconnects,
	}
	if !link.LastFrameAt.IsZero() {
		report.Link.LastFrameAt = link.LastFrameAt.UTC().Format(time.RFC3339)
	}

	// Feed cycle state
	if id := s.bridge.ActiveSession(); id != "" {
		report.Feed = FeedMetrics{Active: true, SessionID: id}
	}

	// Database stats (if available)
	if s.db != nil {
		dbStats := s.db.Stats()
		report.Database = DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, report)
}
