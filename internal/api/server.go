package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pondlogic/feeder-core/internal/audit"
	bridge "github.com/pondlogic/feeder-core/internal/bridges/feeder"
	device "github.com/pondlogic/feeder-core/internal/feeder"
	"github.com/pondlogic/feeder-core/internal/feeding"
	"github.com/pondlogic/feeder-core/internal/infrastructure/config"
	"github.com/pondlogic/feeder-core/internal/infrastructure/database"
	"github.com/pondlogic/feeder-core/internal/infrastructure/influxdb"
	"github.com/pondlogic/feeder-core/internal/infrastructure/logging"
	"github.com/pondlogic/feeder-core/internal/infrastructure/mqtt"
	"github.com/pondlogic/feeder-core/internal/schedule"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// BridgeControl is the slice of the bridge the API drives. Satisfied by
// *bridge.Bridge; faked in tests.
type BridgeControl interface {
	Control(ctx context.Context, cmd device.Command) (*audit.CommandRecord, error)
	Feed(ctx context.Context, req device.FeedRequest) (*feeding.Session, error)
	StopAll(ctx context.Context, source string) (*audit.CommandRecord, error)
	Tare(ctx context.Context, source string) (*audit.CommandRecord, error)
	Calibrate(ctx context.Context, grams float64, source string) (*audit.CommandRecord, error)
	ResetCalibration(ctx context.Context, source string) (*audit.CommandRecord, error)
	SetLogStream(ctx context.Context, enabled bool, source string) (*audit.CommandRecord, error)
	RequestSensors(ctx context.Context, source string) (*audit.CommandRecord, error)
	SetConfig(ctx context.Context, key string, value float64, source string) (*audit.CommandRecord, error)
	ApplySettings(ctx context.Context, s device.Settings, source string) error
	Settings() device.Settings
	ActiveSession() string
	LinkStats() bridge.LinkStats
}

var _ BridgeControl = (*bridge.Bridge)(nil)

// HistoryProvider serves downsampled sensor and feed history. Satisfied
// by *bridge.Persister, including its nil-store no-op form.
type HistoryProvider interface {
	Enabled() bool
	SensorHistory(ctx context.Context, field string, since, window time.Duration) ([]influxdb.SeriesPoint, error)
	FeedTotals(ctx context.Context, since time.Duration) ([]influxdb.SeriesPoint, error)
}

var _ HistoryProvider = (*bridge.Persister)(nil)

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Registry *device.Registry
	Bridge   BridgeControl

	Commands  audit.Repository
	Sessions  feeding.Repository
	Schedules schedule.Repository

	// History is optional; nil disables the history endpoints.
	History HistoryProvider

	// MQTT is optional; without it event relay to WebSocket clients is
	// disabled but everything else works.
	MQTT *mqtt.Client

	// DB is optional; used for pool stats in the system report.
	DB *database.DB

	// Metrics is optional; when set, /metrics serves the registry in
	// Prometheus exposition format.
	Metrics *prometheus.Registry

	Version string
}

// Server is the feeder HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	registry  *device.Registry
	bridge    BridgeControl
	commands  audit.Repository
	sessions  feeding.Repository
	schedules schedule.Repository
	history   HistoryProvider
	mqtt      *mqtt.Client
	db        *database.DB
	promReg   *prometheus.Registry
	version   string
	startTime time.Time

	server  *http.Server
	hub     *Hub
	limiter *rateLimiter
	cancel  context.CancelFunc
}

// New creates an API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}
	if deps.Commands == nil || deps.Sessions == nil || deps.Schedules == nil {
		return nil, fmt.Errorf("command, session and schedule repositories are required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		registry:  deps.Registry,
		bridge:    deps.Bridge,
		commands:  deps.Commands,
		sessions:  deps.Sessions,
		schedules: deps.Schedules,
		history:   deps.History,
		mqtt:      deps.MQTT,
		db:        deps.DB,
		promReg:   deps.Metrics,
		version:   deps.Version,
		startTime: time.Now(),
	}

	if deps.Security.RateLimit.Enabled {
		s.limiter = newRateLimiter(deps.Security.RateLimit.RequestsPerMinute)
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, wires registry snapshots and MQTT events
// into it, and launches the HTTP listener in a background goroutine.
// Stop the server with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.wsCfg, s.logger)
	go s.hub.Run(srvCtx)
	go s.relayStatusUpdates(srvCtx)

	if err := s.subscribeEvents(); err != nil {
		s.logger.Warn("event relay to WebSocket disabled", "error", err)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete, then
// forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// relayStatusUpdates pushes every registry snapshot to WebSocket clients
// subscribed to the status channel.
func (s *Server) relayStatusUpdates(ctx context.Context) {
	updates, unsubscribe := s.registry.Subscribe(1)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			s.hub.Broadcast(ChannelStatus, snap)
		}
	}
}
