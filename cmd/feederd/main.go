// feederd - Pond Feeder Bridge Daemon
//
// This is the main entry point for the feeder daemon. It connects the
// feeder controller's line protocol to MQTT, persists telemetry and
// feed history, runs the feed scheduler, and serves the HTTP/WebSocket
// API. A single binary covers a standalone deployment: it can embed
// its own MQTT broker and supervise the serial gateway (or simulator)
// in front of the controller board.
package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	_ "github.com/pondlogic/feeder-core/migrations"

	"github.com/pondlogic/feeder-core/internal/api"
	"github.com/pondlogic/feeder-core/internal/audit"
	bridge "github.com/pondlogic/feeder-core/internal/bridges/feeder"
	device "github.com/pondlogic/feeder-core/internal/feeder"
	"github.com/pondlogic/feeder-core/internal/feeding"
	"github.com/pondlogic/feeder-core/internal/infrastructure/config"
	"github.com/pondlogic/feeder-core/internal/infrastructure/database"
	"github.com/pondlogic/feeder-core/internal/infrastructure/influxdb"
	"github.com/pondlogic/feeder-core/internal/infrastructure/logging"
	"github.com/pondlogic/feeder-core/internal/infrastructure/mqtt"
	"github.com/pondlogic/feeder-core/internal/process"
	"github.com/pondlogic/feeder-core/internal/schedule"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // sequential wiring of every subsystem
	// Secrets (MQTT credentials, InfluxDB token, API keys) can come from
	// a .env file next to the binary. Absence is fine.
	_ = godotenv.Load()

	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting feeder daemon",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Start the embedded MQTT broker when configured. Standalone
	// deployments get a broker for free; anything with a site broker
	// leaves this disabled.
	if cfg.MQTT.Embedded.Enabled {
		broker, brokerErr := mqtt.StartEmbeddedBroker(cfg.MQTT.Embedded.Listen, log.Logger)
		if brokerErr != nil {
			return fmt.Errorf("starting embedded MQTT broker: %w", brokerErr)
		}
		defer func() {
			log.Info("stopping embedded MQTT broker")
			if closeErr := broker.Close(); closeErr != nil {
				log.Error("error stopping embedded broker", "error", closeErr)
			}
		}()
		log.Info("embedded MQTT broker started", "listen", broker.Addr())
	}

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Repositories
	commandLog := audit.NewSQLiteRepository(db.DB)
	sessions := feeding.NewSQLiteRepository(db.DB)
	schedules := schedule.NewSQLiteRepository(db.DB)

	// In-memory device state
	registry := device.NewRegistry(cfg.Service.ID, cfg.GetSensorStaleAfter())
	registry.SetLogger(log)

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional) and wrap it in the breaker-guarded
	// persister. Readings still flow to MQTT when this is disabled.
	var persister *bridge.Persister
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		persister = bridge.NewPersister(influxClient, bridge.PersisterConfig{
			DeviceID:    cfg.Service.ID,
			MaxFailures: cfg.InfluxDB.Breaker.MaxFailures,
			OpenTimeout: time.Duration(cfg.InfluxDB.Breaker.OpenTimeout) * time.Second,
		})
		persister.SetLogger(log)

		// Influx writes are asynchronous; failures surface through this
		// callback and feed the breaker.
		influxClient.SetOnError(persister.NoteWriteError)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Prometheus registry for the /metrics endpoint
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	metrics := bridge.NewMetrics(promReg)
	if persister != nil {
		persister.SetMetrics(metrics)
	}

	// Supervise the gateway process (feedersim or ser2net) if managed
	if cfg.Device.Gateway.Managed {
		gateway, gwErr := startGateway(ctx, cfg, log)
		if gwErr != nil {
			return fmt.Errorf("starting gateway: %w", gwErr)
		}
		defer func() {
			log.Info("stopping gateway")
			if stopErr := gateway.Stop(); stopErr != nil {
				log.Error("error stopping gateway", "error", stopErr)
			}
		}()
	}

	// Device link
	link, err := bridge.NewLink(bridge.LinkConfig{
		URL:              cfg.Device.Link.URL,
		ConnectTimeout:   cfg.GetLinkConnectTimeout(),
		ReadTimeout:      cfg.GetLinkReadTimeout(),
		ReconnectInitial: time.Duration(cfg.Device.Link.Reconnect.InitialDelay) * time.Second,
		ReconnectMax:     time.Duration(cfg.Device.Link.Reconnect.MaxDelay) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("creating device link: %w", err)
	}
	link.SetLogger(log)

	// The bridge: relays commands, tracks state, publishes events
	feederBridge, err := bridge.New(bridge.Options{
		DeviceID:         cfg.Service.ID,
		Version:          version,
		StatusInterval:   cfg.GetStatusInterval(),
		HealthInterval:   cfg.GetHealthInterval(),
		SensorStaleAfter: cfg.GetSensorStaleAfter(),
		CommandTTL:       cfg.GetCommandTTL(),
		Link:             link,
		MQTT:             mqttClient,
		Registry:         registry,
		Commands:         commandLog,
		Sessions:         sessions,
		Persister:        persister,
		Metrics:          metrics,
		Logger:           log,
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	if err := feederBridge.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		feederBridge.Stop()
	}()

	// The link starts after the bridge so its frame callbacks are
	// already registered when the first frame arrives.
	if err := link.Start(ctx); err != nil {
		return fmt.Errorf("starting device link: %w", err)
	}
	defer func() {
		log.Info("closing device link")
		if closeErr := link.Close(); closeErr != nil {
			log.Error("error closing device link", "error", closeErr)
		}
	}()
	log.Info("bridge started", "device", cfg.Service.ID, "link", cfg.Device.Link.URL)

	// Feed scheduler
	if cfg.Schedule.Enabled {
		scheduler := schedule.NewScheduler(schedules, feederBridge, log)
		go func() {
			if runErr := scheduler.Run(ctx); runErr != nil && ctx.Err() == nil {
				log.Error("scheduler stopped", "error", runErr)
			}
		}()
		log.Info("feed scheduler started")
	} else {
		log.Info("feed scheduler disabled")
	}

	// HTTP API and WebSocket server
	apiServer, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Security:  cfg.Security,
		Logger:    log,
		Registry:  registry,
		Bridge:    feederBridge,
		Commands:  commandLog,
		Sessions:  sessions,
		Schedules: schedules,
		History:   persister,
		MQTT:      mqttClient,
		DB:        db,
		Metrics:   promReg,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// API server, bridge, device link, gateway, InfluxDB, MQTT,
	// database, embedded broker.

	log.Info("feeder daemon stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses FEEDER_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("FEEDER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, apiServer *api.Server) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if err := apiServer.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	// Device link health is not checked here: the link reconnects on its
	// own and the daemon is useful (API, history, schedule edits) even
	// while the feeder is unreachable.

	return nil
}

// startGateway launches and supervises the configured gateway process
// (feedersim in development, ser2net in front of the serial adapter in
// production) and waits until its TCP socket accepts connections.
func startGateway(ctx context.Context, cfg *config.Config, log *logging.Logger) (*process.Manager, error) {
	gwCfg := process.DefaultConfig("gateway", cfg.Device.Gateway.Binary, cfg.Device.Gateway.Args)
	gwCfg.RestartOnFailure = cfg.Device.Gateway.RestartOnFailure
	if cfg.Device.Gateway.RestartDelay > 0 {
		gwCfg.RestartDelay = time.Duration(cfg.Device.Gateway.RestartDelay) * time.Second
	}
	gwCfg.MaxRestartAttempts = cfg.Device.Gateway.MaxRestartAttempts

	addr, err := linkAddr(cfg.Device.Link.URL)
	if err != nil {
		return nil, err
	}
	gwCfg.HealthCheckFunc = process.TCPHealthCheck(addr)
	gwCfg.OnRestart = func(attempt int) {
		log.Warn("gateway restarting", "attempt", attempt)
	}

	manager := process.NewManager(gwCfg)
	manager.SetLogger(log)

	log.Info("starting gateway",
		"binary", cfg.Device.Gateway.Binary,
		"args", cfg.Device.Gateway.Args,
	)

	if err := manager.Start(ctx); err != nil {
		return nil, err
	}

	// The device link dials as soon as it starts; wait for the gateway
	// socket so the first attempt doesn't burn a backoff cycle.
	if err := manager.WaitReady(ctx, addr); err != nil {
		_ = manager.Stop()
		return nil, err
	}

	log.Info("gateway ready", "address", addr)
	return manager, nil
}

// linkAddr extracts host:port from a tcp:// link URL.
func linkAddr(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing link URL: %w", err)
	}
	return u.Host, nil
}
