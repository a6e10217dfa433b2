package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the feeder daemon.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Device    DeviceConfig    `yaml:"device"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Security  SecurityConfig  `yaml:"security"`
}

// ServiceConfig identifies this installation.
type ServiceConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	Embedded  MQTTEmbeddedConfig  `yaml:"embedded"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// MQTTEmbeddedConfig controls the optional in-process MQTT broker.
// When enabled, the daemon serves MQTT itself and connects to the
// embedded listener, so a standalone deployment needs no external broker.
type MQTTEmbeddedConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// DeviceConfig contains device link and gateway settings.
type DeviceConfig struct {
	Link    DeviceLinkConfig `yaml:"link"`
	Gateway GatewayConfig    `yaml:"gateway"`
}

// DeviceLinkConfig describes how to reach the feeder controller.
// The link is a newline-framed text stream over TCP, either directly to
// the simulator or to a serial-TCP gateway (ser2net) in front of the
// real controller board.
type DeviceLinkConfig struct {
	// URL is the link address, e.g. "tcp://localhost:7060".
	URL string `yaml:"url"`

	// ConnectTimeout is the per-attempt dial timeout in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	// ReadTimeout bounds a single frame read in seconds. The controller
	// emits data frames every couple of seconds, so anything above the
	// output interval indicates a dead link.
	ReadTimeout int `yaml:"read_timeout"`

	// Reconnect tunes the exponential backoff used after link loss.
	Reconnect LinkReconnectConfig `yaml:"reconnect"`
}

// LinkReconnectConfig contains device link reconnection backoff settings.
type LinkReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// GatewayConfig contains settings for a daemon-managed gateway process.
// When Managed is true the daemon spawns and supervises the configured
// binary (typically feedersim in development, or ser2net in front of a
// USB serial adapter) and restarts it on failure.
type GatewayConfig struct {
	Managed            bool     `yaml:"managed"`
	Binary             string   `yaml:"binary"`
	Args               []string `yaml:"args"`
	RestartOnFailure   bool     `yaml:"restart_on_failure"`
	RestartDelay       int      `yaml:"restart_delay"`
	MaxRestartAttempts int      `yaml:"max_restart_attempts"`
}

// BridgeConfig contains relay loop settings.
type BridgeConfig struct {
	// StatusInterval is how often the retained status snapshot is
	// republished, in seconds.
	StatusInterval int `yaml:"status_interval"`

	// HealthInterval is how often bridge health is published, in seconds.
	HealthInterval int `yaml:"health_interval"`

	// SensorStaleAfter is how long the bridge waits without a data frame
	// before nudging the device with GET:sensors, in seconds.
	SensorStaleAfter int `yaml:"sensor_stale_after"`

	// CommandTTL is how long a direct command id is remembered for
	// redelivery suppression, in seconds.
	CommandTTL int `yaml:"command_ttl"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool                 `yaml:"enabled"`
	URL           string               `yaml:"url"`
	Token         string               `yaml:"token"`
	Org           string               `yaml:"org"`
	Bucket        string               `yaml:"bucket"`
	BatchSize     int                  `yaml:"batch_size"`
	FlushInterval int                  `yaml:"flush_interval"`
	Breaker       InfluxBreakerConfig  `yaml:"breaker"`
}

// InfluxBreakerConfig tunes the circuit breaker around readings persistence.
// While the breaker is open, persistence cycles are skipped and retried
// after the open timeout; readings still flow to MQTT.
type InfluxBreakerConfig struct {
	MaxFailures int `yaml:"max_failures"`
	OpenTimeout int `yaml:"open_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains rotating file log settings.
// When Path is set, logs are additionally written to the file and rotated
// by size/age (MaxSize in MB, MaxAge in days).
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// ScheduleConfig contains feed scheduler settings.
// Schedule entries themselves live in the database; this only controls
// whether the scheduler runs.
type ScheduleConfig struct {
	Enabled bool `yaml:"enabled"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	APIKeys   APIKeyConfig    `yaml:"api_keys"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// APIKeyConfig contains API key settings.
// When enabled, mutating API endpoints require a bearer key from Keys.
type APIKeyConfig struct {
	Enabled bool     `yaml:"enabled"`
	Keys    []string `yaml:"keys"`
}

// RateLimitConfig contains rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: FEEDER_SECTION_KEY
// For example: FEEDER_DATABASE_PATH, FEEDER_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
// Interval defaults mirror the stock controller firmware: 20 s status
// broadcasts, 30 s health, 2 s device-side sensor cadence.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			ID:       "feeder-001",
			Name:     "Fish Feeder",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/feeder.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "feeder-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			Embedded: MQTTEmbeddedConfig{
				Listen: ":1883",
			},
		},
		Device: DeviceConfig{
			Link: DeviceLinkConfig{
				URL:            "tcp://localhost:7060",
				ConnectTimeout: 10,
				ReadTimeout:    30,
				Reconnect: LinkReconnectConfig{
					InitialDelay: 2,
					MaxDelay:     60,
				},
			},
			Gateway: GatewayConfig{
				RestartOnFailure:   true,
				RestartDelay:       5,
				MaxRestartAttempts: 10,
			},
		},
		Bridge: BridgeConfig{
			StatusInterval:   20,
			HealthInterval:   30,
			SensorStaleAfter: 10,
			CommandTTL:       300,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Breaker: InfluxBreakerConfig{
				MaxFailures: 5,
				OpenTimeout: 30,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Schedule: ScheduleConfig{
			Enabled: true,
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 100,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: FEEDER_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("FEEDER_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("FEEDER_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("FEEDER_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("FEEDER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("FEEDER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Device link
	if v := os.Getenv("FEEDER_DEVICE_URL"); v != "" {
		cfg.Device.Link.URL = v
	}

	// API
	if v := os.Getenv("FEEDER_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("FEEDER_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security - an extra API key, e.g. for provisioning
	if v := os.Getenv("FEEDER_API_KEY"); v != "" {
		cfg.Security.APIKeys.Keys = append(cfg.Security.APIKeys.Keys, v)
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Service.ID == "" {
		errs = append(errs, "service.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Device.Link.URL == "" {
		errs = append(errs, "device.link.url is required")
	} else if u, err := url.Parse(c.Device.Link.URL); err != nil || u.Scheme != "tcp" {
		errs = append(errs, "device.link.url must be a tcp:// URL")
	}

	if c.Device.Gateway.Managed && c.Device.Gateway.Binary == "" {
		errs = append(errs, "device.gateway.binary is required when device.gateway.managed is true")
	}

	// API keys guard physical hardware (motors, relays). Enabling the
	// check with an empty key list would lock every client out, which is
	// always a misconfiguration.
	if c.Security.APIKeys.Enabled && len(c.Security.APIKeys.Keys) == 0 {
		errs = append(errs, "security.api_keys.keys must not be empty when security.api_keys.enabled is true")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetLinkConnectTimeout returns the device link dial timeout as a Duration.
func (c *Config) GetLinkConnectTimeout() time.Duration {
	return time.Duration(c.Device.Link.ConnectTimeout) * time.Second
}

// GetLinkReadTimeout returns the device link read timeout as a Duration.
func (c *Config) GetLinkReadTimeout() time.Duration {
	return time.Duration(c.Device.Link.ReadTimeout) * time.Second
}

// GetStatusInterval returns the retained status publish interval as a Duration.
func (c *Config) GetStatusInterval() time.Duration {
	return time.Duration(c.Bridge.StatusInterval) * time.Second
}

// GetHealthInterval returns the bridge health publish interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// GetSensorStaleAfter returns the stale-sensor nudge threshold as a Duration.
func (c *Config) GetSensorStaleAfter() time.Duration {
	return time.Duration(c.Bridge.SensorStaleAfter) * time.Second
}

// GetCommandTTL returns the direct-command dedup window as a Duration.
func (c *Config) GetCommandTTL() time.Duration {
	return time.Duration(c.Bridge.CommandTTL) * time.Second
}
