package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Gray Logic cover bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Acquire   AcquireConfig   `yaml:"acquire"`
	Hubs      []HubConfig     `yaml:"hubs"`
	Covers    []CoverConfig   `yaml:"covers"`
}

// BridgeConfig identifies this bridge instance on the MQTT bus.
type BridgeConfig struct {
	ID string `yaml:"id"`

	// HealthInterval is how often health is published, in seconds.
	HealthInterval int `yaml:"health_interval"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// HistoryRetentionDays bounds the state history table. 0 keeps everything.
	HistoryRetentionDays int `yaml:"history_retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
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

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
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
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path string `yaml:"path"`
}

// AcquireConfig holds the hub acquisition backoff.
type AcquireConfig struct {
	FirstRetryDelay  time.Duration `yaml:"first_retry_delay"`
	SteadyRetryDelay time.Duration `yaml:"steady_retry_delay"`
}

// Hub transport types.
const (
	HubTypeTCP = "tcp"
	HubTypeRTU = "rtu"
)

// HubConfig describes one Modbus gateway shared by several covers.
type HubConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`

	// TCP
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// RTU
	Device   string `yaml:"device"`
	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	Parity   string `yaml:"parity"`
	StopBits int    `yaml:"stop_bits"`

	Timeout     time.Duration `yaml:"timeout"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// Address returns "host:port" for TCP hubs and the device path for RTU hubs.
func (h HubConfig) Address() string {
	if h.Type == HubTypeRTU {
		return h.Device
	}
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// CoverConfig describes one cover. Empty fields take the defaults
// applied by Load.
type CoverConfig struct {
	Name           string        `yaml:"name"`
	Hub            string        `yaml:"hub"`
	Slave          int           `yaml:"slave"`
	Address        int           `yaml:"address"`
	ScanInterval   time.Duration `yaml:"scan_interval"`
	Layout         string        `yaml:"layout"`
	StopEncoding   string        `yaml:"stop_encoding"`
	InputType      string        `yaml:"input_type"`
	LazyErrorCount int           `yaml:"lazy_error_count"`
}

// Cover defaults, matching the installed base.
const (
	DefaultCoverHub      = "aac20"
	DefaultCoverSlave    = 1
	DefaultCoverAddress  = 1000
	DefaultScanInterval  = time.Second
	DefaultCoverLayout   = "packed"
	DefaultStopEncoding  = "setpoint"
	DefaultCoverInput    = "holding"
	DefaultModbusTCPPort = 502
)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//  4. Per-hub and per-cover defaults for fields left empty
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DATABASE_PATH, GRAYLOGIC_API_PORT
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
	cfg.applyDeviceDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:             "modbus-bridge-01",
			HealthInterval: 30,
		},
		Database: DatabaseConfig{
			Path:                 "./data/graylogic-cover.db",
			WALMode:              true,
			BusyTimeout:          5,
			HistoryRetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-cover",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
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
			BatchSize:     100,
			FlushInterval: 10,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Acquire: AcquireConfig{
			FirstRetryDelay:  10 * time.Second,
			SteadyRetryDelay: 10 * time.Minute,
		},
	}
}

// applyDeviceDefaults fills empty hub and cover fields.
// Zero values that are meaningful (lazy_error_count: 0) are left alone.
func (c *Config) applyDeviceDefaults() {
	for i := range c.Hubs {
		h := &c.Hubs[i]
		if h.Type == "" {
			h.Type = HubTypeTCP
		}
		h.Type = strings.ToLower(h.Type)
		if h.Type == HubTypeTCP && h.Port == 0 {
			h.Port = DefaultModbusTCPPort
		}
		if h.Type == HubTypeRTU {
			if h.BaudRate == 0 {
				h.BaudRate = 9600
			}
			if h.DataBits == 0 {
				h.DataBits = 8
			}
			if h.Parity == "" {
				h.Parity = "N"
			}
			if h.StopBits == 0 {
				h.StopBits = 1
			}
		}
		if h.Timeout == 0 {
			h.Timeout = 3 * time.Second
		}
		if h.IdleTimeout == 0 {
			h.IdleTimeout = 60 * time.Second
		}
	}

	for i := range c.Covers {
		cv := &c.Covers[i]
		if cv.Hub == "" {
			cv.Hub = DefaultCoverHub
		}
		if cv.Slave == 0 {
			cv.Slave = DefaultCoverSlave
		}
		if cv.Address == 0 {
			cv.Address = DefaultCoverAddress
		}
		if cv.ScanInterval == 0 {
			cv.ScanInterval = DefaultScanInterval
		}
		if cv.Layout == "" {
			cv.Layout = DefaultCoverLayout
		}
		if cv.StopEncoding == "" {
			cv.StopEncoding = DefaultStopEncoding
		}
		if cv.InputType == "" {
			cv.InputType = DefaultCoverInput
		}
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GRAYLOGIC_BRIDGE_ID"); v != "" {
		cfg.Bridge.ID = v
	}

	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("GRAYLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("GRAYLOGIC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.Acquire.FirstRetryDelay < 0 || c.Acquire.SteadyRetryDelay < 0 {
		errs = append(errs, "acquire delays must not be negative")
	}

	errs = append(errs, c.validateHubs()...)
	errs = append(errs, c.validateCovers()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateHubs() []string {
	var errs []string
	seen := make(map[string]bool, len(c.Hubs))

	for i, h := range c.Hubs {
		prefix := fmt.Sprintf("hubs[%d]", i)
		if h.Name == "" {
			errs = append(errs, prefix+".name is required")
		} else if seen[h.Name] {
			errs = append(errs, fmt.Sprintf("%s.name %q is duplicated", prefix, h.Name))
		}
		seen[h.Name] = true

		switch h.Type {
		case HubTypeTCP:
			if h.Host == "" {
				errs = append(errs, prefix+".host is required for tcp hubs")
			}
			if h.Port < 1 || h.Port > 65535 {
				errs = append(errs, prefix+".port must be between 1 and 65535")
			}
		case HubTypeRTU:
			if h.Device == "" {
				errs = append(errs, prefix+".device is required for rtu hubs")
			}
			switch strings.ToUpper(h.Parity) {
			case "N", "E", "O":
			default:
				errs = append(errs, prefix+".parity must be N, E, or O")
			}
		default:
			errs = append(errs, fmt.Sprintf("%s.type %q must be tcp or rtu", prefix, h.Type))
		}
	}
	return errs
}

func (c *Config) validateCovers() []string {
	var errs []string
	ids := make(map[string]bool, len(c.Covers))

	for i, cv := range c.Covers {
		prefix := fmt.Sprintf("covers[%d]", i)

		if !c.hasHub(cv.Hub) {
			errs = append(errs, fmt.Sprintf("%s.hub %q is not a configured hub", prefix, cv.Hub))
		}
		if cv.Slave < 1 || cv.Slave > 247 {
			errs = append(errs, prefix+".slave must be between 1 and 247")
		}
		if cv.Address < 0 || cv.Address > 65535 {
			errs = append(errs, prefix+".address must be between 0 and 65535")
		}
		if cv.ScanInterval < 0 {
			errs = append(errs, prefix+".scan_interval must not be negative")
		}
		if cv.LazyErrorCount < 0 {
			errs = append(errs, prefix+".lazy_error_count must not be negative")
		}

		id := cv.Hub + "_" + cv.Name
		if cv.Name != "" {
			if ids[id] {
				errs = append(errs, fmt.Sprintf("%s.name %q is duplicated on hub %q", prefix, cv.Name, cv.Hub))
			}
			ids[id] = true
		}
	}
	return errs
}

func (c *Config) hasHub(name string) bool {
	for _, h := range c.Hubs {
		if h.Name == name {
			return true
		}
	}
	return false
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

// GetHealthInterval returns the bridge health publish interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}
