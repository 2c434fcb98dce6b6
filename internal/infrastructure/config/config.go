package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned for any missing, unreadable or invalid
// configuration.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Modbus transports.
const (
	TransportTCP    = "tcp"
	TransportSerial = "serial"
)

// Config is the root configuration structure.
type Config struct {
	Registers RegistersConfig `yaml:"registers"`
	Modbus    ModbusConfig    `yaml:"modbus"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Security  SecurityConfig  `yaml:"security"`

	// AddonOptions is the path of a Home Assistant add-on options.json.
	// Empty disables the overlay.
	AddonOptions string `yaml:"addon_options"`
}

// RegistersConfig locates the durable register database.
type RegistersConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
	Synchronous string `yaml:"synchronous"`
}

// ModbusConfig configures the field-bus server.
type ModbusConfig struct {
	Transport  string       `yaml:"transport"`
	Host       string       `yaml:"host"`
	Port       int          `yaml:"port"`
	SlaveID    int          `yaml:"slave_id"`
	Timeout    int          `yaml:"timeout"`
	MaxClients int          `yaml:"max_clients"`
	Serial     SerialConfig `yaml:"serial"`
}

// SerialConfig configures the RTU line.
type SerialConfig struct {
	Device   string `yaml:"device"`
	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	StopBits int    `yaml:"stop_bits"`
	Parity   string `yaml:"parity"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
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

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
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

// BridgeConfig controls the MQTT/InfluxDB state publisher.
type BridgeConfig struct {
	// PublishInterval is the periodic full snapshot interval in seconds.
	PublishInterval int `yaml:"publish_interval"`

	// Debounce coalesces change-triggered publishes, in milliseconds.
	Debounce int `yaml:"debounce"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains bearer-token settings. An empty secret leaves the API
// unauthenticated, matching the add-on which runs behind the supervisor.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// AddonOptions mirrors the keys of the add-on options.json. Absent keys leave
// the configuration unchanged.
type AddonOptions struct {
	ListenAddress *string `yaml:"listen_address"`
	ListenPort    *int    `yaml:"listen_port"`
	ServerType    *string `yaml:"server_type"`
	SlaveID       *int    `yaml:"slave_id"`
}

// Load reads configuration from a YAML file and applies the add-on overlay
// and environment overrides, then validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading config file: %w", ErrInvalidConfig, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing config file: %w", ErrInvalidConfig, err)
	}

	if v := os.Getenv("NEASMART_ADDON_OPTIONS"); v != "" {
		cfg.AddonOptions = v
	}
	if cfg.AddonOptions != "" {
		if err := cfg.ApplyAddonOptions(cfg.AddonOptions); err != nil {
			return nil, err
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Registers: RegistersConfig{
			Path:        "./data/registers.db",
			WALMode:     true,
			BusyTimeout: 5,
			Synchronous: "FULL",
		},
		Modbus: ModbusConfig{
			Transport:  TransportTCP,
			Host:       "0.0.0.0",
			Port:       502,
			SlaveID:    240,
			Timeout:    30,
			MaxClients: 10,
			Serial: SerialConfig{
				Device:   "/dev/ttyUSB0",
				BaudRate: 38400,
				DataBits: 8,
				StopBits: 1,
				Parity:   "N",
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 5000,
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
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "neasmartd",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Bridge: BridgeConfig{
			PublishInterval: 60,
			Debounce:        250,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// ApplyAddonOptions overlays an add-on options.json. For the tcp server type
// listen_address and listen_port select the Modbus listener; for serial,
// listen_address is the serial device.
func (c *Config) ApplyAddonOptions(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: reading add-on options: %w", ErrInvalidConfig, err)
	}

	// JSON is a subset of YAML.
	var opts AddonOptions
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return fmt.Errorf("%w: parsing add-on options: %w", ErrInvalidConfig, err)
	}

	if opts.ServerType != nil {
		c.Modbus.Transport = strings.ToLower(*opts.ServerType)
	}
	if opts.SlaveID != nil {
		c.Modbus.SlaveID = *opts.SlaveID
	}
	if opts.ListenAddress != nil {
		if c.Modbus.Transport == TransportSerial {
			c.Modbus.Serial.Device = *opts.ListenAddress
		} else {
			c.Modbus.Host = *opts.ListenAddress
		}
	}
	if opts.ListenPort != nil {
		c.Modbus.Port = *opts.ListenPort
	}
	return nil
}

// applyEnvOverrides applies NEASMART_SECTION_KEY environment variables.
func applyEnvOverrides(cfg *Config) error {
	var errs []string

	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s must be an integer", key))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s must be a boolean", key))
				return
			}
			*dst = b
		}
	}

	str("NEASMART_REGISTERS_PATH", &cfg.Registers.Path)
	str("NEASMART_MODBUS_TRANSPORT", &cfg.Modbus.Transport)
	str("NEASMART_MODBUS_HOST", &cfg.Modbus.Host)
	num("NEASMART_MODBUS_PORT", &cfg.Modbus.Port)
	num("NEASMART_MODBUS_SLAVE_ID", &cfg.Modbus.SlaveID)
	str("NEASMART_MODBUS_SERIAL_DEVICE", &cfg.Modbus.Serial.Device)
	str("NEASMART_API_HOST", &cfg.API.Host)
	num("NEASMART_API_PORT", &cfg.API.Port)
	flag("NEASMART_MQTT_ENABLED", &cfg.MQTT.Enabled)
	str("NEASMART_MQTT_HOST", &cfg.MQTT.Broker.Host)
	str("NEASMART_MQTT_USERNAME", &cfg.MQTT.Auth.Username)
	str("NEASMART_MQTT_PASSWORD", &cfg.MQTT.Auth.Password)
	str("NEASMART_INFLUXDB_TOKEN", &cfg.InfluxDB.Token)
	str("NEASMART_JWT_SECRET", &cfg.Security.JWT.Secret)
	str("NEASMART_LOG_LEVEL", &cfg.Logging.Level)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Registers.Path == "" {
		errs = append(errs, "registers.path is required")
	}
	if c.Registers.BusyTimeout < 0 {
		errs = append(errs, "registers.busy_timeout must not be negative")
	}
	switch strings.ToUpper(c.Registers.Synchronous) {
	case "", "FULL", "EXTRA":
	default:
		errs = append(errs, "registers.synchronous must be FULL or EXTRA")
	}

	switch c.Modbus.Transport {
	case TransportTCP:
		if c.Modbus.Port < 1 || c.Modbus.Port > 65535 {
			errs = append(errs, "modbus.port must be between 1 and 65535")
		}
	case TransportSerial:
		errs = append(errs, c.Modbus.Serial.validate()...)
	default:
		errs = append(errs, fmt.Sprintf("modbus.transport %q must be tcp or serial", c.Modbus.Transport))
	}
	if c.Modbus.SlaveID < 1 || c.Modbus.SlaveID > 247 {
		errs = append(errs, "modbus.slave_id must be between 1 and 247")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.Modbus.Transport == TransportTCP && c.Modbus.Port == c.API.Port && c.Modbus.Host == c.API.Host {
		errs = append(errs, "modbus and api cannot listen on the same address")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required when influxdb is enabled")
	}

	const minJWTSecretLength = 32
	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

func (s SerialConfig) validate() []string {
	var errs []string
	if s.Device == "" {
		errs = append(errs, "modbus.serial.device is required for the serial transport")
	}
	if s.BaudRate <= 0 {
		errs = append(errs, "modbus.serial.baud_rate must be positive")
	}
	if s.DataBits < 5 || s.DataBits > 8 {
		errs = append(errs, "modbus.serial.data_bits must be between 5 and 8")
	}
	if s.StopBits != 1 && s.StopBits != 2 {
		errs = append(errs, "modbus.serial.stop_bits must be 1 or 2")
	}
	switch strings.ToUpper(s.Parity) {
	case "N", "E", "O":
	default:
		errs = append(errs, "modbus.serial.parity must be N, E or O")
	}
	return errs
}

// Address returns the Modbus TCP listen address as host:port.
func (m ModbusConfig) Address() string {
	return net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
}

// GetTimeout returns the Modbus idle client timeout.
func (m ModbusConfig) GetTimeout() time.Duration {
	return time.Duration(m.Timeout) * time.Second
}

// Address returns the HTTP listen address as host:port.
func (a APIConfig) Address() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
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

// GetPublishInterval returns the bridge snapshot interval.
func (c *Config) GetPublishInterval() time.Duration {
	return time.Duration(c.Bridge.PublishInterval) * time.Second
}

// GetDebounce returns the bridge change debounce.
func (c *Config) GetDebounce() time.Duration {
	return time.Duration(c.Bridge.Debounce) * time.Millisecond
}
