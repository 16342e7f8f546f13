package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lorawan-server/udp-forwarder/pkg/semtech"
)

// Backend types
const (
	BackendNATS = "nats"
	BackendMQTT = "mqtt"
)

// Config represents the application configuration
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Forwarder ForwarderConfig `yaml:"forwarder"`
	Backend   BackendConfig   `yaml:"backend"`
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console | json
}

// GatewayConfig represents the identity of the forwarding gateway
type GatewayConfig struct {
	ID string `yaml:"id"` // 16 位十六进制 EUI64

	eui semtech.EUI64
}

// EUI returns the parsed gateway ID. Only valid after Load.
func (g GatewayConfig) EUI() semtech.EUI64 {
	return g.eui
}

// ForwarderConfig represents the UDP forwarder configuration
type ForwarderConfig struct {
	Servers []ServerConfig `yaml:"servers"`
}

// ServerConfig represents one UDP packet-forwarder endpoint
type ServerConfig struct {
	Server               string        `yaml:"server"`
	KeepaliveInterval    time.Duration `yaml:"keepalive_interval"`
	KeepaliveMaxFailures int           `yaml:"keepalive_max_failures"`
	ForwardCRCOK         bool          `yaml:"forward_crc_ok"`
	ForwardCRCInvalid    bool          `yaml:"forward_crc_invalid"`
	ForwardCRCMissing    bool          `yaml:"forward_crc_missing"`
}

// UnmarshalYAML applies the per-server defaults before decoding, so that
// omitted keys keep them.
func (s *ServerConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain ServerConfig
	p := plain{
		KeepaliveInterval:    10 * time.Second,
		KeepaliveMaxFailures: 12,
		ForwardCRCOK:         true,
	}
	if err := value.Decode(&p); err != nil {
		return err
	}
	*s = ServerConfig(p)
	return nil
}

// BackendConfig represents the radio-facing backend configuration
type BackendConfig struct {
	Type string     `yaml:"type"` // nats | mqtt
	NATS NATSConfig `yaml:"nats"`
	MQTT MQTTConfig `yaml:"mqtt"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	SubjectPrefix     string        `yaml:"subject_prefix"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
}

// MQTTConfig represents MQTT configuration
type MQTTConfig struct {
	Server       string        `yaml:"server"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	ClientID     string        `yaml:"client_id"`
	QOS          byte          `yaml:"qos"`
	CleanSession bool          `yaml:"clean_session"`
	TopicPrefix  string        `yaml:"topic_prefix"`
	AckTimeout   time.Duration `yaml:"ack_timeout"`
}

// DatabaseConfig represents database configuration. An empty DSN disables
// the event log.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// APIConfig represents API configuration. Port 0 disables the API.
type APIConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"`
}

// Addr returns the listen address of the API.
func (a APIConfig) Addr() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses a YAML document, applies environment overrides and defaults
// and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply environment overrides
	cfg.applyEnvOverrides()
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.Backend.NATS.URL = natsURL
	}

	if mqttServer := os.Getenv("MQTT_SERVER"); mqttServer != "" {
		c.Backend.MQTT.Server = mqttServer
	}

	if jwtSecret := os.Getenv("API_JWT_SECRET"); jwtSecret != "" {
		c.API.JWTSecret = jwtSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}

	if gatewayID := os.Getenv("GATEWAY_ID"); gatewayID != "" {
		c.Gateway.ID = gatewayID
	}
}

func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}

	if c.Backend.Type == "" {
		c.Backend.Type = BackendNATS
	}

	// NATS 默认值
	if c.Backend.NATS.URL == "" {
		c.Backend.NATS.URL = "nats://localhost:4222"
	}
	if c.Backend.NATS.SubjectPrefix == "" {
		c.Backend.NATS.SubjectPrefix = "gateway"
	}
	if c.Backend.NATS.ReconnectInterval == 0 {
		c.Backend.NATS.ReconnectInterval = 2 * time.Second
	}
	if c.Backend.NATS.MaxReconnects == 0 {
		c.Backend.NATS.MaxReconnects = -1 // 无限重连
	}
	if c.Backend.NATS.RequestTimeout == 0 {
		c.Backend.NATS.RequestTimeout = 5 * time.Second
	}

	// MQTT 默认值
	if c.Backend.MQTT.Server == "" {
		c.Backend.MQTT.Server = "tcp://localhost:1883"
	}
	if c.Backend.MQTT.TopicPrefix == "" {
		c.Backend.MQTT.TopicPrefix = "gateway"
	}
	if c.Backend.MQTT.AckTimeout == 0 {
		c.Backend.MQTT.AckTimeout = 5 * time.Second
	}

	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 5
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 2
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 5 * time.Minute
	}
}

func (c *Config) validate() error {
	if err := c.Gateway.eui.UnmarshalText([]byte(c.Gateway.ID)); err != nil {
		return fmt.Errorf("invalid gateway id %q: %w", c.Gateway.ID, err)
	}

	if len(c.Forwarder.Servers) == 0 {
		return fmt.Errorf("at least one forwarder server must be configured")
	}
	for i, s := range c.Forwarder.Servers {
		if s.Server == "" {
			return fmt.Errorf("forwarder server %d: address must be set", i)
		}
		if s.KeepaliveInterval <= 0 {
			return fmt.Errorf("forwarder server %s: keepalive_interval must be positive", s.Server)
		}
		if s.KeepaliveMaxFailures <= 0 {
			return fmt.Errorf("forwarder server %s: keepalive_max_failures must be positive", s.Server)
		}
	}

	switch c.Backend.Type {
	case BackendNATS, BackendMQTT:
	default:
		return fmt.Errorf("invalid backend type: %s", c.Backend.Type)
	}

	if c.Backend.MQTT.QOS > 2 {
		return fmt.Errorf("invalid mqtt qos: %d", c.Backend.MQTT.QOS)
	}

	return nil
}
