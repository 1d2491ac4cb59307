package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"chargeamps/pkg/eapi"
)

// ServiceName is used for config file discovery and the env override prefix
const ServiceName = "chargeamps"

// Config contains all configuration for the bridge
type Config struct {
	Log        LogConfig        `yaml:"log"`
	ChargeAmps ChargeAmpsConfig `yaml:"chargeamps"`
	Server     ServerConfig     `yaml:"server"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Redis      RedisConfig      `yaml:"redis"`
}

// LogConfig configures logging behavior
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" default:"console"`
	Debug  bool   `yaml:"debug" env:"DEBUG" default:"false"`
}

// ConfigureZerolog sets the global zerolog level
func (c *LogConfig) ConfigureZerolog() {
	level := zerolog.InfoLevel
	if c.Debug {
		level = zerolog.DebugLevel
	} else if parsed, err := zerolog.ParseLevel(strings.ToLower(c.Level)); err == nil && parsed != zerolog.NoLevel {
		level = parsed
	} else if strings.EqualFold(c.Level, "warning") {
		level = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(level)
}

// ChargeAmpsConfig configures access to the eAPI. Password and API key are
// only read from the environment.
type ChargeAmpsConfig struct {
	BaseURL        string        `yaml:"base_url" env:"CHARGEAMPS_BASE_URL" default:"https://eapi.charge.space/api/v5"`
	Email          string        `yaml:"email" env:"CHARGEAMPS_EMAIL"`
	Password       string        `yaml:"-" env:"CHARGEAMPS_PASSWORD"`
	APIKey         string        `yaml:"-" env:"CHARGEAMPS_API_KEY"`
	RequestTimeout time.Duration `yaml:"request_timeout" default:"10s"`
	PollInterval   time.Duration `yaml:"poll_interval" default:"30s"`
}

// ServerConfig configures the local HTTP API
type ServerConfig struct {
	Enabled         bool          `yaml:"enabled" default:"true"`
	ListenAddress   string        `yaml:"listen_address" env:"SERVER_LISTEN_ADDRESS" default:":8088"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
}

// MetricsConfig configures the gauge collector and /metrics endpoint
type MetricsConfig struct {
	Enabled         bool          `yaml:"enabled" default:"true"`
	CollectInterval time.Duration `yaml:"collect_interval" default:"15s"`
}

// MQTTConfig configures the optional MQTT bridge
type MQTTConfig struct {
	Enabled        bool          `yaml:"enabled" default:"false"`
	Broker         string        `yaml:"broker" env:"MQTT_BROKER" default:"tcp://localhost:1883"`
	ClientID       string        `yaml:"client_id" default:"chargeamps-bridge"`
	Username       string        `yaml:"username" env:"MQTT_USERNAME"`
	Password       string        `yaml:"-" env:"MQTT_PASSWORD"`
	TopicPrefix    string        `yaml:"topic_prefix" default:"chargeamps"`
	QoS            int           `yaml:"qos" default:"1"`
	Retain         bool          `yaml:"retain" default:"true"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"10s"`
}

// RedisConfig configures the optional snapshot mirror
type RedisConfig struct {
	Enabled   bool          `yaml:"enabled" default:"false"`
	Addr      string        `yaml:"addr" env:"REDIS_ADDR" default:"localhost:6379"`
	Password  string        `yaml:"-" env:"REDIS_PASSWORD"`
	DB        int           `yaml:"db" default:"0"`
	KeyPrefix string        `yaml:"key_prefix" default:"chargeamps"`
	TTL       time.Duration `yaml:"ttl" default:"10m"`
}

// Load loads the configuration from defaults, the optional files and the
// environment, then validates it.
func Load(configFile, envFile string) (*Config, error) {
	cfg := &Config{}

	loader := NewLoader(LoaderOptions{
		ConfigFile:      configFile,
		EnvironmentFile: envFile,
		EnvPrefix:       ServiceName,
	})
	if err := loader.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges and the settings of enabled components. Credentials
// are checked separately by RequireCredentials since some commands work
// without them.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ChargeAmps.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("chargeamps base_url must be an absolute http(s) URL, got %q", c.ChargeAmps.BaseURL)
	}
	if c.ChargeAmps.RequestTimeout <= 0 {
		return errors.New("chargeamps request_timeout must be positive")
	}
	if c.ChargeAmps.PollInterval < time.Second {
		return errors.New("chargeamps poll_interval must be at least 1s")
	}

	if c.Server.Enabled {
		if _, _, err := net.SplitHostPort(c.Server.ListenAddress); err != nil {
			return fmt.Errorf("invalid server listen_address %q: %w", c.Server.ListenAddress, err)
		}
	}

	if c.Metrics.Enabled && c.Metrics.CollectInterval <= 0 {
		return errors.New("metrics collect_interval must be positive")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return errors.New("mqtt broker is required when mqtt is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
		}
		if c.MQTT.TopicPrefix == "" || strings.ContainsAny(c.MQTT.TopicPrefix, "#+") {
			return fmt.Errorf("invalid mqtt topic_prefix %q", c.MQTT.TopicPrefix)
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("redis addr is required when redis is enabled")
	}
	return nil
}

// RequireCredentials reports whether email and password are both present.
func (c *Config) RequireCredentials() error {
	var missing []string
	if c.ChargeAmps.Email == "" {
		missing = append(missing, "CHARGEAMPS_EMAIL")
	}
	if c.ChargeAmps.Password == "" {
		missing = append(missing, "CHARGEAMPS_PASSWORD")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing credentials: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ClientConfig returns the eAPI transport settings
func (c *Config) ClientConfig() eapi.ClientConfig {
	return eapi.ClientConfig{
		BaseURL: c.ChargeAmps.BaseURL,
		APIKey:  c.ChargeAmps.APIKey,
		Timeout: c.ChargeAmps.RequestTimeout,
	}
}

// Credentials returns the configured account credentials
func (c *Config) Credentials() eapi.Credentials {
	return eapi.Credentials{Email: c.ChargeAmps.Email, Password: c.ChargeAmps.Password}
}
