// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Serial     SerialConfig     `mapstructure:"serial"`
	Handshake  HandshakeConfig  `mapstructure:"handshake"`
	Discovery  DiscoveryConfig  `mapstructure:"discovery"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Broker     BrokerConfig     `mapstructure:"broker"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Version     string `mapstructure:"version" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Host           string        `mapstructure:"host" validate:"required"`
	Port           string        `mapstructure:"port" validate:"required"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"required"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// SerialConfig represents the serial bus configuration
type SerialConfig struct {
	BaudRate      int           `mapstructure:"baud_rate"`
	DataBits      int           `mapstructure:"data_bits"`
	Parity        string        `mapstructure:"parity"`
	StopBits      int           `mapstructure:"stop_bits"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	MaxPorts      int           `mapstructure:"max_ports"`
}

// HandshakeConfig represents MAVLink handshake timing
type HandshakeConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`
	VersionTimeout    time.Duration `mapstructure:"version_timeout"`
	HeartbeatPoll     time.Duration `mapstructure:"heartbeat_poll"`
	VersionPoll       time.Duration `mapstructure:"version_poll"`
	TargetSystem      uint8         `mapstructure:"target_system"`
	TargetComponent   uint8         `mapstructure:"target_component"`
}

// DiscoveryConfig represents hotplug discovery configuration
type DiscoveryConfig struct {
	DevDir        string `mapstructure:"dev_dir"`
	TemplatesFile string `mapstructure:"templates_file"`
	MaxDevices    int    `mapstructure:"max_devices"`
	InitialScan   bool   `mapstructure:"initial_scan"`
	Watch         bool   `mapstructure:"watch"`
}

// SupervisorConfig represents background task supervision
type SupervisorConfig struct {
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	Interval     time.Duration `mapstructure:"interval"`
	Staleness    time.Duration `mapstructure:"staleness"`
}

// BrokerConfig points at the message bus client configuration files
type BrokerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	BaseConfigFile   string        `mapstructure:"base_config_file"`
	CustomConfigFile string        `mapstructure:"custom_config_file"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	ReconnectWait    time.Duration `mapstructure:"reconnect_wait"`
}

// Load loads configuration from the file set on v and environment variables.
// A missing config file is not an error, defaults apply.
func Load(v *viper.Viper) (*Config, error) {
	if v.ConfigFileUsed() == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/ur-discovery")
	}

	// Environment variable support
	v.SetEnvPrefix("UR_DISCOVERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Validate configuration
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "ur-discovery")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "production")

	// Server defaults
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", "8085")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// Serial defaults
	v.SetDefault("serial.baud_rate", 115200)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.parity", "none")
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("serial.sweep_interval", "200ms")
	v.SetDefault("serial.max_ports", 256)

	// Handshake defaults
	v.SetDefault("handshake.heartbeat_interval", "500ms")
	v.SetDefault("handshake.heartbeat_timeout", "2500ms")
	v.SetDefault("handshake.version_timeout", "3000ms")
	v.SetDefault("handshake.heartbeat_poll", "10ms")
	v.SetDefault("handshake.version_poll", "100ms")
	v.SetDefault("handshake.target_system", 1)
	v.SetDefault("handshake.target_component", 1)

	// Discovery defaults
	v.SetDefault("discovery.dev_dir", "/dev")
	v.SetDefault("discovery.templates_file", "")
	v.SetDefault("discovery.max_devices", 100)
	v.SetDefault("discovery.initial_scan", true)
	v.SetDefault("discovery.watch", true)

	// Supervisor defaults
	v.SetDefault("supervisor.initial_delay", "1s")
	v.SetDefault("supervisor.interval", "5s")
	v.SetDefault("supervisor.staleness", "10s")

	// Broker defaults
	v.SetDefault("broker.enabled", true)
	v.SetDefault("broker.base_config_file", "")
	v.SetDefault("broker.custom_config_file", "")
	v.SetDefault("broker.connect_timeout", "5s")
	v.SetDefault("broker.reconnect_wait", "1s")
}

// validate validates the configuration
func validate(config *Config) error {
	// Basic validation
	if config.Server.Enabled && config.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if config.Server.Enabled && config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if config.Discovery.TemplatesFile == "" {
		return fmt.Errorf("discovery.templates_file is required")
	}
	if config.Discovery.MaxDevices <= 0 {
		return fmt.Errorf("discovery.max_devices must be positive")
	}
	if config.Broker.Enabled && (config.Broker.BaseConfigFile == "" || config.Broker.CustomConfigFile == "") {
		return fmt.Errorf("broker.base_config_file and broker.custom_config_file are required")
	}
	if config.Handshake.HeartbeatPoll <= 0 || config.Handshake.VersionPoll <= 0 {
		return fmt.Errorf("handshake poll intervals must be positive")
	}
	if config.Supervisor.Interval <= 0 {
		return fmt.Errorf("supervisor.interval must be positive")
	}

	// Validate environment
	validEnvs := []string{"development", "staging", "production", "test"}
	isValidEnv := false
	for _, env := range validEnvs {
		if config.App.Environment == env {
			isValidEnv = true
			break
		}
	}
	if !isValidEnv {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	// Validate logging level
	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	isValidLevel := false
	for _, level := range validLevels {
		if config.Logging.Level == level {
			isValidLevel = true
			break
		}
	}
	if !isValidLevel {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	return nil
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsDevelopment checks if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
