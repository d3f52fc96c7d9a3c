// Package config loads the gateway's service configuration (devices
// and how they connect) and device templates (points, poll groups,
// and write actions). Watch reports changes to the service config
// file; template files are not watched.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// TransportType selects how a channel dials its device.
type TransportType string

const (
	TransportTCP TransportType = "tcp"
	TransportUnix TransportType = "unix"
	TransportRTU TransportType = "rtu"
)

// TransportConfig describes one device's physical connection.
type TransportConfig struct {
	Type TransportType `mapstructure:"type"`

	// TCP/unix
	Host string `mapstructure:"host"`
	Port int `mapstructure:"port"`
	Path string `mapstructure:"path"`

	// RTU
	Device string `mapstructure:"device"`
	BaudRate int `mapstructure:"baud_rate"`
	DataBits int `mapstructure:"data_bits"`
	Parity string `mapstructure:"parity"`
	StopBits int `mapstructure:"stop_bits"`
}

// ChannelConfig describes the adapter and wire parameters a device
// session uses.
type ChannelConfig struct {
	Adapter string `mapstructure:"adapter"` // template name, see TemplateConfig
	UnitID byte `mapstructure:"unit_id"`
	Transport TransportConfig `mapstructure:"transport"`
}

// DeviceConfig is one entry in the service config's device list.
type DeviceConfig struct {
	Name string `mapstructure:"name"`
	Template string `mapstructure:"template"`
	LogLevel string `mapstructure:"log_level"` // per-device log level override
	Channel ChannelConfig `mapstructure:"channel"`
}

// ServerConfig holds the façade HTTP server's bind settings.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int `mapstructure:"port"`
}

// LoggerConfig configures the structured logger's level, format, and
// file rotation.
type LoggerConfig struct {
	Level string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File string `mapstructure:"file"`
	MaxSizeMB int `mapstructure:"max_size_mb"`
	MaxBackups int `mapstructure:"max_backups"`
	MaxAgeDays int `mapstructure:"max_age_days"`
}

// StorageConfig configures the sqlite snapshot store and optional
// sinks (redis mirror, influx time series, mqtt republish, S3
// archival).
type StorageConfig struct {
	SqlitePath string `mapstructure:"sqlite_path"`
	RedisAddr string `mapstructure:"redis_addr"`
	InfluxURL string `mapstructure:"influx_url"`
	InfluxToken string `mapstructure:"influx_token"`
	InfluxBucket string `mapstructure:"influx_bucket"`
	MQTTBroker string `mapstructure:"mqtt_broker"`
	S3Bucket string `mapstructure:"s3_bucket"`
}

// AuthConfig configures JWT protection for invoke_action.
type AuthConfig struct {
	Enabled bool `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// Config is the full service configuration: server, logging, storage,
// auth, and the device list.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Logger LoggerConfig `mapstructure:"logger"`
	Storage StorageConfig `mapstructure:"storage"`
	Auth AuthConfig `mapstructure:"auth"`
	Devices []DeviceConfig `mapstructure:"devices"`
}

// Load reads the service config from configPath (or the default
// search locations), applying defaults and env var overrides under the
// MODGATE_ prefix.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		v.AddConfigPath(getConfigDir())
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	v.SetEnvPrefix("MODGATE")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// Watch installs a viper file watcher (backed by fsnotify) that calls
// onChange with the freshly reloaded Config every time the underlying
// file is modified. The caller diffs the device list against what it
// is currently running to decide which devices to add/remove.
func Watch(configPath string, onChange func(*Config, error)) error {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: read for watch: %w", err)
	}
	v.SetEnvPrefix("MODGATE")
	v.AutomaticEnv()

	v.OnConfigChange(func(e fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			onChange(nil, fmt.Errorf("config: reload: %w", err))
			return
		}
		onChange(&cfg, nil)
	})
	v.WatchConfig()
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.max_size_mb", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age_days", 30)

	v.SetDefault("storage.sqlite_path", "./data/modgate.db")

	v.SetDefault("auth.enabled", false)
}

// Dump renders the effective config as YAML, with secrets redacted,
// for an operator troubleshooting endpoint.
func (c *Config) Dump() ([]byte, error) {
	redacted := *c
	redacted.Auth.JWTSecret = ""
	redacted.Storage.InfluxToken = ""
	out, err := yaml.Marshal(&redacted)
	if err != nil {
		return nil, fmt.Errorf("config: marshal dump: %w", err)
	}
	return out, nil
}

func getConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".modgate")
}
