package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvPrefix = "MEDIAREMOTE"

	DefaultPort                 = 10010
	DefaultConnectTimeoutMS     = 3000
	DefaultIdentifyTimeoutMS    = 2000
	DefaultExpectedApplication  = "IINA"
	DefaultReconnectBaseDelayMS = 1000
	DefaultReconnectMaxAttempts = 5
	DefaultWriteTimeoutMS       = 5000
	DefaultMaxConcurrentProbes  = 64

	StorageBackendSQLite = "sqlite"
	StorageBackendFile   = "file"
)

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	LogToFile bool   `json:"log_to_file" mapstructure:"log_to_file"`
}

// ConnectionConfig holds the control connection endpoint and its timing.
type ConnectionConfig struct {
	Address              string `json:"address" mapstructure:"address"`
	Port                 int    `json:"port" mapstructure:"port"`
	ConnectTimeoutMS     int    `json:"connect_timeout_ms" mapstructure:"connect_timeout_ms"`
	IdentifyTimeoutMS    int    `json:"identify_timeout_ms" mapstructure:"identify_timeout_ms"`
	ExpectedApplication  string `json:"expected_application" mapstructure:"expected_application"`
	ReconnectBaseDelayMS int    `json:"reconnect_base_delay_ms" mapstructure:"reconnect_base_delay_ms"`
	ReconnectMaxAttempts int    `json:"reconnect_max_attempts" mapstructure:"reconnect_max_attempts"`
	WriteTimeoutMS       int    `json:"write_timeout_ms" mapstructure:"write_timeout_ms"`
}

func (c ConnectionConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMS) * time.Millisecond
}

func (c ConnectionConfig) IdentifyTimeout() time.Duration {
	return time.Duration(c.IdentifyTimeoutMS) * time.Millisecond
}

func (c ConnectionConfig) ReconnectBaseDelay() time.Duration {
	return time.Duration(c.ReconnectBaseDelayMS) * time.Millisecond
}

func (c ConnectionConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMS) * time.Millisecond
}

// DiscoveryConfig holds the default scan range and mDNS browsing.
type DiscoveryConfig struct {
	Prefix              string `json:"prefix" mapstructure:"prefix"`
	Start               int    `json:"start" mapstructure:"start"`
	End                 int    `json:"end" mapstructure:"end"`
	MaxConcurrentProbes int    `json:"max_concurrent_probes" mapstructure:"max_concurrent_probes"`
	MDNSService         string `json:"mdns_service" mapstructure:"mdns_service"`
}

type StorageConfig struct {
	Backend string `json:"backend" mapstructure:"backend"`
}

type MetricsConfig struct {
	// ListenAddress enables the Prometheus endpoint when set, e.g. "127.0.0.1:9464".
	ListenAddress string `json:"listen_address" mapstructure:"listen_address"`
}

// NotificationConfig stores desktop notification preferences.
type NotificationConfig struct {
	Enabled          bool `json:"enabled" mapstructure:"enabled"`
	ConnectionStatus bool `json:"connection_status" mapstructure:"connection_status"`
	ServerDiscovered bool `json:"server_discovered" mapstructure:"server_discovered"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Connection    ConnectionConfig   `json:"connection" mapstructure:"connection"`
	Discovery     DiscoveryConfig    `json:"discovery" mapstructure:"discovery"`
	Storage       StorageConfig      `json:"storage" mapstructure:"storage"`
	Logging       LoggingConfig      `json:"logging" mapstructure:"logging"`
	Metrics       MetricsConfig      `json:"metrics" mapstructure:"metrics"`
	Notifications NotificationConfig `json:"notifications" mapstructure:"notifications"`
}

func Default() AppConfig {
	return AppConfig{
		Connection: ConnectionConfig{
			Address:              "",
			Port:                 DefaultPort,
			ConnectTimeoutMS:     DefaultConnectTimeoutMS,
			IdentifyTimeoutMS:    DefaultIdentifyTimeoutMS,
			ExpectedApplication:  DefaultExpectedApplication,
			ReconnectBaseDelayMS: DefaultReconnectBaseDelayMS,
			ReconnectMaxAttempts: DefaultReconnectMaxAttempts,
			WriteTimeoutMS:       DefaultWriteTimeoutMS,
		},
		Discovery: DiscoveryConfig{
			Prefix:              "192.168.1",
			Start:               1,
			End:                 254,
			MaxConcurrentProbes: DefaultMaxConcurrentProbes,
		},
		Storage: StorageConfig{
			Backend: StorageBackendSQLite,
		},
		Logging: LoggingConfig{
			Level:     "info",
			LogToFile: false,
		},
		Notifications: NotificationConfig{
			Enabled:          true,
			ConnectionStatus: true,
			ServerDiscovered: true,
		},
	}
}

// Load reads the JSON config at path. Every key can be overridden from the
// environment as MEDIAREMOTE_<SECTION>_<KEY>. A missing file yields defaults.
func Load(path string) (AppConfig, error) {
	v := newViper()
	cleanPath := filepath.Clean(path)
	v.SetConfigFile(cleanPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return AppConfig{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.FillMissingDefaults()

	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Env overrides only reach Unmarshal for keys viper already knows about.
	d := Default()
	v.SetDefault("connection.address", d.Connection.Address)
	v.SetDefault("connection.port", d.Connection.Port)
	v.SetDefault("connection.connect_timeout_ms", d.Connection.ConnectTimeoutMS)
	v.SetDefault("connection.identify_timeout_ms", d.Connection.IdentifyTimeoutMS)
	v.SetDefault("connection.expected_application", d.Connection.ExpectedApplication)
	v.SetDefault("connection.reconnect_base_delay_ms", d.Connection.ReconnectBaseDelayMS)
	v.SetDefault("connection.reconnect_max_attempts", d.Connection.ReconnectMaxAttempts)
	v.SetDefault("connection.write_timeout_ms", d.Connection.WriteTimeoutMS)
	v.SetDefault("discovery.prefix", d.Discovery.Prefix)
	v.SetDefault("discovery.start", d.Discovery.Start)
	v.SetDefault("discovery.end", d.Discovery.End)
	v.SetDefault("discovery.max_concurrent_probes", d.Discovery.MaxConcurrentProbes)
	v.SetDefault("discovery.mdns_service", d.Discovery.MDNSService)
	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.log_to_file", d.Logging.LogToFile)
	v.SetDefault("metrics.listen_address", d.Metrics.ListenAddress)
	v.SetDefault("notifications.enabled", d.Notifications.Enabled)
	v.SetDefault("notifications.connection_status", d.Notifications.ConnectionStatus)
	v.SetDefault("notifications.server_discovered", d.Notifications.ServerDiscovered)

	return v
}

func (c *AppConfig) FillMissingDefaults() {
	d := Default()
	c.Connection.Address = strings.TrimSpace(c.Connection.Address)
	if c.Connection.Port <= 0 {
		c.Connection.Port = d.Connection.Port
	}
	if c.Connection.ConnectTimeoutMS <= 0 {
		c.Connection.ConnectTimeoutMS = d.Connection.ConnectTimeoutMS
	}
	if c.Connection.IdentifyTimeoutMS <= 0 {
		c.Connection.IdentifyTimeoutMS = d.Connection.IdentifyTimeoutMS
	}
	if strings.TrimSpace(c.Connection.ExpectedApplication) == "" {
		c.Connection.ExpectedApplication = d.Connection.ExpectedApplication
	}
	if c.Connection.ReconnectBaseDelayMS <= 0 {
		c.Connection.ReconnectBaseDelayMS = d.Connection.ReconnectBaseDelayMS
	}
	if c.Connection.ReconnectMaxAttempts <= 0 {
		c.Connection.ReconnectMaxAttempts = d.Connection.ReconnectMaxAttempts
	}
	if c.Connection.WriteTimeoutMS <= 0 {
		c.Connection.WriteTimeoutMS = d.Connection.WriteTimeoutMS
	}
	if c.Discovery.MaxConcurrentProbes < 0 {
		c.Discovery.MaxConcurrentProbes = 0
	}
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
}

func (c AppConfig) Validate() error {
	if c.Connection.Port < 1 || c.Connection.Port > 65535 {
		return fmt.Errorf("connection port %d is outside 1-65535", c.Connection.Port)
	}
	if strings.ContainsAny(c.Connection.Address, " /\\?#") {
		return fmt.Errorf("connection address %q is not a host", c.Connection.Address)
	}
	if c.Connection.ConnectTimeoutMS <= 0 || c.Connection.IdentifyTimeoutMS <= 0 || c.Connection.WriteTimeoutMS <= 0 {
		return errors.New("connection timeouts must be positive")
	}
	if c.Connection.ReconnectBaseDelayMS <= 0 {
		return errors.New("reconnect base delay must be positive")
	}
	if c.Connection.ReconnectMaxAttempts <= 0 {
		return errors.New("reconnect max attempts must be positive")
	}
	if c.Discovery.Start < 1 || c.Discovery.End > 254 || c.Discovery.Start > c.Discovery.End {
		return fmt.Errorf("discovery range %d-%d is not within 1-254", c.Discovery.Start, c.Discovery.End)
	}
	switch c.Storage.Backend {
	case StorageBackendSQLite, StorageBackendFile:
	default:
		return fmt.Errorf("unknown storage backend: %s", c.Storage.Backend)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %s", c.Logging.Level)
	}

	return nil
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}
