package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Remote     RemoteConfig     `mapstructure:"remote"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Normalizer NormalizerConfig `mapstructure:"normalizer"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// RemoteConfig describes the property-management API and its OAuth2 client.
type RemoteConfig struct {
	BaseURL        string   `mapstructure:"base_url"`
	TokenURL       string   `mapstructure:"token_url"`
	ClientID       string   `mapstructure:"client_id"`
	ClientSecret   string   `mapstructure:"client_secret"`
	Scopes         []string `mapstructure:"scopes"`
	RequestTimeout string   `mapstructure:"request_timeout"`
	MaxAttempts    int      `mapstructure:"max_attempts"`
	BaseBackoff    string   `mapstructure:"base_backoff"`
	// RateLimit is requests per second; zero disables client-side limiting.
	RateLimit float64 `mapstructure:"rate_limit"`
}

func (r RemoteConfig) GetRequestTimeout() time.Duration {
	d, _ := time.ParseDuration(r.RequestTimeout)
	return d
}

func (r RemoteConfig) GetBaseBackoff() time.Duration {
	d, _ := time.ParseDuration(r.BaseBackoff)
	return d
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql or sqlite3
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	FilePath     string `mapstructure:"file_path"` // For SQLite
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	Migrate      bool   `mapstructure:"migrate"`
}

type SyncConfig struct {
	PageSize                 int    `mapstructure:"page_size"`
	ReservationLookbackYears int    `mapstructure:"reservation_lookback_years"`
	StaleRunAfter            string `mapstructure:"stale_run_after"`
}

func (s SyncConfig) GetStaleRunAfter() time.Duration {
	d, _ := time.ParseDuration(s.StaleRunAfter)
	return d
}

// NormalizerConfig extends the built-in source alias table. Aliases are a list
// rather than a map because viper lowercases map keys and splits them on dots.
type NormalizerConfig struct {
	Aliases []SourceAlias `mapstructure:"aliases"`
}

type SourceAlias struct {
	Alias     string `mapstructure:"alias"`
	Canonical string `mapstructure:"canonical"`
}

type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
}

type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Host         string `mapstructure:"host"`
	AuthToken    string `mapstructure:"auth_token"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(s.ReadTimeout)
	return d
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(s.WriteTimeout)
	return d
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("remote.base_url", "https://open-api.guesty.com")
	v.SetDefault("remote.token_url", "https://open-api.guesty.com/oauth2/token")
	v.SetDefault("remote.client_id", "")
	v.SetDefault("remote.client_secret", "")
	v.SetDefault("remote.scopes", []string{"open-api"})
	v.SetDefault("remote.request_timeout", "30s")
	v.SetDefault("remote.rate_limit", 0)
	v.SetDefault("remote.max_attempts", 3)
	v.SetDefault("remote.base_backoff", "1s")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "pms_sync")
	v.SetDefault("database.file_path", "pms_sync.db")
	v.SetDefault("database.migrate", false)
	v.SetDefault("database.max_open_conns", 10)

	v.SetDefault("sync.page_size", 100)
	v.SetDefault("sync.reservation_lookback_years", 3)
	v.SetDefault("sync.stale_run_after", "6h")

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.interval", "@every 1h")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.auth_token", "")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// LoadConfig reads path (if it exists) and applies PMS_SYNC_* environment
// overrides, e.g. PMS_SYNC_REMOTE_CLIENT_SECRET.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PMS_SYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Validate reports configuration that would make every sync run fail.
func (c *Config) Validate() error {
	if c.Remote.ClientID == "" || c.Remote.ClientSecret == "" {
		return errors.New("remote.client_id and remote.client_secret are required")
	}
	if c.Remote.BaseURL == "" || c.Remote.TokenURL == "" {
		return errors.New("remote.base_url and remote.token_url are required")
	}
	if c.Sync.PageSize <= 0 {
		return fmt.Errorf("sync.page_size must be positive, got %d", c.Sync.PageSize)
	}
	if c.Sync.ReservationLookbackYears < 0 {
		return fmt.Errorf("sync.reservation_lookback_years must not be negative, got %d", c.Sync.ReservationLookbackYears)
	}
	switch c.Database.Driver {
	case "mysql", "sqlite3":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	return nil
}
