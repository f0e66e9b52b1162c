package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the daemon and CLI configuration
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Calendar  CalendarConfig  `mapstructure:"calendar"`
	History   HistoryConfig   `mapstructure:"history"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type NATSConfig struct {
	URLs           []string      `mapstructure:"urls"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ConnectRetries int           `mapstructure:"connect_retries"`
}

type SchedulerConfig struct {
	Timezone        string        `mapstructure:"timezone"`
	MaxSkipChain    int           `mapstructure:"max_skip_chain"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

type EngineConfig struct {
	WrapMidnight bool `mapstructure:"wrap_midnight"`
}

type CalendarConfig struct {
	File    string        `mapstructure:"file"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type HistoryConfig struct {
	Retention       time.Duration `mapstructure:"retention"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// EnvPrefix prefixes environment overrides, e.g. ALARMD_LOG_LEVEL
const EnvPrefix = "ALARMD"

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "alarmd")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("database.path", "alarms.db")
	v.SetDefault("nats.urls", []string{"nats://127.0.0.1:4222"})
	v.SetDefault("nats.max_reconnects", 60)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)
	v.SetDefault("nats.connect_retries", 5)
	v.SetDefault("scheduler.timezone", "Local")
	v.SetDefault("scheduler.max_skip_chain", 366)
	v.SetDefault("scheduler.refresh_interval", 15*time.Minute)
	v.SetDefault("engine.wrap_midnight", false)
	v.SetDefault("calendar.file", "")
	v.SetDefault("calendar.timeout", 5*time.Second)
	v.SetDefault("history.retention", 30*24*time.Hour)
	v.SetDefault("history.cleanup_interval", 24*time.Hour)
}

// Load reads configuration. An explicit path must exist; otherwise config.yaml
// is searched in ./config and the working directory and may be absent.
// Environment variables override both.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail later at startup
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Scheduler.MaxSkipChain <= 0 {
		return fmt.Errorf("scheduler.max_skip_chain must be positive, got %d", c.Scheduler.MaxSkipChain)
	}
	if c.Scheduler.RefreshInterval <= 0 || c.History.CleanupInterval <= 0 {
		return errors.New("scheduler.refresh_interval and history.cleanup_interval must be positive")
	}
	return nil
}

// Location resolves scheduler.timezone
func (c *Config) Location() (*time.Location, error) {
	if c.Scheduler.Timezone == "" || c.Scheduler.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler.timezone %q: %w", c.Scheduler.Timezone, err)
	}
	return loc, nil
}
