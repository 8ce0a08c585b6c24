package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Calendar CalendarConfig `mapstructure:"calendar"`
	Series   SeriesConfig   `mapstructure:"series"`
	Bybit    BybitConfig    `mapstructure:"bybit"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// LogConfig defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
}

// CalendarConfig tunes the shared schedule cache.
type CalendarConfig struct {
	Padding         time.Duration `mapstructure:"padding"`
	ExpandIncrement time.Duration `mapstructure:"expand_increment"`
	MaxAttempts     int           `mapstructure:"max_attempts"`

	// Exchanges whose schedules are built ahead of time by the daily warmer.
	WarmExchanges []string      `mapstructure:"warm_exchanges"`
	WarmHorizon   time.Duration `mapstructure:"warm_horizon"`
}

type SeriesConfig struct {
	WhitespaceBuffer  int    `mapstructure:"whitespace_buffer"`
	WhitespaceOverlap int    `mapstructure:"whitespace_overlap"`
	Exchange          string `mapstructure:"exchange"`
}

type BybitConfig struct {
	REST     RESTConfig `mapstructure:"rest"`
	WS       WSConfig   `mapstructure:"ws"`
	Category string     `mapstructure:"category"`
	// Symbols pins the collected instruments. Empty means every USDT altcoin pair.
	Symbols []string `mapstructure:"symbols"`
	// History is how far back the initial kline load reaches.
	History     time.Duration `mapstructure:"history"`
	Concurrency int           `mapstructure:"concurrency"`
}

type RESTConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type WSConfig struct {
	URL          string        `mapstructure:"url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Interval     string        `mapstructure:"interval"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.environment", "dev")

	v.SetDefault("calendar.padding", 7*24*time.Hour)
	v.SetDefault("calendar.expand_increment", 16*7*24*time.Hour)
	v.SetDefault("calendar.max_attempts", 3)
	v.SetDefault("calendar.warm_horizon", 30*24*time.Hour)

	v.SetDefault("series.whitespace_buffer", 500)
	v.SetDefault("series.whitespace_overlap", 5)
	v.SetDefault("series.exchange", "BYBIT")

	v.SetDefault("bybit.rest.base_url", "https://api.bybit.com")
	v.SetDefault("bybit.rest.timeout", 10*time.Second)
	v.SetDefault("bybit.ws.url", "wss://stream.bybit.com/v5/public/linear")
	v.SetDefault("bybit.ws.timeout", 10*time.Second)
	v.SetDefault("bybit.ws.interval", "1")
	v.SetDefault("bybit.ws.ping_interval", 20*time.Second)
	v.SetDefault("bybit.category", "linear")
	v.SetDefault("bybit.history", 24*time.Hour)
	v.SetDefault("bybit.concurrency", 5)

	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.timezone", "UTC")

	v.SetDefault("metrics.addr", ":9102")
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")

	// Support environment variables with dot notation (e.g., BYBIT_WS_URL)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Load loads application configuration using Viper.
// It reads from config.yaml and overrides with environment variables.
func Load() *Config {
	v := newViper()
	v.SetConfigName("config") // config.yaml

	ex, _ := os.Executable()
	if strings.Contains(ex, "go-build") {
		pwd, _ := os.Getwd()
		v.AddConfigPath(filepath.Join(pwd, "../../config"))
	} else {
		v.AddConfigPath(filepath.Join(filepath.Dir(ex), "../config"))
	}

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("failed to read config: %v", err)
	}

	cfg, err := decode(v)
	if err != nil {
		log.Fatalf("%v", err)
	}
	return cfg
}

// LoadFile reads the configuration at path. Keys missing from the file keep
// their defaults.
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return decode(v)
}
