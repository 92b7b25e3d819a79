package config

import (
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Timeline  TimelineConfig  `mapstructure:"timeline"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	Mode string `mapstructure:"mode"` // debug, release
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // postgres, sqlite
	DSN    string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// Prefix namespaces every key written by the uid manager,
	// the indexed-set backend and the timeline engine.
	Prefix string `mapstructure:"prefix"`
}

type TimelineConfig struct {
	// Backend selects the graph store: "database" or "redis".
	Backend        string `mapstructure:"backend"`
	QueueSize      int    `mapstructure:"queue_size"`
	Workers        int    `mapstructure:"workers"`
	FanoutPageSize int    `mapstructure:"fanout_page_size"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// TelemetryConfig leaves tracing and error reporting off until an
// endpoint or DSN is set.
type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	SentryDSN    string `mapstructure:"sentry_dsn"`
}

// Load reads config.yaml from the working directory (optional) and
// applies SOCIALGRAPH_* environment overrides on top of the defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "socialgraph.db")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "sg")
	v.SetDefault("timeline.backend", "database")
	v.SetDefault("timeline.queue_size", 10000)
	v.SetDefault("timeline.workers", 4)
	v.SetDefault("timeline.fanout_page_size", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.sentry_dsn", "")

	v.SetEnvPrefix("SOCIALGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
