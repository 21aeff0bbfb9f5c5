package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// AppConfig is the full service configuration.
type AppConfig struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Model   ModelConfig   `mapstructure:"model"`
	Storage StorageConfig `mapstructure:"storage"`
	Redis   RedisConfig   `mapstructure:"redis"`
	AMQP    AMQPConfig    `mapstructure:"amqp"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Limits  LimitsConfig  `mapstructure:"limits"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	Core    *CoreConfig   `mapstructure:"-"`
}

// ServerConfig holds listener addresses.
type ServerConfig struct {
	HTTPAddr        string `mapstructure:"http_addr"`
	GRPCAddr        string `mapstructure:"grpc_addr"`
	ShutdownSeconds int    `mapstructure:"shutdown_seconds"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ModelConfig points at the model-inference service.
type ModelConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	ClassifyModel string `mapstructure:"classify_model"`
	GenerateModel string `mapstructure:"generate_model"`
	Enabled       bool   `mapstructure:"enabled"`
}

// StorageConfig selects the episode and satisfaction stores.
// Drivers: "memory", "sqlite", "postgres", "mysql".
type StorageConfig struct {
	EpisodeDriver      string `mapstructure:"episode_driver"`
	SatisfactionDriver string `mapstructure:"satisfaction_driver"`
	SQLitePath         string `mapstructure:"sqlite_path"`
	PostgresDSN        string `mapstructure:"postgres_dsn"`
	MySQLDSN           string `mapstructure:"mysql_dsn"`
}

// RedisConfig enables session snapshot persistence when Addr is set.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// AMQPConfig enables the telemetry forwarder when URL is set.
type AMQPConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

// TracingConfig enables OTLP export when Endpoint is set.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LimitsConfig holds per-user chat rate limits.
type LimitsConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	RequestsPerHour   int `mapstructure:"requests_per_hour"`
	RequestsPerDay    int `mapstructure:"requests_per_day"`
}

// CatalogConfig optionally overrides the embedded intent catalog.
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.grpc_addr", ":50051")
	v.SetDefault("server.shutdown_seconds", 10)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("model.base_url", "http://localhost:11434")
	v.SetDefault("model.classify_model", "llama3.2:3b")
	v.SetDefault("model.generate_model", "llama3.2:3b")
	v.SetDefault("model.enabled", false)
	v.SetDefault("storage.episode_driver", "memory")
	v.SetDefault("storage.satisfaction_driver", "memory")
	v.SetDefault("storage.sqlite_path", "zoe.db")
	v.SetDefault("redis.key_prefix", "zoe:session:")
	v.SetDefault("amqp.exchange", "zoe.pipeline")
	v.SetDefault("tracing.service_name", "zoe-core")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("limits.requests_per_minute", 60)
	v.SetDefault("limits.requests_per_hour", 1000)
	v.SetDefault("limits.requests_per_day", 10000)
	for k, val := range DefaultCoreConfig().ToMap() {
		v.SetDefault("core."+k, val)
	}
}

// Load reads configuration from path (or zoe.yaml in ./ and ./config when
// path is empty) and ZOE_* environment variables, e.g.
// ZOE_CORE_MAX_PARALLEL=2 or ZOE_SERVER_HTTP_ADDR=:9090.
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("zoe")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("ZOE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	core := make(map[string]any)
	for k := range DefaultCoreConfig().ToMap() {
		core[k] = v.Get("core." + k)
	}
	cfg.Core = CoreConfigFromMap(core)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *AppConfig) Validate() error {
	if c.Core == nil {
		return errors.New("core config missing")
	}
	if c.Core.MaxParallel < 1 {
		return fmt.Errorf("core.max_parallel must be >= 1, got %d", c.Core.MaxParallel)
	}
	if c.Core.OuterTimeoutMS <= 0 {
		return fmt.Errorf("core.outer_timeout_ms must be positive")
	}
	for _, th := range []float64{c.Core.Tier0Threshold, c.Core.Tier1Threshold, c.Core.Tier2Threshold} {
		if th < 0 || th > 1 {
			return fmt.Errorf("classifier thresholds must be within [0,1], got %v", th)
		}
	}
	switch c.Storage.SatisfactionDriver {
	case "memory", "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn is required for the postgres driver")
		}
	case "mysql":
		if c.Storage.MySQLDSN == "" {
			return errors.New("storage.mysql_dsn is required for the mysql driver")
		}
	default:
		return fmt.Errorf("unknown satisfaction driver %q", c.Storage.SatisfactionDriver)
	}
	switch c.Storage.EpisodeDriver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown episode driver %q", c.Storage.EpisodeDriver)
	}
	return nil
}
