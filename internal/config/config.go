package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/geo-events/internal/loader"
	"github.com/sells-group/geo-events/internal/search"
)

// EnvPrefix prefixes environment overrides, e.g. GEOEVENTS_STORE_DATABASE_URL.
const EnvPrefix = "GEOEVENTS"

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Search      search.Config     `yaml:"search" mapstructure:"search"`
	Loader      loader.Config     `yaml:"loader" mapstructure:"loader"`
	Fetch       FetchConfig       `yaml:"fetch" mapstructure:"fetch"`
	Maintenance MaintenanceConfig `yaml:"maintenance" mapstructure:"maintenance"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig selects and sizes the catalog backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url" validate:"required_if=Driver postgres"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path" validate:"required_if=Driver sqlite"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns" validate:"min=1"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns" validate:"min=0,ltefield=MaxConns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port            int           `yaml:"port" mapstructure:"port" validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// FetchConfig configures source downloads.
type FetchConfig struct {
	UserAgent         string        `yaml:"user_agent" mapstructure:"user_agent"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxRetries        int           `yaml:"max_retries" mapstructure:"max_retries" validate:"min=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second" validate:"min=0"`
	TempDir           string        `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// MaintenanceConfig configures catalog pruning.
type MaintenanceConfig struct {
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days" validate:"min=0"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// Load reads .env, config.yaml from the working directory and GEOEVENTS_*
// environment variables, in increasing order of precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, eris.Wrap(err, "config: read .env")
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "geo-events.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("search.default_radius_km", search.DefaultRadiusKm)
	v.SetDefault("search.default_days", search.DefaultDays)
	v.SetDefault("search.max_results", search.DefaultMaxResults)
	v.SetDefault("search.query_timeout", search.DefaultQueryTimeout)
	v.SetDefault("search.timezone", search.DefaultTimezone)
	v.SetDefault("loader.batch_size", loader.DefaultBatchSize)
	v.SetDefault("fetch.user_agent", "geo-events/1.0")
	v.SetDefault("fetch.timeout", 60*time.Second)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.requests_per_second", 5)
	v.SetDefault("fetch.temp_dir", "")
	v.SetDefault("maintenance.retention_days", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks field constraints and reports every violation at once.
func (c *Config) Validate() error {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return eris.Wrap(err, "config: validate")
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fe.Namespace()+" failed "+fe.Tag())
	}
	return eris.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
