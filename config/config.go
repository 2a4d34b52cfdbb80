package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sagarc03/anystore/gateway"
	"github.com/sagarc03/anystore/keybackend"
	"github.com/sagarc03/anystore/services"
)

// EnvPrefix prefixes every environment variable Load reads.
const EnvPrefix = "ANYSTORE"

// configKey is the context key for storing the loaded configuration.
type configKey struct{}

// WithContext returns a new context with the config stored.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// FromContext retrieves the config from context.
// Returns an error if config is not found.
func FromContext(ctx context.Context) (*Config, error) {
	cfg, ok := ctx.Value(configKey{}).(*Config)
	if !ok || cfg == nil {
		return nil, errors.New("config not found in context")
	}
	return cfg, nil
}

// Config is the root configuration struct for anystore.
type Config struct {
	Storage StorageConfig      `mapstructure:"storage"`
	Layers  LayersConfig       `mapstructure:"layers"`
	Server  ServerConfig       `mapstructure:"server"`
	Auth    AuthConfig         `mapstructure:"auth"`
	CORS    gateway.CORSConfig `mapstructure:"cors"`
	Log     LogConfig          `mapstructure:"log"`
}

// StorageConfig selects the backend. Options is the backend's own option
// map, passed through to services.New.
type StorageConfig struct {
	Scheme  string            `mapstructure:"scheme" validate:"required"`
	Options map[string]string `mapstructure:"options"`
	// Check probes the backend once it is opened.
	Check bool `mapstructure:"check"`
}

// LayersConfig selects the layers stacked on the backend.
type LayersConfig struct {
	ReadOnly    bool              `mapstructure:"read_only"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency"`
	Timeout     TimeoutConfig     `mapstructure:"timeout"`
	Logging     bool              `mapstructure:"logging"`
	Metrics     bool              `mapstructure:"metrics"`
	Tracing     bool              `mapstructure:"tracing"`
}

// RetryConfig mirrors layers.RetryConfig. Zero values take the layer's
// defaults.
type RetryConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	MaxAttempts     int           `mapstructure:"max_attempts" validate:"min=0"`
	InitialInterval time.Duration `mapstructure:"initial_interval" validate:"min=0"`
	MaxInterval     time.Duration `mapstructure:"max_interval" validate:"min=0"`
	Multiplier      float64       `mapstructure:"multiplier" validate:"min=0"`
	Jitter          float64       `mapstructure:"jitter" validate:"min=0,max=1"`
}

// ConcurrencyConfig bounds in-flight operations. A zero Limit disables the
// layer.
type ConcurrencyConfig struct {
	Limit   int64         `mapstructure:"limit" validate:"min=0"`
	Timeout time.Duration `mapstructure:"timeout" validate:"min=0"`
}

// TimeoutConfig bounds calls (Operation) and single reads (IO). Zero
// disables the bound.
type TimeoutConfig struct {
	Operation time.Duration `mapstructure:"operation" validate:"min=0"`
	IO        time.Duration `mapstructure:"io" validate:"min=0"`
}

// ServerConfig holds HTTP gateway configuration.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,min=1,max=65535"`
	Mode            string        `mapstructure:"mode" validate:"required,oneof=store static spa"`
	MaxUploadSize   int64         `mapstructure:"max_upload_size" validate:"min=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`
}

// AuthConfig holds gateway authentication configuration.
type AuthConfig struct {
	Read    string                `mapstructure:"read" validate:"required,oneof=public private"`
	Write   string                `mapstructure:"write" validate:"required,oneof=public private"`
	Region  string                `mapstructure:"region" validate:"required"`
	Service string                `mapstructure:"service" validate:"required"`
	Keys    keybackend.KeysConfig `mapstructure:"keys"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=text json"`
}

// defaultOptions fill option keys a scheme needs when the config leaves
// them out.
var defaultOptions = map[string]map[string]string{
	"fs":     {"root": "./data", "create_root": "true"},
	"sqlite": {"dsn": "anystore.db"},
}

// flagToViperKey maps CLI flag names to viper configuration keys.
var flagToViperKey = map[string]string{
	"scheme":          "storage.scheme",
	"option":          "storage.options",
	"check":           "storage.check",
	"read-only":       "layers.read_only",
	"port":            "server.port",
	"mode":            "server.mode",
	"max-upload-size": "server.max_upload_size",
	"log-level":       "log.level",
	"log-format":      "log.format",
}

// bindFlags binds CLI flags to viper keys with custom name mapping.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		viperKey := f.Name
		if mapped, ok := flagToViperKey[viperKey]; ok {
			viperKey = mapped
		}

		// Only bind if the flag was explicitly set
		if f.Changed {
			_ = v.BindPFlag(viperKey, f)
		}
	})
}

// setDefaults configures default values on the viper instance.
func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.scheme", "fs")
	v.SetDefault("storage.check", true)

	v.SetDefault("layers.retry.enabled", true)
	v.SetDefault("layers.logging", true)

	v.SetDefault("server.port", 5708)
	v.SetDefault("server.mode", "store")
	v.SetDefault("server.max_upload_size", 0) // 0 means no limit
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("auth.read", "public")
	v.SetDefault("auth.write", "public")
	v.SetDefault("auth.region", "us-east-1")
	v.SetDefault("auth.service", "s3")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration and returns a validated Config struct.
// Order of precedence (highest to lowest): flags > env > config files > defaults
//
// Parameters:
//   - configFiles: list of config file paths (later files override earlier ones)
//   - flags: flag set for flag binding (can be nil)
func Load(configFiles []string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if len(configFiles) > 0 {
		v.SetConfigFile(configFiles[0])
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFiles[0], err)
		}

		for _, cf := range configFiles[1:] {
			v.SetConfigFile(cf)
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("merge config file %s: %w", cf, err)
			}
		}
	} else {
		v.SetConfigName("anystore")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")

		if err := v.ReadInConfig(); err != nil {
			var configNotFound viper.ConfigFileNotFoundError
			if !errors.As(err, &configNotFound) {
				slog.Warn("error reading config file", "err", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		bindFlags(v, flags)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Storage.Options = withDefaultOptions(cfg.Storage.Scheme, cfg.Storage.Options)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func withDefaultOptions(scheme string, opts map[string]string) map[string]string {
	if opts == nil {
		opts = make(map[string]string)
	}
	for k, val := range defaultOptions[scheme] {
		if _, ok := opts[k]; !ok {
			opts[k] = val
		}
	}
	return opts
}

// Validate checks cfg with its struct tags and checks that the storage
// scheme is known.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if !slices.Contains(services.Schemes(), cfg.Storage.Scheme) {
		return fmt.Errorf("validate config: unknown storage scheme %q (known: %s)",
			cfg.Storage.Scheme, strings.Join(services.Schemes(), ", "))
	}
	return nil
}
