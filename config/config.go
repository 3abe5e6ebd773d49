package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/angeloszaimis/tcp-load-balancer/internal/backend"
	"github.com/angeloszaimis/tcp-load-balancer/internal/relay"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	DefaultAddress        = ":7070"
	DefaultDialTimeout    = "5s"
	DefaultHalfCloseGrace = "1s"
)

// Flag names understood by Load when passed a FlagSet from RegisterFlags.
const (
	FlagConfig         = "config"
	FlagListen         = "listen"
	FlagLogLevel       = "log-level"
	FlagEnvironment    = "env"
	FlagMaxSessions    = "max-sessions"
	FlagMetricsAddress = "metrics-address"
	FlagLogFile        = "log-file"
)

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	FlagListen:         "server.address",
	FlagLogLevel:       "logging.level",
	FlagEnvironment:    "server.environment",
	FlagMaxSessions:    "server.max_sessions",
	FlagMetricsAddress: "metrics.address",
	FlagLogFile:        "logging.file",
}

type ServerConfig struct {
	Address     string `mapstructure:"address"`
	Environment string `mapstructure:"environment"`
	MaxSessions int64  `mapstructure:"max_sessions"`
}

type BackendConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type RelayConfig struct {
	BufferSize     int    `mapstructure:"buffer_size"`
	DialTimeout    string `mapstructure:"dial_timeout"`
	HalfCloseGrace string `mapstructure:"half_close_grace"`
}

type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
	// File, when set, receives log records instead of stdout.
	File string `mapstructure:"file"`
}

type Config struct {
	Server   ServerConfig    `mapstructure:"server"`
	Backends []BackendConfig `mapstructure:"backends"`
	Relay    RelayConfig     `mapstructure:"relay"`
	Metrics  MetricsConfig   `mapstructure:"metrics"`
	Logging  LoggingConfig   `mapstructure:"logging"`
}

// RegisterFlags declares the command-line flags Load knows how to bind.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String(FlagConfig, "", "path to a config file (default: config.yaml in ./config or .)")
	flags.String(FlagListen, DefaultAddress, "address to accept client connections on")
	flags.String(FlagLogLevel, LogLevelInfo, "log level: debug, info, warn or error")
	flags.String(FlagEnvironment, EnvDev, "environment: dev, staging or prod")
	flags.Int64(FlagMaxSessions, 0, "maximum concurrent sessions, 0 for unbounded")
	flags.String(FlagMetricsAddress, "", "address for the metrics HTTP server, empty to disable")
	flags.String(FlagLogFile, "", "append logs to this file instead of stdout")
}

// Load reads configuration from defaults, a YAML file, the environment and
// flags, in increasing order of precedence. flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.address", DefaultAddress)
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.max_sessions", 0)
	v.SetDefault("relay.buffer_size", relay.DefaultBufferSize)
	v.SetDefault("relay.dial_timeout", DefaultDialTimeout)
	v.SetDefault("relay.half_close_grace", DefaultHalfCloseGrace)
	v.SetDefault("metrics.address", "")
	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("logging.file", "")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, fmt.Errorf("read config: %w", err)
		}
		slog.Warn("config file not found, using defaults, environment variables and flags")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if f := flags.Lookup(FlagConfig); f != nil && f.Value.String() != "" {
		v.SetConfigFile(f.Value.String())
	}

	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}

	return nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
					validation.Field(&sc.MaxSessions,
						validation.Min(int64(0)),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.Relay,
			validation.Required,
			validation.By(func(value interface{}) error {
				rc, ok := value.(RelayConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a RelayConfig")
				}
				return validation.ValidateStruct(&rc,
					validation.Field(&rc.BufferSize,
						validation.Required,
						validation.Min(relay.MinBufferSize),
					),
					validation.Field(&rc.DialTimeout,
						validation.Required,
						validation.By(validateDuration),
					),
					validation.Field(&rc.HalfCloseGrace,
						validation.Required,
						validation.By(validateDuration),
					),
				)
			}),
		),
		validation.Field(&c.Metrics,
			validation.By(func(value interface{}) error {
				mc, ok := value.(MetricsConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a MetricsConfig")
				}
				return validation.ValidateStruct(&mc,
					validation.Field(&mc.Address,
						validation.By(validateHostPort),
					),
				)
			}),
		),
		validation.Field(&c.Backends,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateBackendConfig)),
		),
	)
}

// Endpoints converts the configured backends, preserving their order.
func (c *Config) Endpoints() ([]backend.Endpoint, error) {
	endpoints := make([]backend.Endpoint, 0, len(c.Backends))
	for i, b := range c.Backends {
		ep, err := backend.New(b.Host, b.Port)
		if err != nil {
			return nil, fmt.Errorf("backends[%d]: %w", i, err)
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

// DialTimeoutDuration returns the backend connect timeout. Zero leaves it to the OS.
func (r RelayConfig) DialTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(r.DialTimeout)
	return d
}

// HalfCloseGraceDuration returns how long the second relay direction may run
// after the first has finished.
func (r RelayConfig) HalfCloseGraceDuration() time.Duration {
	d, _ := time.ParseDuration(r.HalfCloseGrace)
	return d
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if addr == "" {
		return nil
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return validation.NewError("validation_invalid_port", "port must be between 0 and 65535")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 500ms, 2s, 1m)")
	}
	if d < 0 {
		return validation.NewError("validation_negative_duration", "must not be negative")
	}

	return nil
}

func validateBackendConfig(value interface{}) error {
	b, ok := value.(BackendConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a BackendConfig")
	}

	return validation.ValidateStruct(&b,
		validation.Field(&b.Host,
			validation.Required,
			is.Host,
		),
		validation.Field(&b.Port,
			validation.Required,
			validation.Min(1),
			validation.Max(65535),
		),
	)
}
