// Package config provides configuration parsing and management for the forecaster.
//
// It handles both command-line flags and environment variables, with flags taking
// precedence over environment variables. The Config struct contains all runtime
// configuration for the forecaster including:
//   - Listen addresses for the HTTP and gRPC APIs
//   - Series loader selection and its LOADER_* settings
//   - Model storage (memory, file or redis) and the in-process artifact cache
//   - Enabled backends and the retraining schedule
//   - Logging, tracing and rate limiting
//   - TLS configuration (cert, key, CA files)
//
// A .env file is loaded into the environment before flags are parsed; variables
// already set in the environment win. Engine tuning (feature lags and windows,
// tree and additive hyperparameters) lives in an optional YAML file.
//
// Supported configuration sources (in order of precedence):
//  1. Command-line flags
//  2. Environment variables (including .env)
//  3. Default values
//
// Example usage:
//
//	cfg := config.ParseFlags()
//	engine, err := config.LoadEngine(cfg.EngineConfig)
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/HatiCode/bizcast/pkg/models"
	"github.com/HatiCode/bizcast/pkg/tls"
)

// DefaultEnvFile is loaded when ENV_FILE is not set. A missing default file
// is not an error.
const DefaultEnvFile = ".env"

// Config holds all forecaster configuration.
type Config struct {
	Listen     string
	GRPCListen string
	LogFormat  string
	LogLevel   string

	Loader       string
	LoaderConfig map[string]string

	Storage       string
	ModelDir      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheSize     int
	CacheTTL      time.Duration

	Backends        []string
	EngineConfig    string
	IntervalWidth   string
	RetrainSchedule string

	RateLimit      float64
	RateBurst      int
	RequestTimeout time.Duration

	OTLPEndpoint  string
	OTLPInsecure  bool
	TraceSampling float64

	TLS tls.Config
}

// ParseFlags loads the .env file, then parses command-line flags and
// environment variables into a Config. It exits the process on invalid
// configuration.
func ParseFlags() *Config {
	if err := LoadEnvFile(os.Getenv("ENV_FILE")); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	cfg, err := Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	return cfg
}

// LoadEnvFile loads path into the process environment without overriding
// variables that are already set. An empty path means DefaultEnvFile, which
// may be absent.
func LoadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Parse registers the forecaster flags on fs, parses args and validates the
// result. Environment variables are read as flag defaults.
func Parse(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := &Config{}
	var backends string

	fs.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8081"), "HTTP listen address")
	fs.StringVar(&cfg.GRPCListen, "grpc-listen", getEnv("GRPC_LISTEN", ":8082"), "gRPC listen address (empty disables)")

	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	fs.StringVar(&cfg.Loader, "loader", getEnv("LOADER", ""), "Series loader: http, postgres or mysql")

	fs.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "memory"), "Model storage: memory, file or redis")
	fs.StringVar(&cfg.ModelDir, "model-dir", getEnv("MODEL_DIR", "./models"), "Artifact directory for file storage")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	fs.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	fs.IntVar(&cfg.CacheSize, "cache-size", getEnvInt("CACHE_SIZE", 256), "In-process artifact cache entries (0 disables)")
	fs.DurationVar(&cfg.CacheTTL, "cache-ttl", getEnvDuration("CACHE_TTL", 10*time.Minute), "In-process artifact cache TTL")

	fs.StringVar(&backends, "backends", getEnv("BACKENDS", "tree,additive"), "Enabled backends, comma separated")
	fs.StringVar(&cfg.EngineConfig, "engine-config", getEnv("ENGINE_CONFIG", ""), "YAML file with feature and model tuning")
	fs.StringVar(&cfg.IntervalWidth, "interval-width", getEnv("INTERVAL_WIDTH", ""), "Additive uncertainty interval (p80 or 0.8); overrides the engine config")
	fs.StringVar(&cfg.RetrainSchedule, "retrain-schedule", getEnv("RETRAIN_SCHEDULE", ""), "Cron spec for retraining stored models (empty disables)")

	fs.Float64Var(&cfg.RateLimit, "rate-limit", getEnvFloat("RATE_LIMIT", 0), "API requests per second (0 disables)")
	fs.IntVar(&cfg.RateBurst, "rate-burst", getEnvInt("RATE_BURST", 20), "API rate limit burst")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", getEnvDuration("REQUEST_TIMEOUT", 2*time.Minute), "Per-request timeout")

	fs.StringVar(&cfg.OTLPEndpoint, "otlp-endpoint", getEnv("OTLP_ENDPOINT", ""), "OTLP gRPC endpoint for traces (empty disables)")
	fs.BoolVar(&cfg.OTLPInsecure, "otlp-insecure", getEnvBool("OTLP_INSECURE", true), "Use plaintext for the OTLP connection")
	fs.Float64Var(&cfg.TraceSampling, "trace-sampling", getEnvFloat("TRACE_SAMPLING", 1.0), "Trace sampling ratio")

	fs.BoolVar(&cfg.TLS.Enabled, "tls-enabled", getEnvBool("TLS_ENABLED", false), "Serve HTTP and gRPC over TLS")
	fs.StringVar(&cfg.TLS.CertFile, "tls-cert-file", getEnv("TLS_CERT_FILE", ""), "TLS certificate file")
	fs.StringVar(&cfg.TLS.KeyFile, "tls-key-file", getEnv("TLS_KEY_FILE", ""), "TLS private key file")
	fs.StringVar(&cfg.TLS.CAFile, "tls-ca-file", getEnv("TLS_CA_FILE", ""), "CA certificate for client verification (enables mutual TLS)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.Backends = splitList(backends)
	cfg.LoaderConfig = parseLoaderConfig()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Loader {
	case "":
		return errors.New("--loader is required")
	case "http", "postgres", "mysql":
	default:
		return fmt.Errorf("invalid loader %q (must be http, postgres or mysql)", c.Loader)
	}

	switch c.Storage {
	case "memory", "redis":
	case "file":
		if c.ModelDir == "" {
			return errors.New("--model-dir is required when storage=file")
		}
	default:
		return fmt.Errorf("invalid storage %q (must be memory, file or redis)", c.Storage)
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log format %q (must be text or json)", c.LogFormat)
	}

	if len(c.Backends) == 0 {
		return errors.New("at least one backend must be enabled")
	}
	for _, b := range c.Backends {
		if _, err := models.ParseBackendID(b); err != nil {
			return fmt.Errorf("backends: %w", err)
		}
	}

	if c.IntervalWidth != "" {
		if _, err := models.ParseIntervalWidth(c.IntervalWidth); err != nil {
			return fmt.Errorf("interval width: %w", err)
		}
	}

	if c.RetrainSchedule != "" {
		if _, err := cron.ParseStandard(c.RetrainSchedule); err != nil {
			return fmt.Errorf("invalid retrain schedule %q: %w", c.RetrainSchedule, err)
		}
	}

	if c.CacheSize < 0 {
		return fmt.Errorf("cache size %d cannot be negative", c.CacheSize)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit %v cannot be negative", c.RateLimit)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be > 0")
	}
	if c.TraceSampling < 0 || c.TraceSampling > 1 {
		return fmt.Errorf("trace sampling %v must be in [0, 1]", c.TraceSampling)
	}
	if err := c.TLS.Validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	return nil
}

// parseLoaderConfig parses LOADER_* environment variables into a generic configuration map.
// Environment variable names are converted to camelCase for the map keys (LOADER_VALUE_PATH → valuePath).
func parseLoaderConfig() map[string]string {
	config := make(map[string]string)

	for _, env := range os.Environ() {
		name, value, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		rest, ok := strings.CutPrefix(name, "LOADER_")
		if !ok || rest == "" {
			continue
		}
		config[toLowerCamelCase(rest)] = value
	}

	return config
}

func toLowerCamelCase(s string) string {
	parts := strings.Split(strings.ToLower(s), "_")
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i > 0 && b.Len() > 0 {
			b.WriteString(strings.ToUpper(p[:1]))
			b.WriteString(p[1:])
			continue
		}
		b.WriteString(p)
	}
	return b.String()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(strings.ToLower(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
