// Package config validates and loads the environment and CLI surface for
// the Instant chat server into a single typed Config.
package config

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/instant-chat/instant/internal/logging"
	"go.uber.org/zap"
)

// Config holds the fully validated runtime configuration.
type Config struct {
	// Positional / flag-driven (the CLI surface)
	Port         int
	Host         string
	Webroot      string
	HTTPLogPath  string
	DebugLogPath string
	LogLevel     string
	StartupCmd   string

	// Environment-driven
	CookiesKeyfile   string
	CookiesInsecure  bool
	ProducerCacheTTL int // seconds, INSTANT_HTTP_MAXCACHEAGE

	GoEnv          string
	AllowedOrigins string

	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	RateLimitWsIP   string
	RateLimitWsUser string

	TracingCollectorAddr string
}

// Defaults mirror the documented CLI surface.
const (
	DefaultPort     = 8080
	DefaultHost     = "*"
	DefaultWebroot  = "."
	DefaultLogPath  = "-"
	DefaultLogLevel = "INFO"
)

// FlagSet builds the flag.FlagSet for the CLI surface. Exposed separately
// from Load so callers (and tests) can parse an arbitrary argv without
// touching the process's os.Args/flag.CommandLine globals. Building the
// argument grammar itself is out of scope here; this is a thin
// wrapper over the standard library's flag package.
func FlagSet(name string) (*flag.FlagSet, *Config) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	cfg := &Config{}

	fs.StringVar(&cfg.Host, "host", DefaultHost, "interface to listen on, '*' for all interfaces")
	fs.StringVar(&cfg.Host, "h", DefaultHost, "shorthand for --host")
	fs.StringVar(&cfg.Webroot, "webroot", DefaultWebroot, "root directory for the filesystem file producer")
	fs.StringVar(&cfg.Webroot, "r", DefaultWebroot, "shorthand for --webroot")
	fs.StringVar(&cfg.HTTPLogPath, "http-log", DefaultLogPath, "HTTP access log path, '-' for stderr")
	fs.StringVar(&cfg.DebugLogPath, "debug-log", DefaultLogPath, "debug log path, '-' for stderr")
	fs.StringVar(&cfg.LogLevel, "log-level", DefaultLogLevel, "log level (DEBUG, INFO, WARN, ERROR)")
	fs.StringVar(&cfg.LogLevel, "L", DefaultLogLevel, "shorthand for --log-level")
	fs.StringVar(&cfg.StartupCmd, "startup-cmd", "", "shell command to run before the main loop")
	fs.StringVar(&cfg.StartupCmd, "c", "", "shorthand for --startup-cmd")

	return fs, cfg
}

// Load parses argv (typically os.Args[1:]) into a Config, then overlays and
// validates environment variables. It collects every validation failure
// before returning so operators fix them in one pass instead of one at a
// time.
func Load(argv []string) (*Config, error) {
	fs, cfg := FlagSet("instantd")
	if err := fs.Parse(argv); err != nil {
		return nil, fmt.Errorf("bad arguments: %w", err)
	}

	cfg.Port = DefaultPort
	if rest := fs.Args(); len(rest) > 0 {
		p, err := strconv.Atoi(rest[0])
		if err != nil {
			return nil, fmt.Errorf("bad arguments: port %q is not a number", rest[0])
		}
		cfg.Port = p
	}

	var errs []string

	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, fmt.Sprintf("port must be between 1 and 65535 (got %d)", cfg.Port))
	}

	cfg.CookiesKeyfile = os.Getenv("INSTANT_COOKIES_KEYFILE")
	cfg.CookiesInsecure = os.Getenv("INSTANT_COOKIES_INSECURE") == "yes"

	cfg.ProducerCacheTTL = 300
	if raw := os.Getenv("INSTANT_HTTP_MAXCACHEAGE"); raw != "" {
		ttl, err := strconv.Atoi(raw)
		if err != nil || ttl < 0 {
			errs = append(errs, fmt.Sprintf("INSTANT_HTTP_MAXCACHEAGE must be a non-negative integer (got %q)", raw))
		} else {
			cfg.ProducerCacheTTL = ttl
		}
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			logging.Warn(context.Background(), "REDIS_ADDR not set, using default", zap.String("addr", cfg.RedisAddr))
		} else if !isValidHostPort(cfg.RedisAddr) {
			errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.RateLimitWsUser = getEnvOrDefault("RATE_LIMIT_WS_USER", "300-M")
	cfg.TracingCollectorAddr = os.Getenv("INSTANT_TRACING_COLLECTOR")

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

// logValidatedConfig runs before logging.Initialize (config must be loaded
// first to know GoEnv, which selects the logger's development/production
// mode), so it logs through internal/logging's pre-init fallback logger
// rather than the configured one.
func logValidatedConfig(cfg *Config) {
	logging.Info(context.Background(), "configuration validated",
		zap.Int("port", cfg.Port),
		zap.String("host", cfg.Host),
		zap.String("webroot", cfg.Webroot),
		zap.String("log_level", cfg.LogLevel),
		zap.String("cookies_keyfile", redactSecret(cfg.CookiesKeyfile)),
		zap.Bool("cookies_insecure", cfg.CookiesInsecure),
		zap.Int("producer_cache_ttl_s", cfg.ProducerCacheTTL),
		zap.Bool("redis_enabled", cfg.RedisEnabled),
		zap.String("go_env", cfg.GoEnv),
	)
}

func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}
	return parts[0] != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
