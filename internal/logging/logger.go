package logging

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	once   sync.Once
)

type contextKey string

const (
	CorrelationIDKey contextKey = "correlation_id"
	ConnectionIDKey  contextKey = "connection_id"
	RoomKey          contextKey = "room"
)

// Initialize sets up the global logger based on the environment, at the
// default INFO level writing to stderr.
func Initialize(development bool) error {
	return InitializeWith(development, "INFO", "-")
}

// InitializeWith sets up the global logger with an explicit level
// (DEBUG/INFO/WARN/ERROR, case-insensitive) and output path; "-" means
// stderr. Like Initialize, only the first call has any effect.
func InitializeWith(development bool, level, outputPath string) error {
	var err error
	once.Do(func() {
		var config zap.Config
		if development {
			config = zap.NewDevelopmentConfig()
			config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			config = zap.NewProductionConfig()
			config.EncoderConfig.TimeKey = "timestamp"
			config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		}

		lvl, perr := zapcore.ParseLevel(strings.ToLower(level))
		if perr != nil {
			err = fmt.Errorf("logging: unknown level %q", level)
			return
		}
		config.Level = zap.NewAtomicLevelAt(lvl)

		config.OutputPaths = []string{resolveLogPath(outputPath)}
		config.ErrorOutputPaths = []string{"stderr"}

		logger, err = config.Build(zap.AddCallerSkip(1))
	})
	return err
}

// NewAccessLogger builds the standalone logger for the HTTP access log,
// separate from the application logger so the two streams can go to
// different paths. path "-" means stderr.
func NewAccessLogger(development bool, path string) (*zap.Logger, error) {
	var config zap.Config
	if development {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	config.DisableCaller = true
	config.DisableStacktrace = true
	config.OutputPaths = []string{resolveLogPath(path)}
	config.ErrorOutputPaths = []string{"stderr"}
	return config.Build()
}

func resolveLogPath(path string) string {
	if path == "" || path == "-" {
		return "stderr"
	}
	return path
}

// GetLogger returns the global logger instance.
func GetLogger() *zap.Logger {
	if logger == nil {
		// Fallback specific for tests or before init
		l, _ := zap.NewDevelopment()
		return l
	}
	return logger
}

// Info logs a message at InfoLevel
func Info(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Info(msg, appendContextFields(ctx, fields)...)
}

// Warn logs a message at WarnLevel
func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, appendContextFields(ctx, fields)...)
}

// Error logs a message at ErrorLevel
func Error(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Error(msg, appendContextFields(ctx, fields)...)
}

// Fatal logs a message at FatalLevel
func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, appendContextFields(ctx, fields)...)
}

// appendContextFields pulls correlation/connection/room identifiers out of
// ctx so call sites don't have to thread them through every log call.
func appendContextFields(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}

	if cid, ok := ctx.Value(CorrelationIDKey).(string); ok {
		fields = append(fields, zap.String("correlation_id", cid))
	}
	if connID, ok := ctx.Value(ConnectionIDKey).(uint64); ok {
		fields = append(fields, zap.Uint64("connection_id", connID))
	}
	if room, ok := ctx.Value(RoomKey).(string); ok {
		fields = append(fields, zap.String("room", room))
	}

	fields = append(fields, zap.String("service", "instantd"))

	return fields
}

// RedactToken masks a secret token (auth cookie, cookie-signing key) down to
// a short prefix, safe to include in startup/debug logs.
func RedactToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:8] + "***"
}
