// Package logger provides structured logging for mvstore.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog with mvstore-specific functionality.
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // pretty-print for development
	Output     io.Writer
	WithCaller bool
}

// NewLogger creates a new structured logger.
func NewLogger(cfg Config) *Logger {
	// Set global log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure output
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	// Pretty printing for development
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	// Create logger
	zlog := zerolog.New(output).
		With().
		Timestamp().
		Str("service", "mvstore").
		Logger()

	// Add caller information if requested
	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// GetZerolog returns the underlying zerolog logger.
func (l *Logger) GetZerolog() *zerolog.Logger {
	return &l.zlog
}

// Info logs an info message.
func (l *Logger) Info(msg string) *zerolog.Event {
	return l.zlog.Info().Str("msg", msg)
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) *zerolog.Event {
	return l.zlog.Debug().Str("msg", msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) *zerolog.Event {
	return l.zlog.Warn().Str("msg", msg)
}

// Error logs an error message.
func (l *Logger) Error(msg string) *zerolog.Event {
	return l.zlog.Error().Str("msg", msg)
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(msg string) *zerolog.Event {
	return l.zlog.Fatal().Str("msg", msg)
}

// WithFields returns a logger with additional fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zlog.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zlog: ctx.Logger()}
}

// StoreLogger scopes a logger to the store component, tagged with its
// per-open instance id.
func (l *Logger) StoreLogger(instanceID string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "store").
			Str("instance", instanceID).
			Logger(),
	}
}

// CommitLogger scopes a logger to the commit/serialize/persist pipeline.
func (l *Logger) CommitLogger() *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", "commit").Logger()}
}

// CompactLogger scopes a logger to the compactor.
func (l *Logger) CompactLogger() *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", "compact").Logger()}
}

// LogCommit logs a completed commit (§4.2).
func (l *Logger) LogCommit(version uint64, chunkID uint32, bytesWritten int, duration time.Duration) {
	l.zlog.Info().
		Str("event", "commit").
		Uint64("version", version).
		Uint32("chunk", chunkID).
		Int("bytes", bytesWritten).
		Dur("duration_ms", duration).
		Msg("commit completed")
}

// LogCompaction logs a completed compaction pass (§4.5).
func (l *Logger) LogCompaction(strategy string, chunksTouched int, bytesReclaimed int64, duration time.Duration) {
	l.zlog.Info().
		Str("event", "compaction").
		Str("strategy", strategy).
		Int("chunks", chunksTouched).
		Int64("bytes_reclaimed", bytesReclaimed).
		Dur("duration_ms", duration).
		Msg("compaction pass completed")
}

// LogRecovery logs the outcome of open-time recovery (§4.1).
func (l *Logger) LogRecovery(assumedClean bool, lastChunk uint32, currentVersion uint64) {
	l.zlog.Info().
		Str("event", "recovery").
		Bool("clean_shutdown", assumedClean).
		Uint32("last_chunk", lastChunk).
		Uint64("current_version", currentVersion).
		Msg("store opened")
}

// LogPanic logs the error a store panicked with (§4.9).
func (l *Logger) LogPanic(err error) {
	l.zlog.Error().Str("event", "panic").Err(err).Msg("store panicked, marked unusable")
}

// Global logger instance
var globalLogger *Logger

// InitGlobalLogger initializes the global logger.
func InitGlobalLogger(cfg Config) {
	globalLogger = NewLogger(cfg)
	log.Logger = *globalLogger.GetZerolog()
}

// GetGlobalLogger returns the global logger instance.
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		// Initialize with defaults if not set
		InitGlobalLogger(Config{
			Level:  "info",
			Pretty: true,
		})
	}
	return globalLogger
}
