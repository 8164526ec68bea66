// Package log provides structured logging with relay context.
//
// Two logger variants are available:
//   - Logger: Non-sugared zap.Logger for the relay and client paths (structured fields)
//   - SugaredLogger: Printf-style logging for CLI/debug surfaces (convenience over performance)
//
// Use Logger.Sugar() to obtain a SugaredLogger when needed.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvLevel names the environment variable consulted for the default level.
const EnvLevel = "TCPLITE_LOG_LEVEL"

// Context identifies the process emitting log entries.
// Every entry carries these as top-level fields.
type Context struct {
	// Component is "server", "client" or a CLI command name.
	Component string
	// Node is the bind or dial address.
	Node string
}

// Logger provides structured logging with relay context.
//
// Use this for the relay and client paths where performance matters.
// For CLI/debug surfaces, use Sugar() to get a SugaredLogger.
type Logger struct {
	zap *zap.Logger
}

// SugaredLogger provides printf-style logging for CLI and debug surfaces.
type SugaredLogger struct {
	sugar *zap.SugaredLogger
}

type options struct {
	level  zapcore.Level
	writer io.Writer
}

// Option configures NewLogger.
type Option func(*options)

// WithLevel sets the minimum enabled level.
func WithLevel(level zapcore.Level) Option {
	return func(o *options) { o.level = level }
}

// WithWriter redirects output. Defaults to os.Stderr.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

// NewLogger creates a JSON logger bound to ctx.
func NewLogger(ctx Context, opts ...Option) *Logger {
	o := options{level: zapcore.InfoLevel, writer: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(o.writer),
		o.level,
	)

	contextFields := []zap.Field{zap.String("component", ctx.Component)}
	if ctx.Node != "" {
		contextFields = append(contextFields, zap.String("node", ctx.Node))
	}

	return &Logger{zap: zap.New(core).With(contextFields...)}
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

// ParseLevel parses a level name. The empty string selects info.
func ParseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// ResolveLevel picks the first non-empty of flag, the EnvLevel variable and
// configured, then parses it.
func ResolveLevel(flag, configured string) (zapcore.Level, error) {
	for _, s := range []string{flag, os.Getenv(EnvLevel), configured} {
		if s != "" {
			return ParseLevel(s)
		}
	}
	return zapcore.InfoLevel, nil
}

// With returns a child logger carrying extra top-level fields, such as the
// peer address of a connection.
func (l *Logger) With(fields map[string]any) *Logger {
	zf := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	return &Logger{zap: l.zap.With(zf...)}
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields map[string]any) {
	l.zap.Debug(message, zap.Any("fields", fields))
}

// Info logs an info message.
func (l *Logger) Info(message string, fields map[string]any) {
	l.zap.Info(message, zap.Any("fields", fields))
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields map[string]any) {
	l.zap.Warn(message, zap.Any("fields", fields))
}

// Error logs an error message.
func (l *Logger) Error(message string, fields map[string]any) {
	l.zap.Error(message, zap.Any("fields", fields))
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

// Sugar returns a SugaredLogger for printf-style logging.
// Use for CLI/debug surfaces where convenience matters more than performance.
func (l *Logger) Sugar() *SugaredLogger {
	return &SugaredLogger{sugar: l.zap.Sugar()}
}

// Debugf logs a debug message with printf-style formatting.
func (s *SugaredLogger) Debugf(template string, args ...any) {
	s.sugar.Debugf(template, args...)
}

// Infof logs an info message with printf-style formatting.
func (s *SugaredLogger) Infof(template string, args ...any) {
	s.sugar.Infof(template, args...)
}

// Warnf logs a warning message with printf-style formatting.
func (s *SugaredLogger) Warnf(template string, args ...any) {
	s.sugar.Warnf(template, args...)
}

// Errorf logs an error message with printf-style formatting.
func (s *SugaredLogger) Errorf(template string, args ...any) {
	s.sugar.Errorf(template, args...)
}

// With returns a SugaredLogger with additional context fields.
func (s *SugaredLogger) With(args ...any) *SugaredLogger {
	return &SugaredLogger{sugar: s.sugar.With(args...)}
}
