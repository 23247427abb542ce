// Package logging provides the leveled, printf-style logger used across the
// migration engine. It is backed by zap so the same calls can emit either
// human-readable console lines or JSON records, and can be teed into a
// per-run log file.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents logging verbosity level
type Level int

const (
	// LevelError only logs errors
	LevelError Level = iota
	// LevelWarn logs warnings and errors
	LevelWarn
	// LevelInfo logs info, warnings, and errors (default)
	LevelInfo
	// LevelDebug logs everything including debug messages
	LevelDebug
)

type state struct {
	mu     sync.Mutex
	level  Level
	format string
	output io.Writer
	files  map[string]*os.File
	sugar  *zap.SugaredLogger
}

var std = newState()

func newState() *state {
	s := &state{
		level:  LevelInfo,
		format: "text",
		output: os.Stdout,
		files:  make(map[string]*os.File),
	}
	s.rebuild()
	return s
}

// ParseLevel converts a string to a Level
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "error":
		return LevelError, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	default:
		return LevelInfo, fmt.Errorf("unknown verbosity level: %s (valid: debug, info, warn, error)", s)
	}
}

// String returns the string representation of a level
func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelError:
		return zapcore.ErrorLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelDebug:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

func jsonEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.LevelKey = "level"
	cfg.MessageKey = "msg"
	cfg.CallerKey = ""
	cfg.StacktraceKey = ""
	cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}

func textEncoderConfig() zapcore.EncoderConfig {
	cfg := jsonEncoderConfig()
	cfg.ConsoleSeparator = " "
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	cfg.EncodeLevel = func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString("[" + l.CapitalString() + "]")
	}
	return cfg
}

// rebuild must be called with s.mu held (or before s is shared).
func (s *state) rebuild() {
	lvl := zap.NewAtomicLevelAt(s.level.zapLevel())

	var enc zapcore.Encoder
	if s.format == "json" {
		enc = zapcore.NewJSONEncoder(jsonEncoderConfig())
	} else {
		enc = zapcore.NewConsoleEncoder(textEncoderConfig())
	}

	cores := []zapcore.Core{zapcore.NewCore(enc, zapcore.AddSync(s.output), lvl)}
	for _, f := range s.files {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(jsonEncoderConfig()), zapcore.AddSync(f), lvl))
	}
	s.sugar = zap.New(zapcore.NewTee(cores...)).Sugar()
}

// SetLevel sets the global log level
func SetLevel(level Level) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.level = level
	std.rebuild()
}

// SetFormat selects "text" (default) or "json" output.
func SetFormat(format string) {
	std.mu.Lock()
	defer std.mu.Unlock()
	if format != "json" {
		format = "text"
	}
	std.format = format
	std.rebuild()
}

// SetOutput sets the output destination for logging. nil restores stdout.
func SetOutput(w io.Writer) {
	std.mu.Lock()
	defer std.mu.Unlock()
	if w == nil {
		w = os.Stdout
	}
	std.output = w
	std.rebuild()
}

// AddFile tees JSON log records into the file at path until the returned
// function is called.
func AddFile(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	std.mu.Lock()
	std.files[path] = f
	std.rebuild()
	std.mu.Unlock()

	return func() {
		std.mu.Lock()
		defer std.mu.Unlock()
		if cur, ok := std.files[path]; ok && cur == f {
			delete(std.files, path)
			std.rebuild()
		}
		f.Sync()
		f.Close()
	}, nil
}

// GetLevel returns the current log level
func GetLevel() Level {
	std.mu.Lock()
	defer std.mu.Unlock()
	return std.level
}

func logger() *zap.SugaredLogger {
	std.mu.Lock()
	defer std.mu.Unlock()
	return std.sugar
}

// Debug logs a debug message
func Debug(format string, args ...interface{}) {
	logger().Debugf(strings.TrimSpace(format), args...)
}

// Info logs an info message
func Info(format string, args ...interface{}) {
	logger().Infof(strings.TrimSpace(format), args...)
}

// Warn logs a warning message
func Warn(format string, args ...interface{}) {
	logger().Warnf(strings.TrimSpace(format), args...)
}

// Error logs an error message
func Error(format string, args ...interface{}) {
	logger().Errorf(strings.TrimSpace(format), args...)
}

// Print always prints regardless of level (for progress bars, summaries)
func Print(format string, args ...interface{}) {
	std.mu.Lock()
	defer std.mu.Unlock()
	fmt.Fprintf(std.output, format, args...)
}

// Println always prints with newline regardless of level
func Println(args ...interface{}) {
	std.mu.Lock()
	defer std.mu.Unlock()
	fmt.Fprintln(std.output, args...)
}

// Sync flushes buffered records.
func Sync() {
	_ = logger().Sync()
}

// IsDebug returns true if debug level is enabled
func IsDebug() bool {
	return GetLevel() >= LevelDebug
}

// IsInfo returns true if info level is enabled
func IsInfo() bool {
	return GetLevel() >= LevelInfo
}

type lineWriter func(format string, args ...interface{})

func (w lineWriter) Write(p []byte) (int, error) {
	w("%s", strings.TrimRight(string(p), "\r\n"))
	return len(p), nil
}

// Writer returns an io.Writer that logs each write as one debug record.
func Writer() io.Writer {
	return lineWriter(Debug)
}
