// Package logging provides the process-wide leveled logger used by all framework
// components. A message is emitted when its level does not exceed the configured
// verbosity; the logger is silent until an output sink is added.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is the severity of a log message. Higher values are more verbose.
type Level int

const (
	LevelNone Level = iota
	LevelCritical
	LevelError
	LevelWarning
	LevelSuccess
	LevelInfo
	LevelMore
	LevelVerbose
	LevelDebug
	LevelDebugDebug
)

// String returns the display name of the level.
func (l Level) String() string {
	switch l {
	case LevelNone:
		return "NONE"
	case LevelCritical:
		return "CRITICAL"
	case LevelError:
		return "ERROR"
	case LevelWarning:
		return "WARNING"
	case LevelSuccess:
		return "SUCCESS"
	case LevelInfo:
		return "INFO"
	case LevelMore:
		return "MORE"
	case LevelVerbose:
		return "VERBOSE"
	case LevelDebug:
		return "DEBUG"
	case LevelDebugDebug:
		return "DEBUGDEBUG"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a level name, case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NONE":
		return LevelNone, nil
	case "CRITICAL":
		return LevelCritical, nil
	case "ERROR":
		return LevelError, nil
	case "WARNING", "WARN":
		return LevelWarning, nil
	case "SUCCESS":
		return LevelSuccess, nil
	case "INFO":
		return LevelInfo, nil
	case "MORE":
		return LevelMore, nil
	case "VERBOSE":
		return LevelVerbose, nil
	case "DEBUG":
		return LevelDebug, nil
	case "DEBUGDEBUG":
		return LevelDebugDebug, nil
	default:
		return LevelInfo, fmt.Errorf("invalid log level: %s", s)
	}
}

// LevelFromEnv reads DEVIO_LOG_LEVEL, falling back to Info when unset or invalid.
func LevelFromEnv() Level {
	if v := os.Getenv("DEVIO_LOG_LEVEL"); v != "" {
		if lvl, err := ParseLevel(v); err == nil {
			return lvl
		}
	}
	return LevelInfo
}

// Logger is a severity-filtered multi-sink logger. Safe for concurrent use.
type Logger struct {
	mu    sync.Mutex
	level Level
	sinks []io.Writer
	files []io.Closer
}

// New creates a logger with the given verbosity and no sinks.
func New(level Level) *Logger {
	return &Logger{level: level}
}

// SetLevel changes the verbosity threshold.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current verbosity threshold.
func (l *Logger) GetLevel() Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// AddOutput registers an output sink.
func (l *Logger) AddOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, w)
}

// AddOutputFile registers a file sink, rotated when rotation is non-nil.
func (l *Logger) AddOutputFile(path string, rotation *RotationConfig) error {
	if rotation != nil {
		r := *rotation
		r.Filename = path
		w, err := newRotatingWriter(&r)
		if err != nil {
			return err
		}
		l.mu.Lock()
		l.sinks = append(l.sinks, w)
		l.files = append(l.files, w)
		l.mu.Unlock()
		return nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	l.mu.Lock()
	l.sinks = append(l.sinks, f)
	l.files = append(l.files, f)
	l.mu.Unlock()
	return nil
}

// Close closes any file sinks owned by the logger.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var first error
	for _, f := range l.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.files = nil
	return first
}

// Log emits msg at the given level when it passes the verbosity filter.
func (l *Logger) Log(level Level, msg string) {
	if level == LevelNone {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if level > l.level || len(l.sinks) == 0 {
		return
	}
	line := fmt.Sprintf("%s [%s] %s\n", time.Now().Format("2006-01-02 15:04:05.000"), level, msg)
	for _, w := range l.sinks {
		_, _ = w.Write([]byte(line))
	}
}

// Logf emits a formatted message at the given level.
func (l *Logger) Logf(level Level, format string, args ...interface{}) {
	l.Log(level, fmt.Sprintf(format, args...))
}

func (l *Logger) Critical(msg string)   { l.Log(LevelCritical, msg) }
func (l *Logger) Error(msg string)      { l.Log(LevelError, msg) }
func (l *Logger) Warning(msg string)    { l.Log(LevelWarning, msg) }
func (l *Logger) Success(msg string)    { l.Log(LevelSuccess, msg) }
func (l *Logger) Info(msg string)       { l.Log(LevelInfo, msg) }
func (l *Logger) More(msg string)       { l.Log(LevelMore, msg) }
func (l *Logger) Verbose(msg string)    { l.Log(LevelVerbose, msg) }
func (l *Logger) Debug(msg string)      { l.Log(LevelDebug, msg) }
func (l *Logger) DebugDebug(msg string) { l.Log(LevelDebugDebug, msg) }

func (l *Logger) Criticalf(format string, args ...interface{}) { l.Logf(LevelCritical, format, args...) }
func (l *Logger) Errorf(format string, args ...interface{})    { l.Logf(LevelError, format, args...) }
func (l *Logger) Warningf(format string, args ...interface{})  { l.Logf(LevelWarning, format, args...) }
func (l *Logger) Infof(format string, args ...interface{})     { l.Logf(LevelInfo, format, args...) }
func (l *Logger) Debugf(format string, args ...interface{})    { l.Logf(LevelDebug, format, args...) }

// WithContext returns a logger that prefixes every message with the component
// identity layer/type/name.
func (l *Logger) WithContext(layer, typeName, name string) *ContextLogger {
	return &ContextLogger{
		parent: l,
		prefix: fmt.Sprintf("%s/%s/%s: ", layer, typeName, name),
	}
}

// ContextLogger decorates a Logger with a fixed component identity prefix.
type ContextLogger struct {
	parent *Logger
	prefix string
}

// Log emits msg with the component prefix.
func (c *ContextLogger) Log(level Level, msg string) {
	c.parent.Log(level, c.prefix+msg)
}

// Logf emits a formatted message with the component prefix.
func (c *ContextLogger) Logf(level Level, format string, args ...interface{}) {
	c.parent.Log(level, c.prefix+fmt.Sprintf(format, args...))
}

func (c *ContextLogger) Critical(msg string)   { c.Log(LevelCritical, msg) }
func (c *ContextLogger) Error(msg string)      { c.Log(LevelError, msg) }
func (c *ContextLogger) Warning(msg string)    { c.Log(LevelWarning, msg) }
func (c *ContextLogger) Success(msg string)    { c.Log(LevelSuccess, msg) }
func (c *ContextLogger) Info(msg string)       { c.Log(LevelInfo, msg) }
func (c *ContextLogger) More(msg string)       { c.Log(LevelMore, msg) }
func (c *ContextLogger) Verbose(msg string)    { c.Log(LevelVerbose, msg) }
func (c *ContextLogger) Debug(msg string)      { c.Log(LevelDebug, msg) }
func (c *ContextLogger) DebugDebug(msg string) { c.Log(LevelDebugDebug, msg) }

func (c *ContextLogger) Errorf(format string, args ...interface{})   { c.Logf(LevelError, format, args...) }
func (c *ContextLogger) Warningf(format string, args ...interface{}) { c.Logf(LevelWarning, format, args...) }
func (c *ContextLogger) Infof(format string, args ...interface{})    { c.Logf(LevelInfo, format, args...) }
func (c *ContextLogger) Debugf(format string, args ...interface{})   { c.Logf(LevelDebug, format, args...) }

var (
	std     *Logger
	stdOnce sync.Once
)

// Default returns the process-wide logger, created on first use with the level
// from DEVIO_LOG_LEVEL.
func Default() *Logger {
	stdOnce.Do(func() {
		std = New(LevelFromEnv())
	})
	return std
}

// SetLevel changes the verbosity of the process-wide logger.
func SetLevel(level Level) { Default().SetLevel(level) }

// AddOutput registers a sink on the process-wide logger.
func AddOutput(w io.Writer) { Default().AddOutput(w) }
