package logger

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Level represents the severity level of a log message.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	NoticeLevel
	ErrorLevel
)

// ParseLevel maps a level name to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "notice":
		return NoticeLevel, nil
	case "error":
		return ErrorLevel, nil
	}
	return InfoLevel, fmt.Errorf("unknown log level %q", s)
}

// Stage identifies the part of the relay pipeline a message comes from.
type Stage int

const (
	None Stage = iota
	Watch
	Decode
	Validate
	Exec
	Stats
)

var stagePrefixes = map[Stage]string{
	None:     "",
	Watch:    "[WATCH]    ",
	Decode:   "[DECODE]   ",
	Validate: "[VALIDATE] ",
	Exec:     "[EXEC]     ",
	Stats:    "[STATS]    ",
}

var colors = map[Stage]color.Attribute{
	None:     color.FgWhite,
	Watch:    color.FgHiBlue,
	Decode:   color.FgMagenta,
	Validate: color.FgYellow,
	Exec:     color.FgHiGreen,
	Stats:    color.FgCyan,
}

// Logger is a simple interface for logging messages.
type Logger interface {
	// Info logs an informational message.
	Info(format string, args ...interface{})
	InfoWithStage(stage Stage, format string, args ...interface{})

	// Error logs an error message.
	Error(format string, args ...interface{})
	ErrorWithStage(stage Stage, format string, args ...interface{})

	// Debug logs a debug message.
	Debug(format string, args ...interface{})
	DebugWithStage(stage Stage, format string, args ...interface{})

	// Notice logs a notice message.
	Notice(format string, args ...interface{})
	NoticeWithStage(stage Stage, format string, args ...interface{})
}

// EmptyLogger is a simple implementation of the Logger interface that does nothing.
type EmptyLogger struct{}

var _ Logger = (*EmptyLogger)(nil)

func (l *EmptyLogger) Info(_ string, _ ...interface{})                     {}
func (l *EmptyLogger) InfoWithStage(_ Stage, _ string, _ ...interface{})   {}
func (l *EmptyLogger) Error(_ string, _ ...interface{})                    {}
func (l *EmptyLogger) ErrorWithStage(_ Stage, _ string, _ ...interface{})  {}
func (l *EmptyLogger) Debug(_ string, _ ...interface{})                    {}
func (l *EmptyLogger) DebugWithStage(_ Stage, _ string, _ ...interface{})  {}
func (l *EmptyLogger) Notice(_ string, _ ...interface{})                   {}
func (l *EmptyLogger) NoticeWithStage(_ Stage, _ string, _ ...interface{}) {}

// StdLogger is a standard implementation of the Logger interface that logs messages to the console.
type StdLogger struct {
	enableColoring bool
	level          Level
	mu             sync.Mutex
}

var _ Logger = (*StdLogger)(nil)

func NewStdLogger(enableColoring bool, level Level) *StdLogger {
	return &StdLogger{
		enableColoring: enableColoring,
		level:          level,
	}
}

// formatMessage formats the log message with the log level, stage prefix, and coloring if enabled.
func (l *StdLogger) formatMessage(level Level, stage Stage, format string) string {
	stagePrefix := stagePrefixes[stage]
	if l.enableColoring && stagePrefix != "" {
		stagePrefix = color.New(colors[stage]).Sprint(stagePrefix)
	}

	var levelStr string
	switch level {
	case DebugLevel:
		levelStr = "[DEBUG]  "
	case InfoLevel:
		levelStr = "[INFO]   "
	case NoticeLevel:
		levelStr = "[NOTICE] "
		if l.enableColoring {
			levelStr = color.New(color.FgHiYellow).Sprint(levelStr)
		}
	case ErrorLevel:
		levelStr = "[ERROR]  "
		if l.enableColoring {
			levelStr = color.New(color.FgHiRed).Sprint(levelStr)
		}
	}

	return levelStr + stagePrefix + format
}

func (l *StdLogger) logf(level Level, stage Stage, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level <= level {
		log.Printf(l.formatMessage(level, stage, format), args...)
	}
}

func (l *StdLogger) Info(format string, args ...interface{}) {
	l.logf(InfoLevel, None, format, args...)
}

func (l *StdLogger) InfoWithStage(stage Stage, format string, args ...interface{}) {
	l.logf(InfoLevel, stage, format, args...)
}

func (l *StdLogger) Error(format string, args ...interface{}) {
	l.logf(ErrorLevel, None, format, args...)
}

func (l *StdLogger) ErrorWithStage(stage Stage, format string, args ...interface{}) {
	l.logf(ErrorLevel, stage, format, args...)
}

func (l *StdLogger) Debug(format string, args ...interface{}) {
	l.logf(DebugLevel, None, format, args...)
}

func (l *StdLogger) DebugWithStage(stage Stage, format string, args ...interface{}) {
	l.logf(DebugLevel, stage, format, args...)
}

func (l *StdLogger) Notice(format string, args ...interface{}) {
	l.logf(NoticeLevel, None, format, args...)
}

func (l *StdLogger) NoticeWithStage(stage Stage, format string, args ...interface{}) {
	l.logf(NoticeLevel, stage, format, args...)
}
