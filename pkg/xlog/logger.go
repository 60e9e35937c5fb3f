// Package xlog implements leveled, package-scoped logging.
package xlog

import (
	"fmt"
	"sync"
)

// LogLevel is the set of all log levels.
type LogLevel int8

const (
	// CRITICAL is the lowest log level. Will panic or exit the program.
	CRITICAL LogLevel = iota - 1

	// ERROR is for errors, but does not fatal. Only indicates potential troubles.
	ERROR

	// WARN warns about potential errors or problems.
	WARN

	// INFO just indicates information.
	INFO

	// DEBUG is debug-level logging.
	DEBUG
)

// String returns a single-character representation of LogLevel.
func (l LogLevel) String() string {
	switch l {
	case CRITICAL:
		return "C"
	case ERROR:
		return "E"
	case WARN:
		return "W"
	case INFO:
		return "I"
	case DEBUG:
		return "D"
	default:
		panic("unknown LogLevel")
	}
}

// Logger writes leveled logs, prefixed with its package name.
type Logger struct {
	pkg    string
	maxLvl LogLevel
}

func (l *Logger) log(lvl LogLevel, txt string) {
	if lvl < CRITICAL || lvl > DEBUG {
		return
	}

	xlogger.mu.Lock()
	if l.maxLvl < lvl {
		xlogger.mu.Unlock()
		return
	}
	xlogger.formatter.WriteFlush(l.pkg, lvl, txt)
	xlogger.mu.Unlock()
}

// Panicf logs at CRITICAL, and then panics.
func (l *Logger) Panicf(format string, args ...interface{}) {
	txt := fmt.Sprintf(format, args...)
	l.log(CRITICAL, txt)
	panic(txt)
}

// Panic logs at CRITICAL, and then panics.
func (l *Logger) Panic(args ...interface{}) {
	txt := fmt.Sprint(args...)
	l.log(CRITICAL, txt)
	panic(txt)
}

// Errorf logs at ERROR.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(ERROR, fmt.Sprintf(format, args...))
}

// Error logs at ERROR.
func (l *Logger) Error(args ...interface{}) {
	l.log(ERROR, fmt.Sprint(args...))
}

// Warningf logs at WARN.
func (l *Logger) Warningf(format string, args ...interface{}) {
	l.log(WARN, fmt.Sprintf(format, args...))
}

// Warning logs at WARN.
func (l *Logger) Warning(args ...interface{}) {
	l.log(WARN, fmt.Sprint(args...))
}

// Infof logs at INFO.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(INFO, fmt.Sprintf(format, args...))
}

// Info logs at INFO.
func (l *Logger) Info(args ...interface{}) {
	l.log(INFO, fmt.Sprint(args...))
}

// Debugf logs at DEBUG.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(DEBUG, fmt.Sprintf(format, args...))
}

// Debug logs at DEBUG.
func (l *Logger) Debug(args ...interface{}) {
	l.log(DEBUG, fmt.Sprint(args...))
}

type globalLogger struct {
	mu        sync.Mutex
	loggers   map[string]*Logger
	formatter Formatter
}

var xlogger = &globalLogger{
	loggers: make(map[string]*Logger),
}

// SetMaxLogLevel updates the logger's LogLevel.
func (l *Logger) SetMaxLogLevel(lvl LogLevel) {
	xlogger.mu.Lock()
	l.maxLvl = lvl
	xlogger.mu.Unlock()
}

// SetGlobalMaxLogLevel sets max log levels of all registered loggers.
func SetGlobalMaxLogLevel(lvl LogLevel) {
	xlogger.mu.Lock()
	for _, lg := range xlogger.loggers {
		lg.maxLvl = lvl
	}
	xlogger.mu.Unlock()
}

// GetLogger returns the logger registered under pkg,
// so that external packages can update its log level.
func GetLogger(pkg string) (*Logger, bool) {
	xlogger.mu.Lock()
	lg, ok := xlogger.loggers[pkg]
	xlogger.mu.Unlock()
	return lg, ok
}

// NewLogger returns a Logger with the pkg prefix,
// overwriting any logger registered under the same prefix.
func NewLogger(pkg string, maxLvl LogLevel) *Logger {
	lg := &Logger{pkg: pkg, maxLvl: maxLvl}

	xlogger.mu.Lock()
	xlogger.loggers[pkg] = lg
	xlogger.mu.Unlock()

	return lg
}
