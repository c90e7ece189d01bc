// Package log is the ambient logging facade used by every component in this
// daemon. It mirrors the teacher's dependency-injection convention: every
// constructor takes a Log, nothing reaches for a package-level global.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	cyclogs "github.com/cyclopcam/logs"
)

type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
	Critical
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	case Critical:
		return "CRIT"
	default:
		return "?"
	}
}

// Log is the logging interface every component depends on.
type Log interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Criticalf(format string, args ...interface{})
	Close()
}

// Logger is the stdout-backed default implementation.
type Logger struct {
	Output   io.Writer
	MinLevel Level

	mu sync.Mutex
}

// New creates a stdout logger at the given minimum level.
func New(minLevel Level) *Logger {
	return &Logger{Output: os.Stdout, MinLevel: minLevel}
}

func (l *Logger) write(level Level, format string, args ...interface{}) {
	if level < l.MinLevel {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.Output, "%.3f %-4s %v\n", float64(time.Now().UnixNano())/1e9, level.String(), msg)
}

func (l *Logger) Debugf(format string, args ...interface{})    { l.write(Debug, format, args...) }
func (l *Logger) Infof(format string, args ...interface{})     { l.write(Info, format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})     { l.write(Warn, format, args...) }
func (l *Logger) Errorf(format string, args ...interface{})    { l.write(Error, format, args...) }
func (l *Logger) Criticalf(format string, args ...interface{}) { l.write(Critical, format, args...) }
func (l *Logger) Close()                                       {}

// PrefixLogger decorates another Log with a fixed prefix, used to tag every
// message from one stream processor with its stream id.
type PrefixLogger struct {
	Inner  Log
	Prefix string
}

func NewPrefixLogger(inner Log, prefix string) *PrefixLogger {
	return &PrefixLogger{Inner: inner, Prefix: prefix}
}

func (p *PrefixLogger) Debugf(format string, args ...interface{}) {
	p.Inner.Debugf(p.Prefix+format, args...)
}
func (p *PrefixLogger) Infof(format string, args ...interface{}) {
	p.Inner.Infof(p.Prefix+format, args...)
}
func (p *PrefixLogger) Warnf(format string, args ...interface{}) {
	p.Inner.Warnf(p.Prefix+format, args...)
}
func (p *PrefixLogger) Errorf(format string, args ...interface{}) {
	p.Inner.Errorf(p.Prefix+format, args...)
}
func (p *PrefixLogger) Criticalf(format string, args ...interface{}) {
	p.Inner.Criticalf(p.Prefix+format, args...)
}
func (p *PrefixLogger) Close() {}

// NewTestingLog returns a Logger writing to the given writer, for use in tests.
func NewTestingLog(w io.Writer) *Logger {
	return &Logger{Output: w, MinLevel: Debug}
}

// cyclopcamLog adapts github.com/cyclopcam/logs.Log (the teacher's own
// daemon-bootstrap logger, same Debugf/Infof/Warnf/Errorf/Criticalf method
// set as Log) to this package's interface, adding the MinLevel filtering
// cyclopcam/logs doesn't do itself.
type cyclopcamLog struct {
	inner    cyclogs.Log
	minLevel Level
}

// NewCyclopcamLog wraps cyclogs.NewLog() instead of this package's plain
// stdout Logger, for the daemon's real entrypoint: it gets cyclopcam/logs'
// own output/rotation handling rather than a hand-rolled stdout writer.
func NewCyclopcamLog(minLevel Level) (Log, error) {
	inner, err := cyclogs.NewLog()
	if err != nil {
		return nil, fmt.Errorf("create cyclopcam logger: %w", err)
	}
	return &cyclopcamLog{inner: inner, minLevel: minLevel}, nil
}

func (c *cyclopcamLog) Debugf(format string, args ...interface{}) {
	if c.minLevel <= Debug {
		c.inner.Debugf(format, args...)
	}
}
func (c *cyclopcamLog) Infof(format string, args ...interface{}) {
	if c.minLevel <= Info {
		c.inner.Infof(format, args...)
	}
}
func (c *cyclopcamLog) Warnf(format string, args ...interface{}) {
	if c.minLevel <= Warn {
		c.inner.Warnf(format, args...)
	}
}
func (c *cyclopcamLog) Errorf(format string, args ...interface{}) {
	if c.minLevel <= Error {
		c.inner.Errorf(format, args...)
	}
}
func (c *cyclopcamLog) Criticalf(format string, args ...interface{}) {
	c.inner.Criticalf(format, args...)
}
func (c *cyclopcamLog) Close() {}
