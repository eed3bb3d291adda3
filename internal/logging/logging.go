// Package logging wraps logrus to give the rest of the daemon the same
// one-line, severity-filtered logging the original syslog-backed daemon had.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Syslog priority levels, as accepted by the -l flag.
const (
	LevelEmerg = iota
	LevelAlert
	LevelCrit
	LevelErr
	LevelWarning
	LevelNotice
	LevelInfo
	LevelDebug
)

var (
	mu     sync.Mutex
	logger = logrus.New()
)

// Init configures the package logger. level is a syslog priority (0..7),
// mapped onto logrus's error, warning, info and debug levels; messages
// whose mapped level is above it are discarded (so priorities 0..3 all
// pass the error level, and notice and info share one level). When
// console is true, messages are written to stderr; otherwise all output
// is discarded. There is no other sink.
func Init(id string, level int, console bool) {
	mu.Lock()
	defer mu.Unlock()

	logger = logrus.New()
	logger.SetLevel(toLogrusLevel(level))
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	var out io.Writer = io.Discard
	if console {
		out = os.Stderr
	}
	logger.SetOutput(out)
	logger = logger.WithField("id", id).Logger
}

// Fini releases logging resources. Present for symmetry with log_fini;
// logrus needs no explicit teardown.
func Fini() {}

// Write emits one formatted line at the given syslog priority, tagged with
// the calling subsystem's name.
func Write(component string, level int, format string, args ...any) {
	mu.Lock()
	l := logger
	mu.Unlock()

	entry := l.WithField("component", component)
	msg := fmt.Sprintf(format, args...)

	switch {
	case level <= LevelErr:
		entry.Error(msg)
	case level == LevelWarning:
		entry.Warn(msg)
	case level == LevelNotice || level == LevelInfo:
		entry.Info(msg)
	default:
		entry.Debug(msg)
	}
}

func toLogrusLevel(syslogLevel int) logrus.Level {
	switch {
	case syslogLevel <= LevelErr:
		return logrus.ErrorLevel
	case syslogLevel == LevelWarning:
		return logrus.WarnLevel
	case syslogLevel == LevelNotice || syslogLevel == LevelInfo:
		return logrus.InfoLevel
	default:
		return logrus.DebugLevel
	}
}
