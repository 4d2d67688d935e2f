// Package ratelog is the standard logging entry point for every daemon in
// this module. It wraps the standard library's log package (no daemon here
// ever built its own structured logger, the way cmd/multiserver/main.go in
// the teacher simply calls log.Println/log.Fatal) with a per-(priority,
// facility) token bucket so a chattering fault condition cannot flood
// stderr/syslog.
//
// It is a direct translation of original_source/io2/lib/log.h's slog()/
// crash() contract: slog() rate-limited logging to syslog, crash() logs at
// LOG_CRIT and exit(1).
package ratelog

import (
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Priority mirrors syslog priority levels, coarsened to the handful the
// daemons actually use.
type Priority int

const (
	Debug Priority = iota
	Info
	Notice
	Warning
	Error
)

func (p Priority) String() string {
	switch p {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Notice:
		return "NOTICE"
	case Warning:
		return "WARNING"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger rate-limits log lines per (priority, facility) pair so a stuck
// device or a busy client can't blow out the log.
type Logger struct {
	facility string

	mu       sync.Mutex
	limiters map[Priority]*rate.Limiter

	// rate and burst used to create new per-priority limiters lazily.
	r rate.Limit
	b int

	debug atomic.Bool

	out *log.Logger
}

// New returns a Logger for the named facility (process or subsystem name,
// e.g. "linebusd" or "eposcom[3]"), allowing r events per second with burst
// b per priority level before tokens run out and lines are silently
// dropped.
func New(facility string, r rate.Limit, b int) *Logger {
	return &Logger{
		facility: facility,
		limiters: make(map[Priority]*rate.Limiter),
		r:        r,
		b:        b,
		out:      log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds),
	}
}

// Default returns a Logger with a permissive default rate (5 events/sec,
// burst 20), adequate for normal operational logging.
func Default(facility string) *Logger {
	return New(facility, 5, 20)
}

func (l *Logger) limiterFor(p Priority) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[p]
	if !ok {
		lim = rate.NewLimiter(l.r, l.b)
		l.limiters[p] = lim
	}
	return lim
}

func (l *Logger) logf(p Priority, format string, args ...interface{}) {
	if !l.limiterFor(p).Allow() {
		return
	}
	l.out.Printf("[%s] %s: %s", p, l.facility, fmt.Sprintf(format, args...))
}

// SetDebug enables or disables Debugf output, toggleable at runtime by a
// config hot-reload (internal/config's "debug" field) without restarting the
// daemon.
func (l *Logger) SetDebug(enabled bool) { l.debug.Store(enabled) }

func (l *Logger) Debugf(format string, args ...interface{}) {
	if !l.debug.Load() {
		return
	}
	l.logf(Debug, format, args...)
}
func (l *Logger) Infof(format string, args ...interface{})    { l.logf(Info, format, args...) }
func (l *Logger) Noticef(format string, args ...interface{})  { l.logf(Notice, format, args...) }
func (l *Logger) Warningf(format string, args ...interface{}) { l.logf(Warning, format, args...) }
func (l *Logger) Errorf(format string, args ...interface{})   { l.logf(Error, format, args...) }

// Crash prints a "[CRASH]" line, bypassing the rate limiter (a crash report
// must never be the one dropped), and exits the process with status 1,
// mirroring crash()'s LOG_CRIT-then-exit(1) contract.
func (l *Logger) Crash(format string, args ...interface{}) {
	l.out.Printf("[CRASH] %s: %s", l.facility, fmt.Sprintf(format, args...))
	os.Exit(1)
}
