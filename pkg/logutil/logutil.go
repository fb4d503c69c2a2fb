// Package logutil provides the dual-sink logger used throughout the
// cluster packages: once the platform's event bus is up, messages route
// through it; until then (or if no bus is attached) they go to stderr.
package logutil

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"
)

var jsonMode atomic.Bool

func init() {
	if os.Getenv("CLUSTER_LOG_JSON") == "1" || os.Getenv("CLUSTER_LOG_FORMAT") == "json" {
		jsonMode.Store(true)
	}
}

func SetJSON(enabled bool) { jsonMode.Store(enabled) }

// Sink receives a leveled log line. A platform.EventBus.Emit closure is the
// usual sink once a node has finished starting; nil means "not started yet".
type Sink func(level, msg string)

// Logger is a small leveled logger that emits to a Sink when set and
// non-nil, falling back to an *log.Logger (stderr by default) otherwise.
// The zero value is ready to use.
type Logger struct {
	std  *log.Logger
	sink atomic.Value // Sink
}

// New returns a Logger writing to std when no sink is attached. A nil std
// defaults to log.Default().
func New(std *log.Logger) *Logger {
	if std == nil {
		std = log.Default()
	}
	return &Logger{std: std}
}

// SetSink attaches (or clears, with nil) the bus sink. Safe for concurrent use.
func (l *Logger) SetSink(s Sink) {
	if s == nil {
		l.sink.Store(Sink(nil))
		return
	}
	l.sink.Store(s)
}

func (l *Logger) currentSink() Sink {
	v := l.sink.Load()
	if v == nil {
		return nil
	}
	s, _ := v.(Sink)
	return s
}

func (l *Logger) Infof(f string, args ...any)  { l.logf("info", f, args...) }
func (l *Logger) Warnf(f string, args ...any)  { l.logf("warn", f, args...) }
func (l *Logger) Errorf(f string, args ...any) { l.logf("error", f, args...) }

func (l *Logger) logf(level, f string, args ...any) {
	msg := fmt.Sprintf(f, args...)
	if sink := l.currentSink(); sink != nil {
		sink(level, msg)
		return
	}
	std := l.std
	if std == nil {
		std = log.Default()
	}
	if jsonMode.Load() {
		evt := map[string]any{
			"ts":    time.Now().UTC().Format(time.RFC3339Nano),
			"level": level,
			"msg":   msg,
		}
		b, _ := json.Marshal(evt)
		std.Println(string(b))
		return
	}
	prefix(std, level).Print(msg)
}

func prefix(l *log.Logger, level string) *log.Logger {
	p := "INFO "
	switch level {
	case "warn":
		p = "WARN "
	case "error":
		p = "ERROR "
	}
	return log.New(l.Writer(), p, l.Flags())
}
