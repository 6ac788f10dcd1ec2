package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pion/logging"
)

const traceRetention = 4096

type TraceEntry struct {
	Elapsed  time.Duration `json:"-"`
	Seconds  float64       `json:"t"`
	Endpoint EndpointID    `json:"endpoint,omitempty"`
	Level    string        `json:"level"`
	Text     string        `json:"text"`
	Err      error         `json:"-"`
}

func (e TraceEntry) String() string {
	if e.Endpoint == "" {
		return fmt.Sprintf("%.3f %s", e.Seconds, e.Text)
	}
	return fmt.Sprintf("%.3f [%s] %s", e.Seconds, e.Endpoint, e.Text)
}

// Tracer is the logging sink of the core. Every entry is timestamped relative
// to the tracer creation and forwarded to a pion leveled logger.
type Tracer struct {
	start time.Time
	log   logging.LeveledLogger

	mu      sync.Mutex
	entries []TraceEntry
	subs    map[*eventQueue[TraceEntry]]struct{}
}

func NewTracer(lf logging.LoggerFactory) *Tracer {
	if lf == nil {
		lf = newLoggerFactory("disabled", io.Discard)
	}
	return &Tracer{
		start: time.Now(),
		log:   lf.NewLogger("peerloop"),
		subs:  map[*eventQueue[TraceEntry]]struct{}{},
	}
}

func (t *Tracer) Tracef(ep EndpointID, format string, args ...interface{}) {
	e := t.record(ep, "info", strings.TrimSpace(fmt.Sprintf(format, args...)), nil)
	t.log.Info(e.String())
}

func (t *Tracer) Debugf(ep EndpointID, format string, args ...interface{}) {
	e := t.record(ep, "debug", strings.TrimSpace(fmt.Sprintf(format, args...)), nil)
	t.log.Debug(e.String())
}

func (t *Tracer) Error(ep EndpointID, err error) {
	e := t.record(ep, "error", err.Error(), err)
	t.log.Error(e.String())
}

func (t *Tracer) record(ep EndpointID, level, text string, err error) TraceEntry {
	elapsed := time.Since(t.start)
	e := TraceEntry{
		Elapsed:  elapsed,
		Seconds:  float64(elapsed.Milliseconds()) / 1000,
		Endpoint: ep,
		Level:    level,
		Text:     text,
		Err:      err,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, e)
	if len(t.entries) > traceRetention {
		t.entries = t.entries[len(t.entries)-traceRetention:]
	}
	for q := range t.subs {
		q.push(e)
	}
	return e
}

func (t *Tracer) Entries() []TraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TraceEntry(nil), t.entries...)
}

// Errors returns the errors logged so far, oldest first.
func (t *Tracer) Errors() (errs []error) {
	for _, e := range t.Entries() {
		if e.Err != nil {
			errs = append(errs, e.Err)
		}
	}
	return
}

// Subscribe streams entries recorded from now on. The returned func stops the
// subscription and closes the channel.
func (t *Tracer) Subscribe() (<-chan TraceEntry, func()) {
	q := newEventQueue[TraceEntry]()

	t.mu.Lock()
	t.subs[q] = struct{}{}
	t.mu.Unlock()

	return q.C(), func() {
		t.mu.Lock()
		delete(t.subs, q)
		t.mu.Unlock()
		q.close()
	}
}

func newLoggerFactory(level string, w io.Writer) *logging.DefaultLoggerFactory {
	lf := logging.NewDefaultLoggerFactory()
	lf.Writer = w
	lf.DefaultLogLevel = parseLogLevel(level)
	return lf
}

func parseLogLevel(level string) logging.LogLevel {
	switch strings.ToLower(level) {
	case "disabled", "":
		return logging.LogLevelDisabled
	case "error":
		return logging.LogLevelError
	case "warn":
		return logging.LogLevelWarn
	case "debug":
		return logging.LogLevelDebug
	case "trace":
		return logging.LogLevelTrace
	default:
		return logging.LogLevelInfo
	}
}
