// Package audit records invocation outcomes to an append-only log. Events
// carry identifiers and metadata only; argument values and credentials
// are excluded by construction.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Event is one audit record. The shape deliberately excludes argument and
// credential payloads.
type Event struct {
	Timestamp   time.Time `json:"timestamp"`
	Invocation  string    `json:"invocation"`
	Skill       string    `json:"skill"`
	Instance    string    `json:"instance"`
	Tool        string    `json:"tool"`
	Outcome     string    `json:"outcome"` // "ok" or an error code
	DurationMS  int64     `json:"duration_ms"`
	OutputBytes int       `json:"output_bytes"`
}

// Logger appends events to a JSONL file. Record is an in-memory enqueue;
// a single consumer goroutine preserves completion order on disk. A sink
// failure is reported through slog and a counter, never by failing the
// triggering invocation.
type Logger struct {
	path    string
	events  chan Event
	done    chan struct{}
	dropped atomic.Int64
	failed  atomic.Int64
	logger  *slog.Logger

	mu        sync.Mutex // guards file handle swap on Close
	file      *os.File
	closeMu   sync.RWMutex // guards events channel vs Close
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// New opens (or creates) the audit log at path and starts the writer.
func New(path string, logger *slog.Logger) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	l := &Logger{
		path:   path,
		events: make(chan Event, 256),
		done:   make(chan struct{}),
		logger: logger,
		file:   file,
	}
	go l.consume()
	return l, nil
}

// Record enqueues an event. It never blocks longer than the enqueue; if
// the buffer is full, or the logger is already closed, the event is
// counted as dropped.
func (l *Logger) Record(ev Event) {
	l.closeMu.RLock()
	defer l.closeMu.RUnlock()
	if l.closed {
		l.dropped.Add(1)
		l.logger.Error("audit logger closed, event dropped", "skill", ev.Skill, "tool", ev.Tool)
		return
	}
	select {
	case l.events <- ev:
	default:
		l.dropped.Add(1)
		l.logger.Error("audit buffer full, event dropped", "skill", ev.Skill, "tool", ev.Tool)
	}
}

// Dropped returns the number of events lost to a full buffer.
func (l *Logger) Dropped() int64 { return l.dropped.Load() }

// Failed returns the number of events that could not be written.
func (l *Logger) Failed() int64 { return l.failed.Load() }

// Close drains pending events and closes the file. Safe to call more
// than once.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		l.closeMu.Lock()
		l.closed = true
		close(l.events)
		l.closeMu.Unlock()
		<-l.done

		l.mu.Lock()
		defer l.mu.Unlock()
		l.closeErr = l.file.Close()
		l.file = nil
	})
	return l.closeErr
}

func (l *Logger) consume() {
	defer close(l.done)
	for ev := range l.events {
		line, err := json.Marshal(ev)
		if err != nil {
			l.failed.Add(1)
			l.logger.Error("audit marshal failed", "error", err)
			continue
		}
		l.mu.Lock()
		if l.file != nil {
			if _, err := l.file.Write(append(line, '\n')); err != nil {
				l.failed.Add(1)
				l.logger.Error("audit write failed", "error", err)
			}
		}
		l.mu.Unlock()
	}
}

// ReadRecent returns the last limit events from the log file.
func ReadRecent(path string, limit int) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue // tolerate a torn trailing line
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}
