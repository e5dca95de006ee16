// Package transcript writes study conversations as NDJSON, one file per
// participant session, for later analysis.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls transcript logging.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Event is one NDJSON line.
type Event struct {
	Timestamp     string         `json:"ts"`
	ParticipantID string         `json:"participant_id"`
	SessionID     string         `json:"session_id"`
	Channel       string         `json:"channel"`
	Direction     string         `json:"direction"`
	EventType     string         `json:"event_type"`
	ContentRaw    string         `json:"content_raw,omitempty"`
	Content       string         `json:"content,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
}

// Logger records transcript events. Log never blocks the caller.
type Logger interface {
	Log(Event)
	// Release closes the file of a finished session.
	Release(participantID, sessionID string)
	Close() error
}

// NewLogger returns a file logger, or a no-op logger when disabled.
func NewLogger(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return noopLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("transcript: dir required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}

	l := &fileLogger{
		dir:    cfg.Dir,
		queue:  make(chan item, cfg.QueueSize),
		done:   make(chan struct{}),
		files:  make(map[string]*os.File),
		logger: logger,
	}
	go l.run()
	return l, nil
}

type noopLogger struct{}

func (noopLogger) Log(Event)               {}
func (noopLogger) Release(string, string) {}
func (noopLogger) Close() error           { return nil }

type item struct {
	event   Event
	release bool
}

type fileLogger struct {
	dir    string
	queue  chan item
	done   chan struct{}
	files  map[string]*os.File
	logger *slog.Logger

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func (l *fileLogger) Log(e Event) {
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if e.Content == "" && e.ContentRaw != "" {
		e.Content = cleanForReadability(e.ContentRaw)
	}
	l.enqueue(item{event: e})
}

func (l *fileLogger) Release(participantID, sessionID string) {
	l.enqueue(item{event: Event{ParticipantID: participantID, SessionID: sessionID}, release: true})
}

func (l *fileLogger) enqueue(it item) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- it:
	default:
		if n := l.dropped.Add(1); n == 1 || n%100 == 0 {
			l.logger.Warn("Transcript queue full, dropping events", "dropped", n)
		}
	}
}

// Close flushes queued events and closes all files.
func (l *fileLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done
	var errs []error
	for key, f := range l.files {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func (l *fileLogger) run() {
	defer close(l.done)
	for it := range l.queue {
		if it.release {
			l.release(it.event)
			continue
		}
		if err := l.write(it.event); err != nil {
			l.logger.Warn("Failed to write transcript event",
				"participant_id", it.event.ParticipantID,
				"session_id", it.event.SessionID,
				"error", err)
		}
	}
}

func (l *fileLogger) write(e Event) error {
	f, err := l.file(e.ParticipantID, e.SessionID)
	if err != nil {
		return err
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

func (l *fileLogger) file(participantID, sessionID string) (*os.File, error) {
	path := filepath.Join(l.dir, safeName(participantID), safeName(sessionID)+".ndjson")
	if f, ok := l.files[path]; ok {
		return f, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create participant dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	l.files[path] = f
	return f, nil
}

func (l *fileLogger) release(e Event) {
	path := filepath.Join(l.dir, safeName(e.ParticipantID), safeName(e.SessionID)+".ndjson")
	if f, ok := l.files[path]; ok {
		if err := f.Close(); err != nil {
			l.logger.Debug("Failed to close transcript", "path", path, "error", err)
		}
		delete(l.files, path)
	}
}

var (
	unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)
	ansiSequence    = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)
	spaceRun        = regexp.MustCompile(`[ \t]+`)
)

func safeName(s string) string {
	s = unsafeNameChars.ReplaceAllString(strings.TrimSpace(s), "_")
	if s == "" || s == "." || s == ".." {
		return "unknown"
	}
	return s
}

// cleanForReadability strips terminal escapes and control characters and
// collapses runs of spaces.
func cleanForReadability(raw string) string {
	s := ansiSequence.ReplaceAllString(raw, "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	s = spaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
