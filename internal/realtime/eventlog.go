// Package realtime pushes study events to browser tabs over websockets and
// keeps a bounded per-tab history so a reconnecting tab can catch up.
package realtime

import (
	"container/list"
	"sync"
	"time"

	"github.com/ashureev/recall-study/internal/study"
)

const defaultLogSize = 500

// Envelope is one sequenced event as sent to the browser.
type Envelope struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Event     study.Event `json:"event"`
}

// EventLog buffers events per stream. Each stream gets its own bounded list
// and sequence so one tab's burst cannot evict another tab's history.
type EventLog struct {
	mu      sync.RWMutex
	streams map[string]*streamLog
	maxSize int
	now     func() time.Time
}

type streamLog struct {
	seq   int64
	items *list.List
}

// NewEventLog creates a log that keeps the last maxSize events per stream.
func NewEventLog(maxSize int) *EventLog {
	if maxSize <= 0 {
		maxSize = defaultLogSize
	}
	return &EventLog{
		streams: make(map[string]*streamLog),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Append sequences e on stream and returns its envelope.
func (l *EventLog) Append(stream string, e study.Event) Envelope {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.streams[stream]
	if !ok {
		s = &streamLog{items: list.New()}
		l.streams[stream] = s
	}
	s.seq++
	env := Envelope{ID: s.seq, Timestamp: l.now().UTC(), Event: e}
	s.items.PushBack(env)
	for s.items.Len() > l.maxSize {
		s.items.Remove(s.items.Front())
	}
	return env
}

// After returns the buffered events of stream with an ID greater than after.
func (l *EventLog) After(stream string, after int64) []Envelope {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s, ok := l.streams[stream]
	if !ok {
		return nil
	}
	var out []Envelope
	for e := s.items.Front(); e != nil; e = e.Next() {
		env := e.Value.(Envelope)
		if env.ID > after {
			out = append(out, env)
		}
	}
	return out
}

// LastID returns the newest sequence number of stream, or 0.
func (l *EventLog) LastID(stream string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if s, ok := l.streams[stream]; ok {
		return s.seq
	}
	return 0
}

// Prune drops the history of stream.
func (l *EventLog) Prune(stream string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.streams, stream)
}
