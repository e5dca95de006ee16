package realtime

import (
	"log/slog"
	"sync"

	"github.com/ashureev/recall-study/internal/study"
)

const subscriberBuffer = 64

// Hub fans study events out to the websocket subscribers of each stream.
// A stream is one participant tab (study.SessionKey.String()).
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[int64]*Subscription
	nextID int64
	log    *EventLog
	logger *slog.Logger
}

// Subscription receives the live events of one stream.
type Subscription struct {
	id     int64
	stream string
	ch     chan Envelope
	// lagged is closed when the subscriber fell behind and was dropped.
	lagged chan struct{}
	once   sync.Once
}

// C returns the channel of live events. It is closed when the subscription ends.
func (s *Subscription) C() <-chan Envelope { return s.ch }

// Lagged is closed when events were dropped because the subscriber was too slow.
func (s *Subscription) Lagged() <-chan struct{} { return s.lagged }

func (s *Subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

// NewHub creates a hub backed by log.
func NewHub(log *EventLog, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[string]map[int64]*Subscription),
		log:    log,
		logger: logger,
	}
}

// Emitter returns the study.Emitter that publishes to stream.
func (h *Hub) Emitter(stream string) study.Emitter {
	return study.EmitterFunc(func(e study.Event) { h.Publish(stream, e) })
}

// Publish sequences e and delivers it to every subscriber of stream without blocking.
func (h *Hub) Publish(stream string, e study.Event) Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()

	env := h.log.Append(stream, e)
	for id, sub := range h.subs[stream] {
		select {
		case sub.ch <- env:
		default:
			h.logger.Warn("Realtime subscriber lagging, dropping", "stream", stream, "subscriber", id, "event_id", env.ID)
			close(sub.lagged)
			sub.close()
			delete(h.subs[stream], id)
		}
	}
	return env
}

// Subscribe registers a subscriber on stream and returns the buffered events
// after the given ID. No event is lost or duplicated between the replay and
// the live channel.
func (h *Hub) Subscribe(stream string, after int64) (*Subscription, []Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		id:     h.nextID,
		stream: stream,
		ch:     make(chan Envelope, subscriberBuffer),
		lagged: make(chan struct{}),
	}
	if _, ok := h.subs[stream]; !ok {
		h.subs[stream] = make(map[int64]*Subscription)
	}
	h.subs[stream][sub.id] = sub
	h.logger.Info("Realtime subscriber registered", "stream", stream, "subscriber", sub.id, "after", after)
	return sub, h.log.After(stream, after)
}

// Unsubscribe removes sub and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.subs[sub.stream]; ok {
		if _, exists := subs[sub.id]; exists {
			delete(subs, sub.id)
			if len(subs) == 0 {
				delete(h.subs, sub.stream)
			}
			h.logger.Info("Realtime subscriber unregistered", "stream", sub.stream, "subscriber", sub.id)
		}
	}
	sub.close()
}

// CloseStream ends every subscription of stream and drops its history.
func (h *Hub) CloseStream(stream string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs[stream] {
		sub.close()
	}
	delete(h.subs, stream)
	h.log.Prune(stream)
}

// LastID returns the ID of the newest event published on stream.
func (h *Hub) LastID(stream string) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.log.LastID(stream)
}

// Subscribers returns the number of live subscribers of stream.
func (h *Hub) Subscribers(stream string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[stream])
}
