package study

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/recall-study/internal/domain"
	"github.com/google/uuid"
)

const defaultSweepInterval = 5 * time.Minute

// ErrSessionNotFound is returned when a tab has no active study.
var ErrSessionNotFound = errors.New("study session not found")

// SessionKey identifies one participant browser tab.
type SessionKey struct {
	ParticipantID string
	TabID         string
}

func (k SessionKey) String() string {
	return k.ParticipantID + "/" + k.TabID
}

// ControllerFactory builds the controller for a new session of key. ctx is
// cancelled when the session is evicted.
type ControllerFactory func(ctx context.Context, key SessionKey, session *domain.StudySession) (*Controller, error)

// EvictFunc is called after a session leaves the registry.
type EvictFunc func(key SessionKey, sessionID string)

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// TTL is how long an untouched session is kept.
	TTL     time.Duration
	Now     func() time.Time
	Logger  *slog.Logger
	OnEvict EvictFunc
}

// Registry holds one study controller per participant tab.
type Registry struct {
	mu      sync.Mutex
	entries map[SessionKey]*registryEntry

	parent  context.Context
	factory ControllerFactory
	ttl     time.Duration
	now     func() time.Time
	log     *slog.Logger
	onEvict EvictFunc
}

type registryEntry struct {
	key      SessionKey
	ctrl     *Controller
	cancel   context.CancelFunc
	lastSeen time.Time
}

// NewRegistry creates a registry whose sessions live under parent.
func NewRegistry(parent context.Context, factory ControllerFactory, cfg RegistryConfig) *Registry {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Registry{
		entries: make(map[SessionKey]*registryEntry),
		parent:  parent,
		factory: factory,
		ttl:     cfg.TTL,
		now:     cfg.Now,
		log:     cfg.Logger,
		onEvict: cfg.OnEvict,
	}
}

// Get returns the controller of a tab and marks it as seen.
func (r *Registry) Get(key SessionKey) (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return nil, ErrSessionNotFound
	}
	e.lastSeen = r.now()
	return e.ctrl, nil
}

// Open returns the tab's controller, creating a fresh session when the tab
// has none or its previous study is complete.
func (r *Registry) Open(key SessionKey) (*Controller, bool, error) {
	r.mu.Lock()
	var replaced *registryEntry
	if e, ok := r.entries[key]; ok {
		if e.ctrl.Snapshot().Phase != domain.PhaseFinal {
			e.lastSeen = r.now()
			r.mu.Unlock()
			return e.ctrl, false, nil
		}
		r.removeLocked(key, e)
		replaced = e
	}
	ctrl, err := r.createLocked(key)
	r.mu.Unlock()

	if replaced != nil {
		r.notifyEvicted(replaced)
	}
	if err != nil {
		return nil, false, err
	}
	return ctrl, true, nil
}

func (r *Registry) createLocked(key SessionKey) (*Controller, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	now := r.now()
	ctx, cancel := context.WithCancel(r.parent)
	ctrl, err := r.factory(ctx, key, domain.NewStudySession(id.String(), key.ParticipantID, now))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create controller: %w", err)
	}
	r.entries[key] = &registryEntry{
		key:      key,
		ctrl:     ctrl,
		cancel:   cancel,
		lastSeen: now,
	}
	r.log.Info("Study session created", "participant_id", key.ParticipantID, "tab_id", key.TabID, "session_id", id.String())
	return ctrl, nil
}

// Remove drops the tab's session.
func (r *Registry) Remove(key SessionKey) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if ok {
		r.removeLocked(key, e)
	}
	r.mu.Unlock()
	if ok {
		r.notifyEvicted(e)
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep evicts sessions idle for longer than the TTL and returns how many it removed.
func (r *Registry) Sweep() int {
	if r.ttl <= 0 {
		return 0
	}
	threshold := r.now().Add(-r.ttl)

	r.mu.Lock()
	var expired []*registryEntry
	for key, e := range r.entries {
		if e.lastSeen.Before(threshold) {
			r.removeLocked(key, e)
			expired = append(expired, e)
		}
	}
	r.mu.Unlock()

	for _, e := range expired {
		r.log.Info("Study session expired",
			"participant_id", e.key.ParticipantID,
			"tab_id", e.key.TabID,
			"session_id", e.ctrl.SessionID())
		r.notifyEvicted(e)
	}
	return len(expired)
}

// StartTTLWorker sweeps idle sessions every interval until ctx is done.
func (r *Registry) StartTTLWorker(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		r.log.Info("TTL worker started", "interval", interval, "ttl", r.ttl)

		for {
			select {
			case <-ticker.C:
				if n := r.Sweep(); n > 0 {
					r.log.Info("TTL worker cleanup completed", "evicted", n)
				}
			case <-ctx.Done():
				r.log.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (r *Registry) removeLocked(key SessionKey, e *registryEntry) {
	delete(r.entries, key)
	e.cancel()
}

func (r *Registry) notifyEvicted(e *registryEntry) {
	if r.onEvict != nil {
		r.onEvict(e.key, e.ctrl.SessionID())
	}
}
