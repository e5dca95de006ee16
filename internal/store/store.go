// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/recall-study/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Repository defines the interface for persisting participants and study results.
type Repository interface {
	// GetParticipant retrieves a participant by ID. It returns nil, nil when absent.
	GetParticipant(ctx context.Context, participantID string) (*domain.Participant, error)

	// UpsertParticipant creates or updates a participant record.
	UpsertParticipant(ctx context.Context, p *domain.Participant) error

	// UpdateLastSeen updates the last_seen_at timestamp for a participant.
	UpdateLastSeen(ctx context.Context, participantID string, lastSeen time.Time) error

	// SaveResult stores an exported study result.
	SaveResult(ctx context.Context, r *domain.StoredResult) error

	// GetResult retrieves a stored result by ID, or ErrNotFound.
	GetResult(ctx context.Context, resultID string) (*domain.StoredResult, error)

	// ListResults returns the newest results first, at most limit of them.
	ListResults(ctx context.Context, limit int) ([]*domain.StoredResult, error)

	// DeleteInactiveParticipants removes participants unseen for ttl that have no results.
	DeleteInactiveParticipants(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
