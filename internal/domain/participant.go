// Package domain contains core domain types for the recall study.
package domain

import (
	"time"
)

// Participant is an anonymous browser identity taking part in the study.
type Participant struct {
	ParticipantID string    `json:"participant_id"`
	Label         string    `json:"label"`
	LastSeenAt    time.Time `json:"last_seen_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// IdleFor returns how long the participant has been inactive as of now.
func (p *Participant) IdleFor(now time.Time) time.Duration {
	d := now.Sub(p.LastSeenAt)
	if d < 0 {
		return 0
	}
	return d
}
