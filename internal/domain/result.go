package domain

import (
	"time"
)

// ExportRecord is the downloadable result of a completed study.
type ExportRecord struct {
	Timestamp string      `json:"timestamp"`
	AgentA    *RatingForm `json:"agentA"`
	AgentB    *RatingForm `json:"agentB"`
}

// StoredResult is an export record persisted server-side.
type StoredResult struct {
	ResultID      string
	SessionID     string
	ParticipantID string
	FileName      string
	Record        ExportRecord
	// TranscriptJSON holds the archived half-sessions, for analysis only.
	TranscriptJSON string
	CreatedAt      time.Time
}
