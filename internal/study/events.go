package study

import (
	"github.com/ashureev/recall-study/internal/domain"
)

// EventKind names a side effect the host renders or stores.
type EventKind string

const (
	EventUserMessageAdded     EventKind = "user_message_added"
	EventAgentMessageAdded    EventKind = "agent_message_added"
	EventPhaseChanged         EventKind = "phase_changed"
	EventProgressUpdated      EventKind = "progress_updated"
	EventQuizButtonsRefreshed EventKind = "quiz_buttons_refreshed"
	EventTransitionRequested  EventKind = "transition_requested"
	EventQuizReviewReady      EventKind = "quiz_review_ready"
	EventRatingFormCleared    EventKind = "rating_form_cleared"
	EventExportRequested      EventKind = "export_requested"
	EventError                EventKind = "error"
)

// QuizButton is one selectable quiz question.
type QuizButton struct {
	Text     string `json:"text"`
	Disabled bool   `json:"disabled"`
}

// Event is one side effect. Only the fields relevant to Kind are set.
type Event struct {
	Kind       EventKind            `json:"kind"`
	SessionID  string               `json:"sessionId"`
	Agent      domain.Agent         `json:"agent,omitempty"`
	AgentName  string               `json:"agentName,omitempty"`
	Text       string               `json:"text,omitempty"`
	Phase      domain.Phase         `json:"phase,omitempty"`
	Label      string               `json:"label,omitempty"`
	Percent    int                  `json:"percent,omitempty"`
	Buttons    []QuizButton         `json:"buttons,omitempty"`
	Title      string               `json:"title,omitempty"`
	Message    string               `json:"message,omitempty"`
	DurationMs int64                `json:"durationMs,omitempty"`
	Answers    []domain.QuizAnswer  `json:"answers,omitempty"`
	Record     *domain.ExportRecord `json:"record,omitempty"`
	FileName   string               `json:"fileName,omitempty"`
	// Fallback marks an agent message that stands in for a failed generation.
	Fallback bool `json:"fallback,omitempty"`
}

// Emitter receives side effects in order. Implementations must not call back
// into the controller.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

// Emit implements Emitter.
func (f EmitterFunc) Emit(e Event) { f(e) }

// MultiEmitter fans one event out to several emitters in order.
type MultiEmitter []Emitter

// Emit implements Emitter.
func (m MultiEmitter) Emit(e Event) {
	for _, em := range m {
		if em != nil {
			em.Emit(e)
		}
	}
}
