package transcript

import (
	"github.com/ashureev/recall-study/internal/study"
)

const channelStudy = "study"

// Emitter records the conversational study events of one participant.
// Progress and button refreshes are not part of the transcript.
func Emitter(l Logger, participantID string) study.Emitter {
	return study.EmitterFunc(func(e study.Event) {
		ev, ok := toEvent(e)
		if !ok {
			return
		}
		ev.ParticipantID = participantID
		l.Log(ev)
	})
}

func toEvent(e study.Event) (Event, bool) {
	ev := Event{
		SessionID: e.SessionID,
		Channel:   channelStudy,
		Meta:      map[string]any{"agent": string(e.Agent)},
	}
	switch e.Kind {
	case study.EventUserMessageAdded:
		ev.Direction = "inbound"
		ev.EventType = "user_message"
		ev.ContentRaw = e.Text
	case study.EventAgentMessageAdded:
		ev.Direction = "outbound"
		ev.EventType = "agent_message"
		ev.ContentRaw = e.Text
		ev.Meta["fallback"] = e.Fallback
	case study.EventPhaseChanged:
		ev.Direction = "internal"
		ev.EventType = "phase_changed"
		ev.Meta["phase"] = string(e.Phase)
	case study.EventQuizReviewReady:
		ev.Direction = "internal"
		ev.EventType = "quiz_review"
		ev.Meta["answers"] = e.Answers
	case study.EventExportRequested:
		ev.Direction = "outbound"
		ev.EventType = "export"
		ev.Meta["file_name"] = e.FileName
		ev.Meta["record"] = e.Record
	case study.EventError:
		ev.Direction = "internal"
		ev.EventType = "error"
		ev.ContentRaw = e.Message
	default:
		return Event{}, false
	}
	return ev, true
}
