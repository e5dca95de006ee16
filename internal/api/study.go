package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/recall-study/internal/domain"
	"github.com/ashureev/recall-study/internal/generation"
	"github.com/ashureev/recall-study/internal/study"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Validator checks the generation backend before a study starts.
type Validator interface {
	Validate(ctx context.Context) error
}

// StudyHandler handles the study session endpoints.
type StudyHandler struct {
	*Handler
	validator Validator
	now       func() time.Time
}

// NewStudyHandler creates a study handler. A nil validator skips the start check.
func NewStudyHandler(base *Handler, validator Validator) *StudyHandler {
	return &StudyHandler{Handler: base, validator: validator, now: time.Now}
}

// RegisterRoutes registers study routes.
func (h *StudyHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/study", func(r chi.Router) {
		r.Post("/start", h.Start)
		r.Get("/state", h.State)
		r.Post("/messages", h.SubmitMessage)
		r.Post("/quiz/{index}", h.SelectQuizQuestion)
		r.Post("/review", h.AcknowledgeReview)
		r.Post("/ratings", h.SubmitRating)
		r.Post("/export", h.Export)
	})
}

type stateResponse struct {
	Session     *domain.StudySession `json:"session"`
	PhaseLabel  string               `json:"phaseLabel"`
	AgentName   string               `json:"agentName"`
	LastEventID int64                `json:"lastEventId"`
}

type messageRequest struct {
	Text string `json:"text"`
}

type ratingRequest struct {
	Agent     domain.Agent `json:"agent"`
	Humanlike string       `json:"humanlike"`
	Likeable  string       `json:"likeable"`
	Competent string       `json:"competent"`
	ChatAgain string       `json:"chatAgain"`
}

func (h *StudyHandler) writeState(w http.ResponseWriter, key study.SessionKey, ctrl *study.Controller) {
	s := ctrl.Snapshot()
	resp := stateResponse{
		Session:    s,
		PhaseLabel: s.Phase.Label(),
		AgentName:  s.Agent.DisplayName(),
	}
	if h.hub != nil {
		resp.LastEventID = h.hub.LastID(key.String())
	}
	JSON(w, http.StatusOK, resp)
}

// controller resolves the caller's session, writing the error response when
// there is none.
func (h *StudyHandler) controller(w http.ResponseWriter, r *http.Request) (study.SessionKey, *study.Controller, bool) {
	key, ok := sessionKey(r)
	if !ok {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return key, nil, false
	}
	ctrl, err := h.registry.Get(key)
	if err != nil {
		h.fail(w, key, "", err)
		return key, nil, false
	}
	return key, ctrl, true
}

// Start opens the caller's session and begins the interview with Agent Alpha.
// The generation backend is validated first; on failure the study stays in Setup.
func (h *StudyHandler) Start(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(r)
	if !ok {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	ctrl, created, err := h.registry.Open(key)
	if err != nil {
		h.fail(w, key, "", err)
		return
	}
	if created {
		h.logger.Info("Study session opened", "stream", key.String(), "session_id", ctrl.SessionID())
	}

	if ctrl.Snapshot().Phase == domain.PhaseSetup && h.validator != nil {
		if err := h.validator.Validate(r.Context()); err != nil {
			h.logger.Warn("Generation validation failed", "session_id", ctrl.SessionID(), "error", err)
			h.fail(w, key, ctrl.SessionID(), generation.Wrap(err))
			return
		}
	}

	if err := ctrl.Start(ctrl.Context()); err != nil {
		h.actionError(w, key, ctrl.SessionID(), err)
		return
	}
	h.writeState(w, key, ctrl)
}

// State returns the caller's session snapshot.
func (h *StudyHandler) State(w http.ResponseWriter, r *http.Request) {
	key, ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	h.writeState(w, key, ctrl)
}

// SubmitMessage answers the current interview question.
func (h *StudyHandler) SubmitMessage(w http.ResponseWriter, r *http.Request) {
	key, ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, key, ctrl.SessionID(), err)
		return
	}
	if err := ctrl.SubmitMessage(ctrl.Context(), req.Text); err != nil {
		h.actionError(w, key, ctrl.SessionID(), err)
		return
	}
	h.writeState(w, key, ctrl)
}

// SelectQuizQuestion asks the agent the quiz question at {index}.
func (h *StudyHandler) SelectQuizQuestion(w http.ResponseWriter, r *http.Request) {
	key, ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		h.fail(w, key, ctrl.SessionID(), fmt.Errorf("%w: quiz index must be a number", study.ErrValidation))
		return
	}
	if err := ctrl.SelectQuizQuestion(ctrl.Context(), index); err != nil {
		h.actionError(w, key, ctrl.SessionID(), err)
		return
	}
	h.writeState(w, key, ctrl)
}

// AcknowledgeReview moves from the quiz review to the rating form.
func (h *StudyHandler) AcknowledgeReview(w http.ResponseWriter, r *http.Request) {
	key, ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	if err := ctrl.AcknowledgeReview(ctrl.Context()); err != nil {
		h.actionError(w, key, ctrl.SessionID(), err)
		return
	}
	h.writeState(w, key, ctrl)
}

// SubmitRating stores the rating of the current agent.
func (h *StudyHandler) SubmitRating(w http.ResponseWriter, r *http.Request) {
	key, ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req ratingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, key, ctrl.SessionID(), err)
		return
	}
	if !req.Agent.Valid() {
		h.fail(w, key, ctrl.SessionID(), fmt.Errorf("%w: unknown agent %q", study.ErrValidation, req.Agent))
		return
	}
	form := domain.RatingForm{
		Humanlike: req.Humanlike,
		Likeable:  req.Likeable,
		Competent: req.Competent,
		ChatAgain: req.ChatAgain,
	}
	if err := ctrl.SubmitRating(ctrl.Context(), req.Agent, form); err != nil {
		h.actionError(w, key, ctrl.SessionID(), err)
		return
	}
	h.writeState(w, key, ctrl)
}

// Export stores the completed study's ratings and returns them as a download.
func (h *StudyHandler) Export(w http.ResponseWriter, r *http.Request) {
	key, ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	rec, name, err := ctrl.TriggerExport(ctrl.Context())
	if err != nil {
		h.actionError(w, key, ctrl.SessionID(), err)
		return
	}

	body, err := study.MarshalExport(rec)
	if err != nil {
		h.fail(w, key, ctrl.SessionID(), fmt.Errorf("encode export: %w", err))
		return
	}

	snap := ctrl.Snapshot()
	transcript, err := json.Marshal(snap.Transcript)
	if err != nil {
		h.fail(w, key, ctrl.SessionID(), fmt.Errorf("encode transcript: %w", err))
		return
	}
	resultID, err := uuid.NewV7()
	if err != nil {
		h.fail(w, key, ctrl.SessionID(), fmt.Errorf("generate result id: %w", err))
		return
	}
	result := &domain.StoredResult{
		ResultID:       resultID.String(),
		SessionID:      snap.ID,
		ParticipantID:  snap.ParticipantID,
		FileName:       name,
		Record:         rec,
		TranscriptJSON: string(transcript),
		CreatedAt:      h.now(),
	}
	if err := h.repo.SaveResult(r.Context(), result); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		h.fail(w, key, ctrl.SessionID(), fmt.Errorf("store result: %w", err))
		return
	}
	h.logger.Info("Study result stored", "session_id", snap.ID, "result_id", result.ResultID, "file", name)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		h.logger.Warn("Failed to write export", "session_id", snap.ID, "error", err)
	}
}
