// Package api provides HTTP handlers for the study API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/recall-study/internal/generation"
	"github.com/ashureev/recall-study/internal/identity"
	"github.com/ashureev/recall-study/internal/realtime"
	"github.com/ashureev/recall-study/internal/store"
	"github.com/ashureev/recall-study/internal/study"
)

const maxBodyBytes = 64 << 10

// Handler provides common handler utilities.
type Handler struct {
	repo     store.Repository
	registry *study.Registry
	hub      *realtime.Hub
	logger   *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, registry *study.Registry, hub *realtime.Hub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		repo:     repo,
		registry: registry,
		hub:      hub,
		logger:   logger,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", study.ErrValidation)
		}
		return fmt.Errorf("%w: invalid request body: %v", study.ErrValidation, err)
	}
	return nil
}

// sessionKey returns the study session key of the caller, or false when the
// request carries no participant identity.
func sessionKey(r *http.Request) (study.SessionKey, bool) {
	pid := identity.ParticipantIDFromContext(r.Context())
	if pid == "" {
		return study.SessionKey{}, false
	}
	return study.SessionKey{ParticipantID: pid, TabID: identity.TabIDFromContext(r.Context())}, true
}

// statusFor maps a study or generation error to its HTTP status.
func statusFor(err error) int {
	var ge *generation.Error
	switch {
	case errors.Is(err, study.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, study.ErrSequence), errors.Is(err, study.ErrInFlight):
		return http.StatusConflict
	case errors.Is(err, study.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.As(err, &ge):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err to the client and mirrors it on the session's event
// stream so every open tab view shows the rejection.
func (h *Handler) fail(w http.ResponseWriter, key study.SessionKey, sessionID string, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("Study request failed", "stream", key.String(), "error", err)
		msg = "internal error"
	}
	var ge *generation.Error
	if errors.As(err, &ge) && ge.Message != "" {
		msg = ge.Message
	}
	// A tab without a session has no stream to report on.
	if h.hub != nil && !errors.Is(err, study.ErrSessionNotFound) {
		h.hub.Publish(key.String(), study.Event{
			Kind:      study.EventError,
			SessionID: sessionID,
			Message:   msg,
		})
	}
	Error(w, status, msg)
}

// actionError reports the outcome of a failed controller action. A failed
// generation was already surfaced as a fallback agent message, so only the
// status is returned for it.
func (h *Handler) actionError(w http.ResponseWriter, key study.SessionKey, sessionID string, err error) {
	var ge *generation.Error
	if errors.As(err, &ge) {
		Error(w, http.StatusBadGateway, ge.Message)
		return
	}
	h.fail(w, key, sessionID, err)
}
