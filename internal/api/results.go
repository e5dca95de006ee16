package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/recall-study/internal/domain"
	"github.com/ashureev/recall-study/internal/store"
	"github.com/go-chi/chi/v5"
)

const maxResultsLimit = 500

// ResultsHandler serves stored study results to researchers.
type ResultsHandler struct {
	*Handler
	token string
}

// NewResultsHandler creates a results handler guarded by a bearer token.
// With an empty token the endpoints answer 404.
func NewResultsHandler(base *Handler, token string) *ResultsHandler {
	return &ResultsHandler{Handler: base, token: token}
}

// RegisterRoutes registers results routes.
func (h *ResultsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/results", func(r chi.Router) {
		r.Use(h.authorize)
		r.Get("/", h.List)
		r.Get("/{resultID}", h.Get)
	})
}

func (h *ResultsHandler) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.token == "" {
			Error(w, http.StatusNotFound, "not found")
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
			Error(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type resultSummary struct {
	ResultID      string              `json:"resultId"`
	SessionID     string              `json:"sessionId"`
	ParticipantID string              `json:"participantId"`
	FileName      string              `json:"fileName"`
	Record        domain.ExportRecord `json:"record"`
	CreatedAt     time.Time           `json:"createdAt"`
}

type resultDetail struct {
	resultSummary
	Transcript []domain.HalfSession `json:"transcript"`
}

func summarize(r *domain.StoredResult) resultSummary {
	return resultSummary{
		ResultID:      r.ResultID,
		SessionID:     r.SessionID,
		ParticipantID: r.ParticipantID,
		FileName:      r.FileName,
		Record:        r.Record,
		CreatedAt:     r.CreatedAt.UTC(),
	}
}

// List returns the newest stored results. ?limit= caps the count.
func (h *ResultsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxResultsLimit)
	}

	results, err := h.repo.ListResults(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list results", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list results")
		return
	}
	out := make([]resultSummary, 0, len(results))
	for _, res := range results {
		out = append(out, summarize(res))
	}
	JSON(w, http.StatusOK, map[string]any{"results": out})
}

// Get returns one stored result with its transcript.
func (h *ResultsHandler) Get(w http.ResponseWriter, r *http.Request) {
	res, err := h.repo.GetResult(r.Context(), chi.URLParam(r, "resultID"))
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "result not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to get result", "error", err)
		Error(w, http.StatusInternalServerError, "failed to get result")
		return
	}

	detail := resultDetail{resultSummary: summarize(res)}
	if res.TranscriptJSON != "" {
		if err := json.Unmarshal([]byte(res.TranscriptJSON), &detail.Transcript); err != nil {
			h.logger.Warn("Stored transcript is unreadable", "result_id", res.ResultID, "error", err)
		}
	}
	JSON(w, http.StatusOK, detail)
}
