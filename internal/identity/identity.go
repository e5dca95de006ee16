// Package identity provides anonymous per-device participant identity.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/recall-study/internal/domain"
	"github.com/ashureev/recall-study/internal/store"
)

const (
	AnonCookieName    = "recall_anon_id"
	TabHeaderName     = "X-Study-Tab-ID"
	DefaultTabIDValue = "default"
	anonCookieMaxAge  = 30 * 24 * time.Hour
	// lastSeenResolution limits how often a returning participant's row is rewritten.
	lastSeenResolution = time.Minute
)

type contextKey int

const (
	participantIDKey contextKey = iota
	labelKey
	tabIDKey
)

var (
	anonIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	tabIDPattern  = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// ParticipantIDFromContext extracts the participant ID from the request context.
func ParticipantIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(participantIDKey).(string); ok {
		return v
	}
	return ""
}

// LabelFromContext extracts the participant's display label from the request context.
func LabelFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(labelKey).(string); ok {
		return v
	}
	return ""
}

// TabIDFromContext extracts the browser tab ID from the request context.
func TabIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tabIDKey).(string); ok {
		return v
	}
	return DefaultTabIDValue
}

// WithParticipant returns a context carrying the given identity. Tests and
// non-HTTP callers use it in place of Middleware.
func WithParticipant(ctx context.Context, participantID, tabID string) context.Context {
	ctx = context.WithValue(ctx, participantIDKey, participantID)
	ctx = context.WithValue(ctx, labelKey, deriveLabel(participantID))
	return context.WithValue(ctx, tabIDKey, sanitizeTabID(tabID))
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

func sanitizeTabID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !tabIDPattern.MatchString(id) {
		return DefaultTabIDValue
	}
	return id
}

func deriveLabel(participantID string) string {
	if len(participantID) > 13 {
		return "participant-" + participantID[len(participantID)-8:]
	}
	return "participant"
}

// ensureParticipant records a first visit and refreshes last_seen_at on later ones.
func ensureParticipant(ctx context.Context, repo store.Repository, participantID string, now time.Time) error {
	p, err := repo.GetParticipant(ctx, participantID)
	if err != nil {
		return err
	}
	if p != nil {
		if p.IdleFor(now) < lastSeenResolution {
			return nil
		}
		return repo.UpdateLastSeen(ctx, participantID, now)
	}

	return repo.UpsertParticipant(ctx, &domain.Participant{
		ParticipantID: participantID,
		Label:         deriveLabel(participantID),
		LastSeenAt:    now,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
}

func getOrCreateAnonID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		http.SetCookie(w, &http.Cookie{
			Name:     AnonCookieName,
			Value:    c.Value,
			Path:     "/",
			MaxAge:   int(anonCookieMaxAge.Seconds()),
			Expires:  time.Now().Add(anonCookieMaxAge),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			Secure:   !isDev,
		})
		return c.Value, nil
	}

	id, err := generateAnonID()
	if err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
	return id, nil
}

func tabIDFromRequest(r *http.Request) string {
	tid := r.Header.Get(TabHeaderName)
	if tid == "" {
		// Browsers cannot set headers on websocket upgrades.
		tid = r.URL.Query().Get("tab_id")
	}
	return sanitizeTabID(tid)
}

// Middleware injects the anonymous participant identity and the tab ID.
func Middleware(repo store.Repository, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			participantID, err := getOrCreateAnonID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}

			if err := ensureParticipant(r.Context(), repo, participantID, time.Now()); err != nil {
				slog.Error("Failed to record participant", "participant_id", participantID, "error", err)
				http.Error(w, `{"error":"failed to initialize participant"}`, http.StatusInternalServerError)
				return
			}

			ctx := WithParticipant(r.Context(), participantID, tabIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns the remote IP, used to rate limit requests without an identity.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
