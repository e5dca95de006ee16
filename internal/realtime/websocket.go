package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/recall-study/internal/identity"
	"github.com/ashureev/recall-study/internal/study"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	defaultPingInterval = 30 * time.Second
	writeTimeout        = 10 * time.Second
)

// HandlerConfig configures the websocket handler.
type HandlerConfig struct {
	AllowedOrigins []string
	IsDev          bool
	PingInterval   time.Duration
	// KeepAlive is called on every ping so an open tab keeps its session.
	KeepAlive func(study.SessionKey)
}

// WebSocketHandler streams study events to one browser tab.
type WebSocketHandler struct {
	hub            *Hub
	allowedOrigins []string
	isDev          bool
	pingInterval   time.Duration
	keepAlive      func(study.SessionKey)
}

// NewWebSocketHandler creates a handler serving hub's streams.
func NewWebSocketHandler(hub *Hub, cfg HandlerConfig) *WebSocketHandler {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	return &WebSocketHandler{
		hub:            hub,
		allowedOrigins: cfg.AllowedOrigins,
		isDev:          cfg.IsDev,
		pingInterval:   cfg.PingInterval,
		keepAlive:      cfg.KeepAlive,
	}
}

type wsMessage struct {
	Type string `json:"type"`
}

// ServeHTTP upgrades the request and streams events after the "after" query ID.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := study.SessionKey{
		ParticipantID: identity.ParticipantIDFromContext(r.Context()),
		TabID:         identity.TabIDFromContext(r.Context()),
	}
	if key.ParticipantID == "" {
		http.Error(w, `{"error":"missing participant identity"}`, http.StatusUnauthorized)
		return
	}

	var after int64
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			http.Error(w, `{"error":"invalid after parameter"}`, http.StatusBadRequest)
			return
		}
		after = n
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "participant_id", key.ParticipantID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "participant_id", key.ParticipantID)
		}
	}()

	stream := key.String()
	sub, replay := h.hub.Subscribe(stream, after)
	defer h.hub.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	slog.Info("Event stream connected",
		"participant_id", key.ParticipantID,
		"tab_id", key.TabID,
		"after", after,
		"replayed", len(replay))

	go func() {
		defer cancel()
		h.readLoop(ctx, ws, key)
	}()

	for _, env := range replay {
		if err := h.write(ctx, ws, env); err != nil {
			return
		}
	}

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case env, ok := <-sub.C():
			if !ok {
				select {
				case <-sub.Lagged():
					_ = ws.Close(websocket.StatusTryAgainLater, "lagging, reconnect with after")
				default:
					_ = ws.Close(websocket.StatusNormalClosure, "session closed")
				}
				return
			}
			if err := h.write(ctx, ws, env); err != nil {
				return
			}
		case <-ticker.C:
			pingCtx, cancelPing := context.WithTimeout(ctx, writeTimeout)
			err := ws.Ping(pingCtx)
			cancelPing()
			if err != nil {
				slog.Debug("WebSocket ping failed", "error", err, "participant_id", key.ParticipantID)
				return
			}
			if h.keepAlive != nil {
				h.keepAlive(key)
			}
		case <-ctx.Done():
			slog.Info("Event stream disconnected", "participant_id", key.ParticipantID, "tab_id", key.TabID)
			return
		}
	}
}

// readLoop answers client pings and ends when the client goes away.
func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, key study.SessionKey) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "participant_id", key.ParticipantID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "participant_id", key.ParticipantID)
			}
			return
		}
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			if err := h.write(ctx, ws, map[string]string{"type": "pong"}); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) write(ctx context.Context, ws *websocket.Conn, v any) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, ws, v); err != nil {
		if ctx.Err() == nil {
			slog.Debug("WebSocket write error", "error", err)
		}
		return err
	}
	return nil
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.allowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigins)
	return false
}
