package voice

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ashureev/lumi/internal/domain"
	"github.com/ashureev/lumi/internal/identity"
	"github.com/ashureev/lumi/internal/session"
	"github.com/coder/websocket"
)

// Handler upgrades /ws/voice and runs one Controller per connection.
type Handler struct {
	sessions      *session.Registry
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a voice websocket handler.
func NewHandler(sessions *session.Registry, allowedOrigin string, isDev bool) *Handler {
	return &Handler{sessions: sessions, allowedOrigin: allowedOrigin, isDev: isDev}
}

// ServeHTTP implements http.Handler for the websocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	slog.Info("Voice connection request", "user_id", userID, "device_id", identity.DeviceIDFromContext(r.Context()), "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "voice session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	mgr := h.sessions.Get(userID)
	if err := mgr.SetInputMode(domain.InputModeVoice); err != nil {
		slog.Warn("Failed to switch input mode", "error", err, "user_id", userID)
	}
	defer func() {
		if err := mgr.SetInputMode(domain.InputModeText); err != nil {
			slog.Debug("Failed to restore input mode", "error", err, "user_id", userID)
		}
	}()

	bridge := NewDeviceBridge(ws)
	ctrl := NewController(mgr, bridge, bridge, slog.Default().With("user_id", userID))
	defer ctrl.StopVoiceSession()

	h.readLoop(ctx, ws, bridge, ctrl, userID)
	slog.Info("Voice session ended", "user_id", userID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, bridge *DeviceBridge, ctrl *Controller, userID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("Ignoring malformed voice message", "user_id", userID)
			continue
		}

		switch msg.Type {
		case msgStart:
			err := ctrl.StartVoiceSession(ctx,
				func(text string) { bridge.Notify(msgTranscription, text) },
				func(text string) { bridge.Notify(msgResponse, text) },
			)
			if err != nil {
				slog.Warn("Failed to start voice session", "error", err, "user_id", userID)
				bridge.Notify(msgError, err.Error())
			}
		case msgStop:
			ctrl.StopVoiceSession()
		case msgTranscript, msgRecognitionError:
			bridge.deliver(msg)
		case msgPing:
			bridge.Notify(msgPong, "")
		}
	}
}
