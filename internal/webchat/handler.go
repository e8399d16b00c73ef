package webchat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/ashureev/laporan-bot/internal/engine"
	"github.com/ashureev/laporan-bot/internal/identity"
)

// Handler turns one inbound event into a reply.
type Handler interface {
	HandleRaw(ctx context.Context, raw engine.RawEvent) engine.Reply
}

const (
	// DefaultMaxPhotoBytes bounds a single decoded photo.
	DefaultMaxPhotoBytes = 10 << 20

	msgWelcome = "👋 Selamat datang! Ketik /start untuk membuat laporan baru."
)

// Frame types.
const (
	frameText  = "text"
	framePhoto = "photo"
	framePing  = "ping"
	framePong  = "pong"
	frameReply = "reply"
	frameError = "error"
)

// inFrame is a message from the browser. Photos carry base64 data.
type inFrame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Data    string `json:"data,omitempty"`
}

// outFrame is a message to the browser.
type outFrame struct {
	Type     string     `json:"type"`
	Text     string     `json:"text,omitempty"`
	Keyboard [][]string `json:"keyboard,omitempty"`
	State    string     `json:"state,omitempty"`
	Ended    bool       `json:"ended,omitempty"`
	Error    string     `json:"error,omitempty"`
}

func replyFrame(r engine.Reply) outFrame {
	return outFrame{Type: frameReply, Text: r.Text, Keyboard: r.Keyboard, State: string(r.State), Ended: r.Ended}
}

// WebSocketHandler serves one browser tab per connection.
type WebSocketHandler struct {
	handler       Handler
	sm            *SessionManager
	photos        *PhotoStore
	allowedOrigin string
	isDev         bool
	maxPhotoBytes int
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(h Handler, sm *SessionManager, photos *PhotoStore, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		handler:       h,
		sm:            sm,
		photos:        photos,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		maxPhotoBytes: DefaultMaxPhotoBytes,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	anonID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if anonID == "" {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	slog.Info("web chat connection request", "user_id", anonID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("failed to accept WebSocket", "error", err, "user_id", anonID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("failed to close websocket", "error", closeErr, "user_id", anonID)
		}
	}()
	// Base64 inflates by a third; leave room for the JSON envelope.
	ws.SetReadLimit(int64(h.maxPhotoBytes)*4/3 + 4096)

	h.sm.Register(anonID, sessionID, ws)
	defer h.sm.Unregister(anonID, sessionID, ws)

	if err := h.writeJSON(r.Context(), ws, outFrame{Type: frameReply, Text: msgWelcome, Keyboard: engine.RestartKeyboard()}); err != nil {
		slog.Debug("failed to send welcome", "error", err)
		return
	}

	h.inputLoop(r.Context(), ws, UserPrefix+anonID)
	slog.Info("web chat session ended", "user_id", anonID, "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) inputLoop(ctx context.Context, ws *websocket.Conn, userID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else if !errors.Is(err, context.Canceled) {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg inFrame
		if err := json.Unmarshal(message, &msg); err != nil {
			h.writeError(ctx, ws, "invalid_frame")
			continue
		}

		switch msg.Type {
		case frameText:
			h.dispatch(ctx, textEvent(userID, msg.Content))
		case framePhoto:
			raw, code := h.photoEvent(userID, msg)
			if code != "" {
				h.writeError(ctx, ws, code)
				continue
			}
			h.dispatch(ctx, raw)
		case framePing:
			if err := h.writeJSON(ctx, ws, outFrame{Type: framePong}); err != nil {
				slog.Debug("failed to send pong", "error", err)
			}
		default:
			h.writeError(ctx, ws, "unknown_frame")
		}
	}
}

func textEvent(userID, content string) engine.RawEvent {
	kind := engine.RawText
	if strings.HasPrefix(strings.TrimSpace(content), "/") {
		kind = engine.RawCommand
	}
	return engine.RawEvent{UserID: userID, Kind: kind, Text: content}
}

func (h *WebSocketHandler) photoEvent(userID string, msg inFrame) (engine.RawEvent, string) {
	data, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil || len(data) == 0 {
		return engine.RawEvent{}, "invalid_photo"
	}
	if len(data) > h.maxPhotoBytes {
		return engine.RawEvent{}, "photo_too_large"
	}
	ref, err := h.photos.Put(userID, data)
	if errors.Is(err, ErrNotImage) {
		return engine.RawEvent{}, "unsupported_image"
	}
	if err != nil {
		slog.Error("failed to store web chat photo", "user_id", userID, "error", err)
		return engine.RawEvent{}, "photo_store_failed"
	}
	return engine.RawEvent{UserID: userID, Kind: engine.RawPhoto, Text: msg.Content, Photo: &ref}, ""
}

// dispatch runs the engine and fans the reply out to every tab of the user.
// A closing tab does not abort a conversation step already under way.
func (h *WebSocketHandler) dispatch(ctx context.Context, raw engine.RawEvent) {
	ctx = context.WithoutCancel(ctx)
	reply := h.handler.HandleRaw(ctx, raw)
	h.sm.Deliver(ctx, raw.UserID, reply)
}

func (h *WebSocketHandler) writeError(ctx context.Context, ws *websocket.Conn, code string) {
	if err := h.writeJSON(ctx, ws, outFrame{Type: frameError, Error: code}); err != nil {
		slog.Debug("failed to send error frame", "error", err, "code", code)
	}
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
