// Package webchat serves the report conversation over WebSocket for
// browsers, using the same engine as the Telegram bot.
package webchat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/ashureev/laporan-bot/internal/engine"
)

// UserPrefix namespaces web chat users in the session store.
const UserPrefix = "web:"

// ErrNotWebUser is returned when a user id does not belong to the web chat.
var ErrNotWebUser = errors.New("not a web chat user")

// Conn is the part of a WebSocket connection the manager writes to.
type Conn interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// SessionManager tracks every open tab per user so replies reach all of them.
type SessionManager struct {
	mu     sync.RWMutex
	active map[string]map[string]Conn
	photos *PhotoStore
}

// NewSessionManager creates a new session manager. photos may be nil.
func NewSessionManager(photos *PhotoStore) *SessionManager {
	return &SessionManager{
		active: make(map[string]map[string]Conn),
		photos: photos,
	}
}

// GetActive returns the connection for a user and tab.
func (m *SessionManager) GetActive(userID, sessionID string) Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sessions, ok := m.active[userID]; ok {
		return sessions[sessionID]
	}
	return nil
}

// Register adds a connection for a user/tab, closing any it replaces.
func (m *SessionManager) Register(userID, sessionID string, conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]Conn)
	}

	if existing, exists := m.active[userID][sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}

	m.active[userID][sessionID] = conn
	slog.Info("web chat session registered", "user_id", userID, "session_id", sessionID)
}

// Unregister removes conn if it is still the current one for the tab.
func (m *SessionManager) Unregister(userID, sessionID string, conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[userID]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(m.active, userID)
			}
			slog.Info("web chat session unregistered", "user_id", userID, "session_id", sessionID)
		}
	}
}

func (m *SessionManager) conns(userID string) []Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Conn, 0, len(m.active[userID]))
	for _, c := range m.active[userID] {
		out = append(out, c)
	}
	return out
}

// Broadcast writes frame to every open tab of userID and returns how
// many writes succeeded.
func (m *SessionManager) Broadcast(ctx context.Context, userID string, frame any) int {
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("failed to encode web chat frame", "error", err)
		return 0
	}
	sent := 0
	for _, c := range m.conns(userID) {
		if err := c.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("web chat write failed", "user_id", userID, "error", err)
			continue
		}
		sent++
	}
	return sent
}

// Deliver sends an engine reply to every tab of the engine user id.
func (m *SessionManager) Deliver(ctx context.Context, engineUserID string, reply engine.Reply) int {
	anonID, ok := strings.CutPrefix(engineUserID, UserPrefix)
	if !ok {
		return 0
	}
	if reply.Ended && m.photos != nil {
		m.photos.DropUser(engineUserID)
	}
	return m.Broadcast(ctx, anonID, replyFrame(reply))
}

// Notify sends an out-of-band message, such as an expiry notice.
func (m *SessionManager) Notify(ctx context.Context, engineUserID, text string) error {
	if !strings.HasPrefix(engineUserID, UserPrefix) {
		return ErrNotWebUser
	}
	m.Deliver(ctx, engineUserID, engine.Reply{Text: text, Keyboard: engine.RestartKeyboard(), Ended: true})
	return nil
}

// CloseAll terminates every open connection.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for userID, sessions := range m.active {
		for _, conn := range sessions {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		delete(m.active, userID)
	}
}
