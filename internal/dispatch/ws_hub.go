package dispatch

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/ride-client/internal/logging"
)

const writeWait = 5 * time.Second

// ErrNoSession is returned by Send for an unknown session id.
var ErrNoSession = errors.New("dispatch: no ws session")

// conn is the part of *websocket.Conn the hub needs.
type conn interface {
	SetWriteDeadline(t time.Time) error
	WriteJSON(v any) error
	Close() error
}

// WSSession represents one connected screen.
type WSSession struct {
	conn conn
	mu   sync.Mutex
}

func (s *WSSession) Send(t Toast) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(t)
}

// Hub holds screen sessions and broadcasts toasts to all of them.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	logger   *slog.Logger
	now      func() time.Time
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{sessions: make(map[string]*WSSession), logger: logging.Or(logger), now: time.Now}
}

// Add registers a websocket connection and returns its session id.
func (h *Hub) Add(c *websocket.Conn) string {
	return h.add(c)
}

func (h *Hub) add(c conn) string {
	id := uuid.NewString()
	h.mu.Lock()
	h.sessions[id] = &WSSession{conn: c}
	h.mu.Unlock()
	return id
}

func (h *Hub) Remove(id string) {
	h.mu.Lock()
	s, ok := h.sessions[id]
	delete(h.sessions, id)
	h.mu.Unlock()
	if ok {
		_ = s.conn.Close()
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Send delivers t to one session.
func (h *Hub) Send(id string, t Toast) error {
	h.mu.RLock()
	s, ok := h.sessions[id]
	h.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return s.Send(t)
}

// Notify broadcasts a toast. Sessions that fail to receive it are dropped.
func (h *Hub) Notify(kind Kind, message string) {
	t := Toast{Kind: kind, Message: message, At: h.now()}
	LogNotifier{Logger: h.logger}.Notify(kind, message)

	h.mu.RLock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	for _, id := range ids {
		if err := h.Send(id, t); err != nil && !errors.Is(err, ErrNoSession) {
			h.logger.Warn("ws send error", "session", id, "error", err)
			h.Remove(id)
		}
	}
}
