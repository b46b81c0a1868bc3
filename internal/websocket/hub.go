package websocket

import (
	"log/slog"
	"sync"

	"github.com/dukerupert/pantry/internal/metrics"
)

// Hub tracks the open listen sessions so they can be counted and closed on shutdown.
type Hub struct {
	mu       sync.RWMutex
	sessions map[*Session]struct{}
	logger   *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		sessions: make(map[*Session]struct{}),
		logger:   logger,
	}
}

// Register adds a session to the hub.
func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	metrics.WebsocketSessions.Set(float64(len(h.sessions)))
	h.mu.Unlock()
}

// Unregister removes a session from the hub. It is safe to call twice.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[s]; ok {
		delete(h.sessions, s)
		metrics.WebsocketSessions.Set(float64(len(h.sessions)))
	}
	h.mu.Unlock()
}

// CloseAll stops every session, used during shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		s.Close()
	}
	h.logger.Info("closed listen sessions", "count", len(sessions))
}

// SessionCount returns the number of open sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
