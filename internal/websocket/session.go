package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	ws "github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/dukerupert/pantry/internal/docstore"
)

const pingInterval = 30 * time.Second

// Session is one websocket connection serving a single snapshot listener.
type Session struct {
	hub    *Hub
	conn   *ws.Conn
	store  docstore.Store
	logger *slog.Logger

	// pending holds at most the newest undelivered message; an older one is
	// replaced because every snapshot is complete.
	pending chan docstore.ListenMessage

	closeOnce sync.Once
	cancel    context.CancelFunc
}

// NewSession creates a Session tied to the given hub and connection.
func NewSession(hub *Hub, conn *ws.Conn, store docstore.Store, logger *slog.Logger) *Session {
	return &Session{
		hub:     hub,
		conn:    conn,
		store:   store,
		logger:  logger,
		pending: make(chan docstore.ListenMessage, 1),
	}
}

// Run reads the query frame, subscribes, and pumps snapshots until the
// connection closes or ctx ends.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	s.hub.Register(s)
	defer s.hub.Unregister(s)

	var q docstore.Query
	if err := wsjson.Read(ctx, s.conn, &q); err != nil {
		s.logger.Warn("read listen query", "error", err)
		s.conn.Close(ws.StatusPolicyViolation, "expected query")
		return
	}

	sub, err := s.store.Listen(ctx, q, s.offer)
	if err != nil {
		s.logger.Warn("listen", "collection", q.Collection, "error", err)
		s.conn.Close(ws.StatusInternalError, "listen failed")
		return
	}
	defer sub.Cancel()

	go s.readPump(ctx, cancel)
	s.writePump(ctx)
}

// offer queues snap, replacing any message the writer has not sent yet.
func (s *Session) offer(snap docstore.Snapshot) {
	msg := docstore.NewListenMessage(snap)
	select {
	case <-s.pending:
	default:
	}
	s.pending <- msg
}

// readPump discards client frames; a read error means the peer went away.
func (s *Session) readPump(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := s.conn.Read(ctx); err != nil {
			return
		}
	}
}

func (s *Session) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer s.conn.Close(ws.StatusNormalClosure, "")

	for {
		select {
		case msg := <-s.pending:
			if err := wsjson.Write(ctx, s.conn, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close ends the session.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// HandleListen returns an HTTP handler that upgrades connections and runs
// them as listen sessions.
func HandleListen(hub *Hub, store docstore.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			logger.Warn("websocket accept", "error", err)
			return
		}
		conn.SetReadLimit(1 << 20)

		session := NewSession(hub, conn, store, logger)
		session.Run(r.Context())
	}
}
