// Package listener manages the single live snapshot subscription behind a cache.
package listener

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukerupert/pantry/internal/docstore"
	"github.com/dukerupert/pantry/internal/metrics"
)

// Scope is what a subscription observes. Key identifies the scope for
// equality; two scopes with the same key are the same subscription.
type Scope struct {
	Key   string
	Query docstore.Query
}

// Manager keeps at most one subscription alive. Every snapshot it accepts is
// decoded and handed to apply as the complete new contents, together with the
// key of the scope it belongs to.
//
// Stores must deliver snapshots from their own goroutine, never from inside
// Listen.
type Manager[T any] struct {
	mu     sync.Mutex
	name   string
	store  docstore.Store
	decode func(docstore.Document) (T, error)
	apply  func(key string, items []T)
	logger *slog.Logger

	// gen advances on every start and stop; a delivery carrying an older
	// generation belongs to a superseded subscription.
	gen     uint64
	active  bool
	dialing bool
	scope   string
	sub     docstore.Subscription
}

func New[T any](name string, store docstore.Store, decode func(docstore.Document) (T, error), apply func(key string, items []T), logger *slog.Logger) *Manager[T] {
	return &Manager[T]{
		name:   name,
		store:  store,
		decode: decode,
		apply:  apply,
		logger: logger,
	}
}

// StartListening subscribes to scope, cancelling any subscription for a
// different scope first. Starting the scope that is already active is a no-op.
// ctx bounds establishing the subscription only; StopListening is the only way
// to end it. The store is dialled without holding the manager lock, and a
// subscription superseded while dialling is cancelled at once.
func (m *Manager[T]) StartListening(ctx context.Context, scope Scope) error {
	m.mu.Lock()
	if m.scope == scope.Key && (m.active || m.dialing) {
		m.mu.Unlock()
		return nil
	}
	m.stopLocked()
	gen := m.gen
	m.scope = scope.Key
	m.dialing = true
	m.mu.Unlock()

	sub, err := m.store.Listen(ctx, scope.Query, func(snap docstore.Snapshot) {
		m.deliver(gen, scope.Key, snap)
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		if sub != nil {
			sub.Cancel()
		}
		m.logger.Debug("subscription superseded while dialling", "cache", m.name, "scope", scope.Key)
		return nil
	}
	m.dialing = false
	if err != nil {
		m.gen++
		m.scope = ""
		return fmt.Errorf("listen %s %s: %w", m.name, scope.Key, err)
	}

	m.sub = sub
	m.active = true
	metrics.ActiveListeners.WithLabelValues(m.name).Set(1)
	m.logger.Debug("listening", "cache", m.name, "scope", scope.Key)
	return nil
}

// StopListening cancels the active subscription. It is a no-op when none is active.
func (m *Manager[T]) StopListening() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Manager[T]) stopLocked() {
	m.gen++
	m.dialing = false
	if !m.active {
		m.scope = ""
		return
	}
	m.sub.Cancel()
	m.logger.Debug("stopped listening", "cache", m.name, "scope", m.scope)
	m.sub = nil
	m.scope = ""
	m.active = false
	metrics.ActiveListeners.WithLabelValues(m.name).Set(0)
}

// Active reports whether a subscription is live and for which scope key.
func (m *Manager[T]) Active() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return "", false
	}
	return m.scope, true
}

func (m *Manager[T]) deliver(gen uint64, key string, snap docstore.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		metrics.SnapshotsDropped.WithLabelValues(m.name).Inc()
		m.logger.Debug("dropped snapshot for superseded scope", "cache", m.name, "scope", key)
		return
	}
	if snap.Err != nil {
		// Stale data beats no data: the cache keeps its last good value.
		metrics.ListenerErrors.WithLabelValues(m.name).Inc()
		m.logger.Error("listener error", "cache", m.name, "scope", key, "error", snap.Err)
		return
	}

	items := make([]T, 0, len(snap.Docs))
	for _, doc := range snap.Docs {
		item, err := m.decode(doc)
		if err != nil {
			m.logger.Warn("rejected document", "cache", m.name, "scope", key, "id", doc.ID, "error", err)
			continue
		}
		items = append(items, item)
	}
	m.apply(key, items)
	metrics.SnapshotsApplied.WithLabelValues(m.name).Inc()
}
