package docstore

import (
	"context"
	"log/slog"
	"sync"
)

// watcher is one registered listener. Each watcher owns a goroutine so
// deliveries to a single listener are strictly ordered; change
// notifications coalesce in a one-slot buffer because every delivery is a
// full re-query.
type watcher struct {
	query  Query
	fn     Listener
	kick   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// broker fans change notifications out to the watchers of a collection.
type broker struct {
	mu       sync.RWMutex
	watchers map[string]map[*watcher]struct{}
	logger   *slog.Logger
}

func newBroker(logger *slog.Logger) *broker {
	return &broker{
		watchers: make(map[string]map[*watcher]struct{}),
		logger:   logger,
	}
}

func (b *broker) register(w *watcher) {
	b.mu.Lock()
	set, ok := b.watchers[w.query.Collection]
	if !ok {
		set = make(map[*watcher]struct{})
		b.watchers[w.query.Collection] = set
	}
	set[w] = struct{}{}
	b.mu.Unlock()
}

func (b *broker) unregister(w *watcher) {
	b.mu.Lock()
	if set, ok := b.watchers[w.query.Collection]; ok {
		delete(set, w)
		if len(set) == 0 {
			delete(b.watchers, w.query.Collection)
		}
	}
	b.mu.Unlock()
}

// notify wakes every watcher of collection without blocking the writer.
func (b *broker) notify(collection string) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for w := range b.watchers[collection] {
		select {
		case w.kick <- struct{}{}:
		default:
			// A refresh is already pending; it will observe this change.
		}
	}
}

func (b *broker) count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, set := range b.watchers {
		n += len(set)
	}
	return n
}

// run delivers snapshots until the watcher is cancelled.
func (b *broker) run(w *watcher, query func(context.Context, Query) ([]Document, error)) {
	defer b.unregister(w)
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.kick:
		}

		docs, err := query(w.ctx, w.query)
		if w.ctx.Err() != nil {
			return
		}
		if err != nil {
			b.logger.Warn("listener query failed", "collection", w.query.Collection, "error", err)
		}
		w.fn(Snapshot{Docs: docs, Err: err})
	}
}

// listen registers fn and schedules the initial snapshot.
func (b *broker) listen(ctx context.Context, q Query, fn Listener, query func(context.Context, Query) ([]Document, error)) Subscription {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w := &watcher{
		query:  q,
		fn:     fn,
		kick:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	w.kick <- struct{}{}
	b.register(w)
	go b.run(w, query)
	return SubscriptionFunc(cancel)
}
