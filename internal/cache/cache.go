// Package cache holds observable in-memory values that repositories publish
// to many concurrent readers.
//
// Values are published whole: a reader always sees one complete value, never
// a partially applied change. Published values are shared between readers and
// must be treated as immutable.
package cache

import "sync"

// Snapshot is one published value with its version. Versions start at 1 for
// the first published value and increase by one per publish.
type Snapshot[V any] struct {
	Value   V
	Version uint64
}

// Value is a single observable value with one writer and many readers.
type Value[V any] struct {
	mu       sync.RWMutex
	current  V
	version  uint64
	watchers map[*Watcher[V]]struct{}
}

func NewValue[V any](initial V) *Value[V] {
	return &Value[V]{
		current:  initial,
		watchers: make(map[*Watcher[V]]struct{}),
	}
}

// Load returns the current value and its version.
func (v *Value[V]) Load() (V, uint64) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current, v.version
}

// Get returns the current value.
func (v *Value[V]) Get() V {
	val, _ := v.Load()
	return val
}

// Store publishes val to every watcher.
func (v *Value[V]) Store(val V) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.publishLocked(val)
}

// Swap applies fn to the current value and publishes the result atomically.
func (v *Value[V]) Swap(fn func(V) V) V {
	v.mu.Lock()
	defer v.mu.Unlock()
	next := fn(v.current)
	v.publishLocked(next)
	return next
}

func (v *Value[V]) publishLocked(val V) {
	v.current = val
	v.version++
	snap := Snapshot[V]{Value: val, Version: v.version}
	for w := range v.watchers {
		w.offer(snap)
	}
}

// Watch returns a watcher primed with the current value.
func (v *Value[V]) Watch() *Watcher[V] {
	w := &Watcher[V]{ch: make(chan Snapshot[V], 1)}

	v.mu.Lock()
	defer v.mu.Unlock()
	w.parent = func() { v.unwatch(w) }
	w.ch <- Snapshot[V]{Value: v.current, Version: v.version}
	v.watchers[w] = struct{}{}
	return w
}

func (v *Value[V]) unwatch(w *Watcher[V]) {
	v.mu.Lock()
	delete(v.watchers, w)
	v.mu.Unlock()
}

// Watcher delivers the latest value. A slow reader skips intermediate values
// but never receives one older than a value it has already received.
type Watcher[V any] struct {
	ch     chan Snapshot[V]
	parent func()
	once   sync.Once
}

// offer is only called with the parent's write lock held, so there is a
// single sender and the buffer slot is free after the drain.
func (w *Watcher[V]) offer(snap Snapshot[V]) {
	select {
	case <-w.ch:
	default:
	}
	w.ch <- snap
}

// C returns the channel snapshots arrive on.
func (w *Watcher[V]) C() <-chan Snapshot[V] {
	return w.ch
}

// Close stops delivery. The channel is not closed; callers select on their own
// done signal.
func (w *Watcher[V]) Close() {
	w.once.Do(w.parent)
}
