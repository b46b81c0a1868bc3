package cache

import "slices"

// List is the entity cache: an observable, copy-on-write slice of T.
type List[T any] struct {
	value *Value[[]T]
}

func NewList[T any]() *List[T] {
	return &List[T]{value: NewValue[[]T](nil)}
}

// Items returns the current contents. The slice must not be modified.
func (l *List[T]) Items() []T {
	return l.value.Get()
}

// Load returns the current contents and version.
func (l *List[T]) Load() ([]T, uint64) {
	return l.value.Load()
}

// Replace swaps in a copy of items.
func (l *List[T]) Replace(items []T) {
	l.value.Store(slices.Clone(items))
}

// Update replaces every item matching pred with transform(item) and reports
// how many matched.
func (l *List[T]) Update(pred func(T) bool, transform func(T) T) int {
	n := 0
	l.value.Swap(func(cur []T) []T {
		next := make([]T, len(cur))
		for i, item := range cur {
			if pred(item) {
				item = transform(item)
				n++
			}
			next[i] = item
		}
		return next
	})
	return n
}

// Upsert replaces items matching pred with item, or appends item when none match.
func (l *List[T]) Upsert(pred func(T) bool, item T) {
	l.value.Swap(func(cur []T) []T {
		next := make([]T, 0, len(cur)+1)
		found := false
		for _, existing := range cur {
			if pred(existing) {
				existing = item
				found = true
			}
			next = append(next, existing)
		}
		if !found {
			next = append(next, item)
		}
		return next
	})
}

// Remove drops items matching pred and reports how many were removed. The
// cache is not republished when nothing matched.
func (l *List[T]) Remove(pred func(T) bool) int {
	cur, _ := l.value.Load()
	if !slices.ContainsFunc(cur, pred) {
		return 0
	}
	removed := 0
	l.value.Swap(func(cur []T) []T {
		next := make([]T, 0, len(cur))
		for _, item := range cur {
			if pred(item) {
				removed++
				continue
			}
			next = append(next, item)
		}
		return next
	})
	return removed
}

// Find returns the first item matching pred.
func (l *List[T]) Find(pred func(T) bool) (T, bool) {
	items := l.Items()
	i := slices.IndexFunc(items, pred)
	if i < 0 {
		var zero T
		return zero, false
	}
	return items[i], true
}

// Watch observes the list.
func (l *List[T]) Watch() *Watcher[[]T] {
	return l.value.Watch()
}
