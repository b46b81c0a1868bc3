// Package docstore is the document database the repositories synchronize
// against: collections of JSON-like documents keyed by string ids, with
// snapshot listeners that deliver the full current result set on every change.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"slices"
	"strings"
)

// ErrNotFound is returned by Get and Update when the document does not exist.
// Delete of a missing document is not an error.
var ErrNotFound = errors.New("document not found")

type Document struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}

// Ref addresses a single document.
type Ref struct {
	Collection string
	ID         string
}

func Doc(collection, id string) Ref {
	return Ref{Collection: collection, ID: id}
}

func (r Ref) String() string {
	return r.Collection + "/" + r.ID
}

// Path joins collection path segments, e.g. Path("households", id, "items").
func Path(segments ...string) string {
	return strings.Join(segments, "/")
}

type Op string

const (
	OpEqual         Op = "=="
	OpIn            Op = "in"
	OpArrayContains Op = "array-contains"
)

type Filter struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value any    `json:"value"`
}

// Query selects documents from one collection. A nil IDs slice does not
// restrict by id; callers wanting "no documents" must not issue the query.
type Query struct {
	Collection string   `json:"collection"`
	IDs        []string `json:"ids,omitempty"`
	Filters    []Filter `json:"filters,omitempty"`
}

// Where returns a copy of q with an additional filter.
func (q Query) Where(field string, op Op, value any) Query {
	q.Filters = append(slices.Clone(q.Filters), Filter{Field: field, Op: op, Value: value})
	return q
}

// Matches reports whether doc satisfies the id restriction and every filter.
func (q Query) Matches(doc Document) bool {
	if len(q.IDs) > 0 && !slices.Contains(q.IDs, doc.ID) {
		return false
	}
	for _, f := range q.Filters {
		if !f.matches(doc.Data) {
			return false
		}
	}
	return true
}

func (f Filter) matches(data map[string]any) bool {
	v, ok := data[f.Field]
	if !ok {
		return false
	}
	switch f.Op {
	case OpEqual:
		return equalValues(v, f.Value)
	case OpIn:
		list, ok := normalize(f.Value).([]any)
		if !ok {
			return false
		}
		for _, candidate := range list {
			if equalValues(v, candidate) {
				return true
			}
		}
		return false
	case OpArrayContains:
		list, ok := normalize(v).([]any)
		if !ok {
			return false
		}
		for _, elem := range list {
			if equalValues(elem, f.Value) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// normalize maps a Go value onto its JSON-decoded shape so values written in
// process compare equal to values read back from storage.
func normalize(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

func equalValues(a, b any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

// Snapshot is one delivery from a listener: either the complete result set
// or an error.
type Snapshot struct {
	Docs []Document
	Err  error
}

// Listener receives snapshots in the order the store produces them.
type Listener func(Snapshot)

// Subscription is the handle for a live listener. Cancel stops future
// deliveries; a delivery already in progress may still complete.
type Subscription interface {
	Cancel()
}

// Store is the remote document database. For Listen, ctx bounds setting up
// the subscription; the subscription itself lasts until Cancel.
type Store interface {
	Get(ctx context.Context, ref Ref) (Document, error)
	Set(ctx context.Context, ref Ref, data map[string]any) error
	Update(ctx context.Context, ref Ref, fields map[string]any) error
	Delete(ctx context.Context, ref Ref) error
	Query(ctx context.Context, q Query) ([]Document, error)
	Listen(ctx context.Context, q Query, fn Listener) (Subscription, error)
}

// Entry is a document together with its collection, used for export and import.
type Entry struct {
	Collection string         `json:"collection"`
	ID         string         `json:"id"`
	Data       map[string]any `json:"data"`
}

// Exporter is implemented by stores that can dump and restore their full contents.
type Exporter interface {
	Export(ctx context.Context) ([]Entry, error)
	Import(ctx context.Context, entries []Entry) error
}

// SubscriptionFunc adapts a function to the Subscription interface.
type SubscriptionFunc func()

func (f SubscriptionFunc) Cancel() { f() }
