package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/pantry/internal/auth"
	"github.com/dukerupert/pantry/internal/database"
	"github.com/dukerupert/pantry/internal/docstore"
)

var errUnavailable = errors.New("store unavailable")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupStore(t *testing.T) *docstore.SQLStore {
	t.Helper()
	db, err := database.Open(database.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return docstore.NewSQLStore(db, database.DriverSQLite, discardLogger())
}

func signedIn(userID string) *auth.Session {
	s := auth.NewSession()
	s.SignIn(auth.Identity{UserID: userID, DisplayName: "User " + userID, Email: userID + "@example.com"})
	return s
}

// failingStore passes calls through until fail is set, then every call errors.
type failingStore struct {
	docstore.Store
	mu   sync.Mutex
	fail bool
}

func (f *failingStore) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *failingStore) failing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail
}

func (f *failingStore) Get(ctx context.Context, ref docstore.Ref) (docstore.Document, error) {
	if f.failing() {
		return docstore.Document{}, errUnavailable
	}
	return f.Store.Get(ctx, ref)
}

func (f *failingStore) Set(ctx context.Context, ref docstore.Ref, data map[string]any) error {
	if f.failing() {
		return errUnavailable
	}
	return f.Store.Set(ctx, ref, data)
}

func (f *failingStore) Update(ctx context.Context, ref docstore.Ref, fields map[string]any) error {
	if f.failing() {
		return errUnavailable
	}
	return f.Store.Update(ctx, ref, fields)
}

func (f *failingStore) Delete(ctx context.Context, ref docstore.Ref) error {
	if f.failing() {
		return errUnavailable
	}
	return f.Store.Delete(ctx, ref)
}

func (f *failingStore) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if f.failing() {
		return nil, errUnavailable
	}
	return f.Store.Query(ctx, q)
}

// countingStore counts writes per document.
type countingStore struct {
	docstore.Store
	mu   sync.Mutex
	sets map[string]int
}

func (c *countingStore) Set(ctx context.Context, ref docstore.Ref, data map[string]any) error {
	c.mu.Lock()
	if c.sets == nil {
		c.sets = make(map[string]int)
	}
	c.sets[ref.String()]++
	c.mu.Unlock()
	return c.Store.Set(ctx, ref, data)
}

func (c *countingStore) setCount(ref docstore.Ref) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets[ref.String()]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
