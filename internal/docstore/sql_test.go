package docstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dukerupert/pantry/internal/database"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := database.Open(database.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSQLStore(db, database.DriverSQLite, discardLogger())
}

// collect registers a listener and returns a channel of its snapshots.
func collect(t *testing.T, s Store, q Query) <-chan Snapshot {
	t.Helper()
	ch := make(chan Snapshot, 16)
	sub, err := s.Listen(context.Background(), q, func(snap Snapshot) { ch <- snap })
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(sub.Cancel)
	return ch
}

func next(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case snap := <-ch:
		return snap
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot delivered")
		return Snapshot{}
	}
}

// nextWith waits for a snapshot holding want documents.
func nextWith(t *testing.T, ch <-chan Snapshot, want int) Snapshot {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case snap := <-ch:
			if snap.Err == nil && len(snap.Docs) == want {
				return snap
			}
		case <-deadline:
			t.Fatalf("no snapshot with %d documents", want)
			return Snapshot{}
		}
	}
}

func TestGetSetDelete(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	ref := Doc("households", "h1")

	if _, err := s.Get(ctx, ref); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
	if err := s.Set(ctx, ref, map[string]any{"name": "Home", "members": []string{"u1"}}); err != nil {
		t.Fatalf("set: %v", err)
	}
	doc, err := s.Get(ctx, ref)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.ID != "h1" || doc.Data["name"] != "Home" {
		t.Errorf("doc = %+v", doc)
	}

	if err := s.Delete(ctx, ref); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, ref); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
	if _, err := s.Get(ctx, ref); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(deleted) error = %v, want ErrNotFound", err)
	}
}

func TestUpdateMergesFields(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	ref := Doc("users", "u1")

	if err := s.Update(ctx, ref, map[string]any{"username": "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update(missing) error = %v, want ErrNotFound", err)
	}
	if err := s.Set(ctx, ref, map[string]any{"username": "ada", "email": "ada@example.com"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Update(ctx, ref, map[string]any{"username": "Ada L."}); err != nil {
		t.Fatalf("update: %v", err)
	}
	doc, err := s.Get(ctx, ref)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.Data["username"] != "Ada L." || doc.Data["email"] != "ada@example.com" {
		t.Errorf("data = %v", doc.Data)
	}
}

func TestQueryFilters(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	for id, data := range map[string]map[string]any{
		"u1": {"email": "a@example.com", "householdUIDs": []string{"h1", "h2"}},
		"u2": {"email": "b@example.com", "householdUIDs": []string{"h2"}},
		"u3": {"email": "c@example.com", "householdUIDs": []string{}},
	} {
		if err := s.Set(ctx, Doc("users", id), data); err != nil {
			t.Fatalf("set %s: %v", id, err)
		}
	}
	if err := s.Set(ctx, Doc("households", "u1"), map[string]any{}); err != nil {
		t.Fatalf("set: %v", err)
	}

	tests := []struct {
		name string
		q    Query
		want []string
	}{
		{"whole collection", Query{Collection: "users"}, []string{"u1", "u2", "u3"}},
		{"ids", Query{Collection: "users", IDs: []string{"u3", "u1", "nobody"}}, []string{"u1", "u3"}},
		{"equal", Query{Collection: "users"}.Where("email", OpEqual, "b@example.com"), []string{"u2"}},
		{"in", Query{Collection: "users"}.Where("email", OpIn, []string{"a@example.com", "c@example.com"}), []string{"u1", "u3"}},
		{"array contains", Query{Collection: "users"}.Where("householdUIDs", OpArrayContains, "h2"), []string{"u1", "u2"}},
		{"missing field", Query{Collection: "users"}.Where("phone", OpEqual, "1"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := s.Query(ctx, tt.q)
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			var got []string
			for _, d := range docs {
				got = append(got, d.ID)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ids = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("ids = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestListenDeliversInitialAndChanges(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	items := Path("households", "h1", "items")
	if err := s.Set(ctx, Doc(items, "i1"), map[string]any{"name": "Milk"}); err != nil {
		t.Fatalf("set: %v", err)
	}

	ch := collect(t, s, Query{Collection: items})
	if snap := next(t, ch); len(snap.Docs) != 1 || snap.Docs[0].ID != "i1" {
		t.Fatalf("initial snapshot = %+v", snap)
	}

	if err := s.Set(ctx, Doc(items, "i2"), map[string]any{"name": "Eggs"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	nextWith(t, ch, 2)

	// Writes to another household's items do not match the query.
	if err := s.Set(ctx, Doc(Path("households", "h2", "items"), "x"), map[string]any{}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Delete(ctx, Doc(items, "i1")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	snap := nextWith(t, ch, 1)
	if snap.Docs[0].ID != "i2" {
		t.Errorf("remaining = %q, want i2", snap.Docs[0].ID)
	}
}

func TestListenCancel(t *testing.T) {
	s := setupStore(t)
	ch := make(chan Snapshot, 16)
	sub, err := s.Listen(context.Background(), Query{Collection: "users"}, func(snap Snapshot) { ch <- snap })
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	next(t, ch)
	if s.ListenerCount() != 1 {
		t.Fatalf("listeners = %d, want 1", s.ListenerCount())
	}

	sub.Cancel()
	deadline := time.Now().Add(5 * time.Second)
	for s.ListenerCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.ListenerCount() != 0 {
		t.Fatalf("listeners = %d after cancel, want 0", s.ListenerCount())
	}
	if err := s.Set(context.Background(), Doc("users", "u1"), map[string]any{}); err != nil {
		t.Fatalf("set: %v", err)
	}
	select {
	case snap := <-ch:
		t.Fatalf("snapshot after cancel: %+v", snap)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestListenOutlivesSetupContext(t *testing.T) {
	s := setupStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan Snapshot, 16)
	sub, err := s.Listen(ctx, Query{Collection: "users"}, func(snap Snapshot) { ch <- snap })
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer sub.Cancel()
	next(t, ch)
	cancel()

	if err := s.Set(context.Background(), Doc("users", "u1"), map[string]any{}); err != nil {
		t.Fatalf("set: %v", err)
	}
	nextWith(t, ch, 1)
}

func TestListenRequiresCollection(t *testing.T) {
	s := setupStore(t)
	if _, err := s.Listen(context.Background(), Query{}, func(Snapshot) {}); err == nil {
		t.Fatal("Listen() error = nil, want error")
	}
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	if err := s.Set(ctx, Doc("households", "h1"), map[string]any{"name": "Home"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, Doc("users", "u1"), map[string]any{"email": "a@example.com"}); err != nil {
		t.Fatalf("set: %v", err)
	}

	entries, err := s.Export(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(entries) != 2 || entries[0].Collection != "households" || entries[1].Collection != "users" {
		t.Fatalf("entries = %+v", entries)
	}

	ch := collect(t, s, Query{Collection: "households"})
	nextWith(t, ch, 1)

	if err := s.Import(ctx, []Entry{{Collection: "users", ID: "u2", Data: map[string]any{"email": "b@example.com"}}}); err != nil {
		t.Fatalf("import: %v", err)
	}
	// The emptied collection is notified too.
	nextWith(t, ch, 0)

	if _, err := s.Get(ctx, Doc("users", "u1")); !errors.Is(err, ErrNotFound) {
		t.Errorf("u1 survived import: %v", err)
	}
	if _, err := s.Get(ctx, Doc("users", "u2")); err != nil {
		t.Errorf("u2 not imported: %v", err)
	}
}

func TestRebind(t *testing.T) {
	s := &SQLStore{postgres: true}
	got := s.rebind(`SELECT data FROM documents WHERE collection = ? AND id = ?`)
	want := `SELECT data FROM documents WHERE collection = $1 AND id = $2`
	if got != want {
		t.Errorf("rebind = %q, want %q", got, want)
	}
}

func TestListenMessageRoundTrip(t *testing.T) {
	snap := NewListenMessage(Snapshot{Err: errors.New("permission denied")}).Snapshot()
	if snap.Err == nil || snap.Err.Error() != "permission denied" {
		t.Errorf("error snapshot = %+v", snap)
	}
	msg := NewListenMessage(Snapshot{Docs: []Document{{ID: "a"}}})
	if msg.Type != MessageSnapshot || len(msg.Snapshot().Docs) != 1 {
		t.Errorf("message = %+v", msg)
	}
}
