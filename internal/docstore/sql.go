package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/dukerupert/pantry/internal/metrics"
)

// SQLStore keeps documents in a single table of JSON blobs. It works with
// the sqlite and postgres drivers opened by the database package.
type SQLStore struct {
	db       *sql.DB
	postgres bool
	broker   *broker
	logger   *slog.Logger
	nowFn    func() time.Time
}

// NewSQLStore wraps an open database. driver selects placeholder syntax.
func NewSQLStore(db *sql.DB, driver string, logger *slog.Logger) *SQLStore {
	return &SQLStore{
		db:       db,
		postgres: driver == "postgres" || driver == "pgx",
		broker:   newBroker(logger),
		logger:   logger,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// rebind rewrites ? placeholders as $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func decodeData(raw string) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

func (s *SQLStore) Get(ctx context.Context, ref Ref) (Document, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT data FROM documents WHERE collection = ? AND id = ?`),
		ref.Collection, ref.ID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document %s: %w", ref, err)
	}
	data, err := decodeData(raw)
	if err != nil {
		return Document{}, err
	}
	return Document{ID: ref.ID, Data: data}, nil
}

const upsertDocument = `INSERT INTO documents (collection, id, data, updated_at) VALUES (?, ?, ?, ?)
	ON CONFLICT (collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`

func (s *SQLStore) Set(ctx context.Context, ref Ref, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(upsertDocument), ref.Collection, ref.ID, string(raw), s.nowFn()); err != nil {
		return fmt.Errorf("set document %s: %w", ref, err)
	}
	metrics.StoreWrites.WithLabelValues("set").Inc()
	s.broker.notify(ref.Collection)
	return nil
}

// Update merges top-level fields into an existing document.
func (s *SQLStore) Update(ctx context.Context, ref Ref, fields map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx,
		s.rebind(`SELECT data FROM documents WHERE collection = ? AND id = ?`),
		ref.Collection, ref.ID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read document %s: %w", ref, err)
	}
	data, err := decodeData(raw)
	if err != nil {
		return err
	}
	maps.Copy(data, fields)

	merged, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		s.rebind(`UPDATE documents SET data = ?, updated_at = ? WHERE collection = ? AND id = ?`),
		string(merged), s.nowFn(), ref.Collection, ref.ID,
	); err != nil {
		return fmt.Errorf("update document %s: %w", ref, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update: %w", err)
	}
	metrics.StoreWrites.WithLabelValues("update").Inc()
	s.broker.notify(ref.Collection)
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, ref Ref) error {
	if _, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM documents WHERE collection = ? AND id = ?`),
		ref.Collection, ref.ID,
	); err != nil {
		return fmt.Errorf("delete document %s: %w", ref, err)
	}
	metrics.StoreWrites.WithLabelValues("delete").Inc()
	s.broker.notify(ref.Collection)
	return nil
}

func (s *SQLStore) Query(ctx context.Context, q Query) ([]Document, error) {
	stmt := `SELECT id, data FROM documents WHERE collection = ?`
	args := []any{q.Collection}
	if len(q.IDs) > 0 {
		stmt += ` AND id IN (` + strings.TrimSuffix(strings.Repeat("?, ", len(q.IDs)), ", ") + `)`
		for _, id := range q.IDs {
			args = append(args, id)
		}
	}
	stmt += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, s.rebind(stmt), args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		data, err := decodeData(raw)
		if err != nil {
			return nil, err
		}
		doc := Document{ID: id, Data: data}
		if q.Matches(doc) {
			docs = append(docs, doc)
		}
	}
	return docs, rows.Err()
}

// Listen registers fn for q. The first snapshot is delivered asynchronously
// shortly after registration.
func (s *SQLStore) Listen(ctx context.Context, q Query, fn Listener) (Subscription, error) {
	if q.Collection == "" {
		return nil, fmt.Errorf("listen: collection is required")
	}
	return s.broker.listen(ctx, q, fn, s.Query), nil
}

// ListenerCount returns the number of live listeners.
func (s *SQLStore) ListenerCount() int {
	return s.broker.count()
}

func (s *SQLStore) Export(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT collection, id, data FROM documents ORDER BY collection ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("export documents: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var raw string
		if err := rows.Scan(&e.Collection, &e.ID, &raw); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if e.Data, err = decodeData(raw); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Import replaces the full contents of the store with entries in one transaction.
func (s *SQLStore) Import(ctx context.Context, entries []Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	collections := make(map[string]struct{})
	rows, err := tx.QueryContext(ctx, `SELECT DISTINCT collection FROM documents`)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			rows.Close()
			return fmt.Errorf("scan collection: %w", err)
		}
		collections[c] = struct{}{}
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return fmt.Errorf("clear documents: %w", err)
	}
	now := s.nowFn()
	for _, e := range entries {
		raw, err := json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("encode document: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(upsertDocument), e.Collection, e.ID, string(raw), now); err != nil {
			return fmt.Errorf("import document %s/%s: %w", e.Collection, e.ID, err)
		}
		collections[e.Collection] = struct{}{}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	for c := range collections {
		s.broker.notify(c)
	}
	return nil
}
