package repository

import (
	"context"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/pantry/internal/docstore"
)

// batchSize is the largest id list sent in a single "in" query.
const batchSize = 10

// queryBatches runs one query per chunk of values concurrently. build turns a
// chunk into its query. Chunks that fail are reported through onErr and
// contribute nothing; the documents of every other chunk are returned.
func queryBatches(ctx context.Context, store docstore.Store, values []string, build func([]string) docstore.Query, onErr func(error)) []docstore.Document {
	values = uniqueNonEmpty(values)
	if len(values) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		docs []docstore.Document
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for chunk := range slices.Chunk(values, batchSize) {
		g.Go(func() error {
			found, err := store.Query(gctx, build(chunk))
			if err != nil {
				onErr(err)
				return nil
			}
			mu.Lock()
			docs = append(docs, found...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	slices.SortFunc(docs, func(a, b docstore.Document) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return docs
}

func uniqueNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
