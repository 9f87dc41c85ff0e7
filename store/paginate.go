package store

import (
	"context"

	"github.com/jacentio/storefront/internal/keycodec"
	"github.com/jacentio/storefront/kv"
)

// paginate reads one page below prefix. It reads one entry past the page to
// learn whether another page exists, and only then returns a cursor naming the
// last entry of this page.
func paginate(ctx context.Context, backend kv.Store, prefix kv.Key, cursor string, limit int, cfg Config) ([]kv.Entry, string, error) {
	sel := kv.Selector{Prefix: prefix}
	if cursor != "" {
		after, err := keycodec.DecodeCursor(prefix, cursor)
		if err != nil {
			return nil, "", ErrMalformedCursor
		}
		sel.After = after
	}

	if limit <= 0 || (cfg.MaxPageSize > 0 && limit > cfg.MaxPageSize) {
		limit = cfg.MaxPageSize
	}
	opts := kv.ListOptions{BatchSize: cfg.BatchSize}
	if limit > 0 {
		opts.Limit = limit + 1
	}

	it := backend.List(ctx, sel, opts)
	defer it.Close()

	var entries []kv.Entry
	for it.Next() {
		entries = append(entries, it.Entry())
	}
	if err := it.Err(); err != nil {
		return nil, "", transactionFailure("list "+prefix.String(), err)
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
		return entries, keycodec.EncodeCursor(prefix, entries[limit-1].Key), nil
	}
	return entries, "", nil
}
