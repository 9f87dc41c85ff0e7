// Package sqlitekv is a kv.Store kept in a single SQLite database file.
//
// Tables:
//
//	kv(k, v, ver)    PRIMARY KEY (k), k is the packed tuple key
//	kv_seq(id, seq)  single row holding the versionstamp counter
//
// Commits run inside one BEGIN IMMEDIATE transaction, so checks and writes are
// evaluated under the database write lock.
package sqlitekv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"

	"github.com/jacentio/storefront/internal/keycodec"
	"github.com/jacentio/storefront/kv"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	k   BLOB PRIMARY KEY,
	v   BLOB NOT NULL,
	ver TEXT NOT NULL
) WITHOUT ROWID;
CREATE TABLE IF NOT EXISTS kv_seq (
	id  INTEGER PRIMARY KEY CHECK (id = 1),
	seq INTEGER NOT NULL
);
INSERT OR IGNORE INTO kv_seq (id, seq) VALUES (1, 0);
`

// Store is a SQLite-backed kv.Store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. The special path
// ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	dsn := "file::memory:?_txlock=immediate"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		dsn = fmt.Sprintf("file:%s?_txlock=immediate&_journal_mode=WAL&_busy_timeout=5000", path)
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Get reads one key.
func (s *Store) Get(ctx context.Context, key kv.Key) (kv.Entry, error) {
	var (
		value []byte
		ver   string
	)
	err := s.db.QueryRowContext(ctx, "SELECT v, ver FROM kv WHERE k = ?", keycodec.Pack(key)).Scan(&value, &ver)
	if errors.Is(err, sql.ErrNoRows) {
		return kv.Entry{Key: key}, nil
	}
	if err != nil {
		return kv.Entry{}, mapError(err)
	}
	return kv.Entry{Key: key, Value: value, Versionstamp: ver}, nil
}

// Commit applies op in one immediate transaction.
func (s *Store) Commit(ctx context.Context, op *kv.AtomicOperation) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", mapError(err)
	}
	defer tx.Rollback()

	for _, c := range op.Checks() {
		var current string
		err := tx.QueryRowContext(ctx, "SELECT ver FROM kv WHERE k = ?", keycodec.Pack(c.Key)).Scan(&current)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return "", mapError(err)
		}
		if current != c.Versionstamp {
			return "", kv.ErrCheckFailed
		}
	}

	if _, err := tx.ExecContext(ctx, "UPDATE kv_seq SET seq = seq + 1 WHERE id = 1"); err != nil {
		return "", mapError(err)
	}
	var seq uint64
	if err := tx.QueryRowContext(ctx, "SELECT seq FROM kv_seq WHERE id = 1").Scan(&seq); err != nil {
		return "", mapError(err)
	}
	ver := fmt.Sprintf("%020x", seq)

	for _, m := range op.Mutations() {
		packed := keycodec.Pack(m.Key)
		switch m.Type {
		case kv.MutationSet:
			_, err = tx.ExecContext(ctx,
				`INSERT INTO kv (k, v, ver) VALUES (?, ?, ?)
				 ON CONFLICT(k) DO UPDATE SET v = excluded.v, ver = excluded.ver`,
				packed, m.Value, ver)
		case kv.MutationDelete:
			_, err = tx.ExecContext(ctx, "DELETE FROM kv WHERE k = ?", packed)
		}
		if err != nil {
			return "", mapError(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", mapError(err)
	}
	return ver, nil
}

// List iterates the selection in ascending key order.
func (s *Store) List(ctx context.Context, sel kv.Selector, opts kv.ListOptions) kv.Iterator {
	start, end, err := sel.Bounds()
	if err != nil {
		return kv.ErrIterator(err)
	}
	return kv.NewBatchIterator(ctx, nil, opts, func(ctx context.Context, after kv.Key, n int) ([]kv.Entry, error) {
		from := start
		if after != nil {
			from = keycodec.Pack(after)
		}
		return s.scan(ctx, from, end, n)
	})
}

func (s *Store) scan(ctx context.Context, after, end []byte, n int) ([]kv.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT k, v, ver FROM kv WHERE k > ? AND k < ? ORDER BY k LIMIT ?",
		after, end, n)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var entries []kv.Entry
	for rows.Next() {
		var (
			packed, value []byte
			ver           string
		)
		if err := rows.Scan(&packed, &value, &ver); err != nil {
			return nil, err
		}
		key, err := keycodec.Unpack(packed)
		if err != nil {
			return nil, fmt.Errorf("stored key %x: %w", packed, err)
		}
		entries = append(entries, kv.Entry{Key: key, Value: value, Versionstamp: ver})
	}
	return entries, mapError(rows.Err())
}

// Delete removes a single key.
func (s *Store) Delete(ctx context.Context, key kv.Key) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE k = ?", keycodec.Pack(key))
	return mapError(err)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// mapError reports lock contention as kv.ErrConflict.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrConnDone) {
		return kv.ErrClosed
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && (sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %w", kv.ErrConflict, err)
	}
	return err
}
