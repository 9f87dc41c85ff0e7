// Package rediskv is a kv.Store kept in Redis.
//
// Each entry is a hash at <namespace>:v:<packed key> with fields "v" and
// "ver". Every packed key is also a member of one sorted set,
// <namespace>:index, scored 0 so that ZRANGEBYLEX walks keys in tuple order.
// Commits WATCH the checked keys and apply the mutations in MULTI/EXEC. When a
// concurrent write to a watched key aborts EXEC, the checks are re-run, so a
// lost race surfaces as kv.ErrCheckFailed; kv.ErrConflict is returned only
// after MaxCommitAttempts aborts.
package rediskv

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/jacentio/storefront/internal/keycodec"
	"github.com/jacentio/storefront/kv"
)

// MaxCommitAttempts bounds how often Commit re-runs its checks after a
// concurrent write aborted EXEC.
const MaxCommitAttempts = 100

const (
	fieldValue   = "v"
	fieldVersion = "ver"
)

// Options configures the Redis connection.
type Options struct {
	// Address of the Redis server.
	Address string
	// Password required when connecting to the Redis server.
	Password string
	// DB to connect to.
	DB int
	// TLS config.
	TLSConfig *tls.Config
	// Namespace prefixes every Redis key the store writes.
	Namespace string
}

// DefaultOptions returns options for a local server.
func DefaultOptions() Options {
	return Options{
		Address:   "localhost:6379",
		Namespace: "kv",
	}
}

// Store is a Redis-backed kv.Store.
type Store struct {
	client    redis.UniversalClient
	namespace string
	ownClient bool
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, opts Options) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		TLSConfig: opts.TLSConfig,
		Addr:      opts.Address,
		Password:  opts.Password,
		DB:        opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Address, err)
	}
	s := New(client, opts.Namespace)
	s.ownClient = true
	return s, nil
}

// New wraps an existing client. Close will not close it.
func New(client redis.UniversalClient, namespace string) *Store {
	if namespace == "" {
		namespace = "kv"
	}
	return &Store{client: client, namespace: namespace}
}

func (s *Store) valueKey(packed []byte) string {
	return s.namespace + ":v:" + string(packed)
}

func (s *Store) indexKey() string {
	return s.namespace + ":index"
}

func (s *Store) seqKey() string {
	return s.namespace + ":seq"
}

// Get reads one key.
func (s *Store) Get(ctx context.Context, key kv.Key) (kv.Entry, error) {
	vals, err := s.client.HMGet(ctx, s.valueKey(keycodec.Pack(key)), fieldValue, fieldVersion).Result()
	if err != nil {
		return kv.Entry{}, mapError(err)
	}
	return entryFrom(key, vals), nil
}

// Commit applies op in a WATCH/MULTI/EXEC transaction.
func (s *Store) Commit(ctx context.Context, op *kv.AtomicOperation) (string, error) {
	checks := op.Checks()
	watched := make([]string, 0, len(checks))
	for _, c := range checks {
		watched = append(watched, s.valueKey(keycodec.Pack(c.Key)))
	}

	var ver string
	txf := func(tx *redis.Tx) error {
		for _, c := range checks {
			current, err := tx.HGet(ctx, s.valueKey(keycodec.Pack(c.Key)), fieldVersion).Result()
			if errors.Is(err, redis.Nil) {
				current = ""
			} else if err != nil {
				return err
			}
			if current != c.Versionstamp {
				return kv.ErrCheckFailed
			}
		}

		seq, err := tx.Incr(ctx, s.seqKey()).Result()
		if err != nil {
			return err
		}
		ver = fmt.Sprintf("%020d", seq)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, m := range op.Mutations() {
				packed := keycodec.Pack(m.Key)
				switch m.Type {
				case kv.MutationSet:
					pipe.HSet(ctx, s.valueKey(packed), fieldValue, m.Value, fieldVersion, ver)
					pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: 0, Member: string(packed)})
				case kv.MutationDelete:
					pipe.Del(ctx, s.valueKey(packed))
					pipe.ZRem(ctx, s.indexKey(), string(packed))
				}
			}
			return nil
		})
		return err
	}

	var err error
	for range MaxCommitAttempts {
		err = s.client.Watch(ctx, txf, watched...)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return "", mapError(err)
	}
	return ver, nil
}

// List walks the index with ZRANGEBYLEX.
func (s *Store) List(ctx context.Context, sel kv.Selector, opts kv.ListOptions) kv.Iterator {
	after, end, err := sel.Bounds()
	if err != nil {
		return kv.ErrIterator(err)
	}
	return kv.NewBatchIterator(ctx, sel.After, opts, func(ctx context.Context, from kv.Key, n int) ([]kv.Entry, error) {
		start := after
		if from != nil {
			start = keycodec.Pack(from)
		}
		return s.scan(ctx, start, end, n)
	})
}

func (s *Store) scan(ctx context.Context, after, end []byte, n int) ([]kv.Entry, error) {
	var entries []kv.Entry
	for len(entries) < n {
		want := n - len(entries)
		members, err := s.client.ZRangeByLex(ctx, s.indexKey(), &redis.ZRangeBy{
			Min:   "(" + string(after),
			Max:   "(" + string(end),
			Count: int64(want),
		}).Result()
		if err != nil {
			return nil, mapError(err)
		}
		if len(members) == 0 {
			break
		}

		pipe := s.client.Pipeline()
		cmds := make([]*redis.SliceCmd, len(members))
		for i, m := range members {
			cmds[i] = pipe.HMGet(ctx, s.valueKey([]byte(m)), fieldValue, fieldVersion)
		}
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return nil, mapError(err)
		}

		for i, m := range members {
			key, err := keycodec.Unpack([]byte(m))
			if err != nil {
				return nil, fmt.Errorf("%w: index member: %w", kv.ErrInvalidKey, err)
			}
			// Deleted between the range and the read.
			if e := entryFrom(key, cmds[i].Val()); e.Exists() {
				entries = append(entries, e)
			}
		}
		if len(members) < want {
			break
		}
		after = []byte(members[len(members)-1])
	}
	return entries, nil
}

// Delete removes a single key.
func (s *Store) Delete(ctx context.Context, key kv.Key) error {
	packed := keycodec.Pack(key)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.valueKey(packed))
		pipe.ZRem(ctx, s.indexKey(), string(packed))
		return nil
	})
	return mapError(err)
}

// Close closes the client if the store opened it.
func (s *Store) Close() error {
	if !s.ownClient {
		return nil
	}
	return mapError(s.client.Close())
}

func entryFrom(key kv.Key, vals []interface{}) kv.Entry {
	e := kv.Entry{Key: key}
	if len(vals) != 2 {
		return e
	}
	ver, ok := vals[1].(string)
	if !ok || ver == "" {
		return e
	}
	if v, ok := vals[0].(string); ok {
		e.Value = []byte(v)
	}
	e.Versionstamp = ver
	return e
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, kv.ErrCheckFailed):
		return kv.ErrCheckFailed
	case errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("%w: %w", kv.ErrConflict, err)
	case errors.Is(err, redis.ErrClosed):
		return kv.ErrClosed
	}
	return err
}
