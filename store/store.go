package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/jacentio/storefront/kv"
)

// Store holds what every repository shares: the backend, configuration,
// codec, validator, logger and relationship registry.
type Store struct {
	kv       kv.Store
	config   Config
	registry *Registry
	codec    Codec
	validate *validator.Validate
	logger   *zap.Logger
}

// New creates a new Store instance.
func New(backend kv.Store, config Config) *Store {
	config.validate()
	return &Store{
		kv:       backend,
		config:   config,
		codec:    JSONCodec{},
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   zap.NewNop(),
	}
}

// NewWithRegistry creates a new Store instance with a relationship registry.
func NewWithRegistry(backend kv.Store, config Config, registry *Registry) *Store {
	s := New(backend, config)
	s.registry = registry
	return s
}

// SetRegistry sets the relationship registry for cascade operations.
func (s *Store) SetRegistry(registry *Registry) {
	s.registry = registry
}

// Registry returns the relationship registry, or nil if not set.
func (s *Store) Registry() *Registry {
	return s.registry
}

// SetLogger sets the logger. A nil logger discards output.
func (s *Store) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s.logger = logger
}

// SetCodec replaces the JSON codec.
func (s *Store) SetCodec(codec Codec) {
	s.codec = codec
}

// Backend returns the underlying key-value store.
func (s *Store) Backend() kv.Store {
	return s.kv
}

// Config returns the validated configuration.
func (s *Store) Config() Config {
	return s.config
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.kv.Close()
}

// Repository stores entities of one type under their primary key and every
// secondary index key, keeping the whole key-set consistent with atomic
// commits. It holds no mutable state and is safe for concurrent use.
type Repository[T any] struct {
	store  *Store
	schema Schema[T]
	logger *zap.Logger
}

// NewRepository creates a repository for schema.
func NewRepository[T any](s *Store, schema Schema[T]) *Repository[T] {
	return &Repository[T]{
		store:  s,
		schema: schema,
		logger: s.logger.With(zap.String("entity_type", schema.Type)),
	}
}

// Schema returns the repository's schema.
func (r *Repository[T]) Schema() Schema[T] {
	return r.schema
}

func (r *Repository[T]) check(v T) error {
	err := r.store.validate.Struct(v)
	if err == nil {
		return nil
	}
	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		// Not a struct; nothing to validate.
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrInvalidEntity, r.schema.Type, err)
}

// encode validates v and returns its key-set and serialized value.
func (r *Repository[T]) encode(v T) ([]kv.Key, []byte, error) {
	if err := r.check(v); err != nil {
		return nil, nil, err
	}
	keys, err := r.schema.KeySet(v)
	if err != nil {
		return nil, nil, err
	}
	value, err := r.store.codec.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: encode %s: %w", ErrInvalidEntity, r.schema.Type, err)
	}
	return keys, value, nil
}

func (r *Repository[T]) decode(e kv.Entry) (T, error) {
	var v T
	if err := r.store.codec.Unmarshal(e.Value, &v); err != nil {
		return v, fmt.Errorf("decode %s at %s: %w", r.schema.Type, e.Key, err)
	}
	return v, nil
}

// Create stores a new entity. Every key of its key-set must be absent;
// otherwise nothing is written and ErrAlreadyExists is returned.
func (r *Repository[T]) Create(ctx context.Context, v T) error {
	keys, value, err := r.encode(v)
	if err != nil {
		return err
	}

	op := kv.Atomic()
	for _, key := range keys {
		op.Check(kv.Check{Key: key})
		op.Set(key, value)
	}

	ver, err := r.store.kv.Commit(ctx, op)
	if errors.Is(err, kv.ErrCheckFailed) {
		r.logger.Warn("create rejected, key already exists", zap.Stringer("key", keys[0]))
		if r.store.config.DiagnoseConflicts {
			r.diagnose(ctx, keys)
		}
		return fmt.Errorf("%w: %s %s", ErrAlreadyExists, r.schema.Type, keys[0])
	}
	if err != nil {
		r.logger.Error("create failed", zap.Stringer("key", keys[0]), zap.Error(err))
		return transactionFailure("create "+r.schema.Type, err)
	}

	r.logger.Debug("entity created", zap.Stringer("key", keys[0]), zap.String("versionstamp", ver))
	return nil
}

// diagnose logs which keys of a rejected create were taken. Read errors are
// logged and otherwise ignored.
func (r *Repository[T]) diagnose(ctx context.Context, keys []kv.Key) {
	for _, key := range keys {
		e, err := r.store.kv.Get(ctx, key)
		if err != nil {
			r.logger.Warn("conflict diagnosis read failed", zap.Stringer("key", key), zap.Error(err))
			continue
		}
		r.logger.Warn("conflict diagnosis",
			zap.Stringer("key", key),
			zap.Bool("exists", e.Exists()),
			zap.String("versionstamp", e.Versionstamp),
		)
	}
}

// Update overwrites every key of v's key-set unconditionally. It neither
// requires the entity to exist nor removes index keys of a previous value;
// use Replace when an indexed dimension changes.
func (r *Repository[T]) Update(ctx context.Context, v T) error {
	keys, value, err := r.encode(v)
	if err != nil {
		return err
	}

	op := kv.Atomic()
	for _, key := range keys {
		op.Set(key, value)
	}
	if _, err := r.store.kv.Commit(ctx, op); err != nil {
		r.logger.Error("update failed", zap.Stringer("key", keys[0]), zap.Error(err))
		return transactionFailure("update "+r.schema.Type, err)
	}

	r.logger.Debug("entity updated", zap.Stringer("key", keys[0]))
	return nil
}

// Replace writes next and, in the same commit, deletes every key of prev's
// key-set that next no longer has.
func (r *Repository[T]) Replace(ctx context.Context, prev, next T) error {
	keys, value, err := r.encode(next)
	if err != nil {
		return err
	}
	stale, err := r.schema.KeySet(prev)
	if err != nil {
		return err
	}

	op := kv.Atomic()
	for _, old := range stale {
		if !containsKey(keys, old) {
			op.Delete(old)
		}
	}
	for _, key := range keys {
		op.Set(key, value)
	}
	if _, err := r.store.kv.Commit(ctx, op); err != nil {
		r.logger.Error("replace failed", zap.Stringer("key", keys[0]), zap.Error(err))
		return transactionFailure("replace "+r.schema.Type, err)
	}

	r.logger.Debug("entity replaced", zap.Stringer("key", keys[0]))
	return nil
}

func containsKey(keys []kv.Key, key kv.Key) bool {
	for _, k := range keys {
		if k.Equal(key) {
			return true
		}
	}
	return false
}

// Delete removes every key of the key-set derived from v's identity and
// dimension fields. Keys that are already absent are not an error.
func (r *Repository[T]) Delete(ctx context.Context, v T) error {
	keys, err := r.schema.KeySet(v)
	if err != nil {
		return err
	}
	return r.deleteKeys(ctx, keys, nil)
}

// DeleteByID reads the stored entity and deletes the key-set derived from it,
// guarded by the versionstamp read. A missing entity is not an error. If the
// entity changes between the read and the delete, nothing is deleted and
// ErrTransactionFailed is returned.
func (r *Repository[T]) DeleteByID(ctx context.Context, path ...string) error {
	primary, err := r.schema.pathKey(path...)
	if err != nil {
		return err
	}
	e, err := r.store.kv.Get(ctx, primary)
	if err != nil {
		return transactionFailure("get "+r.schema.Type, err)
	}
	if !e.Exists() {
		return nil
	}
	v, err := r.decode(e)
	if err != nil {
		return err
	}
	keys, err := r.schema.KeySet(v)
	if err != nil {
		return err
	}
	return r.deleteKeys(ctx, keys, &kv.Check{Key: primary, Versionstamp: e.Versionstamp})
}

func (r *Repository[T]) deleteKeys(ctx context.Context, keys []kv.Key, guard *kv.Check) error {
	op := kv.Atomic()
	if guard != nil {
		op.Check(*guard)
	}
	for _, key := range keys {
		op.Delete(key)
	}
	if _, err := r.store.kv.Commit(ctx, op); err != nil {
		r.logger.Error("delete failed", zap.Stringer("key", keys[0]), zap.Error(err))
		return transactionFailure("delete "+r.schema.Type, err)
	}

	r.logger.Debug("entity deleted", zap.Stringer("key", keys[0]), zap.Int("keys", len(keys)))
	return nil
}

// Get reads an entity by its primary key path: (id), or (owner, id) for
// owned types. Returns ErrNotFound when absent.
func (r *Repository[T]) Get(ctx context.Context, path ...string) (T, error) {
	var zero T
	key, err := r.schema.pathKey(path...)
	if err != nil {
		return zero, err
	}
	e, err := r.store.kv.Get(ctx, key)
	if err != nil {
		return zero, transactionFailure("get "+r.schema.Type, err)
	}
	if !e.Exists() {
		return zero, fmt.Errorf("%w: %s %s", ErrNotFound, r.schema.Type, key)
	}
	return r.decode(e)
}

// List returns one page of entities selected by q, in ascending order of
// their trailing key segment.
func (r *Repository[T]) List(ctx context.Context, q Query) (Page[T], error) {
	prefix, err := r.schema.prefix(q)
	if err != nil {
		return Page[T]{}, err
	}
	entries, cursor, err := paginate(ctx, r.store.kv, prefix, q.Cursor, q.Limit, r.store.config)
	if err != nil {
		return Page[T]{}, err
	}

	page := Page[T]{Items: make([]T, 0, len(entries)), Cursor: cursor}
	for _, e := range entries {
		v, err := r.decode(e)
		if err != nil {
			return Page[T]{}, err
		}
		page.Items = append(page.Items, v)
	}
	return page, nil
}

// All lists every entity selected by q, following cursors until the end.
func (r *Repository[T]) All(ctx context.Context, q Query) ([]T, error) {
	var all []T
	q.Limit = r.store.config.BatchSize
	for {
		page, err := r.List(ctx, q)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if page.Cursor == "" {
			return all, nil
		}
		q.Cursor = page.Cursor
	}
}

// Purge deletes every entity selected by q, each with its own atomic delete of
// its full key-set, and returns how many were deleted. Entities deleted by
// someone else in the meantime are skipped.
func (r *Repository[T]) Purge(ctx context.Context, q Query) (int, error) {
	q.Cursor = ""
	q.Limit = r.store.config.BatchSize
	deleted := 0
	for {
		page, err := r.List(ctx, q)
		if err != nil {
			return deleted, err
		}
		for _, v := range page.Items {
			if err := r.Delete(ctx, v); err != nil {
				return deleted, err
			}
			deleted++
		}
		if page.Cursor == "" {
			break
		}
		q.Cursor = page.Cursor
	}

	if deleted > 0 {
		r.logger.Info("entities purged",
			zap.String("index", q.Index),
			zap.String("value", q.Value),
			zap.String("owner", q.Owner),
			zap.Int("count", deleted),
		)
	}
	return deleted, nil
}
