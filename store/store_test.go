package store_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jacentio/storefront/kv"
	"github.com/jacentio/storefront/kv/memkv"
	"github.com/jacentio/storefront/store"
)

// --- Test Entity Types ---

// Widget is a root entity indexed by maker and, optionally, by color.
type Widget struct {
	ID      string `json:"id" validate:"required"`
	MakerID string `json:"makerId" validate:"required"`
	Color   string `json:"color,omitempty"`
	Name    string `json:"name" validate:"required"`
}

var widgetSchema = store.Schema[Widget]{
	Type: "widget",
	ID:   func(w Widget) string { return w.ID },
	Indexes: []store.Index[Widget]{
		{Name: "maker", Value: func(w Widget) string { return w.MakerID }},
		{Name: "color", Value: func(w Widget) string { return w.Color }},
	},
}

// Note is owned by a user.
type Note struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	Text   string `json:"text"`
}

var noteSchema = store.Schema[Note]{
	Type:  "note",
	ID:    func(n Note) string { return n.ID },
	Owner: func(n Note) string { return n.UserID },
}

func newWidgets(t *testing.T, cfg store.Config) (*store.Repository[Widget], *memkv.Store) {
	t.Helper()
	backend := memkv.New()
	s := store.New(backend, cfg)
	return store.NewRepository(s, widgetSchema), backend
}

func exists(t *testing.T, backend kv.Store, key kv.Key) bool {
	t.Helper()
	e, err := backend.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get %s: %v", key, err)
	}
	return e.Exists()
}

// failingStore fails every operation with err.
type failingStore struct {
	kv.Store
	err error
}

func (f failingStore) Get(context.Context, kv.Key) (kv.Entry, error) { return kv.Entry{}, f.err }
func (f failingStore) Commit(context.Context, *kv.AtomicOperation) (string, error) {
	return "", f.err
}
func (f failingStore) List(context.Context, kv.Selector, kv.ListOptions) kv.Iterator {
	return kv.ErrIterator(f.err)
}

// --- Unit Tests ---

func TestDefaultConfig(t *testing.T) {
	cfg := store.DefaultConfig()

	if cfg.BatchSize != 100 {
		t.Errorf("expected BatchSize 100, got %d", cfg.BatchSize)
	}
	if cfg.MaxPageSize != 0 {
		t.Errorf("expected MaxPageSize 0, got %d", cfg.MaxPageSize)
	}
	if cfg.DiagnoseConflicts {
		t.Error("expected DiagnoseConflicts off")
	}
	if cfg.CompareAndSwapRetries != 0 {
		t.Errorf("expected CompareAndSwapRetries 0, got %d", cfg.CompareAndSwapRetries)
	}
}

func TestNewStore(t *testing.T) {
	s := store.New(memkv.New(), store.Config{BatchSize: 0, MaxPageSize: -3})
	cfg := s.Config()
	if cfg.BatchSize != 100 {
		t.Errorf("expected BatchSize defaulted to 100, got %d", cfg.BatchSize)
	}
	if cfg.MaxPageSize != 0 {
		t.Errorf("expected MaxPageSize clamped to 0, got %d", cfg.MaxPageSize)
	}
	if s.Registry() != nil {
		t.Error("expected nil registry")
	}
}

func TestBackend(t *testing.T) {
	backend := memkv.New()
	s := store.New(backend, store.DefaultConfig())
	if s.Backend() != kv.Store(backend) {
		t.Error("expected Backend to return the store passed to New")
	}
}

// taggedCodec prefixes the JSON encoding so stored values show which codec
// wrote them.
type taggedCodec struct{ store.JSONCodec }

const codecTag = "v1:"

func (c taggedCodec) Marshal(v any) ([]byte, error) {
	data, err := c.JSONCodec.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append([]byte(codecTag), data...), nil
}

func (c taggedCodec) Unmarshal(data []byte, v any) error {
	if !bytes.HasPrefix(data, []byte(codecTag)) {
		return fmt.Errorf("missing codec tag in %q", data)
	}
	return c.JSONCodec.Unmarshal(data[len(codecTag):], v)
}

func TestSetCodec(t *testing.T) {
	backend := memkv.New()
	s := store.New(backend, store.DefaultConfig())
	s.SetCodec(taggedCodec{})
	widgets := store.NewRepository(s, widgetSchema)
	ctx := context.Background()

	w := Widget{ID: "w1", MakerID: "m1", Name: "gear"}
	if err := widgets.Create(ctx, w); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, key := range []kv.Key{{"widget", "w1"}, {"widget_by_maker", "m1", "w1"}} {
		e, err := backend.Get(ctx, key)
		if err != nil {
			t.Fatalf("get %s: %v", key, err)
		}
		if !bytes.HasPrefix(e.Value, []byte(codecTag)) {
			t.Errorf("expected %s encoded by the configured codec, got %q", key, e.Value)
		}
	}

	got, err := widgets.Get(ctx, "w1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != w {
		t.Errorf("expected %+v, got %+v", w, got)
	}
}

func TestNewWithRegistry(t *testing.T) {
	reg := store.NewRegistry()
	s := store.NewWithRegistry(memkv.New(), store.DefaultConfig(), reg)
	if s.Registry() != reg {
		t.Error("expected registry to be set")
	}
}

// --- Create ---

func TestCreate_WritesWholeKeySet(t *testing.T) {
	repo, backend := newWidgets(t, store.DefaultConfig())
	ctx := context.Background()
	w := Widget{ID: "w1", MakerID: "m1", Color: "red", Name: "sprocket"}

	if err := repo.Create(ctx, w); err != nil {
		t.Fatalf("create: %v", err)
	}

	for _, key := range []kv.Key{
		{"widget", "w1"},
		{"widget_by_maker", "m1", "w1"},
		{"widget_by_color", "red", "w1"},
	} {
		if !exists(t, backend, key) {
			t.Errorf("expected key %s to exist", key)
		}
	}

	got, err := repo.Get(ctx, "w1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != w {
		t.Errorf("expected %+v, got %+v", w, got)
	}
}

func TestCreate_EmptyDimensionHasNoIndexKey(t *testing.T) {
	repo, backend := newWidgets(t, store.DefaultConfig())
	if err := repo.Create(context.Background(), Widget{ID: "w1", MakerID: "m1", Name: "plain"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if backend.Len() != 2 {
		t.Errorf("expected 2 keys, got %d", backend.Len())
	}
}

func TestCreate_Duplicate(t *testing.T) {
	repo, _ := newWidgets(t, store.DefaultConfig())
	ctx := context.Background()
	w := Widget{ID: "w1", MakerID: "m1", Name: "first"}

	if err := repo.Create(ctx, w); err != nil {
		t.Fatalf("create: %v", err)
	}

	w.Name = "second"
	err := repo.Create(ctx, w)
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	got, err := repo.Get(ctx, "w1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "first" {
		t.Errorf("expected first value to survive, got %q", got.Name)
	}
}

func TestCreate_TakenIndexKeyWritesNothing(t *testing.T) {
	repo, backend := newWidgets(t, store.DefaultConfig())
	ctx := context.Background()

	// A stray index entry for the same id.
	if _, err := backend.Commit(ctx, kv.Atomic().Set(kv.Key{"widget_by_maker", "m1", "w1"}, []byte(`{}`))); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := repo.Create(ctx, Widget{ID: "w1", MakerID: "m1", Name: "x"})
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if exists(t, backend, kv.Key{"widget", "w1"}) {
		t.Error("primary key must not be written when an index key is taken")
	}
}

func TestCreate_Validation(t *testing.T) {
	repo, backend := newWidgets(t, store.DefaultConfig())

	err := repo.Create(context.Background(), Widget{ID: "w1", MakerID: "m1"})
	if !errors.Is(err, store.ErrInvalidEntity) {
		t.Fatalf("expected ErrInvalidEntity, got %v", err)
	}
	if backend.Len() != 0 {
		t.Errorf("expected nothing written, got %d keys", backend.Len())
	}
}

func TestCreate_MissingIdentity(t *testing.T) {
	s := store.New(memkv.New(), store.DefaultConfig())
	notes := store.NewRepository(s, noteSchema)

	err := notes.Create(context.Background(), Note{ID: "n1"})
	if !errors.Is(err, store.ErrInvalidEntity) {
		t.Errorf("expected ErrInvalidEntity for missing owner, got %v", err)
	}
}

func TestCreate_ConcurrentSameID(t *testing.T) {
	repo, _ := newWidgets(t, store.DefaultConfig())
	ctx := context.Background()
	const writers = 16

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		dupes   int
	)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.Create(ctx, Widget{ID: "w1", MakerID: "m1", Name: fmt.Sprintf("writer-%d", i)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, store.ErrAlreadyExists):
				dupes++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if success != 1 {
		t.Errorf("expected exactly one successful create, got %d", success)
	}
	if dupes != writers-1 {
		t.Errorf("expected %d ErrAlreadyExists, got %d", writers-1, dupes)
	}
}

func TestCreate_DiagnoseConflicts(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	cfg := store.DefaultConfig()
	cfg.DiagnoseConflicts = true
	s := store.New(memkv.New(), cfg)
	s.SetLogger(zap.New(core))
	repo := store.NewRepository(s, widgetSchema)
	ctx := context.Background()
	w := Widget{ID: "w1", MakerID: "m1", Name: "x"}

	if err := repo.Create(ctx, w); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(ctx, w); !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	if n := logs.FilterMessage("create rejected, key already exists").Len(); n != 1 {
		t.Errorf("expected 1 rejection log, got %d", n)
	}
	if n := logs.FilterMessage("conflict diagnosis").Len(); n != 2 {
		t.Errorf("expected a diagnosis line per key, got %d", n)
	}
}

// --- Update / Replace ---

func TestUpdate_Overwrites(t *testing.T) {
	repo, _ := newWidgets(t, store.DefaultConfig())
	ctx := context.Background()
	w := Widget{ID: "w1", MakerID: "m1", Name: "old"}
	if err := repo.Create(ctx, w); err != nil {
		t.Fatalf("create: %v", err)
	}

	w.Name = "new"
	if err := repo.Update(ctx, w); err != nil {
		t.Fatalf("update: %v", err)
	}

	page, err := repo.List(ctx, store.Query{Index: "maker", Value: "m1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Name != "new" {
		t.Errorf("expected index copy to be updated, got %+v", page.Items)
	}
}

func TestUpdate_CreatesWhenAbsent(t *testing.T) {
	repo, _ := newWidgets(t, store.DefaultConfig())
	ctx := context.Background()

	if err := repo.Update(ctx, Widget{ID: "w9", MakerID: "m1", Name: "upserted"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := repo.Get(ctx, "w9"); err != nil {
		t.Errorf("expected update to write an absent entity, got %v", err)
	}
}

func TestUpdate_KeepsStaleIndexKey(t *testing.T) {
	repo, backend := newWidgets(t, store.DefaultConfig())
	ctx := context.Background()
	w := Widget{ID: "w1", MakerID: "m1", Name: "x"}
	if err := repo.Create(ctx, w); err != nil {
		t.Fatalf("create: %v", err)
	}

	w.MakerID = "m2"
	if err := repo.Update(ctx, w); err != nil {
		t.Fatalf("update: %v", err)
	}
	if !exists(t, backend, kv.Key{"widget_by_maker", "m1", "w1"}) {
		t.Error("update is not expected to remove the old index key")
	}
}

func TestReplace_MovesIndexKey(t *testing.T) {
	repo, backend := newWidgets(t, store.DefaultConfig())
	ctx := context.Background()
	prev := Widget{ID: "w1", MakerID: "m1", Color: "red", Name: "x"}
	if err := repo.Create(ctx, prev); err != nil {
		t.Fatalf("create: %v", err)
	}

	next := prev
	next.MakerID = "m2"
	next.Color = ""
	if err := repo.Replace(ctx, prev, next); err != nil {
		t.Fatalf("replace: %v", err)
	}

	if exists(t, backend, kv.Key{"widget_by_maker", "m1", "w1"}) {
		t.Error("expected old maker key to be removed")
	}
	if exists(t, backend, kv.Key{"widget_by_color", "red", "w1"}) {
		t.Error("expected emptied color key to be removed")
	}
	if !exists(t, backend, kv.Key{"widget_by_maker", "m2", "w1"}) {
		t.Error("expected new maker key")
	}
	if backend.Len() != 2 {
		t.Errorf("expected 2 keys, got %d", backend.Len())
	}
}

// --- Delete ---

func TestDelete_RemovesWholeKeySet(t *testing.T) {
	repo, backend := newWidgets(t, store.DefaultConfig())
	ctx := context.Background()
	w := Widget{ID: "w1", MakerID: "m1", Color: "blue", Name: "x"}
	if err := repo.Create(ctx, w); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.Delete(ctx, w); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if backend.Len() != 0 {
		t.Errorf("expected no keys left, got %d", backend.Len())
	}
	if _, err := repo.Get(ctx, "w1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete_Absent(t *testing.T) {
	repo, _ := newWidgets(t, store.DefaultConfig())
	if err := repo.Delete(context.Background(), Widget{ID: "nope", MakerID: "m1"}); err != nil {
		t.Errorf("expected deleting an absent entity to succeed, got %v", err)
	}
}

func TestDeleteByID(t *testing.T) {
	repo, backend := newWidgets(t, store.DefaultConfig())
	ctx := context.Background()
	if err := repo.Create(ctx, Widget{ID: "w1", MakerID: "m1", Color: "red", Name: "x"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.DeleteByID(ctx, "w1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if backend.Len() != 0 {
		t.Errorf("expected no keys left, got %d", backend.Len())
	}
	if err := repo.DeleteByID(ctx, "w1"); err != nil {
		t.Errorf("expected deleting again to succeed, got %v", err)
	}
}

// racingStore writes key once, right before the first commit it sees.
type racingStore struct {
	kv.Store
	key  kv.Key
	once sync.Once
}

func (r *racingStore) Commit(ctx context.Context, op *kv.AtomicOperation) (string, error) {
	r.once.Do(func() {
		_, _ = r.Store.Commit(ctx, kv.Atomic().Set(r.key, []byte(`{"id":"w1","makerId":"m9","name":"moved"}`)))
	})
	return r.Store.Commit(ctx, op)
}

func TestDeleteByID_LostRace(t *testing.T) {
	backend := memkv.New()
	repo := store.NewRepository(store.New(backend, store.DefaultConfig()), widgetSchema)
	ctx := context.Background()
	if err := repo.Create(ctx, Widget{ID: "w1", MakerID: "m1", Name: "x"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	racing := &racingStore{Store: backend, key: kv.Key{"widget", "w1"}}
	repo = store.NewRepository(store.New(racing, store.DefaultConfig()), widgetSchema)

	err := repo.DeleteByID(ctx, "w1")
	if !errors.Is(err, store.ErrTransactionFailed) {
		t.Fatalf("expected ErrTransactionFailed, got %v", err)
	}
	if !errors.Is(err, kv.ErrCheckFailed) {
		t.Errorf("expected cause to be wrapped, got %v", err)
	}
	if !exists(t, backend, kv.Key{"widget_by_maker", "m1", "w1"}) {
		t.Error("expected nothing deleted after a lost race")
	}
}

// --- Get ---

func TestGet_NotFound(t *testing.T) {
	repo, _ := newWidgets(t, store.DefaultConfig())
	_, err := repo.Get(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGet_WrongPath(t *testing.T) {
	repo, _ := newWidgets(t, store.DefaultConfig())
	s := store.New(memkv.New(), store.DefaultConfig())
	notes := store.NewRepository(s, noteSchema)
	ctx := context.Background()

	if _, err := repo.Get(ctx, "m1", "w1"); !errors.Is(err, store.ErrInvalidQuery) {
		t.Errorf("expected ErrInvalidQuery for extra segment, got %v", err)
	}
	if _, err := notes.Get(ctx, "n1"); !errors.Is(err, store.ErrInvalidQuery) {
		t.Errorf("expected ErrInvalidQuery for missing owner, got %v", err)
	}
	if _, err := repo.Get(ctx, ""); !errors.Is(err, store.ErrInvalidQuery) {
		t.Errorf("expected ErrInvalidQuery for empty id, got %v", err)
	}
}

func TestGet_OwnedEntity(t *testing.T) {
	s := store.New(memkv.New(), store.DefaultConfig())
	notes := store.NewRepository(s, noteSchema)
	ctx := context.Background()
	n := Note{ID: "n1", UserID: "u1", Text: "hello"}
	if err := notes.Create(ctx, n); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := notes.Get(ctx, "u1", "n1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != n {
		t.Errorf("expected %+v, got %+v", n, got)
	}
	if _, err := notes.Get(ctx, "u2", "n1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound under another owner, got %v", err)
	}
}

// --- Failures ---

func TestBackendFailure(t *testing.T) {
	cause := errors.New("disk on fire")
	repo := store.NewRepository(store.New(failingStore{Store: memkv.New(), err: cause}, store.DefaultConfig()), widgetSchema)
	ctx := context.Background()
	w := Widget{ID: "w1", MakerID: "m1", Name: "x"}

	checks := map[string]error{
		"create": repo.Create(ctx, w),
		"update": repo.Update(ctx, w),
		"delete": repo.Delete(ctx, w),
	}
	_, checks["get"] = repo.Get(ctx, "w1")
	_, checks["list"] = repo.List(ctx, store.Query{})

	for op, err := range checks {
		if !errors.Is(err, store.ErrTransactionFailed) {
			t.Errorf("%s: expected ErrTransactionFailed, got %v", op, err)
		}
		if !errors.Is(err, cause) {
			t.Errorf("%s: expected cause to be wrapped, got %v", op, err)
		}
	}
}
