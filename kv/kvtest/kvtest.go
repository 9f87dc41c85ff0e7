// Package kvtest is a conformance suite every kv.Store backend runs.
//
// Keys used here always have at least two segments and every listed prefix
// names a whole partition, so the suite also runs against DynamoDB.
package kvtest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/storefront/kv"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) kv.Store

// Run executes the suite.
func Run(t *testing.T, open Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s kv.Store)
	}{
		{"GetMissing", testGetMissing},
		{"SetAndGet", testSetAndGet},
		{"VersionstampChanges", testVersionstampChanges},
		{"CheckAbsent", testCheckAbsent},
		{"CheckVersionstamp", testCheckVersionstamp},
		{"FailedCheckWritesNothing", testFailedCheckWritesNothing},
		{"DeleteMutation", testDeleteMutation},
		{"DeleteMissing", testDeleteMissing},
		{"ListOrder", testListOrder},
		{"ListPrefixIsolation", testListPrefixIsolation},
		{"ListAfter", testListAfter},
		{"ListLimit", testListLimit},
		{"ListSmallBatches", testListSmallBatches},
		{"ListAfterOutsidePrefix", testListAfterOutsidePrefix},
		{"ConcurrentCreate", testConcurrentCreate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func testGetMissing(t *testing.T, s kv.Store) {
	e, err := s.Get(context.Background(), kv.Key{"user", "missing"})
	require.NoError(t, err)
	assert.False(t, e.Exists())
	assert.Empty(t, e.Versionstamp)
	assert.Nil(t, e.Value)
}

func testSetAndGet(t *testing.T, s kv.Store) {
	ctx := context.Background()
	key := kv.Key{"user", "u1"}

	ver, err := s.Commit(ctx, kv.Atomic().Set(key, []byte(`{"id":"u1"}`)))
	require.NoError(t, err)
	require.NotEmpty(t, ver)

	e, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, e.Exists())
	assert.Equal(t, key, e.Key)
	assert.Equal(t, `{"id":"u1"}`, string(e.Value))
	assert.Equal(t, ver, e.Versionstamp)
}

func testVersionstampChanges(t *testing.T, s kv.Store) {
	ctx := context.Background()
	key := kv.Key{"user", "u1"}

	first, err := s.Commit(ctx, kv.Atomic().Set(key, []byte("a")))
	require.NoError(t, err)
	second, err := s.Commit(ctx, kv.Atomic().Set(key, []byte("b")))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func testCheckAbsent(t *testing.T, s kv.Store) {
	ctx := context.Background()
	key := kv.Key{"brand", "b1"}
	create := func() error {
		_, err := s.Commit(ctx, kv.Atomic().
			Check(kv.Check{Key: key}).
			Set(key, []byte("x")))
		return err
	}

	require.NoError(t, create())
	assert.ErrorIs(t, create(), kv.ErrCheckFailed)
}

func testCheckVersionstamp(t *testing.T, s kv.Store) {
	ctx := context.Background()
	key := kv.Key{"brand", "b1"}

	ver, err := s.Commit(ctx, kv.Atomic().Set(key, []byte("a")))
	require.NoError(t, err)

	_, err = s.Commit(ctx, kv.Atomic().
		Check(kv.Check{Key: key, Versionstamp: ver}).
		Set(key, []byte("b")))
	require.NoError(t, err)

	// ver is stale now.
	_, err = s.Commit(ctx, kv.Atomic().
		Check(kv.Check{Key: key, Versionstamp: ver}).
		Set(key, []byte("c")))
	assert.ErrorIs(t, err, kv.ErrCheckFailed)

	e, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "b", string(e.Value))
}

func testFailedCheckWritesNothing(t *testing.T, s kv.Store) {
	ctx := context.Background()
	taken := kv.Key{"brand_by_user", "u1", "b1"}
	_, err := s.Commit(ctx, kv.Atomic().Set(taken, []byte("x")))
	require.NoError(t, err)

	primary := kv.Key{"brand", "b2"}
	_, err = s.Commit(ctx, kv.Atomic().
		Check(kv.Check{Key: primary}, kv.Check{Key: taken}).
		Set(primary, []byte("y")).
		Set(taken, []byte("y")))
	require.ErrorIs(t, err, kv.ErrCheckFailed)

	e, err := s.Get(ctx, primary)
	require.NoError(t, err)
	assert.False(t, e.Exists())

	e, err = s.Get(ctx, taken)
	require.NoError(t, err)
	assert.Equal(t, "x", string(e.Value))
}

func testDeleteMutation(t *testing.T, s kv.Store) {
	ctx := context.Background()
	a, b := kv.Key{"product", "p1"}, kv.Key{"product_by_brand", "b1", "p1"}
	_, err := s.Commit(ctx, kv.Atomic().Set(a, []byte("x")).Set(b, []byte("x")))
	require.NoError(t, err)

	_, err = s.Commit(ctx, kv.Atomic().Delete(a).Delete(b))
	require.NoError(t, err)

	for _, key := range []kv.Key{a, b} {
		e, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, e.Exists(), "key %s", key)
	}
}

func testDeleteMissing(t *testing.T, s kv.Store) {
	ctx := context.Background()
	require.NoError(t, s.Delete(ctx, kv.Key{"product", "nope"}))

	key := kv.Key{"product", "p1"}
	_, err := s.Commit(ctx, kv.Atomic().Set(key, []byte("x")))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, key))

	e, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, e.Exists())
}

func seed(t *testing.T, s kv.Store, prefix kv.Key, ids ...string) {
	t.Helper()
	op := kv.Atomic()
	for _, id := range ids {
		op.Set(append(append(kv.Key{}, prefix...), id), []byte(id))
	}
	_, err := s.Commit(context.Background(), op)
	require.NoError(t, err)
}

func ids(t *testing.T, it kv.Iterator) []string {
	t.Helper()
	entries, err := kv.Collect(it)
	require.NoError(t, err)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Key[len(e.Key)-1])
	}
	return out
}

func testListOrder(t *testing.T, s kv.Store) {
	seed(t, s, kv.Key{"product"}, "c", "a", "b", "aa")

	got := ids(t, s.List(context.Background(), kv.Selector{Prefix: kv.Key{"product"}}, kv.ListOptions{}))
	assert.Equal(t, []string{"a", "aa", "b", "c"}, got)
}

func testListPrefixIsolation(t *testing.T, s kv.Store) {
	seed(t, s, kv.Key{"product_by_brand", "b1"}, "p1", "p2")
	seed(t, s, kv.Key{"product_by_brand", "b10"}, "p3")
	seed(t, s, kv.Key{"product_by_brand", "b"}, "p4")
	seed(t, s, kv.Key{"product"}, "p1")

	got := ids(t, s.List(context.Background(), kv.Selector{Prefix: kv.Key{"product_by_brand", "b1"}}, kv.ListOptions{}))
	assert.Equal(t, []string{"p1", "p2"}, got)
}

func testListAfter(t *testing.T, s kv.Store) {
	seed(t, s, kv.Key{"order", "u1"}, "o1", "o2", "o3", "o4")

	got := ids(t, s.List(context.Background(), kv.Selector{
		Prefix: kv.Key{"order", "u1"},
		After:  kv.Key{"order", "u1", "o2"},
	}, kv.ListOptions{}))
	assert.Equal(t, []string{"o3", "o4"}, got)

	// A start key that was never written still positions the scan.
	got = ids(t, s.List(context.Background(), kv.Selector{
		Prefix: kv.Key{"order", "u1"},
		After:  kv.Key{"order", "u1", "o25"},
	}, kv.ListOptions{}))
	assert.Equal(t, []string{"o3", "o4"}, got)
}

func testListLimit(t *testing.T, s kv.Store) {
	seed(t, s, kv.Key{"brand"}, "b1", "b2", "b3", "b4", "b5")

	got := ids(t, s.List(context.Background(), kv.Selector{Prefix: kv.Key{"brand"}}, kv.ListOptions{Limit: 3}))
	assert.Equal(t, []string{"b1", "b2", "b3"}, got)
}

func testListSmallBatches(t *testing.T, s kv.Store) {
	var want []string
	for i := range 25 {
		want = append(want, fmt.Sprintf("w%02d", i))
	}
	seed(t, s, kv.Key{"wishlist", "u1"}, want...)

	got := ids(t, s.List(context.Background(), kv.Selector{Prefix: kv.Key{"wishlist", "u1"}}, kv.ListOptions{BatchSize: 4}))
	assert.Equal(t, want, got)

	got = ids(t, s.List(context.Background(), kv.Selector{Prefix: kv.Key{"wishlist", "u1"}}, kv.ListOptions{BatchSize: 4, Limit: 10}))
	assert.Equal(t, want[:10], got)
}

func testListAfterOutsidePrefix(t *testing.T, s kv.Store) {
	it := s.List(context.Background(), kv.Selector{
		Prefix: kv.Key{"order", "u1"},
		After:  kv.Key{"order", "u2", "o1"},
	}, kv.ListOptions{})
	assert.False(t, it.Next())
	assert.Error(t, it.Err())
}

func testConcurrentCreate(t *testing.T, s kv.Store) {
	ctx := context.Background()
	key := kv.Key{"user", "racer"}
	const writers = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		others    []error
	)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Commit(ctx, kv.Atomic().
				Check(kv.Check{Key: key}).
				Set(key, []byte(fmt.Sprint(i))))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			others = append(others, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Len(t, others, writers-1)
	for _, err := range others {
		assert.ErrorIs(t, err, kv.ErrCheckFailed)
	}

	e, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, e.Exists())
}
