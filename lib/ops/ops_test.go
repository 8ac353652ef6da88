package ops

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ValentinKolb/hKV/lib/codec"
	"github.com/ValentinKolb/hKV/lib/db"
	"github.com/ValentinKolb/hKV/lib/db/engines/bolt"
	"github.com/ValentinKolb/hKV/lib/db/engines/pebble"
	"github.com/ValentinKolb/hKV/lib/store"
	"github.com/ValentinKolb/hKV/lib/store/lstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u64(v uint64) *uint64 { return &v }

func newTestStore(t *testing.T) store.IStore {
	env, err := pebble.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })

	s, err := lstore.NewLocalStore(env, "ops", nil)
	require.NoError(t, err)
	return s
}

// engines returns a fresh store per engine
func engines(t *testing.T) map[string]store.IStore {
	boltEnv, err := bolt.NewBoltDB(filepath.Join(t.TempDir(), "env.db"), &bolt.DBOptions{NoSync: true, MmapSizeMB: 16})
	require.NoError(t, err)
	pebbleEnv, err := pebble.OpenMemory()
	require.NoError(t, err)

	out := map[string]store.IStore{}
	for name, env := range map[string]db.KVDB{"bolt": boltEnv, "pebble": pebbleEnv} {
		t.Cleanup(func() { _ = env.Close() })
		s, err := lstore.NewLocalStore(env, "ops", nil)
		require.NoError(t, err)
		out[name] = s
	}
	return out
}

func mustPut(t *testing.T, s store.IStore, key, value any, cond Conditions) {
	ok, err := Put(context.Background(), s, key, value, cond)
	require.NoError(t, err)
	require.True(t, ok)
}

func keys(items []Item) []any {
	out := make([]any, len(items))
	for i, it := range items {
		out[i] = it.Key
	}
	return out
}

// --------------------------------------------------------------------------
// OCC
// --------------------------------------------------------------------------

func TestPutConditions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ok, err := Put(ctx, s, "hello", "world", Conditions{Version: u64(1)})
	require.NoError(t, err)
	assert.True(t, ok)

	e, err := Get(ctx, s, "hello", nil)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "world", e.Value)
	assert.Equal(t, uint64(1), e.Version)

	e, err = Get(ctx, s, "hello", u64(2))
	require.NoError(t, err)
	assert.Nil(t, e)

	// ifVersion only: next version
	ok, err = Put(ctx, s, "hello", "again", Conditions{IfVersion: u64(1)})
	require.NoError(t, err)
	assert.True(t, ok)
	e, _ = Get(ctx, s, "hello", nil)
	assert.Equal(t, uint64(2), e.Version)

	// both: explicit version behind a check
	ok, err = Put(ctx, s, "hello", "x", Conditions{Version: u64(10), IfVersion: u64(1)})
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = Put(ctx, s, "hello", "x", Conditions{Version: u64(10), IfVersion: u64(2)})
	require.NoError(t, err)
	assert.True(t, ok)
	e, _ = Get(ctx, s, "hello", nil)
	assert.Equal(t, uint64(10), e.Version)

	// must not exist
	ok, err = Put(ctx, s, "hello", "y", Conditions{IfVersion: u64(0)})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoveConditions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustPut(t, s, "hello", "world", Conditions{Version: u64(1)})

	ok, err := Remove(ctx, s, "hello", u64(2))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Remove(ctx, s, "hello", u64(1))
	require.NoError(t, err)
	assert.True(t, ok)

	e, err := Get(ctx, s, "hello", nil)
	require.NoError(t, err)
	assert.Nil(t, e)
}

// --------------------------------------------------------------------------
// Scan
// --------------------------------------------------------------------------

func TestScanPages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for i := 0; i < 10; i++ {
		mustPut(t, s, fmt.Sprintf("k%d", i), float64(i), Conditions{Version: u64(2)})
	}

	page, err := Scan(ctx, s, ScanRequest{Limit: 5})
	require.NoError(t, err)
	assert.Len(t, page.Items, 5)
	assert.False(t, page.Done)
	require.NotNil(t, page.Offset)
	assert.Equal(t, 5, *page.Offset)
	assert.Nil(t, page.Items[0].Version)

	page, err = Scan(ctx, s, ScanRequest{Limit: 5, Offset: *page.Offset})
	require.NoError(t, err)
	assert.Len(t, page.Items, 5)
	assert.True(t, page.Done)
	assert.Nil(t, page.Offset)
	assert.Equal(t, "k5", page.Items[0].Key)
}

func TestScanVersionFilter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustPut(t, s, "a", 1.0, Conditions{Version: u64(2)})
	mustPut(t, s, "b", 2.0, Conditions{Version: u64(3)})
	mustPut(t, s, "c", 3.0, Conditions{Version: u64(2)})

	page, err := Scan(ctx, s, ScanRequest{Limit: -1, Version: u64(2)})
	require.NoError(t, err)
	assert.True(t, page.Done)
	assert.Equal(t, []any{"a", "c"}, keys(page.Items))
	for _, it := range page.Items {
		require.NotNil(t, it.Version)
		assert.Equal(t, uint64(2), *it.Version)
	}
}

func TestScanLimitZeroReportsMore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	page, err := Scan(ctx, s, ScanRequest{Limit: 0})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.True(t, page.Done)

	mustPut(t, s, "a", 1.0, Conditions{})
	page, err = Scan(ctx, s, ScanRequest{Limit: 0})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.False(t, page.Done)
	assert.Equal(t, 0, *page.Offset)
}

// Pages over a range with tombstones and filters must neither skip nor repeat entries.
func TestScanPaginationIsComplete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for i := 0; i < 30; i++ {
		mustPut(t, s, []any{"n", float64(i)}, map[string]any{"even": i%2 == 0}, Conditions{})
	}
	for i := 0; i < 30; i += 3 {
		_, err := Remove(ctx, s, []any{"n", float64(i)}, nil)
		require.NoError(t, err)
	}

	var got []any
	req := ScanRequest{Limit: 4, ValueMatch: map[string]any{"even": true}}
	for {
		page, err := Scan(ctx, s, req)
		require.NoError(t, err)
		got = append(got, keys(page.Items)...)
		if page.Done {
			break
		}
		req.Offset = *page.Offset
	}

	var want []any
	for i := 0; i < 30; i++ {
		if i%2 == 0 && i%3 != 0 {
			want = append(want, []any{"n", float64(i)})
		}
	}
	assert.Equal(t, want, got)
}

func TestScanRangeAndKeyMatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustPut(t, s, []any{"post", 1.0}, "p1", Conditions{})
	mustPut(t, s, []any{"user", 1.0}, "u1", Conditions{})
	mustPut(t, s, []any{"user", 2.0}, "u2", Conditions{})
	mustPut(t, s, "zzz", "z", Conditions{})

	page, err := Scan(ctx, s, ScanRequest{Limit: -1, KeyMatch: []any{"user"}})
	require.NoError(t, err)
	assert.Equal(t, []any{[]any{"user", 1.0}, []any{"user", 2.0}}, keys(page.Items))

	page, err = Scan(ctx, s, ScanRequest{Limit: -1, Start: []any{"post"}, End: []any{"user", 2.0}})
	require.NoError(t, err)
	assert.Equal(t, []any{[]any{"post", 1.0}, []any{"user", 1.0}}, keys(page.Items))
}

func TestScanValueMatchAndSelect(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustPut(t, s, "1", map[string]any{"name": "joe", "age": 42.0}, Conditions{})
	mustPut(t, s, "2", map[string]any{"name": "ann", "age": 31.0}, Conditions{})
	mustPut(t, s, "3", map[string]any{"name": "jim", "age": 42.0}, Conditions{})

	page, err := Scan(ctx, s, ScanRequest{
		Limit:      -1,
		ValueMatch: map[string]any{"name": codec.RegExp{Source: "^j"}, "age": 42.0},
		Select:     []string{"name"},
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, map[string]any{"name": "joe"}, page.Items[0].Value)
	assert.Equal(t, map[string]any{"name": "jim"}, page.Items[1].Value)

	_, err = Scan(ctx, s, ScanRequest{ValueMatch: codec.RegExp{Source: "("}})
	assert.Equal(t, store.RetCInvalidOperation, store.CodeOf(err))
}

func TestMatcher(t *testing.T) {
	tests := []struct {
		name    string
		pattern any
		value   any
		want    bool
	}{
		{"nil matches all", nil, 1.0, true},
		{"equal scalar", "a", "a", true},
		{"unequal scalar", "a", "b", false},
		{"array prefix", []any{"a"}, []any{"a", 1.0}, true},
		{"array longer than value", []any{"a", 1.0, 2.0}, []any{"a", 1.0}, false},
		{"scalar as one element array", []any{"a"}, "a", true},
		{"object subset", map[string]any{"a": 1.0}, map[string]any{"a": 1.0, "b": 2.0}, true},
		{"object missing field", map[string]any{"c": 1.0}, map[string]any{"a": 1.0}, false},
		{"nested", map[string]any{"a": map[string]any{"b": []any{1.0}}}, map[string]any{"a": map[string]any{"b": []any{1.0, 2.0}}}, true},
		{"regexp on string", codec.RegExp{Source: "^h", Flags: "i"}, "Hello", true},
		{"regexp on number", codec.RegExp{Source: "1"}, 1.0, false},
		{"regexp on regexp", codec.RegExp{Source: "x"}, codec.RegExp{Source: "x"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewMatcher(tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Match(tt.value))
		})
	}
}

// --------------------------------------------------------------------------
// Copy / Move
// --------------------------------------------------------------------------

func TestCopy(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustPut(t, s, "src", "v", Conditions{Version: u64(4)})
	mustPut(t, s, "taken", "old", Conditions{})

	ok, err := Copy(ctx, s, "missing", "dst", Conditions{}, false)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Copy(ctx, s, "src", "dst", Conditions{IfVersion: u64(3)}, false)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Copy(ctx, s, "src", "dst", Conditions{IfVersion: u64(4), Version: u64(9)}, false)
	require.NoError(t, err)
	assert.True(t, ok)
	e, _ := Get(ctx, s, "dst", nil)
	assert.Equal(t, "v", e.Value)
	assert.Equal(t, uint64(9), e.Version)

	ok, err = Copy(ctx, s, "src", "taken", Conditions{}, false)
	require.NoError(t, err)
	assert.False(t, ok)
	e, _ = Get(ctx, s, "taken", nil)
	assert.Equal(t, "old", e.Value)

	ok, err = Copy(ctx, s, "src", "taken", Conditions{}, true)
	require.NoError(t, err)
	assert.True(t, ok)
	e, _ = Get(ctx, s, "taken", nil)
	assert.Equal(t, "v", e.Value)
	assert.Equal(t, uint64(2), e.Version)

	// the source is untouched
	e, _ = Get(ctx, s, "src", nil)
	assert.Equal(t, uint64(4), e.Version)
}

func TestMove(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustPut(t, s, "src", "v", Conditions{})
	mustPut(t, s, "taken", "old", Conditions{})

	ok, err := Move(ctx, s, "src", "taken", Conditions{}, false)
	require.NoError(t, err)
	assert.False(t, ok)
	e, _ := Get(ctx, s, "src", nil)
	assert.NotNil(t, e, "a refused move must keep the source")

	ok, err = Move(ctx, s, "src", "dst", Conditions{}, false)
	require.NoError(t, err)
	assert.True(t, ok)

	e, _ = Get(ctx, s, "src", nil)
	assert.Nil(t, e)
	e, _ = Get(ctx, s, "dst", nil)
	require.NotNil(t, e)
	assert.Equal(t, "v", e.Value)

	ok, err = Move(ctx, s, "dst", "dst", Conditions{}, true)
	require.NoError(t, err)
	assert.True(t, ok)
	e, _ = Get(ctx, s, "dst", nil)
	require.NotNil(t, e, "moving onto itself keeps the key")

	_, err = Move(ctx, s, "dst", []any{}, Conditions{}, true)
	assert.Equal(t, store.RetCInvalidOperation, store.CodeOf(err))
}

func TestMoveCancelled(t *testing.T) {
	s := newTestStore(t)
	mustPut(t, s, "src", "v", Conditions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Move(ctx, s, "src", "dst", Conditions{}, false)
	assert.Equal(t, store.RetCAborted, store.CodeOf(err))

	e, _ := Get(context.Background(), s, "src", nil)
	assert.NotNil(t, e)
	e, _ = Get(context.Background(), s, "dst", nil)
	assert.Nil(t, e)
}

// failingStore fails every Remove inside an Update with err
type failingStore struct {
	store.IStore
	err error
}

type failingTxn struct {
	store.Txn
	err error
}

func (f failingStore) Update(ctx context.Context, fn func(txn store.Txn) error) error {
	return f.IStore.Update(ctx, func(txn store.Txn) error {
		return fn(failingTxn{Txn: txn, err: f.err})
	})
}

func (f failingTxn) Remove(any, *uint64) (bool, error) { return false, f.err }

func TestMoveRemoveFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustPut(t, s, "src", "v", Conditions{})

	ok, err := Move(ctx, failingStore{IStore: s, err: errors.New("disk on fire")}, "src", "dst", Conditions{}, false)
	assert.False(t, ok)
	require.Error(t, err)
	assert.Equal(t, store.RetCAborted, store.CodeOf(err))
	assert.Contains(t, err.Error(), "move: remove source")

	// the destination write is rolled back, the source is unchanged
	e, err := Get(ctx, s, "dst", nil)
	require.NoError(t, err)
	assert.Nil(t, e)
	e, err = Get(ctx, s, "src", nil)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "v", e.Value)
	assert.Equal(t, uint64(1), e.Version)
}

// --------------------------------------------------------------------------
// Concurrency
// --------------------------------------------------------------------------

func TestConcurrentConditionalPut(t *testing.T) {
	const writers = 32

	for name, s := range engines(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			mustPut(t, s, "contended", "initial", Conditions{})

			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				winners []int
			)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					ok, err := Put(ctx, s, "contended", fmt.Sprintf("w%d", i), Conditions{IfVersion: u64(1)})
					if err != nil {
						t.Errorf("writer %d: %v", i, err)
						return
					}
					if ok {
						mu.Lock()
						winners = append(winners, i)
						mu.Unlock()
					}
				}(i)
			}
			wg.Wait()

			require.Len(t, winners, 1)
			e, err := Get(ctx, s, "contended", nil)
			require.NoError(t, err)
			require.NotNil(t, e)
			assert.Equal(t, uint64(2), e.Version)
			assert.Equal(t, fmt.Sprintf("w%d", winners[0]), e.Value)
		})
	}
}

// --------------------------------------------------------------------------
// Patch
// --------------------------------------------------------------------------

func TestPatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ok, err := Patch(ctx, s, "u", map[string]any{"a": 1.0}, Conditions{})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Patch(ctx, s, "u", map[string]any{"b": 2.0, "a": codec.Undefined}, Conditions{IfVersion: u64(1)})
	require.NoError(t, err)
	assert.True(t, ok)

	e, _ := Get(ctx, s, "u", nil)
	assert.Equal(t, map[string]any{"b": 2.0}, e.Value)
	assert.Equal(t, uint64(2), e.Version)

	ok, err = Patch(ctx, s, "u", map[string]any{"c": 3.0}, Conditions{IfVersion: u64(1)})
	require.NoError(t, err)
	assert.False(t, ok)

	mustPut(t, s, "scalar", "x", Conditions{})
	_, err = Patch(ctx, s, "scalar", map[string]any{"c": 3.0}, Conditions{})
	assert.Equal(t, store.RetCInvalidOperation, store.CodeOf(err))

	_, err = Patch(ctx, s, "u", "not an object", Conditions{})
	assert.Equal(t, store.RetCInvalidOperation, store.CodeOf(err))
}

func TestDeepPatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustPut(t, s, "u", map[string]any{"a": map[string]any{"x": 1.0, "y": 2.0}}, Conditions{})

	ok, err := Patch(ctx, s, "shallow", map[string]any{"a": map[string]any{"x": 1.0}}, Conditions{})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = DeepPatch(ctx, s, "u", map[string]any{"a": map[string]any{"x": 5.0, "y": codec.Undefined}}, Conditions{})
	require.NoError(t, err)
	assert.True(t, ok)

	e, _ := Get(ctx, s, "u", nil)
	assert.Equal(t, map[string]any{"a": map[string]any{"x": 5.0}}, e.Value)
}

func TestPatchPath(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ok, err := PatchPath(ctx, s, "doc", []string{"a", "b"}, 1.0, nil, false)
	require.NoError(t, err)
	assert.False(t, ok, "missing root without extend")

	ok, err = PatchPath(ctx, s, "doc", []string{"a", "b"}, 1.0, nil, true)
	require.NoError(t, err)
	assert.True(t, ok)
	e, _ := Get(ctx, s, "doc", nil)
	assert.Equal(t, map[string]any{"a": map[string]any{"b": 1.0}}, e.Value)

	ok, err = PatchPath(ctx, s, "doc", []string{"a", "b", "c"}, 2.0, nil, false)
	require.NoError(t, err)
	assert.False(t, ok, "scalar intermediate without extend")

	ok, err = PatchPath(ctx, s, "doc", []string{"a", "b", "c"}, 2.0, u64(1), true)
	require.NoError(t, err)
	assert.True(t, ok)
	v, err := GetPath(ctx, s, "doc", []string{"a", "b", "c"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)

	ok, err = PatchPath(ctx, s, "doc", []string{"a", "b"}, codec.Undefined, nil, false)
	require.NoError(t, err)
	assert.True(t, ok)
	e, _ = Get(ctx, s, "doc", nil)
	assert.Equal(t, map[string]any{"a": map[string]any{}}, e.Value)
	assert.Equal(t, uint64(3), e.Version)

	_, err = PatchPath(ctx, s, "doc", nil, 1.0, nil, true)
	assert.Equal(t, store.RetCInvalidOperation, store.CodeOf(err))
}

func TestGetPath(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustPut(t, s, "doc", map[string]any{"list": []any{"x", map[string]any{"y": true}}}, Conditions{})

	v, err := GetPath(ctx, s, "doc", []string{"list", "1", "y"}, nil)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = GetPath(ctx, s, "doc", []string{"list", "5"}, nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = GetPath(ctx, s, "doc", []string{"list"}, u64(7))
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = GetPath(ctx, s, "nope", []string{"list"}, nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

// --------------------------------------------------------------------------
// Functions
// --------------------------------------------------------------------------

func TestResolve(t *testing.T) {
	f, err := Resolve()
	require.NoError(t, err)
	assert.Equal(t, []string{"copy", "move", "patch", "query"}, f.Enabled())
	assert.Equal(t, "shallow", f.Names()["patch"])

	f, err = Resolve(
		map[string]string{"patch": "deep", "move": Disabled},
		map[string]string{"move": Disabled, "copy": Disabled},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"patch", "query"}, f.Enabled())
	assert.Equal(t, "deep", f.Names()["patch"])

	_, err = f.Move()
	assert.Equal(t, store.RetCUnsupportedOperation, store.CodeOf(err))
	_, err = f.Copy()
	assert.Equal(t, store.RetCUnsupportedOperation, store.CodeOf(err))

	patch, err := f.Patch()
	require.NoError(t, err)
	s := newTestStore(t)
	mustPut(t, s, "u", map[string]any{"a": map[string]any{"x": 1.0}}, Conditions{})
	ok, err := patch(context.Background(), s, "u", map[string]any{"a": map[string]any{"y": 2.0}}, Conditions{})
	require.NoError(t, err)
	assert.True(t, ok)
	e, _ := Get(context.Background(), s, "u", nil)
	assert.Equal(t, map[string]any{"a": map[string]any{"x": 1.0, "y": 2.0}}, e.Value)

	_, err = Resolve(map[string]string{"bogus": "scan"})
	assert.Error(t, err)
	_, err = Resolve(map[string]string{"query": "bogus"})
	assert.Error(t, err)
}
