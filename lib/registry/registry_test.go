package registry

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/hKV/lib/ops"
	"github.com/ValentinKolb/hKV/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func boolPtr(b bool) *bool { return &b }

func newTestRegistry(t *testing.T, cfg Config) *Registry {
	if cfg.DataDir == "" {
		cfg.DataDir = t.TempDir()
	}
	r, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestOptionsMerge(t *testing.T) {
	base := DefaultOptions()
	merged := base.Merge(Options{Engine: EnginePebble, NoSync: boolPtr(true)}).Merge(Options{Compression: "zstd"})

	assert.Equal(t, EnginePebble, merged.Engine)
	assert.Equal(t, "zstd", merged.Compression)
	assert.Equal(t, 5, merged.TimeoutSecond)
	assert.Equal(t, DefaultMmapSizeMB, merged.MmapSizeMB)
	require.NotNil(t, merged.NoSync)
	assert.True(t, *merged.NoSync)

	// unset fields never override
	assert.Equal(t, merged, merged.Merge(Options{}))
}

func TestLayers(t *testing.T) {
	cfg := Config{
		Defaults:  Options{Compression: "lz4"},
		Functions: map[string]string{"patch": "deep"},
	}
	env := EnvironmentConfig{
		Options:   Options{Engine: EngineMemory},
		Functions: map[string]string{"move": ops.Disabled},
	}

	opts, fns := cfg.dbLayers(env, DatabaseConfig{Options: Options{Compression: "none"}})
	assert.Equal(t, EngineMemory, opts.Engine)
	assert.Equal(t, "none", opts.Compression)
	assert.Len(t, fns, 3)

	opts, fns = cfg.dbLayers(env, DatabaseConfig{InheritEnvironment: boolPtr(false)})
	assert.Equal(t, EngineBolt, opts.Engine)
	assert.Equal(t, "lz4", opts.Compression)
	assert.Equal(t, []map[string]string{cfg.Functions, nil}, fns)

	env.InheritDefaults = boolPtr(false)
	opts, _ = cfg.envLayers(env)
	assert.Equal(t, "snappy", opts.Compression)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, (&Config{}).Validate())
	assert.Error(t, (&Config{Defaults: Options{Engine: "rocks"}}).Validate())
	assert.Error(t, (&Config{Defaults: Options{Compression: "gzip"}}).Validate())
	assert.Error(t, (&Config{Environments: map[string]EnvironmentConfig{"../x": {}}}).Validate())
	assert.Error(t, (&Config{Environments: map[string]EnvironmentConfig{
		"ok": {Databases: map[string]DatabaseConfig{"a/b": {}}},
	}}).Validate())
}

func TestValidName(t *testing.T) {
	for _, name := range []string{"users", "shop-1", "a.b", "_x"} {
		assert.True(t, ValidName(name), name)
	}
	for _, name := range []string{"", ".", "..", "a/b", "-x", "a b"} {
		assert.False(t, ValidName(name), name)
	}
}

func TestStaticOnly(t *testing.T) {
	r := newTestRegistry(t, Config{
		Environments: map[string]EnvironmentConfig{
			"shop": {Databases: map[string]DatabaseConfig{"users": {}}},
		},
	})
	ctx := context.Background()
	require.NoError(t, r.Init(ctx))
	assert.False(t, r.IsOpen("shop"), "environment is closed after init")

	d, err := r.Acquire(ctx, "shop", "users")
	require.NoError(t, err)
	assert.True(t, r.IsOpen("shop"))
	d.Release()
	d.Release()
	assert.False(t, r.IsOpen("shop"))

	_, err = r.Acquire(ctx, "shop", "orders")
	assert.Equal(t, store.RetCNotFound, store.CodeOf(err))
	assert.False(t, r.IsOpen("shop"))

	_, err = r.Acquire(ctx, "other", "users")
	assert.Equal(t, store.RetCNotFound, store.CodeOf(err))

	_, err = r.Acquire(ctx, "..", "users")
	assert.Equal(t, store.RetCInvalidOperation, store.CodeOf(err))
}

func TestDynamicProvisioning(t *testing.T) {
	r := newTestRegistry(t, Config{
		Defaults:           Options{Engine: EnginePebble, NoSync: boolPtr(true)},
		DynamicEnvironment: &EnvironmentConfig{},
		DynamicDatabase:    &DatabaseConfig{Functions: map[string]string{"copy": ops.Disabled}},
	})
	ctx := context.Background()

	d, err := r.Acquire(ctx, "anything", "goes")
	require.NoError(t, err)
	ok, err := ops.Put(ctx, d.Store, "k", "v", ops.Conditions{})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = d.Functions.Copy()
	assert.Equal(t, store.RetCUnsupportedOperation, store.CodeOf(err))
	d.Release()

	// reopened from disk
	d, err = r.Acquire(ctx, "anything", "goes")
	require.NoError(t, err)
	defer d.Release()
	e, err := ops.Get(ctx, d.Store, "k", nil)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "v", e.Value)
}

func TestRefCounting(t *testing.T) {
	r := newTestRegistry(t, Config{
		Defaults:           Options{NoSync: boolPtr(true)},
		DynamicEnvironment: &EnvironmentConfig{},
		DynamicDatabase:    &DatabaseConfig{},
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	handles := make(chan *Database, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := r.Acquire(ctx, "env", "db")
			if assert.NoError(t, err) {
				handles <- d
			}
		}()
	}
	wg.Wait()
	close(handles)

	var all []*Database
	for d := range handles {
		all = append(all, d)
	}
	require.Len(t, all, 16)
	for i, d := range all {
		assert.True(t, r.IsOpen("env"))
		d.Release()
		if i < len(all)-1 {
			assert.True(t, r.IsOpen("env"))
		}
	}
	assert.False(t, r.IsOpen("env"))

	stats := r.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, float64(1), stats[0].Metrics["env.opens"])
}

func TestKeepWarm(t *testing.T) {
	r := newTestRegistry(t, Config{
		KeepWarm: true,
		Environments: map[string]EnvironmentConfig{
			"shop": {Databases: map[string]DatabaseConfig{"users": {}, "orders": {}}},
		},
	})
	ctx := context.Background()
	require.NoError(t, r.Init(ctx))
	assert.True(t, r.IsOpen("shop"))

	d, err := r.Acquire(ctx, "shop", "orders")
	require.NoError(t, err)
	_, err = ops.Put(ctx, d.Store, "o1", 1.0, ops.Conditions{})
	require.NoError(t, err)
	d.Release()

	stats := r.Stats()
	require.Len(t, stats, 1)
	assert.True(t, stats[0].Open)
	assert.Equal(t, EngineBolt, stats[0].Engine)
	assert.Equal(t, 0, stats[0].Handles)
	assert.Equal(t, float64(1), stats[0].Metrics["env.opens"])
	assert.Equal(t, float64(1), stats[0].Metrics["db.orders.writes"])
	assert.NotNil(t, stats[0].Info)
}

func TestMemoryEnvironmentStaysOpen(t *testing.T) {
	r := newTestRegistry(t, Config{
		Defaults:           Options{Engine: EngineMemory},
		DynamicEnvironment: &EnvironmentConfig{},
		DynamicDatabase:    &DatabaseConfig{},
	})
	ctx := context.Background()

	d, err := r.Acquire(ctx, "mem", "db")
	require.NoError(t, err)
	_, err = ops.Put(ctx, d.Store, "k", "v", ops.Conditions{})
	require.NoError(t, err)
	d.Release()
	assert.True(t, r.IsOpen("mem"))

	d, err = r.Acquire(ctx, "mem", "db")
	require.NoError(t, err)
	defer d.Release()
	e, err := ops.Get(ctx, d.Store, "k", nil)
	require.NoError(t, err)
	assert.NotNil(t, e)
}

func TestSlowOpenDoesNotBlockOthers(t *testing.T) {
	r := newTestRegistry(t, Config{
		Environments: map[string]EnvironmentConfig{
			"slow": {Options: Options{TimeoutSecond: 2}, Databases: map[string]DatabaseConfig{"db": {}}},
			"fast": {Options: Options{Engine: EngineMemory}, Databases: map[string]DatabaseConfig{"db": {}}},
		},
	})
	ctx := context.Background()

	// hold the file lock of the slow environment
	dir := filepath.Join(r.config.DataDir, "slow")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	locked, err := bbolt.Open(filepath.Join(dir, "data.bolt"), 0o600, nil)
	require.NoError(t, err)
	defer locked.Close()

	slowErr := make(chan error, 1)
	go func() {
		d, err := r.Acquire(ctx, "slow", "db")
		if err == nil {
			d.Release()
		}
		slowErr <- err
	}()
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	d, err := r.Acquire(ctx, "fast", "db")
	require.NoError(t, err)
	d.Release()
	assert.Less(t, time.Since(start), time.Second)

	// a second caller of the slow environment gives up with its context
	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = r.Acquire(waitCtx, "slow", "db")
	assert.Equal(t, store.RetCAborted, store.CodeOf(err))

	select {
	case err := <-slowErr:
		assert.Equal(t, store.RetCInternalError, store.CodeOf(err))
	case <-time.After(5 * time.Second):
		t.Fatal("slow environment never gave up on its file lock")
	}
	assert.False(t, r.IsOpen("slow"))
}

func TestClosedRegistry(t *testing.T) {
	r := newTestRegistry(t, Config{DynamicEnvironment: &EnvironmentConfig{}, DynamicDatabase: &DatabaseConfig{}})
	require.NoError(t, r.Close())

	_, err := r.Acquire(context.Background(), "a", "b")
	assert.Equal(t, store.RetCAborted, store.CodeOf(err))
}
