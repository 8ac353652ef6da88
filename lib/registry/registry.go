package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ValentinKolb/hKV/lib/db"
	"github.com/ValentinKolb/hKV/lib/db/engines/bolt"
	"github.com/ValentinKolb/hKV/lib/db/engines/pebble"
	"github.com/ValentinKolb/hKV/lib/ops"
	"github.com/ValentinKolb/hKV/lib/store"
	"github.com/ValentinKolb/hKV/lib/store/lstore"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	gometrics "github.com/rcrowley/go-metrics"
)

var log = logger.GetLogger("registry")

// Database is an acquired handle of one database. It must be released after use.
type Database struct {
	Environment string
	Name        string
	Store       store.IStore
	Functions   *ops.Functions

	release sync.Once
	env     *envHandle
	r       *Registry
}

// Release gives the handle back. Calling it more than once is a no-op.
func (d *Database) Release() {
	d.release.Do(func() { d.r.release(d.env) })
}

// envHandle is an open environment.
type envHandle struct {
	name     string
	config   EnvironmentConfig
	options  Options
	kvdb     db.KVDB
	refs     int
	pinned   bool // memory environments lose their data on close
	dbs      map[string]*dbEntry
	openedAt time.Time
}

type dbEntry struct {
	store     store.IStore
	functions *ops.Functions
}

// Registry maps environment and database names to open stores. Environments
// are opened on first use and closed when their last handle is released,
// unless keep-warm is configured.
type Registry struct {
	config Config

	mu      sync.Mutex // guards opening, closing and reference counts
	envs    *xsync.MapOf[string, *envHandle]
	opening map[string]*pendingOpen // engines being opened outside mu
	metrics *xsync.MapOf[string, gometrics.Registry]
	closed  bool
}

// pendingOpen lets concurrent Acquires of one environment wait for a single open.
type pendingOpen struct {
	done chan struct{}
	err  error
}

// New creates a registry. Nothing is opened until Init or Acquire is called.
func New(config Config) (*Registry, error) {
	if err := config.Validate(); err != nil {
		return nil, store.Errorf(store.RetCInvalidOperation, "invalid registry config: %v", err)
	}
	return &Registry{
		config:  config,
		envs:    xsync.NewMapOf[string, *envHandle](),
		opening: map[string]*pendingOpen{},
		metrics: xsync.NewMapOf[string, gometrics.Registry](),
	}, nil
}

// Init creates every statically configured environment and database.
func (r *Registry) Init(ctx context.Context) error {
	envs := make([]string, 0, len(r.config.Environments))
	for env := range r.config.Environments {
		envs = append(envs, env)
	}
	sort.Strings(envs)

	for _, env := range envs {
		for name := range r.config.Environments[env].Databases {
			d, err := r.Acquire(ctx, env, name)
			if err != nil {
				return fmt.Errorf("failed to create %s/%s: %w", env, name, err)
			}
			d.Release()
		}
		log.Infof("created environment %s with %d databases", env, len(r.config.Environments[env].Databases))
	}
	return nil
}

// Acquire returns a handle to the database name inside env. Unknown names are
// provisioned from the dynamic templates; without templates they are RetCNotFound.
func (r *Registry) Acquire(ctx context.Context, env, name string) (*Database, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Errorf(store.RetCAborted, "%v", err)
	}
	if !ValidName(env) {
		return nil, store.Errorf(store.RetCInvalidOperation, "invalid environment name %q", env)
	}
	if !ValidName(name) {
		return nil, store.Errorf(store.RetCInvalidOperation, "invalid database name %q", name)
	}

	ec, found := r.config.environment(env)
	if !found {
		return nil, store.Errorf(store.RetCNotFound, "environment %q not found", env)
	}
	if _, found := r.config.database(ec, name); !found {
		return nil, store.Errorf(store.RetCNotFound, "database %q not found in environment %q", name, env)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	h, err := r.handle(ctx, env, ec)
	if err != nil {
		return nil, err
	}

	entry, err := r.database(h, name)
	if err != nil {
		if h.refs == 0 && !r.config.KeepWarm {
			r.closeHandle(h)
		}
		return nil, err
	}

	h.refs++
	return &Database{
		Environment: env,
		Name:        name,
		Store:       entry.store,
		Functions:   entry.functions,
		env:         h,
		r:           r,
	}, nil
}

// handle returns the open environment env, opening it if needed. The engine
// is opened without r.mu so a slow open (bolt waits for its file lock) does
// not stall other environments. Caller holds r.mu, which is held again on return.
func (r *Registry) handle(ctx context.Context, env string, ec EnvironmentConfig) (*envHandle, error) {
	for {
		if r.closed {
			return nil, store.NewError(store.RetCAborted, "registry is closed")
		}
		if h, ok := r.envs.Load(env); ok {
			return h, nil
		}

		p, waiting := r.opening[env]
		if !waiting {
			p = &pendingOpen{done: make(chan struct{})}
			r.opening[env] = p

			r.mu.Unlock()
			h, err := r.open(env, ec)
			r.mu.Lock()

			delete(r.opening, env)
			p.err = err
			close(p.done)
			if err != nil {
				return nil, err
			}
			if r.closed {
				_ = h.kvdb.Close()
				return nil, store.NewError(store.RetCAborted, "registry is closed")
			}
			r.envs.Store(env, h)
			return h, nil
		}

		r.mu.Unlock()
		select {
		case <-p.done:
			r.mu.Lock()
		case <-ctx.Done():
			r.mu.Lock()
			return nil, store.Errorf(store.RetCAborted, "waiting for environment %s: %v", env, ctx.Err())
		}
		if p.err != nil {
			return nil, p.err
		}
	}
}

// database returns the store of name inside an open environment. Caller holds r.mu.
func (r *Registry) database(h *envHandle, name string) (*dbEntry, error) {
	if entry, ok := h.dbs[name]; ok {
		return entry, nil
	}

	dc, found := r.config.database(h.config, name)
	if !found {
		return nil, store.Errorf(store.RetCNotFound, "database %q not found in environment %q", name, h.name)
	}
	opts, layers := r.config.dbLayers(h.config, dc)

	compression, err := store.ParseCompression(opts.Compression)
	if err != nil {
		return nil, store.Errorf(store.RetCInvalidOperation, "%v", err)
	}
	fns, err := ops.Resolve(layers...)
	if err != nil {
		return nil, store.Errorf(store.RetCInvalidOperation, "database %s/%s: %v", h.name, name, err)
	}
	s, err := lstore.NewLocalStore(h.kvdb, name, &lstore.Options{
		Compression: compression,
		Metrics:     r.registryFor(h.name),
	})
	if err != nil {
		return nil, err
	}

	entry := &dbEntry{store: s, functions: fns}
	h.dbs[name] = entry
	log.Debugf("opened database %s/%s (compression %s, functions %v)", h.name, name, compression, fns.Enabled())
	return entry, nil
}

// open opens the engine of an environment. It touches no registry state
// guarded by r.mu.
func (r *Registry) open(env string, ec EnvironmentConfig) (*envHandle, error) {
	opts, _ := r.config.envLayers(ec)
	noSync := opts.NoSync != nil && *opts.NoSync
	dir := filepath.Join(r.config.DataDir, env)

	var (
		kvdb db.KVDB
		err  error
	)
	switch opts.Engine {
	case EngineBolt:
		kvdb, err = bolt.NewBoltDB(filepath.Join(dir, "data.bolt"), &bolt.DBOptions{
			NoSync:     noSync,
			MmapSizeMB: opts.MmapSizeMB,
			Timeout:    time.Duration(opts.TimeoutSecond) * time.Second,
		})
	case EnginePebble:
		kvdb, err = pebble.NewPebbleDB(&pebble.DBOptions{
			NoSync:    noSync,
			CacheMB:   opts.CacheMB,
			Directory: dir,
		})
	case EngineMemory:
		kvdb, err = pebble.OpenMemory()
	default:
		return nil, store.Errorf(store.RetCInvalidOperation, "unknown engine %q", opts.Engine)
	}
	if err != nil {
		return nil, store.Errorf(store.RetCInternalError, "failed to open environment %s: %v", env, err)
	}

	gometrics.GetOrRegisterCounter("env.opens", r.registryFor(env)).Inc(1)
	log.Infof("opened environment %s (engine %s)", env, opts.Engine)

	return &envHandle{
		name:     env,
		config:   ec,
		options:  opts,
		kvdb:     kvdb,
		pinned:   opts.Engine == EngineMemory,
		dbs:      map[string]*dbEntry{},
		openedAt: time.Now(),
	}, nil
}

func (r *Registry) release(h *envHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h.refs--
	if h.refs > 0 || r.config.KeepWarm || h.pinned || r.closed {
		return
	}
	r.closeHandle(h)
}

// closeHandle closes an environment without handles. Caller holds r.mu.
func (r *Registry) closeHandle(h *envHandle) {
	if h.pinned && !r.closed {
		return
	}
	r.envs.Delete(h.name)
	if err := h.kvdb.Close(); err != nil {
		log.Errorf("failed to close environment %s: %v", h.name, err)
		return
	}
	log.Debugf("closed environment %s", h.name)
}

// registryFor returns the metrics registry of an environment. It outlives open handles.
func (r *Registry) registryFor(env string) gometrics.Registry {
	reg, _ := r.metrics.LoadOrCompute(env, gometrics.NewRegistry)
	return reg
}

// IsOpen reports whether an environment is currently open.
func (r *Registry) IsOpen(env string) bool {
	_, ok := r.envs.Load(env)
	return ok
}

// Close closes every open environment. Outstanding handles become unusable.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	var firstErr error
	r.envs.Range(func(name string, h *envHandle) bool {
		if err := h.kvdb.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close environment %s: %w", name, err)
		}
		r.envs.Delete(name)
		return true
	})
	return firstErr
}

// --------------------------------------------------------------------------
// Stats
// --------------------------------------------------------------------------

// EnvironmentStats describes one environment that was opened at least once.
type EnvironmentStats struct {
	Name     string             `json:"name"`
	Open     bool               `json:"open"`
	Engine   string             `json:"engine,omitempty"`
	Handles  int                `json:"handles"`
	Uptime   string             `json:"uptime,omitempty"`
	Info     *db.DatabaseInfo   `json:"info,omitempty"`
	Features []string           `json:"features,omitempty"`
	Metrics  map[string]float64 `json:"metrics"`
}

// Stats returns the state and counters of every environment, sorted by name.
func (r *Registry) Stats() []EnvironmentStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []EnvironmentStats
	r.metrics.Range(func(name string, reg gometrics.Registry) bool {
		st := EnvironmentStats{Name: name, Metrics: snapshot(reg)}
		if h, ok := r.envs.Load(name); ok {
			info := h.kvdb.GetInfo()
			st.Open = true
			st.Engine = h.options.Engine
			st.Handles = h.refs
			st.Uptime = time.Since(h.openedAt).Truncate(time.Second).String()
			st.Info = &info
			for _, f := range info.SupportedFeatures {
				st.Features = append(st.Features, f.String())
			}
		}
		out = append(out, st)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func snapshot(reg gometrics.Registry) map[string]float64 {
	out := map[string]float64{}
	reg.Each(func(name string, m interface{}) {
		switch t := m.(type) {
		case gometrics.Counter:
			out[name] = float64(t.Count())
		case gometrics.Timer:
			s := t.Snapshot()
			out[name+".count"] = float64(s.Count())
			out[name+".mean_ms"] = s.Mean() / float64(time.Millisecond)
			out[name+".p99_ms"] = s.Percentile(0.99) / float64(time.Millisecond)
		}
	})
	return out
}
