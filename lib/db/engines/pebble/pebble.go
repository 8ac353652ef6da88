package pebble

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/hKV/lib/db"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// Keys starting with metaPrefix hold the bucket catalog. Bucket keys start
// with the uvarint length of the bucket name, which is never zero.
const metaPrefix byte = 0x00

// --------------------------------------------------------------------------
// Core Pebble database structure
// --------------------------------------------------------------------------

// pebbleImpl stores an environment in one pebble LSM tree.
//
// Buckets are key prefixes. Update transactions run on an indexed batch and
// are serialized by writeMu, View transactions read from a snapshot.
type pebbleImpl struct {
	pdb     *pebble.DB
	impl    db.Implementation
	dir     string
	writeMu sync.Mutex
	wo      *pebble.WriteOptions
	closed  atomic.Bool
	buckets *xsync.MapOf[string, []byte] // name -> key prefix
}

// DBOptions configures the pebbleImpl behavior during initialization
type DBOptions struct {
	NoSync    bool   // Commit without fsync
	CacheMB   int64  // Block cache size (0 = pebble default)
	InMemory  bool   // Use an in-memory filesystem, nothing is persisted
	Directory string // Data directory (ignored when InMemory is set)
}

// DefaultOptions returns the default pebbleImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{CacheMB: 64}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewPebbleDB opens (or creates) a pebble environment.
func NewPebbleDB(opts *DBOptions) (db.KVDB, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	pOpts := &pebble.Options{}
	impl := db.ImplPebble
	dir := opts.Directory
	if opts.InMemory {
		pOpts.FS = vfs.NewMem()
		impl = db.ImplMemory
		dir = ""
	}
	if opts.CacheMB > 0 {
		cache := pebble.NewCache(opts.CacheMB << 20)
		defer cache.Unref()
		pOpts.Cache = cache
	}

	pdb, err := pebble.Open(dir, pOpts)
	if err != nil {
		return nil, err
	}

	wo := pebble.Sync
	if opts.NoSync || opts.InMemory {
		wo = pebble.NoSync
	}

	return &pebbleImpl{
		pdb:     pdb,
		impl:    impl,
		dir:     dir,
		wo:      wo,
		buckets: xsync.NewMapOf[string, []byte](),
	}, nil
}

// OpenMemory opens a pebble environment that lives in memory only.
func OpenMemory() (db.KVDB, error) {
	return NewPebbleDB(&DBOptions{InMemory: true})
}

// --------------------------------------------------------------------------
// Key Helper Functions
// --------------------------------------------------------------------------

func bucketPrefix(name string) []byte {
	prefix := binary.AppendUvarint(nil, uint64(len(name)))
	return append(prefix, name...)
}

func catalogKey(name string) []byte {
	return append([]byte{metaPrefix}, name...)
}

// upperBound returns the smallest key greater than every key with the given
// prefix, or nil if there is none.
func upperBound(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

func join(prefix, key []byte) []byte {
	out := make([]byte, 0, len(prefix)+len(key))
	out = append(out, prefix...)
	return append(out, key...)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see db.KVDB)
// --------------------------------------------------------------------------

func (p *pebbleImpl) CreateBucket(name string) error {
	if name == "" {
		return db.ErrInvalidBucket
	}
	if p.closed.Load() {
		return db.ErrClosed
	}
	if _, ok := p.buckets.Load(name); ok {
		return nil
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.pdb.Set(catalogKey(name), nil, p.wo); err != nil {
		return err
	}
	p.buckets.Store(name, bucketPrefix(name))
	return nil
}

func (p *pebbleImpl) View(ctx context.Context, fn func(tx db.Tx) error) error {
	if p.closed.Load() {
		return db.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	snap := p.pdb.NewSnapshot()
	defer snap.Close()
	return fn(&pebbleTx{p: p, reader: snap})
}

func (p *pebbleImpl) Update(ctx context.Context, fn func(tx db.Tx) error) error {
	if p.closed.Load() {
		return db.ErrClosed
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	batch := p.pdb.NewIndexedBatch()
	defer batch.Close()

	if err := fn(&pebbleTx{p: p, reader: batch, batch: batch}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if batch.Empty() {
		return nil
	}
	return batch.Commit(p.wo)
}

func (p *pebbleImpl) SupportsFeature(feature db.Feature) bool {
	return feature&p.features() == feature
}

func (p *pebbleImpl) features() db.Feature {
	f := db.FeatureTransactions | db.FeatureSnapshots | db.FeatureRange | db.FeatureBuckets
	if p.impl == db.ImplPebble {
		f |= db.FeatureDurable
	}
	return f
}

func (p *pebbleImpl) GetInfo() db.DatabaseInfo {
	info := db.DatabaseInfo{
		DbType:            p.impl,
		SupportedFeatures: db.Features(p.features()),
	}
	if p.closed.Load() {
		return info
	}

	m := p.pdb.Metrics()
	info.SizeBytes = int64(m.DiskSpaceUsage())

	var buckets []string
	p.buckets.Range(func(name string, _ []byte) bool {
		buckets = append(buckets, name)
		return true
	})
	info.Metadata = map[string]interface{}{
		"directory":       p.dir,
		"buckets":         buckets,
		"memtable_bytes":  m.MemTable.Size,
		"compactions":     m.Compact.Count,
		"read_amp":        m.ReadAmp(),
		"block_cache_hit": m.BlockCache.Hits,
	}
	return info
}

func (p *pebbleImpl) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.pdb.Close()
}

// --------------------------------------------------------------------------
// Transactions and Buckets
// --------------------------------------------------------------------------

// reader is implemented by both *pebble.Snapshot and an indexed *pebble.Batch.
type reader interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

type pebbleTx struct {
	p      *pebbleImpl
	reader reader
	batch  *pebble.Batch // nil for read-only transactions
}

func (t *pebbleTx) Writable() bool { return t.batch != nil }

func (t *pebbleTx) Bucket(name string) (db.Bucket, error) {
	if prefix, ok := t.p.buckets.Load(name); ok {
		return &pebbleBucket{tx: t, prefix: prefix}, nil
	}

	// buckets created by an earlier process are only known on disk
	_, closer, err := t.reader.Get(catalogKey(name))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, db.ErrBucketNotFound
	}
	if err != nil {
		return nil, err
	}
	_ = closer.Close()

	prefix, _ := t.p.buckets.LoadOrStore(name, bucketPrefix(name))
	return &pebbleBucket{tx: t, prefix: prefix}, nil
}

type pebbleBucket struct {
	tx     *pebbleTx
	prefix []byte
}

func (b *pebbleBucket) Get(key []byte) ([]byte, error) {
	v, closer, err := b.tx.reader.Get(join(b.prefix, key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return bytes.Clone(v), nil
}

func (b *pebbleBucket) Put(key, value []byte) error {
	if b.tx.batch == nil {
		return db.ErrReadOnly
	}
	return b.tx.batch.Set(join(b.prefix, key), value, nil)
}

func (b *pebbleBucket) Delete(key []byte) error {
	if b.tx.batch == nil {
		return db.ErrReadOnly
	}
	return b.tx.batch.Delete(join(b.prefix, key), nil)
}

func (b *pebbleBucket) Iterator(start, end []byte) (db.Iterator, error) {
	// pebble rejects a lower bound above the upper bound
	if start != nil && end != nil && bytes.Compare(start, end) >= 0 {
		return db.EmptyIterator{}, nil
	}
	lower := join(b.prefix, start)
	upper := upperBound(b.prefix)
	if end != nil {
		upper = join(b.prefix, end)
	}

	iter, err := b.tx.reader.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return nil, err
	}
	return &pebbleIterator{iter: iter, prefixLen: len(b.prefix)}, nil
}

// --------------------------------------------------------------------------
// Iterator
// --------------------------------------------------------------------------

type pebbleIterator struct {
	iter      *pebble.Iterator
	prefixLen int
	started   bool
	closed    bool
}

func (it *pebbleIterator) Next() bool {
	if it.closed {
		return false
	}
	// position at the first key on the first call
	if !it.started {
		it.started = true
		return it.iter.First()
	}
	return it.iter.Next()
}

func (it *pebbleIterator) Key() []byte {
	if !it.iter.Valid() {
		return nil
	}
	return bytes.Clone(it.iter.Key()[it.prefixLen:])
}

func (it *pebbleIterator) Value() []byte {
	if !it.iter.Valid() {
		return nil
	}
	return bytes.Clone(it.iter.Value())
}

func (it *pebbleIterator) Err() error {
	return it.iter.Error()
}

func (it *pebbleIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	return it.iter.Close()
}
