package bolt

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/hKV/lib/db"
	"go.etcd.io/bbolt"
)

// --------------------------------------------------------------------------
// Core Bolt database structure
// --------------------------------------------------------------------------

// boltImpl stores an environment in a single bbolt file.
// Every bucket of the environment is a top level bolt bucket.
type boltImpl struct {
	path   string
	bdb    *bbolt.DB
	closed atomic.Bool
}

// DBOptions configures the boltImpl behavior during initialization
type DBOptions struct {
	NoSync     bool          // Skip fsync after each commit
	MmapSizeMB int           // Initial mmap size (0 = bbolt default)
	Timeout    time.Duration // Time to wait for the file lock (0 = wait forever)
}

// DefaultOptions returns the default boltImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		Timeout: 5 * time.Second,
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewBoltDB opens (or creates) the bolt file at path. Missing parent
// directories are created.
func NewBoltDB(path string, opts *DBOptions) (db.KVDB, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	bdb, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout:         opts.Timeout,
		NoSync:          opts.NoSync,
		InitialMmapSize: opts.MmapSizeMB << 20,
	})
	if err != nil {
		return nil, err
	}

	return &boltImpl{path: path, bdb: bdb}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see db.KVDB)
// --------------------------------------------------------------------------

func (b *boltImpl) CreateBucket(name string) error {
	if name == "" {
		return db.ErrInvalidBucket
	}
	if b.closed.Load() {
		return db.ErrClosed
	}
	return b.bdb.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
}

func (b *boltImpl) View(ctx context.Context, fn func(tx db.Tx) error) error {
	if b.closed.Load() {
		return db.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.bdb.View(func(tx *bbolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

func (b *boltImpl) Update(ctx context.Context, fn func(tx db.Tx) error) error {
	if b.closed.Load() {
		return db.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	// returning an error from the closure rolls the bolt transaction back
	return b.bdb.Update(func(tx *bbolt.Tx) error {
		if err := fn(&boltTx{tx: tx}); err != nil {
			return err
		}
		return ctx.Err()
	})
}

func (b *boltImpl) SupportsFeature(feature db.Feature) bool {
	supported := db.FeatureTransactions |
		db.FeatureSnapshots |
		db.FeatureRange |
		db.FeatureDurable |
		db.FeatureBuckets
	return feature&supported == feature
}

func (b *boltImpl) GetInfo() db.DatabaseInfo {
	info := db.DatabaseInfo{
		DbType:            db.ImplBolt,
		SupportedFeatures: db.Features(db.FeatureTransactions | db.FeatureSnapshots | db.FeatureRange | db.FeatureDurable | db.FeatureBuckets),
	}
	if b.closed.Load() {
		return info
	}

	buckets := map[string]int{}
	_ = b.bdb.View(func(tx *bbolt.Tx) error {
		info.SizeBytes = tx.Size()
		return tx.ForEach(func(name []byte, bkt *bbolt.Bucket) error {
			buckets[string(name)] = bkt.Stats().KeyN
			return nil
		})
	})

	stats := b.bdb.Stats()
	info.Metadata = map[string]interface{}{
		"path":        b.path,
		"buckets":     buckets,
		"free_pages":  stats.FreePageN,
		"open_reads":  stats.OpenTxN,
		"total_reads": stats.TxN,
	}
	return info
}

func (b *boltImpl) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.bdb.Close()
}

// --------------------------------------------------------------------------
// Transactions and Buckets
// --------------------------------------------------------------------------

type boltTx struct {
	tx *bbolt.Tx
}

func (t *boltTx) Writable() bool { return t.tx.Writable() }

func (t *boltTx) Bucket(name string) (db.Bucket, error) {
	bkt := t.tx.Bucket([]byte(name))
	if bkt == nil {
		return nil, db.ErrBucketNotFound
	}
	return &boltBucket{b: bkt, writable: t.tx.Writable()}, nil
}

type boltBucket struct {
	b        *bbolt.Bucket
	writable bool
}

// Get copies the value since bolt memory is only valid during the transaction.
func (b *boltBucket) Get(key []byte) ([]byte, error) {
	v := b.b.Get(key)
	if v == nil {
		return nil, nil
	}
	return bytes.Clone(v), nil
}

func (b *boltBucket) Put(key, value []byte) error {
	if !b.writable {
		return db.ErrReadOnly
	}
	return mapErr(b.b.Put(key, value))
}

func (b *boltBucket) Delete(key []byte) error {
	if !b.writable {
		return db.ErrReadOnly
	}
	return mapErr(b.b.Delete(key))
}

func (b *boltBucket) Iterator(start, end []byte) (db.Iterator, error) {
	return &boltIterator{c: b.b.Cursor(), start: start, end: end}, nil
}

func mapErr(err error) error {
	if errors.Is(err, bbolt.ErrTxNotWritable) {
		return db.ErrReadOnly
	}
	return err
}

// --------------------------------------------------------------------------
// Iterator
// --------------------------------------------------------------------------

type boltIterator struct {
	c          *bbolt.Cursor
	start, end []byte
	started    bool
	done       bool
	key, value []byte
}

func (it *boltIterator) Next() bool {
	if it.done {
		return false
	}

	var k, v []byte
	if !it.started {
		it.started = true
		if it.start == nil {
			k, v = it.c.First()
		} else {
			k, v = it.c.Seek(it.start)
		}
	} else {
		k, v = it.c.Next()
	}

	if k == nil || (it.end != nil && bytes.Compare(k, it.end) >= 0) {
		it.done = true
		it.key, it.value = nil, nil
		return false
	}
	it.key, it.value = bytes.Clone(k), bytes.Clone(v)
	return true
}

func (it *boltIterator) Key() []byte   { return it.key }
func (it *boltIterator) Value() []byte { return it.value }
func (it *boltIterator) Err() error    { return nil }

func (it *boltIterator) Close() error {
	it.done = true
	return nil
}
