package db

import (
	"context"
	"errors"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplBolt   Implementation = "bolt"
	ImplPebble Implementation = "pebble"
	ImplMemory Implementation = "memory"
)

// Feature represents database features as bit flags
type Feature uint64

const (
	FeatureTransactions Feature = 1 << iota // Serializable read-write transactions
	FeatureSnapshots                        // Consistent snapshots for read transactions
	FeatureRange                            // Ordered iteration over key ranges
	FeatureDurable                          // Committed data survives a restart
	FeatureBuckets                          // Independent keyspaces inside one environment
)

var allFeatures = []Feature{FeatureTransactions, FeatureSnapshots, FeatureRange, FeatureDurable, FeatureBuckets}

func (f Feature) String() string {
	switch f {
	case FeatureTransactions:
		return "Transactions"
	case FeatureSnapshots:
		return "Snapshots"
	case FeatureRange:
		return "Range"
	case FeatureDurable:
		return "Durable"
	case FeatureBuckets:
		return "Buckets"
	default:
		return "Unknown"
	}
}

// Features expands a feature bit set into its single features.
func Features(set Feature) []Feature {
	var out []Feature
	for _, f := range allFeatures {
		if set&f != 0 {
			out = append(out, f)
		}
	}
	return out
}

type DatabaseInfo struct {
	SizeBytes         int64          `json:"size_bytes"`
	DbType            Implementation `json:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

var (
	ErrClosed         = errors.New("db: database is closed")
	ErrReadOnly       = errors.New("db: transaction is read-only")
	ErrBucketNotFound = errors.New("db: bucket not found")
	ErrInvalidBucket  = errors.New("db: invalid bucket name")
)

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// KVDB defines an interface for sorted key-value engines with transactions.
// One KVDB is one environment; it holds any number of buckets, each an
// independent keyspace ordered bytewise.
// Implementations can vary in their feature support, which can be queried with SupportsFeature.
type KVDB interface {

	// CreateBucket creates the named bucket if it does not exist yet.
	CreateBucket(name string) error

	// View runs fn inside a read-only transaction. All reads in fn observe
	// the same snapshot of the environment.
	View(ctx context.Context, fn func(tx Tx) error) error

	// Update runs fn inside a read-write transaction. Update transactions
	// are serialized. The transaction commits if fn returns nil and ctx is
	// still alive, otherwise every write of fn is discarded.
	//
	// Callers must not wait for an Update from inside a View: an engine may
	// need every read transaction closed before a commit can grow the file
	// (bolt remaps its mmap), so such a wait can deadlock.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// SupportsFeature checks if the database supports the specified feature.
	SupportsFeature(feature Feature) bool

	// GetInfo returns information about the database.
	GetInfo() DatabaseInfo

	// Close closes the database.
	Close() (err error)
}

// Tx is a transaction handed to the callbacks of View and Update.
// A Tx must not be used after the callback returned.
type Tx interface {
	// Writable reports whether the transaction can write.
	Writable() bool

	// Bucket opens a bucket. Returns ErrBucketNotFound if it does not exist.
	Bucket(name string) (Bucket, error)
}

// Bucket is a keyspace bound to a transaction.
type Bucket interface {
	// Get returns a copy of the value stored for key, or nil if there is none.
	Get(key []byte) ([]byte, error)

	// Put stores value for key. Returns ErrReadOnly in a read-only transaction.
	Put(key, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key []byte) error

	// Iterator returns an iterator over all keys k with start <= k < end in
	// ascending order. A nil start or end leaves that side unbounded.
	Iterator(start, end []byte) (Iterator, error)
}

// Iterator walks a key range. It starts before the first key: call Next to
// advance. Key and Value return copies owned by the caller.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Err() error
	Close() error
}

// EmptyIterator is an Iterator over an empty range.
type EmptyIterator struct{}

func (EmptyIterator) Next() bool    { return false }
func (EmptyIterator) Key() []byte   { return nil }
func (EmptyIterator) Value() []byte { return nil }
func (EmptyIterator) Err() error    { return nil }
func (EmptyIterator) Close() error  { return nil }
