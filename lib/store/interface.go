package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ValentinKolb/hKV/lib/db"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// Entry is a stored (key, value, version) triple.
type Entry struct {
	Key     any    `json:"key"`
	Value   any    `json:"value"`
	Version uint64 `json:"version"`

	// Tombstone is set for removed keys. Only iterators yield tombstones.
	Tombstone bool `json:"-"`
}

// Present reports whether the entry holds a value.
func (e *Entry) Present() bool {
	return e != nil && !e.Tombstone
}

// IStore is the interface of one database: a sorted, versioned key-value
// table inside an environment. All reads and writes happen inside a View or
// Update transaction.
type IStore interface {
	// View runs fn with a read-only transaction on a consistent snapshot.
	View(ctx context.Context, fn func(txn Txn) error) error
	// Update runs fn with a read-write transaction. Either every write of fn
	// commits or none does. A non-nil error from fn, a panic or a cancelled
	// context rolls the transaction back.
	Update(ctx context.Context, fn func(txn Txn) error) error
	// GetDBInfo returns metadata about the database underlying the store.
	// It is not guaranteed that all fields are filled in or that the information is up-to-date!
	GetDBInfo() (info db.DatabaseInfo, err error)
}

// Txn holds the storage primitives of a transaction.
// Precondition failures are reported as false, never as errors.
type Txn interface {
	// Writable reports whether Put and Remove are allowed.
	Writable() bool
	// Get returns the live entry for key, or nil if the key was never written or is removed.
	Get(key any) (*Entry, error)
	// Put writes value under key. The new version is *version if given, otherwise the
	// previous version + 1. If ifVersion is given the write only happens when the current
	// live version equals *ifVersion; *ifVersion == 0 requires that no live entry exists.
	Put(key, value any, version, ifVersion *uint64) (bool, error)
	// Remove deletes key. The same ifVersion rule as in Put applies. Removing an absent
	// key without ifVersion succeeds. The key is kept as a tombstone with its last
	// version, which is not purged.
	Remove(key any, ifVersion *uint64) (bool, error)
	// Iterate returns an iterator over the raw positions in [start, end) after skipping
	// offset positions. Tombstones are positions too. A nil bound is open.
	Iterate(start, end any, offset int) (EntryIterator, error)
}

// EntryIterator walks raw positions of a key range. It starts before the first position.
type EntryIterator interface {
	Next() bool
	Entry() *Entry
	Err() error
	Close() error
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("KVStoreError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new KVStoreError with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Errorf creates a new KVStoreError with a formatted message.
func Errorf(code RetCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// CodeOf returns the RetCode carried by err. Errors that are not a *Error
// map to RetCInternalError, nil maps to RetCSuccess.
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var storeErr *Error
	if errors.As(err, &storeErr) {
		return storeErr.Code
	}
	return RetCInternalError
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal (engine) error.
	RetCUnsupportedOperation                // 2: Operation is not supported or disabled for the database.
	RetCInvalidOperation                    // 3: Invalid operation or argument.
	RetCNotFound                            // 4: Environment or database does not exist.
	RetCAborted                             // 5: A compound operation was rolled back.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCNotFound:
		return "NotFound"
	case RetCAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}
