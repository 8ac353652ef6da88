package ops

import (
	"context"

	"github.com/ValentinKolb/hKV/lib/store"
)

// --------------------------------------------------------------------------
// Optimistic Concurrency Control
// --------------------------------------------------------------------------

// Conditions are the optional version parameters of a mutation.
//
//	Version  IfVersion  behaviour
//	set      set        write with Version if the current version equals IfVersion
//	set      -          unconditional write with Version
//	-        set        write with the next version if the current version equals IfVersion
//	-        -          unconditional write with the next version
//
// IfVersion 0 requires that the key does not exist.
type Conditions struct {
	Version   *uint64
	IfVersion *uint64
}

// Get returns the live entry of key. If version is given, the entry is only
// returned when its version matches exactly.
func Get(ctx context.Context, s store.IStore, key any, version *uint64) (*store.Entry, error) {
	var entry *store.Entry
	err := s.View(ctx, func(txn store.Txn) error {
		e, err := txn.Get(key)
		if err != nil {
			return err
		}
		if e != nil && (version == nil || e.Version == *version) {
			entry = e
		}
		return nil
	})
	return entry, err
}

// Put writes value under key. A failed precondition returns false without error.
func Put(ctx context.Context, s store.IStore, key, value any, cond Conditions) (bool, error) {
	var ok bool
	err := s.Update(ctx, func(txn store.Txn) error {
		var err error
		ok, err = txn.Put(key, value, cond.Version, cond.IfVersion)
		return err
	})
	return ok && err == nil, err
}

// Remove deletes key. Without ifVersion the delete is unconditional.
func Remove(ctx context.Context, s store.IStore, key any, ifVersion *uint64) (bool, error) {
	var ok bool
	err := s.Update(ctx, func(txn store.Txn) error {
		var err error
		ok, err = txn.Remove(key, ifVersion)
		return err
	})
	return ok && err == nil, err
}

// matches checks ifVersion against an entry read in the same transaction.
func matches(e *store.Entry, ifVersion *uint64) bool {
	if ifVersion == nil {
		return true
	}
	if *ifVersion == 0 {
		return e == nil
	}
	return e != nil && e.Version == *ifVersion
}
