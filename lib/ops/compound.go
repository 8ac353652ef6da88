package ops

import (
	"bytes"
	"context"

	"github.com/ValentinKolb/hKV/lib/codec"
	"github.com/ValentinKolb/hKV/lib/store"
)

// --------------------------------------------------------------------------
// Compound Operations
// --------------------------------------------------------------------------

// Copy writes the value of src under dst with the target version cond.Version.
// cond.IfVersion is checked against the version of src. Without overwrite
// the copy fails if dst exists. A failed check returns false and writes nothing.
func Copy(ctx context.Context, s store.IStore, src, dst any, cond Conditions, overwrite bool) (bool, error) {
	var ok bool
	err := s.Update(ctx, func(txn store.Txn) error {
		e, err := readSource(txn, src, cond)
		if err != nil || e == nil {
			return err
		}
		written, err := txn.Put(dst, e.Value, cond.Version, dstCondition(overwrite))
		if err != nil {
			return abort("copy", "write destination", err)
		}
		ok = written
		return nil
	})
	return ok && err == nil, err
}

// Move writes the value of src under dst and removes src, both in one
// transaction. The checks are those of Copy. If one half fails after the
// checks passed, the transaction is rolled back with a RetCAborted error
// naming that half.
func Move(ctx context.Context, s store.IStore, src, dst any, cond Conditions, overwrite bool) (bool, error) {
	same, err := sameKey(src, dst)
	if err != nil {
		return false, err
	}

	var ok bool
	err = s.Update(ctx, func(txn store.Txn) error {
		e, err := readSource(txn, src, cond)
		if err != nil || e == nil {
			return err
		}

		written, err := txn.Put(dst, e.Value, cond.Version, dstCondition(overwrite))
		if err != nil {
			return abort("move", "write destination", err)
		}
		if !written {
			return nil
		}

		// moving a key onto itself is a rewrite
		if !same {
			removed, err := txn.Remove(src, &e.Version)
			if err != nil {
				return abort("move", "remove source", err)
			}
			if !removed {
				return store.NewError(store.RetCAborted, "move: remove source: version changed")
			}
		}
		ok = true
		return nil
	})
	return ok && err == nil, err
}

// readSource returns the source entry if it exists and satisfies cond.IfVersion.
func readSource(txn store.Txn, src any, cond Conditions) (*store.Entry, error) {
	e, err := txn.Get(src)
	if err != nil || e == nil {
		return nil, err
	}
	if cond.IfVersion != nil && e.Version != *cond.IfVersion {
		return nil, nil
	}
	return e, nil
}

func dstCondition(overwrite bool) *uint64 {
	if overwrite {
		return nil
	}
	mustNotExist := uint64(0)
	return &mustNotExist
}

func sameKey(a, b any) (bool, error) {
	ka, err := codec.EncodeKey(a)
	if err != nil {
		return false, store.Errorf(store.RetCInvalidOperation, "%v", err)
	}
	kb, err := codec.EncodeKey(b)
	if err != nil {
		return false, store.Errorf(store.RetCInvalidOperation, "%v", err)
	}
	return bytes.Equal(ka, kb), nil
}

// abort turns engine failures inside a compound operation into RetCAborted.
// Errors about the request itself keep their code.
func abort(op, half string, err error) error {
	if store.CodeOf(err) != store.RetCInternalError {
		return err
	}
	return store.Errorf(store.RetCAborted, "%s: %s: %v", op, half, err)
}
