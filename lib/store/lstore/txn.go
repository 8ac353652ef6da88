package lstore

import (
	"github.com/ValentinKolb/hKV/lib/codec"
	"github.com/ValentinKolb/hKV/lib/db"
	"github.com/ValentinKolb/hKV/lib/store"
	gometrics "github.com/rcrowley/go-metrics"
)

// --------------------------------------------------------------------------
// Transaction
// --------------------------------------------------------------------------

// txnImpl implements store.Txn on top of an engine bucket.
// Keys are stored in the order-preserving codec form, values as records.
type txnImpl struct {
	s      *storeImpl
	tx     db.Tx
	bucket db.Bucket
}

func (t *txnImpl) Writable() bool { return t.tx.Writable() }

func encodeKey(key any) ([]byte, error) {
	k, err := codec.EncodeKey(key)
	if err != nil {
		return nil, store.Errorf(store.RetCInvalidOperation, "%v", err)
	}
	if len(k) == 0 {
		return nil, store.NewError(store.RetCInvalidOperation, "key must not be empty")
	}
	return k, nil
}

// load returns the record stored under k, or nil if there is none.
func (t *txnImpl) load(k []byte) (*store.Record, error) {
	raw, err := t.bucket.Get(k)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	rec, err := store.DecodeRecord(raw)
	if err != nil {
		return nil, store.Errorf(store.RetCInternalError, "corrupt entry: %v", err)
	}
	return &rec, nil
}

func (t *txnImpl) write(k []byte, rec store.Record) error {
	if !t.tx.Writable() {
		return store.NewError(store.RetCInvalidOperation, "write in a read-only transaction")
	}
	raw, err := store.EncodeRecord(rec, t.s.compression)
	if err != nil {
		return store.Errorf(store.RetCInternalError, "encode entry: %v", err)
	}
	if err := t.bucket.Put(k, raw); err != nil {
		return err
	}
	t.s.writes.Inc(1)
	return nil
}

// precondition checks ifVersion against the stored record.
func precondition(rec *store.Record, ifVersion *uint64) bool {
	if ifVersion == nil {
		return true
	}
	live := rec != nil && !rec.Tombstone
	if *ifVersion == 0 {
		return !live
	}
	return live && rec.Version == *ifVersion
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store.Txn)
// --------------------------------------------------------------------------

func (t *txnImpl) Get(key any) (*store.Entry, error) {
	k, err := encodeKey(key)
	if err != nil {
		return nil, err
	}
	t.s.reads.Inc(1)
	rec, err := t.load(k)
	if err != nil || rec == nil || rec.Tombstone {
		return nil, err
	}
	return &store.Entry{Key: key, Value: rec.Value, Version: rec.Version}, nil
}

func (t *txnImpl) Put(key, value any, version, ifVersion *uint64) (bool, error) {
	k, err := encodeKey(key)
	if err != nil {
		return false, err
	}
	prev, err := t.load(k)
	if err != nil {
		return false, err
	}
	if !precondition(prev, ifVersion) {
		return false, nil
	}

	next := uint64(1)
	switch {
	case version != nil:
		next = *version
	case prev != nil:
		next = prev.Version + 1
	}

	if err := t.write(k, store.Record{Version: next, Value: value}); err != nil {
		return false, err
	}
	return true, nil
}

func (t *txnImpl) Remove(key any, ifVersion *uint64) (bool, error) {
	k, err := encodeKey(key)
	if err != nil {
		return false, err
	}
	prev, err := t.load(k)
	if err != nil {
		return false, err
	}
	if !precondition(prev, ifVersion) {
		return false, nil
	}
	if prev == nil || prev.Tombstone {
		return true, nil
	}

	// the tombstone keeps the version so a re-created key continues after it
	if err := t.write(k, store.Record{Version: prev.Version, Tombstone: true}); err != nil {
		return false, err
	}
	return true, nil
}

func (t *txnImpl) Iterate(start, end any, offset int) (store.EntryIterator, error) {
	var lower, upper []byte
	var err error
	if start != nil {
		if lower, err = codec.EncodeKey(start); err != nil {
			return nil, store.Errorf(store.RetCInvalidOperation, "start: %v", err)
		}
	}
	if end != nil {
		if upper, err = codec.EncodeKey(end); err != nil {
			return nil, store.Errorf(store.RetCInvalidOperation, "end: %v", err)
		}
	}

	it, err := t.bucket.Iterator(lower, upper)
	if err != nil {
		return nil, err
	}
	return &entryIterator{it: it, skip: offset, reads: t.s.reads}, nil
}

// --------------------------------------------------------------------------
// Iterator
// --------------------------------------------------------------------------

type entryIterator struct {
	it    db.Iterator
	skip  int
	entry *store.Entry
	err   error
	reads gometrics.Counter
}

func (e *entryIterator) Next() bool {
	if e.err != nil {
		return false
	}
	for ; e.skip > 0; e.skip-- {
		if !e.it.Next() {
			e.skip = 0
			return false
		}
	}
	if !e.it.Next() {
		return false
	}
	e.reads.Inc(1)

	key, err := codec.DecodeKey(e.it.Key())
	if err != nil {
		e.err = store.Errorf(store.RetCInternalError, "corrupt key: %v", err)
		return false
	}
	rec, err := store.DecodeRecord(e.it.Value())
	if err != nil {
		e.err = store.Errorf(store.RetCInternalError, "corrupt entry: %v", err)
		return false
	}
	e.entry = &store.Entry{Key: key, Value: rec.Value, Version: rec.Version, Tombstone: rec.Tombstone}
	return true
}

func (e *entryIterator) Entry() *store.Entry { return e.entry }

func (e *entryIterator) Err() error {
	if e.err != nil {
		return e.err
	}
	return e.it.Err()
}

func (e *entryIterator) Close() error {
	return e.it.Close()
}
