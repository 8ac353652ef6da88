package lstore

import (
	"context"
	"errors"
	"time"

	"github.com/ValentinKolb/hKV/lib/db"
	"github.com/ValentinKolb/hKV/lib/store"
	gometrics "github.com/rcrowley/go-metrics"
)

// Options configures a local store.
type Options struct {
	Compression store.Compression // Compression of record payloads
	Metrics     gometrics.Registry // Registry for the store counters (nil = private registry)
}

type storeImpl struct {
	env         db.KVDB
	bucket      string
	compression store.Compression

	reads   gometrics.Counter
	writes  gometrics.Counter
	aborted gometrics.Counter
	updates gometrics.Timer
}

// NewLocalStore creates a store for the database name inside the environment env.
// The bucket backing the database is created if it does not exist.
// The store does not own env: closing env is up to the caller.
func NewLocalStore(env db.KVDB, name string, opts *Options) (store.IStore, error) {
	if opts == nil {
		opts = &Options{}
	}
	if err := env.CreateBucket(name); err != nil {
		return nil, mapError(err)
	}

	reg := opts.Metrics
	if reg == nil {
		reg = gometrics.NewRegistry()
	}
	prefix := "db." + name + "."

	return &storeImpl{
		env:         env,
		bucket:      name,
		compression: opts.Compression,
		reads:       gometrics.GetOrRegisterCounter(prefix+"reads", reg),
		writes:      gometrics.GetOrRegisterCounter(prefix+"writes", reg),
		aborted:     gometrics.GetOrRegisterCounter(prefix+"tx.aborted", reg),
		updates:     gometrics.GetOrRegisterTimer(prefix+"tx.update", reg),
	}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) View(ctx context.Context, fn func(txn store.Txn) error) error {
	return mapError(s.env.View(ctx, func(tx db.Tx) error {
		bucket, err := tx.Bucket(s.bucket)
		if err != nil {
			return err
		}
		return fn(&txnImpl{s: s, tx: tx, bucket: bucket})
	}))
}

func (s *storeImpl) Update(ctx context.Context, fn func(txn store.Txn) error) error {
	start := time.Now()
	defer s.updates.UpdateSince(start)

	err := s.env.Update(ctx, func(tx db.Tx) error {
		bucket, err := tx.Bucket(s.bucket)
		if err != nil {
			return err
		}
		return fn(&txnImpl{s: s, tx: tx, bucket: bucket})
	})
	if err != nil {
		s.aborted.Inc(1)
	}
	return mapError(err)
}

func (s *storeImpl) GetDBInfo() (db.DatabaseInfo, error) {
	return s.env.GetInfo(), nil
}

// mapError converts engine errors into store errors. Errors that already
// are a *store.Error pass unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var storeErr *store.Error
	switch {
	case errors.As(err, &storeErr):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return store.Errorf(store.RetCAborted, "transaction aborted: %v", err)
	case errors.Is(err, db.ErrInvalidBucket):
		return store.Errorf(store.RetCInvalidOperation, "%v", err)
	case errors.Is(err, db.ErrReadOnly):
		return store.Errorf(store.RetCInvalidOperation, "%v", err)
	default:
		return store.Errorf(store.RetCInternalError, "%v", err)
	}
}
