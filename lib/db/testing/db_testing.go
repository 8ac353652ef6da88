package testing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/hKV/lib/db"
)

// DBFactory is a function that creates a new instance of a KVDB implementation
type DBFactory func() db.KVDB

const testBucket = "test-bucket"

// RunKVDBTests runs a comprehensive test suite for a KVDB implementation.
func RunKVDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Put&Get", func(t *testing.T) {
			testPutGet(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("Buckets", func(t *testing.T) {
			testBuckets(t, factory())
		})

		t.Run("ReadOnly", func(t *testing.T) {
			testReadOnly(t, factory())
		})

		t.Run("Rollback", func(t *testing.T) {
			testRollback(t, factory())
		})

		t.Run("ContextCancel", func(t *testing.T) {
			testContextCancel(t, factory())
		})

		t.Run("ReadYourWrites", func(t *testing.T) {
			testReadYourWrites(t, factory())
		})

		t.Run("Range", func(t *testing.T) {
			testRange(t, factory())
		})

		t.Run("Snapshot", func(t *testing.T) {
			testSnapshot(t, factory())
		})

		t.Run("ConcurrentUpdates", func(t *testing.T) {
			testConcurrentUpdates(t, factory())
		})

		t.Run("Close", func(t *testing.T) {
			testClose(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the database supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, database db.KVDB, feature db.Feature) {
	if !database.SupportsFeature(feature) {
		t.Skip()
	}
}

func mustCreateBucket(t testing.TB, database db.KVDB, name string) {
	if err := database.CreateBucket(name); err != nil {
		t.Fatalf("CreateBucket(%s) failed: %v", name, err)
	}
}

func put(t testing.TB, database db.KVDB, key, value string) {
	err := database.Update(context.Background(), func(tx db.Tx) error {
		b, err := tx.Bucket(testBucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), []byte(value))
	})
	if err != nil {
		t.Fatalf("Put(%s) failed: %v", key, err)
	}
}

func get(t testing.TB, database db.KVDB, key string) []byte {
	var value []byte
	err := database.View(context.Background(), func(tx db.Tx) error {
		b, err := tx.Bucket(testBucket)
		if err != nil {
			return err
		}
		value, err = b.Get([]byte(key))
		return err
	})
	if err != nil {
		t.Fatalf("Get(%s) failed: %v", key, err)
	}
	return value
}

func collect(t testing.TB, it db.Iterator) []string {
	defer it.Close()
	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator failed: %v", err)
	}
	return keys
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testPutGet(t *testing.T, database db.KVDB) {
	defer database.Close()
	mustCreateBucket(t, database, testBucket)

	put(t, database, "test-key", "test-value1")
	if got := get(t, database, "test-key"); !bytes.Equal(got, []byte("test-value1")) {
		t.Errorf("Expected value %s, got %s", "test-value1", got)
	}

	put(t, database, "test-key", "test-value2")
	if got := get(t, database, "test-key"); !bytes.Equal(got, []byte("test-value2")) {
		t.Errorf("Expected value %s, got %s", "test-value2", got)
	}

	if got := get(t, database, "nonexistent-key"); got != nil {
		t.Errorf("Expected nil for a nonexistent key, got %s", got)
	}

	retrieved := get(t, database, "test-key")
	retrieved[0] = 'X'
	if original := get(t, database, "test-key"); bytes.Equal(retrieved, original) {
		t.Errorf("Get should return a copy, not a reference to the stored value")
	}
}

func testDelete(t *testing.T, database db.KVDB) {
	defer database.Close()
	mustCreateBucket(t, database, testBucket)

	put(t, database, "delete-key", "delete-value")

	err := database.Update(context.Background(), func(tx db.Tx) error {
		b, err := tx.Bucket(testBucket)
		if err != nil {
			return err
		}
		if err := b.Delete([]byte("delete-key")); err != nil {
			return err
		}
		return b.Delete([]byte("nonexistent-key"))
	})
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if got := get(t, database, "delete-key"); got != nil {
		t.Errorf("Expected key to be gone after Delete, got %s", got)
	}
}

func testBuckets(t *testing.T, database db.KVDB) {
	defer database.Close()
	requireFeature(t, database, db.FeatureBuckets)

	mustCreateBucket(t, database, "a")
	mustCreateBucket(t, database, "b")
	mustCreateBucket(t, database, "a") // idempotent

	err := database.Update(context.Background(), func(tx db.Tx) error {
		for _, name := range []string{"a", "b"} {
			b, err := tx.Bucket(name)
			if err != nil {
				return err
			}
			if err := b.Put([]byte("shared"), []byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	err = database.View(context.Background(), func(tx db.Tx) error {
		for _, name := range []string{"a", "b"} {
			b, err := tx.Bucket(name)
			if err != nil {
				return err
			}
			v, err := b.Get([]byte("shared"))
			if err != nil {
				return err
			}
			if string(v) != name {
				t.Errorf("Bucket %s: expected %s, got %s", name, name, v)
			}
			if keys := collect(t, mustIter(t, b, nil, nil)); len(keys) != 1 {
				t.Errorf("Bucket %s: expected 1 key, got %v", name, keys)
			}
		}
		_, err := tx.Bucket("missing")
		if !errors.Is(err, db.ErrBucketNotFound) {
			t.Errorf("Expected ErrBucketNotFound, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}

	if err := database.CreateBucket(""); !errors.Is(err, db.ErrInvalidBucket) {
		t.Errorf("Expected ErrInvalidBucket for an empty name, got %v", err)
	}
}

func mustIter(t testing.TB, b db.Bucket, start, end []byte) db.Iterator {
	it, err := b.Iterator(start, end)
	if err != nil {
		t.Fatalf("Iterator failed: %v", err)
	}
	return it
}

func testReadOnly(t *testing.T, database db.KVDB) {
	defer database.Close()
	mustCreateBucket(t, database, testBucket)

	err := database.View(context.Background(), func(tx db.Tx) error {
		if tx.Writable() {
			t.Errorf("View transaction must not be writable")
		}
		b, err := tx.Bucket(testBucket)
		if err != nil {
			return err
		}
		if err := b.Put([]byte("k"), []byte("v")); !errors.Is(err, db.ErrReadOnly) {
			t.Errorf("Expected ErrReadOnly from Put, got %v", err)
		}
		if err := b.Delete([]byte("k")); !errors.Is(err, db.ErrReadOnly) {
			t.Errorf("Expected ErrReadOnly from Delete, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

func testRollback(t *testing.T, database db.KVDB) {
	defer database.Close()
	requireFeature(t, database, db.FeatureTransactions)
	mustCreateBucket(t, database, testBucket)

	put(t, database, "kept", "old")

	errAbort := errors.New("abort")
	err := database.Update(context.Background(), func(tx db.Tx) error {
		b, err := tx.Bucket(testBucket)
		if err != nil {
			return err
		}
		if err := b.Put([]byte("kept"), []byte("new")); err != nil {
			return err
		}
		if err := b.Put([]byte("added"), []byte("x")); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("Expected the callback error, got %v", err)
	}

	if got := get(t, database, "kept"); string(got) != "old" {
		t.Errorf("Expected rolled back value old, got %s", got)
	}
	if got := get(t, database, "added"); got != nil {
		t.Errorf("Expected rolled back key to be absent, got %s", got)
	}
}

func testContextCancel(t *testing.T, database db.KVDB) {
	defer database.Close()
	requireFeature(t, database, db.FeatureTransactions)
	mustCreateBucket(t, database, testBucket)

	ctx, cancel := context.WithCancel(context.Background())
	err := database.Update(ctx, func(tx db.Tx) error {
		b, err := tx.Bucket(testBucket)
		if err != nil {
			return err
		}
		if err := b.Put([]byte("late"), []byte("x")); err != nil {
			return err
		}
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if got := get(t, database, "late"); got != nil {
		t.Errorf("Expected no commit after cancellation, got %s", got)
	}

	if err := database.View(ctx, func(db.Tx) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected View with a cancelled context to fail, got %v", err)
	}
}

func testReadYourWrites(t *testing.T, database db.KVDB) {
	defer database.Close()
	mustCreateBucket(t, database, testBucket)

	put(t, database, "a", "1")

	err := database.Update(context.Background(), func(tx db.Tx) error {
		if !tx.Writable() {
			t.Errorf("Update transaction must be writable")
		}
		b, err := tx.Bucket(testBucket)
		if err != nil {
			return err
		}
		if err := b.Put([]byte("b"), []byte("2")); err != nil {
			return err
		}
		if err := b.Delete([]byte("a")); err != nil {
			return err
		}
		v, err := b.Get([]byte("b"))
		if err != nil {
			return err
		}
		if string(v) != "2" {
			t.Errorf("Expected uncommitted write to be visible, got %s", v)
		}
		if keys := collect(t, mustIter(t, b, nil, nil)); fmt.Sprint(keys) != "[b]" {
			t.Errorf("Expected iterator to see [b], got %v", keys)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
}

func testRange(t *testing.T, database db.KVDB) {
	defer database.Close()
	requireFeature(t, database, db.FeatureRange)
	mustCreateBucket(t, database, testBucket)

	for _, k := range []string{"d", "a", "e", "c", "b"} {
		put(t, database, k, "value-"+k)
	}

	err := database.View(context.Background(), func(tx db.Tx) error {
		b, err := tx.Bucket(testBucket)
		if err != nil {
			return err
		}

		tests := []struct {
			start, end []byte
			expected   string
		}{
			{nil, nil, "[a b c d e]"},
			{[]byte("b"), []byte("e"), "[b c d]"},
			{[]byte("bb"), nil, "[c d e]"},
			{nil, []byte("b"), "[a]"},
			{[]byte("d"), []byte("b"), "[]"},
			{[]byte("c"), []byte("c"), "[]"},
		}
		for _, tc := range tests {
			keys := collect(t, mustIter(t, b, tc.start, tc.end))
			if fmt.Sprint(keys) != tc.expected {
				t.Errorf("Range [%s, %s): expected %s, got %v", tc.start, tc.end, tc.expected, keys)
			}
		}

		it := mustIter(t, b, []byte("c"), nil)
		defer it.Close()
		if !it.Next() {
			t.Fatalf("Expected an entry at c")
		}
		if string(it.Value()) != "value-c" {
			t.Errorf("Expected value-c, got %s", it.Value())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
}

func testSnapshot(t *testing.T, database db.KVDB) {
	defer database.Close()
	requireFeature(t, database, db.FeatureSnapshots)
	mustCreateBucket(t, database, testBucket)

	put(t, database, "snap", "before")

	// The write runs concurrently with the view. The view waits for it only a
	// bounded time: an engine may hold the commit until the view is closed.
	done := make(chan struct{})
	err := database.View(context.Background(), func(tx db.Tx) error {
		b, err := tx.Bucket(testBucket)
		if err != nil {
			return err
		}

		go func() {
			defer close(done)
			err := database.Update(context.Background(), func(tx db.Tx) error {
				b, err := tx.Bucket(testBucket)
				if err != nil {
					return err
				}
				return b.Put([]byte("snap"), []byte("after"))
			})
			if err != nil {
				t.Errorf("Concurrent put failed: %v", err)
			}
		}()
		select {
		case <-done:
		case <-time.After(500 * time.Millisecond):
		}

		v, err := b.Get([]byte("snap"))
		if err != nil {
			return err
		}
		if string(v) != "before" {
			t.Errorf("Expected snapshot value before, got %s", v)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	<-done

	if got := get(t, database, "snap"); string(got) != "after" {
		t.Errorf("Expected committed value after, got %s", got)
	}
}

func testConcurrentUpdates(t *testing.T, database db.KVDB) {
	defer database.Close()
	requireFeature(t, database, db.FeatureTransactions)
	mustCreateBucket(t, database, testBucket)

	const workers, rounds = 8, 25

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				err := database.Update(context.Background(), func(tx db.Tx) error {
					b, err := tx.Bucket(testBucket)
					if err != nil {
						return err
					}
					v, err := b.Get([]byte("counter"))
					if err != nil {
						return err
					}
					var n int
					if v != nil {
						_, _ = fmt.Sscanf(string(v), "%d", &n)
					}
					return b.Put([]byte("counter"), []byte(fmt.Sprint(n+1)))
				})
				if err != nil {
					t.Errorf("Update failed: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	if got := string(get(t, database, "counter")); got != fmt.Sprint(workers*rounds) {
		t.Errorf("Expected counter %d, got %s", workers*rounds, got)
	}
}

func testClose(t *testing.T, database db.KVDB) {
	mustCreateBucket(t, database, testBucket)

	if err := database.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := database.View(context.Background(), func(db.Tx) error { return nil }); !errors.Is(err, db.ErrClosed) {
		t.Errorf("Expected ErrClosed from View, got %v", err)
	}
	if err := database.Update(context.Background(), func(db.Tx) error { return nil }); !errors.Is(err, db.ErrClosed) {
		t.Errorf("Expected ErrClosed from Update, got %v", err)
	}
	if err := database.CreateBucket("other"); !errors.Is(err, db.ErrClosed) {
		t.Errorf("Expected ErrClosed from CreateBucket, got %v", err)
	}

	// Double close should not error
	if err := database.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}
