package testing

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/ValentinKolb/hKV/lib/db"
)

// RunKVDBBenchmarks runs all benchmarks for a key-value database implementations
func RunKVDBBenchmarks(b *testing.B, name string, factory DBFactory) {

	b.Run("Put", func(b *testing.B) {
		benchmarkPut(b, factory())
	})

	b.Run("PutLargeValue", func(b *testing.B) {
		benchmarkPutLargeValue(b, factory())
	})

	b.Run("Get", func(b *testing.B) {
		benchmarkGet(b, factory())
	})

	b.Run("Range", func(b *testing.B) {
		benchmarkRange(b, factory())
	})

	b.Run("MixedUsage", func(b *testing.B) {
		benchmarkMixedUsage(b, factory())
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

func benchKey(i int) []byte {
	return []byte(fmt.Sprintf("test-key-%08d", i))
}

func prepare(b *testing.B, database db.KVDB, n int) {
	mustCreateBucket(b, database, testBucket)
	const chunk = 1000
	for i := 0; i < n; i += chunk {
		err := database.Update(context.Background(), func(tx db.Tx) error {
			bkt, err := tx.Bucket(testBucket)
			if err != nil {
				return err
			}
			for j := i; j < i+chunk && j < n; j++ {
				if err := bkt.Put(benchKey(j), []byte(fmt.Sprintf("test-value-%d", j))); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			b.Fatalf("prepare failed: %v", err)
		}
	}
}

// Benchmark for one Put per transaction
func benchmarkPut(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	mustCreateBucket(b, database, testBucket)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		err := database.Update(context.Background(), func(tx db.Tx) error {
			bkt, err := tx.Bucket(testBucket)
			if err != nil {
				return err
			}
			return bkt.Put(benchKey(i), []byte(fmt.Sprintf("test-value-%d", i)))
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

// Benchmark for Put operation with large values
func benchmarkPutLargeValue(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	mustCreateBucket(b, database, testBucket)
	largeValue := make([]byte, 1*1024*1024) // 1MB

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		err := database.Update(context.Background(), func(tx db.Tx) error {
			bkt, err := tx.Bucket(testBucket)
			if err != nil {
				return err
			}
			return bkt.Put(benchKey(i), largeValue)
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

// Parallel benchmarking for Get operation
func benchmarkGet(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	const numKeys = 10_000
	prepare(b, database, numKeys)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			err := database.View(context.Background(), func(tx db.Tx) error {
				bkt, err := tx.Bucket(testBucket)
				if err != nil {
					return err
				}
				_, err = bkt.Get(benchKey(r.Intn(numKeys)))
				return err
			})
			if err != nil {
				b.Error(err)
			}
		}
	})
}

// Benchmark for reading pages of 100 entries
func benchmarkRange(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureRange)

	const numKeys = 10_000
	prepare(b, database, numKeys)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		start := benchKey(rand.Intn(numKeys - 100))
		err := database.View(context.Background(), func(tx db.Tx) error {
			bkt, err := tx.Bucket(testBucket)
			if err != nil {
				return err
			}
			it, err := bkt.Iterator(start, nil)
			if err != nil {
				return err
			}
			defer it.Close()
			for n := 0; n < 100 && it.Next(); n++ {
				_ = it.Value()
			}
			return it.Err()
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

// Benchmark for a read heavy mix (90% reads, 10% writes)
func benchmarkMixedUsage(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	const numKeys = 10_000
	prepare(b, database, numKeys)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			key := benchKey(r.Intn(numKeys))
			var err error
			if r.Intn(10) == 0 {
				err = database.Update(context.Background(), func(tx db.Tx) error {
					bkt, err := tx.Bucket(testBucket)
					if err != nil {
						return err
					}
					return bkt.Put(key, []byte("updated"))
				})
			} else {
				err = database.View(context.Background(), func(tx db.Tx) error {
					bkt, err := tx.Bucket(testBucket)
					if err != nil {
						return err
					}
					_, err = bkt.Get(key)
					return err
				})
			}
			if err != nil {
				b.Error(err)
			}
		}
	})
}
