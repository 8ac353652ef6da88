// Package db provides the interface for the sorted transactional engines that
// back hKV. Every implementation must satisfy the db.KVDB interface: an
// environment holding named buckets, each an ordered byte keyspace, accessed
// through View and Update transactions.
//
// The engines package (github.com/ValentinKolb/hKV/lib/db/engines) contains
// the implementations:
//   - bolt: a single bbolt file per environment, one bolt bucket per database
//   - pebble: an LSM tree per environment, buckets are key prefixes
//   - pebble.OpenMemory: the pebble engine on an in-memory filesystem
//
// The testing package (github.com/ValentinKolb/hKV/lib/db/testing) provides
// standardized tests and benchmarks for database implementations that satisfy the db.KVDB interface.
//   - RunKVDBTests: Runs a standardized test suite to validate implementations
//   - RunKVDBBenchmarks: Provides performance benchmarks for comparing implementations
package db
