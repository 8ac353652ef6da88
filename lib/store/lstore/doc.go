// Package lstore implements store.IStore on a bucket of a db.KVDB environment.
//
// Keys are stored in the order-preserving form of codec.EncodeKey, so the engine's
// bytewise order is the key order. Values are stored as store records.
//
// Implementation Details:
//
//   - Versions: Put reads the previous record inside the same engine transaction,
//     checks the ifVersion precondition and writes the new record with the next version.
//     All of this happens under the engine's single writer, so two successful writes of
//     one key never observe the same version.
//
//   - Tombstones: Remove replaces the record with a tombstone carrying the last version.
//     Get treats tombstones as absent, iterators yield them as raw positions.
//     Tombstones are never purged: a key written again continues from the tombstone
//     version, so a version once handed out is never reused. The cost is one small
//     record per removed key, which range scans step over (and count for offsets).
//
//   - Metrics: reads, writes, aborted transactions and the update latency are recorded in
//     a go-metrics registry under "db.<name>.".
//
// Usage Example:
//
//	env, _ := pebble.OpenMemory()
//	users, _ := lstore.NewLocalStore(env, "users", nil)
//
//	err := users.Update(ctx, func(txn store.Txn) error {
//		_, err := txn.Put("joe", map[string]any{"age": 42.0}, nil, nil)
//		return err
//	})
package lstore
