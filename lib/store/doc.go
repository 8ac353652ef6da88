// Package store provides the versioned entry store that sits between the
// protocol operations and the storage engines (db.KVDB).
//
// The package focuses on:
//   - A unified interface (IStore, Txn) for reading and writing versioned entries inside transactions
//   - The on-disk record format (format byte, flags, version, xxh3 checksum, compressed msgpack payload)
//   - A structured error type with return codes used up to the HTTP boundary
//
// Key Components:
//
//   - IStore Interface: one database inside an environment. View and Update hand a Txn
//     to a callback; everything the callback writes commits atomically or not at all.
//
//   - Txn Interface: the storage primitives Get, Put, Remove and Iterate. Put and Remove
//     take an optional ifVersion precondition and report a failed precondition as false.
//     Every successful Put increments the version of the key by one unless an explicit
//     version is given. Remove writes a tombstone that keeps the version, so a key that is
//     written again never reuses a version.
//
//   - Error System: a structured error reporting mechanism using typed return codes
//     (RetCInternalError, RetCUnsupportedOperation, RetCInvalidOperation, RetCNotFound,
//     RetCAborted) and descriptive messages.
//
// Implementations:
//
//	- Local Store (lstore): maps a database to a bucket of a db.KVDB environment.
//	  Available in the "github.com/ValentinKolb/hKV/lib/store/lstore" package.
package store
