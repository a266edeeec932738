// Package storage persists the last-known status of every subscription.
//
// A subscription key is "<subscriberID>_<productURL>_<postalCode>" (see Key).
// Two drivers exist:
//   - "file": the whole mapping in one JSON document, rewritten atomically
//     (temp file, fsync, rename) on every change
//   - "sqlite": one row per key (modernc.org/sqlite, no cgo)
//
// Upsert is a read-modify-write. Calls for the same key serialize on a
// per-key lock; calls for different keys do not wait on each other.
package storage
