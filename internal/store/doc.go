// Package store provides a generic record store with auto-increment IDs over
// interchangeable backends.
//
// # Overview
//
// [Store] holds an ordered collection of records. Each record has a unique
// positive integer ID assigned by the store: one more than the largest ID in
// the collection, or 1 when the collection is empty. Records are kept in
// creation order, which is ascending ID order.
//
// # Backends
//
// A [Backend] loads and saves the whole collection. The store never writes a
// partial collection: every mutation loads, modifies and saves everything,
// and the last write wins. Available backends:
//
//   - [Memory]: a slice in process memory.
//   - [JSONFile]: a JSON array in a file, rewritten atomically.
//   - [Cookie]: a cookie of the current HTTP request, see [WithCookieJar].
//   - [Bolt]: a bucket in a bolt database.
//   - [SQLite]: rows of a shared records table.
//
// # Concurrency
//
// Operations on one [Store] are serialized by a mutex held across the
// load-modify-save sequence. There is no coordination between stores or
// between processes sharing a backend.
package store
