// Package registry provides the in-memory credential and permission registry:
// named users with a connection counter, and anonymous bearer keys
// ("general keys") mapped directly to a permission level.
//
// # Lookup protocol
//
// Every login presents an opaque credential hash and an optional user name.
// A non-empty name selects the named-user table; an empty name selects the
// general-key table. Exactly one table is consulted per call.
//
// # Concurrency
//
// A [Registry] is safe for concurrent use. One registry-wide mutex is held
// for the full duration of every operation, so the read-modify-write
// sequences (connection counting, overwrite-on-modify) are atomic with
// respect to concurrent calls on the same name or hash.
//
// # Architecture boundaries
//
// This package is a pure in-memory data structure with no I/O. Audit
// events, metrics, and logging belong to the Engine in the root package.
//
// # What this package must NOT do
//
//   - Persist state or touch the network.
//   - Hash or derive credentials (callers supply pre-computed material;
//     comparison is constant-time equality and nothing more).
//   - Import the root package or any sibling package.
package registry
