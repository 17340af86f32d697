// Package authreg provides an in-memory authentication and authorization
// registry: named users (credential hash, permission level, connection
// quota) and anonymous general keys (bearer credentials mapped directly to
// a permission level), with login/logout connection accounting and
// permission-modification operations.
//
// The package is designed for concurrent server workloads: Engine methods
// are safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// authreg is the public surface. It exposes [Engine], [Builder], [Config],
// and value types (MetricsSnapshot, AuditEvent, etc.). The credential
// tables and connection-counter state machine live in the registry
// sub-package; signed bearer tokens and their Redis-backed revocation list
// live in the token sub-package; audit buffering lives under internal/.
//
// # What this package must NOT do
//
//   - Hash or derive passwords. Callers supply pre-computed hash or key
//     material; comparison is constant-time equality and nothing more.
//   - Persist registry state. The registry lives for the process lifetime;
//     only token revocation marks (when enabled) touch Redis.
//   - Speak HTTP. The surrounding service translates Engine results into
//     wire responses.
//
// # Performance contract
//
// Every registry operation is a short critical section under one mutex
// with no I/O. Login, Logout, and the modification operations complete
// synchronously; only the optional token layer performs Redis round-trips.
package authreg
