// Package token issues and verifies signed bearer tokens for authenticated
// registry identities, and tracks revocation in Redis.
//
// # Claims
//
// A token carries the authenticated user name (empty for anonymous
// general-key logins), the granted permission level, and a UUID token ID
// used as the revocation handle.
//
// # Architecture boundaries
//
// This package owns signing, parsing, and the revocation list. It does NOT
// authenticate credentials or touch the registry — the Engine performs the
// login and hands the resulting grant to [Manager.Issue].
//
// # What this package must NOT do
//
//   - Import the root package or the registry package.
//   - Persist anything beyond revocation marks and the per-name token
//     index, both with bounded TTLs.
package token
