// Package session provides Redis-backed session persistence and compact binary session
// encoding for authentication hot paths.
//
// # Binary encoding
//
// Sessions are stored in Redis as a compact binary format (schema version v1). The
// layout is fixed-width after the user ID so the rotation Lua script can patch the
// refresh hash in place. The encoder is append-only: future versions add fields but
// never reinterpret old ones.
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations) and the [Session] model. It does NOT
// interpret JWT tokens, evaluate biometric proofs, or enforce authentication policy —
// those responsibilities belong to the Engine.
//
// # What this package must NOT do
//
//   - Import goMFA or jwt (no upward imports).
//   - Perform application-level authorization decisions.
//   - Store plaintext secrets in [Session] fields.
package session
