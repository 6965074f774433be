// Package goMFA provides a multi-factor authentication engine with JWT access
// tokens, rotating opaque refresh tokens, Redis-backed challenge and session
// state, and pluggable biometric matchers.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// goMFA is the public surface. It exposes [Engine], [Builder], [Config], and
// value types (LoginResult, MFAProof, MetricsSnapshot, etc.). Internal
// coordination — challenge encoding, rate limiting, audit dispatch — lives
// under internal/ and is never exported. Biometric scoring lives behind the
// [FaceMatcher], [VoiceMatcher], [GestureMatcher], and [KeystrokeMatcher]
// interfaces; the matchers sub-package ships reference implementations, and
// callers may supply their own.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or encoding details in its
//     public API.
//   - Persist biometric raw samples. Only matcher-produced templates reach
//     the [AccountProvider].
//   - Import any sub-package that re-imports goMFA (no import cycles).
//
// # Performance contract
//
// Validate is the hot path. It must complete without Redis round-trips in
// ModeJWTOnly. Login, ConfirmMFA, and Refresh are allowed Redis round-trips;
// matcher calls run under [VerifyConfig].MatcherTimeout and fail closed on
// expiry unless configured otherwise.
package goMFA
