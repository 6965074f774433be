// Package memory provides an in-memory [goMFA.AccountProvider] for tests and
// examples.
//
// All state lives behind a single RWMutex. Backup-code consumption is atomic
// under the lock, matching the at-most-once contract. Nothing persists across
// process restarts; do not use this provider in production.
package memory
