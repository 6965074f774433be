// Package sqlite provides a SQLite-backed [goMFA.AccountProvider] using the
// CGo-free modernc.org/sqlite driver.
//
// # Schema
//
// Three tables: accounts, enrollments, backup_codes. The schema is created on
// [Open] when missing; there is no migration framework, the schema is
// append-only.
//
// # Concurrency
//
// Backup-code consumption relies on a single conditional UPDATE, so the
// at-most-once contract holds across processes sharing the database file.
package sqlite
