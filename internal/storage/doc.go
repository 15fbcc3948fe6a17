// Package storage persists bridge settings as string key/value pairs and keeps
// an append-only audit trail of settings changes.
//
// Drivers:
//   - "memory": process-local map, for tests and ephemeral runs
//   - "file": JSON snapshot plus append-only journal, compacted periodically
//   - "sqlite": SQLite database (pure Go driver) in WAL mode
package storage
