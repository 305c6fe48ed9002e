// Package storage persists per-date completion so that a restart does not
// re-remind a user who already responded that day.
//
// Drivers:
//   - "file": JSON snapshot plus an fsync'd JSON Lines journal
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "redis": one key per date
//   - "postgres": a single table keyed by date
//
// An empty driver (or "none") disables persistence; Open then returns a nil Store.
package storage
