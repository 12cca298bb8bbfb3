// Package storage persists the target directory and the batch history.
//
// Drivers:
//   - "file": JSON snapshot for targets + JSON Lines batch history
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "postgres": PostgreSQL via pgx
package storage
