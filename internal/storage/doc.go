// Package storage persists task results and run summaries.
//
// Two drivers are available:
//   - "file": append-only JSON Lines files next to the configured path
//   - "sqlite": a SQLite database (pure Go driver)
package storage
