// Package storage persists usage counters, user settings, bot config,
// request logs and credential sets.
//
// Backends:
//   - sqlite (modernc.org/sqlite, pure Go, default)
//   - postgres (pgx stdlib driver)
//
// Daily usage counters can optionally live in redis so several instances
// share one limit; everything else stays in SQL.
package storage
