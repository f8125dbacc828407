// Package storage persists tenants, their notification state, tasks,
// reminders and calendar events.
//
// One schema serves both drivers:
//   - "sqlite": modernc.org/sqlite, single connection, WAL
//   - "postgres": pgx stdlib driver
//
// Queries are written with '?' placeholders and rebound per driver by sqlx.
// Timestamps are unix milliseconds; id windows are JSON text.
package storage
