// Package storage persists users, reminder events, scheduled jobs and
// delivery dedup keys in a single SQLite file (pure Go driver).
//
// Instants are stored as unix milliseconds and returned in UTC.
package storage
