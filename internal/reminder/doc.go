// Package reminder owns the lifecycle of recurring reminders.
//
// An Event is persisted first and then backed by exactly one durable job in
// the scheduler. The orchestrator (Service) keeps the two in step for user
// commands and job firings; the Reconciler repairs whatever drift remains
// after crashes or partial failures.
//
// Job payloads carry only the event id. The store stays the source of truth.
package reminder
