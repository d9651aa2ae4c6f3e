// Package scheduler owns every timed trigger in the process.
//
// Two kinds of work are scheduled here:
//   - durable one-shot jobs (ScheduleOnce), persisted through the job store and
//     re-armed on Start, delivered at least once to the installed Handler
//   - in-memory periodic triggers (AddSchedule/AddCron/AddInterval/AddDaily) backed by
//     robfig/cron, used for maintenance sweeps
//
// Execution is delegated to the task engine. Job lifecycle changes are
// published on the event bus as JobEvent values under the "job." prefix.
package scheduler
