// Package scheduler runs named periodic jobs (heartbeat ticks, reminder
// sweeps) on cron or interval schedules.
//
// A job never overlaps itself: a trigger that fires while the previous run
// is still in flight is skipped. Stop lets running jobs finish; their context
// is cancelled only once the stop deadline passes, and is always bounded by
// the job timeout.
package scheduler
