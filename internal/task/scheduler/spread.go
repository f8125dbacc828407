package scheduler

import (
	"hash/fnv"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// delayedStart runs its first trigger at first, then follows every.
type delayedStart struct {
	every cron.Schedule
	first time.Time
}

func (s *delayedStart) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.every.Next(t)
}

// startupOffset is a stable per-job delay in [0, min(every, 30s)), in whole
// seconds like the cron clock. Keyed by job name, so the heartbeat tick and
// the reminder sweep start apart and keep their slots across restarts.
func startupOffset(name string, every time.Duration) time.Duration {
	window := min(every, maxStartupSpread)
	if window <= 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return time.Duration(h.Sum64() % uint64(window)).Truncate(time.Second)
}

// intervalSchedule fires every interval, offset once by the job's startup
// delay.
func intervalSchedule(name string, every time.Duration, now time.Time) (cron.Schedule, time.Duration) {
	off := startupOffset(name, every)
	base := cron.Every(every)
	if off == 0 {
		return base, 0
	}
	return &delayedStart{every: base, first: now.Add(every + off)}, off
}
