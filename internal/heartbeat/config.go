package heartbeat

import "time"

// QuietHours is a local-time window in whole hours. Start > End wraps past
// midnight.
type QuietHours struct {
	Enabled bool
	Start   int
	End     int
}

// Contains reports whether hour (0-23) falls inside the window.
func (q QuietHours) Contains(hour int) bool {
	if !q.Enabled {
		return false
	}
	if q.Start > q.End {
		return hour >= q.Start || hour < q.End
	}
	return q.Start <= hour && hour < q.End
}

type Checks struct {
	UrgentEmails struct {
		Enabled     bool
		MaxAgeHours int
	}
	CalendarSoon struct {
		Enabled          bool
		LookaheadMinutes int
	}
	OverdueTasks struct {
		Enabled bool
	}
}

type Config struct {
	Interval     time.Duration
	Location     *time.Location
	QuietHours   QuietHours
	MuteDuration time.Duration
	Checks       Checks

	// Concurrency bounds tenants processed at once in one tick.
	Concurrency int
	// TenantTimeout bounds one tenant cycle, delivery included.
	TenantTimeout time.Duration
}

func DefaultConfig() Config {
	c := Config{
		Interval:      120 * time.Minute,
		Location:      time.Local,
		QuietHours:    QuietHours{Enabled: true, Start: 22, End: 8},
		MuteDuration:  120 * time.Minute,
		Concurrency:   4,
		TenantTimeout: 2 * time.Minute,
	}
	c.Checks.UrgentEmails.Enabled = true
	c.Checks.UrgentEmails.MaxAgeHours = 24
	c.Checks.CalendarSoon.Enabled = true
	c.Checks.CalendarSoon.LookaheadMinutes = 60
	c.Checks.OverdueTasks.Enabled = true
	return c
}

func (c Config) loc() *time.Location {
	if c.Location == nil {
		return time.Local
	}
	return c.Location
}

// IsQuiet reports whether now falls in the configured quiet hours.
func IsQuiet(c Config, now time.Time) bool {
	return c.QuietHours.Contains(now.In(c.loc()).Hour())
}

// CheckEnabled reports whether the collector for kind should run.
func (c Config) CheckEnabled(kind Kind) bool {
	switch kind {
	case KindEmails:
		return c.Checks.UrgentEmails.Enabled
	case KindCalendar:
		return c.Checks.CalendarSoon.Enabled
	case KindTasks:
		return c.Checks.OverdueTasks.Enabled
	}
	return true
}
