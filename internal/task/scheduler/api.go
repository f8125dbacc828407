package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"anyarchie/internal/eventbus"
	logx "anyarchie/pkg/logx"
)

const errWarnThrottle = 5 * time.Minute

// Register parses schedule and upserts the job under name.
//
// Supported schedule formats:
//   - Cron: "*/5 * * * *", "55 * * * *", "@hourly", "@every 55m"
//   - Interval duration: "55m", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
func (s *Service) Register(name, schedule string, timeout time.Duration, job Job) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	spec, err := s.normalize(schedule)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Upsert by name so hot reloads never duplicate a schedule.
	s.removeScheduleLocked(name)
	s.defs = append(s.defs, scheduleDef{name: name, spec: spec, timeout: timeout, job: job})
	if s.c == nil {
		// Not started yet: registered when Start() runs.
		return nil
	}
	d := &s.defs[len(s.defs)-1]
	if err := s.addCronLocked(d); err != nil {
		s.log.Error("schedule register failed", logx.String("name", name), logx.String("spec", spec), logx.Err(err))
		return err
	}
	args := []logx.Field{logx.String("name", name), logx.String("spec", spec), logx.Duration("timeout", timeout)}
	if next := s.previewNextRunsLocked(spec, 3); next != "" {
		args = append(args, logx.String("next", next))
	}
	s.log.Debug("schedule registered", args...)
	return nil
}

// Reschedule changes the schedule of an existing job, keeping its job and
// timeout. An unchanged spec is a no-op.
func (s *Service) Reschedule(name, schedule string) error {
	spec, err := s.normalize(schedule)
	if err != nil {
		return err
	}

	s.mu.Lock()
	var def *scheduleDef
	for i := range s.defs {
		if s.defs[i].name == name {
			def = &s.defs[i]
			break
		}
	}
	if def == nil {
		s.mu.Unlock()
		return fmt.Errorf("schedule %q not registered", name)
	}
	if def.spec == spec {
		s.mu.Unlock()
		return nil
	}
	timeout, job := def.timeout, def.job
	s.mu.Unlock()

	s.log.Info("schedule changed", logx.String("name", name), logx.String("spec", spec))
	return s.Register(name, spec, timeout, job)
}

// Remove unschedules name. It reports whether something was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeScheduleLocked(name)
}

// Entries lists registered schedules with their next and previous runs.
func (s *Service) Entries() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec, Timeout: d.timeout}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		out = append(out, it)
	}
	return out
}

// normalize turns any supported schedule form into a cron spec.
func (s *Service) normalize(schedule string) (string, error) {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return "", err
	}
	switch ps.Kind {
	case SpecCron:
		if _, err := s.parser.Parse(ps.Cron); err != nil {
			return "", fmt.Errorf("invalid cron %q: %w", ps.Cron, err)
		}
		return ps.Cron, nil
	case SpecInterval:
		return fmt.Sprintf("@every %s", ps.Every), nil
	default:
		return "", fmt.Errorf("unsupported schedule kind")
	}
}

// removeScheduleLocked removes all defs matching name and unregisters them
// from cron if running. Call with s.mu held.
func (s *Service) removeScheduleLocked(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

// addCronLocked registers d with the running cron. Call with s.mu held.
func (s *Service) addCronLocked(d *scheduleDef) error {
	name, timeout, job, ctx := d.name, d.timeout, d.job, s.runCtx
	fn := cron.FuncJob(func() { s.run(ctx, name, timeout, job) })

	// Interval schedules get a per-job first-run delay so every @every job
	// does not fire in the same second after start.
	spec := strings.TrimSpace(d.spec)
	if strings.HasPrefix(spec, "@every") {
		every, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(spec, "@every")))
		if err == nil && every > 0 {
			loc := s.loc
			if loc == nil {
				loc = time.Local
			}
			sched, jitter := intervalSchedule(name, every, time.Now().In(loc))
			d.startupSpread = jitter
			d.entryID = s.c.Schedule(sched, fn)
			return nil
		}
	}

	d.startupSpread = 0
	eid, err := s.c.AddJob(spec, fn)
	if err == nil {
		d.entryID = eid
	}
	return err
}

func (s *Service) run(ctx context.Context, name string, timeout time.Duration, job Job) {
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := job(ctx)
	took := time.Since(start)

	ev := RunEvent{Name: name, Took: took}
	if err != nil {
		ev.Err = err.Error()
		s.reportRunError(name, err)
	} else {
		s.log.Debug("schedule ran", logx.String("schedule", name), logx.Duration("took", took))
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeScheduleRun, Data: ev})
}

// reportRunError logs job failures at most once per errWarnThrottle per
// schedule; repeats go to debug.
func (s *Service) reportRunError(name string, err error) {
	now := time.Now()
	s.errMu.Lock()
	last := s.lastErrWarn[name]
	throttled := !last.IsZero() && now.Sub(last) < errWarnThrottle
	if !throttled {
		s.lastErrWarn[name] = now
	}
	s.errMu.Unlock()

	if throttled {
		s.log.Debug("scheduled job failed", logx.String("schedule", name), logx.Err(err))
		return
	}
	s.log.Warn("scheduled job failed", logx.String("schedule", name), logx.Err(err))
}

// previewNextRunsLocked returns a short, human-friendly list of upcoming run
// times for spec. Call with s.mu held.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	loc := s.loc
	if loc == nil {
		loc = time.Local
	}
	t := time.Now().In(loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}
