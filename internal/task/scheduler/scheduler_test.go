package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anyarchie/internal/eventbus"
	logx "anyarchie/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		kind    SpecKind
		every   time.Duration
		cron    string
		wantErr bool
	}{
		{in: "*/5 * * * *", kind: SpecCron, cron: "*/5 * * * *"},
		{in: "@hourly", kind: SpecCron, cron: "@hourly"},
		{in: "cron: 0 9 * * 1", kind: SpecCron, cron: "0 9 * * 1"},
		{in: "30s", kind: SpecInterval, every: 30 * time.Second},
		{in: "02:30", kind: SpecInterval, every: 150 * time.Minute},
		{in: "every: 00:45", kind: SpecInterval, every: 45 * time.Minute},
		{in: "interval:2h", kind: SpecInterval, every: 2 * time.Hour},
		{in: "", wantErr: true},
		{in: "00:00", wantErr: true},
		{in: "01:75", wantErr: true},
		{in: "-5m", wantErr: true},
		{in: "soon", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseSchedule(%q) error = nil, want error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error = %v", tt.in, err)
			}
			if got.Kind != tt.kind || got.Every != tt.every || got.Cron != tt.cron {
				t.Fatalf("ParseSchedule(%q) = %+v, want kind=%v every=%v cron=%q", tt.in, got, tt.kind, tt.every, tt.cron)
			}
		})
	}
}

func noop(context.Context) error { return nil }

func TestRegisterUpsertsAndRemoves(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true}, logx.Nop(), nil)
	require.NoError(t, s.Register("heartbeat", "2h", time.Minute, noop))
	require.NoError(t, s.Register("heartbeat", "90m", time.Minute, noop))
	require.NoError(t, s.Register("reminders", "*/1 * * * *", 0, noop))
	assert.Error(t, s.Register("bad", "not a schedule", 0, noop))
	assert.Error(t, s.Register("bad", "61 * * * *", 0, noop))
	assert.Error(t, s.Register("", "1m", 0, noop))

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "heartbeat", entries[0].Name)
	assert.Equal(t, "@every 1h30m0s", entries[0].Spec)
	assert.True(t, entries[0].Next.IsZero(), "not started")

	require.NoError(t, s.Reschedule("heartbeat", "3h"))
	assert.Equal(t, "@every 3h0m0s", s.Entries()[1].Spec)
	assert.Error(t, s.Reschedule("missing", "1h"))

	assert.True(t, s.Remove("reminders"))
	assert.False(t, s.Remove("reminders"))
	assert.Len(t, s.Entries(), 1)
}

func TestStartedJobRuns(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, cancel := bus.Subscribe(16)
	defer cancel()

	s := New(Config{Enabled: true, Timezone: "UTC"}, logx.Nop(), bus)
	var runs atomic.Int32
	require.NoError(t, s.Register("tick", "* * * * * *", time.Second, func(context.Context) error {
		runs.Add(1)
		return errors.New("boom")
	}))

	s.Start(context.Background())
	defer s.Stop(context.Background())

	e := s.Entries()
	require.Len(t, e, 1)
	assert.False(t, e[0].Next.IsZero())

	assert.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 20*time.Millisecond)
	select {
	case ev := <-events:
		assert.Equal(t, eventbus.TypeScheduleRun, ev.Type)
		assert.Equal(t, "boom", ev.Data.(RunEvent).Err)
	case <-time.After(time.Second):
		t.Fatalf("no run event")
	}
}

func TestStopWaitsForRunningJob(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true}, logx.Nop(), nil)
	started := make(chan struct{}, 1)
	var finished, cancelled atomic.Bool
	require.NoError(t, s.Register("slow", "* * * * * *", 0, func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
			return nil
		}
		select {
		case <-time.After(300 * time.Millisecond):
			finished.Store(true)
		case <-ctx.Done():
			cancelled.Store(true)
		}
		return nil
	}))
	s.Start(context.Background())

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatalf("job never started")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.True(t, finished.Load(), "stop returns after the job")
	assert.False(t, cancelled.Load())
}

func TestStopCancelsJobPastDeadline(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true}, logx.Nop(), nil)
	started := make(chan struct{}, 1)
	var cancelled atomic.Bool
	require.NoError(t, s.Register("stuck", "* * * * * *", 0, func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}))
	s.Start(context.Background())

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatalf("job never started")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Stop(ctx)
	assert.Eventually(t, cancelled.Load, time.Second, 10*time.Millisecond)
}

func TestIntervalScheduleStartupOffset(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	a := startupOffset("heartbeat", 2*time.Hour)
	assert.Equal(t, a, startupOffset("heartbeat", 2*time.Hour), "stable per name")
	assert.Less(t, a, maxStartupSpread)
	assert.Less(t, startupOffset("reminders", 10*time.Second), 10*time.Second)

	sched, off := intervalSchedule("heartbeat", 2*time.Hour, now)
	assert.Equal(t, a, off)
	first := sched.Next(now)
	assert.Equal(t, now.Add(2*time.Hour+off), first)
	assert.Equal(t, first.Add(2*time.Hour), sched.Next(first))
}
