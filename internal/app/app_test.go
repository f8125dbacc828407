package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anyarchie/internal/config"
	"anyarchie/internal/notifier"
	"anyarchie/internal/storage"
	kit "anyarchie/internal/transport"
	logx "anyarchie/pkg/logx"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "archie.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func baseConfig(dir string) string {
	return "storage:\n" +
		"  driver: sqlite\n" +
		"  dsn: " + filepath.Join(dir, "archie.db") + "\n" +
		"credentials:\n" +
		"  backend: file\n" +
		"  file_dir: " + filepath.Join(dir, "creds") + "\n" +
		"  file_password: test\n"
}

func newTestApp(t *testing.T, extra string, opts ...Option) (*App, string) {
	t.Helper()
	dir := t.TempDir()
	p := writeConfig(t, dir, baseConfig(dir)+extra)
	a, err := New(p, append([]Option{WithLogger(logx.Nop())}, opts...)...)
	require.NoError(t, err)
	return a, p
}

func TestHeartbeatSchedule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		schedule string
		interval int
		want     string
	}{
		{"interval", "", 120, "120m"},
		{"explicit schedule wins", "0 9 * * *", 120, "0 9 * * *"},
		{"zero interval", "", 0, "120m"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			cfg.Heartbeat.Schedule = tt.schedule
			cfg.Heartbeat.IntervalMinutes = tt.interval
			if got := heartbeatSchedule(&cfg); got != tt.want {
				t.Fatalf("heartbeatSchedule() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMapHeartbeatConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Heartbeat.Timezone = "Asia/Tokyo"
	cfg.Heartbeat.IntervalMinutes = 30
	cfg.Heartbeat.MuteDurationMinutes = 45
	cfg.Heartbeat.QuietHours = config.QuietHoursConfig{Enabled: true, Start: 23, End: 7}
	cfg.Heartbeat.Checks.UrgentEmails.Enabled = false
	cfg.Heartbeat.TenantTimeout = "90s"

	hc, err := mapHeartbeatConfig(&cfg)
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tokyo", hc.Location.String())
	assert.Equal(t, 30*time.Minute, hc.Interval)
	assert.Equal(t, 45*time.Minute, hc.MuteDuration)
	assert.True(t, hc.QuietHours.Contains(23))
	assert.False(t, hc.QuietHours.Contains(7))
	assert.False(t, hc.Checks.UrgentEmails.Enabled)
	assert.True(t, hc.Checks.CalendarSoon.Enabled)
	assert.Equal(t, 90*time.Second, hc.TenantTimeout)

	cfg.Heartbeat.Timezone = "Mars/Olympus"
	_, err = mapHeartbeatConfig(&cfg)
	require.Error(t, err)
}

func TestValidateReload(t *testing.T) {
	t.Parallel()

	good := config.Default()
	require.NoError(t, validateReload(&good))

	badSchedule := config.Default()
	badSchedule.Heartbeat.Schedule = "soon"
	require.Error(t, validateReload(&badSchedule))

	badReminders := config.Default()
	badReminders.Reminders.Schedule = "sometimes"
	require.Error(t, validateReload(&badReminders))
}

func TestAlertToken(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	if got := alertToken(&cfg); got != "" {
		t.Fatalf("alertToken() = %q, want empty", got)
	}
	cfg.Telegram.TokenPool = []string{"p1", "p2"}
	if got := alertToken(&cfg); got != "p1" {
		t.Fatalf("alertToken() = %q, want p1", got)
	}
	cfg.Telegram.HubToken = "hub"
	if got := alertToken(&cfg); got != "hub" {
		t.Fatalf("alertToken() = %q, want hub", got)
	}
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func TestReplierDeliversInlineWhenOutboxDisabled(t *testing.T) {
	t.Parallel()

	snd := &fakeSender{}
	sink := notifier.NewSink(snd, time.Second, logx.Nop())
	r := replier{outbox: notifier.New(notifier.Config{Enabled: false}, sink, logx.Nop(), nil), sink: sink}

	var done error = errors.New("not called")
	err := r.Notify(context.Background(), notifier.Notification{
		Target: kit.ChatTarget{Token: "tok", ChatID: 1},
		Text:   "hello",
		OnDone: func(err error) { done = err },
	})
	require.NoError(t, err)
	require.NoError(t, done)
	assert.Equal(t, []string{"hello"}, snd.sent)
}

func TestNewBuildsChannelsAndRunsHeartbeat(t *testing.T) {
	t.Parallel()

	a, _ := newTestApp(t, "telegram:\n  hub_token: hub\n  token_pool: [p1, p2]\n")
	ctx := context.Background()
	defer func() { _ = a.Stop(ctx, StopAppStop) }()

	assert.Len(t, a.mux.Channels(), 3)

	rep, err := a.RunHeartbeatOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Tenants)

	_, err = a.Mute(ctx, 42, 0)
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = a.Store().CreateTenant(ctx, storage.Tenant{
		TelegramID:      42,
		BotToken:        "p1",
		OnboardingState: storage.StateComplete,
	})
	require.NoError(t, err)

	until, err := a.Mute(ctx, 42, 30*time.Minute)
	require.NoError(t, err)
	assert.True(t, until.After(time.Now()))
	require.NoError(t, a.Unmute(ctx, 42))
}

func TestNewFailsOnBadConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := writeConfig(t, dir, "heartbeat:\n  interval_minutes: 0\n")
	_, err := New(p, WithLogger(logx.Nop()))
	require.Error(t, err)
}

func TestStartRegistersSchedulesAndReloads(t *testing.T) {
	t.Parallel()

	a, p := newTestApp(t, "heartbeat:\n  interval_minutes: 10\n", WithMode(ModeHeartbeat))
	require.NoError(t, a.Start(context.Background()))

	names := map[string]bool{}
	for _, e := range a.sched.Entries() {
		names[e.Name] = true
	}
	assert.True(t, names[jobHeartbeat])
	assert.False(t, names[jobReminders], "reminders only run in run mode")

	// let the watcher settle before rewriting the file
	time.Sleep(200 * time.Millisecond)
	dir := filepath.Dir(p)
	require.NoError(t, os.WriteFile(p, []byte(baseConfig(dir)+"heartbeat:\n  interval_minutes: 15\n"), 0o600))
	require.Eventually(t, func() bool {
		return a.heart.Config().Interval == 15*time.Minute
	}, 5*time.Second, 20*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))
}
