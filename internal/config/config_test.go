package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestParseYAMLMergesOverDefaults(t *testing.T) {
	p := writeFile(t, "archie.yaml", `
telegram:
  token_pool: ["111:aaa", " 111:aaa ", "222:bbb"]
heartbeat:
  interval_minutes: 30
  quiet_hours:
    start: 23
`)
	cfg, err := NewConfigManager(p).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Heartbeat.IntervalMinutes != 30 {
		t.Fatalf("interval = %d, want 30", cfg.Heartbeat.IntervalMinutes)
	}
	qh := cfg.Heartbeat.QuietHours
	if !qh.Enabled || qh.Start != 23 || qh.End != 8 {
		t.Fatalf("quiet_hours = %+v, want enabled 23-8", qh)
	}
	if !cfg.Heartbeat.Checks.UrgentEmails.Enabled || cfg.Heartbeat.Checks.UrgentEmails.MaxAgeHours != 24 {
		t.Fatalf("urgent_emails defaults lost: %+v", cfg.Heartbeat.Checks.UrgentEmails)
	}
	if cfg.Heartbeat.Checks.CalendarSoon.LookaheadMinutes != 60 || cfg.Heartbeat.MuteDurationMinutes != 120 {
		t.Fatalf("defaults lost: %+v", cfg.Heartbeat)
	}
	if got := len(cfg.Telegram.TokenPool); got != 2 {
		t.Fatalf("token_pool len = %d, want 2 (dedup)", got)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	p := writeFile(t, "archie.json", `{"heartbeat":{"interval":5}}`)
	if _, err := NewConfigManager(p).Parse(); err == nil {
		t.Fatalf("Parse: want error for unknown field")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()

	p := writeFile(t, "archie.json", `{} {}`)
	if _, err := NewConfigManager(p).Parse(); err == nil {
		t.Fatalf("Parse: want trailing data error")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		mut  func(c *Config)
	}{
		{"quiet start out of range", func(c *Config) { c.Heartbeat.QuietHours.Start = 24 }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }},
		{"bad duration", func(c *Config) { c.Notifier.SendTimeout = "soon" }},
		{"zero interval", func(c *Config) { c.Heartbeat.IntervalMinutes = 0 }},
		{"bad timezone", func(c *Config) { c.Heartbeat.Timezone = "Mars/Olympus" }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := Default()
			tt.mut(&c)
			if err := Validate(&c); err == nil {
				t.Fatalf("Validate: want error")
			}
		})
	}

	c := Default()
	if err := Validate(&c); err != nil {
		t.Fatalf("Validate(Default()) = %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://archie@localhost/archie")
	t.Setenv("BOT_TOKEN_POOL", "1:a, 2:b,,")
	t.Setenv("HUB_BOT_TOKEN", "9:hub")
	t.Setenv("ADMIN_TELEGRAM_ID", "4242")
	t.Setenv("POLL_TIMEOUT", "25")

	cfg, err := NewConfigManager("").Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.DSN != "postgres://archie@localhost/archie" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if len(cfg.Telegram.TokenPool) != 2 || cfg.Telegram.TokenPool[1] != "2:b" {
		t.Fatalf("token_pool = %v", cfg.Telegram.TokenPool)
	}
	if cfg.Telegram.HubToken != "9:hub" || cfg.Telegram.AdminTelegramID != 4242 {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	if cfg.Telegram.PollTimeout != "25s" {
		t.Fatalf("poll_timeout = %q, want 25s", cfg.Telegram.PollTimeout)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	a := Default()
	b := Default()
	b.Heartbeat.IntervalMinutes = 60
	b.Telegram.HubToken = "secret"

	changed, attrs, restart := SummarizeConfigChange(&a, &b)
	if len(changed) != 2 || changed[0] != "telegram" || changed[1] != "heartbeat" {
		t.Fatalf("changed = %v", changed)
	}
	if len(restart) != 1 || restart[0] != "telegram" {
		t.Fatalf("restart = %v", restart)
	}
	if len(attrs) == 0 {
		t.Fatalf("attrs empty")
	}
}

func TestWatchPublishesChanges(t *testing.T) {
	p := writeFile(t, "archie.yaml", "heartbeat:\n  interval_minutes: 10\n")
	m := NewConfigManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(200 * time.Millisecond)

	if err := os.WriteFile(p, []byte("heartbeat:\n  interval_minutes: 15\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case cfg := <-ch:
		if cfg.Heartbeat.IntervalMinutes != 15 {
			t.Fatalf("interval = %d, want 15", cfg.Heartbeat.IntervalMinutes)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no config published")
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		def     time.Duration
		want    time.Duration
		wantErr bool
	}{
		{"", 5 * time.Second, 5 * time.Second, false},
		{"0s", time.Minute, time.Minute, false},
		{" 90s ", 0, 90 * time.Second, false},
		{"3d", 0, 72 * time.Hour, false},
		{"1h30m", 0, 90 * time.Minute, false},
		{"-1s", 0, 0, true},
		{"-2d", 0, 0, true},
		{"soon", 0, 0, true},
		{"d", 0, 0, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got, err := DurationOr("x.timeout", tt.raw, tt.def)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DurationOr(%q) err = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Fatalf("DurationOr(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}
