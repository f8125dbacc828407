package app

import (
	"fmt"
	"strings"
	"time"

	"anyarchie/internal/config"
	"anyarchie/internal/credential"
	"anyarchie/internal/heartbeat"
	"anyarchie/internal/ingest"
	"anyarchie/internal/llm"
	"anyarchie/internal/notifier"
	"anyarchie/internal/observability/ops"
	"anyarchie/internal/storage"
	"anyarchie/internal/task/scheduler"
	logx "anyarchie/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Admin: logx.AdminConfig{
			Enabled:    cfg.Logging.Admin.Enabled,
			ChatID:     cfg.Telegram.AdminTelegramID,
			MinLevel:   cfg.Logging.Admin.MinLevel,
			RatePerSec: cfg.Logging.Admin.RatePerSec,
		},
	}
}

// alertToken picks the bot used for operator alerts: the hub, else the
// first pooled token.
func alertToken(cfg *config.Config) string {
	if t := strings.TrimSpace(cfg.Telegram.HubToken); t != "" {
		return t
	}
	if len(cfg.Telegram.TokenPool) > 0 {
		return cfg.Telegram.TokenPool[0]
	}
	return ""
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	dsn := strings.TrimSpace(sc.DSN)
	if dsn == "" {
		return storage.Config{}, fmt.Errorf("storage.dsn is required")
	}
	busy, err := config.DurationOr("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: sc.Driver, DSN: dsn, BusyTimeout: busy}, nil
}

func mapIngestConfig(cfg *config.Config) (ingest.Config, error) {
	pt, err := config.DurationOr("telegram.poll_timeout", cfg.Telegram.PollTimeout, 30*time.Second)
	if err != nil {
		return ingest.Config{}, err
	}
	return ingest.Config{PollTimeout: pt}, nil
}

func mapRedisConfig(cfg *config.Config) (ingest.RedisConfig, error) {
	ttl, err := config.DurationOr("redis.seen_ttl", cfg.Redis.SeenTTL, 72*time.Hour)
	if err != nil {
		return ingest.RedisConfig{}, err
	}
	return ingest.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TTL:      ttl,
	}, nil
}

func mapHeartbeatConfig(cfg *config.Config) (heartbeat.Config, error) {
	h := cfg.Heartbeat
	hc := heartbeat.DefaultConfig()
	if h.IntervalMinutes > 0 {
		hc.Interval = time.Duration(h.IntervalMinutes) * time.Minute
	}
	if tz := strings.TrimSpace(h.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return heartbeat.Config{}, fmt.Errorf("heartbeat.timezone: invalid %q: %w", tz, err)
		}
		hc.Location = loc
	}
	hc.QuietHours = heartbeat.QuietHours{
		Enabled: h.QuietHours.Enabled,
		Start:   h.QuietHours.Start,
		End:     h.QuietHours.End,
	}
	if h.MuteDurationMinutes > 0 {
		hc.MuteDuration = time.Duration(h.MuteDurationMinutes) * time.Minute
	}
	hc.Checks.UrgentEmails.Enabled = h.Checks.UrgentEmails.Enabled
	hc.Checks.UrgentEmails.MaxAgeHours = h.Checks.UrgentEmails.MaxAgeHours
	hc.Checks.CalendarSoon.Enabled = h.Checks.CalendarSoon.Enabled
	hc.Checks.CalendarSoon.LookaheadMinutes = h.Checks.CalendarSoon.LookaheadMinutes
	hc.Checks.OverdueTasks.Enabled = h.Checks.OverdueTasks.Enabled
	if h.Concurrency > 0 {
		hc.Concurrency = h.Concurrency
	}
	tt, err := config.DurationOr("heartbeat.tenant_timeout", h.TenantTimeout, hc.TenantTimeout)
	if err != nil {
		return heartbeat.Config{}, err
	}
	hc.TenantTimeout = tt
	return hc, nil
}

// heartbeatSchedule is heartbeat.schedule when set, else the fixed interval.
func heartbeatSchedule(cfg *config.Config) string {
	if s := strings.TrimSpace(cfg.Heartbeat.Schedule); s != "" {
		return s
	}
	n := cfg.Heartbeat.IntervalMinutes
	if n <= 0 {
		n = 120
	}
	return fmt.Sprintf("%dm", n)
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Enabled: true, Timezone: cfg.Heartbeat.Timezone}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	out := notifier.Config{
		Enabled:    n.Enabled,
		Workers:    n.Workers,
		QueueSize:  n.QueueSize,
		RatePerSec: n.RatePerSec,
		RetryMax:   n.RetryMax,
	}
	var err error
	if out.RetryBase, err = config.DurationOr("notifier.retry_base", n.RetryBase, 500*time.Millisecond); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.DurationOr("notifier.retry_max_delay", n.RetryMaxDelay, 10*time.Second); err != nil {
		return notifier.Config{}, err
	}
	if out.SendTimeout, err = config.DurationOr("notifier.send_timeout", n.SendTimeout, 15*time.Second); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.Duration("notifier.dedup_window", n.DedupWindow); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

func mapLLMConfig(cfg *config.Config) (llm.Config, error) {
	to, err := config.DurationOr("llm.timeout", cfg.LLM.Timeout, 30*time.Second)
	if err != nil {
		return llm.Config{}, err
	}
	return llm.Config{
		APIKey:    cfg.LLM.APIKey,
		Model:     cfg.LLM.Model,
		BaseURL:   cfg.LLM.BaseURL,
		Timeout:   to,
		MaxTokens: cfg.LLM.MaxTokens,
	}, nil
}

func mapCredentialConfig(cfg *config.Config) credential.Config {
	return credential.Config{
		Backend:      cfg.Credentials.Backend,
		FileDir:      cfg.Credentials.FileDir,
		FilePassword: cfg.Credentials.FilePassword,
	}
}

func mapOpsConfig(cfg *config.Config) ops.Config {
	return ops.Config{
		Enabled: cfg.Ops.Enabled,
		Addr:    cfg.Ops.Addr,
		Token:   cfg.Ops.Token,
		Pprof:   cfg.Ops.Pprof,
	}
}

// validateReload rejects a reloaded config the live services cannot apply.
func validateReload(cfg *config.Config) error {
	if _, err := mapHeartbeatConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := scheduler.ParseSchedule(heartbeatSchedule(cfg)); err != nil {
		return fmt.Errorf("heartbeat.schedule: %w", err)
	}
	if cfg.Reminders.Enabled {
		if _, err := scheduler.ParseSchedule(cfg.Reminders.Schedule); err != nil {
			return fmt.Errorf("reminders.schedule: %w", err)
		}
	}
	return nil
}
