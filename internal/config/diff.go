package config

import (
	"reflect"

	logx "anyarchie/pkg/logx"
)

// Reloadable sections are applied live; everything else needs a restart.
var restartSections = map[string]bool{
	"telegram":    true,
	"storage":     true,
	"redis":       true,
	"credentials": true,
	"mail":        true,
	"llm":         true,
}

// SummarizeConfigChange returns the changed top-level sections, safe log
// fields (never secrets), and the subset of sections that need a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var (
		changed []string
		restart []string
		attrs   []logx.Field
	)
	mark := func(name string, fields ...logx.Field) {
		changed = append(changed, name)
		attrs = append(attrs, fields...)
		if restartSections[name] {
			restart = append(restart, name)
		}
	}

	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		mark("telegram",
			logx.String("telegram.poll_timeout", newCfg.Telegram.PollTimeout),
			logx.Int("telegram.pool_size", len(newCfg.Telegram.TokenPool)),
			logx.Bool("telegram.hub", newCfg.Telegram.HubToken != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.admin", newCfg.Logging.Admin.Enabled),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		mark("storage", logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.Redis != newCfg.Redis {
		mark("redis", logx.Bool("redis.enabled", newCfg.Redis.Enabled))
	}
	if oldCfg.Heartbeat != newCfg.Heartbeat {
		hb := newCfg.Heartbeat
		mark("heartbeat",
			logx.Bool("heartbeat.enabled", hb.Enabled),
			logx.Int("heartbeat.interval_minutes", hb.IntervalMinutes),
			logx.String("heartbeat.schedule", hb.Schedule),
			logx.Bool("heartbeat.quiet_hours", hb.QuietHours.Enabled),
		)
	}
	if oldCfg.Mail != newCfg.Mail {
		mark("mail", logx.String("mail.imap_server", newCfg.Mail.IMAPServer))
	}
	if oldCfg.Credentials != newCfg.Credentials {
		mark("credentials", logx.String("credentials.backend", newCfg.Credentials.Backend))
	}
	if oldCfg.LLM != newCfg.LLM {
		mark("llm",
			logx.String("llm.model", newCfg.LLM.Model),
			logx.Bool("llm.api_key_set", newCfg.LLM.APIKey != ""),
		)
	}
	if oldCfg.Notifier != newCfg.Notifier {
		mark("notifier", logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec))
	}
	if oldCfg.Reminders != newCfg.Reminders {
		mark("reminders", logx.String("reminders.schedule", newCfg.Reminders.Schedule))
	}
	if oldCfg.Ops != newCfg.Ops {
		mark("ops",
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", newCfg.Ops.Addr),
		)
	}
	return changed, attrs, restart
}
