package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints and every duration string.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	durations := map[string]string{
		"telegram.poll_timeout":       cfg.Telegram.PollTimeout,
		"storage.busy_timeout":        cfg.Storage.BusyTimeout,
		"redis.seen_ttl":              cfg.Redis.SeenTTL,
		"heartbeat.tenant_timeout":    cfg.Heartbeat.TenantTimeout,
		"heartbeat.collector_timeout": cfg.Heartbeat.CollectorTimeout,
		"mail.timeout":                cfg.Mail.Timeout,
		"llm.timeout":                 cfg.LLM.Timeout,
		"notifier.retry_base":         cfg.Notifier.RetryBase,
		"notifier.retry_max_delay":    cfg.Notifier.RetryMaxDelay,
		"notifier.send_timeout":       cfg.Notifier.SendTimeout,
		"notifier.dedup_window":       cfg.Notifier.DedupWindow,
	}
	for path, raw := range durations {
		if _, err := Duration(path, raw); err != nil {
			return err
		}
	}
	if tz := strings.TrimSpace(cfg.Heartbeat.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("heartbeat.timezone: %w", err)
		}
	}
	return nil
}
