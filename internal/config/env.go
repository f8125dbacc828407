package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// envOverrides are the deployment variables that win over the file.
// Unset variables leave the file value alone.
type envOverrides struct {
	DatabaseURL     string   `envconfig:"DATABASE_URL"`
	DatabaseDriver  string   `envconfig:"DATABASE_DRIVER"`
	OpenRouterKey   string   `envconfig:"OPENROUTER_API_KEY"`
	OpenRouterURL   string   `envconfig:"OPENROUTER_BASE_URL"`
	DefaultModel    string   `envconfig:"DEFAULT_MODEL"`
	HubBotToken     string   `envconfig:"HUB_BOT_TOKEN"`
	BotTokenPool    []string `envconfig:"BOT_TOKEN_POOL"`
	AdminTelegramID int64    `envconfig:"ADMIN_TELEGRAM_ID"`
	PollTimeout     string   `envconfig:"POLL_TIMEOUT"`
	RedisURL        string   `envconfig:"REDIS_URL"`
	OpsToken        string   `envconfig:"OPS_TOKEN"`
	KeyringPassword string   `envconfig:"KEYRING_PASSWORD"`
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("env: %w", err)
	}

	if v := strings.TrimSpace(env.DatabaseURL); v != "" {
		cfg.Storage.DSN = v
		cfg.Storage.Driver = driverForDSN(v)
	}
	if v := strings.TrimSpace(env.DatabaseDriver); v != "" {
		cfg.Storage.Driver = v
	}
	setIfNotEmpty(&cfg.LLM.APIKey, env.OpenRouterKey)
	setIfNotEmpty(&cfg.LLM.BaseURL, env.OpenRouterURL)
	setIfNotEmpty(&cfg.LLM.Model, env.DefaultModel)
	setIfNotEmpty(&cfg.Telegram.HubToken, env.HubBotToken)
	if pool := cleanTokens(env.BotTokenPool); len(pool) > 0 {
		cfg.Telegram.TokenPool = pool
	}
	if env.AdminTelegramID != 0 {
		cfg.Telegram.AdminTelegramID = env.AdminTelegramID
	}
	if v := strings.TrimSpace(env.PollTimeout); v != "" {
		// The legacy variable is whole seconds.
		if n, err := strconv.Atoi(v); err == nil {
			v = strconv.Itoa(n) + "s"
		}
		cfg.Telegram.PollTimeout = v
	}
	if v := strings.TrimSpace(env.RedisURL); v != "" {
		cfg.Redis.Enabled = true
		cfg.Redis.Addr = v
	}
	setIfNotEmpty(&cfg.Ops.Token, env.OpsToken)
	setIfNotEmpty(&cfg.Credentials.FilePassword, env.KeyringPassword)
	cfg.Telegram.TokenPool = cleanTokens(cfg.Telegram.TokenPool)
	return nil
}

func setIfNotEmpty(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func driverForDSN(dsn string) string {
	l := strings.ToLower(dsn)
	if strings.HasPrefix(l, "postgres://") || strings.HasPrefix(l, "postgresql://") {
		return "postgres"
	}
	return "sqlite"
}

// cleanTokens trims, drops empties and removes duplicates, keeping order.
func cleanTokens(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, t := range in {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
