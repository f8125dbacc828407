package config

// Config is the root configuration document.
//
// The file is decoded over Default(), so any omitted field keeps its default.
// All durations are Go duration strings (e.g. "500ms", "10s", "2m").
type Config struct {
	Telegram    TelegramConfig    `json:"telegram"`
	Logging     LoggingConfig     `json:"logging"`
	Storage     StorageConfig     `json:"storage"`
	Redis       RedisConfig       `json:"redis"`
	Heartbeat   HeartbeatConfig   `json:"heartbeat"`
	Mail        MailConfig        `json:"mail"`
	Credentials CredentialsConfig `json:"credentials"`
	LLM         LLMConfig         `json:"llm"`
	Notifier    NotifierConfig    `json:"notifier"`
	Reminders   RemindersConfig   `json:"reminders"`
	Ops         OpsConfig         `json:"ops"`
}

type TelegramConfig struct {
	// HubToken is the optional shared bot that hands out personal bots.
	HubToken string `json:"hub_token"`
	// TokenPool lists personal bot tokens, one per tenant.
	TokenPool       []string `json:"token_pool"`
	AdminTelegramID int64    `json:"admin_telegram_id"`
	PollTimeout     string   `json:"poll_timeout"`
	APIURL          string   `json:"api_url,omitempty" validate:"omitempty,url"`
}

type LoggingConfig struct {
	Level   string         `json:"level" validate:"omitempty,oneof=TRACE DEBUG INFO WARN WARNING ERROR trace debug info warn warning error"`
	Console bool           `json:"console"`
	JSON    bool           `json:"json"`
	File    FileLogConfig  `json:"file"`
	Admin   AdminLogConfig `json:"admin"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// AdminLogConfig forwards WARN+ records to telegram.admin_telegram_id.
type AdminLogConfig struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec" validate:"gte=0"`
}

type StorageConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver      string `json:"driver" validate:"oneof=sqlite postgres"`
	DSN         string `json:"dsn" validate:"required"`
	BusyTimeout string `json:"busy_timeout"`
}

// RedisConfig enables the durable seen-update store.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr" validate:"required_if=Enabled true"`
	Password string `json:"password"`
	DB       int    `json:"db" validate:"gte=0"`
	SeenTTL  string `json:"seen_ttl"`
}

type HeartbeatConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule overrides interval_minutes with a cron or interval spec.
	Schedule            string           `json:"schedule,omitempty"`
	IntervalMinutes     int              `json:"interval_minutes" validate:"gte=1"`
	Timezone            string           `json:"timezone,omitempty"`
	Concurrency         int              `json:"concurrency" validate:"gte=1"`
	TenantTimeout       string           `json:"tenant_timeout"`
	CollectorTimeout    string           `json:"collector_timeout"`
	QuietHours          QuietHoursConfig `json:"quiet_hours"`
	MuteDurationMinutes int              `json:"mute_duration_minutes" validate:"gte=1"`
	Checks              ChecksConfig     `json:"checks"`
}

type QuietHoursConfig struct {
	Enabled bool `json:"enabled"`
	Start   int  `json:"start" validate:"gte=0,lte=23"`
	End     int  `json:"end" validate:"gte=0,lte=23"`
}

type ChecksConfig struct {
	UrgentEmails UrgentEmailsCheck `json:"urgent_emails"`
	CalendarSoon CalendarSoonCheck `json:"calendar_soon"`
	OverdueTasks OverdueTasksCheck `json:"overdue_tasks"`
}

type UrgentEmailsCheck struct {
	Enabled     bool `json:"enabled"`
	MaxAgeHours int  `json:"max_age_hours" validate:"gte=1"`
}

type CalendarSoonCheck struct {
	Enabled          bool `json:"enabled"`
	LookaheadMinutes int  `json:"lookahead_minutes" validate:"gte=1"`
}

type OverdueTasksCheck struct {
	Enabled bool `json:"enabled"`
}

type MailConfig struct {
	IMAPServer string `json:"imap_server" validate:"required"`
	Timeout    string `json:"timeout"`
	FetchLimit int    `json:"fetch_limit" validate:"gte=1"`
}

// CredentialsConfig configures the keyring holding per-tenant mailbox logins.
type CredentialsConfig struct {
	Backend      string `json:"backend" validate:"oneof=file system"`
	FileDir      string `json:"file_dir"`
	FilePassword string `json:"file_password"`
}

type LLMConfig struct {
	BaseURL   string `json:"base_url" validate:"url"`
	Model     string `json:"model" validate:"required"`
	APIKey    string `json:"api_key"`
	Timeout   string `json:"timeout"`
	MaxTokens int    `json:"max_tokens" validate:"gte=1"`
}

// NotifierConfig controls the delivery sink and the async reply outbox.
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers" validate:"gte=1"`
	QueueSize     int    `json:"queue_size" validate:"gte=1"`
	RatePerSec    int    `json:"rate_per_sec" validate:"gte=1"`
	RetryMax      int    `json:"retry_max" validate:"gte=0"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
	SendTimeout   string `json:"send_timeout"`
	DedupWindow   string `json:"dedup_window"`
}

type RemindersConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"`
	Batch    int    `json:"batch" validate:"gte=1"`
}

// OpsConfig exposes /healthz, /readyz, /metrics and /debug/pprof.
type OpsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr" validate:"required_if=Enabled true"`
	Token   string `json:"token"`
	Pprof   bool   `json:"pprof"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Telegram: TelegramConfig{PollTimeout: "30s"},
		Logging: LoggingConfig{
			Level:   "INFO",
			Console: true,
			Admin:   AdminLogConfig{MinLevel: "WARN", RatePerSec: 1},
		},
		Storage: StorageConfig{Driver: "sqlite", DSN: "./anyarchie.db", BusyTimeout: "5s"},
		Redis:   RedisConfig{Addr: "127.0.0.1:6379", SeenTTL: "72h"},
		Heartbeat: HeartbeatConfig{
			Enabled:             true,
			IntervalMinutes:     120,
			Concurrency:         4,
			TenantTimeout:       "2m",
			CollectorTimeout:    "30s",
			QuietHours:          QuietHoursConfig{Enabled: true, Start: 22, End: 8},
			MuteDurationMinutes: 120,
			Checks: ChecksConfig{
				UrgentEmails: UrgentEmailsCheck{Enabled: true, MaxAgeHours: 24},
				CalendarSoon: CalendarSoonCheck{Enabled: true, LookaheadMinutes: 60},
				OverdueTasks: OverdueTasksCheck{Enabled: true},
			},
		},
		Mail:        MailConfig{IMAPServer: "imap.gmail.com:993", Timeout: "20s", FetchLimit: 50},
		Credentials: CredentialsConfig{Backend: "file", FileDir: "./credentials"},
		LLM: LLMConfig{
			BaseURL:   "https://openrouter.ai/api/v1",
			Model:     "anthropic/claude-sonnet-4",
			Timeout:   "30s",
			MaxTokens: 200,
		},
		Notifier: NotifierConfig{
			Enabled:       true,
			Workers:       2,
			QueueSize:     512,
			RatePerSec:    25,
			RetryMax:      2,
			RetryBase:     "500ms",
			RetryMaxDelay: "10s",
			SendTimeout:   "15s",
			DedupWindow:   "10s",
		},
		Reminders: RemindersConfig{Enabled: true, Schedule: "30s", Batch: 100},
		Ops:       OpsConfig{Addr: "127.0.0.1:9090", Pprof: true},
	}
}
