package notifier

import (
	"time"

	kit "anyarchie/internal/transport"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

// Notification is one queued outbound message.
type Notification struct {
	// Channel tags the producer ("reply", "onboarding", ...). An empty
	// channel disables dedup for the notification.
	Channel string
	Target  kit.ChatTarget
	Text    string
	// NoDedup sends n even when an identical one went out within the
	// dedup window. Replies to user messages set it.
	NoDedup bool
	// OnDone, when set, is called once with the final send result.
	OnDone func(err error)
}

type HistoryItem struct {
	At      time.Time
	Channel string
	Text    string
}

// NotificationEvent is published on the event bus for outbox lifecycle events.
type NotificationEvent struct {
	Channel string    `json:"channel"`
	ChatID  int64     `json:"chat_id"`
	Key     string    `json:"key"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}
