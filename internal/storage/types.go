package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict is returned when a unique key (bot token, telegram id) is taken.
	ErrConflict = errors.New("storage: conflict")
)

type Config struct {
	// Driver is "sqlite" or "postgres".
	Driver      string
	DSN         string
	BusyTimeout time.Duration // sqlite only
}

// Onboarding states. A tenant is active once it reaches StateComplete.
const (
	StateNew                = "new"
	StateAskedName          = "asked_name"
	StateAskedAssistantName = "asked_assistant_name"
	StateAskedGoals         = "asked_goals"
	StateAskedFocus         = "asked_focus"
	StateComplete           = "complete"
)

// Tenant is one end user bound to one bot token. Tenants are never deleted.
type Tenant struct {
	ID              string
	TelegramID      int64
	BotToken        string
	UserName        string
	AssistantName   string
	OnboardingState string
	Goals           string
	Focus           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (t Tenant) Active() bool { return t.OnboardingState == StateComplete }

// NotificationState records what was already surfaced to a tenant.
type NotificationState struct {
	TenantID            string
	LastHeartbeatAt     *time.Time
	MutedUntil          *time.Time
	NotifiedMessageIDs  []string
	NotifiedTaskHashes  []string
	NotifiedCalendarIDs []string
}

const (
	TaskPending = "pending"
	TaskDone    = "done"
)

type Task struct {
	ID        string
	TenantID  string
	Content   string
	DueDate   *time.Time // date only, UTC midnight
	Priority  string
	Category  string
	Status    string
	CreatedAt time.Time
}

type Reminder struct {
	ID       string
	TenantID string
	Message  string
	RemindAt time.Time
	Sent     bool
}

// DueReminder is a pending reminder joined with its tenant's chat address.
type DueReminder struct {
	Reminder
	BotToken   string
	TelegramID int64
}

type CalendarEvent struct {
	ID       string
	TenantID string
	Summary  string
	Location string
	StartAt  time.Time
	EndAt    time.Time
}
