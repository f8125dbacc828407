package heartbeat

import (
	"context"

	"anyarchie/internal/storage"
)

type Kind string

const (
	KindEmails   Kind = "urgent_emails"
	KindCalendar Kind = "calendar_soon"
	KindTasks    Kind = "overdue_tasks"
)

// ImminentMinutes is the lead time at or below which an event is imminent.
const ImminentMinutes = 15

type MessageItem struct {
	ID          string
	Sender      string
	SenderEmail string
	Subject     string
	Snippet     string
}

type TaskItem struct {
	Hash     string
	Text     string
	Priority string
}

type CalendarItem struct {
	ID           string
	Summary      string
	MinutesUntil int
	Location     string
	IsImminent   bool
}

// SignalResult is one collector's non-empty observation. It carries every
// item seen, newest first; AllIDs lists their identities in the same order
// and feeds the state windows.
type SignalResult struct {
	Kind     Kind
	Messages []MessageItem
	Tasks    []TaskItem
	Calendar []CalendarItem
	AllIDs   []string
}

// Empty reports whether r carries nothing.
func (r *SignalResult) Empty() bool {
	return r == nil || (len(r.Messages) == 0 && len(r.Tasks) == 0 && len(r.Calendar) == 0 && len(r.AllIDs) == 0)
}

// Collector samples one signal source for a tenant. A nil result means
// nothing to report.
type Collector interface {
	Kind() Kind
	Check(ctx context.Context, t storage.Tenant, cfg Config) (*SignalResult, error)
}
