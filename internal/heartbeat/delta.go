package heartbeat

import (
	"strings"
	"time"

	"anyarchie/internal/storage"
)

// Window caps for the notified identity lists.
const (
	MaxNotifiedMessages = 50
	MaxNotifiedTasks    = 20
	MaxNotifiedCalendar = 10
)

// MaxDeltaItems caps the items of each kind a delta carries to the composer.
// The New*Count fields always count the full delta.
const MaxDeltaItems = 10

// Delta is what is new since the last notification.
type Delta struct {
	Messages []MessageItem
	Tasks    []TaskItem
	Calendar []CalendarItem

	NewEmailCount  int
	NewTaskCount   int
	ImminentEvents int
}

func (d Delta) Empty() bool {
	return len(d.Messages) == 0 && len(d.Tasks) == 0 && len(d.Calendar) == 0
}

func toSet(ids []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

// ComputeDelta drops items already recorded in st. Every item of every
// result is considered; only the item lists are capped. Imminent calendar
// items are kept regardless and counted in ImminentEvents.
func ComputeDelta(results []*SignalResult, st storage.NotificationState) Delta {
	var (
		d        Delta
		seenMsgs = toSet(st.NotifiedMessageIDs)
		seenTask = toSet(st.NotifiedTaskHashes)
		seenCal  = toSet(st.NotifiedCalendarIDs)
	)
	for _, r := range results {
		if r == nil {
			continue
		}
		switch r.Kind {
		case KindEmails:
			for _, m := range r.Messages {
				if _, ok := seenMsgs[m.ID]; ok {
					continue
				}
				d.NewEmailCount++
				if len(d.Messages) < MaxDeltaItems {
					d.Messages = append(d.Messages, m)
				}
			}
		case KindTasks:
			for _, t := range r.Tasks {
				if _, ok := seenTask[t.Hash]; ok {
					continue
				}
				d.NewTaskCount++
				if len(d.Tasks) < MaxDeltaItems {
					d.Tasks = append(d.Tasks, t)
				}
			}
		case KindCalendar:
			for _, c := range r.Calendar {
				if c.IsImminent {
					d.Calendar = append(d.Calendar, c)
					d.ImminentEvents++
					continue
				}
				if _, ok := seenCal[c.ID]; !ok {
					d.Calendar = append(d.Calendar, c)
				}
			}
		}
	}
	return d
}

// UrgentKeywords mark a message subject as worth an interruption.
var UrgentKeywords = []string{"urgent", "asap", "important", "deadline", "quick", "?"}

// MinNewEmails is the count of new messages that is worth a check-in on its own.
const MinNewEmails = 3

// Admit decides whether d is worth interrupting the user.
func Admit(d Delta) bool {
	if d.ImminentEvents > 0 {
		return true
	}
	if d.NewEmailCount > 0 {
		for _, m := range d.Messages {
			subject := strings.ToLower(m.Subject)
			for _, kw := range UrgentKeywords {
				if strings.Contains(subject, kw) {
					return true
				}
			}
		}
		if d.NewEmailCount >= MinNewEmails {
			return true
		}
	}
	return d.NewTaskCount > 0
}

func head(ids []string, n int) []string {
	if len(ids) > n {
		ids = ids[:n]
	}
	return append([]string{}, ids...)
}

// ApplyResults replaces the windows for every kind present in results and
// stamps the heartbeat time. AllIDs is ordered newest first, so the window
// keeps the most recent identities. Kinds absent from results keep their
// window.
func ApplyResults(st storage.NotificationState, results []*SignalResult, now time.Time) storage.NotificationState {
	for _, r := range results {
		if r == nil {
			continue
		}
		switch r.Kind {
		case KindEmails:
			st.NotifiedMessageIDs = head(r.AllIDs, MaxNotifiedMessages)
		case KindTasks:
			st.NotifiedTaskHashes = head(r.AllIDs, MaxNotifiedTasks)
		case KindCalendar:
			st.NotifiedCalendarIDs = head(r.AllIDs, MaxNotifiedCalendar)
		}
	}
	st.LastHeartbeatAt = &now
	return st
}
