// Package reminders delivers due one-shot reminders.
package reminders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"anyarchie/internal/eventbus"
	"anyarchie/internal/metrics"
	"anyarchie/internal/storage"
	kit "anyarchie/internal/transport"
	logx "anyarchie/pkg/logx"
)

type Store interface {
	DueReminders(ctx context.Context, now time.Time, limit int) ([]storage.DueReminder, error)
	MarkReminderSent(ctx context.Context, id string) error
}

type Deliverer interface {
	Deliver(ctx context.Context, to kit.ChatTarget, text string) error
}

// Format renders the reminder text sent to the user.
func Format(msg string) string { return "**Reminder:** " + msg }

type Worker struct {
	store Store
	sink  Deliverer
	batch int
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time

	// mu serializes sweeps so a slow one is never overlapped.
	mu sync.Mutex
}

// SentEvent is published on the bus for each delivered reminder.
type SentEvent struct {
	ReminderID string
	TenantID   string
}

// NewWorker returns a Worker loading at most batch reminders per sweep.
// A nil bus disables event publication.
func NewWorker(store Store, sink Deliverer, batch int, bus eventbus.Bus, log logx.Logger) *Worker {
	if batch <= 0 {
		batch = 100
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Worker{store: store, sink: sink, batch: batch, bus: bus, log: log.Component("reminders"), now: time.Now}
}

// Sweep sends every due reminder once. A reminder is marked sent only after
// a successful delivery; failed ones are retried on the next sweep.
func (w *Worker) Sweep(ctx context.Context) (sent int, err error) {
	if !w.mu.TryLock() {
		return 0, nil
	}
	defer w.mu.Unlock()

	due, err := w.store.DueReminders(ctx, w.now(), w.batch)
	if err != nil {
		return 0, fmt.Errorf("loading due reminders: %w", err)
	}
	for _, r := range due {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		to := kit.ChatTarget{Token: r.BotToken, ChatID: r.TelegramID}
		if err := w.sink.Deliver(ctx, to, Format(r.Message)); err != nil {
			metrics.RecordReminder("failed")
			w.log.Warn("reminder delivery failed", logx.String("reminder", r.ID), logx.Err(err))
			continue
		}
		if err := w.store.MarkReminderSent(ctx, r.ID); err != nil {
			// delivered but unmarked: it will be sent again next sweep
			metrics.RecordReminder("unmarked")
			w.log.Error("marking reminder sent", logx.String("reminder", r.ID), logx.Err(err))
			continue
		}
		metrics.RecordReminder("sent")
		w.bus.Publish(eventbus.Event{Type: eventbus.TypeReminderSent, Data: SentEvent{ReminderID: r.ID, TenantID: r.TenantID}})
		sent++
	}
	if sent > 0 {
		w.log.Info("reminders sent", logx.Int("count", sent))
	}
	return sent, nil
}
