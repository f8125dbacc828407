package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

func (s *Store) AddReminder(ctx context.Context, r Reminder) (Reminder, error) {
	if strings.TrimSpace(r.Message) == "" {
		return Reminder{}, errors.New("reminder message must not be empty")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO reminders (id, tenant_id, message, remind_at, sent) VALUES (?, ?, ?, ?, 0)`),
		r.ID, r.TenantID, r.Message, r.RemindAt.UnixMilli(),
	)
	if err != nil {
		return Reminder{}, fmt.Errorf("adding reminder: %w", err)
	}
	return r, nil
}

// DueReminders returns unsent reminders with remind_at <= now, joined with
// the owning tenant's bot token and chat id.
func (s *Store) DueReminders(ctx context.Context, now time.Time, limit int) ([]DueReminder, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []struct {
		ID         string `db:"id"`
		TenantID   string `db:"tenant_id"`
		Message    string `db:"message"`
		RemindAt   int64  `db:"remind_at"`
		BotToken   string `db:"bot_token"`
		TelegramID int64  `db:"telegram_id"`
	}
	err := s.db.SelectContext(ctx, &rows, s.q(`
		SELECT r.id, r.tenant_id, r.message, r.remind_at, t.bot_token, t.telegram_id
		FROM reminders r JOIN tenants t ON t.id = r.tenant_id
		WHERE r.sent = 0 AND r.remind_at <= ?
		ORDER BY r.remind_at, r.id
		LIMIT ?`), now.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("listing due reminders: %w", err)
	}
	out := make([]DueReminder, 0, len(rows))
	for _, r := range rows {
		out = append(out, DueReminder{
			Reminder: Reminder{
				ID:       r.ID,
				TenantID: r.TenantID,
				Message:  r.Message,
				RemindAt: time.UnixMilli(r.RemindAt),
			},
			BotToken:   r.BotToken,
			TelegramID: r.TelegramID,
		})
	}
	return out, nil
}

func (s *Store) MarkReminderSent(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.q(`UPDATE reminders SET sent = 1 WHERE id = ?`), id); err != nil {
		return fmt.Errorf("marking reminder %s: %w", id, err)
	}
	return nil
}
