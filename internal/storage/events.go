package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UpsertEvent stores or replaces a calendar event.
func (s *Store) UpsertEvent(ctx context.Context, e CalendarEvent) (CalendarEvent, error) {
	if e.Summary == "" || e.StartAt.IsZero() {
		return CalendarEvent{}, errors.New("event needs summary and start")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.EndAt.IsZero() {
		e.EndAt = e.StartAt.Add(time.Hour)
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO calendar_events (id, tenant_id, summary, location, start_at, end_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			summary = excluded.summary,
			location = excluded.location,
			start_at = excluded.start_at,
			end_at = excluded.end_at`),
		e.ID, e.TenantID, e.Summary, e.Location, e.StartAt.UnixMilli(), e.EndAt.UnixMilli(),
	)
	if err != nil {
		return CalendarEvent{}, fmt.Errorf("saving event: %w", err)
	}
	return e, nil
}

// EventsBetween lists events with from <= start_at <= to, in start order.
func (s *Store) EventsBetween(ctx context.Context, tenantID string, from, to time.Time) ([]CalendarEvent, error) {
	var rows []struct {
		ID       string `db:"id"`
		TenantID string `db:"tenant_id"`
		Summary  string `db:"summary"`
		Location string `db:"location"`
		StartAt  int64  `db:"start_at"`
		EndAt    int64  `db:"end_at"`
	}
	err := s.db.SelectContext(ctx, &rows, s.q(`
		SELECT id, tenant_id, summary, location, start_at, end_at
		FROM calendar_events
		WHERE tenant_id = ? AND start_at >= ? AND start_at <= ?
		ORDER BY start_at, id`), tenantID, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	out := make([]CalendarEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, CalendarEvent{
			ID:       r.ID,
			TenantID: r.TenantID,
			Summary:  r.Summary,
			Location: r.Location,
			StartAt:  time.UnixMilli(r.StartAt),
			EndAt:    time.UnixMilli(r.EndAt),
		})
	}
	return out, nil
}
