package collectors

import (
	"context"
	"time"

	"anyarchie/internal/heartbeat"
	"anyarchie/internal/storage"
)

type EventStore interface {
	EventsBetween(ctx context.Context, tenantID string, from, to time.Time) ([]storage.CalendarEvent, error)
}

// Calendar reports events starting within the lookahead window.
type Calendar struct {
	store EventStore
	opt   options
}

func NewCalendar(store EventStore, opts ...Option) *Calendar {
	return &Calendar{store: store, opt: buildOptions(opts)}
}

func (c *Calendar) Kind() heartbeat.Kind { return heartbeat.KindCalendar }

func (c *Calendar) Check(ctx context.Context, t storage.Tenant, cfg heartbeat.Config) (*heartbeat.SignalResult, error) {
	lookahead := time.Duration(cfg.Checks.CalendarSoon.LookaheadMinutes) * time.Minute
	if lookahead <= 0 {
		lookahead = time.Hour
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	now := c.opt.now()

	events, err := c.store.EventsBetween(ctx, t.ID, now, now.Add(lookahead))
	if err != nil {
		return nil, err
	}

	res := &heartbeat.SignalResult{Kind: heartbeat.KindCalendar}
	for _, e := range events {
		if e.StartAt.Before(now) || e.StartAt.After(now.Add(lookahead)) {
			continue
		}
		minutes := int(e.StartAt.Sub(now) / time.Minute)
		id := heartbeat.CalendarID(e.Summary, e.StartAt.In(loc))
		res.Calendar = append(res.Calendar, heartbeat.CalendarItem{
			ID:           id,
			Summary:      e.Summary,
			MinutesUntil: minutes,
			Location:     e.Location,
			IsImminent:   minutes <= heartbeat.ImminentMinutes,
		})
		res.AllIDs = append(res.AllIDs, id)
	}
	if len(res.Calendar) == 0 {
		return nil, nil
	}
	return res, nil
}
