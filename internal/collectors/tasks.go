package collectors

import (
	"context"
	"time"

	"anyarchie/internal/heartbeat"
	"anyarchie/internal/storage"
)

type TaskStore interface {
	PendingTasks(ctx context.Context, tenantID string) ([]storage.Task, error)
}

// Tasks reports pending tasks whose due date is before today, newest first.
type Tasks struct {
	store TaskStore
	opt   options
}

func NewTasks(store TaskStore, opts ...Option) *Tasks {
	return &Tasks{store: store, opt: buildOptions(opts)}
}

func (c *Tasks) Kind() heartbeat.Kind { return heartbeat.KindTasks }

func (c *Tasks) Check(ctx context.Context, t storage.Tenant, cfg heartbeat.Config) (*heartbeat.SignalResult, error) {
	tasks, err := c.store.PendingTasks(ctx, t.ID)
	if err != nil {
		return nil, err
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	y, m, d := c.opt.now().In(loc).Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	res := &heartbeat.SignalResult{Kind: heartbeat.KindTasks}
	// PendingTasks is oldest first.
	for i := len(tasks) - 1; i >= 0; i-- {
		task := tasks[i]
		if task.DueDate == nil {
			continue
		}
		dy, dm, dd := task.DueDate.UTC().Date()
		if !time.Date(dy, dm, dd, 0, 0, 0, 0, time.UTC).Before(today) {
			continue
		}
		hash := heartbeat.TaskHash(task.Content)
		res.AllIDs = append(res.AllIDs, hash)
		res.Tasks = append(res.Tasks, heartbeat.TaskItem{
			Hash:     hash,
			Text:     clip(task.Content, 80),
			Priority: "overdue",
		})
	}
	if len(res.Tasks) == 0 {
		return nil, nil
	}
	return res, nil
}
