package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const dateLayout = "2006-01-02"

type taskRow struct {
	ID        string         `db:"id"`
	TenantID  string         `db:"tenant_id"`
	Content   string         `db:"content"`
	DueDate   sql.NullString `db:"due_date"`
	Priority  string         `db:"priority"`
	Category  string         `db:"category"`
	Status    string         `db:"status"`
	CreatedAt int64          `db:"created_at"`
}

func (r taskRow) task() Task {
	t := Task{
		ID:        r.ID,
		TenantID:  r.TenantID,
		Content:   r.Content,
		Priority:  r.Priority,
		Category:  r.Category,
		Status:    r.Status,
		CreatedAt: time.UnixMilli(r.CreatedAt),
	}
	if r.DueDate.Valid {
		if d, err := time.Parse(dateLayout, r.DueDate.String); err == nil {
			t.DueDate = &d
		}
	}
	return t
}

func (s *Store) AddTask(ctx context.Context, t Task) (Task, error) {
	if strings.TrimSpace(t.Content) == "" {
		return Task{}, errors.New("task content must not be empty")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = TaskPending
	}
	if t.Priority == "" {
		t.Priority = "medium"
	}
	t.CreatedAt = s.now().UTC()

	var due sql.NullString
	if t.DueDate != nil {
		due = sql.NullString{String: t.DueDate.Format(dateLayout), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO tasks (id, tenant_id, content, due_date, priority, category, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		t.ID, t.TenantID, t.Content, due, t.Priority, t.Category, t.Status, t.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return Task{}, fmt.Errorf("adding task: %w", err)
	}
	return t, nil
}

// PendingTasks lists the tenant's open tasks, oldest first.
func (s *Store) PendingTasks(ctx context.Context, tenantID string) ([]Task, error) {
	var rows []taskRow
	err := s.db.SelectContext(ctx, &rows, s.q(`
		SELECT id, tenant_id, content, due_date, priority, category, status, created_at
		FROM tasks WHERE tenant_id = ? AND status = ?
		ORDER BY created_at, id`), tenantID, TaskPending)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	out := make([]Task, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.task())
	}
	return out, nil
}

// CompleteTask marks a task done. Only the owner can complete it.
func (s *Store) CompleteTask(ctx context.Context, tenantID, taskID string) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE tasks SET status = ? WHERE id = ? AND tenant_id = ?`), TaskDone, taskID, tenantID)
	if err != nil {
		return fmt.Errorf("completing task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
