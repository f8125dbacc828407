package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type stateRow struct {
	TenantID            string        `db:"tenant_id"`
	LastHeartbeatAt     sql.NullInt64 `db:"last_heartbeat_at"`
	MutedUntil          sql.NullInt64 `db:"muted_until"`
	NotifiedMessageIDs  string        `db:"notified_message_ids"`
	NotifiedTaskHashes  string        `db:"notified_task_hashes"`
	NotifiedCalendarIDs string        `db:"notified_calendar_ids"`
}

// GetState loads the tenant's notification state, creating the default row
// on first use.
func (s *Store) GetState(ctx context.Context, tenantID string) (NotificationState, error) {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO heartbeat_state (tenant_id) VALUES (?)
		ON CONFLICT (tenant_id) DO NOTHING`), tenantID)
	if err != nil {
		return NotificationState{}, fmt.Errorf("creating state for %s: %w", tenantID, err)
	}

	var row stateRow
	err = s.db.GetContext(ctx, &row, s.q(`
		SELECT tenant_id, last_heartbeat_at, muted_until,
			notified_message_ids, notified_task_hashes, notified_calendar_ids
		FROM heartbeat_state WHERE tenant_id = ?`), tenantID)
	if err != nil {
		return NotificationState{}, fmt.Errorf("loading state for %s: %w", tenantID, err)
	}

	st := NotificationState{
		TenantID:        row.TenantID,
		LastHeartbeatAt: msPtr(row.LastHeartbeatAt),
		MutedUntil:      msPtr(row.MutedUntil),
	}
	for _, f := range []struct {
		raw string
		dst *[]string
	}{
		{row.NotifiedMessageIDs, &st.NotifiedMessageIDs},
		{row.NotifiedTaskHashes, &st.NotifiedTaskHashes},
		{row.NotifiedCalendarIDs, &st.NotifiedCalendarIDs},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return NotificationState{}, fmt.Errorf("decoding state for %s: %w", tenantID, err)
		}
	}
	return st, nil
}

// SaveState writes the cycle-owned columns in one statement. muted_until is
// only written on insert; SetMutedUntil owns it afterwards, so a cycle that
// loaded the row before a concurrent mute cannot undo it.
func (s *Store) SaveState(ctx context.Context, st NotificationState) error {
	msgs, err := marshalIDs(st.NotifiedMessageIDs)
	if err != nil {
		return err
	}
	tasks, err := marshalIDs(st.NotifiedTaskHashes)
	if err != nil {
		return err
	}
	cal, err := marshalIDs(st.NotifiedCalendarIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO heartbeat_state (tenant_id, last_heartbeat_at, muted_until,
			notified_message_ids, notified_task_hashes, notified_calendar_ids)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id) DO UPDATE SET
			last_heartbeat_at = excluded.last_heartbeat_at,
			notified_message_ids = excluded.notified_message_ids,
			notified_task_hashes = excluded.notified_task_hashes,
			notified_calendar_ids = excluded.notified_calendar_ids`),
		st.TenantID, nullMS(st.LastHeartbeatAt), nullMS(st.MutedUntil), msgs, tasks, cal,
	)
	if err != nil {
		return fmt.Errorf("saving state for %s: %w", st.TenantID, err)
	}
	return nil
}

// SetMutedUntil updates only muted_until; nil unmutes.
func (s *Store) SetMutedUntil(ctx context.Context, tenantID string, until *time.Time) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO heartbeat_state (tenant_id, muted_until) VALUES (?, ?)
		ON CONFLICT (tenant_id) DO UPDATE SET muted_until = excluded.muted_until`),
		tenantID, nullMS(until),
	)
	if err != nil {
		return fmt.Errorf("setting mute for %s: %w", tenantID, err)
	}
	return nil
}

func marshalIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("encoding ids: %w", err)
	}
	return string(b), nil
}

func nullMS(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func msPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}
