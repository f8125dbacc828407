package storage

import (
	"context"
	"fmt"

	logx "anyarchie/pkg/logx"
)

type migration struct {
	version int
	sql     []string
}

// Statements must run unchanged on SQLite and PostgreSQL.
var migrations = []migration{
	{
		version: 1,
		sql: []string{
			`CREATE TABLE IF NOT EXISTS tenants (
				id               TEXT PRIMARY KEY,
				telegram_id      BIGINT NOT NULL UNIQUE,
				bot_token        TEXT NOT NULL UNIQUE,
				user_name        TEXT NOT NULL DEFAULT '',
				assistant_name   TEXT NOT NULL DEFAULT '',
				onboarding_state TEXT NOT NULL DEFAULT 'new',
				goals            TEXT NOT NULL DEFAULT '',
				focus            TEXT NOT NULL DEFAULT '',
				created_at       BIGINT NOT NULL,
				updated_at       BIGINT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_tenants_state ON tenants(onboarding_state)`,
			`CREATE TABLE IF NOT EXISTS heartbeat_state (
				tenant_id             TEXT PRIMARY KEY REFERENCES tenants(id),
				last_heartbeat_at     BIGINT,
				muted_until           BIGINT,
				notified_message_ids  TEXT NOT NULL DEFAULT '[]',
				notified_task_hashes  TEXT NOT NULL DEFAULT '[]',
				notified_calendar_ids TEXT NOT NULL DEFAULT '[]'
			)`,
		},
	},
	{
		version: 2,
		sql: []string{
			`CREATE TABLE IF NOT EXISTS tasks (
				id         TEXT PRIMARY KEY,
				tenant_id  TEXT NOT NULL REFERENCES tenants(id),
				content    TEXT NOT NULL,
				due_date   TEXT,
				priority   TEXT NOT NULL DEFAULT 'medium',
				category   TEXT NOT NULL DEFAULT '',
				status     TEXT NOT NULL DEFAULT 'pending',
				created_at BIGINT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_tasks_tenant_status ON tasks(tenant_id, status)`,
			`CREATE TABLE IF NOT EXISTS reminders (
				id        TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL REFERENCES tenants(id),
				message   TEXT NOT NULL,
				remind_at BIGINT NOT NULL,
				sent      INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS idx_reminders_due ON reminders(sent, remind_at)`,
		},
	},
	{
		version: 3,
		sql: []string{
			`CREATE TABLE IF NOT EXISTS calendar_events (
				id        TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL REFERENCES tenants(id),
				summary   TEXT NOT NULL,
				location  TEXT NOT NULL DEFAULT '',
				start_at  BIGINT NOT NULL,
				end_at    BIGINT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_events_tenant_start ON calendar_events(tenant_id, start_at)`,
		},
	},
}

// migrate applies every migration newer than the recorded schema version,
// each in its own transaction.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("creating schema_version: %w", err)
	}
	var current int
	if err := s.db.GetContext(ctx, &current, `SELECT COALESCE(MAX(version), 0) FROM schema_version`); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		for _, stmt := range m.sql {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("applying migration v%d: %w", m.version, err)
			}
		}
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO schema_version (version) VALUES (?)`), m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		s.log.Debug("migration applied", logx.Int("version", m.version))
	}
	return nil
}

// SchemaVersion returns the highest applied migration.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.GetContext(ctx, &v, `SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	return v, err
}
