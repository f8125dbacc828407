package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

type tenantRow struct {
	ID              string `db:"id"`
	TelegramID      int64  `db:"telegram_id"`
	BotToken        string `db:"bot_token"`
	UserName        string `db:"user_name"`
	AssistantName   string `db:"assistant_name"`
	OnboardingState string `db:"onboarding_state"`
	Goals           string `db:"goals"`
	Focus           string `db:"focus"`
	CreatedAt       int64  `db:"created_at"`
	UpdatedAt       int64  `db:"updated_at"`
}

func (r tenantRow) tenant() Tenant {
	return Tenant{
		ID:              r.ID,
		TelegramID:      r.TelegramID,
		BotToken:        r.BotToken,
		UserName:        r.UserName,
		AssistantName:   r.AssistantName,
		OnboardingState: r.OnboardingState,
		Goals:           r.Goals,
		Focus:           r.Focus,
		CreatedAt:       time.UnixMilli(r.CreatedAt),
		UpdatedAt:       time.UnixMilli(r.UpdatedAt),
	}
}

const tenantColumns = `id, telegram_id, bot_token, user_name, assistant_name, onboarding_state, goals, focus, created_at, updated_at`

// CreateTenant inserts t, generating an id and timestamps. ErrConflict is
// returned when the bot token or telegram id is already bound.
func (s *Store) CreateTenant(ctx context.Context, t Tenant) (Tenant, error) {
	if t.BotToken == "" || t.TelegramID == 0 {
		return Tenant{}, errors.New("tenant needs bot token and telegram id")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.OnboardingState == "" {
		t.OnboardingState = StateNew
	}
	now := s.now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO tenants (`+tenantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		t.ID, t.TelegramID, t.BotToken, t.UserName, t.AssistantName, t.OnboardingState,
		t.Goals, t.Focus, now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Tenant{}, ErrConflict
		}
		return Tenant{}, fmt.Errorf("creating tenant: %w", err)
	}
	return t, nil
}

// UpdateTenant rewrites the mutable profile columns.
func (s *Store) UpdateTenant(ctx context.Context, t Tenant) error {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE tenants SET
			user_name = ?, assistant_name = ?, onboarding_state = ?,
			goals = ?, focus = ?, updated_at = ?
		WHERE id = ?`),
		t.UserName, t.AssistantName, t.OnboardingState, t.Goals, t.Focus, now.UnixMilli(), t.ID,
	)
	if err != nil {
		return fmt.Errorf("updating tenant %s: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) getTenant(ctx context.Context, where string, arg any) (Tenant, error) {
	var row tenantRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT `+tenantColumns+` FROM tenants WHERE `+where+` = ?`), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return Tenant{}, ErrNotFound
	}
	if err != nil {
		return Tenant{}, fmt.Errorf("loading tenant: %w", err)
	}
	return row.tenant(), nil
}

func (s *Store) TenantByID(ctx context.Context, id string) (Tenant, error) {
	return s.getTenant(ctx, "id", id)
}

func (s *Store) TenantByToken(ctx context.Context, token string) (Tenant, error) {
	return s.getTenant(ctx, "bot_token", token)
}

func (s *Store) TenantByTelegramID(ctx context.Context, telegramID int64) (Tenant, error) {
	return s.getTenant(ctx, "telegram_id", telegramID)
}

// ActiveTenants returns tenants that finished onboarding.
func (s *Store) ActiveTenants(ctx context.Context) ([]Tenant, error) {
	var rows []tenantRow
	err := s.db.SelectContext(ctx, &rows, s.q(`SELECT `+tenantColumns+` FROM tenants WHERE onboarding_state = ? ORDER BY created_at`), StateComplete)
	if err != nil {
		return nil, fmt.Errorf("listing active tenants: %w", err)
	}
	out := make([]Tenant, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.tenant())
	}
	return out, nil
}

// AssignedTokens returns the set of bot tokens already bound to a tenant.
func (s *Store) AssignedTokens(ctx context.Context) (map[string]bool, error) {
	var tokens []string
	if err := s.db.SelectContext(ctx, &tokens, `SELECT bot_token FROM tenants`); err != nil {
		return nil, fmt.Errorf("listing tokens: %w", err)
	}
	out := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		out[t] = true
	}
	return out, nil
}

// IsTokenAssigned reports whether token is bound to any tenant.
func (s *Store) IsTokenAssigned(ctx context.Context, token string) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, s.q(`SELECT COUNT(*) FROM tenants WHERE bot_token = ?`), token); err != nil {
		return false, fmt.Errorf("checking token: %w", err)
	}
	return n > 0, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
