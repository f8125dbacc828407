// Package tenant maps bot tokens and senders to tenants and routes inbound
// chat messages: hub sign-up, onboarding, commands and free text.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"anyarchie/internal/metrics"
	"anyarchie/internal/storage"
	logx "anyarchie/pkg/logx"
)

var (
	// ErrTokenPoolExhausted means every pooled bot token is already bound.
	ErrTokenPoolExhausted = errors.New("tenant: token pool exhausted")
	// ErrOtherBot means the sender already owns a tenant on another token.
	ErrOtherBot = errors.New("tenant: sender bound to another bot")
	// ErrNotOwner means the token belongs to a different sender.
	ErrNotOwner = errors.New("tenant: bot owned by another sender")
)

// Store is the persistence the resolver and router need.
type Store interface {
	CreateTenant(ctx context.Context, t storage.Tenant) (storage.Tenant, error)
	UpdateTenant(ctx context.Context, t storage.Tenant) error
	TenantByToken(ctx context.Context, token string) (storage.Tenant, error)
	TenantByTelegramID(ctx context.Context, telegramID int64) (storage.Tenant, error)
	IsTokenAssigned(ctx context.Context, token string) (bool, error)

	AddTask(ctx context.Context, t storage.Task) (storage.Task, error)
	PendingTasks(ctx context.Context, tenantID string) ([]storage.Task, error)
	CompleteTask(ctx context.Context, tenantID, taskID string) error
	AddReminder(ctx context.Context, r storage.Reminder) (storage.Reminder, error)
	UpsertEvent(ctx context.Context, e storage.CalendarEvent) (storage.CalendarEvent, error)
	EventsBetween(ctx context.Context, tenantID string, from, to time.Time) ([]storage.CalendarEvent, error)
	GetState(ctx context.Context, tenantID string) (storage.NotificationState, error)
}

const cacheTTL = 5 * time.Minute

// Resolver finds or provisions the tenant behind a token. Lookups by token
// are cached; every write goes through Save so the cache stays coherent.
type Resolver struct {
	store Store
	cache *gocache.Cache
	log   logx.Logger

	// provisioning is serialized so two senders never race for one token
	mu   sync.Mutex
	pool []string
}

func NewResolver(store Store, pool []string, log logx.Logger) *Resolver {
	return &Resolver{
		store: store,
		cache: gocache.New(cacheTTL, 2*cacheTTL),
		log:   log.Component("tenant"),
		pool:  append([]string(nil), pool...),
	}
}

// SetPool replaces the token pool used for hub assignment.
func (r *Resolver) SetPool(pool []string) {
	r.mu.Lock()
	r.pool = append([]string(nil), pool...)
	r.mu.Unlock()
}

// Lookup returns the tenant bound to token or storage.ErrNotFound.
func (r *Resolver) Lookup(ctx context.Context, token string) (storage.Tenant, error) {
	if v, ok := r.cache.Get(token); ok {
		return v.(storage.Tenant), nil
	}
	t, err := r.store.TenantByToken(ctx, token)
	if err != nil {
		return storage.Tenant{}, err
	}
	r.cache.SetDefault(token, t)
	return t, nil
}

// Save persists t and refreshes the cache.
func (r *Resolver) Save(ctx context.Context, t storage.Tenant) error {
	if err := r.store.UpdateTenant(ctx, t); err != nil {
		r.cache.Delete(t.BotToken)
		return err
	}
	r.cache.SetDefault(t.BotToken, t)
	return nil
}

// Resolve returns the tenant for a message from sender on token. In direct
// mode an unbound token is provisioned for the first sender; created
// reports that. ErrOtherBot and ErrNotOwner reject senders that do not fit.
func (r *Resolver) Resolve(ctx context.Context, token string, sender int64) (t storage.Tenant, created bool, err error) {
	t, err = r.Lookup(ctx, token)
	switch {
	case err == nil:
		if t.TelegramID != sender {
			return storage.Tenant{}, false, ErrNotOwner
		}
		return t, false, nil
	case !errors.Is(err, storage.ErrNotFound):
		return storage.Tenant{}, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.store.TenantByTelegramID(ctx, sender); err == nil {
		return storage.Tenant{}, false, ErrOtherBot
	} else if !errors.Is(err, storage.ErrNotFound) {
		return storage.Tenant{}, false, err
	}

	t, err = r.store.CreateTenant(ctx, storage.Tenant{TelegramID: sender, BotToken: token})
	if errors.Is(err, storage.ErrConflict) {
		// lost a race with another update; reload
		t, err = r.Lookup(ctx, token)
		if err != nil {
			return storage.Tenant{}, false, err
		}
		if t.TelegramID != sender {
			return storage.Tenant{}, false, ErrNotOwner
		}
		return t, false, nil
	}
	if err != nil {
		return storage.Tenant{}, false, fmt.Errorf("provisioning tenant: %w", err)
	}
	r.cache.SetDefault(token, t)
	metrics.RecordTenantProvisioned("direct")
	r.log.Info("tenant provisioned", logx.String("tenant", t.ID), logx.Token(token), logx.String("mode", "direct"))
	return t, true, nil
}

// AssignFromPool binds the first unassigned pooled token to sender. A
// sender that already has a tenant gets ErrOtherBot.
func (r *Resolver) AssignFromPool(ctx context.Context, sender int64) (storage.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.store.TenantByTelegramID(ctx, sender); err == nil {
		return storage.Tenant{}, ErrOtherBot
	} else if !errors.Is(err, storage.ErrNotFound) {
		return storage.Tenant{}, err
	}

	for _, token := range r.pool {
		used, err := r.store.IsTokenAssigned(ctx, token)
		if err != nil {
			return storage.Tenant{}, err
		}
		if used {
			continue
		}
		t, err := r.store.CreateTenant(ctx, storage.Tenant{TelegramID: sender, BotToken: token})
		if errors.Is(err, storage.ErrConflict) {
			continue
		}
		if err != nil {
			return storage.Tenant{}, fmt.Errorf("provisioning tenant: %w", err)
		}
		r.cache.SetDefault(token, t)
		metrics.RecordTenantProvisioned("hub")
		r.log.Info("tenant provisioned", logx.String("tenant", t.ID), logx.Token(token), logx.String("mode", "hub"))
		return t, nil
	}
	return storage.Tenant{}, ErrTokenPoolExhausted
}
