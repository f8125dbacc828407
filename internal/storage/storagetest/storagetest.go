// Package storagetest provides in-memory stores for tests.
package storagetest

import (
	"context"
	"testing"

	"anyarchie/internal/storage"
	logx "anyarchie/pkg/logx"
)

// NewTestStore opens an in-memory SQLite store with all migrations applied
// and closes it when the test completes.
func NewTestStore(t testing.TB) *storage.Store {
	t.Helper()

	s, err := storage.Open(context.Background(), storage.Config{Driver: "sqlite", DSN: ":memory:"}, logx.Nop())
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})
	return s
}

// NewTenant creates a tenant that finished onboarding.
func NewTenant(t testing.TB, s *storage.Store, telegramID int64, token string) storage.Tenant {
	t.Helper()

	tn, err := s.CreateTenant(context.Background(), storage.Tenant{
		TelegramID:      telegramID,
		BotToken:        token,
		UserName:        "Sam",
		AssistantName:   "Archie",
		OnboardingState: storage.StateComplete,
	})
	if err != nil {
		t.Fatalf("creating tenant: %v", err)
	}
	return tn
}
