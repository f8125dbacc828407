package breaker

import (
	"errors"
	"testing"
	"time"
)

func TestTripAndCooldown(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(Config{TripFailures: 2, BaseDelay: time.Minute, MaxDelay: 3 * time.Minute, ResetAfter: time.Hour}).
		WithClock(func() time.Time { return now })
	boom := errors.New("boom")

	s.Record("k", boom)
	if ok, _ := s.Allow("k"); !ok {
		t.Fatalf("Allow after 1 failure = false, want true")
	}
	s.Record("k", boom)
	ok, until := s.Allow("k")
	if ok || !until.Equal(now.Add(time.Minute)) {
		t.Fatalf("Allow = %v, %v; want false, +1m", ok, until)
	}
	if ok, _ := s.Allow("other"); !ok {
		t.Fatalf("keys must be independent")
	}

	s.Record("k", boom)
	if _, until := s.Allow("k"); !until.Equal(now.Add(2 * time.Minute)) {
		t.Fatalf("cooldown = %v, want +2m", until.Sub(now))
	}
	s.Record("k", boom)
	s.Record("k", boom)
	if _, until := s.Allow("k"); !until.Equal(now.Add(3 * time.Minute)) {
		t.Fatalf("cooldown = %v, want capped at 3m", until.Sub(now))
	}
	if total, open := s.Snapshot(); total != 2 || open != 1 {
		t.Fatalf("Snapshot = %d/%d, want 2/1", total, open)
	}

	now = now.Add(4 * time.Minute)
	if ok, _ := s.Allow("k"); !ok {
		t.Fatalf("Allow after cooldown = false, want true")
	}
	s.Record("k", nil)
	s.Record("k", boom)
	if ok, _ := s.Allow("k"); !ok {
		t.Fatalf("success must reset failures")
	}
}

func TestStaleFailuresReset(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(Config{TripFailures: 2, ResetAfter: time.Minute}).WithClock(func() time.Time { return now })
	s.Record("k", errors.New("x"))
	now = now.Add(2 * time.Minute)
	s.Record("k", errors.New("x"))
	if ok, _ := s.Allow("k"); !ok {
		t.Fatalf("old failure should not count toward trip")
	}
}

func TestDisabled(t *testing.T) {
	t.Parallel()

	s := New(Config{TripFailures: -1})
	for i := 0; i < 10; i++ {
		s.Record("k", errors.New("x"))
	}
	if ok, _ := s.Allow("k"); !ok {
		t.Fatalf("disabled breaker must allow")
	}
}
