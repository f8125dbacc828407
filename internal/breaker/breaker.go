// Package breaker is a keyed consecutive-failure circuit breaker with
// exponential cooldown.
//
//   - On success: failures reset and the circuit closes.
//   - On failure: failures increment; once failures >= trip the circuit
//     opens for a cooldown that doubles with every further failure.
//   - A key whose last failure is older than ResetAfter starts fresh.
package breaker

import (
	"strings"
	"sync"
	"time"
)

type Config struct {
	// TripFailures < 0 disables the breaker; 0 means 5.
	TripFailures int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	ResetAfter   time.Duration
}

func (c Config) withDefaults() Config {
	if c.TripFailures == 0 {
		c.TripFailures = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 5 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 2 * time.Minute
	}
	if c.ResetAfter <= 0 {
		c.ResetAfter = 5 * time.Minute
	}
	return c
}

type state struct {
	fails       int
	openUntil   time.Time
	lastFailure time.Time
}

type Set struct {
	mu  sync.Mutex
	cfg Config
	m   map[string]*state
	now func() time.Time
}

func New(cfg Config) *Set {
	return &Set{cfg: cfg.withDefaults(), m: map[string]*state{}, now: time.Now}
}

// WithClock replaces the time source; for tests.
func (s *Set) WithClock(now func() time.Time) *Set {
	s.now = now
	return s
}

func (s *Set) enabled() bool { return s != nil && s.cfg.TripFailures > 0 }

// get returns the state for key with the stale-failure reset applied.
// Callers hold s.mu.
func (s *Set) get(key string, now time.Time) *state {
	st := s.m[key]
	if st == nil {
		st = &state{}
		s.m[key] = st
	}
	if !st.lastFailure.IsZero() && now.Sub(st.lastFailure) > s.cfg.ResetAfter {
		st.fails = 0
		st.openUntil = time.Time{}
	}
	return st
}

// Allow reports whether a call for key may proceed. When it may not,
// openUntil says when the circuit closes again.
func (s *Set) Allow(key string) (ok bool, openUntil time.Time) {
	key = strings.TrimSpace(key)
	if !s.enabled() || key == "" {
		return true, time.Time{}
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.get(key, now)
	if !st.openUntil.IsZero() && now.Before(st.openUntil) {
		return false, st.openUntil
	}
	return true, time.Time{}
}

// Record feeds the result of a call for key.
func (s *Set) Record(key string, err error) {
	key = strings.TrimSpace(key)
	if !s.enabled() || key == "" {
		return
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.get(key, now)
	if err == nil {
		*st = state{}
		return
	}

	st.fails++
	st.lastFailure = now
	if st.fails < s.cfg.TripFailures {
		return
	}
	d := s.cfg.BaseDelay
	for i := 0; i < st.fails-s.cfg.TripFailures; i++ {
		d *= 2
		if d >= s.cfg.MaxDelay {
			break
		}
	}
	st.openUntil = now.Add(min(d, s.cfg.MaxDelay))
}

// Snapshot counts tracked keys and currently open circuits.
func (s *Set) Snapshot() (total, open int) {
	if !s.enabled() {
		return 0, 0
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.m {
		if !st.openUntil.IsZero() && now.Before(st.openUntil) {
			open++
		}
	}
	return len(s.m), open
}
