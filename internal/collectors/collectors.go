// Package collectors implements the heartbeat signal sources: overdue
// tasks, upcoming calendar events and important unread mail.
//
// Each collector returns nil when it has nothing to report. Errors are
// treated as "nothing to report" by the heartbeat; Guard adds a timeout
// and a per-tenant circuit breaker in front of the flaky ones.
package collectors

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

var (
	// ErrNoCredential means the tenant never connected the source.
	ErrNoCredential = errors.New("collector: no credential")
	// ErrCircuitOpen means recent failures suspended the source for a tenant.
	ErrCircuitOpen = errors.New("collector: circuit open")
)

// AuthError indicates that authentication has failed or expired for a source.
type AuthError struct {
	Source  string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Source, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// Option configures a collector.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// clip returns at most n runes of s.
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
