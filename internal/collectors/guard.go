package collectors

import (
	"context"
	"errors"
	"time"

	"anyarchie/internal/breaker"
	"anyarchie/internal/heartbeat"
	"anyarchie/internal/metrics"
	"anyarchie/internal/storage"
	logx "anyarchie/pkg/logx"
)

// Guard bounds a collector with a timeout and a circuit breaker keyed by
// (collector, tenant). A tenant whose mailbox keeps failing stops being
// polled for a while without affecting other tenants.
type Guard struct {
	inner   heartbeat.Collector
	timeout time.Duration
	br      *breaker.Set
	log     logx.Logger
}

// NewGuard wraps inner. A nil br disables the breaker.
func NewGuard(inner heartbeat.Collector, timeout time.Duration, br *breaker.Set, log logx.Logger) *Guard {
	return &Guard{
		inner:   inner,
		timeout: timeout,
		br:      br,
		log:     log.Component("collector." + string(inner.Kind())),
	}
}

func (g *Guard) Kind() heartbeat.Kind { return g.inner.Kind() }

func (g *Guard) Check(ctx context.Context, t storage.Tenant, cfg heartbeat.Config) (*heartbeat.SignalResult, error) {
	kind := string(g.inner.Kind())
	key := kind + "/" + t.ID

	if g.br != nil {
		if ok, until := g.br.Allow(key); !ok {
			metrics.RecordCollectorResult(kind, "circuit_open")
			g.log.Debug("collector suspended",
				logx.String("tenant", t.ID),
				logx.Time("until", until),
			)
			return nil, ErrCircuitOpen
		}
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	res, err := g.inner.Check(ctx, t, cfg)
	switch {
	case errors.Is(err, ErrNoCredential):
		metrics.RecordCollectorResult(kind, "no_credential")
		return nil, nil
	case err != nil:
		if g.br != nil {
			g.br.Record(key, err)
		}
		result := "error"
		switch {
		case IsAuthError(err):
			result = "auth_error"
		case errors.Is(err, context.DeadlineExceeded):
			result = "timeout"
		}
		metrics.RecordCollectorResult(kind, result)
		g.log.Warn("collector failed",
			logx.String("tenant", t.ID),
			logx.String("result", result),
			logx.Err(err),
		)
		return nil, err
	}

	if g.br != nil {
		g.br.Record(key, nil)
	}
	if res.Empty() {
		metrics.RecordCollectorResult(kind, "empty")
		return nil, nil
	}
	metrics.RecordCollectorResult(kind, "found")
	return res, nil
}
