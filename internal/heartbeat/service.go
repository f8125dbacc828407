// Package heartbeat runs the periodic per-tenant check-in cycle: collect
// signals, diff them against what was already surfaced, decide whether the
// difference is worth an interruption, then compose and deliver one message.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"anyarchie/internal/eventbus"
	"anyarchie/internal/metrics"
	"anyarchie/internal/storage"
	kit "anyarchie/internal/transport"
	logx "anyarchie/pkg/logx"
)

type Store interface {
	ActiveTenants(ctx context.Context) ([]storage.Tenant, error)
	GetState(ctx context.Context, tenantID string) (storage.NotificationState, error)
	SaveState(ctx context.Context, st storage.NotificationState) error
	SetMutedUntil(ctx context.Context, tenantID string, until *time.Time) error
}

// Composer renders a delta as a chat message. It never fails; usedFallback
// reports that the template path was taken.
type Composer interface {
	Compose(ctx context.Context, t storage.Tenant, d Delta, now time.Time) (text string, usedFallback bool)
}

type Deliverer interface {
	Deliver(ctx context.Context, to kit.ChatTarget, text string) error
}

type Outcome string

const (
	OutcomeMuted          Outcome = "muted"
	OutcomeQuiet          Outcome = "quiet_hours"
	OutcomeBusy           Outcome = "busy"
	OutcomeNoSignals      Outcome = "no_signals"
	OutcomeNotAdmitted    Outcome = "not_admitted"
	OutcomeDelivered      Outcome = "delivered"
	OutcomeDeliveryFailed Outcome = "delivery_failed"
	OutcomeError          Outcome = "error"
)

// CycleEvent is published on the bus after every tenant cycle.
type CycleEvent struct {
	CycleID      string    `json:"cycle_id"`
	TenantID     string    `json:"tenant_id"`
	Outcome      Outcome   `json:"outcome"`
	NewEmails    int       `json:"new_emails"`
	NewTasks     int       `json:"new_tasks"`
	Imminent     int       `json:"imminent"`
	UsedFallback bool      `json:"used_fallback,omitempty"`
	At           time.Time `json:"at"`
}

type TickReport struct {
	Tenants  int
	Outcomes map[Outcome]int
	Took     time.Duration
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithBus(b eventbus.Bus) Option { return func(s *Service) { s.bus = b } }

type Service struct {
	mu  sync.RWMutex
	cfg Config

	store      Store
	collectors []Collector
	composer   Composer
	sink       Deliverer
	bus        eventbus.Bus
	log        logx.Logger
	now        func() time.Time

	// one in-flight cycle per tenant
	locks sync.Map // tenant id -> *sync.Mutex
}

func NewService(cfg Config, store Store, collectors []Collector, composer Composer, sink Deliverer, log logx.Logger, opts ...Option) *Service {
	s := &Service{
		cfg:        cfg,
		store:      store,
		collectors: collectors,
		composer:   composer,
		sink:       sink,
		bus:        eventbus.Nop(),
		log:        log.Component("heartbeat"),
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Apply swaps the config used by the next cycles.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Service) tenantLock(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// RunTick runs one cycle for every active tenant with bounded concurrency.
func (s *Service) RunTick(ctx context.Context) (TickReport, error) {
	start := time.Now()
	cfg := s.Config()

	tenants, err := s.store.ActiveTenants(ctx)
	if err != nil {
		return TickReport{}, fmt.Errorf("listing tenants: %w", err)
	}

	conc := max(cfg.Concurrency, 1)
	sem := make(chan struct{}, conc)
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		rep = TickReport{Tenants: len(tenants), Outcomes: map[Outcome]int{}}
	)
	for _, t := range tenants {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return rep, ctx.Err()
		}
		wg.Add(1)
		go func(t storage.Tenant) {
			defer wg.Done()
			defer func() { <-sem }()

			tctx, cancel := ctx, func() {}
			if cfg.TenantTimeout > 0 {
				tctx, cancel = context.WithTimeout(ctx, cfg.TenantTimeout)
			}
			out, err := s.RunTenant(tctx, t)
			cancel()
			if err != nil {
				s.log.Error("tenant cycle failed", logx.String("tenant", t.ID), logx.String("outcome", string(out)), logx.Err(err))
			}
			mu.Lock()
			rep.Outcomes[out]++
			mu.Unlock()
		}(t)
	}
	wg.Wait()

	rep.Took = time.Since(start)
	metrics.RecordHeartbeatTick(rep.Took)
	s.log.Info("heartbeat tick done",
		logx.Int("tenants", rep.Tenants),
		logx.Int("delivered", rep.Outcomes[OutcomeDelivered]),
		logx.Int("not_admitted", rep.Outcomes[OutcomeNotAdmitted]),
		logx.Int("failed", rep.Outcomes[OutcomeDeliveryFailed]+rep.Outcomes[OutcomeError]),
		logx.Duration("took", rep.Took),
	)
	return rep, nil
}

// RunTenant runs one Look-Think-Decide-Act cycle for t. The state row is
// written at most once, and only after a successful delivery when a message
// was due.
func (s *Service) RunTenant(ctx context.Context, t storage.Tenant) (Outcome, error) {
	lock := s.tenantLock(t.ID)
	if !lock.TryLock() {
		return s.finish(t, OutcomeBusy, Delta{}, false), nil
	}
	defer lock.Unlock()

	cfg := s.Config()
	now := s.now()
	log := s.log.With(logx.String("tenant", t.ID))

	st, err := s.store.GetState(ctx, t.ID)
	if err != nil {
		return s.finish(t, OutcomeError, Delta{}, false), fmt.Errorf("loading state: %w", err)
	}
	if st.MutedUntil != nil && now.Before(*st.MutedUntil) {
		return s.finish(t, OutcomeMuted, Delta{}, false), nil
	}
	if IsQuiet(cfg, now) {
		return s.finish(t, OutcomeQuiet, Delta{}, false), nil
	}

	results := s.collect(ctx, t, cfg)
	if len(results) == 0 {
		return s.finish(t, OutcomeNoSignals, Delta{}, false), nil
	}

	delta := ComputeDelta(results, st)
	if !Admit(delta) {
		if err := s.store.SaveState(ctx, ApplyResults(st, results, now)); err != nil {
			return s.finish(t, OutcomeError, delta, false), fmt.Errorf("saving state: %w", err)
		}
		log.Debug("nothing worth a check-in", logx.Int("new_emails", delta.NewEmailCount), logx.Int("new_tasks", delta.NewTaskCount))
		return s.finish(t, OutcomeNotAdmitted, delta, false), nil
	}

	text, fallback := s.composer.Compose(ctx, t, delta, now.In(cfg.loc()))
	if text == "" {
		return s.finish(t, OutcomeError, delta, fallback), errors.New("composer returned empty text")
	}

	if err := s.sink.Deliver(ctx, kit.ChatTarget{Token: t.BotToken, ChatID: t.TelegramID}, text); err != nil {
		log.Warn("check-in delivery failed", logx.Token(t.BotToken), logx.Err(err))
		return s.finish(t, OutcomeDeliveryFailed, delta, fallback), nil
	}

	if err := s.store.SaveState(ctx, ApplyResults(st, results, now)); err != nil {
		// the message went out; the next cycle may repeat it
		return s.finish(t, OutcomeDelivered, delta, fallback), fmt.Errorf("saving state after delivery: %w", err)
	}
	log.Info("check-in delivered",
		logx.Int("new_emails", delta.NewEmailCount),
		logx.Int("new_tasks", delta.NewTaskCount),
		logx.Int("imminent", delta.ImminentEvents),
		logx.Bool("fallback", fallback),
	)
	return s.finish(t, OutcomeDelivered, delta, fallback), nil
}

// collect runs enabled collectors concurrently. Failures are logged and
// treated as absent; result order follows the collector order.
func (s *Service) collect(ctx context.Context, t storage.Tenant, cfg Config) []*SignalResult {
	out := make([]*SignalResult, len(s.collectors))
	var wg sync.WaitGroup
	for i, c := range s.collectors {
		if !cfg.CheckEnabled(c.Kind()) {
			continue
		}
		wg.Add(1)
		go func(i int, c Collector) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("collector panicked", logx.String("collector", string(c.Kind())), logx.String("tenant", t.ID), logx.Any("panic", r))
				}
			}()
			res, err := c.Check(ctx, t, cfg)
			if err != nil {
				s.log.Warn("collector failed", logx.String("collector", string(c.Kind())), logx.String("tenant", t.ID), logx.Err(err))
				return
			}
			if !res.Empty() {
				res.Kind = c.Kind()
				out[i] = res
			}
		}(i, c)
	}
	wg.Wait()

	results := out[:0]
	for _, r := range out {
		if r != nil {
			results = append(results, r)
		}
	}
	return results
}

func (s *Service) finish(t storage.Tenant, out Outcome, d Delta, fallback bool) Outcome {
	metrics.RecordHeartbeatCycle(string(out))
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeHeartbeatCycle, Data: CycleEvent{
		CycleID:      uuid.NewString(),
		TenantID:     t.ID,
		Outcome:      out,
		NewEmails:    d.NewEmailCount,
		NewTasks:     d.NewTaskCount,
		Imminent:     d.ImminentEvents,
		UsedFallback: fallback,
		At:           s.now(),
	}})
	return out
}

// Mute suppresses check-ins for d, or the configured default when d <= 0.
func (s *Service) Mute(ctx context.Context, tenantID string, d time.Duration) (time.Time, error) {
	if d <= 0 {
		d = s.Config().MuteDuration
	}
	until := s.now().Add(d)
	if err := s.store.SetMutedUntil(ctx, tenantID, &until); err != nil {
		return time.Time{}, err
	}
	s.log.Info("check-ins muted", logx.String("tenant", tenantID), logx.Time("until", until))
	return until, nil
}

func (s *Service) Unmute(ctx context.Context, tenantID string) error {
	if err := s.store.SetMutedUntil(ctx, tenantID, nil); err != nil {
		return err
	}
	s.log.Info("check-ins unmuted", logx.String("tenant", tenantID))
	return nil
}
