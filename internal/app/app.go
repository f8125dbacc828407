// Package app wires the assistant engine: configuration, logging, storage,
// the update multiplexer with its tenant router, the heartbeat with its
// collectors and composer, reminders, the scheduler and the ops server.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"anyarchie/internal/breaker"
	"anyarchie/internal/collectors"
	"anyarchie/internal/composer"
	"anyarchie/internal/config"
	"anyarchie/internal/credential"
	"anyarchie/internal/eventbus"
	"anyarchie/internal/heartbeat"
	"anyarchie/internal/ingest"
	"anyarchie/internal/llm"
	"anyarchie/internal/notifier"
	"anyarchie/internal/observability/ops"
	"anyarchie/internal/reminders"
	rtsup "anyarchie/internal/runtime/supervisor"
	"anyarchie/internal/storage"
	"anyarchie/internal/task/scheduler"
	"anyarchie/internal/tenant"
	"anyarchie/internal/transport/telegram/adapter"
	logx "anyarchie/pkg/logx"
)

// Mode selects which long-running parts Start launches.
type Mode string

const (
	// ModeRun starts everything.
	ModeRun Mode = "run"
	// ModePoll starts only the multiplexer and the reply outbox.
	ModePoll Mode = "poll"
	// ModeHeartbeat starts only the scheduled heartbeat.
	ModeHeartbeat Mode = "heartbeat"
)

func (m Mode) ingest() bool    { return m == ModeRun || m == ModePoll }
func (m Mode) heartbeat() bool { return m == ModeRun || m == ModeHeartbeat }
func (m Mode) reminders() bool { return m == ModeRun }
func (m Mode) ops() bool       { return m == ModeRun || m == ModePoll }

const (
	jobHeartbeat = "heartbeat"
	jobReminders = "reminders"
)

type Option func(*App)

// WithMode overrides the default ModeRun.
func WithMode(m Mode) Option { return func(a *App) { a.mode = m } }

// WithLogger replaces the configured logging service, for tests.
func WithLogger(log logx.Logger) Option { return func(a *App) { a.log = log } }

type App struct {
	mode Mode
	cfgm *config.ConfigManager
	logs *logx.Service
	log  logx.Logger
	bus  eventbus.Bus

	store    *storage.Store
	seen     *ingest.RedisSeenStore
	tg       *adapter.Pool
	sink     *notifier.Sink
	outbox   *notifier.Service
	resolver *tenant.Resolver
	router   *tenant.Router
	mux      *ingest.Multiplexer

	creds    *credential.Provider
	composer *composer.Composer
	heart    *heartbeat.Service
	remind   *reminders.Worker
	sched    *scheduler.Service
	ops      *ops.Service

	sup *rtsup.Supervisor
}

// New loads cfgPath and builds every component. Nothing runs until Start.
func New(cfgPath string, opts ...Option) (a *App, err error) {
	a = &App{mode: ModeRun, bus: eventbus.New()}
	for _, o := range opts {
		o(a)
	}

	a.cfgm = config.NewConfigManager(cfgPath)
	cfg, err := a.cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if a.log.IsZero() {
		a.logs, a.log = logx.New(mapLogConfig(cfg), nil)
	}
	a.cfgm.SetLogger(a.log)

	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err = a.buildTransport(cfg); err != nil {
		return nil, err
	}
	if err = a.buildStorage(ctx, cfg); err != nil {
		return nil, err
	}
	if err = a.buildHeartbeat(cfg); err != nil {
		return nil, err
	}
	if err = a.buildIngest(ctx, cfg); err != nil {
		return nil, err
	}
	a.remind = reminders.NewWorker(a.store, a.sink, cfg.Reminders.Batch, a.bus, a.log)
	a.sched = scheduler.New(mapSchedulerConfig(cfg), a.log, a.bus)
	a.ops = ops.New(mapOpsConfig(cfg), a.ready, a.log)
	return a, nil
}

func (a *App) buildTransport(cfg *config.Config) error {
	ic, err := mapIngestConfig(cfg)
	if err != nil {
		return err
	}
	a.tg = adapter.New(adapter.Config{
		PollTimeout: ic.PollTimeout,
		APIURL:      cfg.Telegram.APIURL,
		RatePerSec:  cfg.Notifier.RatePerSec,
	}, a.log)
	if a.logs != nil {
		if tok := alertToken(cfg); tok != "" {
			a.logs.SetSender(a.tg.AlertSender(tok))
		}
	}

	nc, err := mapNotifierConfig(cfg)
	if err != nil {
		return err
	}
	a.sink = notifier.NewSink(a.tg, nc.SendTimeout, a.log)
	a.outbox = notifier.New(nc, a.sink, a.log, a.bus)
	return nil
}

func (a *App) buildStorage(ctx context.Context, cfg *config.Config) error {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	a.store, err = storage.Open(ctx, sc, a.log)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	if cfg.Redis.Enabled {
		rc, err := mapRedisConfig(cfg)
		if err != nil {
			return err
		}
		a.seen, err = ingest.NewRedisSeenStore(ctx, rc, a.log)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (a *App) buildHeartbeat(cfg *config.Config) error {
	hc, err := mapHeartbeatConfig(cfg)
	if err != nil {
		return err
	}
	collectorTimeout, err := config.DurationOr("heartbeat.collector_timeout", cfg.Heartbeat.CollectorTimeout, 30*time.Second)
	if err != nil {
		return err
	}
	mailTimeout, err := config.DurationOr("mail.timeout", cfg.Mail.Timeout, 20*time.Second)
	if err != nil {
		return err
	}
	lc, err := mapLLMConfig(cfg)
	if err != nil {
		return err
	}

	a.creds, err = credential.Open(mapCredentialConfig(cfg))
	if err != nil {
		return err
	}

	client := llm.NewClient(lc, a.log)
	if !client.Configured() {
		a.log.Warn("llm api key not set; check-ins use the template fallback")
	}
	a.composer = composer.New(client, breaker.New(breaker.Config{}), a.log,
		composer.WithTimeout(lc.Timeout),
		composer.WithMaxTokens(lc.MaxTokens),
	)

	// one breaker set keyed by collector and tenant
	br := breaker.New(breaker.Config{})
	box := &collectors.IMAPMailbox{
		Server:     cfg.Mail.IMAPServer,
		Timeout:    mailTimeout,
		FetchLimit: cfg.Mail.FetchLimit,
	}
	cols := []heartbeat.Collector{
		collectors.NewGuard(collectors.NewMail(box, a.creds, a.log), collectorTimeout, br, a.log),
		collectors.NewGuard(collectors.NewCalendar(a.store), collectorTimeout, br, a.log),
		collectors.NewGuard(collectors.NewTasks(a.store), collectorTimeout, br, a.log),
	}
	a.heart = heartbeat.NewService(hc, a.store, cols, a.composer, a.sink, a.log, heartbeat.WithBus(a.bus))
	return nil
}

func (a *App) buildIngest(ctx context.Context, cfg *config.Config) error {
	ic, err := mapIngestConfig(cfg)
	if err != nil {
		return err
	}
	a.resolver = tenant.NewResolver(a.store, cfg.Telegram.TokenPool, a.log)
	a.router = tenant.NewRouter(a.resolver, a.store, replier{outbox: a.outbox, sink: a.sink}, a.heart, a.log,
		tenant.WithFallback(a.composer),
		tenant.WithLocation(a.heart.Config().Location),
		tenant.WithBus(a.bus),
		tenant.OnProvision(func(token string) {
			a.mux.AddChannel(ingest.Channel{Token: token, Kind: ingest.KindPersonal})
		}),
	)

	mopts := []ingest.Option{ingest.WithBus(a.bus)}
	if a.seen != nil {
		mopts = append(mopts, ingest.WithSeenStore(a.seen))
	}
	a.mux = ingest.New(ic, a.tg, a.router, a.log, mopts...)
	return a.addChannels(ctx, cfg)
}

// addChannels registers the hub, every pooled token and every token already
// bound to a tenant. Known tokens are ignored by the multiplexer.
func (a *App) addChannels(ctx context.Context, cfg *config.Config) error {
	if hub := strings.TrimSpace(cfg.Telegram.HubToken); hub != "" {
		a.mux.AddChannel(ingest.Channel{Token: hub, Kind: ingest.KindHub})
	}
	for _, tok := range cfg.Telegram.TokenPool {
		a.mux.AddChannel(ingest.Channel{Token: tok, Kind: ingest.KindPersonal})
	}
	assigned, err := a.store.AssignedTokens(ctx)
	if err != nil {
		return err
	}
	for tok := range assigned {
		if tok == "" || tok == cfg.Telegram.HubToken {
			continue
		}
		a.mux.AddChannel(ingest.Channel{Token: tok, Kind: ingest.KindPersonal})
	}
	return nil
}

// replier queues replies on the outbox and delivers inline when the outbox
// is disabled.
type replier struct {
	outbox *notifier.Service
	sink   *notifier.Sink
}

func (r replier) Notify(ctx context.Context, n notifier.Notification) error {
	err := r.outbox.Notify(ctx, n)
	if !errors.Is(err, notifier.ErrDisabled) {
		return err
	}
	err = r.sink.Deliver(ctx, n.Target, n.Text)
	if n.OnDone != nil {
		n.OnDone(err)
	}
	return err
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Done is closed when the app run context ends, including fatal errors.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		return nil
	}
	return a.sup.Context().Done()
}

func (a *App) Logger() logx.Logger { return a.log }

func (a *App) Config() *config.Config { return a.cfgm.Get() }

func (a *App) Store() *storage.Store { return a.store }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()
	cfg := a.cfgm.Get()

	// transactional config reload: validate before commit/publish
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		return validateReload(c)
	})

	if a.mode.ingest() {
		a.outbox.Start(runCtx)
		a.mux.Run(a.sup)
	}
	if err := a.syncSchedules(cfg); err != nil {
		a.sup.Cancel()
		return err
	}
	a.sched.Start(runCtx)
	if a.mode.ops() {
		a.ops.Start(runCtx)
	}

	// Optional: log events for observability/debug.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.String("mode", string(a.mode)),
		logx.Int("channels", len(a.mux.Channels())),
		logx.String("storage", a.store.Driver()),
	)
	return nil
}

// syncSchedules registers, reschedules or removes the periodic jobs so they
// match cfg and the run mode.
func (a *App) syncSchedules(cfg *config.Config) error {
	registered := map[string]bool{}
	for _, e := range a.sched.Entries() {
		registered[e.Name] = true
	}
	apply := func(name string, want bool, spec string, timeout time.Duration, job scheduler.Job) error {
		switch {
		case !want:
			if a.sched.Remove(name) {
				a.log.Info("schedule removed", logx.String("name", name))
			}
			return nil
		case registered[name]:
			return a.sched.Reschedule(name, spec)
		default:
			return a.sched.Register(name, spec, timeout, job)
		}
	}

	if err := apply(jobHeartbeat, a.mode.heartbeat() && cfg.Heartbeat.Enabled, heartbeatSchedule(cfg), 0, a.heartbeatJob); err != nil {
		return fmt.Errorf("heartbeat schedule: %w", err)
	}
	if err := apply(jobReminders, a.mode.reminders() && cfg.Reminders.Enabled, cfg.Reminders.Schedule, time.Minute, a.remindersJob); err != nil {
		return fmt.Errorf("reminders schedule: %w", err)
	}
	return nil
}

func (a *App) heartbeatJob(ctx context.Context) error {
	rep, err := a.heart.RunTick(ctx)
	if err != nil {
		return err
	}
	a.log.Info("heartbeat tick",
		logx.Int("tenants", rep.Tenants),
		logx.Int("delivered", rep.Outcomes[heartbeat.OutcomeDelivered]),
		logx.Duration("took", rep.Took),
	)
	return nil
}

func (a *App) remindersJob(ctx context.Context) error {
	_, err := a.remind.Sweep(ctx)
	return err
}

// RunHeartbeatOnce runs one heartbeat tick for every active tenant.
func (a *App) RunHeartbeatOnce(ctx context.Context) (heartbeat.TickReport, error) {
	return a.heart.RunTick(ctx)
}

// SweepReminders delivers due reminders once.
func (a *App) SweepReminders(ctx context.Context) (int, error) {
	return a.remind.Sweep(ctx)
}

// Mute pauses check-ins for the tenant owning telegramID. A zero duration
// means heartbeat.mute_duration_minutes.
func (a *App) Mute(ctx context.Context, telegramID int64, d time.Duration) (time.Time, error) {
	t, err := a.store.TenantByTelegramID(ctx, telegramID)
	if err != nil {
		return time.Time{}, err
	}
	return a.heart.Mute(ctx, t.ID, d)
}

func (a *App) Unmute(ctx context.Context, telegramID int64) error {
	t, err := a.store.TenantByTelegramID(ctx, telegramID)
	if err != nil {
		return err
	}
	return a.heart.Unmute(ctx, t.ID)
}

// SetMailCredential stores the mailbox login used by the mail collector.
func (a *App) SetMailCredential(ctx context.Context, telegramID int64, c credential.Credential) error {
	t, err := a.store.TenantByTelegramID(ctx, telegramID)
	if err != nil {
		return err
	}
	return a.creds.Set(t.ID, collectors.MailService, c)
}

func (a *App) ready(ctx context.Context) (bool, any) {
	ok := true
	detail := map[string]any{"mode": a.mode}
	if err := a.store.Ping(ctx); err != nil {
		ok = false
		detail["storage"] = err.Error()
	} else {
		detail["storage"] = "ok"
	}
	if a.sup != nil {
		snap := a.sup.Snapshot()
		if snap.FirstError != "" || a.sup.Context().Err() != nil {
			ok = false
		}
		detail["supervisor"] = snap
	}
	detail["channels"] = len(a.mux.Channels())
	return ok, detail
}
