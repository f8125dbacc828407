// Package ingest fans long-poll update consumption out across many bot
// tokens. Each token has its own cursor; updates are deduplicated by id and
// dispatched in order, one at a time per token.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"anyarchie/internal/eventbus"
	"anyarchie/internal/metrics"
	rtsup "anyarchie/internal/runtime/supervisor"
	kit "anyarchie/internal/transport"
	logx "anyarchie/pkg/logx"
)

type Kind string

const (
	KindPersonal Kind = "personal"
	KindHub      Kind = "hub"
)

// Channel is one bot token being polled.
type Channel struct {
	Token string
	Kind  Kind
}

// Handler receives each new update exactly once per process lifetime.
type Handler interface {
	HandleUpdate(ctx context.Context, ch Channel, u kit.RawUpdate) error
}

type HandlerFunc func(ctx context.Context, ch Channel, u kit.RawUpdate) error

func (f HandlerFunc) HandleUpdate(ctx context.Context, ch Channel, u kit.RawUpdate) error {
	return f(ctx, ch, u)
}

// ErrChannelBusy is returned when a poll for the same token is in flight.
var ErrChannelBusy = errors.New("ingest: channel poll already running")

type Config struct {
	// PollTimeout is the server-side long-poll wait.
	PollTimeout time.Duration
	// RequestSlack is added to PollTimeout for the client deadline.
	RequestSlack time.Duration
	SeenCapacity int
	SeenKeep     int
	// PassDelay separates consecutive polls of one channel.
	PassDelay time.Duration
	// MaxErrorBackoff caps the wait after failed polls.
	MaxErrorBackoff time.Duration
}

func (c *Config) setDefaults() {
	if c.PollTimeout <= 0 {
		c.PollTimeout = 30 * time.Second
	}
	if c.RequestSlack <= 0 {
		c.RequestSlack = 10 * time.Second
	}
	if c.PassDelay <= 0 {
		c.PassDelay = 500 * time.Millisecond
	}
	if c.MaxErrorBackoff <= 0 {
		c.MaxErrorBackoff = 30 * time.Second
	}
}

// PollResult counts what one poll did.
type PollResult struct {
	Fetched    int
	Dispatched int
	Duplicates int
	Skipped    int
	Failed     int
}

func (r *PollResult) add(o PollResult) {
	r.Fetched += o.Fetched
	r.Dispatched += o.Dispatched
	r.Duplicates += o.Duplicates
	r.Skipped += o.Skipped
	r.Failed += o.Failed
}

type Option func(*Multiplexer)

// WithSeenStore adds a durable seen-set consulted after the in-memory one.
func WithSeenStore(s SeenStore) Option { return func(m *Multiplexer) { m.seen = s } }

func WithBus(b eventbus.Bus) Option { return func(m *Multiplexer) { m.bus = b } }

type Multiplexer struct {
	cfg     Config
	src     kit.Source
	handler Handler
	seen    SeenStore
	bus     eventbus.Bus
	log     logx.Logger

	mu       sync.Mutex
	channels map[string]*channel
	sup      *rtsup.Supervisor // set by Run
	stopped  bool
	quit     chan struct{}
	loops    sync.WaitGroup
}

type channel struct {
	Channel
	busy   sync.Mutex
	cursor *Cursor
}

func New(cfg Config, src kit.Source, h Handler, log logx.Logger, opts ...Option) *Multiplexer {
	cfg.setDefaults()
	m := &Multiplexer{
		cfg:      cfg,
		src:      src,
		handler:  h,
		bus:      eventbus.Nop(),
		log:      log.Component("ingest"),
		channels: map[string]*channel{},
		quit:     make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// AddChannel registers a token. Adding a known token is a no-op. Channels
// added after Run start polling immediately.
func (m *Multiplexer) AddChannel(ch Channel) {
	m.mu.Lock()
	if _, ok := m.channels[ch.Token]; ok {
		m.mu.Unlock()
		return
	}
	m.channels[ch.Token] = &channel{Channel: ch, cursor: NewCursor(m.cfg.SeenCapacity, m.cfg.SeenKeep)}
	sup := m.sup
	m.mu.Unlock()

	if sup != nil {
		m.start(sup, ch)
		m.log.Info("channel added", logx.Token(ch.Token), logx.String("kind", string(ch.Kind)))
	}
}

// Channels returns registered channels, hub first, then by token.
func (m *Multiplexer) Channels() []Channel {
	m.mu.Lock()
	out := make([]Channel, 0, len(m.channels))
	for _, c := range m.channels {
		out = append(out, c.Channel)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind == KindHub
		}
		return out[i].Token < out[j].Token
	})
	return out
}

func (m *Multiplexer) channel(token string) (*channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.channels[token]
	return c, ok
}

// Offset returns the next offset requested for token. It does not wait for
// an in-flight poll.
func (m *Multiplexer) Offset(token string) int64 {
	c, ok := m.channel(token)
	if !ok {
		return 0
	}
	return c.cursor.Offset()
}

// PollOnce fetches one batch for token and processes it update by update.
// The cursor advances past each update after its dispatch returns, whether
// the handler succeeded, failed or panicked.
func (m *Multiplexer) PollOnce(ctx context.Context, token string) (PollResult, error) {
	return m.pollOnce(ctx, ctx, token)
}

// pollOnce fetches under fetchCtx and dispatches under ctx, so a stop can
// abandon the long poll without cutting short a batch already fetched.
func (m *Multiplexer) pollOnce(ctx, fetchCtx context.Context, token string) (PollResult, error) {
	c, ok := m.channel(token)
	if !ok {
		return PollResult{}, fmt.Errorf("ingest: unknown channel %s", logx.Fingerprint(token))
	}
	if !c.busy.TryLock() {
		return PollResult{}, ErrChannelBusy
	}
	defer c.busy.Unlock()

	rctx, cancel := context.WithTimeout(fetchCtx, m.cfg.PollTimeout+m.cfg.RequestSlack)
	ups, err := m.src.GetUpdates(rctx, token, c.cursor.Offset(), int(m.cfg.PollTimeout/time.Second))
	cancel()
	if err != nil {
		if fetchCtx.Err() == nil {
			metrics.RecordPollError(string(c.Kind))
		}
		return PollResult{}, err
	}

	res := PollResult{Fetched: len(ups)}
	metrics.RecordUpdatesPolled(string(c.Kind), len(ups))
	for _, u := range ups {
		outcome := m.process(ctx, c, u)
		metrics.RecordUpdate(string(c.Kind), string(outcome))
		switch outcome {
		case outcomeDispatched:
			res.Dispatched++
		case outcomeDuplicate:
			res.Duplicates++
		case outcomeSkipped:
			res.Skipped++
		case outcomeFailed:
			res.Failed++
		}
	}
	return res, nil
}

type outcome string

const (
	outcomeDispatched outcome = "dispatched"
	outcomeDuplicate  outcome = "duplicate"
	outcomeSkipped    outcome = "skipped"
	outcomeFailed     outcome = "error"
)

func (m *Multiplexer) process(ctx context.Context, c *channel, u kit.RawUpdate) outcome {
	if c.cursor.Seen().Contains(u.ID) {
		c.cursor.Advance(u.ID)
		m.bus.Publish(eventbus.Event{Type: eventbus.TypeUpdateDuplicate, Data: u.ID})
		return outcomeDuplicate
	}
	if m.seen != nil {
		dup, err := m.seen.Seen(ctx, c.Token, u.ID)
		if err != nil {
			m.log.Warn("durable seen lookup failed", logx.Token(c.Token), logx.Int64("update_id", u.ID), logx.Err(err))
		} else if dup {
			c.cursor.Seen().Add(u.ID)
			c.cursor.Advance(u.ID)
			return outcomeDuplicate
		}
	}

	c.cursor.Seen().Add(u.ID)
	defer c.cursor.Advance(u.ID)

	if u.Message == nil {
		return outcomeSkipped
	}

	err := m.dispatch(ctx, c.Channel, u)
	if m.seen != nil {
		if merr := m.seen.MarkSeen(ctx, c.Token, u.ID); merr != nil {
			m.log.Warn("durable seen mark failed", logx.Token(c.Token), logx.Int64("update_id", u.ID), logx.Err(merr))
		}
	}
	if err != nil {
		m.log.Error("dispatch failed",
			logx.Token(c.Token),
			logx.String("kind", string(c.Kind)),
			logx.Int64("update_id", u.ID),
			logx.Err(err),
		)
		m.bus.Publish(eventbus.Event{Type: eventbus.TypeDispatchFailed, Data: u.ID})
		return outcomeFailed
	}
	m.bus.Publish(eventbus.Event{Type: eventbus.TypeUpdateDispatched, Data: u.ID})
	return outcomeDispatched
}

func (m *Multiplexer) dispatch(ctx context.Context, ch Channel, u kit.RawUpdate) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("handler panicked", logx.Int64("update_id", u.ID), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return m.handler.HandleUpdate(ctx, ch, u)
}

// Pass polls every channel once, concurrently, and waits for all of them.
func (m *Multiplexer) Pass(ctx context.Context) (PollResult, error) {
	chans := m.Channels()
	results := make([]PollResult, len(chans))
	errs := make([]error, len(chans))

	var wg sync.WaitGroup
	for i, ch := range chans {
		wg.Add(1)
		go func(i int, token string) {
			defer wg.Done()
			results[i], errs[i] = m.PollOnce(ctx, token)
		}(i, ch.Token)
	}
	wg.Wait()

	var total PollResult
	for _, r := range results {
		total.add(r)
	}
	return total, errors.Join(errs...)
}

// Run starts one restartable poll loop per channel under sup. Loops stop
// on Stop or when the supervisor context is canceled.
func (m *Multiplexer) Run(sup *rtsup.Supervisor) {
	m.mu.Lock()
	m.sup = sup
	m.mu.Unlock()

	chans := m.Channels()
	for _, ch := range chans {
		m.start(sup, ch)
	}
	m.log.Info("polling started", logx.Int("channels", len(chans)))
}

func (m *Multiplexer) start(sup *rtsup.Supervisor, ch Channel) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.loops.Add(1)
	m.mu.Unlock()

	token := ch.Token
	name := fmt.Sprintf("ingest.%s.%s", ch.Kind, logx.Fingerprint(token))
	sup.GoRestart(name, func(ctx context.Context) error {
		m.loop(ctx, token)
		// not reached on panic: the loop restarts instead
		m.loops.Done()
		return nil
	}, rtsup.WithRestartBackoff(time.Second, m.cfg.MaxErrorBackoff))
}

// Stop asks every poll loop to exit after its current batch and waits for
// them or for ctx. An in-flight long poll is abandoned; updates it would
// have returned are redelivered from the unchanged offset.
func (m *Multiplexer) Stop(ctx context.Context) {
	m.mu.Lock()
	if !m.stopped {
		m.stopped = true
		close(m.quit)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.loops.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.log.Info("polling stopped")
	case <-ctx.Done():
		m.log.Warn("poll loops still running at stop deadline", logx.Err(ctx.Err()))
	}
}

func (m *Multiplexer) stopping() bool {
	select {
	case <-m.quit:
		return true
	default:
		return false
	}
}

func (m *Multiplexer) loop(ctx context.Context, token string) {
	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.quit:
			cancel()
		case <-fetchCtx.Done():
		}
	}()

	backoff := time.Second
	for {
		if ctx.Err() != nil || m.stopping() {
			return
		}
		wait := m.cfg.PassDelay
		res, err := m.pollOnce(ctx, fetchCtx, token)
		switch {
		case err == nil:
			backoff = time.Second
			if res.Fetched > 0 {
				m.log.Debug("batch processed",
					logx.Token(token),
					logx.Int("fetched", res.Fetched),
					logx.Int("dispatched", res.Dispatched),
					logx.Int("duplicates", res.Duplicates),
				)
			}
		case fetchCtx.Err() != nil:
			return
		default:
			m.log.Warn("poll failed", logx.Token(token), logx.Duration("backoff", backoff), logx.Err(err))
			wait = backoff
			backoff = min(backoff*2, m.cfg.MaxErrorBackoff)
		}
		select {
		case <-fetchCtx.Done():
			return
		case <-time.After(wait):
		}
	}
}
