package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"anyarchie/internal/eventbus"
	"anyarchie/internal/ingest"
	"anyarchie/internal/notifier"
	"anyarchie/internal/storage"
	kit "anyarchie/internal/transport"
	logx "anyarchie/pkg/logx"
)

// Reply texts shown to senders that do not fit the token they wrote to.
const (
	msgHubExisting   = "You already have an assistant! Message your personal bot to continue."
	msgHubCapacity   = "Sorry, we're at capacity right now. Please try again later!"
	msgHubAssigned   = "I've set up your personal assistant! Check your messages from your new bot."
	msgOtherBot      = "You already have an assistant on a different bot!"
	msgNotOwner      = "This bot is assigned to someone else. Please contact support."
	msgPhoto         = "📸 Photo received! Business card scanning coming soon."
	msgUnknownCmd    = "Unknown command. Type /help to see available commands."
	msgFallbackReply = "I'm not sure how to help with that yet. Type /help to see what I can do."
)

// Replier queues outbound replies.
type Replier interface {
	Notify(ctx context.Context, n notifier.Notification) error
}

// Muter pauses and resumes proactive check-ins. A zero duration means the
// configured default.
type Muter interface {
	Mute(ctx context.Context, tenantID string, d time.Duration) (time.Time, error)
	Unmute(ctx context.Context, tenantID string) error
}

// Fallback answers free text from an onboarded tenant.
type Fallback interface {
	Reply(ctx context.Context, t storage.Tenant, text string) (string, error)
}

type FallbackFunc func(ctx context.Context, t storage.Tenant, text string) (string, error)

func (f FallbackFunc) Reply(ctx context.Context, t storage.Tenant, text string) (string, error) {
	return f(ctx, t, text)
}

type RouterOption func(*Router)

func WithFallback(f Fallback) RouterOption { return func(r *Router) { r.fallback = f } }

func WithLocation(loc *time.Location) RouterOption {
	return func(r *Router) {
		if loc != nil {
			r.loc = loc
		}
	}
}

func WithClock(now func() time.Time) RouterOption { return func(r *Router) { r.now = now } }

func WithBus(b eventbus.Bus) RouterOption { return func(r *Router) { r.bus = b } }

// OnProvision is called with the token of every tenant created through the
// hub, so the caller can start polling it.
func OnProvision(fn func(token string)) RouterOption {
	return func(r *Router) { r.onProvision = fn }
}

// Router implements ingest.Handler for hub and personal channels.
type Router struct {
	res      *Resolver
	store    Store
	out      Replier
	mute     Muter
	fallback Fallback
	bus      eventbus.Bus
	log      logx.Logger
	loc      *time.Location
	now      func() time.Time

	onProvision func(token string)

	commands []Command
	index    map[string]Command
}

func NewRouter(res *Resolver, store Store, out Replier, mute Muter, log logx.Logger, opts ...RouterOption) *Router {
	r := &Router{
		res:   res,
		store: store,
		out:   out,
		mute:  mute,
		bus:   eventbus.Nop(),
		log:   log.Component("router"),
		loc:   time.Local,
		now:   time.Now,
		index: map[string]Command{},
	}
	for _, o := range opts {
		o(r)
	}
	if r.fallback == nil {
		r.fallback = FallbackFunc(func(context.Context, storage.Tenant, string) (string, error) {
			return msgFallbackReply, nil
		})
	}
	for _, c := range r.builtinCommands() {
		r.Register(c)
	}
	return r
}

// Register adds or replaces a command. Names are matched case-insensitively.
func (r *Router) Register(c Command) {
	name := strings.ToLower(c.Name)
	if name == "" || c.Handle == nil {
		return
	}
	replaced := false
	for i := range r.commands {
		if strings.ToLower(r.commands[i].Name) == name {
			r.commands[i] = c
			replaced = true
		}
	}
	if !replaced {
		r.commands = append(r.commands, c)
	}
	r.index[name] = c
	for _, a := range c.Aliases {
		r.index[strings.ToLower(a)] = c
	}
}

func (r *Router) HandleUpdate(ctx context.Context, ch ingest.Channel, u kit.RawUpdate) error {
	m := u.Message
	if m == nil {
		return nil
	}
	if ch.Kind == ingest.KindHub {
		return r.handleHub(ctx, ch.Token, m)
	}
	return r.handlePersonal(ctx, ch.Token, m)
}

func (r *Router) reply(ctx context.Context, token string, chatID int64, channel, text string) error {
	return r.out.Notify(ctx, notifier.Notification{
		Channel: channel,
		Target:  kit.ChatTarget{Token: token, ChatID: chatID},
		Text:    text,
		NoDedup: true,
	})
}

func (r *Router) handleHub(ctx context.Context, hubToken string, m *kit.Message) error {
	t, err := r.res.AssignFromPool(ctx, m.FromID)
	switch {
	case errors.Is(err, ErrOtherBot):
		return r.reply(ctx, hubToken, m.ChatID, "hub", msgHubExisting)
	case errors.Is(err, ErrTokenPoolExhausted):
		r.log.Warn("token pool exhausted", logx.Int64("telegram_id", m.FromID))
		return r.reply(ctx, hubToken, m.ChatID, "hub", msgHubCapacity)
	case err != nil:
		return err
	}

	if r.onProvision != nil {
		r.onProvision(t.BotToken)
	}
	r.bus.Publish(eventbus.Event{Type: eventbus.TypeTenantProvisioned, Data: t.ID})

	if err := r.startOnboarding(ctx, t, m.ChatID); err != nil {
		return err
	}
	return r.reply(ctx, hubToken, m.ChatID, "hub", msgHubAssigned)
}

// startOnboarding resets t to the first question and sends the welcome from
// the tenant's own bot.
func (r *Router) startOnboarding(ctx context.Context, t storage.Tenant, chatID int64) error {
	t.OnboardingState = storage.StateNew
	t, text := onboard(t, "")
	if err := r.res.Save(ctx, t); err != nil {
		return fmt.Errorf("saving onboarding state: %w", err)
	}
	return r.reply(ctx, t.BotToken, chatID, "", text)
}

func (r *Router) handlePersonal(ctx context.Context, token string, m *kit.Message) error {
	if m.HasPhoto {
		t, err := r.res.Lookup(ctx, token)
		if err == nil && t.TelegramID == m.FromID {
			return r.reply(ctx, token, m.ChatID, "", msgPhoto)
		}
		return nil
	}

	text := strings.TrimSpace(m.Text)
	if text == "" {
		return nil
	}

	t, created, err := r.res.Resolve(ctx, token, m.FromID)
	switch {
	case errors.Is(err, ErrOtherBot):
		return r.reply(ctx, token, m.ChatID, "", msgOtherBot)
	case errors.Is(err, ErrNotOwner):
		return r.reply(ctx, token, m.ChatID, "", msgNotOwner)
	case err != nil:
		return err
	}
	if created {
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeTenantProvisioned, Data: t.ID})
	}

	cmd, args := splitCommand(text)
	if created || cmd == "start" {
		return r.startOnboarding(ctx, t, m.ChatID)
	}

	if !t.Active() {
		next, reply := onboard(t, text)
		if err := r.res.Save(ctx, next); err != nil {
			return fmt.Errorf("saving onboarding state: %w", err)
		}
		if next.Active() {
			r.log.Info("onboarding complete", logx.String("tenant", t.ID))
		}
		return r.reply(ctx, token, m.ChatID, "", reply)
	}

	var reply string
	switch {
	case cmd == "help":
		reply = r.helpText(t)
	case cmd != "":
		c, ok := r.index[cmd]
		if !ok {
			reply = msgUnknownCmd
			break
		}
		reply, err = c.Handle(ctx, &Request{Tenant: t, Args: args, Now: r.now()})
		if err != nil {
			return fmt.Errorf("/%s: %w", cmd, err)
		}
	default:
		reply, err = r.fallback.Reply(ctx, t, text)
		if err != nil {
			r.log.Warn("fallback reply failed", logx.String("tenant", t.ID), logx.Err(err))
			reply = msgFallbackReply
		}
	}
	if reply == "" {
		return nil
	}
	return r.reply(ctx, token, m.ChatID, "", reply)
}

// splitCommand returns the lowercased command name without slash or bot
// suffix ("/Add@my_bot x" -> "add", "x"). Plain text returns "", text.
func splitCommand(text string) (string, string) {
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	head, rest, _ := strings.Cut(text, " ")
	head = strings.TrimPrefix(head, "/")
	if at := strings.IndexByte(head, '@'); at >= 0 {
		head = head[:at]
	}
	return strings.ToLower(head), strings.TrimSpace(rest)
}
