// Package adapter talks to the Telegram Bot API for many bot tokens at once.
//
// Bots are created offline (no getMe round trip) and polled with raw
// getUpdates calls so that the caller owns the offset; telebot's own
// LongPoller advances the offset per batch before handlers run.
package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	kit "anyarchie/internal/transport"
	logx "anyarchie/pkg/logx"
)

type Config struct {
	// PollTimeout is the server-side long-poll wait.
	PollTimeout time.Duration
	// APIURL overrides https://api.telegram.org.
	APIURL string
	// RatePerSec bounds sends per token.
	RatePerSec int
}

type Pool struct {
	cfg Config
	log logx.Logger

	mu   sync.Mutex
	bots map[string]*entry
}

type entry struct {
	bot *tele.Bot
	lim *rate.Limiter
}

func New(cfg Config, log logx.Logger) *Pool {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 25
	}
	return &Pool{cfg: cfg, log: log.Component("telegram"), bots: map[string]*entry{}}
}

func (p *Pool) get(token string) (*entry, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("telegram: empty bot token")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.bots[token]; ok {
		return e, nil
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   token,
		URL:     p.cfg.APIURL,
		Offline: true,
		// The request must outlive the server-side long poll.
		Client: &http.Client{Timeout: p.cfg.PollTimeout + 10*time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: new bot: %w", err)
	}
	e := &entry{bot: b, lim: rate.NewLimiter(rate.Limit(p.cfg.RatePerSec), p.cfg.RatePerSec)}
	p.bots[token] = e
	p.log.Debug("bot client created", logx.Token(token))
	return e, nil
}

// GetUpdates returns updates with id >= offset, waiting up to timeout
// seconds for the first one.
func (p *Pool) GetUpdates(ctx context.Context, token string, offset int64, timeout int) ([]kit.RawUpdate, error) {
	e, err := p.get(token)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"offset":          offset,
		"timeout":         timeout,
		"allowed_updates": []string{"message"},
	}
	data, err := callRaw(ctx, e.bot, "getUpdates", payload)
	if err != nil {
		return nil, fmt.Errorf("telegram: getUpdates: %w", err)
	}
	var resp struct {
		Result []tele.Update `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("telegram: decode updates: %w", err)
	}
	out := make([]kit.RawUpdate, 0, len(resp.Result))
	for _, u := range resp.Result {
		out = append(out, convertUpdate(u))
	}
	return out, nil
}

// callRaw runs a blocking Bot API call but returns as soon as ctx is done.
// The abandoned request is still bounded by the client timeout.
func callRaw(ctx context.Context, b *tele.Bot, method string, payload any) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := b.Raw(method, payload)
		ch <- result{data, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.data, r.err
	}
}

func convertUpdate(u tele.Update) kit.RawUpdate {
	ru := kit.RawUpdate{ID: int64(u.ID)}
	m := u.Message
	if m == nil || m.Chat == nil {
		return ru
	}
	msg := &kit.Message{
		ID:       m.ID,
		ChatID:   m.Chat.ID,
		Text:     m.Text,
		HasPhoto: m.Photo != nil,
	}
	if m.Sender != nil {
		msg.FromID = m.Sender.ID
		msg.FromUsername = m.Sender.Username
		msg.FromName = strings.TrimSpace(m.Sender.FirstName + " " + m.Sender.LastName)
	}
	ru.Message = msg
	return ru
}

// SendText sends one message through the bot owning to.Token.
func (p *Pool) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) error {
	e, err := p.get(to.Token)
	if err != nil {
		return err
	}
	if err := e.lim.Wait(ctx); err != nil {
		return err
	}
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	sendOpt := &tele.SendOptions{
		ParseMode:             tele.ParseMode(opt.ParseMode),
		DisableWebPagePreview: opt.DisablePreview,
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := e.bot.Send(&tele.Chat{ID: to.ChatID}, text, sendOpt)
		errCh <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("telegram: send: %w", err)
		}
		return nil
	}
}

// AlertSender returns a logx.AlertSender that posts through token.
func (p *Pool) AlertSender(token string) logx.AlertSender {
	return alertSender{pool: p, token: token}
}

type alertSender struct {
	pool  *Pool
	token string
}

func (a alertSender) SendAlert(ctx context.Context, chatID int64, text string) error {
	if a.token == "" || chatID == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return a.pool.SendText(ctx, kit.ChatTarget{Token: a.token, ChatID: chatID}, text, &kit.SendOptions{DisablePreview: true})
}
