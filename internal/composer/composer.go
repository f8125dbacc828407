// Package composer turns a heartbeat delta into a short check-in message,
// written by the LLM when it is reachable and by a fixed template otherwise.
package composer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"anyarchie/internal/breaker"
	"anyarchie/internal/heartbeat"
	"anyarchie/internal/llm"
	"anyarchie/internal/metrics"
	"anyarchie/internal/storage"
	logx "anyarchie/pkg/logx"
)

// Placeholder is the template text for an empty delta. Admitted deltas
// always produce at least one template line, so it is never delivered.
const Placeholder = "Quick check-in - nothing urgent right now."

// breakerKey groups every LLM call under one circuit.
const breakerKey = "llm"

// Completer is the chat completion call the composer needs.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message, maxTokens int) (string, error)
}

type Composer struct {
	llm       Completer
	br        *breaker.Set
	maxTokens int
	timeout   time.Duration
	log       logx.Logger
}

type Option func(*Composer)

// WithTimeout bounds one LLM call. Default 30s.
func WithTimeout(d time.Duration) Option {
	return func(c *Composer) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxTokens sets the completion budget. Default 200.
func WithMaxTokens(n int) Option {
	return func(c *Composer) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// New returns a Composer. A nil completer always uses the template; a nil
// breaker never suspends the LLM.
func New(completer Completer, br *breaker.Set, log logx.Logger, opts ...Option) *Composer {
	c := &Composer{
		llm:       completer,
		br:        br,
		maxTokens: llm.DefaultMaxTokens,
		timeout:   30 * time.Second,
		log:       log.Component("composer"),
	}
	for _, o := range opts {
		if o != nil {
			o(c)
		}
	}
	return c
}

// Compose writes the check-in for d. usedFallback reports that the template
// was used.
func (c *Composer) Compose(ctx context.Context, t storage.Tenant, d heartbeat.Delta, now time.Time) (string, bool) {
	text, err := c.complete(ctx, []llm.Message{{Role: "user", Content: BuildPrompt(t, d, now)}})
	if err == nil {
		return text, false
	}
	metrics.RecordComposerFallback()
	c.log.Warn("composing with template", logx.String("tenant", t.ID), logx.Err(err))
	return Fallback(d), true
}

// complete runs one guarded LLM call and returns trimmed, non-empty text.
func (c *Composer) complete(ctx context.Context, msgs []llm.Message) (string, error) {
	if c.llm == nil {
		return "", llm.ErrNoAPIKey
	}
	if c.br != nil {
		if ok, until := c.br.Allow(breakerKey); !ok {
			return "", fmt.Errorf("llm suspended until %s", until.Format(time.RFC3339))
		}
	}

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	text, err := c.llm.Complete(cctx, msgs, c.maxTokens)
	text = strings.TrimSpace(text)
	if err == nil && text == "" {
		err = errors.New("llm returned empty text")
	}
	if c.br != nil && !errors.Is(err, llm.ErrNoAPIKey) {
		c.br.Record(breakerKey, err)
	}
	return text, err
}

func timeOfDay(hour int) string {
	switch {
	case hour < 12:
		return "morning"
	case hour < 17:
		return "afternoon"
	default:
		return "evening"
	}
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// BuildPrompt renders the check-in prompt for d. now should be in the
// tenant's local time.
func BuildPrompt(t storage.Tenant, d heartbeat.Delta, now time.Time) string {
	var parts []string

	if len(d.Messages) > 0 {
		var b strings.Builder
		fmt.Fprintf(&b, "NEW EMAILS (%d total):", max(d.NewEmailCount, len(d.Messages)))
		for i, m := range d.Messages {
			if i == 5 {
				break
			}
			fmt.Fprintf(&b, "\n- From %s: \"%s\"", orDefault(m.Sender, "unknown"), orDefault(m.Subject, "no subject"))
		}
		parts = append(parts, b.String())
	}
	if len(d.Tasks) > 0 {
		var b strings.Builder
		b.WriteString("OVERDUE TASKS:")
		for i, task := range d.Tasks {
			if i == 5 {
				break
			}
			b.WriteString("\n- " + task.Text)
		}
		parts = append(parts, b.String())
	}
	if len(d.Calendar) > 0 {
		var b strings.Builder
		b.WriteString("UPCOMING EVENTS:")
		for _, e := range d.Calendar {
			fmt.Fprintf(&b, "\n- %s in %d minutes", orDefault(e.Summary, "Event"), e.MinutesUntil)
		}
		parts = append(parts, b.String())
	}

	assistant := orDefault(t.AssistantName, "Archie")
	user := orDefault(t.UserName, "there")

	return fmt.Sprintf(`You are %s, %s's personal assistant. Write a brief, natural check-in message for Telegram.

TIME: %s (%s)

WHAT'S NEW SINCE LAST CHECK:
%s

GUIDELINES:
- Be conversational and natural, like a helpful friend
- Keep it SHORT (2-4 sentences max)
- Prioritize what's most actionable or time-sensitive
- Don't use bullet points or formal formatting
- Don't say "heartbeat" or sound robotic
- If something needs action, offer to help
- Vary your tone - don't start every message the same way

Write the message now:`, assistant, user, timeOfDay(now.Hour()), now.Format("15:04"), strings.Join(parts, "\n\n"))
}

// Fallback is the template check-in: one line per imminent event, then
// counts of new messages and overdue tasks.
func Fallback(d heartbeat.Delta) string {
	var lines []string
	for _, e := range d.Calendar {
		if e.IsImminent {
			lines = append(lines, fmt.Sprintf("📅 %s starting in %d min!", e.Summary, e.MinutesUntil))
		}
	}
	if n := max(d.NewEmailCount, len(d.Messages)); n > 0 {
		lines = append(lines, fmt.Sprintf("📧 %d new email(s)", n))
	}
	if n := max(d.NewTaskCount, len(d.Tasks)); n > 0 {
		lines = append(lines, fmt.Sprintf("📋 %d overdue task(s)", n))
	}
	if len(lines) == 0 {
		return Placeholder
	}
	return strings.Join(lines, "\n")
}
