package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"anyarchie/internal/metrics"
	kit "anyarchie/internal/transport"
	logx "anyarchie/pkg/logx"
)

const (
	// MaxMessageLength is the Telegram text limit in characters.
	MaxMessageLength = 4096

	DefaultSendTimeout = 15 * time.Second
)

// Truncate shortens text to MaxMessageLength characters, ending with "...".
func Truncate(text string) string {
	r := []rune(text)
	if len(r) <= MaxMessageLength {
		return text
	}
	return string(r[:MaxMessageLength-3]) + "..."
}

var markdownStripper = strings.NewReplacer("*", "", "_", "")

// StripMarkdown removes the emphasis markers Telegram's legacy Markdown
// parser chokes on.
func StripMarkdown(text string) string { return markdownStripper.Replace(text) }

// Sink sends one message and reports whether it was accepted.
type Sink struct {
	sender  kit.Sender
	timeout time.Duration
	log     logx.Logger
}

func NewSink(sender kit.Sender, timeout time.Duration, log logx.Logger) *Sink {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Sink{sender: sender, timeout: timeout, log: log.Component("delivery")}
}

// Deliver sends text with Markdown and falls back to plain text once. Each
// attempt is bounded by the sink timeout. A nil error means the message was
// accepted by the chat service.
func (s *Sink) Deliver(ctx context.Context, to kit.ChatTarget, text string) error {
	text = Truncate(text)

	err := s.send(ctx, to, text, kit.ParseModeMarkdown)
	if err == nil {
		metrics.RecordDelivery("markdown")
		return nil
	}
	if ctx.Err() != nil {
		metrics.RecordDelivery("failed")
		return ctx.Err()
	}
	s.log.Debug("markdown send rejected, retrying plain", logx.Token(to.Token), logx.Err(err))

	if perr := s.send(ctx, to, StripMarkdown(text), kit.ParseModePlain); perr != nil {
		metrics.RecordDelivery("failed")
		return fmt.Errorf("deliver: markdown: %v; plain: %w", err, perr)
	}
	metrics.RecordDelivery("plain")
	return nil
}

func (s *Sink) send(ctx context.Context, to kit.ChatTarget, text, mode string) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.sender.SendText(cctx, to, text, &kit.SendOptions{ParseMode: mode, DisablePreview: true})
}
