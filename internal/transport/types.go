// Package transport defines the channel-neutral update and send types shared
// by the multiplexer, the router and the delivery sink.
package transport

import "context"

const (
	ParseModeMarkdown = "Markdown"
	ParseModePlain    = ""
)

// RawUpdate is one inbound update. Message is nil for update kinds the
// engine does not handle (edits, callbacks, member changes).
type RawUpdate struct {
	ID      int64
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	FromName     string
	Text         string
	HasPhoto     bool
}

// ChatTarget addresses a chat through a specific bot token.
type ChatTarget struct {
	Token  string
	ChatID int64
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Source fetches updates for one bot token.
type Source interface {
	GetUpdates(ctx context.Context, token string, offset int64, timeout int) ([]RawUpdate, error)
}

// Sender sends a text message.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error
}
