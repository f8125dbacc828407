package collectors

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"anyarchie/internal/credential"
)

// Envelope is one inbox message reduced to what the heartbeat needs.
type Envelope struct {
	SenderName  string
	SenderEmail string
	Subject     string
	Date        time.Time
	Snippet     string
}

// Mailbox lists recent inbox messages for a login.
type Mailbox interface {
	Recent(ctx context.Context, cred credential.Credential, since time.Time) ([]Envelope, error)
}

// IMAPMailbox reads INBOX over implicit TLS (port 993).
type IMAPMailbox struct {
	Server     string // host:port
	Timeout    time.Duration
	FetchLimit int
	// TLSConfig overrides the default client TLS settings.
	TLSConfig *tls.Config
}

func (m *IMAPMailbox) dial(ctx context.Context) (*imapclient.Client, error) {
	addr := m.Server
	if addr == "" {
		addr = "imap.gmail.com:993"
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "993")
	}
	host, _, _ := net.SplitHostPort(addr)

	timeout := m.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	cfg := m.TLSConfig
	if cfg == nil {
		cfg = &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
	}
	d := &tls.Dialer{NetDialer: &net.Dialer{Timeout: timeout}, Config: cfg}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}
	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)
	return imapclient.New(conn, nil), nil
}

func (m *IMAPMailbox) Recent(ctx context.Context, cred credential.Credential, since time.Time) ([]Envelope, error) {
	client, err := m.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	if err := client.Login(cred.Username, cred.Password).Wait(); err != nil {
		return nil, &AuthError{
			Source:  "mail",
			Message: fmt.Sprintf("login failed for %s: %v", cred.Username, err),
		}
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return nil, fmt.Errorf("selecting INBOX: %w", err)
	}

	// SEARCH SINCE is date-only; exact cutoff is applied by the caller.
	searchData, err := client.UIDSearch(&imap.SearchCriteria{Since: since}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	limit := m.FetchLimit
	if limit <= 0 {
		limit = 50
	}
	if len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}

	body := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{body},
	})
	defer fetchCmd.Close()

	var out []Envelope
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			continue
		}
		env := envelopeFromBuffer(buf)
		env.Snippet = Snippet(buf.FindBodySection(body))
		out = append(out, env)
	}
	if err := fetchCmd.Close(); err != nil {
		return out, fmt.Errorf("fetching messages: %w", err)
	}
	return out, nil
}

func envelopeFromBuffer(buf *imapclient.FetchMessageBuffer) Envelope {
	var env Envelope
	if buf.Envelope == nil {
		return env
	}
	env.Subject = buf.Envelope.Subject
	env.Date = buf.Envelope.Date
	if len(buf.Envelope.From) > 0 {
		from := buf.Envelope.From[0]
		env.SenderName = from.Name
		env.SenderEmail = from.Addr()
	}
	return env
}

// snippetRunes is the preview length kept for composition.
const snippetRunes = 100

// Snippet returns the first text/plain part of a raw RFC 5322 message with
// whitespace collapsed, cut to 100 runes.
func Snippet(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return ""
	}
	defer mr.Close()

	var text string
	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		if ct != "" && !strings.HasPrefix(ct, "text/plain") {
			continue
		}
		b, err := io.ReadAll(io.LimitReader(part.Body, 8<<10))
		if err != nil {
			continue
		}
		text = string(b)
		break
	}
	return clip(strings.Join(strings.Fields(text), " "), snippetRunes)
}
