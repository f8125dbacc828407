package collectors

import (
	"context"
	"errors"
	"sort"
	"time"

	"anyarchie/internal/credential"
	"anyarchie/internal/heartbeat"
	"anyarchie/internal/storage"
	logx "anyarchie/pkg/logx"
)

// MailService is the credential service name for the mailbox login.
const MailService = "gmail"

type CredentialSource interface {
	Get(tenantID, service string) (credential.Credential, error)
}

// Mail reports important (non-junk) messages received within
// max_age_hours.
type Mail struct {
	box   Mailbox
	creds CredentialSource
	log   logx.Logger
	opt   options
}

func NewMail(box Mailbox, creds CredentialSource, log logx.Logger, opts ...Option) *Mail {
	return &Mail{
		box:   box,
		creds: creds,
		log:   log.With(logx.String("comp", "collector.mail")),
		opt:   buildOptions(opts),
	}
}

func (c *Mail) Kind() heartbeat.Kind { return heartbeat.KindEmails }

func (c *Mail) Check(ctx context.Context, t storage.Tenant, cfg heartbeat.Config) (*heartbeat.SignalResult, error) {
	cred, err := c.creds.Get(t.ID, MailService)
	if errors.Is(err, credential.ErrNotFound) {
		return nil, ErrNoCredential
	}
	if err != nil {
		return nil, err
	}

	hours := cfg.Checks.UrgentEmails.MaxAgeHours
	if hours <= 0 {
		hours = 24
	}
	now := c.opt.now()
	cutoff := now.Add(-time.Duration(hours) * time.Hour)

	envs, err := c.box.Recent(ctx, cred, cutoff)
	if err != nil {
		return nil, err
	}

	kept := envs[:0:0]
	for _, e := range envs {
		if e.Date.IsZero() {
			e.Date = now
		}
		if e.Date.Before(cutoff) || IsJunk(e.SenderEmail, e.Subject) {
			continue
		}
		kept = append(kept, e)
	}
	if len(kept) == 0 {
		return nil, nil
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Date.After(kept[j].Date) })

	res := &heartbeat.SignalResult{Kind: heartbeat.KindEmails}
	for _, e := range kept {
		id := heartbeat.EmailID(e.SenderEmail, e.Date)
		res.AllIDs = append(res.AllIDs, id)
		sender := e.SenderName
		if sender == "" {
			sender = e.SenderEmail
		}
		subject := e.Subject
		if subject == "" {
			subject = "(no subject)"
		}
		res.Messages = append(res.Messages, heartbeat.MessageItem{
			ID:          id,
			Sender:      sender,
			SenderEmail: e.SenderEmail,
			Subject:     clip(subject, 80),
			Snippet:     clip(e.Snippet, snippetRunes),
		})
	}
	c.log.Debug("mail checked",
		logx.String("tenant", t.ID),
		logx.Int("fetched", len(envs)),
		logx.Int("important", len(kept)),
	)
	return res, nil
}
