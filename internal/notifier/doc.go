// Package notifier delivers outbound chat messages.
//
// Sink.Deliver is the synchronous path used when the caller must know
// whether the message reached the user (heartbeat check-ins, reminders). It
// truncates to the Telegram message limit, sends with Markdown and retries
// once as plain text when the formatted send is rejected.
//
// Service is the asynchronous outbox used for conversational replies. It
// queues notifications for a small worker pool with a shared rate limit,
// jittered retries and a short dedup window, and reports results on the
// event bus.
package notifier
