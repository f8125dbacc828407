package composer

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anyarchie/internal/breaker"
	"anyarchie/internal/heartbeat"
	"anyarchie/internal/llm"
	"anyarchie/internal/storage"
	logx "anyarchie/pkg/logx"
)

type fakeLLM struct {
	text  string
	err   error
	calls atomic.Int32
	last  []llm.Message
}

func (f *fakeLLM) Complete(_ context.Context, msgs []llm.Message, _ int) (string, error) {
	f.calls.Add(1)
	f.last = msgs
	return f.text, f.err
}

var tenant = storage.Tenant{ID: "t1", UserName: "Sam", AssistantName: "Jarvis", Goals: "ship v2"}

func sampleDelta() heartbeat.Delta {
	return heartbeat.Delta{
		Messages: []heartbeat.MessageItem{{Sender: "Alex", Subject: "Contract?"}},
		Tasks:    []heartbeat.TaskItem{{Text: "Call dentist"}},
		Calendar: []heartbeat.CalendarItem{
			{Summary: "Standup", MinutesUntil: 10, IsImminent: true},
			{Summary: "Review", MinutesUntil: 45},
		},
		NewEmailCount:  1,
		NewTaskCount:   1,
		ImminentEvents: 1,
	}
}

func TestBuildPrompt(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 14, 5, 0, 0, time.UTC)
	p := BuildPrompt(tenant, sampleDelta(), now)

	for _, want := range []string{
		"You are Jarvis, Sam's personal assistant.",
		"TIME: afternoon (14:05)",
		"NEW EMAILS (1 total):\n- From Alex: \"Contract?\"",
		"OVERDUE TASKS:\n- Call dentist",
		"UPCOMING EVENTS:\n- Standup in 10 minutes\n- Review in 45 minutes",
		"Keep it SHORT (2-4 sentences max)",
		"Write the message now:",
	} {
		assert.Contains(t, p, want)
	}

	p = BuildPrompt(storage.Tenant{}, heartbeat.Delta{Tasks: []heartbeat.TaskItem{{Text: "x"}}}, now.Add(-6*time.Hour))
	assert.Contains(t, p, "You are Archie, there's personal assistant.")
	assert.Contains(t, p, "TIME: morning (08:05)")
	assert.NotContains(t, p, "NEW EMAILS")
}

func TestBuildPromptListsFiveMessages(t *testing.T) {
	t.Parallel()

	var d heartbeat.Delta
	for i := 0; i < 7; i++ {
		d.Messages = append(d.Messages, heartbeat.MessageItem{Sender: "s", Subject: "x"})
	}
	p := BuildPrompt(tenant, d, time.Date(2026, 1, 1, 19, 0, 0, 0, time.UTC))
	assert.Contains(t, p, "NEW EMAILS (7 total):")
	assert.Equal(t, 5, strings.Count(p, "- From s:"))
	assert.Contains(t, p, "TIME: evening")
}

func TestFallback(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "📅 Standup starting in 10 min!\n📧 1 new email(s)\n📋 1 overdue task(s)", Fallback(sampleDelta()))
	assert.Equal(t, Placeholder, Fallback(heartbeat.Delta{}))

	capped := heartbeat.Delta{Tasks: make([]heartbeat.TaskItem, heartbeat.MaxDeltaItems), NewTaskCount: 14}
	assert.Equal(t, "📋 14 overdue task(s)", Fallback(capped))
}

func TestFallbackNeverPlaceholderWhenAdmitted(t *testing.T) {
	t.Parallel()

	deltas := []heartbeat.Delta{
		{Calendar: []heartbeat.CalendarItem{{Summary: "x", IsImminent: true}}, ImminentEvents: 1},
		{Tasks: []heartbeat.TaskItem{{Text: "x"}}, NewTaskCount: 1},
		{Messages: []heartbeat.MessageItem{{Subject: "urgent"}}, NewEmailCount: 1},
		{Messages: make([]heartbeat.MessageItem, 3), NewEmailCount: 3},
	}
	for _, d := range deltas {
		require.True(t, heartbeat.Admit(d))
		assert.NotEqual(t, Placeholder, Fallback(d))
	}
}

func TestComposeUsesLLM(t *testing.T) {
	t.Parallel()

	f := &fakeLLM{text: "  Hey Sam, standup in 10.  "}
	c := New(f, nil, logx.Nop())
	text, fb := c.Compose(context.Background(), tenant, sampleDelta(), time.Now())
	assert.False(t, fb)
	assert.Equal(t, "Hey Sam, standup in 10.", text)
	require.Len(t, f.last, 1)
	assert.Equal(t, "user", f.last[0].Role)
}

func TestComposeFallsBack(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		llm  Completer
	}{
		{"no client", nil},
		{"error", &fakeLLM{err: errors.New("502")}},
		{"empty", &fakeLLM{text: "   "}},
		{"no key", &fakeLLM{err: llm.ErrNoAPIKey}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			text, fb := New(tt.llm, nil, logx.Nop()).Compose(context.Background(), tenant, sampleDelta(), time.Now())
			if !fb || text != Fallback(sampleDelta()) {
				t.Fatalf("Compose = %q, %v; want template", text, fb)
			}
		})
	}
}

func TestComposeBreakerSkipsLLM(t *testing.T) {
	t.Parallel()

	f := &fakeLLM{err: errors.New("down")}
	c := New(f, breaker.New(breaker.Config{TripFailures: 2, BaseDelay: time.Hour}), logx.Nop())
	for i := 0; i < 4; i++ {
		_, fb := c.Compose(context.Background(), tenant, sampleDelta(), time.Now())
		assert.True(t, fb)
	}
	assert.EqualValues(t, 2, f.calls.Load())
}

func TestReply(t *testing.T) {
	t.Parallel()

	f := &fakeLLM{text: "Sure!"}
	out, err := New(f, nil, logx.Nop()).Reply(context.Background(), tenant, "help me plan")
	require.NoError(t, err)
	assert.Equal(t, "Sure!", out)
	require.Len(t, f.last, 2)
	assert.Equal(t, "system", f.last[0].Role)
	assert.Contains(t, f.last[0].Content, "You are Jarvis, a personal assistant and supportive coach for Sam.")
	assert.Contains(t, f.last[0].Content, "- Goals: ship v2")
	assert.Equal(t, llm.Message{Role: "user", Content: "help me plan"}, f.last[1])

	_, err = New(nil, nil, logx.Nop()).Reply(context.Background(), tenant, "hi")
	assert.ErrorIs(t, err, llm.ErrNoAPIKey)
}
