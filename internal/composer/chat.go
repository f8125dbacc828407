package composer

import (
	"context"
	"fmt"
	"strings"

	"anyarchie/internal/llm"
	"anyarchie/internal/storage"
)

// Reply answers free text from an onboarded tenant in the assistant's
// voice. Errors leave the caller to send its default reply.
func (c *Composer) Reply(ctx context.Context, t storage.Tenant, text string) (string, error) {
	return c.complete(ctx, []llm.Message{
		{Role: "system", Content: SystemPrompt(t)},
		{Role: "user", Content: text},
	})
}

// SystemPrompt describes the assistant persona for conversational replies.
func SystemPrompt(t storage.Tenant) string {
	user := orDefault(t.UserName, "there")
	var b strings.Builder
	fmt.Fprintf(&b, `You are %s, a personal assistant and supportive coach for %s.

Your approach:
- Warm, encouraging, and practical - like a supportive friend who helps you get things done
- You proactively help %s break down overwhelming tasks into manageable steps
- When they share something they're working on, offer to help them create a plan or to-do list
- Ask follow-up questions to understand what's blocking them or what they need
- Celebrate small wins and progress
- Keep responses conversational but actionable

`, orDefault(t.AssistantName, "Archie"), user, user)

	if t.Goals != "" || t.Focus != "" {
		fmt.Fprintf(&b, "What you know about %s:\n", user)
		if t.Goals != "" {
			fmt.Fprintf(&b, "- Goals: %s\n", t.Goals)
		}
		if t.Focus != "" {
			fmt.Fprintf(&b, "- Focus: %s\n", t.Focus)
		}
		b.WriteString("\nUse this context to give personalized, relevant suggestions.\n\n")
	}

	b.WriteString(`Available commands (suggest them naturally):
- /add <task> [due:YYYY-MM-DD], /tasks, /done <n>
- /remind <when> <text>
- /mute [minutes], /unmute, /status`)
	return b.String()
}
