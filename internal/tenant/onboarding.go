package tenant

import (
	"fmt"
	"strings"

	"anyarchie/internal/storage"
)

const DefaultAssistantName = "Archie"

const welcomeText = "Hey there! I'm your new personal assistant. " +
	"Let's get you set up - it'll only take a minute.\n\n" +
	"First, what's your name?"

const onboardedText = "Perfect! You're all set up. Here's what I can help you with:\n\n" +
	"**Tasks:**\n" +
	"- `/add Buy groceries` - Add a task\n" +
	"- `/tasks` - See pending tasks\n" +
	"- `/done 1` - Complete task #1\n\n" +
	"**Reminders:**\n" +
	"- `/remind 30m Call mom` - Set a reminder\n\n" +
	"**Check-ins:**\n" +
	"- `/mute` - Pause check-ins for a while\n" +
	"- `/help` - See all commands\n\n" +
	"What can I help you with?"

// onboard applies one answer to t and returns the reply. The returned
// tenant carries the next onboarding state.
func onboard(t storage.Tenant, input string) (storage.Tenant, string) {
	input = strings.TrimSpace(input)
	switch t.OnboardingState {
	case storage.StateNew:
		t.OnboardingState = storage.StateAskedName
		return t, welcomeText

	case storage.StateAskedName:
		t.UserName = input
		t.OnboardingState = storage.StateAskedAssistantName
		return t, fmt.Sprintf("Nice to meet you, %s! "+
			"What would you like to call me? (I default to '%s', but you can pick any name)", input, DefaultAssistantName)

	case storage.StateAskedAssistantName:
		name := input
		if name == "" || strings.EqualFold(name, DefaultAssistantName) {
			name = DefaultAssistantName
		}
		t.AssistantName = name
		t.OnboardingState = storage.StateAskedGoals
		return t, fmt.Sprintf("Love it - I'm %s now! "+
			"What are your main goals right now? "+
			"(Just a sentence or two - I'll remember this to help you stay focused)", name)

	case storage.StateAskedGoals:
		t.Goals = input
		t.OnboardingState = storage.StateAskedFocus
		return t, "Got it! Last question: what's your current focus or priority? " +
			"(What should I help you concentrate on?)"

	case storage.StateAskedFocus:
		t.Focus = input
		t.OnboardingState = storage.StateComplete
		return t, onboardedText
	}
	t.OnboardingState = storage.StateComplete
	return t, "I'm ready to help! Type /help to see what I can do."
}
