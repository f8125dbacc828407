package tenant

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anyarchie/internal/ingest"
	"anyarchie/internal/notifier"
	"anyarchie/internal/storage"
	"anyarchie/internal/storage/storagetest"
	kit "anyarchie/internal/transport"
	logx "anyarchie/pkg/logx"
)

type outbox struct {
	mu   sync.Mutex
	sent []notifier.Notification
}

func (o *outbox) Notify(_ context.Context, n notifier.Notification) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, n)
	return nil
}

func (o *outbox) last(t *testing.T) notifier.Notification {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.sent)
	return o.sent[len(o.sent)-1]
}

func (o *outbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sent)
}

type muter struct {
	store *storage.Store
	now   time.Time
}

func (m *muter) Mute(ctx context.Context, tenantID string, d time.Duration) (time.Time, error) {
	if d == 0 {
		d = 120 * time.Minute
	}
	until := m.now.Add(d)
	return until, m.store.SetMutedUntil(ctx, tenantID, &until)
}

func (m *muter) Unmute(ctx context.Context, tenantID string) error {
	return m.store.SetMutedUntil(ctx, tenantID, nil)
}

var testNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

type harness struct {
	store  *storage.Store
	res    *Resolver
	out    *outbox
	router *Router
	added  []string
}

func newHarness(t *testing.T, pool ...string) *harness {
	t.Helper()
	h := &harness{store: storagetest.NewTestStore(t), out: &outbox{}}
	h.res = NewResolver(h.store, pool, logx.Nop())
	h.router = NewRouter(h.res, h.store, h.out, &muter{store: h.store, now: testNow}, logx.Nop(),
		WithLocation(time.UTC),
		WithClock(func() time.Time { return testNow }),
		OnProvision(func(token string) { h.added = append(h.added, token) }),
	)
	return h
}

var updateID int64

func (h *harness) send(t *testing.T, kind ingest.Kind, token string, from int64, text string) notifier.Notification {
	t.Helper()
	updateID++
	err := h.router.HandleUpdate(context.Background(), ingest.Channel{Token: token, Kind: kind}, kit.RawUpdate{
		ID:      updateID,
		Message: &kit.Message{ChatID: from, FromID: from, Text: text},
	})
	require.NoError(t, err)
	return h.out.last(t)
}

func (h *harness) personal(t *testing.T, token string, from int64, text string) string {
	t.Helper()
	return h.send(t, ingest.KindPersonal, token, from, text).Text
}

func (h *harness) onboard(t *testing.T, token string, from int64) storage.Tenant {
	t.Helper()
	h.personal(t, token, from, "hi")
	h.personal(t, token, from, "Sam")
	h.personal(t, token, from, "Jarvis")
	h.personal(t, token, from, "Ship the launch")
	h.personal(t, token, from, "Marketing")
	tn, err := h.store.TenantByToken(context.Background(), token)
	require.NoError(t, err)
	return tn
}

func TestDirectModeProvisionsAndOnboards(t *testing.T) {
	h := newHarness(t)

	reply := h.personal(t, "1:a", 42, "hello")
	assert.Equal(t, welcomeText, reply)
	tn, err := h.store.TenantByToken(context.Background(), "1:a")
	require.NoError(t, err)
	assert.Equal(t, storage.StateAskedName, tn.OnboardingState)

	assert.Contains(t, h.personal(t, "1:a", 42, "Sam"), "Nice to meet you, Sam!")
	assert.Contains(t, h.personal(t, "1:a", 42, "archie"), "I'm Archie now!")
	assert.Contains(t, h.personal(t, "1:a", 42, "Ship the launch"), "Last question")
	assert.Equal(t, onboardedText, h.personal(t, "1:a", 42, "Marketing"))

	tn, err = h.store.TenantByToken(context.Background(), "1:a")
	require.NoError(t, err)
	assert.True(t, tn.Active())
	assert.Equal(t, "Sam", tn.UserName)
	assert.Equal(t, DefaultAssistantName, tn.AssistantName)
	assert.Equal(t, "Ship the launch", tn.Goals)
	assert.Equal(t, "Marketing", tn.Focus)
}

func TestCustomAssistantName(t *testing.T) {
	h := newHarness(t)
	tn := h.onboard(t, "1:a", 42)
	assert.Equal(t, "Jarvis", tn.AssistantName)
	assert.Contains(t, h.personal(t, "1:a", 42, "/help"), "**Jarvis Commands:**")
}

func TestStartResetsOnboarding(t *testing.T) {
	h := newHarness(t)
	h.onboard(t, "1:a", 42)

	assert.Equal(t, welcomeText, h.personal(t, "1:a", 42, "/start"))
	tn, err := h.store.TenantByToken(context.Background(), "1:a")
	require.NoError(t, err)
	assert.Equal(t, storage.StateAskedName, tn.OnboardingState)
}

func TestOwnershipChecks(t *testing.T) {
	h := newHarness(t)
	h.onboard(t, "1:a", 42)

	assert.Equal(t, msgNotOwner, h.personal(t, "1:a", 99, "hi"))
	assert.Equal(t, msgNotOwner, h.personal(t, "1:a", 99, "/start"))
	assert.Equal(t, msgOtherBot, h.personal(t, "2:b", 42, "hi"))

	_, err := h.store.TenantByToken(context.Background(), "2:b")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPhotoFromOwner(t *testing.T) {
	h := newHarness(t)
	h.onboard(t, "1:a", 42)
	before := h.out.count()

	require.NoError(t, h.router.HandleUpdate(context.Background(), ingest.Channel{Token: "1:a", Kind: ingest.KindPersonal},
		kit.RawUpdate{ID: 900, Message: &kit.Message{ChatID: 42, FromID: 42, HasPhoto: true}}))
	assert.Equal(t, msgPhoto, h.out.last(t).Text)

	require.NoError(t, h.router.HandleUpdate(context.Background(), ingest.Channel{Token: "1:a", Kind: ingest.KindPersonal},
		kit.RawUpdate{ID: 901, Message: &kit.Message{ChatID: 7, FromID: 7, HasPhoto: true}}))
	assert.Equal(t, before+1, h.out.count())
}

func TestHubAssignsFromPool(t *testing.T) {
	h := newHarness(t, "1:a", "2:b")

	hubReply := h.send(t, ingest.KindHub, "hub", 42, "/start")
	assert.Equal(t, msgHubAssigned, hubReply.Text)
	assert.Equal(t, "hub", hubReply.Target.Token)
	assert.Equal(t, []string{"1:a"}, h.added)

	h.out.mu.Lock()
	welcome := h.out.sent[len(h.out.sent)-2]
	h.out.mu.Unlock()
	assert.Equal(t, "1:a", welcome.Target.Token)
	assert.Equal(t, welcomeText, welcome.Text)

	assert.Equal(t, msgHubExisting, h.send(t, ingest.KindHub, "hub", 42, "hello").Text)
	assert.Equal(t, msgHubAssigned, h.send(t, ingest.KindHub, "hub", 43, "hi").Text)
	assert.Equal(t, msgHubCapacity, h.send(t, ingest.KindHub, "hub", 44, "hi").Text)
	assert.Equal(t, []string{"1:a", "2:b"}, h.added)
}

func TestTaskCommands(t *testing.T) {
	h := newHarness(t)
	h.onboard(t, "1:a", 42)

	assert.Equal(t, "No pending tasks! Use `/add <task>` to add one.", h.personal(t, "1:a", 42, "/tasks"))
	assert.Equal(t, "Added: Call dentist (due: 2026-03-01)", h.personal(t, "1:a", 42, "/add Call dentist due:2026-03-01"))
	time.Sleep(2 * time.Millisecond) // tasks are listed by creation time
	assert.Equal(t, "Added: Buy milk", h.personal(t, "1:a", 42, "/add Buy milk"))

	list := h.personal(t, "1:a", 42, "/tasks")
	assert.Contains(t, list, "1. Call dentist (due: 2026-03-01)")
	assert.Contains(t, list, "2. Buy milk")

	assert.Equal(t, "Invalid task number. You have 2 pending tasks.", h.personal(t, "1:a", 42, "/done 5"))
	assert.Equal(t, "Completed: Call dentist", h.personal(t, "1:a", 42, "/done 1"))
	assert.NotContains(t, h.personal(t, "1:a", 42, "/today"), "Call dentist")
	assert.Equal(t, "Due dates look like `due:2026-01-31`.", h.personal(t, "1:a", 42, "/add x due:tomorrow"))
}

func TestMuteAndStatus(t *testing.T) {
	h := newHarness(t)
	tn := h.onboard(t, "1:a", 42)

	assert.Equal(t, "Got it, I'll stay quiet until 11:30.", h.personal(t, "1:a", 42, "/mute"))
	assert.Equal(t, "Got it, I'll stay quiet until 10:00.", h.personal(t, "1:a", 42, "/mute 30"))
	assert.Contains(t, h.personal(t, "1:a", 42, "/status"), "Check-ins: muted until 10:00")

	st, err := h.store.GetState(context.Background(), tn.ID)
	require.NoError(t, err)
	require.NotNil(t, st.MutedUntil)

	assert.Equal(t, "Check-ins are back on.", h.personal(t, "1:a", 42, "/unmute"))
	status := h.personal(t, "1:a", 42, "/status")
	assert.Contains(t, status, "Check-ins: on")
	assert.Contains(t, status, "Last check: never")
}

func TestRemindCommand(t *testing.T) {
	h := newHarness(t)
	h.onboard(t, "1:a", 42)

	assert.Equal(t, "I'll remind you at Mar 10 10:00: Stretch", h.personal(t, "1:a", 42, "/remind 30m Stretch"))
	assert.Equal(t, "I'll remind you at Mar 11 08:00: Standup", h.personal(t, "1:a", 42, "/remind 08:00 Standup"))
	assert.True(t, strings.HasPrefix(h.personal(t, "1:a", 42, "/remind soon"), "Couldn't parse"))

	due, err := h.store.DueReminders(context.Background(), testNow.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "Stretch", due[0].Message)
}

func TestEventCommands(t *testing.T) {
	h := newHarness(t)
	tn := h.onboard(t, "1:a", 42)

	assert.Equal(t, "Added event: Dentist on Mar 10 14:30", h.personal(t, "1:a", 42, "/event 14:30 Dentist @ Main St"))
	assert.Equal(t, "Added event: Standup on Mar 10 09:40", h.personal(t, "1:a", 42, "/event 10m Standup"))
	assert.Equal(t, "Added event: Review on Mar 12 09:00", h.personal(t, "1:a", 42, "/event 2026-03-12 09:00 Review"))
	assert.Equal(t, "That time has already passed.", h.personal(t, "1:a", 42, "/event 2026-03-09 09:00 Old"))
	assert.True(t, strings.HasPrefix(h.personal(t, "1:a", 42, "/event tomorrow"), "Couldn't parse"))

	events, err := h.store.EventsBetween(context.Background(), tn.ID, testNow, testNow.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "Standup", events[0].Summary)
	assert.Equal(t, "Main St", events[1].Location)

	list := h.personal(t, "1:a", 42, "/events")
	assert.Contains(t, list, "**Upcoming Events:**")
	assert.Contains(t, list, "- Tue Mar 10 14:30 Dentist (Main St)")
	assert.Contains(t, list, "- Thu Mar 12 09:00 Review")
}

func TestRegisterReplacesCaseInsensitively(t *testing.T) {
	h := newHarness(t)
	tn := h.onboard(t, "1:a", 42)
	before := len(h.router.commands)

	h.router.Register(Command{Name: "Add", Usage: "/add <thing>", Description: "Custom add",
		Handle: func(context.Context, *Request) (string, error) { return "custom", nil }})
	assert.Len(t, h.router.commands, before)
	assert.Equal(t, "custom", h.personal(t, "1:a", 42, "/add milk"))
	assert.Equal(t, 1, strings.Count(h.router.helpText(tn), "/add"))
}

func TestRepeatedCommandRepliesSkipDedup(t *testing.T) {
	h := newHarness(t)
	h.onboard(t, "1:a", 42)

	before := h.out.count()
	h.personal(t, "1:a", 42, "/tasks")
	n := h.send(t, ingest.KindPersonal, "1:a", 42, "/tasks")
	assert.Equal(t, before+2, h.out.count())
	assert.True(t, n.NoDedup)
}

func TestUnknownCommandAndFallback(t *testing.T) {
	h := newHarness(t)
	h.onboard(t, "1:a", 42)

	assert.Equal(t, msgUnknownCmd, h.personal(t, "1:a", 42, "/nope"))
	assert.Equal(t, msgFallbackReply, h.personal(t, "1:a", 42, "what's up"))

	h.router.fallback = FallbackFunc(func(_ context.Context, tn storage.Tenant, text string) (string, error) {
		return tn.AssistantName + " heard: " + text, nil
	})
	assert.Equal(t, "Jarvis heard: what's up", h.personal(t, "1:a", 42, "what's up"))
}

func TestSplitCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in       string
		wantCmd  string
		wantArgs string
	}{
		{"/add milk", "add", "milk"},
		{"/Done@archie_bot 2", "done", "2"},
		{"/tasks", "tasks", ""},
		{"plain text", "", "plain text"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			cmd, args := splitCommand(tt.in)
			if cmd != tt.wantCmd || args != tt.wantArgs {
				t.Fatalf("splitCommand(%q) = %q, %q, want %q, %q", tt.in, cmd, args, tt.wantCmd, tt.wantArgs)
			}
		})
	}
}

func TestResolverCachesLookups(t *testing.T) {
	t.Parallel()

	s := storagetest.NewTestStore(t)
	r := NewResolver(s, nil, logx.Nop())
	tn := storagetest.NewTenant(t, s, 42, "1:a")

	got, err := r.Lookup(context.Background(), "1:a")
	require.NoError(t, err)
	assert.Equal(t, tn.ID, got.ID)

	got.UserName = "Alex"
	require.NoError(t, r.Save(context.Background(), got))
	cached, err := r.Lookup(context.Background(), "1:a")
	require.NoError(t, err)
	assert.Equal(t, "Alex", cached.UserName)
}
