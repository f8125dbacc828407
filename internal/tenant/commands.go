package tenant

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"anyarchie/internal/storage"
)

// Request is one command invocation from an onboarded tenant.
type Request struct {
	Tenant storage.Tenant
	Args   string
	Now    time.Time
}

type CommandFunc func(ctx context.Context, req *Request) (string, error)

type Command struct {
	Name        string
	Aliases     []string
	Usage       string
	Description string
	Handle      CommandFunc
}

func (r *Router) builtinCommands() []Command {
	return []Command{
		{Name: "add", Usage: "/add <task> [due:YYYY-MM-DD]", Description: "Add a task", Handle: r.cmdAdd},
		{Name: "tasks", Aliases: []string{"today"}, Usage: "/tasks", Description: "Show pending tasks", Handle: r.cmdTasks},
		{Name: "done", Usage: "/done <number>", Description: "Mark a task as done", Handle: r.cmdDone},
		{Name: "remind", Usage: "/remind <30m|HH:MM> <message>", Description: "Set a reminder", Handle: r.cmdRemind},
		{Name: "event", Usage: "/event <[YYYY-MM-DD] HH:MM|2h> <title> [@ place]", Description: "Add a calendar event", Handle: r.cmdEvent},
		{Name: "events", Usage: "/events", Description: "Show events in the next 7 days", Handle: r.cmdEvents},
		{Name: "mute", Usage: "/mute [minutes]", Description: "Pause check-ins", Handle: r.cmdMute},
		{Name: "unmute", Usage: "/unmute", Description: "Resume check-ins", Handle: r.cmdUnmute},
		{Name: "status", Usage: "/status", Description: "Show check-in status", Handle: r.cmdStatus},
	}
}

func (r *Router) helpText(t storage.Tenant) string {
	name := t.AssistantName
	if name == "" {
		name = DefaultAssistantName
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**%s Commands:**\n\n", name)
	for _, c := range r.commands {
		fmt.Fprintf(&b, "- `%s` - %s\n", c.Usage, c.Description)
	}
	b.WriteString("- `/help` - Show this help\n\n")
	b.WriteString("Or just chat naturally.")
	return b.String()
}

// parseTask splits "buy milk due:2026-01-02" into text and due date.
func parseTask(arg string) (string, *time.Time, error) {
	var (
		words []string
		due   *time.Time
	)
	for _, w := range strings.Fields(arg) {
		if v, ok := strings.CutPrefix(strings.ToLower(w), "due:"); ok {
			d, err := time.Parse(time.DateOnly, v)
			if err != nil {
				return "", nil, fmt.Errorf("bad due date %q", v)
			}
			due = &d
			continue
		}
		words = append(words, w)
	}
	return strings.Join(words, " "), due, nil
}

func (r *Router) cmdAdd(ctx context.Context, req *Request) (string, error) {
	if strings.TrimSpace(req.Args) == "" {
		return "What task do you want to add? Example: `/add Buy groceries`", nil
	}
	text, due, err := parseTask(req.Args)
	if err != nil {
		return "Due dates look like `due:2026-01-31`.", nil
	}
	if text == "" {
		return "What task do you want to add? Example: `/add Buy groceries`", nil
	}
	if _, err := r.store.AddTask(ctx, storage.Task{TenantID: req.Tenant.ID, Content: text, DueDate: due}); err != nil {
		return "", err
	}
	if due != nil {
		return fmt.Sprintf("Added: %s (due: %s)", text, due.Format(time.DateOnly)), nil
	}
	return "Added: " + text, nil
}

func (r *Router) cmdTasks(ctx context.Context, req *Request) (string, error) {
	tasks, err := r.store.PendingTasks(ctx, req.Tenant.ID)
	if err != nil {
		return "", err
	}
	if len(tasks) == 0 {
		return "No pending tasks! Use `/add <task>` to add one.", nil
	}
	lines := []string{"**All Pending Tasks:**", ""}
	for i, t := range tasks {
		due := ""
		if t.DueDate != nil {
			due = fmt.Sprintf(" (due: %s)", t.DueDate.Format(time.DateOnly))
		}
		lines = append(lines, fmt.Sprintf("%d. %s%s", i+1, t.Content, due))
	}
	return strings.Join(lines, "\n"), nil
}

func (r *Router) cmdDone(ctx context.Context, req *Request) (string, error) {
	arg := strings.TrimSpace(req.Args)
	if arg == "" {
		return "Which task? Example: `/done 1` to complete task #1", nil
	}
	n, err := strconv.Atoi(arg)
	if err != nil {
		return "Please provide a task number. Example: `/done 1`", nil
	}
	tasks, err := r.store.PendingTasks(ctx, req.Tenant.ID)
	if err != nil {
		return "", err
	}
	if n < 1 || n > len(tasks) {
		return fmt.Sprintf("Invalid task number. You have %d pending tasks.", len(tasks)), nil
	}
	task := tasks[n-1]
	if err := r.store.CompleteTask(ctx, req.Tenant.ID, task.ID); err != nil {
		return "", err
	}
	return "Completed: " + task.Content, nil
}

// parseWhen accepts a Go duration ("30m", "2h") or a wall clock "HH:MM",
// which means the next such time in loc.
func parseWhen(s string, now time.Time, loc *time.Location) (time.Time, bool) {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return now.Add(d), true
	}
	hm, err := time.Parse("15:04", s)
	if err != nil {
		return time.Time{}, false
	}
	local := now.In(loc)
	at := time.Date(local.Year(), local.Month(), local.Day(), hm.Hour(), hm.Minute(), 0, 0, loc)
	if !at.After(local) {
		at = at.AddDate(0, 0, 1)
	}
	return at, true
}

func (r *Router) cmdRemind(ctx context.Context, req *Request) (string, error) {
	when, msg, _ := strings.Cut(strings.TrimSpace(req.Args), " ")
	msg = strings.TrimSpace(msg)
	at, ok := parseWhen(when, req.Now, r.loc)
	if !ok || msg == "" {
		return "Couldn't parse that reminder. Try:\n" +
			"- `/remind 30m Take a break`\n" +
			"- `/remind 15:00 Call mom`", nil
	}
	if _, err := r.store.AddReminder(ctx, storage.Reminder{TenantID: req.Tenant.ID, Message: msg, RemindAt: at}); err != nil {
		return "", err
	}
	return fmt.Sprintf("I'll remind you at %s: %s", at.In(r.loc).Format("Jan 2 15:04"), msg), nil
}

func (r *Router) cmdMute(ctx context.Context, req *Request) (string, error) {
	var d time.Duration
	if arg := strings.TrimSpace(req.Args); arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			return "Usage: `/mute [minutes]`", nil
		}
		d = time.Duration(n) * time.Minute
	}
	until, err := r.mute.Mute(ctx, req.Tenant.ID, d)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Got it, I'll stay quiet until %s.", until.In(r.loc).Format("15:04")), nil
}

func (r *Router) cmdUnmute(ctx context.Context, req *Request) (string, error) {
	if err := r.mute.Unmute(ctx, req.Tenant.ID); err != nil {
		return "", err
	}
	return "Check-ins are back on.", nil
}

func (r *Router) cmdStatus(ctx context.Context, req *Request) (string, error) {
	st, err := r.store.GetState(ctx, req.Tenant.ID)
	if err != nil {
		return "", err
	}
	tasks, err := r.store.PendingTasks(ctx, req.Tenant.ID)
	if err != nil {
		return "", err
	}
	checkins := "on"
	if st.MutedUntil != nil && req.Now.Before(*st.MutedUntil) {
		checkins = "muted until " + st.MutedUntil.In(r.loc).Format("15:04")
	}
	last := "never"
	if st.LastHeartbeatAt != nil {
		last = st.LastHeartbeatAt.In(r.loc).Format("Jan 2 15:04")
	}
	return fmt.Sprintf("**Status**\nCheck-ins: %s\nLast check: %s\nPending tasks: %d", checkins, last, len(tasks)), nil
}

// parseEvent reads "[YYYY-MM-DD] HH:MM title @ place" or "2h title".
func parseEvent(arg string, now time.Time, loc *time.Location) (storage.CalendarEvent, bool) {
	fields := strings.Fields(arg)
	if len(fields) < 2 {
		return storage.CalendarEvent{}, false
	}
	var (
		start time.Time
		rest  []string
	)
	if day, err := time.ParseInLocation(time.DateOnly, fields[0], loc); err == nil {
		hm, err := time.Parse("15:04", fields[1])
		if err != nil || len(fields) < 3 {
			return storage.CalendarEvent{}, false
		}
		start = day.Add(time.Duration(hm.Hour())*time.Hour + time.Duration(hm.Minute())*time.Minute)
		rest = fields[2:]
	} else {
		at, ok := parseWhen(fields[0], now, loc)
		if !ok {
			return storage.CalendarEvent{}, false
		}
		start = at
		rest = fields[1:]
	}
	title, place, _ := strings.Cut(strings.Join(rest, " "), "@")
	title = strings.TrimSpace(title)
	if title == "" {
		return storage.CalendarEvent{}, false
	}
	return storage.CalendarEvent{Summary: title, Location: strings.TrimSpace(place), StartAt: start}, true
}

func (r *Router) cmdEvent(ctx context.Context, req *Request) (string, error) {
	e, ok := parseEvent(req.Args, req.Now, r.loc)
	if !ok {
		return "Couldn't parse that event. Try:\n" +
			"- `/event 14:30 Dentist @ Main St`\n" +
			"- `/event 2026-04-01 09:00 Quarterly review`", nil
	}
	if e.StartAt.Before(req.Now) {
		return "That time has already passed.", nil
	}
	e.TenantID = req.Tenant.ID
	if _, err := r.store.UpsertEvent(ctx, e); err != nil {
		return "", err
	}
	return fmt.Sprintf("Added event: %s on %s", e.Summary, e.StartAt.In(r.loc).Format("Jan 2 15:04")), nil
}

func (r *Router) cmdEvents(ctx context.Context, req *Request) (string, error) {
	events, err := r.store.EventsBetween(ctx, req.Tenant.ID, req.Now, req.Now.AddDate(0, 0, 7))
	if err != nil {
		return "", err
	}
	if len(events) == 0 {
		return "Nothing on your calendar this week. Use `/event` to add something.", nil
	}
	lines := []string{"**Upcoming Events:**", ""}
	for _, e := range events {
		line := fmt.Sprintf("- %s %s", e.StartAt.In(r.loc).Format("Mon Jan 2 15:04"), e.Summary)
		if e.Location != "" {
			line += " (" + e.Location + ")"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}
