// Package copilot – flows.go defines the conversational flows Zoey runs on
// the flow engine: creating reminders, adding and deleting contacts,
// relaying messages and searching catalogs.
package copilot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/jholhewres/zoey/pkg/zoey/channels"
	"github.com/jholhewres/zoey/pkg/zoey/contacts"
	"github.com/jholhewres/zoey/pkg/zoey/flow"
	"github.com/jholhewres/zoey/pkg/zoey/integrations/search"
	"github.com/jholhewres/zoey/pkg/zoey/scheduler"
)

// Flow variants.
const (
	VariantReminder      flow.Variant = "reminder"
	VariantContact       flow.Variant = "contact"
	VariantRelay         flow.Variant = "relay"
	VariantSearch        flow.Variant = "search"
	VariantForgetContact flow.Variant = "forget-contact"
)

// Seed keys set by the assistant when starting a flow.
const (
	seedReplyTo  = "reply_to"
	seedChannel  = "channel"
	seedFromName = "from_name"
)

// whenLayout renders due times in confirmations and listings.
const whenLayout = "03:04 PM on Monday, January 02, 2006"

// maxContactOptions caps contact quick-picks.
const maxContactOptions = 10

// registerFlows installs every flow definition on the engine.
func (a *Assistant) registerFlows() error {
	defs := []*flow.Definition{
		a.reminderFlow(),
		a.contactFlow(),
		a.relayFlow(),
		a.searchFlow(),
		a.forgetContactFlow(),
	}
	for _, def := range defs {
		if err := a.engine.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// ---------- Reminder ----------

func (a *Assistant) reminderFlow() *flow.Definition {
	return &flow.Definition{
		Variant: VariantReminder,
		Title:   "reminder",
		Steps: []flow.Step{
			{
				Field:  "task",
				Prompt: "What should I remind you about?",
			},
			{
				Field:  "time",
				Prompt: "When should I remind you?",
				Options: []flow.Option{
					{Label: "15 min", Value: "in 15 minutes"},
					{Label: "30 min", Value: "in 30 minutes"},
					{Label: "1 hour", Value: "in 1 hour"},
					{Label: "Type a time", Manual: true},
				},
				ManualPrompt: `Type a time, like "9pm", "in 20 minutes" or "12/25/2025 2:30 PM".`,
				AllowManual:  true,
				Validate:     validateReminderTime,
			},
			{
				Field:  "date",
				Prompt: "Which day?",
				Options: []flow.Option{
					{Label: "Today", Value: "today"},
					{Label: "Tomorrow", Value: "tomorrow"},
					{Label: "Pick a date", Manual: true},
				},
				ManualPrompt: `Type a date, like "12/25/2025" or "March 3".`,
				AllowManual:  true,
				Validate:     validateReminderDate,
			},
		},
		Summary: func(s *flow.Session) string {
			return fmt.Sprintf("Please confirm your reminder:\nTask: %s\nWhen: %s",
				s.Value("task"), a.formatDue(s.Value("due_at")))
		},
		Commit: func(ctx context.Context, s *flow.Session) (string, error) {
			due, err := time.Parse(time.RFC3339, s.Value("due_at"))
			if err != nil {
				return "", fmt.Errorf("reminder has no due time")
			}
			task := s.Value("task")
			if _, err := a.store.Add(s.Seed[seedReplyTo], task, due); err != nil {
				return "", fmt.Errorf("saving reminder: %w", err)
			}
			return fmt.Sprintf("Got it! I'll remind you to %s at %s.", task, a.formatDue(s.Value("due_at"))), nil
		},
	}
}

// validateReminderTime accepts any time expression. A full date and time
// fixes the due instant and fills the date step. Clock times and relative
// durations still ask for the day: clock times as "15:04", durations with
// the resolved instant staged under time_at.
func validateReminderTime(sc *flow.StepContext, input string) (string, error) {
	res, err := scheduler.Resolve(input, sc.Now)
	if err != nil {
		return "", flow.Invalid(`I couldn't understand %q as a time. Try "9pm", "in 20 minutes" or "12/25/2025 2:30 PM".`, input)
	}
	switch res.Kind {
	case scheduler.KindClock:
		return res.Due.Format("15:04"), nil
	case scheduler.KindRelative:
		sc.Set("time_at", res.Due.Format(time.RFC3339))
		return input, nil
	}
	if !res.Due.After(sc.Now) {
		return "", flow.Invalid("That time has already passed. Please pick a later one.")
	}
	sc.Set("date", res.Due.Format(time.DateOnly))
	sc.Set("due_at", res.Due.Format(time.RFC3339))
	return input, nil
}

// validateReminderDate combines the chosen day with the time step and
// rejects instants that are not in the future. A relative time keeps its
// offset: "15 min" then "Today" is now+15m, "Tomorrow" a day later.
func validateReminderDate(sc *flow.StepContext, input string) (string, error) {
	day, err := parseDay(input, sc.Now)
	if err != nil {
		return "", flow.Invalid(`I couldn't understand %q as a date. Try "12/25/2025" or "March 3".`, input)
	}

	loc := sc.Now.Location()
	var due time.Time
	if at, err := time.Parse(time.RFC3339, sc.Value("time_at")); err == nil {
		at = at.In(loc)
		shift := daysBetween(startOfDay(sc.Now), startOfDay(at))
		due = time.Date(day.Year(), day.Month(), day.Day()+shift, at.Hour(), at.Minute(), at.Second(), 0, loc)
	} else {
		clock, err := time.Parse("15:04", sc.Value("time"))
		if err != nil {
			return "", flow.Invalid("Please choose a time first.")
		}
		due = time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, loc)
	}

	if !due.After(sc.Now) {
		return "", flow.Invalid("That time has already passed. Please pick another day.")
	}
	sc.Set("due_at", due.Format(time.RFC3339))
	return due.Format(time.DateOnly), nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// daysBetween counts calendar days from a to b, both at midnight.
func daysBetween(a, b time.Time) int {
	return int(math.Round(b.Sub(a).Hours() / 24))
}

// dateLayouts are tried before dateparse. Layouts without a year take now's.
var dateLayouts = []string{
	time.DateOnly,
	"1/2/2006",
	"1/2",
	"January 2 2006",
	"January 2, 2006",
	"Jan 2 2006",
	"Jan 2, 2006",
	"January 2",
	"Jan 2",
}

// parseDay resolves "today", "tomorrow", a weekday name or a calendar date
// to a day in now's location.
func parseDay(input string, now time.Time) (time.Time, error) {
	loc := now.Location()
	value := strings.Join(strings.Fields(input), " ")
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	switch strings.ToLower(value) {
	case "today":
		return today, nil
	case "tomorrow":
		return today.AddDate(0, 0, 1), nil
	}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if strings.EqualFold(value, wd.String()) {
			ahead := (int(wd) - int(now.Weekday()) + 7) % 7
			return today.AddDate(0, 0, ahead), nil
		}
	}

	for _, layout := range dateLayouts {
		t, err := time.ParseInLocation(layout, value, loc)
		if err != nil {
			continue
		}
		if !strings.Contains(layout, "2006") {
			t = time.Date(now.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		}
		return t, nil
	}
	t, err := dateparse.ParseIn(value, loc)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc), nil
}

// formatDue renders an RFC 3339 instant in the assistant's timezone.
func (a *Assistant) formatDue(rfc string) string {
	t, err := time.Parse(time.RFC3339, rfc)
	if err != nil {
		return rfc
	}
	return t.In(a.loc).Format(whenLayout)
}

// ---------- Contact ----------

func (a *Assistant) contactFlow() *flow.Definition {
	return &flow.Definition{
		Variant: VariantContact,
		Title:   "new contact",
		Steps: []flow.Step{
			{
				Field:  "name",
				Prompt: "What's the contact's name?",
				Validate: func(_ *flow.StepContext, input string) (string, error) {
					if contacts.NormalizeName(input) == "" {
						return "", flow.Invalid("The name can't be empty.")
					}
					return strings.TrimSpace(input), nil
				},
			},
			{
				Field:    "destination",
				Prompt:   "What's their chat id? They can get it by sending /start to me.",
				Validate: validateContactDestination,
			},
		},
		Summary: func(s *flow.Session) string {
			return fmt.Sprintf("Add contact %q with chat id %s?", s.Value("name"), s.Value("destination"))
		},
		Commit: func(_ context.Context, s *flow.Session) (string, error) {
			c, err := a.contacts.Add(s.User, s.Value("name"), s.Value("destination"))
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Saved %s to your contacts.", c.Name), nil
		},
	}
}

// validateContactDestination qualifies a bare chat id with the requester's
// channel. Telegram ids must be numeric.
func validateContactDestination(sc *flow.StepContext, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", flow.Invalid("The chat id can't be empty.")
	}
	if _, _, err := channels.SplitDestination(input); err == nil {
		return input, nil
	}
	channel := sc.Value(seedChannel)
	if channel == "telegram" {
		if _, err := strconv.ParseInt(input, 10, 64); err != nil {
			return "", flow.Invalid("Telegram chat ids are numbers, like 123456789.")
		}
	}
	if channel == "" {
		return input, nil
	}
	return channels.Qualify(channel, input), nil
}

// ---------- Relay ----------

func (a *Assistant) relayFlow() *flow.Definition {
	return &flow.Definition{
		Variant: VariantRelay,
		Title:   "message",
		Steps: []flow.Step{
			{
				Field:        "contact",
				Prompt:       "Who should I send it to?",
				ManualPrompt: "Type the contact's name.",
				OptionsFunc:  a.contactOptions,
				AllowManual:  true,
				Validate: func(sc *flow.StepContext, input string) (string, error) {
					c, err := a.contacts.Find(sc.User, input)
					if errors.Is(err, contacts.ErrNotFound) {
						return "", flow.Invalid("I couldn't find a contact matching %q. Add one with /addcontact.", input)
					}
					if err != nil {
						return "", err
					}
					sc.Set("to", c.Destination)
					return c.Name, nil
				},
			},
			{
				Field:  "message",
				Prompt: "What's the message?",
			},
		},
		Summary: func(s *flow.Session) string {
			return fmt.Sprintf("Send this to %s?\n\n%s", s.Value("contact"), s.Value("message"))
		},
		Commit: func(ctx context.Context, s *flow.Session) (string, error) {
			text := a.rewriteRelay(ctx, s.Seed[seedFromName], s.Value("message"))
			if err := a.outbox.SendTo(ctx, s.Value("to"), &channels.OutgoingMessage{Content: text}); err != nil {
				return "", fmt.Errorf("sending to %s: %w", s.Value("contact"), err)
			}
			return fmt.Sprintf("Message sent to %s.", s.Value("contact")), nil
		},
	}
}

// rewriteRelay asks the responder to rephrase a relayed message, falling
// back to a plain attribution.
func (a *Assistant) rewriteRelay(ctx context.Context, from, message string) string {
	if from == "" {
		from = "a friend"
	}
	plain := fmt.Sprintf("Message from %s: %s", from, message)
	if a.responder == nil {
		return plain
	}
	text, err := a.responder.GenerateReply(ctx, from, relayPrompt(from, message), nil)
	if err != nil || strings.TrimSpace(text) == "" {
		if err != nil {
			a.logger.Warn("relay rewrite failed, sending as typed", "error", err)
		}
		return plain
	}
	return text
}

func (a *Assistant) contactOptions(sc *flow.StepContext) []flow.Option {
	list, err := a.contacts.List(sc.User)
	if err != nil {
		a.logger.Warn("listing contacts for quick-picks", "user", sc.User, "error", err)
		return nil
	}
	var opts []flow.Option
	for _, c := range list {
		if len(opts) == maxContactOptions {
			break
		}
		opts = append(opts, flow.Option{Label: c.Name, Value: c.Name})
	}
	return opts
}

// ---------- Search ----------

func (a *Assistant) searchFlow() *flow.Definition {
	var kinds []flow.Option
	for _, k := range search.Kinds {
		kinds = append(kinds, flow.Option{Label: k.Label(), Value: string(k)})
	}
	return &flow.Definition{
		Variant: VariantSearch,
		Title:   "search",
		Steps: []flow.Step{
			{
				Field:   "kind",
				Prompt:  "What are you looking for?",
				Options: kinds,
				Validate: func(_ *flow.StepContext, input string) (string, error) {
					k, ok := search.ParseKind(input)
					if !ok {
						return "", flow.Invalid("Please choose one of the options.")
					}
					return string(k), nil
				},
			},
			{
				Field:  "query",
				Prompt: "What should I search for?",
			},
		},
		Summary: func(s *flow.Session) string {
			return fmt.Sprintf("Search %s for %q?", search.Kind(s.Value("kind")).Label(), s.Value("query"))
		},
		Commit: func(ctx context.Context, s *flow.Session) (string, error) {
			if a.searcher == nil {
				return "", search.ErrNotConfigured
			}
			return a.searcher.Search(ctx, search.Kind(s.Value("kind")), s.Value("query"))
		},
	}
}

// ---------- Forget contact ----------

func (a *Assistant) forgetContactFlow() *flow.Definition {
	return &flow.Definition{
		Variant: VariantForgetContact,
		Title:   "contact removal",
		Steps: []flow.Step{
			{
				Field:        "name",
				Prompt:       "Which contact should I delete?",
				ManualPrompt: "Type the contact's name.",
				OptionsFunc:  a.contactOptions,
				AllowManual:  true,
				Validate: func(sc *flow.StepContext, input string) (string, error) {
					norm := contacts.NormalizeName(input)
					list, err := a.contacts.List(sc.User)
					if err != nil {
						return "", err
					}
					for _, c := range list {
						if c.Name == norm {
							return c.Name, nil
						}
					}
					return "", flow.Invalid("You have no contact named %q.", strings.TrimSpace(input))
				},
			},
		},
		Summary: func(s *flow.Session) string {
			return fmt.Sprintf("Delete %s from your contacts?", s.Value("name"))
		},
		Commit: func(_ context.Context, s *flow.Session) (string, error) {
			if err := a.contacts.Remove(s.User, s.Value("name")); err != nil {
				return "", err
			}
			return fmt.Sprintf("Deleted %s.", s.Value("name")), nil
		},
	}
}
