package copilot

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jholhewres/zoey/pkg/zoey/channels"
	"github.com/jholhewres/zoey/pkg/zoey/contacts"
	"github.com/jholhewres/zoey/pkg/zoey/flow"
	"github.com/jholhewres/zoey/pkg/zoey/integrations/search"
	"github.com/jholhewres/zoey/pkg/zoey/scheduler"
)

var (
	remindPattern = regexp.MustCompile(`(?i)^remind me to\s+(.+)$`)
	timeMarker    = regexp.MustCompile(`(?i)\s+(?:at|in)\s+`)
	relayPattern  = regexp.MustCompile(`(?i)^(?:tell|text|let)\s+([a-zA-Z0-9_ ]+?)(?:\s+that|\s+know)?\s+(.+)$`)
	playPattern   = regexp.MustCompile(`(?i)^play\s+(?:(artist|playlist|podcast|track)\s+)?(.+)$`)
	clockQuestion = regexp.MustCompile(`(?i)^(?:what(?:'s| is)?\s+(?:the\s+)?(time|date|day)(?:\s+is\s+it)?(?:\s+(?:today|now))?` +
		`|tell\s+me\s+the\s+(time|date)` +
		`|(?:the\s+)?current\s+(time|date)` +
		`|(time|date)\s+now)\s*[?.!]*$`)
)

// flowTriggers maps typed phrases to the flow they start.
var flowTriggers = map[string]flow.Variant{
	"set reminder":   VariantReminder,
	"set a reminder": VariantReminder,
	"add contact":    VariantContact,
	"add a contact":  VariantContact,
	"delete contact": VariantForgetContact,
	"send message":   VariantRelay,
	"send a message": VariantRelay,
	"search":         VariantSearch,
}

// quickCommand handles the natural-language shortcuts. ok is false when the
// text is not one of them.
func (a *Assistant) quickCommand(ctx context.Context, msg *channels.IncomingMessage, user, text string) (replies []*channels.OutgoingMessage, ok bool) {
	lower := strings.ToLower(strings.TrimRight(text, ".!"))

	if v, found := flowTriggers[lower]; found {
		return []*channels.OutgoingMessage{a.startFlow(ctx, msg, user, v, nil)}, true
	}

	if m := remindPattern.FindStringSubmatch(text); m != nil {
		return []*channels.OutgoingMessage{a.remindShortcut(ctx, msg, user, m[1])}, true
	}

	if kind, found := clockAsk(text); found {
		now := a.now()
		if kind == "time" {
			return plain(fmt.Sprintf("It's %s.", now.Format("03:04 PM"))), true
		}
		return plain(fmt.Sprintf("Today is %s.", now.Format("Monday, January 02, 2006"))), true
	}

	if m := playPattern.FindStringSubmatch(text); m != nil {
		return plain(a.playShortcut(ctx, m[1], m[2])), true
	}

	if m := relayPattern.FindStringSubmatch(text); m != nil && !selfReference(m[1]) {
		return []*channels.OutgoingMessage{a.relayShortcut(ctx, msg, user, text, m[1], m[2])}, true
	}

	return nil, false
}

// remindShortcut creates a reminder directly when the time parses, and
// otherwise starts the reminder flow with the task filled in.
func (a *Assistant) remindShortcut(ctx context.Context, msg *channels.IncomingMessage, user, rest string) *channels.OutgoingMessage {
	task, expr := splitReminder(rest, a.now())
	if expr != "" {
		due, err := scheduler.ResolveTime(expr, a.now())
		if err == nil {
			if _, err := a.store.Add(msg.Destination(), task, due); err != nil {
				a.logger.Error("saving reminder failed", "user", user, "error", err)
				return &channels.OutgoingMessage{Content: "Sorry, I couldn't save that reminder. Please try again."}
			}
			return &channels.OutgoingMessage{
				Content: fmt.Sprintf("Got it! I'll remind you to %s at %s.", task, due.In(a.loc).Format(whenLayout)),
			}
		}
	}

	out := a.startFlow(ctx, msg, user, VariantReminder, map[string]string{"task": task})
	if expr != "" {
		out.Content = fmt.Sprintf("I couldn't understand the time %q.\n\n%s", expr, out.Content)
	}
	return out
}

// relayShortcut starts the relay flow with contact and message filled in.
// An unknown contact is reported before the contact prompt.
func (a *Assistant) relayShortcut(ctx context.Context, msg *channels.IncomingMessage, user, text, name, message string) *channels.OutgoingMessage {
	name, message = a.splitRelay(user, text, name, message)
	seed := map[string]string{"contact": name, "message": message}

	_, err := a.contacts.Find(user, name)
	out := a.startFlow(ctx, msg, user, VariantRelay, seed)
	switch {
	case errors.Is(err, contacts.ErrNotFound):
		out.Content = fmt.Sprintf("I couldn't find a contact matching %q.\n\n%s", name, out.Content)
	case err != nil:
		a.logger.Error("contact lookup failed", "user", user, "error", err)
		out.Content = fmt.Sprintf("I couldn't look up %q right now.\n\n%s", name, out.Content)
	}
	return out
}

// splitReminder separates "call mom at 6pm" into task and time expression.
// The rightmost "at"/"in" whose remainder parses wins; failing that the
// rightmost marker splits the text so the bad expression can be echoed.
func splitReminder(rest string, now time.Time) (task, expr string) {
	rest = strings.TrimSpace(rest)
	locs := timeMarker.FindAllStringIndex(rest, -1)
	if len(locs) == 0 {
		return rest, ""
	}
	for i := len(locs) - 1; i >= 0; i-- {
		candidate := strings.TrimSpace(rest[locs[i][1]:])
		if _, err := scheduler.Resolve(candidate, now); err == nil {
			return strings.TrimSpace(rest[:locs[i][0]]), candidate
		}
	}
	last := locs[len(locs)-1]
	return strings.TrimSpace(rest[:last[0]]), strings.TrimSpace(rest[last[1]:])
}

// splitRelay prefers the longest leading run of words that names a contact
// exactly, so "tell aunt may that ..." targets "aunt may".
func (a *Assistant) splitRelay(user, text, name, message string) (string, string) {
	words := strings.Fields(text)[1:]
	for n := min(len(words)-1, 4); n >= 1; n-- {
		candidate := strings.Join(words[:n], " ")
		c, err := a.contacts.Find(user, candidate)
		if err != nil || c.Name != contacts.NormalizeName(candidate) {
			continue
		}
		rest := words[n:]
		if len(rest) > 1 && (strings.EqualFold(rest[0], "that") || strings.EqualFold(rest[0], "know")) {
			rest = rest[1:]
		}
		return candidate, strings.Join(rest, " ")
	}
	return strings.TrimSpace(name), strings.TrimSpace(message)
}

// playShortcut searches Spotify for "play [kind] <query>".
func (a *Assistant) playShortcut(ctx context.Context, kindWord, query string) string {
	kind := search.KindTrack
	if kindWord != "" {
		if k, ok := search.ParseKind(kindWord); ok {
			kind = k
		}
	}
	if a.searcher == nil {
		return "Music search isn't set up yet."
	}
	result, err := a.searcher.Search(ctx, kind, query)
	if errors.Is(err, search.ErrNotConfigured) {
		return "Music search isn't set up yet."
	}
	if err != nil {
		a.logger.Error("search failed", "kind", kind, "error", err)
		return "Sorry, the search didn't work. Please try again later."
	}
	return result
}

// clockAsk matches a time or date question and reports which one.
func clockAsk(text string) (kind string, ok bool) {
	m := clockQuestion.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return "", false
	}
	for _, g := range m[1:] {
		if g != "" {
			return strings.ToLower(g), true
		}
	}
	return "", false
}

// selfReference reports relay targets that mean the speaker ("tell me a joke").
func selfReference(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "me", "us", "myself":
		return true
	}
	return false
}

func plain(text string) []*channels.OutgoingMessage {
	return []*channels.OutgoingMessage{{Content: text}}
}
