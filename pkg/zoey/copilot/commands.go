// Package copilot – commands.go implements the slash commands users can send
// from any channel:
//
//	/start                   - Greeting with the caller's chat id
//	/commands, /help         - List commands
//	/reminders               - List pending reminders
//	/viewcontacts            - List contacts
//	/remind [task]           - Start the reminder flow
//	/addcontact              - Start the contact flow
//	/deletecontact           - Start the contact removal flow
//	/relay                   - Start the relay flow
//	/search                  - Start the search flow
//	/cancel                  - Cancel the active flow
//	/concise                 - Toggle concise replies
//	/broadcast <message>     - Send a message to every user (admin only)
package copilot

import (
	"context"
	"fmt"
	"strings"

	"github.com/jholhewres/zoey/pkg/zoey/channels"
	"github.com/jholhewres/zoey/pkg/zoey/flow"
)

// CommandResult contains the result of a command execution.
type CommandResult struct {
	// Replies are sent back in order.
	Replies []*channels.OutgoingMessage

	// Handled is true if the message was a known command.
	Handled bool
}

// IsCommand returns true if the message starts with "/".
func IsCommand(content string) bool {
	return strings.HasPrefix(strings.TrimSpace(content), "/")
}

func textResult(format string, args ...any) CommandResult {
	return CommandResult{
		Replies: []*channels.OutgoingMessage{{Content: fmt.Sprintf(format, args...)}},
		Handled: true,
	}
}

// HandleCommand processes a slash command. Unknown commands are handled with
// a hint so they never reach the completion collaborator.
func (a *Assistant) HandleCommand(ctx context.Context, msg *channels.IncomingMessage, user string) CommandResult {
	content := strings.TrimSpace(msg.Content)
	if !IsCommand(content) {
		return CommandResult{}
	}

	cmd, args, _ := strings.Cut(content, " ")
	cmd = strings.ToLower(cmd)
	// Telegram appends the bot name in groups: /help@zoey_bot.
	if at := strings.IndexByte(cmd, '@'); at > 0 {
		cmd = cmd[:at]
	}
	args = strings.TrimSpace(args)

	switch cmd {
	case "/start":
		return textResult("Hi %s! I'm %s. Your chat id is %s.\nSend /commands to see what I can do.",
			displayName(msg), a.cfg.Name, msg.ChatID)

	case "/commands", "/help":
		return textResult("%s", a.helpText())

	case "/reminders":
		return textResult("%s", a.remindersCommand(msg))

	case "/viewcontacts":
		return textResult("%s", a.contactsCommand(user))

	case "/cancel":
		reply, ok := a.engine.Cancel(user)
		if !ok {
			return textResult("There's nothing to cancel.")
		}
		return textResult("%s", reply.Text)

	case "/concise":
		on, err := a.users.ToggleConcise(user)
		if err != nil {
			a.logger.Error("toggle concise failed", "user", user, "error", err)
			return textResult("Sorry, I couldn't change that setting.")
		}
		if on {
			return textResult("Okay, I'll keep my answers short.")
		}
		return textResult("Okay, I'll answer in full again.")

	case "/broadcast":
		return textResult("%s", a.broadcastCommand(ctx, user, args))

	case "/remind":
		seed := map[string]string{}
		if args != "" {
			seed["task"] = args
		}
		return a.flowResult(ctx, msg, user, VariantReminder, seed)

	case "/addcontact":
		return a.flowResult(ctx, msg, user, VariantContact, nil)

	case "/deletecontact":
		return a.flowResult(ctx, msg, user, VariantForgetContact, nil)

	case "/relay":
		return a.flowResult(ctx, msg, user, VariantRelay, nil)

	case "/search":
		return a.flowResult(ctx, msg, user, VariantSearch, nil)
	}

	return textResult("I don't know %s. Send /commands to see what I can do.", cmd)
}

func (a *Assistant) flowResult(ctx context.Context, msg *channels.IncomingMessage, user string, v flow.Variant, seed map[string]string) CommandResult {
	return CommandResult{
		Replies: []*channels.OutgoingMessage{a.startFlow(ctx, msg, user, v, seed)},
		Handled: true,
	}
}

func (a *Assistant) helpText() string {
	var b strings.Builder
	b.WriteString("Here's what I can do:\n\n")
	b.WriteString("/remind - set a reminder\n")
	b.WriteString("/reminders - list your reminders\n")
	b.WriteString("/addcontact - add a contact\n")
	b.WriteString("/viewcontacts - list your contacts\n")
	b.WriteString("/deletecontact - delete a contact\n")
	b.WriteString("/relay - send a message to a contact\n")
	b.WriteString("/search - search music, podcasts or Wikipedia\n")
	b.WriteString("/concise - toggle short answers\n")
	b.WriteString("/cancel - cancel what we're doing\n\n")
	b.WriteString("You can also just say things like:\n")
	b.WriteString("- remind me to call mom at 6pm\n")
	b.WriteString("- tell mom that I'm running late\n")
	b.WriteString("- play artist Nina Simone\n")
	b.WriteString("- what time is it?")
	return b.String()
}

func (a *Assistant) remindersCommand(msg *channels.IncomingMessage) string {
	list, err := a.store.ListFor(msg.Destination())
	if err != nil {
		a.logger.Error("listing reminders failed", "destination", msg.Destination(), "error", err)
		return "Sorry, I couldn't load your reminders."
	}
	if len(list) == 0 {
		return "You have no pending reminders."
	}
	var b strings.Builder
	b.WriteString("Your reminders:")
	for _, r := range list {
		fmt.Fprintf(&b, "\n- %s at %s", r.Task, r.DueAt.In(a.loc).Format(whenLayout))
	}
	return b.String()
}

func (a *Assistant) contactsCommand(user string) string {
	list, err := a.contacts.List(user)
	if err != nil {
		a.logger.Error("listing contacts failed", "user", user, "error", err)
		return "Sorry, I couldn't load your contacts."
	}
	if len(list) == 0 {
		return "You have no contacts yet. Add one with /addcontact."
	}
	var b strings.Builder
	b.WriteString("Your contacts:")
	for _, c := range list {
		fmt.Fprintf(&b, "\n- %s", c.Name)
	}
	return b.String()
}

func (a *Assistant) broadcastCommand(ctx context.Context, user, text string) string {
	if a.cfg.AdminID == "" || user != a.cfg.AdminID {
		return "Sorry, only the admin can broadcast."
	}
	if text == "" {
		return "Usage: /broadcast <message>"
	}

	users, err := a.users.All()
	if err != nil {
		a.logger.Error("loading users for broadcast failed", "error", err)
		return "Sorry, I couldn't load the user list."
	}
	sent := 0
	for _, u := range users {
		if err := a.outbox.SendTo(ctx, u.Destination, &channels.OutgoingMessage{Content: text}); err != nil {
			a.logger.Warn("broadcast delivery failed", "user", u.ID, "error", err)
			continue
		}
		sent++
	}
	a.logger.Info("broadcast sent", "sent", sent, "users", len(users))
	return fmt.Sprintf("Broadcast sent to %d of %d users.", sent, len(users))
}
