// Package copilot implements the Zoey assistant: it routes incoming channel
// messages to active flows, slash commands, quick commands and finally the
// completion collaborator, and it delivers due reminders.
package copilot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jholhewres/zoey/pkg/zoey/channels"
	"github.com/jholhewres/zoey/pkg/zoey/contacts"
	"github.com/jholhewres/zoey/pkg/zoey/flow"
	"github.com/jholhewres/zoey/pkg/zoey/integrations/search"
	"github.com/jholhewres/zoey/pkg/zoey/metrics"
	"github.com/jholhewres/zoey/pkg/zoey/scheduler"
)

// Transport is the part of the channel manager the assistant needs.
type Transport interface {
	SendTo(ctx context.Context, destination string, msg *channels.OutgoingMessage) error
	Channel(name string) (channels.Channel, bool)
}

// Deps are the assistant's collaborators. Searcher, Responder and Metrics
// are optional.
type Deps struct {
	Store     scheduler.ReminderStore
	Contacts  *contacts.Directory
	Users     *UserStore
	Transport Transport
	Searcher  search.Searcher
	Responder Responder
	Metrics   *metrics.Metrics
}

// Assistant is the message router.
type Assistant struct {
	cfg       *Config
	engine    *flow.Engine
	store     scheduler.ReminderStore
	contacts  *contacts.Directory
	users     *UserStore
	outbox    Transport
	searcher  search.Searcher
	responder Responder
	metrics   *metrics.Metrics
	loc       *time.Location
	now       func() time.Time
	queue     *userQueue
	logger    *slog.Logger
}

// New creates an assistant and registers its flows.
func New(cfg *Config, deps Deps, logger *slog.Logger) (*Assistant, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Store == nil || deps.Contacts == nil || deps.Users == nil || deps.Transport == nil {
		return nil, fmt.Errorf("assistant: store, contacts, users and transport are required")
	}

	loc := cfg.Location()
	a := &Assistant{
		cfg:       cfg,
		engine:    flow.NewEngine(cfg.Flows, logger),
		store:     deps.Store,
		contacts:  deps.Contacts,
		users:     deps.Users,
		outbox:    deps.Transport,
		searcher:  deps.Searcher,
		responder: deps.Responder,
		metrics:   deps.Metrics,
		loc:       loc,
		queue:     newUserQueue(),
		logger:    logger.With("component", "assistant"),
	}
	a.SetClock(time.Now)
	if a.metrics != nil {
		a.engine.SetObserver(a.metrics)
	}
	if err := a.registerFlows(); err != nil {
		return nil, err
	}
	return a, nil
}

// SetClock overrides the time source for the assistant and its flows.
func (a *Assistant) SetClock(now func() time.Time) {
	a.now = func() time.Time { return now().In(a.loc) }
	a.engine.SetClock(a.now)
}

// Engine exposes the flow engine (status reporting).
func (a *Assistant) Engine() *flow.Engine { return a.engine }

// Run consumes messages until the stream closes or ctx is cancelled.
// Messages from one user are handled in arrival order; different users are
// handled concurrently.
func (a *Assistant) Run(ctx context.Context, messages <-chan *channels.IncomingMessage) {
	defer a.queue.wait()
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return
			}
			a.queue.enqueue(userKey(msg), msg, func(m *channels.IncomingMessage) {
				a.HandleMessage(ctx, m)
			})
		case <-ctx.Done():
			return
		}
	}
}

// SendReminder delivers a due reminder. It implements scheduler.Sender.
func (a *Assistant) SendReminder(ctx context.Context, r *scheduler.Reminder) error {
	return a.outbox.SendTo(ctx, r.Destination, &channels.OutgoingMessage{
		Content: fmt.Sprintf("Reminder: %s", r.Task),
	})
}

// HandleMessage routes one message and sends the replies.
func (a *Assistant) HandleMessage(ctx context.Context, msg *channels.IncomingMessage) {
	start := time.Now()
	user := userKey(msg)
	logger := a.logger.With("channel", msg.Channel, "user", user, "msg_id", msg.ID)

	if a.metrics != nil {
		a.metrics.MessageReceived(msg.Channel, string(msg.Type))
	}
	if err := a.users.Touch(user, msg.Destination(), msg.FromName); err != nil {
		logger.Warn("failed to record user", "error", err)
	}

	if msg.Type == channels.MessageCallback {
		a.handleCallback(ctx, msg, user, logger)
		return
	}

	text := strings.TrimSpace(msg.Content)
	if text == "" {
		return
	}

	// Commands interrupt a running flow; everything else feeds it.
	if IsCommand(text) {
		if res := a.HandleCommand(ctx, msg, user); res.Handled {
			a.sendAll(ctx, msg, res.Replies)
			logger.Debug("command handled", "duration_ms", time.Since(start).Milliseconds())
			return
		}
	}

	if reply, handled := a.engine.HandleText(ctx, user, text); handled {
		a.sendAll(ctx, msg, []*channels.OutgoingMessage{fromFlowReply(reply)})
		return
	}

	if replies, ok := a.quickCommand(ctx, msg, user, text); ok {
		a.sendAll(ctx, msg, replies)
		return
	}

	a.converse(ctx, msg, user, text, logger)
	logger.Debug("message handled", "duration_ms", time.Since(start).Milliseconds())
}

// handleCallback processes a button press.
func (a *Assistant) handleCallback(ctx context.Context, msg *channels.IncomingMessage, user string, logger *slog.Logger) {
	var reply flow.Reply
	if flow.IsAction(msg.CallbackData) {
		var err error
		reply, err = a.engine.HandleAction(ctx, user, msg.CallbackData)
		if err != nil && !errors.Is(err, flow.ErrNoSession) {
			logger.Warn("flow action failed", "error", err)
		}
	} else {
		reply = flow.Reply{Text: flow.NoSessionText}
	}

	a.ack(ctx, msg, "")
	a.sendAll(ctx, msg, []*channels.OutgoingMessage{fromFlowReply(reply)})
}

// converse hands free text to the completion collaborator.
func (a *Assistant) converse(ctx context.Context, msg *channels.IncomingMessage, user, text string, logger *slog.Logger) {
	if a.responder == nil {
		a.reply(ctx, msg, "I can set reminders, relay messages to your contacts and search music. Send /commands to see how.")
		return
	}
	if ch, ok := a.outbox.Channel(msg.Channel); ok {
		if tc, ok := ch.(channels.TypingChannel); ok {
			_ = tc.SendTyping(ctx, msg.ChatID)
		}
	}

	answer, err := a.responder.GenerateReply(ctx, displayName(msg), text, a.hints(user))
	if err != nil {
		logger.Error("completion failed", "error", err)
		a.reply(ctx, msg, "Sorry, I can't answer that right now. Please try again later.")
		return
	}

	chunks, links := formatReply(answer)
	var out []*channels.OutgoingMessage
	for _, c := range chunks {
		out = append(out, &channels.OutgoingMessage{Content: c})
	}
	for _, l := range links {
		out = append(out, &channels.OutgoingMessage{Content: l})
	}
	a.sendAll(ctx, msg, out)
}

// hints returns behavioural instructions from the user's preferences.
func (a *Assistant) hints(user string) []string {
	u, err := a.users.Get(user)
	if err != nil || u == nil {
		return nil
	}
	if u.Concise {
		return []string{"Reply concisely, in one or two sentences."}
	}
	return nil
}

// startFlow begins a flow seeded with the requester's routing details.
func (a *Assistant) startFlow(ctx context.Context, msg *channels.IncomingMessage, user string, variant flow.Variant, seed map[string]string) *channels.OutgoingMessage {
	full := map[string]string{
		seedReplyTo:  msg.Destination(),
		seedChannel:  msg.Channel,
		seedFromName: displayName(msg),
	}
	for k, v := range seed {
		full[k] = v
	}
	reply, err := a.engine.Start(ctx, user, variant, full)
	if err != nil {
		a.logger.Error("failed to start flow", "variant", variant, "error", err)
		return &channels.OutgoingMessage{Content: "Sorry, something went wrong. Please try again."}
	}
	return fromFlowReply(reply)
}

func (a *Assistant) ack(ctx context.Context, msg *channels.IncomingMessage, text string) {
	ch, ok := a.outbox.Channel(msg.Channel)
	if !ok {
		return
	}
	if acker, ok := ch.(channels.CallbackAcknowledger); ok {
		if err := acker.AckCallback(ctx, msg, text); err != nil {
			a.logger.Debug("callback ack failed", "channel", msg.Channel, "error", err)
		}
	}
}

func (a *Assistant) reply(ctx context.Context, msg *channels.IncomingMessage, text string) {
	a.sendAll(ctx, msg, []*channels.OutgoingMessage{{Content: text}})
}

// sendAll sends replies to the message's chat in order.
func (a *Assistant) sendAll(ctx context.Context, msg *channels.IncomingMessage, replies []*channels.OutgoingMessage) {
	for _, out := range replies {
		if out == nil || (out.Content == "" && len(out.Buttons) == 0) {
			continue
		}
		if err := a.outbox.SendTo(ctx, msg.Destination(), out); err != nil {
			a.logger.Error("failed to send reply",
				"channel", msg.Channel,
				"chat_id", msg.ChatID,
				"error", err,
			)
			return
		}
	}
}

func fromFlowReply(r flow.Reply) *channels.OutgoingMessage {
	out := &channels.OutgoingMessage{Content: r.Text}
	for _, b := range r.Buttons {
		out.Buttons = append(out.Buttons, channels.Button{Label: b.Label, Data: b.Data})
	}
	return out
}

// userKey identifies the sender across channels.
func userKey(msg *channels.IncomingMessage) string {
	id := msg.From
	if id == "" {
		id = msg.ChatID
	}
	return channels.Qualify(msg.Channel, id)
}

func displayName(msg *channels.IncomingMessage) string {
	if msg.FromName != "" {
		return msg.FromName
	}
	return "there"
}

// ---------- Per-user queue ----------

// userQueue runs one worker per busy user so a user's messages are handled
// in order while other users proceed.
type userQueue struct {
	mu      sync.Mutex
	pending map[string][]*channels.IncomingMessage
	wg      sync.WaitGroup
}

func newUserQueue() *userQueue {
	return &userQueue{pending: make(map[string][]*channels.IncomingMessage)}
}

func (q *userQueue) enqueue(user string, msg *channels.IncomingMessage, handle func(*channels.IncomingMessage)) {
	q.mu.Lock()
	if backlog, busy := q.pending[user]; busy {
		q.pending[user] = append(backlog, msg)
		q.mu.Unlock()
		return
	}
	q.pending[user] = nil
	q.mu.Unlock()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for next := msg; next != nil; next = q.pop(user) {
			handle(next)
		}
	}()
}

// pop returns the user's next message, or nil after retiring the worker.
func (q *userQueue) pop(user string) *channels.IncomingMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	backlog := q.pending[user]
	if len(backlog) == 0 {
		delete(q.pending, user)
		return nil
	}
	q.pending[user] = backlog[1:]
	return backlog[0]
}

func (q *userQueue) wait() { q.wg.Wait() }
