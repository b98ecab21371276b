package copilot

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/zoey/pkg/zoey/channels"
	"github.com/jholhewres/zoey/pkg/zoey/contacts"
	"github.com/jholhewres/zoey/pkg/zoey/database"
	"github.com/jholhewres/zoey/pkg/zoey/flow"
	"github.com/jholhewres/zoey/pkg/zoey/integrations/search"
	"github.com/jholhewres/zoey/pkg/zoey/scheduler"
)

// 2026-03-02 is a Monday.
var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// ---------- Fakes ----------

type sentMessage struct {
	to  string
	msg *channels.OutgoingMessage
}

type fakeChannel struct {
	mu     sync.Mutex
	acks   int
	typing int
}

func (f *fakeChannel) Name() string { return "telegram" }
func (f *fakeChannel) Connect(context.Context) error { return nil }
func (f *fakeChannel) Disconnect() error { return nil }
func (f *fakeChannel) Send(context.Context, string, *channels.OutgoingMessage) error { return nil }
func (f *fakeChannel) Receive() <-chan *channels.IncomingMessage { return nil }
func (f *fakeChannel) IsConnected() bool { return true }
func (f *fakeChannel) Health() channels.HealthStatus { return channels.HealthStatus{Connected: true} }

func (f *fakeChannel) AckCallback(context.Context, *channels.IncomingMessage, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks++
	return nil
}

func (f *fakeChannel) SendTyping(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing++
	return nil
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []sentMessage
	fail map[string]bool
	ch   *fakeChannel
}

func (f *fakeTransport) SendTo(_ context.Context, dest string, msg *channels.OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[dest] {
		return channels.ErrChannelDisconnected
	}
	f.sent = append(f.sent, sentMessage{to: dest, msg: msg})
	return nil
}

func (f *fakeTransport) Channel(string) (channels.Channel, bool) { return f.ch, true }

// take returns and clears everything sent so far.
func (f *fakeTransport) take() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sent
	f.sent = nil
	return out
}

type fakeResponder struct {
	mu    sync.Mutex
	reply string
	err   error
	texts []string
	hints [][]string
}

func (f *fakeResponder) GenerateReply(_ context.Context, _, text string, hints []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	f.hints = append(f.hints, hints)
	return f.reply, f.err
}

type fakeSearcher struct {
	kind  search.Kind
	query string
	err   error
}

func (f *fakeSearcher) Search(_ context.Context, kind search.Kind, query string) (string, error) {
	f.kind, f.query = kind, query
	if f.err != nil {
		return "", f.err
	}
	return "Play '" + query + "': https://open.spotify.com/x", nil
}

// ---------- Harness ----------

type harness struct {
	a         *Assistant
	transport *fakeTransport
	store     scheduler.ReminderStore
	contacts  *contacts.Directory
	users     *UserStore
	responder *fakeResponder
	searcher  *fakeSearcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "zoey.db"))
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.AdminID = "telegram:1"

	h := &harness{
		transport: &fakeTransport{ch: &fakeChannel{}, fail: map[string]bool{}},
		store:     scheduler.NewSQLiteReminderStore(db),
		contacts:  contacts.NewDirectory(db),
		users:     NewUserStore(db),
		responder: &fakeResponder{reply: "Hello!"},
		searcher:  &fakeSearcher{},
	}
	a, err := New(cfg, Deps{
		Store:     h.store,
		Contacts:  h.contacts,
		Users:     h.users,
		Transport: h.transport,
		Searcher:  h.searcher,
		Responder: h.responder,
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.SetClock(func() time.Time { return testNow })
	h.a = a
	return h
}

func textFrom(from, content string) *channels.IncomingMessage {
	return &channels.IncomingMessage{
		ID:       "m",
		Channel:  "telegram",
		From:     from,
		FromName: "Sam",
		ChatID:   from,
		Type:     channels.MessageText,
		Content:  content,
	}
}

func pressFrom(from, data string) *channels.IncomingMessage {
	m := textFrom(from, "")
	m.Type = channels.MessageCallback
	m.CallbackData = data
	return m
}

// say sends text as user 100 and returns the single reply.
func (h *harness) say(t *testing.T, content string) *channels.OutgoingMessage {
	t.Helper()
	return h.one(t, textFrom("100", content))
}

func (h *harness) one(t *testing.T, msg *channels.IncomingMessage) *channels.OutgoingMessage {
	t.Helper()
	h.a.HandleMessage(context.Background(), msg)
	sent := h.transport.take()
	if len(sent) != 1 {
		t.Fatalf("after %q got %d messages, want 1: %+v", msg.Content+msg.CallbackData, len(sent), sent)
	}
	if sent[0].to != msg.Destination() {
		t.Errorf("reply went to %q, want %q", sent[0].to, msg.Destination())
	}
	return sent[0].msg
}

func button(t *testing.T, out *channels.OutgoingMessage, label string) string {
	t.Helper()
	for _, b := range out.Buttons {
		if b.Label == label {
			return b.Data
		}
	}
	t.Fatalf("no %q button in %+v", label, out.Buttons)
	return ""
}

// ---------- Tests ----------

func TestAssistant_ReminderFlowWithQuickPicks(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	out := h.say(t, "/remind")
	if out.Content != "What should I remind you about?" {
		t.Fatalf("prompt = %q", out.Content)
	}
	out = h.say(t, "buy milk")
	if len(out.Buttons) != 4 {
		t.Fatalf("time buttons = %+v", out.Buttons)
	}

	// The time quick-pick fills the time and moves on to the date step.
	out = h.one(t, pressFrom("100", button(t, out, "15 min")))
	if out.Content != "Which day?" {
		t.Fatalf("date prompt = %q", out.Content)
	}
	if h.transport.ch.acks != 1 {
		t.Errorf("acks = %d, want 1", h.transport.ch.acks)
	}

	out = h.one(t, pressFrom("100", button(t, out, "Today")))
	if !strings.Contains(out.Content, "Task: buy milk") || !strings.Contains(out.Content, "10:15 AM on Monday, March 02, 2026") {
		t.Fatalf("summary = %q", out.Content)
	}

	out = h.one(t, pressFrom("100", button(t, out, "Confirm")))
	if !strings.HasPrefix(out.Content, "Got it! I'll remind you to buy milk") {
		t.Errorf("commit reply = %q", out.Content)
	}

	list, err := h.store.ListFor("telegram:100")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Task != "buy milk" || !list[0].DueAt.Equal(testNow.Add(15*time.Minute)) {
		t.Fatalf("stored = %+v", list)
	}
	if _, ok := h.a.Engine().Active("telegram:100"); ok {
		t.Error("session still active after commit")
	}
}

func TestAssistant_ReminderTimeAndDateCombine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		time   string
		date   string
		due    time.Time
		reason string
	}{
		{name: "relative tomorrow", time: "1 hour", date: "Tomorrow", due: testNow.Add(25 * time.Hour)},
		{name: "relative picked date", time: "in 30 minutes", date: "3/10/2026", due: time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC)},
		{name: "relative past day", time: "in 30 minutes", date: "3/1/2026", reason: "already passed"},
		{name: "absolute fills the date", time: "12/25/2026 2:30 PM", due: time.Date(2026, 12, 25, 14, 30, 0, 0, time.UTC)},
		{name: "absolute in the past", time: "12/25/2024 2:30 PM", reason: "already passed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)

			h.say(t, "/remind buy milk")
			out := h.say(t, tt.time)
			if tt.date != "" {
				if out.Content != "Which day?" {
					t.Fatalf("after time %q reply = %q, want the date prompt", tt.time, out.Content)
				}
				out = h.say(t, tt.date)
			}

			if tt.reason != "" {
				if !strings.Contains(out.Content, tt.reason) {
					t.Fatalf("reply = %q, want it to contain %q", out.Content, tt.reason)
				}
				s, ok := h.a.Engine().Active("telegram:100")
				if !ok || s.State != flow.StateCollecting {
					t.Errorf("session = %+v, %v; want still collecting", s, ok)
				}
				return
			}

			if !strings.HasPrefix(out.Content, "Please confirm your reminder:") {
				t.Fatalf("summary = %q", out.Content)
			}
			h.say(t, "confirm")
			list, _ := h.store.ListFor("telegram:100")
			if len(list) != 1 || !list[0].DueAt.Equal(tt.due) {
				t.Fatalf("stored = %+v, want one at %v", list, tt.due)
			}
		})
	}
}

func TestAssistant_ReminderClockTimeNeedsFutureDate(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.say(t, "set reminder")
	h.say(t, "stretch")
	out := h.say(t, "Type a time")
	if !strings.HasPrefix(out.Content, "Type a time") || len(out.Buttons) != 0 {
		t.Fatalf("manual prompt = %+v", out)
	}
	out = h.say(t, "9am")
	if out.Content != "Which day?" {
		t.Fatalf("date prompt = %q", out.Content)
	}

	// 9am today is already over at 10am.
	out = h.say(t, "Today")
	if !strings.Contains(out.Content, "already passed") {
		t.Fatalf("past date reply = %q", out.Content)
	}
	out = h.say(t, "tomorrow")
	if !strings.Contains(out.Content, "09:00 AM on Tuesday, March 03, 2026") {
		t.Fatalf("summary = %q", out.Content)
	}

	// Edit restarts collection.
	out = h.one(t, pressFrom("100", button(t, out, "Edit")))
	if out.Content != "What should I remind you about?" {
		t.Fatalf("edit prompt = %q", out.Content)
	}
	out = h.say(t, "cancel")
	if out.Content != "Okay, I cancelled the reminder." {
		t.Errorf("cancel = %q", out.Content)
	}
	if all, _ := h.store.All(); len(all) != 0 {
		t.Errorf("store = %+v, want empty", all)
	}
}

func TestAssistant_RemindShortcut(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text    string
		task    string
		due     time.Time
		flowMsg string
	}{
		{text: "remind me to call mom at 6pm", task: "call mom", due: time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)},
		{text: "Remind me to water the plants in 20 minutes", task: "water the plants", due: testNow.Add(20 * time.Minute)},
		{text: "remind me to stretch in 20 minutes please", task: "stretch", due: testNow.Add(20 * time.Minute)},
		{text: "remind me to check in on dad at 9:30am", task: "check in on dad", due: time.Date(2026, 3, 3, 9, 30, 0, 0, time.UTC)},
		{text: "remind me to stretch at blorp", task: "stretch", flowMsg: `I couldn't understand the time "blorp"`},
		{text: "remind me to buy milk", task: "buy milk", flowMsg: "When should I remind you?"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			out := h.say(t, tt.text)

			if tt.flowMsg != "" {
				if !strings.Contains(out.Content, tt.flowMsg) {
					t.Errorf("reply = %q, want it to contain %q", out.Content, tt.flowMsg)
				}
				s, ok := h.a.Engine().Active("telegram:100")
				if !ok || s.Variant != VariantReminder || s.Value("task") != tt.task {
					t.Errorf("session = %+v, %v", s, ok)
				}
				return
			}

			list, _ := h.store.ListFor("telegram:100")
			if len(list) != 1 {
				t.Fatalf("stored %d reminders, want 1 (reply %q)", len(list), out.Content)
			}
			if list[0].Task != tt.task || !list[0].DueAt.Equal(tt.due) {
				t.Errorf("reminder = %q at %v, want %q at %v", list[0].Task, list[0].DueAt, tt.task, tt.due)
			}
		})
	}
}

func TestAssistant_StaleButton(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	out := h.one(t, pressFrom("100", "flow:00000000-0000-0000-0000-000000000000:confirm"))
	if out.Content != flow.NoSessionText {
		t.Errorf("reply = %q", out.Content)
	}

	// A button from a replaced session is stale too.
	first := h.say(t, "/search")
	h.say(t, "/search")
	out = h.one(t, pressFrom("100", button(t, first, "Track")))
	if out.Content != flow.NoSessionText {
		t.Errorf("old session button reply = %q", out.Content)
	}
	if h.transport.ch.acks != 2 {
		t.Errorf("acks = %d, want 2", h.transport.ch.acks)
	}
}

func TestAssistant_ContactThenRelay(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.responder.reply = "Sam says dinner is ready!"

	h.say(t, "/addcontact")
	h.say(t, "Aunt May")
	out := h.say(t, "abc")
	if !strings.Contains(out.Content, "numbers") {
		t.Fatalf("non-numeric telegram id reply = %q", out.Content)
	}
	out = h.say(t, "200")
	if !strings.Contains(out.Content, "telegram:200") {
		t.Fatalf("summary = %q", out.Content)
	}
	out = h.say(t, "yes")
	if out.Content != "Saved auntmay to your contacts." {
		t.Fatalf("commit = %q", out.Content)
	}

	out = h.say(t, "tell aunt may that dinner is ready")
	if !strings.Contains(out.Content, "Send this to auntmay?") || !strings.Contains(out.Content, "dinner is ready") {
		t.Fatalf("relay summary = %q", out.Content)
	}

	h.a.HandleMessage(context.Background(), textFrom("100", "confirm"))
	sent := h.transport.take()
	if len(sent) != 2 {
		t.Fatalf("sent = %+v, want relay plus confirmation", sent)
	}
	if sent[0].to != "telegram:200" || sent[0].msg.Content != "Sam says dinner is ready!" {
		t.Errorf("relay = %+v", sent[0])
	}
	if sent[1].msg.Content != "Message sent to auntmay." {
		t.Errorf("confirmation = %q", sent[1].msg.Content)
	}
	if len(h.responder.texts) != 1 || !strings.Contains(h.responder.texts[0], "dinner is ready") {
		t.Errorf("rewrite prompts = %q", h.responder.texts)
	}
}

func TestAssistant_RelayFailureKeepsConfirming(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	if _, err := h.contacts.Add("telegram:100", "bob", "telegram:300"); err != nil {
		t.Fatal(err)
	}
	h.transport.fail["telegram:300"] = true
	h.responder.err = errors.New("offline")

	h.say(t, "send message")
	out := h.say(t, "bo")
	if out.Content != "What's the message?" {
		t.Fatalf("message prompt = %q", out.Content)
	}
	h.say(t, "hi")
	out = h.say(t, "confirm")
	if !strings.HasPrefix(out.Content, "Sorry, I couldn't complete that") {
		t.Fatalf("failure reply = %q", out.Content)
	}
	if s, ok := h.a.Engine().Active("telegram:100"); !ok || s.State != flow.StateConfirming {
		t.Errorf("session = %+v, %v; want confirming", s, ok)
	}
}

func TestAssistant_UnknownContactReprompts(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	out := h.say(t, "/relay")
	if len(out.Buttons) != 0 {
		t.Errorf("buttons with no contacts = %+v", out.Buttons)
	}
	out = h.say(t, "ghost")
	if !strings.Contains(out.Content, `I couldn't find a contact matching "ghost"`) {
		t.Errorf("reply = %q", out.Content)
	}
}

func TestAssistant_RelayShortcutUnknownContact(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	out := h.say(t, "tell bob that dinner is ready")
	if !strings.HasPrefix(out.Content, `I couldn't find a contact matching "bob".`) {
		t.Fatalf("reply = %q, want the lookup miss first", out.Content)
	}
	if !strings.Contains(out.Content, "Who should I send it to?") {
		t.Errorf("reply = %q, want the contact prompt", out.Content)
	}

	// The message survives; naming a saved contact goes straight to confirm.
	if _, err := h.contacts.Add("telegram:100", "Bob", "telegram:7"); err != nil {
		t.Fatal(err)
	}
	out = h.say(t, "bob")
	if !strings.HasPrefix(out.Content, "Send this to") || !strings.Contains(out.Content, "dinner is ready") {
		t.Errorf("summary = %q", out.Content)
	}
}

func TestAssistant_SearchFlowAndPlay(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	out := h.say(t, "search")
	out = h.one(t, pressFrom("100", button(t, out, "Podcast")))
	if out.Content != "What should I search for?" {
		t.Fatalf("query prompt = %q", out.Content)
	}
	h.say(t, "Radiolab")
	out = h.say(t, "ok")
	if !strings.Contains(out.Content, "Radiolab") || h.searcher.kind != search.KindPodcast {
		t.Errorf("result = %q kind %q", out.Content, h.searcher.kind)
	}

	out = h.say(t, "play artist Nina Simone")
	if h.searcher.kind != search.KindArtist || h.searcher.query != "Nina Simone" {
		t.Errorf("play searched %q for %q", h.searcher.kind, h.searcher.query)
	}
	if !strings.Contains(out.Content, "spotify") {
		t.Errorf("play reply = %q", out.Content)
	}

	h.searcher.err = search.ErrNotConfigured
	if out := h.say(t, "play something"); out.Content != "Music search isn't set up yet." {
		t.Errorf("unconfigured reply = %q", out.Content)
	}
}

func TestAssistant_Commands(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	if out := h.say(t, "/reminders"); out.Content != "You have no pending reminders." {
		t.Errorf("/reminders empty = %q", out.Content)
	}
	if _, err := h.store.Add("telegram:100", "pay rent", time.Date(2026, 3, 2, 15, 4, 0, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}
	want := "Your reminders:\n- pay rent at 03:04 PM on Monday, March 02, 2026"
	if out := h.say(t, "/reminders"); out.Content != want {
		t.Errorf("/reminders = %q, want %q", out.Content, want)
	}

	if out := h.say(t, "/viewcontacts"); !strings.Contains(out.Content, "no contacts") {
		t.Errorf("/viewcontacts empty = %q", out.Content)
	}
	if out := h.say(t, "/cancel"); out.Content != "There's nothing to cancel." {
		t.Errorf("/cancel = %q", out.Content)
	}
	if out := h.say(t, "/help@zoey_bot"); !strings.Contains(out.Content, "/remind") {
		t.Errorf("/help = %q", out.Content)
	}
	if out := h.say(t, "/start"); !strings.Contains(out.Content, "Your chat id is 100") {
		t.Errorf("/start = %q", out.Content)
	}
	if out := h.say(t, "/bogus"); !strings.Contains(out.Content, "I don't know /bogus") {
		t.Errorf("unknown = %q", out.Content)
	}

	// A command interrupts a running flow.
	h.say(t, "/remind")
	if out := h.say(t, "/viewcontacts"); !strings.Contains(out.Content, "no contacts") {
		t.Errorf("command during flow = %q", out.Content)
	}
}

func TestAssistant_Broadcast(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.say(t, "hi") // registers user 100
	if out := h.say(t, "/broadcast hello all"); out.Content != "Sorry, only the admin can broadcast." {
		t.Fatalf("non-admin = %q", out.Content)
	}

	admin := textFrom("1", "/broadcast")
	if out := h.one(t, admin); out.Content != "Usage: /broadcast <message>" {
		t.Errorf("empty broadcast = %q", out.Content)
	}

	h.a.HandleMessage(context.Background(), textFrom("1", "/broadcast Maintenance at noon"))
	sent := h.transport.take()
	got := map[string]string{}
	for _, s := range sent {
		got[s.to] = s.msg.Content
	}
	if got["telegram:100"] != "Maintenance at noon" || got["telegram:1"] != "Broadcast sent to 2 of 2 users." {
		t.Errorf("broadcast sends = %v", got)
	}
}

func TestAssistant_ConverseAndConcise(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.responder.reply = "See [docs](https://a.example) and [again](https://a.example)\n## Sources\nignored"

	h.a.HandleMessage(context.Background(), textFrom("100", "how do plants grow?"))
	sent := h.transport.take()
	if len(sent) != 2 {
		t.Fatalf("sent = %+v", sent)
	}
	if strings.Contains(sent[0].msg.Content, "Sources") || sent[1].msg.Content != "https://a.example" {
		t.Errorf("reply parts = %q, %q", sent[0].msg.Content, sent[1].msg.Content)
	}
	if h.transport.ch.typing != 1 {
		t.Errorf("typing = %d", h.transport.ch.typing)
	}

	if out := h.say(t, "/concise"); !strings.Contains(out.Content, "short") {
		t.Fatalf("/concise = %q", out.Content)
	}
	h.responder.reply = "Sunlight."
	h.say(t, "and water?")
	last := h.responder.hints[len(h.responder.hints)-1]
	if len(last) != 1 || !strings.Contains(last[0], "concisely") {
		t.Errorf("hints = %q", last)
	}

	h.responder.err = errors.New("boom")
	if out := h.say(t, "again?"); !strings.Contains(out.Content, "can't answer") {
		t.Errorf("error reply = %q", out.Content)
	}
}

func TestAssistant_TimeQuestions(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	if out := h.say(t, "What time is it?"); out.Content != "It's 10:00 AM." {
		t.Errorf("time = %q", out.Content)
	}
	if out := h.say(t, "what's the date today"); out.Content != "Today is Monday, March 02, 2026." {
		t.Errorf("date = %q", out.Content)
	}
	for _, q := range []string{"tell me the time", "Current time?", "time now", "what is the time now"} {
		if out := h.say(t, q); out.Content != "It's 10:00 AM." {
			t.Errorf("%q = %q", q, out.Content)
		}
	}
	for _, q := range []string{"Tell me the date.", "current date", "date now"} {
		if out := h.say(t, q); out.Content != "Today is Monday, March 02, 2026." {
			t.Errorf("%q = %q", q, out.Content)
		}
	}
	// "tell me ..." is not a relay.
	h.say(t, "tell me a joke")
	if _, ok := h.a.Engine().Active("telegram:100"); ok {
		t.Error("tell me started a relay flow")
	}
}

func TestAssistant_SendReminder(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	err := h.a.SendReminder(context.Background(), &scheduler.Reminder{Destination: "telegram:9", Task: "stand up"})
	if err != nil {
		t.Fatal(err)
	}
	sent := h.transport.take()
	if len(sent) != 1 || sent[0].to != "telegram:9" || sent[0].msg.Content != "Reminder: stand up" {
		t.Errorf("sent = %+v", sent)
	}
}

func TestAssistant_ReminderDeliveredTwoHoursLater(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.say(t, "remind me to call mom in 2 hours")

	d := scheduler.NewDispatcher(h.store, h.a, scheduler.DispatcherConfig{}, nil)
	if res := d.RunCycle(context.Background(), testNow.Add(time.Hour)); res.Due != 0 {
		t.Fatalf("one hour in: due = %d, want 0", res.Due)
	}
	res := d.RunCycle(context.Background(), testNow.Add(2*time.Hour))
	if res.Delivered != 1 {
		t.Fatalf("two hours in: %+v, want one delivery", res)
	}

	sent := h.transport.take()
	if len(sent) != 1 || sent[0].to != "telegram:100" || sent[0].msg.Content != "Reminder: call mom" {
		t.Errorf("sent = %+v", sent)
	}
	all, _ := h.store.All()
	if len(all) != 0 {
		t.Errorf("store still holds %d reminders", len(all))
	}
}

func TestAssistant_RunKeepsPerUserOrder(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	in := make(chan *channels.IncomingMessage)
	done := make(chan struct{})
	go func() {
		h.a.Run(context.Background(), in)
		close(done)
	}()

	// Each user walks the contact flow; out-of-order handling would break it.
	for _, user := range []string{"100", "101", "102"} {
		for _, text := range []string{"/addcontact", "Pat", "42", "yes"} {
			in <- textFrom(user, text)
		}
	}
	close(in)
	<-done

	for _, user := range []string{"100", "101", "102"} {
		c, err := h.contacts.Find("telegram:"+user, "pat")
		if err != nil || c.Destination != "telegram:42" {
			t.Errorf("user %s contact = %+v, %v", user, c, err)
		}
	}
}

func TestUserQueue_Order(t *testing.T) {
	t.Parallel()
	q := newUserQueue()

	var mu sync.Mutex
	got := map[string][]string{}
	handle := func(m *channels.IncomingMessage) {
		time.Sleep(time.Millisecond)
		mu.Lock()
		got[m.From] = append(got[m.From], m.Content)
		mu.Unlock()
	}
	for i := 0; i < 20; i++ {
		for _, u := range []string{"a", "b"} {
			q.enqueue(u, &channels.IncomingMessage{From: u, Content: string(rune('A' + i))}, handle)
		}
	}
	q.wait()

	for _, u := range []string{"a", "b"} {
		if s := strings.Join(got[u], ""); s != "ABCDEFGHIJKLMNOPQRST" {
			t.Errorf("user %s order = %q", u, s)
		}
	}
	if len(q.pending) != 0 {
		t.Errorf("pending = %v, want empty", q.pending)
	}
}
