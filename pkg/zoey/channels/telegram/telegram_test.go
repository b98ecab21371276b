package telegram

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/zoey/pkg/zoey/channels"
)

// fakeBotAPI serves a minimal Bot API and records every call.
type fakeBotAPI struct {
	mu      sync.Mutex
	calls   map[string][]map[string]any
	updates []tgUpdate
}

func (f *fakeBotAPI) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/botTOKEN/") {
			http.NotFound(w, r)
			return
		}
		method := strings.TrimPrefix(r.URL.Path, "/botTOKEN/")
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		json.Unmarshal(body, &payload)

		f.mu.Lock()
		if f.calls == nil {
			f.calls = make(map[string][]map[string]any)
		}
		f.calls[method] = append(f.calls[method], payload)
		var result any = true
		idle := false
		switch method {
		case "getMe":
			result = tgBotUser{ID: 1, IsBot: true, Username: "zoey_bot"}
		case "getUpdates":
			result = f.updates
			idle = len(f.updates) == 0
			f.updates = nil
		case "sendMessage":
			if payload["chat_id"] == float64(500) {
				f.mu.Unlock()
				json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "Forbidden: bot was blocked by the user"})
				return
			}
			result = map[string]any{"message_id": 99}
		}
		f.mu.Unlock()

		if idle {
			time.Sleep(20 * time.Millisecond)
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
	})
}

func (f *fakeBotAPI) callsTo(method string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func newTestTelegram(t *testing.T, api *fakeBotAPI, cfg Config) *Telegram {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)

	cfg.Token = "TOKEN"
	cfg.APIURL = srv.URL
	cfg.PollTimeout = 1
	tg := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := tg.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { tg.Disconnect() })
	return tg
}

func receive(t *testing.T, tg *Telegram) *channels.IncomingMessage {
	t.Helper()
	select {
	case msg := <-tg.Receive():
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestConnect_RequiresToken(t *testing.T) {
	t.Parallel()
	if err := New(Config{}, nil).Connect(context.Background()); err == nil {
		t.Error("Connect without token should fail")
	}
}

func TestTelegram_ReceivesTextAndCallbacks(t *testing.T) {
	t.Parallel()

	api := &fakeBotAPI{updates: []tgUpdate{
		{
			UpdateID: 10,
			Message: &tgMessage{
				MessageID: 3,
				From:      &tgUser{ID: 42, FirstName: "Ada", LastName: "L"},
				Chat:      tgChat{ID: 42, Type: "private"},
				Date:      1700000000,
				Text:      "remind me to stretch in 5 minutes",
			},
		},
		{
			UpdateID: 11,
			Message: &tgMessage{
				MessageID: 4,
				From:      &tgUser{ID: 43},
				Chat:      tgChat{ID: -100, Type: "supergroup"},
				Text:      "group chatter",
			},
		},
		{
			UpdateID: 12,
			CallbackQuery: &tgCallbackQuery{
				ID:      "cb-1",
				From:    tgUser{ID: 42, Username: "ada"},
				Message: &tgMessage{MessageID: 5, Chat: tgChat{ID: 42, Type: "private"}},
				Data:    "flow:abc:confirm",
			},
		},
	}}
	tg := newTestTelegram(t, api, DefaultConfig())

	text := receive(t, tg)
	if text.Type != channels.MessageText || text.Content != "remind me to stretch in 5 minutes" {
		t.Errorf("text message = %+v", text)
	}
	if text.Destination() != "telegram:42" || text.FromName != "Ada L" {
		t.Errorf("destination=%q name=%q", text.Destination(), text.FromName)
	}

	// The group message is filtered out, so the callback comes next.
	cb := receive(t, tg)
	if cb.Type != channels.MessageCallback || cb.CallbackData != "flow:abc:confirm" || cb.ID != "cb-1" {
		t.Errorf("callback = %+v", cb)
	}
	if cb.FromName != "ada" {
		t.Errorf("callback FromName = %q", cb.FromName)
	}

	if err := tg.AckCallback(context.Background(), cb, ""); err != nil {
		t.Fatalf("AckCallback: %v", err)
	}
	acks := api.callsTo("answerCallbackQuery")
	if len(acks) != 1 || acks[0]["callback_query_id"] != "cb-1" {
		t.Errorf("answerCallbackQuery calls = %v", acks)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		polls := api.callsTo("getUpdates")
		if len(polls) >= 2 && polls[len(polls)-1]["offset"] == float64(13) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("offset not advanced: %v", polls)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTelegram_SendWithButtons(t *testing.T) {
	t.Parallel()

	api := &fakeBotAPI{}
	tg := newTestTelegram(t, api, DefaultConfig())

	err := tg.Send(context.Background(), "42", &channels.OutgoingMessage{
		Content: "When?",
		Buttons: []channels.Button{
			{Label: "15 min", Data: "flow:s:opt.1.0"},
			{Label: "Type a time", Data: "flow:s:opt.1.3"},
		},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	sent := api.callsTo("sendMessage")
	if len(sent) != 1 {
		t.Fatalf("sendMessage calls = %d", len(sent))
	}
	if sent[0]["text"] != "When?" || sent[0]["chat_id"] != float64(42) {
		t.Errorf("payload = %v", sent[0])
	}
	markup, _ := sent[0]["reply_markup"].(map[string]any)
	rows, _ := markup["inline_keyboard"].([]any)
	if len(rows) != 2 {
		t.Fatalf("keyboard rows = %v", markup)
	}
	first := rows[0].([]any)[0].(map[string]any)
	if first["text"] != "15 min" || first["callback_data"] != "flow:s:opt.1.0" {
		t.Errorf("first button = %v", first)
	}
}

func TestTelegram_SendErrors(t *testing.T) {
	t.Parallel()

	api := &fakeBotAPI{}
	tg := newTestTelegram(t, api, DefaultConfig())
	ctx := context.Background()

	if err := tg.Send(ctx, "not-a-number", &channels.OutgoingMessage{Content: "x"}); err == nil {
		t.Error("invalid chat id should fail")
	}
	err := tg.Send(ctx, "500", &channels.OutgoingMessage{Content: "x"})
	if err == nil || !strings.Contains(err.Error(), "blocked") {
		t.Errorf("API error = %v, want description surfaced", err)
	}
	long := &channels.OutgoingMessage{Content: "x", Buttons: []channels.Button{{Label: "b", Data: strings.Repeat("x", 65)}}}
	if err := tg.Send(ctx, "42", long); err == nil {
		t.Error("oversized callback data should fail")
	}

	tg.Disconnect()
	if err := tg.Send(ctx, "42", &channels.OutgoingMessage{Content: "x"}); err != channels.ErrChannelDisconnected {
		t.Errorf("Send after Disconnect = %v", err)
	}
}

func TestTelegram_AllowedChats(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.AllowedChats = []int64{7}
	api := &fakeBotAPI{updates: []tgUpdate{
		{UpdateID: 1, Message: &tgMessage{MessageID: 1, Chat: tgChat{ID: 8, Type: "private"}, Text: "blocked"}},
		{UpdateID: 2, Message: &tgMessage{MessageID: 2, Chat: tgChat{ID: 7, Type: "private"}, Text: "allowed"}},
	}}
	tg := newTestTelegram(t, api, cfg)

	if msg := receive(t, tg); msg.Content != "allowed" {
		t.Errorf("first delivered = %q, want allowed", msg.Content)
	}
}
