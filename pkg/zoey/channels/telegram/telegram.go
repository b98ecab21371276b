// Package telegram implements the Telegram channel using the Bot API
// directly over HTTP.
//
// Features:
//   - Long polling for updates (getUpdates)
//   - Plain text messages with inline keyboard buttons
//   - Callback queries surfaced as channels.MessageCallback
//   - Typing indicators (sendChatAction)
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jholhewres/zoey/pkg/zoey/channels"
)

// DefaultAPIURL is the public Bot API endpoint.
const DefaultAPIURL = "https://api.telegram.org"

// maxCallbackData is the Bot API limit for callback_data.
const maxCallbackData = 64

// Config holds Telegram channel configuration.
type Config struct {
	// Token is the Bot API token (from @BotFather).
	Token string `yaml:"token"`

	// APIURL overrides the Bot API endpoint. Defaults to DefaultAPIURL.
	APIURL string `yaml:"api_url"`

	// AllowedChats restricts which chat IDs the bot responds to.
	// Empty means respond to all chats.
	AllowedChats []int64 `yaml:"allowed_chats"`

	// RespondToGroups enables responding in group chats.
	RespondToGroups bool `yaml:"respond_to_groups"`

	// PollTimeout is the long-poll timeout in seconds.
	PollTimeout int `yaml:"poll_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		APIURL:      DefaultAPIURL,
		PollTimeout: 30,
	}
}

// Telegram implements channels.Channel.
type Telegram struct {
	cfg    Config
	logger *slog.Logger
	client *http.Client

	// baseURL is <api url>/bot<token>.
	baseURL string

	messages chan *channels.IncomingMessage

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	// offset is the last processed update ID + 1. Only pollLoop touches it.
	offset int64

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Telegram channel.
func New(cfg Config, logger *slog.Logger) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30
	}
	return &Telegram{
		cfg:      cfg,
		logger:   logger.With("component", "telegram"),
		client:   &http.Client{Timeout: time.Duration(cfg.PollTimeout+30) * time.Second},
		baseURL:  strings.TrimRight(cfg.APIURL, "/") + "/bot" + cfg.Token,
		messages: make(chan *channels.IncomingMessage, 256),
	}
}

// ---------- Channel Interface ----------

// Name returns "telegram".
func (t *Telegram) Name() string { return "telegram" }

// Connect verifies the token and starts the long-polling loop.
func (t *Telegram) Connect(ctx context.Context) error {
	if t.cfg.Token == "" {
		return fmt.Errorf("telegram: bot token is required")
	}
	if t.connected.Load() {
		return nil
	}

	t.ctx, t.cancel = context.WithCancel(ctx)

	me, err := t.getMe(t.ctx)
	if err != nil {
		t.cancel()
		return fmt.Errorf("telegram: failed to verify token: %w", err)
	}
	t.logger.Info("telegram: connected", "bot", me.Username, "id", me.ID)
	t.connected.Store(true)

	go t.pollLoop()
	return nil
}

// Disconnect stops the polling loop.
func (t *Telegram) Disconnect() error {
	if t.cancel != nil {
		t.cancel()
	}
	t.connected.Store(false)
	t.logger.Info("telegram: disconnected")
	return nil
}

// Send sends a plain text message, with an inline keyboard when the message
// carries buttons.
func (t *Telegram) Send(ctx context.Context, to string, message *channels.OutgoingMessage) error {
	if !t.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat ID %q: %w", to, err)
	}

	payload := map[string]any{
		"chat_id": chatID,
		"text":    message.Content,
	}
	if message.ReplyTo != "" {
		if msgID, e := strconv.ParseInt(message.ReplyTo, 10, 64); e == nil {
			payload["reply_parameters"] = map[string]any{"message_id": msgID}
		}
	}
	if len(message.Buttons) > 0 {
		markup, err := buildReplyMarkup(message.Buttons)
		if err != nil {
			return err
		}
		payload["reply_markup"] = markup
	}

	_, err = t.apiCall(ctx, "sendMessage", payload)
	return err
}

// Receive returns the incoming messages channel.
func (t *Telegram) Receive() <-chan *channels.IncomingMessage {
	return t.messages
}

// IsConnected returns true if the bot is connected.
func (t *Telegram) IsConnected() bool { return t.connected.Load() }

// Health returns the channel health status.
func (t *Telegram) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := t.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     t.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(t.errorCount.Load()),
	}
}

// AckCallback answers a callback query so the client stops its spinner.
// A non-empty text is shown as a toast.
func (t *Telegram) AckCallback(ctx context.Context, msg *channels.IncomingMessage, text string) error {
	payload := map[string]any{"callback_query_id": msg.ID}
	if text != "" {
		payload["text"] = text
	}
	_, err := t.apiCall(ctx, "answerCallbackQuery", payload)
	return err
}

// SendTyping sends a "typing..." chat action.
func (t *Telegram) SendTyping(ctx context.Context, to string) error {
	if !t.connected.Load() {
		return nil
	}
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return nil
	}
	_, err = t.apiCall(ctx, "sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  "typing",
	})
	return err
}

// ---------- Internal Methods ----------

// buildReplyMarkup renders buttons as an inline keyboard, one button per row.
func buildReplyMarkup(buttons []channels.Button) (map[string]any, error) {
	rows := make([][]map[string]any, 0, len(buttons))
	for _, b := range buttons {
		if len(b.Data) > maxCallbackData {
			return nil, fmt.Errorf("telegram: callback data for %q exceeds %d bytes", b.Label, maxCallbackData)
		}
		data := b.Data
		if data == "" {
			data = b.Label
		}
		rows = append(rows, []map[string]any{{"text": b.Label, "callback_data": data}})
	}
	return map[string]any{"inline_keyboard": rows}, nil
}

// pollLoop runs the getUpdates long-polling loop, backing off on errors.
func (t *Telegram) pollLoop() {
	t.logger.Info("telegram: polling started")

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	for {
		select {
		case <-t.ctx.Done():
			t.logger.Info("telegram: polling stopped")
			return
		default:
		}

		updates, err := t.getUpdates(t.ctx, t.offset, 100, t.cfg.PollTimeout)
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			t.errorCount.Add(1)
			wait := bo.NextBackOff()
			t.logger.Warn("telegram: getUpdates error", "error", err, "backoff", wait)
			select {
			case <-t.ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}

		bo.Reset()
		t.errorCount.Store(0)

		for _, u := range updates {
			if u.UpdateID >= t.offset {
				t.offset = u.UpdateID + 1
			}
			t.processUpdate(u)
		}
	}
}

// processUpdate converts a Telegram update into an IncomingMessage.
func (t *Telegram) processUpdate(u tgUpdate) {
	var incoming *channels.IncomingMessage
	switch {
	case u.CallbackQuery != nil:
		incoming = t.fromCallback(u.CallbackQuery)
	case u.Message != nil:
		incoming = t.fromMessage(u.Message)
	}
	if incoming == nil {
		return
	}

	t.lastMsg.Store(time.Now())
	select {
	case t.messages <- incoming:
	default:
		t.logger.Warn("telegram: message buffer full, dropping message", "msg_id", incoming.ID)
	}
}

func (t *Telegram) fromMessage(msg *tgMessage) *channels.IncomingMessage {
	if msg.Text == "" || !t.accepts(msg.Chat) {
		return nil
	}
	from, fromName := sender(msg.From)
	return &channels.IncomingMessage{
		ID:        strconv.Itoa(msg.MessageID),
		Channel:   "telegram",
		From:      from,
		FromName:  fromName,
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		IsGroup:   msg.Chat.isGroup(),
		Type:      channels.MessageText,
		Content:   msg.Text,
		Timestamp: time.Unix(int64(msg.Date), 0),
	}
}

func (t *Telegram) fromCallback(cq *tgCallbackQuery) *channels.IncomingMessage {
	if cq.Message == nil || !t.accepts(cq.Message.Chat) {
		return nil
	}
	from, fromName := sender(&cq.From)
	return &channels.IncomingMessage{
		ID:           cq.ID,
		Channel:      "telegram",
		From:         from,
		FromName:     fromName,
		ChatID:       strconv.FormatInt(cq.Message.Chat.ID, 10),
		IsGroup:      cq.Message.Chat.isGroup(),
		Type:         channels.MessageCallback,
		CallbackData: cq.Data,
		Timestamp:    time.Now(),
		Metadata:     map[string]any{"message_id": cq.Message.MessageID},
	}
}

// accepts applies the chat and group filters.
func (t *Telegram) accepts(chat tgChat) bool {
	if len(t.cfg.AllowedChats) > 0 && !slices.Contains(t.cfg.AllowedChats, chat.ID) {
		return false
	}
	if chat.isGroup() && !t.cfg.RespondToGroups {
		return false
	}
	return true
}

func sender(u *tgUser) (id, name string) {
	if u == nil {
		return "", ""
	}
	id = strconv.FormatInt(u.ID, 10)
	name = strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	return id, name
}

// ---------- Telegram Bot API Types ----------

type tgUpdate struct {
	UpdateID      int64            `json:"update_id"`
	Message       *tgMessage       `json:"message"`
	CallbackQuery *tgCallbackQuery `json:"callback_query"`
}

type tgCallbackQuery struct {
	ID      string     `json:"id"`
	From    tgUser     `json:"from"`
	Message *tgMessage `json:"message"`
	Data    string     `json:"data"`
}

type tgMessage struct {
	MessageID int     `json:"message_id"`
	From      *tgUser `json:"from"`
	Chat      tgChat  `json:"chat"`
	Date      int     `json:"date"`
	Text      string  `json:"text"`
}

type tgUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
	IsBot     bool   `json:"is_bot"`
}

type tgChat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"` // "private", "group", "supergroup", "channel"
	Title string `json:"title"`
}

func (c tgChat) isGroup() bool { return c.Type == "group" || c.Type == "supergroup" }

type tgBotUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// ---------- API Helpers ----------

// apiCall makes a POST request to the Bot API and returns its result.
func (t *Telegram) apiCall(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error) {
	url := t.baseURL + "/" + method
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("telegram: marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("telegram: creating request for %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("telegram: decoding %s response: %w", method, err)
	}
	if !result.OK {
		return nil, fmt.Errorf("telegram: %s: %s", method, result.Description)
	}
	return result.Result, nil
}

func (t *Telegram) getMe(ctx context.Context) (*tgBotUser, error) {
	data, err := t.apiCall(ctx, "getMe", nil)
	if err != nil {
		return nil, err
	}
	var user tgBotUser
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("telegram: parsing getMe: %w", err)
	}
	return &user, nil
}

func (t *Telegram) getUpdates(ctx context.Context, offset int64, limit, timeoutSecs int) ([]tgUpdate, error) {
	payload := map[string]any{
		"offset":          offset,
		"limit":           limit,
		"timeout":         timeoutSecs,
		"allowed_updates": []string{"message", "callback_query"},
	}
	data, err := t.apiCall(ctx, "getUpdates", payload)
	if err != nil {
		return nil, err
	}
	var updates []tgUpdate
	if err := json.Unmarshal(data, &updates); err != nil {
		return nil, fmt.Errorf("telegram: parsing updates: %w", err)
	}
	return updates, nil
}

var (
	_ channels.Channel              = (*Telegram)(nil)
	_ channels.CallbackAcknowledger = (*Telegram)(nil)
	_ channels.TypingChannel        = (*Telegram)(nil)
)
