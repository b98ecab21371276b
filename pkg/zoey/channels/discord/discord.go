// Package discord implements the Discord channel using discordgo.
//
// Features:
//   - Send/receive text in DMs and guild channels
//   - Flow quick-picks rendered as message buttons
//   - Button interactions surfaced as channels.MessageCallback
//   - Typing indicators
//   - Guild and channel allowlists
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jholhewres/zoey/pkg/zoey/channels"
)

// Discord limits.
const (
	maxMessageLen  = 2000
	maxCustomID    = 100
	buttonsPerRow  = 5
	maxActionsRows = 5
)

// Config holds Discord channel configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// AllowedGuilds restricts which guild IDs the bot responds in.
	// Empty means respond in all guilds.
	AllowedGuilds []string `yaml:"allowed_guilds"`

	// AllowedChannels restricts which channel IDs the bot responds in.
	// Empty means respond in all channels.
	AllowedChannels []string `yaml:"allowed_channels"`
}

// Discord implements channels.Channel.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	messages chan *channels.IncomingMessage

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64
}

// New creates a Discord channel.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		cfg:      cfg,
		logger:   logger.With("component", "discord"),
		messages: make(chan *channels.IncomingMessage, 256),
	}
}

// ---------- Channel Interface ----------

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Connect opens the Discord gateway connection.
func (d *Discord) Connect(_ context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}
	if d.connected.Load() {
		return nil
	}

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(d.onMessageCreate)
	session.AddHandler(d.onInteractionCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}

	d.session = session
	d.connected.Store(true)

	user := session.State.User
	d.logger.Info("discord: connected", "bot", user.Username, "id", user.ID)
	return nil
}

// Disconnect closes the gateway connection.
func (d *Discord) Disconnect() error {
	if d.session != nil {
		d.session.Close()
	}
	d.connected.Store(false)
	d.logger.Info("discord: disconnected")
	return nil
}

// Send sends text to a Discord channel id. Long texts are split; buttons go
// on the last chunk.
func (d *Discord) Send(_ context.Context, to string, message *channels.OutgoingMessage) error {
	if d.session == nil || !d.connected.Load() {
		return channels.ErrChannelDisconnected
	}

	components, err := buildComponents(message.Buttons)
	if err != nil {
		return err
	}

	chunks := splitMessage(message.Content, maxMessageLen)
	for i, chunk := range chunks {
		msgSend := &discordgo.MessageSend{Content: chunk}
		if i == 0 && message.ReplyTo != "" {
			msgSend.Reference = &discordgo.MessageReference{MessageID: message.ReplyTo}
		}
		if i == len(chunks)-1 && len(components) > 0 {
			msgSend.Components = components
		}
		if _, err := d.session.ChannelMessageSendComplex(to, msgSend); err != nil {
			d.errorCount.Add(1)
			return fmt.Errorf("discord: send: %w", err)
		}
	}
	return nil
}

// Receive returns the incoming messages channel.
func (d *Discord) Receive() <-chan *channels.IncomingMessage {
	return d.messages
}

// IsConnected returns true if the bot is connected.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

// Health returns the channel health status.
func (d *Discord) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := d.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     d.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(d.errorCount.Load()),
	}
}

// SendTyping sends a typing indicator to the channel.
func (d *Discord) SendTyping(_ context.Context, to string) error {
	if d.session == nil {
		return nil
	}
	return d.session.ChannelTyping(to)
}

// AckCallback acknowledges a button interaction. The message is left as is;
// the flow reply arrives as a new message.
func (d *Discord) AckCallback(_ context.Context, msg *channels.IncomingMessage, text string) error {
	if d.session == nil {
		return channels.ErrChannelDisconnected
	}
	interaction, ok := msg.Metadata["interaction"].(*discordgo.Interaction)
	if !ok {
		return fmt.Errorf("discord: callback %s has no interaction", msg.ID)
	}
	resp := &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate}
	if text != "" {
		resp = &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: text,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		}
	}
	return d.session.InteractionRespond(interaction, resp)
}

// ---------- Event Handlers ----------

func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	incoming := d.fromMessage(s.State.User.ID, m)
	if incoming == nil {
		return
	}
	d.deliver(incoming)
}

func (d *Discord) onInteractionCreate(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	incoming := d.fromInteraction(i)
	if incoming == nil {
		return
	}
	d.deliver(incoming)
}

func (d *Discord) deliver(incoming *channels.IncomingMessage) {
	d.lastMsg.Store(time.Now())
	select {
	case d.messages <- incoming:
	default:
		d.logger.Warn("discord: message buffer full, dropping message", "msg_id", incoming.ID)
	}
}

// fromMessage converts a MessageCreate event, or returns nil when the
// message must be ignored.
func (d *Discord) fromMessage(botID string, m *discordgo.MessageCreate) *channels.IncomingMessage {
	if m.Author == nil || m.Author.ID == botID || m.Author.Bot {
		return nil
	}
	if strings.TrimSpace(m.Content) == "" || !d.allowed(m.GuildID, m.ChannelID) {
		return nil
	}
	return &channels.IncomingMessage{
		ID:        m.ID,
		Channel:   "discord",
		From:      m.Author.ID,
		FromName:  m.Author.Username,
		ChatID:    m.ChannelID,
		IsGroup:   m.GuildID != "",
		Type:      channels.MessageText,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
}

// fromInteraction converts a button interaction into a callback message.
func (d *Discord) fromInteraction(i *discordgo.InteractionCreate) *channels.IncomingMessage {
	if i.Interaction == nil || i.Type != discordgo.InteractionMessageComponent {
		return nil
	}
	if !d.allowed(i.GuildID, i.ChannelID) {
		return nil
	}
	data := i.MessageComponentData()
	if data.CustomID == "" {
		return nil
	}

	var user *discordgo.User
	if i.Member != nil && i.Member.User != nil {
		user = i.Member.User
	} else if i.User != nil {
		user = i.User
	}
	if user == nil {
		return nil
	}

	return &channels.IncomingMessage{
		ID:           i.ID,
		Channel:      "discord",
		From:         user.ID,
		FromName:     user.Username,
		ChatID:       i.ChannelID,
		IsGroup:      i.GuildID != "",
		Type:         channels.MessageCallback,
		CallbackData: data.CustomID,
		Timestamp:    time.Now(),
		Metadata:     map[string]any{"interaction": i.Interaction},
	}
}

func (d *Discord) allowed(guildID, channelID string) bool {
	if len(d.cfg.AllowedGuilds) > 0 && guildID != "" && !slices.Contains(d.cfg.AllowedGuilds, guildID) {
		return false
	}
	if len(d.cfg.AllowedChannels) > 0 && !slices.Contains(d.cfg.AllowedChannels, channelID) {
		return false
	}
	return true
}

// ---------- Helpers ----------

// buildComponents lays buttons out in action rows of up to five.
func buildComponents(buttons []channels.Button) ([]discordgo.MessageComponent, error) {
	if len(buttons) == 0 {
		return nil, nil
	}
	if len(buttons) > buttonsPerRow*maxActionsRows {
		return nil, fmt.Errorf("discord: %d buttons exceed the %d button limit", len(buttons), buttonsPerRow*maxActionsRows)
	}

	var rows []discordgo.MessageComponent
	for chunk := range slices.Chunk(buttons, buttonsPerRow) {
		row := discordgo.ActionsRow{}
		for _, b := range chunk {
			id := b.Data
			if id == "" {
				id = b.Label
			}
			if len(id) > maxCustomID {
				return nil, fmt.Errorf("discord: custom id for %q exceeds %d bytes", b.Label, maxCustomID)
			}
			row.Components = append(row.Components, discordgo.Button{
				CustomID: id,
				Label:    b.Label,
				Style:    buttonStyle(b.Label),
			})
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func buttonStyle(label string) discordgo.ButtonStyle {
	switch strings.ToLower(label) {
	case "confirm":
		return discordgo.SuccessButton
	case "cancel":
		return discordgo.DangerButton
	default:
		return discordgo.SecondaryButton
	}
}

// splitMessage splits text into chunks of at most maxLen bytes, preferring
// newline boundaries.
func splitMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

var (
	_ channels.Channel              = (*Discord)(nil)
	_ channels.CallbackAcknowledger = (*Discord)(nil)
	_ channels.TypingChannel        = (*Discord)(nil)
)
