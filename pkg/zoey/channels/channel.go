// Package channels defines the transport interfaces and message types Zoey
// uses to talk to users. Each transport (Telegram, Discord, console)
// implements Channel; the Manager aggregates them into one inbound stream
// and routes outbound messages by qualified destination.
package channels

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MessageType identifies the kind of inbound event.
type MessageType string

const (
	// MessageText is typed text.
	MessageText MessageType = "text"

	// MessageCallback is a button press. CallbackData carries the payload.
	MessageCallback MessageType = "callback"
)

// Channel defines the interface that every transport must implement.
type Channel interface {
	// Name returns the channel identifier (e.g. "telegram", "discord").
	Name() string

	// Connect establishes the connection to the messaging platform.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Send sends a message to a chat id on this channel.
	Send(ctx context.Context, to string, message *OutgoingMessage) error

	// Receive returns a Go channel that emits incoming messages.
	Receive() <-chan *IncomingMessage

	// IsConnected returns true if the channel is connected.
	IsConnected() bool

	// Health returns the channel health status.
	Health() HealthStatus
}

// CallbackAcknowledger is implemented by transports that must acknowledge
// button presses (Telegram's answerCallbackQuery).
type CallbackAcknowledger interface {
	AckCallback(ctx context.Context, msg *IncomingMessage, text string) error
}

// TypingChannel is implemented by transports with a typing indicator.
type TypingChannel interface {
	SendTyping(ctx context.Context, to string) error
}

// IncomingMessage represents a message or button press from any channel.
type IncomingMessage struct {
	// ID is the unique message (or callback query) identifier.
	ID string

	// Channel identifies the source channel (e.g. "telegram").
	Channel string

	// From is the sender identifier on the platform.
	From string

	// FromName is the sender display name (if available).
	FromName string

	// ChatID is the chat replies should go to.
	ChatID string

	// IsGroup indicates whether the message is from a group chat.
	IsGroup bool

	Type MessageType

	// Content is the text of the message.
	Content string

	// CallbackData is the opaque button payload for MessageCallback.
	CallbackData string

	Timestamp time.Time

	// Metadata contains additional channel-specific data.
	Metadata map[string]any
}

// Destination returns the qualified destination of the chat the message
// came from.
func (m *IncomingMessage) Destination() string {
	return Qualify(m.Channel, m.ChatID)
}

// Button is a quick-pick rendered under an outgoing message.
type Button struct {
	Label string
	Data  string
}

// OutgoingMessage represents a message to be sent through a channel.
type OutgoingMessage struct {
	// Content is the plain text of the message.
	Content string

	// ReplyTo contains the ID of the message to reply to.
	ReplyTo string

	// Buttons are rendered one per row when the transport supports them.
	Buttons []Button

	// Metadata contains additional channel-specific data.
	Metadata map[string]any
}

// HealthStatus represents the health state of a channel.
type HealthStatus struct {
	Connected     bool
	LastMessageAt time.Time
	ErrorCount    int
	Details       map[string]any
}

// Errors.
var (
	ErrChannelDisconnected = errors.New("channel is not connected")
	ErrUnknownChannel      = errors.New("unknown channel")
	ErrBadDestination      = errors.New("destination must be <channel>:<chat id>")
)

// Qualify joins a channel name and chat id into a destination.
func Qualify(channel, chatID string) string {
	return channel + ":" + chatID
}

// SplitDestination splits a qualified destination into channel and chat id.
func SplitDestination(dest string) (channel, chatID string, err error) {
	channel, chatID, ok := strings.Cut(dest, ":")
	if !ok || channel == "" || chatID == "" {
		return "", "", fmt.Errorf("%w: %q", ErrBadDestination, dest)
	}
	return channel, chatID, nil
}
