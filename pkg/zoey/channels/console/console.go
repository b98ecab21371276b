// Package console implements a terminal channel for `zoey chat`. Lines read
// with readline become text messages; buttons are printed as a numbered list
// and typing a number presses the matching button.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"github.com/jholhewres/zoey/pkg/zoey/channels"
)

// ChatID is the only chat the console serves.
const ChatID = "local"

// Config holds console channel configuration.
type Config struct {
	// User is the identity messages are attributed to.
	User string

	// Prompt is the readline prompt. Defaults to "> ".
	Prompt string

	// HistoryFile persists input history when set.
	HistoryFile string
}

// LineReader is the part of readline the console uses.
type LineReader interface {
	Readline() (string, error)
	Close() error
}

// Console implements channels.Channel on a terminal.
type Console struct {
	cfg    Config
	logger *slog.Logger
	out    io.Writer
	reader LineReader

	messages  chan *channels.IncomingMessage
	connected atomic.Bool
	lastMsg   atomic.Value // time.Time

	// buttons are the picks printed with the last message.
	mu      sync.Mutex
	buttons []channels.Button

	// done is closed when the read loop exits (EOF, Ctrl+C or "exit").
	done chan struct{}
}

// New creates a console channel on stdin/stdout.
func New(cfg Config, logger *slog.Logger) *Console {
	return NewWithIO(cfg, nil, os.Stdout, logger)
}

// NewWithIO creates a console with an explicit reader and writer. A nil
// reader opens readline on Connect.
func NewWithIO(cfg Config, reader LineReader, out io.Writer, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Prompt == "" {
		cfg.Prompt = "> "
	}
	if cfg.User == "" {
		cfg.User = "local"
	}
	return &Console{
		cfg:      cfg,
		logger:   logger.With("component", "console"),
		out:      out,
		reader:   reader,
		messages: make(chan *channels.IncomingMessage, 16),
		done:     make(chan struct{}),
	}
}

// Name returns "console".
func (c *Console) Name() string { return "console" }

// Connect starts reading lines.
func (c *Console) Connect(ctx context.Context) error {
	if c.connected.Load() {
		return nil
	}
	if c.reader == nil {
		rl, err := readline.NewEx(&readline.Config{
			Prompt:          c.cfg.Prompt,
			HistoryFile:     c.cfg.HistoryFile,
			InterruptPrompt: "^C",
			EOFPrompt:       "exit",
			Stdin:           readline.NewCancelableStdin(os.Stdin),
			Stdout:          c.out,
		})
		if err != nil {
			return fmt.Errorf("console: initializing readline: %w", err)
		}
		c.reader = rl
	}
	c.connected.Store(true)
	go c.readLoop(ctx)
	return nil
}

// Disconnect closes the line reader.
func (c *Console) Disconnect() error {
	c.connected.Store(false)
	if c.reader != nil {
		return c.reader.Close()
	}
	return nil
}

// Done is closed when the user leaves the console.
func (c *Console) Done() <-chan struct{} { return c.done }

// Send prints a message and its numbered buttons.
func (c *Console) Send(_ context.Context, _ string, message *channels.OutgoingMessage) error {
	if !c.connected.Load() {
		return channels.ErrChannelDisconnected
	}

	var b strings.Builder
	b.WriteString(message.Content)
	b.WriteString("\n")
	for i, btn := range message.Buttons {
		fmt.Fprintf(&b, "  [%d] %s\n", i+1, btn.Label)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(message.Buttons) > 0 {
		c.buttons = message.Buttons
	}
	_, err := io.WriteString(c.out, b.String())
	return err
}

// Receive returns the incoming messages channel.
func (c *Console) Receive() <-chan *channels.IncomingMessage { return c.messages }

// IsConnected returns true while the console is reading.
func (c *Console) IsConnected() bool { return c.connected.Load() }

// Health returns the channel health status.
func (c *Console) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := c.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{Connected: c.connected.Load(), LastMessageAt: lastAt}
}

func (c *Console) readLoop(ctx context.Context) {
	defer close(c.done)
	defer close(c.messages)

	for {
		line, err := c.reader.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return
			}
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Warn("console: read failed", "error", err)
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return
		}

		msg := c.toMessage(line)
		c.lastMsg.Store(time.Now())
		select {
		case c.messages <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// toMessage turns a line into a text message, or a button press when it is
// the number of a printed button.
func (c *Console) toMessage(line string) *channels.IncomingMessage {
	msg := &channels.IncomingMessage{
		ID:        uuid.NewString(),
		Channel:   "console",
		From:      c.cfg.User,
		FromName:  c.cfg.User,
		ChatID:    ChatID,
		Type:      channels.MessageText,
		Content:   line,
		Timestamp: time.Now(),
	}

	n, err := strconv.Atoi(line)
	if err != nil {
		return msg
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if n >= 1 && n <= len(c.buttons) {
		msg.Type = channels.MessageCallback
		msg.CallbackData = c.buttons[n-1].Data
		msg.Content = c.buttons[n-1].Label
		c.buttons = nil
	}
	return msg
}

var _ channels.Channel = (*Console)(nil)
