package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"golang.org/x/sync/errgroup"
)

// inboxSize bounds the merged inbound stream.
const inboxSize = 256

// Manager owns the chat transports Zoey talks through. Inbound messages from
// every transport are merged into one inbox; replies and reminders go back
// out by their "channel:chat" destination.
type Manager struct {
	logger *slog.Logger

	mu       sync.RWMutex
	registry map[string]Channel

	inbox  chan *IncomingMessage
	cancel context.CancelFunc
	pumps  sync.WaitGroup
	closed sync.Once
}

// NewManager returns a manager with no transports.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:   logger.With("component", "channels"),
		registry: make(map[string]Channel),
		inbox:    make(chan *IncomingMessage, inboxSize),
	}
}

// Register adds a transport under its own name. Call it before Start.
func (m *Manager) Register(ch Channel) error {
	name := ch.Name()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.registry[name]; taken {
		return fmt.Errorf("channel %q already registered", name)
	}
	m.registry[name] = ch
	m.logger.Debug("channel registered", "channel", name)
	return nil
}

// Start connects every transport at once and begins pumping their inbound
// messages into the inbox. Transports that fail to connect are left out;
// Start only fails when none connected.
func (m *Manager) Start(ctx context.Context) error {
	ctx, m.cancel = context.WithCancel(ctx)

	m.mu.RLock()
	transports := maps.Clone(m.registry)
	m.mu.RUnlock()
	if len(transports) == 0 {
		m.logger.Warn("no channels registered")
		return nil
	}

	var (
		g        errgroup.Group
		fmu      sync.Mutex
		failures []error
	)
	for name, ch := range transports {
		g.Go(func() error {
			if err := ch.Connect(ctx); err != nil {
				m.logger.Error("channel did not connect", "channel", name, "error", err)
				fmu.Lock()
				failures = append(failures, fmt.Errorf("%s: %w", name, err))
				fmu.Unlock()
				return nil
			}
			m.pumps.Add(1)
			go m.pump(ctx, ch)
			return nil
		})
	}
	_ = g.Wait()

	up := len(transports) - len(failures)
	if up == 0 {
		return fmt.Errorf("no channel connected: %w", errors.Join(failures...))
	}
	m.logger.Info("channels up", "connected", up, "failed", len(failures))
	return nil
}

// pump forwards one transport's messages to the inbox until the manager
// stops or the transport closes its stream. Messages without a channel name
// are stamped with the transport's so replies route back to it.
func (m *Manager) pump(ctx context.Context, ch Channel) {
	defer m.pumps.Done()
	name := ch.Name()
	for {
		var msg *IncomingMessage
		select {
		case <-ctx.Done():
			return
		case in, ok := <-ch.Receive():
			if !ok {
				m.logger.Debug("channel stream closed", "channel", name)
				return
			}
			msg = in
		}
		if msg == nil {
			continue
		}
		if msg.Channel == "" {
			msg.Channel = name
		}
		select {
		case m.inbox <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts the pumps, disconnects every transport and closes the inbox.
// Calling it again is a no-op.
func (m *Manager) Stop() {
	m.closed.Do(func() {
		if m.cancel != nil {
			m.cancel()
		}
		m.pumps.Wait()

		m.mu.RLock()
		for name, ch := range m.registry {
			if err := ch.Disconnect(); err != nil {
				m.logger.Warn("channel disconnect failed", "channel", name, "error", err)
			}
		}
		m.mu.RUnlock()

		close(m.inbox)
		m.logger.Info("channels down")
	})
}

// Messages is the merged inbound stream. It closes after Stop.
func (m *Manager) Messages() <-chan *IncomingMessage { return m.inbox }

// SendTo delivers msg to a qualified destination such as "telegram:123".
func (m *Manager) SendTo(ctx context.Context, destination string, msg *OutgoingMessage) error {
	name, chatID, err := SplitDestination(destination)
	if err != nil {
		return err
	}
	return m.Send(ctx, name, chatID, msg)
}

// Send delivers msg to chatID on the named transport.
func (m *Manager) Send(ctx context.Context, channel, chatID string, msg *OutgoingMessage) error {
	ch, ok := m.Channel(channel)
	switch {
	case !ok:
		return fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	case !ch.IsConnected():
		return fmt.Errorf("channel %q: %w", channel, ErrChannelDisconnected)
	}
	return ch.Send(ctx, chatID, msg)
}

// Channel looks up a registered transport.
func (m *Manager) Channel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.registry[name]
	return ch, ok
}

// HasChannels reports whether any transport is registered.
func (m *Manager) HasChannels() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.registry) > 0
}

// HealthAll snapshots every transport's health, keyed by name.
func (m *Manager) HealthAll() map[string]HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]HealthStatus, len(m.registry))
	for name, ch := range m.registry {
		out[name] = ch.Health()
	}
	return out
}
