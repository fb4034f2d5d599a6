// Package realtime maintains named channel subscriptions against the
// backend realtime service: connect, detect failure, back off, retry,
// and fan channel events out to registered handlers.
package realtime

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"domofon/internal/models"
)

var (
	ErrNotSubscribed = errors.New("channel not subscribed")
)

const (
	DefaultMaxReconnectAttempts = 5
	DefaultBackoffBase          = 1 * time.Second
	DefaultBackoffCap           = 30 * time.Second
)

// Transport issues channel commands to the realtime service. Incoming
// frames are delivered to the Manager through its HandleFrame method.
type Transport interface {
	Subscribe(channel string) error
	Unsubscribe(channel string) error
	Track(channel string, record models.PresenceRecord) error
	Close() error
}

type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityError Severity = "error"
)

// Notification is a user-facing connectivity message for the caller's
// toast sink.
type Notification struct {
	Severity Severity
	Channel  string
	Message  string
}

type Notifier interface {
	Notify(n Notification)
}

// slogNotifier is the default sink when the caller supplies none.
type slogNotifier struct{}

func (slogNotifier) Notify(n Notification) {
	if n.Severity == SeverityError {
		slog.Error(n.Message, "channel", n.Channel)
		return
	}
	slog.Info(n.Message, "channel", n.Channel)
}

type Config struct {
	AutoReconnect        bool
	MaxReconnectAttempts int           // default 5
	BackoffBase          time.Duration // default 1s
	BackoffCap           time.Duration // default 30s

	// OnStateChange is invoked on every status transition of every
	// channel. This is the only way observers learn of connectivity.
	OnStateChange func(channel string, status Status)

	Notifier Notifier
}

func (c *Config) withDefaults() {
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffCap == 0 {
		c.BackoffCap = DefaultBackoffCap
	}
	if c.Notifier == nil {
		c.Notifier = slogNotifier{}
	}
}

// Manager owns exactly one subscription per named channel.
type Manager struct {
	cfg       Config
	transport Transport

	mu       sync.Mutex
	channels map[string]*Channel
}

func NewManager(transport Transport, cfg Config) *Manager {
	cfg.withDefaults()
	return &Manager{
		cfg:       cfg,
		transport: transport,
		channels:  make(map[string]*Channel),
	}
}

// Channel returns the channel entity for a name, creating it in the
// disconnected state if absent.
func (m *Manager) Channel(name string) *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[name]
	if !ok {
		ch = newChannel(name, m)
		m.channels[name] = ch
	}
	return ch
}

// Connect opens the channel and issues a subscribe call. The result
// arrives asynchronously as a status frame; a transport-level failure
// is treated like a CHANNEL_ERROR.
func (m *Manager) Connect(name string) error {
	ch := m.Channel(name)

	ch.mu.Lock()
	if ch.status == StatusConnecting || ch.status == StatusConnected {
		ch.mu.Unlock()
		return nil
	}
	ch.cancelRetryLocked()
	ch.status = StatusConnecting
	ch.mu.Unlock()
	m.stateChange(ch, StatusConnecting)

	if err := m.transport.Subscribe(name); err != nil {
		m.channelError(ch)
		return fmt.Errorf("subscribe %s: %w", name, err)
	}
	return nil
}

// Disconnect cancels any pending retry, unsubscribes and moves the
// channel to disconnected from any state.
func (m *Manager) Disconnect(name string) error {
	ch := m.Channel(name)

	ch.mu.Lock()
	ch.cancelRetryLocked()
	changed := ch.status != StatusDisconnected
	ch.status = StatusDisconnected
	ch.mu.Unlock()

	err := m.transport.Unsubscribe(name)
	if changed {
		m.stateChange(ch, StatusDisconnected)
	}
	return err
}

// Reconnect is a manual escape hatch: disconnect, reset the attempt
// counter and start over.
func (m *Manager) Reconnect(name string) error {
	if err := m.Disconnect(name); err != nil {
		slog.Warn("unsubscribe before reconnect failed", "channel", name, "error", err)
	}

	ch := m.Channel(name)
	ch.mu.Lock()
	ch.attempts = 0
	ch.mu.Unlock()

	return m.Connect(name)
}

// Close tears down every channel and the transport.
func (m *Manager) Close() error {
	m.mu.Lock()
	channels := make([]*Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		channels = append(channels, ch)
	}
	m.mu.Unlock()

	for _, ch := range channels {
		_ = m.Disconnect(ch.name)
		ch.teardown()
	}
	return m.transport.Close()
}

// HandleFrame ingests one frame pushed by the realtime service.
func (m *Manager) HandleFrame(frame models.ServerFrame) {
	m.mu.Lock()
	ch, ok := m.channels[frame.Channel]
	m.mu.Unlock()
	if !ok {
		slog.Debug("frame for unknown channel", "channel", frame.Channel, "type", frame.Type)
		return
	}

	switch frame.Type {
	case models.ServerFrameTypeStatus:
		m.handleStatus(ch, frame.Status)
	case models.ServerFrameTypeChange:
		if frame.Change != nil {
			ch.dispatchChange(*frame.Change)
		}
	case models.ServerFrameTypePresence:
		if frame.Presence != nil {
			ch.dispatchPresence(*frame.Presence)
		}
	}
}

func (m *Manager) handleStatus(ch *Channel, status models.SubscribeStatus) {
	switch status {
	case models.SubscribeStatusSubscribed:
		ch.mu.Lock()
		recovered := ch.attempts > 0
		ch.attempts = 0
		ch.status = StatusConnected
		ch.mu.Unlock()

		m.stateChange(ch, StatusConnected)
		if recovered {
			m.cfg.Notifier.Notify(Notification{
				Severity: SeverityInfo,
				Channel:  ch.name,
				Message:  "connection restored",
			})
		}

	case models.SubscribeStatusChannelError, models.SubscribeStatusTimedOut:
		m.channelError(ch)

	case models.SubscribeStatusClosed:
		// Server-initiated close: no automatic retry from this path.
		ch.mu.Lock()
		ch.cancelRetryLocked()
		ch.status = StatusDisconnected
		ch.mu.Unlock()
		m.stateChange(ch, StatusDisconnected)
	}
}

func (m *Manager) channelError(ch *Channel) {
	ch.mu.Lock()
	ch.status = StatusError
	attempts := ch.attempts
	ch.mu.Unlock()
	m.stateChange(ch, StatusError)

	if !m.cfg.AutoReconnect {
		return
	}

	if attempts >= m.cfg.MaxReconnectAttempts {
		m.cfg.Notifier.Notify(Notification{
			Severity: SeverityError,
			Channel:  ch.name,
			Message:  "connection lost, automatic retries exhausted",
		})
		return
	}

	delay := m.backoff(attempts)
	slog.Info("scheduling reconnect", "channel", ch.name, "attempt", attempts+1, "delay", delay)

	ch.mu.Lock()
	ch.cancelRetryLocked()
	ch.retry = time.AfterFunc(delay, func() {
		ch.mu.Lock()
		ch.retry = nil
		ch.attempts++
		ch.mu.Unlock()
		_ = m.Connect(ch.name)
	})
	ch.mu.Unlock()
}

// backoff returns min(base * 2^attempts, cap).
func (m *Manager) backoff(attempts int) time.Duration {
	delay := m.cfg.BackoffBase << uint(attempts)
	if delay > m.cfg.BackoffCap || delay <= 0 {
		delay = m.cfg.BackoffCap
	}
	return delay
}

func (m *Manager) stateChange(ch *Channel, status Status) {
	if m.cfg.OnStateChange != nil {
		m.cfg.OnStateChange(ch.name, status)
	}
}
