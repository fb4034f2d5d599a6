package realtime

import (
	"sync"
	"time"

	"domofon/internal/models"
)

// Status is the client-side view of a channel subscription.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

type changeRegistration struct {
	table   string
	filter  string
	handler func(models.ChangeEvent)
}

// Channel is one named realtime topic owned by a Manager. Event handler
// registrations live on the channel itself, not on the underlying
// connection, so a resubscribe after a dropped connection keeps every
// handler without re-registration.
type Channel struct {
	name string
	mgr  *Manager

	mu       sync.Mutex
	status   Status
	attempts int
	retry    *time.Timer

	nextID   int
	changes  map[int]changeRegistration
	presence map[int]func(models.PresenceEvent)
}

func newChannel(name string, mgr *Manager) *Channel {
	return &Channel{
		name:     name,
		mgr:      mgr,
		status:   StatusDisconnected,
		changes:  make(map[int]changeRegistration),
		presence: make(map[int]func(models.PresenceEvent)),
	}
}

func (c *Channel) Name() string {
	return c.name
}

func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Attempts returns the number of reconnect attempts made since the
// last successful subscribe.
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *Channel) Subscribed() bool {
	return c.Status() == StatusConnected
}

// OnChange registers a handler for change-feed events on a table,
// optionally narrowed by an equality filter ("" matches every row
// event on the table). The returned function unregisters the handler.
func (c *Channel) OnChange(table, filter string, handler func(models.ChangeEvent)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.changes[id] = changeRegistration{table: table, filter: filter, handler: handler}

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.changes, id)
	}
}

// OnPresence registers a handler for the channel's presence events.
// The returned function unregisters the handler.
func (c *Channel) OnPresence(handler func(models.PresenceEvent)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.presence[id] = handler

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.presence, id)
	}
}

// Track writes the local user's record to the channel's presence set.
// Returns ErrNotSubscribed until the subscription is confirmed.
func (c *Channel) Track(record models.PresenceRecord) error {
	if !c.Subscribed() {
		return ErrNotSubscribed
	}
	return c.mgr.transport.Track(c.name, record)
}

func (c *Channel) dispatchChange(ev models.ChangeEvent) {
	c.mu.Lock()
	handlers := make([]func(models.ChangeEvent), 0, len(c.changes))
	for _, reg := range c.changes {
		if reg.table != ev.Table {
			continue
		}
		if reg.filter != "" && reg.filter != ev.Filter {
			continue
		}
		handlers = append(handlers, reg.handler)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

func (c *Channel) dispatchPresence(ev models.PresenceEvent) {
	c.mu.Lock()
	handlers := make([]func(models.PresenceEvent), 0, len(c.presence))
	for _, h := range c.presence {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// cancelRetryLocked stops a pending retry timer. Callers hold c.mu.
func (c *Channel) cancelRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

// teardown drops all handler registrations atomically.
func (c *Channel) teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelRetryLocked()
	c.changes = make(map[int]changeRegistration)
	c.presence = make(map[int]func(models.PresenceEvent))
}
