// Package presence broadcasts the local user's liveness on a shared
// channel and derives active/idle/away from a wall-clock idle timer.
package presence

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/c-pro/geche"

	"domofon/internal/models"
	"domofon/internal/realtime"
)

const (
	DefaultIdleAfter = 5 * time.Minute
	DefaultHeartbeat = 30 * time.Second
)

// Channel is the slice of a realtime channel the tracker needs.
type Channel interface {
	Track(record models.PresenceRecord) error
	Subscribed() bool
	OnPresence(handler func(models.PresenceEvent)) func()
}

type Config struct {
	UserID    string
	IdleAfter time.Duration // default 5m
	Heartbeat time.Duration // default 30s
}

// Tracker publishes the local user's presence and ingests peers'
// records from the channel's presence events.
type Tracker struct {
	ch        Channel
	userID    string
	idleAfter time.Duration
	heartbeat time.Duration
	now       func() time.Time

	mu            sync.Mutex
	lastActivity  time.Time
	lastPublished models.PresenceStatus
	visible       bool
	idleTimer     *time.Timer
	closed        bool

	peers geche.Geche[string, models.PresenceRecord]

	unregister func()
	stop       chan struct{}
	stopOnce   sync.Once
}

func New(ch Channel, cfg Config) *Tracker {
	if cfg.IdleAfter == 0 {
		cfg.IdleAfter = DefaultIdleAfter
	}
	if cfg.Heartbeat == 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}

	t := &Tracker{
		ch:        ch,
		userID:    cfg.UserID,
		idleAfter: cfg.IdleAfter,
		heartbeat: cfg.Heartbeat,
		now:       time.Now,
		visible:   true,
		peers:     geche.NewMapCache[string, models.PresenceRecord](),
		stop:      make(chan struct{}),
	}
	t.unregister = ch.OnPresence(t.handlePresence)

	go t.heartbeatLoop()
	t.Activity()

	return t
}

// Activity marks user input (pointer, key, scroll, touch): publish
// active immediately and re-arm the idle timer.
func (t *Tracker) Activity() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.lastActivity = t.now()
	if t.idleTimer != nil {
		t.idleTimer.Stop()
	}
	t.idleTimer = time.AfterFunc(t.idleAfter, t.onIdle)
	t.mu.Unlock()

	t.publish(models.PresenceActive, false)
}

// SetVisible mirrors document visibility: hidden publishes away
// immediately, visible counts as fresh activity.
func (t *Tracker) SetVisible(visible bool) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.visible = visible
	t.mu.Unlock()

	if visible {
		t.Activity()
		return
	}
	t.publish(models.PresenceAway, false)
}

// Status derives the local user's current presence from visibility and
// time elapsed since the last activity.
func (t *Tracker) Status() models.PresenceStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusLocked()
}

func (t *Tracker) statusLocked() models.PresenceStatus {
	if !t.visible {
		return models.PresenceAway
	}
	if t.now().Sub(t.lastActivity) >= t.idleAfter {
		return models.PresenceIdle
	}
	return models.PresenceActive
}

// UpdatePresence writes the given status to the channel's presence
// set. A no-op while the channel is not yet subscribed; publish
// failures are logged and swallowed.
func (t *Tracker) UpdatePresence(status models.PresenceStatus) {
	t.publish(status, true)
}

// Peers returns a snapshot of the presence set ordered by user id.
func (t *Tracker) Peers() []models.PresenceRecord {
	t.mu.Lock()
	snapshot := t.peers.Snapshot()
	t.mu.Unlock()

	records := make([]models.PresenceRecord, 0, len(snapshot))
	for _, r := range snapshot {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].UserID < records[j].UserID
	})
	return records
}

// Close stops both timers, drops the presence handler and stops
// publishing. No "offline" record is written: peers learn of our
// absence from the channel's own leave event.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	if t.idleTimer != nil {
		t.idleTimer.Stop()
		t.idleTimer = nil
	}
	unregister := t.unregister
	t.unregister = nil
	t.mu.Unlock()

	t.stopOnce.Do(func() { close(t.stop) })
	if unregister != nil {
		unregister()
	}
}

func (t *Tracker) onIdle() {
	t.mu.Lock()
	if t.closed || !t.visible {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	t.publish(models.PresenceIdle, false)
}

// heartbeatLoop recomputes status from elapsed time and republishes on
// a fixed cadence. This guards against missed idle-timer firings (tab
// throttling) and keeps peers' OnlineAt fresh even with no change.
func (t *Tracker) heartbeatLoop() {
	ticker := time.NewTicker(t.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.publish(t.Status(), true)
		}
	}
}

// publish writes the presence record. Unless forced, a write whose
// status matches the last published one is skipped so peers do not see
// spurious join flicker from duplicate track calls.
func (t *Tracker) publish(status models.PresenceStatus, force bool) {
	t.mu.Lock()
	if t.closed || (!force && status == t.lastPublished) {
		t.mu.Unlock()
		return
	}
	record := models.PresenceRecord{
		UserID:   t.userID,
		OnlineAt: t.now().Unix(),
		Status:   status,
	}
	t.mu.Unlock()

	if !t.ch.Subscribed() {
		return
	}

	if err := t.ch.Track(record); err != nil {
		if !errors.Is(err, realtime.ErrNotSubscribed) {
			slog.Error("presence track failed", "user_id", t.userID, "error", err)
		}
		return
	}

	t.mu.Lock()
	t.lastPublished = status
	t.mu.Unlock()
}

func (t *Tracker) handlePresence(ev models.PresenceEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Type {
	case models.PresenceSync:
		// Full snapshot replaces everything we hold.
		t.peers = geche.NewMapCache[string, models.PresenceRecord]()
		for _, r := range ev.Records {
			t.peers.Set(r.UserID, r)
		}
	case models.PresenceJoin:
		for _, r := range ev.Records {
			t.peers.Set(r.UserID, r)
		}
	case models.PresenceLeave:
		for _, r := range ev.Records {
			_ = t.peers.Del(r.UserID)
		}
	}
}
