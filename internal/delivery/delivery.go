// Package delivery aggregates per-recipient read receipts into a single
// delivery status for an outbound message.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"domofon/internal/models"
)

// DeliveryTable is the change-feed table carrying per-recipient rows.
const DeliveryTable = "message_deliveries"

// ComputeDeliveryStatus derives the aggregate status of a message from
// its per-recipient records: no records yet means the message only
// reached the server (sent), at least one record means it reached
// recipients (delivered), and all records carry a read timestamp once
// everyone has seen it (read).
func ComputeDeliveryStatus(records []models.DeliveryRecord) models.DeliveryStatus {
	if len(records) == 0 {
		return models.DeliverySent
	}

	read := 0
	for _, r := range records {
		if r.ReadAt != nil {
			read++
		}
	}

	if read == len(records) {
		return models.DeliveryRead
	}
	return models.DeliveryDelivered
}

// CountRead returns how many of the records carry a read timestamp.
func CountRead(records []models.DeliveryRecord) int {
	n := 0
	for _, r := range records {
		if r.ReadAt != nil {
			n++
		}
	}
	return n
}

// Fetcher loads the delivery records of one message from the backend.
type Fetcher interface {
	DeliveryRecords(ctx context.Context, messageID string) ([]models.DeliveryRecord, error)
}

// changeSource is the slice of a realtime channel the tracker needs.
type changeSource interface {
	OnChange(table, filter string, handler func(models.ChangeEvent)) func()
}

type Config struct {
	MessageID     string
	SenderID      string
	CurrentUserID string
	Fetcher       Fetcher
	Channel       changeSource
	// OnUpdate is invoked after every recompute. Optional.
	OnUpdate func()
}

// Tracker keeps the delivery status of one outbound message current.
// Delivery status is only meaningful to the sender: a tracker built for
// somebody else's message is inert and never fetches or subscribes.
type Tracker struct {
	cfg Config

	mu              sync.Mutex
	status          models.DeliveryStatus
	readCount       int
	totalRecipients int
	closed          bool
	unregister      func()
}

func NewTracker(cfg Config) *Tracker {
	return &Tracker{
		cfg:    cfg,
		status: models.DeliverySent,
	}
}

// Inert reports whether this tracker does nothing because the local
// user is not the sender.
func (t *Tracker) Inert() bool {
	return t.cfg.SenderID != t.cfg.CurrentUserID
}

// Start performs the initial fetch and subscribes to change events
// scoped to the message. No-op for inert trackers.
func (t *Tracker) Start(ctx context.Context) {
	if t.Inert() {
		return
	}

	t.refetch(ctx)

	filter := fmt.Sprintf("message_id=eq.%s", t.cfg.MessageID)
	unregister := t.cfg.Channel.OnChange(DeliveryTable, filter, func(models.ChangeEvent) {
		t.refetch(context.Background())
	})

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		unregister()
		return
	}
	t.unregister = unregister
	t.mu.Unlock()
}

// Close unsubscribes from the change feed. Fetches that resolve after
// Close are dropped.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	unregister := t.unregister
	t.unregister = nil
	t.mu.Unlock()

	if unregister != nil {
		unregister()
	}
}

// Status returns the current aggregate status with the read/total
// counts for display.
func (t *Tracker) Status() (models.DeliveryStatus, int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status, t.readCount, t.totalRecipients
}

func (t *Tracker) refetch(ctx context.Context) {
	records, err := t.cfg.Fetcher.DeliveryRecords(ctx, t.cfg.MessageID)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}

	if err != nil {
		// A fetch failure degrades this one message only.
		t.status = models.DeliveryFailed
		t.mu.Unlock()
		slog.Error("delivery records fetch failed",
			"message_id", t.cfg.MessageID, "error", err)
		t.notify()
		return
	}

	t.status = ComputeDeliveryStatus(records)
	t.readCount = CountRead(records)
	t.totalRecipients = len(records)
	t.mu.Unlock()
	t.notify()
}

func (t *Tracker) notify() {
	if t.cfg.OnUpdate != nil {
		t.cfg.OnUpdate()
	}
}
