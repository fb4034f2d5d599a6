// Package cache holds the per-conversation message lists the UI reads
// from, including optimistic entries that have not been confirmed by
// the server yet.
package cache

import (
	"github.com/c-pro/geche"

	"domofon/internal/models"
)

// Refetcher is called after an invalidation to replace a conversation's
// list with server-confirmed state. May be nil.
type Refetcher func(conversationID string)

// MessageCache is an in-memory ordered message list per conversation.
// Lists are replaced wholesale on every mutation, never modified in
// place, so a snapshot handed to a reader stays intact.
type MessageCache struct {
	lists   *geche.Locker[string, []models.Message]
	refetch Refetcher
}

func New(refetch Refetcher) *MessageCache {
	return &MessageCache{
		lists:   geche.NewLocker[string, []models.Message](geche.NewMapCache[string, []models.Message]()),
		refetch: refetch,
	}
}

// Messages returns the current snapshot for a conversation. The
// returned slice must not be mutated by the caller.
func (c *MessageCache) Messages(conversationID string) []models.Message {
	tx := c.lists.RLock()
	defer tx.Unlock()

	list, err := tx.Get(conversationID)
	if err != nil {
		return nil
	}
	return list
}

// Replace installs a server-delivered page for a conversation,
// superseding any optimistic entries.
func (c *MessageCache) Replace(conversationID string, messages []models.Message) {
	tx := c.lists.Lock()
	defer tx.Unlock()

	tx.Set(conversationID, append([]models.Message(nil), messages...))
}

// AddOptimistic appends a message to the conversation's list before any
// server round trip, creating the list if absent. Safe to call
// synchronously from the send path.
func (c *MessageCache) AddOptimistic(msg models.Message) {
	tx := c.lists.Lock()
	defer tx.Unlock()

	list, err := tx.Get(msg.ConversationID)
	if err != nil {
		list = nil
	}

	next := make([]models.Message, 0, len(list)+1)
	next = append(next, list...)
	next = append(next, msg)
	tx.Set(msg.ConversationID, next)
}

// RemoveOptimistic drops the message with the given client id from the
// conversation's list. Used for rollback after a failed send and for
// refetch-and-replace reconciliation.
func (c *MessageCache) RemoveOptimistic(conversationID, clientID string) {
	tx := c.lists.Lock()
	defer tx.Unlock()

	list, err := tx.Get(conversationID)
	if err != nil {
		return
	}

	next := make([]models.Message, 0, len(list))
	for _, m := range list {
		if m.ClientID == clientID {
			continue
		}
		next = append(next, m)
	}
	tx.Set(conversationID, next)
}

// Confirm promotes the optimistic entry matching the confirmed
// message's echoed client id. The same logical message is never held
// twice: the pending entry is replaced, not duplicated. If no pending
// entry matches, the confirmed message is appended.
func (c *MessageCache) Confirm(confirmed models.Message) {
	tx := c.lists.Lock()
	defer tx.Unlock()

	list, err := tx.Get(confirmed.ConversationID)
	if err != nil {
		tx.Set(confirmed.ConversationID, []models.Message{confirmed})
		return
	}

	next := make([]models.Message, 0, len(list)+1)
	replaced := false
	for _, m := range list {
		if confirmed.ClientID != "" && m.ClientID == confirmed.ClientID {
			next = append(next, confirmed)
			replaced = true
			continue
		}
		next = append(next, m)
	}
	if !replaced {
		next = append(next, confirmed)
	}
	tx.Set(confirmed.ConversationID, next)
}

// Invalidate drops the cached list for a conversation and triggers a
// refetch that will supersede any optimistic entries.
func (c *MessageCache) Invalidate(conversationID string) {
	tx := c.lists.Lock()
	_ = tx.Del(conversationID)
	tx.Unlock()

	if c.refetch != nil {
		c.refetch(conversationID)
	}
}

// InvalidateAll drops every cached conversation list.
func (c *MessageCache) InvalidateAll() {
	tx := c.lists.Lock()
	snapshot := tx.Snapshot()
	for id := range snapshot {
		_ = tx.Del(id)
	}
	tx.Unlock()

	if c.refetch != nil {
		for id := range snapshot {
			c.refetch(id)
		}
	}
}
