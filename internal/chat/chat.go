// Package chat is the send path: messages appear in the local cache
// the moment the user hits send, and are reconciled or rolled back
// when the server answers.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"domofon/internal/cache"
	"domofon/internal/models"
)

// MessagesTable is the change-feed table carrying confirmed messages.
const MessagesTable = "messages"

// Sender is the backend message-send operation: it returns either a
// confirmed message with a server id or an error.
type Sender interface {
	SendMessage(ctx context.Context, msg models.Message) (models.Message, error)
}

// changeSource is the slice of a realtime channel the service needs.
type changeSource interface {
	OnChange(table, filter string, handler func(models.ChangeEvent)) func()
}

type Config struct {
	UserID string
	Sender Sender
	Cache  *cache.MessageCache

	// DiscardDraft is called after a successful send so the persisted
	// draft for the conversation does not outlive the message. Optional.
	DiscardDraft func(conversationID string)
}

type Service struct {
	userID       string
	sender       Sender
	cache        *cache.MessageCache
	discardDraft func(conversationID string)
	now          func() time.Time
}

func NewService(cfg Config) *Service {
	return &Service{
		userID:       cfg.UserID,
		sender:       cfg.Sender,
		cache:        cfg.Cache,
		discardDraft: cfg.DiscardDraft,
		now:          time.Now,
	}
}

// Send inserts the message into the local cache synchronously, before
// any network round trip, then performs the send. On failure the
// optimistic entry is removed and the error is returned to the caller,
// who owns the retry decision.
func (s *Service) Send(ctx context.Context, conversationID, content string) (models.Message, error) {
	pending := models.Message{
		ClientID:       uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       s.userID,
		Content:        content,
		Status:         models.DeliverySending,
		CreatedAt:      s.now().Unix(),
	}
	s.cache.AddOptimistic(pending)

	confirmed, err := s.sender.SendMessage(ctx, pending)
	if err != nil {
		s.cache.RemoveOptimistic(conversationID, pending.ClientID)
		return models.Message{}, fmt.Errorf("send message: %w", err)
	}

	if confirmed.ClientID == "" {
		// The transport did not echo our client id: reconcile by
		// invalidate-and-refetch instead of id matching.
		s.cache.RemoveOptimistic(conversationID, pending.ClientID)
		s.cache.Invalidate(conversationID)
	} else {
		if confirmed.Status == "" || confirmed.Status == models.DeliverySending {
			confirmed.Status = models.DeliverySent
		}
		s.cache.Confirm(confirmed)
	}

	if s.discardDraft != nil {
		s.discardDraft(conversationID)
	}
	return confirmed, nil
}

// Messages returns the current cached snapshot for a conversation,
// optimistic entries included.
func (s *Service) Messages(conversationID string) []models.Message {
	return s.cache.Messages(conversationID)
}

// Watch feeds confirmed messages arriving on the channel's change feed
// into the cache. The client-id echo keeps a message we sent ourselves
// from being counted twice. Returns the unregister function.
func (s *Service) Watch(ch changeSource) func() {
	return ch.OnChange(MessagesTable, "", func(ev models.ChangeEvent) {
		if ev.Type != models.ChangeInsert && ev.Type != models.ChangeUpdate {
			return
		}

		var msg models.Message
		if err := json.Unmarshal(ev.Record, &msg); err != nil {
			slog.Error("malformed message record", "error", err)
			return
		}
		if msg.ConversationID == "" {
			return
		}
		if msg.Status == "" {
			msg.Status = models.DeliverySent
		}
		s.cache.Confirm(msg)
	})
}
