package models

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

// Message represents a chat message as consumed by the sync core.
// ClientID is generated locally before the send and echoed back by the
// server, so optimistic entries can be matched against confirmed rows.
type Message struct {
	ID             string         `json:"id"`
	ClientID       string         `json:"clientId,omitempty"`
	ConversationID string         `json:"conversationId"`
	SenderID       string         `json:"senderId"`
	Content        string         `json:"content"`
	Status         DeliveryStatus `json:"status,omitempty"`
	CreatedAt      int64          `json:"createdAt"` // Unix timestamp (seconds)
}

// Conversation represents a chat conversation.
type Conversation struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	LastMessageAt int64  `json:"lastMessageAt"`
	IsDM          bool   `json:"isDm"`
}

type DeliveryStatus string

const (
	DeliverySending   DeliveryStatus = "sending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
	DeliveryFailed    DeliveryStatus = "failed"
)

// DeliveryRecord is one per-recipient acknowledgement row for a message.
// ReadAt is nil until the recipient has read the message.
type DeliveryRecord struct {
	MessageID   string     `json:"messageId"`
	RecipientID string     `json:"recipientId"`
	ReadAt      *time.Time `json:"readAt"`
}

type PresenceStatus string

const (
	PresenceActive PresenceStatus = "active"
	PresenceIdle   PresenceStatus = "idle"
	PresenceAway   PresenceStatus = "away"
)

// PresenceRecord is one entry in a channel's shared presence set.
// Overwritten on every heartbeat or activity event; removed by the
// server's own leave event when the owning client disappears.
type PresenceRecord struct {
	UserID   string         `json:"userId"`
	OnlineAt int64          `json:"onlineAt"` // Unix timestamp (seconds)
	Status   PresenceStatus `json:"status"`
}

type DraftType string

const (
	DraftTypeReply   DraftType = "reply"
	DraftTypeCompose DraftType = "compose"
	DraftTypeForward DraftType = "forward"
)

// DraftKey is the unique triple identifying a draft. ConversationID is
// empty for a fresh compose that is not bound to a conversation yet.
type DraftKey struct {
	UserID         string    `json:"userId"`
	ConversationID string    `json:"conversationId"`
	DraftType      DraftType `json:"draftType"`
}

// Draft is unsent compose/reply content persisted for recovery across reloads.
type Draft struct {
	UserID         string            `json:"userId"`
	ConversationID string            `json:"conversationId"`
	Content        string            `json:"content"`
	Subject        string            `json:"subject,omitempty"`
	DraftType      DraftType         `json:"draftType"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	UpdatedAt      int64             `json:"updatedAt"` // Unix timestamp (seconds)
}

func (d Draft) Key() DraftKey {
	return DraftKey{
		UserID:         d.UserID,
		ConversationID: d.ConversationID,
		DraftType:      d.DraftType,
	}
}
