package models

import "encoding/json"

// SubscribeStatus is the status reported by the realtime service for a
// channel subscription.
type SubscribeStatus string

const (
	SubscribeStatusSubscribed   SubscribeStatus = "SUBSCRIBED"
	SubscribeStatusChannelError SubscribeStatus = "CHANNEL_ERROR"
	SubscribeStatusClosed       SubscribeStatus = "CLOSED"
	SubscribeStatusTimedOut     SubscribeStatus = "TIMED_OUT"
)

type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent is one change-feed row event, scoped by table and an
// equality filter such as "message_id=eq.42".
type ChangeEvent struct {
	Table  string          `json:"table"`
	Type   ChangeType      `json:"type"`
	Filter string          `json:"filter,omitempty"`
	Record json.RawMessage `json:"record,omitempty"`
}

type PresenceEventType string

const (
	PresenceSync  PresenceEventType = "sync"
	PresenceJoin  PresenceEventType = "join"
	PresenceLeave PresenceEventType = "leave"
)

// PresenceEvent carries the shared presence set of a channel. A sync
// event holds the full snapshot, join/leave hold the affected records.
type PresenceEvent struct {
	Type    PresenceEventType `json:"type"`
	Records []PresenceRecord  `json:"records,omitempty"`
}

// ClientFrame represents a frame sent from the client to the realtime service.
type ClientFrame struct {
	Type     ClientFrameType `json:"type"`
	Channel  string          `json:"channel"`
	Presence *PresenceRecord `json:"presence,omitempty"`
}

// ServerFrame represents a frame pushed by the realtime service.
type ServerFrame struct {
	Type     ServerFrameType `json:"type"`
	Channel  string          `json:"channel"`
	Status   SubscribeStatus `json:"status,omitempty"`
	Change   *ChangeEvent    `json:"change,omitempty"`
	Presence *PresenceEvent  `json:"presence,omitempty"`
}

type ClientFrameType string

const (
	ClientFrameTypeSubscribe   ClientFrameType = "subscribe"
	ClientFrameTypeUnsubscribe ClientFrameType = "unsubscribe"
	ClientFrameTypeTrack       ClientFrameType = "track"
)

type ServerFrameType string

const (
	ServerFrameTypeStatus   ServerFrameType = "status"
	ServerFrameTypeChange   ServerFrameType = "change"
	ServerFrameTypePresence ServerFrameType = "presence"
)
