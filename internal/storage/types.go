package storage

import (
	"encoding"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// DBDraft is the persisted draft record. The key is the unique
// (userID, conversationID, draftType) triple, so a second Put for the
// same triple overwrites instead of duplicating.
type DBDraft struct {
	UserID         string            `msgpack:"userId"`
	ConversationID string            `msgpack:"conversationId"`
	Content        string            `msgpack:"content"`
	Subject        string            `msgpack:"subject"`
	DraftType      string            `msgpack:"draftType"`
	Metadata       map[string]string `msgpack:"metadata"`
	UpdatedAt      int64             `msgpack:"updatedAt"`
}

func draftKey(userID, conversationID, draftType string) []byte {
	return []byte(fmt.Sprintf("%s|%s|%s", userID, conversationID, draftType))
}

func (d *DBDraft) Key() []byte {
	return draftKey(d.UserID, d.ConversationID, d.DraftType)
}

func (d *DBDraft) MarshalBinary() (data []byte, err error) {
	type alias DBDraft
	return msgpack.Marshal((*alias)(d))
}

func (d *DBDraft) UnmarshalBinary(data []byte) error {
	type alias DBDraft
	return msgpack.Unmarshal(data, (*alias)(d))
}
