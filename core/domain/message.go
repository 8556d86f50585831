package domain

import "time"

// Direction of an audited message.
type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

// MessageKind classifies the payload of a message.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindPhoto    MessageKind = "photo"
	KindVideo    MessageKind = "video"
	KindDocument MessageKind = "document"
	KindAudio    MessageKind = "audio"
	KindVoice    MessageKind = "voice"
	KindSticker  MessageKind = "sticker"
	KindLocation MessageKind = "location"
	KindContact  MessageKind = "contact"
)

// MessageRecord is one append-only audit entry.
type MessageRecord struct {
	ID        int64       `db:"id" json:"id"`
	BotID     string      `db:"bot_id" json:"bot_id"`
	UserID    int64       `db:"user_id" json:"user_id"`
	FlowID    *int64      `db:"flow_id" json:"flow_id,omitempty"`
	Kind      MessageKind `db:"message_type" json:"message_type"`
	Direction Direction   `db:"direction" json:"direction"`
	Text      string      `db:"text" json:"text,omitempty"`
	// FileRef holds the provider file id for media payloads.
	FileRef           string    `db:"file_url" json:"file_url,omitempty"`
	ExternalMessageID int64     `db:"external_message_id" json:"external_message_id"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}
