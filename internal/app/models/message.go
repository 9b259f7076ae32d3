package models

import "time"

// MessageType represents the type of message
type MessageType string

const (
	MessageTypeText MessageType = "TEXT"
	MessageTypeFile MessageType = "FILE"
)

// Message represents a message in a conversation. Messages are immutable
// after creation except for hard deletion. Ordering within a conversation is
// defined by the store-assigned id, never by client-supplied time.
type Message struct {
	ID             int64       `json:"id" db:"id"`
	ConversationID int64       `json:"conversationId" db:"conversation_id"`
	Sender         string      `json:"sender" db:"sender"`
	MessageType    MessageType `json:"messageType" db:"message_type"`
	Content        string      `json:"content" db:"content"`
	AttachmentURL  *string     `json:"attachmentUrl,omitempty" db:"attachment_url"`
	ReplyTo        *int64      `json:"replyTo,omitempty" db:"reply_to"`
	CreatedAt      time.Time   `json:"createdAt" db:"created_at"`
}

// MessageRead represents a per-message, per-user read acknowledgment.
// The presence of a row means that user has seen that message.
type MessageRead struct {
	MessageID int64     `json:"messageId" db:"message_id"`
	Username  string    `json:"username" db:"username"`
	ReadAt    time.Time `json:"readAt" db:"read_at"`
}
