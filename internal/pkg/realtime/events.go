package realtime

import "encoding/json"

// Client-to-server event types
const (
	EventAuthenticate   = "authenticate"
	EventSubscribe      = "subscribe"
	EventUnsubscribe    = "unsubscribe"
	EventPublishMessage = "publish_message"
	EventMarkRead       = "mark_read"
	EventHeartbeatAck   = "heartbeat_ack"
)

// Server-to-client event types
const (
	// EventMessageSent acknowledges a publish to the sender with the
	// persisted message, including its store-assigned id.
	EventMessageSent = "message_sent"

	// EventNewMessage delivers a persisted message to a member connection.
	// Delivery is at-least-once per connection: a connection already
	// subscribed to the conversation topic receives the same message both
	// directly and through the topic publish. Clients must deduplicate by
	// message id.
	EventNewMessage = "new_message"

	EventPresenceChanged = "presence_changed"
	EventMessagesRead    = "messages_read"
	EventHeartbeat       = "heartbeat"
	EventError           = "error"
)

// Error codes carried by EventError payloads
const (
	ErrCodeAuthRequired = "AUTH_REQUIRED"
	ErrCodeInvalidToken = "INVALID_TOKEN"
	ErrCodeBadPayload   = "BAD_PAYLOAD"
	ErrCodeNotMember    = "NOT_MEMBER"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodePersistence  = "PERSISTENCE_FAILURE"
)

// Event is the envelope for every frame on a realtime connection
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// EncodeEvent marshals an envelope with the given payload
func EncodeEvent(eventType string, payload interface{}) ([]byte, error) {
	event := Event{Type: eventType}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		event.Data = data
	}

	return json.Marshal(event)
}

// AuthenticatePayload binds a connection to the identity in the token
type AuthenticatePayload struct {
	Token string `json:"token"`
}

// SubscribePayload joins or leaves a conversation topic
type SubscribePayload struct {
	ConversationID int64 `json:"conversationId"`
}

// PublishMessagePayload submits a message to a conversation
type PublishMessagePayload struct {
	ConversationID int64  `json:"conversationId"`
	Content        string `json:"content"`
	ReplyTo        *int64 `json:"replyTo,omitempty"`
}

// MarkReadPayload acknowledges messages up to an optional bound
type MarkReadPayload struct {
	ConversationID int64  `json:"conversationId"`
	UpToMessageID  *int64 `json:"upToMessageId,omitempty"`
}

// PresencePayload broadcasts an online/offline transition
type PresencePayload struct {
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

// MessagesReadPayload broadcasts a read acknowledgment to a conversation
type MessagesReadPayload struct {
	ConversationID int64  `json:"conversationId"`
	Username       string `json:"username"`
	UpTo           int64  `json:"upTo"`
}

// ErrorPayload reports a rejected event back to the originating connection
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
