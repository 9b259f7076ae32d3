package dto

import (
	"time"

	"github.com/dkaya/wavelink/internal/app/models"
)

// --- Request DTOs ---

// CreateDirectConversationRequest resolves the direct conversation with a peer
type CreateDirectConversationRequest struct {
	Peer string `json:"peer" binding:"required"`
}

// CreateGroupConversationRequest creates a group conversation with an explicit
// member list. The creator is always included as the owner.
type CreateGroupConversationRequest struct {
	Members []string `json:"members" binding:"required,min=1"`
}

// PublishMessageRequest represents data for publishing a new message
type PublishMessageRequest struct {
	Content string `json:"content" binding:"required"`
	ReplyTo *int64 `json:"replyTo,omitempty"`
}

// GetMessagesRequest represents filter parameters for retrieving messages.
// Before and After are message ids, so pagination follows persistence order.
type GetMessagesRequest struct {
	Before *int64 `form:"before"`
	After  *int64 `form:"after"`
	Limit  int    `form:"limit,default=50" binding:"min=1,max=100"`
}

// MarkReadRequest acknowledges messages up to an optional bound
type MarkReadRequest struct {
	UpToMessageID *int64 `json:"upToMessageId,omitempty"`
}

// --- Response DTOs ---

// MessageResponse represents a persisted message
type MessageResponse struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversationId"`
	Sender         string    `json:"sender"`
	MessageType    string    `json:"messageType"`
	Content        string    `json:"content"`
	AttachmentURL  *string   `json:"attachmentUrl,omitempty"`
	ReplyTo        *int64    `json:"replyTo,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// MessageListResponse represents a page of messages
type MessageListResponse struct {
	Messages []MessageResponse `json:"messages"`
}

// ConversationResponse represents a conversation with its member list
type ConversationResponse struct {
	ID          int64     `json:"id"`
	Kind        string    `json:"kind"`
	CommunityID *int64    `json:"communityId,omitempty"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
	Members     []string  `json:"members,omitempty"`
	UnreadCount *int      `json:"unreadCount,omitempty"`
}

// ConversationCreatedResponse reports the resolved conversation plus whether
// an existing one was reused instead of created
type ConversationCreatedResponse struct {
	Conversation ConversationResponse `json:"conversation"`
	Reused       bool                 `json:"reused"`
}

// UnreadCountResponse represents the unread total for a single conversation
type UnreadCountResponse struct {
	ConversationID int64 `json:"conversationId"`
	Count          int   `json:"count"`
}

// MarkReadResponse reports the highest acknowledged message id
type MarkReadResponse struct {
	ConversationID int64 `json:"conversationId"`
	UpTo           int64 `json:"upTo"`
}

// PresenceResponse represents a user's online state
type PresenceResponse struct {
	Username string    `json:"username"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"lastSeen"`
}

// ToMessageResponse transforms a models.Message to MessageResponse
func ToMessageResponse(message *models.Message) MessageResponse {
	return MessageResponse{
		ID:             message.ID,
		ConversationID: message.ConversationID,
		Sender:         message.Sender,
		MessageType:    string(message.MessageType),
		Content:        message.Content,
		AttachmentURL:  message.AttachmentURL,
		ReplyTo:        message.ReplyTo,
		CreatedAt:      message.CreatedAt,
	}
}

// ToConversationResponse transforms a models.Conversation to ConversationResponse
func ToConversationResponse(conversation *models.Conversation) ConversationResponse {
	response := ConversationResponse{
		ID:          conversation.ID,
		Kind:        string(conversation.Kind),
		CommunityID: conversation.CommunityID,
		CreatedBy:   conversation.CreatedBy,
		CreatedAt:   conversation.CreatedAt,
	}

	for _, member := range conversation.Members {
		response.Members = append(response.Members, member.Username)
	}

	return response
}
