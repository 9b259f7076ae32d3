package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dkaya/wavelink/internal/app/models"
	"github.com/dkaya/wavelink/internal/app/models/dto"
	"github.com/dkaya/wavelink/internal/pkg/apperrors"
	"github.com/dkaya/wavelink/internal/pkg/realtime"
)

// MessageFanout delivers encoded events to live connections. Delivery is
// best effort and at-least-once; the persisted store is the source of truth.
type MessageFanout interface {
	DeliverToMember(conversationID int64, username string, data []byte) int
	PublishToConversation(conversationID int64, data []byte) int
}

// messageStore abstracts message persistence for the chat service
type messageStore interface {
	Create(ctx context.Context, message *models.Message) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Message, error)
	ListByConversation(ctx context.Context, conversationID int64, before, after *int64, limit int) ([]*models.Message, error)
	Delete(ctx context.Context, id int64) error
}

// membershipStore abstracts conversation membership lookups
type membershipStore interface {
	IsMember(ctx context.Context, conversationID int64, username string) (bool, error)
	Members(ctx context.Context, conversationID int64) ([]string, error)
}

// ChatService defines the interface for message publish and retrieval
type ChatService interface {
	PublishMessage(ctx context.Context, conversationID int64, sender string, content string, replyTo *int64) (*models.Message, error)
	GetMessages(ctx context.Context, conversationID int64, username string, filter *dto.GetMessagesRequest) (*dto.MessageListResponse, error)
	DeleteMessage(ctx context.Context, messageID int64, username string) error
	IsMember(ctx context.Context, conversationID int64, username string) (bool, error)
}

// chatServiceImpl implements ChatService
type chatServiceImpl struct {
	messages messageStore
	members  membershipStore
	fanout   MessageFanout
	logger   zerolog.Logger

	// mu guards locks; each conversation gets its own lock so publishes
	// within a conversation are serialized while conversations stay
	// independent of each other.
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewChatService creates a new ChatService
func NewChatService(
	messages messageStore,
	members membershipStore,
	fanout MessageFanout,
	logger zerolog.Logger,
) ChatService {
	return &chatServiceImpl{
		messages: messages,
		members:  members,
		fanout:   fanout,
		logger:   logger,
		locks:    make(map[int64]*sync.Mutex),
	}
}

func (s *chatServiceImpl) conversationLock(conversationID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[conversationID] = lock
	}
	return lock
}

// PublishMessage validates membership, persists the message and fans it out
// to every member's live connections. The store write happens before any
// delivery: if persistence fails nothing is broadcast, and a persisted
// message is returned to the caller even when no member is connected.
func (s *chatServiceImpl) PublishMessage(
	ctx context.Context,
	conversationID int64,
	sender string,
	content string,
	replyTo *int64,
) (*models.Message, error) {
	isMember, err := s.members.IsMember(ctx, conversationID, sender)
	if err != nil {
		s.logger.Error().Err(err).
			Int64("conversationID", conversationID).
			Str("sender", sender).
			Msg("Failed to check membership for publish")
		return nil, fmt.Errorf("error checking membership: %w", err)
	}

	if !isMember {
		return nil, apperrors.NewNotMemberError("sender is not a member of this conversation")
	}

	// Serialize persist and fan-out per conversation so members observe
	// messages in persistence order.
	lock := s.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	message := &models.Message{
		ConversationID: conversationID,
		Sender:         sender,
		MessageType:    models.MessageTypeText,
		Content:        content,
		ReplyTo:        replyTo,
	}

	if _, err := s.messages.Create(ctx, message); err != nil {
		s.logger.Error().Err(err).
			Int64("conversationID", conversationID).
			Str("sender", sender).
			Msg("Failed to persist message")
		return nil, apperrors.NewPersistenceError(err, "message could not be persisted")
	}

	s.broadcastMessage(ctx, message)

	return message, nil
}

// broadcastMessage fans a persisted message out to the conversation's
// members. Failures here never fail the publish: the message is already in
// the store and disconnected members catch up through history.
func (s *chatServiceImpl) broadcastMessage(ctx context.Context, message *models.Message) {
	data, err := realtime.EncodeEvent(realtime.EventNewMessage, dto.ToMessageResponse(message))
	if err != nil {
		s.logger.Error().Err(err).
			Int64("messageID", message.ID).
			Msg("Failed to encode new message event")
		return
	}

	members, err := s.members.Members(ctx, message.ConversationID)
	if err != nil {
		s.logger.Error().Err(err).
			Int64("conversationID", message.ConversationID).
			Int64("messageID", message.ID).
			Msg("Failed to resolve members for fan-out")
		// Topic subscribers still receive the message.
		s.fanout.PublishToConversation(message.ConversationID, data)
		return
	}

	delivered := 0
	for _, member := range members {
		delivered += s.fanout.DeliverToMember(message.ConversationID, member, data)
	}
	delivered += s.fanout.PublishToConversation(message.ConversationID, data)

	s.logger.Debug().
		Int64("conversationID", message.ConversationID).
		Int64("messageID", message.ID).
		Int("delivered", delivered).
		Msg("Fanned out message")
}

// GetMessages retrieves a page of messages for a conversation member
func (s *chatServiceImpl) GetMessages(
	ctx context.Context,
	conversationID int64,
	username string,
	filter *dto.GetMessagesRequest,
) (*dto.MessageListResponse, error) {
	isMember, err := s.members.IsMember(ctx, conversationID, username)
	if err != nil {
		return nil, fmt.Errorf("error checking membership: %w", err)
	}

	if !isMember {
		return nil, apperrors.NewNotMemberError("not a member of this conversation")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	messages, err := s.messages.ListByConversation(ctx, conversationID, filter.Before, filter.After, limit)
	if err != nil {
		s.logger.Error().Err(err).
			Int64("conversationID", conversationID).
			Msg("Failed to retrieve messages")
		return nil, fmt.Errorf("error retrieving messages: %w", err)
	}

	response := &dto.MessageListResponse{Messages: make([]dto.MessageResponse, 0, len(messages))}
	for _, message := range messages {
		response.Messages = append(response.Messages, dto.ToMessageResponse(message))
	}

	return response, nil
}

// DeleteMessage removes a message. Only the original sender may delete it.
func (s *chatServiceImpl) DeleteMessage(ctx context.Context, messageID int64, username string) error {
	message, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return fmt.Errorf("error retrieving message: %w", err)
	}

	if message == nil {
		return apperrors.NewResourceNotFoundError("Message not found")
	}

	if message.Sender != username {
		return apperrors.NewForbiddenError("only the sender can delete a message")
	}

	if err := s.messages.Delete(ctx, messageID); err != nil {
		s.logger.Error().Err(err).
			Int64("messageID", messageID).
			Msg("Failed to delete message")
		return apperrors.NewPersistenceError(err, "message could not be deleted")
	}

	return nil
}

// IsMember reports whether a user belongs to a conversation
func (s *chatServiceImpl) IsMember(ctx context.Context, conversationID int64, username string) (bool, error) {
	return s.members.IsMember(ctx, conversationID, username)
}
