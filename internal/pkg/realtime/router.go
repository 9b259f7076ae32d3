package realtime

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"github.com/dkaya/wavelink/internal/app/models"
	"github.com/dkaya/wavelink/internal/pkg/apperrors"
	"github.com/dkaya/wavelink/internal/pkg/auth"
)

// Publisher persists a message and fans it out to conversation members
type Publisher interface {
	PublishMessage(ctx context.Context, conversationID int64, sender string, content string, replyTo *int64) (*models.Message, error)
}

// ReadMarker records read acknowledgments and returns the highest
// acknowledged message id
type ReadMarker interface {
	MarkRead(ctx context.Context, conversationID int64, username string, upTo *int64) (int64, error)
}

// MembershipChecker validates conversation membership for topic joins
type MembershipChecker interface {
	IsMember(ctx context.Context, conversationID int64, username string) (bool, error)
}

// TokenValidator binds an authenticate event's token to a username
type TokenValidator interface {
	ValidateAndExtractClaims(tokenString string) (*auth.Claims, error)
}

// Router dispatches inbound events on a realtime connection. Every event
// except authenticate requires the connection to be bound to an identity.
type Router struct {
	registry *Registry
	hub      *Hub
	tokens   TokenValidator
	chat     Publisher
	reads    ReadMarker
	members  MembershipChecker
	logger   zerolog.Logger
}

// NewRouter creates a new Router
func NewRouter(
	registry *Registry,
	hub *Hub,
	tokens TokenValidator,
	chat Publisher,
	reads ReadMarker,
	members MembershipChecker,
	logger zerolog.Logger,
) *Router {
	return &Router{
		registry: registry,
		hub:      hub,
		tokens:   tokens,
		chat:     chat,
		reads:    reads,
		members:  members,
		logger:   logger,
	}
}

// Handle processes one inbound frame from a connection
func (r *Router) Handle(ctx context.Context, client *Client, raw []byte) {
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		r.sendError(client, ErrCodeBadPayload, "malformed event")
		return
	}

	if client.Username() == "" && event.Type != EventAuthenticate {
		r.sendError(client, ErrCodeAuthRequired, "authenticate first")
		return
	}

	switch event.Type {
	case EventAuthenticate:
		r.handleAuthenticate(ctx, client, event.Data)
	case EventSubscribe:
		r.handleSubscribe(ctx, client, event.Data)
	case EventUnsubscribe:
		r.handleUnsubscribe(client, event.Data)
	case EventPublishMessage:
		r.handlePublishMessage(ctx, client, event.Data)
	case EventMarkRead:
		r.handleMarkRead(ctx, client, event.Data)
	case EventHeartbeatAck:
		client.ResetMissedAcks()
		r.registry.Touch(ctx, client.Username())
	default:
		r.sendError(client, ErrCodeBadPayload, "unknown event type")
	}
}

func (r *Router) handleAuthenticate(ctx context.Context, client *Client, data json.RawMessage) {
	var payload AuthenticatePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		r.sendError(client, ErrCodeBadPayload, "malformed authenticate payload")
		return
	}

	claims, err := r.tokens.ValidateAndExtractClaims(payload.Token)
	if err != nil {
		r.logger.Warn().Err(err).
			Str("connectionID", client.ID()).
			Msg("Rejected authenticate event")
		r.sendError(client, ErrCodeInvalidToken, "invalid credential token")
		client.Close()
		return
	}

	if client.Username() != "" {
		// Re-authentication on a live connection is not supported.
		r.sendError(client, ErrCodeBadPayload, "connection already authenticated")
		return
	}

	client.setUsername(claims.Username)
	r.registry.Register(ctx, client)
}

func (r *Router) handleSubscribe(ctx context.Context, client *Client, data json.RawMessage) {
	var payload SubscribePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		r.sendError(client, ErrCodeBadPayload, "malformed subscribe payload")
		return
	}

	isMember, err := r.members.IsMember(ctx, payload.ConversationID, client.Username())
	if err != nil {
		r.logger.Error().Err(err).
			Int64("conversationID", payload.ConversationID).
			Str("username", client.Username()).
			Msg("Failed to check membership for subscribe")
		r.sendError(client, ErrCodePersistence, "could not verify membership")
		return
	}

	if !isMember {
		r.sendError(client, ErrCodeNotMember, "not a member of this conversation")
		return
	}

	r.hub.Subscribe(client, TopicForConversation(payload.ConversationID))
}

func (r *Router) handleUnsubscribe(client *Client, data json.RawMessage) {
	var payload SubscribePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		r.sendError(client, ErrCodeBadPayload, "malformed unsubscribe payload")
		return
	}

	r.hub.Unsubscribe(client, TopicForConversation(payload.ConversationID))
}

func (r *Router) handlePublishMessage(ctx context.Context, client *Client, data json.RawMessage) {
	var payload PublishMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		r.sendError(client, ErrCodeBadPayload, "malformed publish payload")
		return
	}

	message, err := r.chat.PublishMessage(ctx, payload.ConversationID, client.Username(), payload.Content, payload.ReplyTo)
	if err != nil {
		r.sendPublishError(client, err)
		return
	}

	// The sender always learns definitively that the message was persisted.
	ack, err := EncodeEvent(EventMessageSent, message)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to encode message ack")
		return
	}
	if !client.Enqueue(ack) {
		r.logger.Warn().
			Str("connectionID", client.ID()).
			Int64("messageID", message.ID).
			Msg("Dropped message ack on full send buffer")
	}
}

func (r *Router) handleMarkRead(ctx context.Context, client *Client, data json.RawMessage) {
	var payload MarkReadPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		r.sendError(client, ErrCodeBadPayload, "malformed mark_read payload")
		return
	}

	if _, err := r.reads.MarkRead(ctx, payload.ConversationID, client.Username(), payload.UpToMessageID); err != nil {
		r.sendPublishError(client, err)
	}
}

func (r *Router) sendPublishError(client *Client, err error) {
	switch {
	case errors.Is(err, apperrors.ErrNotMember):
		r.sendError(client, ErrCodeNotMember, "not a member of this conversation")
	case errors.Is(err, apperrors.ErrConversationNotFound),
		errors.Is(err, apperrors.ErrResourceNotFound):
		r.sendError(client, ErrCodeNotFound, "conversation not found")
	default:
		r.sendError(client, ErrCodePersistence, "message could not be persisted")
	}
}

func (r *Router) sendError(client *Client, code string, message string) {
	data, err := EncodeEvent(EventError, ErrorPayload{Code: code, Message: message})
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to encode error event")
		return
	}

	if !client.Enqueue(data) {
		r.logger.Warn().
			Str("connectionID", client.ID()).
			Str("code", code).
			Msg("Dropped error event on full send buffer")
	}
}
