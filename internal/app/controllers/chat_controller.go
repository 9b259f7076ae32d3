package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dkaya/wavelink/internal/app/models/dto"
	"github.com/dkaya/wavelink/internal/app/services"
	"github.com/dkaya/wavelink/internal/middleware"
)

// ChatController handles message history, publishing and read accounting
type ChatController struct {
	chatService services.ChatService
	readService services.ReadService
}

// NewChatController creates a new ChatController
func NewChatController(chatService services.ChatService, readService services.ReadService) *ChatController {
	return &ChatController{
		chatService: chatService,
		readService: readService,
	}
}

// GetMessages godoc
// @Summary Get conversation messages
// @Description Retrieve messages for a conversation with id-based pagination
// @Tags chat
// @Produce json
// @Security BearerAuth
// @Param id path int true "Conversation ID"
// @Param before query int false "Messages with id lower than this"
// @Param after query int false "Messages with id higher than this"
// @Param limit query int false "Maximum number of messages" default(50)
// @Success 200 {object} dto.MessageListResponse
// @Router /conversations/{id}/messages [get]
func (c *ChatController) GetMessages(ctx *gin.Context) {
	conversationID, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}

	username, ok := middleware.Username(ctx)
	if !ok {
		respondUnauthenticated(ctx)
		return
	}

	filter := &dto.GetMessagesRequest{Limit: 50}
	if err := ctx.ShouldBindQuery(filter); err != nil {
		ctx.JSON(http.StatusBadRequest, dto.NewErrorResponse(
			dto.NewErrorDetail(dto.ErrorCodeValidationFailed, "Invalid message filters")))
		return
	}

	messages, err := c.chatService.GetMessages(ctx, conversationID, username, filter)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, messages)
}

// PublishMessage godoc
// @Summary Publish a message
// @Description Persist a message and fan it out to the conversation's live connections
// @Tags chat
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Conversation ID"
// @Param request body dto.PublishMessageRequest true "Message content"
// @Success 201 {object} dto.MessageResponse
// @Router /conversations/{id}/messages [post]
func (c *ChatController) PublishMessage(ctx *gin.Context) {
	conversationID, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}

	username, ok := middleware.Username(ctx)
	if !ok {
		respondUnauthenticated(ctx)
		return
	}

	var request dto.PublishMessageRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, dto.NewErrorResponse(
			dto.NewErrorDetail(dto.ErrorCodeValidationFailed, "Invalid message payload")))
		return
	}

	message, err := c.chatService.PublishMessage(ctx, conversationID, username, request.Content, request.ReplyTo)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, dto.ToMessageResponse(message))
}

// DeleteMessage godoc
// @Summary Delete a message
// @Description Remove a message; only its sender may delete it
// @Tags chat
// @Security BearerAuth
// @Param id path int true "Message ID"
// @Success 200 {object} dto.SuccessResponse
// @Router /messages/{id} [delete]
func (c *ChatController) DeleteMessage(ctx *gin.Context) {
	messageID, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}

	username, ok := middleware.Username(ctx)
	if !ok {
		respondUnauthenticated(ctx)
		return
	}

	if err := c.chatService.DeleteMessage(ctx, messageID, username); err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, dto.SuccessResponse{Message: "Message deleted"})
}

// MarkRead godoc
// @Summary Mark messages as read
// @Description Acknowledge messages in a conversation up to an optional bound
// @Tags chat
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Conversation ID"
// @Param request body dto.MarkReadRequest false "Optional upper bound"
// @Success 200 {object} dto.MarkReadResponse
// @Router /conversations/{id}/read [post]
func (c *ChatController) MarkRead(ctx *gin.Context) {
	conversationID, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}

	username, ok := middleware.Username(ctx)
	if !ok {
		respondUnauthenticated(ctx)
		return
	}

	var request dto.MarkReadRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&request); err != nil {
			ctx.JSON(http.StatusBadRequest, dto.NewErrorResponse(
				dto.NewErrorDetail(dto.ErrorCodeValidationFailed, "Invalid read payload")))
			return
		}
	}

	upTo, err := c.readService.MarkRead(ctx, conversationID, username, request.UpToMessageID)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, dto.MarkReadResponse{ConversationID: conversationID, UpTo: upTo})
}

// GetUnreadCount godoc
// @Summary Get unread count
// @Description Retrieve the number of unacknowledged messages in a conversation
// @Tags chat
// @Produce json
// @Security BearerAuth
// @Param id path int true "Conversation ID"
// @Success 200 {object} dto.UnreadCountResponse
// @Router /conversations/{id}/unread [get]
func (c *ChatController) GetUnreadCount(ctx *gin.Context) {
	conversationID, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}

	username, ok := middleware.Username(ctx)
	if !ok {
		respondUnauthenticated(ctx)
		return
	}

	count, err := c.readService.UnreadCount(ctx, conversationID, username)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, dto.UnreadCountResponse{ConversationID: conversationID, Count: count})
}

func parseIDParam(ctx *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(ctx.Param(name), 10, 64)
	if err != nil || id <= 0 {
		ctx.JSON(http.StatusBadRequest, dto.NewErrorResponse(
			dto.NewErrorDetail(dto.ErrorCodeValidationFailed, "Invalid id parameter")))
		return 0, false
	}
	return id, true
}

func respondUnauthenticated(ctx *gin.Context) {
	ctx.JSON(http.StatusUnauthorized, dto.NewErrorResponse(
		dto.NewErrorDetail(dto.ErrorCodeUnauthorized, "Authentication required")))
}
