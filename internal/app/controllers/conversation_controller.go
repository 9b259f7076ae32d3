package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dkaya/wavelink/internal/app/models/dto"
	"github.com/dkaya/wavelink/internal/app/services"
	"github.com/dkaya/wavelink/internal/middleware"
)

// ConversationController handles conversation identity resolution
type ConversationController struct {
	conversationService services.ConversationService
}

// NewConversationController creates a new ConversationController
func NewConversationController(conversationService services.ConversationService) *ConversationController {
	return &ConversationController{
		conversationService: conversationService,
	}
}

// CreateDirect godoc
// @Summary Resolve a direct conversation
// @Description Get or create the single direct conversation with a peer
// @Tags conversations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.CreateDirectConversationRequest true "Peer username"
// @Success 200 {object} dto.ConversationCreatedResponse "Existing conversation reused"
// @Success 201 {object} dto.ConversationCreatedResponse "New conversation created"
// @Router /conversations/direct [post]
func (c *ConversationController) CreateDirect(ctx *gin.Context) {
	username, ok := middleware.Username(ctx)
	if !ok {
		respondUnauthenticated(ctx)
		return
	}

	var request dto.CreateDirectConversationRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, dto.NewErrorResponse(
			dto.NewErrorDetail(dto.ErrorCodeValidationFailed, "Invalid conversation payload")))
		return
	}

	response, err := c.conversationService.GetOrCreateDirect(ctx, username, request.Peer)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	status := http.StatusCreated
	if response.Reused {
		status = http.StatusOK
	}

	ctx.JSON(status, response)
}

// CreateGroup godoc
// @Summary Create a group conversation
// @Description Create a new group conversation with an explicit member list
// @Tags conversations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body dto.CreateGroupConversationRequest true "Member usernames"
// @Success 201 {object} dto.ConversationResponse
// @Router /conversations/group [post]
func (c *ConversationController) CreateGroup(ctx *gin.Context) {
	username, ok := middleware.Username(ctx)
	if !ok {
		respondUnauthenticated(ctx)
		return
	}

	var request dto.CreateGroupConversationRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, dto.NewErrorResponse(
			dto.NewErrorDetail(dto.ErrorCodeValidationFailed, "Invalid conversation payload")))
		return
	}

	response, err := c.conversationService.CreateGroup(ctx, username, request.Members)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, response)
}

// AddMember godoc
// @Summary Add a group member
// @Description Add a user to a group conversation; only the creator may do this
// @Tags conversations
// @Produce json
// @Security BearerAuth
// @Param id path int true "Conversation ID"
// @Param username path string true "Username"
// @Success 200 {object} dto.SuccessResponse
// @Router /conversations/{id}/members/{username} [post]
func (c *ConversationController) AddMember(ctx *gin.Context) {
	conversationID, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}

	actor, ok := middleware.Username(ctx)
	if !ok {
		respondUnauthenticated(ctx)
		return
	}

	username := ctx.Param("username")
	if username == "" {
		ctx.JSON(http.StatusBadRequest, dto.NewErrorResponse(
			dto.NewErrorDetail(dto.ErrorCodeValidationFailed, "Invalid username parameter")))
		return
	}

	if err := c.conversationService.AddGroupMember(ctx, conversationID, actor, username); err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, dto.SuccessResponse{Message: "Member added"})
}

// RemoveMember godoc
// @Summary Remove a group member
// @Description Remove a user from a group conversation, or leave it
// @Tags conversations
// @Produce json
// @Security BearerAuth
// @Param id path int true "Conversation ID"
// @Param username path string true "Username"
// @Success 200 {object} dto.SuccessResponse
// @Router /conversations/{id}/members/{username} [delete]
func (c *ConversationController) RemoveMember(ctx *gin.Context) {
	conversationID, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}

	actor, ok := middleware.Username(ctx)
	if !ok {
		respondUnauthenticated(ctx)
		return
	}

	username := ctx.Param("username")
	if username == "" {
		ctx.JSON(http.StatusBadRequest, dto.NewErrorResponse(
			dto.NewErrorDetail(dto.ErrorCodeValidationFailed, "Invalid username parameter")))
		return
	}

	if err := c.conversationService.RemoveGroupMember(ctx, conversationID, actor, username); err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, dto.SuccessResponse{Message: "Member removed"})
}

// ListConversations godoc
// @Summary List conversations
// @Description Retrieve every conversation the caller belongs to, with unread counts
// @Tags conversations
// @Produce json
// @Security BearerAuth
// @Success 200 {array} dto.ConversationResponse
// @Router /conversations [get]
func (c *ConversationController) ListConversations(ctx *gin.Context) {
	username, ok := middleware.Username(ctx)
	if !ok {
		respondUnauthenticated(ctx)
		return
	}

	conversations, err := c.conversationService.ListForUser(ctx, username)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, conversations)
}

// GetConversation godoc
// @Summary Get a conversation
// @Description Retrieve a single conversation visible to the caller
// @Tags conversations
// @Produce json
// @Security BearerAuth
// @Param id path int true "Conversation ID"
// @Success 200 {object} dto.ConversationResponse
// @Router /conversations/{id} [get]
func (c *ConversationController) GetConversation(ctx *gin.Context) {
	conversationID, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}

	username, ok := middleware.Username(ctx)
	if !ok {
		respondUnauthenticated(ctx)
		return
	}

	conversation, err := c.conversationService.GetConversation(ctx, conversationID, username)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, conversation)
}
