package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dkaya/wavelink/internal/app/models/dto"
	"github.com/dkaya/wavelink/internal/app/services"
	"github.com/dkaya/wavelink/internal/middleware"
)

// CommunityController bridges the external community system to community
// conversations
type CommunityController struct {
	conversationService services.ConversationService
}

// NewCommunityController creates a new CommunityController
func NewCommunityController(conversationService services.ConversationService) *CommunityController {
	return &CommunityController{
		conversationService: conversationService,
	}
}

// GetOrCreateChat godoc
// @Summary Resolve a community's conversation
// @Description Get or create the single conversation bound to a community
// @Tags communities
// @Produce json
// @Security BearerAuth
// @Param id path int true "Community ID"
// @Success 200 {object} dto.ConversationCreatedResponse "Existing conversation reused"
// @Success 201 {object} dto.ConversationCreatedResponse "New conversation created"
// @Router /communities/{id}/chat [post]
func (c *CommunityController) GetOrCreateChat(ctx *gin.Context) {
	communityID, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}

	username, ok := middleware.Username(ctx)
	if !ok {
		respondUnauthenticated(ctx)
		return
	}

	response, err := c.conversationService.GetOrCreateCommunityChat(ctx, communityID, username)
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

// MirrorJoin godoc
// @Summary Mirror a community join
// @Description Reflect a community membership change into the community's conversation
// @Tags communities
// @Produce json
// @Security BearerAuth
// @Param id path int true "Community ID"
// @Param username path string true "Username"
// @Success 200 {object} dto.SuccessResponse
// @Router /communities/{id}/members/{username} [post]
func (c *CommunityController) MirrorJoin(ctx *gin.Context) {
	communityID, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}

	username := ctx.Param("username")
	if username == "" {
		ctx.JSON(http.StatusBadRequest, dto.NewErrorResponse(
			dto.NewErrorDetail(dto.ErrorCodeValidationFailed, "Invalid username parameter")))
		return
	}

	if err := c.conversationService.MirrorCommunityJoin(ctx, communityID, username); err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, dto.SuccessResponse{Message: "Membership mirrored"})
}

// MirrorLeave godoc
// @Summary Mirror a community leave
// @Description Remove a user from the community's conversation
// @Tags communities
// @Produce json
// @Security BearerAuth
// @Param id path int true "Community ID"
// @Param username path string true "Username"
// @Success 200 {object} dto.SuccessResponse
// @Router /communities/{id}/members/{username} [delete]
func (c *CommunityController) MirrorLeave(ctx *gin.Context) {
	communityID, ok := parseIDParam(ctx, "id")
	if !ok {
		return
	}

	username := ctx.Param("username")
	if username == "" {
		ctx.JSON(http.StatusBadRequest, dto.NewErrorResponse(
			dto.NewErrorDetail(dto.ErrorCodeValidationFailed, "Invalid username parameter")))
		return
	}

	if err := c.conversationService.MirrorCommunityLeave(ctx, communityID, username); err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, dto.SuccessResponse{Message: "Membership mirrored"})
}
