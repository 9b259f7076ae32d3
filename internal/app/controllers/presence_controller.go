package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dkaya/wavelink/internal/app/models/dto"
	"github.com/dkaya/wavelink/internal/app/services"
	"github.com/dkaya/wavelink/internal/middleware"
)

// PresenceController handles presence queries
type PresenceController struct {
	presenceService services.PresenceService
}

// NewPresenceController creates a new PresenceController
func NewPresenceController(presenceService services.PresenceService) *PresenceController {
	return &PresenceController{
		presenceService: presenceService,
	}
}

// GetPresence godoc
// @Summary Get a user's presence
// @Description Retrieve the online state and last-seen time of a user
// @Tags presence
// @Produce json
// @Security BearerAuth
// @Param username path string true "Username"
// @Success 200 {object} dto.PresenceResponse
// @Router /presence/{username} [get]
func (p *PresenceController) GetPresence(ctx *gin.Context) {
	username := ctx.Param("username")
	if username == "" {
		ctx.JSON(http.StatusBadRequest, dto.NewErrorResponse(
			dto.NewErrorDetail(dto.ErrorCodeValidationFailed, "Invalid username parameter")))
		return
	}

	presence, err := p.presenceService.GetPresence(ctx, username)
	if err != nil {
		middleware.HandleAPIError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, presence)
}
