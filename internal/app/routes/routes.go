package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/dkaya/wavelink/internal/app/controllers"
	"github.com/dkaya/wavelink/internal/middleware"
	"github.com/dkaya/wavelink/internal/pkg/realtime"
)

// SetupRouter configures all application routes
func SetupRouter(
	router *gin.Engine,
	conversationController *controllers.ConversationController,
	chatController *controllers.ChatController,
	presenceController *controllers.PresenceController,
	communityController *controllers.CommunityController,
	realtimeHandler *realtime.Handler,
	authMiddleware *middleware.AuthMiddleware,
) {
	// API version group
	v1 := router.Group("/api/v1")

	// Websocket upgrade is unauthenticated; the connection binds to an
	// identity through the authenticate event.
	v1.GET("/ws", realtimeHandler.HandleConnection)

	// --- Authenticated routes ---
	authenticated := v1.Group("")
	authenticated.Use(authMiddleware.JWTAuth())
	{
		conversations := authenticated.Group("/conversations")
		{
			conversations.GET("", conversationController.ListConversations)
			conversations.POST("/direct", conversationController.CreateDirect)
			conversations.POST("/group", conversationController.CreateGroup)
			conversations.GET("/:id", conversationController.GetConversation)
			conversations.POST("/:id/members/:username", conversationController.AddMember)
			conversations.DELETE("/:id/members/:username", conversationController.RemoveMember)
			conversations.GET("/:id/messages", chatController.GetMessages)
			conversations.POST("/:id/messages", chatController.PublishMessage)
			conversations.POST("/:id/read", chatController.MarkRead)
			conversations.GET("/:id/unread", chatController.GetUnreadCount)
		}

		authenticated.DELETE("/messages/:id", chatController.DeleteMessage)

		authenticated.GET("/presence/:username", presenceController.GetPresence)

		communities := authenticated.Group("/communities")
		{
			communities.POST("/:id/chat", communityController.GetOrCreateChat)
			communities.POST("/:id/members/:username", communityController.MirrorJoin)
			communities.DELETE("/:id/members/:username", communityController.MirrorLeave)
		}
	}
}
