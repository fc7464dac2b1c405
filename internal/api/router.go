package api

import (
	"github.com/gin-gonic/gin"

	"github.com/agentdeck/agentdeck/internal/agent/registry"
	"github.com/agentdeck/agentdeck/internal/common/logger"
)

// SetupRoutes configures the dashboard API routes.
// router should be the /api/v1 group.
func SetupRoutes(router *gin.RouterGroup, sessions SessionService, reg *registry.Registry, log *logger.Logger) {
	handler := NewHandler(sessions, reg, log)

	router.GET("/health", handler.Health)
	router.GET("/roles", handler.ListRoles)

	sessionRoutes := router.Group("/sessions")
	{
		sessionRoutes.GET("", handler.ListSessions)
		sessionRoutes.POST("", handler.StartSession)
		sessionRoutes.GET("/:id", handler.GetSession)
		sessionRoutes.DELETE("/:id", handler.DeleteSession)
		sessionRoutes.POST("/:id/stop", handler.StopSession)
		sessionRoutes.POST("/:id/restart", handler.RestartSession)
		sessionRoutes.POST("/:id/interrupt", handler.InterruptSession)
		sessionRoutes.POST("/:id/message", handler.SendMessage)
		sessionRoutes.GET("/:id/output", handler.GetOutput)
		sessionRoutes.POST("/:id/edits/:toolUseId/approve", handler.ApproveEdit)
		sessionRoutes.POST("/:id/edits/:toolUseId/reject", handler.RejectEdit)
	}

	changeRoutes := router.Group("/changes")
	{
		changeRoutes.GET("", handler.ListChanges)
		changeRoutes.GET("/:id", handler.GetChange)
		changeRoutes.POST("/:id/accept", handler.AcceptChange)
		changeRoutes.POST("/:id/decline", handler.DeclineChange)
		changeRoutes.POST("/:id/instruction", handler.SendChangeInstruction)
	}
}
