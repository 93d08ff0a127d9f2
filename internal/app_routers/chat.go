package approuters

import (
	"github.com/gin-gonic/gin"

	"github.com/DSkillz/ProNet-sub001/internal/configuration"
	"github.com/DSkillz/ProNet-sub001/internal/handler"
)

// ChatRouters wires the chat REST contract consumed by the realtime
// client: conversation summaries, cursor-paginated history, the unread
// badge and sends.
func ChatRouters(router *gin.Engine, container *configuration.Container) {
	chatRoute := router.Group("/pn/api/chat")
	chatRoute.Use(handler.AuthRequired(container.Auth))
	{
		chatRoute.GET("/conversations", container.ChatHandler.GetConversations)
		chatRoute.GET("/conversations/:conversationId/messages", container.ChatHandler.GetMessages)
		chatRoute.GET("/unread-count", container.ChatHandler.GetUnreadCount)
		chatRoute.POST("/messages", container.ChatHandler.SendMessage)
	}
}
