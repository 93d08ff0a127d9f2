package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/DSkillz/ProNet-sub001/internal/hub"
	"github.com/DSkillz/ProNet-sub001/internal/model"
	"github.com/DSkillz/ProNet-sub001/internal/repo"
)

const userIDKey = "userID"

// AuthRequired resolves the bearer token to a member ID and stores it
// in the request context. Requests without a valid session get 401.
func AuthRequired(auth hub.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing credentials"})
			return
		}
		userID, err := auth.UserForToken(c.Request.Context(), strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

type ChatHandler interface {
	GetConversations(c *gin.Context)
	GetMessages(c *gin.Context)
	GetUnreadCount(c *gin.Context)
	SendMessage(c *gin.Context)
}

type chatHandler struct {
	users  repo.UserRepository
	convs  repo.ConversationRepository
	msgs   repo.MessageRepository
	hub    *hub.Hub
	logger *zap.Logger
}

func NewChatHandler(users repo.UserRepository, convs repo.ConversationRepository, msgs repo.MessageRepository, h *hub.Hub, logger *zap.Logger) ChatHandler {
	return &chatHandler{
		users:  users,
		convs:  convs,
		msgs:   msgs,
		hub:    h,
		logger: logger,
	}
}

// GetConversations returns the session user's conversation summaries,
// unread counters included, most recent activity first.
func (h *chatHandler) GetConversations(c *gin.Context) {
	userID := c.GetString(userIDKey)

	conversations, err := h.convs.ListForUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get conversations"})
		return
	}

	unread, err := h.msgs.UnreadByConversation(c.Request.Context(), userID)
	if err != nil {
		h.logger.Warn("unread counters unavailable", zap.Error(err))
		unread = map[string]int64{}
	}
	for i := range conversations {
		conversations[i].UnreadCount = unread[conversations[i].ID.Hex()]
	}

	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

// GetMessages returns one cursor page of a conversation's history.
func (h *chatHandler) GetMessages(c *gin.Context) {
	userID := c.GetString(userIDKey)
	conversationID := c.Param("conversationId")

	members, err := h.convs.Members(c.Request.Context(), conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get messages"})
		return
	}
	if !memberOf(members, userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return
	}

	messages, nextCursor, err := h.msgs.HistoryPage(c.Request.Context(), conversationID, c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
		return
	}

	resp := gin.H{"messages": messages}
	if nextCursor != "" {
		resp["nextCursor"] = nextCursor
	}
	c.JSON(http.StatusOK, resp)
}

// GetUnreadCount returns the total unread counter for the badge.
func (h *chatHandler) GetUnreadCount(c *gin.Context) {
	userID := c.GetString(userIDKey)

	count, err := h.msgs.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get unread count"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

type sendMessageRequest struct {
	ReceiverID string `json:"receiverId" binding:"required"`
	Content    string `json:"content" binding:"required"`
}

// SendMessage stores a message, bumps the conversation preview, pushes
// the realtime event to both participants and queues a notification for
// the receiver.
func (h *chatHandler) SendMessage(c *gin.Context) {
	userID := c.GetString(userIDKey)

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "receiverId and content are required"})
		return
	}

	sender, err := h.users.GetUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
		return
	}
	receiver, err := h.users.GetUser(c.Request.Context(), req.ReceiverID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "receiver not found"})
		return
	}

	conversation, err := h.convs.FindOrCreateDirect(c.Request.Context(), sender, receiver)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
		return
	}

	msg, err := h.msgs.InsertMessage(c.Request.Context(), &model.Message{
		ConversationID: conversation.ID,
		SenderID:       sender.UserID,
		ReceiverID:     receiver.UserID,
		Body:           req.Content,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
		return
	}

	if err := h.convs.SetLastMessage(c.Request.Context(), conversation.ID.Hex(), model.LastMessage{
		MessageID: msg.ID,
		Body:      msg.Body,
		SenderID:  msg.SenderID,
		SentAt:    msg.CreatedAt,
	}); err != nil {
		h.logger.Warn("last message not updated",
			zap.String("conversation_id", conversation.ID.Hex()),
			zap.Error(err),
		)
	}

	h.hub.BroadcastNewMessage(msg)
	h.hub.NotifyUser(c.Request.Context(), receiver.UserID, model.Notification{
		Type:    "message",
		Title:   sender.Username,
		Content: msg.Body,
		Link:    "/messaging/" + conversation.ID.Hex(),
	})

	c.JSON(http.StatusCreated, msg)
}

func memberOf(members []string, userID string) bool {
	for _, m := range members {
		if m == userID {
			return true
		}
	}
	return false
}
