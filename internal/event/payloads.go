package event

import "time"

// Presence carries a single member's online/offline transition.
type Presence struct {
	UserID string `json:"userId"`
}

// OnlineUsers is the snapshot pushed to a client right after its
// handshake so presence survives reconnects.
type OnlineUsers struct {
	UserIDs []string `json:"userIds"`
}

// Typing is the server-relayed typing state for one member in one
// conversation.
type Typing struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// TypingIntent is the outbound start/stop typing signal.
type TypingIntent struct {
	ConversationID string `json:"conversationId"`
	ReceiverID     string `json:"receiverId"`
}

// ConversationRef scopes join/leave intents to one conversation.
type ConversationRef struct {
	ConversationID string `json:"conversationId"`
}

// MarkRead is the outbound fire-and-forget read signal.
type MarkRead struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

// ReadReceipt is the server's confirmation that a message was viewed.
type ReadReceipt struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	ReadAt         time.Time `json:"readAt"`
}
