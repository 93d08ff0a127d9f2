package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Message is a single chat message. Messages are immutable after creation
// except for the read transition: ReadAt is set exactly once, by a read
// receipt, and never cleared.
type Message struct {
	ID             primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	ConversationID primitive.ObjectID `json:"conversationId" bson:"conversation_id"`
	SenderID       string             `json:"senderId" bson:"sender_id"`
	ReceiverID     string             `json:"receiverId" bson:"receiver_id"`
	Body           string             `json:"body" bson:"body"`
	CreatedAt      time.Time          `json:"createdAt" bson:"created_at"`
	ReadAt         *time.Time         `json:"readAt,omitempty" bson:"read_at,omitempty"`
}

// Read reports whether the message has been seen by its receiver.
func (m *Message) Read() bool {
	return m.ReadAt != nil
}

// ErrorPayload represents an error response sent to a client via WebSocket.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
