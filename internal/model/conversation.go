package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Conversation is a chat thread between two or more members.
type Conversation struct {
	ID             primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Participants   []Participant      `json:"participants" bson:"participants"`
	ParticipantIDs []string           `json:"participantIds" bson:"participant_ids"`
	CreatedAt      time.Time          `json:"createdAt" bson:"created_at"`
	LastMessageAt  time.Time          `json:"lastMessageAt" bson:"last_message_at"`
	LastMessage    *LastMessage       `json:"lastMessage" bson:"last_message"`
	IsActive       bool               `json:"isActive" bson:"is_active"`

	// UnreadCount is computed per viewer at query time, never stored.
	UnreadCount int64 `json:"unreadCount" bson:"-"`
}

// Participant is a member summary denormalized into the conversation
// document for list rendering.
type Participant struct {
	UserID   string    `json:"userId" bson:"user_id"`
	Username string    `json:"username" bson:"username"`
	Headline string    `json:"headline" bson:"headline"`
	Avatar   string    `json:"avatar" bson:"avatar"`
	JoinedAt time.Time `json:"joinedAt" bson:"joined_at"`
}

// LastMessage stores the most recent message preview.
type LastMessage struct {
	MessageID primitive.ObjectID `json:"messageId" bson:"message_id"`
	Body      string             `json:"body" bson:"body"`
	SenderID  string             `json:"senderId" bson:"sender_id"`
	SentAt    time.Time          `json:"sentAt" bson:"sent_at"`
}
