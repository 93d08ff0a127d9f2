package repo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/DSkillz/ProNet-sub001/internal/db"
	"github.com/DSkillz/ProNet-sub001/internal/model"
)

type conversationRepository struct {
	con       *mongo.Database
	mongoRepo *db.Repository[model.Conversation]
	logger    *zap.Logger
}

type ConversationRepository interface {
	ListForUser(ctx context.Context, userID string) ([]model.Conversation, error)
	GetDetail(ctx context.Context, conversationID string) (*model.Conversation, error)
	Members(ctx context.Context, conversationID string) ([]string, error)
	FindOrCreateDirect(ctx context.Context, sender, receiver *model.User) (*model.Conversation, error)
	SetLastMessage(ctx context.Context, conversationID string, lm model.LastMessage) error
}

func NewConversationRepository(mongo *mongo.Database, repo *db.Repository[model.Conversation], logger *zap.Logger) ConversationRepository {
	return &conversationRepository{
		con:       mongo,
		mongoRepo: repo,
		logger:    logger,
	}
}

// ListForUser returns the user's active conversations, most recent
// activity first. Unread counters are filled in by the caller from the
// message side.
func (r *conversationRepository) ListForUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	ctx, cancel := r.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("is_active", true).
		Contains("participant_ids", userID).
		Build()
	opts := options.Find().SetSort(bson.M{"last_message_at": -1})

	conversations, err := r.mongoRepo.FindAll(ctx, filter, opts)
	if err != nil {
		r.logger.Error("failed to query conversations", zap.Error(err))
		return nil, fmt.Errorf("failed to get conversations: %w", err)
	}

	r.logger.Debug("conversations retrieved",
		zap.String("user_id", userID),
		zap.Int("count", len(conversations)),
	)
	return conversations, nil
}

// GetDetail fetches a conversation document by ID. A missing document
// comes back as (nil, nil).
func (r *conversationRepository) GetDetail(ctx context.Context, conversationID string) (*model.Conversation, error) {
	if conversationID == "" {
		return nil, ErrInvalidConversationID
	}

	ctx, cancel := r.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	conversation, err := r.mongoRepo.FindByID(ctx, conversationID)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			r.logger.Debug("conversation not found",
				zap.String("conversation_id", conversationID),
			)
			return nil, nil
		}
		r.logger.Error("failed to fetch conversation",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to fetch conversation: %w", err)
	}
	return conversation, nil
}

// Members returns the participant user IDs of a conversation.
func (r *conversationRepository) Members(ctx context.Context, conversationID string) ([]string, error) {
	conversation, err := r.GetDetail(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conversation == nil {
		return nil, nil
	}
	return conversation.ParticipantIDs, nil
}

// FindOrCreateDirect returns the one-to-one thread between two members,
// creating it on first contact.
func (r *conversationRepository) FindOrCreateDirect(ctx context.Context, sender, receiver *model.User) (*model.Conversation, error) {
	ctx, cancel := r.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("participant_ids", bson.M{"$all": []string{sender.UserID, receiver.UserID}, "$size": 2}).
		Build()

	existing, err := r.mongoRepo.FindOne(ctx, filter)
	if err == nil {
		return existing, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, fmt.Errorf("lookup conversation: %w", err)
	}

	now := time.Now().UTC()
	conversation := model.Conversation{
		ID:             primitive.NewObjectID(),
		Participants:   []model.Participant{participantOf(sender, now), participantOf(receiver, now)},
		ParticipantIDs: []string{sender.UserID, receiver.UserID},
		CreatedAt:      now,
		LastMessageAt:  now,
		IsActive:       true,
	}
	if _, err := r.mongoRepo.Create(ctx, conversation); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	r.logger.Info("conversation created",
		zap.String("conversation_id", conversation.ID.Hex()),
		zap.Strings("participants", conversation.ParticipantIDs),
	)
	return &conversation, nil
}

// SetLastMessage bumps the denormalized last-message preview.
func (r *conversationRepository) SetLastMessage(ctx context.Context, conversationID string, lm model.LastMessage) error {
	objectID, err := primitive.ObjectIDFromHex(conversationID)
	if err != nil {
		return fmt.Errorf("invalid conversation ID format: %w", err)
	}

	ctx, cancel := r.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	_, err = r.mongoRepo.UpdateOne(ctx,
		bson.M{"_id": objectID},
		bson.M{"$set": bson.M{"last_message": lm, "last_message_at": lm.SentAt}},
	)
	if err != nil {
		r.logger.Error("failed to set last message",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return fmt.Errorf("set last message: %w", err)
	}
	return nil
}

func (r *conversationRepository) ensureTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hadDeadline := ctx.Deadline(); hadDeadline {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func participantOf(u *model.User, joinedAt time.Time) model.Participant {
	return model.Participant{
		UserID:   u.UserID,
		Username: u.Username,
		Headline: u.Headline,
		Avatar:   u.Avatar,
		JoinedAt: joinedAt,
	}
}
