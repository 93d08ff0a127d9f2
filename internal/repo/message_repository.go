package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/DSkillz/ProNet-sub001/internal/db"
	"github.com/DSkillz/ProNet-sub001/internal/model"
)

var (
	ErrInvalidMessage        = errors.New("invalid message: message cannot be nil")
	ErrInvalidConversationID = errors.New("invalid conversation ID: cannot be empty")
	ErrMessageNotFound       = errors.New("message not found")
	ErrNotMessageReceiver    = errors.New("only the receiver can mark a message read")
	ErrOperationTimeout      = errors.New("operation timeout exceeded")
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultReadTimeout  = 30 * time.Second

	maxRetries     = 3
	baseRetryDelay = 100 * time.Millisecond
	maxRetryDelay  = 2 * time.Second

	historyPageSize = 20
)

type messageRepository struct {
	con       *mongo.Database
	mongoRepo *db.Repository[model.Message]
	logger    *zap.Logger
}

type MessageRepository interface {
	InsertMessage(ctx context.Context, msg *model.Message) (model.Message, error)
	HistoryPage(ctx context.Context, conversationID, cursor string) ([]model.Message, string, error)
	MarkMessageRead(ctx context.Context, messageID, readerID string) (*model.Message, time.Time, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
	UnreadByConversation(ctx context.Context, userID string) (map[string]int64, error)
}

func NewMessageRepository(mongo *mongo.Database, repo *db.Repository[model.Message], logger *zap.Logger) MessageRepository {
	return &messageRepository{
		con:       mongo,
		mongoRepo: repo,
		logger:    logger,
	}
}

// -----------------------------------------------------------------------------
// InsertMessage
// -----------------------------------------------------------------------------

func (m *messageRepository) InsertMessage(ctx context.Context, msg *model.Message) (model.Message, error) {
	if msg == nil {
		return model.Message{}, ErrInvalidMessage
	}
	if msg.ConversationID.IsZero() {
		return model.Message{}, ErrInvalidConversationID
	}
	if msg.ID.IsZero() {
		msg.ID = primitive.NewObjectID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	ctx, cancel := m.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := m.waitForRetry(ctx, attempt); err != nil {
				return model.Message{}, err
			}
		}

		_, err := m.mongoRepo.Create(ctx, *msg)
		if err == nil {
			m.logger.Info("message inserted",
				zap.String("message_id", msg.ID.Hex()),
				zap.String("conversation_id", msg.ConversationID.Hex()),
				zap.Int("attempt", attempt+1),
			)
			return *msg, nil
		}

		lastErr = err
		if !m.isRetryableError(err) {
			break
		}
		m.logger.Warn("insert attempt failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxRetries),
		)
	}

	m.logger.Error("failed to insert message after all retries",
		zap.Error(lastErr),
		zap.String("conversation_id", msg.ConversationID.Hex()),
	)
	return model.Message{}, fmt.Errorf("insert message failed: %w", lastErr)
}

// -----------------------------------------------------------------------------
// HistoryPage
// -----------------------------------------------------------------------------

// HistoryPage returns one page of a conversation's history, newest
// first. The cursor is the _id of the last message on the previous
// page; an empty cursor means the newest page, an empty returned cursor
// means end of history. Retrying the same cursor yields the same page.
func (m *messageRepository) HistoryPage(ctx context.Context, conversationID, cursor string) ([]model.Message, string, error) {
	if conversationID == "" {
		return nil, "", ErrInvalidConversationID
	}

	ctx, cancel := m.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().ObjectID("conversation_id", conversationID).Build()

	page, err := m.mongoRepo.FindWithCursor(ctx, filter, db.CursorParams{
		After:    cursor,
		PageSize: historyPageSize,
		SortBy:   "_id",
		SortDesc: true,
	})
	if err != nil {
		return nil, "", m.handleReadError(err, conversationID)
	}

	m.logger.Debug("history page loaded",
		zap.String("conversation_id", conversationID),
		zap.Int("count", len(page.Data)),
		zap.String("next_cursor", page.NextCursor),
	)
	return page.Data, page.NextCursor, nil
}

// -----------------------------------------------------------------------------
// MarkMessageRead
// -----------------------------------------------------------------------------

// MarkMessageRead sets the read timestamp on a message, once, and only
// for its receiver: the update filter is scoped to receiver_id, so a
// forged intent from anyone else never touches the document. Marking an
// already-read message is a no-op that returns the original timestamp;
// the transition is never reversed.
func (m *messageRepository) MarkMessageRead(ctx context.Context, messageID, readerID string) (*model.Message, time.Time, error) {
	objectID, err := primitive.ObjectIDFromHex(messageID)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("invalid message ID format: %w", err)
	}

	ctx, cancel := m.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	readAt := time.Now().UTC()
	_, err = m.mongoRepo.UpdateOne(ctx,
		bson.M{"_id": objectID, "receiver_id": readerID, "read_at": nil},
		bson.M{"$set": bson.M{"read_at": readAt}},
	)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("mark message read failed: %w", err)
	}

	msg, err := m.mongoRepo.FindByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, time.Time{}, ErrMessageNotFound
		}
		return nil, time.Time{}, err
	}
	if msg.ReceiverID != readerID {
		return nil, time.Time{}, ErrNotMessageReceiver
	}
	if msg.ReadAt != nil {
		readAt = *msg.ReadAt
	}
	return msg, readAt, nil
}

// -----------------------------------------------------------------------------
// Unread counters
// -----------------------------------------------------------------------------

func (m *messageRepository) UnreadCount(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := m.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("receiver_id", userID).Missing("read_at").Build()
	return m.mongoRepo.Count(ctx, filter)
}

// UnreadByConversation aggregates the viewer's unread messages per
// conversation, feeding the summary list's counters.
func (m *messageRepository) UnreadByConversation(ctx context.Context, userID string) (map[string]int64, error) {
	ctx, cancel := m.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	collection := m.con.Collection("messages")
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"receiver_id": userID, "read_at": nil}}},
		{{Key: "$group", Value: bson.M{"_id": "$conversation_id", "count": bson.M{"$sum": 1}}}},
	}

	cursor, err := collection.Aggregate(ctx, pipeline)
	if err != nil {
		m.logger.Error("unread aggregation failed", zap.Error(err))
		return nil, fmt.Errorf("unread aggregation failed: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		ConversationID primitive.ObjectID `bson:"_id"`
		Count          int64              `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.ConversationID.Hex()] = row.Count
	}
	return counts, nil
}

// -----------------------------------------------------------------------------
// Private Helper Methods
// -----------------------------------------------------------------------------

func (m *messageRepository) ensureTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hadDeadline := ctx.Deadline(); hadDeadline {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func (m *messageRepository) waitForRetry(ctx context.Context, attempt int) error {
	delay := time.Duration(1<<uint(attempt)) * baseRetryDelay
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (m *messageRepository) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	return mongo.IsTimeout(err) || mongo.IsNetworkError(err)
}

func (m *messageRepository) handleReadError(err error, conversationID string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		m.logger.Error("read timeout", zap.String("conversation_id", conversationID))
		return ErrOperationTimeout
	}
	if errors.Is(err, context.Canceled) {
		m.logger.Debug("read cancelled", zap.String("conversation_id", conversationID))
		return err
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}
	m.logger.Error("read failed", zap.Error(err), zap.String("conversation_id", conversationID))
	return fmt.Errorf("load history failed: %w", err)
}
