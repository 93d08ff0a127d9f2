package configuration

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/DSkillz/ProNet-sub001/internal/broker/kafka"
	"github.com/DSkillz/ProNet-sub001/internal/db"
	"github.com/DSkillz/ProNet-sub001/internal/handler"
	"github.com/DSkillz/ProNet-sub001/internal/hub"
	"github.com/DSkillz/ProNet-sub001/internal/model"
	"github.com/DSkillz/ProNet-sub001/internal/repo"
)

const defaultConfigPath = "config.json"

type Container struct {
	ChatHandler    handler.ChatHandler
	MonitorHandler handler.MonitorHandler
	Hub            *hub.Hub
	Auth           hub.Authenticator
	Config         Config
	Logger         *zap.Logger

	// private - for cleanup
	mongoClient *mongo.Database
	producer    *kafka.Producer
}

// hubStore adapts the repositories to the hub's storage contract.
type hubStore struct {
	convs repo.ConversationRepository
	msgs  repo.MessageRepository
}

func (s hubStore) Members(ctx context.Context, conversationID string) ([]string, error) {
	return s.convs.Members(ctx, conversationID)
}

func (s hubStore) MarkMessageRead(ctx context.Context, messageID, readerID string) (*model.Message, time.Time, error) {
	return s.msgs.MarkMessageRead(ctx, messageID, readerID)
}

func BuildContainer() (*Container, error) {
	configPath := os.Getenv("PRONET_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}

	con, err := db.OpenConnection(config.ChatDatabase.URI, config.ChatDatabase.Database)
	if err != nil {
		return nil, err
	}

	messageRepo := repo.NewMessageRepository(con,
		db.NewRepository[model.Message](con, config.ChatDatabase.MessagesCollection), logger)
	conversationRepo := repo.NewConversationRepository(con,
		db.NewRepository[model.Conversation](con, config.ChatDatabase.ConversationsCollection), logger)
	userRepo := repo.NewUserRepository(con,
		db.NewRepository[model.User](con, config.ChatDatabase.UsersCollection),
		db.NewRepository[model.Session](con, config.ChatDatabase.SessionsCollection))

	var producer *kafka.Producer
	var notify hub.NotificationPublisher
	if len(config.Kafka.Brokers) > 0 {
		producer, err = kafka.NewProducer(config.Kafka.Brokers, config.Kafka.NotificationsTopic, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build kafka producer: %w", err)
		}
		notify = producer
	}

	chatHub := hub.NewHub(hubStore{convs: conversationRepo, msgs: messageRepo}, userRepo, notify, logger)
	chatHandler := handler.NewChatHandler(userRepo, conversationRepo, messageRepo, chatHub, logger)
	monitorHandler := handler.NewMonitorHandler(chatHub)

	return &Container{
		ChatHandler:    chatHandler,
		MonitorHandler: monitorHandler,
		Hub:            chatHub,
		Auth:           userRepo,
		Config:         *config,
		Logger:         logger,
		mongoClient:    con,
		producer:       producer,
	}, nil
}

// Close gracefully shuts down all connections.
func (c *Container) Close() error {
	// Stop the hub first (closes all WebSocket connections)
	if c.Hub != nil {
		c.Hub.Stop()
	}

	if c.producer != nil {
		_ = c.producer.Close()
	}

	if c.Logger != nil {
		_ = c.Logger.Sync()
	}

	// Close MongoDB connection pool
	if c.mongoClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.mongoClient.Client().Disconnect(ctx); err != nil {
			return fmt.Errorf("failed to close MongoDB connection: %w", err)
		}
	}

	return nil
}
