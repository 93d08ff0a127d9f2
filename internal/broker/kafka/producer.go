package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/DSkillz/ProNet-sub001/internal/model"
)

const defaultTopic = "pronet.notifications"

// Producer publishes notification events for offline members to Kafka,
// where the push/email pipeline picks them up. Messages are keyed by
// member ID so one member's notifications stay ordered.
type Producer struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

type notificationEvent struct {
	UserID       string             `json:"userId"`
	Notification model.Notification `json:"notification"`
}

func NewProducer(brokers []string, topic string, logger *zap.Logger) (*Producer, error) {
	if topic == "" {
		topic = defaultTopic
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create producer: %w", err)
	}
	return &Producer{producer: producer, topic: topic, logger: logger}, nil
}

func (p *Producer) Publish(ctx context.Context, userID string, n model.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := json.Marshal(notificationEvent{UserID: userID, Notification: n})
	if err != nil {
		return err
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(userID),
		Value: sarama.ByteEncoder(value),
	})
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}

	p.logger.Debug("notification queued",
		zap.String("user_id", userID),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
