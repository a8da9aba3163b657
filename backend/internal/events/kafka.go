package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/user/vitrader/backend/internal/models"
)

// Kafka writes each trade to one topic, keyed by user id so a user's trades
// stay ordered within a partition.
type Kafka struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewKafka(brokers []string, topic string, logger *zap.Logger) *Kafka {
	logger = logger.Named("kafka")
	return &Kafka{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			Async:                  true,
			AllowAutoTopicCreation: true,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					logger.Error("trade events not delivered", zap.Int("count", len(messages)), zap.Error(err))
				}
			},
		},
		logger: logger,
	}
}

func tradeMessage(trade *models.Trade) (kafka.Message, error) {
	value, err := json.Marshal(trade)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal trade %d: %w", trade.ID, err)
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatInt(trade.UserID, 10)),
		Value: value,
		Time:  trade.ExecutedAt,
	}, nil
}

func (k *Kafka) PublishTrade(ctx context.Context, trade *models.Trade) error {
	msg, err := tradeMessage(trade)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish trade %d: %w", trade.ID, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
