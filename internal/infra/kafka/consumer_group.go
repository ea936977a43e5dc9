package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/cena261/traveloka-clone-sub001/internal/infra/config"
)

// NewConsumerGroup builds a sarama consumer group for the directory topic.
func NewConsumerGroup(cfg config.KafkaSettings, logger *zap.Logger) (sarama.ConsumerGroup, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Version = sarama.V3_5_0_0
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaCfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	logger.Info("kafka consumer group created",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("group", cfg.ConsumerGroup))

	return group, nil
}

// ConsumeDirectoryChanges runs the consumer group loop until ctx is
// cancelled. Consume returns on every rebalance, so it is called in a loop.
func ConsumeDirectoryChanges(ctx context.Context, group sarama.ConsumerGroup, topic string, handler sarama.ConsumerGroupHandler, logger *zap.Logger) error {
	for {
		if err := group.Consume(ctx, []string{topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			logger.Warn("consumer group session ended with error", zap.Error(err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
