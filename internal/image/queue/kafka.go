package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/lk2023060901/vision-backend/internal/pkg/logger"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaBroker 基于 Kafka topic 的队列，消费者组内每个任务只投递给一个 worker
type KafkaBroker struct {
	writer *kafka.Writer
	reader *kafka.Reader
	logger *logger.Logger
}

var _ Broker = (*KafkaBroker)(nil)

// NewKafkaBroker 创建 Kafka 队列
func NewKafkaBroker(brokers []string, topic, groupID string, log *logger.Logger) *KafkaBroker {
	if log == nil {
		log = logger.L()
	}

	return &KafkaBroker{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: brokers,
			Topic:   topic,
			GroupID: groupID,
		}),
		logger: log.Named("kafka_broker").With(zap.String("topic", topic)),
	}
}

// Publish 以图片 ID 作为消息 key，同一图片的任务落在同一分区
func (b *KafkaBroker) Publish(ctx context.Context, task Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	err = b.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(task.ImageID, 10)),
		Value: payload,
	})
	if errors.Is(err, io.ErrClosedPipe) {
		return ErrBrokerClosed
	}
	if err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (b *KafkaBroker) Consume(ctx context.Context) (Task, error) {
	for {
		msg, err := b.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return Task{}, ctx.Err()
			}
			// 关闭后的 Reader 返回 io.EOF
			if errors.Is(err, io.EOF) {
				return Task{}, ErrBrokerClosed
			}
			return Task{}, fmt.Errorf("failed to read message: %w", err)
		}

		var task Task
		if err := json.Unmarshal(msg.Value, &task); err != nil {
			b.logger.Error("dropping malformed task",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			continue
		}
		return task, nil
	}
}

func (b *KafkaBroker) Close() error {
	return errors.Join(b.writer.Close(), b.reader.Close())
}
