package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/lk2023060901/vision-backend/internal/pkg/logger"
	pkgredis "github.com/lk2023060901/vision-backend/internal/pkg/redis"
	"go.uber.org/zap"
)

// RedisBroker 基于 Redis 列表的队列：LPUSH 入队，BRPOP 出队
type RedisBroker struct {
	rdb         *pkgredis.Client
	key         string
	pollTimeout time.Duration
	closed      atomic.Bool
	logger      *logger.Logger
}

var _ Broker = (*RedisBroker)(nil)

// NewRedisBroker 创建 Redis 队列。Redis 客户端由调用方管理。
func NewRedisBroker(rdb *pkgredis.Client, key string, pollTimeout time.Duration, log *logger.Logger) *RedisBroker {
	if pollTimeout <= 0 {
		pollTimeout = 5 * time.Second
	}
	if log == nil {
		log = logger.L()
	}
	return &RedisBroker{
		rdb:         rdb,
		key:         key,
		pollTimeout: pollTimeout,
		logger:      log.Named("redis_broker"),
	}
}

func (b *RedisBroker) Publish(ctx context.Context, task Task) error {
	if b.closed.Load() {
		return ErrBrokerClosed
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	if _, err := b.rdb.LPush(ctx, b.key, string(payload)); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

func (b *RedisBroker) Consume(ctx context.Context) (Task, error) {
	for {
		if b.closed.Load() {
			return Task{}, ErrBrokerClosed
		}
		if err := ctx.Err(); err != nil {
			return Task{}, err
		}

		payload, err := b.rdb.BRPop(ctx, b.pollTimeout, b.key)
		if pkgredis.IsNil(err) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Task{}, ctx.Err()
			}
			return Task{}, fmt.Errorf("failed to dequeue task: %w", err)
		}

		var task Task
		if err := json.Unmarshal([]byte(payload), &task); err != nil {
			b.logger.Error("dropping malformed task", zap.String("payload", payload), zap.Error(err))
			continue
		}
		return task, nil
	}
}

// Len 返回排队中的任务数
func (b *RedisBroker) Len(ctx context.Context) (int64, error) {
	return b.rdb.LLen(ctx, b.key)
}

// Close 只标记关闭，不关闭共享的 Redis 客户端
func (b *RedisBroker) Close() error {
	b.closed.Store(true)
	return nil
}
