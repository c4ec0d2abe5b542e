package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// 只有当锁的值等于 token 时才删除
var unlockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Lock 获取分布式锁，返回用于释放的 token。锁已被占用时返回 ErrLockHeld。
func (c *Client) Lock(ctx context.Context, key string, expiration time.Duration) (string, error) {
	token := uuid.New().String()

	ok, err := c.rdb.SetNX(ctx, key, token, expiration).Result()
	if err != nil {
		c.logger.Error("redis lock failed",
			zap.String("key", key),
			zap.Error(err),
		)
		return "", err
	}
	if !ok {
		return "", ErrLockHeld
	}

	c.logger.Debug("redis lock acquired",
		zap.String("key", key),
		zap.Duration("expiration", expiration),
	)
	return token, nil
}

// Unlock 释放分布式锁（Lua 脚本保证原子性）
func (c *Client) Unlock(ctx context.Context, key, token string) error {
	n, err := unlockScript.Run(ctx, c.rdb, []string{key}, token).Int64()
	if err != nil {
		c.logger.Error("redis unlock failed",
			zap.String("key", key),
			zap.Error(err),
		)
		return err
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

// WithLock 在锁保护下执行函数
func (c *Client) WithLock(ctx context.Context, key string, expiration time.Duration, fn func() error) error {
	token, err := c.Lock(ctx, key, expiration)
	if err != nil {
		return err
	}

	defer func() {
		// 调用方的 ctx 可能已取消，释放锁使用独立的超时
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := c.Unlock(unlockCtx, key, token); err != nil {
			c.logger.Warn("failed to unlock",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}()

	return fn()
}
