package redis

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// LPush 从列表左侧插入元素
func (c *Client) LPush(ctx context.Context, key string, values ...interface{}) (int64, error) {
	n, err := c.rdb.LPush(ctx, key, values...).Result()
	if err != nil {
		c.logger.Error("redis lpush failed",
			zap.String("key", key),
			zap.Error(err),
		)
	}
	return n, err
}

// BRPop 阻塞地从列表右侧弹出一个元素。超时返回 ErrNil。
func (c *Client) BRPop(ctx context.Context, timeout time.Duration, key string) (string, error) {
	res, err := c.rdb.BRPop(ctx, timeout, key).Result()
	if err != nil {
		if !IsNil(err) && ctx.Err() == nil {
			c.logger.Error("redis brpop failed",
				zap.String("key", key),
				zap.Error(err),
			)
		}
		return "", err
	}
	// res = [key, value]
	return res[1], nil
}

// LLen 获取列表长度
func (c *Client) LLen(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.LLen(ctx, key).Result()
	if err != nil {
		c.logger.Error("redis llen failed",
			zap.String("key", key),
			zap.Error(err),
		)
	}
	return n, err
}

// Del 删除键
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	n, err := c.rdb.Del(ctx, keys...).Result()
	if err != nil {
		c.logger.Error("redis del failed",
			zap.Strings("keys", keys),
			zap.Error(err),
		)
	}
	return n, err
}
