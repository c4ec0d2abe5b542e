package workerpool

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

var ErrPoolClosed = errors.New("worker pool is closed")

// Config Worker Pool 配置
type Config struct {
	Workers int `mapstructure:"workers"` // worker 数量
	// Nonblocking 为 true 时池满立即返回 ants.ErrPoolOverload，否则 Submit 阻塞等待空闲 worker
	Nonblocking bool `mapstructure:"nonblocking"`
	// ExpiryDuration 空闲 worker 的回收周期
	ExpiryDuration time.Duration `mapstructure:"expiry_duration"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Workers:        4,
		ExpiryDuration: time.Minute,
	}
}

// Statistics 统计信息
type Statistics struct {
	Submitted int64 // 已提交
	Completed int64 // 已完成
	Failed    int64 // panic 的任务
	Running   int64 // 运行中
}

// Pool 基于 ants 的 Worker Pool
type Pool struct {
	pool   *ants.Pool
	logger *zap.Logger

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	running   atomic.Int64
}

// New 创建 Worker Pool
func New(config *Config, logger *zap.Logger) (*Pool, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Workers <= 0 {
		return nil, fmt.Errorf("workers must be > 0, got %d", config.Workers)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []ants.Option{ants.WithNonblocking(config.Nonblocking)}
	if config.ExpiryDuration > 0 {
		opts = append(opts, ants.WithExpiryDuration(config.ExpiryDuration))
	}

	antsPool, err := ants.NewPool(config.Workers, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ants pool: %w", err)
	}

	return &Pool{pool: antsPool, logger: logger}, nil
}

// Submit 提交任务。任务中的 panic 被恢复并计入 Failed。
func (p *Pool) Submit(task func()) error {
	if p.pool.IsClosed() {
		return ErrPoolClosed
	}

	p.submitted.Add(1)
	err := p.pool.Submit(func() {
		p.running.Add(1)
		defer p.running.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				p.failed.Add(1)
				p.logger.Error("worker panic", zap.Any("error", r), zap.Stack("stack"))
				return
			}
			p.completed.Add(1)
		}()
		task()
	})
	if err != nil {
		p.submitted.Add(-1)
		if errors.Is(err, ants.ErrPoolClosed) {
			return ErrPoolClosed
		}
		return err
	}
	return nil
}

// Running 获取运行中的 worker 数量
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Free 获取空闲 worker 数量
func (p *Pool) Free() int {
	return p.pool.Free()
}

// Cap 获取池容量
func (p *Pool) Cap() int {
	return p.pool.Cap()
}

// Stats 获取统计信息
func (p *Pool) Stats() Statistics {
	return Statistics{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Running:   p.running.Load(),
	}
}

// Shutdown 停止接收任务，并在 timeout 内等待运行中的任务结束
func (p *Pool) Shutdown(timeout time.Duration) error {
	if err := p.pool.ReleaseTimeout(timeout); err != nil {
		p.logger.Warn("worker pool shutdown timed out",
			zap.Duration("timeout", timeout),
			zap.Int("running", p.pool.Running()),
		)
		return err
	}
	return nil
}
