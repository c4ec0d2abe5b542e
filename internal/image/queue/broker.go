package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lk2023060901/vision-backend/internal/pkg/logger"
	pkgredis "github.com/lk2023060901/vision-backend/internal/pkg/redis"
)

const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverKafka  = "kafka"

	// DefaultKey 默认的 Redis 列表键 / Kafka topic
	DefaultKey = "vision.image.classify"
)

// ErrBrokerClosed Broker 已关闭
var ErrBrokerClosed = errors.New("queue: broker closed")

// Task 分类任务
type Task struct {
	ImageID    int64  `json:"image_id"`
	Force      bool   `json:"force,omitempty"` // 覆盖已有标签
	RetryCount int    `json:"retry_count"`
	RequestID  string `json:"request_id,omitempty"`
}

// Broker 任务队列
type Broker interface {
	Publish(ctx context.Context, task Task) error
	// Consume 阻塞直到取到任务、ctx 结束或 Broker 关闭
	Consume(ctx context.Context) (Task, error)
	Close() error
}

// Config 队列配置
type Config struct {
	Driver      string        `mapstructure:"driver"` // memory, redis, kafka
	Key         string        `mapstructure:"key"`
	Concurrency int           `mapstructure:"concurrency"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Buffer      int           `mapstructure:"buffer"`       // memory 队列容量
	PollTimeout time.Duration `mapstructure:"poll_timeout"` // redis BRPOP 超时
	// LockTTL 大于 0 时同一图片的任务通过 Redis 锁互斥（仅 redis 驱动）
	LockTTL time.Duration `mapstructure:"lock_ttl"`
	// RetryBackoff 第 n 次重试前等待 n*RetryBackoff
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// KafkaConfig Kafka 连接配置
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	GroupID string   `mapstructure:"group_id"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Driver:      DriverMemory,
		Key:         DefaultKey,
		Concurrency: 4,
		MaxRetries:  3,
		Buffer:      256,
		PollTimeout: 5 * time.Second,
		LockTTL:     time.Minute,

		RetryBackoff: 2 * time.Second,
	}
}

// DefaultKafkaConfig 默认 Kafka 配置
func DefaultKafkaConfig() *KafkaConfig {
	return &KafkaConfig{
		Brokers: []string{"localhost:9092"},
		GroupID: "vision-classifier",
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverMemory, DriverRedis, DriverKafka:
	default:
		return fmt.Errorf("unsupported queue driver %q, must be one of: memory, redis, kafka", c.Driver)
	}
	if c.Key == "" {
		return errors.New("queue key is required")
	}
	if c.Concurrency <= 0 {
		return errors.New("queue concurrency must be > 0")
	}
	if c.MaxRetries < 0 {
		return errors.New("queue max_retries must be >= 0")
	}
	if c.LockTTL < 0 {
		return errors.New("queue lock_ttl must be >= 0")
	}
	if c.RetryBackoff < 0 {
		return errors.New("queue retry_backoff must be >= 0")
	}
	if c.Driver == DriverMemory && c.Buffer <= 0 {
		return errors.New("queue buffer must be > 0 for the memory driver")
	}
	return nil
}

// New 按配置创建 Broker。redis 驱动需要 rdb，kafka 驱动需要 kafkaCfg。
func New(cfg *Config, rdb *pkgredis.Client, kafkaCfg *KafkaConfig, log *logger.Logger) (Broker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Driver {
	case DriverRedis:
		if rdb == nil {
			return nil, errors.New("queue driver redis requires a redis client")
		}
		return NewRedisBroker(rdb, cfg.Key, cfg.PollTimeout, log), nil
	case DriverKafka:
		if kafkaCfg == nil || len(kafkaCfg.Brokers) == 0 {
			return nil, errors.New("queue driver kafka requires kafka brokers")
		}
		return NewKafkaBroker(kafkaCfg.Brokers, cfg.Key, kafkaCfg.GroupID, log), nil
	default:
		return NewMemoryBroker(cfg.Buffer), nil
	}
}
