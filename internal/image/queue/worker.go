package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/lk2023060901/vision-backend/internal/image/biz"
	apperrors "github.com/lk2023060901/vision-backend/internal/pkg/errors"
	"github.com/lk2023060901/vision-backend/internal/pkg/logger"
	"github.com/lk2023060901/vision-backend/internal/pkg/metrics"
	pkgredis "github.com/lk2023060901/vision-backend/internal/pkg/redis"
	"github.com/lk2023060901/vision-backend/internal/pkg/workerpool"
	"go.uber.org/zap"
)

const (
	lockKeyPrefix = "vision:classify:lock:"
	// consumeBackoff 出队失败后的等待时间
	consumeBackoff = time.Second
	// requeueTimeout 重新入队的最长等待，避免队列满时阻塞 Stop
	requeueTimeout = 5 * time.Second
)

// Classifier 分类用例，由 *biz.IntakeUseCase 实现
type Classifier interface {
	Classify(ctx context.Context, id int64) (string, error)
	Reclassify(ctx context.Context, id int64) (string, error)
}

// Locker 分布式锁，由 *pkgredis.Client 实现
type Locker interface {
	WithLock(ctx context.Context, key string, expiration time.Duration, fn func() error) error
}

// Worker 异步分类 Worker：从 Broker 取任务，在 worker pool 上执行分类
type Worker struct {
	broker     Broker
	classifier Classifier
	pool       *workerpool.Pool
	metrics    *metrics.Images
	logger     *logger.Logger
	maxRetries int

	retryBackoff   time.Duration
	requeueTimeout time.Duration

	locker  Locker
	lockTTL time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	stopped <-chan struct{}
	loopWg  sync.WaitGroup
	tasksWg sync.WaitGroup
}

// WorkerOption Worker 选项
type WorkerOption func(*Worker)

// WithLocker 同一图片的任务互斥执行
func WithLocker(l Locker, ttl time.Duration) WorkerOption {
	return func(w *Worker) {
		w.locker = l
		w.lockTTL = ttl
	}
}

// NewWorker 创建 Worker。m 可以为 nil。
func NewWorker(cfg *Config, broker Broker, classifier Classifier, pool *workerpool.Pool, m *metrics.Images, log *logger.Logger, opts ...WorkerOption) *Worker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = logger.L()
	}

	w := &Worker{
		broker:     broker,
		classifier: classifier,
		pool:       pool,
		metrics:    m,
		logger:     log.Named("classify_worker"),
		maxRetries: cfg.MaxRetries,

		retryBackoff:   cfg.RetryBackoff,
		requeueTimeout: requeueTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start 启动消费循环。任务在 ctx 下执行，Stop 不会中断执行中的任务。
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("worker already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.stopped = loopCtx.Done()
	w.running = true

	w.logger.Info("starting classification worker",
		zap.Int("pool_size", w.pool.Cap()),
		zap.Int("max_retries", w.maxRetries),
	)

	w.loopWg.Add(1)
	go w.consumeLoop(loopCtx, ctx)
	return nil
}

// Stop 停止消费并等待执行中的任务结束
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	w.logger.Info("stopping classification worker")
	w.cancel()
	w.loopWg.Wait()
	w.tasksWg.Wait()
	w.running = false
	w.logger.Info("classification worker stopped")
}

// Enqueue 将图片加入分类队列
func (w *Worker) Enqueue(ctx context.Context, imageID int64, force bool) error {
	task := Task{
		ImageID:   imageID,
		Force:     force,
		RequestID: logger.GetRequestID(ctx),
	}
	if err := w.broker.Publish(ctx, task); err != nil {
		return fmt.Errorf("failed to enqueue classification: %w", err)
	}

	w.logger.WithContext(ctx).Debug("image enqueued for classification",
		zap.Int64("image_id", imageID),
		zap.Bool("force", force),
	)
	return nil
}

// consumeLoop 消费循环。pool 满时 Submit 阻塞，从而暂停出队。
func (w *Worker) consumeLoop(loopCtx, taskCtx context.Context) {
	defer w.loopWg.Done()

	for {
		task, err := w.broker.Consume(loopCtx)
		if err != nil {
			if loopCtx.Err() != nil || errors.Is(err, ErrBrokerClosed) {
				w.logger.Info("consume loop exiting", zap.Error(err))
				return
			}
			w.logger.Error("failed to consume task", zap.Error(err))
			select {
			case <-loopCtx.Done():
				return
			case <-time.After(consumeBackoff):
			}
			continue
		}

		w.tasksWg.Add(1)
		if err := w.pool.Submit(func() {
			defer w.tasksWg.Done()
			w.processTask(taskCtx, task)
		}); err != nil {
			w.tasksWg.Done()
			w.logger.Error("failed to submit task, re-enqueueing",
				zap.Int64("image_id", task.ImageID),
				zap.Error(err),
			)
			w.requeue(taskCtx, task)
		}
	}
}

// processTask 处理单个任务
func (w *Worker) processTask(ctx context.Context, task Task) {
	if task.RequestID != "" {
		ctx = logger.WithRequestID(ctx, task.RequestID)
	}
	log := w.logger.WithContext(ctx).With(
		zap.Int64("image_id", task.ImageID),
		zap.Int("retry_count", task.RetryCount),
	)

	w.metrics.JobStarted()
	defer w.metrics.JobFinished()

	var label string
	run := func() error {
		var err error
		if task.Force {
			label, err = w.classifier.Reclassify(ctx, task.ImageID)
		} else {
			label, err = w.classifier.Classify(ctx, task.ImageID)
		}
		return err
	}

	var err error
	if w.locker != nil {
		err = w.locker.WithLock(ctx, lockKeyPrefix+strconv.FormatInt(task.ImageID, 10), w.lockTTL, run)
	} else {
		err = run()
	}

	switch {
	case err == nil:
		log.Info("image classified", zap.String("label", label))
	case errors.Is(err, pkgredis.ErrLockHeld):
		// 另一个 worker 正在处理同一张图片
		log.Debug("classification already in progress")
	case errors.Is(err, biz.ErrImageNotFound):
		log.Warn("image deleted before classification, dropping task")
	case apperrors.IsRetryable(apperrors.ExtractCode(err)) && task.RetryCount < w.maxRetries:
		task.RetryCount++
		log.Warn("classification failed, re-enqueueing", zap.Error(err))
		w.requeue(ctx, task)
	default:
		log.Error("classification failed permanently", zap.Error(err))
	}
}

// requeue 退避后重新入队。Stop 时跳过剩余等待，入队最多等待 requeueTimeout。
func (w *Worker) requeue(ctx context.Context, task Task) {
	if delay := w.retryBackoff * time.Duration(task.RetryCount); delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-w.stopped:
		case <-ctx.Done():
		}
		timer.Stop()
	}

	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.requeueTimeout)
	defer cancel()
	if err := w.broker.Publish(publishCtx, task); err != nil {
		w.logger.Error("failed to re-enqueue task",
			zap.Int64("image_id", task.ImageID),
			zap.Error(err),
		)
	}
}
