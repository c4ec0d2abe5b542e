package injector

import (
	"context"
	"fmt"
	"time"

	"github.com/lk2023060901/vision-backend/internal/conf"
	"github.com/lk2023060901/vision-backend/internal/data"
	"github.com/lk2023060901/vision-backend/internal/image/biz"
	"github.com/lk2023060901/vision-backend/internal/image/classifier"
	"github.com/lk2023060901/vision-backend/internal/image/queue"
	"github.com/lk2023060901/vision-backend/internal/image/service"
	"github.com/lk2023060901/vision-backend/internal/image/storage"
	"github.com/lk2023060901/vision-backend/internal/pkg/logger"
	"github.com/lk2023060901/vision-backend/internal/pkg/metrics"
	"github.com/lk2023060901/vision-backend/internal/pkg/workerpool"
	"github.com/lk2023060901/vision-backend/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// poolShutdownTimeout 关闭时等待执行中分类任务的最长时间
const poolShutdownTimeout = 30 * time.Second

// Data layer helpers

func provideData(config *conf.Config, log *logger.Logger) (*data.Data, func(), error) {
	return data.NewData(config, log)
}

func provideHealthChecker(d *data.Data) server.HealthChecker {
	return d
}

func provideRegistry() *prometheus.Registry {
	return metrics.NewRegistry()
}

func provideImageMetrics(reg *prometheus.Registry) *metrics.Images {
	return metrics.NewImages(reg)
}

// Repository providers

func provideImageRepo(d *data.Data) biz.ImageRepo {
	return d.NewImageRepo()
}

func provideBlobStore(config *conf.Config, d *data.Data, log *logger.Logger) (biz.BlobStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return storage.New(ctx, &config.Storage, d.MinIOClient, log)
}

// Use case providers

func provideClassifier(config *conf.Config, log *logger.Logger) (biz.Classifier, error) {
	return classifier.New(&config.Classifier, log)
}

func provideIntakeUseCase(
	config *conf.Config,
	repo biz.ImageRepo,
	blobs biz.BlobStore,
	cls biz.Classifier,
	m *metrics.Images,
	log *logger.Logger,
) (*biz.IntakeUseCase, error) {
	return biz.NewIntakeUseCase(&config.Intake.Config, repo, blobs, cls, m, log)
}

// Queue providers

func provideBroker(config *conf.Config, d *data.Data, log *logger.Logger) (queue.Broker, func(), error) {
	broker, err := queue.New(&config.Queue, d.RedisClient, &config.Kafka, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create classification queue: %w", err)
	}
	cleanup := func() {
		if err := broker.Close(); err != nil {
			log.Warn("failed to close classification queue", zap.Error(err))
		}
	}
	return broker, cleanup, nil
}

func provideWorkerPool(config *conf.Config, log *logger.Logger) (*workerpool.Pool, func(), error) {
	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = config.Queue.Concurrency

	pool, err := workerpool.New(poolCfg, log.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	cleanup := func() {
		if err := pool.Shutdown(poolShutdownTimeout); err != nil {
			log.Warn("worker pool shutdown timed out", zap.Error(err))
		}
	}
	return pool, cleanup, nil
}

// provideClassifyWorkerWithStart 创建并启动分类 Worker，cleanup 时停止
func provideClassifyWorkerWithStart(
	config *conf.Config,
	d *data.Data,
	broker queue.Broker,
	intake *biz.IntakeUseCase,
	pool *workerpool.Pool,
	m *metrics.Images,
	log *logger.Logger,
) (*queue.Worker, func(), error) {
	var opts []queue.WorkerOption
	if d.RedisClient != nil && config.Queue.LockTTL > 0 {
		opts = append(opts, queue.WithLocker(d.RedisClient, config.Queue.LockTTL))
	}

	worker := queue.NewWorker(&config.Queue, broker, intake, pool, m, log, opts...)
	if err := worker.Start(context.Background()); err != nil {
		return nil, nil, err
	}
	return worker, worker.Stop, nil
}

// Service providers

func provideImageService(
	config *conf.Config,
	intake *biz.IntakeUseCase,
	worker *queue.Worker,
	log *logger.Logger,
) *service.ImageService {
	return service.NewImageService(intake, worker, &config.Intake, log)
}
