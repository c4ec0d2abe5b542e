package data

import (
	"context"
	"fmt"
	"time"

	"github.com/lk2023060901/vision-backend/internal/conf"
	"github.com/lk2023060901/vision-backend/internal/image/biz"
	imagedata "github.com/lk2023060901/vision-backend/internal/image/data"
	"github.com/lk2023060901/vision-backend/internal/image/storage"
	"github.com/lk2023060901/vision-backend/internal/pkg/database"
	"github.com/lk2023060901/vision-backend/internal/pkg/logger"
	pkgminio "github.com/lk2023060901/vision-backend/internal/pkg/minio"
	pkgredis "github.com/lk2023060901/vision-backend/internal/pkg/redis"
	"go.uber.org/zap"
)

// Data 持有进程级连接。未被配置使用的连接保持为 nil。
type Data struct {
	DB          *database.DB
	RedisClient *pkgredis.Client
	MinIOClient *pkgminio.Client
	Logger      *logger.Logger
}

func NewData(config *conf.Config, log *logger.Logger) (*Data, func(), error) {
	d := &Data{Logger: log}

	cleanup := func() {
		log.Info("cleaning up data resources")

		if d.DB != nil {
			if err := d.DB.Close(); err != nil {
				log.Warn("failed to close database", zap.Error(err))
			}
		}
		if d.RedisClient != nil {
			if err := d.RedisClient.Close(); err != nil {
				log.Warn("failed to close redis", zap.Error(err))
			}
		}
		if d.MinIOClient != nil {
			_ = d.MinIOClient.Close()
		}
	}

	// Initialize database
	if config.Database.Driver != database.DriverMemory {
		db, err := initDB(&config.Database, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init database: %w", err)
		}
		d.DB = db
	} else {
		log.Warn("database driver is memory, image records are lost on restart")
	}

	// Initialize Redis
	if config.UsesRedis() {
		redisClient, err := pkgredis.New(&config.Redis, log)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		d.RedisClient = redisClient
	}

	// Initialize MinIO
	if config.Storage.Driver == storage.DriverMinIO {
		minioClient, err := pkgminio.NewClient(&config.MinIO, log.Logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to init minio: %w", err)
		}
		d.MinIOClient = minioClient
	}

	return d, cleanup, nil
}

func initDB(cfg *database.Config, log *logger.Logger) (*database.DB, error) {
	db, err := database.New(cfg, log)
	if err != nil {
		return nil, err
	}

	if cfg.Migrate {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		migrations, err := imagedata.Migrations(cfg.Driver)
		if err == nil {
			err = db.Migrate(ctx, migrations)
		}
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate: %w", err)
		}
	}

	log.Info("database initialized successfully")
	return db, nil
}

// NewImageRepo 返回配置选定的元数据仓库
func (d *Data) NewImageRepo() biz.ImageRepo {
	if d.DB == nil {
		return imagedata.NewMemoryImageRepo()
	}
	return imagedata.NewImageRepo(d.DB)
}

// HealthCheck 检查已打开的连接
func (d *Data) HealthCheck(ctx context.Context) error {
	if d.DB != nil {
		if err := d.DB.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if d.RedisClient != nil {
		if err := d.RedisClient.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}
