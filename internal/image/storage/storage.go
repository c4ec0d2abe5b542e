package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/lk2023060901/vision-backend/internal/image/biz"
	"github.com/lk2023060901/vision-backend/internal/pkg/logger"
	"github.com/lk2023060901/vision-backend/internal/pkg/minio"
)

const (
	DriverFS    = "fs"
	DriverMinIO = "minio"
)

// Config blob 存储配置
type Config struct {
	Driver string `mapstructure:"driver"` // fs, minio
	Root   string `mapstructure:"root"`   // fs 根目录
	Bucket string `mapstructure:"bucket"` // minio bucket
}

// DefaultConfig 默认使用 ./data/images 下的文件系统存储
func DefaultConfig() *Config {
	return &Config{
		Driver: DriverFS,
		Root:   "data/images",
		Bucket: "vision-images",
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverFS:
		if c.Root == "" {
			return fmt.Errorf("storage root is required for the %s driver", DriverFS)
		}
	case DriverMinIO:
		if err := minio.ValidateBucketName(c.Bucket); err != nil {
			return fmt.Errorf("invalid storage bucket: %w", err)
		}
	default:
		return fmt.Errorf("unsupported storage driver %q, must be one of: fs, minio", c.Driver)
	}
	return nil
}

// New 按配置创建 blob 存储，client 仅供 minio 驱动使用
func New(ctx context.Context, cfg *Config, client *minio.Client, log *logger.Logger) (biz.BlobStore, error) {
	switch cfg.Driver {
	case DriverFS:
		return NewFSStore(cfg.Root, log)
	case DriverMinIO:
		if client == nil {
			return nil, fmt.Errorf("storage driver %s requires a minio client", DriverMinIO)
		}
		return NewMinIOStore(ctx, client, cfg.Bucket, log)
	}
	return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
}

// newName 生成带扩展名的新 blob 名称
func newName(ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return uuid.NewString() + ext
}

// checkName 拒绝会逃逸出存储目录的名称
func checkName(name string) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid blob name %q", name)
	}
	return nil
}
