package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/lk2023060901/vision-backend/internal/image/biz"
	"github.com/lk2023060901/vision-backend/internal/pkg/logger"
	"go.uber.org/zap"
)

// FSStore 将 blob 以文件形式保存在单个目录中
type FSStore struct {
	root   string
	logger *logger.Logger
}

var _ biz.BlobStore = (*FSStore)(nil)

// NewFSStore 按需创建根目录并返回存储
func NewFSStore(root string, log *logger.Logger) (*FSStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}

	return &FSStore{
		root:   abs,
		logger: log.Named("fs_store"),
	}, nil
}

// Root 根目录的绝对路径
func (s *FSStore) Root() string {
	return s.root
}

// Write 以新名称写入 data。先写临时文件再链接到目标位置，读者看不到写了一半的 blob，
// 已存在的名称也不会被覆盖。
func (s *FSStore) Write(ctx context.Context, ext string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := newName(ext)
	tmp, err := os.CreateTemp(s.root, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Link(tmpPath, s.Locate(name)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s", biz.ErrNameCollision, name)
		}
		return "", fmt.Errorf("failed to publish blob: %w", err)
	}

	s.logger.Debug("blob written", zap.String("stored_name", name), zap.Int("size", len(data)))
	return name, nil
}

func (s *FSStore) Read(ctx context.Context, name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.Locate(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", biz.ErrBlobNotFound, name)
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

func (s *FSStore) Delete(_ context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}

	if err := os.Remove(s.Locate(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove blob: %w", err)
	}
	s.logger.Debug("blob removed", zap.String("stored_name", name))
	return nil
}

func (s *FSStore) Locate(name string) string {
	return filepath.Join(s.root, name)
}
