package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/gabriel-vasile/mimetype"
	"github.com/lk2023060901/vision-backend/internal/image/biz"
	"github.com/lk2023060901/vision-backend/internal/pkg/logger"
	"github.com/lk2023060901/vision-backend/internal/pkg/minio"
	"go.uber.org/zap"
)

// MinIOStore 将 blob 作为对象保存在一个 bucket 中
type MinIOStore struct {
	client  *minio.Client
	bucket  string
	baseURL string
	logger  *logger.Logger
}

var _ biz.BlobStore = (*MinIOStore)(nil)

// NewMinIOStore 确保 bucket 存在并返回存储
func NewMinIOStore(ctx context.Context, client *minio.Client, bucket string, log *logger.Logger) (*MinIOStore, error) {
	if err := client.EnsureBucket(ctx, bucket); err != nil {
		if minio.IsAccessDenied(err) {
			return nil, fmt.Errorf("credentials cannot access bucket %s: %w", bucket, err)
		}
		return nil, fmt.Errorf("failed to ensure bucket: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}

	return &MinIOStore{
		client:  client,
		bucket:  bucket,
		baseURL: client.Config().EndpointURL(),
		logger:  log.Named("minio_store").With(zap.String("bucket", bucket)),
	}, nil
}

// Write 以新的对象名写入 data，对象名已存在时报告冲突而不覆盖
func (s *MinIOStore) Write(ctx context.Context, ext string, data []byte) (string, error) {
	name := newName(ext)

	_, err := s.client.StatObject(ctx, s.bucket, name)
	switch {
	case err == nil:
		return "", fmt.Errorf("%w: %s", biz.ErrNameCollision, name)
	case !minio.IsNotFound(err):
		return "", fmt.Errorf("failed to check object: %w", err)
	}

	_, err = s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: mimetype.Detect(data).String(),
	})
	if err != nil {
		if minio.IsAccessDenied(err) {
			s.logger.Error("put object denied", zap.String("stored_name", name), zap.Error(err))
		}
		return "", fmt.Errorf("failed to put object: %w", err)
	}

	s.logger.Debug("blob written", zap.String("stored_name", name), zap.Int("size", len(data)))
	return name, nil
}

func (s *MinIOStore) Read(ctx context.Context, name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	rc, _, err := s.client.GetObject(ctx, s.bucket, name)
	if err != nil {
		if minio.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", biz.ErrBlobNotFound, name)
		}
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

func (s *MinIOStore) Delete(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, name); err != nil {
		return fmt.Errorf("failed to remove object: %w", err)
	}
	return nil
}

func (s *MinIOStore) Locate(name string) string {
	return s.baseURL + "/" + s.bucket + "/" + name
}
