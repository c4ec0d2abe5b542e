package minio

import (
	"context"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// PutObjectOptions represents options for uploading an object
type PutObjectOptions struct {
	ContentType  string
	UserMetadata map[string]string
	CacheControl string
}

// UploadInfo represents information about an uploaded object
type UploadInfo struct {
	Bucket string
	Key    string
	ETag   string
	Size   int64
}

// ObjectInfo represents object information
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
	ContentType  string
	Metadata     map[string]string
}

// PutObject uploads an object to a bucket. objectSize may be -1 when unknown.
func (c *Client) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts PutObjectOptions) (UploadInfo, error) {
	if err := c.checkObject("PutObject", bucketName, objectName); err != nil {
		return UploadInfo{}, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	info, err := c.client.PutObject(ctx, bucketName, objectName, reader, objectSize, minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.UserMetadata,
		CacheControl: opts.CacheControl,
	})
	if err != nil {
		return UploadInfo{}, WrapError("PutObject", err, bucketName, objectName)
	}

	c.logger.Debug("object uploaded successfully",
		zap.String("bucket", bucketName),
		zap.String("object", objectName),
		zap.Int64("size", info.Size),
		zap.String("etag", info.ETag),
	)

	return UploadInfo{
		Bucket: info.Bucket,
		Key:    info.Key,
		ETag:   info.ETag,
		Size:   info.Size,
	}, nil
}

// GetObject opens an object for reading. The object is stat'ed first so a missing key is reported
// here rather than on the first Read.
func (c *Client) GetObject(ctx context.Context, bucketName, objectName string) (io.ReadCloser, ObjectInfo, error) {
	if err := c.checkObject("GetObject", bucketName, objectName); err != nil {
		return nil, ObjectInfo{}, err
	}

	object, err := c.client.GetObject(ctx, bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, ObjectInfo{}, WrapError("GetObject", err, bucketName, objectName)
	}

	stat, err := object.Stat()
	if err != nil {
		_ = object.Close()
		return nil, ObjectInfo{}, WrapError("GetObject", err, bucketName, objectName)
	}

	return object, toObjectInfo(stat), nil
}

// StatObject gets object metadata
func (c *Client) StatObject(ctx context.Context, bucketName, objectName string) (ObjectInfo, error) {
	if err := c.checkObject("StatObject", bucketName, objectName); err != nil {
		return ObjectInfo{}, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	info, err := c.client.StatObject(ctx, bucketName, objectName, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, WrapError("StatObject", err, bucketName, objectName)
	}
	return toObjectInfo(info), nil
}

// RemoveObject removes an object from a bucket. Removing a missing key succeeds.
func (c *Client) RemoveObject(ctx context.Context, bucketName, objectName string) error {
	if err := c.checkObject("RemoveObject", bucketName, objectName); err != nil {
		return err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.client.RemoveObject(ctx, bucketName, objectName, minio.RemoveObjectOptions{}); err != nil {
		return WrapError("RemoveObject", err, bucketName, objectName)
	}

	c.logger.Debug("object removed successfully",
		zap.String("bucket", bucketName),
		zap.String("object", objectName),
	)
	return nil
}

func (c *Client) checkObject(op, bucketName, objectName string) error {
	if err := c.checkClosed(); err != nil {
		return err
	}
	if bucketName == "" {
		return WrapError(op, ErrInvalidBucketName, bucketName, objectName)
	}
	if err := ValidateObjectName(objectName); err != nil {
		return WrapErrorWithMessage(op, ErrInvalidObjectName, err.Error())
	}
	return nil
}

func toObjectInfo(info minio.ObjectInfo) ObjectInfo {
	return ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ETag:         info.ETag,
		LastModified: info.LastModified,
		ContentType:  info.ContentType,
		Metadata:     info.UserMetadata,
	}
}
