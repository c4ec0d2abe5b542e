package biz

import (
	"errors"
	"fmt"

	apperrors "github.com/lk2023060901/vision-backend/internal/pkg/errors"
)

var (
	ErrEmptyImage      = errors.New("empty image")
	ErrImageTooLarge   = errors.New("image exceeds the maximum upload size")
	ErrUnsupportedMIME = errors.New("unsupported image type")
	ErrCorruptImage    = errors.New("corrupt image")
	ErrInvalidHash     = errors.New("invalid content hash")

	ErrImageNotFound = errors.New("image not found")
	ErrOwnerNotFound = errors.New("owner not found")
	ErrForbidden     = errors.New("image belongs to another owner")

	// ErrHashConflict 插入时内容哈希已被占用，但占用者随即被删除。
	// 用例内部重试，不会返回给调用方。
	ErrHashConflict = errors.New("content hash conflict")

	ErrClassificationFailed = errors.New("classification failed")

	ErrBlobNotFound = errors.New("blob not found")
	// ErrNameCollision 生成的 blob 名称已存在。名称是随机的，出现即说明存储配置有误。
	ErrNameCollision = errors.New("blob name collision")
)

func invalidInput(err error, details string) error {
	return apperrors.Wrap(err, apperrors.ErrImageInvalidInput, details)
}

func notFound(err error, details string) error {
	return apperrors.Wrap(err, apperrors.ErrImageNotFound, details)
}

func ownerNotFound(err error, details string) error {
	return apperrors.Wrap(err, apperrors.ErrImageOwnerNotFound, details)
}

func forbidden(details string) error {
	return apperrors.Wrap(ErrForbidden, apperrors.ErrForbidden, details)
}

func storageFailure(err error, details string) error {
	return apperrors.Wrap(err, apperrors.ErrImageStorageFailed, details)
}

func classificationFailed(err error, details string) error {
	return apperrors.Wrap(fmt.Errorf("%w: %w", ErrClassificationFailed, err), apperrors.ErrImageClassificationFailed, details)
}
