package biz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lk2023060901/vision-backend/internal/pkg/digest"
	"github.com/lk2023060901/vision-backend/internal/pkg/logger"
	"github.com/lk2023060901/vision-backend/internal/pkg/metrics"
	"go.uber.org/zap"
)

// maxHashAttempts 遇到 ErrHashConflict 时查询/插入步骤的最大尝试次数
const maxHashAttempts = 3

// blobCleanupTimeout blob 回滚的超时，请求 ctx 结束后回滚仍会执行
const blobCleanupTimeout = 5 * time.Second

// Config 上传限制
type Config struct {
	AllowedMIMETypes []string      `mapstructure:"allowed_mime_types"`
	MaxUploadBytes   int64         `mapstructure:"max_upload_bytes"`
	// MaxPixels 解码像素前对 width*height 的上限
	MaxPixels        int64         `mapstructure:"max_pixels"`
	ClassifyTimeout  time.Duration `mapstructure:"classify_timeout"`
}

// DefaultConfig 默认上传限制
func DefaultConfig() *Config {
	return &Config{
		AllowedMIMETypes: DefaultAllowedMIMETypes,
		MaxUploadBytes:   10 << 20,
		MaxPixels:        40_000_000,
		ClassifyTimeout:  30 * time.Second,
	}
}

// IntakeUseCase 图片上传用例：校验、去重、存储，并驱动分类
type IntakeUseCase struct {
	cfg        *Config
	codec      *codec
	repo       ImageRepo
	blobs      BlobStore
	classifier Classifier
	metrics    *metrics.Images
	logger     *logger.Logger
}

// NewIntakeUseCase 创建上传用例。m 可以为 nil。
func NewIntakeUseCase(cfg *Config, repo ImageRepo, blobs BlobStore, classifier Classifier, m *metrics.Images, log *logger.Logger) (*IntakeUseCase, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c, err := newCodec(cfg.AllowedMIMETypes, cfg.MaxUploadBytes, cfg.MaxPixels)
	if err != nil {
		return nil, fmt.Errorf("invalid intake configuration: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}

	return &IntakeUseCase{
		cfg:        cfg,
		codec:      c,
		repo:       repo,
		blobs:      blobs,
		classifier: classifier,
		metrics:    m,
		logger:     log.Named("intake"),
	}, nil
}

// Ingest 存储上传的图片；内容相同的图片已存在时返回已有记录，并发的相同上传也会收敛到同一条记录
func (uc *IntakeUseCase) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	if err := uc.codec.check(req.Data, req.DeclaredMIME); err != nil {
		uc.metrics.IngestFailed("invalid_input")
		return IngestResult{}, err
	}
	dec, err := uc.codec.decode(req.Data)
	if err != nil {
		uc.metrics.IngestFailed("invalid_input")
		return IngestResult{}, err
	}

	log := uc.logger.WithContext(ctx)

	name, err := uc.blobs.Write(ctx, dec.ext, dec.canonical)
	if err != nil {
		uc.metrics.IngestFailed("storage")
		return IngestResult{}, storageFailure(err, "failed to write image")
	}
	hash := digest.Bytes(dec.canonical)

	res, err := uc.resolve(ctx, NewImage{
		StoredName:  name,
		Width:       dec.img.Bounds().Dx(),
		Height:      dec.img.Bounds().Dy(),
		MIME:        dec.mime,
		ContentHash: hash,
		OwnerID:     req.OwnerID,
	})
	if err != nil || !res.IsNew {
		uc.discardBlob(ctx, name)
	}
	if err != nil {
		if errors.Is(err, ErrOwnerNotFound) {
			uc.metrics.IngestFailed("owner_not_found")
		} else {
			uc.metrics.IngestFailed("storage")
		}
		log.Warn("image ingest failed", zap.String("content_hash", hash), zap.Error(err))
		return IngestResult{}, err
	}

	if res.IsNew {
		uc.metrics.Ingested(metrics.ResultNew)
	} else {
		uc.metrics.Ingested(metrics.ResultDuplicate)
	}
	log.Info("image ingested",
		zap.Int64("image_id", res.Image.ID),
		zap.String("content_hash", hash),
		zap.Bool("new", res.IsNew),
	)
	return res, nil
}

// resolve 查找或插入 img.ContentHash 对应的记录
func (uc *IntakeUseCase) resolve(ctx context.Context, img NewImage) (IngestResult, error) {
	for attempt := 1; attempt <= maxHashAttempts; attempt++ {
		existing, found, err := uc.repo.FindByHash(ctx, img.ContentHash)
		if err != nil {
			return IngestResult{}, storageFailure(err, "failed to look up content hash")
		}
		if found {
			return IngestResult{Image: existing}, nil
		}

		ins, err := uc.repo.Insert(ctx, img)
		switch {
		case err == nil && ins.Duplicate:
			uc.metrics.DedupRace()
			return IngestResult{Image: ins.Image}, nil
		case err == nil:
			return IngestResult{Image: ins.Image, IsNew: true}, nil
		case errors.Is(err, ErrHashConflict):
			uc.logger.WithContext(ctx).Debug("content hash conflict, retrying",
				zap.String("content_hash", img.ContentHash),
				zap.Int("attempt", attempt),
			)
			continue
		case errors.Is(err, ErrOwnerNotFound):
			return IngestResult{}, ownerNotFound(err, fmt.Sprintf("owner %d", img.OwnerID))
		default:
			return IngestResult{}, storageFailure(err, "failed to insert image")
		}
	}
	return IngestResult{}, storageFailure(ErrHashConflict, fmt.Sprintf("unresolved after %d attempts", maxHashAttempts))
}

// discardBlob 删除不会被任何记录引用的 blob
func (uc *IntakeUseCase) discardBlob(ctx context.Context, name string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), blobCleanupTimeout)
	defer cancel()

	if err := uc.blobs.Delete(ctx, name); err != nil {
		uc.logger.WithContext(ctx).Error("failed to remove redundant blob",
			zap.String("stored_name", name),
			zap.Error(err),
		)
	}
}

// Classify 为记录分类。已有标签的记录保持不变，不调用分类器。
func (uc *IntakeUseCase) Classify(ctx context.Context, id int64) (string, error) {
	return uc.classify(ctx, id, false)
}

// Reclassify 重新分类并覆盖已有标签
func (uc *IntakeUseCase) Reclassify(ctx context.Context, id int64) (string, error) {
	return uc.classify(ctx, id, true)
}

func (uc *IntakeUseCase) classify(ctx context.Context, id int64, overwrite bool) (string, error) {
	log := uc.logger.WithContext(ctx).With(zap.Int64("image_id", id))

	img, err := uc.GetImage(ctx, id)
	if err != nil {
		return "", err
	}
	if !overwrite && img.Classified() {
		uc.metrics.Classified(metrics.ResultCached, 0)
		return *img.Classification, nil
	}

	start := time.Now()
	label, err := uc.predict(ctx, img)
	if err != nil {
		uc.metrics.Classified(metrics.ResultFailed, time.Since(start))
		log.Warn("classification failed", zap.Error(err))
		return "", err
	}
	uc.metrics.Classified(metrics.ResultClassified, time.Since(start))

	updated, err := uc.repo.UpdateClassification(ctx, id, label, overwrite)
	if err != nil {
		// 调用方仍拿到标签，下次 Classify 会重试写入
		log.Error("failed to persist classification", zap.String("label", label), zap.Error(err))
		return label, nil
	}

	if !updated && !overwrite {
		current, found, err := uc.repo.FindByID(ctx, id)
		if err == nil && found && current.Classified() {
			// 其他分类调用先写入了标签
			return *current.Classification, nil
		}
	}

	log.Info("image classified",
		zap.String("label", label),
		zap.Bool("overwrite", overwrite),
		zap.Bool("persisted", updated),
	)
	return label, nil
}

func (uc *IntakeUseCase) predict(ctx context.Context, img Image) (string, error) {
	data, err := uc.blobs.Read(ctx, img.StoredName)
	if err != nil {
		return "", storageFailure(err, "failed to read image")
	}
	decodedImg, err := decodeStored(data)
	if err != nil {
		return "", storageFailure(fmt.Errorf("%w: %w", ErrCorruptImage, err), "stored image cannot be decoded")
	}

	if uc.cfg.ClassifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, uc.cfg.ClassifyTimeout)
		defer cancel()
	}

	label, err := uc.classifier.Predict(ctx, ClassifyInput{
		Name:  img.StoredName,
		Path:  uc.blobs.Locate(img.StoredName),
		MIME:  img.MIME,
		Data:  data,
		Image: decodedImg,
	})
	if err == nil {
		// 分类器忽略取消时，迟到的结果不落库
		err = ctx.Err()
	}
	if err != nil {
		return "", classificationFailed(err, err.Error())
	}

	label = strings.TrimSpace(label)
	if label == "" {
		return "", classificationFailed(errors.New("empty label"), "classifier returned an empty label")
	}
	return label, nil
}

// CurrentImagePath 返回 owner 当前图片的存储位置和 MIME 类型，没有图片时 ok 为 false
func (uc *IntakeUseCase) CurrentImagePath(ctx context.Context, ownerID int64) (path, mimeType string, ok bool, err error) {
	img, found, err := uc.repo.FindCurrentForOwner(ctx, ownerID)
	if err != nil {
		return "", "", false, storageFailure(err, "failed to look up current image")
	}
	if !found {
		return "", "", false, nil
	}
	return uc.blobs.Locate(img.StoredName), img.MIME, true, nil
}

// ImagePath 返回图片的存储位置，记录不存在时 ok 为 false
func (uc *IntakeUseCase) ImagePath(ctx context.Context, id int64) (string, bool, error) {
	img, found, err := uc.repo.FindByID(ctx, id)
	if err != nil {
		return "", false, storageFailure(err, "failed to look up image")
	}
	if !found {
		return "", false, nil
	}
	return uc.blobs.Locate(img.StoredName), true, nil
}

// GetImage 获取记录，不存在时返回 NotFound
func (uc *IntakeUseCase) GetImage(ctx context.Context, id int64) (Image, error) {
	img, found, err := uc.repo.FindByID(ctx, id)
	if err != nil {
		return Image{}, storageFailure(err, "failed to look up image")
	}
	if !found {
		return Image{}, notFound(ErrImageNotFound, fmt.Sprintf("image %d", id))
	}
	return img, nil
}

// FindByHash 按内容哈希获取记录，不存在时返回 NotFound
func (uc *IntakeUseCase) FindByHash(ctx context.Context, hash string) (Image, error) {
	hash = strings.ToLower(strings.TrimSpace(hash))
	if !digest.Valid(hash) {
		return Image{}, invalidInput(ErrInvalidHash, fmt.Sprintf("%q is not a sha256 hex digest", hash))
	}
	img, found, err := uc.repo.FindByHash(ctx, hash)
	if err != nil {
		return Image{}, storageFailure(err, "failed to look up image")
	}
	if !found {
		return Image{}, notFound(ErrImageNotFound, "no image with content hash "+hash)
	}
	return img, nil
}

// CurrentImage 获取 owner 最近的记录，不存在时返回 NotFound
func (uc *IntakeUseCase) CurrentImage(ctx context.Context, ownerID int64) (Image, error) {
	img, found, err := uc.repo.FindCurrentForOwner(ctx, ownerID)
	if err != nil {
		return Image{}, storageFailure(err, "failed to look up current image")
	}
	if !found {
		return Image{}, notFound(ErrImageNotFound, fmt.Sprintf("owner %d has no image", ownerID))
	}
	return img, nil
}

// ListImages 按创建时间倒序分页返回 owner 的记录及总数
func (uc *IntakeUseCase) ListImages(ctx context.Context, ownerID int64, page, pageSize int) ([]Image, int64, error) {
	images, total, err := uc.repo.ListByOwner(ctx, ownerID, page, pageSize)
	if err != nil {
		return nil, 0, storageFailure(err, "failed to list images")
	}
	return images, total, nil
}

// OpenImage 返回记录及其存储的字节
func (uc *IntakeUseCase) OpenImage(ctx context.Context, id int64) (Image, []byte, error) {
	img, err := uc.GetImage(ctx, id)
	if err != nil {
		return Image{}, nil, err
	}
	data, err := uc.blobs.Read(ctx, img.StoredName)
	if err != nil {
		return Image{}, nil, storageFailure(err, "failed to read image")
	}
	return img, data, nil
}

// Delete 先删除记录再删除 blob。仅 owner 或管理员可删除，id 不存在时直接成功。
func (uc *IntakeUseCase) Delete(ctx context.Context, id int64, requester Requester) error {
	log := uc.logger.WithContext(ctx).With(zap.Int64("image_id", id))

	img, found, err := uc.repo.FindByID(ctx, id)
	if err != nil {
		return storageFailure(err, "failed to look up image")
	}
	if !found {
		return nil
	}
	if !requester.CanModify(img) {
		return forbidden(fmt.Sprintf("image %d", id))
	}

	removed, found, err := uc.repo.Delete(ctx, id)
	if err != nil {
		return storageFailure(err, "failed to delete image")
	}
	if !found {
		return nil
	}

	if err := uc.blobs.Delete(ctx, removed.StoredName); err != nil {
		log.Error("image row deleted but blob removal failed",
			zap.String("stored_name", removed.StoredName),
			zap.Error(err),
		)
		return storageFailure(err, "failed to remove image file")
	}

	log.Info("image deleted", zap.Int64("image_owner_id", removed.OwnerID), zap.Bool("admin", requester.Admin))
	return nil
}
