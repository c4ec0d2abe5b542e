package data

import (
	"context"
	"fmt"

	"github.com/lk2023060901/vision-backend/internal/image/biz"
	"github.com/lk2023060901/vision-backend/internal/image/models"
	"github.com/lk2023060901/vision-backend/internal/pkg/database"
	"gorm.io/gorm"
)

// deleteRetries Delete 遇到序列化失败或死锁时的重试次数
const deleteRetries = 3

// ImageRepo 基于 GORM 的 biz.ImageRepo 实现（PostgreSQL 或 SQLite）
type ImageRepo struct {
	db *database.DB
}

// NewImageRepo 创建图片仓储
func NewImageRepo(db *database.DB) *ImageRepo {
	return &ImageRepo{db: db}
}

var _ biz.ImageRepo = (*ImageRepo)(nil)

func (r *ImageRepo) FindByHash(ctx context.Context, hash string) (biz.Image, bool, error) {
	return r.findOne(r.db.WithContext(ctx).Where("content_hash = ?", hash))
}

func (r *ImageRepo) FindByID(ctx context.Context, id int64) (biz.Image, bool, error) {
	return r.findOne(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *ImageRepo) FindCurrentForOwner(ctx context.Context, ownerID int64) (biz.Image, bool, error) {
	return r.findOne(r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Order("id DESC"))
}

func (r *ImageRepo) findOne(q *gorm.DB) (biz.Image, bool, error) {
	var model models.Image
	if err := q.Take(&model).Error; err != nil {
		if database.IsRecordNotFoundError(err) {
			return biz.Image{}, false, nil
		}
		return biz.Image{}, false, fmt.Errorf("failed to get image: %w", err)
	}
	return toDomain(&model), true, nil
}

func (r *ImageRepo) ListByOwner(ctx context.Context, ownerID int64, page, pageSize int) ([]biz.Image, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Image{}).Where("owner_id = ?", ownerID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count images: %w", err)
	}

	var modelList []models.Image
	if err := q.Order("created_at DESC").
		Order("id DESC").
		Scopes(database.Paginate(page, pageSize)).
		Find(&modelList).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list images: %w", err)
	}

	images := make([]biz.Image, 0, len(modelList))
	for i := range modelList {
		images = append(images, toDomain(&modelList[i]))
	}
	return images, total, nil
}

// Insert 依赖 content_hash 唯一索引：冲突时返回占用该哈希的记录并标记为重复
func (r *ImageRepo) Insert(ctx context.Context, img biz.NewImage) (biz.InsertResult, error) {
	model := models.Image{
		StoredName:  img.StoredName,
		Width:       img.Width,
		Height:      img.Height,
		MIME:        img.MIME,
		ContentHash: img.ContentHash,
		OwnerID:     img.OwnerID,
	}

	err := r.db.WithContext(ctx).Create(&model).Error
	switch {
	case err == nil:
		return biz.InsertResult{Image: toDomain(&model)}, nil
	case database.IsForeignKeyError(err):
		return biz.InsertResult{}, fmt.Errorf("%w: %d", biz.ErrOwnerNotFound, img.OwnerID)
	case !database.IsDuplicateKeyError(err):
		return biz.InsertResult{}, fmt.Errorf("failed to insert image: %w", err)
	}

	winner, found, ferr := r.FindByHash(ctx, img.ContentHash)
	if ferr != nil {
		return biz.InsertResult{}, ferr
	}
	if found {
		return biz.InsertResult{Image: winner, Duplicate: true}, nil
	}

	// 冲突的不是哈希约束，或占用者已在此期间被删除
	var named int64
	if cerr := r.db.WithContext(ctx).Model(&models.Image{}).
		Where("stored_name = ?", img.StoredName).
		Count(&named).Error; cerr != nil {
		return biz.InsertResult{}, fmt.Errorf("failed to inspect insert conflict: %w", cerr)
	}
	if named > 0 {
		return biz.InsertResult{}, fmt.Errorf("%w: %s", biz.ErrNameCollision, img.StoredName)
	}
	if constraint := database.ConstraintName(err); constraint != "" {
		return biz.InsertResult{}, fmt.Errorf("%w: %s", biz.ErrHashConflict, constraint)
	}
	return biz.InsertResult{}, biz.ErrHashConflict
}

func (r *ImageRepo) UpdateClassification(ctx context.Context, id int64, label string, overwrite bool) (bool, error) {
	q := r.db.WithContext(ctx).Model(&models.Image{}).Where("id = ?", id)
	if !overwrite {
		q = q.Where("classification IS NULL")
	}

	res := q.Update("classification", label)
	if res.Error != nil {
		return false, fmt.Errorf("failed to update classification: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *ImageRepo) Delete(ctx context.Context, id int64) (biz.Image, bool, error) {
	var (
		removed biz.Image
		found   bool
	)

	err := r.db.TransactionWithRetry(ctx, deleteRetries, func(ctx context.Context, tx *gorm.DB) error {
		var model models.Image
		if err := tx.Where("id = ?", id).Take(&model).Error; err != nil {
			if database.IsRecordNotFoundError(err) {
				return nil
			}
			return err
		}

		res := tx.Where("id = ?", id).Delete(&models.Image{})
		if res.Error != nil {
			return res.Error
		}
		removed, found = toDomain(&model), res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return biz.Image{}, false, fmt.Errorf("failed to delete image: %w", err)
	}
	return removed, found, nil
}

func toDomain(m *models.Image) biz.Image {
	img := biz.Image{
		ID:          m.ID,
		StoredName:  m.StoredName,
		Width:       m.Width,
		Height:      m.Height,
		MIME:        m.MIME,
		ContentHash: m.ContentHash,
		OwnerID:     m.OwnerID,
		CreatedAt:   m.CreatedAt,
	}
	if m.Classification != nil {
		label := *m.Classification
		img.Classification = &label
	}
	return img
}
