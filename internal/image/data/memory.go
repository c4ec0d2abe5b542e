package data

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lk2023060901/vision-backend/internal/image/biz"
	"github.com/lk2023060901/vision-backend/internal/pkg/database"
)

// MemoryImageRepo 进程内存中的 biz.ImageRepo 实现，不校验 owner
type MemoryImageRepo struct {
	mu       sync.RWMutex
	nextID   int64
	lastTime time.Time
	byID     map[int64]biz.Image
	byHash   map[string]int64
	byName   map[string]int64
	now      func() time.Time
}

// NewMemoryImageRepo 创建空的内存仓储
func NewMemoryImageRepo() *MemoryImageRepo {
	return &MemoryImageRepo{
		byID:   make(map[int64]biz.Image),
		byHash: make(map[string]int64),
		byName: make(map[string]int64),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

var _ biz.ImageRepo = (*MemoryImageRepo)(nil)

func (r *MemoryImageRepo) FindByHash(_ context.Context, hash string) (biz.Image, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byHash[hash]
	if !ok {
		return biz.Image{}, false, nil
	}
	return copyImage(r.byID[id]), true, nil
}

func (r *MemoryImageRepo) FindByID(_ context.Context, id int64) (biz.Image, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	img, ok := r.byID[id]
	if !ok {
		return biz.Image{}, false, nil
	}
	return copyImage(img), true, nil
}

func (r *MemoryImageRepo) FindCurrentForOwner(ctx context.Context, ownerID int64) (biz.Image, bool, error) {
	images, _, err := r.ListByOwner(ctx, ownerID, 1, 1)
	if err != nil || len(images) == 0 {
		return biz.Image{}, false, err
	}
	return images[0], true, nil
}

func (r *MemoryImageRepo) ListByOwner(_ context.Context, ownerID int64, page, pageSize int) ([]biz.Image, int64, error) {
	r.mu.RLock()
	owned := make([]biz.Image, 0)
	for _, img := range r.byID {
		if img.OwnerID == ownerID {
			owned = append(owned, copyImage(img))
		}
	}
	r.mu.RUnlock()

	sort.Slice(owned, func(i, j int) bool {
		if !owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].CreatedAt.After(owned[j].CreatedAt)
		}
		return owned[i].ID > owned[j].ID
	})

	page, pageSize = database.NormalizePage(page, pageSize)
	start := (page - 1) * pageSize
	if start >= len(owned) {
		return []biz.Image{}, int64(len(owned)), nil
	}
	end := start + pageSize
	if end > len(owned) {
		end = len(owned)
	}
	return owned[start:end], int64(len(owned)), nil
}

func (r *MemoryImageRepo) Insert(_ context.Context, img biz.NewImage) (biz.InsertResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byHash[img.ContentHash]; ok {
		return biz.InsertResult{Image: copyImage(r.byID[id]), Duplicate: true}, nil
	}
	if _, ok := r.byName[img.StoredName]; ok {
		return biz.InsertResult{}, fmt.Errorf("%w: %s", biz.ErrNameCollision, img.StoredName)
	}

	// 创建时间严格递增，保证“当前图片”唯一
	now := r.now()
	if !now.After(r.lastTime) {
		now = r.lastTime.Add(time.Microsecond)
	}
	r.lastTime = now
	r.nextID++

	stored := biz.Image{
		ID:          r.nextID,
		StoredName:  img.StoredName,
		Width:       img.Width,
		Height:      img.Height,
		MIME:        img.MIME,
		ContentHash: img.ContentHash,
		OwnerID:     img.OwnerID,
		CreatedAt:   now,
	}
	r.byID[stored.ID] = stored
	r.byHash[stored.ContentHash] = stored.ID
	r.byName[stored.StoredName] = stored.ID

	return biz.InsertResult{Image: copyImage(stored)}, nil
}

func (r *MemoryImageRepo) UpdateClassification(_ context.Context, id int64, label string, overwrite bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	img, ok := r.byID[id]
	if !ok || (img.Classified() && !overwrite) {
		return false, nil
	}
	r.byID[id] = img.WithClassification(label)
	return true, nil
}

func (r *MemoryImageRepo) Delete(_ context.Context, id int64) (biz.Image, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	img, ok := r.byID[id]
	if !ok {
		return biz.Image{}, false, nil
	}
	delete(r.byID, id)
	delete(r.byHash, img.ContentHash)
	delete(r.byName, img.StoredName)
	return copyImage(img), true, nil
}

// Len 记录数
func (r *MemoryImageRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// copyImage 复制标签指针，避免与存储的记录共享
func copyImage(img biz.Image) biz.Image {
	if img.Classification != nil {
		return img.WithClassification(*img.Classification)
	}
	return img
}
