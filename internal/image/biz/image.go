package biz

import (
	"context"
	"image"
	"time"
)

// Image 已持久化的图片记录。记录按值传递，用例构造新值而不修改仓储返回的记录。
type Image struct {
	ID             int64
	StoredName     string
	Width          int
	Height         int
	MIME           string
	ContentHash    string
	OwnerID        int64
	Classification *string
	CreatedAt      time.Time
}

// Classified 是否已有分类标签
func (i Image) Classified() bool {
	return i.Classification != nil
}

// WithClassification 返回带有 label 的副本
func (i Image) WithClassification(label string) Image {
	i.Classification = &label
	return i
}

// NewImage 仓储分配 ID 和 CreatedAt 之前的记录字段
type NewImage struct {
	StoredName  string
	Width       int
	Height      int
	MIME        string
	ContentHash string
	OwnerID     int64
}

// InsertResult ImageRepo.Insert 的结果。内容哈希已被其他记录占用时 Duplicate 为 true，
// Image 即为该记录。
type InsertResult struct {
	Image     Image
	Duplicate bool
}

// ImageRepo 图片记录仓储。并发插入以内容哈希唯一约束为准。
type ImageRepo interface {
	FindByHash(ctx context.Context, hash string) (Image, bool, error)
	FindByID(ctx context.Context, id int64) (Image, bool, error)
	// FindCurrentForOwner 返回 owner 最近创建的记录
	FindCurrentForOwner(ctx context.Context, ownerID int64) (Image, bool, error)
	// ListByOwner 按创建时间倒序分页返回 owner 的记录及总数
	ListByOwner(ctx context.Context, ownerID int64, page, pageSize int) ([]Image, int64, error)
	// Insert owner 不存在时返回 ErrOwnerNotFound；哈希被占用但占用者在读回前消失时
	// 返回 ErrHashConflict
	Insert(ctx context.Context, img NewImage) (InsertResult, error)
	// UpdateClassification 未设置 overwrite 时只写入尚无标签的记录，返回是否有行被修改。
	// id 不存在不算错误。
	UpdateClassification(ctx context.Context, id int64, label string, overwrite bool) (bool, error)
	// Delete 删除并返回记录，id 不存在不算错误
	Delete(ctx context.Context, id int64) (Image, bool, error)
}

// BlobStore 以生成的名称保存图片字节
type BlobStore interface {
	// Write 以 ext 结尾的新名称写入 data 并返回名称
	Write(ctx context.Context, ext string, data []byte) (string, error)
	// Read name 不存在时返回 ErrBlobNotFound
	Read(ctx context.Context, name string) ([]byte, error)
	// Delete 幂等
	Delete(ctx context.Context, name string) error
	// Locate 返回 blob 的路径或 URL
	Locate(name string) string
}

// ClassifyInput 分类器的输入
type ClassifyInput struct {
	Name  string // 存储名称
	Path  string // BlobStore.Locate(Name)
	MIME  string
	Data  []byte // 规范编码后的字节
	Image image.Image
}

// Classifier 为解码后的图片打标签，实现必须响应 ctx 取消
type Classifier interface {
	Predict(ctx context.Context, in ClassifyInput) (string, error)
}

// IngestRequest HTTP 层交来的一次上传
type IngestRequest struct {
	Data         []byte
	DeclaredMIME string
	OwnerID      int64
}

// IngestResult 存储的记录，以及是否由本次上传创建
type IngestResult struct {
	Image Image
	IsNew bool
}

// Requester 修改操作的调用者
type Requester struct {
	OwnerID int64
	Admin   bool
}

// CanModify r 是否可以删除 img
func (r Requester) CanModify(img Image) bool {
	return r.Admin || r.OwnerID == img.OwnerID
}
