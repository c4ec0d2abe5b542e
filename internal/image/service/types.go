package service

import (
	"time"

	"github.com/lk2023060901/vision-backend/internal/image/biz"
)

// ImageResponse 图片响应
type ImageResponse struct {
	ID             int64   `json:"id"`
	StoredName     string  `json:"stored_name"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	MIME           string  `json:"mime"`
	ContentHash    string  `json:"content_hash"`
	OwnerID        int64   `json:"owner_id"`
	Classification *string `json:"classification"`
	CreatedAt      string  `json:"created_at"`
}

// UploadResponse 上传响应
type UploadResponse struct {
	Image *ImageResponse `json:"image"`
	// Unique 为 false 表示相同内容已存在，返回的是已有记录
	Unique bool `json:"unique"`
	// Queued 表示已加入异步分类队列
	Queued              bool   `json:"queued,omitempty"`
	ClassificationError string `json:"classification_error,omitempty"`
}

// ClassifyResponse 分类响应
type ClassifyResponse struct {
	ID             int64  `json:"id"`
	Classification string `json:"classification,omitempty"`
	Queued         bool   `json:"queued,omitempty"`
}

// ListImagesRequest 图片列表请求
type ListImagesRequest struct {
	Page     int `form:"page" binding:"omitempty,min=1"`
	PageSize int `form:"page_size" binding:"omitempty,min=1,max=100"`
}

// ListImagesResponse 图片列表响应
type ListImagesResponse struct {
	Items      []*ImageResponse    `json:"items"`
	Pagination *PaginationResponse `json:"pagination"`
}

// PaginationResponse 分页响应
type PaginationResponse struct {
	Page      int   `json:"page"`
	PageSize  int   `json:"page_size"`
	Total     int64 `json:"total"`
	TotalPage int64 `json:"total_page"`
}

func toImageResponse(img biz.Image) *ImageResponse {
	return &ImageResponse{
		ID:             img.ID,
		StoredName:     img.StoredName,
		Width:          img.Width,
		Height:         img.Height,
		MIME:           img.MIME,
		ContentHash:    img.ContentHash,
		OwnerID:        img.OwnerID,
		Classification: img.Classification,
		CreatedAt:      img.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
