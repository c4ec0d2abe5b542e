package models

import "time"

// Image images 表的 GORM 模型，表结构由 internal/image/data/migrations 中的 SQL 迁移定义
type Image struct {
	ID             int64   `gorm:"primaryKey;autoIncrement"`
	StoredName     string  `gorm:"type:varchar(255);not null;uniqueIndex"`
	Width          int     `gorm:"not null"`
	Height         int     `gorm:"not null"`
	MIME           string  `gorm:"column:mime;type:varchar(64);not null"`
	ContentHash    string  `gorm:"type:char(64);not null;uniqueIndex:uq_images_content_hash"`
	OwnerID        int64   `gorm:"not null;index:idx_images_owner_created,priority:1"`
	Classification *string `gorm:"type:text"`
	CreatedAt      time.Time
}

// TableName 指定表名
func (Image) TableName() string {
	return "images"
}
