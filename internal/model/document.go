package model

import "time"

type Document struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UID         string    `gorm:"size:36;not null;uniqueIndex" json:"uid"`
	OwnerID     string    `gorm:"size:128;not null;uniqueIndex:idx_owner_filename" json:"owner_id"`
	Filename    string    `gorm:"size:255;not null;uniqueIndex:idx_owner_filename" json:"filename"`
	SizeBytes   int64     `gorm:"not null" json:"size_bytes"`
	PageCount   int       `gorm:"not null" json:"page_count"`
	ChunkCount  int       `gorm:"not null" json:"chunk_count"`
	TableCount  int       `gorm:"not null" json:"table_count"`
	Generation  int       `gorm:"not null;default:1" json:"generation"`
	Reprocessed bool      `gorm:"not null;default:false" json:"reprocessed"`
	StorageKey  string    `gorm:"size:512;not null" json:"-"`
	Collection  string    `gorm:"size:64;not null;index" json:"collection"`
	UploadedAt  time.Time `gorm:"not null" json:"uploaded_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
