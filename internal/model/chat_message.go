package model

import "time"

const (
	FeedbackLike    = "like"
	FeedbackDislike = "dislike"
)

type ChatMessage struct {
	ID              string     `gorm:"primaryKey;size:36" json:"id"`
	OwnerID         string     `gorm:"size:128;not null;index" json:"owner_id"`
	Document        string     `gorm:"size:255" json:"document,omitempty"`
	Collection      string     `gorm:"size:64;not null" json:"collection"`
	Question        string     `gorm:"type:text;not null" json:"question"`
	Answer          string     `gorm:"type:text;not null" json:"answer"`
	ContextFound    bool       `gorm:"not null" json:"context_found"`
	SourceCount     int        `gorm:"not null" json:"source_count"`
	ModelUsed       string     `gorm:"size:128" json:"model_used"`
	LatencyMS       int64      `json:"latency_ms"`
	CreatedAt       time.Time  `gorm:"index" json:"created_at"`
	FeedbackType    *string    `gorm:"size:16" json:"feedback_type,omitempty"`
	FeedbackComment string     `gorm:"type:text" json:"feedback_comment,omitempty"`
	FeedbackAt      *time.Time `json:"feedback_at,omitempty"`
}
