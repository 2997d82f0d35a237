package models

import "time"

// EmbeddedText 向量化后的文本片段，source 为文档来源定位符
type EmbeddedText struct {
	ID        uint      `gorm:"primaryKey;column:id" json:"id"`
	Source    string    `gorm:"column:source;size:2048;not null;index" json:"source"`
	Text      string    `gorm:"column:text;type:text;not null" json:"text"`
	Embedding []float32 `gorm:"column:embedding;type:jsonb;serializer:json;not null" json:"-"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (EmbeddedText) TableName() string {
	return "embedded_texts"
}
