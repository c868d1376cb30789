package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Job status values.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

type BaseModel struct {
	ID        uuid.UUID      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt *time.Time     `json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (m *BaseModel) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return
}

// ConversionJob records one conversion request in the history table.
type ConversionJob struct {
	BaseModel
	Filename      string  `json:"filename,omitempty"`
	SourceCharset string  `json:"source_charset"`
	TargetCharset string  `json:"target_charset"`
	Detected      bool    `json:"detected"`
	Newline       string  `json:"newline,omitempty"`
	BOM           string  `json:"bom,omitempty"`
	Confidence    float64 `json:"confidence,omitempty"`
	BytesIn       int64   `json:"bytes_in"`
	BytesOut      int64   `json:"bytes_out"`
	Status        string  `gorm:"index" json:"status"`
	Error         string  `json:"error,omitempty"`
	DurationMs    int64   `json:"duration_ms"`
}

func ModelsToMigrate() []interface{} {
	return []interface{}{
		&ConversionJob{},
	}
}
