package entities

import (
	"time"

	"github.com/google/uuid"
)

type AudioFile struct {
	ID               uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	StorageKey       string     `json:"storage_key" gorm:"type:varchar(500);not null"`
	OriginalName     string     `json:"original_name" gorm:"type:varchar(255);not null"`
	MediaType        string     `json:"media_type" gorm:"type:varchar(100);not null"`
	Format           string     `json:"format" gorm:"type:varchar(16);not null"`
	SizeBytes        int64      `json:"size_bytes" gorm:"not null"`
	Fingerprint      string     `json:"fingerprint" gorm:"type:varchar(64);not null;index:idx_audio_files_fingerprint"`
	DurationSeconds  *float64   `json:"duration_seconds,omitempty"`
	Location         *string    `json:"location,omitempty" gorm:"type:varchar(255)"`
	SpeakerCountHint *int       `json:"speaker_count_hint,omitempty"`
	IsDraft          bool       `json:"is_draft" gorm:"not null"`
	CurrentJobID     *uuid.UUID `json:"current_job_id,omitempty" gorm:"type:uuid"`
	CreatedAt        time.Time  `json:"created_at" gorm:"not null;index:idx_audio_files_created_at"`
	UpdatedAt        time.Time  `json:"updated_at" gorm:"not null"`
}

func (AudioFile) TableName() string {
	return "audio_files"
}
