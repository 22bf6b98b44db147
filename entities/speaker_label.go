package entities

import (
	"time"

	"github.com/google/uuid"
)

// SpeakerLabel maps a raw diarization tag to a user-assigned display name for one file.
type SpeakerLabel struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	AudioFileID uuid.UUID `json:"audio_file_id" gorm:"type:uuid;not null;uniqueIndex:idx_speaker_labels_file_tag"`
	SpeakerTag  string    `json:"speaker_tag" gorm:"type:varchar(64);not null;uniqueIndex:idx_speaker_labels_file_tag"`
	DisplayName string    `json:"display_name" gorm:"type:varchar(255);not null"`
	CreatedAt   time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"not null"`
}

func (SpeakerLabel) TableName() string {
	return "speaker_labels"
}
