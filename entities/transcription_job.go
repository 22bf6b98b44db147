package entities

import (
	"time"

	"github.com/google/uuid"
	"worker-transcribe/constant"
)

type TranscriptionJob struct {
	ID                uuid.UUID                  `json:"id" gorm:"type:uuid;primaryKey"`
	AudioFileID       uuid.UUID                  `json:"audio_file_id" gorm:"type:uuid;not null;index:idx_transcription_jobs_file"`
	Status            constant.JobStatus         `json:"status" gorm:"type:varchar(20);not null;index:idx_transcription_jobs_status"`
	Progress          int                        `json:"progress" gorm:"not null"`
	Diarization       bool                       `json:"diarization" gorm:"not null"`
	DiarizationStatus constant.DiarizationStatus `json:"diarization_status" gorm:"type:varchar(32);not null"`
	DiarizationError  *string                    `json:"diarization_error" gorm:"type:text"`
	SpeakerCount      *int                       `json:"speaker_count,omitempty"`
	Language          *string                    `json:"language,omitempty" gorm:"type:varchar(16)"`
	Transcript        Transcript                 `json:"transcript,omitempty" gorm:"type:jsonb"`
	LastError         *string                    `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt         time.Time                  `json:"created_at" gorm:"not null;index:idx_transcription_jobs_created_at"`
	StartedAt         *time.Time                 `json:"started_at,omitempty"`
	CompletedAt       *time.Time                 `json:"completed_at,omitempty"`
	UpdatedAt         time.Time                  `json:"updated_at" gorm:"not null"`
}

func (TranscriptionJob) TableName() string {
	return "transcription_jobs"
}
