package dto

import (
	"time"

	"github.com/google/uuid"
	"worker-transcribe/constant"
	"worker-transcribe/entities"
)

// TriggerMessage asks a worker process to run one pending batch.
type TriggerMessage struct {
	Reason      string     `json:"reason"`
	FileId      *uuid.UUID `json:"fileId,omitempty"`
	RequestedAt time.Time  `json:"requestedAt"`
}

type UploadResponse struct {
	FileId              uuid.UUID          `json:"fileId"`
	TranscriptionStatus constant.JobStatus `json:"transcriptionStatus"`
	Message             string             `json:"message"`
	IsDraft             bool               `json:"isDraft"`
}

type DuplicateInfo struct {
	ExistingFileId uuid.UUID `json:"existingFileId"`
	OriginalName   string    `json:"originalName"`
	UploadedAt     time.Time `json:"uploadedAt"`
}

type ErrorResponse struct {
	Error         string         `json:"error"`
	DuplicateInfo *DuplicateInfo `json:"duplicateInfo,omitempty"`
}

type StatusResponse struct {
	Status                 constant.JobStatus           `json:"status"`
	Progress               int                          `json:"progress"`
	Transcript             []entities.TranscriptSegment `json:"transcript,omitempty"`
	Error                  string                       `json:"error,omitempty"`
	SpeakerCount           *int                         `json:"speakerCount,omitempty"`
	DiarizationStatus      constant.DiarizationStatus   `json:"diarizationStatus,omitempty"`
	EstimatedTimeRemaining *int                         `json:"estimatedTimeRemaining,omitempty"`
}

type RetryResponse struct {
	Success bool                       `json:"success"`
	Message string                     `json:"message"`
	Job     *entities.TranscriptionJob `json:"job"`
	File    *entities.AudioFile        `json:"file"`
}

type JobResult struct {
	JobId             uuid.UUID                  `json:"jobId"`
	FileId            uuid.UUID                  `json:"fileId"`
	Status            constant.JobStatus         `json:"status"`
	DiarizationStatus constant.DiarizationStatus `json:"diarizationStatus,omitempty"`
	Segments          int                        `json:"segments"`
	Superseded        bool                       `json:"superseded,omitempty"`
	Error             string                     `json:"error,omitempty"`
}

type WorkerRunResponse struct {
	Processed int         `json:"processed"`
	Results   []JobResult `json:"results"`
}

type SegmentView struct {
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Text        string  `json:"text"`
	Speaker     string  `json:"speaker,omitempty"`
	SpeakerName string  `json:"speakerName,omitempty"`
}

type SpeakerView struct {
	Tag          string `json:"tag"`
	DisplayName  string `json:"displayName"`
	SegmentCount int    `json:"segmentCount"`
}

type TranscriptResponse struct {
	Segments           []SegmentView     `json:"segments"`
	Speakers           []SpeakerView     `json:"speakers"`
	HasSpeakers        bool              `json:"hasSpeakers"`
	CustomSpeakerNames map[string]string `json:"customSpeakerNames"`
}

type SpeakerLabelRequest struct {
	SpeakerTag  string `json:"speakerTag" binding:"required"`
	DisplayName string `json:"displayName" binding:"required"`
}

type Mismatch struct {
	JobId             uuid.UUID                  `json:"jobId"`
	FileId            uuid.UUID                  `json:"fileId"`
	Reason            string                     `json:"reason"`
	Detail            string                     `json:"detail,omitempty"`
	DiarizationStatus constant.DiarizationStatus `json:"diarizationStatus"`
}

type ConsistencyReport struct {
	Checked      int        `json:"checked"`
	ValidCount   int        `json:"validCount"`
	InvalidCount int        `json:"invalidCount"`
	Mismatches   []Mismatch `json:"mismatches"`
}
