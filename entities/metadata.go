package entities

import (
	"time"

	"github.com/google/uuid"
	"worker-transcribe/constant"
)

// DiarizationMetadata is the side-channel artifact written after each diarization attempt.
// It is a projection of the job record and is only read for diagnostics.
type DiarizationMetadata struct {
	JobID                     uuid.UUID                  `json:"job_id"`
	FileID                    uuid.UUID                  `json:"file_id"`
	Status                    constant.DiarizationStatus `json:"status"`
	HasSpeakers               bool                       `json:"has_speakers"`
	DiarizationEnabled        bool                       `json:"diarization_enabled"`
	DiarizationAttempted      bool                       `json:"diarization_attempted"`
	DiarizationSuccess        bool                       `json:"diarization_success"`
	DetectedSpeakers          []string                   `json:"detected_speakers"`
	SpeakerCount              int                        `json:"speaker_count"`
	FormatConversionAttempted bool                       `json:"format_conversion_attempted"`
	FormatConversionSuccess   bool                       `json:"format_conversion_success"`
	DiarizationError          string                     `json:"diarization_error,omitempty"`
	WrittenAt                 time.Time                  `json:"written_at"`
}

// MetadataRequiredFields lists the keys every artifact must carry, with their JSON kinds.
var MetadataRequiredFields = map[string]string{
	"status":                      "string",
	"has_speakers":                "bool",
	"diarization_enabled":         "bool",
	"detected_speakers":           "array",
	"speaker_count":               "number",
	"format_conversion_attempted": "bool",
	"format_conversion_success":   "bool",
}
