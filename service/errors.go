package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrFileNotFound       = errors.New("audio file not found")
	ErrNoJob              = errors.New("no transcription job for file")
	ErrTranscriptNotReady = errors.New("transcript not available")
)

// ValidationError rejects a request before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type DuplicateError struct {
	ExistingFileID uuid.UUID
	OriginalName   string
	UploadedAt     time.Time
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate of file %s (%s)", e.ExistingFileID, e.OriginalName)
}
