package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"worker-transcribe/constant"
	"worker-transcribe/entities"
	"worker-transcribe/pkg/objectstore"
	"worker-transcribe/repository"
)

const maxSpeakerCountHint = 20

type SubmitOptions struct {
	AllowDuplicates  bool
	SpeakerCountHint *int
	Location         string
}

type Intake interface {
	Submit(ctx context.Context, data []byte, displayName, declaredType string, opts SubmitOptions) (*entities.AudioFile, *entities.TranscriptionJob, error)
}

type intake struct {
	repo        repository.JobRepository
	store       objectstore.Store
	trigger     Trigger
	diarization bool
	now         func() time.Time
}

func NewIntake(repo repository.JobRepository, store objectstore.Store, trigger Trigger, diarization bool) Intake {
	return &intake{
		repo:        repo,
		store:       store,
		trigger:     trigger,
		diarization: diarization,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (i *intake) Submit(ctx context.Context, data []byte, displayName, declaredType string, opts SubmitOptions) (*entities.AudioFile, *entities.TranscriptionJob, error) {
	if len(data) == 0 {
		return nil, nil, &ValidationError{Field: "file", Reason: "no audio payload"}
	}
	format, ok := constant.FormatForMediaType(declaredType)
	if !ok {
		return nil, nil, &ValidationError{Field: "type", Reason: fmt.Sprintf("unsupported media type %q", declaredType)}
	}
	if h := opts.SpeakerCountHint; h != nil && (*h < 1 || *h > maxSpeakerCountHint) {
		return nil, nil, &ValidationError{Field: "speakerCount", Reason: fmt.Sprintf("must be between 1 and %d", maxSpeakerCountHint)}
	}

	fingerprint := Fingerprint(data)
	if !opts.AllowDuplicates {
		existing, err := i.repo.FindAudioFileByFingerprint(ctx, fingerprint)
		switch {
		case err == nil:
			return nil, nil, &DuplicateError{
				ExistingFileID: existing.ID,
				OriginalName:   existing.OriginalName,
				UploadedAt:     existing.CreatedAt,
			}
		case !errors.Is(err, repository.ErrNotFound):
			return nil, nil, fmt.Errorf("duplicate check: %w", err)
		}
	}

	now := i.now()
	file := &entities.AudioFile{
		ID:               uuid.New(),
		OriginalName:     displayName,
		MediaType:        strings.ToLower(strings.TrimSpace(declaredType)),
		Format:           format.String(),
		SizeBytes:        int64(len(data)),
		Fingerprint:      fingerprint,
		SpeakerCountHint: opts.SpeakerCountHint,
		IsDraft:          true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if opts.Location != "" {
		file.Location = &opts.Location
	}
	file.StorageKey = objectstore.AudioKey(file.ID, format.Extension())

	if err := i.store.Put(ctx, file.StorageKey, data, file.MediaType); err != nil {
		return nil, nil, fmt.Errorf("store audio: %w", err)
	}

	job := &entities.TranscriptionJob{
		ID:                uuid.New(),
		AudioFileID:       file.ID,
		Status:            constant.JobStatusPending,
		Diarization:       i.diarization,
		DiarizationStatus: constant.DiarizationNotAttempted,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err := i.repo.Transaction(ctx, func(ctx context.Context) error {
		if err := i.repo.CreateAudioFile(ctx, file); err != nil {
			return err
		}
		if err := i.repo.CreateJob(ctx, job); err != nil {
			return err
		}
		return i.repo.SetCurrentJob(ctx, file.ID, job.ID)
	})
	if err != nil {
		if delErr := i.store.Delete(context.WithoutCancel(ctx), file.StorageKey); delErr != nil {
			zerolog.Ctx(ctx).Warn().Err(delErr).Str("key", file.StorageKey).Msg("orphaned audio object left in storage")
		}
		return nil, nil, fmt.Errorf("record upload: %w", err)
	}
	file.CurrentJobID = &job.ID

	zerolog.Ctx(ctx).Info().
		Str("file_id", file.ID.String()).
		Str("job_id", job.ID.String()).
		Str("format", file.Format).
		Int64("size", file.SizeBytes).
		Msg("audio accepted")

	i.trigger.Fire(ctx, "upload", &file.ID)
	return file, job, nil
}
