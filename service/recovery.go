package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"worker-transcribe/constant"
	"worker-transcribe/entities"
	"worker-transcribe/pkg/cache"
	"worker-transcribe/repository"
)

type Recovery interface {
	Retry(ctx context.Context, fileID uuid.UUID) (*entities.TranscriptionJob, *entities.AudioFile, error)
}

type recovery struct {
	repo        repository.JobRepository
	trigger     Trigger
	cache       cache.TranscriptCache
	diarization bool
	now         func() time.Time
}

func NewRecovery(repo repository.JobRepository, trigger Trigger, transcripts cache.TranscriptCache, diarization bool) Recovery {
	return &recovery{
		repo:        repo,
		trigger:     trigger,
		cache:       transcripts,
		diarization: diarization,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Retry resets the file's current job to pending, or creates one if the file has none.
// A job still marked processing is reset too; the run holding it loses its claim.
func (r *recovery) Retry(ctx context.Context, fileID uuid.UUID) (*entities.TranscriptionJob, *entities.AudioFile, error) {
	var (
		job  *entities.TranscriptionJob
		file *entities.AudioFile
	)
	err := r.repo.Transaction(ctx, func(ctx context.Context) error {
		var err error
		file, err = r.repo.FindAudioFileByID(ctx, fileID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrFileNotFound
		}
		if err != nil {
			return err
		}

		existing, err := r.repo.FindMostRecentJobByFile(ctx, fileID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			job = &entities.TranscriptionJob{
				AudioFileID: fileID,
				Status:      constant.JobStatusPending,
				Diarization: r.diarization,
				CreatedAt:   r.now(),
			}
			if err := r.repo.CreateJob(ctx, job); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if existing.Status == constant.JobStatusProcessing {
				zerolog.Ctx(ctx).Warn().Str("job_id", existing.ID.String()).Msg("force-resetting a processing job")
			}
			note := constant.RetryNote
			job, err = r.repo.Transition(ctx, existing.ID, nil, constant.JobStatusPending, repository.JobUpdate{
				Reset:     true,
				LastError: &note,
			})
			if err != nil {
				return err
			}
		}

		if err := r.repo.SetCurrentJob(ctx, fileID, job.ID); err != nil {
			return err
		}
		file.CurrentJobID = &job.ID
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrFileNotFound) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("retry file %s: %w", fileID, err)
	}

	if err := r.cache.Invalidate(ctx, fileID); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to invalidate transcript cache")
	}

	zerolog.Ctx(ctx).Info().Str("file_id", fileID.String()).Str("job_id", job.ID.String()).Msg("retry requested")
	r.trigger.Fire(ctx, "retry", &fileID)
	return job, file, nil
}
