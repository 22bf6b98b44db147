package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/rs/zerolog"
	"worker-transcribe/constant"
	"worker-transcribe/dto"
	"worker-transcribe/entities"
	"worker-transcribe/pkg/cache"
	"worker-transcribe/pkg/objectstore"
	"worker-transcribe/pkg/speech"
	"worker-transcribe/repository"
)

const (
	progressClaimed     = 10
	progressTranscribed = 50
	progressDiarizing   = 60
	progressDone        = 100
)

// errSuperseded means a manual retry took the job away from this run.
var errSuperseded = errors.New("job superseded by retry")

type Worker interface {
	ProcessPending(ctx context.Context) (*dto.WorkerRunResponse, error)
}

type worker struct {
	repo      repository.JobRepository
	store     objectstore.Store
	stt       speech.Engine
	diarizer  DiarizationStage
	cache     cache.TranscriptCache
	batchSize int
	now       func() time.Time
}

func NewWorker(repo repository.JobRepository, store objectstore.Store, stt speech.Engine, diarizer DiarizationStage, transcripts cache.TranscriptCache, batchSize int) Worker {
	return &worker{
		repo:      repo,
		store:     store,
		stt:       stt,
		diarizer:  diarizer,
		cache:     transcripts,
		batchSize: batchSize,
		now: func() time.Time {
			return time.Now().UTC().Truncate(time.Microsecond)
		},
	}
}

// ProcessPending claims and runs every pending job, oldest first. Jobs claimed by a
// concurrent run are skipped and not counted; per-job failures are recorded on the job.
func (w *worker) ProcessPending(ctx context.Context) (*dto.WorkerRunResponse, error) {
	jobs, err := w.repo.ListJobsByStatus(ctx, constant.JobStatusPending, w.batchSize)
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}

	resp := &dto.WorkerRunResponse{Results: make([]dto.JobResult, 0, len(jobs))}
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		claimed, ok := w.claim(ctx, job)
		if !ok {
			continue
		}
		resp.Results = append(resp.Results, w.process(ctx, claimed))
	}
	resp.Processed = len(resp.Results)

	zerolog.Ctx(ctx).Info().Int("processed", resp.Processed).Int("pending", len(jobs)).Msg("worker run finished")
	return resp, nil
}

func (w *worker) claim(ctx context.Context, job *entities.TranscriptionJob) (*entities.TranscriptionJob, bool) {
	pending := constant.JobStatusPending
	startedAt := w.now()
	claimed, err := w.repo.Transition(ctx, job.ID, &pending, constant.JobStatusProcessing, repository.JobUpdate{
		Progress:  intPtr(progressClaimed),
		StartedAt: &startedAt,
	})
	if err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) || errors.Is(err, repository.ErrNotFound) {
			zerolog.Ctx(ctx).Debug().Str("job_id", job.ID.String()).Msg("job already claimed")
		} else {
			zerolog.Ctx(ctx).Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to claim job")
		}
		return nil, false
	}
	return claimed, true
}

func (w *worker) process(ctx context.Context, job *entities.TranscriptionJob) (result dto.JobResult) {
	logger := zerolog.Ctx(ctx).With().Str("job_id", job.ID.String()).Str("file_id", job.AudioFileID.String()).Logger()
	ctx = logger.WithContext(ctx)
	result = dto.JobResult{JobId: job.ID, FileId: job.AudioFileID}

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("job panicked")
			result = w.fail(ctx, job, result, fmt.Errorf("internal error: %v", r))
		}
	}()

	logger.Info().Msg("processing job")
	completed, diarizationStatus, err := w.run(ctx, job)
	if err != nil {
		return w.fail(ctx, job, result, err)
	}

	result.Status = completed.Status
	result.DiarizationStatus = diarizationStatus
	result.Segments = len(completed.Transcript)
	logger.Info().Str("diarization_status", diarizationStatus.String()).Int("segments", result.Segments).Msg("job completed")
	return result
}

func (w *worker) run(ctx context.Context, job *entities.TranscriptionJob) (*entities.TranscriptionJob, constant.DiarizationStatus, error) {
	file, err := w.repo.FindAudioFileByID(ctx, job.AudioFileID)
	if err != nil {
		return nil, "", fmt.Errorf("load audio file: %w", err)
	}
	audio, err := w.store.Get(ctx, file.StorageKey)
	if err != nil {
		return nil, "", fmt.Errorf("load audio object: %w", err)
	}

	res, err := w.stt.Transcribe(ctx, audio, path.Base(file.StorageKey))
	if err != nil {
		return nil, "", fmt.Errorf("transcription failed: %w", err)
	}
	if len(res.Segments) == 0 {
		return nil, "", errors.New("transcription failed: speech engine returned an empty transcript")
	}

	transcript := make(entities.Transcript, 0, len(res.Segments))
	for _, s := range res.Segments {
		transcript = append(transcript, entities.TranscriptSegment{Start: s.Start, End: s.End, Text: s.Text})
	}
	transcript = transcript.Sorted()

	if err := w.advance(ctx, job, repository.JobUpdate{Progress: intPtr(progressTranscribed)}); err != nil {
		return nil, "", err
	}

	final := repository.JobUpdate{
		Progress: intPtr(progressDone),
		Language: &res.Language,
		Fence:    job.StartedAt,
	}
	diarizationStatus := constant.DiarizationNotAttempted
	var outcome *DiarizationOutcome
	if job.Diarization && w.diarizer != nil {
		inProgress := constant.DiarizationInProgress
		if err := w.advance(ctx, job, repository.JobUpdate{
			Progress:          intPtr(progressDiarizing),
			DiarizationStatus: &inProgress,
		}); err != nil {
			return nil, "", err
		}

		diarized := w.diarizer.Diarize(ctx, job, file, audio, transcript)
		outcome = &diarized
		transcript = outcome.Transcript.Sorted()
		diarizationStatus = outcome.Status
		final.DiarizationStatus = &outcome.Status
		final.SpeakerCount = intPtr(outcome.SpeakerCount())
		if outcome.Err != nil {
			final.DiarizationError = strPtr(outcome.Err.Error())
		}
	}

	completedAt := w.now()
	final.CompletedAt = &completedAt
	final.Transcript = &transcript

	processing := constant.JobStatusProcessing
	completed, err := w.repo.Transition(ctx, job.ID, &processing, constant.JobStatusCompleted, final)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			return nil, "", errSuperseded
		}
		return nil, "", fmt.Errorf("persist transcript: %w", err)
	}

	// The job is committed; follow-up writes must not be lost to a cancelled caller.
	ctx = context.WithoutCancel(ctx)
	if outcome != nil {
		w.diarizer.Record(ctx, completed, *outcome)
	}

	var duration *float64
	if res.Duration > 0 {
		duration = &res.Duration
	}
	if err := w.repo.MarkFileTranscribed(ctx, file.ID, duration); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to update audio file after completion")
	}
	if err := w.cache.Invalidate(ctx, file.ID); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to invalidate transcript cache")
	}

	return completed, diarizationStatus, nil
}

// advance moves a processing job forward within this run.
func (w *worker) advance(ctx context.Context, job *entities.TranscriptionJob, update repository.JobUpdate) error {
	processing := constant.JobStatusProcessing
	update.Fence = job.StartedAt
	if _, err := w.repo.Transition(ctx, job.ID, &processing, processing, update); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			return errSuperseded
		}
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

func (w *worker) fail(ctx context.Context, job *entities.TranscriptionJob, result dto.JobResult, cause error) dto.JobResult {
	if errors.Is(cause, errSuperseded) {
		zerolog.Ctx(ctx).Warn().Msg("job was reset by a retry while running, dropping result")
		result.Superseded = true
		return result
	}

	zerolog.Ctx(ctx).Error().Err(cause).Msg("job failed")
	result.Error = cause.Error()

	// A cancelled caller must not leave the claimed job in processing.
	processing := constant.JobStatusProcessing
	completedAt := w.now()
	_, err := w.repo.Transition(context.WithoutCancel(ctx), job.ID, &processing, constant.JobStatusFailed, repository.JobUpdate{
		LastError:   strPtr(cause.Error()),
		CompletedAt: &completedAt,
		Fence:       job.StartedAt,
	})
	switch {
	case err == nil:
		result.Status = constant.JobStatusFailed
	case errors.Is(err, repository.ErrInvalidTransition):
		result.Superseded = true
	default:
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to record job failure")
	}
	return result
}

func intPtr(v int) *int { return &v }

func strPtr(s string) *string { return &s }
