package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"worker-transcribe/constant"
	"worker-transcribe/entities"
	"worker-transcribe/pkg/diarization"
	"worker-transcribe/repository"
)

// DiarizationOutcome is what the worker persists after one diarization attempt.
type DiarizationOutcome struct {
	Status              constant.DiarizationStatus
	Transcript          entities.Transcript
	Speakers            []string
	Err                 error
	ConversionAttempted bool
	ConversionSucceeded bool
	// Metadata is the artifact for this attempt. It is persisted by Record once the
	// job's completion has committed.
	Metadata *entities.DiarizationMetadata
}

func (o DiarizationOutcome) SpeakerCount() int {
	return len(o.Speakers)
}

type DiarizationStage interface {
	Diarize(ctx context.Context, job *entities.TranscriptionJob, file *entities.AudioFile, audio []byte, transcript entities.Transcript) DiarizationOutcome
	Record(ctx context.Context, job *entities.TranscriptionJob, outcome DiarizationOutcome)
}

type Diarizer struct {
	engine    diarization.Engine
	converter Converter
	metadata  MetadataStore
	repo      repository.JobRepository
	now       func() time.Time
}

func NewDiarizer(engine diarization.Engine, converter Converter, metadata MetadataStore, repo repository.JobRepository) *Diarizer {
	return &Diarizer{
		engine:    engine,
		converter: converter,
		metadata:  metadata,
		repo:      repo,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Diarize never returns an error: every failure is folded into the outcome. Nothing is
// persisted here; see Record.
func (d *Diarizer) Diarize(ctx context.Context, job *entities.TranscriptionJob, file *entities.AudioFile, audio []byte, transcript entities.Transcript) DiarizationOutcome {
	outcome := d.attempt(ctx, file, audio, transcript)
	if outcome.Transcript == nil {
		outcome.Transcript = transcript
	}

	logger := zerolog.Ctx(ctx).With().Str("job_id", job.ID.String()).Str("file_id", file.ID.String()).Logger()
	if outcome.Err != nil {
		logger.Warn().Err(outcome.Err).Str("diarization_status", outcome.Status.String()).Msg("diarization did not succeed")
	} else {
		logger.Info().Int("speakers", outcome.SpeakerCount()).Msg("diarization succeeded")
	}

	outcome.Metadata = &entities.DiarizationMetadata{
		JobID:                     job.ID,
		FileID:                    file.ID,
		Status:                    outcome.Status,
		HasSpeakers:               outcome.Status == constant.DiarizationSuccess,
		DiarizationEnabled:        job.Diarization,
		DiarizationAttempted:      true,
		DiarizationSuccess:        outcome.Status == constant.DiarizationSuccess,
		DetectedSpeakers:          outcome.Speakers,
		SpeakerCount:              outcome.SpeakerCount(),
		FormatConversionAttempted: outcome.ConversionAttempted,
		FormatConversionSuccess:   outcome.ConversionSucceeded,
		WrittenAt:                 d.now(),
	}
	if outcome.Err != nil {
		outcome.Metadata.DiarizationError = outcome.Err.Error()
	}
	return outcome
}

// Record writes the outcome's metadata artifact. It must only be called by the run
// whose completion committed, since the artifact is keyed by file and overwritten.
// A write failure is appended to the job's last_error and never changes the outcome.
func (d *Diarizer) Record(ctx context.Context, job *entities.TranscriptionJob, outcome DiarizationOutcome) {
	if outcome.Metadata == nil {
		return
	}
	if err := d.metadata.Write(ctx, outcome.Metadata); err != nil {
		logger := zerolog.Ctx(ctx)
		logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to write diarization metadata")
		if appendErr := d.repo.AppendError(ctx, job.ID, fmt.Sprintf("metadata write failed: %v", err)); appendErr != nil {
			logger.Error().Err(appendErr).Str("job_id", job.ID.String()).Msg("failed to record metadata write failure")
		}
	}
}

func (d *Diarizer) attempt(ctx context.Context, file *entities.AudioFile, audio []byte, transcript entities.Transcript) (outcome DiarizationOutcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome.Status = constant.DiarizationFailed
			outcome.Err = fmt.Errorf("%w: panic: %v", diarization.ErrEngine, r)
			outcome.Speakers = nil
			outcome.Transcript = nil
		}
	}()

	if !d.engine.Configured() {
		return failedOutcome(outcome, diarization.ErrMissingCredentials)
	}

	format := constant.AudioFormat(file.Format)
	input, filename := audio, "audio"+format.Extension()
	if !constant.IsDiarizationNative(format) {
		outcome.ConversionAttempted = true
		wav, err := d.converter.ToWAV(ctx, audio, format.Extension())
		if err != nil {
			return failedOutcome(outcome, fmt.Errorf("%w: %v", diarization.ErrUnsupportedFormat, err))
		}
		outcome.ConversionSucceeded = true
		input, filename = wav, "audio.wav"
	}

	turns, err := d.engine.Diarize(ctx, input, filename, file.SpeakerCountHint)
	if err != nil {
		return failedOutcome(outcome, err)
	}
	speakers := distinctSpeakers(turns)
	if len(speakers) == 0 {
		return failedOutcome(outcome, diarization.ErrNoSpeakersDetected)
	}

	outcome.Status = constant.DiarizationSuccess
	outcome.Speakers = speakers
	outcome.Transcript = assignSpeakers(transcript, turns)
	return outcome
}

func failedOutcome(outcome DiarizationOutcome, err error) DiarizationOutcome {
	outcome.Err = err
	outcome.Status = constant.DiarizationFailed
	if errors.Is(err, diarization.ErrNoSpeakersDetected) {
		outcome.Status = constant.DiarizationNoSpeakersDetected
	}
	return outcome
}
