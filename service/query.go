package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"worker-transcribe/constant"
	"worker-transcribe/dto"
	"worker-transcribe/entities"
	"worker-transcribe/pkg/cache"
	"worker-transcribe/repository"
)

type Query interface {
	Status(ctx context.Context, fileID uuid.UUID) (*dto.StatusResponse, error)
	Transcript(ctx context.Context, fileID uuid.UUID) (*dto.TranscriptResponse, error)
	SpeakerLabels(ctx context.Context, fileID uuid.UUID) ([]*entities.SpeakerLabel, error)
	SetSpeakerLabel(ctx context.Context, fileID uuid.UUID, tag, displayName string) (*entities.SpeakerLabel, error)
	DeleteSpeakerLabel(ctx context.Context, fileID uuid.UUID, tag string) error
}

type query struct {
	repo  repository.JobRepository
	cache cache.TranscriptCache
	now   func() time.Time
}

func NewQuery(repo repository.JobRepository, transcripts cache.TranscriptCache) Query {
	return &query{
		repo:  repo,
		cache: transcripts,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (q *query) currentJob(ctx context.Context, fileID uuid.UUID) (*entities.TranscriptionJob, error) {
	job, err := q.repo.FindMostRecentJobByFile(ctx, fileID)
	if errors.Is(err, repository.ErrNotFound) {
		if _, fileErr := q.repo.FindAudioFileByID(ctx, fileID); errors.Is(fileErr, repository.ErrNotFound) {
			return nil, ErrFileNotFound
		}
		return nil, ErrNoJob
	}
	return job, err
}

func (q *query) Status(ctx context.Context, fileID uuid.UUID) (*dto.StatusResponse, error) {
	job, err := q.currentJob(ctx, fileID)
	if err != nil {
		return nil, err
	}

	resp := &dto.StatusResponse{
		Status:   job.Status,
		Progress: job.Progress,
	}
	if job.DiarizationStatus != constant.DiarizationNotAttempted {
		resp.DiarizationStatus = job.DiarizationStatus
		resp.SpeakerCount = job.SpeakerCount
	}
	switch job.Status {
	case constant.JobStatusCompleted:
		resp.Transcript = job.Transcript.Sorted()
	case constant.JobStatusFailed:
		if job.LastError != nil {
			resp.Error = *job.LastError
		}
	case constant.JobStatusProcessing:
		resp.EstimatedTimeRemaining = estimateRemaining(job.StartedAt, job.Progress, q.now())
	}
	return resp, nil
}

// estimateRemaining extrapolates linearly from elapsed time and progress.
func estimateRemaining(startedAt *time.Time, progress int, now time.Time) *int {
	if startedAt == nil || progress <= 0 || progress >= 100 {
		return nil
	}
	elapsed := now.Sub(*startedAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	total := elapsed / (float64(progress) / 100)
	remaining := int(total - elapsed + 0.5)
	return &remaining
}

func (q *query) Transcript(ctx context.Context, fileID uuid.UUID) (*dto.TranscriptResponse, error) {
	if cached, ok, err := q.cache.Get(ctx, fileID); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("transcript cache read failed")
	} else if ok {
		return cached, nil
	}

	job, err := q.currentJob(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if job.Status != constant.JobStatusCompleted {
		return nil, fmt.Errorf("%w: job is %s", ErrTranscriptNotReady, job.Status)
	}
	labels, err := q.repo.ListSpeakerLabels(ctx, fileID)
	if err != nil {
		return nil, err
	}

	resp := renderTranscript(job.Transcript.Sorted(), labels)
	if err := q.cache.Set(ctx, fileID, resp); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("transcript cache write failed")
	}
	return resp, nil
}

func renderTranscript(transcript entities.Transcript, labels []*entities.SpeakerLabel) *dto.TranscriptResponse {
	names := make(map[string]string, len(labels))
	for _, l := range labels {
		names[l.SpeakerTag] = l.DisplayName
	}

	resp := &dto.TranscriptResponse{
		Segments:           make([]dto.SegmentView, 0, len(transcript)),
		Speakers:           make([]dto.SpeakerView, 0),
		CustomSpeakerNames: names,
	}
	counts := make(map[string]int)
	for _, seg := range transcript {
		resp.Segments = append(resp.Segments, dto.SegmentView{
			Start:       seg.Start,
			End:         seg.End,
			Text:        seg.Text,
			Speaker:     seg.Speaker,
			SpeakerName: names[seg.Speaker],
		})
		if seg.Speaker != "" {
			counts[seg.Speaker]++
		}
	}
	for _, tag := range transcript.Speakers() {
		name := names[tag]
		if name == "" {
			name = tag
		}
		resp.Speakers = append(resp.Speakers, dto.SpeakerView{Tag: tag, DisplayName: name, SegmentCount: counts[tag]})
	}
	resp.HasSpeakers = len(resp.Speakers) > 0
	return resp
}

func (q *query) SpeakerLabels(ctx context.Context, fileID uuid.UUID) ([]*entities.SpeakerLabel, error) {
	if err := q.ensureFile(ctx, fileID); err != nil {
		return nil, err
	}
	return q.repo.ListSpeakerLabels(ctx, fileID)
}

func (q *query) SetSpeakerLabel(ctx context.Context, fileID uuid.UUID, tag, displayName string) (*entities.SpeakerLabel, error) {
	tag, displayName = strings.TrimSpace(tag), strings.TrimSpace(displayName)
	if tag == "" {
		return nil, &ValidationError{Field: "speakerTag", Reason: "required"}
	}
	if displayName == "" {
		return nil, &ValidationError{Field: "displayName", Reason: "required"}
	}
	if err := q.ensureFile(ctx, fileID); err != nil {
		return nil, err
	}

	label := &entities.SpeakerLabel{AudioFileID: fileID, SpeakerTag: tag, DisplayName: displayName}
	if err := q.repo.UpsertSpeakerLabel(ctx, label); err != nil {
		return nil, err
	}
	q.invalidate(ctx, fileID)
	return label, nil
}

func (q *query) DeleteSpeakerLabel(ctx context.Context, fileID uuid.UUID, tag string) error {
	if err := q.ensureFile(ctx, fileID); err != nil {
		return err
	}
	if err := q.repo.DeleteSpeakerLabel(ctx, fileID, tag); err != nil {
		return err
	}
	q.invalidate(ctx, fileID)
	return nil
}

func (q *query) ensureFile(ctx context.Context, fileID uuid.UUID) error {
	_, err := q.repo.FindAudioFileByID(ctx, fileID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrFileNotFound
	}
	return err
}

func (q *query) invalidate(ctx context.Context, fileID uuid.UUID) {
	if err := q.cache.Invalidate(ctx, fileID); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to invalidate transcript cache")
	}
}
