package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"worker-transcribe/constant"
	"worker-transcribe/dto"
	"worker-transcribe/entities"
	"worker-transcribe/pkg/objectstore"
	"worker-transcribe/repository"
)

const (
	defaultScanLimit = 50
	maxScanLimit     = 500
)

const (
	MismatchMetadataMissing    = "metadata_missing"
	MismatchMetadataUnreadable = "metadata_unreadable"
	MismatchMetadataMalformed  = "metadata_malformed"
	MismatchHasSpeakers        = "has_speakers_mismatch"
)

// ConsistencyChecker compares diarization artifacts against the job records. It only
// reports; nothing is repaired.
type ConsistencyChecker interface {
	Scan(ctx context.Context, limit int) (*dto.ConsistencyReport, error)
}

type consistencyChecker struct {
	repo     repository.JobRepository
	metadata MetadataStore
}

func NewConsistencyChecker(repo repository.JobRepository, metadata MetadataStore) ConsistencyChecker {
	return &consistencyChecker{repo: repo, metadata: metadata}
}

func (c *consistencyChecker) Scan(ctx context.Context, limit int) (*dto.ConsistencyReport, error) {
	if limit <= 0 {
		limit = defaultScanLimit
	}
	if limit > maxScanLimit {
		limit = maxScanLimit
	}

	jobs, err := c.repo.ListDiarizedCompletedJobs(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list completed jobs: %w", err)
	}

	report := &dto.ConsistencyReport{Mismatches: make([]dto.Mismatch, 0)}
	for _, job := range jobs {
		report.Checked++
		reason, detail := c.check(ctx, job)
		if reason == "" {
			report.ValidCount++
			continue
		}
		report.InvalidCount++
		report.Mismatches = append(report.Mismatches, dto.Mismatch{
			JobId:             job.ID,
			FileId:            job.AudioFileID,
			Reason:            reason,
			Detail:            detail,
			DiarizationStatus: job.DiarizationStatus,
		})
	}

	zerolog.Ctx(ctx).Info().
		Int("checked", report.Checked).
		Int("invalid", report.InvalidCount).
		Msg("consistency scan finished")
	return report, nil
}

func (c *consistencyChecker) check(ctx context.Context, job *entities.TranscriptionJob) (string, string) {
	raw, err := c.metadata.Read(ctx, job.AudioFileID)
	if errors.Is(err, objectstore.ErrObjectNotFound) {
		return MismatchMetadataMissing, ""
	}
	if err != nil {
		return MismatchMetadataUnreadable, err.Error()
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return MismatchMetadataUnreadable, err.Error()
	}
	for name, kind := range entities.MetadataRequiredFields {
		v, ok := fields[name]
		if !ok {
			return MismatchMetadataMalformed, fmt.Sprintf("missing field %s", name)
		}
		if jsonKind(v) != kind {
			return MismatchMetadataMalformed, fmt.Sprintf("field %s is %s, want %s", name, jsonKind(v), kind)
		}
	}

	hasSpeakers := fields["has_speakers"].(bool)
	if want := job.DiarizationStatus == constant.DiarizationSuccess; hasSpeakers != want {
		return MismatchHasSpeakers, fmt.Sprintf("has_speakers=%t, diarization_status=%s", hasSpeakers, job.DiarizationStatus)
	}
	return "", ""
}

func jsonKind(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "bool"
	case float64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	case nil:
		return "null"
	}
	return "unknown"
}
