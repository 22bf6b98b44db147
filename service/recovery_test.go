package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"worker-transcribe/constant"
	"worker-transcribe/entities"
	"worker-transcribe/pkg/speech"
)

func TestRetryResetsFailedJob(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	file := h.upload(t, "x", "audio/wav")
	h.stt.transcribe = func(context.Context, []byte, string) (*speech.Result, error) {
		return nil, errBoom
	}
	if _, err := h.worker.ProcessPending(ctx); err != nil {
		t.Fatal(err)
	}
	failed := h.currentJob(t, file.ID)
	if failed.Status != constant.JobStatusFailed {
		t.Fatalf("status = %s", failed.Status)
	}

	job, gotFile, err := h.recovery.Retry(ctx, file.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if job.ID != failed.ID || job.AudioFileID != file.ID || gotFile.ID != file.ID {
		t.Fatalf("retry returned job %s for file %s", job.ID, job.AudioFileID)
	}
	if job.Status != constant.JobStatusPending || job.Progress != 0 || job.StartedAt != nil || job.CompletedAt != nil {
		t.Fatalf("job = %+v", job)
	}
	if job.DiarizationStatus != constant.DiarizationNotAttempted || job.DiarizationError != nil {
		t.Fatalf("diarization = %s / %v", job.DiarizationStatus, job.DiarizationError)
	}
	if job.LastError == nil || *job.LastError != constant.RetryNote {
		t.Fatalf("last_error = %v", job.LastError)
	}
	if fired := h.trigger.Fired(); fired[len(fired)-1] != "retry" {
		t.Fatalf("fired = %v", fired)
	}

	h.stt.transcribe = nil
	if _, err := h.worker.ProcessPending(ctx); err != nil {
		t.Fatal(err)
	}
	if got := h.currentJob(t, file.ID); got.Status != constant.JobStatusCompleted {
		t.Fatalf("status after retry run = %s", got.Status)
	}
}

func TestRetryCompletedJobClearsResults(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	file := h.upload(t, "x", "audio/wav")
	if _, err := h.worker.ProcessPending(ctx); err != nil {
		t.Fatal(err)
	}

	job, _, err := h.recovery.Retry(ctx, file.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if job.Transcript != nil || job.SpeakerCount != nil || job.Language != nil {
		t.Fatalf("job kept results: %+v", job)
	}
}

func TestRetryCreatesJobWhenNoneExists(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	file := &entities.AudioFile{
		StorageKey: "audio/legacy.wav", OriginalName: "legacy.wav", MediaType: "audio/wav",
		Format: "wav", SizeBytes: 1, Fingerprint: "legacy",
	}
	if err := h.repo.CreateAudioFile(ctx, file); err != nil {
		t.Fatal(err)
	}

	job, gotFile, err := h.recovery.Retry(ctx, file.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if job.Status != constant.JobStatusPending || job.AudioFileID != file.ID || !job.Diarization {
		t.Fatalf("job = %+v", job)
	}
	if gotFile.CurrentJobID == nil || *gotFile.CurrentJobID != job.ID {
		t.Fatalf("current job = %v", gotFile.CurrentJobID)
	}
}

func TestRetryUnknownFile(t *testing.T) {
	h := newHarness(t)
	if _, _, err := h.recovery.Retry(context.Background(), uuid.New()); !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("err = %v, want ErrFileNotFound", err)
	}
	if len(h.trigger.Fired()) != 0 {
		t.Fatal("trigger fired for unknown file")
	}
}
