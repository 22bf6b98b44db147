package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"worker-transcribe/entities"
	"worker-transcribe/pkg/cache"
	"worker-transcribe/pkg/diarization"
	"worker-transcribe/pkg/objectstore"
	"worker-transcribe/pkg/speech"
	"worker-transcribe/repository"
	"worker-transcribe/repository/repotest"
)

type fakeSTT struct {
	mu         sync.Mutex
	calls      int
	transcribe func(ctx context.Context, audio []byte, filename string) (*speech.Result, error)
}

func (f *fakeSTT) Transcribe(ctx context.Context, audio []byte, filename string) (*speech.Result, error) {
	f.mu.Lock()
	f.calls++
	fn := f.transcribe
	f.mu.Unlock()
	if fn == nil {
		return segmentsResult(10), nil
	}
	return fn(ctx, audio, filename)
}

func (f *fakeSTT) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// segmentsResult returns n two-second segments.
func segmentsResult(n int) *speech.Result {
	res := &speech.Result{Language: "en", Duration: float64(2 * n)}
	for i := 0; i < n; i++ {
		res.Segments = append(res.Segments, speech.Segment{
			Start: float64(2 * i),
			End:   float64(2*i + 2),
			Text:  fmt.Sprintf("segment %d", i),
		})
	}
	return res
}

type fakeEngine struct {
	mu           sync.Mutex
	calls        int
	turns        []diarization.Turn
	err          error
	filenames    []string
	unconfigured bool
	// diarize, when set, replaces turns/err and receives the 1-based call number.
	diarize func(call int) ([]diarization.Turn, error)
}

func (f *fakeEngine) Configured() bool {
	return !f.unconfigured
}

func (f *fakeEngine) Diarize(_ context.Context, _ []byte, filename string, _ *int) ([]diarization.Turn, error) {
	f.mu.Lock()
	f.calls++
	f.filenames = append(f.filenames, filename)
	call, fn, turns, err := f.calls, f.diarize, f.turns, f.err
	f.mu.Unlock()
	if fn != nil {
		return fn(call)
	}
	return turns, err
}

// twoSpeakers alternates speakers every 4 seconds over 20 seconds.
func twoSpeakers() []diarization.Turn {
	var turns []diarization.Turn
	for i := 0; i < 5; i++ {
		turns = append(turns, diarization.Turn{
			Start:   float64(4 * i),
			End:     float64(4*i + 4),
			Speaker: fmt.Sprintf("SPEAKER_%02d", i%2),
		})
	}
	return turns
}

type fakeConverter struct {
	calls int
	err   error
}

func (f *fakeConverter) ToWAV(_ context.Context, audio []byte, _ string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]byte("RIFF"), audio...), nil
}

type recordingTrigger struct {
	mu      sync.Mutex
	reasons []string
}

func (r *recordingTrigger) Fire(_ context.Context, reason string, _ *uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

func (r *recordingTrigger) Fired() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.reasons...)
}

type flakyMetadata struct {
	MetadataStore
	writeErr error
	writes   int
}

func (f *flakyMetadata) Write(ctx context.Context, meta *entities.DiarizationMetadata) error {
	f.writes++
	if f.writeErr != nil {
		return f.writeErr
	}
	return f.MetadataStore.Write(ctx, meta)
}

type harness struct {
	repo      repository.JobRepository
	store     *objectstore.Memory
	stt       *fakeSTT
	engine    *fakeEngine
	converter *fakeConverter
	metadata  *flakyMetadata
	trigger   *recordingTrigger

	intake   Intake
	worker   Worker
	recovery Recovery
	query    Query
	checker  ConsistencyChecker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo:      repotest.New(t),
		store:     objectstore.NewMemory(),
		stt:       &fakeSTT{},
		engine:    &fakeEngine{turns: twoSpeakers()},
		converter: &fakeConverter{},
		trigger:   &recordingTrigger{},
	}
	h.metadata = &flakyMetadata{MetadataStore: NewMetadataStore(h.store)}

	diarizer := NewDiarizer(h.engine, h.converter, h.metadata, h.repo)
	h.intake = NewIntake(h.repo, h.store, h.trigger, true)
	h.worker = NewWorker(h.repo, h.store, h.stt, diarizer, cache.Noop{}, 0)
	h.recovery = NewRecovery(h.repo, h.trigger, cache.Noop{}, true)
	h.query = NewQuery(h.repo, cache.Noop{})
	h.checker = NewConsistencyChecker(h.repo, h.metadata)
	return h
}

func (h *harness) upload(t *testing.T, data string, mediaType string) *entities.AudioFile {
	t.Helper()
	file, _, err := h.intake.Submit(context.Background(), []byte(data), "a.mp3", mediaType, SubmitOptions{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return file
}

func (h *harness) currentJob(t *testing.T, fileID uuid.UUID) *entities.TranscriptionJob {
	t.Helper()
	job, err := h.repo.FindMostRecentJobByFile(context.Background(), fileID)
	if err != nil {
		t.Fatalf("find job: %v", err)
	}
	return job
}

func (h *harness) readMetadata(t *testing.T, fileID uuid.UUID) map[string]any {
	t.Helper()
	raw, err := h.store.Get(context.Background(), objectstore.MetadataKey(fileID))
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	return m
}

var errBoom = errors.New("boom")
