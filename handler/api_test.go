package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"worker-transcribe/constant"
	"worker-transcribe/dto"
	"worker-transcribe/pkg/cache"
	"worker-transcribe/pkg/objectstore"
	"worker-transcribe/repository"
	"worker-transcribe/repository/repotest"
	"worker-transcribe/service"
)

type countingTrigger struct {
	mu    sync.Mutex
	fired []string
}

func (t *countingTrigger) Fire(_ context.Context, reason string, _ *uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fired = append(t.fired, reason)
}

type stubWorker struct {
	resp   *dto.WorkerRunResponse
	err    error
	runCtx context.Context
}

func (w *stubWorker) ProcessPending(ctx context.Context) (*dto.WorkerRunResponse, error) {
	w.runCtx = ctx
	return w.resp, w.err
}

type apiHarness struct {
	router  *gin.Engine
	repo    repository.JobRepository
	trigger *countingTrigger
	worker  *stubWorker
}

func newAPIHarness(t *testing.T, production bool) *apiHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := repotest.New(t)
	store := objectstore.NewMemory()
	trigger := &countingTrigger{}
	worker := &stubWorker{resp: &dto.WorkerRunResponse{Results: []dto.JobResult{}}}
	deps := ServiceDependencies{
		Intake:   service.NewIntake(repo, store, trigger, true),
		Worker:   worker,
		Recovery: service.NewRecovery(repo, trigger, cache.Noop{}, true),
		Query:    service.NewQuery(repo, cache.Noop{}),
		Checker:  service.NewConsistencyChecker(repo, service.NewMetadataStore(store)),
	}

	r := gin.New()
	NewAPI(deps, 1<<20, production).Register(r)
	return &apiHarness{router: r, repo: repo, trigger: trigger, worker: worker}
}

func (h *apiHarness) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func uploadRequest(t *testing.T, data []byte, contentType string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if data != nil {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="file"; filename="meeting.wav"`)
		header.Set("Content-Type", contentType)
		part, err := mw.CreatePart(header)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func TestUploadAndStatus(t *testing.T) {
	h := newAPIHarness(t, false)

	w := h.do(uploadRequest(t, []byte("RIFF-audio"), "audio/wav", map[string]string{"speakerCount": "2", "location": "room 4"}))
	if w.Code != http.StatusCreated {
		t.Fatalf("upload = %d %s", w.Code, w.Body.String())
	}
	up := decode[dto.UploadResponse](t, w)
	if up.TranscriptionStatus != constant.JobStatusPending || !up.IsDraft {
		t.Fatalf("upload response = %+v", up)
	}
	if len(h.trigger.fired) != 1 || h.trigger.fired[0] != "upload" {
		t.Fatalf("trigger fired = %v", h.trigger.fired)
	}

	w = h.do(httptest.NewRequest(http.MethodGet, "/api/status/"+up.FileId.String(), nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d %s", w.Code, w.Body.String())
	}
	if st := decode[dto.StatusResponse](t, w); st.Status != constant.JobStatusPending || st.Progress != 0 {
		t.Fatalf("status response = %+v", st)
	}

	file, err := h.repo.FindAudioFileByID(context.Background(), up.FileId)
	if err != nil {
		t.Fatal(err)
	}
	if file.Location == nil || *file.Location != "room 4" || file.SpeakerCountHint == nil || *file.SpeakerCountHint != 2 {
		t.Fatalf("stored file = %+v", file)
	}
}

func TestUploadRejections(t *testing.T) {
	h := newAPIHarness(t, false)

	cases := []struct {
		name string
		req  *http.Request
		code int
	}{
		{"missing file", uploadRequest(t, nil, "", nil), http.StatusBadRequest},
		{"unsupported type", uploadRequest(t, []byte("x"), "text/plain", nil), http.StatusBadRequest},
		{"bad speaker count", uploadRequest(t, []byte("x"), "audio/wav", map[string]string{"speakerCount": "two"}), http.StatusBadRequest},
		{"speaker count out of range", uploadRequest(t, []byte("x"), "audio/wav", map[string]string{"speakerCount": "0"}), http.StatusBadRequest},
		{"too large", uploadRequest(t, bytes.Repeat([]byte("a"), 2<<20), "audio/wav", nil), http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if w := h.do(tc.req); w.Code != tc.code {
				t.Fatalf("code = %d, want %d (%s)", w.Code, tc.code, w.Body.String())
			}
		})
	}
	if len(h.trigger.fired) != 0 {
		t.Fatalf("rejected uploads fired %v", h.trigger.fired)
	}
}

func TestUploadDuplicate(t *testing.T) {
	h := newAPIHarness(t, false)
	data := []byte("same bytes")

	first := decode[dto.UploadResponse](t, h.do(uploadRequest(t, data, "audio/wav", nil)))

	w := h.do(uploadRequest(t, data, "audio/wav", nil))
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate = %d %s", w.Code, w.Body.String())
	}
	resp := decode[dto.ErrorResponse](t, w)
	if resp.DuplicateInfo == nil || resp.DuplicateInfo.ExistingFileId != first.FileId || resp.DuplicateInfo.OriginalName != "meeting.wav" {
		t.Fatalf("duplicate info = %+v", resp.DuplicateInfo)
	}

	w = h.do(uploadRequest(t, data, "audio/wav", map[string]string{"allowDuplicates": "true"}))
	if w.Code != http.StatusCreated {
		t.Fatalf("allowed duplicate = %d %s", w.Code, w.Body.String())
	}
	if second := decode[dto.UploadResponse](t, w); second.FileId == first.FileId {
		t.Fatal("allowed duplicate reused the existing file")
	}
}

func TestRetryAndNotFound(t *testing.T) {
	h := newAPIHarness(t, false)
	up := decode[dto.UploadResponse](t, h.do(uploadRequest(t, []byte("audio"), "audio/mpeg", nil)))

	w := h.do(httptest.NewRequest(http.MethodPost, "/api/retry/"+up.FileId.String(), nil))
	if w.Code != http.StatusOK {
		t.Fatalf("retry = %d %s", w.Code, w.Body.String())
	}
	resp := decode[dto.RetryResponse](t, w)
	if !resp.Success || resp.Job == nil || resp.Job.Status != constant.JobStatusPending || resp.File == nil {
		t.Fatalf("retry response = %+v", resp)
	}

	for _, path := range []string{
		"/api/status/" + uuid.NewString(),
		"/api/transcript/" + uuid.NewString(),
		"/api/transcript/" + up.FileId.String(),
	} {
		if w := h.do(httptest.NewRequest(http.MethodGet, path, nil)); w.Code != http.StatusNotFound {
			t.Fatalf("GET %s = %d %s", path, w.Code, w.Body.String())
		}
	}
	if w := h.do(httptest.NewRequest(http.MethodPost, "/api/retry/"+uuid.NewString(), nil)); w.Code != http.StatusNotFound {
		t.Fatalf("retry unknown = %d", w.Code)
	}
	if w := h.do(httptest.NewRequest(http.MethodGet, "/api/status/not-a-uuid", nil)); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id = %d", w.Code)
	}
}

func TestSpeakerLabelRoutes(t *testing.T) {
	h := newAPIHarness(t, false)
	up := decode[dto.UploadResponse](t, h.do(uploadRequest(t, []byte("audio"), "audio/wav", nil)))
	base := "/api/speakers/" + up.FileId.String()

	put := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPut, base, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return h.do(req)
	}
	if w := put(`{"speakerTag":"SPEAKER_00","displayName":"Alice"}`); w.Code != http.StatusOK {
		t.Fatalf("put = %d %s", w.Code, w.Body.String())
	}
	if w := put(`{"speakerTag":"SPEAKER_00"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("put without name = %d", w.Code)
	}

	w := h.do(httptest.NewRequest(http.MethodGet, base, nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Alice") {
		t.Fatalf("list = %d %s", w.Code, w.Body.String())
	}

	if w := h.do(httptest.NewRequest(http.MethodDelete, base+"/SPEAKER_00", nil)); w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d %s", w.Code, w.Body.String())
	}
	w = h.do(httptest.NewRequest(http.MethodGet, base, nil))
	if strings.Contains(w.Body.String(), "Alice") {
		t.Fatalf("label survived delete: %s", w.Body.String())
	}
}

func TestWorkerTriggerAndErrors(t *testing.T) {
	h := newAPIHarness(t, false)
	h.worker.resp = &dto.WorkerRunResponse{Processed: 1, Results: []dto.JobResult{{Status: constant.JobStatusCompleted}}}

	w := h.do(httptest.NewRequest(http.MethodGet, "/api/worker/trigger", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("trigger = %d %s", w.Code, w.Body.String())
	}
	if resp := decode[dto.WorkerRunResponse](t, w); resp.Processed != 1 {
		t.Fatalf("trigger response = %+v", resp)
	}

	h.worker.err = errors.New("db exploded at 10.0.0.3")
	w = h.do(httptest.NewRequest(http.MethodGet, "/api/worker/trigger", nil))
	if w.Code != http.StatusInternalServerError || !strings.Contains(w.Body.String(), "10.0.0.3") {
		t.Fatalf("develop error = %d %s", w.Code, w.Body.String())
	}

	prod := newAPIHarness(t, true)
	prod.worker.err = h.worker.err
	w = prod.do(httptest.NewRequest(http.MethodGet, "/api/worker/trigger", nil))
	if w.Code != http.StatusInternalServerError || strings.Contains(w.Body.String(), "10.0.0.3") {
		t.Fatalf("production error leaked detail: %d %s", w.Code, w.Body.String())
	}
}

func TestConsistencyRoute(t *testing.T) {
	h := newAPIHarness(t, false)

	w := h.do(httptest.NewRequest(http.MethodGet, "/api/diagnostics/consistency?limit=10", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("scan = %d %s", w.Code, w.Body.String())
	}
	if report := decode[dto.ConsistencyReport](t, w); report.Checked != 0 || report.InvalidCount != 0 {
		t.Fatalf("empty report = %+v", report)
	}
	if w := h.do(httptest.NewRequest(http.MethodGet, "/api/diagnostics/consistency?limit=x", nil)); w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit = %d", w.Code)
	}
}

func TestDeclaredTypeFallback(t *testing.T) {
	if got := declaredType("audio/wav", "a.mp3"); got != "audio/wav" {
		t.Fatalf("explicit type = %q", got)
	}
	if got := declaredType("application/octet-stream", "a.unknownext"); got != "application/octet-stream" {
		t.Fatalf("unknown extension = %q", got)
	}
}

func TestWorkerTriggerOutlivesCaller(t *testing.T) {
	h := newAPIHarness(t, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/worker/trigger", nil).WithContext(ctx)
	if w := h.do(req); w.Code != http.StatusOK {
		t.Fatalf("trigger = %d %s", w.Code, w.Body.String())
	}
	if h.worker.runCtx == nil || h.worker.runCtx.Err() != nil {
		t.Fatalf("worker ran on a cancelled context: %v", h.worker.runCtx)
	}
}
