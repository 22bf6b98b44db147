package speech

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v5"
	"worker-transcribe/config"
)

const verboseJSON = `{
  "task": "transcribe",
  "language": "english",
  "duration": 4.2,
  "text": "hello there. general kenobi",
  "segments": [
    {"id": 0, "start": 0.0, "end": 1.8, "text": " hello there."},
    {"id": 1, "start": 1.8, "end": 2.0, "text": "   "},
    {"id": 2, "start": 2.0, "end": 4.2, "text": " general kenobi"}
  ]
}`

func newTestEngine(t *testing.T, handler http.HandlerFunc) *OpenAIEngine {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	e := NewOpenAIEngine(config.Speech{
		APIKey:     "test",
		BaseURL:    srv.URL + "/v1",
		Model:      "whisper-1",
		MaxRetries: 2,
	})
	e.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return e
}

func TestTranscribeParsesSegments(t *testing.T) {
	e := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("multipart: %v", err)
		}
		if got := r.FormValue("response_format"); got != "verbose_json" {
			t.Errorf("response_format = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(verboseJSON))
	})

	res, err := e.Transcribe(context.Background(), []byte("audio"), "a.mp3")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Language != "english" || res.Duration != 4.2 {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Segments) != 2 || res.Segments[0].Text != "hello there." || res.Segments[1].Start != 2.0 {
		t.Fatalf("segments = %+v", res.Segments)
	}
}

func TestTranscribeRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	e := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(verboseJSON))
	})

	if _, err := e.Transcribe(context.Background(), []byte("audio"), "a.wav"); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestTranscribeClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	e := newTestEngine(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad audio","type":"invalid_request_error"}}`))
	})

	if _, err := e.Transcribe(context.Background(), []byte("audio"), "a.wav"); err == nil {
		t.Fatal("expected error")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}
