package diarization

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"worker-transcribe/config"
)

var (
	ErrMissingCredentials = errors.New("diarization credentials missing or rejected")
	ErrUnsupportedFormat  = errors.New("audio format not accepted by diarization engine")
	ErrNoSpeakersDetected = errors.New("no speakers detected")
	ErrEngine             = errors.New("diarization engine failure")
)

// Turn is one speaker range as reported by the engine.
type Turn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

type Engine interface {
	// Configured reports whether the engine has credentials to attempt a call.
	Configured() bool
	Diarize(ctx context.Context, audio []byte, filename string, numSpeakers *int) ([]Turn, error)
}

// HTTPEngine calls a pyannote sidecar exposing POST /diarize.
type HTTPEngine struct {
	url        string
	token      string
	httpClient *http.Client
	maxTries   uint
	newBackOff func() backoff.BackOff
}

func NewHTTPEngine(cfg config.Diarization) *HTTPEngine {
	return &HTTPEngine{
		url:        strings.TrimRight(cfg.URL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxTries:   cfg.MaxRetries + 1,
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxInterval = 30 * time.Second
			return bo
		},
	}
}

type diarizeResponse struct {
	Segments []Turn `json:"segments"`
}

func (e *HTTPEngine) Configured() bool {
	return e.token != ""
}

func (e *HTTPEngine) Diarize(ctx context.Context, audio []byte, filename string, numSpeakers *int) ([]Turn, error) {
	if !e.Configured() {
		return nil, ErrMissingCredentials
	}

	operation := func() ([]Turn, error) {
		turns, err := e.call(ctx, audio, filename, numSpeakers)
		if err != nil && !errors.Is(err, errTransient) {
			return nil, backoff.Permanent(err)
		}
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("diarization engine call failed, retrying")
		}
		return turns, err
	}

	turns, err := backoff.Retry(ctx, operation, backoff.WithBackOff(e.newBackOff()), backoff.WithMaxTries(e.maxTries))
	if err != nil {
		if errors.Is(err, errTransient) {
			return nil, errors.Join(ErrEngine, err)
		}
		return nil, err
	}
	if len(turns) == 0 {
		return nil, ErrNoSpeakersDetected
	}
	return turns, nil
}

var errTransient = errors.New("transient")

func (e *HTTPEngine) call(ctx context.Context, audio []byte, filename string, numSpeakers *int) ([]Turn, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, err
	}
	if numSpeakers != nil {
		if err := writer.WriteField("num_speakers", strconv.Itoa(*numSpeakers)); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url+"/diarize", body)
	if err != nil {
		return nil, errors.Join(ErrEngine, err)
	}
	req.Header.Set("Authorization", "Bearer "+e.token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Join(ErrEngine, err)
		}
		return nil, errors.Join(errTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrMissingCredentials, resp.StatusCode)
	case resp.StatusCode == http.StatusUnsupportedMediaType || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnsupportedFormat, resp.StatusCode, readSnippet(resp.Body))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d: %s", errTransient, resp.StatusCode, readSnippet(resp.Body))
	default:
		return nil, fmt.Errorf("%w: status %d: %s", ErrEngine, resp.StatusCode, readSnippet(resp.Body))
	}

	var out diarizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrEngine, err)
	}
	return out.Segments, nil
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}
