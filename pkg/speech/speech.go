package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"worker-transcribe/config"
)

type Segment struct {
	Start float64
	End   float64
	Text  string
}

type Result struct {
	Language string
	Duration float64
	Segments []Segment
}

type Engine interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (*Result, error)
}

// OpenAIEngine talks to any OpenAI-compatible /audio/transcriptions endpoint.
type OpenAIEngine struct {
	client     *openai.Client
	model      string
	language   string
	maxTries   uint
	timeout    time.Duration
	newBackOff func() backoff.BackOff
}

func NewOpenAIEngine(cfg config.Speech) *OpenAIEngine {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIEngine{
		client:   openai.NewClientWithConfig(clientCfg),
		model:    cfg.Model,
		language: cfg.Language,
		maxTries: cfg.MaxRetries + 1,
		timeout:  cfg.Timeout,
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxInterval = 30 * time.Second
			return bo
		},
	}
}

func (e *OpenAIEngine) Transcribe(ctx context.Context, audio []byte, filename string) (*Result, error) {
	operation := func() (openai.AudioResponse, error) {
		callCtx := ctx
		if e.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, e.timeout)
			defer cancel()
		}
		resp, err := e.client.CreateTranscription(callCtx, openai.AudioRequest{
			Model:    e.model,
			FilePath: filename,
			Reader:   bytes.NewReader(audio),
			Language: e.language,
			Format:   openai.AudioResponseFormatVerboseJSON,
		})
		if err != nil {
			if !retryable(err) {
				return resp, backoff.Permanent(err)
			}
			zerolog.Ctx(ctx).Warn().Err(err).Msg("speech engine call failed, retrying")
			return resp, err
		}
		return resp, nil
	}

	resp, err := backoff.Retry(ctx, operation, backoff.WithBackOff(e.newBackOff()), backoff.WithMaxTries(e.maxTries))
	if err != nil {
		return nil, fmt.Errorf("speech engine: %w", err)
	}

	result := &Result{
		Language: resp.Language,
		Duration: resp.Duration,
		Segments: make([]Segment, 0, len(resp.Segments)),
	}
	for _, s := range resp.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		result.Segments = append(result.Segments, Segment{Start: s.Start, End: s.End, Text: text})
	}
	return result, nil
}

// retryable reports whether err is a transport failure, a rate limit or a 5xx.
func retryable(err error) bool {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status == 0 {
		return !errors.Is(err, context.Canceled)
	}
	return status == http.StatusTooManyRequests || status >= 500
}
