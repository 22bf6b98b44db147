package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"worker-transcribe/dto"
)

// TranscriptCache holds rendered transcript responses keyed by file.
type TranscriptCache interface {
	Get(ctx context.Context, fileID uuid.UUID) (*dto.TranscriptResponse, bool, error)
	Set(ctx context.Context, fileID uuid.UUID, transcript *dto.TranscriptResponse) error
	Invalidate(ctx context.Context, fileID uuid.UUID) error
}

type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func key(fileID uuid.UUID) string {
	return fmt.Sprintf("transcript:%s", fileID)
}

func (r *Redis) Get(ctx context.Context, fileID uuid.UUID) (*dto.TranscriptResponse, bool, error) {
	data, err := r.client.Get(ctx, key(fileID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var transcript dto.TranscriptResponse
	if err := json.Unmarshal(data, &transcript); err != nil {
		return nil, false, fmt.Errorf("decode cached transcript %s: %w", fileID, err)
	}
	return &transcript, true, nil
}

func (r *Redis) Set(ctx context.Context, fileID uuid.UUID, transcript *dto.TranscriptResponse) error {
	data, err := json.Marshal(transcript)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key(fileID), data, r.ttl).Err()
}

func (r *Redis) Invalidate(ctx context.Context, fileID uuid.UUID) error {
	return r.client.Del(ctx, key(fileID)).Err()
}

// Noop is used when no Redis address is configured.
type Noop struct{}

func (Noop) Get(context.Context, uuid.UUID) (*dto.TranscriptResponse, bool, error) {
	return nil, false, nil
}

func (Noop) Set(context.Context, uuid.UUID, *dto.TranscriptResponse) error { return nil }

func (Noop) Invalidate(context.Context, uuid.UUID) error { return nil }
