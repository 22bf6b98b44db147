package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"worker-transcribe/dto"
	"worker-transcribe/pkg/rabbitmq"
)

// Trigger asks for a worker run without waiting for it.
type Trigger interface {
	Fire(ctx context.Context, reason string, fileID *uuid.UUID)
}

// LocalTrigger runs the worker in-process. At most one run is in flight; fires that
// arrive during a run collapse into a single follow-up run.
type LocalTrigger struct {
	worker Worker

	mu      sync.Mutex
	running bool
	rerun   bool
	wg      sync.WaitGroup
}

func NewLocalTrigger(worker Worker) *LocalTrigger {
	return &LocalTrigger{worker: worker}
}

func (t *LocalTrigger) Fire(ctx context.Context, reason string, fileID *uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		t.rerun = true
		return
	}
	t.running = true
	t.wg.Add(1)

	runCtx := context.WithoutCancel(ctx)
	zerolog.Ctx(runCtx).Debug().Str("reason", reason).Msg("worker triggered")
	go t.loop(runCtx)
}

func (t *LocalTrigger) loop(ctx context.Context) {
	defer t.wg.Done()
	for {
		if _, err := t.worker.ProcessPending(ctx); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("triggered worker run failed")
		}

		t.mu.Lock()
		if !t.rerun {
			t.running = false
			t.mu.Unlock()
			return
		}
		t.rerun = false
		t.mu.Unlock()
	}
}

// Wait blocks until no run is in flight.
func (t *LocalTrigger) Wait() {
	t.wg.Wait()
}

// QueueTrigger hands the run to whichever worker process consumes the trigger queue.
type QueueTrigger struct {
	publisher rabbitmq.Publisher
}

func NewQueueTrigger(publisher rabbitmq.Publisher) *QueueTrigger {
	return &QueueTrigger{publisher: publisher}
}

func (t *QueueTrigger) Fire(ctx context.Context, reason string, fileID *uuid.UUID) {
	msg := dto.TriggerMessage{
		Reason:      reason,
		FileId:      fileID,
		RequestedAt: time.Now().UTC(),
	}
	if err := t.publisher.Publish(ctx, msg); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("reason", reason).Msg("failed to publish worker trigger")
	}
}
