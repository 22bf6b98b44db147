package service

import (
	"context"
	"sync"
	"testing"

	"worker-transcribe/dto"
)

type blockingWorker struct {
	mu      sync.Mutex
	runs    int
	entered chan struct{}
	release chan struct{}
}

func (w *blockingWorker) ProcessPending(ctx context.Context) (*dto.WorkerRunResponse, error) {
	w.mu.Lock()
	w.runs++
	first := w.runs == 1
	w.mu.Unlock()
	if first {
		close(w.entered)
		<-w.release
	}
	return &dto.WorkerRunResponse{}, nil
}

func TestLocalTriggerCoalescesFires(t *testing.T) {
	w := &blockingWorker{entered: make(chan struct{}), release: make(chan struct{})}
	trigger := NewLocalTrigger(w)

	reqCtx, cancel := context.WithCancel(context.Background())
	trigger.Fire(reqCtx, "upload", nil)
	<-w.entered
	cancel()

	for i := 0; i < 5; i++ {
		trigger.Fire(context.Background(), "upload", nil)
	}
	close(w.release)
	trigger.Wait()

	if w.runs != 2 {
		t.Fatalf("runs = %d, want 2 (one in flight plus one follow-up)", w.runs)
	}

	trigger.Fire(context.Background(), "retry", nil)
	trigger.Wait()
	if w.runs != 3 {
		t.Fatalf("runs = %d, want 3", w.runs)
	}
}

type capturePublisher struct {
	msgs []any
}

func (p *capturePublisher) Publish(_ context.Context, v any) error {
	p.msgs = append(p.msgs, v)
	return nil
}

func TestQueueTriggerPublishesMessage(t *testing.T) {
	pub := &capturePublisher{}
	NewQueueTrigger(pub).Fire(context.Background(), "retry", nil)

	if len(pub.msgs) != 1 {
		t.Fatalf("published %d messages", len(pub.msgs))
	}
	msg, ok := pub.msgs[0].(dto.TriggerMessage)
	if !ok || msg.Reason != "retry" || msg.RequestedAt.IsZero() {
		t.Fatalf("message = %#v", pub.msgs[0])
	}
}
