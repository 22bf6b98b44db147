package server

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"worker-transcribe/config"
	"worker-transcribe/handler"
	"worker-transcribe/pkg/rabbitmq"
	"worker-transcribe/service"
)

// RunWorker consumes trigger messages and, when a poll interval is set, also runs a
// batch on every tick so jobs left behind by a lost trigger are still picked up.
func RunWorker(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c, err := build(ctx, cfg)
	if err != nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Msg("build")
	}
	defer c.close(ctx)

	conn, topology, err := dialQueue(ctx, cfg)
	if err != nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Msg("NewRabbitMQConn")
	}
	defer conn.Close()

	publisher, err := rabbitmq.NewPublisher(conn, topology)
	if err != nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Msg("NewPublisher")
	}
	deps := c.dependencies(service.NewQueueTrigger(publisher), cfg.Diarization.Enabled)

	triggerConsumer := rabbitmq.NewConsumer(conn, topology, cfg.Server.Workers, handler.TriggerHandler)
	go func() {
		if err := triggerConsumer.Consume(ctx, deps); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("trigger consumer error")
			cancel()
		}
	}()

	if cfg.Worker.PollInterval > 0 {
		go poll(ctx, c.worker, cfg.Worker.PollInterval)
	}

	zerolog.Ctx(ctx).Info().Str("queue", topology.Queue).Int("workers", cfg.Server.Workers).Msg("worker started")
	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("worker shutdown")
}

func poll(ctx context.Context, worker service.Worker, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resp, err := worker.ProcessPending(ctx)
			if err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Msg("scheduled worker run failed")
				continue
			}
			if resp.Processed > 0 {
				zerolog.Ctx(ctx).Info().Int("processed", resp.Processed).Msg("scheduled worker run")
			}
		}
	}
}
