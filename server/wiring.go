package server

import (
	"context"
	"fmt"
	"os"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"worker-transcribe/config"
	"worker-transcribe/handler"
	"worker-transcribe/pkg/cache"
	"worker-transcribe/pkg/diarization"
	"worker-transcribe/pkg/objectstore"
	"worker-transcribe/pkg/rabbitmq"
	"worker-transcribe/pkg/speech"
	"worker-transcribe/repository"
	"worker-transcribe/service"
)

type components struct {
	repo     repository.JobRepository
	store    objectstore.Store
	cache    cache.TranscriptCache
	metadata service.MetadataStore
	worker   service.Worker
	closers  []func() error
}

func (c *components) close(ctx context.Context) {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("close")
		}
	}
}

// build opens the database, object store and cache and assembles the worker.
// Triggers are wired by the caller since they depend on the process kind.
func build(ctx context.Context, cfg *config.Config) (*components, error) {
	c := &components{}

	sqlDB, err := config.OpenDB(cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	c.closers = append(c.closers, sqlDB.Close)

	db, err := repository.OpenPostgres(sqlDB, cfg.App.IsDevelop())
	if err != nil {
		c.close(ctx)
		return nil, fmt.Errorf("gorm: %w", err)
	}
	if err := repository.Migrate(db); err != nil {
		c.close(ctx)
		return nil, fmt.Errorf("migrate: %w", err)
	}
	c.repo = repository.NewRepo(db)

	minioClient, err := config.NewMinioClient(cfg.Storage)
	if err != nil {
		c.close(ctx)
		return nil, fmt.Errorf("minio: %w", err)
	}
	store := objectstore.NewMinioStore(minioClient, cfg.Storage.Bucket)
	if err := store.EnsureBucket(ctx); err != nil {
		c.close(ctx)
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	c.store = store
	c.metadata = service.NewMetadataStore(store)

	redisClient, err := config.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		// Transcript caching is optional.
		zerolog.Ctx(ctx).Warn().Err(err).Msg("redis unavailable, transcript cache disabled")
	}
	if redisClient != nil {
		c.cache = cache.NewRedis(redisClient, cfg.Redis.TTL)
		c.closers = append(c.closers, redisClient.Close)
	} else {
		c.cache = cache.Noop{}
	}

	var diarizer service.DiarizationStage
	if cfg.Diarization.Enabled {
		diarizer = service.NewDiarizer(
			diarization.NewHTTPEngine(cfg.Diarization),
			service.NewFFmpegConverter(cfg.Diarization.FFmpegPath),
			c.metadata,
			c.repo,
		)
	}
	c.worker = service.NewWorker(c.repo, c.store, speech.NewOpenAIEngine(cfg.Speech), diarizer, c.cache, cfg.Worker.BatchSize)

	return c, nil
}

func (c *components) dependencies(trigger service.Trigger, diarizationEnabled bool) handler.ServiceDependencies {
	return handler.ServiceDependencies{
		Intake:   service.NewIntake(c.repo, c.store, trigger, diarizationEnabled),
		Worker:   c.worker,
		Recovery: service.NewRecovery(c.repo, trigger, c.cache, diarizationEnabled),
		Query:    service.NewQuery(c.repo, c.cache),
		Checker:  service.NewConsistencyChecker(c.repo, c.metadata),
	}
}

func dialQueue(ctx context.Context, cfg *config.Config) (*amqp.Connection, rabbitmq.Topology, error) {
	conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
	if err != nil {
		return nil, rabbitmq.Topology{}, fmt.Errorf("rabbitmq: %w", err)
	}
	return conn, rabbitmq.TopologyFromConfig(cfg.Queue), nil
}

func setupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.IsDevelop() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	return logger.WithContext(context.Background())
}
