package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"worker-transcribe/config"
	"worker-transcribe/constant"
	"worker-transcribe/handler"
	"worker-transcribe/pkg/rabbitmq"
	"worker-transcribe/service"
)

func RunHttp(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.IsProduction()).Str("trigger", string(cfg.Trigger.Mode)).Send()
	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	c, err := build(ctx, cfg)
	if err != nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Msg("build")
	}
	defer c.close(ctx)

	var (
		trigger service.Trigger
		local   *service.LocalTrigger
	)
	switch cfg.Trigger.Mode {
	case constant.TriggerModeAMQP:
		conn, topology, err := dialQueue(ctx, cfg)
		if err != nil {
			zerolog.Ctx(ctx).Fatal().Err(err).Msg("NewRabbitMQConn")
		}
		defer conn.Close()
		publisher, err := rabbitmq.NewPublisher(conn, topology)
		if err != nil {
			zerolog.Ctx(ctx).Fatal().Err(err).Msg("NewPublisher")
		}
		trigger = service.NewQueueTrigger(publisher)
	default:
		local = service.NewLocalTrigger(c.worker)
		trigger = local
	}

	api := handler.NewAPI(c.dependencies(trigger, cfg.Diarization.Enabled), cfg.Server.MaxUploadMB<<20, cfg.App.IsProduction())
	r := NewRouter(ctx, api)

	srv := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("start http server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
		}
	}()

	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}
	if local != nil {
		local.Wait()
	}

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
}

// NewRouter builds the gin engine. Every request context carries the process logger.
func NewRouter(ctx context.Context, api *handler.API) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(zerolog.Ctx(ctx)))
	addHealth(r)
	api.Register(r)
	return r
}

func requestLogger(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context()))
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

func addHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})
}
