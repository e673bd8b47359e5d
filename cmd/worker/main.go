// Package main runs the asynq transcription worker against the Postgres
// store, for deployments that scale transcription out of the API process.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"voxform/internal/blob"
	"voxform/internal/config"
	"voxform/internal/database"
	"voxform/internal/maui"
	"voxform/internal/pipeline"
	"voxform/internal/repository"
	"voxform/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if cfg.DatabaseURL == "" {
		logger.Fatal("VOXFORM_DATABASE_URL is required for the worker")
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("connect database", zap.Error(err))
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal("ensure schema", zap.Error(err))
	}

	var blobs blob.Store
	if cfg.S3Endpoint != "" {
		s3, err := blob.NewS3Store(cfg)
		if err != nil {
			logger.Fatal("init blob storage", zap.Error(err))
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			logger.Fatal("ensure bucket", zap.Error(err))
		}
		blobs = s3
	} else {
		fs, err := blob.NewFSStore(filepath.Join(cfg.DataDir, "audio"))
		if err != nil {
			logger.Fatal("init blob storage", zap.Error(err))
		}
		blobs = fs
	}
	repo := repository.NewRecordingRepository(pool, blobs)

	form, err := pipeline.LoadFormDefinition(cfg.FormSchemaPath)
	if err != nil {
		logger.Fatal("load form schema", zap.Error(err))
	}
	var proc pipeline.Processor
	if cfg.MauiBaseURL != "" {
		proc = maui.NewClient(cfg.MauiBaseURL, cfg.GraphQLEndpoint, cfg.RequestTimeout, logger)
	} else {
		proc = maui.NewMock(logger)
	}
	creds := pipeline.NewSettingsCredentials(repo, cfg.MauiAPIKey, "")
	orch := pipeline.New(repo, proc, creds, form, cfg.Language, logger)

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, asynq.Config{
		Concurrency: cfg.Workers,
	})
	processor := worker.NewProcessor(orch, logger)

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	if err := server.Run(processor.Handler()); err != nil {
		logger.Error("worker stopped", zap.Error(err))
		os.Exit(1)
	}
}
