// Package main is the entry point for the voxform API server: capture
// sessions, the local SQLite store and the in-process transcription
// pipeline in one binary.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"voxform/internal/api"
	"voxform/internal/auth"
	"voxform/internal/capture"
	"voxform/internal/config"
	"voxform/internal/maui"
	"voxform/internal/model"
	"voxform/internal/pipeline"
	"voxform/internal/store"
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

	st, err := store.OpenSQLite(cfg.SQLitePath)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer st.Close()

	form, err := pipeline.LoadFormDefinition(cfg.FormSchemaPath)
	if err != nil {
		logger.Fatal("load form schema", zap.Error(err))
	}

	var (
		proc pipeline.Processor
		mc   *maui.Client
	)
	if cfg.MauiBaseURL != "" {
		mc = maui.NewClient(cfg.MauiBaseURL, cfg.GraphQLEndpoint, cfg.RequestTimeout, logger)
		proc = mc
	} else {
		proc = maui.NewMock(logger)
	}

	var authn auth.Authenticator
	if cfg.AuthBaseURL != "" {
		authn = auth.NewClient(cfg.AuthBaseURL, cfg.RequestTimeout, logger)
	} else {
		authn = auth.NewMock(logger)
	}

	creds := pipeline.NewSettingsCredentials(st, cfg.MauiAPIKey, "")
	orch := pipeline.New(st, proc, creds, form, cfg.Language, logger)
	dispatcher := pipeline.NewLocalDispatcher(orch.TranscribeOnce, logger)
	orch.SetDispatcher(dispatcher)

	controller := capture.NewController(st, capture.VirtualDevice{}, logger,
		capture.WithOnSaved(func(rec model.Recording) {
			_ = dispatcher.Dispatch(context.Background(), rec.ID)
		}))

	// Recordings left pending by a previous run pick up where they left off.
	if err := orch.SyncPending(ctx); err != nil {
		logger.Warn("sync pending recordings", zap.Error(err))
	}

	srv := api.New(cfg, controller, orch, st, st, authn, mc, logger)
	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped", zap.Error(err))
		dispatcher.Wait()
		os.Exit(1)
	}
	dispatcher.Wait()
}
