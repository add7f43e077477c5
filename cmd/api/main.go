package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"leavn/api/internal/app"
	"leavn/api/internal/config"
	"leavn/api/internal/explorer"
	"leavn/api/internal/logging"
	"leavn/api/internal/metrics"
	"leavn/api/internal/search"
	"leavn/api/internal/session"
	"leavn/api/internal/store"
	"leavn/api/internal/tags"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	policy, err := tags.ParseRemovalPolicy(cfg.TagRemovalPolicy)
	if err != nil {
		logger.Fatal("invalid tag removal policy", zap.Error(err))
	}
	static, err := app.ExplorerStatic(cfg)
	if err != nil {
		logger.Fatal("explorer config failed", zap.Error(err))
	}
	source, err := app.ExplorerSource(cfg)
	if err != nil {
		logger.Fatal("explorer metadata source failed", zap.Error(err))
	}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}
	dataStore := store.NewSQLStore(db)

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger.Named("search"))
		defer meiliClient.Close()
	}
	var backend search.Backend
	if meiliClient != nil {
		backend = meiliClient
	}
	searchService := search.NewService(backend, dataStore, logger.Named("search"))

	collector := metrics.NewCollector("leavn")
	tagService := tags.NewService(dataStore, tags.Options{
		Index:    searchService,
		Policy:   policy,
		Logger:   logger.Named("tags"),
		Recorder: collector,
	})
	builder := explorer.NewBuilder(source, static, logger.Named("explorer"), collector)

	deps := app.Deps{
		Users:    dataStore,
		Sessions: dataStore,
		Tags:     tagService,
		Explorer: builder,
		Static:   static,
		Metrics:  collector,
		Logger:   logger,
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		logger.Info("using redis for refresh sessions")
		redisStore, err := session.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		defer redisStore.Close()
		deps.Sessions = redisStore
	} else {
		logger.Info("using database for refresh sessions", zap.String("dialect", db.Dialect().String()))
	}
	service := app.NewService(cfg, deps)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigins())
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("leavn api listening",
			zap.String("addr", cfg.Addr),
			zap.String("removal_policy", string(policy)),
			zap.Bool("search_backend", meiliClient != nil),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
