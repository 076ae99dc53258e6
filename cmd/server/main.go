package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lusia-studio/quiz-engine/internal/cache"
	"github.com/lusia-studio/quiz-engine/internal/config"
	"github.com/lusia-studio/quiz-engine/internal/handlers"
	"github.com/lusia-studio/quiz-engine/internal/repositories"
	"github.com/lusia-studio/quiz-engine/internal/repositories/memory"
	"github.com/lusia-studio/quiz-engine/internal/repositories/postgres"
	"github.com/lusia-studio/quiz-engine/internal/services"
	"github.com/lusia-studio/quiz-engine/internal/utils"
	"github.com/lusia-studio/quiz-engine/pkg"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		os.Exit(1)
	}

	var logger utils.Logger
	if cfg.Environment == "production" {
		logger = utils.NewDefaultLogger()
	} else {
		logger = utils.NewDevelopmentLogger()
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger utils.Logger) error {
	// Storage: Postgres when configured, in-memory otherwise.
	var repo repositories.Repository
	if cfg.DatabaseURL != "" {
		db, err := pkg.InitDatabase(cfg)
		if err != nil {
			return err
		}
		if err := postgres.Migrate(db); err != nil {
			return err
		}
		repo = postgres.NewRepository(db)
	} else {
		logger.Warn("no database configured, attempts are kept in memory")
		repo = memory.NewRepository()
	}

	cacheService := cache.NewNoopCache()
	if cfg.RedisURL != "" {
		redisClient, err := pkg.NewRedisClient(cfg)
		if err != nil {
			logger.Warn("redis unavailable, running without quiz cache", "error", err)
		} else {
			cacheService = cache.NewRedisCache(redisClient, logger)
			defer redisClient.Close()
		}
	}

	publisher, err := cfg.Events.CreateEventPublisher(utils.ToSlogLogger(logger))
	if err != nil {
		return err
	}
	defer publisher.Close()

	validator := utils.NewValidator()

	quizService := services.NewQuizService(repo.Quiz(), cacheService, logger)
	attemptService := services.NewAttemptService(repo, quizService, publisher, validator, logger)
	sessionManager := services.NewSessionManager(repo.Attempt(), quizService, publisher, logger, cfg.AutosaveDebounce, cfg.SavedIndicatorTTL)
	exportService := services.NewExportService(attemptService, quizService, logger)
	defer sessionManager.Shutdown()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(utils.LoggerMiddleware(logger), gin.Recovery())

	handlerManager := handlers.NewHandlerManager(attemptService, sessionManager, exportService, validator, logger)
	handlerManager.SetupRoutes(router)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("starting quiz engine", "port", cfg.Port, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("failed to start server", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
