package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/course-review-api/internal/handler"
	"github.com/noah-isme/course-review-api/internal/repository"
	"github.com/noah-isme/course-review-api/internal/repository/migrations"
	"github.com/noah-isme/course-review-api/internal/router"
	"github.com/noah-isme/course-review-api/internal/service"
	"github.com/noah-isme/course-review-api/pkg/cache"
	"github.com/noah-isme/course-review-api/pkg/config"
	"github.com/noah-isme/course-review-api/pkg/database"
	"github.com/noah-isme/course-review-api/pkg/events"
	"github.com/noah-isme/course-review-api/pkg/logger"
	"github.com/noah-isme/course-review-api/pkg/storage"
)

// @title Course Review API
// @version 1.0.0
// @description Course catalogue, student reviews and cached rating aggregates
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("database connection failed", "error", err)
	}
	defer db.Close()

	applied, err := migrations.NewMigrator(db, logr).Up(ctx)
	if err != nil {
		logr.Sugar().Fatalw("migrations failed", "error", err)
	}
	logr.Info("schema up to date", zap.Strings("applied", applied))

	metrics := service.NewMetricsService()

	var cacheRepo service.CacheRepository
	if cfg.Cache.Enabled {
		client, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, serving without cache", zap.Error(err))
		} else {
			redisRepo := repository.NewCacheRepository(client, cfg.ServiceName, logr)
			defer redisRepo.Close() //nolint:errcheck
			cacheRepo = redisRepo
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.TTL, logr, cfg.Cache.Enabled)

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Events.Enabled {
		nats, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.ServiceName, logr)
		if err != nil {
			logr.Warn("nats unavailable, aggregate events disabled", zap.Error(err))
		} else {
			publisher = nats
		}
	}
	defer publisher.Close() //nolint:errcheck

	courseRepo := repository.NewCourseRepository(db)
	reviewRepo := repository.NewReviewRepository(db)
	userRepo := repository.NewUserRepository(db)
	locker := repository.NewCourseLocker(db)
	validate := validator.New()

	notifier := service.NewAggregateNotifier(cacheSvc, publisher, cfg.Events.Subject, metrics, logr)
	aggregator := service.NewRatingAggregator(locker, courseRepo, notifier, metrics, logr, service.AggregatorConfig{
		Workers: cfg.Recompute.Workers,
		Retries: cfg.Recompute.Retries,
	})
	courseSvc := service.NewCourseService(courseRepo, reviewRepo, cacheSvc, logr, service.CourseServiceConfig{
		PageSize:    cfg.Courses.PageSize,
		MaxPageSize: cfg.Courses.MaxPageSize,
	})
	reviewSvc := service.NewReviewService(locker, reviewRepo, aggregator, notifier, validate, logr)
	accountSvc := service.NewAccountService(locker, reviewRepo, userRepo, aggregator, notifier, logr)
	tokens := service.NewTokenService(service.TokenConfig{
		Secret: cfg.JWT.Secret,
		Issuer: cfg.JWT.Issuer,
		Expiry: cfg.JWT.Expiration,
	})

	adminHandler := handler.NewAdminHandler(aggregator, nil)
	if cfg.Exports.Enabled {
		exportSvc, err := newExportService(cfg, courseRepo, logr)
		if err != nil {
			logr.Sugar().Fatalw("exports init failed", "error", err)
		}
		adminHandler = handler.NewAdminHandler(aggregator, exportSvc)
		go cleanupExports(ctx, exportSvc, logr)
	}

	engine := router.New(router.Options{
		Env:            cfg.Env,
		APIPrefix:      cfg.APIPrefix,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Tokens:         tokens,
		Metrics:        metrics,
		Logger:         logr,
	}, router.Handlers{
		Courses:  handler.NewCourseHandler(courseSvc),
		Reviews:  handler.NewReviewHandler(reviewSvc),
		Accounts: handler.NewAccountHandler(accountSvc),
		Admin:    adminHandler,
		Metrics:  handler.NewMetricsHandler(metrics, db),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	logr.Info("server stopped")
}

func newExportService(cfg *config.Config, courses *repository.CourseRepository, logr *zap.Logger) (*service.ExportService, error) {
	files, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		return nil, err
	}
	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
	return service.NewExportService(courses, files, signer, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Exports.SignedURLTTL,
	}, logr), nil
}

func cleanupExports(ctx context.Context, exports *service.ExportService, logr *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := exports.Cleanup(0); err != nil {
				logr.Warn("export cleanup failed", zap.Error(err))
			}
		}
	}
}
