package main

import (
	"fmt"
	"log"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/noah-isme/course-review-api/internal/repository"
	"github.com/noah-isme/course-review-api/internal/service"
	"github.com/noah-isme/course-review-api/pkg/cache"
	"github.com/noah-isme/course-review-api/pkg/config"
	"github.com/noah-isme/course-review-api/pkg/database"
	"github.com/noah-isme/course-review-api/pkg/events"
	"github.com/noah-isme/course-review-api/pkg/logger"
)

func main() {
	env := &runtime{}
	app := &cli.App{
		Name:  "coursectl",
		Usage: "administer the course catalogue and rating aggregates",
		Before: func(c *cli.Context) error {
			return env.init()
		},
		After: func(c *cli.Context) error {
			env.close()
			return nil
		},
		Commands: []*cli.Command{
			migrateCommand(env),
			importCommand(env),
			deleteCommand(env),
			sessionsCommand(env),
			recomputeCommand(env),
			tokenCommand(env),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// runtime opens shared dependencies lazily so commands that need no database stay offline.
type runtime struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *sqlx.DB
	cache     *service.CacheService
	cacheRepo *repository.CacheRepository
	publisher events.Publisher
}

func (r *runtime) init() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	r.cfg = cfg
	r.logger = logr.Named("coursectl")
	return nil
}

func (r *runtime) database() (*sqlx.DB, error) {
	if r.db != nil {
		return r.db, nil
	}
	db, err := database.NewPostgres(r.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	r.db = db
	return db, nil
}

// cacheService returns the shared cache so administrative writes invalidate what the API serves.
func (r *runtime) cacheService() *service.CacheService {
	if r.cache != nil {
		return r.cache
	}
	var repo service.CacheRepository
	if r.cfg.Cache.Enabled {
		client, err := cache.NewRedis(r.cfg.Redis)
		if err != nil {
			r.logger.Warn("redis unavailable, cache will not be invalidated", zap.Error(err))
		} else {
			r.cacheRepo = repository.NewCacheRepository(client, r.cfg.ServiceName, r.logger)
			repo = r.cacheRepo
		}
	}
	r.cache = service.NewCacheService(repo, nil, r.cfg.Cache.TTL, r.logger, r.cfg.Cache.Enabled)
	return r.cache
}

func (r *runtime) events() events.Publisher {
	if r.publisher != nil {
		return r.publisher
	}
	r.publisher = events.NopPublisher{}
	if r.cfg.Events.Enabled {
		nats, err := events.NewNATSPublisher(r.cfg.Events.NATSURL, "coursectl", r.logger)
		if err != nil {
			r.logger.Warn("nats unavailable, aggregate events disabled", zap.Error(err))
		} else {
			r.publisher = nats
		}
	}
	return r.publisher
}

func (r *runtime) aggregator() (*service.RatingAggregator, error) {
	db, err := r.database()
	if err != nil {
		return nil, err
	}
	notifier := service.NewAggregateNotifier(r.cacheService(), r.events(), r.cfg.Events.Subject, nil, r.logger)
	return service.NewRatingAggregator(repository.NewCourseLocker(db), repository.NewCourseRepository(db), notifier, nil, r.logger, service.AggregatorConfig{
		Workers: r.cfg.Recompute.Workers,
		Retries: r.cfg.Recompute.Retries,
	}), nil
}

func (r *runtime) close() {
	if r.publisher != nil {
		_ = r.publisher.Close()
	}
	if r.cacheRepo != nil {
		_ = r.cacheRepo.Close()
	}
	if r.db != nil {
		_ = r.db.Close()
	}
	if r.logger != nil {
		_ = r.logger.Sync()
	}
}
