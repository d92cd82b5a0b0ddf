package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-review-api/internal/models"
	"github.com/noah-isme/course-review-api/internal/repository"
	appErrors "github.com/noah-isme/course-review-api/pkg/errors"
	"github.com/noah-isme/course-review-api/pkg/events"
	"github.com/noah-isme/course-review-api/pkg/jobs"
)

type courseLocker interface {
	WithinCourse(ctx context.Context, code string, fn func(repository.CourseTx) error) error
}

type aggregateCourseReader interface {
	Codes(ctx context.Context) ([]string, error)
	AggregateSnapshots(ctx context.Context) ([]repository.AggregateSnapshot, error)
}

// AggregatorConfig tunes bulk recomputation.
type AggregatorConfig struct {
	Workers int
	Retries int
}

// RatingAggregator keeps each course's cached aggregate equal to the mean of its reviews.
type RatingAggregator struct {
	locker   courseLocker
	courses  aggregateCourseReader
	notifier *AggregateNotifier
	metrics  *MetricsService
	logger   *zap.Logger
	config   AggregatorConfig
}

// NewRatingAggregator constructs a RatingAggregator.
func NewRatingAggregator(locker courseLocker, courses aggregateCourseReader, notifier *AggregateNotifier, metrics *MetricsService, logger *zap.Logger, cfg AggregatorConfig) *RatingAggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &RatingAggregator{locker: locker, courses: courses, notifier: notifier, metrics: metrics, logger: logger, config: cfg}
}

// ComputeAggregate derives one-decimal means from rating totals. Halves round
// up and the rounding is done on the exact rational mean, so 3.65 gives 3.7.
func ComputeAggregate(t models.RatingTotals) models.CourseAggregate {
	if t.Count <= 0 {
		return models.CourseAggregate{}
	}
	return models.CourseAggregate{
		OverallRating: meanTenths(t.Overall, t.Count),
		Enjoyment:     meanTenths(t.Enjoyment, t.Count),
		Usefulness:    meanTenths(t.Usefulness, t.Count),
		Manageability: meanTenths(t.Manageability, t.Count),
		ReviewCount:   t.Count,
	}
}

func meanTenths(sum int64, count int) float64 {
	n := int64(count)
	tenths := (20*sum + n) / (2 * n)
	return float64(tenths) / 10
}

// RecomputeTx rewrites the aggregate of the course locked by tx from its
// current review set. It must run inside the same transaction as the review write.
func (a *RatingAggregator) RecomputeTx(ctx context.Context, tx repository.CourseTx) (models.CourseAggregate, error) {
	start := time.Now()
	totals, err := tx.RatingTotals(ctx)
	if err == nil {
		agg := ComputeAggregate(totals)
		if err = tx.SaveAggregate(ctx, agg); err == nil {
			a.metrics.ObserveRecompute(RecomputeSucceeded, time.Since(start))
			return agg, nil
		}
	}
	a.metrics.ObserveRecompute(RecomputeFailed, time.Since(start))
	return models.CourseAggregate{}, fmt.Errorf("recompute %s: %w", tx.Course().Code, err)
}

// Recompute locks the course and rewrites its aggregate. Running it twice
// without intervening writes leaves the same values.
func (a *RatingAggregator) Recompute(ctx context.Context, code string) (models.CourseAggregate, error) {
	var agg models.CourseAggregate
	err := a.locker.WithinCourse(ctx, code, func(tx repository.CourseTx) error {
		var err error
		agg, err = a.RecomputeTx(ctx, tx)
		return err
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.CourseAggregate{}, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		a.logger.Error("aggregate recompute failed", zap.String("course_code", code), zap.Error(err))
		return models.CourseAggregate{}, appErrors.Wrap(err, appErrors.ErrAggregateFailed.Code, appErrors.ErrAggregateFailed.Status, appErrors.ErrAggregateFailed.Message)
	}
	a.notifier.Committed(ctx, code, agg, events.CauseRecompute)
	return agg, nil
}

// RecomputeAll recomputes every course on a worker pool. Courses run in
// parallel; each is still serialized by its own row lock.
func (a *RatingAggregator) RecomputeAll(ctx context.Context) (*models.RecomputeReport, error) {
	start := time.Now()
	codes, err := a.courses.Codes(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}

	report := &models.RecomputeReport{Courses: len(codes)}
	var mu sync.Mutex

	handler := func(ctx context.Context, job jobs.Job) error {
		_, err := a.Recompute(ctx, job.Key)
		if err != nil && appErrors.Is(err, appErrors.ErrNotFound) {
			return nil
		}
		return err
	}
	queue := jobs.NewQueue("aggregate-recompute", handler, jobs.QueueConfig{
		Workers:    a.config.Workers,
		MaxRetries: a.config.Retries,
		Logger:     a.logger,
		OnFailure: func(job jobs.Job, _ error) {
			mu.Lock()
			report.Failed = append(report.Failed, job.Key)
			mu.Unlock()
		},
	})
	queue.Start(ctx)
	defer queue.Stop()

	for _, code := range codes {
		if err := queue.Enqueue(jobs.Job{ID: code, Key: code}); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "recompute interrupted")
		}
	}
	if err := queue.Wait(ctx); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "recompute interrupted")
	}

	mu.Lock()
	defer mu.Unlock()
	report.Succeeded = report.Courses - len(report.Failed)
	report.Duration = time.Since(start)
	a.logger.Info("aggregates recomputed",
		zap.Int("courses", report.Courses), zap.Int("failed", len(report.Failed)), zap.Duration("duration", report.Duration))
	return report, nil
}

// Verify compares stored aggregates with values computed from live reviews
// without writing anything. It returns the codes that differ.
func (a *RatingAggregator) Verify(ctx context.Context) (*models.RecomputeReport, error) {
	start := time.Now()
	snapshots, err := a.courses.AggregateSnapshots(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read aggregates")
	}

	report := &models.RecomputeReport{Courses: len(snapshots)}
	for _, snap := range snapshots {
		if ComputeAggregate(snap.Live) != snap.Stored {
			report.Drifted = append(report.Drifted, snap.Code)
		}
	}
	report.Succeeded = report.Courses - len(report.Drifted)
	report.Duration = time.Since(start)
	a.metrics.SetAggregateDrift(len(report.Drifted))
	if len(report.Drifted) > 0 {
		a.logger.Warn("aggregate drift detected", zap.Strings("courses", report.Drifted))
	}
	return report, nil
}
