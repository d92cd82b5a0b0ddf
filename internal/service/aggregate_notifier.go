package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-review-api/internal/models"
	"github.com/noah-isme/course-review-api/pkg/events"
)

// AggregateNotifier runs the post-commit side effects of an aggregate change.
// Nothing it does can fail the mutation that triggered it.
type AggregateNotifier struct {
	cache     *CacheService
	publisher events.Publisher
	subject   string
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
}

// NewAggregateNotifier constructs a notifier. A nil publisher drops events.
func NewAggregateNotifier(cache *CacheService, publisher events.Publisher, subject string, metrics *MetricsService, logger *zap.Logger) *AggregateNotifier {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if subject == "" {
		subject = "course.aggregate.updated"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AggregateNotifier{cache: cache, publisher: publisher, subject: subject, metrics: metrics, logger: logger, now: time.Now}
}

// Committed invalidates cached reads of the course and announces its new aggregate.
func (n *AggregateNotifier) Committed(ctx context.Context, code string, agg models.CourseAggregate, cause string) {
	if n == nil {
		return
	}
	n.cache.InvalidateCourse(ctx, code)

	evt := events.AggregateUpdated{
		CourseCode:    code,
		OverallRating: agg.OverallRating,
		Enjoyment:     agg.Enjoyment,
		Usefulness:    agg.Usefulness,
		Manageability: agg.Manageability,
		ReviewCount:   agg.ReviewCount,
		Cause:         cause,
		OccurredAt:    n.now().UTC(),
	}
	if err := n.publisher.Publish(ctx, n.subject, evt); err != nil {
		n.metrics.IncEventFailure()
		n.logger.Warn("aggregate event not published",
			zap.String("course_code", code), zap.String("cause", cause), zap.Error(err))
	}
}
