package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/course-review-api/internal/models"
	"github.com/noah-isme/course-review-api/internal/repository"
	appErrors "github.com/noah-isme/course-review-api/pkg/errors"
	"github.com/noah-isme/course-review-api/pkg/events"
)

type reviewReader interface {
	FindByID(ctx context.Context, id string) (*models.Review, error)
	FindByCourseAndAuthor(ctx context.Context, courseCode, authorID string) (*models.Review, error)
}

// recomputeFailure marks an error raised while rewriting the aggregate so the
// rolled back mutation surfaces as AGGREGATE_FAILED.
type recomputeFailure struct {
	err error
}

func (e *recomputeFailure) Error() string { return e.err.Error() }
func (e *recomputeFailure) Unwrap() error { return e.err }

// ReviewService implements review mutations. Each mutation and the
// recomputation of its course aggregate commit or roll back together.
type ReviewService struct {
	locker     courseLocker
	reviews    reviewReader
	aggregator *RatingAggregator
	notifier   *AggregateNotifier
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewReviewService constructs a ReviewService.
func NewReviewService(locker courseLocker, reviews reviewReader, aggregator *RatingAggregator, notifier *AggregateNotifier, validate *validator.Validate, logger *zap.Logger) *ReviewService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReviewService{
		locker:     locker,
		reviews:    reviews,
		aggregator: aggregator,
		notifier:   notifier,
		validator:  validate,
		logger:     logger,
	}
}

// Create stores the author's review of a course and refreshes the course aggregate.
func (s *ReviewService) Create(ctx context.Context, courseCode string, author models.Author, req models.ReviewRequest) (*models.Review, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload")
	}
	if author.ID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	code := normalizeCourseCode(courseCode)

	review := &models.Review{
		AuthorID:   author.ID,
		AuthorName: author.Username,
	}
	applyReviewRequest(review, req)

	var agg models.CourseAggregate
	err := s.locker.WithinCourse(ctx, code, func(tx repository.CourseTx) error {
		if err := tx.EnsureAuthor(ctx, author.ID, author.Username); err != nil {
			return err
		}
		if _, err := tx.FindReviewByAuthor(ctx, author.ID); err == nil {
			return repository.ErrDuplicate
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if err := tx.InsertReview(ctx, review); err != nil {
			return err
		}
		var err error
		if agg, err = s.aggregator.RecomputeTx(ctx, tx); err != nil {
			return &recomputeFailure{err: err}
		}
		return nil
	})
	if err != nil {
		return nil, s.mutationError(err, code, review.ID, "course not found")
	}

	s.notifier.Committed(ctx, code, agg, events.CauseCreated)
	return review, nil
}

// Update replaces the mutable fields of the author's review.
func (s *ReviewService) Update(ctx context.Context, reviewID string, author models.Author, req models.ReviewRequest) (*models.Review, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload")
	}
	current, err := s.ownedReview(ctx, reviewID, author)
	if err != nil {
		return nil, err
	}

	var (
		updated *models.Review
		agg     models.CourseAggregate
	)
	err = s.locker.WithinCourse(ctx, current.CourseCode, func(tx repository.CourseTx) error {
		locked, err := lockOwnedReview(ctx, tx, reviewID, author)
		if err != nil {
			return err
		}
		applyReviewRequest(locked, req)
		if err := tx.UpdateReview(ctx, locked); err != nil {
			return err
		}
		if agg, err = s.aggregator.RecomputeTx(ctx, tx); err != nil {
			return &recomputeFailure{err: err}
		}
		updated = locked
		return nil
	})
	if err != nil {
		return nil, s.mutationError(err, current.CourseCode, reviewID, "review not found")
	}

	s.notifier.Committed(ctx, current.CourseCode, agg, events.CauseUpdated)
	return updated, nil
}

// Delete removes the author's review.
func (s *ReviewService) Delete(ctx context.Context, reviewID string, author models.Author) error {
	current, err := s.ownedReview(ctx, reviewID, author)
	if err != nil {
		return err
	}

	var agg models.CourseAggregate
	err = s.locker.WithinCourse(ctx, current.CourseCode, func(tx repository.CourseTx) error {
		if _, err := lockOwnedReview(ctx, tx, reviewID, author); err != nil {
			return err
		}
		if err := tx.DeleteReview(ctx, reviewID); err != nil {
			return err
		}
		var err error
		if agg, err = s.aggregator.RecomputeTx(ctx, tx); err != nil {
			return &recomputeFailure{err: err}
		}
		return nil
	})
	if err != nil {
		return s.mutationError(err, current.CourseCode, reviewID, "review not found")
	}

	s.notifier.Committed(ctx, current.CourseCode, agg, events.CauseDeleted)
	return nil
}

// Mine returns the author's review of a course.
func (s *ReviewService) Mine(ctx context.Context, courseCode, authorID string) (*models.Review, error) {
	review, err := s.reviews.FindByCourseAndAuthor(ctx, normalizeCourseCode(courseCode), authorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "review not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load review")
	}
	return review, nil
}

func (s *ReviewService) ownedReview(ctx context.Context, reviewID string, author models.Author) (*models.Review, error) {
	if _, err := uuid.Parse(reviewID); err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "review not found")
	}
	review, err := s.reviews.FindByID(ctx, reviewID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "review not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load review")
	}
	if review.AuthorID != author.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the author can modify this review")
	}
	return review, nil
}

// lockOwnedReview re-reads the review under the course lock; it may have been
// deleted or changed since the unlocked read.
func lockOwnedReview(ctx context.Context, tx repository.CourseTx, reviewID string, author models.Author) (*models.Review, error) {
	review, err := tx.FindReview(ctx, reviewID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "review not found")
		}
		return nil, err
	}
	if review.AuthorID != author.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the author can modify this review")
	}
	return review, nil
}

func (s *ReviewService) mutationError(err error, code, reviewID, notFound string) error {
	var failure *recomputeFailure
	switch {
	case errors.As(err, &failure):
		s.logger.Error("review mutation rolled back: aggregate recompute failed",
			zap.String("course_code", code), zap.String("review_id", reviewID), zap.Error(failure.err))
		return appErrors.Wrap(failure.err, appErrors.ErrAggregateFailed.Code, appErrors.ErrAggregateFailed.Status, appErrors.ErrAggregateFailed.Message)
	case errors.Is(err, repository.ErrDuplicate):
		return appErrors.Clone(appErrors.ErrConflict, "you have already reviewed this course")
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	s.logger.Error("review mutation failed", zap.String("course_code", code), zap.String("review_id", reviewID), zap.Error(err))
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save review")
}

func applyReviewRequest(review *models.Review, req models.ReviewRequest) {
	review.ReviewRatings = req.Ratings()
	review.CourseCompletion = strings.TrimSpace(req.CourseCompletion)
	review.Title = strings.TrimSpace(req.Title)
	review.Body = strings.TrimSpace(req.Body)
	review.Grade = req.Grade
	review.IsAnonymous = req.IsAnonymous
}

func normalizeCourseCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
