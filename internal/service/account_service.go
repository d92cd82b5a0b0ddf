package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/course-review-api/internal/models"
	"github.com/noah-isme/course-review-api/internal/repository"
	appErrors "github.com/noah-isme/course-review-api/pkg/errors"
	"github.com/noah-isme/course-review-api/pkg/events"
)

type authorReviewReader interface {
	ListByAuthor(ctx context.Context, authorID string) ([]models.Review, error)
	CourseCodesByAuthor(ctx context.Context, authorID string) ([]string, error)
}

type userDeleter interface {
	Delete(ctx context.Context, id string) error
}

// maxAccountPasses bounds how often DeleteAccount re-reads the author's
// courses when reviews appear while it runs.
const maxAccountPasses = 3

// AccountService covers the caller's own data.
type AccountService struct {
	locker     courseLocker
	reviews    authorReviewReader
	users      userDeleter
	aggregator *RatingAggregator
	notifier   *AggregateNotifier
	logger     *zap.Logger
}

// NewAccountService constructs an AccountService.
func NewAccountService(locker courseLocker, reviews authorReviewReader, users userDeleter, aggregator *RatingAggregator, notifier *AggregateNotifier, logger *zap.Logger) *AccountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountService{locker: locker, reviews: reviews, users: users, aggregator: aggregator, notifier: notifier, logger: logger}
}

// Reviews lists the author's reviews, newest first.
func (s *AccountService) Reviews(ctx context.Context, authorID string) ([]models.Review, error) {
	reviews, err := s.reviews.ListByAuthor(ctx, authorID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reviews")
	}
	if reviews == nil {
		reviews = []models.Review{}
	}
	return reviews, nil
}

// DeleteAccount removes every review of the author course by course, keeping
// each course aggregate consistent, and then removes the author. The author
// row is only deleted once no review references it, so a review created
// meanwhile triggers another pass instead of a silent cascade.
func (s *AccountService) DeleteAccount(ctx context.Context, authorID string) error {
	for pass := 0; pass < maxAccountPasses; pass++ {
		codes, err := s.reviews.CourseCodesByAuthor(ctx, authorID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reviewed courses")
		}
		for _, code := range codes {
			if err := s.removeFromCourse(ctx, code, authorID); err != nil {
				return err
			}
		}

		err = s.users.Delete(ctx, authorID)
		switch {
		case err == nil, errors.Is(err, sql.ErrNoRows):
			s.logger.Info("account deleted", zap.String("user_id", authorID))
			return nil
		case errors.Is(err, repository.ErrReviewsRemain):
			s.logger.Info("reviews added during account deletion, retrying",
				zap.String("user_id", authorID), zap.Int("pass", pass+1))
		default:
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete account")
		}
	}

	s.logger.Warn("account deletion gave up", zap.String("user_id", authorID), zap.Int("passes", maxAccountPasses))
	return appErrors.Clone(appErrors.ErrConflict, "reviews kept arriving while the account was being deleted")
}

func (s *AccountService) removeFromCourse(ctx context.Context, code, authorID string) error {
	var (
		agg     models.CourseAggregate
		removed bool
	)
	err := s.locker.WithinCourse(ctx, code, func(tx repository.CourseTx) error {
		review, err := tx.FindReviewByAuthor(ctx, authorID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}
		if err := tx.DeleteReview(ctx, review.ID); err != nil {
			return err
		}
		if agg, err = s.aggregator.RecomputeTx(ctx, tx); err != nil {
			return &recomputeFailure{err: err}
		}
		removed = true
		return nil
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		var failure *recomputeFailure
		if errors.As(err, &failure) {
			s.logger.Error("account deletion stopped: aggregate recompute failed",
				zap.String("course_code", code), zap.String("user_id", authorID), zap.Error(failure.err))
			return appErrors.Wrap(failure.err, appErrors.ErrAggregateFailed.Code, appErrors.ErrAggregateFailed.Status,
				fmt.Sprintf("failed to remove review from %s", code))
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, fmt.Sprintf("failed to remove review from %s", code))
	}
	if removed {
		s.notifier.Committed(ctx, code, agg, events.CauseDeleted)
	}
	return nil
}
