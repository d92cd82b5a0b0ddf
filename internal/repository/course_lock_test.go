package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-review-api/internal/models"
)

const lockPattern = `FROM courses WHERE code = \$1 FOR UPDATE`

func expectLock(mock sqlmock.Sqlmock, code string) {
	mock.ExpectBegin()
	mock.ExpectQuery(lockPattern).WithArgs(code).WillReturnRows(courseRows())
}

func TestWithinCourseCommitsRecompute(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	locker := NewCourseLocker(db)

	expectLock(mock, "COMP1511")
	mock.ExpectQuery(regexp.QuoteMeta("COUNT(*) AS review_count")).
		WithArgs("COMP1511").
		WillReturnRows(sqlmock.NewRows([]string{"review_count", "overall_sum", "enjoyment_sum", "usefulness_sum", "manageability_sum"}).
			AddRow(3, 11, 12, 12, 10))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET overall_rating = $2, enjoyment = $3, usefulness = $4, manageability = $5, review_count = $6 WHERE code = $1")).
		WithArgs("COMP1511", 3.7, 4.0, 4.0, 3.3, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := locker.WithinCourse(context.Background(), "COMP1511", func(tx CourseTx) error {
		totals, err := tx.RatingTotals(context.Background())
		if err != nil {
			return err
		}
		assert.Equal(t, models.RatingTotals{Count: 3, Overall: 11, Enjoyment: 12, Usefulness: 12, Manageability: 10}, totals)
		if err := tx.SaveAggregate(context.Background(), models.CourseAggregate{OverallRating: 3.7, Enjoyment: 4, Usefulness: 4, Manageability: 3.3, ReviewCount: 3}); err != nil {
			return err
		}
		assert.Equal(t, 3, tx.Course().ReviewCount)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinCourseMissingCourse(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	locker := NewCourseLocker(db)

	mock.ExpectBegin()
	mock.ExpectQuery(lockPattern).WithArgs("NOPE1000").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	called := false
	err := locker.WithinCourse(context.Background(), "NOPE1000", func(CourseTx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.False(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinCourseRollsBackOnError(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	locker := NewCourseLocker(db)

	expectLock(mock, "COMP1511")
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM reviews WHERE id = $1 AND course_code = $2")).
		WithArgs("rev-1", "COMP1511").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("COUNT(*) AS review_count")).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := locker.WithinCourse(context.Background(), "COMP1511", func(tx CourseTx) error {
		if err := tx.DeleteReview(context.Background(), "rev-1"); err != nil {
			return err
		}
		_, err := tx.RatingTotals(context.Background())
		return err
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertReviewMapsUniqueViolation(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	locker := NewCourseLocker(db)

	expectLock(mock, "COMP1511")
	mock.ExpectExec("INSERT INTO reviews").WillReturnError(&pq.Error{Code: "23505", Constraint: "reviews_course_author_key"})
	mock.ExpectRollback()

	err := locker.WithinCourse(context.Background(), "COMP1511", func(tx CourseTx) error {
		return tx.InsertReview(context.Background(), &models.Review{AuthorID: "u-1", ReviewRatings: models.ReviewRatings{Overall: 4, Enjoyment: 4, Usefulness: 4, Manageability: 4}, CourseCompletion: "2025-AUTUMN"})
	})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertReviewAssignsIdentity(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	locker := NewCourseLocker(db)

	expectLock(mock, "COMP1511")
	mock.ExpectExec("INSERT INTO reviews").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	review := &models.Review{AuthorID: "u-1", CourseCompletion: "2025-AUTUMN"}
	err := locker.WithinCourse(context.Background(), "COMP1511", func(tx CourseTx) error {
		return tx.InsertReview(context.Background(), review)
	})
	require.NoError(t, err)
	assert.NotEmpty(t, review.ID)
	assert.Equal(t, "COMP1511", review.CourseCode)
	assert.False(t, review.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateReviewGone(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	locker := NewCourseLocker(db)

	expectLock(mock, "COMP1511")
	mock.ExpectExec("UPDATE reviews SET").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := locker.WithinCourse(context.Background(), "COMP1511", func(tx CourseTx) error {
		return tx.UpdateReview(context.Background(), &models.Review{ID: "rev-9"})
	})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureAuthorAlwaysWritesTheRow(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	locker := NewCourseLocker(db)

	expectLock(mock, "COMP1511")
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username")).
		WithArgs("u-1", "alice", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO reviews").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := locker.WithinCourse(context.Background(), "COMP1511", func(tx CourseTx) error {
		if err := tx.EnsureAuthor(context.Background(), "u-1", "alice"); err != nil {
			return err
		}
		return tx.InsertReview(context.Background(), &models.Review{AuthorID: "u-1", CourseCompletion: "2025-AUTUMN"})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
