package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-review-api/internal/models"
)

// CourseTx is a transaction holding the row lock of a single course. Every
// review operation is scoped to that course.
type CourseTx interface {
	Course() *models.Course
	EnsureAuthor(ctx context.Context, id, username string) error
	FindReview(ctx context.Context, id string) (*models.Review, error)
	FindReviewByAuthor(ctx context.Context, authorID string) (*models.Review, error)
	InsertReview(ctx context.Context, review *models.Review) error
	UpdateReview(ctx context.Context, review *models.Review) error
	DeleteReview(ctx context.Context, id string) error
	RatingTotals(ctx context.Context) (models.RatingTotals, error)
	SaveAggregate(ctx context.Context, agg models.CourseAggregate) error
}

// CourseLocker runs work inside a transaction that holds SELECT ... FOR UPDATE on a course row.
type CourseLocker struct {
	db *sqlx.DB
}

// NewCourseLocker creates a new instance of CourseLocker.
func NewCourseLocker(db *sqlx.DB) *CourseLocker {
	return &CourseLocker{db: db}
}

// WithinCourse locks the course, calls fn and commits when fn succeeds. Any
// error rolls the whole transaction back. A missing course yields sql.ErrNoRows.
func (l *CourseLocker) WithinCourse(ctx context.Context, code string, fn func(CourseTx) error) (err error) {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin course transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var course models.Course
	lockQuery := fmt.Sprintf("SELECT %s FROM courses WHERE code = $1 FOR UPDATE", courseColumns)
	if err = tx.GetContext(ctx, &course, lockQuery, code); err != nil {
		if err == sql.ErrNoRows {
			return err
		}
		return fmt.Errorf("lock course %s: %w", code, err)
	}

	if err = fn(&courseTx{tx: tx, course: &course}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit course transaction: %w", err)
	}
	return nil
}

type courseTx struct {
	tx     *sqlx.Tx
	course *models.Course
}

func (t *courseTx) Course() *models.Course {
	return t.course
}

// EnsureAuthor upserts the author row. The upsert always writes, so the row
// stays locked until commit and an account delete waits for this review.
func (t *courseTx) EnsureAuthor(ctx context.Context, id, username string) error {
	const query = `INSERT INTO users (id, username, created_at) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username`
	if _, err := t.tx.ExecContext(ctx, query, id, username, time.Now().UTC()); err != nil {
		return fmt.Errorf("ensure author: %w", err)
	}
	return nil
}

func (t *courseTx) FindReview(ctx context.Context, id string) (*models.Review, error) {
	var review models.Review
	query := reviewSelect + ` WHERE r.id = $1 AND r.course_code = $2 FOR UPDATE OF r`
	if err := t.tx.GetContext(ctx, &review, query, id, t.course.Code); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock review: %w", err)
	}
	return &review, nil
}

func (t *courseTx) FindReviewByAuthor(ctx context.Context, authorID string) (*models.Review, error) {
	var review models.Review
	query := reviewSelect + ` WHERE r.course_code = $1 AND r.author_id = $2 FOR UPDATE OF r`
	if err := t.tx.GetContext(ctx, &review, query, t.course.Code, authorID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock review by author: %w", err)
	}
	return &review, nil
}

func (t *courseTx) InsertReview(ctx context.Context, review *models.Review) error {
	if review.ID == "" {
		review.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	review.CourseCode = t.course.Code
	review.CourseName = t.course.Name
	review.CreatedAt = now
	review.UpdatedAt = now

	const query = `INSERT INTO reviews (id, course_code, author_id, overall_rating, enjoyment, usefulness, manageability,
course_completion, title, body, grade, is_anonymous, created_at, updated_at)
VALUES (:id, :course_code, :author_id, :overall_rating, :enjoyment, :usefulness, :manageability,
:course_completion, :title, :body, :grade, :is_anonymous, :created_at, :updated_at)`
	if _, err := t.tx.NamedExecContext(ctx, query, review); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

func (t *courseTx) UpdateReview(ctx context.Context, review *models.Review) error {
	review.UpdatedAt = time.Now().UTC()
	const query = `UPDATE reviews SET overall_rating = $3, enjoyment = $4, usefulness = $5, manageability = $6,
course_completion = $7, title = $8, body = $9, grade = $10, is_anonymous = $11, updated_at = $12
WHERE id = $1 AND course_code = $2`
	res, err := t.tx.ExecContext(ctx, query, review.ID, t.course.Code,
		review.Overall, review.Enjoyment, review.Usefulness, review.Manageability,
		review.CourseCompletion, review.Title, review.Body, review.Grade, review.IsAnonymous, review.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update review: %w", err)
	}
	return requireAffected(res)
}

func (t *courseTx) DeleteReview(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM reviews WHERE id = $1 AND course_code = $2`, id, t.course.Code)
	if err != nil {
		return fmt.Errorf("delete review: %w", err)
	}
	return requireAffected(res)
}

func (t *courseTx) RatingTotals(ctx context.Context) (models.RatingTotals, error) {
	const query = `SELECT COUNT(*) AS review_count,
COALESCE(SUM(overall_rating), 0) AS overall_sum,
COALESCE(SUM(enjoyment), 0) AS enjoyment_sum,
COALESCE(SUM(usefulness), 0) AS usefulness_sum,
COALESCE(SUM(manageability), 0) AS manageability_sum
FROM reviews WHERE course_code = $1`
	var totals models.RatingTotals
	if err := t.tx.GetContext(ctx, &totals, query, t.course.Code); err != nil {
		return models.RatingTotals{}, fmt.Errorf("rating totals: %w", err)
	}
	return totals, nil
}

func (t *courseTx) SaveAggregate(ctx context.Context, agg models.CourseAggregate) error {
	const query = `UPDATE courses SET overall_rating = $2, enjoyment = $3, usefulness = $4, manageability = $5, review_count = $6 WHERE code = $1`
	res, err := t.tx.ExecContext(ctx, query, t.course.Code, agg.OverallRating, agg.Enjoyment, agg.Usefulness, agg.Manageability, agg.ReviewCount)
	if err != nil {
		return fmt.Errorf("save aggregate: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	t.course.CourseAggregate = agg
	return nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
