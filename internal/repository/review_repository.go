package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-review-api/internal/models"
)

const reviewSelect = `SELECT r.id, r.course_code, c.name AS course_name, r.author_id, u.username AS author_name,
r.overall_rating, r.enjoyment, r.usefulness, r.manageability, r.course_completion, r.title, r.body, r.grade,
r.is_anonymous, r.created_at, r.updated_at
FROM reviews r
JOIN courses c ON c.code = r.course_code
JOIN users u ON u.id = r.author_id`

var reviewSortColumns = map[models.ReviewSortField]string{
	models.ReviewSortCreatedAt:        "r.created_at",
	models.ReviewSortCourseCompletion: "r.course_completion",
	models.ReviewSortOverallRating:    "r.overall_rating",
}

// ReviewRepository provides read access to reviews outside a course lock.
type ReviewRepository struct {
	db *sqlx.DB
}

// NewReviewRepository creates a new instance of ReviewRepository.
func NewReviewRepository(db *sqlx.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// FindByID returns a review by identifier.
func (r *ReviewRepository) FindByID(ctx context.Context, id string) (*models.Review, error) {
	var review models.Review
	if err := r.db.GetContext(ctx, &review, reviewSelect+` WHERE r.id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find review by id: %w", err)
	}
	return &review, nil
}

// FindByCourseAndAuthor returns the author's review of a course.
func (r *ReviewRepository) FindByCourseAndAuthor(ctx context.Context, courseCode, authorID string) (*models.Review, error) {
	var review models.Review
	if err := r.db.GetContext(ctx, &review, reviewSelect+` WHERE r.course_code = $1 AND r.author_id = $2`, courseCode, authorID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find review by course and author: %w", err)
	}
	return &review, nil
}

// ListByCourse returns one page of a course's reviews. Page and PageSize must already be normalised.
func (r *ReviewRepository) ListByCourse(ctx context.Context, filter models.ReviewFilter) ([]models.Review, error) {
	column, ok := reviewSortColumns[filter.Sort]
	if !ok {
		column = reviewSortColumns[models.ReviewSortCreatedAt]
	}
	direction := "DESC"
	if filter.Ascending {
		direction = "ASC"
	}
	offset := 0
	if filter.Page > 1 {
		offset = (filter.Page - 1) * filter.PageSize
	}
	query := fmt.Sprintf("%s WHERE r.course_code = $1 ORDER BY %s %s, r.id %s LIMIT %d OFFSET %d",
		reviewSelect, column, direction, direction, filter.PageSize, offset)

	reviews := make([]models.Review, 0)
	if err := r.db.SelectContext(ctx, &reviews, query, filter.CourseCode); err != nil {
		return nil, fmt.Errorf("list reviews by course: %w", err)
	}
	return reviews, nil
}

// CountByCourse returns how many reviews a course has.
func (r *ReviewRepository) CountByCourse(ctx context.Context, courseCode string) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM reviews WHERE course_code = $1`, courseCode); err != nil {
		return 0, fmt.Errorf("count reviews by course: %w", err)
	}
	return total, nil
}

// ListByAuthor returns every review written by the author, newest first.
func (r *ReviewRepository) ListByAuthor(ctx context.Context, authorID string) ([]models.Review, error) {
	reviews := make([]models.Review, 0)
	if err := r.db.SelectContext(ctx, &reviews, reviewSelect+` WHERE r.author_id = $1 ORDER BY r.created_at DESC, r.id DESC`, authorID); err != nil {
		return nil, fmt.Errorf("list reviews by author: %w", err)
	}
	return reviews, nil
}

// CourseCodesByAuthor returns the codes of every course the author has reviewed.
func (r *ReviewRepository) CourseCodesByAuthor(ctx context.Context, authorID string) ([]string, error) {
	codes := make([]string, 0)
	if err := r.db.SelectContext(ctx, &codes, `SELECT course_code FROM reviews WHERE author_id = $1 ORDER BY course_code`, authorID); err != nil {
		return nil, fmt.Errorf("list reviewed course codes: %w", err)
	}
	return codes, nil
}
