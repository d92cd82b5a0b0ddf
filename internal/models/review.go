package models

import "time"

// Rating bounds shared by validation and the schema.
const (
	MinRating = 1
	MaxRating = 5
)

// ReviewRatings are the four integer scores a review gives its course.
type ReviewRatings struct {
	Overall       int `db:"overall_rating" json:"overall_rating"`
	Enjoyment     int `db:"enjoyment" json:"enjoyment"`
	Usefulness    int `db:"usefulness" json:"usefulness"`
	Manageability int `db:"manageability" json:"manageability"`
}

// Review is one author's assessment of one course.
type Review struct {
	ID         string `db:"id" json:"id"`
	CourseCode string `db:"course_code" json:"course_code"`
	CourseName string `db:"course_name" json:"course_name,omitempty"`
	AuthorID   string `db:"author_id" json:"author_id,omitempty"`
	AuthorName string `db:"author_name" json:"author_name,omitempty"`
	ReviewRatings
	CourseCompletion string    `db:"course_completion" json:"course_completion"`
	Title            string    `db:"title" json:"title,omitempty"`
	Body             string    `db:"body" json:"body,omitempty"`
	Grade            *int      `db:"grade" json:"grade,omitempty"`
	IsAnonymous      bool      `db:"is_anonymous" json:"is_anonymous"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// RatingTotals are the per-criterion sums over a course's live review set.
type RatingTotals struct {
	Count         int   `db:"review_count"`
	Overall       int64 `db:"overall_sum"`
	Enjoyment     int64 `db:"enjoyment_sum"`
	Usefulness    int64 `db:"usefulness_sum"`
	Manageability int64 `db:"manageability_sum"`
}

// Add folds one review's ratings into the totals.
func (t RatingTotals) Add(r ReviewRatings) RatingTotals {
	t.Count++
	t.Overall += int64(r.Overall)
	t.Enjoyment += int64(r.Enjoyment)
	t.Usefulness += int64(r.Usefulness)
	t.Manageability += int64(r.Manageability)
	return t
}

// ReviewRequest is the payload accepted when creating or replacing a review.
type ReviewRequest struct {
	OverallRating    int    `json:"overall_rating" validate:"required,min=1,max=5"`
	Enjoyment        int    `json:"enjoyment" validate:"required,min=1,max=5"`
	Usefulness       int    `json:"usefulness" validate:"required,min=1,max=5"`
	Manageability    int    `json:"manageability" validate:"required,min=1,max=5"`
	CourseCompletion string `json:"course_completion" validate:"required,max=20"`
	Title            string `json:"title" validate:"max=50"`
	Body             string `json:"body" validate:"max=1000"`
	Grade            *int   `json:"grade" validate:"omitempty,min=0,max=100"`
	IsAnonymous      bool   `json:"is_anonymous"`
}

// Ratings extracts the four scores from the request.
func (r ReviewRequest) Ratings() ReviewRatings {
	return ReviewRatings{
		Overall:       r.OverallRating,
		Enjoyment:     r.Enjoyment,
		Usefulness:    r.Usefulness,
		Manageability: r.Manageability,
	}
}

// ReviewSortField enumerates review listing sort keys.
type ReviewSortField string

const (
	ReviewSortCreatedAt        ReviewSortField = "created_at"
	ReviewSortCourseCompletion ReviewSortField = "course_completion"
	ReviewSortOverallRating    ReviewSortField = "overall_rating"
)

// Valid reports whether the field is a known review sort key.
func (f ReviewSortField) Valid() bool {
	switch f {
	case ReviewSortCreatedAt, ReviewSortCourseCompletion, ReviewSortOverallRating:
		return true
	}
	return false
}

// ReviewFilter controls ordering and pagination of a course's reviews.
type ReviewFilter struct {
	CourseCode string
	Sort       ReviewSortField
	Ascending  bool
	Page       int
	PageSize   int
}

// ReviewPage is one page of a course's reviews.
type ReviewPage struct {
	Reviews    []Review   `json:"reviews"`
	Pagination Pagination `json:"pagination"`
}
