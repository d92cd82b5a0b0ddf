package models

import (
	"time"

	"github.com/lib/pq"
)

// CourseLevel distinguishes undergraduate from postgraduate courses.
type CourseLevel string

const (
	LevelUndergraduate CourseLevel = "UG"
	LevelPostgraduate  CourseLevel = "PG"
)

// Valid reports whether the level is a known value.
func (l CourseLevel) Valid() bool {
	return l == LevelUndergraduate || l == LevelPostgraduate
}

// Display returns the human readable level name.
func (l CourseLevel) Display() string {
	switch l {
	case LevelPostgraduate:
		return "Postgraduate"
	case LevelUndergraduate:
		return "Undergraduate"
	default:
		return string(l)
	}
}

// CourseAggregate holds the cached rating averages derived from a course's reviews.
type CourseAggregate struct {
	OverallRating float64 `db:"overall_rating" json:"overall_rating"`
	Enjoyment     float64 `db:"enjoyment" json:"enjoyment"`
	Usefulness    float64 `db:"usefulness" json:"usefulness"`
	Manageability float64 `db:"manageability" json:"manageability"`
	ReviewCount   int     `db:"review_count" json:"review_count"`
}

// Course is a catalogued subject together with its cached aggregate.
type Course struct {
	Code          string         `db:"code" json:"code"`
	Name          string         `db:"name" json:"name"`
	Description   string         `db:"description" json:"description"`
	Faculty       string         `db:"faculty" json:"faculty"`
	PageReference string         `db:"page_reference" json:"page_reference"`
	Sessions      pq.StringArray `db:"sessions" json:"sessions"`
	Level         CourseLevel    `db:"level" json:"level"`
	HasSessions   bool           `db:"has_sessions" json:"has_sessions"`
	CourseAggregate
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CourseSortField enumerates explicit listing sort keys.
type CourseSortField string

const (
	CourseSortName          CourseSortField = "name"
	CourseSortOverallRating CourseSortField = "overall_rating"
	CourseSortEnjoyment     CourseSortField = "enjoyment"
	CourseSortUsefulness    CourseSortField = "usefulness"
	CourseSortManageability CourseSortField = "manageability"
	CourseSortReviewCount   CourseSortField = "review_count"
)

// Valid reports whether the field can be used as an explicit sort.
func (f CourseSortField) Valid() bool {
	switch f {
	case CourseSortName, CourseSortOverallRating, CourseSortEnjoyment,
		CourseSortUsefulness, CourseSortManageability, CourseSortReviewCount:
		return true
	}
	return false
}

// CourseSort overrides the default listing order when Field is set.
type CourseSort struct {
	Field      CourseSortField
	Descending bool
}

// IsDefault reports whether no explicit sort was requested.
func (s CourseSort) IsDefault() bool {
	return s.Field == ""
}

// CourseFilter captures listing predicates and pagination.
type CourseFilter struct {
	Search    string
	Faculties []string
	Sessions  []string
	Level     CourseLevel
	Sort      CourseSort
	Page      int
	PageSize  int
}

// CourseUpsert carries the descriptive fields written by catalogue imports.
type CourseUpsert struct {
	Code          string      `validate:"required,max=10"`
	Name          string      `validate:"required,max=255"`
	Description   string      `validate:"max=10000"`
	Faculty       string      `validate:"max=255"`
	PageReference string      `validate:"omitempty,max=500"`
	Sessions      []string    `validate:"dive,max=64"`
	Level         CourseLevel `validate:"required,oneof=UG PG"`
}

// SessionStat is a distinct session label and the number of courses offering it.
type SessionStat struct {
	Label       string `db:"label" json:"label"`
	CourseCount int    `db:"course_count" json:"course_count"`
}

// CoursePage is one page of a course listing.
type CoursePage struct {
	Courses    []Course   `json:"courses"`
	Pagination Pagination `json:"pagination"`
}
