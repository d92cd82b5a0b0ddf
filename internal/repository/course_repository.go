package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/course-review-api/internal/models"
)

const courseColumns = `code, name, description, faculty, page_reference, sessions, level, has_sessions, overall_rating, enjoyment, usefulness, manageability, review_count, created_at, updated_at`

const defaultCourseOrder = `CASE level WHEN 'UG' THEN 0 ELSE 1 END ASC, has_sessions DESC, overall_rating DESC, review_count DESC, code ASC`

var courseSortColumns = map[models.CourseSortField]string{
	models.CourseSortName:          "LOWER(name)",
	models.CourseSortOverallRating: "overall_rating",
	models.CourseSortEnjoyment:     "enjoyment",
	models.CourseSortUsefulness:    "usefulness",
	models.CourseSortManageability: "manageability",
	models.CourseSortReviewCount:   "review_count",
}

// CourseRepository provides database access for the course catalogue.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository creates a new instance of CourseRepository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// List returns one page of courses matching the filter. Page and PageSize must already be normalised.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, error) {
	where, args := buildCourseWhere(filter)
	offset := 0
	if filter.Page > 1 {
		offset = (filter.Page - 1) * filter.PageSize
	}
	query := fmt.Sprintf("SELECT %s FROM courses%s ORDER BY %s LIMIT %d OFFSET %d",
		courseColumns, where, courseOrderBy(filter.Sort), filter.PageSize, offset)

	courses := make([]models.Course, 0)
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	return courses, nil
}

// Count returns the number of courses matching the filter predicates.
func (r *CourseRepository) Count(ctx context.Context, filter models.CourseFilter) (int, error) {
	where, args := buildCourseWhere(filter)
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM courses"+where, args...); err != nil {
		return 0, fmt.Errorf("count courses: %w", err)
	}
	return total, nil
}

// FindByCode returns a course by its code.
func (r *CourseRepository) FindByCode(ctx context.Context, code string) (*models.Course, error) {
	query := fmt.Sprintf("SELECT %s FROM courses WHERE code = $1", courseColumns)
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, code); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find course by code: %w", err)
	}
	return &course, nil
}

// Upsert inserts or refreshes a course's descriptive fields. Aggregate columns are never written.
func (r *CourseRepository) Upsert(ctx context.Context, course models.CourseUpsert) (created bool, err error) {
	const query = `INSERT INTO courses (code, name, description, faculty, page_reference, sessions, level, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description, faculty = EXCLUDED.faculty,
page_reference = EXCLUDED.page_reference, sessions = EXCLUDED.sessions, level = EXCLUDED.level, updated_at = EXCLUDED.updated_at
RETURNING (xmax = 0) AS inserted`
	sessions := course.Sessions
	if sessions == nil {
		sessions = []string{}
	}
	if err := r.db.GetContext(ctx, &created, query,
		course.Code, course.Name, course.Description, course.Faculty, course.PageReference,
		pq.StringArray(sessions), course.Level, time.Now().UTC()); err != nil {
		return false, fmt.Errorf("upsert course %s: %w", course.Code, err)
	}
	return created, nil
}

// DeleteWhere removes courses matching faculty and/or level. Reviews cascade.
func (r *CourseRepository) DeleteWhere(ctx context.Context, faculty string, level models.CourseLevel) (int64, error) {
	var conditions []string
	var args []interface{}
	if faculty != "" {
		args = append(args, faculty)
		conditions = append(conditions, fmt.Sprintf("faculty = $%d", len(args)))
	}
	if level != "" {
		args = append(args, level)
		conditions = append(conditions, fmt.Sprintf("level = $%d", len(args)))
	}
	if len(conditions) == 0 {
		return 0, fmt.Errorf("delete courses: faculty or level required")
	}
	res, err := r.db.ExecContext(ctx, "DELETE FROM courses WHERE "+strings.Join(conditions, " AND "), args...)
	if err != nil {
		return 0, fmt.Errorf("delete courses: %w", err)
	}
	return res.RowsAffected()
}

// DeleteAll removes every course. Reviews cascade.
func (r *CourseRepository) DeleteAll(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM courses`)
	if err != nil {
		return 0, fmt.Errorf("delete all courses: %w", err)
	}
	return res.RowsAffected()
}

// SessionStats returns each distinct trimmed session label with the number of courses offering it.
func (r *CourseRepository) SessionStats(ctx context.Context) ([]models.SessionStat, error) {
	const query = `SELECT TRIM(s) AS label, COUNT(DISTINCT code) AS course_count
FROM courses, UNNEST(sessions) AS s
WHERE TRIM(s) <> ''
GROUP BY TRIM(s)`
	stats := make([]models.SessionStat, 0)
	if err := r.db.SelectContext(ctx, &stats, query); err != nil {
		return nil, fmt.Errorf("session stats: %w", err)
	}
	return stats, nil
}

// Codes returns every course code in ascending order.
func (r *CourseRepository) Codes(ctx context.Context) ([]string, error) {
	codes := make([]string, 0)
	if err := r.db.SelectContext(ctx, &codes, `SELECT code FROM courses ORDER BY code`); err != nil {
		return nil, fmt.Errorf("list course codes: %w", err)
	}
	return codes, nil
}

// AggregateSnapshot pairs a course's stored aggregate with totals over its live reviews.
type AggregateSnapshot struct {
	Code   string
	Stored models.CourseAggregate
	Live   models.RatingTotals
}

// AggregateSnapshots reads stored and live values for every course without locking.
func (r *CourseRepository) AggregateSnapshots(ctx context.Context) ([]AggregateSnapshot, error) {
	const query = `SELECT c.code, c.overall_rating, c.enjoyment, c.usefulness, c.manageability, c.review_count,
COUNT(rv.id) AS live_count,
COALESCE(SUM(rv.overall_rating), 0) AS overall_sum,
COALESCE(SUM(rv.enjoyment), 0) AS enjoyment_sum,
COALESCE(SUM(rv.usefulness), 0) AS usefulness_sum,
COALESCE(SUM(rv.manageability), 0) AS manageability_sum
FROM courses c LEFT JOIN reviews rv ON rv.course_code = c.code
GROUP BY c.code
ORDER BY c.code`
	var rows []struct {
		Code string `db:"code"`
		models.CourseAggregate
		LiveCount        int   `db:"live_count"`
		OverallSum       int64 `db:"overall_sum"`
		EnjoymentSum     int64 `db:"enjoyment_sum"`
		UsefulnessSum    int64 `db:"usefulness_sum"`
		ManageabilitySum int64 `db:"manageability_sum"`
	}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("aggregate snapshots: %w", err)
	}
	out := make([]AggregateSnapshot, 0, len(rows))
	for _, row := range rows {
		out = append(out, AggregateSnapshot{
			Code:   row.Code,
			Stored: row.CourseAggregate,
			Live: models.RatingTotals{
				Count:         row.LiveCount,
				Overall:       row.OverallSum,
				Enjoyment:     row.EnjoymentSum,
				Usefulness:    row.UsefulnessSum,
				Manageability: row.ManageabilitySum,
			},
		})
	}
	return out, nil
}

func buildCourseWhere(filter models.CourseFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+escapeLike(search)+"%")
		conditions = append(conditions, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	if len(filter.Faculties) > 0 {
		lowered := make([]string, 0, len(filter.Faculties))
		for _, f := range filter.Faculties {
			lowered = append(lowered, strings.ToLower(strings.TrimSpace(f)))
		}
		args = append(args, pq.Array(lowered))
		conditions = append(conditions, fmt.Sprintf("LOWER(faculty) = ANY($%d)", len(args)))
	}
	if len(filter.Sessions) > 0 {
		args = append(args, pq.Array(filter.Sessions))
		conditions = append(conditions, fmt.Sprintf("sessions && $%d::text[]", len(args)))
	}
	if filter.Level != "" {
		args = append(args, filter.Level)
		conditions = append(conditions, fmt.Sprintf("level = $%d", len(args)))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func courseOrderBy(sort models.CourseSort) string {
	column, ok := courseSortColumns[sort.Field]
	if !ok {
		return defaultCourseOrder
	}
	direction := "ASC"
	if sort.Descending {
		direction = "DESC"
	}
	return fmt.Sprintf("%s %s, code ASC", column, direction)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
