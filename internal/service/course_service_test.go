package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/course-review-api/internal/models"
	appErrors "github.com/noah-isme/course-review-api/pkg/errors"
)

type stubCourseReader struct {
	courses    []models.Course
	total      int
	sessions   []models.SessionStat
	lastFilter models.CourseFilter
	listCalls  int
	findCalls  int
}

func (s *stubCourseReader) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, error) {
	s.listCalls++
	s.lastFilter = filter
	return s.courses, nil
}

func (s *stubCourseReader) Count(ctx context.Context, filter models.CourseFilter) (int, error) {
	return s.total, nil
}

func (s *stubCourseReader) FindByCode(ctx context.Context, code string) (*models.Course, error) {
	s.findCalls++
	for _, c := range s.courses {
		if c.Code == code {
			found := c
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *stubCourseReader) SessionStats(ctx context.Context) ([]models.SessionStat, error) {
	return s.sessions, nil
}

type stubReviewReader struct {
	reviews    []models.Review
	lastFilter models.ReviewFilter
}

func (s *stubReviewReader) ListByCourse(ctx context.Context, filter models.ReviewFilter) ([]models.Review, error) {
	s.lastFilter = filter
	return s.reviews, nil
}

func (s *stubReviewReader) CountByCourse(ctx context.Context, code string) (int, error) {
	return len(s.reviews), nil
}

func newCourseService(courses *stubCourseReader, reviews *stubReviewReader, cache *CacheService) *CourseService {
	return NewCourseService(courses, reviews, cache, zap.NewNop(), CourseServiceConfig{PageSize: 12, MaxPageSize: 48})
}

func TestCourseListClampsOutOfRangePage(t *testing.T) {
	courses := &stubCourseReader{courses: []models.Course{{Code: "COMP1511"}}, total: 13}
	svc := newCourseService(courses, &stubReviewReader{}, nil)

	page, hit, err := svc.List(context.Background(), models.CourseFilter{Page: 7})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, models.Pagination{Page: 1, PageSize: 12, TotalCount: 13, TotalPages: 2}, page.Pagination)
	assert.Equal(t, 1, courses.lastFilter.Page)

	page, _, err = svc.List(context.Background(), models.CourseFilter{Page: 2, PageSize: 500})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Pagination.Page)
	assert.Equal(t, 48, page.Pagination.PageSize)
}

func TestCourseListEmptyHasOnePage(t *testing.T) {
	svc := newCourseService(&stubCourseReader{}, &stubReviewReader{}, nil)
	page, _, err := svc.List(context.Background(), models.CourseFilter{Page: 3})
	require.NoError(t, err)
	assert.Empty(t, page.Courses)
	assert.NotNil(t, page.Courses)
	assert.Equal(t, 1, page.Pagination.TotalPages)
	assert.Equal(t, 1, page.Pagination.Page)
}

func TestCourseListNormalisesFilter(t *testing.T) {
	courses := &stubCourseReader{total: 1}
	svc := newCourseService(courses, &stubReviewReader{}, nil)

	_, _, err := svc.List(context.Background(), models.CourseFilter{
		Search:    "  prog ",
		Faculties: []string{"Science", " ", "Engineering", "Science"},
		Sessions:  []string{"Autumn"},
	})
	require.NoError(t, err)
	assert.Equal(t, "prog", courses.lastFilter.Search)
	assert.Equal(t, []string{"Engineering", "Science"}, courses.lastFilter.Faculties)

	_, _, err = svc.List(context.Background(), models.CourseFilter{Sort: models.CourseSort{Field: "difficulty"}})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	_, _, err = svc.List(context.Background(), models.CourseFilter{Level: "XX"})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestCourseSummaryUsesCache(t *testing.T) {
	courses := &stubCourseReader{courses: []models.Course{{Code: "COMP1511", Name: "Programming"}}}
	cache := NewCacheService(newMemoryCacheRepo(), nil, time.Minute, nil, true)
	svc := newCourseService(courses, &stubReviewReader{}, cache)

	course, hit, err := svc.Summary(context.Background(), " comp1511 ")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "Programming", course.Name)

	_, hit, err = svc.Summary(context.Background(), "COMP1511")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, courses.findCalls)

	_, _, err = svc.Summary(context.Background(), "NOPE1000")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestCourseReviewsHidesAnonymousAuthors(t *testing.T) {
	courses := &stubCourseReader{courses: []models.Course{{Code: "COMP1511"}}}
	reviews := &stubReviewReader{reviews: []models.Review{
		{ID: "a", AuthorID: "u-1", AuthorName: "alice"},
		{ID: "b", AuthorID: "u-2", AuthorName: "bob", IsAnonymous: true},
	}}
	svc := newCourseService(courses, reviews, nil)

	page, _, err := svc.Reviews(context.Background(), "COMP1511", models.ReviewFilter{})
	require.NoError(t, err)
	require.Len(t, page.Reviews, 2)
	assert.Equal(t, "alice", page.Reviews[0].AuthorName)
	assert.Empty(t, page.Reviews[1].AuthorName)
	assert.Empty(t, page.Reviews[1].AuthorID)
	assert.Equal(t, models.ReviewSortCreatedAt, reviews.lastFilter.Sort)
	assert.False(t, reviews.lastFilter.Ascending)

	_, _, err = svc.Reviews(context.Background(), "NOPE1000", models.ReviewFilter{})
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	_, _, err = svc.Reviews(context.Background(), "COMP1511", models.ReviewFilter{Sort: "title"})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestSortSessionsBySeason(t *testing.T) {
	stats := []models.SessionStat{
		{Label: "Winter"},
		{Label: "Teaching Period 1"},
		{Label: "Autumn"},
		{Label: "Summer"},
		{Label: "Spring"},
		{Label: "Fall session"},
		{Label: "Block A"},
	}
	SortSessions(stats)

	labels := make([]string, len(stats))
	for i, s := range stats {
		labels[i] = s.Label
	}
	assert.Equal(t, []string{"Spring", "Summer", "Autumn", "Fall session", "Winter", "Block A", "Teaching Period 1"}, labels)
}

func TestCourseSessions(t *testing.T) {
	courses := &stubCourseReader{sessions: []models.SessionStat{{Label: "Spring", CourseCount: 3}, {Label: "Autumn", CourseCount: 2}}}
	svc := newCourseService(courses, &stubReviewReader{}, nil)

	stats, _, err := svc.Sessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Spring", stats[0].Label)
	assert.Equal(t, 2, stats[1].CourseCount)
}
