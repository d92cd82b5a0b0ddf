package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-review-api/internal/middleware"
	"github.com/noah-isme/course-review-api/internal/models"
	appErrors "github.com/noah-isme/course-review-api/pkg/errors"
	"github.com/noah-isme/course-review-api/pkg/response"
)

type courseService interface {
	List(ctx context.Context, filter models.CourseFilter) (*models.CoursePage, bool, error)
	Summary(ctx context.Context, code string) (*models.Course, bool, error)
	Reviews(ctx context.Context, code string, filter models.ReviewFilter) (*models.ReviewPage, bool, error)
	Sessions(ctx context.Context) ([]models.SessionStat, bool, error)
}

// CourseHandler exposes the public course catalogue.
type CourseHandler struct {
	courses courseService
}

// NewCourseHandler constructs the course handler.
func NewCourseHandler(courses courseService) *CourseHandler {
	return &CourseHandler{courses: courses}
}

// List godoc
// @Summary List courses
// @Description Default order is level, offered first, overall rating desc, review count desc.
// @Tags Courses
// @Produce json
// @Param search query string false "Name substring"
// @Param faculty query []string false "Faculty filter" collectionFormat(multi)
// @Param session query []string false "Session label filter" collectionFormat(multi)
// @Param level query string false "UG or PG"
// @Param sort query string false "Sort field, prefix with - for descending"
// @Param order query string false "asc or desc"
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /courses [get]
func (h *CourseHandler) List(c *gin.Context) {
	filter, err := parseCourseFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	page, cacheHit, err := h.courses.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, page.Courses, &page.Pagination, middleware.CacheRead(c, "courses:list", cacheHit))
}

// Summary godoc
// @Summary Course summary with aggregate ratings
// @Tags Courses
// @Produce json
// @Param code path string true "Course code"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{code} [get]
func (h *CourseHandler) Summary(c *gin.Context) {
	course, cacheHit, err := h.courses.Summary(c.Request.Context(), c.Param("code"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil, middleware.CacheRead(c, "courses:summary:"+course.Code, cacheHit))
}

// Reviews godoc
// @Summary Reviews for a course
// @Tags Courses
// @Produce json
// @Param code path string true "Course code"
// @Param sort query string false "created_at, course_completion or overall_rating"
// @Param order query string false "asc or desc"
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{code}/reviews [get]
func (h *CourseHandler) Reviews(c *gin.Context) {
	filter, err := parseReviewFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	code := strings.ToUpper(strings.TrimSpace(c.Param("code")))
	page, cacheHit, err := h.courses.Reviews(c.Request.Context(), code, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, page.Reviews, &page.Pagination, middleware.CacheRead(c, "courses:reviews:"+code, cacheHit))
}

// Sessions godoc
// @Summary Distinct session labels with course counts
// @Tags Courses
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /courses/sessions [get]
func (h *CourseHandler) Sessions(c *gin.Context) {
	stats, cacheHit, err := h.courses.Sessions(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil, middleware.CacheRead(c, "courses:sessions", cacheHit))
}

func parseCourseFilter(c *gin.Context) (models.CourseFilter, error) {
	filter := models.CourseFilter{
		Search:    c.Query("search"),
		Faculties: c.QueryArray("faculty"),
		Sessions:  c.QueryArray("session"),
		Level:     models.CourseLevel(strings.ToUpper(strings.TrimSpace(c.Query("level")))),
	}
	if raw := strings.TrimSpace(c.Query("sort")); raw != "" {
		descending := strings.HasPrefix(raw, "-")
		filter.Sort.Field = models.CourseSortField(strings.TrimPrefix(raw, "-"))
		asc, err := ascending(c, !descending)
		if err != nil {
			return filter, err
		}
		filter.Sort.Descending = !asc
	}
	var err error
	if filter.Page, err = queryInt(c, "page"); err != nil {
		return filter, err
	}
	if filter.PageSize, err = queryInt(c, "limit"); err != nil {
		return filter, err
	}
	return filter, nil
}

func parseReviewFilter(c *gin.Context) (models.ReviewFilter, error) {
	filter := models.ReviewFilter{Sort: models.ReviewSortField(strings.TrimSpace(c.Query("sort")))}
	if filter.Sort != "" && !filter.Sort.Valid() {
		return filter, appErrors.Clone(appErrors.ErrValidation, "sort must be created_at, course_completion or overall_rating")
	}
	asc, err := ascending(c, filter.Sort == models.ReviewSortCourseCompletion)
	if err != nil {
		return filter, err
	}
	filter.Ascending = asc
	if filter.Page, err = queryInt(c, "page"); err != nil {
		return filter, err
	}
	if filter.PageSize, err = queryInt(c, "limit"); err != nil {
		return filter, err
	}
	return filter, nil
}
