package service

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/course-review-api/internal/models"
	appErrors "github.com/noah-isme/course-review-api/pkg/errors"
)

type courseReader interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, error)
	Count(ctx context.Context, filter models.CourseFilter) (int, error)
	FindByCode(ctx context.Context, code string) (*models.Course, error)
	SessionStats(ctx context.Context) ([]models.SessionStat, error)
}

type courseReviewReader interface {
	ListByCourse(ctx context.Context, filter models.ReviewFilter) ([]models.Review, error)
	CountByCourse(ctx context.Context, courseCode string) (int, error)
}

// CourseServiceConfig holds listing page sizes.
type CourseServiceConfig struct {
	PageSize    int
	MaxPageSize int
}

// CourseService serves the read side of the catalogue. It never writes aggregates.
type CourseService struct {
	courses courseReader
	reviews courseReviewReader
	cache   *CacheService
	logger  *zap.Logger
	config  CourseServiceConfig
}

// NewCourseService constructs a CourseService.
func NewCourseService(courses courseReader, reviews courseReviewReader, cache *CacheService, logger *zap.Logger, cfg CourseServiceConfig) *CourseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 12
	}
	if cfg.MaxPageSize < cfg.PageSize {
		cfg.MaxPageSize = cfg.PageSize
	}
	return &CourseService{courses: courses, reviews: reviews, cache: cache, logger: logger, config: cfg}
}

// List returns one page of courses. A page beyond the last one falls back to page 1.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) (*models.CoursePage, bool, error) {
	filter, err := s.normalizeCourseFilter(filter)
	if err != nil {
		return nil, false, err
	}
	page, hit, err := cached(ctx, s.cache, courseListCacheKey(filter), listGeneration, func(ctx context.Context) (*models.CoursePage, error) {
		return s.listCourses(ctx, filter)
	})
	return page, hit, err
}

func (s *CourseService) listCourses(ctx context.Context, filter models.CourseFilter) (*models.CoursePage, error) {
	total, err := s.courses.Count(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count courses")
	}
	pagination := models.NewPagination(filter.Page, filter.PageSize, total)
	if filter.Page > pagination.TotalPages {
		filter.Page = 1
		pagination.Page = 1
	}
	courses, err := s.courses.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	if courses == nil {
		courses = []models.Course{}
	}
	return &models.CoursePage{Courses: courses, Pagination: pagination}, nil
}

// Summary returns a course with its cached aggregate.
func (s *CourseService) Summary(ctx context.Context, code string) (*models.Course, bool, error) {
	code = normalizeCourseCode(code)
	return cached(ctx, s.cache, courseSummaryCachePrefix+code, courseGeneration(code), func(ctx context.Context) (*models.Course, error) {
		return s.findCourse(ctx, code)
	})
}

// Reviews returns one page of a course's reviews. Anonymous reviews hide their author.
func (s *CourseService) Reviews(ctx context.Context, code string, filter models.ReviewFilter) (*models.ReviewPage, bool, error) {
	filter.CourseCode = normalizeCourseCode(code)
	if filter.Sort == "" {
		filter.Sort = models.ReviewSortCreatedAt
	}
	if !filter.Sort.Valid() {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported review sort %q", filter.Sort))
	}
	filter.Page, filter.PageSize = s.clampPage(filter.Page, filter.PageSize)

	key := fmt.Sprintf("%s%s:%s:%t:%d:%d", courseReviewsCachePrefix, filter.CourseCode, filter.Sort, filter.Ascending, filter.Page, filter.PageSize)
	return cached(ctx, s.cache, key, courseGeneration(filter.CourseCode), func(ctx context.Context) (*models.ReviewPage, error) {
		if _, err := s.findCourse(ctx, filter.CourseCode); err != nil {
			return nil, err
		}
		total, err := s.reviews.CountByCourse(ctx, filter.CourseCode)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count reviews")
		}
		pagination := models.NewPagination(filter.Page, filter.PageSize, total)
		if filter.Page > pagination.TotalPages {
			filter.Page = 1
			pagination.Page = 1
		}
		reviews, err := s.reviews.ListByCourse(ctx, filter)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reviews")
		}
		for i := range reviews {
			if reviews[i].IsAnonymous {
				reviews[i].AuthorID = ""
				reviews[i].AuthorName = ""
			}
		}
		if reviews == nil {
			reviews = []models.Review{}
		}
		return &models.ReviewPage{Reviews: reviews, Pagination: pagination}, nil
	})
}

// Sessions returns the distinct session labels ordered by season, then alphabetically.
func (s *CourseService) Sessions(ctx context.Context) ([]models.SessionStat, bool, error) {
	return cached(ctx, s.cache, courseSessionsCacheKey, "", func(ctx context.Context) ([]models.SessionStat, error) {
		stats, err := s.courses.SessionStats(ctx)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
		}
		SortSessions(stats)
		if stats == nil {
			stats = []models.SessionStat{}
		}
		return stats, nil
	})
}

func (s *CourseService) findCourse(ctx context.Context, code string) (*models.Course, error) {
	course, err := s.courses.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

func (s *CourseService) normalizeCourseFilter(filter models.CourseFilter) (models.CourseFilter, error) {
	if filter.Sort.Field != "" && !filter.Sort.Field.Valid() {
		return filter, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported sort field %q", filter.Sort.Field))
	}
	if filter.Level != "" && !filter.Level.Valid() {
		return filter, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported level %q", filter.Level))
	}
	filter.Search = strings.TrimSpace(filter.Search)
	filter.Faculties = normalizeLabels(filter.Faculties)
	filter.Sessions = normalizeLabels(filter.Sessions)
	filter.Page, filter.PageSize = s.clampPage(filter.Page, filter.PageSize)
	return filter, nil
}

func (s *CourseService) clampPage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = s.config.PageSize
	}
	if size > s.config.MaxPageSize {
		size = s.config.MaxPageSize
	}
	return page, size
}

func normalizeLabels(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

func courseListCacheKey(filter models.CourseFilter) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%s|%t|%d|%d",
		strings.ToLower(filter.Search),
		strings.Join(filter.Faculties, ","),
		strings.Join(filter.Sessions, ","),
		filter.Level,
		filter.Sort.Field,
		filter.Sort.Descending,
		filter.Page,
		filter.PageSize,
	)
	sum := sha256.Sum256([]byte(raw))
	return courseListCachePrefix + hex.EncodeToString(sum[:12])
}

var seasonOrder = []struct {
	name  string
	order int
}{
	{"SPRING", 1},
	{"SUMMER", 2},
	{"AUTUMN", 3},
	{"FALL", 3},
	{"WINTER", 4},
}

func seasonRank(label string) int {
	upper := strings.ToUpper(label)
	for _, season := range seasonOrder {
		if strings.Contains(upper, season.name) {
			return season.order
		}
	}
	return 999
}

// SortSessions orders session labels by season, then alphabetically.
func SortSessions(stats []models.SessionStat) {
	sort.SliceStable(stats, func(i, j int) bool {
		ri, rj := seasonRank(stats[i].Label), seasonRank(stats[j].Label)
		if ri != rj {
			return ri < rj
		}
		return stats[i].Label < stats[j].Label
	})
}
