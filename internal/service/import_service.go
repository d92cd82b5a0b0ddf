package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/course-review-api/internal/models"
	appErrors "github.com/noah-isme/course-review-api/pkg/errors"
)

type catalogueWriter interface {
	Upsert(ctx context.Context, course models.CourseUpsert) (bool, error)
	DeleteWhere(ctx context.Context, faculty string, level models.CourseLevel) (int64, error)
	DeleteAll(ctx context.Context) (int64, error)
}

// catalogueRecord is one course as exported by the handbook.
type catalogueRecord struct {
	Code           string    `json:"code"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	TeachingPeriod labelList `json:"teachingPeriod"`
	URLPath        string    `json:"URL_MAP_FOR_CONTENT"`
	Faculty        string    `json:"educationalAreaDisplay"`
}

// labelList accepts either a JSON list of strings or a single string.
type labelList []string

func (l *labelList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if data[0] == '"' {
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		if single == "" {
			*l = nil
			return nil
		}
		*l = labelList{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*l = list
	return nil
}

// ImportService loads handbook exports into the catalogue. It only touches
// descriptive course fields; aggregates stay owned by the rating aggregator.
type ImportService struct {
	courses     catalogueWriter
	cache       *CacheService
	validator   *validator.Validate
	logger      *zap.Logger
	handbookURL string
}

// NewImportService constructs an ImportService.
func NewImportService(courses catalogueWriter, cache *CacheService, validate *validator.Validate, logger *zap.Logger, handbookURL string) *ImportService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImportService{courses: courses, cache: cache, validator: validate, logger: logger, handbookURL: handbookURL}
}

// ImportFile imports every course in a JSON file at the given level.
func (s *ImportService) ImportFile(ctx context.Context, path string, level models.CourseLevel) (*models.ImportResult, error) {
	if !level.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported level %q", level))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, fmt.Sprintf("cannot read %s", path))
	}
	records, err := parseCatalogue(data)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, fmt.Sprintf("cannot parse %s", path))
	}

	result, err := s.importRecords(ctx, filepath.Base(path), records, level)
	if err != nil {
		return nil, err
	}
	result.Files = 1
	s.cache.InvalidateCatalogue(ctx)
	return result, nil
}

// ImportDir imports every .json file in dir. Unreadable files are reported and skipped.
func (s *ImportService) ImportDir(ctx context.Context, dir string, level models.CourseLevel) (*models.ImportResult, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid folder")
	}
	if len(paths) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("no JSON files found in %s", dir))
	}
	sort.Strings(paths)

	total := &models.ImportResult{}
	for _, path := range paths {
		result, err := s.ImportFile(ctx, path, level)
		if err != nil {
			if appErrors.Is(err, appErrors.ErrValidation) {
				total.Errors = append(total.Errors, err.Error())
				continue
			}
			return total, err
		}
		total.Merge(*result)
	}
	return total, nil
}

// DeleteCourses removes courses matching faculty and/or level. Their reviews go with them.
func (s *ImportService) DeleteCourses(ctx context.Context, faculty string, level models.CourseLevel) (int64, error) {
	faculty = strings.TrimSpace(faculty)
	if faculty == "" && level == "" {
		return 0, appErrors.Clone(appErrors.ErrValidation, "faculty or level is required")
	}
	if level != "" && !level.Valid() {
		return 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported level %q", level))
	}
	deleted, err := s.courses.DeleteWhere(ctx, faculty, level)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete courses")
	}
	s.cache.InvalidateCatalogue(ctx)
	s.logger.Info("courses deleted", zap.String("faculty", faculty), zap.String("level", string(level)), zap.Int64("count", deleted))
	return deleted, nil
}

// DeleteAllCourses empties the catalogue.
func (s *ImportService) DeleteAllCourses(ctx context.Context) (int64, error) {
	deleted, err := s.courses.DeleteAll(ctx)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete courses")
	}
	s.cache.InvalidateCatalogue(ctx)
	s.logger.Info("all courses deleted", zap.Int64("count", deleted))
	return deleted, nil
}

func (s *ImportService) importRecords(ctx context.Context, source string, records []catalogueRecord, level models.CourseLevel) (*models.ImportResult, error) {
	result := &models.ImportResult{}
	for i, rec := range records {
		code := normalizeCourseCode(rec.Code)
		title := strings.TrimSpace(rec.Title)
		if code == "" || title == "" {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: record %d: missing code or title", source, i))
			continue
		}

		course := models.CourseUpsert{
			Code:          code,
			Name:          title,
			Description:   strings.TrimSpace(rec.Description),
			Faculty:       strings.TrimSpace(rec.Faculty),
			PageReference: s.pageReference(rec.URLPath),
			Sessions:      normalizeSessions(rec.TeachingPeriod),
			Level:         level,
		}
		if err := s.validator.Struct(course); err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s: %v", source, code, err))
			continue
		}

		created, err := s.courses.Upsert(ctx, course)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, fmt.Sprintf("failed to save %s", code))
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}
		s.logger.Debug("course imported", zap.String("course_code", code), zap.Bool("created", created), zap.String("level", level.Display()))
	}
	return result, nil
}

func (s *ImportService) pageReference(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(s.handbookURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func normalizeSessions(labels []string) []string {
	out := make([]string, 0, len(labels))
	for _, label := range labels {
		if label = strings.TrimSpace(label); label != "" {
			out = append(out, label)
		}
	}
	return out
}

// parseCatalogue accepts a list of courses, an object wrapping the list under
// subjects, courses or data, or a single course object.
func parseCatalogue(data []byte) ([]catalogueRecord, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty document")
	}

	var records []catalogueRecord
	if data[0] == '[' {
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, err
		}
		return records, nil
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, err
	}
	for _, key := range []string{"subjects", "courses", "data"} {
		raw, ok := wrapper[key]
		if !ok {
			continue
		}
		if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '[' {
			continue
		}
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		return records, nil
	}

	var single catalogueRecord
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, err
	}
	return []catalogueRecord{single}, nil
}
