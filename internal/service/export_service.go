package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/course-review-api/internal/models"
	appErrors "github.com/noah-isme/course-review-api/pkg/errors"
	"github.com/noah-isme/course-review-api/pkg/export"
	"github.com/noah-isme/course-review-api/pkg/storage"
)

// exportBatchSize is the page size used to walk the full ranking.
const exportBatchSize = 500

type rankingSource interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, error)
	Count(ctx context.Context, filter models.CourseFilter) (int, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportDownload is an opened export ready to stream.
type ExportDownload struct {
	File        *os.File
	Filename    string
	ContentType string
}

// ExportService renders course rankings and hands out signed download links.
type ExportService struct {
	courses rankingSource
	storage fileStorage
	signer  *storage.SignedURLSigner
	logger  *zap.Logger
	cfg     ExportConfig
	now     func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(courses rankingSource, files fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	return &ExportService{courses: courses, storage: files, signer: signer, logger: logger, cfg: cfg, now: time.Now}
}

// ExportRanking renders every course matching filter, in listing order, and stores the document.
func (s *ExportService) ExportRanking(ctx context.Context, filter models.CourseFilter, format export.Format) (*models.ExportResult, error) {
	renderer, err := export.RendererFor(format)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	if filter.Sort.Field != "" && !filter.Sort.Field.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported sort field %q", filter.Sort.Field))
	}
	filter.Faculties = normalizeLabels(filter.Faculties)
	filter.Sessions = normalizeLabels(filter.Sessions)

	courses, err := s.collect(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load ranking")
	}

	table := rankingTable(courses, s.now())
	payload, err := renderer.Render(table)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	id := uuid.NewString()
	name := fmt.Sprintf("ranking_%s_%s.%s", s.now().UTC().Format("20060102_150405"), id[:8], renderer.Extension())
	relPath, err := s.storage.Save(name, payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store export")
	}
	token, expiresAt, err := s.signer.Generate(id, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign export")
	}

	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	s.logger.Info("ranking exported", zap.String("export_id", id), zap.String("format", string(format)), zap.Int("rows", len(courses)))
	return &models.ExportResult{
		ID:          id,
		Format:      string(format),
		Rows:        len(courses),
		Token:       token,
		DownloadURL: fmt.Sprintf("%s/exports/%s", prefix, token),
		ExpiresAt:   expiresAt,
	}, nil
}

// Open validates a download token and opens the export it points to.
func (s *ExportService) Open(token string) (*ExportDownload, error) {
	signed, err := s.signer.Parse(token, false)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "download link expired")
		}
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export not found")
	}
	file, err := s.storage.Open(signed.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export")
	}
	contentType := "application/octet-stream"
	if format, err := export.ParseFormat(strings.TrimPrefix(filepath.Ext(signed.Path), ".")); err == nil {
		if renderer, err := export.RendererFor(format); err == nil {
			contentType = renderer.ContentType()
		}
	}
	return &ExportDownload{File: file, Filename: filepath.Base(signed.Path), ContentType: contentType}, nil
}

// Cleanup removes exports older than ttl, or the configured retention when ttl <= 0.
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	removed, err := s.storage.CleanupOlderThan(ttl)
	if err != nil {
		return removed, err
	}
	if len(removed) > 0 {
		s.logger.Info("old exports removed", zap.Int("count", len(removed)))
	}
	return removed, nil
}

func (s *ExportService) collect(ctx context.Context, filter models.CourseFilter) ([]models.Course, error) {
	total, err := s.courses.Count(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]models.Course, 0, total)
	filter.PageSize = exportBatchSize
	for filter.Page = 1; len(out) < total; filter.Page++ {
		batch, err := s.courses.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		out = append(out, batch...)
	}
	return out, nil
}

func rankingTable(courses []models.Course, generatedAt time.Time) export.Table {
	table := export.Table{
		Title: fmt.Sprintf("Course Ranking (%s)", generatedAt.UTC().Format("2006-01-02 15:04 MST")),
		Columns: []export.Column{
			{Header: "Rank", Width: 0.6},
			{Header: "Code", Width: 1},
			{Header: "Name", Width: 3.2},
			{Header: "Faculty", Width: 2},
			{Header: "Level", Width: 0.6},
			{Header: "Overall", Width: 0.8},
			{Header: "Enjoyment", Width: 0.9},
			{Header: "Usefulness", Width: 0.9},
			{Header: "Manageability", Width: 1.1},
			{Header: "Reviews", Width: 0.8},
		},
		Rows: make([][]string, 0, len(courses)),
	}
	for i, c := range courses {
		table.Rows = append(table.Rows, []string{
			strconv.Itoa(i + 1),
			c.Code,
			c.Name,
			c.Faculty,
			string(c.Level),
			strconv.FormatFloat(c.OverallRating, 'f', 1, 64),
			strconv.FormatFloat(c.Enjoyment, 'f', 1, 64),
			strconv.FormatFloat(c.Usefulness, 'f', 1, 64),
			strconv.FormatFloat(c.Manageability, 'f', 1, 64),
			strconv.Itoa(c.ReviewCount),
		})
	}
	return table
}
