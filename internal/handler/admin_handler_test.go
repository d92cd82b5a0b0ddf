package handler

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-review-api/internal/models"
	"github.com/noah-isme/course-review-api/internal/service"
	appErrors "github.com/noah-isme/course-review-api/pkg/errors"
	"github.com/noah-isme/course-review-api/pkg/export"
)

type fakeAggregates struct {
	recomputed []string
	all        int
}

func (f *fakeAggregates) Recompute(_ context.Context, code string) (models.CourseAggregate, error) {
	if code == "NOPE" {
		return models.CourseAggregate{}, appErrors.Clone(appErrors.ErrNotFound, "course not found")
	}
	f.recomputed = append(f.recomputed, code)
	return models.CourseAggregate{OverallRating: 4.5, ReviewCount: 2}, nil
}

func (f *fakeAggregates) RecomputeAll(context.Context) (*models.RecomputeReport, error) {
	f.all++
	return &models.RecomputeReport{Courses: 3, Succeeded: 2, Failed: []string{"MATH1131"}}, nil
}

func (f *fakeAggregates) Verify(context.Context) (*models.RecomputeReport, error) {
	return &models.RecomputeReport{Courses: 3, Drifted: []string{"COMP1511"}}, nil
}

type fakeExporter struct {
	filter models.CourseFilter
	format export.Format
	path   string
}

func (f *fakeExporter) ExportRanking(_ context.Context, filter models.CourseFilter, format export.Format) (*models.ExportResult, error) {
	f.filter, f.format = filter, format
	return &models.ExportResult{ID: "e-1", Format: string(format), Token: "tok"}, nil
}

func (f *fakeExporter) Open(token string) (*service.ExportDownload, error) {
	if token != "tok" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export not found")
	}
	file, err := os.Open(f.path)
	if err != nil {
		return nil, err
	}
	return &service.ExportDownload{File: file, Filename: filepath.Base(f.path), ContentType: "text/csv"}, nil
}

func TestAdminHandlerRecompute(t *testing.T) {
	aggs := &fakeAggregates{}
	h := NewAdminHandler(aggs, nil)

	c, rec := newTestContext(http.MethodPost, "/admin/aggregates/recompute", `{"course":"comp1511"}`)
	h.Recompute(c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"comp1511"}, aggs.recomputed)
	assert.Contains(t, string(decode(t, rec).Data), `"course_code":"COMP1511"`)

	c, rec = newTestContext(http.MethodPost, "/admin/aggregates/recompute", `{"all":true}`)
	h.Recompute(c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, aggs.all)
	assert.Contains(t, string(decode(t, rec).Data), "MATH1131")

	for _, body := range []string{`{}`, `{"course":"COMP1511","all":true}`} {
		c, rec = newTestContext(http.MethodPost, "/admin/aggregates/recompute", body)
		h.Recompute(c)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	c, rec = newTestContext(http.MethodPost, "/admin/aggregates/recompute", `{"course":"NOPE"}`)
	h.Recompute(c)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminHandlerVerify(t *testing.T) {
	c, rec := newTestContext(http.MethodGet, "/admin/aggregates/verify", "")
	NewAdminHandler(&fakeAggregates{}, nil).Verify(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(decode(t, rec).Data), `"drifted":["COMP1511"]`)
}

func TestAdminHandlerExport(t *testing.T) {
	exporter := &fakeExporter{}
	h := NewAdminHandler(&fakeAggregates{}, exporter)

	c, rec := newTestContext(http.MethodPost, "/admin/exports", `{"format":"PDF","faculties":["Engineering"],"level":"ug","sort":"-overall_rating"}`)
	h.Export(c)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, export.FormatPDF, exporter.format)
	assert.Equal(t, models.LevelUndergraduate, exporter.filter.Level)
	assert.Equal(t, models.CourseSort{Field: models.CourseSortOverallRating, Descending: true}, exporter.filter.Sort)

	c, rec = newTestContext(http.MethodPost, "/admin/exports", `{"format":"xlsx"}`)
	h.Export(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	c, rec = newTestContext(http.MethodPost, "/admin/exports", `{"format":"csv"}`)
	NewAdminHandler(&fakeAggregates{}, nil).Export(c)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminHandlerDownload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ranking.csv")
	require.NoError(t, os.WriteFile(path, []byte("Rank,Code\n1,COMP1511\n"), 0o600))
	h := NewAdminHandler(&fakeAggregates{}, &fakeExporter{path: path})

	c, rec := newTestContext(http.MethodGet, "/exports/tok", "")
	c.Params = append(c.Params, paramsFor("token", "tok")...)
	h.Download(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="ranking.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "Rank,Code\n1,COMP1511\n", rec.Body.String())

	c, rec = newTestContext(http.MethodGet, "/exports/forged", "")
	c.Params = append(c.Params, paramsFor("token", "forged")...)
	h.Download(c)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type failingPinger struct{ err error }

func (p failingPinger) PingContext(context.Context) error { return p.err }

func TestMetricsHandlerReady(t *testing.T) {
	c, rec := newTestContext(http.MethodGet, "/ready", "")
	NewMetricsHandler(nil, failingPinger{}).Ready(c)
	assert.Equal(t, http.StatusOK, rec.Code)

	c, rec = newTestContext(http.MethodGet, "/ready", "")
	NewMetricsHandler(nil, failingPinger{err: errors.New("connection refused")}).Ready(c)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	c, rec = newTestContext(http.MethodGet, "/metrics", "")
	NewMetricsHandler(nil, nil).Prometheus(c)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	c, rec = newTestContext(http.MethodGet, "/metrics", "")
	NewMetricsHandler(service.NewMetricsService(), nil).Prometheus(c)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "goroutines_total")
}
