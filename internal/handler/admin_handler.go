package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-review-api/internal/models"
	"github.com/noah-isme/course-review-api/internal/service"
	appErrors "github.com/noah-isme/course-review-api/pkg/errors"
	"github.com/noah-isme/course-review-api/pkg/export"
	"github.com/noah-isme/course-review-api/pkg/response"
)

type aggregateAdmin interface {
	Recompute(ctx context.Context, code string) (models.CourseAggregate, error)
	RecomputeAll(ctx context.Context) (*models.RecomputeReport, error)
	Verify(ctx context.Context) (*models.RecomputeReport, error)
}

type rankingExporter interface {
	ExportRanking(ctx context.Context, filter models.CourseFilter, format export.Format) (*models.ExportResult, error)
	Open(token string) (*service.ExportDownload, error)
}

type recomputeRequest struct {
	Course string `json:"course"`
	All    bool   `json:"all"`
}

type exportRequest struct {
	Format    string   `json:"format"`
	Search    string   `json:"search"`
	Faculties []string `json:"faculties"`
	Sessions  []string `json:"sessions"`
	Level     string   `json:"level"`
	Sort      string   `json:"sort"`
}

// AdminHandler exposes operator endpoints for aggregates and exports.
type AdminHandler struct {
	aggregates aggregateAdmin
	exports    rankingExporter
}

// NewAdminHandler constructs the admin handler. exports may be nil when exporting is disabled.
func NewAdminHandler(aggregates aggregateAdmin, exports rankingExporter) *AdminHandler {
	return &AdminHandler{aggregates: aggregates, exports: exports}
}

// Recompute godoc
// @Summary Recompute stored aggregates for one course or every course
// @Tags Admin
// @Accept json
// @Produce json
// @Param payload body recomputeRequest true "Either course or all"
// @Success 200 {object} response.Envelope
// @Router /admin/aggregates/recompute [post]
func (h *AdminHandler) Recompute(c *gin.Context) {
	var req recomputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	req.Course = strings.TrimSpace(req.Course)
	if (req.Course == "") == !req.All {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "specify exactly one of course or all"))
		return
	}

	if req.All {
		report, err := h.aggregates.RecomputeAll(c.Request.Context())
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, report, nil)
		return
	}

	agg, err := h.aggregates.Recompute(c.Request.Context(), req.Course)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"course_code": strings.ToUpper(req.Course), "aggregate": agg}, nil)
}

// Verify godoc
// @Summary Report courses whose stored aggregate drifted from their reviews
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/aggregates/verify [get]
func (h *AdminHandler) Verify(c *gin.Context) {
	report, err := h.aggregates.Verify(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// Export godoc
// @Summary Export the course ranking as CSV or PDF
// @Tags Admin
// @Accept json
// @Produce json
// @Param payload body exportRequest true "Format and listing filter"
// @Success 201 {object} response.Envelope
// @Router /admin/exports [post]
func (h *AdminHandler) Export(c *gin.Context) {
	if h.exports == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "exports are disabled"))
		return
	}
	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	format, err := export.ParseFormat(req.Format)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, err.Error()))
		return
	}
	filter := models.CourseFilter{
		Search:    req.Search,
		Faculties: req.Faculties,
		Sessions:  req.Sessions,
		Level:     models.CourseLevel(strings.ToUpper(strings.TrimSpace(req.Level))),
	}
	if filter.Level != "" && !filter.Level.Valid() {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported level %q", req.Level)))
		return
	}
	if raw := strings.TrimSpace(req.Sort); raw != "" {
		filter.Sort = models.CourseSort{
			Field:      models.CourseSortField(strings.TrimPrefix(raw, "-")),
			Descending: strings.HasPrefix(raw, "-"),
		}
	}
	result, err := h.exports.ExportRanking(c.Request.Context(), filter, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Download godoc
// @Summary Download a generated export using its signed token
// @Tags Exports
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200
// @Failure 404 {object} response.Envelope
// @Router /exports/{token} [get]
func (h *AdminHandler) Download(c *gin.Context) {
	if h.exports == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "exports are disabled"))
		return
	}
	download, err := h.exports.Open(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.File.Close()

	info, err := download.File.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read export"))
		return
	}
	c.DataFromReader(http.StatusOK, info.Size(), download.ContentType, download.File, map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename="%s"`, download.Filename),
	})
}
