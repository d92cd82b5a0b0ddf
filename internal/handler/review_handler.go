package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-review-api/internal/models"
	appErrors "github.com/noah-isme/course-review-api/pkg/errors"
	"github.com/noah-isme/course-review-api/pkg/response"
)

type reviewService interface {
	Create(ctx context.Context, courseCode string, author models.Author, req models.ReviewRequest) (*models.Review, error)
	Update(ctx context.Context, reviewID string, author models.Author, req models.ReviewRequest) (*models.Review, error)
	Delete(ctx context.Context, reviewID string, author models.Author) error
	Mine(ctx context.Context, courseCode, authorID string) (*models.Review, error)
}

// ReviewHandler handles review mutations for authenticated students.
type ReviewHandler struct {
	reviews reviewService
}

// NewReviewHandler constructs the review handler.
func NewReviewHandler(reviews reviewService) *ReviewHandler {
	return &ReviewHandler{reviews: reviews}
}

// Create godoc
// @Summary Submit a review for a course
// @Tags Reviews
// @Accept json
// @Produce json
// @Param code path string true "Course code"
// @Param payload body models.ReviewRequest true "Review payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /courses/{code}/reviews [post]
func (h *ReviewHandler) Create(c *gin.Context) {
	author, err := authorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req models.ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	review, err := h.reviews.Create(c.Request.Context(), c.Param("code"), author, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, review)
}

// Mine godoc
// @Summary The caller's review for a course
// @Tags Reviews
// @Produce json
// @Param code path string true "Course code"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{code}/reviews/mine [get]
func (h *ReviewHandler) Mine(c *gin.Context) {
	author, err := authorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	review, err := h.reviews.Mine(c.Request.Context(), c.Param("code"), author.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, review, nil)
}

// Update godoc
// @Summary Replace the content of the caller's review
// @Tags Reviews
// @Accept json
// @Produce json
// @Param id path string true "Review ID"
// @Param payload body models.ReviewRequest true "Review payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /reviews/{id} [put]
func (h *ReviewHandler) Update(c *gin.Context) {
	author, err := authorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req models.ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	review, err := h.reviews.Update(c.Request.Context(), c.Param("id"), author, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, review, nil)
}

// Delete godoc
// @Summary Delete the caller's review
// @Tags Reviews
// @Param id path string true "Review ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /reviews/{id} [delete]
func (h *ReviewHandler) Delete(c *gin.Context) {
	author, err := authorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.reviews.Delete(c.Request.Context(), c.Param("id"), author); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
