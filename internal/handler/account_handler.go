package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-review-api/internal/models"
	"github.com/noah-isme/course-review-api/pkg/response"
)

type accountService interface {
	Reviews(ctx context.Context, authorID string) ([]models.Review, error)
	DeleteAccount(ctx context.Context, authorID string) error
}

// AccountHandler serves the caller's own data.
type AccountHandler struct {
	accounts accountService
}

// NewAccountHandler constructs the account handler.
func NewAccountHandler(accounts accountService) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// Reviews godoc
// @Summary Reviews written by the caller
// @Tags Account
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /me/reviews [get]
func (h *AccountHandler) Reviews(c *gin.Context) {
	author, err := authorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	reviews, err := h.accounts.Reviews(c.Request.Context(), author.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reviews, nil)
}

// Delete godoc
// @Summary Delete the caller's account and every review they wrote
// @Tags Account
// @Success 204
// @Router /me [delete]
func (h *AccountHandler) Delete(c *gin.Context) {
	author, err := authorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.accounts.DeleteAccount(c.Request.Context(), author.ID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
