package handler

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-review-api/internal/middleware"
	"github.com/noah-isme/course-review-api/internal/models"
	appErrors "github.com/noah-isme/course-review-api/pkg/errors"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

func authorFromContext(c *gin.Context) (models.Author, error) {
	claims := claimsFromContext(c)
	if claims == nil || claims.UserID == "" {
		return models.Author{}, appErrors.ErrUnauthorized
	}
	return models.Author{ID: claims.UserID, Username: claims.Username, Role: claims.Role}, nil
}

// queryInt parses an optional positive integer query parameter.
func queryInt(c *gin.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return 0, appErrors.Clone(appErrors.ErrValidation, "invalid "+name+" parameter")
	}
	return value, nil
}

// ascending interprets the order query parameter; fallback applies when it is absent.
func ascending(c *gin.Context, fallback bool) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(c.Query("order"))) {
	case "":
		return fallback, nil
	case "asc":
		return true, nil
	case "desc":
		return false, nil
	default:
		return false, appErrors.Clone(appErrors.ErrValidation, "order must be asc or desc")
	}
}
