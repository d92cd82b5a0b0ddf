package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/course-review-api/internal/handler"
	"github.com/noah-isme/course-review-api/internal/models"
	appErrors "github.com/noah-isme/course-review-api/pkg/errors"
)

type stubTokens struct{}

func (stubTokens) ValidateToken(token string) (*models.JWTClaims, error) {
	switch token {
	case "student":
		return &models.JWTClaims{UserID: "u-1", Role: models.RoleStudent}, nil
	case "admin":
		return &models.JWTClaims{UserID: "u-2", Role: models.RoleAdmin}, nil
	}
	return nil, appErrors.ErrUnauthorized
}

func newTestRouter(env string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return New(Options{Env: env, APIPrefix: "/api/v1", Tokens: stubTokens{}}, Handlers{
		Courses:  handler.NewCourseHandler(nil),
		Reviews:  handler.NewReviewHandler(nil),
		Accounts: handler.NewAccountHandler(nil),
		Admin:    handler.NewAdminHandler(nil, nil),
		Metrics:  handler.NewMetricsHandler(nil, nil),
	})
}

func serve(r *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRoutesRegistered(t *testing.T) {
	r := newTestRouter("development")
	registered := make(map[string]bool)
	for _, route := range r.Routes() {
		registered[route.Method+" "+route.Path] = true
	}
	for _, want := range []string{
		"GET /health",
		"GET /ready",
		"GET /metrics",
		"GET /docs/*any",
		"GET /api/v1/courses",
		"GET /api/v1/courses/sessions",
		"GET /api/v1/courses/:code",
		"GET /api/v1/courses/:code/reviews",
		"POST /api/v1/courses/:code/reviews",
		"GET /api/v1/courses/:code/reviews/mine",
		"PUT /api/v1/reviews/:id",
		"DELETE /api/v1/reviews/:id",
		"GET /api/v1/me/reviews",
		"DELETE /api/v1/me",
		"POST /api/v1/admin/aggregates/recompute",
		"GET /api/v1/admin/aggregates/verify",
		"POST /api/v1/admin/exports",
		"GET /api/v1/exports/:token",
	} {
		assert.True(t, registered[want], want)
	}
}

func TestProductionHidesDocs(t *testing.T) {
	r := newTestRouter("production")
	for _, route := range r.Routes() {
		assert.NotEqual(t, "/docs/*any", route.Path)
	}
	gin.SetMode(gin.TestMode)
}

func TestAuthenticationBoundaries(t *testing.T) {
	r := newTestRouter("development")

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodPost, "/api/v1/courses/COMP1511/reviews", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodDelete, "/api/v1/me", "forged").Code)
	assert.Equal(t, http.StatusForbidden, serve(r, http.MethodGet, "/api/v1/admin/aggregates/verify", "student").Code)
	assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodPost, "/api/v1/admin/aggregates/recompute", "admin").Code)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/api/v1/exports/anything", "").Code)
}
