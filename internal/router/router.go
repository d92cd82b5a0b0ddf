package router

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/course-review-api/api/swagger"
	"github.com/noah-isme/course-review-api/internal/handler"
	"github.com/noah-isme/course-review-api/internal/middleware"
	"github.com/noah-isme/course-review-api/internal/models"
	"github.com/noah-isme/course-review-api/internal/service"
	"github.com/noah-isme/course-review-api/pkg/config"
	"github.com/noah-isme/course-review-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/course-review-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/course-review-api/pkg/middleware/requestid"
)

// Handlers groups the HTTP handlers mounted by the router.
type Handlers struct {
	Courses  *handler.CourseHandler
	Reviews  *handler.ReviewHandler
	Accounts *handler.AccountHandler
	Admin    *handler.AdminHandler
	Metrics  *handler.MetricsHandler
}

// Options carries the cross-cutting dependencies of the router.
type Options struct {
	Env            string
	APIPrefix      string
	AllowedOrigins []string
	Tokens         middleware.TokenValidator
	Metrics        *service.MetricsService
	Logger         *zap.Logger
}

// New builds the gin engine with every route registered.
func New(opts Options, h Handlers) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(opts.Logger))
	r.Use(corsmiddleware.New(opts.AllowedOrigins))
	r.Use(middleware.Metrics(opts.Metrics, "/health", "/ready", "/metrics", "/docs/*any"))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)

	if opts.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(opts.APIPrefix)

	api.GET("/courses", h.Courses.List)
	api.GET("/courses/sessions", h.Courses.Sessions)
	api.GET("/courses/:code", h.Courses.Summary)
	api.GET("/courses/:code/reviews", h.Courses.Reviews)
	api.GET("/exports/:token", h.Admin.Download)

	authed := api.Group("")
	authed.Use(middleware.JWT(opts.Tokens))
	authed.POST("/courses/:code/reviews", h.Reviews.Create)
	authed.GET("/courses/:code/reviews/mine", h.Reviews.Mine)
	authed.PUT("/reviews/:id", h.Reviews.Update)
	authed.DELETE("/reviews/:id", h.Reviews.Delete)
	authed.GET("/me/reviews", h.Accounts.Reviews)
	authed.DELETE("/me", h.Accounts.Delete)

	admin := authed.Group("/admin")
	admin.Use(middleware.RequireRoles(models.RoleAdmin))
	admin.POST("/aggregates/recompute", middleware.Audit(opts.Logger, "aggregates.recompute"), h.Admin.Recompute)
	admin.GET("/aggregates/verify", h.Admin.Verify)
	admin.POST("/exports", middleware.Audit(opts.Logger, "ranking.export"), h.Admin.Export)

	return r
}
