package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/revision-engine/api/swagger"
	"github.com/noah-isme/revision-engine/internal/handler"
	"github.com/noah-isme/revision-engine/internal/middleware"
	"github.com/noah-isme/revision-engine/pkg/config"
	"github.com/noah-isme/revision-engine/pkg/logger"
	corsmiddleware "github.com/noah-isme/revision-engine/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/revision-engine/pkg/middleware/requestid"
)

func newRouter(cfg *config.Config, logr *zap.Logger, a *app) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(a.metrics, "/metrics", "/health"))

	metricsHandler := handler.NewMetricsHandler(a.metrics, a.checks)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	revisions := handler.NewRevisionHandler(a.revisions, nil)
	if a.exports != nil {
		revisions = handler.NewRevisionHandler(a.revisions, a.exports)
	}

	api := r.Group(cfg.APIPrefix)
	api.GET("/exports/:token", middleware.OptionalJWT(a.auth), revisions.Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(a.auth))

	readers := secured.Group("")
	readers.Use(middleware.RBAC(middleware.Readers...))
	writers := secured.Group("")
	writers.Use(middleware.RBAC(middleware.Writers...))

	readers.GET("/metrics/summary", metricsHandler.Summary)

	revisions.Register(readers, writers)

	if a.pages != nil {
		pages := handler.NewPageHandler(a.pages)
		readers.GET("/pages", pages.List)
		readers.GET("/pages/:id", pages.Get)
		writers.POST("/pages", pages.Create)
		writers.PUT("/pages/:id", pages.Update)
		writers.DELETE("/pages/:id", pages.Delete)
	}
	if a.settings != nil {
		settings := handler.NewSettingHandler(a.settings)
		readers.GET("/settings", settings.List)
		readers.GET("/settings/:key", settings.Get)
		writers.PUT("/settings/:key", settings.Put)
		writers.DELETE("/settings/:key", settings.Delete)
	}

	return r
}
