package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/revision-engine/internal/handler"
	"github.com/noah-isme/revision-engine/internal/models"
	"github.com/noah-isme/revision-engine/internal/repository"
	"github.com/noah-isme/revision-engine/internal/revision"
	"github.com/noah-isme/revision-engine/internal/service"
	"github.com/noah-isme/revision-engine/pkg/cache"
	"github.com/noah-isme/revision-engine/pkg/config"
	"github.com/noah-isme/revision-engine/pkg/database"
	"github.com/noah-isme/revision-engine/pkg/logger"
	"github.com/noah-isme/revision-engine/pkg/storage"
)

// @title Revision Engine API
// @version 1.0.0
// @description Append-only revision ledger with history, diff, revert and publish.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Database.MigrateOnStart {
		if err := database.Migrate(cfg.Database, logr); err != nil {
			logr.Fatal("database migration failed", zap.Error(err))
		}
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, running without cache and events", zap.Error(err))
		redisClient = nil
	}

	app := buildApp(cfg, logr, db, redisClient)
	app.start(ctx)
	defer app.stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           newRouter(cfg, logr, app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

type app struct {
	cfg    *config.Config
	logger *zap.Logger

	metrics   *service.MetricsService
	auth      *service.AuthService
	revisions *service.RevisionService
	exports   *service.ExportService
	events    *service.RevisionEvents
	pages     *service.PageService
	settings  *service.SettingService
	checks    map[string]handler.Pinger
	cacheRepo *repository.CacheRepository
}

func buildApp(cfg *config.Config, logr *zap.Logger, db *sqlx.DB, redisClient *redis.Client) *app {
	metrics := service.NewMetricsService()
	ledger := repository.NewRevisionRepository(db)

	a := &app{
		cfg:     cfg,
		logger:  logr,
		metrics: metrics,
		auth: service.NewAuthService(service.AuthConfig{
			AccessTokenSecret: cfg.JWT.Secret,
			Issuer:            cfg.JWT.Issuer,
		}),
		checks: map[string]handler.Pinger{"postgres": handler.PingFunc(db.PingContext)},
	}

	var sequencer interface {
		NextVersion(ctx context.Context, ref revision.EntityRef) (int64, error)
	} = ledger
	var cacheRepo service.CacheRepository
	if redisClient != nil {
		a.cacheRepo = repository.NewCacheRepository(redisClient, logr)
		cacheRepo = a.cacheRepo
		a.checks["redis"] = handler.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
		if cfg.Revisions.Sequencer == config.SequencerRedis {
			sequencer = repository.NewRedisVersionSequencer(redisClient, ledger)
		}
	} else if cfg.Revisions.Sequencer == config.SequencerRedis {
		logr.Warn("redis sequencer requested without redis, falling back to sql")
	}

	params := service.RevisionServiceParams{
		Ledger:    ledger,
		Sequencer: sequencer,
		Tx:        database.NewTxRunner(db),
		Registry:  revision.NewRegistry(),
		Cache:     service.NewCacheService(cacheRepo, metrics, cfg.Revisions.CacheTTL, logr, cacheRepo != nil),
		Metrics:   metrics,
		Logger:    logr,
		Config: service.RevisionServiceConfig{
			ConflictRetries: cfg.Revisions.ConflictRetries,
			HistoryLimit:    cfg.Revisions.HistoryLimit,
			CacheTTL:        cfg.Revisions.CacheTTL,
		},
	}
	if cfg.Revisions.EventsEnabled && a.cacheRepo != nil {
		a.events = service.NewRevisionEvents(a.cacheRepo, metrics, logr, service.RevisionEventsConfig{
			Workers:    cfg.Revisions.EventWorkers,
			MaxRetries: cfg.Revisions.EventRetries,
		})
		params.Events = a.events
	}
	a.revisions = service.NewRevisionService(params)

	if cfg.Samples.Enabled {
		validate := validator.New()
		a.pages = service.NewPageService(repository.NewPageRepository(db), a.revisions, validate, logr)
		a.settings = service.NewSettingService(repository.NewSettingRepository(db), a.revisions, validate, logr)
		a.revisions.Registry().MustRegister(models.EntityTypePage, a.pages)
		a.revisions.Registry().MustRegister(models.EntityTypeSetting, a.settings)
	}

	if cfg.Exports.Enabled {
		files, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			logr.Warn("export storage unavailable, serving inline exports only", zap.Error(err))
			a.exports = service.NewExportService(ledger, nil, nil, service.ExportConfig{APIPrefix: cfg.APIPrefix}, logr, nil, nil)
		} else {
			signer := storage.NewSignedURLSigner(cfg.Exports.SigningSecret, cfg.Exports.ResultTTL)
			a.exports = service.NewExportService(ledger, files, signer, service.ExportConfig{
				APIPrefix: cfg.APIPrefix,
				ResultTTL: cfg.Exports.ResultTTL,
			}, logr, nil, nil)
		}
	}

	return a
}

func (a *app) start(ctx context.Context) {
	if a.events != nil {
		a.events.Start(ctx)
	}
	if a.exports != nil && a.cfg.Exports.CleanupInterval > 0 {
		go a.cleanupExports(ctx)
	}
}

func (a *app) stop() {
	if a.events != nil {
		a.events.Stop()
	}
	if a.cacheRepo != nil {
		if err := a.cacheRepo.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}

func (a *app) cleanupExports(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Exports.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := a.exports.Cleanup(0)
			if err != nil {
				a.logger.Warn("export cleanup failed", zap.Error(err))
				continue
			}
			if len(removed) > 0 {
				a.logger.Info("expired exports removed", zap.Int("count", len(removed)))
			}
		}
	}
}
