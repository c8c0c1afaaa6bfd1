package app

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-health-api/internal/repository"
	"github.com/noah-isme/campus-health-api/internal/service"
	"github.com/noah-isme/campus-health-api/pkg/cache"
	"github.com/noah-isme/campus-health-api/pkg/config"
	"github.com/noah-isme/campus-health-api/pkg/database"
	"github.com/noah-isme/campus-health-api/pkg/export"
	"github.com/noah-isme/campus-health-api/pkg/storage"
)

// Container holds the wired services shared by the server and the admin CLI.
type Container struct {
	Config  *config.Config
	Logger  *zap.Logger
	DB      *sqlx.DB
	Redis   *redis.Client
	Metrics *service.MetricsService

	Years         *service.YearService
	Records       *service.RecordService
	Certification *service.CertificationService
	Stamper       *service.AppointmentStamper
	Notifications *service.NotificationService
	Documents     *repository.CertificationRepository
	Artifacts     *storage.LocalStorage
	Signer        *storage.SignedURLSigner
}

// New connects to the backing stores and wires every service.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Container, error) {
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	c := &Container{Config: cfg, Logger: logger, DB: db, Metrics: service.NewMetricsService()}

	var cacheRepo service.CacheRepository
	if cfg.Redis.Enabled && cfg.Calendar.CacheEnabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logger.Warn("redis unavailable, term definitions will not be cached", zap.Error(err))
		} else {
			c.Redis = client
			cacheRepo = repository.NewCacheRepository(client, logger)
		}
	}
	definitionCache := service.NewCacheService(cacheRepo, c.Metrics, cfg.Calendar.CacheTTL, logger, cacheRepo != nil)

	artifacts, err := storage.NewLocalStorage(cfg.Storage.ArtifactDir)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init artifact storage: %w", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Storage.SignedURLSecret, cfg.Storage.SignedURLTTL)
	c.Artifacts, c.Signer = artifacts, signer

	audit := repository.NewAuditRepository(db)
	records := repository.NewRecordRepository(db)
	c.Documents = repository.NewCertificationRepository(db)

	c.Years = service.NewYearService(repository.NewYearRepository(db), definitionCache, cfg.Calendar.CacheTTL, audit, validator.New(), logger.Named("years"))
	c.Records = service.NewRecordService(records, repository.NewSubjectRepository(db), c.Years, logger.Named("records"),
		service.WithRecordAudit(audit),
		service.WithRecordMetrics(c.Metrics),
		service.WithRecordArtifacts(artifacts))

	c.Notifications = service.NewNotificationService(service.NewLogNotifier(signer, logger.Named("notify")), cfg.Notifications, logger.Named("notifications"))
	renderer := service.NewPDFCertificateRenderer(export.NewCertificateRenderer(), c.Years, cfg.Workflow.Issuer)
	c.Certification = service.NewCertificationService(c.Documents, records, renderer, artifacts,
		service.CertificationConfig{VerifyThreshold: cfg.Workflow.VerifyThreshold, RenderTimeout: cfg.Workflow.RenderTimeout},
		logger.Named("certification"),
		service.WithCertificationNotifier(c.Notifications),
		service.WithCertificationAudit(audit),
		service.WithCertificationMetrics(c.Metrics))

	c.Stamper = service.NewAppointmentStamper(repository.NewAppointmentRepository(db), c.Years, c.Metrics, logger.Named("stamper"))
	return c, nil
}

// Ping checks the database and, when configured, redis.
func (c *Container) Ping(ctx context.Context) error {
	if err := c.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if c.Redis != nil {
		if err := c.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close releases the connections.
func (c *Container) Close() {
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.DB != nil {
		_ = c.DB.Close()
	}
}
