// Package app wires the certificate pipeline for the API server and the
// regeneration worker.
package app

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"certifica/issuance-backend/internal/archive"
	"certifica/issuance-backend/internal/certificates"
	"certifica/issuance-backend/internal/codes"
	"certifica/issuance-backend/internal/config"
	"certifica/issuance-backend/internal/render"
	"certifica/issuance-backend/internal/templates"
	"certifica/issuance-backend/pkg/storage"
)

// App holds the long-lived dependencies of a process.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	DB      *gorm.DB
	Storage storage.Client
	Service *certificates.Service

	closers []func() error
}

// NewLogger builds a production zap logger at level ("debug", "info", ...).
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// OpenDatabase connects to postgres and applies the pool settings.
func OpenDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.GetDatabaseURL()), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxConnections)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.MaxLifetime)

	return db, nil
}

// Migrate creates or updates every table the pipeline uses.
func Migrate(db *gorm.DB) error {
	if err := certificates.Migrate(db); err != nil {
		return fmt.Errorf("failed to migrate certificates: %w", err)
	}
	if err := templates.Migrate(db); err != nil {
		return fmt.Errorf("failed to migrate templates: %w", err)
	}
	return nil
}

// NewStorage returns the storage client selected by cfg.Driver.
func NewStorage(ctx context.Context, cfg config.StorageConfig) (storage.Client, error) {
	switch cfg.Driver {
	case "s3":
		return storage.NewS3Client(ctx, storage.S3Options{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			UsePathStyle:    cfg.UsePathStyle,
			PublicBaseURL:   cfg.PublicBaseURL,
			PresignExpiry:   cfg.PresignExpiry,
		})
	case "local":
		return storage.NewLocalClient(cfg.LocalDir, cfg.PublicBaseURL)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// New connects to the database and storage and builds the certificates
// service. reporter receives progress events and may be nil.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, reporter certificates.ProgressReporter) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	db, err := OpenDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}
	a.DB = db
	a.closers = append(a.closers, func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	if err := Migrate(db); err != nil {
		a.Close()
		return nil, err
	}

	store, err := NewStorage(ctx, cfg.Storage)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.Storage = store

	backend, err := render.NewBackend(cfg.Rendering.Format)
	if err != nil {
		a.Close()
		return nil, err
	}
	if c, ok := backend.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}

	assets := render.NewAssetCache(render.NewStorageLoader(store), cfg.Rendering.AssetCacheTTL)
	a.closers = append(a.closers, func() error {
		assets.Stop()
		return nil
	})

	a.Service = certificates.NewService(
		certificates.NewGormRepository(db),
		templates.NewResolver(templates.NewGormRepository(db)),
		render.NewRenderer(assets, backend, logger),
		store,
		codes.NewGenerator(cfg.Rendering.CodePrefix),
		archive.NewBuilder(logger),
		reporter,
		logger,
		certificates.Config{
			VerificationBaseURL: cfg.Rendering.VerificationBaseURL,
			ProgressInterval:    cfg.Rendering.ProgressInterval,
			MaxCodeAttempts:     cfg.Rendering.MaxCodeAttempts,
			LotPolicy:           certificates.FailurePolicy(cfg.Rendering.LotPolicy),
		},
	)

	logger.Info("Certificate pipeline ready",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("format", backend.Format()),
		zap.String("lot_policy", cfg.Rendering.LotPolicy),
		zap.Duration("asset_cache_ttl", cfg.Rendering.AssetCacheTTL))

	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("Failed to release resource", zap.Error(err))
		}
	}
	a.closers = nil
}
