package database

import (
	"context"
	"fmt"
	"strings"

	"cosmicwatch/config"
	"cosmicwatch/models"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database is the SQLite handle shared by the services.
type Database struct {
	Gorm   *gorm.DB
	Errors *ErrorCounters
	log    *zap.Logger
}

// Open opens the database named by cfg.DatabaseURL and migrates the schema.
func Open(cfg *config.Config, log *zap.Logger) (*Database, error) {
	return OpenPath(cfg.DatabaseURL, SQLiteOptionsFromConfig(cfg), cfg.LogLevel, log)
}

// OpenPath opens a SQLite file with explicit tuning. SQL statements are
// logged only at DEBUG.
func OpenPath(path string, opts SQLiteOptions, logLevel string, log *zap.Logger) (*Database, error) {
	if log == nil {
		log = zap.NewNop()
	}
	opts = opts.sanitized()

	level := logger.Warn
	if strings.EqualFold(logLevel, "DEBUG") {
		level = logger.Info
	}

	counters := &ErrorCounters{}
	db, err := gorm.Open(sqlite.Open(opts.DSN(path)), &gorm.Config{
		Logger: newGormLogger(log.Named("gorm"), level, counters),
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if err := opts.apply(db); err != nil {
		return nil, fmt.Errorf("tune database: %w", err)
	}

	if err := db.AutoMigrate(
		&models.Event{},
		&models.AppSetting{},
		&models.RefreshToken{},
		&models.AccessToken{},
	); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	log.Info("database initialized", zap.String("path", path))
	return &Database{Gorm: db, Errors: counters, log: log}, nil
}

// Ping reports whether the database is reachable.
func (d *Database) Ping(ctx context.Context) bool {
	if d == nil {
		return false
	}
	return Ping(ctx, d.Gorm)
}

// Close closes the connection pool.
func (d *Database) Close() error {
	if d == nil || d.Gorm == nil {
		return nil
	}
	sqlDB, err := d.Gorm.DB()
	if err != nil {
		return err
	}
	d.log.Info("closing database connection")
	return sqlDB.Close()
}
