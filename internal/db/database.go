// Package db owns the relational side of the durable synchroniser and
// seed loader: a gorm/postgres connection, schema migration limited to
// the three tables those components actually write (orders, trades,
// assets), and connection-pool stats for the health monitor's gauges.
package db

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/solidusx/matchcore/internal/config"
	"github.com/solidusx/matchcore/internal/db/models"
)

// zapGormWriter adapts gorm's logger.Writer interface onto zap.
type zapGormWriter struct {
	logger *zap.Logger
}

func (w *zapGormWriter) Printf(format string, args ...interface{}) {
	w.logger.Sugar().Debugf(format, args...)
}

// Connect opens the gorm/postgres connection, configures the pool, and
// auto-migrates the three synchroniser-owned tables.
func Connect(cfg config.RelationalConfig, zapLogger *zap.Logger) (*gorm.DB, error) {
	gormLogger := logger.New(&zapGormWriter{logger: zapLogger}, logger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})

	gdb, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, err
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := gdb.AutoMigrate(&models.Order{}, &models.Trade{}, &models.Asset{}); err != nil {
		return nil, err
	}

	return gdb, nil
}

// Ping is the relational-store liveness probe consumed by
// internal/health.
func Ping(ctx context.Context, gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// PoolStats exposes the stdlib *sql.DB connection pool counters so
// internal/health can publish them as Prometheus gauges.
func PoolStats(gdb *gorm.DB) (sql.DBStats, error) {
	sqlDB, err := gdb.DB()
	if err != nil {
		return sql.DBStats{}, err
	}
	return sqlDB.Stats(), nil
}
