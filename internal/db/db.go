package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"dispatch-service/internal/config"
)

const connectTimeout = 5 * time.Second

// Open connects to the postgres database backing the kv_entries store, checks it is
// reachable and applies migrations.
func Open(ctx context.Context, cfg config.DBConfig, env string, log zerolog.Logger) (*gorm.DB, error) {
	log = log.With().Str("component", "postgres").Logger()

	database, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.New(zerologWriter{logger: log}, gormlogger.Config{
			SlowThreshold:             250 * time.Millisecond,
			IgnoreRecordNotFoundError: true,
			LogLevel:                  gormLogLevel(env),
		}),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := migrate(ctx, database); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	log.Info().Int("max_open_conns", cfg.MaxOpenConns).Msg("postgres store ready")
	return database, nil
}

// SQL statement tracing is only useful locally; elsewhere only slow queries and errors.
func gormLogLevel(env string) gormlogger.LogLevel {
	if env == "development" {
		return gormlogger.Info
	}
	return gormlogger.Warn
}

type zerologWriter struct {
	logger zerolog.Logger
}

func (w zerologWriter) Printf(msg string, args ...interface{}) {
	w.logger.Debug().Msgf(msg, args...)
}
