package db

import (
	"time"

	"github.com/mnuddindev/disasterlink/pkg/logger"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// WithLogger routes gorm's SQL log into the application log file.
func WithLogger(logger *logger.Logger) DBOptions {
	return func(db *gorm.DB) error {
		db.Config.Logger = gormLogger.New(
			logger.Log,
			gormLogger.Config{
				SlowThreshold:             200 * time.Millisecond,
				LogLevel:                  gormLogger.Warn,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		)
		return nil
	}
}

// WithMaxConns bounds the connection pool. SQLite in-memory databases need exactly one.
func WithMaxConns(n int) DBOptions {
	return func(db *gorm.DB) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		sqlDB.SetMaxOpenConns(n)
		return nil
	}
}
