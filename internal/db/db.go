package db

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mnuddindev/disasterlink/pkg/logger"
	"github.com/mnuddindev/disasterlink/pkg/utils"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var (
	DBInstance *gorm.DB
	Once       sync.Once
	DBMu       sync.Mutex
)

type DBOptions func(*gorm.DB) error

// Dialector picks the gorm driver for the configured DB_DRIVER.
func Dialector(driver, dsn string) gorm.Dialector {
	switch driver {
	case "sqlite":
		return sqlite.Open(dsn)
	default:
		return postgres.Open(dsn)
	}
}

// Open connects and migrates without touching the process-wide instance.
func Open(ctx context.Context, dialector gorm.Dialector, models []interface{}, opts ...DBOptions) (*gorm.DB, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, utils.WrapError(err, utils.ErrInternalServerError.Code, "DB initialization canceled")
	}

	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, utils.NewError(utils.ErrInternalServerError.Code, "Failed to connect to Database", err.Error())
	}

	for _, opt := range opts {
		if err := opt(db); err != nil {
			return nil, utils.NewError(utils.ErrInternalServerError.Code, "Failed to apply DB Options", err.Error())
		}
	}

	select {
	case <-ctx.Done():
		return nil, utils.WrapError(ctx.Err(), utils.ErrInternalServerError.Code, "db migration canceled")
	default:
		if err := db.WithContext(ctx).AutoMigrate(models...); err != nil {
			return nil, utils.NewError(utils.ErrInternalServerError.Code, "Failed to Migrate models", err.Error())
		}
	}
	return db, nil
}

func NewDB(ctx context.Context, dialector gorm.Dialector, models []interface{}, opts ...DBOptions) (*gorm.DB, error) {
	var InitErr error
	Once.Do(func() {
		db, err := Open(ctx, dialector, models, opts...)
		if err != nil {
			InitErr = err
			return
		}

		DBMu.Lock()
		DBInstance = db
		DBMu.Unlock()
	})

	if InitErr != nil {
		return nil, InitErr
	}

	if DBInstance == nil {
		return nil, utils.NewError(utils.ErrInternalServerError.Code, "Database not initialized")
	}

	return DBInstance, nil
}

func GetDB() *gorm.DB {
	DBMu.Lock()
	defer DBMu.Unlock()

	if DBInstance == nil {
		panic("Database connection not initialized; call NewDB first")
	}
	return DBInstance
}

func CloseDB(logger *logger.Logger) error {
	DBMu.Lock()
	defer DBMu.Unlock()

	if DBInstance == nil {
		return nil
	}

	sqlDB, err := DBInstance.DB()
	if err != nil {
		logger.Error(context.Background()).WithMeta(utils.Map{"error": err.Error()}).Logs("Failed to get DB handle for closing")
		return utils.NewError(utils.ErrInternalServerError.Code, "Failed to close database", err.Error())
	}

	if err := sqlDB.Close(); err != nil {
		logger.Error(context.Background()).WithMeta(utils.Map{"error": err.Error()}).Logs("Database close failed")
		return utils.NewError(utils.ErrInternalServerError.Code, "Failed to close database", err.Error())
	}
	logger.Info(context.Background()).Logs("Database connection closed successfully")
	DBInstance = nil
	return nil
}

// IsUniqueViolation reports whether err is a unique-constraint conflict on either driver.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key")
}
