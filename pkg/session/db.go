package session

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	apperrors "github.com/parley-ai/parley/pkg/errors"
)

// Supported storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// OpenDatabase opens a GORM connection for the configured driver. SQLite
// serves embedded and test deployments; Postgres serves shared ones.
func OpenDatabase(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	switch driver {
	case DriverSQLite, "":
		if dsn == "" {
			dsn = "parley.db"
		}
		db, err := gorm.Open(sqlite.Open(dsn), cfg)
		if err != nil {
			return nil, apperrors.New(apperrors.ErrCodeSessionCreate, "failed to open sqlite database", err)
		}
		return db, nil

	case DriverPostgres:
		db, err := gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return nil, apperrors.New(apperrors.ErrCodeSessionCreate, "failed to open postgres database", err)
		}
		return db, nil

	default:
		return nil, apperrors.New(apperrors.ErrCodeAgentConfig,
			fmt.Sprintf("unsupported storage driver: %s", driver), nil)
	}
}
