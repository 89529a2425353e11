// Package storage implements the persistent side of the account API: the
// gorm-backed account document store, the cursor pager and the account
// mutator. Supported backends are SQLite, PostgreSQL and MySQL.
package storage

import (
	"fmt"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hivemail/hivemail/internal/config"
)

// Open initializes a GORM database connection for the configured driver
// and runs the schema migration.
func Open(cfg config.Database) (*gorm.DB, error) {
	dsn := strings.Join(cfg.DSN, " ")

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite3", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	gormCfg := &gorm.Config{}
	if !cfg.Debug {
		gormCfg.Logger = logger.Default.LogMode(logger.Silent)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The API is request-per-connection light, but listing plus the
	// per-detail enrichment reads can fan out under load.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(200)
	sqlDB.SetMaxIdleConns(20)

	if err := db.AutoMigrate(&AccountRow{}, &MessageRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return db, nil
}
