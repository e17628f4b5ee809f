package db

import (
	"sync"

	_ "github.com/jackc/pgx/v4"
	"github.com/tsylvester/paynless-framework-sub003/internal/models"
	"github.com/tsylvester/paynless-framework-sub003/pkg/env"
	"github.com/tsylvester/paynless-framework-sub003/pkg/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	conn     *gorm.DB
	connOnce sync.Once
)

// Connection returns the process-wide database handle, opening it on first use.
func Connection() *gorm.DB {
	connOnce.Do(func() {
		gdb, err := Open(env.Variables().DatabaseType, env.Variables().DatabaseDSN)
		if err != nil {
			log.Fatal("failed to connect to database", "error", err)
		}
		conn = gdb
	})

	return conn
}

// Open opens a gorm connection for the given database type.
func Open(databaseType, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	switch databaseType {
	case "postgres":
		return gorm.Open(postgres.Open(dsn), cfg)
	case "sqlite":
		fallthrough
	default:
		return gorm.Open(sqlite.Open(dsn), cfg)
	}
}

// Migrate applies the schema for every persisted model.
func Migrate() error {
	return Connection().AutoMigrate(models.All...)
}
