package common

import (
	"errors"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tierpress/config"
)

// ConnectDb opens Postgres when a DSN is configured and falls back to the
// SQLite file otherwise.
func ConnectDb(cfg *config.Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	}
	if cfg.Debug {
		gormCfg.Logger = logger.Default.LogMode(logger.Info)
	}

	if cfg.DatabaseURL != "" {
		db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), gormCfg)
		if err != nil {
			return nil, err
		}
		log.Info().Str("driver", "postgres").Msg("database connected")
		return db, nil
	}

	if cfg.SqliteDB == "" {
		return nil, errors.New("neither DATABASE_URL nor SQLITE_DB is set")
	}

	db, err := gorm.Open(sqlite.Open(cfg.SqliteDB), gormCfg)
	if err != nil {
		return nil, err
	}
	log.Info().Str("driver", "sqlite").Str("file", cfg.SqliteDB).Msg("database connected")
	return db, nil
}
