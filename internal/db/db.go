package db

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"v2v-service/internal/config"
)

// Open connects to the configured database and applies migrations. It returns
// a nil handle when the driver is "none".
func Open(cfg config.DatabaseConfig, log zerolog.Logger) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var (
		conn       *gorm.DB
		err        error
		statements []string
	)
	switch cfg.Driver {
	case "postgres":
		conn, err = gorm.Open(postgres.Open(cfg.DSN), gormCfg)
		statements = postgresMigrations
	case "sqlite":
		conn, err = gorm.Open(sqlite.Open(cfg.DSN), gormCfg)
		statements = sqliteMigrations
	case "none", "":
		log.Warn().Msg("database disabled, hazard reports will not be persisted")
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}

	if cfg.Driver == "sqlite" {
		sqlDB, err := conn.DB()
		if err != nil {
			return nil, err
		}
		// sqlite allows a single writer.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := runMigrations(conn, statements); err != nil {
		return nil, err
	}

	log.Info().Str("driver", cfg.Driver).Msg("database ready")
	return conn, nil
}

func Close(conn *gorm.DB) error {
	if conn == nil {
		return nil
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
