package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"docuchat/internal/config"
)

var sqlOpen = otelsql.Open

// New opens a traced connection pool for the configured driver and wraps it
// in gorm.
func New(ctx context.Context, cfg *config.Config) (*gorm.DB, error) {
	var (
		driverName string
		dsn        string
		dialector  func(*sql.DB) gorm.Dialector
		system     = semconv.DBSystemMySQL
	)
	switch cfg.Database.Driver {
	case "mysql":
		driverName, dsn = "mysql", cfg.MySQLDSN()
		dialector = func(db *sql.DB) gorm.Dialector {
			return mysql.New(mysql.Config{Conn: db})
		}
	case "postgres":
		driverName, dsn = "pgx", cfg.PostgresDSN()
		system = semconv.DBSystemPostgreSQL
		dialector = func(db *sql.DB) gorm.Dialector {
			return postgres.New(postgres.Config{Conn: db})
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	sqlDB, err := sqlOpen(driverName, dsn,
		otelsql.WithAttributes(system),
		otelsql.WithSQLCommenter(true),
	)
	if err != nil {
		return nil, fmt.Errorf("open %s failed: %w", driverName, err)
	}

	if cfg.Database.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetimeSec > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetimeSec) * time.Second)
	}
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s failed: %w", driverName, err)
	}

	db, err := gorm.Open(dialector(sqlDB), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("open gorm failed: %w", err)
	}
	return db, nil
}
