package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/studiobook/studiobook/internal/platform/config"
)

const defaultPingTimeout = 5 * time.Second

// DB wraps the SQL connection pool used for one migration run
type DB struct {
	*sql.DB
	driver    string
	closeOnce sync.Once
	closeErr  error
}

// New opens a pool for the configured driver and verifies it with a ping
func New(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	driverName, dsn, err := driverAndDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db, driver: cfg.Driver}, nil
}

// driverAndDSN maps the configured driver to its database/sql name and DSN
func driverAndDSN(cfg config.DatabaseConfig) (string, string, error) {
	dsn := cfg.DSN()

	switch cfg.Driver {
	case config.DriverPostgres:
		return "postgres", dsn, nil
	case config.DriverMySQL:
		mc, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", "", fmt.Errorf("invalid mysql dsn: %w", err)
		}
		// Migration files hold several statements and the ledger scans timestamps.
		mc.MultiStatements = true
		mc.ParseTime = true
		return "mysql", mc.FormatDSN(), nil
	case config.DriverSQLite:
		return "sqlite", dsn, nil
	default:
		return "", "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Driver returns the configured driver name
func (db *DB) Driver() string {
	return db.driver
}

// Close closes the pool; later calls return the first result
func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		db.closeErr = db.DB.Close()
	})
	return db.closeErr
}
