package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/wordgate/apiserver/config"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
)

const (
	defaultPingTimeout  = 5 * time.Second
	defaultConnMaxIdle  = 2 * time.Minute
	defaultConnMaxLife  = 30 * time.Minute
	defaultMaxIdleConns = 5
	defaultMaxOpenConns = 25
)

// Open connects to the SQL database selected by cfg.Driver and verifies the connection.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case DriverPostgres:
		db, err = sql.Open("postgres", PostgresURL(cfg))
		if err != nil {
			return nil, err
		}
		db.SetConnMaxIdleTime(defaultConnMaxIdle)
		db.SetConnMaxLifetime(defaultConnMaxLife)
		db.SetMaxIdleConns(defaultMaxIdleConns)
		db.SetMaxOpenConns(defaultMaxOpenConns)
	case DriverSQLite:
		db, err = sql.Open("sqlite3", SQLiteDSN(cfg.Path))
		if err != nil {
			return nil, err
		}
		// SQLite allows a single writer; one connection serializes
		// statements instead of surfacing SQLITE_BUSY to callers.
		db.SetMaxOpenConns(1)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", cfg.Driver)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// PostgresURL builds a libpq connection URL from cfg.
func PostgresURL(cfg config.DatabaseConfig) string {
	sslmode := "disable"
	if cfg.UseSSL {
		sslmode = "require"
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		User:   url.UserPassword(cfg.User, cfg.Password),
		Path:   cfg.DBName,
	}
	q := u.Query()
	q.Set("sslmode", sslmode)
	u.RawQuery = q.Encode()
	return u.String()
}

// SQLiteDSN returns the go-sqlite3 data source name for the database file at path.
func SQLiteDSN(path string) string {
	return "file:" + path + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
}
