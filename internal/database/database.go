package database

import (
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open opens a database for the given driver and runs migrations. For sqlite
// the dsn is a file path (or ":memory:").
func Open(driver, dsn string) (*sql.DB, error) {
	var (
		db      *sql.DB
		err     error
		dialect string
	)
	switch driver {
	case DriverSQLite, "":
		db, err = sql.Open("sqlite", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
		dialect = "sqlite3"
		if err == nil && dsn == ":memory:" {
			// Every pooled connection would get its own empty in-memory database.
			db.SetMaxOpenConns(1)
		}
	case DriverPostgres:
		db, err = sql.Open("pgx", dsn)
		dialect = "postgres"
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := runMigrations(db, dialect); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

func runMigrations(db *sql.DB, dialect string) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}

	return nil
}
