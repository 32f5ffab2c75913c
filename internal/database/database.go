package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverPostgres = "postgres"
	DriverSqlite   = "sqlite3"
	DriverMemory   = "memory"
)

const pingTimeout = 5 * time.Second

type SQLMessageStore struct {
	conn   *sql.DB
	driver string
}

// Open connects to the database identified by driver and dsn, applies any
// pending migrations and returns a ready store. The memory driver ignores dsn.
func Open(driver, dsn string) (MessageStore, error) {
	switch driver {
	case DriverMemory:
		return NewMemoryMessageStore(), nil
	case DriverPostgres, DriverSqlite:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	if driver == DriverSqlite {
		// an in-memory sqlite database lives and dies with its connection
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrateUp(db, driver, dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &SQLMessageStore{conn: db, driver: driver}, nil
}

func (db *SQLMessageStore) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *SQLMessageStore) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
