package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/pcraw4d/scout/internal/config"
)

// NewPostgres connects to a Postgres-backed persistent Store using the
// DB_* configuration, verifying connectivity before returning.
func NewPostgres(ctx context.Context, cfg config.DatabaseConfig) (*SQLStore, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: opening postgres connection: %v", ErrIO, err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: pinging postgres: %v", ErrIO, err)
	}
	return newSQLStore(db, postgresDialect{})
}
