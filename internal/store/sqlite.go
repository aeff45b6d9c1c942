package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLite opens (creating if absent) a SQLite-backed persistent Store at
// path. This is the CLI's default backend: a local file lets
// `study pause`/`resume`/`cancel` work across separate CLI process
// invocations without a running database server.
func NewSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening sqlite at %q: %v", ErrIO, path, err)
	}
	db.SetMaxOpenConns(1) // mattn/go-sqlite3 serializes writes; avoid "database is locked"
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("%w: pinging sqlite at %q: %v", ErrIO, path, err)
	}
	return newSQLStore(db, sqliteDialect{})
}
