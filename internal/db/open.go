package db

import (
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect names the database/sql driver backing a DSN.
type Dialect string

const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "pgx"
)

// DialectOf picks Postgres for postgres:// URLs and SQLite for anything else.
func DialectOf(dsn string) Dialect {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return Postgres
	}
	return SQLite
}

// Open opens the store behind dsn. SQLite connections get foreign keys,
// WAL and a busy timeout through DSN parameters so every pooled connection
// carries them.
func Open(dsn string) (*sql.DB, error) {
	dialect := DialectOf(dsn)
	if dialect == Postgres {
		return sql.Open(string(Postgres), dsn)
	}

	memory := strings.HasPrefix(dsn, ":memory:")
	params := "_foreign_keys=on&_busy_timeout=3000"
	if !memory {
		params += "&_journal_mode=WAL"
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}

	d, err := sql.Open(string(SQLite), dsn+sep+params)
	if err != nil {
		return nil, err
	}
	// each connection to :memory: is a separate database
	if memory {
		d.SetMaxOpenConns(1)
	}
	return d, nil
}
