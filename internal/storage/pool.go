// Package storage owns the single embedded SQL database file every other
// component reads and writes through. It is responsible for opening the
// database with the pragmas a single-writer embedded engine needs and for
// running the forward-only migration scripts embedded in the binary.
package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Pool wraps the *sql.DB for the one embedded database file the process
// owns. SQLite only tolerates a single writer at a time; callers that
// need a consistent multi-statement view take a transaction via Begin
// rather than holding the pool open across awaits.
type Pool struct {
	DB     *sql.DB
	logger zerolog.Logger
}

// Options configures how the pool opens its underlying file.
type Options struct {
	Path         string
	MaxOpenConns int
	MaxIdleConns int
	BusyTimeout  time.Duration
}

// Open opens (creating if absent) the SQLite database file at opts.Path,
// applies the pragmas a correctness-sensitive embedded store needs, and
// runs pending migrations before returning.
func Open(opts Options, logger zerolog.Logger) (*Pool, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d",
		opts.Path, opts.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 1
	}
	// SQLite serializes writers regardless of pool size; capping at a
	// small number of open connections avoids SQLITE_BUSY storms under
	// concurrent handlers while still letting reads overlap.
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	pool := &Pool{DB: db, logger: logger.With().Str("component", "storage").Logger()}

	migrator := NewMigrator(db, pool.logger)
	if err := migrator.Up(); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return pool, nil
}

// Stats is the {in_use, idle} snapshot the health endpoint reports.
type Stats struct {
	InUse int `json:"in_use"`
	Idle  int `json:"idle"`
}

// Stats reads the current connection counts off the underlying pool.
func (p *Pool) Stats() Stats {
	s := p.DB.Stats()
	return Stats{InUse: s.InUse, Idle: s.Idle}
}

// Close releases the underlying database handle.
func (p *Pool) Close() error {
	return p.DB.Close()
}
