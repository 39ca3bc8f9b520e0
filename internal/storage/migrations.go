package storage

import (
	"crypto/md5"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migration is one forward-only schema step embedded in the binary.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
}

// Migrator applies pending migrations to a database, recording each one
// in schema_migrations so Up is idempotent across restarts.
type Migrator struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewMigrator constructs a Migrator bound to db.
func NewMigrator(db *sql.DB, logger zerolog.Logger) *Migrator {
	return &Migrator{db: db, logger: logger.With().Str("component", "migrator").Logger()}
}

// LoadMigrations reads migrations/*.sql from the embedded filesystem and
// returns them sorted by version. File names are expected in the form
// "0001_name.up.sql"; only forward migrations exist, matching the
// append-only evolution a production BaaS schema needs.
func LoadMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}

	migrations := make([]Migration, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		raw, err := migrationFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		var version int
		var name string
		base := strings.TrimSuffix(entry.Name(), ".up.sql")
		if _, err := fmt.Sscanf(base, "%04d_", &version); err != nil {
			return nil, fmt.Errorf("migration file %s does not start with a version prefix", entry.Name())
		}
		if idx := strings.Index(base, "_"); idx >= 0 {
			name = base[idx+1:]
		}

		migrations = append(migrations, Migration{Version: version, Name: name, UpSQL: string(raw)})
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// Up applies every migration whose version is greater than the highest
// recorded version, each inside its own transaction.
func (m *Migrator) Up() error {
	if err := m.createMigrationsTable(); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	current, err := m.currentVersion()
	if err != nil {
		return err
	}

	migrations, err := LoadMigrations()
	if err != nil {
		return err
	}

	for _, mig := range migrations {
		if mig.Version <= current {
			continue
		}

		start := time.Now()
		tx, err := m.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", mig.Version, err)
		}

		if err := execStatements(tx, mig.UpSQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", mig.Version, mig.Name, err)
		}

		checksum := fmt.Sprintf("%x", md5.Sum([]byte(mig.UpSQL)))
		if _, err := tx.Exec(
			`INSERT INTO schema_migrations (version, name, applied_at, execution_time_ms, checksum) VALUES (?, ?, ?, ?, ?)`,
			mig.Version, mig.Name, time.Now(), time.Since(start).Milliseconds(), checksum,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", mig.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", mig.Version, err)
		}

		m.logger.Info().Int("version", mig.Version).Str("name", mig.Name).Dur("took", time.Since(start)).Msg("applied migration")
	}

	return nil
}

func (m *Migrator) createMigrationsTable() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL,
			execution_time_ms INTEGER NOT NULL,
			checksum TEXT NOT NULL
		)`)
	return err
}

func (m *Migrator) currentVersion() (int, error) {
	var version sql.NullInt64
	err := m.db.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read current migration version: %w", err)
	}
	return int(version.Int64), nil
}

func execStatements(tx *sql.Tx, script string) error {
	for _, stmt := range strings.Split(script, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("statement %q: %w", stmt, err)
		}
	}
	return nil
}
