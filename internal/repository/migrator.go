package repository

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"
)

// Dialect is the SQL flavour a migrator talks to.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

func (d Dialect) placeholder(n int) string {
	if d == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Migrator applies embedded .sql files in lexical order, once each. Applied
// files are recorded with their sha256 so an edited migration is refused
// instead of silently skipped.
type Migrator struct {
	db      *sql.DB
	dialect Dialect
	files   fs.FS
	dir     string
	logger  *slog.Logger
}

func NewMigrator(db *sql.DB, dialect Dialect, files fs.FS, dir string, logger *slog.Logger) *Migrator {
	return &Migrator{
		db:      db,
		dialect: dialect,
		files:   files,
		dir:     dir,
		logger:  logger,
	}
}

func (m *Migrator) ApplyAll(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT PRIMARY KEY,
			checksum   TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := m.appliedChecksums(ctx)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	files, err := m.migrationFiles()
	if err != nil {
		return fmt.Errorf("failed to get migration files: %w", err)
	}

	for _, filename := range files {
		content, err := fs.ReadFile(m.files, path.Join(m.dir, filename))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", filename, err)
		}
		checksum := fmt.Sprintf("%x", sha256.Sum256(content))

		if stored, ok := applied[filename]; ok {
			if stored != checksum {
				return fmt.Errorf("migration %s has been modified (expected checksum %s, got %s)", filename, stored, checksum)
			}
			continue
		}

		if err := m.applyMigration(ctx, filename, string(content), checksum); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", filename, err)
		}
	}
	return nil
}

func (m *Migrator) appliedChecksums(ctx context.Context) (map[string]string, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT filename, checksum FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var filename, checksum string
		if err := rows.Scan(&filename, &checksum); err != nil {
			return nil, err
		}
		applied[filename] = checksum
	}
	return applied, rows.Err()
}

func (m *Migrator) migrationFiles() ([]string, error) {
	entries, err := fs.ReadDir(m.files, m.dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	return files, nil
}

func (m *Migrator) applyMigration(ctx context.Context, filename, content, checksum string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, content); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	insert := fmt.Sprintf("INSERT INTO schema_migrations (filename, checksum, applied_at) VALUES (%s, %s, %s)",
		m.dialect.placeholder(1), m.dialect.placeholder(2), m.dialect.placeholder(3))
	if _, err := tx.ExecContext(ctx, insert, filename, checksum, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to record checksum: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	m.logger.Info("Applied migration", "filename", filename, "checksum", checksum[:8])
	return nil
}

// Seed executes one SQL file outside migration bookkeeping. Seed files must be
// safe to run repeatedly.
func Seed(ctx context.Context, db *sql.DB, files fs.FS, name string) error {
	content, err := fs.ReadFile(files, name)
	if err != nil {
		return fmt.Errorf("read seed %s: %w", name, err)
	}
	if _, err := db.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("apply seed %s: %w", name, err)
	}
	return nil
}
