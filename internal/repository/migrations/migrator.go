package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

//go:embed sql/*.sql
var embedded embed.FS

// Migration is one versioned SQL script.
type Migration struct {
	Version string
	Name    string
	SQL     string
}

// Migrator applies SQL migrations and records them in schema_migrations.
type Migrator struct {
	db     *sqlx.DB
	source fs.FS
	logger *zap.Logger
}

// NewMigrator returns a migrator over the embedded schema scripts.
func NewMigrator(db *sqlx.DB, logger *zap.Logger) *Migrator {
	sub, _ := fs.Sub(embedded, "sql")
	return NewMigratorFS(db, sub, logger)
}

// NewMigratorFS returns a migrator reading *.sql files from source.
func NewMigratorFS(db *sqlx.DB, source fs.FS, logger *zap.Logger) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{db: db, source: source, logger: logger}
}

// Load returns the available migrations ordered by file name. "001_init.sql" has version "001".
func (m *Migrator) Load() ([]Migration, error) {
	entries, err := fs.ReadDir(m.source, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		content, err := fs.ReadFile(m.source, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		out = append(out, Migration{Version: strings.SplitN(name, "_", 2)[0], Name: name, SQL: string(content)})
	}
	return out, nil
}

// Up applies every pending migration, each in its own transaction. It returns the applied versions.
func (m *Migrator) Up(ctx context.Context) ([]string, error) {
	const ensure = `CREATE TABLE IF NOT EXISTS schema_migrations (version VARCHAR(255) PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW())`
	if _, err := m.db.ExecContext(ctx, ensure); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	migrations, err := m.Load()
	if err != nil {
		return nil, err
	}

	applied := make([]string, 0)
	for _, mig := range migrations {
		ok, err := m.apply(ctx, mig)
		if err != nil {
			return applied, err
		}
		if ok {
			applied = append(applied, mig.Version)
			m.logger.Info("migration applied", zap.String("version", mig.Version), zap.String("file", mig.Name))
		}
	}
	return applied, nil
}

func (m *Migrator) apply(ctx context.Context, mig Migration) (applied bool, err error) {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin migration %s: %w", mig.Version, err)
	}
	defer func() {
		if err != nil || !applied {
			_ = tx.Rollback()
		}
	}()

	var exists bool
	if err = tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, mig.Version); err != nil {
		return false, fmt.Errorf("check migration %s: %w", mig.Version, err)
	}
	if exists {
		return false, nil
	}

	if _, err = tx.ExecContext(ctx, mig.SQL); err != nil {
		return false, fmt.Errorf("execute migration %s: %w", mig.Name, err)
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)`, mig.Version, time.Now().UTC()); err != nil {
		return false, fmt.Errorf("record migration %s: %w", mig.Version, err)
	}
	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit migration %s: %w", mig.Version, err)
	}
	return true, nil
}
