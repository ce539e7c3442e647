package db

import (
	"database/sql"
	"embed"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/treesync/errors"
)

//go:embed sqlite/migrations/*.sql
var migrations embed.FS

const migrationsDir = "sqlite/migrations"

// Migration is one embedded schema file.
type Migration struct {
	Version string
	File    string
}

// Migrations lists the embedded migrations in apply order.
func Migrations() ([]Migration, error) {
	entries, err := migrations.ReadDir(migrationsDir)
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}
	var out []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		out = append(out, Migration{Version: strings.SplitN(name, "_", 2)[0], File: name})
	}
	// 000_create_schema_migrations.sql sorts first
	sort.Slice(out, func(i, j int) bool { return out[i].File < out[j].File })
	return out, nil
}

// Migrate runs all pending migrations, each in its own transaction.
// If log is provided, logs migration progress; otherwise operates silently.
func Migrate(db *sql.DB, log *zap.SugaredLogger) error {
	all, err := Migrations()
	if err != nil {
		return err
	}

	applied := 0
	for _, m := range all {
		done, err := isApplied(db, m)
		if err != nil {
			return err
		}
		if done {
			if log != nil {
				log.Debugw("Skipping migration (already applied)", "migration", m.File)
			}
			continue
		}
		if err := apply(db, m); err != nil {
			return err
		}
		applied++
		if log != nil {
			log.Infow("Applied migration", "migration", m.File, "version", m.Version)
		}
	}

	if log != nil {
		log.Debugw("Migrations complete", "total_migrations", len(all), "applied", applied)
	}
	return nil
}

// isApplied checks schema_migrations. The table itself comes from 000, so
// only that migration may run before it exists.
func isApplied(db *sql.DB, m Migration) (bool, error) {
	var exists bool
	err := db.QueryRow("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", m.Version).Scan(&exists)
	if err == nil {
		return exists, nil
	}
	if IsDatabaseClosed(err) {
		return false, errors.Wrap(ErrDatabaseClosed, "migrate")
	}
	if m.Version != "000" {
		return false, errors.Wrapf(err, "schema_migrations table missing, but migration is not 000: %s", m.File)
	}
	return false, nil
}

func apply(db *sql.DB, m Migration) error {
	stmt, err := migrations.ReadFile(path.Join(migrationsDir, m.File))
	if err != nil {
		return errors.Wrapf(err, "read %s", m.File)
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrapf(err, "begin tx for %s", m.File)
	}
	if _, err := tx.Exec(string(stmt)); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "execute %s", m.File)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "record %s", m.File)
	}
	return errors.Wrapf(tx.Commit(), "commit %s", m.File)
}
