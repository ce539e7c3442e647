package ledger

import (
	"database/sql"
	"time"

	"github.com/teranos/treesync/db"
	"github.com/teranos/treesync/errors"
	"github.com/teranos/treesync/rpc"
)

// SQLArchive stores versions in the object_versions table.
type SQLArchive struct {
	db *sql.DB
}

// NewSQLArchive wraps an already migrated database.
func NewSQLArchive(conn *sql.DB) *SQLArchive {
	return &SQLArchive{db: conn}
}

// OpenSQLArchive opens (and migrates) a SQLite archive at path.
func OpenSQLArchive(path string) (*SQLArchive, error) {
	conn, err := db.OpenWithMigrations(path, nil)
	if err != nil {
		return nil, err
	}
	return NewSQLArchive(conn), nil
}

func (a *SQLArchive) Put(rec Record) error {
	blob, err := rpc.MarshalOps(rec.Ops)
	if err != nil {
		return err
	}
	_, err = a.db.Exec(`
		INSERT OR REPLACE INTO object_versions (object_id, version, kind, ops, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.ObjectID, rec.Version, string(rec.Kind), blob, rec.CreatedAt.UTC())
	if db.IsDatabaseClosed(err) {
		return errors.Wrapf(db.ErrDatabaseClosed, "archive %s@%s", rec.ObjectID, rec.Version)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to archive %s@%s", rec.ObjectID, rec.Version)
	}
	return nil
}

func (a *SQLArchive) Get(objectID, version string) (Record, error) {
	rec := Record{ObjectID: objectID, Version: version}
	var (
		kind      string
		blob      []byte
		createdAt time.Time
	)
	err := a.db.QueryRow(`
		SELECT kind, ops, created_at FROM object_versions
		WHERE object_id = ? AND version = ?`,
		objectID, version).Scan(&kind, &blob, &createdAt)
	if err == sql.ErrNoRows {
		return rec, errors.NewNotFoundError("version %s@%s", objectID, version)
	}
	if err != nil {
		return rec, errors.Wrapf(err, "failed to load %s@%s", objectID, version)
	}

	ops, err := rpc.UnmarshalOps(blob)
	if err != nil {
		return rec, errors.Wrapf(err, "corrupt archive row %s@%s", objectID, version)
	}
	rec.Kind = rpc.Kind(kind)
	rec.Ops = ops
	rec.CreatedAt = createdAt
	return rec, nil
}

func (a *SQLArchive) Versions(objectID string) ([]string, error) {
	return a.strings(`SELECT version FROM object_versions WHERE object_id = ? ORDER BY version`, objectID)
}

func (a *SQLArchive) Objects() ([]string, error) {
	return a.strings(`SELECT DISTINCT object_id FROM object_versions ORDER BY object_id`)
}

func (a *SQLArchive) strings(query string, args ...any) ([]string, error) {
	rows, err := a.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query archive")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, errors.Wrap(err, "failed to scan archive row")
		}
		out = append(out, s)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate archive rows")
}

func (a *SQLArchive) Delete(objectID, version string) error {
	_, err := a.db.Exec(`DELETE FROM object_versions WHERE object_id = ? AND version = ?`, objectID, version)
	return errors.Wrapf(err, "failed to delete %s@%s", objectID, version)
}

func (a *SQLArchive) Clear() error {
	_, err := a.db.Exec(`DELETE FROM object_versions`)
	return errors.Wrap(err, "failed to clear archive")
}

func (a *SQLArchive) Close() error {
	return a.db.Close()
}
