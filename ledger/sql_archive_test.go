package ledger

import (
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/treesync/db"
	"github.com/teranos/treesync/errors"
	internaltesting "github.com/teranos/treesync/internal/testing"
	"github.com/teranos/treesync/rpc"
)

func TestSQLArchiveRoundTrip(t *testing.T) {
	conn := internaltesting.CreateTestDB(t)
	archive := NewSQLArchive(conn)

	ops, err := rpc.Encode(docRegistry(), &doc{Name: "a", Body: "b"})
	require.NoError(t, err)
	rec := Record{ObjectID: "a", Version: "01A", Kind: kindDoc, Ops: ops, CreatedAt: time.Now()}
	require.NoError(t, archive.Put(rec))
	require.NoError(t, archive.Put(rec))
	assert.Equal(t, 1, internaltesting.CountVersions(t, conn, "a"))

	got, err := archive.Get("a", "01A")
	require.NoError(t, err)
	assert.Equal(t, kindDoc, got.Kind)
	assert.Len(t, got.Ops, len(ops))

	v, err := rpc.Decode(docRegistry(), got.Ops)
	require.NoError(t, err)
	assert.Equal(t, &doc{Name: "a", Body: "b"}, v)

	_, err = archive.Get("a", "01B")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestSQLArchivePutAfterClose(t *testing.T) {
	conn := internaltesting.CreateTestDB(t)
	archive := NewSQLArchive(conn)
	require.NoError(t, conn.Close())

	err := archive.Put(Record{ObjectID: "a", Version: "01A", CreatedAt: time.Now()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, db.ErrDatabaseClosed))
}

func TestSQLArchivePutError_Sqlmock(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectExec(`INSERT OR REPLACE INTO object_versions`).
		WillReturnError(errors.New("disk I/O error"))

	err = NewSQLArchive(conn).Put(Record{ObjectID: "a", Version: "01A", CreatedAt: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to archive a@01A")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLArchiveGetNotFound_Sqlmock(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectQuery(`SELECT kind, ops, created_at FROM object_versions`).
		WithArgs("a", "01A").
		WillReturnError(sql.ErrNoRows)

	_, err = NewSQLArchive(conn).Get("a", "01A")
	assert.True(t, errors.IsNotFoundError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLArchiveVersions_Sqlmock(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectQuery(`SELECT version FROM object_versions`).
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("01A").AddRow("01B"))

	versions, err := NewSQLArchive(conn).Versions("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"01A", "01B"}, versions)
	assert.NoError(t, mock.ExpectationsWereMet())
}
