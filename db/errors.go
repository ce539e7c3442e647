package db

import (
	"database/sql"
	"strings"

	"github.com/teranos/treesync/errors"
)

// ErrDatabaseClosed marks archive operations that raced shutdown: the
// connection was closed while a session was still storing versions.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err is ErrDatabaseClosed or one of the
// raw database/sql errors for a closed handle, which drivers never wrap.
func IsDatabaseClosed(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrDatabaseClosed), errors.Is(err, sql.ErrConnDone):
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}
