package ledger

import (
	"time"

	"github.com/teranos/treesync/rpc"
)

// Record is one archived version of an object: the full snapshot as a
// self-contained op stream (see rpc.Encode).
type Record struct {
	ObjectID  string    `msgpack:"o"`
	Version   string    `msgpack:"v"`
	Kind      rpc.Kind  `msgpack:"k"`
	Ops       []rpc.Op  `msgpack:"ops"`
	CreatedAt time.Time `msgpack:"t"`
}

// Archive persists versions beyond what the in-memory ledger retains.
// Get returns an errors.ErrNotFound wrap for unknown versions; Versions
// lists oldest first.
type Archive interface {
	Put(rec Record) error
	Get(objectID, version string) (Record, error)
	Versions(objectID string) ([]string, error)
	Objects() ([]string, error)
	Delete(objectID, version string) error
	Clear() error
	Close() error
}
