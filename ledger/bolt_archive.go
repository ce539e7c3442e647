package ledger

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"

	"github.com/teranos/treesync/errors"
)

var versionsBucket = []byte("versions")

// BoltArchive stores versions in a bbolt file: one nested bucket per
// object, keyed by version, msgpack-encoded records as values. Versions
// are ULIDs so cursor order is chronological.
type BoltArchive struct {
	db *bbolt.DB
}

// OpenBoltArchive opens or creates a bbolt archive at path.
func OpenBoltArchive(path string) (*BoltArchive, error) {
	opts := *bbolt.DefaultOptions
	opts.Timeout = 10 * time.Second
	bdb, err := bbolt.Open(path, 0o600, &opts)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open bolt archive %s", path)
	}
	err = bdb.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(versionsBucket)
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, errors.Wrap(err, "failed to create versions bucket")
	}
	return &BoltArchive{db: bdb}, nil
}

func (a *BoltArchive) Put(rec Record) error {
	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s@%s", rec.ObjectID, rec.Version)
	}
	return a.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(versionsBucket).CreateBucketIfNotExists([]byte(rec.ObjectID))
		if err != nil {
			return errors.Wrapf(err, "failed to create bucket for %s", rec.ObjectID)
		}
		return b.Put([]byte(rec.Version), data)
	})
}

func (a *BoltArchive) Get(objectID, version string) (Record, error) {
	var rec Record
	err := a.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(versionsBucket).Bucket([]byte(objectID))
		if b == nil {
			return errors.NewNotFoundError("object %s", objectID)
		}
		data := b.Get([]byte(version))
		if data == nil {
			return errors.NewNotFoundError("version %s@%s", objectID, version)
		}
		return errors.Wrapf(msgpack.Unmarshal(data, &rec), "corrupt archive entry %s@%s", objectID, version)
	})
	return rec, err
}

func (a *BoltArchive) Versions(objectID string) ([]string, error) {
	var out []string
	err := a.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(versionsBucket).Bucket([]byte(objectID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			out = append(out, string(k))
			return nil
		})
	})
	return out, err
}

func (a *BoltArchive) Objects() ([]string, error) {
	var out []string
	err := a.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(versionsBucket).ForEach(func(k, v []byte) error {
			if v == nil {
				out = append(out, string(k))
			}
			return nil
		})
	})
	return out, err
}

func (a *BoltArchive) Delete(objectID, version string) error {
	return a.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(versionsBucket)
		b := root.Bucket([]byte(objectID))
		if b == nil {
			return nil
		}
		if err := b.Delete([]byte(version)); err != nil {
			return err
		}
		if k, _ := b.Cursor().First(); k == nil {
			return root.DeleteBucket([]byte(objectID))
		}
		return nil
	})
}

func (a *BoltArchive) Clear() error {
	return a.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(versionsBucket); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(versionsBucket)
		return err
	})
}

func (a *BoltArchive) Close() error {
	return a.db.Close()
}
