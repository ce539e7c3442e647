// Package ledger is the object store: it assigns every stored value an id
// and a fresh version token, so a peer can ask "do you still have version
// X of object Y" without comparing content.
//
// Values implementing Identified are stored under a composite id
// "intrinsicID@version"; a new version is minted on every Store, even for
// identical content. Other values get a plain id with no version suffix.
package ledger

import (
	"strings"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/teranos/treesync/errors"
	"github.com/teranos/treesync/logger"
	"github.com/teranos/treesync/rpc"
)

// Identified values carry their own identity across versions.
type Identified interface {
	IntrinsicID() string
}

// Separator joins intrinsic id and version in a composite id.
const Separator = "@"

// DefaultRetainVersions bounds in-memory history per object.
const DefaultRetainVersions = 16

// Entry is one stored version.
type Entry struct {
	ID       string    `json:"id"`
	ObjectID string    `json:"object_id"`
	Version  string    `json:"version"`
	Kind     rpc.Kind  `json:"kind,omitempty"`
	StoredAt time.Time `json:"stored_at"`
	Value    any       `json:"-"`
}

// Options configures a Ledger.
type Options struct {
	// RetainVersions is how many versions per object stay in memory.
	// Zero selects DefaultRetainVersions.
	RetainVersions int

	// Archive receives every stored version; older versions are read
	// back from it once they leave memory. Optional.
	Archive Archive

	// Registry encodes values for the archive. Required with Archive.
	Registry *rpc.Registry

	Logger *zap.SugaredLogger
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu gosync.RWMutex

	// objectID -> versions, oldest first
	history map[string][]*Entry

	retain   int
	archive  Archive
	registry *rpc.Registry
	logger   *zap.SugaredLogger
	now      func() time.Time
}

// New creates an empty ledger.
func New(opts Options) *Ledger {
	if opts.RetainVersions <= 0 {
		opts.RetainVersions = DefaultRetainVersions
	}
	if opts.Logger == nil {
		opts.Logger = logger.Logger
	}
	return &Ledger{
		history:  make(map[string][]*Entry),
		retain:   opts.RetainVersions,
		archive:  opts.Archive,
		registry: opts.Registry,
		logger:   opts.Logger,
		now:      time.Now,
	}
}

// ComposeID joins an intrinsic id and a version.
func ComposeID(objectID, version string) string {
	return objectID + Separator + version
}

// SplitID splits a composite id. ok is false for plain ids.
func SplitID(id string) (objectID, version string, ok bool) {
	i := strings.LastIndex(id, Separator)
	if i <= 0 || i == len(id)-1 {
		return id, "", false
	}
	return id[:i], id[i+1:], true
}

// Store records value and returns its id. For Identified values the id is
// composite and always new. Otherwise explicitID (or a generated uuid)
// names the value and a later Store under the same id replaces it.
func (l *Ledger) Store(value any, explicitID string) (string, error) {
	if value == nil {
		return "", errors.NewInvalidRequestError("cannot store nil value")
	}

	e := &Entry{
		Version:  ulid.Make().String(),
		StoredAt: l.now(),
		Value:    value,
	}
	if n, ok := value.(rpc.Node); ok {
		e.Kind = n.Kind()
	}

	switch {
	case intrinsicID(value) != "":
		e.ObjectID = intrinsicID(value)
		e.ID = ComposeID(e.ObjectID, e.Version)
	case explicitID != "":
		e.ObjectID, e.ID = explicitID, explicitID
	default:
		id := uuid.New().String()
		e.ObjectID, e.ID = id, id
	}
	if strings.Contains(e.ObjectID, Separator) {
		return "", errors.NewInvalidRequestError("object id %q contains %q", e.ObjectID, Separator)
	}

	if l.archive != nil {
		if err := l.archiveEntry(e); err != nil {
			return "", err
		}
	}

	l.mu.Lock()
	versions := append(l.history[e.ObjectID], e)
	if len(versions) > l.retain {
		versions = versions[len(versions)-l.retain:]
	}
	l.history[e.ObjectID] = versions
	l.mu.Unlock()

	l.logger.Debugw("Stored object version",
		logger.FieldObjectID, e.ObjectID,
		logger.FieldVersion, e.Version,
		logger.FieldKind, e.Kind,
	)
	return e.ID, nil
}

func intrinsicID(v any) string {
	if idv, ok := v.(Identified); ok {
		return idv.IntrinsicID()
	}
	return ""
}

func (l *Ledger) archiveEntry(e *Entry) error {
	ops, err := rpc.Encode(l.registry, e.Value)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s for archive", e.ID)
	}
	return l.archive.Put(Record{
		ObjectID:  e.ObjectID,
		Version:   e.Version,
		Kind:      e.Kind,
		Ops:       ops,
		CreatedAt: e.StoredAt,
	})
}

// Get returns the value stored under id. A composite id names one
// version; a plain id or bare intrinsic id names the current version.
func (l *Ledger) Get(id string) (any, error) {
	e, err := l.Lookup(id)
	if err != nil {
		return nil, err
	}
	return e.Value, nil
}

// Lookup is Get returning the full entry.
func (l *Ledger) Lookup(id string) (Entry, error) {
	objectID, version, composite := SplitID(id)
	if !composite {
		if e, ok := l.current(id); ok {
			return e, nil
		}
		return Entry{}, errors.NewNotFoundError("object %s", id)
	}

	l.mu.RLock()
	for _, e := range l.history[objectID] {
		if e.Version == version {
			l.mu.RUnlock()
			return *e, nil
		}
	}
	l.mu.RUnlock()

	if l.archive == nil {
		return Entry{}, errors.NewNotFoundError("version %s", id)
	}
	return l.load(objectID, version)
}

func (l *Ledger) load(objectID, version string) (Entry, error) {
	rec, err := l.archive.Get(objectID, version)
	if err != nil {
		return Entry{}, err
	}
	v, err := rpc.Decode(l.registry, rec.Ops)
	if err != nil {
		return Entry{}, errors.Wrapf(err, "failed to decode archived %s@%s", objectID, version)
	}
	id := objectID
	if intrinsicID(v) != "" {
		id = ComposeID(objectID, version)
	}
	return Entry{
		ID:       id,
		ObjectID: objectID,
		Version:  version,
		Kind:     rec.Kind,
		StoredAt: rec.CreatedAt,
		Value:    v,
	}, nil
}

func (l *Ledger) current(objectID string) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	versions := l.history[objectID]
	if len(versions) == 0 {
		return Entry{}, false
	}
	return *versions[len(versions)-1], true
}

// GetCurrentVersion returns the latest version token for objectID.
func (l *Ledger) GetCurrentVersion(objectID string) (string, bool) {
	e, ok := l.current(objectID)
	return e.Version, ok
}

// Versions lists known versions of objectID, oldest first, including
// archived versions no longer held in memory.
func (l *Ledger) Versions(objectID string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	if l.archive != nil {
		archived, err := l.archive.Versions(objectID)
		if err != nil {
			return nil, err
		}
		for _, v := range archived {
			seen[v] = true
			out = append(out, v)
		}
	}

	l.mu.RLock()
	for _, e := range l.history[objectID] {
		if !seen[e.Version] {
			out = append(out, e.Version)
		}
	}
	l.mu.RUnlock()
	return out, nil
}

// Objects returns the current entry of every object held in memory.
func (l *Ledger) Objects() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, 0, len(l.history))
	for _, versions := range l.history {
		if len(versions) > 0 {
			out = append(out, *versions[len(versions)-1])
		}
	}
	return out
}

// Remove deletes one version (composite id) or every version of an object
// (plain or intrinsic id). Removing the current version makes the previous
// retained one current.
func (l *Ledger) Remove(id string) error {
	objectID, version, composite := SplitID(id)

	l.mu.Lock()
	versions := l.history[objectID]
	var removed []string
	if composite {
		kept := versions[:0:0]
		for _, e := range versions {
			if e.Version == version {
				removed = append(removed, e.Version)
				continue
			}
			kept = append(kept, e)
		}
		versions = kept
	} else {
		for _, e := range versions {
			removed = append(removed, e.Version)
		}
		versions = nil
	}
	if len(versions) == 0 {
		delete(l.history, objectID)
	} else {
		l.history[objectID] = versions
	}
	l.mu.Unlock()

	if l.archive == nil {
		return nil
	}
	if composite {
		return l.archive.Delete(objectID, version)
	}
	archived, err := l.archive.Versions(objectID)
	if err != nil {
		return err
	}
	for _, v := range archived {
		if err := l.archive.Delete(objectID, v); err != nil {
			return err
		}
	}
	return nil
}

// Clear drops every stored version, including archived ones.
func (l *Ledger) Clear() error {
	l.mu.Lock()
	l.history = make(map[string][]*Entry)
	l.mu.Unlock()

	if l.archive != nil {
		return l.archive.Clear()
	}
	return nil
}

// Restore loads the latest archived version of every object into memory.
// Objects already present are left alone.
func (l *Ledger) Restore() (int, error) {
	if l.archive == nil {
		return 0, nil
	}
	objects, err := l.archive.Objects()
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, objectID := range objects {
		if _, ok := l.current(objectID); ok {
			continue
		}
		versions, err := l.archive.Versions(objectID)
		if err != nil {
			return restored, err
		}
		if len(versions) == 0 {
			continue
		}
		e, err := l.load(objectID, versions[len(versions)-1])
		if err != nil {
			return restored, err
		}
		l.mu.Lock()
		if len(l.history[objectID]) == 0 {
			l.history[objectID] = []*Entry{&e}
			restored++
		}
		l.mu.Unlock()
	}

	l.logger.Infow("Restored ledger from archive", "objects", restored)
	return restored, nil
}

// Close releases the archive, if any.
func (l *Ledger) Close() error {
	if l.archive == nil {
		return nil
	}
	return l.archive.Close()
}
