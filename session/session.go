// Package session coordinates object transfers between two peers.
//
// A Session is created per connection. It fetches objects from the peer
// (GetObject, GetRef) and serves the peer's requests from the local ledger
// (HandleGetObject, HandleGetRef). Both directions may run at once; no
// lock is held across a network call.
package session

import (
	"context"
	gosync "sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/treesync/errors"
	"github.com/teranos/treesync/ledger"
	"github.com/teranos/treesync/logger"
	"github.com/teranos/treesync/rpc"
)

// DefaultMaxBatches caps the batches one GetObject may pull.
const DefaultMaxBatches = 10_000

// Options configures a Session. Zero values select defaults.
type Options struct {
	// Name identifies the remote peer in logs.
	Name string

	MaxBatches int
	BatchSize  int
	RefTable   rpc.RefTableOptions

	// Trace records call sites on sent ops.
	Trace bool

	// Limiter paces batch requests. Nil means unlimited.
	Limiter *rate.Limiter

	Logger *zap.SugaredLogger
}

// snapshot is a value both sides agree on, named by its version token.
type snapshot struct {
	value any
	token string
}

// transfer is an object stream handed out batch by batch.
type transfer struct {
	token   string
	batches [][]rpc.Op
	next    int
}

// Stats counts session activity.
type Stats struct {
	Fetched     int               `json:"fetched"`
	Served      int               `json:"served"`
	OpsSent     int               `json:"ops_sent"`
	OpsReceived int               `json:"ops_received"`
	Pending     int               `json:"pending"`
	RemoteRefs  int               `json:"remote_refs"`
	LocalRefs   rpc.RefTableStats `json:"local_refs"`
}

// Session is one peer connection's protocol state.
type Session struct {
	name       string
	registry   *rpc.Registry
	ledger     *ledger.Ledger
	peer       Peer
	maxBatches int
	batchSize  int
	trace      bool
	limiter    *rate.Limiter
	logger     *zap.SugaredLogger

	localRefs  *rpc.RefTable
	remoteRefs *rpc.RemoteRefs

	// fetchMu serializes outgoing transfers so back-references always
	// point into a stream that has already been replayed.
	fetchMu gosync.Mutex
	// serveMu serializes incoming requests.
	serveMu gosync.Mutex

	mu            gosync.Mutex
	localObjects  map[string]any
	remoteObjects map[string]snapshot
	pending       map[string]*transfer
	resetRefs     bool
	stats         Stats
}

// New creates a session. peer may be nil for a serve-only session.
func New(registry *rpc.Registry, l *ledger.Ledger, peer Peer, opts Options) *Session {
	if opts.MaxBatches <= 0 {
		opts.MaxBatches = DefaultMaxBatches
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = rpc.DefaultBatchSize
	}
	if opts.Logger == nil {
		opts.Logger = logger.Logger
	}
	log := opts.Logger.Named("session")
	if opts.Name != "" {
		log = log.With(logger.FieldPeer, opts.Name)
	}
	if opts.RefTable.Logger == nil {
		opts.RefTable.Logger = log
	}

	return &Session{
		name:          opts.Name,
		registry:      registry,
		ledger:        l,
		peer:          peer,
		maxBatches:    opts.MaxBatches,
		batchSize:     opts.BatchSize,
		trace:         opts.Trace,
		limiter:       opts.Limiter,
		logger:        log,
		localRefs:     rpc.NewRefTable(opts.RefTable),
		remoteRefs:    rpc.NewRemoteRefs(),
		localObjects:  make(map[string]any),
		remoteObjects: make(map[string]snapshot),
		pending:       make(map[string]*transfer),
	}
}

// SetPeer attaches the remote side once the connection is up.
func (s *Session) SetPeer(peer Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peer = peer
}

// Name returns the remote peer's name.
func (s *Session) Name() string {
	return s.name
}

func (s *Session) remote() (Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peer == nil {
		return nil, errors.New("session has no peer")
	}
	return s.peer, nil
}

// GetObject fetches the peer's current value of id. It returns (nil, nil)
// when the peer no longer has the object.
func (s *Session) GetObject(ctx context.Context, id string) (any, error) {
	return s.Fetch(ctx, id, "")
}

// Fetch is GetObject with an opaque source context passed to the peer.
func (s *Session) Fetch(ctx context.Context, id, sourceContext string) (any, error) {
	if id == "" {
		return nil, errors.NewInvalidRequestError("object id is required")
	}
	peer, err := s.remote()
	if err != nil {
		return nil, err
	}

	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()

	start := time.Now()
	base, reset := s.baseline(id)

	batch := 0
	pull := func() ([]rpc.Op, error) {
		if batch >= s.maxBatches {
			return nil, errors.ProtocolViolationf("%s: no %s after %d batches", id, rpc.EndOfObject, batch)
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil, errors.Wrap(err, "batch rate limit")
			}
		}
		req := rpc.GetObjectRequest{
			ID:            id,
			SourceContext: sourceContext,
			Baseline:      base.token,
			Batch:         batch,
			ResetRefs:     reset && batch == 0,
		}
		ops, err := peer.GetObject(ctx, req)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to get batch %d of %s", batch, id)
		}
		s.logger.Debugw("Received batch",
			logger.FieldObjectID, id,
			logger.FieldBatch, batch,
			logger.FieldOps, len(ops),
		)
		batch++
		return ops, nil
	}

	q := rpc.NewReceiveQueue(s.registry, s.remoteRefs, pull)
	v, token, err := receiveObject(q, base.value)

	s.mu.Lock()
	s.stats.OpsReceived += q.Received()
	s.mu.Unlock()

	if err != nil {
		s.fail(id, err)
		return nil, err
	}

	if v == nil {
		s.forget(id)
		s.logger.Debugw("Object gone on peer", logger.FieldObjectID, id)
		return nil, nil
	}

	s.mu.Lock()
	s.localObjects[id] = v
	s.remoteObjects[id] = snapshot{value: v, token: token}
	s.stats.Fetched++
	s.mu.Unlock()

	s.logger.Debugw("Fetched object",
		logger.FieldObjectID, id,
		logger.FieldVersion, token,
		logger.FieldBatch, batch,
		logger.FieldOps, q.Received(),
		logger.FieldDurationMS, time.Since(start).Milliseconds(),
	)
	return v, nil
}

// receiveObject reads one value and the END_OF_OBJECT that must close it.
func receiveObject(q *rpc.ReceiveQueue, before any) (any, string, error) {
	v, err := q.Receive(before)
	if err != nil {
		return nil, "", err
	}
	end, err := q.Take()
	if err != nil {
		return nil, "", err
	}
	if end.State != rpc.EndOfObject {
		return nil, "", errors.ProtocolViolationf("expected %s, got %s", rpc.EndOfObject, end.State)
	}
	if n := q.Buffered(); n > 0 {
		return nil, "", errors.ProtocolViolationf("%d ops after %s", n, rpc.EndOfObject)
	}
	token, _ := end.Value.(string)
	return v, token, nil
}

// baseline returns the snapshot to diff against and whether the peer must
// be told that our reference table was reset.
func (s *Session) baseline(id string) (snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reset := s.resetRefs
	s.resetRefs = false
	return s.remoteObjects[id], reset
}

// fail drops everything the failed transfer may have left half-agreed: the
// baseline for id and the remote reference table. The next fetch is a full
// retransmission.
func (s *Session) fail(id string, err error) {
	s.remoteRefs.Clear()
	s.mu.Lock()
	delete(s.remoteObjects, id)
	delete(s.localObjects, id)
	s.resetRefs = true
	s.mu.Unlock()

	s.logger.Warnw("Object fetch failed",
		logger.FieldObjectID, id,
		logger.FieldErrorCode, errors.Code(err),
		logger.FieldError, err,
	)
}

func (s *Session) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.remoteObjects, id)
	delete(s.localObjects, id)
}

// GetRef resolves one shared value by the ref id the peer assigned it.
func (s *Session) GetRef(ctx context.Context, ref int) (any, error) {
	if v, ok := s.remoteRefs.Get(ref); ok {
		return v, nil
	}
	peer, err := s.remote()
	if err != nil {
		return nil, err
	}

	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()

	pulled := false
	q := rpc.NewReceiveQueue(s.registry, s.remoteRefs, func() ([]rpc.Op, error) {
		if pulled {
			return nil, errors.ProtocolViolationf("ref %d: response not terminated", ref)
		}
		pulled = true
		return peer.GetRef(ctx, rpc.GetRefRequest{Ref: ref})
	})
	v, _, err := receiveObject(q, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get ref %d", ref)
	}
	if v == nil {
		return nil, errors.NewNotFoundError("ref %d unknown to peer", ref)
	}
	return v, nil
}

// Cached returns the last value fetched for id.
func (s *Session) Cached(id string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.localObjects[id]
	return v, ok
}

// ClearLocalObjects drops fetched values. Baselines are kept.
func (s *Session) ClearLocalObjects() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localObjects = make(map[string]any)
}

// ClearRemoteObjects drops the baselines, so the next fetch of every
// object is a full transfer.
func (s *Session) ClearRemoteObjects() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteObjects = make(map[string]snapshot)
}

// ClearLocalRefs drops the identities this side shared with the peer.
// Values are sent in full next time.
func (s *Session) ClearLocalRefs() {
	s.localRefs.Clear()
}

// ClearRemoteRefs drops the values the peer shared with this side and
// tells the peer on the next fetch.
func (s *Session) ClearRemoteRefs() {
	s.remoteRefs.Clear()
	s.mu.Lock()
	s.resetRefs = true
	s.mu.Unlock()
}

// Clear drops all four caches.
func (s *Session) Clear() {
	s.ClearLocalObjects()
	s.ClearRemoteObjects()
	s.ClearLocalRefs()
	s.ClearRemoteRefs()
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	st := s.stats
	st.Pending = len(s.pending)
	s.mu.Unlock()
	st.RemoteRefs = s.remoteRefs.Len()
	st.LocalRefs = s.localRefs.Stats()
	return st
}
