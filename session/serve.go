package session

import (
	"context"

	"github.com/teranos/treesync/errors"
	"github.com/teranos/treesync/ledger"
	"github.com/teranos/treesync/logger"
	"github.com/teranos/treesync/rpc"
)

// HandleGetObject answers one batch request. Batch 0 diffs the ledger's
// current value against the version named by req.Baseline (or against
// nothing) and queues the whole stream; later batches hand it out in order.
func (s *Session) HandleGetObject(ctx context.Context, req rpc.GetObjectRequest) ([]rpc.Op, error) {
	if req.ID == "" {
		return nil, errors.NewInvalidRequestError("object id is required")
	}
	if req.Batch < 0 {
		return nil, errors.NewInvalidRequestError("negative batch %d", req.Batch)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.serveMu.Lock()
	defer s.serveMu.Unlock()

	if req.Batch > 0 {
		s.mu.Lock()
		t := s.pending[req.ID]
		s.mu.Unlock()
		if t == nil {
			return nil, errors.ProtocolViolationf("batch %d of %s requested with no transfer pending", req.Batch, req.ID)
		}
		if req.Batch != t.next {
			return nil, errors.ProtocolViolationf("batch %d of %s requested, expected %d", req.Batch, req.ID, t.next)
		}
		return s.nextBatch(req.ID, t), nil
	}

	// Fetches are serialized on the requesting side, so a fresh batch 0
	// abandons every transfer still pending, not just one for req.ID.
	s.mu.Lock()
	abandoned := len(s.pending) > 0
	if abandoned {
		s.pending = make(map[string]*transfer)
	}
	s.mu.Unlock()

	// Refs defined in undelivered batches must not be back-referenced.
	if abandoned || req.ResetRefs {
		s.localRefs.Clear()
		s.logger.Debugw("Reset local reference table",
			logger.FieldObjectID, req.ID,
			"abandoned", abandoned,
			"requested", req.ResetRefs,
		)
	}

	if s.ledger == nil {
		return []rpc.Op{{State: rpc.Delete}, {State: rpc.EndOfObject}}, nil
	}
	entry, err := s.ledger.Lookup(req.ID)
	if errors.IsNotFoundError(err) {
		return []rpc.Op{{State: rpc.Delete}, {State: rpc.EndOfObject}}, nil
	}
	if err != nil {
		return nil, err
	}

	if req.Baseline != "" && req.Baseline == entry.Version {
		return []rpc.Op{{State: rpc.NoChange}, {State: rpc.EndOfObject, Value: entry.Version}}, nil
	}

	var before any
	if req.Baseline != "" {
		if v, err := s.ledger.Get(ledger.ComposeID(entry.ObjectID, req.Baseline)); err == nil {
			before = v
		}
	}

	t := &transfer{token: entry.Version}
	q := rpc.NewSendQueue(s.registry, s.localRefs, s.batchSize, func(batch []rpc.Op) error {
		t.batches = append(t.batches, batch)
		return nil
	}).WithTrace(s.trace)
	if err := q.Send(entry.Value, before); err != nil {
		return nil, errors.Wrapf(err, "failed to diff %s", req.ID)
	}
	if err := q.EndOfObject(entry.Version); err != nil {
		return nil, err
	}
	if err := q.Flush(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.stats.OpsSent += q.Sent()
	s.mu.Unlock()

	s.logger.Debugw("Serving object",
		logger.FieldObjectID, req.ID,
		logger.FieldVersion, entry.Version,
		logger.FieldBaseline, req.Baseline,
		"diffed", before != nil,
		logger.FieldOps, q.Sent(),
		"batches", len(t.batches),
	)
	return s.nextBatch(req.ID, t), nil
}

// nextBatch hands out t's next batch, keeping t pending until the last one.
func (s *Session) nextBatch(id string, t *transfer) []rpc.Op {
	batch := t.batches[t.next]
	t.next++

	s.mu.Lock()
	defer s.mu.Unlock()
	if t.next < len(t.batches) {
		s.pending[id] = t
		return batch
	}
	delete(s.pending, id)
	s.stats.Served++
	return batch
}

// HandleGetRef answers with the full definition of a value this side
// shared under ref, or [DELETE, END_OF_OBJECT] if it is no longer known.
func (s *Session) HandleGetRef(ctx context.Context, req rpc.GetRefRequest) ([]rpc.Op, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := s.localRefs.GetByRefID(req.Ref)
	if !ok {
		s.logger.Debugw("Unknown ref requested", logger.FieldRefID, req.Ref)
		return []rpc.Op{{State: rpc.Delete}, {State: rpc.EndOfObject}}, nil
	}

	// Nested shareables go out in full: the peer asked because its
	// reference table may be out of step with ours.
	var ops []rpc.Op
	q := rpc.NewSendQueue(s.registry, nil, 0, func(batch []rpc.Op) error {
		ops = append(ops, batch...)
		return nil
	}).WithTrace(s.trace)
	if err := q.SendDefinition(v, req.Ref); err != nil {
		return nil, errors.Wrapf(err, "failed to encode ref %d", req.Ref)
	}
	if err := q.EndOfObject(""); err != nil {
		return nil, err
	}
	if err := q.Flush(); err != nil {
		return nil, err
	}
	return ops, nil
}
