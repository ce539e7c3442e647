package rpc

import (
	"github.com/teranos/treesync/errors"
)

// ReceiveQueue replays ops against a baseline. Ops are consumed from the
// current batch; when it runs dry the queue calls pull, which is where a
// receive blocks on the network.
type ReceiveQueue struct {
	registry *Registry
	refs     *RemoteRefs
	pull     func() ([]Op, error)
	batch    []Op
	pos      int
	received int
}

// NewReceiveQueue creates a queue that refills from pull.
func NewReceiveQueue(registry *Registry, refs *RemoteRefs, pull func() ([]Op, error)) *ReceiveQueue {
	if refs == nil {
		refs = NewRemoteRefs()
	}
	return &ReceiveQueue{
		registry: registry,
		refs:     refs,
		pull:     pull,
	}
}

// Received returns the number of ops consumed so far.
func (q *ReceiveQueue) Received() int {
	return q.received
}

// Buffered returns the number of ops pulled but not yet consumed.
func (q *ReceiveQueue) Buffered() int {
	return len(q.batch) - q.pos
}

// Take returns the next op, pulling a new batch when the buffer is empty.
func (q *ReceiveQueue) Take() (Op, error) {
	for q.pos >= len(q.batch) {
		batch, err := q.pull()
		if err != nil {
			return Op{}, err
		}
		if len(batch) == 0 {
			return Op{}, errors.ProtocolViolationf("received empty batch after %d ops", q.received)
		}
		q.batch, q.pos = batch, 0
	}
	op := q.batch[q.pos]
	q.pos++
	q.received++
	return op, nil
}

// Receive reads one value diffed against before.
func (q *ReceiveQueue) Receive(before any) (any, error) {
	return q.ReceiveWith(before, nil)
}

// ReceiveWith reads one value. When onChange is set it decodes the value's
// substructure instead of the registered codec.
func (q *ReceiveQueue) ReceiveWith(before any, onChange func(before any) (any, error)) (any, error) {
	before = absent(before)

	op, err := q.Take()
	if err != nil {
		return nil, err
	}

	switch op.State {
	case NoChange:
		return before, nil

	case Delete:
		return nil, nil

	case Add:
		if op.IsBackReference() {
			v, ok := q.refs.Get(*op.Ref)
			if !ok {
				return nil, errors.WithHint(
					errors.Wrapf(errors.ErrReferenceMiss, "back-reference to unknown ref %d", *op.Ref),
					"the peer's reference table is out of sync; retry with a reference reset")
			}
			return v, nil
		}
		if op.ValueType != "" {
			before = nil
		} else {
			before = op.Value
		}
		after, err := q.hydrate(op, before, onChange)
		if err != nil {
			return nil, err
		}
		if op.Ref != nil {
			q.refs.Set(*op.Ref, after)
		}
		return after, nil

	case Change:
		return q.hydrate(op, before, onChange)

	case EndOfObject:
		return nil, errors.ProtocolViolationf("unexpected %s after %d ops", op.State, q.received)

	default:
		return nil, errors.ProtocolViolationf("unknown state %q", op.State)
	}
}

// hydrate builds the value an ADD or CHANGE op introduces.
func (q *ReceiveQueue) hydrate(op Op, before any, onChange func(any) (any, error)) (any, error) {
	if onChange != nil {
		return onChange(before)
	}
	if op.ValueType != "" {
		codec, ok := q.registry.ForType(op.ValueType)
		if !ok {
			if op.Value != nil {
				return op.Value, nil
			}
			return nil, withTrace(errors.ProtocolViolationf("no codec registered for kind %q", op.ValueType), op)
		}
		var base Node
		if n, ok := before.(Node); ok && n.Kind() == op.ValueType {
			base = n
		}
		after, err := codec.Receive(q, base)
		if err != nil {
			return nil, withTrace(err, op)
		}
		return after, nil
	}
	if op.Value != nil {
		return op.Value, nil
	}
	return before, nil
}

func withTrace(err error, op Op) error {
	if op.Trace == "" {
		return err
	}
	return errors.WithDetailf(err, "op sent from %s", op.Trace)
}
