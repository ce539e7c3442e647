package rpc

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/teranos/treesync/errors"
)

// DefaultBatchSize is the number of ops per flushed batch.
const DefaultBatchSize = 1000

// SendQueue turns an (after, before) pair into ops and hands them to flush
// in batches. The current baseline is kept on the queue while a codec walks
// a node's fields, and restored when the walk returns.
type SendQueue struct {
	registry  *Registry
	refs      *RefTable
	batchSize int
	flush     func([]Op) error
	batch     []Op
	before    any
	trace     bool
	sent      int
}

// NewSendQueue creates a queue. refs may be nil to disable reference
// deduplication; batchSize <= 0 selects DefaultBatchSize.
func NewSendQueue(registry *Registry, refs *RefTable, batchSize int, flush func([]Op) error) *SendQueue {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &SendQueue{
		registry:  registry,
		refs:      refs,
		batchSize: batchSize,
		flush:     flush,
		batch:     make([]Op, 0, batchSize),
	}
}

// WithTrace records the sending call site on every op.
func (q *SendQueue) WithTrace(enabled bool) *SendQueue {
	q.trace = enabled
	return q
}

// Before returns the baseline of the node currently being encoded.
func (q *SendQueue) Before() any {
	return q.before
}

// Sent returns the number of ops emitted so far.
func (q *SendQueue) Sent() int {
	return q.sent
}

// Send diffs after against before.
func (q *SendQueue) Send(after, before any) error {
	return q.SendWith(after, before, nil)
}

// SendWith diffs after against before. When onChange is set it encodes
// after's substructure instead of the registered codec.
func (q *SendQueue) SendWith(after, before any, onChange func(after any) error) error {
	after, before = absent(after), absent(before)

	switch {
	case same(after, before):
		return q.put(Op{State: NoChange})
	case before == nil:
		return q.add(after, onChange)
	case after == nil:
		return q.put(Op{State: Delete})
	default:
		return q.change(after, before, onChange)
	}
}

// EndOfObject terminates the current object's stream.
func (q *SendQueue) EndOfObject(token string) error {
	op := Op{State: EndOfObject}
	if token != "" {
		op.Value = token
	}
	return q.put(op)
}

// Flush hands any buffered ops to the flush function.
func (q *SendQueue) Flush() error {
	if len(q.batch) == 0 {
		return nil
	}
	batch := q.batch
	q.batch = make([]Op, 0, q.batchSize)
	if err := q.flush(batch); err != nil {
		return errors.Wrap(err, "failed to flush send queue")
	}
	return nil
}

// SendDefinition emits the full definition of a shared value under ref,
// regardless of what the peer may already hold.
func (q *SendQueue) SendDefinition(v any, ref int) error {
	codec, hasCodec := q.registry.ForInstance(v)
	op := Op{State: Add, ValueType: kindOf(v), Ref: intPtr(ref)}
	if !hasCodec {
		op.Value = v
	}
	if err := q.put(op); err != nil {
		return err
	}
	return q.descend(v, nil, nil, codec)
}

func (q *SendQueue) add(after any, onChange func(any) error) error {
	var ref *int
	if q.refs != nil && shareable(after) {
		if id, ok := q.refs.Get(after); ok {
			return q.put(Op{State: Add, Ref: intPtr(id)})
		}
		ref = intPtr(q.refs.Create(after))
	}

	var codec Codec
	if onChange == nil {
		codec, _ = q.registry.ForInstance(after)
	}
	op := Op{State: Add, ValueType: kindOf(after), Ref: ref}
	if onChange == nil && codec == nil {
		op.Value = after
	}
	if err := q.put(op); err != nil {
		return err
	}
	return q.descend(after, nil, onChange, codec)
}

func (q *SendQueue) change(after, before any, onChange func(any) error) error {
	var codec Codec
	if onChange == nil {
		codec, _ = q.registry.ForInstance(after)
	}
	op := Op{State: Change, ValueType: kindOf(after)}
	if onChange == nil && codec == nil {
		op.Value = after
	}
	if err := q.put(op); err != nil {
		return err
	}
	return q.descend(after, before, onChange, codec)
}

// descend encodes after's substructure with before as the baseline.
func (q *SendQueue) descend(after, before any, onChange func(any) error, codec Codec) error {
	last := q.before
	q.before = before
	defer func() { q.before = last }()

	switch {
	case onChange != nil:
		return onChange(after)
	case codec != nil:
		return codec.Send(q, after.(Node))
	}
	return nil
}

func (q *SendQueue) put(op Op) error {
	if q.trace {
		op.Trace = callSite()
	}
	q.batch = append(q.batch, op)
	q.sent++
	if len(q.batch) >= q.batchSize {
		return q.Flush()
	}
	return nil
}

// callSite names the first frame outside this package.
func callSite() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		f, more := frames.Next()
		if !strings.HasPrefix(f.Function, pkgPath+".") {
			return fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
		}
		if !more {
			return ""
		}
	}
}

const pkgPath = "github.com/teranos/treesync/rpc"
