package rpc

import (
	"math"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/teranos/treesync/errors"
)

// Encode renders v as a self-contained op stream: a diff against nothing,
// with shared values deduplicated inside the stream only.
func Encode(registry *Registry, v any) ([]Op, error) {
	var ops []Op
	refs := NewRefTable(RefTableOptions{MaxEntries: math.MaxInt32, Logger: zap.NewNop().Sugar()})
	q := NewSendQueue(registry, refs, DefaultBatchSize, func(batch []Op) error {
		ops = append(ops, batch...)
		return nil
	})
	if err := q.Send(v, nil); err != nil {
		return nil, errors.Wrap(err, "failed to encode snapshot")
	}
	if err := q.Flush(); err != nil {
		return nil, err
	}
	return ops, nil
}

// Decode rebuilds a value from a stream produced by Encode.
func Decode(registry *Registry, ops []Op) (any, error) {
	if len(ops) == 0 {
		return nil, errors.ProtocolViolationf("empty snapshot")
	}
	done := false
	q := NewReceiveQueue(registry, NewRemoteRefs(), func() ([]Op, error) {
		if done {
			return nil, errors.ProtocolViolationf("snapshot truncated")
		}
		done = true
		return ops, nil
	})
	v, err := q.Receive(nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode snapshot")
	}
	if n := q.Buffered(); n > 0 {
		return nil, errors.ProtocolViolationf("%d trailing ops in snapshot", n)
	}
	return v, nil
}

// MarshalOps packs an op stream for storage.
func MarshalOps(ops []Op) ([]byte, error) {
	b, err := msgpack.Marshal(ops)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal ops")
	}
	return b, nil
}

// UnmarshalOps unpacks a stream written by MarshalOps.
func UnmarshalOps(b []byte) ([]Op, error) {
	var ops []Op
	if err := msgpack.Unmarshal(b, &ops); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal ops")
	}
	return ops, nil
}
