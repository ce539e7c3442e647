package rpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/treesync/errors"
)

// sendOps runs fn against a queue that collects every flushed op.
func sendOps(t *testing.T, registry *Registry, refs *RefTable, batchSize int, fn func(q *SendQueue) error) []Op {
	t.Helper()
	var ops []Op
	q := NewSendQueue(registry, refs, batchSize, func(batch []Op) error {
		ops = append(ops, batch...)
		return nil
	})
	require.NoError(t, fn(q))
	require.NoError(t, q.Flush())
	return ops
}

// replay returns a queue that yields ops as a single batch.
func replay(registry *Registry, refs *RemoteRefs, ops []Op) *ReceiveQueue {
	served := false
	return NewReceiveQueue(registry, refs, func() ([]Op, error) {
		if served {
			return nil, nil
		}
		served = true
		return ops, nil
	})
}

// viaJSON pushes ops through a JSON round trip, as the websocket transport does.
func viaJSON(t *testing.T, ops []Op) []Op {
	t.Helper()
	data, err := json.Marshal(ops)
	require.NoError(t, err)
	var out []Op
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func sampleBox() *box {
	return &box{
		Name:  "inventory",
		Size:  3,
		Items: []*leaf{{ID: "a", Text: "apple"}, {ID: "b", Text: "banana"}},
		Tags:  []string{"fruit", "fresh"},
	}
}

func TestRoundTrip(t *testing.T) {
	registry := testRegistry()
	before := sampleBox()
	after := &box{
		Name:  "inventory",
		Size:  4,
		Items: []*leaf{before.Items[1], {ID: "c", Text: "cherry"}, {ID: "a", Text: "apricot"}},
		Tags:  []string{"fresh"},
	}

	tests := []struct {
		name   string
		before *box
		wire   func(*testing.T, []Op) []Op
	}{
		{"fresh in memory", nil, func(_ *testing.T, ops []Op) []Op { return ops }},
		{"fresh over json", nil, viaJSON},
		{"diff in memory", before, func(_ *testing.T, ops []Op) []Op { return ops }},
		{"diff over json", before, viaJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops := sendOps(t, registry, nil, 0, func(q *SendQueue) error {
				return q.Send(after, tt.before)
			})

			q := replay(registry, nil, tt.wire(t, ops))
			got, err := Receive[*box](q, tt.before)
			require.NoError(t, err)
			assert.Equal(t, after, got)
			assert.Equal(t, len(ops), q.Received())
		})
	}
}

func TestRoundTripDelete(t *testing.T) {
	registry := testRegistry()
	before := sampleBox()

	ops := sendOps(t, registry, nil, 0, func(q *SendQueue) error {
		return q.Send(nil, before)
	})
	require.Len(t, ops, 1)
	assert.Equal(t, Delete, ops[0].State)

	got, err := Receive[*box](replay(registry, nil, ops), before)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNoChangeIdempotence(t *testing.T) {
	registry := testRegistry()
	b := sampleBox()

	ops := sendOps(t, registry, nil, 0, func(q *SendQueue) error {
		return q.Send(b, b)
	})
	require.Len(t, ops, 1)
	assert.Equal(t, NoChange, ops[0].State)

	got, err := Receive[*box](replay(registry, nil, ops), b)
	require.NoError(t, err)
	assert.Same(t, b, got)
}

func TestUnchangedFieldsAreNoChange(t *testing.T) {
	registry := testRegistry()
	before := sampleBox()
	after := &box{Name: before.Name, Size: 9, Items: before.Items, Tags: before.Tags}

	ops := sendOps(t, registry, nil, 0, func(q *SendQueue) error {
		return q.Send(after, before)
	})

	states := make([]State, len(ops))
	for i, op := range ops {
		states[i] = op.State
	}
	// box CHANGE, Name, Size, Items, Tags, Types (nil on both sides)
	assert.Equal(t, []State{Change, NoChange, Change, NoChange, NoChange, NoChange}, states)
	assert.Equal(t, 9, ops[2].Value)
}

func TestListPositions(t *testing.T) {
	registry := testRegistry()
	a := &leaf{ID: "a", Text: "A"}
	b := &leaf{ID: "b", Text: "B"}
	c := &leaf{ID: "c", Text: "C"}
	d := &leaf{ID: "d", Text: "D"}
	before := []*leaf{a, b, c}
	after := []*leaf{c, a, d}

	ops := sendOps(t, registry, nil, 0, func(q *SendQueue) error {
		return SendList(q, after, before, leafID)
	})

	require.GreaterOrEqual(t, len(ops), 5)
	assert.Equal(t, Change, ops[0].State)
	assert.Equal(t, Change, ops[1].State)
	assert.Equal(t, []int{2, 0, -1}, ops[1].Value)
	assert.Equal(t, NoChange, ops[2].State)
	assert.Equal(t, NoChange, ops[3].State)
	assert.Equal(t, Add, ops[4].State)
	assert.Equal(t, kindLeaf, ops[4].ValueType)

	for _, wire := range [][]Op{ops, viaJSON(t, ops)} {
		got, err := ReceiveList(replay(registry, nil, wire), before)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Same(t, c, got[0])
		assert.Same(t, a, got[1])
		assert.NotSame(t, d, got[2])
		assert.Equal(t, d, got[2])
	}
}

func TestListMatchedByKeyIsDiffed(t *testing.T) {
	registry := testRegistry()
	before := []*leaf{{ID: "a", Text: "old"}}
	after := []*leaf{{ID: "a", Text: "new"}}

	ops := sendOps(t, registry, nil, 0, func(q *SendQueue) error {
		return SendList(q, after, before, leafID)
	})
	// list CHANGE, positions, leaf CHANGE, ID NO_CHANGE, Text CHANGE
	require.Len(t, ops, 5)
	assert.Equal(t, []int{0}, ops[1].Value)
	assert.Equal(t, Change, ops[2].State)
	assert.Equal(t, NoChange, ops[3].State)
	assert.Equal(t, "new", ops[4].Value)

	got, err := ReceiveList(replay(registry, nil, ops), before)
	require.NoError(t, err)
	assert.Equal(t, after, got)
}

func TestListWithoutPositionsIsProtocolViolation(t *testing.T) {
	ops := []Op{{State: Change}, {State: NoChange}}
	_, err := ReceiveList(replay(testRegistry(), nil, ops), []string{"x"})
	require.Error(t, err)
	assert.True(t, errors.IsProtocolViolation(err))
}

func TestListPositionOutOfRange(t *testing.T) {
	ops := []Op{{State: Change}, {State: Change, Value: []int{5}}, {State: NoChange}}
	_, err := ReceiveList(replay(testRegistry(), nil, ops), []string{"x"})
	require.Error(t, err)
	assert.True(t, errors.IsProtocolViolation(err))
}

func TestEmptyListWithoutPositionsValue(t *testing.T) {
	// Encoders may drop the empty positions vector.
	ops := []Op{{State: Add}, {State: Change}}
	got, err := ReceiveList[string](replay(testRegistry(), nil, ops), nil)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestReferenceDedup(t *testing.T) {
	registry := testRegistry()
	refs := NewRefTable(RefTableOptions{})
	s := &shared{Name: "string"}
	after := &box{Name: "b", Types: []*shared{s, s}}

	ops := sendOps(t, registry, refs, 0, func(q *SendQueue) error {
		return q.Send(after, nil)
	})

	var defs, backs []Op
	for _, op := range ops {
		if op.State != Add || op.Ref == nil {
			continue
		}
		if op.IsBackReference() {
			backs = append(backs, op)
		} else {
			defs = append(defs, op)
		}
	}
	require.Len(t, defs, 1)
	require.Len(t, backs, 1)
	assert.Equal(t, kindShared, defs[0].ValueType)
	assert.Equal(t, *defs[0].Ref, *backs[0].Ref)

	remote := NewRemoteRefs()
	got, err := Receive[*box](replay(registry, remote, viaJSON(t, ops)), nil)
	require.NoError(t, err)
	require.Len(t, got.Types, 2)
	assert.Same(t, got.Types[0], got.Types[1])
	assert.Equal(t, "string", got.Types[0].Name)
	assert.True(t, remote.Has(*defs[0].Ref))
}

func TestReferenceMiss(t *testing.T) {
	ops := []Op{{State: Add, Ref: intPtr(42)}}
	_, err := Receive[*shared](replay(testRegistry(), NewRemoteRefs(), ops), nil)
	require.Error(t, err)
	assert.True(t, errors.IsReferenceMiss(err))
	assert.Contains(t, err.Error(), "42")
}

func TestEvictionTolerance(t *testing.T) {
	registry := testRegistry()
	refs := NewRefTable(RefTableOptions{})
	s := &shared{Name: "T"}

	first := sendOps(t, registry, refs, 0, func(q *SendQueue) error { return q.Send(s, nil) })
	refs.Clear()
	second := sendOps(t, registry, refs, 0, func(q *SendQueue) error { return q.Send(s, nil) })

	require.NotEmpty(t, second)
	assert.False(t, second[0].IsBackReference())
	assert.Equal(t, kindShared, second[0].ValueType)
	assert.NotEqual(t, *first[0].Ref, *second[0].Ref)

	remote := NewRemoteRefs()
	got, err := Receive[*shared](replay(registry, remote, second), nil)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestRegistryKindsSorted(t *testing.T) {
	registry := testRegistry()
	assert.Equal(t, []Kind{kindBox, kindLeaf, kindShared}, registry.Kinds())

	_, ok := registry.ForType("Missing")
	assert.False(t, ok)
}

func TestKindChangeUsesIncomingCodec(t *testing.T) {
	registry := testRegistry()
	var before Node = &leaf{ID: "x", Text: "y"}
	var after Node = &shared{Name: "z"}

	ops := sendOps(t, registry, nil, 0, func(q *SendQueue) error { return q.Send(after, before) })
	got, err := Receive[Node](replay(registry, nil, ops), before)
	require.NoError(t, err)
	assert.Equal(t, after, got)
}

func TestBatchingFlushesAtBatchSize(t *testing.T) {
	registry := testRegistry()
	var batches [][]Op
	q := NewSendQueue(registry, nil, 2, func(batch []Op) error {
		batches = append(batches, batch)
		return nil
	})
	require.NoError(t, q.Send(sampleBox(), nil))
	require.NoError(t, q.EndOfObject("v1"))
	require.NoError(t, q.Flush())

	total := 0
	for i, b := range batches {
		if i < len(batches)-1 {
			assert.Len(t, b, 2)
		}
		total += len(b)
	}
	assert.Equal(t, q.Sent(), total)
	last := batches[len(batches)-1]
	assert.Equal(t, EndOfObject, last[len(last)-1].State)
	assert.Equal(t, "v1", last[len(last)-1].Value)
}

func TestFlushErrorIsWrapped(t *testing.T) {
	boom := errors.New("connection lost")
	q := NewSendQueue(testRegistry(), nil, 1, func([]Op) error { return boom })
	err := q.Send("x", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
}

func TestEmptyBatchIsProtocolViolation(t *testing.T) {
	q := NewReceiveQueue(testRegistry(), nil, func() ([]Op, error) { return []Op{}, nil })
	_, err := q.Receive(nil)
	require.Error(t, err)
	assert.True(t, errors.IsProtocolViolation(err))
}

func TestUnexpectedEndOfObject(t *testing.T) {
	ops := []Op{{State: EndOfObject}}
	_, err := replay(testRegistry(), nil, ops).Receive(nil)
	assert.True(t, errors.IsProtocolViolation(err))
}

func TestUnknownState(t *testing.T) {
	ops := []Op{{State: "MOVE"}}
	_, err := replay(testRegistry(), nil, ops).Receive(nil)
	assert.True(t, errors.IsProtocolViolation(err))
}

func TestUnknownKindIsProtocolViolation(t *testing.T) {
	ops := []Op{{State: Add, ValueType: "Mystery"}}
	_, err := replay(testRegistry(), nil, ops).Receive(nil)
	assert.True(t, errors.IsProtocolViolation(err))
}

func TestTraceDetailOnError(t *testing.T) {
	ops := []Op{{State: Add, ValueType: "Mystery", Trace: "codec.go:12"}}
	_, err := replay(testRegistry(), nil, ops).Receive(nil)
	require.Error(t, err)
	assert.Contains(t, errors.FlattenDetails(err), "codec.go:12")
}
