package rpc

import (
	"github.com/teranos/treesync/errors"
)

// SendField diffs one field of after against the same field of the
// queue's current baseline. Codecs call it once per field, in field order.
func SendField[N any, T any](q *SendQueue, after N, get func(N) T) error {
	var before any
	if b, ok := q.Before().(N); ok {
		before = get(b)
	}
	return q.Send(get(after), before)
}

// SendListField is SendField for a slice field.
func SendListField[N any, T any](q *SendQueue, after N, get func(N) []T, idOf func(T) any) error {
	var before []T
	if b, ok := q.Before().(N); ok {
		before = get(b)
	}
	return SendList(q, get(after), before, idOf)
}

// SendList diffs two lists. The list as a whole is sent as one value whose
// substructure is a positions vector (index of each after element in
// before, -1 for new) followed by one diff per after element.
//
// idOf keys elements for matching; nil matches by identity.
func SendList[T any](q *SendQueue, after, before []T, idOf func(T) any) error {
	var a, b any
	if after != nil {
		a = after
	}
	if before != nil {
		b = before
	}
	return q.SendWith(a, b, func(any) error {
		pos := matchPositions(after, before, idOf)
		if err := q.put(Op{State: Change, Value: pos}); err != nil {
			return err
		}
		for i, elem := range after {
			var base any
			if pos[i] >= 0 {
				base = before[pos[i]]
			}
			if err := q.Send(elem, base); err != nil {
				return err
			}
		}
		return nil
	})
}

// matchPositions pairs every after element with the first unused before
// element of equal key.
func matchPositions[T any](after, before []T, idOf func(T) any) []int {
	pos := make([]int, len(after))
	used := make([]bool, len(before))

	if idOf != nil {
		index := make(map[any][]int, len(before))
		for j, elem := range before {
			k := idOf(elem)
			index[k] = append(index[k], j)
		}
		for i, elem := range after {
			pos[i] = -1
			k := idOf(elem)
			for n, j := range index[k] {
				if !used[j] {
					used[j] = true
					pos[i] = j
					index[k] = index[k][n+1:]
					break
				}
			}
		}
		return pos
	}

	for i, elem := range after {
		pos[i] = -1
		for j := range before {
			if !used[j] && same(elem, before[j]) {
				used[j] = true
				pos[i] = j
				break
			}
		}
	}
	return pos
}

// Receive reads one value of static type T against before.
func Receive[T any](q *ReceiveQueue, before T) (T, error) {
	v, err := q.Receive(before)
	if err != nil {
		var zero T
		return zero, err
	}
	return coerce[T](v)
}

// ReceiveField reads one field, using the same field of before (when before
// is present) as the baseline.
func ReceiveField[N any, T any](q *ReceiveQueue, before N, get func(N) T) (T, error) {
	var base T
	if !isNil(before) {
		base = get(before)
	}
	return Receive(q, base)
}

// ReceiveListField is ReceiveField for a slice field.
func ReceiveListField[N any, T any](q *ReceiveQueue, before N, get func(N) []T) ([]T, error) {
	var base []T
	if !isNil(before) {
		base = get(before)
	}
	return ReceiveList(q, base)
}

// ReceiveList reads a list diffed against before.
func ReceiveList[T any](q *ReceiveQueue, before []T) ([]T, error) {
	var b any
	if before != nil {
		b = before
	}
	v, err := q.ReceiveWith(b, func(base any) (any, error) {
		op, err := q.Take()
		if err != nil {
			return nil, err
		}
		if op.State != Change {
			return nil, withTrace(errors.ProtocolViolationf("expected positions vector, got %s", op.State), op)
		}
		pos, err := positions(op.Value)
		if err != nil {
			return nil, withTrace(errors.Mark(err, errors.ErrProtocolViolation), op)
		}

		var prev []T
		if base != nil {
			if prev, err = coerce[[]T](base); err != nil {
				return nil, err
			}
		}

		out := make([]T, len(pos))
		for i, p := range pos {
			var elemBase T
			if p >= 0 {
				if p >= len(prev) {
					return nil, withTrace(errors.ProtocolViolationf("position %d out of range for baseline of %d", p, len(prev)), op)
				}
				elemBase = prev[p]
			}
			elem, err := Receive(q, elemBase)
			if err != nil {
				return nil, errors.Wrapf(err, "list element %d", i)
			}
			out[i] = elem
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return coerce[[]T](v)
}
