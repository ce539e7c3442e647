package rpc

import (
	"reflect"

	"github.com/teranos/treesync/errors"
)

// coerce converts a decoded inline value into T. Values that crossed a
// JSON or msgpack boundary arrive as float64, int8, []any, map[string]any;
// those are converted back to the field's static type.
func coerce[T any](v any) (T, error) {
	var zero T
	if v == nil {
		return zero, nil
	}
	if t, ok := v.(T); ok {
		return t, nil
	}
	target := reflect.TypeOf((*T)(nil)).Elem()
	rv, err := convert(reflect.ValueOf(v), target)
	if err != nil {
		return zero, err
	}
	return rv.Interface().(T), nil
}

func convert(v reflect.Value, t reflect.Type) (reflect.Value, error) {
	for v.Kind() == reflect.Interface && !v.IsNil() {
		v = v.Elem()
	}
	if !v.IsValid() || (v.Kind() == reflect.Interface && v.IsNil()) {
		return reflect.Zero(t), nil
	}
	if v.Type().AssignableTo(t) {
		out := reflect.New(t).Elem()
		out.Set(v)
		return out, nil
	}

	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		if isNumeric(v.Kind()) {
			return v.Convert(t), nil
		}
	case reflect.String:
		if v.Kind() == reflect.String {
			return v.Convert(t), nil
		}
	case reflect.Bool:
		if v.Kind() == reflect.Bool {
			return v.Convert(t), nil
		}
	case reflect.Slice:
		if v.Kind() == reflect.Slice || v.Kind() == reflect.Array {
			out := reflect.MakeSlice(t, v.Len(), v.Len())
			for i := 0; i < v.Len(); i++ {
				elem, err := convert(v.Index(i), t.Elem())
				if err != nil {
					return reflect.Value{}, err
				}
				out.Index(i).Set(elem)
			}
			return out, nil
		}
	case reflect.Map:
		if v.Kind() == reflect.Map {
			out := reflect.MakeMapWithSize(t, v.Len())
			iter := v.MapRange()
			for iter.Next() {
				k, err := convert(iter.Key(), t.Key())
				if err != nil {
					return reflect.Value{}, err
				}
				e, err := convert(iter.Value(), t.Elem())
				if err != nil {
					return reflect.Value{}, err
				}
				out.SetMapIndex(k, e)
			}
			return out, nil
		}
	case reflect.Interface:
		if v.Type().Implements(t) {
			out := reflect.New(t).Elem()
			out.Set(v)
			return out, nil
		}
	}
	return reflect.Value{}, errors.ProtocolViolationf("cannot decode %s as %s", v.Type(), t)
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// positions decodes a list positions vector. Encoders that drop empty
// arrays leave the value out entirely, which reads as an empty list.
func positions(v any) ([]int, error) {
	if v == nil {
		return []int{}, nil
	}
	p, err := coerce[[]int](v)
	if err != nil {
		return nil, errors.Wrap(err, "malformed positions vector")
	}
	return p, nil
}
