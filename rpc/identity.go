package rpc

import "reflect"

// isNil reports whether v is nil or a typed nil (pointer, slice, map, ...).
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map, reflect.Interface, reflect.Chan, reflect.Func:
		return rv.IsNil()
	}
	return false
}

// absent folds typed nils into an untyped nil.
func absent(v any) any {
	if isNil(v) {
		return nil
	}
	return v
}

// same is the protocol's identity test: pointers, maps and slices compare
// by address, comparable scalars and structs by value, everything else is
// never identical.
func same(a, b any) bool {
	a, b = absent(a), absent(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.Type() != rb.Type() {
		return false
	}
	switch ra.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Chan, reflect.UnsafePointer:
		return ra.Pointer() == rb.Pointer()
	case reflect.Slice:
		return ra.Pointer() == rb.Pointer() && ra.Len() == rb.Len()
	case reflect.Func:
		return false
	}
	if ra.Type().Comparable() {
		return equal(a, b)
	}
	return false
}

// equal is == that treats a runtime panic (a struct holding an
// uncomparable interface value) as "not equal".
func equal(a, b any) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return a == b
}

// shareable reports whether v opted into identity sharing and can key a map.
func shareable(v any) bool {
	s, ok := v.(Shareable)
	if !ok || isNil(v) || !s.Shareable() {
		return false
	}
	return reflect.TypeOf(v).Comparable()
}
