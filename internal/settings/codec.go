package settings

import (
	"fmt"
	"reflect"
	"runtime"

	"howett.net/plist"
)

// codec converts between a typed value and its stored primitive. encode
// returns (nil, nil) when the value is absent and the key should be removed.
type codec[T any] interface {
	encode(v T) (any, error)
	decode(raw any) (T, error)
}

var bytesType = reflect.TypeFor[[]byte]()

// codecFor picks the native codec for the types every store holds as-is
// (time.Time and []byte) and the plist codec for everything else.
func codecFor[T any]() codec[T] {
	switch reflect.TypeFor[T]() {
	case timeType, bytesType:
		return nativeCodec[T]{}
	}
	return plistCodec[T]{}
}

type nativeCodec[T any] struct{}

func (nativeCodec[T]) encode(v T) (any, error) {
	return v, nil
}

func (nativeCodec[T]) decode(raw any) (T, error) {
	v, ok := raw.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: stored %T, want %T", ErrTypeMismatch, raw, zero)
	}
	return v, nil
}

// plistCodec goes through binary property lists. Values are wrapped in a
// one-element array before encoding so that scalars and records take the
// same path, and unwrapped again from the decoded array.
type plistCodec[T any] struct{}

func (plistCodec[T]) encode(v T) (raw any, err error) {
	if isNil(v) {
		return nil, nil
	}
	defer recoverCodec(&err)

	data, err := plist.Marshal([]T{v}, plist.BinaryFormat)
	if err != nil {
		return nil, fmt.Errorf("encoding %T: %w", v, err)
	}
	var wrapped []any
	if _, err := plist.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("unwrapping %T: %w", v, err)
	}
	if len(wrapped) != 1 {
		return nil, fmt.Errorf("unwrapping %T: got %d elements", v, len(wrapped))
	}
	return Normalize(wrapped[0])
}

func (plistCodec[T]) decode(raw any) (out T, err error) {
	defer recoverCodec(&err)

	// Pointer settings decode into a freshly allocated element; the store
	// only ever holds the pointed-to value.
	target := reflect.ValueOf(&out).Elem()
	for target.Kind() == reflect.Pointer {
		target.Set(reflect.New(target.Type().Elem()))
		target = target.Elem()
	}

	raw, err = fitStored(target.Type(), raw)
	if err != nil {
		var zero T
		return zero, err
	}
	data, err := plist.Marshal(raw, plist.BinaryFormat)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("re-encoding stored %T: %w", raw, err)
	}
	if _, err := plist.Unmarshal(data, target.Addr().Interface()); err != nil {
		var zero T
		return zero, fmt.Errorf("decoding %s: %w", target.Type(), err)
	}
	// Untyped settings get the same normalized shapes a store hands out.
	if p, ok := any(&out).(*any); ok {
		n, err := Normalize(*p)
		if err != nil {
			var zero T
			return zero, err
		}
		*p = n
	}
	return out, nil
}

// fitStored checks a stored integer against the integer type it is read
// into, since the plist decoder truncates silently, and widens it when the
// target is a float.
func fitStored(t reflect.Type, raw any) (any, error) {
	i, ok := raw.(int64)
	if !ok {
		return raw, nil
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if reflect.Zero(t).OverflowInt(i) {
			return nil, fmt.Errorf("%w: %d overflows %s", ErrTypeMismatch, i, t)
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if i < 0 || reflect.Zero(t).OverflowUint(uint64(i)) {
			return nil, fmt.Errorf("%w: %d overflows %s", ErrTypeMismatch, i, t)
		}
	case reflect.Float32, reflect.Float64:
		return float64(i), nil
	}
	return raw, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func recoverCodec(err *error) {
	r := recover()
	if r == nil {
		return
	}
	if re, ok := r.(runtime.Error); ok {
		*err = fmt.Errorf("plist codec panic: %w", re)
		return
	}
	*err = fmt.Errorf("plist codec panic: %v", r)
}
