package schema

import (
	"fmt"
	"math"
	"reflect"

	"github.com/VanDung-dev/HeavyData-Engine/errdefs"
)

// maxExactFloat is the largest integer magnitude a float of the given width
// represents exactly.
var maxExactFloat = map[int]int64{32: 1 << 24, 64: 1 << 53}

// Cast converts v to the canonical Go value of d, refusing any conversion
// that loses range or precision. Errors wrap errdefs.ErrCast.
func (d DType) Cast(v any) (any, error) {
	return d.cast(v, false)
}

// cast with narrow set also rounds floats into a narrower float type.
func (d DType) cast(v any, narrow bool) (any, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: nil is not a %s", errdefs.ErrCast, d)
	}
	rv := reflect.ValueOf(v)

	if d.Kind == KindText {
		var b []byte
		switch rv.Kind() {
		case reflect.String:
			b = []byte(rv.String())
		case reflect.Slice:
			if rv.Type().Elem().Kind() != reflect.Uint8 {
				return nil, fmt.Errorf("%w: %T to %s", errdefs.ErrCast, v, d)
			}
			b = rv.Bytes()
		default:
			return nil, fmt.Errorf("%w: %T to %s", errdefs.ErrCast, v, d)
		}
		if d.Width > 0 && len(b) > d.Width {
			return nil, fmt.Errorf("%w: %d bytes do not fit %s", errdefs.ErrCast, len(b), d)
		}
		return string(b), nil
	}

	out := reflect.New(d.GoType()).Elem()
	switch rv.Kind() {
	case reflect.Bool:
		if d.Kind == KindBool {
			out.SetBool(rv.Bool())
			return out.Interface(), nil
		}
		var n int64
		if rv.Bool() {
			n = 1
		}
		return d.castInt(n, out)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return d.castInt(rv.Int(), out)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return d.castUint(rv.Uint(), out)
	case reflect.Float32, reflect.Float64:
		return d.castFloat(rv.Float(), narrow || rv.Kind() == reflect.Float32, out)
	}
	return nil, fmt.Errorf("%w: %T to %s", errdefs.ErrCast, v, d)
}

func (d DType) castInt(n int64, out reflect.Value) (any, error) {
	switch d.Kind {
	case KindInt:
		if out.OverflowInt(n) {
			return nil, fmt.Errorf("%w: %d overflows %s", errdefs.ErrCast, n, d)
		}
		out.SetInt(n)
	case KindUint:
		if n < 0 || out.OverflowUint(uint64(n)) {
			return nil, fmt.Errorf("%w: %d overflows %s", errdefs.ErrCast, n, d)
		}
		out.SetUint(uint64(n))
	case KindFloat:
		if limit := maxExactFloat[d.Bits]; n > limit || n < -limit {
			return nil, fmt.Errorf("%w: %d is not exact in %s", errdefs.ErrCast, n, d)
		}
		out.SetFloat(float64(n))
	default:
		return nil, fmt.Errorf("%w: integer to %s", errdefs.ErrCast, d)
	}
	return out.Interface(), nil
}

func (d DType) castUint(n uint64, out reflect.Value) (any, error) {
	switch d.Kind {
	case KindInt:
		if n > math.MaxInt64 || out.OverflowInt(int64(n)) {
			return nil, fmt.Errorf("%w: %d overflows %s", errdefs.ErrCast, n, d)
		}
		out.SetInt(int64(n))
	case KindUint:
		if out.OverflowUint(n) {
			return nil, fmt.Errorf("%w: %d overflows %s", errdefs.ErrCast, n, d)
		}
		out.SetUint(n)
	case KindFloat:
		if n > uint64(maxExactFloat[d.Bits]) {
			return nil, fmt.Errorf("%w: %d is not exact in %s", errdefs.ErrCast, n, d)
		}
		out.SetFloat(float64(n))
	default:
		return nil, fmt.Errorf("%w: integer to %s", errdefs.ErrCast, d)
	}
	return out.Interface(), nil
}

func (d DType) castFloat(f float64, narrow bool, out reflect.Value) (any, error) {
	if d.Kind != KindFloat {
		return nil, fmt.Errorf("%w: float to %s", errdefs.ErrCast, d)
	}
	if d.Bits == 32 && !narrow && !math.IsNaN(f) && !math.IsInf(f, 0) && float64(float32(f)) != f {
		return nil, fmt.Errorf("%w: %g loses precision in %s", errdefs.ErrCast, f, d)
	}
	out.SetFloat(f)
	return out.Interface(), nil
}

// flatten appends the leaves of nested slices and arrays to dst in row-major
// order and reports the nesting depth.
func flatten(dst []any, rv reflect.Value) ([]any, int, error) {
	if rv.Kind() == reflect.Interface {
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return append(dst, nil), 0, nil
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return append(dst, rv.Interface()), 0, nil
	}
	depth := -1
	for i := 0; i < rv.Len(); i++ {
		var (
			d   int
			err error
		)
		dst, d, err = flatten(dst, rv.Index(i))
		if err != nil {
			return nil, 0, err
		}
		if depth >= 0 && d != depth {
			return nil, 0, fmt.Errorf("%w: ragged nested value", errdefs.ErrCast)
		}
		depth = d
	}
	if depth < 0 {
		depth = 0
	}
	return dst, depth + 1, nil
}

// Coerce converts v to the canonical stored value of f: a scalar for scalar
// and text kinds, a typed slice for array kinds, nil for an absent variable
// length value. Errors wrap errdefs.ErrCast.
func (f *Field) Coerce(v any) (any, error) {
	return f.coerce(v, false)
}

func (f *Field) coerce(v any, narrow bool) (any, error) {
	switch f.Storage {
	case StorageFixedText, StorageScalar:
		return f.DType.cast(v, narrow)
	case StorageVarText:
		if v == nil {
			return nil, nil
		}
		return f.DType.cast(v, narrow)
	}

	if v == nil {
		if f.Storage == StorageVarArray {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: nil is not a %v array", errdefs.ErrCast, f.Shape)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("%w: %T is not an array", errdefs.ErrCast, v)
	}
	leaves, depth, err := flatten(nil, rv)
	if err != nil {
		return nil, err
	}
	if f.Storage == StorageVarArray && depth != 1 {
		return nil, fmt.Errorf("%w: variable-length value must be one-dimensional, got %d dimensions", errdefs.ErrCast, depth)
	}
	if f.Storage == StorageFixedArray && len(leaves) != f.Size() {
		return nil, fmt.Errorf("%w: %d elements do not fit shape %v", errdefs.ErrCast, len(leaves), f.Shape)
	}

	out := reflect.MakeSlice(reflect.SliceOf(f.DType.GoType()), len(leaves), len(leaves))
	for i, leaf := range leaves {
		x, err := f.DType.cast(leaf, narrow)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out.Index(i).Set(reflect.ValueOf(x))
	}
	return out.Interface(), nil
}
