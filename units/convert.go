package units

import (
	"fmt"
	"reflect"
)

// Quantity is a value tagged with its unit expression. Value is a number or a
// slice of numbers.
type Quantity struct {
	Value any
	Unit  string
}

func (q Quantity) String() string {
	return fmt.Sprintf("%v %s", q.Value, q.Unit)
}

// Converter converts values between units.
type Converter interface {
	// Factor returns the multiplier taking a value in from to a value in to.
	Factor(from, to string) (float64, error)
}

// SI is the default Converter backed by Parse.
type SI struct{}

// Factor implements Converter.
func (SI) Factor(from, to string) (float64, error) {
	if from == to {
		return 1, nil
	}
	fu, err := Parse(from)
	if err != nil {
		return 0, err
	}
	tu, err := Parse(to)
	if err != nil {
		return 0, err
	}
	if !fu.Compatible(tu) {
		return 0, fmt.Errorf("%w: %q and %q", ErrIncompatibleUnit, from, to)
	}
	return fu.Factor / tu.Factor, nil
}

// Default is the converter used when none is configured.
var Default Converter = SI{}

// Convert converts v from one unit to another using c. A factor of exactly 1
// returns v unchanged so integer values keep their type; otherwise numbers
// become float64 and slices become []float64.
func Convert(c Converter, v any, from, to string) (any, error) {
	f, err := c.Factor(from, to)
	if err != nil {
		return nil, err
	}
	if f == 1 {
		return v, nil
	}
	return scale(v, f)
}

// To converts q into unit using c.
func (q Quantity) To(c Converter, unit string) (Quantity, error) {
	v, err := Convert(c, q.Value, q.Unit, unit)
	if err != nil {
		return Quantity{}, err
	}
	return Quantity{Value: v, Unit: unit}, nil
}

func scale(v any, f float64) (any, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float() * f, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()) * f, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()) * f, nil
	case reflect.Slice, reflect.Array:
		// Nested slices flatten in row-major order.
		out := make([]float64, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			x, err := scale(rv.Index(i).Interface(), f)
			if err != nil {
				return nil, err
			}
			switch x := x.(type) {
			case float64:
				out = append(out, x)
			case []float64:
				out = append(out, x...)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot convert %T between units", v)
}
