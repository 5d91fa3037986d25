package schema

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/VanDung-dev/HeavyData-Engine/errdefs"
)

// Kind is the base kind of a dtype.
type Kind uint8

const (
	KindBool Kind = iota
	KindInt
	KindUint
	KindFloat
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// DType is the element type of a column, parsed from a numpy-style code.
type DType struct {
	Code  string
	Kind  Kind
	Bits  int // numeric width
	Width int // fixed text width in bytes, 0 when variable
}

var numericCodes = map[string]DType{
	"?": {Kind: KindBool, Bits: 8},
	"b": {Kind: KindInt, Bits: 8},
	"B": {Kind: KindUint, Bits: 8},
	"h": {Kind: KindInt, Bits: 16},
	"H": {Kind: KindUint, Bits: 16},
	"i": {Kind: KindInt, Bits: 32},
	"I": {Kind: KindUint, Bits: 32},
	"l": {Kind: KindInt, Bits: 64},
	"L": {Kind: KindUint, Bits: 64},
	"q": {Kind: KindInt, Bits: 64},
	"Q": {Kind: KindUint, Bits: 64},
	"f": {Kind: KindFloat, Bits: 32},
	"d": {Kind: KindFloat, Bits: 64},

	"bool":    {Kind: KindBool, Bits: 8},
	"int8":    {Kind: KindInt, Bits: 8},
	"int16":   {Kind: KindInt, Bits: 16},
	"int32":   {Kind: KindInt, Bits: 32},
	"int64":   {Kind: KindInt, Bits: 64},
	"uint8":   {Kind: KindUint, Bits: 8},
	"uint16":  {Kind: KindUint, Bits: 16},
	"uint32":  {Kind: KindUint, Bits: 32},
	"uint64":  {Kind: KindUint, Bits: 64},
	"float32": {Kind: KindFloat, Bits: 32},
	"float64": {Kind: KindFloat, Bits: 64},
	"i1":      {Kind: KindInt, Bits: 8},
	"i2":      {Kind: KindInt, Bits: 16},
	"i4":      {Kind: KindInt, Bits: 32},
	"i8":      {Kind: KindInt, Bits: 64},
	"u1":      {Kind: KindUint, Bits: 8},
	"u2":      {Kind: KindUint, Bits: 16},
	"u4":      {Kind: KindUint, Bits: 32},
	"u8":      {Kind: KindUint, Bits: 64},
	"f4":      {Kind: KindFloat, Bits: 32},
	"f8":      {Kind: KindFloat, Bits: 64},
}

// ParseDType parses a dtype code such as "d", "l", "a", "a2" or "float32".
func ParseDType(code string) (DType, error) {
	code = strings.TrimLeft(code, "<>=|")
	if d, ok := numericCodes[code]; ok {
		d.Code = code
		return d, nil
	}
	if code == "a" || code == "S" || code == "U" || code == "str" {
		return DType{Code: code, Kind: KindText}, nil
	}
	if len(code) > 1 && (code[0] == 'a' || code[0] == 'S') {
		n, err := strconv.Atoi(code[1:])
		if err == nil && n > 0 {
			return DType{Code: code, Kind: KindText, Width: n}, nil
		}
	}
	return DType{}, errdefs.Schemaf("unknown dtype %q", code)
}

func (d DType) String() string {
	switch d.Kind {
	case KindBool:
		return "bool"
	case KindText:
		if d.Width > 0 {
			return fmt.Sprintf("S%d", d.Width)
		}
		return "string"
	default:
		return fmt.Sprintf("%s%d", d.Kind, d.Bits)
	}
}

// Arrow returns the Arrow type of a single element.
func (d DType) Arrow() arrow.DataType {
	switch d.Kind {
	case KindBool:
		return arrow.FixedWidthTypes.Boolean
	case KindText:
		if d.Width > 0 {
			return &arrow.FixedSizeBinaryType{ByteWidth: d.Width}
		}
		return arrow.BinaryTypes.String
	case KindFloat:
		if d.Bits == 32 {
			return arrow.PrimitiveTypes.Float32
		}
		return arrow.PrimitiveTypes.Float64
	case KindInt:
		switch d.Bits {
		case 8:
			return arrow.PrimitiveTypes.Int8
		case 16:
			return arrow.PrimitiveTypes.Int16
		case 32:
			return arrow.PrimitiveTypes.Int32
		}
		return arrow.PrimitiveTypes.Int64
	default:
		switch d.Bits {
		case 8:
			return arrow.PrimitiveTypes.Uint8
		case 16:
			return arrow.PrimitiveTypes.Uint16
		case 32:
			return arrow.PrimitiveTypes.Uint32
		}
		return arrow.PrimitiveTypes.Uint64
	}
}

var goTypes = map[Kind]map[int]reflect.Type{
	KindBool:  {8: reflect.TypeFor[bool]()},
	KindInt:   {8: reflect.TypeFor[int8](), 16: reflect.TypeFor[int16](), 32: reflect.TypeFor[int32](), 64: reflect.TypeFor[int64]()},
	KindUint:  {8: reflect.TypeFor[uint8](), 16: reflect.TypeFor[uint16](), 32: reflect.TypeFor[uint32](), 64: reflect.TypeFor[uint64]()},
	KindFloat: {32: reflect.TypeFor[float32](), 64: reflect.TypeFor[float64]()},
}

// GoType returns the Go type of a single element value.
func (d DType) GoType() reflect.Type {
	if d.Kind == KindText {
		return reflect.TypeFor[string]()
	}
	return goTypes[d.Kind][d.Bits]
}
