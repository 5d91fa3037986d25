// Package schema compiles declarative schema documents into immutable
// descriptors: a flat column layout, default values, lookup fields, nested
// groups and references to child schemas.
//
// A document is a JSON (or YAML) array of schema nodes:
//
//	[{"_schema": "atom", "_datasetName": "atoms",
//	  "identity": {
//	    "element": {"dtype": "a2"},
//	    "atomicNumber": {"dtype": "l", "key": "identity.element", "lookup": {"H": 1, "C": 6}}
//	  },
//	  "position": {"dtype": "d", "shape": [3], "unit": "AA"}}]
package schema

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/VanDung-dev/HeavyData-Engine/errdefs"
)

// RowToken is the placeholder substituted with the row index in ref paths.
const RowToken = "{ROW}"

// StorageKind selects how a stored field is laid out in its column.
type StorageKind uint8

const (
	StorageFixedText StorageKind = iota
	StorageVarText
	StorageScalar
	StorageFixedArray
	StorageVarArray
)

func (k StorageKind) String() string {
	switch k {
	case StorageFixedText:
		return "fixed-text"
	case StorageVarText:
		return "variable-text"
	case StorageScalar:
		return "scalar"
	case StorageFixedArray:
		return "fixed-array"
	case StorageVarArray:
		return "variable-array"
	default:
		return "unknown"
	}
}

// Variable reports whether values of this kind have no fixed size.
func (k StorageKind) Variable() bool {
	return k == StorageVarText || k == StorageVarArray
}

// MemberKind tags what a fully-qualified name resolves to.
type MemberKind uint8

const (
	MemberStored MemberKind = iota
	MemberLookup
	MemberRef
	MemberGroup
)

func (k MemberKind) String() string {
	switch k {
	case MemberStored:
		return "stored"
	case MemberLookup:
		return "lookup"
	case MemberRef:
		return "ref"
	case MemberGroup:
		return "group"
	default:
		return "unknown"
	}
}

// Field describes a stored field and its column.
type Field struct {
	Name    string // fully qualified, dot-joined
	Storage StorageKind
	DType   DType
	Unit    string
	Shape   []int
	Column  int
	Default any // nil when records start absent
}

// Size returns the number of elements of a fixed array, 1 otherwise.
func (f *Field) Size() int {
	n := 1
	for _, d := range f.Shape {
		n *= d
	}
	return n
}

// Broadcastable reports whether one value may be written to every record of
// the column at once.
func (f *Field) Broadcastable() bool {
	switch f.Storage {
	case StorageScalar, StorageFixedText:
		return true
	case StorageFixedArray:
		return len(f.Shape) == 1
	}
	return false
}

// ArrowType returns the Arrow type of the field's column.
func (f *Field) ArrowType() arrow.DataType {
	switch f.Storage {
	case StorageFixedArray:
		return arrow.FixedSizeListOf(int32(f.Size()), f.DType.Arrow())
	case StorageVarArray:
		return arrow.ListOf(f.DType.Arrow())
	default:
		return f.DType.Arrow()
	}
}

func (f *Field) describe() string {
	parts := make([]string, 0, 4)
	switch f.Storage {
	case StorageVarText:
		parts = append(parts, "dtype: string (utf-8 encoded)", "shape: dynamic")
	case StorageVarArray:
		parts = append(parts, fmt.Sprintf("dtype: `[%s,…]`", f.DType), "shape: dynamic")
	case StorageFixedArray:
		dims := make([]string, len(f.Shape))
		for i, d := range f.Shape {
			dims[i] = strconv.Itoa(d)
		}
		parts = append(parts, "shape: ["+strings.Join(dims, "×")+"]", fmt.Sprintf("dtype: `%s`", f.DType))
	default:
		parts = append(parts, fmt.Sprintf("dtype: `%s`", f.DType))
	}
	if f.Unit != "" {
		parts = append(parts, fmt.Sprintf("unit: `%s`", f.Unit))
	}
	if f.Default != nil {
		parts = append(parts, fmt.Sprintf("default: `%v`", defaultScalar(f.Default)))
	}
	return strings.Join(parts, ", ")
}

func defaultScalar(v any) any {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice && rv.Len() > 0 {
		return rv.Index(0).Interface()
	}
	return v
}

// Lookup describes a computed field resolved through a static table keyed by
// the value of a stored field. The embedded Field describes the value layout;
// its Column is -1.
type Lookup struct {
	Field
	Key   string
	Table map[string]any
	Keys  []string // declaration order
}

// Resolve maps the key value of a row to its table value. The returned value
// is shared with the table and must not be modified.
func (l *Lookup) Resolve(key string, row int) (any, error) {
	v, ok := l.Table[key]
	if !ok {
		return nil, errdefs.FieldRow(errdefs.ErrLookupMiss, l.Name, row,
			"key %q (%s) not found in the lookup table with keys [%s]", key, l.Key, strings.Join(l.Keys, ", "))
	}
	return v, nil
}

// FormatKey renders a stored key value as a lookup table key.
func FormatKey(v any) string {
	switch k := v.(type) {
	case nil:
		return ""
	case string:
		return k
	case []byte:
		return string(k)
	case bool:
		return strconv.FormatBool(k)
	case float32:
		return strconv.FormatFloat(float64(k), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(k, 'g', -1, 64)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	}
	return fmt.Sprint(v)
}

// Ref describes a one-to-many link from a record to a table of the Target
// schema stored at PathTemplate with the row substituted.
type Ref struct {
	Name         string
	PathTemplate string
	Target       string
}

// Path returns the group path of the child table of row, without the
// trailing separator.
func (r *Ref) Path(row int) string {
	p := strings.ReplaceAll(r.PathTemplate, RowToken, strconv.Itoa(row))
	return strings.TrimSuffix(p, "/")
}

// Member is the tagged variant a fully-qualified name resolves to. Exactly
// one of Field, Lookup and Ref is set for the corresponding kinds; groups
// carry only their name.
type Member struct {
	Kind   MemberKind
	Name   string
	Field  *Field
	Lookup *Lookup
	Ref    *Ref
}

// Schema is a compiled, immutable schema descriptor.
type Schema struct {
	Name        string
	DatasetName string
	Fields      []*Field
	Lookups     []*Lookup
	Refs        []*Ref
	Groups      []string
	Hash        uint64

	members map[string]Member
	doc     string
}

// Key returns the interning key of the schema.
func (s *Schema) Key() Key {
	return Key{Name: s.Name, Hash: s.Hash}
}

// Member resolves a fully-qualified name.
func (s *Schema) Member(name string) (Member, bool) {
	m, ok := s.members[name]
	return m, ok
}

// Field returns the stored field with the given fully-qualified name.
func (s *Schema) Field(name string) (*Field, bool) {
	m, ok := s.members[name]
	if !ok || m.Kind != MemberStored {
		return nil, false
	}
	return m.Field, true
}

// DefaultRow returns one record built from the defaults, indexed by column.
func (s *Schema) DefaultRow() []any {
	row := make([]any, len(s.Fields))
	for i, f := range s.Fields {
		if f.Default != nil {
			row[i] = copyValue(f.Default)
		}
	}
	return row
}

// ArrowSchema returns the compound record layout of the schema's dataset.
// Every column is nullable; a null cell is an absent value.
func (s *Schema) ArrowSchema() *arrow.Schema {
	fields := make([]arrow.Field, len(s.Fields))
	for i, f := range s.Fields {
		keys := []string{"dtype", "storage"}
		vals := []string{f.DType.Code, f.Storage.String()}
		if f.Unit != "" {
			keys = append(keys, "unit")
			vals = append(vals, f.Unit)
		}
		fields[i] = arrow.Field{
			Name:     f.Name,
			Type:     f.ArrowType(),
			Nullable: true,
			Metadata: arrow.NewMetadata(keys, vals),
		}
	}
	md := arrow.NewMetadata([]string{"schema", "hash"}, []string{s.Name, strconv.FormatUint(s.Hash, 16)})
	return arrow.NewSchema(fields, &md)
}

// Doc returns the markdown documentation of the schema.
func (s *Schema) Doc() string {
	return s.doc
}

func (s *Schema) String() string {
	return fmt.Sprintf("schema %s (%d fields, %d lookups, %d refs)", s.Name, len(s.Fields), len(s.Lookups), len(s.Refs))
}

func copyValue(v any) any {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return v
	}
	out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
	reflect.Copy(out, rv)
	return out.Interface()
}

func defaultFor(storage StorageKind, d DType, size int) any {
	var elem any
	switch {
	case storage.Variable() || d.Kind == KindText:
		return nil
	case d.Kind == KindFloat && d.Bits == 32:
		elem = float32(math.NaN())
	case d.Kind == KindFloat:
		elem = math.NaN()
	default:
		elem = reflect.Zero(d.GoType()).Interface()
	}
	if storage != StorageFixedArray {
		return elem
	}
	out := reflect.MakeSlice(reflect.SliceOf(d.GoType()), size, size)
	for i := 0; i < size; i++ {
		out.Index(i).Set(reflect.ValueOf(elem))
	}
	return out.Interface()
}
