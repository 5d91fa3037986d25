package heavydata

import (
	"fmt"
	"iter"
	"reflect"
	"strings"

	"github.com/VanDung-dev/HeavyData-Engine/errdefs"
	"github.com/VanDung-dev/HeavyData-Engine/schema"
	"github.com/VanDung-dev/HeavyData-Engine/units"
)

// NoRow is the row of a RowContext addressing the whole table.
const NoRow = errdefs.NoRow

// RowContext is a view of a Table: either the whole table or one record,
// optionally scoped to a nested group of the schema. It holds no resources
// and is cheap to copy.
type RowContext struct {
	table  *Table
	prefix string // fully-qualified group name plus ".", empty at the root
	row    int
}

func newRoot(t *Table) *RowContext {
	return &RowContext{table: t, row: NoRow}
}

// Row returns the record index, NoRow when the context addresses the table.
func (c *RowContext) Row() int { return c.row }

// Schema returns the schema of the underlying table.
func (c *RowContext) Schema() *schema.Schema { return c.table.schema }

// Path returns the group path of the underlying table.
func (c *RowContext) Path() string { return c.table.group.Path() }

func (c *RowContext) String() string {
	s := fmt.Sprintf("<%s %s", c.table.schema.Name, c.table)
	if c.prefix != "" {
		s += " " + strings.TrimSuffix(c.prefix, ".")
	}
	if c.row != NoRow {
		s += fmt.Sprintf(" row=%d", c.row)
	}
	return s + ">"
}

func (c *RowContext) member(name string) (schema.Member, error) {
	fq := c.prefix + name
	m, ok := c.table.schema.Member(fq)
	if !ok {
		return schema.Member{}, errdefs.Field(errdefs.ErrSchema, fq, "no such member in schema %s", c.table.schema.Name)
	}
	return m, nil
}

// Get returns the value of a stored or lookup field. With a row set it is
// one value; otherwise it is a typed slice holding the value of every
// record. Values of fields with a unit are returned as units.Quantity.
func (c *RowContext) Get(name string) (any, error) {
	m, err := c.member(name)
	if err != nil {
		return nil, err
	}
	var v any
	switch m.Kind {
	case schema.MemberStored:
		v, err = c.getStored(m.Field)
	case schema.MemberLookup:
		v, err = c.getLookup(m.Lookup)
	default:
		return nil, errdefs.Field(errdefs.ErrSchema, m.Name, "%s is not a value", m.Kind)
	}
	c.table.sess.metrics.RecordFieldOp("get", err)
	if err != nil {
		return nil, err
	}
	if unit := unitOf(m); unit != "" {
		return units.Quantity{Value: v, Unit: unit}, nil
	}
	return v, nil
}

func unitOf(m schema.Member) string {
	switch m.Kind {
	case schema.MemberStored:
		return m.Field.Unit
	case schema.MemberLookup:
		return m.Lookup.Unit
	}
	return ""
}

func (c *RowContext) getStored(f *schema.Field) (any, error) {
	ds, err := c.table.dataset()
	if err != nil {
		return nil, err
	}
	if c.row != NoRow {
		v, err := ds.ReadCell(c.row, f.Column)
		if err != nil {
			return nil, c.table.storeErr(f.Name, c.row, err)
		}
		return v, nil
	}
	cells, err := ds.ReadColumn(f.Column)
	if err != nil {
		return nil, c.table.storeErr(f.Name, NoRow, err)
	}
	return column(f, cells), nil
}

func (c *RowContext) getLookup(l *schema.Lookup) (any, error) {
	key, ok := c.table.schema.Field(l.Key)
	if !ok {
		return nil, errdefs.Field(errdefs.ErrBrokenInvariant, l.Name, "key field %s is not stored", l.Key)
	}
	ds, err := c.table.dataset()
	if err != nil {
		return nil, err
	}
	if c.row != NoRow {
		k, err := ds.ReadCell(c.row, key.Column)
		if err != nil {
			return nil, c.table.storeErr(l.Name, c.row, err)
		}
		v, err := l.Resolve(schema.FormatKey(k), c.row)
		if err != nil {
			return nil, err
		}
		return copyValue(v), nil
	}
	keys, err := ds.ReadColumn(key.Column)
	if err != nil {
		return nil, c.table.storeErr(l.Name, NoRow, err)
	}
	vals := make([]any, len(keys))
	for i, k := range keys {
		if vals[i], err = l.Resolve(schema.FormatKey(k), i); err != nil {
			return nil, err
		}
	}
	return column(&l.Field, vals), nil
}

// Set writes a stored field. Plain values are taken in the field's unit;
// a units.Quantity is converted first. With a row set one record is
// written; otherwise the value is broadcast to every record, which only
// scalar, fixed text and one-dimensional fixed array fields support.
// Nothing is written when the value cannot be stored without loss.
func (c *RowContext) Set(name string, value any) error {
	err := c.set(name, value)
	c.table.sess.metrics.RecordFieldOp("set", err)
	return err
}

func (c *RowContext) set(name string, value any) error {
	m, err := c.member(name)
	if err != nil {
		return err
	}
	switch m.Kind {
	case schema.MemberStored:
	case schema.MemberLookup:
		return errdefs.FieldRow(errdefs.ErrState, m.Name, c.row, "lookup fields are read-only")
	default:
		return errdefs.Field(errdefs.ErrSchema, m.Name, "%s is not a value", m.Kind)
	}
	f := m.Field
	if err := c.table.sess.check(); err != nil {
		return err
	}
	if c.table.sess.readOnly() {
		return errdefs.FieldRow(errdefs.ErrState, f.Name, c.row, "handle is open read-only")
	}
	if c.row == NoRow && !f.Broadcastable() {
		return errdefs.Field(errdefs.ErrBroadcastNotSupported, f.Name, "%s field with shape %v", f.Storage, f.Shape)
	}

	v, err := c.convert(f, value)
	if err != nil {
		return err
	}
	v, err = f.Coerce(v)
	if err != nil {
		return errdefs.Wrap(errdefs.ErrCast, f.Name, c.row, err)
	}

	ds, err := c.table.dataset()
	if err != nil {
		return err
	}
	if c.row == NoRow {
		err = ds.FillColumn(f.Column, v)
	} else {
		err = ds.WriteCell(c.row, f.Column, v)
	}
	if err != nil {
		return c.table.storeErr(f.Name, c.row, err)
	}
	return nil
}

func (c *RowContext) convert(f *schema.Field, value any) (any, error) {
	q, ok := value.(units.Quantity)
	if !ok {
		if p, isPtr := value.(*units.Quantity); isPtr && p != nil {
			q, ok = *p, true
		}
	}
	if !ok {
		return value, nil
	}
	from, to := q.Unit, f.Unit
	if from == "" {
		from = "1"
	}
	if to == "" {
		to = "1"
	}
	v, err := units.Convert(c.table.sess.conv, q.Value, from, to)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrCast, f.Name, c.row, err)
	}
	return v, nil
}

// GetString returns a text field of one record. An absent value is "".
func (c *RowContext) GetString(name string) (string, error) {
	v, err := c.value(name)
	if err != nil || v == nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", errdefs.FieldRow(errdefs.ErrCast, c.prefix+name, c.row, "%T is not text", v)
	}
	return s, nil
}

// GetFloat64 returns a numeric field of one record, in the field's unit.
func (c *RowContext) GetFloat64(name string) (float64, error) {
	v, err := c.value(name)
	if err != nil {
		return 0, err
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	}
	return 0, errdefs.FieldRow(errdefs.ErrCast, c.prefix+name, c.row, "%T is not a number", v)
}

// GetInt64 returns an integer field of one record.
func (c *RowContext) GetInt64(name string) (int64, error) {
	v, err := c.value(name)
	if err != nil {
		return 0, err
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if u := rv.Uint(); u <= 1<<63-1 {
			return int64(u), nil
		}
	case reflect.Bool:
		if rv.Bool() {
			return 1, nil
		}
		return 0, nil
	}
	return 0, errdefs.FieldRow(errdefs.ErrCast, c.prefix+name, c.row, "%T is not an integer", v)
}

// value returns one record's value with any unit stripped.
func (c *RowContext) value(name string) (any, error) {
	if c.row == NoRow {
		return nil, errdefs.Field(errdefs.ErrState, c.prefix+name, "no row selected")
	}
	v, err := c.Get(name)
	if err != nil {
		return nil, err
	}
	if q, ok := v.(units.Quantity); ok {
		return q.Value, nil
	}
	return v, nil
}

// Child returns the context of a nested group. It accesses no storage.
func (c *RowContext) Child(name string) (*RowContext, error) {
	m, err := c.member(name)
	if err != nil {
		return nil, err
	}
	if m.Kind != schema.MemberGroup {
		return nil, errdefs.Field(errdefs.ErrSchema, m.Name, "%s is not a group", m.Kind)
	}
	return &RowContext{table: c.table, prefix: m.Name + ".", row: c.row}, nil
}

// Ref follows a schema reference of the selected record and returns the
// root context of the nested table.
func (c *RowContext) Ref(name string) (*RowContext, error) {
	if c.row == NoRow {
		return nil, errdefs.Field(errdefs.ErrState, c.prefix+name, "ambiguous row: no row selected or given")
	}
	return c.ref(name, c.row)
}

// RefAt follows a schema reference of record row of a whole-table context.
func (c *RowContext) RefAt(name string, row int) (*RowContext, error) {
	if c.row != NoRow {
		return nil, errdefs.FieldRow(errdefs.ErrState, c.prefix+name, row,
			"ambiguous row: already selected row %d", c.row)
	}
	return c.ref(name, row)
}

func (c *RowContext) ref(name string, row int) (*RowContext, error) {
	m, err := c.member(name)
	if err != nil {
		return nil, err
	}
	if m.Kind != schema.MemberRef {
		return nil, errdefs.Field(errdefs.ErrSchema, m.Name, "%s is not a schema reference", m.Kind)
	}
	n, err := c.table.len()
	if err != nil {
		return nil, err
	}
	if row < 0 || row >= n {
		return nil, errdefs.FieldRow(errdefs.ErrIndex, m.Name, row, "row out of range 0..%d", n)
	}

	sess := c.table.sess
	target, err := sess.registry.Schema(m.Ref.Target)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrBrokenInvariant, m.Name, row, err)
	}
	group := c.table.group.Child(m.Ref.Path(row))
	if !sess.readOnly() {
		ok, err := group.Exists()
		if err != nil {
			return nil, err
		}
		if !ok {
			err := group.SetAttrs(map[string]string{
				AttrSchemas: string(sess.registry.Document()),
				AttrSchema:  target.Name,
			})
			if err != nil {
				return nil, c.table.storeErr(m.Name, row, err)
			}
		}
	}
	return newRoot(newTable(sess, target, group)), nil
}

// Index returns the context of record row.
func (c *RowContext) Index(row int) (*RowContext, error) {
	if c.row != NoRow {
		return nil, errdefs.FieldRow(errdefs.ErrState, c.table.String(), row, "context already at row %d", c.row)
	}
	n, err := c.table.len()
	if err != nil {
		return nil, err
	}
	if row < 0 || row >= n {
		return nil, errdefs.FieldRow(errdefs.ErrIndex, c.table.String(), row, "row out of range 0..%d", n)
	}
	return &RowContext{table: c.table, prefix: c.prefix, row: row}, nil
}

// Len returns the number of records of the table.
func (c *RowContext) Len() (int, error) {
	if c.row != NoRow {
		return 0, errdefs.FieldRow(errdefs.ErrState, c.table.String(), c.row, "row selected, not a sequence")
	}
	return c.table.len()
}

// Rows iterates over the records of the table. Every iteration starts from
// the current length.
func (c *RowContext) Rows() iter.Seq2[*RowContext, error] {
	return func(yield func(*RowContext, error) bool) {
		n, err := c.Len()
		if err != nil {
			yield(nil, err)
			return
		}
		for i := 0; i < n; i++ {
			r, err := c.Index(i)
			if !yield(r, err) || err != nil {
				return
			}
		}
	}
}

// Resize sets the number of records, creating the dataset when needed.
// New records hold the schema defaults. Shrinking removes the nested data
// of the removed records. With reset the table is emptied first.
func (c *RowContext) Resize(n int, reset bool) error {
	if c.row != NoRow || c.prefix != "" {
		return errdefs.Statef("%s: resize is only valid on a table root", c)
	}
	var err error
	if reset {
		err = c.table.resize(0)
	}
	if err == nil {
		err = c.table.resize(n)
	}
	if err == nil {
		c.table.sess.metrics.RecordResize(n)
	}
	return err
}

// column converts per-record cells to a typed slice. Absent cells become
// the zero value.
func column(f *schema.Field, cells []any) any {
	var elem reflect.Type
	switch f.Storage {
	case schema.StorageFixedArray, schema.StorageVarArray:
		elem = reflect.SliceOf(f.DType.GoType())
	default:
		elem = f.DType.GoType()
	}
	out := reflect.MakeSlice(reflect.SliceOf(elem), len(cells), len(cells))
	for i, v := range cells {
		if v == nil {
			continue
		}
		rv := reflect.ValueOf(v)
		if rv.Type() != elem {
			if !rv.CanConvert(elem) {
				continue
			}
			rv = rv.Convert(elem)
		}
		out.Index(i).Set(rv)
	}
	return out.Interface()
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
