package arrowstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"reflect"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/zeebo/xxh3"
)

// codec serializes schemas and row chunks to Arrow IPC streams.
type codec struct {
	allocator memory.Allocator
}

func newCodec() *codec {
	return &codec{allocator: memory.DefaultAllocator}
}

// encodeSchema writes a stream holding only the schema message.
func (c *codec) encodeSchema(schema *arrow.Schema) ([]byte, error) {
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema), ipc.WithAllocator(c.allocator))
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to write schema: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *codec) decodeSchema(data []byte) (*arrow.Schema, error) {
	r, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(c.allocator))
	if err != nil {
		return nil, fmt.Errorf("%w: schema: %v", ErrCorrupt, err)
	}
	defer r.Release()
	return r.Schema(), nil
}

// encodeChunk builds one record batch from rows and returns it as an IPC
// stream prefixed with its xxh3 checksum.
func (c *codec) encodeChunk(schema *arrow.Schema, rows [][]any) ([]byte, error) {
	b := array.NewRecordBuilder(c.allocator, schema)
	defer b.Release()

	for r, row := range rows {
		if len(row) != schema.NumFields() {
			return nil, fmt.Errorf("%w: row %d has %d cells for %d columns", ErrType, r, len(row), schema.NumFields())
		}
		for col, v := range row {
			if err := appendValue(b.Field(col), schema.Field(col).Type, v); err != nil {
				return nil, fmt.Errorf("column %s: %w", schema.Field(col).Name, err)
			}
		}
	}
	rec := b.NewRecord()
	defer rec.Release()

	buf := bytes.NewBuffer(make([]byte, 8, 4096))
	w := ipc.NewWriter(buf, ipc.WithSchema(schema), ipc.WithAllocator(c.allocator))
	if err := w.Write(rec); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to write record: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}
	out := buf.Bytes()
	binary.BigEndian.PutUint64(out[:8], xxh3.Hash(out[8:]))
	return out, nil
}

// decodeChunk verifies and decodes a chunk into rows of canonical values.
func (c *codec) decodeChunk(data []byte) ([][]any, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: short chunk", ErrCorrupt)
	}
	if sum := binary.BigEndian.Uint64(data[:8]); sum != xxh3.Hash(data[8:]) {
		return nil, fmt.Errorf("%w: chunk checksum mismatch", ErrCorrupt)
	}

	r, err := ipc.NewReader(bytes.NewReader(data[8:]), ipc.WithAllocator(c.allocator))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer r.Release()

	if !r.Next() {
		if r.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, r.Err())
		}
		return nil, fmt.Errorf("%w: no record in chunk", ErrCorrupt)
	}
	rec := r.Record()
	rows := make([][]any, rec.NumRows())
	for i := range rows {
		rows[i] = make([]any, rec.NumCols())
	}
	for col := 0; col < int(rec.NumCols()); col++ {
		arr := rec.Column(col)
		for i := range rows {
			v, err := cellValue(arr, i)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", rec.ColumnName(col), err)
			}
			rows[i][col] = v
		}
	}
	return rows, nil
}

func appendAs[T any](appendFn func(T), v any) error {
	x, ok := v.(T)
	if !ok {
		var zero T
		return fmt.Errorf("%w: %T where %T expected", ErrType, v, zero)
	}
	appendFn(x)
	return nil
}

// appendValue appends one canonical cell value; nil appends a null.
func appendValue(b array.Builder, dt arrow.DataType, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch b := b.(type) {
	case *array.BooleanBuilder:
		return appendAs(b.Append, v)
	case *array.Int8Builder:
		return appendAs(b.Append, v)
	case *array.Int16Builder:
		return appendAs(b.Append, v)
	case *array.Int32Builder:
		return appendAs(b.Append, v)
	case *array.Int64Builder:
		return appendAs(b.Append, v)
	case *array.Uint8Builder:
		return appendAs(b.Append, v)
	case *array.Uint16Builder:
		return appendAs(b.Append, v)
	case *array.Uint32Builder:
		return appendAs(b.Append, v)
	case *array.Uint64Builder:
		return appendAs(b.Append, v)
	case *array.Float32Builder:
		return appendAs(b.Append, v)
	case *array.Float64Builder:
		return appendAs(b.Append, v)
	case *array.StringBuilder:
		return appendAs(b.Append, v)
	case *array.FixedSizeBinaryBuilder:
		s, ok := v.(string)
		width := dt.(*arrow.FixedSizeBinaryType).ByteWidth
		if !ok || len(s) > width {
			return fmt.Errorf("%w: %#v does not fit %d bytes", ErrType, v, width)
		}
		padded := make([]byte, width)
		copy(padded, s)
		b.Append(padded)
		return nil
	case *array.FixedSizeListBuilder:
		lt := dt.(*arrow.FixedSizeListType)
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice || rv.Len() != int(lt.Len()) {
			return fmt.Errorf("%w: %T of length %d for a list of %d", ErrType, v, lenOf(rv), lt.Len())
		}
		b.Append(true)
		return appendElems(b.ValueBuilder(), lt.Elem(), rv)
	case *array.ListBuilder:
		lt := dt.(*arrow.ListType)
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice {
			return fmt.Errorf("%w: %T for a list", ErrType, v)
		}
		b.Append(true)
		return appendElems(b.ValueBuilder(), lt.Elem(), rv)
	}
	return fmt.Errorf("%w: unsupported column type %s", ErrType, dt)
}

func appendElems(b array.Builder, dt arrow.DataType, rv reflect.Value) error {
	for i := 0; i < rv.Len(); i++ {
		if err := appendValue(b, dt, rv.Index(i).Interface()); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

func lenOf(rv reflect.Value) int {
	if rv.Kind() == reflect.Slice {
		return rv.Len()
	}
	return -1
}

// cellValue copies one cell out of arr. Fixed-size binary cells are text
// padded with zero bytes and come back as trimmed strings.
func cellValue(arr arrow.Array, i int) (any, error) {
	if arr.IsNull(i) {
		return nil, nil
	}
	switch a := arr.(type) {
	case *array.Boolean:
		return a.Value(i), nil
	case *array.Int8:
		return a.Value(i), nil
	case *array.Int16:
		return a.Value(i), nil
	case *array.Int32:
		return a.Value(i), nil
	case *array.Int64:
		return a.Value(i), nil
	case *array.Uint8:
		return a.Value(i), nil
	case *array.Uint16:
		return a.Value(i), nil
	case *array.Uint32:
		return a.Value(i), nil
	case *array.Uint64:
		return a.Value(i), nil
	case *array.Float32:
		return a.Value(i), nil
	case *array.Float64:
		return a.Value(i), nil
	case *array.String:
		return strings.Clone(a.Value(i)), nil
	case *array.FixedSizeBinary:
		return strings.TrimRight(string(a.Value(i)), "\x00"), nil
	case *array.FixedSizeList:
		start, end := a.ValueOffsets(i)
		return listValues(a.ListValues(), start, end)
	case *array.List:
		start, end := a.ValueOffsets(i)
		return listValues(a.ListValues(), start, end)
	}
	return nil, fmt.Errorf("%w: unsupported column type %s", ErrType, arr.DataType())
}

func listValues(values arrow.Array, start, end int64) (any, error) {
	switch a := values.(type) {
	case *array.Int8:
		return cloneRange(a.Int8Values(), start, end), nil
	case *array.Int16:
		return cloneRange(a.Int16Values(), start, end), nil
	case *array.Int32:
		return cloneRange(a.Int32Values(), start, end), nil
	case *array.Int64:
		return cloneRange(a.Int64Values(), start, end), nil
	case *array.Uint8:
		return cloneRange(a.Uint8Values(), start, end), nil
	case *array.Uint16:
		return cloneRange(a.Uint16Values(), start, end), nil
	case *array.Uint32:
		return cloneRange(a.Uint32Values(), start, end), nil
	case *array.Uint64:
		return cloneRange(a.Uint64Values(), start, end), nil
	case *array.Float32:
		return cloneRange(a.Float32Values(), start, end), nil
	case *array.Float64:
		return cloneRange(a.Float64Values(), start, end), nil
	case *array.Boolean:
		out := make([]bool, end-start)
		for i := range out {
			out[i] = a.Value(int(start) + i)
		}
		return out, nil
	case *array.String:
		out := make([]string, end-start)
		for i := range out {
			out[i] = strings.Clone(a.Value(int(start) + i))
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: unsupported list element type %s", ErrType, values.DataType())
}

// cloneRange copies s[start:end] into a new, never nil, slice.
func cloneRange[T any](s []T, start, end int64) []T {
	out := make([]T, end-start)
	copy(out, s[start:end])
	return out
}
