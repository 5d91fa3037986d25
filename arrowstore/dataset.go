package arrowstore

import (
	"encoding/binary"
	"fmt"
	"reflect"

	"github.com/apache/arrow-go/v18/arrow"
	bolt "go.etcd.io/bbolt"
)

var (
	keySchema    = []byte("schema")
	keyLen       = []byte("len")
	keyChunkRows = []byte("chunkRows")
	keyChunks    = []byte("chunks")
)

// Dataset is a growable array of compound records inside a group. Cells are
// canonical Go values: bool, intN, uintN, floatN and string scalars, typed
// slices for list columns, nil for null.
type Dataset struct {
	group  *Group
	name   string
	key    []byte
	schema *arrow.Schema

	// last decoded chunk, valid while the file's write generation is unchanged
	cache struct {
		ok   bool
		gen  uint64
		idx  uint64
		rows [][]any
	}
}

type meta struct {
	length    uint64
	chunkRows uint64
}

func (m meta) chunks() uint64 {
	return (m.length + m.chunkRows - 1) / m.chunkRows
}

// Name returns the dataset name.
func (d *Dataset) Name() string { return d.name }

// Group returns the group holding the dataset.
func (d *Dataset) Group() *Group { return d.group }

func (d *Dataset) String() string {
	return fmt.Sprintf("%s[%s]", d.group.Path(), d.name)
}

func (d *Dataset) bucket(tx *bolt.Tx) *bolt.Bucket {
	g := d.group.bucket(tx)
	if g == nil {
		return nil
	}
	return g.Bucket(d.key)
}

// Exists reports whether the dataset has been created.
func (d *Dataset) Exists() (bool, error) {
	var ok bool
	err := d.group.file.view(func(tx *bolt.Tx) error {
		ok = d.bucket(tx) != nil
		return nil
	})
	return ok, err
}

// Create creates the dataset with n records equal to fill, creating the
// group as needed. A nil fill creates all-null records.
func (d *Dataset) Create(schema *arrow.Schema, n int, fill []any) error {
	if n < 0 {
		return fmt.Errorf("%s: negative size %d", d, n)
	}
	enc, err := d.group.file.codec.encodeSchema(schema)
	if err != nil {
		return err
	}
	return d.group.file.update(func(tx *bolt.Tx) error {
		g, err := d.group.require(tx)
		if err != nil {
			return err
		}
		if g.Bucket(d.key) != nil {
			return fmt.Errorf("%s: %w", d, ErrExists)
		}
		b, err := g.CreateBucket(d.key)
		if err != nil {
			return err
		}
		if _, err := b.CreateBucket(keyChunks); err != nil {
			return err
		}
		m := meta{chunkRows: uint64(d.group.file.opts.ChunkRows)}
		if err := b.Put(keySchema, enc); err != nil {
			return err
		}
		if err := b.Put(keyChunkRows, u64(m.chunkRows)); err != nil {
			return err
		}
		d.schema = schema
		return d.resize(b, m, uint64(n), fill)
	})
}

// Schema returns the record layout.
func (d *Dataset) Schema() (*arrow.Schema, error) {
	if d.schema != nil {
		return d.schema, nil
	}
	err := d.group.file.view(func(tx *bolt.Tx) error {
		b := d.bucket(tx)
		if b == nil {
			return fmt.Errorf("%s: %w", d, ErrNotFound)
		}
		_, err := d.loadSchema(b)
		return err
	})
	return d.schema, err
}

// Len returns the number of records.
func (d *Dataset) Len() (int, error) {
	var n int
	err := d.group.file.view(func(tx *bolt.Tx) error {
		b := d.bucket(tx)
		if b == nil {
			return fmt.Errorf("%s: %w", d, ErrNotFound)
		}
		m, err := loadMeta(b)
		n = int(m.length)
		return err
	})
	return n, err
}

// Resize grows or shrinks the dataset to n records. New records equal fill.
func (d *Dataset) Resize(n int, fill []any) error {
	if n < 0 {
		return fmt.Errorf("%s: negative size %d", d, n)
	}
	return d.group.file.update(func(tx *bolt.Tx) error {
		b := d.bucket(tx)
		if b == nil {
			return fmt.Errorf("%s: %w", d, ErrNotFound)
		}
		if _, err := d.loadSchema(b); err != nil {
			return err
		}
		m, err := loadMeta(b)
		if err != nil {
			return err
		}
		return d.resize(b, m, uint64(n), fill)
	})
}

func (d *Dataset) resize(b *bolt.Bucket, m meta, n uint64, fill []any) error {
	nf := d.schema.NumFields()
	if fill == nil {
		fill = make([]any, nf)
	}
	if len(fill) != nf {
		return fmt.Errorf("%w: fill row has %d cells for %d columns", ErrType, len(fill), nf)
	}
	chunks := b.Bucket(keyChunks)

	switch {
	case n > m.length:
		total := m.length
		if off := m.length % m.chunkRows; off != 0 {
			idx := m.length / m.chunkRows
			rows, err := d.readChunk(chunks, idx, false)
			if err != nil {
				return err
			}
			for uint64(len(rows)) < m.chunkRows && total < n {
				rows = append(rows, fill)
				total++
			}
			if err := d.writeChunk(chunks, idx, rows); err != nil {
				return err
			}
		}
		for total < n {
			k := min(m.chunkRows, n-total)
			rows := make([][]any, k)
			for i := range rows {
				rows[i] = fill
			}
			if err := d.writeChunk(chunks, total/m.chunkRows, rows); err != nil {
				return err
			}
			total += k
		}
	case n < m.length:
		keep := (n + m.chunkRows - 1) / m.chunkRows
		for idx := keep; idx < m.chunks(); idx++ {
			if err := chunks.Delete(u64(idx)); err != nil {
				return err
			}
		}
		if off := n % m.chunkRows; off != 0 {
			idx := n / m.chunkRows
			rows, err := d.readChunk(chunks, idx, false)
			if err != nil {
				return err
			}
			if err := d.writeChunk(chunks, idx, rows[:off]); err != nil {
				return err
			}
		}
	}
	return b.Put(keyLen, u64(n))
}

// readRow returns a copy of record i.
func (d *Dataset) readRow(i int) ([]any, error) {
	var row []any
	err := d.view(i, func(rows [][]any, off int) error {
		row = make([]any, len(rows[off]))
		for col, v := range rows[off] {
			row[col] = copyCell(v)
		}
		return nil
	})
	return row, err
}

// ReadCell returns a copy of one cell.
func (d *Dataset) ReadCell(i, col int) (any, error) {
	var v any
	err := d.view(i, func(rows [][]any, off int) error {
		if col < 0 || col >= len(rows[off]) {
			return fmt.Errorf("%s: no column %d", d, col)
		}
		v = copyCell(rows[off][col])
		return nil
	})
	return v, err
}

// writeRow replaces record i.
func (d *Dataset) writeRow(i int, row []any) error {
	return d.UpdateRow(i, func(old []any) error {
		if len(row) != len(old) {
			return fmt.Errorf("%w: row has %d cells for %d columns", ErrType, len(row), len(old))
		}
		copy(old, row)
		return nil
	})
}

// WriteCell replaces one cell of record i.
func (d *Dataset) WriteCell(i, col int, v any) error {
	return d.UpdateRow(i, func(row []any) error {
		if col < 0 || col >= len(row) {
			return fmt.Errorf("%s: no column %d", d, col)
		}
		row[col] = v
		return nil
	})
}

// UpdateRow reads record i, passes it to fn for modification and writes it
// back within one transaction. Nothing is written when fn or the encoding
// fails.
func (d *Dataset) UpdateRow(i int, fn func(row []any) error) error {
	return d.group.file.update(func(tx *bolt.Tx) error {
		b := d.bucket(tx)
		if b == nil {
			return fmt.Errorf("%s: %w", d, ErrNotFound)
		}
		if _, err := d.loadSchema(b); err != nil {
			return err
		}
		m, err := loadMeta(b)
		if err != nil {
			return err
		}
		if i < 0 || uint64(i) >= m.length {
			return fmt.Errorf("%s: row %d of %d: %w", d, i, m.length, ErrRange)
		}
		chunks := b.Bucket(keyChunks)
		idx := uint64(i) / m.chunkRows
		rows, err := d.readChunk(chunks, idx, false)
		if err != nil {
			return err
		}
		off := uint64(i) % m.chunkRows
		if off >= uint64(len(rows)) {
			return fmt.Errorf("%w: chunk %d has %d rows, want row %d", ErrCorrupt, idx, len(rows), off)
		}
		if err := fn(rows[off]); err != nil {
			return err
		}
		return d.writeChunk(chunks, idx, rows)
	})
}

// ReadColumn returns every cell of one column in record order.
func (d *Dataset) ReadColumn(col int) ([]any, error) {
	var out []any
	err := d.group.file.view(func(tx *bolt.Tx) error {
		b := d.bucket(tx)
		if b == nil {
			return fmt.Errorf("%s: %w", d, ErrNotFound)
		}
		schema, err := d.loadSchema(b)
		if err != nil {
			return err
		}
		if col < 0 || col >= schema.NumFields() {
			return fmt.Errorf("%s: no column %d", d, col)
		}
		m, err := loadMeta(b)
		if err != nil {
			return err
		}
		out = make([]any, 0, m.length)
		chunks := b.Bucket(keyChunks)
		for idx := uint64(0); idx < m.chunks(); idx++ {
			rows, err := d.readChunk(chunks, idx, true)
			if err != nil {
				return err
			}
			for _, row := range rows {
				out = append(out, copyCell(row[col]))
			}
		}
		return nil
	})
	return out, err
}

// FillColumn sets one column of every record to v.
func (d *Dataset) FillColumn(col int, v any) error {
	return d.group.file.update(func(tx *bolt.Tx) error {
		b := d.bucket(tx)
		if b == nil {
			return fmt.Errorf("%s: %w", d, ErrNotFound)
		}
		schema, err := d.loadSchema(b)
		if err != nil {
			return err
		}
		if col < 0 || col >= schema.NumFields() {
			return fmt.Errorf("%s: no column %d", d, col)
		}
		m, err := loadMeta(b)
		if err != nil {
			return err
		}
		chunks := b.Bucket(keyChunks)
		for idx := uint64(0); idx < m.chunks(); idx++ {
			rows, err := d.readChunk(chunks, idx, false)
			if err != nil {
				return err
			}
			for _, row := range rows {
				row[col] = v
			}
			if err := d.writeChunk(chunks, idx, rows); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *Dataset) view(i int, fn func(rows [][]any, off int) error) error {
	return d.group.file.view(func(tx *bolt.Tx) error {
		b := d.bucket(tx)
		if b == nil {
			return fmt.Errorf("%s: %w", d, ErrNotFound)
		}
		if _, err := d.loadSchema(b); err != nil {
			return err
		}
		m, err := loadMeta(b)
		if err != nil {
			return err
		}
		if i < 0 || uint64(i) >= m.length {
			return fmt.Errorf("%s: row %d of %d: %w", d, i, m.length, ErrRange)
		}
		rows, err := d.readChunk(b.Bucket(keyChunks), uint64(i)/m.chunkRows, true)
		if err != nil {
			return err
		}
		off := int(uint64(i) % m.chunkRows)
		if off >= len(rows) {
			return fmt.Errorf("%w: chunk too short for row %d", ErrCorrupt, i)
		}
		return fn(rows, off)
	})
}

func (d *Dataset) loadSchema(b *bolt.Bucket) (*arrow.Schema, error) {
	if d.schema != nil {
		return d.schema, nil
	}
	raw := b.Get(keySchema)
	if raw == nil {
		return nil, fmt.Errorf("%w: %s has no schema", ErrCorrupt, d)
	}
	s, err := d.group.file.codec.decodeSchema(raw)
	if err != nil {
		return nil, err
	}
	d.schema = s
	return s, nil
}

func loadMeta(b *bolt.Bucket) (meta, error) {
	var m meta
	cr := b.Get(keyChunkRows)
	if len(cr) != 8 {
		return m, fmt.Errorf("%w: missing chunk size", ErrCorrupt)
	}
	m.chunkRows = binary.BigEndian.Uint64(cr)
	if m.chunkRows == 0 {
		return m, fmt.Errorf("%w: zero chunk size", ErrCorrupt)
	}
	if l := b.Get(keyLen); len(l) == 8 {
		m.length = binary.BigEndian.Uint64(l)
	}
	return m, nil
}

// readChunk decodes chunk idx. With cached set, the last decoded chunk is
// reused while nothing has been written since; cached rows must not be
// modified.
func (d *Dataset) readChunk(chunks *bolt.Bucket, idx uint64, cached bool) ([][]any, error) {
	gen := d.group.file.gen.Load()
	if cached && d.cache.ok && d.cache.gen == gen && d.cache.idx == idx {
		return d.cache.rows, nil
	}
	raw := chunks.Get(u64(idx))
	if raw == nil {
		return nil, fmt.Errorf("%w: %s is missing chunk %d", ErrCorrupt, d, idx)
	}
	rows, err := d.group.file.codec.decodeChunk(raw)
	if err != nil {
		return nil, fmt.Errorf("%s chunk %d: %w", d, idx, err)
	}
	if cached {
		d.cache.ok, d.cache.gen, d.cache.idx, d.cache.rows = true, gen, idx, rows
	}
	return rows, nil
}

func (d *Dataset) writeChunk(chunks *bolt.Bucket, idx uint64, rows [][]any) error {
	enc, err := d.group.file.codec.encodeChunk(d.schema, rows)
	if err != nil {
		return fmt.Errorf("%s chunk %d: %w", d, idx, err)
	}
	d.cache.ok = false
	return chunks.Put(u64(idx), enc)
}

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// copyCell copies slice cells so callers cannot alias stored state.
func copyCell(v any) any {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return v
	}
	out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
	reflect.Copy(out, rv)
	return out.Interface()
}
