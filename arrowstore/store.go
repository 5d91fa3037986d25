package arrowstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Errors returned by the store.
var (
	ErrNotFound = errors.New("arrowstore: not found")
	ErrExists   = errors.New("arrowstore: already exists")
	ErrReadOnly = errors.New("arrowstore: file is read-only")
	ErrCorrupt  = errors.New("arrowstore: corrupt data")
	ErrType     = errors.New("arrowstore: value does not match column type")
	ErrRange    = errors.New("arrowstore: row out of range")
)

const (
	// DefaultChunkRows is the number of records per stored chunk.
	DefaultChunkRows = 256

	rootBucket     = "heavydata"
	attrBucket     = "\x00attrs"
	datasetPrefix  = "\x00ds:"
	reservedPrefix = "\x00"
)

// Options configures Open.
type Options struct {
	ReadOnly  bool
	Timeout   time.Duration // wait for the file lock
	ChunkRows int           // rows per chunk of newly created datasets
	Logger    *slog.Logger
}

// DefaultOptions returns options for a writable file.
func DefaultOptions() Options {
	return Options{
		Timeout:   time.Second,
		ChunkRows: DefaultChunkRows,
		Logger:    slog.Default(),
	}
}

// File is an open backing file.
type File struct {
	db     *bolt.DB
	path   string
	opts   Options
	codec  *codec
	logger *slog.Logger

	// gen counts write transactions; decoded chunk caches compare against it.
	gen atomic.Uint64
}

// Open opens path, creating it when opened writable and missing.
func Open(path string, opts Options) (*File, error) {
	if opts.ChunkRows <= 0 {
		opts.ChunkRows = DefaultChunkRows
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ReadOnly {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
	}

	db, err := bolt.Open(path, 0o644, &bolt.Options{
		Timeout:  opts.Timeout,
		ReadOnly: opts.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	f := &File{db: db, path: path, opts: opts, codec: newCodec(), logger: opts.Logger}

	if !opts.ReadOnly {
		// Per-record transactions are not fsynced; Sync and Close flush.
		db.NoSync = true
		err := db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists([]byte(rootBucket))
			return err
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("init %s: %w", path, err)
		}
	}
	f.logger.Debug("backing file opened", "path", path, "readonly", opts.ReadOnly)
	return f, nil
}

// Path returns the file path.
func (f *File) Path() string { return f.path }

// ReadOnly reports whether the file was opened read-only.
func (f *File) ReadOnly() bool { return f.opts.ReadOnly }

// Size returns the current size of the file in bytes.
func (f *File) Size() (int64, error) {
	var n int64
	err := f.db.View(func(tx *bolt.Tx) error {
		n = tx.Size()
		return nil
	})
	return n, err
}

// Sync flushes written data to disk.
func (f *File) Sync() error {
	if f.opts.ReadOnly {
		return nil
	}
	return f.db.Sync()
}

// Close flushes and closes the file.
func (f *File) Close() error {
	var syncErr error
	if !f.opts.ReadOnly {
		syncErr = f.db.Sync()
	}
	if err := f.db.Close(); err != nil {
		return err
	}
	f.logger.Debug("backing file closed", "path", f.path)
	return syncErr
}

// Root returns the root group.
func (f *File) Root() *Group {
	return &Group{file: f}
}

// Group returns the group at a slash-separated path below the root. The
// group need not exist.
func (f *File) Group(path string) *Group {
	return f.Root().Child(path)
}

func (f *File) view(fn func(tx *bolt.Tx) error) error {
	return f.db.View(fn)
}

func (f *File) update(fn func(tx *bolt.Tx) error) error {
	if f.opts.ReadOnly {
		return ErrReadOnly
	}
	f.gen.Add(1)
	return f.db.Update(fn)
}

// SplitPath splits a slash-separated group path into its segments.
func SplitPath(path string) []string {
	var out []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// Group is a named node of the hierarchy. It is a lightweight locator; the
// bucket is resolved on every call.
type Group struct {
	file *File
	path []string
}

// Path returns the slash-separated path of the group, "/" for the root.
func (g *Group) Path() string {
	return "/" + strings.Join(g.path, "/")
}

// File returns the file the group belongs to.
func (g *Group) File() *File { return g.file }

// Child returns the group at a slash-separated path relative to g.
func (g *Group) Child(path string) *Group {
	segs := append(append([]string(nil), g.path...), SplitPath(path)...)
	return &Group{file: g.file, path: segs}
}

func (g *Group) bucket(tx *bolt.Tx) *bolt.Bucket {
	b := tx.Bucket([]byte(rootBucket))
	for _, seg := range g.path {
		if b == nil {
			return nil
		}
		b = b.Bucket([]byte(seg))
	}
	return b
}

func (g *Group) require(tx *bolt.Tx) (*bolt.Bucket, error) {
	b, err := tx.CreateBucketIfNotExists([]byte(rootBucket))
	if err != nil {
		return nil, err
	}
	for _, seg := range g.path {
		if strings.HasPrefix(seg, reservedPrefix) {
			return nil, fmt.Errorf("invalid group name %q", seg)
		}
		if b, err = b.CreateBucketIfNotExists([]byte(seg)); err != nil {
			return nil, fmt.Errorf("group %s: %w", g.Path(), err)
		}
	}
	return b, nil
}

// Exists reports whether the group exists.
func (g *Group) Exists() (bool, error) {
	var ok bool
	err := g.file.view(func(tx *bolt.Tx) error {
		ok = g.bucket(tx) != nil
		return nil
	})
	return ok, err
}

// Require creates the group and its parents as needed.
func (g *Group) Require() error {
	return g.file.update(func(tx *bolt.Tx) error {
		_, err := g.require(tx)
		return err
	})
}

// Delete removes the group and everything below it. It reports whether the
// group existed.
func (g *Group) Delete() (bool, error) {
	if len(g.path) == 0 {
		return false, errors.New("arrowstore: cannot delete the root group")
	}
	parent := &Group{file: g.file, path: g.path[:len(g.path)-1]}
	name := []byte(g.path[len(g.path)-1])
	var deleted bool
	err := g.file.update(func(tx *bolt.Tx) error {
		b := parent.bucket(tx)
		if b == nil || b.Bucket(name) == nil {
			return nil
		}
		deleted = true
		return b.DeleteBucket(name)
	})
	return deleted, err
}

// Children returns the names of the direct subgroups.
func (g *Group) Children() ([]string, error) {
	var names []string
	err := g.file.view(func(tx *bolt.Tx) error {
		b := g.bucket(tx)
		if b == nil {
			return fmt.Errorf("group %s: %w", g.Path(), ErrNotFound)
		}
		return b.ForEach(func(k, v []byte) error {
			if v == nil && !strings.HasPrefix(string(k), reservedPrefix) {
				names = append(names, string(k))
			}
			return nil
		})
	})
	return names, err
}

// Datasets returns the names of the datasets stored in the group.
func (g *Group) Datasets() ([]string, error) {
	var names []string
	err := g.file.view(func(tx *bolt.Tx) error {
		b := g.bucket(tx)
		if b == nil {
			return fmt.Errorf("group %s: %w", g.Path(), ErrNotFound)
		}
		return b.ForEach(func(k, v []byte) error {
			if v == nil && strings.HasPrefix(string(k), datasetPrefix) {
				names = append(names, strings.TrimPrefix(string(k), datasetPrefix))
			}
			return nil
		})
	})
	return names, err
}

// SetAttr sets a string attribute, creating the group if needed.
func (g *Group) SetAttr(key, value string) error {
	return g.file.update(func(tx *bolt.Tx) error {
		b, err := g.require(tx)
		if err != nil {
			return err
		}
		ab, err := b.CreateBucketIfNotExists([]byte(attrBucket))
		if err != nil {
			return err
		}
		return ab.Put([]byte(key), []byte(value))
	})
}

// SetAttrs sets several string attributes in one transaction, creating the
// group if needed.
func (g *Group) SetAttrs(attrs map[string]string) error {
	return g.file.update(func(tx *bolt.Tx) error {
		b, err := g.require(tx)
		if err != nil {
			return err
		}
		ab, err := b.CreateBucketIfNotExists([]byte(attrBucket))
		if err != nil {
			return err
		}
		for k, v := range attrs {
			if err := ab.Put([]byte(k), []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Attr returns a string attribute.
func (g *Group) Attr(key string) (string, error) {
	var (
		val   string
		found bool
	)
	err := g.file.view(func(tx *bolt.Tx) error {
		b := g.bucket(tx)
		if b == nil {
			return nil
		}
		if ab := b.Bucket([]byte(attrBucket)); ab != nil {
			if v := ab.Get([]byte(key)); v != nil {
				val, found = string(v), true
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("attribute %q of %s: %w", key, g.Path(), ErrNotFound)
	}
	return val, nil
}

// Attrs returns every attribute of the group.
func (g *Group) Attrs() (map[string]string, error) {
	out := make(map[string]string)
	err := g.file.view(func(tx *bolt.Tx) error {
		b := g.bucket(tx)
		if b == nil {
			return fmt.Errorf("group %s: %w", g.Path(), ErrNotFound)
		}
		ab := b.Bucket([]byte(attrBucket))
		if ab == nil {
			return nil
		}
		return ab.ForEach(func(k, v []byte) error {
			out[string(k)] = string(v)
			return nil
		})
	})
	return out, err
}

// Dataset returns the dataset locator of the given name in g.
func (g *Group) Dataset(name string) *Dataset {
	return &Dataset{group: g, name: name, key: []byte(datasetPrefix + name)}
}

// Existing returns those of the relative group paths that exist below g,
// checked in one read transaction.
func (g *Group) Existing(paths []string) ([]string, error) {
	var out []string
	err := g.file.view(func(tx *bolt.Tx) error {
		for _, p := range paths {
			if g.Child(p).bucket(tx) != nil {
				out = append(out, p)
			}
		}
		return nil
	})
	return out, err
}

// DeleteAll removes the groups at the relative paths below g in one write
// transaction. Missing groups are skipped. It returns the number deleted.
func (g *Group) DeleteAll(paths []string) (int, error) {
	var n int
	err := g.file.update(func(tx *bolt.Tx) error {
		for _, p := range paths {
			c := g.Child(p)
			if len(c.path) == len(g.path) {
				return fmt.Errorf("arrowstore: cannot delete %s from itself", g.Path())
			}
			parent := &Group{file: g.file, path: c.path[:len(c.path)-1]}
			b := parent.bucket(tx)
			name := []byte(c.path[len(c.path)-1])
			if b == nil || b.Bucket(name) == nil {
				continue
			}
			if err := b.DeleteBucket(name); err != nil {
				return fmt.Errorf("group %s: %w", c.Path(), err)
			}
			n++
		}
		return nil
	})
	return n, err
}
