package heavydata

import (
	"log/slog"
	"time"

	"github.com/VanDung-dev/HeavyData-Engine/arrowstore"
	"github.com/VanDung-dev/HeavyData-Engine/monitoring"
	"github.com/VanDung-dev/HeavyData-Engine/schema"
	"github.com/VanDung-dev/HeavyData-Engine/units"
)

// Config holds the storage tunables of a Handle.
type Config struct {
	// ChunkRows is the number of records per stored chunk of new datasets.
	ChunkRows int
	// LockTimeout bounds the wait for the backing file lock.
	LockTimeout time.Duration
	// TempDir holds temporary backing files; empty means os.TempDir.
	TempDir string
}

// DefaultConfig returns the default storage configuration.
func DefaultConfig() Config {
	return Config{
		ChunkRows:   arrowstore.DefaultChunkRows,
		LockTimeout: time.Second,
	}
}

// Option configures a Handle.
type Option func(*Handle)

// WithGroup sets the group holding the root schema instance. The default is
// the root group of the file.
func WithGroup(group string) Option {
	return func(h *Handle) { h.group = group }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handle) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithCache shares a compiled-registry cache between handles.
func WithCache(c *schema.Cache) Option {
	return func(h *Handle) { h.cache = c }
}

// WithRegistry sets the distributed registry used by Expose.
func WithRegistry(r DistributedRegistry) Option {
	return func(h *Handle) { h.registry = r }
}

// WithConfig sets the storage configuration.
func WithConfig(cfg Config) Option {
	return func(h *Handle) { h.cfg = cfg }
}

// WithMetrics sets the metrics sink. Nil disables metrics.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(h *Handle) { h.metrics = m }
}

// WithConverter sets the unit converter used by Set.
func WithConverter(c units.Converter) Option {
	return func(h *Handle) {
		if c != nil {
			h.conv = c
		}
	}
}

type openOptions struct {
	root string
	doc  []byte
}

// OpenOption configures Open.
type OpenOption func(*openOptions)

// WithSchemas sets the schema document and the name of the root schema of a
// newly created file.
func WithSchemas(root string, doc []byte) OpenOption {
	return func(o *openOptions) {
		o.root = root
		o.doc = doc
	}
}
