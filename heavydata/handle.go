// Package heavydata is the typed access layer over schema-described
// hierarchical data stored in one backing file.
//
// A Handle owns the backing file. Opening it yields the root RowContext of
// the schema instance stored in the handle's group:
//
//	h := heavydata.New("grains.bolt", heavydata.WithGroup("test"))
//	grains, err := h.Open(heavydata.ModeCreate, heavydata.WithSchemas("grain", doc))
//	...
//	grains.Resize(5, false)
//	g, _ := grains.Index(0)
//	molecules, _ := g.Ref("molecules")
//	...
//	h.Close(false)
//
// The schema document and the root schema name are stored with the data, so
// a file opened read-only needs no schema knowledge.
package heavydata

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/VanDung-dev/HeavyData-Engine/arrowstore"
	"github.com/VanDung-dev/HeavyData-Engine/errdefs"
	"github.com/VanDung-dev/HeavyData-Engine/monitoring"
	"github.com/VanDung-dev/HeavyData-Engine/schema"
	"github.com/VanDung-dev/HeavyData-Engine/units"
)

// Mode is the mode of Open.
type Mode string

// Open modes.
const (
	ModeReadOnly     Mode = "readonly"
	ModeReadWrite    Mode = "readwrite"
	ModeCreate       Mode = "create"
	ModeOverwrite    Mode = "overwrite"
	ModeCreateMemory Mode = "create-memory"
)

// ParseMode parses the name of an open mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeReadOnly, ModeReadWrite, ModeCreate, ModeOverwrite, ModeCreateMemory:
		return m, nil
	}
	return "", fmt.Errorf("unknown open mode %q", s)
}

func (m Mode) creates() bool {
	return m == ModeCreate || m == ModeOverwrite || m == ModeCreateMemory
}

// DistributedRegistry publishes files for remote access.
type DistributedRegistry interface {
	// Register publishes the file at path and returns its reference.
	Register(path string) (string, error)
	// Unregister withdraws a published reference.
	Unregister(ref string) error
}

// Handle is the owner of one backing file. It is not safe for concurrent
// use.
type Handle struct {
	path  string
	group string
	cfg   Config

	logger   *slog.Logger
	metrics  *monitoring.Metrics
	cache    *schema.Cache
	registry DistributedRegistry
	conv     units.Converter

	file    *arrowstore.File
	sess    *session
	mode    Mode
	memPath string // private file of a create-memory handle
	temp    bool   // path is a temporary file owned by the handle
	ref     string
}

// New returns a closed handle for the file at path. An empty path is
// replaced by a temporary file when the handle is first created.
func New(path string, opts ...Option) *Handle {
	h := &Handle{
		path:   path,
		group:  "/",
		cfg:    DefaultConfig(),
		logger: slog.Default(),
		conv:   units.Default,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Path returns the path of the backing file.
func (h *Handle) Path() string { return h.path }

// Group returns the group holding the root schema instance.
func (h *Handle) Group() string { return h.group }

// Mode returns the mode the handle is open in, "" when closed.
func (h *Handle) Mode() Mode { return h.mode }

// IsOpen reports whether the backing file is open.
func (h *Handle) IsOpen() bool { return h.file != nil }

// Reference returns the published reference, "" when not exposed.
func (h *Handle) Reference() string { return h.ref }

// Temporary reports whether the backing file is a temporary file removed by
// Cleanup.
func (h *Handle) Temporary() bool { return h.temp }

func (h *Handle) storeOptions(readOnly bool) arrowstore.Options {
	opts := arrowstore.DefaultOptions()
	opts.ReadOnly = readOnly
	opts.Logger = h.logger
	if h.cfg.ChunkRows > 0 {
		opts.ChunkRows = h.cfg.ChunkRows
	}
	if h.cfg.LockTimeout > 0 {
		opts.Timeout = h.cfg.LockTimeout
	}
	return opts
}

func (h *Handle) tempPath() string {
	return filepath.Join(h.cfg.TempDir, "heavydata-tmp-"+uuid.NewString()+".bolt")
}

// Open opens the backing file and returns the root context of its schema
// instance. Opening an open handle again returns a fresh root context when
// the modes are compatible.
func (h *Handle) Open(mode Mode, opts ...OpenOption) (*RowContext, error) {
	wasOpen := h.file != nil
	root, err := h.open(mode, opts...)
	if !wasOpen {
		h.metrics.RecordOpen(string(mode), err)
	}
	if err != nil {
		return nil, err
	}
	return root, nil
}

func (h *Handle) open(mode Mode, opts ...OpenOption) (*RowContext, error) {
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	switch mode {
	case ModeReadOnly, ModeReadWrite:
		if h.file != nil {
			if h.file.ReadOnly() != (mode == ModeReadOnly) {
				return nil, errdefs.Statef("%s already open in mode %s", h.path, h.mode)
			}
			return h.root()
		}
		if h.path == "" {
			return nil, errdefs.Statef("no backing file to open in mode %s (use %s to create one)", mode, ModeCreate)
		}
		if _, err := os.Stat(h.path); err != nil {
			return nil, errdefs.Statef("%s does not exist (use mode %s to create a new file): %v", h.path, ModeCreate, err)
		}
		if err := h.openFile(h.path, mode == ModeReadOnly); err != nil {
			return nil, err
		}
		h.mode = mode
		root, err := h.root()
		if err != nil {
			h.release()
		}
		return root, err

	case ModeCreate, ModeOverwrite, ModeCreateMemory:
		if o.root == "" || len(o.doc) == 0 {
			return nil, errdefs.Statef("both the root schema and the schema document are needed to open %q in mode %s", h.path, mode)
		}
		if h.file != nil {
			return nil, errdefs.Statef("%s already open in mode %s", h.path, h.mode)
		}
		reg, err := h.compile(o.doc)
		if err != nil {
			return nil, err
		}
		if _, err := reg.Schema(o.root); err != nil {
			return nil, err
		}
		path, err := h.prepareCreate(mode)
		if err != nil {
			return nil, err
		}
		if err := h.openFile(path, false); err != nil {
			if h.memPath != "" {
				os.Remove(h.memPath)
				h.memPath = ""
			}
			return nil, err
		}
		h.mode = mode
		h.sess = h.newSession(reg)
		err = h.file.Group(h.group).SetAttrs(map[string]string{
			AttrSchemas: string(o.doc),
			AttrSchema:  o.root,
		})
		if err != nil {
			h.release()
			return nil, err
		}
		root, err := h.root()
		if err != nil {
			h.release()
		}
		return root, err
	}
	return nil, errdefs.Statef("unknown open mode %q", mode)
}

// prepareCreate returns the file to create for a creating mode.
func (h *Handle) prepareCreate(mode Mode) (string, error) {
	if mode == ModeCreateMemory {
		if h.path != "" {
			if _, err := os.Stat(h.path); err == nil {
				return "", errdefs.Statef("%s already exists", h.path)
			}
		}
		h.memPath = h.tempPath()
		return h.memPath, nil
	}

	if h.path == "" {
		h.path = h.tempPath()
		h.temp = true
		h.logger.Info("using new temporary file", "path", h.path)
		return h.path, nil
	}
	_, err := os.Stat(h.path)
	switch {
	case err == nil && mode == ModeCreate:
		return "", errdefs.Statef("%s already exists (use mode %s to replace it)", h.path, ModeOverwrite)
	case err == nil:
		if err := os.Remove(h.path); err != nil {
			return "", fmt.Errorf("overwrite %s: %w", h.path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return "", err
	}
	return h.path, nil
}

func (h *Handle) openFile(path string, readOnly bool) error {
	f, err := arrowstore.Open(path, h.storeOptions(readOnly))
	if err != nil {
		return err
	}
	h.file = f
	return nil
}

// root builds the access layer from the attributes stored in the group.
func (h *Handle) root() (*RowContext, error) {
	group := h.file.Group(h.group)
	attrs, err := group.Attrs()
	if err != nil {
		return nil, errdefs.Statef("%s: group %s holds no schema instance: %v", h.file.Path(), h.group, err)
	}
	doc, name := attrs[AttrSchemas], attrs[AttrSchema]
	if doc == "" || name == "" {
		return nil, fmt.Errorf("%w: %s: group %s lacks the %q and %q attributes",
			errdefs.ErrBrokenInvariant, h.file.Path(), h.group, AttrSchemas, AttrSchema)
	}
	if h.sess == nil {
		reg, err := h.compile([]byte(doc))
		if err != nil {
			return nil, err
		}
		h.sess = h.newSession(reg)
	}
	s, err := h.sess.registry.Schema(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errdefs.ErrBrokenInvariant, err)
	}
	return newRoot(newTable(h.sess, s, group)), nil
}

func (h *Handle) newSession(reg *schema.Registry) *session {
	return &session{
		file:     h.file,
		registry: reg,
		conv:     h.conv,
		metrics:  h.metrics,
		logger:   h.logger,
	}
}

func (h *Handle) compile(doc []byte) (*schema.Registry, error) {
	if h.cache != nil {
		return h.cache.Compile(doc)
	}
	return schema.Compile(doc)
}

// release closes the file without any of the bookkeeping of Close.
func (h *Handle) release() {
	if h.sess != nil {
		h.sess.closed = true
		h.sess = nil
	}
	if h.file != nil {
		h.file.Close()
		h.file = nil
	}
	if h.memPath != "" {
		os.Remove(h.memPath)
		h.memPath = ""
	}
	h.mode = ""
}

// Close flushes and closes the backing file and withdraws any published
// reference. With repack, a file open for writing is compacted afterwards;
// a failed repack is logged and leaves the file as it was. Closing a closed
// handle only withdraws the reference.
func (h *Handle) Close(repack bool) error {
	var errs []error
	if h.file != nil {
		errs = append(errs, h.closeFile(repack))
	}
	if err := h.withdraw(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// withdraw unregisters the published reference, if any. The reference is
// forgotten even when the registry refuses.
func (h *Handle) withdraw() error {
	if h.ref == "" || h.registry == nil {
		return nil
	}
	ref := h.ref
	h.ref = ""
	if err := h.registry.Unregister(ref); err != nil {
		return fmt.Errorf("%w: withdraw %s: %w", errdefs.ErrTransfer, ref, err)
	}
	return nil
}

func (h *Handle) closeFile(repack bool) error {
	writable := !h.file.ReadOnly()
	mode := h.mode
	h.sess.closed = true
	h.sess = nil
	err := h.file.Close()
	h.file = nil
	h.mode = ""
	h.metrics.RecordClose(string(mode))
	if err != nil {
		return fmt.Errorf("close %s: %w", h.path, err)
	}

	if h.memPath != "" {
		mem := h.memPath
		h.memPath = ""
		defer os.Remove(mem)
		if h.path == "" {
			return nil
		}
		if err := copyFile(mem, h.path); err != nil {
			return fmt.Errorf("persist %s: %w", h.path, err)
		}
	}

	if writable && repack {
		h.logger.Info("repacking backing file", "path", h.path)
		err := arrowstore.Compact(h.path, h.storeOptions(false))
		h.metrics.RecordRepack(err)
		if err != nil {
			h.logger.Warn("repacking failed, unrepacked version was retained", "path", h.path, "error", err)
		}
	}
	return nil
}

// Expose publishes the backing file through the distributed registry and
// returns its reference. Exposing an exposed handle returns the same
// reference.
func (h *Handle) Expose() (string, error) {
	if h.registry == nil {
		return "", errdefs.Statef("%s: no distributed registry configured", h.path)
	}
	if h.ref != "" {
		return h.ref, nil
	}
	path := h.path
	if h.file != nil {
		if err := h.file.Sync(); err != nil {
			return "", err
		}
		path = h.file.Path()
	}
	if path == "" {
		return "", errdefs.Statef("no backing file to expose")
	}
	ref, err := h.registry.Register(path)
	if err != nil {
		if errors.Is(err, errdefs.ErrTransfer) {
			return "", err
		}
		return "", fmt.Errorf("%w: expose %s: %w", errdefs.ErrTransfer, path, err)
	}
	h.ref = ref
	h.logger.Info("backing file exposed", "path", path, "ref", ref)
	return ref, nil
}

// Clone copies the backing file of a closed handle to newPath, or to a new
// temporary file when newPath is empty, and returns a closed handle for the
// copy with the same options. A published reference of h is withdrawn first;
// the copy starts unexposed.
func (h *Handle) Clone(newPath string) (*Handle, error) {
	if h.file != nil {
		return nil, errdefs.Statef("%s: clone requires a closed handle (open in mode %s)", h.path, h.mode)
	}
	if h.path == "" {
		return nil, errdefs.Statef("no backing file to clone")
	}
	if err := h.withdraw(); err != nil {
		return nil, err
	}
	c := &Handle{
		path:     newPath,
		group:    h.group,
		cfg:      h.cfg,
		logger:   h.logger,
		metrics:  h.metrics,
		cache:    h.cache,
		registry: h.registry,
		conv:     h.conv,
	}
	if c.path == "" {
		c.path = c.tempPath()
		c.temp = true
	}
	if err := copyFile(h.path, c.path); err != nil {
		return nil, fmt.Errorf("clone %s: %w", h.path, err)
	}
	h.logger.Debug("backing file cloned", "from", h.path, "to", c.path)
	return c, nil
}

// Cleanup removes a temporary backing file. It is a no-op for files the
// handle does not own.
func (h *Handle) Cleanup() error {
	if h.file != nil {
		return errdefs.Statef("%s: cleanup requires a closed handle", h.path)
	}
	if !h.temp {
		return nil
	}
	h.temp = false
	if err := os.Remove(h.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// SchemaDocument returns the schema document stored with the data.
func (h *Handle) SchemaDocument() ([]byte, error) {
	f := h.file
	if f == nil {
		if h.path == "" {
			return nil, errdefs.Statef("no backing file")
		}
		var err error
		if f, err = arrowstore.Open(h.path, h.storeOptions(true)); err != nil {
			return nil, err
		}
		defer f.Close()
	}
	doc, err := f.Group(h.group).Attr(AttrSchemas)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errdefs.ErrState, err)
	}
	return []byte(doc), nil
}

// SchemaRegistry compiles the schema document stored with the data.
func (h *Handle) SchemaRegistry() (*schema.Registry, error) {
	doc, err := h.SchemaDocument()
	if err != nil {
		return nil, err
	}
	return h.compile(doc)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
