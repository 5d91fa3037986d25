package heavydata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/VanDung-dev/HeavyData-Engine/schema"
)

// newSample creates a grain file in a temporary directory and returns the
// handle and the root grain table.
func newSample(t *testing.T, opts ...Option) (*Handle, *RowContext) {
	t.Helper()
	opts = append([]Option{WithGroup("test"), WithConfig(Config{ChunkRows: 4, TempDir: t.TempDir()})}, opts...)
	h := New(filepath.Join(t.TempDir(), "grains.bolt"), opts...)
	grains, err := h.Open(ModeCreate, WithSchemas(schema.SampleGrain, schema.SampleDocument))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { h.Close(false) })
	return h, grains
}

func mustIndex(t *testing.T, c *RowContext, row int) *RowContext {
	t.Helper()
	r, err := c.Index(row)
	if err != nil {
		t.Fatalf("Index(%d) failed: %v", row, err)
	}
	return r
}

func mustRef(t *testing.T, c *RowContext, name string, row int) *RowContext {
	t.Helper()
	r, err := c.RefAt(name, row)
	if err != nil {
		t.Fatalf("RefAt(%s, %d) failed: %v", name, row, err)
	}
	return r
}

func mustResize(t *testing.T, c *RowContext, n int) {
	t.Helper()
	if err := c.Resize(n, false); err != nil {
		t.Fatalf("Resize(%d) failed: %v", n, err)
	}
}

func mustSet(t *testing.T, c *RowContext, name string, v any) {
	t.Helper()
	if err := c.Set(name, v); err != nil {
		t.Fatalf("Set(%s) failed: %v", name, err)
	}
}

func mustGet(t *testing.T, c *RowContext, name string) any {
	t.Helper()
	v, err := c.Get(name)
	if err != nil {
		t.Fatalf("Get(%s) failed: %v", name, err)
	}
	return v
}

// atomsOf returns the atom table of molecule m of grain g, creating the
// grain, molecule and atom tables with the given sizes.
func atomsOf(t *testing.T, grains *RowContext, nGrains, nMolecules, nAtoms int) *RowContext {
	t.Helper()
	mustResize(t, grains, nGrains)
	molecules := mustRef(t, grains, "molecules", 0)
	mustResize(t, molecules, nMolecules)
	atoms := mustRef(t, molecules, "atoms", 0)
	mustResize(t, atoms, nAtoms)
	return atoms
}

type fakeRegistry struct {
	registered   map[string]string
	unregistered []string
	registerErr  error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{registered: make(map[string]string)}
}

func (r *fakeRegistry) Register(path string) (string, error) {
	if r.registerErr != nil {
		return "", r.registerErr
	}
	ref := fmt.Sprintf("fake://%d", len(r.registered))
	r.registered[ref] = path
	return ref, nil
}

func (r *fakeRegistry) Unregister(ref string) error {
	if _, ok := r.registered[ref]; !ok {
		return errors.New("unknown reference")
	}
	delete(r.registered, ref)
	r.unregistered = append(r.unregistered, ref)
	return nil
}

// Fetch resolves references of the registry by reading the file directly.
func (r *fakeRegistry) Fetch(_ context.Context, ref string, w io.Writer) (int64, error) {
	path, ok := r.registered[ref]
	if !ok {
		return 0, fmt.Errorf("unknown reference %s", ref)
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(w, f)
}
