package schema

import (
	"bytes"
	"errors"
	"testing"

	"github.com/VanDung-dev/HeavyData-Engine/errdefs"
)

func TestRegistryRegister(t *testing.T) {
	reg := NewRegistry()
	a, err := CompileSchema([]byte(`{"_schema": "a", "x": {"dtype": "d"}}`))
	if err != nil {
		t.Fatalf("CompileSchema failed: %v", err)
	}
	if err := reg.Register(a); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := reg.Register(a); !errors.Is(err, errdefs.ErrBrokenInvariant) {
		t.Errorf("Expected broken invariant on duplicate, got %v", err)
	}
	if reg.Len() != 1 {
		t.Errorf("Expected 1 schema, got %d", reg.Len())
	}
	if _, err := reg.Schema("b"); !errors.Is(err, errdefs.ErrSchema) {
		t.Errorf("Expected schema error for unknown name, got %v", err)
	}
	if reg.Document() != nil {
		t.Error("Expected no document for an assembled registry")
	}

	b, err := CompileSchema([]byte(`{"_schema": "b", "kids": {"path": "k/{ROW}/", "schema": "c"}}`))
	if err != nil {
		t.Fatalf("CompileSchema failed: %v", err)
	}
	if err := reg.Register(b); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := reg.Validate(); !errors.Is(err, errdefs.ErrSchema) {
		t.Errorf("Expected unknown target error, got %v", err)
	}
}

func TestRegistryDocument(t *testing.T) {
	reg, err := Compile(SampleDocument)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if !bytes.Equal(reg.Document(), SampleDocument) {
		t.Error("Document does not round trip")
	}
	if reg.Hash() == 0 {
		t.Error("Expected a content hash")
	}
}

func TestCache(t *testing.T) {
	c, err := NewCache(2)
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}

	r1, err := c.Compile(SampleDocument)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	r2, err := c.Compile(append([]byte(nil), SampleDocument...))
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if r1 != r2 {
		t.Error("Expected the cached registry to be shared")
	}

	docs := [][]byte{
		[]byte(`[{"_schema": "a"}]`),
		[]byte(`[{"_schema": "b"}]`),
	}
	for _, d := range docs {
		if _, err := c.Compile(d); err != nil {
			t.Fatalf("Compile failed: %v", err)
		}
	}
	if c.Len() != 2 {
		t.Errorf("Expected 2 cached registries, got %d", c.Len())
	}
	r3, err := c.Compile(SampleDocument)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if r3 == r1 {
		t.Error("Expected the evicted registry to be recompiled")
	}

	if _, err := c.Compile([]byte(`[{"_schema": "a", "x": 1}]`)); err == nil {
		t.Error("Expected compile error to surface through the cache")
	}
	c.Purge()
	if c.Len() != 0 {
		t.Errorf("Expected empty cache after Purge, got %d", c.Len())
	}
}

func TestCacheSharesIdenticalSchemas(t *testing.T) {
	c, err := NewCache(4)
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}
	const point = `{"_schema": "point", "x": {"dtype": "d", "unit": "nm"}}`
	r1, err := c.Compile([]byte(`[` + point + `, {"_schema": "a", "n": {"dtype": "l"}}]`))
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	r2, err := c.Compile([]byte(`[{"_schema": "b", "n": {"dtype": "B"}}, ` + point + `]`))
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if r1 == r2 {
		t.Fatal("Expected distinct registries for distinct documents")
	}
	p1, _ := r1.Lookup("point")
	p2, _ := r2.Lookup("point")
	if p1 != p2 {
		t.Error("Expected the identical point schema to be shared")
	}

	r3, err := c.Compile([]byte(`[{"_schema": "point", "x": {"dtype": "f", "unit": "nm"}}]`))
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if p3, _ := r3.Lookup("point"); p3 == p1 {
		t.Error("Expected a changed point schema to get its own descriptor")
	}
	if names := r2.Names(); len(names) != 2 || names[0] != "b" || names[1] != "point" {
		t.Errorf("Names = %v, want [b point]", names)
	}
}
