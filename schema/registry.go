package schema

import (
	"fmt"
	"strings"

	"github.com/VanDung-dev/HeavyData-Engine/errdefs"
)

// Key interns a schema by name and content hash.
type Key struct {
	Name string
	Hash uint64
}

func (k Key) String() string {
	return fmt.Sprintf("%s@%016x", k.Name, k.Hash)
}

// Registry maps schema names to compiled descriptors. A registry built by
// Compile also keeps the document it was compiled from, which is what gets
// persisted next to the data.
type Registry struct {
	schemas map[string]*Schema
	order   []string
	doc     []byte
	hash    uint64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*Schema)}
}

// Register adds s. A second schema under the same name is rejected.
func (r *Registry) Register(s *Schema) error {
	if _, ok := r.schemas[s.Name]; ok {
		return fmt.Errorf("%w: %w: duplicate schema name %q", errdefs.ErrSchema, errdefs.ErrBrokenInvariant, s.Name)
	}
	r.schemas[s.Name] = s
	r.order = append(r.order, s.Name)
	return nil
}

// Lookup returns the schema registered under name.
func (r *Registry) Lookup(name string) (*Schema, bool) {
	s, ok := r.schemas[name]
	return s, ok
}

// Schema is like Lookup but reports an unknown name as a schema error.
func (r *Registry) Schema(name string) (*Schema, error) {
	s, ok := r.schemas[name]
	if !ok {
		return nil, errdefs.Schemaf("unknown schema %q (registered: %s)", name, strings.Join(r.order, ", "))
	}
	return s, nil
}

// Intern returns the registered schema only when both name and content
// hash match.
func (r *Registry) Intern(k Key) (*Schema, bool) {
	s, ok := r.schemas[k.Name]
	if !ok || s.Hash != k.Hash {
		return nil, false
	}
	return s, true
}

// Names returns the schema names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Len returns the number of registered schemas.
func (r *Registry) Len() int { return len(r.order) }

// Document returns the source document, nil for registries assembled with
// Register.
func (r *Registry) Document() []byte { return r.doc }

// Hash returns the content hash of the source document.
func (r *Registry) Hash() uint64 { return r.hash }

// Validate checks that every schema ref targets a registered schema.
func (r *Registry) Validate() error {
	for _, name := range r.order {
		for _, ref := range r.schemas[name].Refs {
			if _, ok := r.schemas[ref.Target]; !ok {
				return errdefs.Field(errdefs.ErrSchema, name+"."+ref.Name, "unknown target schema %q", ref.Target)
			}
		}
	}
	return nil
}

// Doc returns the markdown documentation of every schema.
func (r *Registry) Doc() string {
	var b strings.Builder
	for i, name := range r.order {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(r.schemas[name].Doc())
	}
	return b.String()
}
