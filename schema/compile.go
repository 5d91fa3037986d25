package schema

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"

	"github.com/VanDung-dev/HeavyData-Engine/errdefs"
	"github.com/VanDung-dev/HeavyData-Engine/units"
)

// Reserved keys of a schema node.
const (
	keySchema      = "_schema"
	keyDatasetName = "_datasetName"
)

// MaxArraySize bounds the number of elements of a fixed-shape field.
const MaxArraySize = 1 << 20

var leafKeys = map[MemberKind]map[string]bool{
	MemberStored: {"dtype": true, "unit": true, "shape": true},
	MemberLookup: {"dtype": true, "unit": true, "shape": true, "key": true, "lookup": true},
	MemberRef:    {"path": true, "schema": true},
}

// Compile parses a schema document (an array of schema nodes) and compiles
// every node into a new registry. Reference targets are checked once all
// nodes are compiled.
func Compile(doc []byte) (*Registry, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(doc, &root); err != nil {
		return nil, errdefs.Schemaf("parse document: %v", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) != 1 || root.Content[0].Kind != yaml.SequenceNode {
		return nil, errdefs.Schemaf("document must be an array of schema nodes")
	}

	reg := NewRegistry()
	for _, n := range root.Content[0].Content {
		s, err := compileNode(n)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(s); err != nil {
			return nil, err
		}
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	reg.doc = append([]byte(nil), doc...)
	reg.hash = xxhash.Sum64(doc)
	return reg, nil
}

// CompileSchema compiles a single schema node. Reference targets are not
// checked.
func CompileSchema(node []byte) (*Schema, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(node, &root); err != nil {
		return nil, errdefs.Schemaf("parse schema: %v", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) != 1 {
		return nil, errdefs.Schemaf("empty schema")
	}
	return compileNode(root.Content[0])
}

type compiler struct {
	s   *Schema
	doc strings.Builder
}

func compileNode(n *yaml.Node) (*Schema, error) {
	if n.Kind != yaml.MappingNode {
		return nil, errdefs.Schemaf("schema node at line %d is not an object", n.Line)
	}
	name, err := scalarValue(n, keySchema)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, errdefs.Schemaf("schema node at line %d has no %s", n.Line, keySchema)
	}
	dsName, err := scalarValue(n, keyDatasetName)
	if err != nil {
		return nil, err
	}
	if dsName == "" {
		dsName = name
	}
	if strings.ContainsAny(dsName, "/\x00") {
		return nil, errdefs.Schemaf("%s: invalid dataset name %q", name, dsName)
	}

	c := &compiler{s: &Schema{
		Name:        name,
		DatasetName: dsName,
		members:     make(map[string]Member),
	}}
	fmt.Fprintf(&c.doc, "**schema %s**\n\ndataset `%s`\n\n", name, dsName)
	if err := c.object(n, "", 0); err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	c.s.doc = c.doc.String()

	raw, err := yaml.Marshal(n)
	if err != nil {
		return nil, errdefs.Schemaf("%s: %v", name, err)
	}
	c.s.Hash = xxhash.Sum64(raw)
	return c.s, nil
}

func (c *compiler) object(n *yaml.Node, prefix string, level int) error {
	indent := strings.Repeat(" ", 3*level)
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i].Value, n.Content[i+1]
		fq := key
		if prefix != "" {
			fq = prefix + "." + key
		}
		if key == "" {
			return errdefs.Field(errdefs.ErrSchema, prefix, "empty key at line %d", n.Content[i].Line)
		}
		if strings.HasPrefix(key, "_") {
			if prefix == "" && (key == keySchema || key == keyDatasetName) {
				continue
			}
			return errdefs.Field(errdefs.ErrSchema, fq, "unrecognized special key %q", key)
		}
		if val.Kind != yaml.MappingNode {
			return errdefs.Field(errdefs.ErrSchema, fq, "value is not an object")
		}

		kind := classify(val)
		if err := checkKeys(fq, val, kind); err != nil {
			return err
		}
		switch kind {
		case MemberLookup:
			l, err := c.lookup(fq, val)
			if err != nil {
				return err
			}
			if err := c.add(Member{Kind: kind, Name: fq, Lookup: l}); err != nil {
				return err
			}
			c.s.Lookups = append(c.s.Lookups, l)
			fmt.Fprintf(&c.doc, "%s* `%s`: lookup, read-only: table look-up by `%s`, %s\n", indent, key, l.Key, l.describe())
		case MemberStored:
			f, err := c.field(fq, val)
			if err != nil {
				return err
			}
			f.Column = len(c.s.Fields)
			f.Default = defaultFor(f.Storage, f.DType, f.Size())
			if err := c.add(Member{Kind: kind, Name: fq, Field: f}); err != nil {
				return err
			}
			c.s.Fields = append(c.s.Fields, f)
			fmt.Fprintf(&c.doc, "%s* `%s`: stored, %s\n", indent, key, f.describe())
		case MemberRef:
			r, err := c.ref(fq, val)
			if err != nil {
				return err
			}
			if err := c.add(Member{Kind: kind, Name: fq, Ref: r}); err != nil {
				return err
			}
			c.s.Refs = append(c.s.Refs, r)
			fmt.Fprintf(&c.doc, "%s* `%s`: nested data at `%s`, schema `%s`\n", indent, key, r.PathTemplate, r.Target)
		default:
			if err := c.add(Member{Kind: MemberGroup, Name: fq}); err != nil {
				return err
			}
			c.s.Groups = append(c.s.Groups, fq)
			fmt.Fprintf(&c.doc, "%s* `%s`: group\n", indent, key)
			if err := c.object(val, fq, level+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func classify(n *yaml.Node) MemberKind {
	switch {
	case child(n, "lookup") != nil:
		return MemberLookup
	case child(n, "dtype") != nil:
		return MemberStored
	case child(n, "path") != nil || child(n, "schema") != nil:
		return MemberRef
	}
	return MemberGroup
}

func (c *compiler) add(m Member) error {
	if prev, ok := c.s.members[m.Name]; ok {
		return errdefs.Field(errdefs.ErrSchema, m.Name, "%s collides with a previously declared %s", m.Kind, prev.Kind)
	}
	c.s.members[m.Name] = m
	return nil
}

func (c *compiler) field(fq string, n *yaml.Node) (*Field, error) {
	code, err := scalarValue(n, "dtype")
	if err != nil {
		return nil, inField(fq, err)
	}
	d, err := ParseDType(code)
	if err != nil {
		return nil, inField(fq, err)
	}
	f := &Field{Name: fq, DType: d, Column: -1}

	if f.Unit, err = scalarValue(n, "unit"); err != nil {
		return nil, inField(fq, err)
	}
	if f.Unit != "" {
		if _, err := units.Parse(f.Unit); err != nil {
			return nil, errdefs.Wrap(errdefs.ErrSchema, fq, errdefs.NoRow, err)
		}
	}

	variable := false
	if sn := child(n, "shape"); sn != nil {
		switch sn.Kind {
		case yaml.ScalarNode:
			if sn.Value != "variable" {
				return nil, errdefs.Field(errdefs.ErrSchema, fq, "shape must be \"variable\" or a list of dimensions, got %q", sn.Value)
			}
			variable = true
		case yaml.SequenceNode:
			if err := sn.Decode(&f.Shape); err != nil {
				return nil, errdefs.Field(errdefs.ErrSchema, fq, "shape: %v", err)
			}
			size := 1
			for _, dim := range f.Shape {
				if dim <= 0 {
					return nil, errdefs.Field(errdefs.ErrSchema, fq, "shape %v has a non-positive dimension", f.Shape)
				}
				if size *= dim; size > MaxArraySize {
					return nil, errdefs.Field(errdefs.ErrSchema, fq, "shape %v exceeds %d elements", f.Shape, MaxArraySize)
				}
			}
		default:
			return nil, errdefs.Field(errdefs.ErrSchema, fq, "shape must be \"variable\" or a list of dimensions")
		}
	}

	switch {
	case d.Kind == KindText && len(f.Shape) > 0:
		return nil, errdefs.Field(errdefs.ErrSchema, fq, "text dtype %q cannot have a fixed shape", code)
	case d.Kind == KindText && d.Width > 0 && variable:
		return nil, errdefs.Field(errdefs.ErrSchema, fq, "fixed-width text dtype %q cannot have a variable shape", code)
	case d.Kind == KindText && d.Width > 0:
		f.Storage = StorageFixedText
	case d.Kind == KindText:
		f.Storage = StorageVarText
	case variable:
		f.Storage = StorageVarArray
	case len(f.Shape) > 0:
		f.Storage = StorageFixedArray
	default:
		f.Storage = StorageScalar
	}
	return f, nil
}

func (c *compiler) lookup(fq string, n *yaml.Node) (*Lookup, error) {
	if child(n, "dtype") == nil {
		return nil, errdefs.Field(errdefs.ErrSchema, fq, "lookup field has no dtype")
	}
	f, err := c.field(fq, n)
	if err != nil {
		return nil, err
	}
	l := &Lookup{Field: *f, Table: make(map[string]any)}

	if l.Key, err = scalarValue(n, "key"); err != nil {
		return nil, inField(fq, err)
	}
	kf, ok := c.s.Field(l.Key)
	if !ok {
		return nil, errdefs.Field(errdefs.ErrSchema, fq, "lookup key %q is not a previously declared stored field", l.Key)
	}
	if kf.Storage == StorageFixedArray || kf.Storage == StorageVarArray {
		return nil, errdefs.Field(errdefs.ErrSchema, fq, "lookup key %q is an array field", l.Key)
	}

	tn := child(n, "lookup")
	if tn.Kind != yaml.MappingNode {
		return nil, errdefs.Field(errdefs.ErrSchema, fq, "lookup table is not an object")
	}
	for i := 0; i+1 < len(tn.Content); i += 2 {
		k := tn.Content[i].Value
		if _, dup := l.Table[k]; dup {
			return nil, errdefs.Field(errdefs.ErrSchema, fq, "duplicate lookup key %q", k)
		}
		var raw any
		if err := tn.Content[i+1].Decode(&raw); err != nil {
			return nil, errdefs.Field(errdefs.ErrSchema, fq, "lookup value for %q: %v", k, err)
		}
		v, err := l.Field.coerce(raw, true)
		if err != nil {
			return nil, errdefs.Field(errdefs.ErrSchema, fq, "lookup value for %q: %v", k, err)
		}
		l.Table[k] = v
		l.Keys = append(l.Keys, k)
	}
	return l, nil
}

func (c *compiler) ref(fq string, n *yaml.Node) (*Ref, error) {
	path, err := scalarValue(n, "path")
	if err != nil {
		return nil, inField(fq, err)
	}
	target, err := scalarValue(n, "schema")
	if err != nil {
		return nil, inField(fq, err)
	}
	switch {
	case path == "" || target == "":
		return nil, errdefs.Field(errdefs.ErrSchema, fq, "schema ref needs both path and schema")
	case !strings.Contains(path, RowToken):
		return nil, errdefs.Field(errdefs.ErrSchema, fq, "schema ref path %q does not contain %q", path, RowToken)
	case !strings.HasSuffix(path, "/"):
		return nil, errdefs.Field(errdefs.ErrSchema, fq, "schema ref path %q does not end with '/'", path)
	case strings.HasPrefix(path, "/"):
		return nil, errdefs.Field(errdefs.ErrSchema, fq, "schema ref path %q is absolute", path)
	}
	segs := refSegments(path)
	for _, seg := range segs {
		if seg == "" || seg == "." || seg == ".." || strings.HasPrefix(seg, "\x00") {
			return nil, errdefs.Field(errdefs.ErrSchema, fq, "schema ref path %q has an invalid segment %q", path, seg)
		}
		if seg != RowToken && strings.Contains(seg, RowToken) {
			return nil, errdefs.Field(errdefs.ErrSchema, fq, "schema ref path %q: %s must be a whole path segment", path, RowToken)
		}
	}
	for _, other := range c.s.Refs {
		if refsOverlap(segs, refSegments(other.PathTemplate)) {
			return nil, errdefs.Field(errdefs.ErrSchema, fq, "schema ref path %q collides with %q of %s", path, other.PathTemplate, other.Name)
		}
	}
	return &Ref{Name: fq, PathTemplate: path, Target: target}, nil
}

func refSegments(path string) []string {
	return strings.Split(strings.TrimSuffix(path, "/"), "/")
}

// refsOverlap reports whether some row of one template resolves to the same
// group as, or a group nested in, some row of the other.
func refsOverlap(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if !segmentsOverlap(a[i], b[i]) {
			return false
		}
	}
	return true
}

func segmentsOverlap(a, b string) bool {
	switch {
	case a == b:
		return true
	case a == RowToken:
		return isRowIndex(b)
	case b == RowToken:
		return isRowIndex(a)
	}
	return false
}

func isRowIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// inField attributes an error that already carries its kind to a field.
func inField(fq string, err error) error {
	return &errdefs.FieldError{Field: fq, Row: errdefs.NoRow, Err: err}
}

func checkKeys(fq string, n *yaml.Node, kind MemberKind) error {
	if kind == MemberGroup {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if k := n.Content[i].Value; !leafKeys[kind][k] {
			return errdefs.Field(errdefs.ErrSchema, fq, "unexpected key %q in %s field", k, kind)
		}
	}
	return nil
}

func child(n *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}

// scalarValue returns the string value of key in mapping n, "" when absent.
func scalarValue(n *yaml.Node, key string) (string, error) {
	v := child(n, key)
	if v == nil {
		return "", nil
	}
	if v.Kind != yaml.ScalarNode {
		return "", errdefs.Schemaf("%s must be a string", key)
	}
	return v.Value, nil
}
