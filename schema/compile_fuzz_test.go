package schema

import (
	"errors"
	"testing"

	"github.com/VanDung-dev/HeavyData-Engine/errdefs"
)

// FuzzCompile checks that arbitrary documents either compile or fail with a
// schema error, and never panic.
func FuzzCompile(f *testing.F) {
	f.Add(SampleDocument)
	f.Add([]byte(`[{"_schema": "a", "x": {"dtype": "d", "shape": [2, 2]}}]`))
	f.Add([]byte(`[{"_schema": "a", "e": {"dtype": "a2"}, "n": {"dtype": "l", "key": "e", "lookup": {"H": 1}}}]`))
	f.Add([]byte(`[{"_schema": "a", "r": {"path": "k/{ROW}/", "schema": "a"}}]`))
	f.Add([]byte(`- _schema: y`))
	f.Add([]byte(`{}`))

	f.Fuzz(func(t *testing.T, doc []byte) {
		reg, err := Compile(doc)
		if err != nil {
			if !errors.Is(err, errdefs.ErrSchema) {
				t.Fatalf("Compile returned a non-schema error: %v", err)
			}
			return
		}
		for _, name := range reg.Names() {
			s, _ := reg.Lookup(name)
			if got := s.ArrowSchema().NumFields(); got != len(s.Fields) {
				t.Fatalf("%s: %d arrow fields for %d columns", name, got, len(s.Fields))
			}
			_ = s.DefaultRow()
		}
	})
}
