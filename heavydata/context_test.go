package heavydata

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/VanDung-dev/HeavyData-Engine/errdefs"
	"github.com/VanDung-dev/HeavyData-Engine/units"
)

func TestGrainMoleculeAtom(t *testing.T) {
	_, grains := newSample(t)
	mustResize(t, grains, 5)
	g0 := mustIndex(t, grains, 0)
	molecules, err := g0.Ref("molecules")
	if err != nil {
		t.Fatalf("Ref failed: %v", err)
	}
	mustResize(t, molecules, 10)
	m0 := mustIndex(t, molecules, 0)
	atoms, err := m0.Ref("atoms")
	if err != nil {
		t.Fatalf("Ref failed: %v", err)
	}
	mustResize(t, atoms, 40)
	a0 := mustIndex(t, atoms, 0)

	mustSet(t, a0, "identity.element", "H")
	if s, err := a0.GetString("identity.element"); err != nil || s != "H" {
		t.Errorf("element = %q, %v", s, err)
	}
	if v := mustGet(t, a0, "identity.atomicNumber"); v != int64(1) {
		t.Errorf("atomicNumber = %#v, want int64(1)", v)
	}
	mass, ok := mustGet(t, a0, "identity.atomicMass").(units.Quantity)
	if !ok || mass.Unit != "Dalton" || mass.Value != float32(1.0079) {
		t.Errorf("atomicMass = %#v", mass)
	}

	identity, err := a0.Child("identity")
	if err != nil {
		t.Fatalf("Child failed: %v", err)
	}
	if v := mustGet(t, identity, "element"); v != "H" {
		t.Errorf("identity.element via child = %#v", v)
	}

	if got := a0.Path(); got != "/test/grain/0/molecule/0" {
		t.Errorf("Path = %s", got)
	}
	if n, _ := atoms.Len(); n != 40 {
		t.Errorf("Len = %d, want 40", n)
	}
}

func TestDefaultFill(t *testing.T) {
	_, grains := newSample(t)
	atoms := atomsOf(t, grains, 1, 1, 6)

	for a, err := range atoms.Rows() {
		if err != nil {
			t.Fatalf("Rows failed: %v", err)
		}
		pos := mustGet(t, a, "properties.topology.position").(units.Quantity)
		if pos.Unit != "AA" {
			t.Errorf("position unit = %s", pos.Unit)
		}
		for _, x := range pos.Value.([]float64) {
			if !math.IsNaN(x) {
				t.Errorf("row %d: position = %v, want NaN", a.Row(), pos.Value)
			}
		}
		if v := mustGet(t, a, "properties.topology.parent"); v != int64(0) {
			t.Errorf("row %d: parent = %#v, want 0", a.Row(), v)
		}
		if v := mustGet(t, a, "properties.topology.name"); v != nil {
			t.Errorf("row %d: name = %#v, want absent", a.Row(), v)
		}
		if v := mustGet(t, a, "properties.topology.structure"); v != nil {
			t.Errorf("row %d: structure = %#v, want absent", a.Row(), v)
		}
	}

	parents := mustGet(t, atoms, "properties.topology.parent")
	if diff := cmp.Diff(make([]int64, 6), parents); diff != "" {
		t.Errorf("parent column mismatch:\n%s", diff)
	}
}

func TestSetConvertsUnits(t *testing.T) {
	_, grains := newSample(t)
	a0 := mustIndex(t, atomsOf(t, grains, 1, 1, 1), 0)

	mustSet(t, a0, "properties.topology.position", units.Quantity{Value: []float64{1, 2, 3}, Unit: "nm"})
	pos := mustGet(t, a0, "properties.topology.position").(units.Quantity)
	approx := cmpopts.EquateApprox(1e-12, 0)
	if diff := cmp.Diff([]float64{10, 20, 30}, pos.Value, approx); diff != "" {
		t.Errorf("position mismatch:\n%s", diff)
	}

	mustSet(t, a0, "properties.topology.velocity", []float64{1, 2, 3})
	vel := mustGet(t, a0, "properties.topology.velocity").(units.Quantity)
	if diff := cmp.Diff([]float64{1, 2, 3}, vel.Value); diff != "" {
		t.Errorf("velocity mismatch:\n%s", diff)
	}

	err := a0.Set("properties.topology.position", units.Quantity{Value: []float64{1, 2, 3}, Unit: "s"})
	if !errors.Is(err, errdefs.ErrCast) || !errors.Is(err, units.ErrIncompatibleUnit) {
		t.Errorf("Expected incompatible unit cast error, got %v", err)
	}
	// A field without a unit takes dimensionless quantities only.
	if err := a0.Set("properties.topology.parent", units.Quantity{Value: 3, Unit: "m"}); !errors.Is(err, errdefs.ErrCast) {
		t.Errorf("Expected cast error, got %v", err)
	}
	mustSet(t, a0, "properties.topology.parent", units.Quantity{Value: 3, Unit: "none"})
	if v, _ := a0.GetInt64("properties.topology.parent"); v != 3 {
		t.Errorf("parent = %d, want 3", v)
	}
}

func TestCastFailureLeavesRecord(t *testing.T) {
	_, grains := newSample(t)
	a0 := mustIndex(t, atomsOf(t, grains, 1, 1, 1), 0)
	mustSet(t, a0, "properties.topology.parent", 7)
	mustSet(t, a0, "identity.element", "C")

	tests := []struct {
		name  string
		field string
		value any
	}{
		{"float to int", "properties.topology.parent", 1.5},
		{"text to int", "properties.topology.parent", "7"},
		{"text too wide", "identity.element", "Fe2"},
		{"wrong shape", "properties.topology.position", []float64{1, 2}},
		{"two dimensional variable", "properties.topology.structure", [][]int64{{1}, {2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a0.Set(tt.field, tt.value)
			if !errors.Is(err, errdefs.ErrCast) {
				t.Fatalf("Expected cast error, got %v", err)
			}
			var fe *errdefs.FieldError
			if !errors.As(err, &fe) || fe.Field != tt.field || fe.Row != 0 {
				t.Errorf("Error does not name field and row: %v", err)
			}
		})
	}

	if v, _ := a0.GetInt64("properties.topology.parent"); v != 7 {
		t.Errorf("parent = %d after failed writes, want 7", v)
	}
	if s, _ := a0.GetString("identity.element"); s != "C" {
		t.Errorf("element = %q after failed writes, want C", s)
	}
}

func TestLargeIntegerToFloatRefused(t *testing.T) {
	_, grains := newSample(t)
	mustResize(t, grains, 1)
	g0 := mustIndex(t, grains, 0)
	const field = "properties.physical.reorganizationEnergyExternal"
	mustSet(t, g0, field, 1<<53)

	for _, v := range []any{int64(1<<53 + 1), int64(-(1<<53 + 1)), uint64(1<<53 + 1)} {
		if err := g0.Set(field, v); !errors.Is(err, errdefs.ErrCast) {
			t.Errorf("Set(%#v): expected cast error, got %v", v, err)
		}
	}
	q, ok := mustGet(t, g0, field).(units.Quantity)
	if !ok || q.Value != float64(1<<53) {
		t.Errorf("%s = %#v after failed writes, want %v", field, q, float64(1<<53))
	}
}

func TestVariableLengthAndSubarrays(t *testing.T) {
	_, grains := newSample(t)
	mustResize(t, grains, 1)
	molecules := mustRef(t, grains, "molecules", 0)
	mustResize(t, molecules, 3)
	m1 := mustIndex(t, molecules, 1)

	tensor := [][]float64{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}}
	mustSet(t, m1, "properties.physical.polarizability.neutral", tensor)
	mustSet(t, m1, "properties.electrical.transferIntegrals", []float64{0.5, 0.25})
	mustSet(t, m1, "identity.chemicalName", "benzene")

	got := mustGet(t, m1, "properties.physical.polarizability.neutral").(units.Quantity)
	if diff := cmp.Diff([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9}, got.Value); diff != "" {
		t.Errorf("polarizability mismatch:\n%s", diff)
	}
	if diff := cmp.Diff([]float64{0.5, 0.25}, mustGet(t, m1, "properties.electrical.transferIntegrals")); diff != "" {
		t.Errorf("transferIntegrals mismatch:\n%s", diff)
	}

	// Neighbouring records are untouched.
	m0 := mustIndex(t, molecules, 0)
	if v := mustGet(t, m0, "identity.chemicalName"); v != nil {
		t.Errorf("row 0 chemicalName = %#v, want absent", v)
	}
	names := mustGet(t, molecules, "identity.chemicalName")
	if diff := cmp.Diff([]string{"", "benzene", ""}, names); diff != "" {
		t.Errorf("chemicalName column mismatch:\n%s", diff)
	}

	// Writing absent clears a variable-length value.
	mustSet(t, m1, "properties.electrical.transferIntegrals", nil)
	if v := mustGet(t, m1, "properties.electrical.transferIntegrals"); v != nil {
		t.Errorf("transferIntegrals = %#v, want absent", v)
	}
}

func TestBroadcast(t *testing.T) {
	_, grains := newSample(t)
	mustResize(t, grains, 3)

	mustSet(t, grains, "topology.parent", 7)
	if diff := cmp.Diff([]int64{7, 7, 7}, mustGet(t, grains, "topology.parent")); diff != "" {
		t.Errorf("parent column mismatch:\n%s", diff)
	}
	mustSet(t, grains, "topology.cellSize", []float64{1, 2, 3})
	cells := mustGet(t, grains, "topology.cellSize").(units.Quantity)
	want := [][]float64{{1, 2, 3}, {1, 2, 3}, {1, 2, 3}}
	if diff := cmp.Diff(want, cells.Value); diff != "" {
		t.Errorf("cellSize column mismatch:\n%s", diff)
	}

	for _, field := range []string{"identity.material", "implementation.boundaryCondition"} {
		err := grains.Set(field, "x")
		if !errors.Is(err, errdefs.ErrBroadcastNotSupported) || !errors.Is(err, errdefs.ErrState) {
			t.Errorf("%s: expected broadcast not supported, got %v", field, err)
		}
	}

	molecules := mustRef(t, grains, "molecules", 0)
	mustResize(t, molecules, 2)
	err := molecules.Set("properties.physical.polarizability.neutral", make([]float64, 9))
	if !errors.Is(err, errdefs.ErrBroadcastNotSupported) {
		t.Errorf("Expected broadcast not supported, got %v", err)
	}
}

func TestLookup(t *testing.T) {
	_, grains := newSample(t)
	atoms := atomsOf(t, grains, 1, 1, 4)

	elements := []string{"H", "C", "N", "Fe"}
	for i, e := range elements {
		mustSet(t, mustIndex(t, atoms, i), "identity.element", e)
	}

	numbers := mustGet(t, atoms, "identity.atomicNumber")
	if diff := cmp.Diff([]int64{1, 6, 7, 26}, numbers); diff != "" {
		t.Errorf("atomicNumber column mismatch:\n%s", diff)
	}
	for a, err := range atoms.Rows() {
		if err != nil {
			t.Fatal(err)
		}
		key := mustGet(t, a, "identity.element").(string)
		l, _ := a.Schema().Member("identity.atomicNumber")
		if got := mustGet(t, a, "identity.atomicNumber"); got != l.Lookup.Table[key] {
			t.Errorf("row %d: lookup %v != table[%s] = %v", a.Row(), got, key, l.Lookup.Table[key])
		}
		if err := a.Set("identity.atomicNumber", 1); !errors.Is(err, errdefs.ErrState) {
			t.Errorf("Expected state error setting a lookup, got %v", err)
		}
	}

	mustSet(t, mustIndex(t, atoms, 2), "identity.element", "Xe")
	_, err := mustIndex(t, atoms, 2).Get("identity.atomicNumber")
	if !errors.Is(err, errdefs.ErrLookupMiss) {
		t.Fatalf("Expected lookup miss, got %v", err)
	}
	if msg := err.Error(); !strings.Contains(msg, `"Xe"`) || !strings.Contains(msg, "Na") || !strings.Contains(msg, "identity.element") {
		t.Errorf("Lookup miss does not name the key and the table: %s", msg)
	}
	if _, err := atoms.Get("identity.atomicNumber"); !errors.Is(err, errdefs.ErrLookupMiss) {
		t.Errorf("Expected lookup miss on the column, got %v", err)
	}
}

func TestBounds(t *testing.T) {
	_, grains := newSample(t)
	if _, err := grains.Len(); !errors.Is(err, errdefs.ErrState) {
		t.Errorf("Len before Resize: expected state error, got %v", err)
	}
	mustResize(t, grains, 3)

	for _, row := range []int{-1, 3} {
		if _, err := grains.Index(row); !errors.Is(err, errdefs.ErrIndex) {
			t.Errorf("Index(%d): expected index error, got %v", row, err)
		}
	}
	var seen []int
	for g, err := range grains.Rows() {
		if err != nil {
			t.Fatalf("Rows failed: %v", err)
		}
		seen = append(seen, g.Row())
	}
	if diff := cmp.Diff([]int{0, 1, 2}, seen); diff != "" {
		t.Errorf("Rows mismatch:\n%s", diff)
	}

	g1 := mustIndex(t, grains, 1)
	if _, err := g1.Index(0); !errors.Is(err, errdefs.ErrState) {
		t.Errorf("Index on a row: expected state error, got %v", err)
	}
	if _, err := g1.Len(); !errors.Is(err, errdefs.ErrState) {
		t.Errorf("Len on a row: expected state error, got %v", err)
	}
	if _, err := grains.GetInt64("topology.parent"); !errors.Is(err, errdefs.ErrState) {
		t.Errorf("GetInt64 without row: expected state error, got %v", err)
	}
	if _, err := grains.Get("no.such.field"); !errors.Is(err, errdefs.ErrSchema) {
		t.Errorf("Unknown field: expected schema error, got %v", err)
	}
	if _, err := grains.Child("topology.parent"); !errors.Is(err, errdefs.ErrSchema) {
		t.Errorf("Child of a field: expected schema error, got %v", err)
	}
}

func TestRefAmbiguity(t *testing.T) {
	_, grains := newSample(t)
	mustResize(t, grains, 2)

	if _, err := grains.Ref("molecules"); !errors.Is(err, errdefs.ErrState) {
		t.Errorf("Ref without row: expected state error, got %v", err)
	}
	g0 := mustIndex(t, grains, 0)
	if _, err := g0.RefAt("molecules", 0); !errors.Is(err, errdefs.ErrState) {
		t.Errorf("RefAt on a row: expected state error, got %v", err)
	}
	if _, err := grains.RefAt("molecules", 2); !errors.Is(err, errdefs.ErrIndex) {
		t.Errorf("RefAt past the end: expected index error, got %v", err)
	}
	if _, err := grains.RefAt("topology", 0); !errors.Is(err, errdefs.ErrSchema) {
		t.Errorf("RefAt on a group: expected schema error, got %v", err)
	}

	m, err := g0.Ref("molecules")
	if err != nil {
		t.Fatalf("Ref failed: %v", err)
	}
	if m.Schema().Name != "molecule" {
		t.Errorf("Ref schema = %s", m.Schema().Name)
	}
	if _, err := m.Len(); !errors.Is(err, errdefs.ErrState) {
		t.Errorf("Fresh nested table: expected state error, got %v", err)
	}
}

func TestResizeOnlyAtRoot(t *testing.T) {
	_, grains := newSample(t)
	mustResize(t, grains, 2)

	g0 := mustIndex(t, grains, 0)
	if err := g0.Resize(5, false); !errors.Is(err, errdefs.ErrState) {
		t.Errorf("Resize on a row: expected state error, got %v", err)
	}
	topo, _ := grains.Child("topology")
	if err := topo.Resize(5, false); !errors.Is(err, errdefs.ErrState) {
		t.Errorf("Resize on a group: expected state error, got %v", err)
	}
}

func TestShrinkRemovesNestedData(t *testing.T) {
	h, grains := newSample(t)
	mustResize(t, grains, 3)
	for g := 0; g < 3; g++ {
		molecules := mustRef(t, grains, "molecules", g)
		mustResize(t, molecules, 2)
		mustSet(t, mustIndex(t, molecules, 1), "identity.chemicalName", "water")
	}

	mustResize(t, grains, 1)
	for _, p := range []string{"test/grain/1", "test/grain/2"} {
		if ok, _ := h.file.Group(p).Exists(); ok {
			t.Errorf("%s survived the shrink", p)
		}
	}
	if ok, _ := h.file.Group("test/grain/0").Exists(); !ok {
		t.Error("test/grain/0 was removed by the shrink")
	}

	mustResize(t, grains, 3)
	for g := 1; g < 3; g++ {
		molecules := mustRef(t, grains, "molecules", g)
		if _, err := molecules.Len(); !errors.Is(err, errdefs.ErrState) {
			t.Errorf("grain %d: expected a fresh table, got %v", g, err)
		}
	}
	kept := mustRef(t, grains, "molecules", 0)
	if v := mustGet(t, mustIndex(t, kept, 1), "identity.chemicalName"); v != "water" {
		t.Errorf("grain 0 lost its data: %#v", v)
	}

	// Shrinking rows that never had nested data is not an error.
	mustResize(t, grains, 10)
	mustResize(t, grains, 0)
}

func TestResizeReset(t *testing.T) {
	_, grains := newSample(t)
	mustResize(t, grains, 3)
	mustSet(t, grains, "topology.parent", 9)
	molecules := mustRef(t, grains, "molecules", 2)
	mustResize(t, molecules, 1)

	if err := grains.Resize(2, true); err != nil {
		t.Fatalf("Resize with reset failed: %v", err)
	}
	if diff := cmp.Diff([]int64{0, 0}, mustGet(t, grains, "topology.parent")); diff != "" {
		t.Errorf("reset did not restore defaults:\n%s", diff)
	}
	if err := grains.Resize(-1, false); !errors.Is(err, errdefs.ErrIndex) {
		t.Errorf("Negative size: expected index error, got %v", err)
	}
}

func TestResizeFindsStrayNestedData(t *testing.T) {
	h, grains := newSample(t)
	if err := h.file.Group("test/grain/1").Require(); err != nil {
		t.Fatalf("Require failed: %v", err)
	}
	if err := grains.Resize(3, false); !errors.Is(err, errdefs.ErrBrokenInvariant) {
		t.Fatalf("Expected broken invariant, got %v", err)
	}
	mustResize(t, grains, 1)
	if err := grains.Resize(3, false); !errors.Is(err, errdefs.ErrBrokenInvariant) {
		t.Fatalf("Expected broken invariant on grow, got %v", err)
	}
}
