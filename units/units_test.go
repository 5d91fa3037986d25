package units

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestParseDimensions(t *testing.T) {
	tests := []struct {
		expr string
		want dimension
	}{
		{"m", dimM},
		{"AA/ps", dimension{1, 0, -1, 0, 0, 0, 0}},
		{"AA^2 s^4 kg^-1", dimension{2, -1, 4, 0, 0, 0, 0}},
		{"eV", dimJ},
		{"kg*m/s^2", dimN},
		{"none", dimension{}},
		{"", dimension{}},
	}

	for _, tt := range tests {
		u, err := Parse(tt.expr)
		if err != nil {
			t.Errorf("Parse(%q) failed: %v", tt.expr, err)
			continue
		}
		if u.dim != tt.want {
			t.Errorf("Parse(%q): expected dimension %v, got %v", tt.expr, tt.want, u.dim)
		}
	}
}

func TestParseUnknown(t *testing.T) {
	for _, expr := range []string{"furlong", "m^x", "kAA", "3m"} {
		if _, err := Parse(expr); !errors.Is(err, ErrUnknownUnit) {
			t.Errorf("Parse(%q): expected ErrUnknownUnit, got %v", expr, err)
		}
	}
}

func TestFactor(t *testing.T) {
	tests := []struct {
		from, to string
		want     float64
	}{
		{"nm", "AA", 10},
		{"m/s", "AA/ps", 1e-2},
		{"Dalton", "kg", dalton},
		{"yg", "Dalton", 1e-27 / dalton},
		{"eV", "J", elementaryCharge},
		{"km", "m", 1000},
		{"dam", "m", 10},
	}

	for _, tt := range tests {
		got, err := Default.Factor(tt.from, tt.to)
		if err != nil {
			t.Errorf("Factor(%q, %q) failed: %v", tt.from, tt.to, err)
			continue
		}
		if math.Abs(got-tt.want) > 1e-9*math.Abs(tt.want) {
			t.Errorf("Factor(%q, %q): expected %g, got %g", tt.from, tt.to, tt.want, got)
		}
	}
}

func TestIncompatible(t *testing.T) {
	_, err := Default.Factor("m", "s")
	if !errors.Is(err, ErrIncompatibleUnit) {
		t.Errorf("Expected ErrIncompatibleUnit, got %v", err)
	}
}

func TestConvertKeepsTypeForIdentity(t *testing.T) {
	v, err := Convert(Default, int64(3), "none", "none")
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if _, ok := v.(int64); !ok {
		t.Errorf("Expected int64, got %T", v)
	}
}

func TestConvertSlices(t *testing.T) {
	v, err := Convert(Default, []float64{1, 2, 3}, "nm", "AA")
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	want := []float64{10, 20, 30}
	if diff := cmp.Diff(want, v, cmpopts.EquateApprox(1e-12, 0)); diff != "" {
		t.Errorf("Unexpected result (-want +got):\n%s", diff)
	}

	v, err = Convert(Default, [][]int{{1, 2}, {3, 4}}, "km", "m")
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	want = []float64{1000, 2000, 3000, 4000}
	if diff := cmp.Diff(want, v, cmpopts.EquateApprox(1e-12, 0)); diff != "" {
		t.Errorf("Unexpected result (-want +got):\n%s", diff)
	}
}

func TestQuantityTo(t *testing.T) {
	q := Quantity{Value: 1.0, Unit: "eV"}
	got, err := q.To(Default, "meV")
	if err != nil {
		t.Fatalf("To failed: %v", err)
	}
	if got.Unit != "meV" || math.Abs(got.Value.(float64)-1000) > 1e-9 {
		t.Errorf("Unexpected quantity %v", got)
	}
}

// FuzzParse checks that arbitrary unit expressions never panic.
// Run with: go test -fuzz=FuzzParse -fuzztime=30s ./units/
func FuzzParse(f *testing.F) {
	f.Add("AA^2 s^4 kg^-1")
	f.Add("m/s")
	f.Add("^^")
	f.Add("**-")
	f.Add("µm")

	f.Fuzz(func(t *testing.T, expr string) {
		_, _ = parse(expr)
	})
}
