package schema

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/VanDung-dev/HeavyData-Engine/errdefs"
)

func mustDType(t *testing.T, code string) DType {
	t.Helper()
	d, err := ParseDType(code)
	if err != nil {
		t.Fatalf("ParseDType(%q) failed: %v", code, err)
	}
	return d
}

func TestParseDType(t *testing.T) {
	tests := []struct {
		code string
		kind Kind
		bits int
		w    int
	}{
		{"d", KindFloat, 64, 0},
		{"<f4", KindFloat, 32, 0},
		{"l", KindInt, 64, 0},
		{"B", KindUint, 8, 0},
		{"?", KindBool, 8, 0},
		{"a", KindText, 0, 0},
		{"a2", KindText, 0, 2},
		{"S16", KindText, 0, 16},
		{"uint16", KindUint, 16, 0},
	}
	for _, tt := range tests {
		d := mustDType(t, tt.code)
		if d.Kind != tt.kind || d.Bits != tt.bits || d.Width != tt.w {
			t.Errorf("%s: got %+v", tt.code, d)
		}
	}
	for _, bad := range []string{"", "x", "a0", "S-1", "float16"} {
		if _, err := ParseDType(bad); !errors.Is(err, errdefs.ErrSchema) {
			t.Errorf("ParseDType(%q): expected schema error, got %v", bad, err)
		}
	}
}

func TestCastAccepted(t *testing.T) {
	tests := []struct {
		code string
		in   any
		want any
	}{
		{"d", 3, 3.0},
		{"d", int64(1 << 53), float64(1 << 53)},
		{"d", float32(1.5), 1.5},
		{"f", 0.5, float32(0.5)},
		{"f", 16777216, float32(16777216)},
		{"l", int8(-3), int64(-3)},
		{"l", uint32(7), int64(7)},
		{"b", 127, int8(127)},
		{"B", 255, uint8(255)},
		{"i", true, int32(1)},
		{"?", false, false},
		{"a", "Fe", "Fe"},
		{"a2", "Na", "Na"},
		{"a2", []byte("H"), "H"},
	}
	for _, tt := range tests {
		got, err := mustDType(t, tt.code).Cast(tt.in)
		if err != nil {
			t.Errorf("Cast(%s, %#v) failed: %v", tt.code, tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Cast(%s, %#v) = %#v, want %#v", tt.code, tt.in, got, tt.want)
		}
	}

	got, err := mustDType(t, "f").Cast(math.NaN())
	if err != nil || !math.IsNaN(float64(got.(float32))) {
		t.Errorf("Expected NaN to cast to float32, got %v, %v", got, err)
	}
}

func TestCastRefused(t *testing.T) {
	tests := []struct {
		code string
		in   any
	}{
		{"l", 1.0},
		{"l", 2.5},
		{"b", 128},
		{"B", -1},
		{"L", int64(-5)},
		{"l", uint64(math.MaxUint64)},
		{"d", int64(1<<53 + 1)},
		{"d", int64(-(1<<53 + 1))},
		{"d", uint64(1<<53 + 1)},
		{"f", int32(1<<24 + 1)},
		{"f", uint32(1<<24 + 1)},
		{"f", 16777217},
		{"f", 0.1},
		{"?", 1},
		{"d", "1.0"},
		{"a", 3},
		{"a2", "Fe2"},
		{"d", nil},
		{"d", []float64{1}},
	}
	for _, tt := range tests {
		_, err := mustDType(t, tt.code).Cast(tt.in)
		if !errors.Is(err, errdefs.ErrCast) {
			t.Errorf("Cast(%s, %#v): expected cast error, got %v", tt.code, tt.in, err)
		}
	}
}

func TestFieldCoerce(t *testing.T) {
	s, err := CompileSchema([]byte(`{
		"_schema": "c",
		"vec": {"dtype": "d", "shape": [3]},
		"mat": {"dtype": "l", "shape": [2, 2]},
		"var": {"dtype": "i", "shape": "variable"},
		"txt": {"dtype": "a"}
	}`))
	if err != nil {
		t.Fatalf("CompileSchema failed: %v", err)
	}
	field := func(name string) *Field {
		f, _ := s.Field(name)
		return f
	}

	got, err := field("vec").Coerce([3]int{1, 2, 3})
	if err != nil {
		t.Fatalf("Coerce vec failed: %v", err)
	}
	if diff := cmp.Diff([]float64{1, 2, 3}, got); diff != "" {
		t.Errorf("vec mismatch:\n%s", diff)
	}

	got, err = field("mat").Coerce([][]any{{1, 2}, {int64(3), uint8(4)}})
	if err != nil {
		t.Fatalf("Coerce mat failed: %v", err)
	}
	if diff := cmp.Diff([]int64{1, 2, 3, 4}, got); diff != "" {
		t.Errorf("mat mismatch:\n%s", diff)
	}

	got, err = field("var").Coerce([]int{})
	if err != nil {
		t.Fatalf("Coerce empty var failed: %v", err)
	}
	if diff := cmp.Diff([]int32{}, got); diff != "" {
		t.Errorf("var mismatch:\n%s", diff)
	}

	if got, err := field("var").Coerce(nil); err != nil || got != nil {
		t.Errorf("Expected nil var to stay absent, got %v, %v", got, err)
	}
	if got, err := field("txt").Coerce(nil); err != nil || got != nil {
		t.Errorf("Expected nil text to stay absent, got %v, %v", got, err)
	}

	for name, in := range map[string]any{
		"vec": []float64{1, 2},
		"mat": [][]int{{1, 2}, {3}},
		"var": [][]int{{1}},
		"txt": 5,
	} {
		if _, err := field(name).Coerce(in); !errors.Is(err, errdefs.ErrCast) {
			t.Errorf("Coerce %s(%v): expected cast error, got %v", name, in, err)
		}
	}
	if _, err := field("vec").Coerce([]any{1.0, 2.0, "x"}); !errors.Is(err, errdefs.ErrCast) {
		t.Errorf("Expected cast error for mixed element, got %v", err)
	}
}

func FuzzCastInt64(f *testing.F) {
	f.Add(int64(0))
	f.Add(int64(math.MaxInt32) + 1)
	f.Add(int64(math.MinInt64))

	d32 := DType{Code: "i", Kind: KindInt, Bits: 32}
	f.Fuzz(func(t *testing.T, n int64) {
		v, err := d32.Cast(n)
		fits := n >= math.MinInt32 && n <= math.MaxInt32
		if fits != (err == nil) {
			t.Fatalf("Cast(%d): fits=%v err=%v", n, fits, err)
		}
		if err == nil && int64(v.(int32)) != n {
			t.Fatalf("Cast(%d) = %d", n, v)
		}
	})
}
