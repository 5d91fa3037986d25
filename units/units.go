// Package units converts numeric values between physical units.
//
// Unit expressions are products of SI-prefixed symbols with optional integer
// powers, for example "AA^2 s^4 kg^-1", "AA/ps" or "eV". Two units are
// compatible when they reduce to the same SI dimension.
package units

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"unicode"
)

// Unit errors
var (
	ErrIncompatibleUnit = errors.New("incompatible units")
	ErrUnknownUnit      = errors.New("unknown unit")
)

// dimension exponents over m, kg, s, A, K, mol, cd.
type dimension [7]int8

func (d dimension) add(o dimension, times int8) dimension {
	for i := range d {
		d[i] += o[i] * times
	}
	return d
}

// Unit is a parsed unit expression reduced to SI.
type Unit struct {
	Expr   string
	Factor float64
	dim    dimension
}

// Compatible reports whether u and o measure the same quantity.
func (u Unit) Compatible(o Unit) bool { return u.dim == o.dim }

// Dimensionless reports whether u has no SI dimension.
func (u Unit) Dimensionless() bool { return u.dim == dimension{} }

type symbol struct {
	factor     float64
	dim        dimension
	prefixable bool
}

var (
	dimM   = dimension{1, 0, 0, 0, 0, 0, 0}
	dimKg  = dimension{0, 1, 0, 0, 0, 0, 0}
	dimS   = dimension{0, 0, 1, 0, 0, 0, 0}
	dimA   = dimension{0, 0, 0, 1, 0, 0, 0}
	dimK   = dimension{0, 0, 0, 0, 1, 0, 0}
	dimMol = dimension{0, 0, 0, 0, 0, 1, 0}
	dimCd  = dimension{0, 0, 0, 0, 0, 0, 1}
	dimN   = dimension{1, 1, -2, 0, 0, 0, 0}
	dimJ   = dimension{2, 1, -2, 0, 0, 0, 0}
	dimW   = dimension{2, 1, -3, 0, 0, 0, 0}
	dimPa  = dimension{-1, 1, -2, 0, 0, 0, 0}
	dimC   = dimension{0, 0, 1, 1, 0, 0, 0}
	dimV   = dimension{2, 1, -3, -1, 0, 0, 0}
	dimHz  = dimension{0, 0, -1, 0, 0, 0, 0}
)

const (
	elementaryCharge = 1.602176634e-19
	dalton           = 1.66053906660e-27
)

var symbols = map[string]symbol{
	"m":   {1, dimM, true},
	"g":   {1e-3, dimKg, true},
	"s":   {1, dimS, true},
	"A":   {1, dimA, true},
	"K":   {1, dimK, true},
	"mol": {1, dimMol, true},
	"cd":  {1, dimCd, true},
	"N":   {1, dimN, true},
	"J":   {1, dimJ, true},
	"W":   {1, dimW, true},
	"Pa":  {1, dimPa, true},
	"C":   {1, dimC, true},
	"V":   {1, dimV, true},
	"Hz":  {1, dimHz, true},
	"eV":  {elementaryCharge, dimJ, true},
	"e":   {elementaryCharge, dimC, false},
	"Da":  {dalton, dimKg, true},
	"u":   {dalton, dimKg, false},
	"AA":  {1e-10, dimM, false},
	"Å":   {1e-10, dimM, false},
	"min": {60, dimS, false},
	"h":   {3600, dimS, false},
	"bar": {1e5, dimPa, true},
	"rad": {1, dimension{}, false},
	"deg": {math.Pi / 180, dimension{}, false},

	"Dalton":   {dalton, dimKg, false},
	"angstrom": {1e-10, dimM, false},
	"none":     {1, dimension{}, false},
	"1":        {1, dimension{}, false},
}

var prefixes = map[string]float64{
	"Y": 1e24, "Z": 1e21, "E": 1e18, "P": 1e15, "T": 1e12, "G": 1e9, "M": 1e6,
	"k": 1e3, "h": 1e2, "da": 1e1, "d": 1e-1, "c": 1e-2, "m": 1e-3,
	"u": 1e-6, "µ": 1e-6, "μ": 1e-6, "n": 1e-9, "p": 1e-12, "f": 1e-15,
	"a": 1e-18, "z": 1e-21, "y": 1e-24,
}

var (
	cacheMu sync.RWMutex
	cache   = map[string]Unit{}
)

// Parse parses a unit expression.
func Parse(expr string) (Unit, error) {
	cacheMu.RLock()
	u, ok := cache[expr]
	cacheMu.RUnlock()
	if ok {
		return u, nil
	}

	u, err := parse(expr)
	if err != nil {
		return Unit{}, err
	}

	cacheMu.Lock()
	cache[expr] = u
	cacheMu.Unlock()
	return u, nil
}

func parse(expr string) (Unit, error) {
	u := Unit{Expr: expr, Factor: 1}
	s := strings.TrimSpace(expr)
	if s == "" {
		return u, nil
	}

	sign := int8(1)
	for len(s) > 0 {
		switch s[0] {
		case ' ', '*', '.':
			s = s[1:]
			continue
		case '/':
			sign = -1
			s = s[1:]
			continue
		}

		name, rest := splitAtom(s)
		if name == "" {
			return Unit{}, fmt.Errorf("%w: unexpected %q in %q", ErrUnknownUnit, s[:1], expr)
		}
		power, rest, err := parsePower(rest)
		if err != nil {
			return Unit{}, fmt.Errorf("%w: %q: %v", ErrUnknownUnit, expr, err)
		}
		sym, err := lookupSymbol(name)
		if err != nil {
			return Unit{}, fmt.Errorf("%w: %q in %q", err, name, expr)
		}

		p := power * sign
		u.Factor *= math.Pow(sym.factor, float64(p))
		u.dim = u.dim.add(sym.dim, p)
		sign = 1
		s = rest
	}
	return u, nil
}

func splitAtom(s string) (string, string) {
	if strings.HasPrefix(s, "1") {
		return "1", s[1:]
	}
	for i, r := range s {
		if !unicode.IsLetter(r) {
			return s[:i], s[i:]
		}
	}
	return s, ""
}

func parsePower(s string) (int8, string, error) {
	switch {
	case strings.HasPrefix(s, "**"):
		s = s[2:]
	case strings.HasPrefix(s, "^"):
		s = s[1:]
	default:
		return 1, s, nil
	}
	end := 0
	for end < len(s) && (s[end] == '-' || s[end] == '+' || (s[end] >= '0' && s[end] <= '9')) {
		end++
	}
	n, err := strconv.ParseInt(s[:end], 10, 8)
	if err != nil {
		return 0, s, fmt.Errorf("bad exponent %q", s[:end])
	}
	return int8(n), s[end:], nil
}

func lookupSymbol(name string) (symbol, error) {
	if sym, ok := symbols[name]; ok {
		return sym, nil
	}
	// Longest matching prefix wins, so "da" beats "d".
	best := ""
	var found symbol
	for p, f := range prefixes {
		if len(p) <= len(best) || len(name) <= len(p) || !strings.HasPrefix(name, p) {
			continue
		}
		sym, ok := symbols[name[len(p):]]
		if !ok || !sym.prefixable {
			continue
		}
		best, found = p, symbol{factor: f * sym.factor, dim: sym.dim}
	}
	if best == "" {
		return symbol{}, ErrUnknownUnit
	}
	return found, nil
}
