// Package units parses unit strings and converts between compatible units.
//
// A Context is created once per Problem and passed to every operation that
// compares or converts units. It is closed explicitly; a closed Context
// refuses further use.
//
// Unit strings are products of named units with optional integer powers,
// with at most one '/' separating numerator from denominator:
//
//	m  mm  in  kg/m^3  m/s^2  N*m  Pa  ""
//
// Named units are resolved through go-units, which supplies their quantity
// and conversion to the SI base of that quantity. Units it does not carry
// (angles, forces, dimensionless markers) come from a small local table.
// The empty string is dimensionless. Affine units (degC, degF) are
// rejected; temperatures are absolute.
package units

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	gounits "github.com/bcicen/go-units"

	"github.com/roach88/caps/internal/errs"
)

// dim exponents: length, mass, time, temperature, current, amount.
type dim [6]int8

// Unit is a parsed unit: a scale to SI and the SI dimension exponents.
type Unit struct {
	Scale float64
	dims  dim
}

// Dimensionless reports whether the unit has no dimension.
func (u Unit) Dimensionless() bool {
	return u.dims == dim{}
}

func (u Unit) mul(o Unit, power int) Unit {
	out := Unit{Scale: u.Scale * math.Pow(o.Scale, float64(power)), dims: u.dims}
	for i := range out.dims {
		out.dims[i] += o.dims[i] * int8(power)
	}
	return out
}

// siBase maps a go-units quantity to the symbol of its SI unit and its
// dimension.
var siBase = map[string]struct {
	symbol string
	dims   dim
}{
	"length":      {"m", dim{1}},
	"mass":        {"kg", dim{0, 1}},
	"time":        {"s", dim{0, 0, 1}},
	"temperature": {"K", dim{0, 0, 0, 1}},
	"pressure":    {"Pa", dim{-1, 1, -2}},
	"energy":      {"J", dim{2, 1, -2}},
	"power":       {"W", dim{2, 1, -3}},
}

// local holds the units go-units does not resolve to a known quantity.
var local = map[string]Unit{
	"":    {Scale: 1},
	"1":   {Scale: 1},
	"m":   {Scale: 1, dims: dim{1}},
	"kg":  {Scale: 1, dims: dim{0, 1}},
	"s":   {Scale: 1, dims: dim{0, 0, 1}},
	"K":   {Scale: 1, dims: dim{0, 0, 0, 1}},
	"A":   {Scale: 1, dims: dim{0, 0, 0, 0, 1}},
	"mol": {Scale: 1, dims: dim{0, 0, 0, 0, 0, 1}},
	"N":   {Scale: 1, dims: dim{1, 1, -2}},
	"kN":  {Scale: 1e3, dims: dim{1, 1, -2}},
	"lbf": {Scale: 4.4482216152605, dims: dim{1, 1, -2}},
	"Pa":  {Scale: 1, dims: dim{-1, 1, -2}},
	"kPa": {Scale: 1e3, dims: dim{-1, 1, -2}},
	"MPa": {Scale: 1e6, dims: dim{-1, 1, -2}},
	"J":   {Scale: 1, dims: dim{2, 1, -2}},
	"W":   {Scale: 1, dims: dim{2, 1, -3}},
	"deg": {Scale: math.Pi / 180},
	"rad": {Scale: 1},
}

// Context parses and caches unit strings.
type Context struct {
	mu     sync.Mutex
	cache  map[string]Unit
	closed bool
}

// New creates a unit context.
func New() *Context {
	return &Context{cache: make(map[string]Unit)}
}

// Close releases the context. Later calls fail with IllegalState.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.cache = nil
	return nil
}

// Parse parses a unit string.
func (c *Context) Parse(s string) (Unit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Unit{}, errs.New(errs.IllegalState, "unit context is closed")
	}
	if u, ok := c.cache[s]; ok {
		return u, nil
	}
	u, err := c.parse(s)
	if err != nil {
		return Unit{}, err
	}
	c.cache[s] = u
	return u, nil
}

func (c *Context) parse(s string) (Unit, error) {
	num, den, hasDen := strings.Cut(strings.TrimSpace(s), "/")
	if hasDen && strings.Contains(den, "/") {
		return Unit{}, errs.New(errs.UnitMismatch, "unit %q has more than one '/'", s)
	}
	u := Unit{Scale: 1}
	var err error
	if u, err = c.product(u, num, 1, s); err != nil {
		return Unit{}, err
	}
	if hasDen {
		if strings.TrimSpace(den) == "" {
			return Unit{}, errs.New(errs.UnitMismatch, "unit %q has an empty denominator", s)
		}
		if u, err = c.product(u, den, -1, s); err != nil {
			return Unit{}, err
		}
	}
	return u, nil
}

func (c *Context) product(u Unit, expr string, sign int, whole string) (Unit, error) {
	fields := strings.FieldsFunc(expr, func(r rune) bool { return r == '*' || r == '.' || r == ' ' })
	for _, f := range fields {
		name, pow, hasPow := strings.Cut(f, "^")
		power := 1
		if hasPow {
			p, err := strconv.Atoi(pow)
			if err != nil {
				return Unit{}, errs.New(errs.UnitMismatch, "unit %q: bad power %q", whole, pow)
			}
			power = p
		}
		atom, err := c.atom(name)
		if err != nil {
			return Unit{}, errs.Wrap(errs.UnitMismatch, err, "unit %q", whole)
		}
		u = u.mul(atom, sign*power)
	}
	return u, nil
}

// atom resolves one named unit. The local table wins for the base units so
// their scale is exactly 1.
func (c *Context) atom(name string) (Unit, error) {
	if u, ok := local[name]; ok {
		return u, nil
	}
	gu, err := gounits.Find(name)
	if err != nil {
		return Unit{}, fmt.Errorf("unknown unit %q", name)
	}
	base, ok := siBase[gu.Quantity]
	if !ok {
		return Unit{}, fmt.Errorf("unit %q measures %s", name, gu.Quantity)
	}
	to, err := gounits.Find(base.symbol)
	if err != nil {
		return Unit{}, fmt.Errorf("no SI unit for %s: %w", gu.Quantity, err)
	}
	zero, err := gounits.ConvertFloat(0, gu, to)
	if err != nil {
		return Unit{}, fmt.Errorf("convert %q to %s: %w", name, base.symbol, err)
	}
	if zero.Float() != 0 {
		return Unit{}, fmt.Errorf("unit %q is affine", name)
	}
	one, err := gounits.ConvertFloat(1, gu, to)
	if err != nil {
		return Unit{}, fmt.Errorf("convert %q to %s: %w", name, base.symbol, err)
	}
	return Unit{Scale: one.Float(), dims: base.dims}, nil
}

// Compatible reports whether two unit strings share a dimension.
func (c *Context) Compatible(a, b string) (bool, error) {
	ua, err := c.Parse(a)
	if err != nil {
		return false, err
	}
	ub, err := c.Parse(b)
	if err != nil {
		return false, err
	}
	return ua.dims == ub.dims, nil
}

// Factor returns the multiplier converting values in from to values in to.
func (c *Context) Factor(from, to string) (float64, error) {
	uf, err := c.Parse(from)
	if err != nil {
		return 0, err
	}
	if from == to {
		return 1, nil
	}
	ut, err := c.Parse(to)
	if err != nil {
		return 0, err
	}
	if uf.dims != ut.dims {
		return 0, errs.New(errs.UnitMismatch, "cannot convert %s to %s", describe(from), describe(to))
	}
	return uf.Scale / ut.Scale, nil
}

// Convert converts one value.
func (c *Context) Convert(v float64, from, to string) (float64, error) {
	f, err := c.Factor(from, to)
	if err != nil {
		return 0, err
	}
	return v * f, nil
}

// ConvertSlice converts values into a new slice.
func (c *Context) ConvertSlice(vs []float64, from, to string) ([]float64, error) {
	f, err := c.Factor(from, to)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(vs))
	for i, v := range vs {
		out[i] = v * f
	}
	return out, nil
}

func describe(u string) string {
	if u == "" {
		return "dimensionless"
	}
	return fmt.Sprintf("%q", u)
}
