package aim

import (
	"math"

	"github.com/roach88/caps/internal/errs"
)

// Body is one geometric entity taking part in a discretization.
type Body struct {
	Entity EntityID `json:"entity"`
	Units  string   `json:"units"`
}

// Element is a linear triangle over three point indices, on one body.
type Element struct {
	Body  int    `json:"body"`
	Nodes [3]int `json:"nodes"`
}

// Discretization is a triangulated surface: points with their native
// parameters on the owning body, and elements grouped by body.
type Discretization struct {
	Bound    string        `json:"bound"`
	Dim      int           `json:"dim"`
	Bodies   []Body        `json:"bodies"`
	Points   [][3]float64  `json:"points"`
	Params   [][2]float64  `json:"params"`
	Elements []Element     `json:"elements"`
}

// Validate checks indices and array lengths.
func (d *Discretization) Validate() error {
	if d == nil {
		return errs.New(errs.EmptyPayload, "no discretization")
	}
	if len(d.Params) != len(d.Points) {
		return errs.New(errs.RangeError, "%d params for %d points", len(d.Params), len(d.Points))
	}
	for i, e := range d.Elements {
		if e.Body < 0 || e.Body >= len(d.Bodies) {
			return errs.New(errs.RangeError, "element %d: body %d out of range", i, e.Body)
		}
		for _, n := range e.Nodes {
			if n < 0 || n >= len(d.Points) {
				return errs.New(errs.RangeError, "element %d: node %d out of range", i, n)
			}
		}
	}
	return nil
}

// NumPoints returns the number of points.
func (d *Discretization) NumPoints() int { return len(d.Points) }

// ParamSpace returns the native parameters lifted into a location space.
func (d *Discretization) ParamSpace() [][3]float64 {
	out := make([][3]float64, len(d.Params))
	for i, p := range d.Params {
		out[i] = [3]float64{p[0], p[1], 0}
	}
	return out
}

// ElementArea returns the area of element e in physical space.
func (d *Discretization) ElementArea(e int) float64 {
	n := d.Elements[e].Nodes
	return TriangleArea(d.Points[n[0]], d.Points[n[1]], d.Points[n[2]])
}

// Area returns the total physical area.
func (d *Discretization) Area() float64 {
	var a float64
	for e := range d.Elements {
		a += d.ElementArea(e)
	}
	return a
}

// Entities returns the distinct body entities in order of first use.
func (d *Discretization) Entities() []EntityID {
	out := make([]EntityID, 0, len(d.Bodies))
	seen := make(map[EntityID]bool, len(d.Bodies))
	for _, b := range d.Bodies {
		if !seen[b.Entity] {
			seen[b.Entity] = true
			out = append(out, b.Entity)
		}
	}
	return out
}

// Append merges another discretization's bodies, points and elements.
func (d *Discretization) Append(o *Discretization) {
	pointBase, bodyBase := len(d.Points), len(d.Bodies)
	d.Bodies = append(d.Bodies, o.Bodies...)
	d.Points = append(d.Points, o.Points...)
	d.Params = append(d.Params, o.Params...)
	for _, e := range o.Elements {
		d.Elements = append(d.Elements, Element{
			Body:  e.Body + bodyBase,
			Nodes: [3]int{e.Nodes[0] + pointBase, e.Nodes[1] + pointBase, e.Nodes[2] + pointBase},
		})
	}
}

// TriangleArea returns the area of triangle abc.
func TriangleArea(a, b, c [3]float64) float64 {
	u := sub(b, a)
	v := sub(c, a)
	return 0.5 * norm(cross(u, v))
}

func sub(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func dot(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func norm(a [3]float64) float64 {
	return math.Sqrt(dot(a, a))
}
