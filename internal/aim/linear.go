package aim

import (
	"math"

	"github.com/roach88/caps/internal/errs"
)

// locateTolerance is the accepted distance from the nearest element,
// relative to the size of the searched space.
const locateTolerance = 1e-6

// Linear implements Primitives for linear triangles.
type Linear struct{}

var _ Primitives = Linear{}

// LocateElement returns the element nearest to p in the given space, with
// the barycentric coordinates of the closest point on it. Ties keep the
// lowest element index. Fails with NotFound when p is farther than the
// tolerance from every element.
func (Linear) LocateElement(d *Discretization, space [][3]float64, p [3]float64) (int, [2]float64, error) {
	if len(space) != len(d.Points) {
		return -1, [2]float64{}, errs.New(errs.RangeError, "location space has %d points, want %d", len(space), len(d.Points))
	}
	if len(d.Elements) == 0 {
		return -1, [2]float64{}, errs.New(errs.EmptyPayload, "discretization has no elements")
	}

	best, bestDist := -1, math.Inf(1)
	var bestLocal [2]float64
	for e, el := range d.Elements {
		local, q := closestOnTriangle(p, space[el.Nodes[0]], space[el.Nodes[1]], space[el.Nodes[2]])
		dist := norm(sub(p, q))
		if dist < bestDist {
			best, bestDist, bestLocal = e, dist, local
		}
	}
	if bestDist > locateTolerance*extent(space) {
		return -1, [2]float64{}, errs.New(errs.NotFound, "point (%g, %g, %g) is outside the discretization", p[0], p[1], p[2])
	}
	return best, bestLocal, nil
}

// Interpolate evaluates rank-component data at a local coordinate.
func (Linear) Interpolate(d *Discretization, elem int, local [2]float64, rank int, data []float64, out []float64) {
	w := weights(local)
	n := d.Elements[elem].Nodes
	for c := 0; c < rank; c++ {
		out[c] = w[0]*data[n[0]*rank+c] + w[1]*data[n[1]*rank+c] + w[2]*data[n[2]*rank+c]
	}
}

// InterpolateBar accumulates the adjoint of Interpolate into dataBar.
func (Linear) InterpolateBar(d *Discretization, elem int, local [2]float64, rank int, outBar []float64, dataBar []float64) {
	w := weights(local)
	n := d.Elements[elem].Nodes
	for c := 0; c < rank; c++ {
		for k := 0; k < 3; k++ {
			dataBar[n[k]*rank+c] += w[k] * outBar[c]
		}
	}
}

// Integrate integrates rank-component data over one element.
func (Linear) Integrate(d *Discretization, elem int, rank int, data []float64, out []float64) {
	third := d.ElementArea(elem) / 3
	n := d.Elements[elem].Nodes
	for c := 0; c < rank; c++ {
		out[c] = third * (data[n[0]*rank+c] + data[n[1]*rank+c] + data[n[2]*rank+c])
	}
}

// IntegrateBar accumulates the adjoint of Integrate into dataBar.
func (Linear) IntegrateBar(d *Discretization, elem int, rank int, outBar []float64, dataBar []float64) {
	third := d.ElementArea(elem) / 3
	n := d.Elements[elem].Nodes
	for c := 0; c < rank; c++ {
		for k := 0; k < 3; k++ {
			dataBar[n[k]*rank+c] += third * outBar[c]
		}
	}
}

func weights(local [2]float64) [3]float64 {
	return [3]float64{1 - local[0] - local[1], local[0], local[1]}
}

// extent is the diagonal of the bounding box of space, never below 1.
func extent(space [][3]float64) float64 {
	if len(space) == 0 {
		return 1
	}
	lo, hi := space[0], space[0]
	for _, p := range space[1:] {
		for i := range 3 {
			lo[i] = math.Min(lo[i], p[i])
			hi[i] = math.Max(hi[i], p[i])
		}
	}
	return math.Max(1, norm(sub(hi, lo)))
}

// closestOnTriangle returns the barycentric (s, t) and position of the
// point of triangle abc closest to p.
func closestOnTriangle(p, a, b, c [3]float64) ([2]float64, [3]float64) {
	ab, ac, ap := sub(b, a), sub(c, a), sub(p, a)
	d1, d2 := dot(ab, ap), dot(ac, ap)
	if d1 <= 0 && d2 <= 0 {
		return [2]float64{0, 0}, a
	}
	bp := sub(p, b)
	d3, d4 := dot(ab, bp), dot(ac, bp)
	if d3 >= 0 && d4 <= d3 {
		return [2]float64{1, 0}, b
	}
	vc := d1*d4 - d3*d2
	if vc <= 0 && d1 >= 0 && d3 <= 0 {
		v := d1 / (d1 - d3)
		return [2]float64{v, 0}, lerp(a, ab, v)
	}
	cp := sub(p, c)
	d5, d6 := dot(ab, cp), dot(ac, cp)
	if d6 >= 0 && d5 <= d6 {
		return [2]float64{0, 1}, c
	}
	vb := d5*d2 - d1*d6
	if vb <= 0 && d2 >= 0 && d6 <= 0 {
		w := d2 / (d2 - d6)
		return [2]float64{0, w}, lerp(a, ac, w)
	}
	va := d3*d6 - d5*d4
	if va <= 0 && (d4-d3) >= 0 && (d5-d6) >= 0 {
		w := (d4 - d3) / ((d4 - d3) + (d5 - d6))
		q := lerp(b, sub(c, b), w)
		return [2]float64{1 - w, w}, q
	}
	denom := 1 / (va + vb + vc)
	s := vb * denom
	t := vc * denom
	q := [3]float64{
		a[0] + ab[0]*s + ac[0]*t,
		a[1] + ab[1]*s + ac[1]*t,
		a[2] + ab[2]*s + ac[2]*t,
	}
	return [2]float64{s, t}, q
}

func lerp(a, dir [3]float64, t float64) [3]float64 {
	return [3]float64{a[0] + dir[0]*t, a[1] + dir[1]*t, a[2] + dir[2]*t}
}
