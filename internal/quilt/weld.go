package quilt

import (
	"math"

	"github.com/roach88/caps/internal/aim"
	"github.com/roach88/caps/internal/errs"
)

// welded is a discretization with coincident points merged.
type welded struct {
	xyz  [][3]float64
	of   []int    // original point -> welded vertex
	tris [][3]int // welded vertex indices
	// edges maps an ordered vertex pair to the triangles using it.
	edges map[[2]int][]int
}

func weld(d *aim.Discretization, extent float64) (*welded, error) {
	q := 1e-9 * extent
	if q == 0 {
		q = 1e-12
	}
	w := &welded{of: make([]int, len(d.Points)), edges: make(map[[2]int][]int)}
	index := make(map[[3]int64]int, len(d.Points))
	for i, p := range d.Points {
		key := [3]int64{
			int64(math.Round(p[0] / q)),
			int64(math.Round(p[1] / q)),
			int64(math.Round(p[2] / q)),
		}
		v, ok := index[key]
		if !ok {
			v = len(w.xyz)
			index[key] = v
			w.xyz = append(w.xyz, p)
		}
		w.of[i] = v
	}
	for _, el := range d.Elements {
		t := [3]int{w.of[el.Nodes[0]], w.of[el.Nodes[1]], w.of[el.Nodes[2]]}
		if t[0] == t[1] || t[1] == t[2] || t[0] == t[2] {
			return nil, errs.New(errs.RangeError, "degenerate element after welding")
		}
		ti := len(w.tris)
		w.tris = append(w.tris, t)
		for k := 0; k < 3; k++ {
			e := edgeKey(t[k], t[(k+1)%3])
			w.edges[e] = append(w.edges[e], ti)
		}
	}
	return w, nil
}

func edgeKey(a, b int) [2]int {
	if a > b {
		a, b = b, a
	}
	return [2]int{a, b}
}

// boundary marks vertices on edges used by exactly one triangle.
func (w *welded) boundary() []bool {
	out := make([]bool, len(w.xyz))
	for e, ts := range w.edges {
		if len(ts) == 1 {
			out[e[0]] = true
			out[e[1]] = true
		}
	}
	return out
}

func dist(a, b [3]float64) float64 {
	dx, dy, dz := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

func extentOf(pts [][3]float64) float64 {
	if len(pts) == 0 {
		return 0
	}
	lo, hi := pts[0], pts[0]
	for _, p := range pts[1:] {
		for i := range 3 {
			lo[i] = math.Min(lo[i], p[i])
			hi[i] = math.Max(hi[i], p[i])
		}
	}
	return dist(lo, hi)
}
