package quilt

import (
	"math"
	"slices"

	"github.com/roach88/caps/internal/errs"
)

// unfold lays the welded triangles flat, preserving edge lengths, by a
// breadth-first walk across shared edges. The mesh must be connected.
func unfold(w *welded) ([][2]float64, error) {
	if len(w.tris) == 0 {
		return nil, errs.New(errs.EmptyPayload, "reference has no elements")
	}
	uv := make([][2]float64, len(w.xyz))
	placed := make([]bool, len(w.xyz))
	visited := make([]bool, len(w.tris))

	t0 := w.tris[0]
	a, b, c := t0[0], t0[1], t0[2]
	uv[a] = [2]float64{0, 0}
	uv[b] = [2]float64{dist(w.xyz[a], w.xyz[b]), 0}
	placed[a], placed[b] = true, true
	p, err := apex(uv[a], uv[b], dist(w.xyz[a], w.xyz[c]), dist(w.xyz[b], w.xyz[c]), 1)
	if err != nil {
		return nil, err
	}
	uv[c], placed[c] = p, true
	visited[0] = true

	queue := []int{0}
	for len(queue) > 0 {
		ti := queue[0]
		queue = queue[1:]
		t := w.tris[ti]
		for k := 0; k < 3; k++ {
			ea, eb, opp := t[k], t[(k+1)%3], t[(k+2)%3]
			for _, nj := range w.edges[edgeKey(ea, eb)] {
				if visited[nj] {
					continue
				}
				visited[nj] = true
				queue = append(queue, nj)
				nc := third(w.tris[nj], ea, eb)
				if placed[nc] {
					continue
				}
				side := -sideOf(uv[ea], uv[eb], uv[opp])
				p, err := apex(uv[ea], uv[eb], dist(w.xyz[ea], w.xyz[nc]), dist(w.xyz[eb], w.xyz[nc]), side)
				if err != nil {
					return nil, err
				}
				uv[nc], placed[nc] = p, true
			}
		}
	}
	for ti, v := range visited {
		if !v {
			return nil, errs.New(errs.NotConverged, "reference mesh is not connected (element %d unreachable)", ti)
		}
	}
	return uv, nil
}

// apex places the third vertex of a triangle over edge pa-pb at distances
// la from pa and lb from pb, on the given side of the edge.
func apex(pa, pb [2]float64, la, lb, side float64) ([2]float64, error) {
	ex, ey := pb[0]-pa[0], pb[1]-pa[1]
	d := math.Hypot(ex, ey)
	if d == 0 {
		return [2]float64{}, errs.New(errs.RangeError, "zero-length edge")
	}
	ex, ey = ex/d, ey/d
	x := (la*la - lb*lb + d*d) / (2 * d)
	h := math.Sqrt(math.Max(la*la-x*x, 0))
	if side < 0 {
		h = -h
	}
	return [2]float64{pa[0] + x*ex - h*ey, pa[1] + x*ey + h*ex}, nil
}

// sideOf is the sign of p relative to the directed line a->b.
func sideOf(a, b, p [2]float64) float64 {
	c := (b[0]-a[0])*(p[1]-a[1]) - (b[1]-a[1])*(p[0]-a[0])
	if c < 0 {
		return -1
	}
	return 1
}

func third(t [3]int, a, b int) int {
	for _, v := range t {
		if v != a && v != b {
			return v
		}
	}
	return t[0]
}

// smooth moves interior vertices toward the centroid of their neighbors.
func smooth(w *welded, uv [][2]float64, iterations int) {
	border := w.boundary()
	neighbors := make([][]int, len(uv))
	link := func(a, b int) {
		if !slices.Contains(neighbors[a], b) {
			neighbors[a] = append(neighbors[a], b)
		}
	}
	for _, t := range w.tris {
		for k := 0; k < 3; k++ {
			a, b := t[k], t[(k+1)%3]
			link(a, b)
			link(b, a)
		}
	}
	next := make([][2]float64, len(uv))
	for it := 0; it < iterations; it++ {
		for v := range uv {
			if border[v] || len(neighbors[v]) == 0 {
				next[v] = uv[v]
				continue
			}
			var s [2]float64
			for _, n := range neighbors[v] {
				s[0] += uv[n][0]
				s[1] += uv[n][1]
			}
			k := float64(len(neighbors[v]))
			next[v] = [2]float64{s[0] / k, s[1] / k}
		}
		copy(uv, next)
	}
}

// normalize maps the chart onto the unit square.
func normalize(uv [][2]float64) error {
	lo, hi := uv[0], uv[0]
	for _, p := range uv[1:] {
		lo[0], lo[1] = math.Min(lo[0], p[0]), math.Min(lo[1], p[1])
		hi[0], hi[1] = math.Max(hi[0], p[0]), math.Max(hi[1], p[1])
	}
	du, dv := hi[0]-lo[0], hi[1]-lo[1]
	if du == 0 || dv == 0 {
		return errs.New(errs.NotConverged, "chart is degenerate")
	}
	for i, p := range uv {
		uv[i] = [2]float64{(p[0] - lo[0]) / du, (p[1] - lo[1]) / dv}
	}
	return nil
}
