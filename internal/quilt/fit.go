package quilt

import (
	"io"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/roach88/caps/internal/aim"
	"github.com/roach88/caps/internal/errs"
	"github.com/roach88/caps/internal/metrics"
)

// tikhonov is the ridge weight that keeps control points without nearby
// data determined.
const tikhonov = 1e-8

// Options tune the fit.
type Options struct {
	// Tolerance is the accepted RMS error relative to the reference extent.
	Tolerance float64
	// MaxLevel bounds refinement; level l has 2^l cells per side.
	MaxLevel         int
	SmoothIterations int
	Logger           *slog.Logger
}

// DefaultOptions returns the default tuning.
func DefaultOptions() Options {
	return Options{Tolerance: 1e-6, MaxLevel: 5, SmoothIterations: 10}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Tolerance <= 0 {
		o.Tolerance = d.Tolerance
	}
	if o.MaxLevel <= 0 {
		o.MaxLevel = d.MaxLevel
	}
	if o.SmoothIterations < 0 {
		o.SmoothIterations = 0
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// Fit is a fitted quilt.
type Fit struct {
	// Reference is the index of the reference member.
	Reference int `json:"reference"`
	// Cells is the number of grid cells per side.
	Cells int `json:"cells"`
	// Control holds the (Cells+1)^2 control points, row-major in v.
	Control [][3]float64 `json:"control"`
	RMS     float64      `json:"rms"`
	MaxErr  float64      `json:"max_err"`
	// UV holds the quilt parameters of every point of every member.
	UV [][][2]float64 `json:"uv"`
}

// Evaluate maps quilt parameters to a point.
func (f *Fit) Evaluate(uv [2]float64) [3]float64 {
	idx, w := basis(f.Cells, uv)
	var p [3]float64
	for k := 0; k < 4; k++ {
		c := f.Control[idx[k]]
		p[0] += w[k] * c[0]
		p[1] += w[k] * c[1]
		p[2] += w[k] * c[2]
	}
	return p
}

// Build fits a quilt over the members' discretizations. A non-nil Fit is
// returned with a NotConverged error when refinement ran out before the
// tolerance was met.
func Build(members []*aim.Discretization, opts Options) (*Fit, error) {
	opts = opts.withDefaults()
	if len(members) == 0 {
		return nil, errs.New(errs.EmptyPayload, "no members to quilt")
	}
	ref := Reference(members)
	rd := members[ref]
	extent := extentOf(rd.Points)

	w, err := weld(rd, extent)
	if err != nil {
		metrics.QuiltFits.WithLabelValues("failed").Inc()
		return nil, err
	}
	uv, err := unfold(w)
	if err != nil {
		metrics.QuiltFits.WithLabelValues("failed").Inc()
		return nil, err
	}
	smooth(w, uv, opts.SmoothIterations)
	if err := normalize(uv); err != nil {
		metrics.QuiltFits.WithLabelValues("failed").Inc()
		return nil, err
	}

	fit := &Fit{Reference: ref}
	target := opts.Tolerance * math.Max(extent, 1e-300)
	for level := 0; level <= opts.MaxLevel; level++ {
		cells := 1 << level
		control, err := solveGrid(cells, uv, w.xyz)
		if err != nil {
			metrics.QuiltFits.WithLabelValues("failed").Inc()
			return nil, err
		}
		fit.Cells, fit.Control = cells, control
		fit.RMS, fit.MaxErr = fit.residual(uv, w.xyz)
		opts.Logger.Debug("quilt level", "level", level, "cells", cells, "rms", fit.RMS, "max", fit.MaxErr)
		if fit.RMS <= target {
			break
		}
	}

	fit.UV = make([][][2]float64, len(members))
	fit.UV[ref] = make([][2]float64, len(rd.Points))
	for i := range rd.Points {
		fit.UV[ref][i] = uv[w.of[i]]
	}
	for m, d := range members {
		if m == ref {
			continue
		}
		if fit.UV[m], err = locateUV(rd, w, uv, d); err != nil {
			metrics.QuiltFits.WithLabelValues("failed").Inc()
			return nil, err
		}
	}

	if fit.RMS > target {
		metrics.QuiltFits.WithLabelValues("failed").Inc()
		return fit, errs.New(errs.NotConverged, "quilt RMS %g above %g at %d cells", fit.RMS, target, fit.Cells)
	}
	metrics.QuiltFits.WithLabelValues("converged").Inc()
	metrics.QuiltRMS.Observe(fit.RMS)
	return fit, nil
}

// areaTie is the relative difference below which two areas are equal;
// one surface split into faces sums its area in another order.
const areaTie = 1e-12

// Reference returns the index of the member with the largest area. Ties
// keep the earliest member.
func Reference(members []*aim.Discretization) int {
	best, bestArea := 0, math.Inf(-1)
	for i, d := range members {
		a := d.Area()
		if i == 0 || a > bestArea+areaTie*math.Abs(bestArea) {
			best, bestArea = i, a
		}
	}
	return best
}

// basis returns the four control indices and bilinear weights at uv.
func basis(cells int, uv [2]float64) ([4]int, [4]float64) {
	u := clamp(uv[0]) * float64(cells)
	v := clamp(uv[1]) * float64(cells)
	i := min(int(u), cells-1)
	j := min(int(v), cells-1)
	s, t := u-float64(i), v-float64(j)
	row := cells + 1
	return [4]int{j*row + i, j*row + i + 1, (j+1)*row + i, (j+1)*row + i + 1},
		[4]float64{(1 - s) * (1 - t), s * (1 - t), (1 - s) * t, s * t}
}

func clamp(x float64) float64 {
	return math.Min(1, math.Max(0, x))
}

// solveGrid least-squares fits the control points of a cells x cells grid.
func solveGrid(cells int, uv [][2]float64, xyz [][3]float64) ([][3]float64, error) {
	nCtrl := (cells + 1) * (cells + 1)
	rows := len(uv) + nCtrl
	a := mat.NewDense(rows, nCtrl, nil)
	b := mat.NewDense(rows, 3, nil)
	for r, p := range uv {
		idx, w := basis(cells, p)
		for k := 0; k < 4; k++ {
			a.Set(r, idx[k], a.At(r, idx[k])+w[k])
		}
		b.Set(r, 0, xyz[r][0])
		b.Set(r, 1, xyz[r][1])
		b.Set(r, 2, xyz[r][2])
	}
	for c := 0; c < nCtrl; c++ {
		a.Set(len(uv)+c, c, tikhonov)
	}

	var x mat.Dense
	if err := x.Solve(a, b); err != nil {
		return nil, errs.Wrap(errs.NotConverged, err, "quilt least squares at %d cells", cells)
	}
	control := make([][3]float64, nCtrl)
	for c := range control {
		control[c] = [3]float64{x.At(c, 0), x.At(c, 1), x.At(c, 2)}
	}
	return control, nil
}

func (f *Fit) residual(uv [][2]float64, xyz [][3]float64) (rms, maxErr float64) {
	var sum float64
	for i, p := range uv {
		e := dist(f.Evaluate(p), xyz[i])
		sum += e * e
		maxErr = math.Max(maxErr, e)
	}
	return math.Sqrt(sum / float64(len(uv))), maxErr
}

// locateUV assigns quilt parameters to a member's points by locating them
// in physical space on the reference mesh.
func locateUV(rd *aim.Discretization, w *welded, uv [][2]float64, d *aim.Discretization) ([][2]float64, error) {
	var lin aim.Linear
	out := make([][2]float64, len(d.Points))
	for i, p := range d.Points {
		e, local, err := lin.LocateElement(rd, rd.Points, p)
		if err != nil {
			return nil, errs.Wrap(errs.NotConverged, err, "point %d is off the quilt reference", i)
		}
		n := rd.Elements[e].Nodes
		wts := [3]float64{1 - local[0] - local[1], local[0], local[1]}
		for k := 0; k < 3; k++ {
			q := uv[w.of[n[k]]]
			out[i][0] += wts[k] * q[0]
			out[i][1] += wts[k] * q[1]
		}
	}
	return out, nil
}
