package transfer

import (
	"io"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/roach88/caps/internal/errs"
	"github.com/roach88/caps/internal/metrics"
)

// matchLocals are the reference points of every target element, in
// barycentric (s, t).
var matchLocals = [...][2]float64{
	{1.0 / 3.0, 1.0 / 3.0},
	{0.6, 0.2},
	{0.2, 0.6},
	{0.2, 0.2},
}

// Options tune the conserving solve.
type Options struct {
	// Tolerance is the accepted relative flux mismatch.
	Tolerance float64
	// Penalty is the initial flux penalty factor.
	Penalty float64
	// Growth multiplies the penalty between continuation rounds.
	Growth float64
	// MaxRounds bounds the penalty continuation.
	MaxRounds int
	// MaxIterations bounds conjugate-gradient iterations per round.
	MaxIterations int
	Logger        *slog.Logger
}

// DefaultOptions returns the default tuning.
func DefaultOptions() Options {
	return Options{
		Tolerance:     1e-6,
		Penalty:       1,
		Growth:        10,
		MaxRounds:     10,
		MaxIterations: 2000,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Tolerance <= 0 {
		o.Tolerance = d.Tolerance
	}
	if o.Penalty <= 0 {
		o.Penalty = d.Penalty
	}
	if o.Growth <= 1 {
		o.Growth = d.Growth
	}
	if o.MaxRounds <= 0 {
		o.MaxRounds = d.MaxRounds
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = d.MaxIterations
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// ConserveResult is a conserving transfer with its convergence record.
type ConserveResult struct {
	Result
	// Iterations is the total conjugate-gradient iteration count.
	Iterations int
	// Per component: integrated source and target flux and their relative
	// mismatch after the solve.
	FluxSource []float64
	FluxTarget []float64
	Mismatch   []float64
	// Unmatched counts element reference points not located on the source.
	Unmatched int
}

type match struct {
	elem  int
	body  int
	local [2]float64
	src   int
	srcAt [2]float64
}

// Conserve fills the target by the penalized least-squares solve.
// When the flux mismatch of some component stays above the tolerance after
// every continuation round, the result is returned together with a
// NotConverged error.
func Conserve(src Side, srcData []float64, rank int, tgt Side, opts Options) (*ConserveResult, error) {
	opts = opts.withDefaults()
	if err := src.validate("source", true); err != nil {
		return nil, err
	}
	if err := tgt.validate("target", true); err != nil {
		return nil, err
	}

	start, err := Interpolate(src, srcData, rank, tgt)
	if err != nil {
		return nil, err
	}

	matches, unmatched, err := buildMatches(src, tgt)
	if err != nil {
		return nil, err
	}

	res := &ConserveResult{
		Result:     Result{Rank: rank, Data: make([]float64, len(start.Data)), Missing: start.Missing},
		FluxSource: make([]float64, rank),
		FluxTarget: make([]float64, rank),
		Mismatch:   make([]float64, rank),
		Unmatched:  unmatched,
	}

	n := len(tgt.Disc.Points)
	area := tgt.Disc.Area()
	var notConverged []int
	for c := 0; c < rank; c++ {
		srcCol := column(srcData, rank, c, len(src.Disc.Points))
		obj := newObjective(src, srcCol, tgt, matches)
		x := column(start.Data, rank, c, n)

		// Relative to the source flux unless that flux is near zero.
		scale := math.Abs(obj.fluxSrc)
		if floor := 1e-12 * area * maxAbs(srcCol); scale < floor {
			scale = floor
		}
		if scale == 0 {
			scale = 1
		}

		penalty := opts.Penalty
		converged := false
		for round := 0; round < opts.MaxRounds; round++ {
			obj.weight = penalty * float64(len(matches)) / (area * area)
			iters, next, err := minimize(obj, x, opts.MaxIterations)
			if err != nil {
				return nil, err
			}
			x = next
			res.Iterations += iters
			metrics.ConserveIterations.Observe(float64(iters))

			obj.forward(x)
			res.Mismatch[c] = math.Abs(obj.flux-obj.fluxSrc) / scale
			opts.Logger.Debug("conserve round",
				"component", c, "round", round, "penalty", penalty,
				"iterations", iters, "mismatch", res.Mismatch[c])
			if res.Mismatch[c] <= opts.Tolerance {
				converged = true
				break
			}
			penalty *= opts.Growth
		}
		res.FluxSource[c] = obj.fluxSrc
		res.FluxTarget[c] = obj.flux
		for i, v := range x {
			res.Data[i*rank+c] = v
		}
		if !converged {
			notConverged = append(notConverged, c)
		}
	}

	metrics.TransferPoints.WithLabelValues("conserve").Add(float64(n))
	if len(notConverged) > 0 {
		return res, errs.New(errs.NotConverged,
			"flux mismatch of components %v above %g after %d rounds", notConverged, opts.Tolerance, opts.MaxRounds)
	}
	return res, nil
}

// buildMatches locates every target element reference point on the source.
func buildMatches(src, tgt Side) ([]match, int, error) {
	var (
		matches   []match
		unmatched int
	)
	for e, el := range tgt.Disc.Elements {
		for _, l := range matchLocals {
			w := [3]float64{1 - l[0] - l[1], l[0], l[1]}
			var p [3]float64
			for k := 0; k < 3; k++ {
				q := tgt.Space[el.Nodes[k]]
				p[0] += w[k] * q[0]
				p[1] += w[k] * q[1]
				p[2] += w[k] * q[2]
			}
			se, sl, err := src.Prim.LocateElement(src.Disc, src.Space, p)
			if err != nil {
				if errs.Is(err, errs.NotFound) {
					unmatched++
					continue
				}
				return nil, 0, err
			}
			matches = append(matches, match{elem: e, body: el.Body, local: l, src: se, srcAt: sl})
		}
	}
	if len(matches) == 0 {
		return nil, unmatched, errs.New(errs.NotFound, "no target reference point lies on the source")
	}
	return matches, unmatched, nil
}

func minimize(obj *objective, x0 []float64, maxIter int) (int, []float64, error) {
	p := optimize.Problem{
		Func: obj.value,
		Grad: obj.gradient,
	}
	settings := &optimize.Settings{
		GradientThreshold: 1e-13,
		MajorIterations:   maxIter,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-16,
			Relative:   1e-14,
			Iterations: 25,
		},
	}
	result, err := optimize.Minimize(p, x0, settings, &optimize.CG{})
	if result == nil {
		return 0, nil, errs.Wrap(errs.NotConverged, err, "conjugate gradient")
	}
	// A failed line search near the optimum still leaves the best point.
	return result.Stats.MajorIterations, append([]float64{}, result.X...), nil
}

func column(data []float64, rank, c, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = data[i*rank+c]
	}
	return out
}

func maxAbs(xs []float64) float64 {
	var m float64
	for _, x := range xs {
		m = math.Max(m, math.Abs(x))
	}
	return m
}
