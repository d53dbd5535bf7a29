package transfer

// objective is one component of the conserving solve:
//
//	f(x) = sum_m (t_m(x) - s_m)^2 + weight * (F(x) - Fsrc)^2
//
// where t_m interpolates the target unknowns at match point m, s_m is the
// source value there and F integrates the target over its elements.
type objective struct {
	tgt     Side
	matches []match
	want    []float64
	fluxSrc float64
	weight  float64

	tape    tape
	flux    float64
	fluxBar float64
	out     [1]float64
	bar     [1]float64
}

func newObjective(src Side, srcCol []float64, tgt Side, matches []match) *objective {
	o := &objective{tgt: tgt, matches: matches, want: make([]float64, len(matches))}
	var out [1]float64
	for i, m := range matches {
		src.Prim.Interpolate(src.Disc, m.src, m.srcAt, 1, srcCol, out[:])
		o.want[i] = out[0]
	}
	for e := range src.Disc.Elements {
		src.Prim.Integrate(src.Disc, e, 1, srcCol, out[:])
		o.fluxSrc += out[0]
	}
	return o
}

// forward evaluates f and records every visit on the tape.
func (o *objective) forward(x []float64) float64 {
	o.tape.reset()
	var f float64
	for i, m := range o.matches {
		o.tgt.Prim.Interpolate(o.tgt.Disc, m.elem, m.local, 1, x, o.out[:])
		r := o.out[0] - o.want[i]
		f += r * r
		o.tape.record(visit{op: visitMatch, elem: m.elem, body: m.body, local: m.local, bar: 2 * r})
	}
	o.flux = 0
	for e, el := range o.tgt.Disc.Elements {
		o.tgt.Prim.Integrate(o.tgt.Disc, e, 1, x, o.out[:])
		o.flux += o.out[0]
		o.tape.record(visit{op: visitFlux, elem: e, body: el.Body})
	}
	d := o.flux - o.fluxSrc
	o.fluxBar = 2 * o.weight * d
	return f + o.weight*d*d
}

func (o *objective) value(x []float64) float64 {
	return o.forward(x)
}

// gradient runs the forward pass, then walks the tape backward through
// the adjoint primitives.
func (o *objective) gradient(grad, x []float64) {
	o.forward(x)
	clear(grad)
	o.tape.reverse(func(v visit) {
		switch v.op {
		case visitFlux:
			o.bar[0] = o.fluxBar
			o.tgt.Prim.IntegrateBar(o.tgt.Disc, v.elem, 1, o.bar[:], grad)
		case visitMatch:
			o.bar[0] = v.bar
			o.tgt.Prim.InterpolateBar(o.tgt.Disc, v.elem, v.local, 1, o.bar[:], grad)
		}
	})
}
