package transfer

// tapeOp is the kind of a recorded visit.
type tapeOp uint8

const (
	visitMatch tapeOp = iota
	visitFlux
)

// visit is one (element, body) visit of the forward pass.
type visit struct {
	op    tapeOp
	elem  int
	body  int
	local [2]float64
	// bar is the adjoint seed of the visit's output.
	bar float64
}

// tape records the forward traversal in order.
type tape struct {
	visits []visit
}

func (t *tape) reset() {
	t.visits = t.visits[:0]
}

func (t *tape) record(v visit) {
	t.visits = append(t.visits, v)
}

// reverse calls fn for every visit, last first.
func (t *tape) reverse(fn func(v visit)) {
	for i := len(t.visits) - 1; i >= 0; i-- {
		fn(t.visits[i])
	}
}
