package transfer

import (
	"github.com/roach88/caps/internal/aim"
	"github.com/roach88/caps/internal/errs"
	"github.com/roach88/caps/internal/metrics"
)

// Side is one discretization taking part in a transfer. Space holds each
// point's coordinates in the location space the transfer searches.
// Unconnected targets carry only points: Disc may have no elements and
// Prim may be nil.
type Side struct {
	Disc  *aim.Discretization
	Prim  aim.Primitives
	Space [][3]float64
}

func (s Side) validate(role string, needElements bool) error {
	if s.Disc == nil {
		return errs.New(errs.SourceUnavailable, "%s has no discretization", role)
	}
	if len(s.Space) != len(s.Disc.Points) {
		return errs.New(errs.RangeError, "%s location space has %d points, want %d", role, len(s.Space), len(s.Disc.Points))
	}
	if needElements && (s.Prim == nil || len(s.Disc.Elements) == 0) {
		return errs.New(errs.SourceUnavailable, "%s has no elements", role)
	}
	return nil
}

// Result is a filled target field.
type Result struct {
	Rank int
	Data []float64
	// Missing lists target points that could not be located on the source.
	// Their values are zero.
	Missing []int
}

// Interpolate evaluates src at every target point.
func Interpolate(src Side, srcData []float64, rank int, tgt Side) (*Result, error) {
	if err := src.validate("source", true); err != nil {
		return nil, err
	}
	if err := tgt.validate("target", false); err != nil {
		return nil, err
	}
	if rank < 1 || len(srcData) != rank*len(src.Disc.Points) {
		return nil, errs.New(errs.RangeError, "source data has %d values for rank %d over %d points",
			len(srcData), rank, len(src.Disc.Points))
	}

	res := &Result{Rank: rank, Data: make([]float64, rank*len(tgt.Space)), Missing: []int{}}
	for i, p := range tgt.Space {
		elem, local, err := src.Prim.LocateElement(src.Disc, src.Space, p)
		if err != nil {
			if errs.Is(err, errs.NotFound) {
				res.Missing = append(res.Missing, i)
				continue
			}
			return nil, err
		}
		src.Prim.Interpolate(src.Disc, elem, local, rank, srcData, res.Data[i*rank:(i+1)*rank])
	}

	metrics.TransferPoints.WithLabelValues("interpolate").Add(float64(len(tgt.Space) - len(res.Missing)))
	metrics.TransferNotFound.Add(float64(len(res.Missing)))
	return res, nil
}
