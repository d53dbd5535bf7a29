package problem

import (
	"github.com/roach88/caps/internal/aim"
	"github.com/roach88/caps/internal/entity"
	"github.com/roach88/caps/internal/quilt"
)

// Object is the sealed set of entity payloads.
type Object interface {
	kind() entity.Kind
}

// Param is one geometry design parameter.
type Param struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Root is the payload of the Problem entity.
type Root struct {
	// GeomSNum is the serial number of the last geometry change.
	GeomSNum      int64           `json:"geom_s_num"`
	Params        []Param         `json:"params"`
	Sensitivities []string        `json:"sensitivities,omitempty"`
	Analyses      []entity.Handle `json:"analyses"`
	Bounds        []entity.Handle `json:"bounds"`
}

// Analysis is the payload of an analysis entity.
type Analysis struct {
	AIM        string              `json:"aim"`
	Mode       string              `json:"mode"`
	Resolution int                 `json:"resolution"`
	Exports    map[string][]string `json:"exports,omitempty"`
	Inputs     []entity.Handle     `json:"inputs"`
	Outputs    []entity.Handle     `json:"outputs"`
	Pre        entity.Stamp        `json:"pre"`
	Exec       entity.Stamp        `json:"exec"`
	Post       entity.Stamp        `json:"post"`
}

// Value is the payload of an analysis input or output.
type Value struct {
	Data   []float64     `json:"data"`
	Units  string        `json:"units,omitempty"`
	Output bool          `json:"output,omitempty"`
	Link   entity.Handle `json:"link"`
	Method string        `json:"method,omitempty"`
	// Computed is the serial number output data was last calculated at.
	Computed int64 `json:"computed,omitempty"`
}

// BoundState is the discretization registry state of a bound.
type BoundState string

const (
	BoundOpen          BoundState = "open"
	BoundEmpty         BoundState = "empty"
	BoundSingle        BoundState = "single"
	BoundMultiple      BoundState = "multiple"
	BoundMultipleError BoundState = "multiple_error"
)

// Bound is the payload of a coupling surface.
type Bound struct {
	Dim        int             `json:"dim"`
	State      BoundState      `json:"state"`
	VertexSets []entity.Handle `json:"vertex_sets"`
	// GeomSNum is the geometry serial number the discretizations reflect.
	GeomSNum int64      `json:"geom_s_num"`
	Quilt    *quilt.Fit `json:"quilt,omitempty"`
	// QuiltMembers lists the vertex sets the quilt fit covers, in fit order.
	QuiltMembers []entity.Handle `json:"quilt_members,omitempty"`
	QuiltError   string          `json:"quilt_error,omitempty"`
}

// VertexSet is the payload of one discretization of a bound.
type VertexSet struct {
	// Analysis is null for an unconnected point cloud.
	Analysis entity.Handle       `json:"analysis"`
	Disc     *aim.Discretization `json:"disc,omitempty"`
	DataSets []entity.Handle     `json:"data_sets"`
}

// Connected reports whether the vertex set belongs to an analysis.
func (v *VertexSet) Connected() bool {
	return !v.Analysis.IsNull()
}

// DataSet is the payload of one field on a vertex set.
type DataSet struct {
	Kind   string        `json:"kind"`
	Rank   int           `json:"rank"`
	Method string        `json:"method,omitempty"`
	Units  string        `json:"units,omitempty"`
	Link   entity.Handle `json:"link"`
	Data   []float64     `json:"data,omitempty"`
	// Filled is the serial number Data was last produced at; 0 when empty.
	Filled int64 `json:"filled,omitempty"`
}

func (*Root) kind() entity.Kind      { return entity.KindProblem }
func (*Analysis) kind() entity.Kind  { return entity.KindAnalysis }
func (*Value) kind() entity.Kind     { return entity.KindValue }
func (*Bound) kind() entity.Kind     { return entity.KindBound }
func (*VertexSet) kind() entity.Kind { return entity.KindVertexSet }
func (*DataSet) kind() entity.Kind   { return entity.KindDataSet }

// newObject returns an empty payload of the given kind.
func newObject(k entity.Kind) Object {
	switch k {
	case entity.KindProblem:
		return &Root{}
	case entity.KindAnalysis:
		return &Analysis{}
	case entity.KindValue:
		return &Value{}
	case entity.KindBound:
		return &Bound{}
	case entity.KindVertexSet:
		return &VertexSet{}
	case entity.KindDataSet:
		return &DataSet{}
	}
	return nil
}
