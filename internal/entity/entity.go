// Package entity implements the slot arena every caps object lives in.
//
// Entities are addressed by Handle, an (index, generation) pair into the
// arena owned by one Problem. Destroying an entity bumps its slot
// generation, so every handle still pointing at the old occupant fails the
// generation check with InvalidHandle instead of reaching reused memory.
// Allocation is deterministic: the same sequence of creates and destroys
// always yields the same handles, which the journal relies on to replay
// entity references across sessions.
//
// The package is generic over the payload type; the sealed set of payload
// variants belongs to the problem package.
package entity

import (
	"fmt"
	"slices"
)

// Kind identifies the entity variant.
type Kind int

const (
	KindProblem Kind = iota + 1
	KindAnalysis
	KindBound
	KindVertexSet
	KindDataSet
	KindValue
)

var kindNames = map[Kind]string{
	KindProblem:   "Problem",
	KindAnalysis:  "Analysis",
	KindBound:     "Bound",
	KindVertexSet: "VertexSet",
	KindDataSet:   "DataSet",
	KindValue:     "Value",
}

// String returns the kind name.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps a kind name back to a Kind.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// Handle references a slot in an Arena. The zero Handle is the null reference.
type Handle struct {
	Index uint32 `json:"index"`
	Gen   uint32 `json:"gen"`
}

// Null is the null handle.
var Null = Handle{}

// IsNull reports whether h is the null reference.
// Live slots always carry a generation of at least 1.
func (h Handle) IsNull() bool {
	return h.Gen == 0
}

// String renders the handle as #index.gen.
func (h Handle) String() string {
	if h.IsNull() {
		return "#null"
	}
	return fmt.Sprintf("#%d.%d", h.Index, h.Gen)
}

// Attr is one named attribute on an entity.
type Attr struct {
	Name  string    `json:"name"`
	Ints  []int64   `json:"ints,omitempty"`
	Reals []float64 `json:"reals,omitempty"`
	Str   string    `json:"str,omitempty"`
}

// Header is the kind-independent part of every entity.
type Header struct {
	Kind    Kind    `json:"kind"`
	Parent  Handle  `json:"parent"`
	Name    string  `json:"name,omitempty"`
	Attrs   []Attr  `json:"attrs,omitempty"`
	Last    Stamp   `json:"last"`
	History []Stamp `json:"history,omitempty"`
}

// Label renders the entity for messages, e.g. `Analysis "aero"`.
func (h *Header) Label() string {
	if h.Name == "" {
		return h.Kind.String()
	}
	return fmt.Sprintf("%s %q", h.Kind, h.Name)
}

// Touch replaces the ownership stamp.
// The previous stamp moves to History only when provenance changes, so
// repeated recomputation under one provenance collapses to a single record.
func (h *Header) Touch(s Stamp) {
	if h.Last.SNum != 0 && !h.Last.SameProvenance(s) {
		h.History = append(h.History, h.Last)
	}
	h.Last = s
}

// SetAttr sets or replaces an attribute by name.
func (h *Header) SetAttr(a Attr) {
	for i := range h.Attrs {
		if h.Attrs[i].Name == a.Name {
			h.Attrs[i] = a
			return
		}
	}
	h.Attrs = append(h.Attrs, a)
}

// Attr returns the named attribute.
func (h *Header) Attr(name string) (Attr, bool) {
	for _, a := range h.Attrs {
		if a.Name == name {
			return a, true
		}
	}
	return Attr{}, false
}

// DeleteAttr removes the named attribute. Returns false if it was absent.
func (h *Header) DeleteAttr(name string) bool {
	for i, a := range h.Attrs {
		if a.Name == name {
			h.Attrs = slices.Delete(h.Attrs, i, i+1)
			return true
		}
	}
	return false
}
